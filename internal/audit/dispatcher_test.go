package audit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// blockingSink holds every delivery until released, so tests can pin the
// forwarding goroutine mid-flight.
type blockingSink struct {
	entered chan struct{}
	release chan struct{}

	mu   sync.Mutex
	seen []Event
}

func newBlockingSink() *blockingSink {
	return &blockingSink{
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (s *blockingSink) Emit(_ context.Context, event Event) {
	s.entered <- struct{}{}
	<-s.release
	s.mu.Lock()
	s.seen = append(s.seen, event)
	s.mu.Unlock()
}

func (s *blockingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func TestDispatcherDisabledReturnsNil(t *testing.T) {
	d := NewDispatcher(Config{}, NoOpSink{})
	if d != nil {
		t.Fatal("disabled config must yield a nil dispatcher")
	}

	// All methods are safe on nil.
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reports drops")
	}
}

func TestDispatcherDropsUnderBackpressure(t *testing.T) {
	sink := newBlockingSink()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	d.Emit(context.Background(), Event{EventType: "first"})

	// The forwarder is now stuck inside the sink; one more event fits the
	// buffer, the next one must be dropped.
	select {
	case <-sink.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder never reached the sink")
	}
	d.Emit(context.Background(), Event{EventType: "second"})
	d.Emit(context.Background(), Event{EventType: "third"})

	if got := d.Dropped(); got != 1 {
		t.Fatalf("dropped %d, want 1", got)
	}

	close(sink.release)
	d.Close()

	if got := sink.count(); got != 2 {
		t.Fatalf("delivered %d events, want 2", got)
	}
}

func TestDispatcherDrainsOnClose(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8, DropIfFull: true}, sink)

	for i := 0; i < 3; i++ {
		d.Emit(context.Background(), Event{EventType: "queued"})
	}
	d.Close()

	for i := 0; i < 3; i++ {
		select {
		case <-sink.Events():
		default:
			t.Fatalf("event %d not flushed before Close returned", i)
		}
	}

	// Intake is shut; late events vanish without blocking.
	d.Emit(context.Background(), Event{EventType: "late"})
	select {
	case event := <-sink.Events():
		t.Fatalf("event after close: %+v", event)
	default:
	}
}
