package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit non-blocking: events that do not fit the queue
	// are counted and discarded instead of stalling the auth path.
	DropIfFull bool
}

// Dispatcher decouples engine operations from sink latency. Events queue on
// a buffered channel and a single background goroutine forwards them, so a
// slow sink never sits on the request path. A nil *Dispatcher is valid and
// discards everything; that is how the engine runs with auditing disabled.
type Dispatcher struct {
	sink   Sink
	events chan Event
	quit   chan struct{}

	dropIfFull bool
	dropped    atomic.Uint64
	closed     atomic.Bool

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewDispatcher starts the forwarding goroutine. Returns nil (a no-op
// dispatcher) when auditing is disabled; a nil sink discards events.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:       sink,
		events:     make(chan Event, cfg.BufferSize),
		quit:       make(chan struct{}),
		dropIfFull: cfg.DropIfFull,
	}

	d.wg.Add(1)
	go d.forward()

	return d
}

func (d *Dispatcher) forward() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.events:
			d.sink.Emit(context.Background(), event)
		case <-d.quit:
			d.drain()
			return
		}
	}
}

// drain flushes whatever is still queued at shutdown. Events emitted after
// Close started may or may not make it; the closed flag keeps new ones out.
func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.events:
			d.sink.Emit(context.Background(), event)
		default:
			return
		}
	}
}

// Emit queues an event for delivery. Safe on a nil or closed dispatcher.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.dropIfFull {
		select {
		case d.events <- event:
		case <-d.quit:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.events <- event:
	case <-ctx.Done():
	case <-d.quit:
	}
}

// Close stops intake, drains the queue into the sink, and waits for the
// forwarding goroutine. Idempotent.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.quit)
		d.wg.Wait()
	})
}

// Dropped reports how many events were discarded under backpressure.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
