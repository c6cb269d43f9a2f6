package authcore

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestAuditSinkReceivesLoginEvents(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	sink := NewChannelSink(16)

	cfg := DefaultConfig()
	cfg.JWT.Secret = []byte("0123456789abcdef0123456789abcdef")

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithIdentityProvider(newMemoryProvider()).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(engine.Close)

	mustRegister(t, engine, "alice@x.com", "ua-one")
	mustLogin(t, engine, "alice@x.com", "ua-one")

	deadline := time.After(2 * time.Second)
	var sawRegister, sawLogin bool
	for !(sawRegister && sawLogin) {
		select {
		case event := <-sink.Events():
			switch event.EventType {
			case EventRegister:
				sawRegister = true
			case EventLogin:
				sawLogin = true
				if !event.Success || event.UserID == "" || event.SessionID == "" {
					t.Fatalf("login event incomplete: %+v", event)
				}
			}
		case <-deadline:
			t.Fatalf("missing events: register=%v login=%v", sawRegister, sawLogin)
		}
	}
}

func TestJSONWriterSinkWritesOneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{EventType: EventLogout, Success: true})
	sink.Emit(context.Background(), AuditEvent{EventType: EventLogin})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("lines %d, want 2", len(lines))
	}

	var event AuditEvent
	if err := json.Unmarshal(lines[0], &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if event.EventType != EventLogout || !event.Success {
		t.Fatalf("event %+v", event)
	}
}
