package authcore

import (
	"context"
	"io"
	"strconv"
	"time"

	internalaudit "github.com/arkadore/authcore/internal/audit"
)

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// io.Writer, one object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// Audit event types emitted by the engine.
const (
	EventRegister          = "auth.register"
	EventLogin             = "auth.login"
	EventOAuthLogin        = "auth.oauth_login"
	EventLogout            = "auth.logout"
	EventRefresh           = "auth.refresh"
	EventRefreshRotateMiss = "refresh.rotate_miss"
	EventSessionEvicted    = "session.evicted"
	EventGuardReject       = "guard.reject"
	EventOTPRequest        = "otp.request"
	EventOTPVerify         = "otp.verify"
)

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, userID int64, sessionID, ip string, opErr error, metadata func() map[string]string) {
	if e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		SessionID: sessionID,
		IP:        ip,
		Success:   success,
	}
	if userID != 0 {
		event.UserID = strconv.FormatInt(userID, 10)
	}
	if opErr != nil {
		event.Error = opErr.Error()
	}
	if metadata != nil {
		event.Metadata = metadata()
	}

	e.audit.Emit(ctx, event)
}

// AuditDropped reports how many audit events were dropped because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

// Close flushes and stops the audit dispatcher. The engine must not be used
// after Close returns.
func (e *Engine) Close() {
	e.audit.Close()
}
