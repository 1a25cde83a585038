package audit

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Sink receives signed events.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// MemorySink keeps events in memory. It is safe for concurrent use.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit appends e.
func (m *MemorySink) Emit(ctx context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Signature = append([]byte(nil), e.Signature...)
	m.events = append(m.events, e)
	return nil
}

// Events returns a copy of everything emitted so far.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// OfType returns the emitted events of type t.
func (m *MemorySink) OfType(t Type) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// LogrusSink writes events as structured log entries.
type LogrusSink struct {
	logger *logrus.Logger
}

// NewLogrusSink creates a sink writing to logger. A nil logger uses a
// JSON-formatted logrus.New().
func NewLogrusSink(logger *logrus.Logger) *LogrusSink {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &LogrusSink{logger: logger}
}

// Emit logs e at info level, or warn level for failures and violations.
func (s *LogrusSink) Emit(ctx context.Context, e Event) error {
	fields := logrus.Fields{
		"event":  string(e.Type),
		"device": e.DeviceID.Short(),
		"sig":    hex.EncodeToString(e.Signature),
	}
	if !e.PeerID.IsZero() {
		fields["peer"] = e.PeerID.Short()
	}
	if e.SessionID != uuid.Nil {
		fields["session"] = e.SessionID.String()
	}
	if e.Permissions != 0 {
		fields["permissions"] = e.Permissions.String()
	}
	if e.Source != "" {
		fields["source"] = e.Source
	}
	if e.Reason != "" {
		fields["reason"] = e.Reason
	}

	entry := s.logger.WithContext(ctx).WithFields(fields).WithTime(e.Time)
	switch e.Type {
	case PairingFailed, AuthFailure, PolicyViolation, RateLimitBlocked, SessionDenied:
		entry.Warn("audit")
	default:
		entry.Info("audit")
	}
	return nil
}

// MultiSink fans out to several sinks and returns the first error.
type MultiSink []Sink

// Emit forwards e to every sink.
func (m MultiSink) Emit(ctx context.Context, e Event) error {
	var first error
	for _, s := range m {
		if err := s.Emit(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var (
	_ Sink = (*MemorySink)(nil)
	_ Sink = (*LogrusSink)(nil)
	_ Sink = MultiSink(nil)
)
