package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// SlogSink writes audit events to the structured log.
type SlogSink struct{}

// Record implements Sink.
func (SlogSink) Record(ev Event) {
	attrs := []any{
		"audit_id", ev.ID,
		"kind", string(ev.Kind),
		"message_id", ev.MessageID,
		"time", ev.Time,
	}
	if ev.RecipientID != "" {
		attrs = append(attrs, "recipient_id", ev.RecipientID)
	}
	if ev.Actor != "" {
		attrs = append(attrs, "actor", ev.Actor)
	}
	for k, v := range ev.Detail {
		attrs = append(attrs, k, v)
	}
	slog.Info("audit", attrs...)
}

// EventWriter is the durable destination for audit events. Implemented by
// the store; defined here so the store can depend on this package and not
// the other way around.
type EventWriter interface {
	AppendAuditEvent(ctx context.Context, ev Event) error
}

// StoreSink persists events through an EventWriter on a background
// goroutine. A full buffer drops the event and counts the drop. The audit
// trail is best-effort; the engine's own state is the source of truth.
type StoreSink struct {
	ch      chan Event
	dropped atomic.Int64
	done    chan struct{}
}

// NewStoreSink starts the writer goroutine. Close flushes and stops it.
func NewStoreSink(w EventWriter, buffer int) *StoreSink {
	s := &StoreSink{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		for ev := range s.ch {
			if err := w.AppendAuditEvent(context.Background(), ev); err != nil {
				slog.Error("audit write failed",
					"audit_id", ev.ID,
					"kind", string(ev.Kind),
					"error", err,
				)
			}
		}
	}()
	return s
}

// Record implements Sink. Never blocks: a full buffer drops the event.
func (s *StoreSink) Record(ev Event) {
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many events were lost to a full buffer.
func (s *StoreSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops accepting events and waits for the buffer to drain.
func (s *StoreSink) Close() {
	close(s.ch)
	<-s.done
}

// Memory collects events for tests.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// Record implements Sink.
func (m *Memory) Record(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

// Events returns a copy of everything recorded so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// ByKind returns recorded events of one kind, in order.
func (m *Memory) ByKind(kind Kind) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
