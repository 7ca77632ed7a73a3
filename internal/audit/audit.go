// Package audit records every engine decision that matters after the fact:
// state transitions, delivery attempts, and access-gate outcomes.
//
// Sinks are fire-and-forget. A slow or broken sink must never block a tick
// or a request-path call, so the store-backed sink buffers through a
// channel and drops (with a counter) rather than waiting.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Kind categorizes audit events.
type Kind string

const (
	KindCheckIn          Kind = "check_in"
	KindStatusTransition Kind = "status_transition"
	KindDeliveryAttempt  Kind = "delivery_attempt"
	KindDeliveryFailed   Kind = "delivery_failed_terminal"
	KindAccessGranted    Kind = "access_granted"
	KindAccessDenied     Kind = "access_denied"
	KindAccessLocked     Kind = "access_locked"
	KindReleaseError     Kind = "release_error"
	KindPlanExecuted     Kind = "plan_executed"
	KindShareGranted     Kind = "share_granted"
)

// Event is one audit record. Detail carries small string facts (old/new
// status, failure reason, attempt number); anything bigger belongs in logs.
type Event struct {
	ID          string
	Time        time.Time
	Kind        Kind
	MessageID   string
	RecipientID string
	Actor       string
	Detail      map[string]string
}

// NewEvent stamps a UUIDv7 id so audit rows sort by creation time.
func NewEvent(t time.Time, kind Kind, messageID string) Event {
	return Event{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Time:      t,
		Kind:      kind,
		MessageID: messageID,
	}
}

// Sink accepts audit events. Record must not block; implementations that do
// I/O must buffer internally.
type Sink interface {
	Record(ev Event)
}

// Multi fans one event out to several sinks.
type Multi []Sink

// Record implements Sink.
func (m Multi) Record(ev Event) {
	for _, s := range m {
		s.Record(ev)
	}
}
