package domain

import "time"

// DeliveryStatus is the per-recipient delivery state.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryBounced   DeliveryStatus = "bounced"
)

// DeliveryMethod selects the transport used for a recipient.
type DeliveryMethod string

const (
	MethodEmail   DeliveryMethod = "email"
	MethodSMS     DeliveryMethod = "sms"
	MethodWebhook DeliveryMethod = "webhook"
)

// Recipient is a delivery target for a released message.
//
// INVARIANT: RetryCount never exceeds MaxRetries. Once the status is
// delivered or bounced, or failed with retries exhausted, no further
// attempts occur. Recipients are mutated exclusively by the delivery
// dispatcher.
type Recipient struct {
	ID        string
	MessageID string

	// Contact is NFC-normalized (see CanonicalContact) so the same address
	// typed with different Unicode compositions dedupes to one row.
	Contact string
	Name    string
	Method  DeliveryMethod

	Status        DeliveryStatus
	RetryCount    int
	MaxRetries    int
	LastAttempt   *time.Time
	NextAttemptAt *time.Time
	FailureReason string

	SentAt      *time.Time
	DeliveredAt *time.Time
}

// Terminal reports whether no further delivery attempts may occur.
func (r *Recipient) Terminal() bool {
	switch r.Status {
	case DeliveryDelivered, DeliveryBounced:
		return true
	case DeliveryFailed:
		return r.RetryCount >= r.MaxRetries
	default:
		return false
	}
}

// Attemptable reports whether the dispatcher may try this recipient now.
func (r *Recipient) Attemptable(now time.Time) bool {
	if r.Terminal() {
		return false
	}
	if r.Status != DeliveryPending && r.Status != DeliveryFailed {
		return false
	}
	if r.NextAttemptAt != nil && now.Before(*r.NextAttemptAt) {
		return false
	}
	return true
}
