package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalContact(t *testing.T) {
	tests := []struct {
		name    string
		method  DeliveryMethod
		contact string
		want    string
	}{
		{"email lowercased", MethodEmail, "Sister@Example.COM", "sister@example.com"},
		{"email trimmed", MethodEmail, "  a@b.com\n", "a@b.com"},
		{"webhook case preserved", MethodWebhook, "https://hooks.example.com/X", "https://hooks.example.com/X"},
		// e +  ̈ composes to the single code point ë.
		{"nfc composition", MethodEmail, "café@x.com", "café@x.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalContact(tt.method, tt.contact))
		})
	}
}

func TestMessageStatusTerminal(t *testing.T) {
	terminal := []MessageStatus{StatusDelivered, StatusExpired, StatusCancelled}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "%s", s)
	}
	open := []MessageStatus{StatusDraft, StatusScheduled, StatusActive, StatusPaused, StatusReleased}
	for _, s := range open {
		assert.False(t, s.Terminal(), "%s", s)
	}
}

func TestRecipientTerminal(t *testing.T) {
	assert.False(t, (&Recipient{Status: DeliveryPending, MaxRetries: 3}).Terminal())
	assert.False(t, (&Recipient{Status: DeliveryFailed, RetryCount: 2, MaxRetries: 3}).Terminal())
	assert.True(t, (&Recipient{Status: DeliveryFailed, RetryCount: 3, MaxRetries: 3}).Terminal())
	assert.True(t, (&Recipient{Status: DeliveryDelivered}).Terminal())
	assert.True(t, (&Recipient{Status: DeliveryBounced}).Terminal())
}

func TestRecipientAttemptable(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Minute)

	r := &Recipient{Status: DeliveryPending, MaxRetries: 3}
	assert.True(t, r.Attemptable(now))

	r = &Recipient{Status: DeliveryFailed, RetryCount: 1, MaxRetries: 3, NextAttemptAt: &later}
	assert.False(t, r.Attemptable(now), "backoff not elapsed")
	assert.True(t, r.Attemptable(later))

	r = &Recipient{Status: DeliveryFailed, RetryCount: 3, MaxRetries: 3}
	assert.False(t, r.Attemptable(now), "retries exhausted")

	r = &Recipient{Status: DeliverySent, MaxRetries: 3}
	assert.False(t, r.Attemptable(now), "sent awaits confirmation, not retry")
}
