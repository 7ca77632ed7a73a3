package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/vigil/internal/domain"
)

// Fake is a scriptable in-memory transport for tests: it records every
// attempt and fails the first FailFirst attempts per recipient (or every
// attempt when FailAll is set).
type Fake struct {
	mu        sync.Mutex
	FailFirst int
	FailAll   bool

	attempts map[string]int // recipient id → attempt count
	sent     []SentRecord
}

// SentRecord is one recorded attempt.
type SentRecord struct {
	RecipientID string
	Contact     string
	Payload     Payload
	Failed      bool
}

// NewFake creates an empty fake transport.
func NewFake() *Fake {
	return &Fake{attempts: make(map[string]int)}
}

// Deliver implements Transport.
func (f *Fake) Deliver(_ context.Context, r *domain.Recipient, p Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempts[r.ID]++
	fail := f.FailAll || f.attempts[r.ID] <= f.FailFirst
	f.sent = append(f.sent, SentRecord{
		RecipientID: r.ID,
		Contact:     r.Contact,
		Payload:     p,
		Failed:      fail,
	})
	if fail {
		return fmt.Errorf("scripted failure %d for %s", f.attempts[r.ID], r.ID)
	}
	return nil
}

// Attempts returns how many times a recipient was tried.
func (f *Fake) Attempts(recipientID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[recipientID]
}

// Sent returns a copy of all recorded attempts.
func (f *Fake) Sent() []SentRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentRecord, len(f.sent))
	copy(out, f.sent)
	return out
}
