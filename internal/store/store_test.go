package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vigil/internal/audit"
	"github.com/roach88/vigil/internal/domain"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "vigil.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newMessage(id string) *domain.Message {
	return &domain.Message{
		ID:                id,
		OwnerID:           "owner-1",
		EncryptedContent:  []byte("sealed"),
		EncryptedKey:      []byte("wrapped"),
		ContentHash:       "abc",
		ContentSize:       6,
		Title:             "t",
		CheckInInterval:   7,
		GracePeriod:       3,
		NextDeadline:      base.Add(7 * 24 * time.Hour),
		Status:            domain.StatusActive,
		CreatedAt:         base,
		DissolutionAction: domain.ActionRelease,
	}
}

func TestMessageRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	m := newMessage("m1")
	ts := base.Add(time.Hour)
	m.LastCheckIn = &ts
	m.NotifiedAt = &ts
	require.NoError(t, s.CreateMessage(ctx, m))

	got, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, m.EncryptedContent, got.EncryptedContent)
	assert.Equal(t, m.NextDeadline, got.NextDeadline)
	assert.Equal(t, ts, *got.LastCheckIn)
	assert.Equal(t, ts, *got.NotifiedAt)
	assert.Equal(t, int64(1), got.Version)

	_, err = s.GetMessage(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateMessageIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateMessage(ctx, newMessage("m1")))

	dup := newMessage("m1")
	dup.Title = "changed"
	require.NoError(t, s.CreateMessage(ctx, dup))

	got, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "t", got.Title)
}

func TestUpdateMessageVersionConflict(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateMessage(ctx, newMessage("m1")))

	a, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	b, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)

	a.Title = "first writer"
	require.NoError(t, s.UpdateMessage(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.Title = "second writer"
	err = s.UpdateMessage(ctx, b)
	assert.ErrorIs(t, err, ErrVersionConflict)

	missing := newMessage("gone")
	missing.Version = 1
	err = s.UpdateMessage(ctx, missing)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScanOverdueKeysetPagination(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		m := newMessage(fmt.Sprintf("m%d", i))
		m.NextDeadline = base
		require.NoError(t, s.CreateMessage(ctx, m))
	}
	fresh := newMessage("m9")
	fresh.NextDeadline = base.Add(30 * 24 * time.Hour)
	require.NoError(t, s.CreateMessage(ctx, fresh))

	now := base.Add(time.Hour)

	page1, err := s.ScanOverdue(ctx, now, "", 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, "m0", page1[0].ID)
	assert.Equal(t, "m1", page1[1].ID)

	page2, err := s.ScanOverdue(ctx, now, page1[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, "m2", page2[0].ID)

	page3, err := s.ScanOverdue(ctx, now, page2[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, "m4", page3[0].ID)
}

func TestScanOverdueSkipsNonActive(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i, status := range []domain.MessageStatus{
		domain.StatusActive, domain.StatusPaused, domain.StatusReleased, domain.StatusCancelled,
	} {
		m := newMessage(fmt.Sprintf("m%d", i))
		m.Status = status
		m.NextDeadline = base
		require.NoError(t, s.CreateMessage(ctx, m))
	}

	got, err := s.ScanOverdue(ctx, base.Add(time.Hour), "", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m0", got[0].ID)
}

func TestScanOverdueSuppressesNotified(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// m0: notify action, never notified → scanned.
	m0 := newMessage("m0")
	m0.DissolutionAction = domain.ActionNotify
	m0.NextDeadline = base
	require.NoError(t, s.CreateMessage(ctx, m0))

	// m1: already notified for the current deadline → skipped.
	m1 := newMessage("m1")
	m1.DissolutionAction = domain.ActionNotify
	m1.NextDeadline = base
	notified := base.Add(time.Minute)
	m1.NotifiedAt = &notified
	require.NoError(t, s.CreateMessage(ctx, m1))

	// m2: notified for an earlier deadline that has since moved → scanned.
	m2 := newMessage("m2")
	m2.DissolutionAction = domain.ActionNotify
	m2.NextDeadline = base
	stale := base.Add(-time.Hour)
	m2.NotifiedAt = &stale
	require.NoError(t, s.CreateMessage(ctx, m2))

	// m3: a notified marker never suppresses other actions.
	m3 := newMessage("m3")
	m3.NextDeadline = base
	m3.NotifiedAt = &notified
	require.NoError(t, s.CreateMessage(ctx, m3))

	got, err := s.ScanOverdue(ctx, base.Add(time.Hour), "", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "m0", got[0].ID)
	assert.Equal(t, "m2", got[1].ID)
	assert.Equal(t, "m3", got[2].ID)
}

func newRecipient(id, messageID, contact string) *domain.Recipient {
	return &domain.Recipient{
		ID:         id,
		MessageID:  messageID,
		Contact:    contact,
		Method:     domain.MethodEmail,
		Status:     domain.DeliveryPending,
		MaxRetries: 3,
	}
}

func TestRecipientDedupe(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateMessage(ctx, newMessage("m1")))

	require.NoError(t, s.CreateRecipient(ctx, newRecipient("r1", "m1", "Sister@Example.com")))
	// Same address, different case and a second id: the canonical form
	// collides and the insert is a no-op.
	require.NoError(t, s.CreateRecipient(ctx, newRecipient("r2", "m1", "sister@example.com")))

	all, err := s.ListRecipients(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "r1", all[0].ID)
	assert.Equal(t, "sister@example.com", all[0].Contact)
}

func TestDueRecipients(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	released := newMessage("m1")
	released.Status = domain.StatusReleased
	require.NoError(t, s.CreateMessage(ctx, released))
	active := newMessage("m2")
	require.NoError(t, s.CreateMessage(ctx, active))

	now := base.Add(time.Hour)

	// Eligible: pending, no backoff.
	require.NoError(t, s.CreateRecipient(ctx, newRecipient("r1", "m1", "a@example.com")))

	// Eligible: failed with retries left, backoff elapsed.
	r2 := newRecipient("r2", "m1", "b@example.com")
	r2.Status = domain.DeliveryFailed
	r2.RetryCount = 1
	past := now.Add(-time.Minute)
	r2.NextAttemptAt = &past
	require.NoError(t, s.CreateRecipient(ctx, r2))

	// Not eligible: backoff still pending.
	r3 := newRecipient("r3", "m1", "c@example.com")
	r3.Status = domain.DeliveryFailed
	r3.RetryCount = 1
	future := now.Add(time.Minute)
	r3.NextAttemptAt = &future
	require.NoError(t, s.CreateRecipient(ctx, r3))

	// Not eligible: retries exhausted.
	r4 := newRecipient("r4", "m1", "d@example.com")
	r4.Status = domain.DeliveryFailed
	r4.RetryCount = 3
	require.NoError(t, s.CreateRecipient(ctx, r4))

	// Not eligible: delivered.
	r5 := newRecipient("r5", "m1", "e@example.com")
	r5.Status = domain.DeliveryDelivered
	require.NoError(t, s.CreateRecipient(ctx, r5))

	// Not eligible: message not released.
	require.NoError(t, s.CreateRecipient(ctx, newRecipient("r6", "m2", "f@example.com")))

	due, err := s.DueRecipients(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "r1", due[0].ID)
	assert.Equal(t, "r2", due[1].ID)
}

func TestReleasedAwaitingCompletion(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// m1: recipients terminal or already handed off → ready.
	m1 := newMessage("m1")
	m1.Status = domain.StatusReleased
	require.NoError(t, s.CreateMessage(ctx, m1))
	done := newRecipient("r1", "m1", "a@example.com")
	done.Status = domain.DeliveryDelivered
	require.NoError(t, s.CreateRecipient(ctx, done))
	exhausted := newRecipient("r2", "m1", "b@example.com")
	exhausted.Status = domain.DeliveryFailed
	exhausted.RetryCount = 3
	require.NoError(t, s.CreateRecipient(ctx, exhausted))
	handedOff := newRecipient("r5", "m1", "e@example.com")
	handedOff.Status = domain.DeliverySent
	require.NoError(t, s.CreateRecipient(ctx, handedOff))

	// m2: one recipient still pending → not ready.
	m2 := newMessage("m2")
	m2.Status = domain.StatusReleased
	require.NoError(t, s.CreateMessage(ctx, m2))
	require.NoError(t, s.CreateRecipient(ctx, newRecipient("r3", "m2", "c@example.com")))

	// m3: released with no recipients at all → ready.
	m3 := newMessage("m3")
	m3.Status = domain.StatusReleased
	require.NoError(t, s.CreateMessage(ctx, m3))

	ready, err := s.ReleasedAwaitingCompletion(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ready, 2)
	assert.Equal(t, "m1", ready[0].ID)
	assert.Equal(t, "m3", ready[1].ID)
}

func TestCountNonTerminalRecipients(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateMessage(ctx, newMessage("m1")))

	pending := newRecipient("r1", "m1", "a@example.com")
	require.NoError(t, s.CreateRecipient(ctx, pending))
	delivered := newRecipient("r2", "m1", "b@example.com")
	delivered.Status = domain.DeliveryDelivered
	require.NoError(t, s.CreateRecipient(ctx, delivered))
	exhausted := newRecipient("r3", "m1", "c@example.com")
	exhausted.Status = domain.DeliveryFailed
	exhausted.RetryCount = 3
	require.NoError(t, s.CreateRecipient(ctx, exhausted))
	retrying := newRecipient("r4", "m1", "d@example.com")
	retrying.Status = domain.DeliveryFailed
	retrying.RetryCount = 1
	require.NoError(t, s.CreateRecipient(ctx, retrying))

	n, err := s.CountNonTerminalRecipients(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 2, n) // r1 pending, r4 still retrying
}

func TestMarkPlanExecutedAtMostOnce(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateMessage(ctx, newMessage("m1")))
	require.NoError(t, s.CreatePlan(ctx, &domain.DissolutionPlan{
		ID:        "p1",
		MessageID: "m1",
		Action:    domain.ActionRelease,
		Status:    domain.PlanPending,
		CreatedAt: base,
	}))

	claimed, err := s.MarkPlanExecuted(ctx, "p1", "exec-1", base.Add(time.Hour), domain.PlanExecuted)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.MarkPlanExecuted(ctx, "p1", "exec-2", base.Add(2*time.Hour), domain.PlanExecuted)
	require.NoError(t, err)
	assert.False(t, claimed)

	p, err := s.GetPlan(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", p.ExecutedBy)
	assert.Equal(t, domain.PlanExecuted, p.Status)

	// A status rewrite leaves the claim in place.
	require.NoError(t, s.SetPlanStatus(ctx, "p1", domain.PlanFailed))
	p, err = s.GetPlan(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanFailed, p.Status)
	require.NotNil(t, p.ExecutedAt)
	assert.Equal(t, "exec-1", p.ExecutedBy)
}

func TestCheckInHistoryIdempotentAppend(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateMessage(ctx, newMessage("m1")))

	rec := &domain.CheckInRecord{
		ID:         "c1",
		MessageID:  "m1",
		UserID:     "owner-1",
		OccurredAt: base,
		Method:     "manual",
	}
	require.NoError(t, s.AppendCheckIn(ctx, rec))
	require.NoError(t, s.AppendCheckIn(ctx, rec))

	later := *rec
	later.ID = "c2"
	later.OccurredAt = base.Add(time.Hour)
	require.NoError(t, s.AppendCheckIn(ctx, &later))

	history, err := s.CheckInHistory(ctx, "m1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "c2", history[0].ID) // newest first
}

func TestFindOrCreatePlaceholderUser(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	u1, err := s.FindOrCreatePlaceholderUser(ctx, "u1", "backup@example.com", base)
	require.NoError(t, err)
	assert.True(t, u1.Placeholder)

	u2, err := s.FindOrCreatePlaceholderUser(ctx, "u2", "backup@example.com", base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, u1.ID, u2.ID)
}

func TestAuditEventsRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateMessage(ctx, newMessage("m1")))

	ev := audit.NewEvent(base, audit.KindCheckIn, "m1")
	ev.Actor = "owner-1"
	ev.Detail = map[string]string{"method": "manual"}
	require.NoError(t, s.AppendAuditEvent(ctx, ev))
	require.NoError(t, s.AppendAuditEvent(ctx, ev)) // replay is a no-op

	got, err := s.AuditEventsForMessage(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, audit.KindCheckIn, got[0].Kind)
	assert.Equal(t, "owner-1", got[0].Actor)
	assert.Equal(t, "manual", got[0].Detail["method"])
}
