package engine

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/vigil/internal/audit"
	"github.com/roach88/vigil/internal/deadline"
	"github.com/roach88/vigil/internal/domain"
	"github.com/roach88/vigil/internal/store"
)

// CheckInMeta carries optional provenance for a check-in record.
type CheckInMeta struct {
	// Method is manual, automatic, or vacation. Empty defaults to manual.
	Method   string
	Location string
	Device   string
	IP       string
}

// CheckIn records that the owner is alive: it stamps LastCheckIn, derives
// the next deadline, clears any pending notify marker, and appends a
// history record.
//
// Paused messages accept check-ins too: the stamp and the fresh deadline
// land either way, and the message is restored to active once PausedUntil
// has elapsed. Terminal and released messages reject check-ins with
// INVALID_STATE; a non-owner gets FORBIDDEN.
func (e *Engine) CheckIn(ctx context.Context, messageID, userID string, meta CheckInMeta) (*domain.Message, error) {
	now := e.clock.Now()

	m, err := e.mutateMessage(ctx, messageID, func(m *domain.Message) error {
		if m.OwnerID != userID {
			return newError(ErrCodeForbidden, messageID, "user %s does not own this message", userID)
		}
		if !m.CheckInAllowed() {
			return newError(ErrCodeInvalidState, messageID, "cannot check in while %s", m.Status)
		}

		if m.Status == domain.StatusPaused && (m.PausedUntil == nil || !now.Before(*m.PausedUntil)) {
			m.Status = domain.StatusActive
			m.PausedUntil = nil
		}

		t := now
		m.LastCheckIn = &t
		m.NextDeadline = deadline.ForMessage(m)
		m.NotifiedAt = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	method := meta.Method
	if method == "" {
		method = "manual"
	}
	rec := &domain.CheckInRecord{
		ID:         e.idGen.NewID(),
		MessageID:  messageID,
		UserID:     userID,
		OccurredAt: now,
		Method:     method,
		Location:   meta.Location,
		Device:     meta.Device,
		IP:         meta.IP,
	}
	if err := e.store.AppendCheckIn(ctx, rec); err != nil {
		// The deadline already moved; history is best-effort from here.
		e.log.ErrorContext(ctx, "append check-in history", "message_id", messageID, "error", err)
	}

	ev := audit.NewEvent(now, audit.KindCheckIn, messageID)
	ev.Actor = userID
	ev.Detail = map[string]string{
		"method":        method,
		"next_deadline": m.NextDeadline.Format("2006-01-02T15:04:05Z07:00"),
	}
	e.audit.Record(ev)
	e.metrics.CheckIns.Inc()

	return m, nil
}

// Activate moves a draft or scheduled message into the active regime and
// stamps its first deadline.
func (e *Engine) Activate(ctx context.Context, messageID, userID string) (*domain.Message, error) {
	now := e.clock.Now()

	m, err := e.mutateMessage(ctx, messageID, func(m *domain.Message) error {
		if m.OwnerID != userID {
			return newError(ErrCodeForbidden, messageID, "user %s does not own this message", userID)
		}
		if !m.Activatable() {
			return newError(ErrCodeInvalidState, messageID, "cannot activate while %s", m.Status)
		}

		t := now
		m.Status = domain.StatusActive
		m.ActivatedAt = &t
		m.NextDeadline = deadline.ForMessage(m)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.recordTransition(now, m, string(m.Status), userID)
	return m, nil
}

// Pause puts an active message into vacation mode until the given time.
// While paused the sweep never considers the message overdue; check-ins
// are still recorded, and one at or after until restores the message to
// active.
func (e *Engine) Pause(ctx context.Context, messageID, userID string, until time.Time) (*domain.Message, error) {
	now := e.clock.Now()

	m, err := e.mutateMessage(ctx, messageID, func(m *domain.Message) error {
		if m.OwnerID != userID {
			return newError(ErrCodeForbidden, messageID, "user %s does not own this message", userID)
		}
		if m.Status != domain.StatusActive {
			return newError(ErrCodeInvalidState, messageID, "cannot pause while %s", m.Status)
		}
		if !until.After(now) {
			return newError(ErrCodeInvalidState, messageID, "pause end %s is not in the future", until.Format("2006-01-02"))
		}
		u := until
		m.Status = domain.StatusPaused
		m.PausedUntil = &u
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.recordTransition(now, m, string(m.Status), userID)
	return m, nil
}

// CancelMessage permanently retires a message. Terminal messages cannot be
// cancelled again; released messages can, which stops any remaining
// deliveries (their recipients no longer join a released message).
func (e *Engine) CancelMessage(ctx context.Context, messageID, userID string) (*domain.Message, error) {
	now := e.clock.Now()

	m, err := e.mutateMessage(ctx, messageID, func(m *domain.Message) error {
		if m.OwnerID != userID {
			return newError(ErrCodeForbidden, messageID, "user %s does not own this message", userID)
		}
		if m.Status.Terminal() {
			return newError(ErrCodeInvalidState, messageID, "already %s", m.Status)
		}
		m.Status = domain.StatusCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.recordTransition(now, m, string(m.Status), userID)
	return m, nil
}

// getMessage reads a message, translating the store's absence error into
// the engine's typed NOT_FOUND.
func (e *Engine) getMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	m, err := e.store.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(ErrCodeNotFound, messageID, "message not found")
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// mutateMessage is the compare-and-swap retry loop every request-path write
// goes through: read, apply, write conditionally, and on a version conflict
// re-read and re-apply. fn sees a fresh copy each attempt and may return a
// typed error to abort without retrying.
func (e *Engine) mutateMessage(ctx context.Context, messageID string, fn func(*domain.Message) error) (*domain.Message, error) {
	for attempt := 0; attempt < e.casRetries; attempt++ {
		m, err := e.store.GetMessage(ctx, messageID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(ErrCodeNotFound, messageID, "message not found")
		}
		if err != nil {
			return nil, err
		}

		if err := fn(m); err != nil {
			return nil, err
		}

		err = e.store.UpdateMessage(ctx, m)
		if err == nil {
			return m, nil
		}
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(ErrCodeNotFound, messageID, "message not found")
		}
		return nil, err
	}
	return nil, newError(ErrCodeConcurrentModification, messageID, "update contended across %d attempts", e.casRetries)
}

// recordTransition emits the status_transition audit event for a committed
// status change.
func (e *Engine) recordTransition(now time.Time, m *domain.Message, to, actor string) {
	ev := audit.NewEvent(now, audit.KindStatusTransition, m.ID)
	ev.Actor = actor
	ev.Detail = map[string]string{"to": to}
	e.audit.Record(ev)
}
