package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/roach88/vigil/internal/audit"
	"github.com/roach88/vigil/internal/domain"
	"github.com/roach88/vigil/internal/gate"
)

// Authorize decides whether a reader identified by source (an IP or a
// session id) may open the message with the presented password.
//
// The gate checks the persistent lockout before the password, so a locked
// message rejects even a correct password until the owner resets the
// counter. A denial increments the stored attempt counter through the
// compare-and-swap path; the denial that reaches the limit also emits the
// lockout audit event.
func (e *Engine) Authorize(ctx context.Context, messageID, password, source string) error {
	now := e.clock.Now()

	m, err := e.getMessage(ctx, messageID)
	if err != nil {
		return err
	}

	decision := e.gate.Authorize(m, password, source, now)
	switch decision {
	case gate.Granted:
		e.recordAccess(now, messageID, audit.KindAccessGranted, source, m.AccessAttempts)
		e.metrics.AccessDecisions.WithLabelValues(string(gate.Granted)).Inc()
		return nil

	case gate.Locked:
		e.recordAccess(now, messageID, audit.KindAccessLocked, source, m.AccessAttempts)
		e.metrics.AccessDecisions.WithLabelValues(string(gate.Locked)).Inc()
		return newError(ErrCodeLocked, messageID, "access locked after %d failed attempts", m.AccessAttempts)

	default: // gate.Denied
		locked := false
		updated, err := e.mutateMessage(ctx, messageID, func(m *domain.Message) error {
			m.AccessAttempts++
			locked = m.AccessLocked()
			return nil
		})
		if err != nil {
			e.log.ErrorContext(ctx, "persist access attempt", "message_id", messageID, "error", err)
		} else {
			m = updated
		}

		e.recordAccess(now, messageID, audit.KindAccessDenied, source, m.AccessAttempts)
		e.metrics.AccessDecisions.WithLabelValues(string(gate.Denied)).Inc()
		if locked {
			e.recordAccess(now, messageID, audit.KindAccessLocked, source, m.AccessAttempts)
		}
		return newError(ErrCodeForbidden, messageID, "wrong password")
	}
}

// ResetAccessAttempts clears the lockout counter. Owner only.
func (e *Engine) ResetAccessAttempts(ctx context.Context, messageID, userID string) error {
	_, err := e.mutateMessage(ctx, messageID, func(m *domain.Message) error {
		if m.OwnerID != userID {
			return newError(ErrCodeForbidden, messageID, "user %s does not own this message", userID)
		}
		m.AccessAttempts = 0
		return nil
	})
	return err
}

func (e *Engine) recordAccess(now time.Time, messageID string, kind audit.Kind, source string, attempts int) {
	ev := audit.NewEvent(now, kind, messageID)
	ev.Actor = source
	ev.Detail = map[string]string{"attempts": strconv.Itoa(attempts)}
	e.audit.Record(ev)
}
