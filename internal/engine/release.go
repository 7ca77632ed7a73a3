package engine

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/vigil/internal/audit"
	"github.com/roach88/vigil/internal/cipher"
	"github.com/roach88/vigil/internal/deadline"
	"github.com/roach88/vigil/internal/domain"
	"github.com/roach88/vigil/internal/store"
	"github.com/roach88/vigil/internal/transport"
)

// errLostRace marks a commit race lost to another writer (an owner checked
// in, or another action already committed). The other writer's commit
// stands; the action backs off without reporting anything.
var errLostRace = errors.New("lost the commit race")

// executeAction runs one dissolution action against a message. Shared by
// the sweep and by ExecutePlan.
//
// The commit point for every branch is a compare-and-swap out of active.
// Losing that race (an owner checked in, another action committed) is not
// an error; the branch re-validates the fresh row under the swap and backs
// off quietly. The sweep passes requireOverdue so that a check-in landing
// between the scan and the commit, which moves the deadline forward, wins
// the race; plan execution fires on demand and skips the deadline check.
func (e *Engine) executeAction(ctx context.Context, m *domain.Message, now time.Time, report *TickReport, requireOverdue bool) error {
	var err error
	switch m.DissolutionAction {
	case domain.ActionRelease:
		err = e.actionRelease(ctx, m, now, requireOverdue)
	case domain.ActionDestroy:
		err = e.actionDestroy(ctx, m, now, requireOverdue)
	case domain.ActionAlternative:
		err = e.actionAlternative(ctx, m, now, requireOverdue)
	case domain.ActionTransfer:
		err = e.actionTransfer(ctx, m, now, requireOverdue)
	case domain.ActionExtend:
		err = e.actionExtend(ctx, m, now, requireOverdue)
	case domain.ActionNotify:
		err = e.actionNotify(ctx, m, now, requireOverdue)
	default:
		err = newError(ErrCodeInvalidState, m.ID, "unknown dissolution action %q", m.DissolutionAction)
	}

	if err != nil {
		if errors.Is(err, errLostRace) {
			return nil
		}
		return err
	}

	report.addReleased(1)
	e.metrics.Released.WithLabelValues(string(m.DissolutionAction)).Inc()
	return nil
}

// guardActive checks the fresh row inside a commit swap. The message must
// still be active, and when requireOverdue is set its stored deadline must
// still be in the past. A check-in committed since the scan leaves the row
// active with a future deadline, so the action loses the race.
func guardActive(m *domain.Message, now time.Time, requireOverdue bool) error {
	if m.Status != domain.StatusActive {
		return errLostRace
	}
	if requireOverdue && !now.After(m.NextDeadline) {
		return errLostRace
	}
	return nil
}

// actionRelease commits an active message to the released status after
// proving its content can actually be opened. Delivery itself happens on
// the dispatch path, keyed off the released status.
func (e *Engine) actionRelease(ctx context.Context, m *domain.Message, now time.Time, requireOverdue bool) error {
	if _, err := e.openContent(m); err != nil {
		return e.expireUnreadable(ctx, m.ID, now, err, requireOverdue)
	}

	updated, err := e.transitionFromActive(ctx, m.ID, now, domain.StatusReleased, requireOverdue)
	if err != nil {
		return err
	}
	e.recordTransition(now, updated, string(domain.StatusReleased), "engine")
	return nil
}

// actionDestroy purges the sealed content and expires the message. Nothing
// is dispatched; the content is gone.
func (e *Engine) actionDestroy(ctx context.Context, m *domain.Message, now time.Time, requireOverdue bool) error {
	updated, err := e.mutateMessage(ctx, m.ID, func(m *domain.Message) error {
		if err := guardActive(m, now, requireOverdue); err != nil {
			return err
		}
		m.EncryptedContent = nil
		m.EncryptedKey = nil
		m.ContentHash = ""
		m.ContentSize = 0
		m.Status = domain.StatusExpired
		return nil
	})
	if err != nil {
		return err
	}
	e.recordTransition(now, updated, string(domain.StatusExpired), "engine")
	return nil
}

// actionAlternative releases the message but delivery will carry the
// alternative message's content. Misconfiguration (no alternative set, or
// an alternative that cannot be opened) leaves the message active and
// surfaces as a release error.
func (e *Engine) actionAlternative(ctx context.Context, m *domain.Message, now time.Time, requireOverdue bool) error {
	if m.AlternativeMessageID == "" {
		return e.releaseConfigError(m.ID, now, "alternative action with no alternative message")
	}
	alt, err := e.getMessage(ctx, m.AlternativeMessageID)
	if err != nil {
		if IsNotFound(err) {
			return e.releaseConfigError(m.ID, now, "alternative message %s not found", m.AlternativeMessageID)
		}
		return err
	}
	if _, err := e.openContent(alt); err != nil {
		return e.expireUnreadable(ctx, m.ID, now, err, requireOverdue)
	}

	updated, err := e.transitionFromActive(ctx, m.ID, now, domain.StatusReleased, requireOverdue)
	if err != nil {
		return err
	}
	e.recordTransition(now, updated, string(domain.StatusReleased), "engine")
	return nil
}

// actionTransfer hands the message to the backup owner: a clone is created
// under the backup owner's account with a fresh schedule, then the original
// is cancelled.
//
// The clone id is derived deterministically from the original, and the
// clone insert is idempotent, so a crash between clone and cancel re-runs
// cleanly: the second pass recreates nothing and proceeds to the cancel.
// Clone before cancel, never the reverse; a cancelled original with no
// clone would lose the message.
func (e *Engine) actionTransfer(ctx context.Context, m *domain.Message, now time.Time, requireOverdue bool) error {
	if m.BackupOwnerEmail == "" {
		return e.releaseConfigError(m.ID, now, "transfer action with no backup owner")
	}

	// Re-read before creating anything: a check-in committed since the
	// scan must not leave a stray clone behind.
	fresh, err := e.getMessage(ctx, m.ID)
	if err != nil {
		return err
	}
	if err := guardActive(fresh, now, requireOverdue); err != nil {
		return err
	}

	backup, err := e.store.FindOrCreatePlaceholderUser(ctx, e.idGen.NewID(), m.BackupOwnerEmail, now)
	if err != nil {
		return err
	}

	clone := *m
	clone.ID = transferCloneID(m.ID)
	clone.OwnerID = backup.ID
	clone.Status = domain.StatusActive
	clone.CreatedAt = now
	clone.ActivatedAt = &now
	clone.LastCheckIn = nil
	clone.NotifiedAt = nil
	clone.DeliveredAt = nil
	clone.PausedUntil = nil
	clone.AccessAttempts = 0
	clone.NextDeadline = deadline.Next(now, nil, clone.CheckInInterval, clone.GracePeriod)
	if err := e.store.CreateMessage(ctx, &clone); err != nil {
		return err
	}

	recipients, err := e.store.ListRecipients(ctx, m.ID)
	if err != nil {
		return err
	}
	for _, r := range recipients {
		cr := *r
		cr.ID = e.idGen.NewID()
		cr.MessageID = clone.ID
		cr.Status = domain.DeliveryPending
		cr.RetryCount = 0
		cr.LastAttempt = nil
		cr.NextAttemptAt = nil
		cr.FailureReason = ""
		cr.SentAt = nil
		cr.DeliveredAt = nil
		if err := e.store.CreateRecipient(ctx, &cr); err != nil {
			return err
		}
	}

	if _, err := e.transitionFromActive(ctx, m.ID, now, domain.StatusCancelled, requireOverdue); err != nil {
		return err
	}

	ev := audit.NewEvent(now, audit.KindStatusTransition, m.ID)
	ev.Actor = "engine"
	ev.Detail = map[string]string{
		"to":          string(domain.StatusCancelled),
		"transfer_to": clone.ID,
		"new_owner":   backup.ID,
	}
	e.audit.Record(ev)
	return nil
}

// actionExtend pushes the persisted deadline out by the extended grace
// period and leaves the message active. The new deadline is in the stored
// row, so the message drops out of the overdue scan; re-running the sweep
// at the same instant extends nothing twice.
func (e *Engine) actionExtend(ctx context.Context, m *domain.Message, now time.Time, requireOverdue bool) error {
	if m.ExtendedGracePeriod <= 0 {
		return e.releaseConfigError(m.ID, now, "extend action with no extended grace period")
	}

	var newDeadline time.Time
	updated, err := e.mutateMessage(ctx, m.ID, func(m *domain.Message) error {
		if m.Status != domain.StatusActive {
			return errLostRace
		}
		if !now.After(m.NextDeadline) {
			// Already extended (or checked in) since the scan. Holds on
			// the plan path too: a deadline still in the future has
			// nothing to extend.
			return errLostRace
		}
		m.NextDeadline = m.NextDeadline.Add(time.Duration(m.ExtendedGracePeriod) * deadline.Day)
		newDeadline = m.NextDeadline
		return nil
	})
	if err != nil {
		return err
	}

	ev := audit.NewEvent(now, audit.KindStatusTransition, updated.ID)
	ev.Actor = "engine"
	ev.Detail = map[string]string{
		"to":            string(domain.StatusActive),
		"extended":      "true",
		"next_deadline": newDeadline.Format(time.RFC3339),
	}
	e.audit.Record(ev)
	return nil
}

// actionNotify stamps NotifiedAt and sends a sealed-content notice to every
// recipient. The message stays active; the owner can still check in. The
// stamp commits before the sends, so a crash mid-send drops remaining
// notices rather than duplicating them.
func (e *Engine) actionNotify(ctx context.Context, m *domain.Message, now time.Time, requireOverdue bool) error {
	updated, err := e.mutateMessage(ctx, m.ID, func(m *domain.Message) error {
		if err := guardActive(m, now, requireOverdue); err != nil {
			return err
		}
		if m.NotifiedAt != nil && !m.NotifiedAt.Before(m.NextDeadline) {
			return errLostRace
		}
		t := now
		m.NotifiedAt = &t
		return nil
	})
	if err != nil {
		return err
	}

	recipients, err := e.store.ListRecipients(ctx, m.ID)
	if err != nil {
		return err
	}

	payload := transport.Payload{
		Kind:      transport.KindNotice,
		MessageID: updated.ID,
		Title:     updated.Title,
	}
	for _, r := range recipients {
		attemptCtx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
		err := e.transport.Deliver(attemptCtx, r, payload)
		cancel()

		ev := audit.NewEvent(now, audit.KindDeliveryAttempt, updated.ID)
		ev.RecipientID = r.ID
		ev.Detail = map[string]string{"kind": string(transport.KindNotice)}
		if err != nil {
			ev.Detail["error"] = err.Error()
			e.log.WarnContext(ctx, "notify delivery failed",
				"message_id", updated.ID, "recipient_id", r.ID, "error", err)
		}
		e.audit.Record(ev)
	}
	return nil
}

// transitionFromActive CASes a message from active into the given status,
// losing the race to any writer that left the row non-active or, on the
// sweep path, no longer overdue.
func (e *Engine) transitionFromActive(ctx context.Context, messageID string, now time.Time, to domain.MessageStatus, requireOverdue bool) (*domain.Message, error) {
	return e.mutateMessage(ctx, messageID, func(m *domain.Message) error {
		if err := guardActive(m, now, requireOverdue); err != nil {
			return err
		}
		m.Status = to
		return nil
	})
}

// openContent decrypts and verifies a message body. Any failure comes back
// wrapped as a cipher failure; the callers treat it as fatal for this
// message, never retryable.
func (e *Engine) openContent(m *domain.Message) ([]byte, error) {
	plaintext, err := e.cipher.Decrypt(m.EncryptedContent, m.EncryptedKey)
	if err != nil {
		return nil, &Error{
			Code:      ErrCodeCipherFailure,
			Message:   "content cannot be opened",
			MessageID: m.ID,
			Err:       err,
		}
	}
	if !cipher.VerifyContent(plaintext, m.ContentHash) {
		return nil, newError(ErrCodeCipherFailure, m.ID, "content hash mismatch")
	}
	return plaintext, nil
}

// expireUnreadable handles a cipher failure during release: the message is
// expired with the cipher error flag set, and a release_error audit event
// records why. Expiring beats leaving the row active and failing the same
// way every tick.
func (e *Engine) expireUnreadable(ctx context.Context, messageID string, now time.Time, cause error, requireOverdue bool) error {
	updated, err := e.mutateMessage(ctx, messageID, func(m *domain.Message) error {
		if err := guardActive(m, now, requireOverdue); err != nil {
			return err
		}
		m.Status = domain.StatusExpired
		m.CipherError = true
		return nil
	})
	if err != nil {
		return err
	}

	ev := audit.NewEvent(now, audit.KindReleaseError, updated.ID)
	ev.Detail = map[string]string{"error": cause.Error()}
	e.audit.Record(ev)
	e.recordTransition(now, updated, string(domain.StatusExpired), "engine")
	return cause
}

// releaseConfigError reports a misconfigured dissolution action. The
// message stays active so the owner can still fix the configuration or
// check in; the error repeats in the tick report until they do.
func (e *Engine) releaseConfigError(messageID string, now time.Time, format string, args ...any) error {
	err := newError(ErrCodeInvalidState, messageID, format, args...)
	ev := audit.NewEvent(now, audit.KindReleaseError, messageID)
	ev.Detail = map[string]string{"error": err.Message}
	e.audit.Record(ev)
	return err
}

// ExecutePlan fires a dissolution plan: the plan's action runs against its
// message with the plan's own action configuration taking precedence over
// the message's. Execution is at most once; the second caller finds the
// plan claimed and gets INVALID_STATE.
func (e *Engine) ExecutePlan(ctx context.Context, planID, executorID string) error {
	now := e.clock.Now()

	plan, err := e.store.GetPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(ErrCodeNotFound, "", "plan %s not found", planID)
		}
		return err
	}

	claimed, err := e.store.MarkPlanExecuted(ctx, planID, executorID, now, domain.PlanExecuted)
	if err != nil {
		return err
	}
	if !claimed {
		return newError(ErrCodeInvalidState, plan.MessageID, "plan %s already executed", planID)
	}

	m, err := e.getMessage(ctx, plan.MessageID)
	if err != nil {
		return err
	}
	m.DissolutionAction = plan.Action
	if plan.AlternativeMessageID != "" {
		m.AlternativeMessageID = plan.AlternativeMessageID
	}
	if plan.BackupOwnerEmail != "" {
		m.BackupOwnerEmail = plan.BackupOwnerEmail
	}

	report := &TickReport{}
	execErr := e.executeAction(ctx, m, now, report, false)
	if execErr != nil {
		// The claim stands (executed_at stays set); only the status
		// flips to failed.
		if serr := e.store.SetPlanStatus(ctx, planID, domain.PlanFailed); serr != nil {
			e.log.ErrorContext(ctx, "record plan failure",
				"plan_id", planID, "error", serr)
		}
	}

	ev := audit.NewEvent(now, audit.KindPlanExecuted, plan.MessageID)
	ev.Actor = executorID
	ev.Detail = map[string]string{"plan_id": planID, "action": string(plan.Action)}
	if execErr != nil {
		ev.Detail["error"] = execErr.Error()
	}
	e.audit.Record(ev)
	return execErr
}
