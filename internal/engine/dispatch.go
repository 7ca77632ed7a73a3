package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/vigil/internal/audit"
	"github.com/roach88/vigil/internal/domain"
	"github.com/roach88/vigil/internal/transport"
)

// dispatch attempts delivery for every recipient of a released message that
// is due now: pending or failed with retries left and past its backoff.
//
// Attempts run on a bounded worker pool; each recipient is an independent
// unit of work with its own retry accounting, so a slow webhook never
// blocks an email to someone else. Recipient rows have a single writer
// (this dispatcher, one tick at a time), so their updates skip the
// compare-and-swap that message rows require.
func (e *Engine) dispatch(ctx context.Context, now time.Time, report *TickReport) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("dispatch aborted: %w", err)
		}

		due, err := e.store.DueRecipients(ctx, now, e.batchSize)
		if err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}

		queue := newDeliveryQueue()
		payloads := make(map[string]transport.Payload)
		for _, r := range due {
			p, ok := payloads[r.MessageID]
			if !ok {
				var err error
				p, err = e.contentPayload(ctx, r.MessageID, now)
				if err != nil {
					report.addError(err)
					payloads[r.MessageID] = transport.Payload{} // skip marker
					continue
				}
				payloads[r.MessageID] = p
			}
			if p.MessageID == "" {
				continue
			}
			queue.Enqueue(deliveryJob{recipient: r, payload: p})
		}
		queued := queue.Len()
		queue.Close()

		var wg sync.WaitGroup
		for i := 0; i < e.workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					job, ok := queue.Dequeue()
					if !ok {
						return
					}
					e.attempt(ctx, now, job, report)
				}
			}()
		}
		wg.Wait()

		// Every attempted recipient either delivered or got a future
		// next_attempt_at, so the next page is strictly new work. An empty
		// queue with due rows means every payload failed to build; stop
		// instead of spinning on them.
		if queued == 0 || len(due) < e.batchSize {
			return nil
		}
	}
}

// contentPayload builds the deliverable for a released message: its own
// decrypted content, or the alternative message's content when the action
// says so. A message that slipped out of released between the due query
// and now yields an empty payload and its recipients wait for the next
// tick.
func (e *Engine) contentPayload(ctx context.Context, messageID string, now time.Time) (transport.Payload, error) {
	m, err := e.getMessage(ctx, messageID)
	if err != nil {
		return transport.Payload{}, err
	}
	if m.Status != domain.StatusReleased {
		return transport.Payload{}, nil
	}

	source := m
	if m.DissolutionAction == domain.ActionAlternative {
		alt, err := e.getMessage(ctx, m.AlternativeMessageID)
		if err != nil {
			return transport.Payload{}, err
		}
		source = alt
	}

	plaintext, err := e.openContent(source)
	if err != nil {
		// Verified at release time, so this means the row changed under us.
		// Expire rather than retrying a decrypt that cannot heal.
		e.expireReleased(ctx, m.ID, now, err)
		return transport.Payload{}, err
	}

	return transport.Payload{
		Kind:      transport.KindContent,
		MessageID: m.ID,
		Title:     m.Title,
		Body:      plaintext,
	}, nil
}

// attempt makes one delivery attempt and persists the outcome.
func (e *Engine) attempt(ctx context.Context, now time.Time, job deliveryJob, report *TickReport) {
	r := job.recipient

	attemptCtx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
	err := e.transport.Deliver(attemptCtx, r, job.payload)
	cancel()

	t := now
	r.LastAttempt = &t

	ev := audit.NewEvent(now, audit.KindDeliveryAttempt, r.MessageID)
	ev.RecipientID = r.ID
	ev.Detail = map[string]string{
		"attempt": strconv.Itoa(r.RetryCount + 1),
		"method":  string(r.Method),
	}

	if err == nil {
		r.Status = domain.DeliveryDelivered
		r.SentAt = &t
		r.DeliveredAt = &t
		r.NextAttemptAt = nil
		r.FailureReason = ""
		ev.Detail["result"] = "delivered"
		e.metrics.Deliveries.WithLabelValues("delivered").Inc()
		report.addDelivered(1)
	} else {
		r.Status = domain.DeliveryFailed
		r.RetryCount++
		r.FailureReason = err.Error()
		ev.Detail["result"] = "failed"
		ev.Detail["error"] = err.Error()
		report.addFailed(1)

		if r.Terminal() {
			r.NextAttemptAt = nil
			e.metrics.Deliveries.WithLabelValues("exhausted").Inc()
		} else {
			next := now.Add(e.backoff(r.RetryCount))
			r.NextAttemptAt = &next
			e.metrics.Deliveries.WithLabelValues("retried").Inc()
		}
	}
	e.audit.Record(ev)

	if err != nil && r.Terminal() {
		terminal := audit.NewEvent(now, audit.KindDeliveryFailed, r.MessageID)
		terminal.RecipientID = r.ID
		terminal.Detail = map[string]string{
			"attempts": strconv.Itoa(r.RetryCount),
			"error":    err.Error(),
		}
		e.audit.Record(terminal)
	}

	if uerr := e.store.UpdateRecipient(ctx, r); uerr != nil {
		report.addError(uerr)
		e.log.ErrorContext(ctx, "persist delivery outcome",
			"recipient_id", r.ID, "message_id", r.MessageID, "error", uerr)
	}
}

// backoff returns the delay before the next attempt after retry failures:
// exponential from the base, capped.
func (e *Engine) backoff(retries int) time.Duration {
	d := e.backoffBase
	for i := 1; i < retries; i++ {
		d *= 2
		if d >= e.backoffCap {
			return e.backoffCap
		}
	}
	if d > e.backoffCap {
		return e.backoffCap
	}
	return d
}

// expireReleased moves a released message whose content turned unreadable
// to expired with the cipher error flag.
func (e *Engine) expireReleased(ctx context.Context, messageID string, now time.Time, cause error) {
	updated, err := e.mutateMessage(ctx, messageID, func(m *domain.Message) error {
		if m.Status != domain.StatusReleased {
			return errLostRace
		}
		m.Status = domain.StatusExpired
		m.CipherError = true
		return nil
	})
	if err != nil {
		return
	}

	ev := audit.NewEvent(now, audit.KindReleaseError, updated.ID)
	ev.Detail = map[string]string{"error": cause.Error()}
	e.audit.Record(ev)
	e.recordTransition(now, updated, string(domain.StatusExpired), "engine")
}
