package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/vigil/internal/domain"
)

// sweep walks the overdue backlog in keyset-paginated batches and executes
// each message's dissolution action.
//
// Pagination keys on message id rather than offset so a message released
// mid-sweep (and therefore gone from the active set) never shifts the
// window. The store only returns active messages, so anything another
// writer already moved out of active simply stops appearing.
func (e *Engine) sweep(ctx context.Context, now time.Time, report *TickReport) error {
	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sweep aborted: %w", err)
		}

		batch, err := e.store.ScanOverdue(ctx, now, afterID, e.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		report.addScanned(len(batch))
		e.metrics.Scanned.Add(float64(len(batch)))

		for _, m := range batch {
			afterID = m.ID
			if err := e.executeAction(ctx, m, now, report, true); err != nil {
				report.addError(err)
				e.log.ErrorContext(ctx, "dissolution action failed",
					"message_id", m.ID,
					"action", m.DissolutionAction,
					"error", err,
				)
			}
		}

		if len(batch) < e.batchSize {
			return nil
		}
	}
}

// promoteReleased finalizes released messages with no recipient left to
// attempt: they move to delivered. A release with zero recipients completes
// here on the same tick it was swept.
func (e *Engine) promoteReleased(ctx context.Context, now time.Time, report *TickReport) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("promote aborted: %w", err)
		}

		batch, err := e.store.ReleasedAwaitingCompletion(ctx, e.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		progressed := false
		for _, m := range batch {
			_, err := e.mutateMessage(ctx, m.ID, func(m *domain.Message) error {
				if m.Status != domain.StatusReleased {
					return errLostRace
				}
				t := now
				m.Status = domain.StatusDelivered
				m.DeliveredAt = &t
				return nil
			})
			if err != nil {
				if errors.Is(err, errLostRace) {
					continue
				}
				report.addError(err)
				continue
			}
			progressed = true
			e.recordTransition(now, m, string(domain.StatusDelivered), "engine")
		}

		// Every row either advanced or was skipped as contested; if nothing
		// advanced, stop rather than rescan the same stuck page forever.
		if !progressed || len(batch) < e.batchSize {
			return nil
		}
	}
}
