package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/vigil/internal/domain"
)

// CreatePlan inserts a dissolution plan.
func (s *Store) CreatePlan(ctx context.Context, p *domain.DissolutionPlan) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dissolution_plans
		(id, message_id, action, alternative_message_id, backup_owner_email, status, executed_at, executed_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.MessageID, string(p.Action), p.AlternativeMessageID,
		p.BackupOwnerEmail, string(p.Status), toNullNS(p.ExecutedAt),
		p.ExecutedBy, toNS(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create plan %s: %w", p.ID, err)
	}
	return nil
}

// GetPlan reads one dissolution plan by id.
func (s *Store) GetPlan(ctx context.Context, id string) (*domain.DissolutionPlan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, message_id, action, alternative_message_id, backup_owner_email,
		       status, executed_at, executed_by, created_at
		FROM dissolution_plans WHERE id = ?
	`, id)

	var (
		p                     domain.DissolutionPlan
		action, status        string
		executedAt            sql.NullInt64
		createdAt             int64
	)
	err := row.Scan(&p.ID, &p.MessageID, &action, &p.AlternativeMessageID,
		&p.BackupOwnerEmail, &status, &executedAt, &p.ExecutedBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get plan %s: %w", id, err)
	}

	p.Action = domain.DissolutionAction(action)
	p.Status = domain.PlanStatus(status)
	p.ExecutedAt = fromNullNS(executedAt)
	p.CreatedAt = fromNS(createdAt)
	return &p, nil
}

// MarkPlanExecuted records plan execution exactly once. The conditional
// WHERE executed_at IS NULL makes execution a one-way transition: the
// second caller sees inserted=false and must not run the action again.
func (s *Store) MarkPlanExecuted(ctx context.Context, planID, executedBy string, now time.Time, status domain.PlanStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE dissolution_plans
		SET status = ?, executed_at = ?, executed_by = ?
		WHERE id = ? AND executed_at IS NULL
	`, string(status), toNS(now), executedBy, planID)
	if err != nil {
		return false, fmt.Errorf("mark plan %s executed: %w", planID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark plan %s executed: %w", planID, err)
	}
	return n > 0, nil
}

// SetPlanStatus rewrites a plan's status, leaving the execution claim
// untouched. Used to downgrade a claimed plan to failed when its action
// does not commit.
func (s *Store) SetPlanStatus(ctx context.Context, planID string, status domain.PlanStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE dissolution_plans SET status = ? WHERE id = ?
	`, string(status), planID)
	if err != nil {
		return fmt.Errorf("set plan %s status: %w", planID, err)
	}
	return nil
}
