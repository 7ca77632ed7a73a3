package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/vigil/internal/domain"
)

const recipientColumns = `
	id, message_id, contact, name, method, status, retry_count,
	max_retries, last_attempt, next_attempt_at, failure_reason,
	sent_at, delivered_at`

// CreateRecipient inserts a delivery target. The contact is canonicalized
// before storage; the UNIQUE(message_id, contact, method) constraint makes
// the insert idempotent via ON CONFLICT DO NOTHING.
func (s *Store) CreateRecipient(ctx context.Context, r *domain.Recipient) error {
	r.Contact = domain.CanonicalContact(r.Method, r.Contact)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recipients (`+recipientColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id, contact, method) DO NOTHING
	`,
		r.ID, r.MessageID, r.Contact, r.Name, string(r.Method), string(r.Status),
		r.RetryCount, r.MaxRetries, toNullNS(r.LastAttempt), toNullNS(r.NextAttemptAt),
		r.FailureReason, toNullNS(r.SentAt), toNullNS(r.DeliveredAt),
	)
	if err != nil {
		return fmt.Errorf("create recipient %s: %w", r.ID, err)
	}
	return nil
}

// GetRecipient reads one recipient by id.
func (s *Store) GetRecipient(ctx context.Context, id string) (*domain.Recipient, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE id = ?`, id)
	r, err := scanRecipient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recipient %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get recipient %s: %w", id, err)
	}
	return r, nil
}

// UpdateRecipient writes a recipient's delivery state. Recipients have a
// single writer (the dispatcher), so no version check is needed.
func (s *Store) UpdateRecipient(ctx context.Context, r *domain.Recipient) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recipients SET
			status = ?, retry_count = ?, last_attempt = ?,
			next_attempt_at = ?, failure_reason = ?, sent_at = ?,
			delivered_at = ?
		WHERE id = ?
	`,
		string(r.Status), r.RetryCount, toNullNS(r.LastAttempt),
		toNullNS(r.NextAttemptAt), r.FailureReason, toNullNS(r.SentAt),
		toNullNS(r.DeliveredAt), r.ID,
	)
	if err != nil {
		return fmt.Errorf("update recipient %s: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update recipient %s: %w", r.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("recipient %s: %w", r.ID, ErrNotFound)
	}
	return nil
}

// ListRecipients returns all recipients of a message.
func (s *Store) ListRecipients(ctx context.Context, messageID string) ([]*domain.Recipient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recipientColumns+` FROM recipients
		WHERE message_id = ?
		ORDER BY id
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list recipients for %s: %w", messageID, err)
	}
	defer rows.Close()
	return collectRecipients(rows)
}

// DueRecipients returns up to limit recipients of released messages that
// are eligible for a delivery attempt now: pending or failed, retries not
// exhausted, and past any scheduled backoff.
func (s *Store) DueRecipients(ctx context.Context, now time.Time, limit int) ([]*domain.Recipient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recipientColumnsPrefixed+` FROM recipients r
		JOIN messages m ON m.id = r.message_id
		WHERE m.status = ?
		  AND r.status IN (?, ?)
		  AND r.retry_count < r.max_retries
		  AND (r.next_attempt_at IS NULL OR r.next_attempt_at <= ?)
		ORDER BY r.id
		LIMIT ?
	`,
		string(domain.StatusReleased),
		string(domain.DeliveryPending), string(domain.DeliveryFailed),
		toNS(now), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("due recipients: %w", err)
	}
	defer rows.Close()
	return collectRecipients(rows)
}

const recipientColumnsPrefixed = `
	r.id, r.message_id, r.contact, r.name, r.method, r.status, r.retry_count,
	r.max_retries, r.last_attempt, r.next_attempt_at, r.failure_reason,
	r.sent_at, r.delivered_at`

// CountNonTerminalRecipients reports how many recipients of a message can
// still change state: not delivered, not bounced, and not failed with
// retries exhausted. Zero means the message itself can move to delivered.
func (s *Store) CountNonTerminalRecipients(ctx context.Context, messageID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM recipients
		WHERE message_id = ?
		  AND status NOT IN (?, ?)
		  AND NOT (status = ? AND retry_count >= max_retries)
	`,
		messageID,
		string(domain.DeliveryDelivered), string(domain.DeliveryBounced),
		string(domain.DeliveryFailed),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count non-terminal recipients for %s: %w", messageID, err)
	}
	return n, nil
}

func collectRecipients(rows *sql.Rows) ([]*domain.Recipient, error) {
	var out []*domain.Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRecipient(row scanner) (*domain.Recipient, error) {
	var (
		r                                  domain.Recipient
		method, status                     string
		lastAttempt, nextAttemptAt         sql.NullInt64
		sentAt, deliveredAt                sql.NullInt64
	)

	err := row.Scan(
		&r.ID, &r.MessageID, &r.Contact, &r.Name, &method, &status,
		&r.RetryCount, &r.MaxRetries, &lastAttempt, &nextAttemptAt,
		&r.FailureReason, &sentAt, &deliveredAt,
	)
	if err != nil {
		return nil, err
	}

	r.Method = domain.DeliveryMethod(method)
	r.Status = domain.DeliveryStatus(status)
	r.LastAttempt = fromNullNS(lastAttempt)
	r.NextAttemptAt = fromNullNS(nextAttemptAt)
	r.SentAt = fromNullNS(sentAt)
	r.DeliveredAt = fromNullNS(deliveredAt)
	return &r, nil
}
