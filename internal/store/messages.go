package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/vigil/internal/domain"
)

const messageColumns = `
	id, owner_id, encrypted_content, encrypted_key, content_hash,
	content_size, title, description, check_in_interval, grace_period,
	last_check_in, next_deadline, auto_check_in, status, created_at,
	activated_at, delivered_at, paused_until, requires_password,
	password_hash, max_access_attempts, access_attempts,
	dissolution_action, alternative_message_id, backup_owner_email,
	extended_grace_period, notified_at, cipher_error, version`

// CreateMessage inserts a new message. The version is forced to 1; the
// caller's struct is updated to match. An existing row with the same id is
// left untouched, which makes inserts with deterministic ids safe to repeat.
func (s *Store) CreateMessage(ctx context.Context, m *domain.Message) error {
	m.Version = 1
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`,
		m.ID, m.OwnerID, m.EncryptedContent, m.EncryptedKey, m.ContentHash,
		m.ContentSize, m.Title, m.Description, m.CheckInInterval, m.GracePeriod,
		toNullNS(m.LastCheckIn), toNS(m.NextDeadline), m.AutoCheckIn, string(m.Status), toNS(m.CreatedAt),
		toNullNS(m.ActivatedAt), toNullNS(m.DeliveredAt), toNullNS(m.PausedUntil), m.RequiresPassword,
		m.PasswordHash, m.MaxAccessAttempts, m.AccessAttempts,
		string(m.DissolutionAction), m.AlternativeMessageID, m.BackupOwnerEmail,
		m.ExtendedGracePeriod, toNullNS(m.NotifiedAt), m.CipherError, m.Version,
	)
	if err != nil {
		return fmt.Errorf("create message %s: %w", m.ID, err)
	}
	return nil
}

// GetMessage reads one message by id. Returns ErrNotFound when absent.
func (s *Store) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	return m, nil
}

// UpdateMessage writes all mutable message fields, conditional on the
// version the caller read. On success the struct's Version is advanced to
// the stored value. Returns ErrVersionConflict when another writer got
// there first, ErrNotFound when the row is gone.
func (s *Store) UpdateMessage(ctx context.Context, m *domain.Message) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET
			encrypted_content = ?, encrypted_key = ?, content_hash = ?,
			content_size = ?, title = ?, description = ?, owner_id = ?,
			check_in_interval = ?, grace_period = ?, last_check_in = ?,
			next_deadline = ?, auto_check_in = ?, status = ?,
			activated_at = ?, delivered_at = ?, paused_until = ?,
			requires_password = ?, password_hash = ?,
			max_access_attempts = ?, access_attempts = ?,
			dissolution_action = ?, alternative_message_id = ?,
			backup_owner_email = ?, extended_grace_period = ?,
			notified_at = ?, cipher_error = ?,
			version = version + 1
		WHERE id = ? AND version = ?
	`,
		m.EncryptedContent, m.EncryptedKey, m.ContentHash,
		m.ContentSize, m.Title, m.Description, m.OwnerID,
		m.CheckInInterval, m.GracePeriod, toNullNS(m.LastCheckIn),
		toNS(m.NextDeadline), m.AutoCheckIn, string(m.Status),
		toNullNS(m.ActivatedAt), toNullNS(m.DeliveredAt), toNullNS(m.PausedUntil),
		m.RequiresPassword, m.PasswordHash,
		m.MaxAccessAttempts, m.AccessAttempts,
		string(m.DissolutionAction), m.AlternativeMessageID,
		m.BackupOwnerEmail, m.ExtendedGracePeriod,
		toNullNS(m.NotifiedAt), m.CipherError,
		m.ID, m.Version,
	)
	if err != nil {
		return fmt.Errorf("update message %s: %w", m.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update message %s: %w", m.ID, err)
	}
	if n == 0 {
		// Distinguish a lost race from a deleted row.
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id = ?`, m.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("message %s: %w", m.ID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("update message %s: %w", m.ID, err)
		}
		return fmt.Errorf("message %s at version %d: %w", m.ID, m.Version, ErrVersionConflict)
	}

	m.Version++
	return nil
}

// ScanOverdue returns up to limit active messages whose deadline has
// passed, with id > afterID for keyset pagination. Results are ordered by
// id so successive calls with the last id seen walk the full backlog.
// Notify-action messages already notified for their current deadline are
// excluded; they re-enter the scan when a check-in moves the deadline.
func (s *Store) ScanOverdue(ctx context.Context, now time.Time, afterID string, limit int) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE status = ? AND next_deadline < ? AND id > ?
		  AND (dissolution_action != ? OR notified_at IS NULL OR notified_at < next_deadline)
		ORDER BY id
		LIMIT ?
	`, string(domain.StatusActive), toNS(now), afterID, string(domain.ActionNotify), limit)
	if err != nil {
		return nil, fmt.Errorf("scan overdue: %w", err)
	}
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan overdue: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ReleasedAwaitingCompletion returns released messages that have no
// recipient still eligible for a delivery attempt. These are ready to move
// to their final status. A recipient in the sent state does not hold the
// message back: the payload already left, only the confirmation is pending.
func (s *Store) ReleasedAwaitingCompletion(ctx context.Context, limit int) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages m
		WHERE m.status = ?
		  AND NOT EXISTS (
			SELECT 1 FROM recipients r
			WHERE r.message_id = m.id
			  AND (r.status = ? OR (r.status = ? AND r.retry_count < r.max_retries))
		  )
		ORDER BY m.id
		LIMIT ?
	`,
		string(domain.StatusReleased),
		string(domain.DeliveryPending),
		string(domain.DeliveryFailed),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("released awaiting completion: %w", err)
	}
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("released awaiting completion: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ListMessagesByOwner returns an owner's messages ordered by creation time.
func (s *Store) ListMessagesByOwner(ctx context.Context, ownerID string) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE owner_id = ?
		ORDER BY created_at, id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", ownerID, err)
	}
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("list messages for %s: %w", ownerID, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*domain.Message, error) {
	var (
		m                                                    domain.Message
		status, action                                       string
		lastCheckIn, activatedAt, deliveredAt                sql.NullInt64
		pausedUntil, notifiedAt                              sql.NullInt64
		nextDeadline, createdAt                              int64
	)

	err := row.Scan(
		&m.ID, &m.OwnerID, &m.EncryptedContent, &m.EncryptedKey, &m.ContentHash,
		&m.ContentSize, &m.Title, &m.Description, &m.CheckInInterval, &m.GracePeriod,
		&lastCheckIn, &nextDeadline, &m.AutoCheckIn, &status, &createdAt,
		&activatedAt, &deliveredAt, &pausedUntil, &m.RequiresPassword,
		&m.PasswordHash, &m.MaxAccessAttempts, &m.AccessAttempts,
		&action, &m.AlternativeMessageID, &m.BackupOwnerEmail,
		&m.ExtendedGracePeriod, &notifiedAt, &m.CipherError, &m.Version,
	)
	if err != nil {
		return nil, err
	}

	m.Status = domain.MessageStatus(status)
	m.DissolutionAction = domain.DissolutionAction(action)
	m.LastCheckIn = fromNullNS(lastCheckIn)
	m.NextDeadline = fromNS(nextDeadline)
	m.CreatedAt = fromNS(createdAt)
	m.ActivatedAt = fromNullNS(activatedAt)
	m.DeliveredAt = fromNullNS(deliveredAt)
	m.PausedUntil = fromNullNS(pausedUntil)
	m.NotifiedAt = fromNullNS(notifiedAt)
	return &m, nil
}
