package store

import (
	"context"
	"fmt"

	"github.com/roach88/vigil/internal/domain"
)

// AppendCheckIn writes one check-in history record. The table is
// append-only; ON CONFLICT DO NOTHING makes retried writes idempotent.
func (s *Store) AppendCheckIn(ctx context.Context, rec *domain.CheckInRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkins (id, message_id, user_id, occurred_at, method, location, device, ip)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID, rec.MessageID, rec.UserID, toNS(rec.OccurredAt),
		rec.Method, rec.Location, rec.Device, rec.IP,
	)
	if err != nil {
		return fmt.Errorf("append check-in %s: %w", rec.ID, err)
	}
	return nil
}

// CheckInHistory returns the most recent check-ins for a message, newest
// first, up to limit.
func (s *Store) CheckInHistory(ctx context.Context, messageID string, limit int) ([]*domain.CheckInRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, user_id, occurred_at, method, location, device, ip
		FROM checkins
		WHERE message_id = ?
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?
	`, messageID, limit)
	if err != nil {
		return nil, fmt.Errorf("check-in history for %s: %w", messageID, err)
	}
	defer rows.Close()

	var out []*domain.CheckInRecord
	for rows.Next() {
		var (
			rec        domain.CheckInRecord
			occurredAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.MessageID, &rec.UserID, &occurredAt,
			&rec.Method, &rec.Location, &rec.Device, &rec.IP); err != nil {
			return nil, fmt.Errorf("scan check-in: %w", err)
		}
		rec.OccurredAt = fromNS(occurredAt)
		out = append(out, &rec)
	}
	return out, rows.Err()
}
