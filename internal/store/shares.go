package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/vigil/internal/domain"
)

// CreateShare inserts a message share.
func (s *Store) CreateShare(ctx context.Context, sh *domain.MessageShare) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shares
		(id, message_id, shared_with_user_id, shared_by_user_id, shared_at,
		 expires_at, can_view, can_download, can_comment, access_count, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sh.ID, sh.MessageID, sh.SharedWithUserID, sh.SharedByUserID, toNS(sh.SharedAt),
		toNullNS(sh.ExpiresAt), sh.CanView, sh.CanDownload, sh.CanComment,
		sh.AccessCount, toNullNS(sh.LastAccessed),
	)
	if err != nil {
		return fmt.Errorf("create share %s: %w", sh.ID, err)
	}
	return nil
}

// SharesForUser returns the shares granting userID access to messageID.
// The access gate applies expiry and permission checks; the engine never
// mutates share rows.
func (s *Store) SharesForUser(ctx context.Context, messageID, userID string) ([]*domain.MessageShare, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, shared_with_user_id, shared_by_user_id, shared_at,
		       expires_at, can_view, can_download, can_comment, access_count, last_accessed
		FROM shares
		WHERE message_id = ? AND shared_with_user_id = ?
		ORDER BY shared_at
	`, messageID, userID)
	if err != nil {
		return nil, fmt.Errorf("shares for %s/%s: %w", messageID, userID, err)
	}
	defer rows.Close()

	var out []*domain.MessageShare
	for rows.Next() {
		var (
			sh                      domain.MessageShare
			sharedAt                int64
			expiresAt, lastAccessed sql.NullInt64
		)
		if err := rows.Scan(&sh.ID, &sh.MessageID, &sh.SharedWithUserID, &sh.SharedByUserID,
			&sharedAt, &expiresAt, &sh.CanView, &sh.CanDownload, &sh.CanComment,
			&sh.AccessCount, &lastAccessed); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		sh.SharedAt = fromNS(sharedAt)
		sh.ExpiresAt = fromNullNS(expiresAt)
		sh.LastAccessed = fromNullNS(lastAccessed)
		out = append(out, &sh)
	}
	return out, rows.Err()
}
