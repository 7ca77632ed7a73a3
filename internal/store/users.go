package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/vigil/internal/domain"
)

// CreateUser inserts an account row.
func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, created_at, placeholder)
		VALUES (?, ?, ?, ?)
	`, u.ID, u.Email, toNS(u.CreatedAt), u.Placeholder)
	if err != nil {
		return fmt.Errorf("create user %s: %w", u.ID, err)
	}
	return nil
}

// GetUserByEmail looks an account up by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, err := s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, created_at, placeholder FROM users WHERE email = ?`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", email, err)
	}
	return u, nil
}

// FindOrCreatePlaceholderUser returns the account for email, creating a
// placeholder account when none exists. Used by the transfer dissolution
// action: the backup owner may never have signed up.
//
// The insert uses ON CONFLICT DO NOTHING so two concurrent transfers to the
// same backup owner converge on one row.
func (s *Store) FindOrCreatePlaceholderUser(ctx context.Context, id, email string, now time.Time) (*domain.User, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, created_at, placeholder)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(email) DO NOTHING
	`, id, email, toNS(now))
	if err != nil {
		return nil, fmt.Errorf("create placeholder user %s: %w", email, err)
	}
	return s.GetUserByEmail(ctx, email)
}

func (s *Store) scanUser(row scanner) (*domain.User, error) {
	var (
		u         domain.User
		createdAt int64
	)
	if err := row.Scan(&u.ID, &u.Email, &createdAt, &u.Placeholder); err != nil {
		return nil, err
	}
	u.CreatedAt = fromNS(createdAt)
	return &u, nil
}
