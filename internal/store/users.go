package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/noteflow/syncd/internal/apierr"
)

// Users groups user-entity repository methods, one file per entity.
type Users struct{ s *Store }

func (s *Store) Users() *Users { return &Users{s: s} }

// GetOrCreateByEmail returns the user row for email, creating one on
// first magic-link verification.
func (u *Users) GetOrCreateByEmail(ctx context.Context, email string) (*User, error) {
	user, err := u.GetByEmail(ctx, email)
	if err == nil {
		return user, nil
	}

	if !errors.Is(err, apierr.ErrNotFound) {
		return nil, err
	}

	id := newID()
	now := time.Now()

	_, err = u.s.write.ExecContext(ctx,
		`INSERT INTO users (id, email, tier, created_at) VALUES (?, ?, 'free', ?)`,
		id, email, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("store: creating user: %w", err)
	}

	return &User{ID: id, Email: email, Tier: "free", CreatedAt: now}, nil
}

// GetByEmail looks up a user by email.
func (u *Users) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := u.s.read.QueryRowContext(ctx,
		`SELECT id, email, tier, attachment_bytes_limit, workspace_limit, site_limit, created_at
		 FROM users WHERE email = ?`, email)

	return scanUser(row)
}

// GetByID looks up a user by ID.
func (u *Users) GetByID(ctx context.Context, id string) (*User, error) {
	row := u.s.read.QueryRowContext(ctx,
		`SELECT id, email, tier, attachment_bytes_limit, workspace_limit, site_limit, created_at
		 FROM users WHERE id = ?`, id)

	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var (
		user      User
		createdAt int64
	)

	if err := row.Scan(&user.ID, &user.Email, &user.Tier,
		&user.AttachmentBytesLimit, &user.WorkspaceLimit, &user.SiteLimit, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierr.ErrNotFound
		}

		return nil, fmt.Errorf("store: scanning user: %w", err)
	}

	user.CreatedAt = time.Unix(createdAt, 0)

	return &user, nil
}
