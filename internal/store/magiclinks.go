package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/noteflow/syncd/internal/apierr"
)

type MagicLinks struct{ s *Store }

func (s *Store) MagicLinks() *MagicLinks { return &MagicLinks{s: s} }

// Create issues a single-use magic-link token for email, valid for ttl.
func (m *MagicLinks) Create(ctx context.Context, email string, ttl time.Duration) (*MagicLink, error) {
	token := newToken()
	now := time.Now()
	expires := now.Add(ttl)

	_, err := m.s.write.ExecContext(ctx,
		`INSERT INTO magic_links (token, email, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, email, now.Unix(), expires.Unix())
	if err != nil {
		return nil, fmt.Errorf("store: creating magic link: %w", err)
	}

	return &MagicLink{Token: token, Email: email, CreatedAt: now, ExpiresAt: expires}, nil
}

// Consume validates token, marks it used, and returns the bound email.
// A second call with the same token fails with apierr.ErrAuthInvalid —
// magic links are single-use.
func (m *MagicLinks) Consume(ctx context.Context, token string) (string, error) {
	tx, err := m.s.write.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("store: begin consume magic link: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		email               string
		expiresAt           int64
		consumedAt          sql.NullInt64
	)

	row := tx.QueryRowContext(ctx,
		`SELECT email, expires_at, consumed_at FROM magic_links WHERE token = ?`, token)
	if err := row.Scan(&email, &expiresAt, &consumedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apierr.ErrAuthInvalid
		}

		return "", fmt.Errorf("store: scanning magic link: %w", err)
	}

	if consumedAt.Valid {
		return "", apierr.ErrAuthInvalid
	}

	if time.Now().After(time.Unix(expiresAt, 0)) {
		return "", apierr.ErrAuthExpired
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE magic_links SET consumed_at = ? WHERE token = ?`, time.Now().Unix(), token); err != nil {
		return "", fmt.Errorf("store: consuming magic link: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("store: committing magic link consume: %w", err)
	}

	return email, nil
}
