package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/noteflow/syncd/internal/apierr"
)

type Sessions struct{ s *Store }

func (s *Store) Sessions() *Sessions { return &Sessions{s: s} }

// Create issues a new bearer session for userID/deviceID, valid for ttl.
func (ss *Sessions) Create(ctx context.Context, userID, deviceID string, ttl time.Duration) (*Session, error) {
	token := newToken()
	now := time.Now()
	expires := now.Add(ttl)

	_, err := ss.s.write.ExecContext(ctx,
		`INSERT INTO sessions (token, user_id, device_id, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		token, userID, deviceID, now.Unix(), expires.Unix())
	if err != nil {
		return nil, fmt.Errorf("store: creating session: %w", err)
	}

	return &Session{Token: token, UserID: userID, DeviceID: deviceID, CreatedAt: now, ExpiresAt: expires}, nil
}

// Get validates and returns the session for token. Returns
// apierr.ErrAuthExpired / apierr.ErrAuthInvalid / apierr.ErrDeviceRevoked
// rather than apierr.ErrNotFound, so handlers can map the precise
// auth-failure kind.
func (ss *Sessions) Get(ctx context.Context, token string) (*Session, error) {
	row := ss.s.read.QueryRowContext(ctx,
		`SELECT s.token, s.user_id, s.device_id, s.created_at, s.expires_at, s.revoked_at, d.revoked_at
		 FROM sessions s JOIN devices d ON d.id = s.device_id
		 WHERE s.token = ?`, token)

	var (
		sess                          Session
		createdAt, expiresAt          int64
		revokedAt, deviceRevokedAt    sql.NullInt64
	)

	if err := row.Scan(&sess.Token, &sess.UserID, &sess.DeviceID, &createdAt, &expiresAt, &revokedAt, &deviceRevokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierr.ErrAuthInvalid
		}

		return nil, fmt.Errorf("store: scanning session: %w", err)
	}

	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.ExpiresAt = time.Unix(expiresAt, 0)

	if deviceRevokedAt.Valid {
		return nil, apierr.ErrDeviceRevoked
	}

	if revokedAt.Valid {
		return nil, apierr.ErrAuthInvalid
	}

	if time.Now().After(sess.ExpiresAt) {
		return nil, apierr.ErrAuthExpired
	}

	return &sess, nil
}

// Revoke ends a single session (POST /auth/logout).
func (ss *Sessions) Revoke(ctx context.Context, token string) error {
	_, err := ss.s.write.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = ? WHERE token = ? AND revoked_at IS NULL`, time.Now().Unix(), token)
	if err != nil {
		return fmt.Errorf("store: revoking session: %w", err)
	}

	return nil
}
