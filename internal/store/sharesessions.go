package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/noteflow/syncd/internal/apierr"
)

type ShareSessions struct{ s *Store }

func (s *Store) ShareSessions() *ShareSessions { return &ShareSessions{s: s} }

// Create issues a new guest access code for workspaceID, valid for ttl.
func (ss *ShareSessions) Create(ctx context.Context, workspaceID string, readOnly bool, ttl time.Duration) (*ShareSession, error) {
	code := newToken()
	now := time.Now()
	expires := now.Add(ttl)

	_, err := ss.s.write.ExecContext(ctx,
		`INSERT INTO share_sessions (code, workspace_id, read_only, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		code, workspaceID, readOnly, now.Unix(), expires.Unix())
	if err != nil {
		return nil, fmt.Errorf("store: creating share session: %w", err)
	}

	return &ShareSession{Code: code, WorkspaceID: workspaceID, ReadOnly: readOnly, CreatedAt: now, ExpiresAt: expires}, nil
}

// Get validates and returns the share session for code. A guest peer
// presenting an ended, expired, or unknown code fails this lookup and
// the caller refuses the room join.
func (ss *ShareSessions) Get(ctx context.Context, code string) (*ShareSession, error) {
	row := ss.s.read.QueryRowContext(ctx,
		`SELECT code, workspace_id, read_only, created_at, expires_at, ended_at
		 FROM share_sessions WHERE code = ?`, code)

	share, err := scanShareSession(row)
	if err != nil {
		return nil, err
	}

	if share.EndedAt != nil {
		return nil, apierr.ErrAuthInvalid
	}

	if time.Now().After(share.ExpiresAt) {
		return nil, apierr.ErrAuthExpired
	}

	return share, nil
}

func scanShareSession(s rowScanner) (*ShareSession, error) {
	var (
		share                ShareSession
		createdAt, expiresAt int64
		endedAt              sql.NullInt64
	)

	if err := s.Scan(&share.Code, &share.WorkspaceID, &share.ReadOnly, &createdAt, &expiresAt, &endedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierr.ErrNotFound
		}

		return nil, fmt.Errorf("store: scanning share session: %w", err)
	}

	share.CreatedAt = time.Unix(createdAt, 0)
	share.ExpiresAt = time.Unix(expiresAt, 0)

	if endedAt.Valid {
		t := time.Unix(endedAt.Int64, 0)
		share.EndedAt = &t
	}

	return &share, nil
}

// ListActiveByWorkspace returns non-ended, non-expired share sessions
// for workspaceID (the owner's "active guest links" view).
func (ss *ShareSessions) ListActiveByWorkspace(ctx context.Context, workspaceID string) ([]*ShareSession, error) {
	rows, err := ss.s.read.QueryContext(ctx,
		`SELECT code, workspace_id, read_only, created_at, expires_at, ended_at
		 FROM share_sessions WHERE workspace_id = ? AND ended_at IS NULL AND expires_at > ?
		 ORDER BY created_at`, workspaceID, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("store: listing share sessions: %w", err)
	}
	defer rows.Close()

	var out []*ShareSession

	for rows.Next() {
		share, err := scanShareSession(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, share)
	}

	return out, rows.Err()
}

// UpdateReadOnly flips the read_only flag on an active share session
// (PATCH /api/sessions/{code}). The caller is responsible for
// propagating the change to any already-connected guest peer via
// room.Room.UpdateGuestReadOnly.
func (ss *ShareSessions) UpdateReadOnly(ctx context.Context, code string, readOnly bool) error {
	res, err := ss.s.write.ExecContext(ctx,
		`UPDATE share_sessions SET read_only = ? WHERE code = ? AND ended_at IS NULL`, readOnly, code)
	if err != nil {
		return fmt.Errorf("store: updating share session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: checking share session update: %w", err)
	}

	if n == 0 {
		return apierr.ErrNotFound
	}

	return nil
}

// End revokes a share session immediately; any guest connection
// currently joined to the room is sent a session_ended control message
// and disconnected.
func (ss *ShareSessions) End(ctx context.Context, code string) error {
	_, err := ss.s.write.ExecContext(ctx,
		`UPDATE share_sessions SET ended_at = ? WHERE code = ? AND ended_at IS NULL`, time.Now().Unix(), code)
	if err != nil {
		return fmt.Errorf("store: ending share session: %w", err)
	}

	return nil
}
