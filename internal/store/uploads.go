package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/noteflow/syncd/internal/apierr"
)

type Uploads struct{ s *Store }

func (s *Store) Uploads() *Uploads { return &Uploads{s: s} }

// Begin registers a new multipart upload session. remoteHandle is the
// opaque handle the blob store backend returned from BeginMultipart.
func (u *Uploads) Begin(ctx context.Context, workspaceID, ownerID string, size int64, mime, filename, declaredHash, remoteHandle string) (*UploadSession, error) {
	id := newID()
	now := time.Now()

	_, err := u.s.write.ExecContext(ctx,
		`INSERT INTO upload_sessions (id, workspace_id, owner_id, size, mime, filename, declared_hash,
			remote_handle, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?)`,
		id, workspaceID, ownerID, size, mime, filename, nullableString(declaredHash), remoteHandle, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("store: beginning upload: %w", err)
	}

	return &UploadSession{
		ID: id, WorkspaceID: workspaceID, OwnerID: ownerID, Size: size, Mime: mime,
		Filename: filename, DeclaredHash: declaredHash, RemoteHandle: remoteHandle,
		Status: "pending", CreatedAt: now,
	}, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}

	return s
}

// Get returns one upload session, or apierr.ErrNotFound.
func (u *Uploads) Get(ctx context.Context, id string) (*UploadSession, error) {
	row := u.s.read.QueryRowContext(ctx,
		`SELECT id, workspace_id, owner_id, size, mime, filename, declared_hash, remote_handle,
			status, created_at, completed_at
		 FROM upload_sessions WHERE id = ?`, id)

	return scanUploadSession(row)
}

func scanUploadSession(s rowScanner) (*UploadSession, error) {
	var (
		us                       UploadSession
		declaredHash             sql.NullString
		createdAt                int64
		completedAt              sql.NullInt64
	)

	if err := s.Scan(&us.ID, &us.WorkspaceID, &us.OwnerID, &us.Size, &us.Mime, &us.Filename,
		&declaredHash, &us.RemoteHandle, &us.Status, &createdAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierr.ErrNotFound
		}

		return nil, fmt.Errorf("store: scanning upload session: %w", err)
	}

	us.DeclaredHash = declaredHash.String
	us.CreatedAt = time.Unix(createdAt, 0)

	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		us.CompletedAt = &t
	}

	return &us, nil
}

// PutPart records one completed part, upserting on (uploadID, partNo)
// so a client retrying a dropped connection can resend the same part
// without producing a duplicate.
func (u *Uploads) PutPart(ctx context.Context, uploadID string, partNo int, etag string, size int64) error {
	_, err := u.s.write.ExecContext(ctx,
		`INSERT INTO upload_parts (upload_id, part_no, etag, size, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(upload_id, part_no) DO UPDATE SET etag = excluded.etag, size = excluded.size,
			created_at = excluded.created_at`,
		uploadID, partNo, etag, size, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store: recording upload part: %w", err)
	}

	return nil
}

// ListParts returns every completed part for uploadID in part order,
// the basis of both CompleteMultipart's part list and a resume
// response that tells the client which parts it can skip resending.
func (u *Uploads) ListParts(ctx context.Context, uploadID string) ([]UploadPart, error) {
	rows, err := u.s.read.QueryContext(ctx,
		`SELECT upload_id, part_no, etag, size, created_at FROM upload_parts
		 WHERE upload_id = ? ORDER BY part_no`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("store: listing upload parts: %w", err)
	}
	defer rows.Close()

	var out []UploadPart

	for rows.Next() {
		var (
			p         UploadPart
			createdAt int64
		)

		if err := rows.Scan(&p.UploadID, &p.PartNo, &p.ETag, &p.Size, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scanning upload part: %w", err)
		}

		p.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, p)
	}

	return out, rows.Err()
}

// Complete marks the upload session completed.
func (u *Uploads) Complete(ctx context.Context, id string) error {
	_, err := u.s.write.ExecContext(ctx,
		`UPDATE upload_sessions SET status = 'completed', completed_at = ? WHERE id = ?`,
		time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("store: completing upload: %w", err)
	}

	return nil
}

// Abort marks the upload session aborted; the caller is responsible for
// telling the blob store backend to release the underlying multipart
// handle and any part bytes it already holds.
func (u *Uploads) Abort(ctx context.Context, id string) error {
	_, err := u.s.write.ExecContext(ctx, `UPDATE upload_sessions SET status = 'aborted' WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: aborting upload: %w", err)
	}

	return nil
}

// StalePending returns pending upload sessions older than cutoff,
// candidates for garbage collection of abandoned uploads.
func (u *Uploads) StalePending(ctx context.Context, cutoff time.Time) ([]*UploadSession, error) {
	rows, err := u.s.read.QueryContext(ctx,
		`SELECT id, workspace_id, owner_id, size, mime, filename, declared_hash, remote_handle,
			status, created_at, completed_at
		 FROM upload_sessions WHERE status = 'pending' AND created_at < ?`, cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("store: listing stale uploads: %w", err)
	}
	defer rows.Close()

	var out []*UploadSession

	for rows.Next() {
		us, err := scanUploadSession(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, us)
	}

	return out, rows.Err()
}
