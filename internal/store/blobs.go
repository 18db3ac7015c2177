package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/noteflow/syncd/internal/apierr"
)

type Blobs struct{ s *Store }

func (s *Store) Blobs() *Blobs { return &Blobs{s: s} }

// GetOrCreate registers a blob row for hash on first upload-complete,
// or returns the existing row on a dedup hit.
func (b *Blobs) GetOrCreate(ctx context.Context, hash, ownerID string, size int64, mime string) (*Blob, error) {
	existing, err := b.GetByHash(ctx, hash)
	if err == nil {
		return existing, nil
	}

	if !errors.Is(err, apierr.ErrNotFound) {
		return nil, err
	}

	now := time.Now()

	_, err = b.s.write.ExecContext(ctx,
		`INSERT INTO blobs (hash, owner_id, size, mime, ref_count, created_at) VALUES (?, ?, ?, ?, 0, ?)`,
		hash, ownerID, size, mime, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("store: creating blob: %w", err)
	}

	return &Blob{Hash: hash, OwnerID: ownerID, Size: size, Mime: mime, CreatedAt: now}, nil
}

// GetByHash returns one blob row, or apierr.ErrNotFound.
func (b *Blobs) GetByHash(ctx context.Context, hash string) (*Blob, error) {
	row := b.s.read.QueryRowContext(ctx,
		`SELECT hash, owner_id, size, mime, ref_count, created_at, unreferenced_at, deleted_at
		 FROM blobs WHERE hash = ?`, hash)

	return scanBlob(row)
}

func scanBlob(s rowScanner) (*Blob, error) {
	var (
		blob                             Blob
		createdAt                        int64
		unreferencedAt, deletedAt        sql.NullInt64
	)

	if err := s.Scan(&blob.Hash, &blob.OwnerID, &blob.Size, &blob.Mime, &blob.RefCount,
		&createdAt, &unreferencedAt, &deletedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierr.ErrNotFound
		}

		return nil, fmt.Errorf("store: scanning blob: %w", err)
	}

	blob.CreatedAt = time.Unix(createdAt, 0)

	if unreferencedAt.Valid {
		t := time.Unix(unreferencedAt.Int64, 0)
		blob.UnreferencedAt = &t
	}

	if deletedAt.Valid {
		t := time.Unix(deletedAt.Int64, 0)
		blob.DeletedAt = &t
	}

	return &blob, nil
}

// UsedBytesByOwner sums the size of every non-deleted blob owned by
// ownerID, the basis of GET /api/user/storage and the quota check
// performed against used_bytes + requested_bytes before accepting an
// upload.
func (b *Blobs) UsedBytesByOwner(ctx context.Context, ownerID string) (usedBytes int64, blobCount int, err error) {
	row := b.s.read.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size), 0), COUNT(*) FROM blobs WHERE owner_id = ? AND deleted_at IS NULL`, ownerID)

	if err := row.Scan(&usedBytes, &blobCount); err != nil {
		return 0, 0, fmt.Errorf("store: summing used bytes: %w", err)
	}

	return usedBytes, blobCount, nil
}

// ReplaceWorkspaceRefs replaces every workspace_attachment_refs row for
// (workspaceID, path) with refs, then reconciles ref_count for every
// hash touched (old and new) by recomputing it as a COUNT(*) over
// surviving rows. Recomputing from scratch rather than incrementing or
// decrementing a counter keeps ref_count correct even when writes for
// the same path arrive out of order or a previous write was
// interrupted partway through.
func (b *Blobs) ReplaceWorkspaceRefs(ctx context.Context, workspaceID, path string, refs []AttachmentRef) error {
	tx, err := b.s.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin replace refs: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	oldHashes, err := collectHashes(ctx, tx,
		`SELECT DISTINCT hash FROM workspace_attachment_refs WHERE workspace_id = ? AND path = ?`,
		workspaceID, path)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM workspace_attachment_refs WHERE workspace_id = ? AND path = ?`, workspaceID, path); err != nil {
		return fmt.Errorf("store: clearing refs: %w", err)
	}

	touched := map[string]struct{}{}
	for _, h := range oldHashes {
		touched[h] = struct{}{}
	}

	now := time.Now()

	for _, ref := range refs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO workspace_attachment_refs (workspace_id, path, hash, filename, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			workspaceID, path, ref.Hash, ref.Filename, now.Unix()); err != nil {
			return fmt.Errorf("store: inserting ref: %w", err)
		}

		touched[ref.Hash] = struct{}{}
	}

	for hash := range touched {
		if err := reconcileOne(ctx, tx, hash); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func collectHashes(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: querying hashes: %w", err)
	}
	defer rows.Close()

	var out []string

	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("store: scanning hash: %w", err)
		}

		out = append(out, h)
	}

	return out, rows.Err()
}

// reconcileOne recomputes ref_count for hash as COUNT(*) over surviving
// workspace_attachment_refs rows, and flips unreferenced_at accordingly.
func reconcileOne(ctx context.Context, tx *sql.Tx, hash string) error {
	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workspace_attachment_refs WHERE hash = ?`, hash).Scan(&count); err != nil {
		return fmt.Errorf("store: counting refs for %s: %w", hash, err)
	}

	var unreferencedAt any
	if count == 0 {
		unreferencedAt = time.Now().Unix()
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE blobs SET ref_count = ?, unreferenced_at = CASE WHEN ? THEN unreferenced_at ELSE ? END
		 WHERE hash = ?`,
		count, count > 0, unreferencedAt, hash); err != nil {
		return fmt.Errorf("store: updating ref_count for %s: %w", hash, err)
	}

	// Clear unreferenced_at if refs came back (e.g. a re-ordered write
	// restored the last reference) — re-reconcile unconditionally.
	if count > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE blobs SET unreferenced_at = NULL WHERE hash = ?`, hash); err != nil {
			return fmt.Errorf("store: clearing unreferenced_at for %s: %w", hash, err)
		}
	}

	return nil
}

// RefsForWorkspace returns every attachment ref recorded for
// workspaceID. Snapshot export does not use it; it reads refs from the
// metadata doc.
func (b *Blobs) RefsForWorkspace(ctx context.Context, workspaceID string) ([]AttachmentRef, error) {
	rows, err := b.s.read.QueryContext(ctx,
		`SELECT workspace_id, path, hash, filename, created_at FROM workspace_attachment_refs
		 WHERE workspace_id = ?`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("store: listing workspace refs: %w", err)
	}
	defer rows.Close()

	var out []AttachmentRef

	for rows.Next() {
		var (
			ref       AttachmentRef
			createdAt int64
		)

		if err := rows.Scan(&ref.WorkspaceID, &ref.Path, &ref.Hash, &ref.Filename, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scanning ref: %w", err)
		}

		ref.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, ref)
	}

	return out, rows.Err()
}

// UnreferencedOlderThan returns blob hashes eligible for hard deletion:
// unreferenced and past the retention window.
func (b *Blobs) UnreferencedOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := b.s.read.QueryContext(ctx,
		`SELECT hash FROM blobs WHERE ref_count = 0 AND unreferenced_at IS NOT NULL
		 AND unreferenced_at < ? AND deleted_at IS NULL`, cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("store: listing gc candidates: %w", err)
	}
	defer rows.Close()

	var out []string

	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("store: scanning gc candidate: %w", err)
		}

		out = append(out, h)
	}

	return out, rows.Err()
}

// MarkDeleted stamps the metadata row's deleted_at after the blob
// store's bytes have been purged; the row itself is kept.
func (b *Blobs) MarkDeleted(ctx context.Context, hash string) error {
	_, err := b.s.write.ExecContext(ctx, `UPDATE blobs SET deleted_at = ? WHERE hash = ?`, time.Now().Unix(), hash)
	if err != nil {
		return fmt.Errorf("store: marking blob deleted: %w", err)
	}

	return nil
}
