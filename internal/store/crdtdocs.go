package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/noteflow/syncd/internal/apierr"
)

type CRDTDocs struct{ s *Store }

func (s *Store) CRDTDocs() *CRDTDocs { return &CRDTDocs{s: s} }

// metaDocPath is the doc_path sentinel for a workspace's metadata doc,
// distinguishing it from an entry path's body doc in the same table.
const metaDocPath = ""

// SaveMeta upserts the workspace metadata doc's snapshot.
func (c *CRDTDocs) SaveMeta(ctx context.Context, workspaceID string, snapshot []byte) error {
	return c.save(ctx, workspaceID, metaDocPath, snapshot)
}

// LoadMeta returns the workspace metadata doc's last snapshot, or
// apierr.ErrNotFound if none has been persisted yet.
func (c *CRDTDocs) LoadMeta(ctx context.Context, workspaceID string) ([]byte, error) {
	return c.load(ctx, workspaceID, metaDocPath)
}

// SaveBody upserts one entry's body doc snapshot.
func (c *CRDTDocs) SaveBody(ctx context.Context, workspaceID, path string, snapshot []byte) error {
	return c.save(ctx, workspaceID, path, snapshot)
}

// LoadBody returns one entry's last body doc snapshot, or
// apierr.ErrNotFound if none has been persisted yet.
func (c *CRDTDocs) LoadBody(ctx context.Context, workspaceID, path string) ([]byte, error) {
	return c.load(ctx, workspaceID, path)
}

func (c *CRDTDocs) save(ctx context.Context, workspaceID, docPath string, snapshot []byte) error {
	_, err := c.s.write.ExecContext(ctx,
		`INSERT INTO crdt_docs (workspace_id, doc_path, snapshot, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (workspace_id, doc_path) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		workspaceID, docPath, snapshot, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store: saving crdt doc %s/%q: %w", workspaceID, docPath, err)
	}

	return nil
}

func (c *CRDTDocs) load(ctx context.Context, workspaceID, docPath string) ([]byte, error) {
	var snapshot []byte

	err := c.s.read.QueryRowContext(ctx,
		`SELECT snapshot FROM crdt_docs WHERE workspace_id = ? AND doc_path = ?`, workspaceID, docPath).
		Scan(&snapshot)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierr.ErrNotFound
		}

		return nil, fmt.Errorf("store: loading crdt doc %s/%q: %w", workspaceID, docPath, err)
	}

	return snapshot, nil
}

// DeleteBody drops one entry's persisted body doc snapshot, used when a
// legacy rename retires the source path's key entirely.
func (c *CRDTDocs) DeleteBody(ctx context.Context, workspaceID, path string) error {
	_, err := c.s.write.ExecContext(ctx,
		`DELETE FROM crdt_docs WHERE workspace_id = ? AND doc_path = ?`, workspaceID, path)
	if err != nil {
		return fmt.Errorf("store: deleting crdt doc %s/%q: %w", workspaceID, path, err)
	}

	return nil
}

// BodyPaths lists every entry path with a persisted body doc snapshot
// for workspaceID. Snapshot export does not use it; it walks the
// metadata doc's paths and loads body docs on first access.
func (c *CRDTDocs) BodyPaths(ctx context.Context, workspaceID string) ([]string, error) {
	rows, err := c.s.read.QueryContext(ctx,
		`SELECT doc_path FROM crdt_docs WHERE workspace_id = ? AND doc_path != ?`, workspaceID, metaDocPath)
	if err != nil {
		return nil, fmt.Errorf("store: listing crdt body doc paths: %w", err)
	}
	defer rows.Close()

	var out []string

	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("store: scanning crdt body doc path: %w", err)
		}

		out = append(out, p)
	}

	return out, rows.Err()
}
