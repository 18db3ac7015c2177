package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/noteflow/syncd/internal/apierr"
)

type Workspaces struct{ s *Store }

func (s *Store) Workspaces() *Workspaces { return &Workspaces{s: s} }

// Create inserts a new workspace under id — the sync-room identity a
// device already chose via doc=<id> on its first /sync connection —
// after the caller has checked the owner's workspace-count limit.
func (w *Workspaces) Create(ctx context.Context, ownerID, id string) (*Workspace, error) {
	ws := &Workspace{
		ID:            id,
		OwnerID:       ownerID,
		Name:          id,
		RootPath:      "index.md",
		LinkFormat:    "relative",
		FilenameStyle: "kebab-case",
		CreatedAt:     time.Now(),
	}

	_, err := w.s.write.ExecContext(ctx,
		`INSERT INTO workspaces (id, owner_id, name, root_path, link_format, auto_rename_to_title,
			filename_style, sync_title_to_heading, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ws.ID, ws.OwnerID, ws.Name, ws.RootPath, ws.LinkFormat, ws.AutoRenameToTitle,
		ws.FilenameStyle, ws.SyncTitleToHeading, ws.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("store: creating workspace: %w", err)
	}

	return ws, nil
}

// ListByOwner returns all workspaces owned by ownerID (GET /api/workspaces).
func (w *Workspaces) ListByOwner(ctx context.Context, ownerID string) ([]*Workspace, error) {
	rows, err := w.s.read.QueryContext(ctx,
		`SELECT id, owner_id, name, root_path, link_format, auto_rename_to_title,
			filename_style, sync_title_to_heading, created_at
		 FROM workspaces WHERE owner_id = ? ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("store: listing workspaces: %w", err)
	}
	defer rows.Close()

	var out []*Workspace

	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, ws)
	}

	return out, rows.Err()
}

// CountByOwner reports how many workspaces ownerID already owns, used
// for the workspace-count quota check before Create.
func (w *Workspaces) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	var n int
	if err := w.s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workspaces WHERE owner_id = ?`, ownerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: counting workspaces: %w", err)
	}

	return n, nil
}

// GetByID returns one workspace, or apierr.ErrNotFound.
func (w *Workspaces) GetByID(ctx context.Context, id string) (*Workspace, error) {
	row := w.s.read.QueryRowContext(ctx,
		`SELECT id, owner_id, name, root_path, link_format, auto_rename_to_title,
			filename_style, sync_title_to_heading, created_at
		 FROM workspaces WHERE id = ?`, id)

	return scanWorkspace(row)
}

// UpdateSettings updates the link-format / title-rename configuration
// knobs that drive frontmatter canonicalization.
func (w *Workspaces) UpdateSettings(ctx context.Context, ws *Workspace) error {
	_, err := w.s.write.ExecContext(ctx,
		`UPDATE workspaces SET link_format = ?, auto_rename_to_title = ?, filename_style = ?,
			sync_title_to_heading = ? WHERE id = ?`,
		ws.LinkFormat, ws.AutoRenameToTitle, ws.FilenameStyle, ws.SyncTitleToHeading, ws.ID)
	if err != nil {
		return fmt.Errorf("store: updating workspace settings: %w", err)
	}

	return nil
}

// Delete removes a workspace record by explicit user action. Cascading
// cleanup of attachment refs / upload sessions / CRDT state is the
// caller's responsibility (room shutdown + blob reconciliation happen
// first).
func (w *Workspaces) Delete(ctx context.Context, id string) error {
	_, err := w.s.write.ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: deleting workspace: %w", err)
	}

	return nil
}

func scanWorkspace(s rowScanner) (*Workspace, error) {
	var (
		ws        Workspace
		createdAt int64
	)

	if err := s.Scan(&ws.ID, &ws.OwnerID, &ws.Name, &ws.RootPath, &ws.LinkFormat, &ws.AutoRenameToTitle,
		&ws.FilenameStyle, &ws.SyncTitleToHeading, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierr.ErrNotFound
		}

		return nil, fmt.Errorf("store: scanning workspace: %w", err)
	}

	ws.CreatedAt = time.Unix(createdAt, 0)

	return &ws, nil
}
