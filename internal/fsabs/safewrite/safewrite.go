// Package safewrite decorates an fsabs.FS with backup-on-overwrite
// semantics and recoverable-race handling around rename-based moves: a
// path that vanished out from under a rename (another writer deleted
// or moved it between the caller's check and the rename itself) is
// treated as a legacy-rename, recreating the destination directly
// instead of failing.
package safewrite

import (
	"context"
	"log/slog"

	"github.com/noteflow/syncd/internal/fsabs"
)

const backupSuffix = ".bak"

// FS decorates an underlying fsabs.FS. Before overwriting an existing
// path, it copies the current content to path+".bak" so a corrupted or
// unwanted write can be manually recovered; a write to a path that
// does not yet exist performs no backup.
type FS struct {
	fsabs.FS

	logger *slog.Logger
}

// New wraps inner with backup-on-overwrite and race-tolerant move
// semantics. logger may be nil.
func New(inner fsabs.FS, logger *slog.Logger) *FS {
	if logger == nil {
		logger = slog.Default()
	}

	return &FS{FS: inner, logger: logger}
}

func (f *FS) Write(ctx context.Context, path string, data []byte) error {
	if existing, err := f.FS.Read(ctx, path); err == nil {
		if err := f.FS.Write(ctx, path+backupSuffix, existing); err != nil {
			f.logger.Warn("safewrite: failed to write backup, proceeding without it",
				slog.String("path", path), slog.String("error", err.Error()))
		}
	} else if !fsabs.IsNotExist(err) {
		return err
	}

	return f.FS.Write(ctx, path, data)
}

// Move performs the underlying rename. If oldPath has already vanished
// (a concurrent writer deleted or renamed it away between the caller
// deciding to move and this call executing), Move returns the
// underlying filesystem's error and recreates nothing — callers that
// need that fallback use MoveOrRecreate.
func (f *FS) Move(ctx context.Context, oldPath, newPath string) error {
	return f.FS.Move(ctx, oldPath, newPath)
}

// MoveOrRecreate moves oldPath to newPath. If the source has vanished
// by the time the rename executes — a race with a concurrent delete or
// a second move of the same source — it falls back to writing
// fallbackContent directly at newPath rather than failing the whole
// operation, treating the lost race the same way a client recovering
// from a legacy rename would: the destination gets created outright
// and the stale source is implicitly a tombstone.
func (f *FS) MoveOrRecreate(ctx context.Context, oldPath, newPath string, fallbackContent []byte) error {
	err := f.FS.Move(ctx, oldPath, newPath)
	if err == nil {
		return nil
	}

	if !fsabs.IsNotExist(err) {
		return err
	}

	f.logger.Info("safewrite: source vanished mid-move, recreating destination",
		slog.String("old_path", oldPath), slog.String("new_path", newPath))

	return f.FS.Write(ctx, newPath, fallbackContent)
}

var _ fsabs.FS = (*FS)(nil)
