// Package fsabs defines the filesystem abstraction every sync
// participant (server-side workspace storage, and in spirit the
// browser-side OPFS implementation it mirrors) implements, plus
// decorators that compose additional behavior around a base
// implementation without the base needing to know about it.
package fsabs

import (
	"context"
	"errors"
	"io/fs"
	"time"
)

// ErrNotExist is returned by Read/Stat/List for a path that does not
// exist.
var ErrNotExist = errors.New("fsabs: path does not exist")

// ErrIsDir is returned by Read when path names a directory.
var ErrIsDir = errors.New("fsabs: path is a directory")

// Entry describes one filesystem entry returned from List or Stat.
type Entry struct {
	Path    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// FS is the capability every decorator wraps and every concrete
// backend (nativefs, memfs) implements. Paths are slash-separated and
// relative to the filesystem's root; callers are responsible for
// canonicalizing them before calling in (internal/crdt/linkparser does
// this for workspace paths).
type FS interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	Move(ctx context.Context, oldPath, newPath string) error
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	Stat(ctx context.Context, path string) (Entry, error)
	List(ctx context.Context, dir string) ([]Entry, error)

	// MarkSyncWriteStart/MarkSyncWriteEnd bracket a write the sync
	// engine itself originates (applying a remote CRDT update to local
	// storage), so an event-emitting decorator can suppress the
	// resulting filesystem event instead of feeding it back into the
	// CRDT layer as a new local edit.
	MarkSyncWriteStart(path string)
	MarkSyncWriteEnd(path string)
}

// IsNotExist reports whether err is or wraps ErrNotExist, also
// matching the stdlib's fs.ErrNotExist for backends built on
// io/fs-shaped primitives.
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotExist) || errors.Is(err, fs.ErrNotExist)
}
