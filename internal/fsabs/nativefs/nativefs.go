// Package nativefs implements fsabs.FS over the host filesystem.
package nativefs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/noteflow/syncd/internal/fsabs"
)

const (
	filePermissions = 0o644
	dirPermissions  = 0o755
)

// FS roots every operation under base; paths outside base are rejected
// by the caller (internal/crdt/linkparser performs that check before
// any fsabs.FS method is reached).
type FS struct {
	base string
}

// New creates an FS rooted at base, creating the directory if needed.
func New(base string) (*FS, error) {
	if err := os.MkdirAll(base, dirPermissions); err != nil {
		return nil, fmt.Errorf("nativefs: creating root: %w", err)
	}

	return &FS{base: base}, nil
}

func (f *FS) resolve(path string) string {
	return filepath.Join(f.base, filepath.FromSlash(path))
}

func (f *FS) Read(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(f.resolve(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fsabs.ErrNotExist
		}

		var pathErr *fs.PathError
		if errors.Is(err, syscall.EISDIR) || (errors.As(err, &pathErr) && pathErr.Err == fs.ErrInvalid) {
			return nil, fsabs.ErrIsDir
		}

		return nil, fmt.Errorf("nativefs: reading %s: %w", path, err)
	}

	return data, nil
}

// Write performs an atomic temp-file-then-rename write, so a crash
// mid-write never leaves a partial file at path.
func (f *FS) Write(ctx context.Context, path string, data []byte) error {
	full := f.resolve(path)
	dir := filepath.Dir(full)

	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("nativefs: creating parent directory for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".nativefs-*.tmp")
	if err != nil {
		return fmt.Errorf("nativefs: creating temp file for %s: %w", path, err)
	}

	tmpPath := tmp.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("nativefs: writing temp file for %s: %w", path, err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("nativefs: syncing temp file for %s: %w", path, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("nativefs: closing temp file for %s: %w", path, err)
	}

	if err := os.Chmod(tmpPath, filePermissions); err != nil {
		return fmt.Errorf("nativefs: setting permissions for %s: %w", path, err)
	}

	if err := os.Rename(tmpPath, full); err != nil {
		return fmt.Errorf("nativefs: renaming temp file onto %s: %w", path, err)
	}

	succeeded = true

	return nil
}

func (f *FS) Move(ctx context.Context, oldPath, newPath string) error {
	newFull := f.resolve(newPath)

	if err := os.MkdirAll(filepath.Dir(newFull), dirPermissions); err != nil {
		return fmt.Errorf("nativefs: creating parent directory for %s: %w", newPath, err)
	}

	if err := os.Rename(f.resolve(oldPath), newFull); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fsabs.ErrNotExist
		}

		return fmt.Errorf("nativefs: moving %s to %s: %w", oldPath, newPath, err)
	}

	return nil
}

func (f *FS) Delete(ctx context.Context, path string) error {
	if err := os.Remove(f.resolve(path)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("nativefs: deleting %s: %w", path, err)
	}

	return nil
}

func (f *FS) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(f.resolve(path))
	if err == nil {
		return true, nil
	}

	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	return false, fmt.Errorf("nativefs: statting %s: %w", path, err)
}

func (f *FS) Stat(ctx context.Context, path string) (fsabs.Entry, error) {
	info, err := os.Stat(f.resolve(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fsabs.Entry{}, fsabs.ErrNotExist
		}

		return fsabs.Entry{}, fmt.Errorf("nativefs: statting %s: %w", path, err)
	}

	return fsabs.Entry{Path: path, IsDir: info.IsDir(), Size: info.Size(), ModTime: info.ModTime()}, nil
}

func (f *FS) List(ctx context.Context, dir string) ([]fsabs.Entry, error) {
	entries, err := os.ReadDir(f.resolve(dir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fsabs.ErrNotExist
		}

		return nil, fmt.Errorf("nativefs: listing %s: %w", dir, err)
	}

	out := make([]fsabs.Entry, 0, len(entries))

	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("nativefs: statting entry %s: %w", e.Name(), err)
		}

		out = append(out, fsabs.Entry{
			Path:    filepath.ToSlash(filepath.Join(dir, e.Name())),
			IsDir:   e.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	return out, nil
}

// MarkSyncWriteStart/MarkSyncWriteEnd are no-ops on the bare native
// filesystem; suppressing the resulting event is eventfs's concern.
func (f *FS) MarkSyncWriteStart(path string) {}
func (f *FS) MarkSyncWriteEnd(path string)   {}

var _ fsabs.FS = (*FS)(nil)
