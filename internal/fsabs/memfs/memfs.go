// Package memfs implements fsabs.FS entirely in memory, used by tests
// that need a filesystem without touching disk.
package memfs

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/noteflow/syncd/internal/fsabs"
)

type file struct {
	data    []byte
	modTime time.Time
}

// FS is a flat map keyed by canonical slash-path; directories are
// synthesized from path prefixes rather than stored explicitly.
type FS struct {
	mu    sync.RWMutex
	files map[string]*file
	now   func() time.Time
}

// New creates an empty FS. now defaults to time.Now if nil, overridable
// for deterministic tests.
func New(now func() time.Time) *FS {
	if now == nil {
		now = time.Now
	}

	return &FS{files: make(map[string]*file), now: now}
}

func clean(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

func (f *FS) Read(ctx context.Context, p string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	file, ok := f.files[clean(p)]
	if !ok {
		return nil, fsabs.ErrNotExist
	}

	out := make([]byte, len(file.data))
	copy(out, file.data)

	return out, nil
}

func (f *FS) Write(ctx context.Context, p string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)

	f.files[clean(p)] = &file{data: cp, modTime: f.now()}

	return nil
}

func (f *FS) Move(ctx context.Context, oldPath, newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	old := clean(oldPath)

	file, ok := f.files[old]
	if !ok {
		return fsabs.ErrNotExist
	}

	delete(f.files, old)
	f.files[clean(newPath)] = file

	return nil
}

func (f *FS) Delete(ctx context.Context, p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.files, clean(p))

	return nil
}

func (f *FS) Exists(ctx context.Context, p string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, ok := f.files[clean(p)]

	return ok, nil
}

func (f *FS) Stat(ctx context.Context, p string) (fsabs.Entry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	file, ok := f.files[clean(p)]
	if !ok {
		return fsabs.Entry{}, fsabs.ErrNotExist
	}

	return fsabs.Entry{Path: clean(p), Size: int64(len(file.data)), ModTime: file.modTime}, nil
}

func (f *FS) List(ctx context.Context, dir string) ([]fsabs.Entry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	prefix := clean(dir)
	if prefix != "" {
		prefix += "/"
	}

	seen := make(map[string]fsabs.Entry)

	for p, file := range f.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}

		rest := strings.TrimPrefix(p, prefix)

		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			name := rest[:idx]
			seen[name] = fsabs.Entry{Path: prefix + name, IsDir: true}

			continue
		}

		seen[rest] = fsabs.Entry{Path: p, Size: int64(len(file.data)), ModTime: file.modTime}
	}

	out := make([]fsabs.Entry, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

	return out, nil
}

func (f *FS) MarkSyncWriteStart(path string) {}
func (f *FS) MarkSyncWriteEnd(path string)   {}

var _ fsabs.FS = (*FS)(nil)
