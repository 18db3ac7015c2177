// Package fsstore implements blobstore.Store over a local filesystem
// directory tree, content-addressed by SHA-256 hash with a two-level
// fan-out directory layout (ab/cd/abcd...) so no single directory ever
// holds more than a few thousand entries.
package fsstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/noteflow/syncd/internal/blobstore"
)

const (
	filePermissions = 0o644
	dirPermissions  = 0o755
)

// Store writes blobs under base, using a temp-file-then-rename for
// every write so a crash mid-write never leaves a partial object
// visible at its final path.
type Store struct {
	base   string
	logger *slog.Logger

	mu       sync.Mutex
	uploads  map[string]*pendingUpload
}

type pendingUpload struct {
	mime  string
	parts map[int]partFile
}

type partFile struct {
	path string
	size int64
	etag string
}

// New creates a Store rooted at base, creating the directory if needed.
func New(base string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(base, dirPermissions); err != nil {
		return nil, fmt.Errorf("fsstore: creating base directory: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(base, "tmp"), dirPermissions); err != nil {
		return nil, fmt.Errorf("fsstore: creating tmp directory: %w", err)
	}

	return &Store{base: base, logger: logger, uploads: make(map[string]*pendingUpload)}, nil
}

func (s *Store) objectPath(hash string) string {
	return filepath.Join(s.base, hash[:2], hash[2:4], hash)
}

func (s *Store) PutDirect(ctx context.Context, declaredHash string, content io.Reader, size int64) (string, error) {
	tmp, err := os.CreateTemp(filepath.Join(s.base, "tmp"), "put-*.tmp")
	if err != nil {
		return "", fmt.Errorf("fsstore: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tmpPath)
		}
	}()

	hasher := sha256.New()

	if _, err := io.Copy(io.MultiWriter(tmp, hasher), io.LimitReader(content, size)); err != nil {
		tmp.Close()
		return "", fmt.Errorf("fsstore: writing object: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("fsstore: syncing object: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("fsstore: closing object: %w", err)
	}

	hash := hex.EncodeToString(hasher.Sum(nil))

	if declaredHash != "" && declaredHash != hash {
		return "", blobstore.ErrHashMismatch
	}

	if err := s.publish(tmpPath, hash); err != nil {
		return "", err
	}

	succeeded = true

	s.logger.Debug("fsstore: put direct", slog.String("hash", hash), slog.Int64("size", size))

	return hash, nil
}

func (s *Store) publish(tmpPath, hash string) error {
	target := s.objectPath(hash)

	if err := os.MkdirAll(filepath.Dir(target), dirPermissions); err != nil {
		return fmt.Errorf("fsstore: creating object directory: %w", err)
	}

	if err := os.Chmod(tmpPath, filePermissions); err != nil {
		return fmt.Errorf("fsstore: setting object permissions: %w", err)
	}

	// A rename onto an existing path (the dedup hit case) atomically
	// replaces it with byte-identical content, so a racing second
	// upload of the same bytes is harmless.
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("fsstore: publishing object: %w", err)
	}

	return nil
}

func (s *Store) BeginMultipart(ctx context.Context, mime string) (*blobstore.MultipartUpload, error) {
	handle := uuid.NewString()

	s.mu.Lock()
	s.uploads[handle] = &pendingUpload{mime: mime, parts: make(map[int]partFile)}
	s.mu.Unlock()

	return &blobstore.MultipartUpload{Handle: handle}, nil
}

func (s *Store) PutPart(ctx context.Context, handle string, partNo int, content io.Reader, size int64) (*blobstore.PartResult, error) {
	s.mu.Lock()
	up, ok := s.uploads[handle]
	s.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("fsstore: unknown upload handle %q", handle)
	}

	tmp, err := os.CreateTemp(filepath.Join(s.base, "tmp"), fmt.Sprintf("part-%s-%d-*.tmp", handle, partNo))
	if err != nil {
		return nil, fmt.Errorf("fsstore: creating part temp file: %w", err)
	}

	hasher := sha256.New()

	if _, err := io.Copy(io.MultiWriter(tmp, hasher), io.LimitReader(content, size)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return nil, fmt.Errorf("fsstore: writing part: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("fsstore: closing part: %w", err)
	}

	etag := hex.EncodeToString(hasher.Sum(nil))

	s.mu.Lock()
	if old, exists := up.parts[partNo]; exists {
		os.Remove(old.path)
	}
	up.parts[partNo] = partFile{path: tmp.Name(), size: size, etag: etag}
	s.mu.Unlock()

	return &blobstore.PartResult{ETag: etag, Size: size}, nil
}

func (s *Store) CompleteMultipart(ctx context.Context, handle string, parts []blobstore.CompletedPart, declaredHash string) (string, error) {
	s.mu.Lock()
	up, ok := s.uploads[handle]
	s.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("fsstore: unknown upload handle %q", handle)
	}

	assembled, err := os.CreateTemp(filepath.Join(s.base, "tmp"), "complete-*.tmp")
	if err != nil {
		return "", fmt.Errorf("fsstore: creating assembly temp file: %w", err)
	}

	assembledPath := assembled.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(assembledPath)
		}
	}()

	hasher := sha256.New()

	for _, part := range parts {
		pf, ok := up.parts[part.PartNo]
		if !ok {
			assembled.Close()
			return "", fmt.Errorf("fsstore: missing part %d for handle %q", part.PartNo, handle)
		}

		if pf.etag != part.ETag {
			assembled.Close()
			return "", fmt.Errorf("fsstore: etag mismatch for part %d", part.PartNo)
		}

		if err := appendFile(assembled, hasher, pf.path); err != nil {
			assembled.Close()
			return "", err
		}
	}

	if err := assembled.Sync(); err != nil {
		assembled.Close()
		return "", fmt.Errorf("fsstore: syncing assembled object: %w", err)
	}

	if err := assembled.Close(); err != nil {
		return "", fmt.Errorf("fsstore: closing assembled object: %w", err)
	}

	hash := hex.EncodeToString(hasher.Sum(nil))

	if declaredHash != "" && declaredHash != hash {
		return "", blobstore.ErrHashMismatch
	}

	if err := s.publish(assembledPath, hash); err != nil {
		return "", err
	}

	succeeded = true

	s.cleanupUpload(handle)

	return hash, nil
}

func appendFile(dst io.Writer, hasher io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("fsstore: opening part %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(io.MultiWriter(dst, hasher), f); err != nil {
		return fmt.Errorf("fsstore: appending part %s: %w", path, err)
	}

	return nil
}

func (s *Store) AbortMultipart(ctx context.Context, handle string) error {
	s.cleanupUpload(handle)
	return nil
}

func (s *Store) cleanupUpload(handle string) {
	s.mu.Lock()
	up, ok := s.uploads[handle]
	delete(s.uploads, handle)
	s.mu.Unlock()

	if !ok {
		return
	}

	for _, pf := range up.parts {
		os.Remove(pf.path)
	}
}

func (s *Store) Get(ctx context.Context, hash string, offset, length int64) (io.ReadCloser, error) {
	f, err := os.Open(s.objectPath(hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, blobstore.ErrNotFound
		}

		return nil, fmt.Errorf("fsstore: opening object: %w", err)
	}

	if offset == 0 && length < 0 {
		return f, nil
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("fsstore: seeking object: %w", err)
	}

	if length < 0 {
		return f, nil
	}

	return rangeReadCloser{f: f, r: io.LimitReader(f, length)}, nil
}

type rangeReadCloser struct {
	f *os.File
	r io.Reader
}

func (r rangeReadCloser) Read(p []byte) (int, error) { return r.r.Read(p) }
func (r rangeReadCloser) Close() error                { return r.f.Close() }

func (s *Store) Stat(ctx context.Context, hash string) (int64, error) {
	info, err := os.Stat(s.objectPath(hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, blobstore.ErrNotFound
		}

		return 0, fmt.Errorf("fsstore: statting object: %w", err)
	}

	return info.Size(), nil
}

func (s *Store) Delete(ctx context.Context, hash string) error {
	if err := os.Remove(s.objectPath(hash)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("fsstore: deleting object: %w", err)
	}

	return nil
}
