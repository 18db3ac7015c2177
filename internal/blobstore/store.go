// Package blobstore defines the content-addressed blob storage
// capability and its two backends (local filesystem, S3-compatible
// object storage). Blobs are addressed by their SHA-256 hash: the same
// bytes uploaded twice resolve to the same key, so the store never
// duplicates storage for identical attachments.
package blobstore

import (
	"context"
	"errors"
	"io"
)

// ErrHashMismatch is returned by CompleteMultipart and PutDirect when
// the bytes actually received hash to something other than the
// declared hash.
var ErrHashMismatch = errors.New("blobstore: declared hash does not match received content")

// ErrNotFound is returned by Get and Stat when hash has no backing
// object.
var ErrNotFound = errors.New("blobstore: object not found")

// MultipartUpload tracks one in-progress resumable upload. Handle is
// opaque to callers and persisted verbatim in store.UploadSession so a
// crashed process can resume against the backend that created it.
type MultipartUpload struct {
	Handle string
}

// PartResult is returned after uploading one part.
type PartResult struct {
	ETag string
	Size int64
}

// Store is the capability every blob backend implements. All methods
// are safe for concurrent use by multiple goroutines across multiple
// in-flight uploads.
type Store interface {
	// PutDirect uploads content in a single request, used when the
	// declared size is small enough to avoid the multipart dance
	// entirely. declaredHash, if non-empty, is verified against the
	// actual content hash; a mismatch returns ErrHashMismatch and the
	// object is not retained.
	PutDirect(ctx context.Context, declaredHash string, content io.Reader, size int64) (hash string, err error)

	// BeginMultipart starts a new resumable upload and returns an
	// opaque handle identifying it to the backend.
	BeginMultipart(ctx context.Context, mime string) (*MultipartUpload, error)

	// PutPart uploads one part of an in-progress multipart upload.
	// Parts may be uploaded out of order and retried; the backend
	// de-duplicates by partNo.
	PutPart(ctx context.Context, handle string, partNo int, content io.Reader, size int64) (*PartResult, error)

	// CompleteMultipart finalizes the upload from its uploaded parts
	// (each (partNo, etag) pair previously returned by PutPart, in
	// ascending partNo order) and returns the content hash of the
	// assembled object. declaredHash, if non-empty, is verified against
	// the assembled content; a mismatch returns ErrHashMismatch without
	// discarding the backend's copy, so the caller can inspect it.
	CompleteMultipart(ctx context.Context, handle string, parts []CompletedPart, declaredHash string) (hash string, err error)

	// AbortMultipart releases any part bytes already held for handle.
	AbortMultipart(ctx context.Context, handle string) error

	// Get opens a reader for the object at hash. If length >= 0, only
	// that many bytes starting at offset are returned (range read,
	// used to serve workspace attachment downloads without buffering
	// the whole object in memory).
	Get(ctx context.Context, hash string, offset, length int64) (io.ReadCloser, error)

	// Stat reports the size in bytes of the object at hash, or
	// ErrNotFound.
	Stat(ctx context.Context, hash string) (size int64, err error)

	// Delete permanently removes the object at hash. Called only after
	// the metadata repository has confirmed ref_count is zero and the
	// retention window has elapsed.
	Delete(ctx context.Context, hash string) error
}

// CompletedPart identifies one uploaded part by its sequence number and
// the backend-assigned ETag returned from PutPart.
type CompletedPart struct {
	PartNo int
	ETag   string
	Size   int64
}
