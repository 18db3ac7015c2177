// Package s3store implements blobstore.Store over an S3-compatible
// object storage bucket, using the bucket's own native multipart
// upload API rather than staging parts locally.
package s3store

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sethvargo/go-retry"

	"github.com/noteflow/syncd/internal/blobstore"
)

// API is the subset of *s3.Client used by Store, narrowed for testing
// against a fake.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Store writes blobs as objects keyed by "<prefix>/<hash>". Since S3
// multipart uploads need their target key up front but the content
// hash is only known once every part has been seen, in-progress
// multipart uploads are staged at a scratch key under "<prefix>/.incoming/"
// and server-side copied to their final hash-addressed key on
// completion.
type Store struct {
	api    API
	bucket string
	prefix string
	logger *slog.Logger

	maxAttempts uint64
	baseDelay   time.Duration
}

// New creates a Store targeting bucket, with every object key prefixed
// by prefix (empty means bucket root).
func New(api API, bucket, prefix string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{api: api, bucket: bucket, prefix: strings.Trim(prefix, "/"), logger: logger, maxAttempts: 5, baseDelay: 200 * time.Millisecond}
}

func (s *Store) key(hash string) string {
	if s.prefix == "" {
		return hash
	}

	return s.prefix + "/" + hash
}

func (s *Store) scratchKey(handle string) string {
	if s.prefix == "" {
		return ".incoming/" + handle
	}

	return s.prefix + "/.incoming/" + handle
}

// withRetry retries op against transient S3 failures (throttling,
// connection resets) with exponential backoff via sethvargo/go-retry's
// Do loop.
func (s *Store) withRetry(ctx context.Context, label string, op func(ctx context.Context) error) error {
	b := retry.NewExponential(s.baseDelay)
	b = retry.WithMaxRetries(s.maxAttempts, b)

	attempt := 0

	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++

		err := op(ctx)
		if err == nil {
			return nil
		}

		if !isTransient(err) {
			return err
		}

		s.logger.Warn("retrying s3 operation", slog.String("op", label), slog.Int("attempt", attempt), slog.String("error", err.Error()))

		return retry.RetryableError(err)
	})
}

func isTransient(err error) bool {
	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "RequestTimeout", "SlowDown", "InternalError", "ServiceUnavailable":
			return true
		}
	}

	return false
}

func (s *Store) PutDirect(ctx context.Context, declaredHash string, content io.Reader, size int64) (string, error) {
	buf := make([]byte, size)
	if _, err := io.ReadFull(io.LimitReader(content, size), buf); err != nil {
		return "", fmt.Errorf("s3store: buffering object: %w", err)
	}

	sum := sha256.Sum256(buf)
	hash := hex.EncodeToString(sum[:])

	if declaredHash != "" && declaredHash != hash {
		return "", blobstore.ErrHashMismatch
	}

	err := s.withRetry(ctx, "put_object", func(ctx context.Context) error {
		_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(hash)),
			Body:   bytes.NewReader(buf),
		})

		return err
	})
	if err != nil {
		return "", fmt.Errorf("s3store: putting object: %w", err)
	}

	return hash, nil
}

func (s *Store) BeginMultipart(ctx context.Context, mime string) (*blobstore.MultipartUpload, error) {
	handle := newHandle()

	var uploadID string

	err := s.withRetry(ctx, "create_multipart_upload", func(ctx context.Context) error {
		out, err := s.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(s.scratchKey(handle)),
			ContentType: aws.String(mime),
		})
		if err != nil {
			return err
		}

		uploadID = aws.ToString(out.UploadId)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("s3store: creating multipart upload: %w", err)
	}

	return &blobstore.MultipartUpload{Handle: handle + "|" + uploadID}, nil
}

func (s *Store) PutPart(ctx context.Context, handle string, partNo int, content io.Reader, size int64) (*blobstore.PartResult, error) {
	scratchHandle, uploadID, err := splitHandle(handle)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(io.LimitReader(content, size), buf); err != nil {
		return nil, fmt.Errorf("s3store: buffering part: %w", err)
	}

	var etag string

	err = s.withRetry(ctx, "upload_part", func(ctx context.Context) error {
		out, err := s.api.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(s.bucket),
			Key:        aws.String(s.scratchKey(scratchHandle)),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(int32(partNo)),
			Body:       bytes.NewReader(buf),
		})
		if err != nil {
			return err
		}

		etag = aws.ToString(out.ETag)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("s3store: uploading part %d: %w", partNo, err)
	}

	return &blobstore.PartResult{ETag: etag, Size: size}, nil
}

func (s *Store) CompleteMultipart(ctx context.Context, handle string, parts []blobstore.CompletedPart, declaredHash string) (string, error) {
	scratchHandle, uploadID, err := splitHandle(handle)
	if err != nil {
		return "", err
	}

	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{ETag: aws.String(p.ETag), PartNumber: aws.Int32(int32(p.PartNo))}
	}

	err = s.withRetry(ctx, "complete_multipart_upload", func(ctx context.Context) error {
		_, err := s.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(s.bucket),
			Key:             aws.String(s.scratchKey(scratchHandle)),
			UploadId:        aws.String(uploadID),
			MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
		})

		return err
	})
	if err != nil {
		return "", fmt.Errorf("s3store: completing multipart upload: %w", err)
	}

	hash, err := s.hashScratchObject(ctx, scratchHandle)
	if err != nil {
		return "", err
	}

	if declaredHash != "" && declaredHash != hash {
		return "", blobstore.ErrHashMismatch
	}

	if err := s.promote(ctx, scratchHandle, hash); err != nil {
		return "", err
	}

	return hash, nil
}

// hashScratchObject downloads the just-assembled scratch object to
// compute its content hash. S3 does not expose a server-side SHA-256,
// so the final hash is only known client-side after assembly.
func (s *Store) hashScratchObject(ctx context.Context, scratchHandle string) (string, error) {
	var hash string

	err := s.withRetry(ctx, "hash_scratch_object", func(ctx context.Context) error {
		out, err := s.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.scratchKey(scratchHandle))})
		if err != nil {
			return err
		}
		defer out.Body.Close()

		hasher := sha256.New()

		if _, err := io.Copy(hasher, out.Body); err != nil {
			return err
		}

		hash = hex.EncodeToString(hasher.Sum(nil))

		return nil
	})

	return hash, err
}

// promote copies the scratch object to its final hash-addressed key
// and removes the scratch copy. A copy onto an existing key (the dedup
// hit case) overwrites it with byte-identical content.
func (s *Store) promote(ctx context.Context, scratchHandle, hash string) error {
	err := s.withRetry(ctx, "copy_to_final_key", func(ctx context.Context) error {
		_, err := s.api.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(s.bucket),
			Key:        aws.String(s.key(hash)),
			CopySource: aws.String(s.bucket + "/" + s.scratchKey(scratchHandle)),
		})

		return err
	})
	if err != nil {
		return fmt.Errorf("s3store: promoting scratch object: %w", err)
	}

	return s.withRetry(ctx, "delete_scratch_object", func(ctx context.Context) error {
		_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.scratchKey(scratchHandle))})
		return err
	})
}

func (s *Store) AbortMultipart(ctx context.Context, handle string) error {
	scratchHandle, uploadID, err := splitHandle(handle)
	if err != nil {
		return err
	}

	return s.withRetry(ctx, "abort_multipart_upload", func(ctx context.Context) error {
		_, err := s.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(s.scratchKey(scratchHandle)),
			UploadId: aws.String(uploadID),
		})

		return err
	})
}

func (s *Store) Get(ctx context.Context, hash string, offset, length int64) (io.ReadCloser, error) {
	input := &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(hash))}

	if length >= 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
	} else if offset > 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
	}

	out, err := s.api.GetObject(ctx, input)
	if err != nil {
		if isNotFound(err) {
			return nil, blobstore.ErrNotFound
		}

		return nil, fmt.Errorf("s3store: getting object: %w", err)
	}

	return out.Body, nil
}

func (s *Store) Stat(ctx context.Context, hash string) (int64, error) {
	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(hash))})
	if err != nil {
		if isNotFound(err) {
			return 0, blobstore.ErrNotFound
		}

		return 0, fmt.Errorf("s3store: statting object: %w", err)
	}

	return aws.ToInt64(out.ContentLength), nil
}

func (s *Store) Delete(ctx context.Context, hash string) error {
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(hash))})
	if err != nil {
		return fmt.Errorf("s3store: deleting object: %w", err)
	}

	return nil
}

func isNotFound(err error) bool {
	var nf *types.NoSuchKey
	if errors.As(err, &nf) {
		return true
	}

	var nb *types.NotFound
	return errors.As(err, &nb)
}

func newHandle() string {
	var buf [16]byte
	// crypto/rand.Read does not fail in practice on any supported
	// platform; a zero handle would still be unique per-process via the
	// surrounding upload bookkeeping, so no fallback is needed.
	_, _ = rand.Read(buf[:])

	return hex.EncodeToString(buf[:])
}

func splitHandle(handle string) (scratchHandle, uploadID string, err error) {
	idx := strings.IndexByte(handle, '|')
	if idx < 0 {
		return "", "", fmt.Errorf("s3store: malformed upload handle %q", handle)
	}

	return handle[:idx], handle[idx+1:], nil
}
