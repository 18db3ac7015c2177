package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/noteflow/syncd/internal/apierr"
	"github.com/noteflow/syncd/internal/blobstore"
)

// handleUserStorage reports the authenticated user's attachment storage
// usage against their quota, the basis of the editor UI's storage meter
// and the warning-threshold banner.
func (s *Server) handleUserStorage(w http.ResponseWriter, r *http.Request) {
	ac, err := mustAuth(r)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	used, blobCount, err := s.store.Blobs().UsedBytesByOwner(r.Context(), ac.User.ID)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	limit := s.attachmentBytesLimit(ac.User)
	warningThreshold := limit > 0 && used*100 >= limit*int64(s.cfg.Quota.WarningThresholdPct)

	writeJSON(w, http.StatusOK, map[string]any{
		"used_bytes":        used,
		"limit_bytes":       limit,
		"blob_count":        blobCount,
		"used_human":        humanize.Bytes(uint64(used)),
		"limit_human":       humanize.Bytes(uint64(limit)),
		"warning_threshold": warningThreshold,
		"over_limit":        limit > 0 && used > limit,
		"scope":             "account",
	})
}

type beginUploadRequest struct {
	Size         int64  `json:"size"`
	Mime         string `json:"mime"`
	Filename     string `json:"filename"`
	DeclaredHash string `json:"declared_hash"`
}

type beginUploadResponse struct {
	UploadID string `json:"upload_id"`
}

// handleBeginUpload starts a resumable multipart upload after checking
// the requested size against the owner's remaining attachment quota.
func (s *Server) handleBeginUpload(w http.ResponseWriter, r *http.Request) {
	ac, err := mustAuth(r)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	var req beginUploadRequest
	if err := decodeJSON(r, &req); err != nil || req.Size <= 0 {
		apierr.WriteJSON(w, apierr.Wrap(apierr.ErrMalformedPath, "size is required", nil))
		return
	}

	ctx := r.Context()
	workspaceID := r.PathValue("id")

	ws, err := s.store.Workspaces().GetByID(ctx, workspaceID)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	if ws.OwnerID != ac.User.ID {
		apierr.WriteJSON(w, apierr.Wrap(apierr.ErrNotOwner, "not your workspace", nil))
		return
	}

	used, _, err := s.store.Blobs().UsedBytesByOwner(ctx, ac.User.ID)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	limit := s.attachmentBytesLimit(ac.User)
	if limit > 0 && used+req.Size > limit {
		apierr.WriteJSON(w, apierr.Wrap(apierr.ErrStorageLimitExceeded, "attachment storage limit exceeded",
			map[string]any{"used_bytes": used, "limit_bytes": limit, "requested_bytes": req.Size}))
		return
	}

	mp, err := s.blobs.BeginMultipart(ctx, req.Mime)
	if err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.ErrTransient, err.Error(), nil))
		return
	}

	upload, err := s.store.Uploads().Begin(ctx, workspaceID, ac.User.ID, req.Size, req.Mime, req.Filename, req.DeclaredHash, mp.Handle)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, beginUploadResponse{UploadID: upload.ID})
}

// handleResumeUpload reports which parts have already been received, so
// a client resuming after a dropped connection knows what it can skip
// resending.
func (s *Server) handleResumeUpload(w http.ResponseWriter, r *http.Request) {
	ac, err := mustAuth(r)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	ctx := r.Context()
	uploadID := r.PathValue("uploadID")

	upload, err := s.store.Uploads().Get(ctx, uploadID)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	if upload.OwnerID != ac.User.ID {
		apierr.WriteJSON(w, apierr.Wrap(apierr.ErrNotOwner, "not your upload", nil))
		return
	}

	parts, err := s.store.Uploads().ListParts(ctx, uploadID)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	received := make([]int, 0, len(parts))
	for _, p := range parts {
		received = append(received, p.PartNo)
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": upload.Status, "parts_received": received})
}

// handlePutPart uploads one part of an in-progress multipart upload.
func (s *Server) handlePutPart(w http.ResponseWriter, r *http.Request) {
	ac, err := mustAuth(r)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	ctx := r.Context()
	uploadID := r.PathValue("uploadID")

	partNo, err := strconv.Atoi(r.PathValue("partNo"))
	if err != nil || partNo < 1 {
		apierr.WriteJSON(w, apierr.Wrap(apierr.ErrMalformedPath, "invalid part number", nil))
		return
	}

	upload, err := s.store.Uploads().Get(ctx, uploadID)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	if upload.OwnerID != ac.User.ID {
		apierr.WriteJSON(w, apierr.Wrap(apierr.ErrNotOwner, "not your upload", nil))
		return
	}

	if r.ContentLength <= 0 {
		apierr.WriteJSON(w, apierr.Wrap(apierr.ErrMalformedPath, "Content-Length is required", nil))
		return
	}

	result, err := s.blobs.PutPart(ctx, upload.RemoteHandle, partNo, r.Body, r.ContentLength)
	if err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.ErrTransient, err.Error(), nil))
		return
	}

	if err := s.store.Uploads().PutPart(ctx, uploadID, partNo, result.ETag, result.Size); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"etag": result.ETag})
}

// handleCompleteUpload assembles every uploaded part, verifies the
// result against the declared hash, and registers (or dedups against)
// the blob row.
func (s *Server) handleCompleteUpload(w http.ResponseWriter, r *http.Request) {
	ac, err := mustAuth(r)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	ctx := r.Context()
	uploadID := r.PathValue("uploadID")

	upload, err := s.store.Uploads().Get(ctx, uploadID)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	if upload.OwnerID != ac.User.ID {
		apierr.WriteJSON(w, apierr.Wrap(apierr.ErrNotOwner, "not your upload", nil))
		return
	}

	parts, err := s.store.Uploads().ListParts(ctx, uploadID)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	completed := make([]blobstore.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = blobstore.CompletedPart{PartNo: p.PartNo, ETag: p.ETag, Size: p.Size}
	}

	hash, err := s.blobs.CompleteMultipart(ctx, upload.RemoteHandle, completed, upload.DeclaredHash)
	if err != nil {
		if errors.Is(err, blobstore.ErrHashMismatch) {
			apierr.WriteJSON(w, apierr.Wrap(apierr.ErrCorruptUpload, "uploaded content does not match declared hash", nil))
			return
		}

		apierr.WriteJSON(w, apierr.Wrap(apierr.ErrTransient, err.Error(), nil))

		return
	}

	if _, err := s.store.Blobs().GetOrCreate(ctx, hash, ac.User.ID, upload.Size, upload.Mime); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	if err := s.store.Uploads().Complete(ctx, uploadID); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"hash": hash})
}

// handleGetAttachment streams an attachment's bytes, honoring a single
// Range: bytes=start-end request header.
func (s *Server) handleGetAttachment(w http.ResponseWriter, r *http.Request) {
	if _, err := mustAuth(r); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	ctx := r.Context()
	hash := r.PathValue("hash")

	size, err := s.blobs.Stat(ctx, hash)
	if err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.ErrNotFound, "attachment not found", nil))
		return
	}

	offset, length := int64(0), int64(-1)

	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		offset, length = parseRange(rangeHeader, size)
	}

	rc, err := s.blobs.Get(ctx, hash, offset, length)
	if err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.ErrNotFound, "attachment not found", nil))
		return
	}
	defer rc.Close()

	if length >= 0 {
		w.Header().Set("Content-Range", strconv.FormatInt(offset, 10)+"-"+strconv.FormatInt(offset+length-1, 10)+"/"+strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusPartialContent)
	}

	_, _ = io.Copy(w, rc)
}

// parseRange parses a "bytes=start-end" header into an offset/length
// pair; a malformed header is treated as "no range" (the whole object).
func parseRange(header string, size int64) (offset, length int64) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, -1
	}

	start, end, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, -1
	}

	startN, err := strconv.ParseInt(start, 10, 64)
	if err != nil || startN < 0 || startN >= size {
		return 0, -1
	}

	if end == "" {
		return startN, size - startN
	}

	endN, err := strconv.ParseInt(end, 10, 64)
	if err != nil || endN < startN {
		return 0, -1
	}

	if endN >= size {
		endN = size - 1
	}

	return startN, endN - startN + 1
}
