package e2e

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noteflow/syncd/internal/config"
)

// beginUpload drives the begin/put-part/complete multipart upload flow
// for a single-part attachment and returns the resulting content hash.
func beginUpload(t *testing.T, ts *testServer, dev *device, workspaceID string, content []byte, mime, filename string) (string, []byte) {
	t.Helper()

	sum := sha256.Sum256(content)
	hash := fmt.Sprintf("%x", sum)

	reqBody, err := json.Marshal(map[string]any{
		"size":          len(content),
		"mime":          mime,
		"filename":      filename,
		"declared_hash": hash,
	})
	require.NoError(t, err)

	beginResp := doJSON(t, ts, http.MethodPost, "/api/workspaces/"+workspaceID+"/attachments/uploads", dev.sessionToken, reqBody)
	var begin struct {
		UploadID string `json:"upload_id"`
	}
	require.NoError(t, json.Unmarshal(beginResp, &begin))
	require.NotEmpty(t, begin.UploadID)

	return begin.UploadID, content
}

// putPart uploads one raw body as part 1 of uploadID.
func putPart(t *testing.T, ts *testServer, dev *device, uploadID string, content []byte) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPut,
		ts.httpServer.URL+"/api/uploads/"+uploadID+"/parts/1", newBytesReader(content))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+dev.sessionToken)
	req.ContentLength = int64(len(content))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func completeUpload(t *testing.T, ts *testServer, dev *device, uploadID string) string {
	t.Helper()

	resp := doJSON(t, ts, http.MethodPost, "/api/uploads/"+uploadID+"/complete", dev.sessionToken, nil)
	var out struct {
		Hash string `json:"hash"`
	}
	require.NoError(t, json.Unmarshal(resp, &out))

	return out.Hash
}

// Scenario 2: two attachments with identical bytes dedup to one blob,
// and uploading it a second time does not double-count against the
// owner's storage usage.
func TestScenario_AttachmentDedup(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	owner := signUp(t, ts, "photos@example.com", "phone")
	createWorkspace(t, ts, owner, "trip")

	content := []byte("identical photo bytes")

	uploadID1, _ := beginUpload(t, ts, owner, "trip", content, "image/jpeg", "sunset.jpg")
	putPart(t, ts, owner, uploadID1, content)
	hash1 := completeUpload(t, ts, owner, uploadID1)

	storageAfterFirst := doJSON(t, ts, http.MethodGet, "/api/user/storage", owner.sessionToken, nil)
	var usage1 struct {
		UsedBytes int64 `json:"used_bytes"`
		BlobCount int   `json:"blob_count"`
	}
	require.NoError(t, json.Unmarshal(storageAfterFirst, &usage1))

	uploadID2, _ := beginUpload(t, ts, owner, "trip", content, "image/jpeg", "sunset-copy.jpg")
	putPart(t, ts, owner, uploadID2, content)
	hash2 := completeUpload(t, ts, owner, uploadID2)

	assert.Equal(t, hash1, hash2, "identical content must dedup to the same hash")

	storageAfterSecond := doJSON(t, ts, http.MethodGet, "/api/user/storage", owner.sessionToken, nil)
	var usage2 struct {
		UsedBytes int64 `json:"used_bytes"`
		BlobCount int   `json:"blob_count"`
	}
	require.NoError(t, json.Unmarshal(storageAfterSecond, &usage2))

	assert.Equal(t, usage1.UsedBytes, usage2.UsedBytes, "re-uploading identical content must not increase usage")
	assert.Equal(t, usage1.BlobCount, usage2.BlobCount, "re-uploading identical content must not add a second blob row")
}

// Scenario 3: beginning an upload that would exceed the owner's
// attachment quota is rejected with 413 and the exact used_bytes/
// limit_bytes/requested_bytes fields the client's storage-meter UI
// relies on.
func TestScenario_QuotaRejection(t *testing.T) {
	t.Parallel()

	const limit = 1024

	ts := newTestServerWithConfig(t, func(cfg *config.Config) {
		cfg.Quota.DefaultAttachmentBytes = limit
	})
	owner := signUp(t, ts, "tight@example.com", "laptop")
	createWorkspace(t, ts, owner, "personal")

	const requested = limit + 1

	reqBody, err := json.Marshal(map[string]any{
		"size":          requested,
		"mime":          "application/octet-stream",
		"filename":      "too-big.bin",
		"declared_hash": "sha256:deadbeef",
	})
	require.NoError(t, err)

	body := doJSONExpect(t, ts, http.MethodPost, "/api/workspaces/personal/attachments/uploads", owner.sessionToken, reqBody, http.StatusRequestEntityTooLarge)

	var errResp struct {
		Error          string `json:"error"`
		Message        string `json:"message"`
		UsedBytes      int64  `json:"used_bytes"`
		LimitBytes     int64  `json:"limit_bytes"`
		RequestedBytes int64  `json:"requested_bytes"`
	}
	require.NoError(t, json.Unmarshal(body, &errResp))

	assert.Equal(t, "storage_limit_exceeded", errResp.Error)
	assert.Equal(t, int64(0), errResp.UsedBytes)
	assert.Equal(t, int64(limit), errResp.LimitBytes)
	assert.Equal(t, int64(requested), errResp.RequestedBytes)
}
