// Package e2e spins up a full in-process syncd server (real store,
// real blob store, real room registry, real HTTP/WebSocket surface)
// per test and drives it exactly as a device or guest client would,
// covering the six literal scenarios. One harness file bootstraps the
// server; one file per scenario class, mirroring the teacher's
// e2e_test.go + edge_cases_e2e_test.go split.
package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/noteflow/syncd/internal/blobstore/fsstore"
	"github.com/noteflow/syncd/internal/config"
	"github.com/noteflow/syncd/internal/httpapi"
	"github.com/noteflow/syncd/internal/room"
	"github.com/noteflow/syncd/internal/store"
)

// testServer bundles a running httptest server with the dependencies
// its handlers talk to, so a scenario test can reach into the store
// directly (to set up quota state, inspect ref counts) alongside
// driving the HTTP/WebSocket surface like a real client.
type testServer struct {
	httpServer *httptest.Server
	store      *store.Store
	rooms      *room.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	return newTestServerWithConfig(t, nil)
}

// newTestServerWithConfig is newTestServer but lets a scenario tweak
// the resolved config (e.g. to shrink the attachment quota) before the
// server is built.
func newTestServerWithConfig(t *testing.T, tweak func(*config.Config)) *testServer {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dir := t.TempDir()

	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.Blob.FSBase = filepath.Join(dir, "blobs")

	if tweak != nil {
		tweak(cfg)
	}

	st, err := store.Open(filepath.Join(dir, "syncd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, store.Migrate(ctx, st, nil))

	blobs, err := fsstore.New(cfg.Blob.FSBase, nil)
	require.NoError(t, err)

	rooms := room.NewRegistry(ctx, st.CRDTDocs(), room.Config{
		PersistenceInterval: cfg.Room.PersistenceInterval,
		OutboundQueueSize:   cfg.Room.OutboundQueueSize,
	}, nil)
	t.Cleanup(func() { _ = rooms.Shutdown() })

	mailer := httpapi.NewMailer("dev", "", nil)
	srv := httpapi.NewServer(cfg, st, blobs, rooms, mailer, nil, "test")

	hs := httptest.NewServer(srv.Routes())
	t.Cleanup(hs.Close)

	cfg.Server.BaseURL = hs.URL

	return &testServer{httpServer: hs, store: st, rooms: rooms}
}

// device is one authenticated client: an email, device name, and the
// session token/device ID it gets back from completing the magic-link
// flow against ts.
type device struct {
	ts           *testServer
	sessionToken string
	deviceID     string
}

// signUp requests and verifies a magic link in one step (the dev
// mailer echoes the token back in the request response), registering
// deviceName as a new device for email.
func signUp(t *testing.T, ts *testServer, email, deviceName string) *device {
	t.Helper()

	reqBody, err := json.Marshal(map[string]string{"email": email, "device_name": deviceName})
	require.NoError(t, err)

	resp := doJSON(t, ts, http.MethodPost, "/auth/magic-link", "", reqBody)
	var linkResp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(resp, &linkResp))
	require.NotEmpty(t, linkResp.Token, "dev mailer must echo the token")

	verifyURL := "/auth/verify?token=" + linkResp.Token + "&device_name=" + url.QueryEscape(deviceName)
	verifyResp := doJSON(t, ts, http.MethodGet, verifyURL, "", nil)
	var session struct {
		SessionToken string `json:"session_token"`
		DeviceID     string `json:"device_id"`
	}
	require.NoError(t, json.Unmarshal(verifyResp, &session))
	require.NotEmpty(t, session.SessionToken)

	return &device{ts: ts, sessionToken: session.SessionToken, deviceID: session.DeviceID}
}

// doJSON issues an HTTP request against ts and returns the raw response
// body, failing the test on a non-2xx status.
func doJSON(t *testing.T, ts *testServer, method, path, token string, body []byte) []byte {
	t.Helper()

	return doJSONExpect(t, ts, method, path, token, body, 0)
}

// doJSONExpect is doJSON but asserts a specific status code when
// wantStatus is non-zero, returning the body regardless of status so
// callers can inspect an error envelope.
func doJSONExpect(t *testing.T, ts *testServer, method, path, token string, body []byte, wantStatus int) []byte {
	t.Helper()

	var bodyReader *bytesReader
	if body != nil {
		bodyReader = newBytesReader(body)
	}

	req, err := http.NewRequest(method, ts.httpServer.URL+path, bodyReader)
	require.NoError(t, err)

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data := readAll(t, resp)

	if wantStatus != 0 {
		require.Equal(t, wantStatus, resp.StatusCode, "body: %s", data)
	} else {
		require.Truef(t, resp.StatusCode >= 200 && resp.StatusCode < 300, "unexpected status %d: %s", resp.StatusCode, data)
	}

	return data
}

// dialSync opens a /sync WebSocket for dev under scope doc=workspaceID
// (or session=code/guest_id=guestID when code is non-empty).
func dialSync(t *testing.T, ts *testServer, dev *device, workspaceID, code, guestID, file string) *websocket.Conn {
	t.Helper()

	u := ts.httpServer.URL + "/sync?"

	header := http.Header{}

	switch {
	case code != "":
		u += fmt.Sprintf("session=%s&guest_id=%s", code, guestID)
	default:
		u += "doc=" + workspaceID
		header.Set("Authorization", "Bearer "+dev.sessionToken)
	}

	if file != "" {
		u += "&file=" + file
	}

	wsURL := "ws" + u[len("http"):]

	conn, _, err := websocket.Dial(context.Background(), wsURL, &websocket.DialOptions{HTTPHeader: header})
	require.NoError(t, err)

	return conn
}

// createWorkspace establishes workspaceID for dev the only way the
// server exposes: a device connecting to /sync on an unknown workspace
// ID creates it. A brief meta-scope connection is enough to trigger
// ensureWorkspace and is closed immediately after.
func createWorkspace(t *testing.T, ts *testServer, dev *device, workspaceID string) {
	t.Helper()

	conn := dialSync(t, ts, dev, workspaceID, "", "", "")
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Drain the handshake to sync_complete so the room has actually
	// registered the connection before the caller issues HTTP requests
	// against the now-existing workspace.
	for {
		typ, data, err := conn.Read(ctx)
		require.NoError(t, err)

		if typ != websocket.MessageText {
			continue
		}

		var msg struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(data, &msg))

		if msg.Type == "sync_complete" {
			return
		}
	}
}
