package e2e

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/noteflow/syncd/internal/crdt"
)

// The room package's wire-frame kind bytes and control-message type
// strings are unexported (they are an implementation detail of the
// server-side Peer), so a true external client reconstructs them from
// the documented wire shape: one kind byte (1=meta updates, 2=body
// inserts, 3=body deletes) prefixing a crdt.Encode* payload on binary
// frames, and {"type": "..."} JSON on text frames.
const (
	wireFrameMetaUpdates byte = 1
	wireFrameBodyInserts byte = 2
	wireFrameBodyDeletes byte = 3
)

const (
	wireControlStateVector  = "state_vector"
	wireControlSyncComplete = "sync_complete"
	wireControlError        = "error"
)

type wireControl struct {
	Type        string            `json:"type"`
	PeerID      string            `json:"peer_id,omitempty"`
	StateVector map[string]uint64 `json:"state_vector,omitempty"`
	ReadOnly    *bool             `json:"read_only,omitempty"`
	Reason      string            `json:"reason,omitempty"`
}

// metaClient mirrors one device's view of a workspace metadata doc
// over a live /sync connection: it performs the handshake, applies
// every update the server sends, and can push local edits back.
type metaClient struct {
	t       *testing.T
	conn    *websocket.Conn
	doc     *crdt.MetaDoc
	replica string
}

// dialMetaClient opens a meta-scope /sync connection and runs the
// handshake to completion, leaving doc caught up with the room.
func dialMetaClient(t *testing.T, ts *testServer, dev *device, workspaceID string) *metaClient {
	t.Helper()

	conn := dialSync(t, ts, dev, workspaceID, "", "", "")
	doc := crdt.NewMetaDoc()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runHandshake(t, ctx, conn, doc.StateVector(), func(kind byte, payload []byte) {
		require.Equal(t, wireFrameMetaUpdates, kind, "meta-scope peer must only receive meta frames")

		updates, err := crdt.DecodeUpdates(payload)
		require.NoError(t, err)

		for _, u := range updates {
			doc.Apply(u)
		}
	})

	return &metaClient{t: t, conn: conn, doc: doc, replica: dev.deviceID}
}

// push sends locally-produced updates to the room and applies them to
// the local mirror too, exactly as crdtfs's capture path would.
func (c *metaClient) push(ctx context.Context, updates ...crdt.Update) {
	c.t.Helper()

	for _, u := range updates {
		c.doc.Apply(u)
	}

	frame := encodeClientFrame(wireFrameMetaUpdates, crdt.EncodeUpdates(updates))
	require.NoError(c.t, c.conn.Write(ctx, websocket.MessageBinary, frame))
}

// drainUntil reads incoming frames (applying meta updates to doc) until
// pred reports the mirror has reached the expected state, or timeout
// elapses.
func (c *metaClient) drainUntil(t *testing.T, timeout time.Duration, pred func() bool) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for !pred() {
		typ, data, err := c.conn.Read(ctx)
		require.NoError(t, err, "timed out waiting for convergence")

		if typ != websocket.MessageBinary {
			continue
		}

		kind, payload := data[0], data[1:]
		require.Equal(t, wireFrameMetaUpdates, kind)

		updates, err := crdt.DecodeUpdates(payload)
		require.NoError(t, err)

		for _, u := range updates {
			c.doc.Apply(u)
		}
	}
}

func (c *metaClient) close() {
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

// runHandshake drives the client side of Peer.handshake: send our
// state vector, read the peer's, then read frames/controls until
// sync_complete, handing every binary frame's (kind, payload) to
// onFrame.
func runHandshake(t *testing.T, ctx context.Context, conn *websocket.Conn, ourSV map[string]uint64, onFrame func(kind byte, payload []byte)) {
	t.Helper()

	require.NoError(t, writeControl(ctx, conn, wireControl{Type: wireControlStateVector, StateVector: ourSV}))

	for {
		typ, data, err := conn.Read(ctx)
		require.NoError(t, err)

		switch typ {
		case websocket.MessageText:
			var msg wireControl
			require.NoError(t, json.Unmarshal(data, &msg))

			switch msg.Type {
			case wireControlStateVector:
				// Server announces its own vector first; nothing further
				// to send since our vector was already sent above.
			case wireControlSyncComplete:
				return
			case wireControlError:
				t.Fatalf("server control error during handshake: %s", msg.Reason)
			}
		case websocket.MessageBinary:
			kind, payload := data[0], data[1:]
			onFrame(kind, payload)
		}
	}
}

func writeControl(ctx context.Context, conn *websocket.Conn, msg wireControl) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return conn.Write(ctx, websocket.MessageText, data)
}

func encodeClientFrame(kind byte, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = kind
	copy(out[1:], payload)

	return out
}
