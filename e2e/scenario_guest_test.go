package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noteflow/syncd/internal/crdt"
)

// Scenario 5: a read-only guest's CRDT update is rejected outright —
// the room's state is unchanged and the guest is told why.
func TestScenario_ReadOnlyGuestUpdateRejected(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	owner := signUp(t, ts, "owner@example.com", "desktop")

	ownerClient := dialMetaClient(t, ts, owner, "shared")
	defer ownerClient.close()

	reqBody, err := json.Marshal(map[string]any{"workspace_id": "shared", "read_only": true})
	require.NoError(t, err)

	sessionResp := doJSON(t, ts, http.MethodPost, "/api/sessions", owner.sessionToken, reqBody)
	var share struct {
		Code string `json:"Code"`
	}
	require.NoError(t, json.Unmarshal(sessionResp, &share))
	require.NotEmpty(t, share.Code)

	guestConn := dialSync(t, ts, nil, "", share.Code, "guest-1", "")
	defer guestConn.Close(websocket.StatusNormalClosure, "")

	guestDoc := crdt.NewMetaDoc()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runHandshake(t, ctx, guestConn, guestDoc.StateVector(), func(kind byte, payload []byte) {
		updates, err := crdt.DecodeUpdates(payload)
		require.NoError(t, err)

		for _, u := range updates {
			guestDoc.Apply(u)
		}
	})

	rm, err := ts.rooms.Get(context.Background(), "shared")
	require.NoError(t, err)

	beforeSV := rm.MetaDoc().StateVector()

	rogueUpdate := guestDoc.SetTitle("notes/intruder.md", "Not allowed", "guest-1")
	frame := encodeClientFrame(wireFrameMetaUpdates, crdt.EncodeUpdates([]crdt.Update{rogueUpdate}))
	require.NoError(t, guestConn.Write(ctx, websocket.MessageBinary, frame))

	typ, data, err := guestConn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)

	var msg wireControl
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, wireControlError, msg.Type)
	assert.Equal(t, "read_only_session", msg.Reason)

	_, ok := rm.MetaDoc().Entry("notes/intruder.md")
	assert.False(t, ok, "room state must be unchanged after a rejected guest update")

	assert.Equal(t, beforeSV, rm.MetaDoc().StateVector(), "room state vector must be byte-identical before and after the rejected update")
}
