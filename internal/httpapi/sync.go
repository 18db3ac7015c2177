package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/noteflow/syncd/internal/apierr"
	"github.com/noteflow/syncd/internal/room"
	"github.com/noteflow/syncd/internal/store"
)

// handleSync upgrades to a WebSocket and joins the connection to a
// room as either an authenticated device peer (doc=<workspace>) or a
// share-session guest (session=<code>), depending on which query
// parameter is present. One connection serves exactly one scope: the
// workspace metadata doc, or a single entry's body doc selected by
// file=<path>.
//
// A device peer connecting to an unknown workspace ID creates it,
// after checking the owner's workspace-count quota — there is no
// separate POST /api/workspaces endpoint, since a workspace only
// becomes meaningful once a device starts syncing content into it.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	path := r.URL.Query().Get("file")

	var (
		workspaceID string
		kind        room.PeerKind
		replica     string
		peerID      string
		sessionID   string
		readOnly    bool
	)

	if code := r.URL.Query().Get("session"); code != "" {
		share, err := s.store.ShareSessions().Get(ctx, code)
		if err != nil {
			apierr.WriteJSON(w, err)
			return
		}

		guestID := r.URL.Query().Get("guest_id")
		if guestID == "" {
			guestID = uuid.NewString()
		}

		workspaceID = share.WorkspaceID
		kind = room.PeerGuest
		sessionID = code
		readOnly = share.ReadOnly
		replica = "guest-" + guestID
		peerID = guestID
	} else {
		workspaceID = r.URL.Query().Get("doc")
		if workspaceID == "" {
			apierr.WriteJSON(w, apierr.Wrap(apierr.ErrMalformedPath, "doc is required", nil))
			return
		}

		ac, err := mustAuth(r)
		if err != nil {
			apierr.WriteJSON(w, err)
			return
		}

		if _, err := s.ensureWorkspace(ctx, workspaceID, ac.User); err != nil {
			apierr.WriteJSON(w, err)
			return
		}

		kind = room.PeerDevice
		replica = ac.Device.ID
		peerID = ac.Device.ID
	}

	scope := room.ScopeBody
	if path == "" {
		scope = room.ScopeMeta
	}

	rm, err := s.rooms.Get(ctx, workspaceID)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		s.logger.Warn("httpapi: websocket accept failed", slog.String("error", err.Error()))
		return
	}

	peer := room.NewPeer(conn, rm, kind, peerID, replica, sessionID, scope, path, readOnly, s.cfg.Room.OutboundQueueSize, s.logger)

	if err := peer.Serve(context.WithoutCancel(ctx)); err != nil {
		s.logger.Info("httpapi: sync peer disconnected", slog.String("workspace", workspaceID), slog.String("error", err.Error()))
	}
}

// ensureWorkspace returns the workspace for id, creating it under owner
// after checking the owner's workspace-count quota if it does not
// already exist.
func (s *Server) ensureWorkspace(ctx context.Context, id string, owner *store.User) (*store.Workspace, error) {
	ws, err := s.store.Workspaces().GetByID(ctx, id)
	if err == nil {
		if ws.OwnerID != owner.ID {
			return nil, apierr.ErrNotOwner
		}

		return ws, nil
	}

	if !isNotFound(err) {
		return nil, err
	}

	count, err := s.store.Workspaces().CountByOwner(ctx, owner.ID)
	if err != nil {
		return nil, err
	}

	if limit := s.workspaceLimit(owner); limit > 0 && count >= limit {
		return nil, apierr.Wrap(apierr.ErrWorkspaceLimit, "workspace limit exceeded",
			map[string]any{"used": count, "limit": limit})
	}

	return s.store.Workspaces().Create(ctx, owner.ID, id)
}

func isNotFound(err error) bool {
	apiErr := apierr.As(err)
	return apiErr.Kind == "not_found"
}
