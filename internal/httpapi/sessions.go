package httpapi

import (
	"net/http"

	"github.com/noteflow/syncd/internal/apierr"
)

type createSessionRequest struct {
	WorkspaceID string `json:"workspace_id"`
	ReadOnly    bool   `json:"read_only"`
}

// handleCreateSession issues a new share-session code for a workspace,
// the basis of a guest sync link.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	ac, err := mustAuth(r)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil || req.WorkspaceID == "" {
		apierr.WriteJSON(w, apierr.Wrap(apierr.ErrMalformedPath, "workspace_id is required", nil))
		return
	}

	ctx := r.Context()

	ws, err := s.store.Workspaces().GetByID(ctx, req.WorkspaceID)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	if ws.OwnerID != ac.User.ID {
		apierr.WriteJSON(w, apierr.Wrap(apierr.ErrNotOwner, "not your workspace", nil))
		return
	}

	share, err := s.store.ShareSessions().Create(ctx, req.WorkspaceID, req.ReadOnly, s.cfg.Auth.ShareSessionTTL)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, share)
}

// handleGetSession returns the public view of a share session — no
// workspace ownership required, since this is how a guest validates a
// code before the /sync handshake.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	share, err := s.store.ShareSessions().Get(r.Context(), r.PathValue("code"))
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	writeJSON(w, http.StatusOK, share)
}

// handleListSessions returns every active (non-ended, non-expired)
// share session for a workspace.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ac, err := mustAuth(r)
	if err != nil {
		apierr.WriteJSON(w, err)
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

	sessions, err := s.store.ShareSessions().ListActiveByWorkspace(ctx, workspaceID)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

type patchSessionRequest struct {
	ReadOnly bool `json:"read_only"`
}

// handlePatchSession toggles a share session's read_only flag and
// propagates the change to any guest already connected under it.
func (s *Server) handlePatchSession(w http.ResponseWriter, r *http.Request) {
	ac, err := mustAuth(r)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	ctx := r.Context()
	code := r.PathValue("code")

	share, err := s.store.ShareSessions().Get(ctx, code)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	ws, err := s.store.Workspaces().GetByID(ctx, share.WorkspaceID)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	if ws.OwnerID != ac.User.ID {
		apierr.WriteJSON(w, apierr.Wrap(apierr.ErrNotOwner, "not your workspace", nil))
		return
	}

	var req patchSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.ErrMalformedPath, "malformed request body", nil))
		return
	}

	if err := s.store.ShareSessions().UpdateReadOnly(ctx, code, req.ReadOnly); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	if rm, ok := s.rooms.Peek(share.WorkspaceID); ok {
		rm.UpdateGuestReadOnly(code, req.ReadOnly)
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleEndSession revokes a share session and disconnects any guest
// currently joined under it.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	ac, err := mustAuth(r)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	ctx := r.Context()
	code := r.PathValue("code")

	share, err := s.store.ShareSessions().Get(ctx, code)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	ws, err := s.store.Workspaces().GetByID(ctx, share.WorkspaceID)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	if ws.OwnerID != ac.User.ID {
		apierr.WriteJSON(w, apierr.Wrap(apierr.ErrNotOwner, "not your workspace", nil))
		return
	}

	if err := s.store.ShareSessions().End(ctx, code); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	s.rooms.EndGuestSession(code)

	w.WriteHeader(http.StatusNoContent)
}
