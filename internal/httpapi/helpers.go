package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/noteflow/syncd/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

// attachmentBytesLimit resolves the effective per-user attachment quota,
// falling back to the configured default when the user has no
// tier-specific override.
func (s *Server) attachmentBytesLimit(u *store.User) int64 {
	if u.AttachmentBytesLimit != nil {
		return *u.AttachmentBytesLimit
	}

	return s.cfg.Quota.DefaultAttachmentBytes
}

func (s *Server) workspaceLimit(u *store.User) int {
	if u.WorkspaceLimit != nil {
		return *u.WorkspaceLimit
	}

	return s.cfg.Quota.DefaultWorkspaceLimit
}

func (s *Server) siteLimit(u *store.User) int {
	if u.SiteLimit != nil {
		return *u.SiteLimit
	}

	return s.cfg.Quota.DefaultSiteLimit
}
