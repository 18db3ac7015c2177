package httpapi

import (
	"io"
	"net/http"

	"github.com/noteflow/syncd/internal/apierr"
	"github.com/noteflow/syncd/internal/crdt"
	"github.com/noteflow/syncd/internal/fsabs/crdtfs"
	"github.com/noteflow/syncd/internal/fsabs/memfs"
	"github.com/noteflow/syncd/internal/room"
	"github.com/noteflow/syncd/internal/store"
)

// handleListWorkspaces returns every workspace the authenticated user
// owns.
func (s *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	ac, err := mustAuth(r)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	workspaces, err := s.store.Workspaces().ListByOwner(r.Context(), ac.User.ID)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"workspaces": workspaces})
}

// resolverFor builds the link-canonicalization resolver for ws,
// checking entry existence against the room's live metadata doc.
func resolverFor(ws *store.Workspace, rm *room.Room) crdt.Resolver {
	return crdt.Resolver{
		Format: crdt.LinkFormat(ws.LinkFormat),
		Exists: func(p string) bool {
			_, ok := rm.MetaDoc().Entry(p)
			return ok
		},
	}
}

func renamePolicyFor(ws *store.Workspace) crdtfs.RenamePolicy {
	return crdtfs.RenamePolicy{
		AutoRenameToTitle:  ws.AutoRenameToTitle,
		FilenameStyle:      ws.FilenameStyle,
		SyncTitleToHeading: ws.SyncTitleToHeading,
	}
}

// handleExportSnapshot streams a ZIP archive of every live entry (and,
// unless include_attachments=0, every referenced blob) in the
// workspace.
func (s *Server) handleExportSnapshot(w http.ResponseWriter, r *http.Request) {
	ac, err := mustAuth(r)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	ctx := r.Context()
	id := r.PathValue("id")

	ws, err := s.store.Workspaces().GetByID(ctx, id)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	if ws.OwnerID != ac.User.ID {
		apierr.WriteJSON(w, apierr.Wrap(apierr.ErrNotOwner, "not your workspace", nil))
		return
	}

	rm, err := s.rooms.Get(ctx, id)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	blobs := s.blobs
	if r.URL.Query().Get("include_attachments") == "0" {
		blobs = nil
	}

	archive, err := room.Export(ctx, rm, blobs)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename=\"workspace.zip\"")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

// handleImportSnapshot applies an uploaded ZIP archive to the
// workspace's CRDT documents via the same capture path a local
// filesystem write takes, so the import shows up to connected peers as
// an ordinary set of CRDT updates.
func (s *Server) handleImportSnapshot(w http.ResponseWriter, r *http.Request) {
	ac, err := mustAuth(r)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	ctx := r.Context()
	id := r.PathValue("id")

	ws, err := s.store.Workspaces().GetByID(ctx, id)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	if ws.OwnerID != ac.User.ID {
		apierr.WriteJSON(w, apierr.Wrap(apierr.ErrNotOwner, "not your workspace", nil))
		return
	}

	mode := room.ImportMerge
	if r.URL.Query().Get("mode") == "replace" {
		mode = room.ImportReplace
	}

	archive, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.Snapshot.MaxImportBytes+1))
	if err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.ErrTransient, "reading upload body", nil))
		return
	}

	if int64(len(archive)) > s.cfg.Snapshot.MaxImportBytes {
		apierr.WriteJSON(w, apierr.Wrap(apierr.ErrStorageLimitExceeded, "archive exceeds max import size", nil))
		return
	}

	rm, err := s.rooms.Get(ctx, id)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	resolver := resolverFor(ws, rm)
	replica := "import-" + ac.Device.ID
	policy := renamePolicyFor(ws)

	captureFS := crdtfs.New(memfs.New(nil), rm, rm, resolver, replica, policy, s.logger)

	filesImported, err := room.Import(ctx, rm, captureFS, archive, mode, replica)
	if err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.ErrCorruptUpload, err.Error(), nil))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"files_imported": filesImported})
}
