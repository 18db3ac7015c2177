// Package httpapi implements syncd's HTTP/WebSocket surface: magic-link
// auth, device/session management, workspace snapshot import/export,
// attachment upload/download, share-session management, and the /sync
// WebSocket upgrade that hands a connection off to a room.Peer.
package httpapi

import (
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/noteflow/syncd/internal/blobstore"
	"github.com/noteflow/syncd/internal/config"
	"github.com/noteflow/syncd/internal/room"
	"github.com/noteflow/syncd/internal/store"
)

// Server holds every dependency a handler needs and owns route
// registration. One Server serves the whole process; handlers are
// methods on it so they share the dependencies without a global.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	blobs   blobstore.Store
	rooms   *room.Registry
	mailer  Mailer
	logger  *slog.Logger
	version string

	startedAt time.Time
}

// NewServer wires a Server from its dependencies. The caller owns
// starting/stopping rooms (room.Registry) and the store's lifetime.
// version is reported by GET /api/status; pass the binary's build
// version or "dev".
func NewServer(cfg *config.Config, st *store.Store, blobs blobstore.Store, rooms *room.Registry, mailer Mailer, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	if version == "" {
		version = "dev"
	}

	return &Server{
		cfg:       cfg,
		store:     st,
		blobs:     blobs,
		rooms:     rooms,
		mailer:    mailer,
		logger:    logger,
		version:   version,
		startedAt: time.Now(),
	}
}

// Routes builds the full mux with middleware applied, ready to pass to
// http.Server.Handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/magic-link", s.handleMagicLinkRequest)
	mux.HandleFunc("GET /auth/verify", s.handleMagicLinkVerify)
	mux.HandleFunc("GET /auth/me", s.handleMe)
	mux.HandleFunc("POST /auth/logout", s.handleLogout)
	mux.HandleFunc("GET /auth/devices", s.handleListDevices)
	mux.HandleFunc("DELETE /auth/devices/{id}", s.handleRevokeDevice)

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/workspaces", s.handleListWorkspaces)
	mux.HandleFunc("GET /api/workspaces/{id}/snapshot", s.handleExportSnapshot)
	mux.HandleFunc("POST /api/workspaces/{id}/snapshot", s.handleImportSnapshot)

	mux.HandleFunc("GET /api/user/storage", s.handleUserStorage)
	mux.HandleFunc("POST /api/workspaces/{id}/attachments/uploads", s.handleBeginUpload)
	mux.HandleFunc("GET /api/uploads/{uploadID}", s.handleResumeUpload)
	mux.HandleFunc("PUT /api/uploads/{uploadID}/parts/{partNo}", s.handlePutPart)
	mux.HandleFunc("POST /api/uploads/{uploadID}/complete", s.handleCompleteUpload)
	mux.HandleFunc("GET /api/workspaces/{id}/attachments/{hash}", s.handleGetAttachment)

	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/workspaces/{id}/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{code}", s.handleGetSession)
	mux.HandleFunc("PATCH /api/sessions/{code}", s.handlePatchSession)
	mux.HandleFunc("DELETE /api/sessions/{code}", s.handleEndSession)

	mux.HandleFunc("GET /sync", s.handleSync)

	return chain(mux,
		recoverMiddleware(s.logger),
		requestLogMiddleware(s.logger),
		corsMiddleware(s.cfg.CORS.Origins),
		s.apiauthMiddleware(),
	)
}

// handleStatus reports process liveness, unauthenticated, for
// load-balancer health checks and operator smoke tests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	activeRooms, activeConnections := s.rooms.Stats()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"version":            s.version,
		"active_connections": activeConnections,
		"active_rooms":       activeRooms,
		"uptime_seconds":     int(time.Since(s.startedAt).Seconds()),
		"go_version":         runtime.Version(),
	})
}
