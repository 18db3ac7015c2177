package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/noteflow/syncd/internal/apierr"
)

type magicLinkRequest struct {
	Email      string `json:"email"`
	DeviceName string `json:"device_name"`
}

// handleMagicLinkRequest issues a single-use magic-link token and
// delivers it via the configured mailer. Dev installs echo the raw
// token in the response body instead of requiring the operator to
// read logs to complete sign-in.
func (s *Server) handleMagicLinkRequest(w http.ResponseWriter, r *http.Request) {
	var req magicLinkRequest
	if err := decodeJSON(r, &req); err != nil || req.Email == "" {
		apierr.WriteJSON(w, apierr.Wrap(apierr.ErrMalformedPath, "email is required", nil))
		return
	}

	link, err := s.store.MagicLinks().Create(r.Context(), req.Email, s.cfg.Auth.MagicLinkTTL)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	linkURL := fmt.Sprintf("%s/auth/verify?token=%s", s.cfg.Server.BaseURL, link.Token)

	resp := map[string]any{"sent": true}

	if err := s.mailer.Send(req.Email, linkURL); err != nil {
		s.logger.Warn("httpapi: mailer failed", "error", err.Error())
	}

	if _, ok := s.mailer.(*DevMailer); ok {
		resp["token"] = link.Token
	}

	writeJSON(w, http.StatusOK, resp)
}

type magicLinkVerifyResponse struct {
	SessionToken string `json:"session_token"`
	DeviceID     string `json:"device_id"`
	UserID       string `json:"user_id"`
}

// handleMagicLinkVerify consumes a magic-link token, creates (or
// reuses) the user, registers a device, and issues a bearer session.
func (s *Server) handleMagicLinkVerify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		apierr.WriteJSON(w, apierr.Wrap(apierr.ErrAuthMissing, "token is required", nil))
		return
	}

	ctx := r.Context()

	email, err := s.store.MagicLinks().Consume(ctx, token)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	user, err := s.store.Users().GetOrCreateByEmail(ctx, email)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	deviceName := r.URL.Query().Get("device_name")
	if deviceName == "" {
		deviceName = "unnamed device"
	}

	device, err := s.store.Devices().Create(ctx, user.ID, deviceName)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	sess, err := s.store.Sessions().Create(ctx, user.ID, device.ID, s.cfg.Auth.SessionTTL)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	writeJSON(w, http.StatusOK, magicLinkVerifyResponse{
		SessionToken: sess.Token,
		DeviceID:     device.ID,
		UserID:       user.ID,
	})
}

// handleMe returns the authenticated user's profile.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	ac, err := mustAuth(r)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":    ac.User.ID,
		"email": ac.User.Email,
		"tier":  ac.User.Tier,
	})
}

// handleLogout revokes the current session only; other devices'
// sessions are untouched.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ac, err := mustAuth(r)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	if err := s.store.Sessions().Revoke(r.Context(), ac.Session.Token); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListDevices returns every device registered to the
// authenticated user.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ac, err := mustAuth(r)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	devices, err := s.store.Devices().ListByUser(r.Context(), ac.User.ID)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// handleRevokeDevice revokes a device and cascades to every session it
// ever issued. A user may only revoke their own devices.
func (s *Server) handleRevokeDevice(w http.ResponseWriter, r *http.Request) {
	ac, err := mustAuth(r)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	id := r.PathValue("id")

	device, err := s.store.Devices().GetByID(r.Context(), id)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	if device.UserID != ac.User.ID {
		apierr.WriteJSON(w, apierr.Wrap(apierr.ErrNotOwner, "not your device", nil))
		return
	}

	if err := s.store.Devices().Revoke(r.Context(), id); err != nil && !errors.Is(err, apierr.ErrNotFound) {
		apierr.WriteJSON(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
