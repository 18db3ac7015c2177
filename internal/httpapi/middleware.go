package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noteflow/syncd/internal/apierr"
	"github.com/noteflow/syncd/internal/store"
)

// middleware is a composable http.Handler decorator, mirroring the
// fsabs decorator-stack style generalized to the HTTP surface.
type middleware func(http.Handler) http.Handler

// chain applies middlewares in the order given, so the first one listed
// is the outermost wrapper (runs first on request, last on response).
func chain(h http.Handler, mws ...middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}

	return h
}

// recoverMiddleware converts a panicking handler into a 500 response
// instead of taking down the whole listener goroutine.
func recoverMiddleware(logger *slog.Logger) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("httpapi: recovered from panic", slog.Any("panic", rec), slog.String("path", r.URL.Path))
					apierr.WriteJSON(w, apierr.Wrap(apierr.ErrTransient, "internal error", nil))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// requestLogMiddleware attaches a request ID and logs method/path/
// status/duration at Info level, mirroring the teacher's convention of
// threading a *slog.Logger with request-scoped fields via .With(...).
func requestLogMiddleware(logger *slog.Logger) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := uuid.NewString()
			rl := logger.With(slog.String("request_id", reqID))

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID{}, reqID)))

			rl.Info("httpapi: request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", sw.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

// corsMiddleware reflects one of the configured origins into
// Access-Control-Allow-Origin, the editor UI and published-site
// preview surfaces being the only expected browser callers.
func corsMiddleware(origins []string) middleware {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowed[origin] || allowed["*"]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Range")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type ctxKeyRequestID struct{}
type ctxKeyAuth struct{}

// authContext is what apiauthMiddleware resolves from a bearer token
// and attaches to the request context, when present. Handlers that
// require auth call mustAuth; handlers where auth is optional (none in
// this surface today) would read the ctxKeyAuth context value directly.
type authContext struct {
	User    *store.User
	Session *store.Session
	Device  *store.Device
}

// apiauthMiddleware resolves an Authorization: Bearer <token> header
// into a user/session/device triple and attaches it to the request
// context. A missing or invalid header is not itself an error here —
// handlers that require auth call mustAuth and get apierr.ErrAuthMissing
// if nothing was resolved, so public endpoints (magic-link request,
// share-session lookup) are unaffected by this middleware running on
// every route.
func (s *Server) apiauthMiddleware() middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()

			sess, err := s.store.Sessions().Get(ctx, token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			user, err := s.store.Users().GetByID(ctx, sess.UserID)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			device, err := s.store.Devices().GetByID(ctx, sess.DeviceID)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			_ = s.store.Devices().Touch(ctx, device.ID)

			ac := &authContext{User: user, Session: sess, Device: device}
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, ctxKeyAuth{}, ac)))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(after)
	}

	return r.URL.Query().Get("token")
}

// mustAuth extracts the authContext a handler requires, or
// apierr.ErrAuthMissing if apiauthMiddleware resolved nothing.
func mustAuth(r *http.Request) (*authContext, error) {
	ac, ok := r.Context().Value(ctxKeyAuth{}).(*authContext)
	if !ok {
		return nil, apierr.ErrAuthMissing
	}

	return ac, nil
}
