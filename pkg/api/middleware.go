package api

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/ethpandaops/runkeeper/pkg/api/store"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

type contextKey string

const userContextKey contextKey = "user"

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"remote":   r.RemoteAddr,
			"status":   ww.Status(),
			"duration": time.Since(start),
		}).Debug("Request handled")
	})
}

// authenticate resolves HTTP Basic credentials against the user store and
// injects the user into the request context. Requests without credentials
// are let through only for reads when anonymous reads are enabled.
func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			if s.cfg.Auth.AnonymousRead && isRead(r) {
				next.ServeHTTP(w, r)

				return
			}

			unauthorized(w, "authentication required")

			return
		}

		if !s.cfg.Auth.Basic.Enabled {
			unauthorized(w, "basic authentication is disabled")

			return
		}

		user, err := s.store.GetUserByUsername(r.Context(), username)
		if err != nil || !checkPassword(user.PasswordHash, password) {
			unauthorized(w, "invalid credentials")

			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="runkeeper"`)
	writeJSON(w, http.StatusUnauthorized, errorResponse{msg})
}

func isRead(r *http.Request) bool {
	return r.Method == http.MethodGet || r.Method == http.MethodHead
}

// requireRole checks that the authenticated user has one of the given roles.
func (s *server) requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := userFromContext(r.Context())
			if user == nil || !slices.Contains(roles, user.Role) {
				writeJSON(w, http.StatusForbidden,
					errorResponse{"insufficient permissions"})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// userFromContext extracts the authenticated user from the request context.
func userFromContext(ctx context.Context) *store.User {
	user, _ := ctx.Value(userContextKey).(*store.User)

	return user
}

// actor returns the username recorded as the author of a mutation.
func actor(ctx context.Context) string {
	if user := userFromContext(ctx); user != nil {
		return user.Username
	}

	return ""
}
