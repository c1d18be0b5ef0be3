// Package middleware provides HTTP middleware for admin authentication and
// request instrumentation.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/samhotchkiss/openclaw-hub/internal/admin"
)

// ContextKey is the type for context keys in this package.
type ContextKey string

const (
	// AdminKey is the context key for the authenticated admin.
	AdminKey ContextKey = "admin"
	// SessionTokenKey is the context key for the session token that
	// authenticated the request.
	SessionTokenKey ContextKey = "session_token"
)

// SessionHeader is accepted alongside "Authorization: Bearer <token>".
const SessionHeader = "X-Session-Token"

// SessionValidator resolves a session token to its admin.
type SessionValidator interface {
	ValidateSession(token string) (admin.Admin, error)
}

// AdminFromContext retrieves the authenticated admin from the request
// context.
func AdminFromContext(ctx context.Context) (admin.Admin, bool) {
	a, ok := ctx.Value(AdminKey).(admin.Admin)
	return a, ok
}

// SessionTokenFromContext returns the token of the current session, or "".
func SessionTokenFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(SessionTokenKey).(string); ok {
		return v
	}
	return ""
}

// WithAdmin stores a and its session token on ctx.
func WithAdmin(ctx context.Context, a admin.Admin, token string) context.Context {
	ctx = context.WithValue(ctx, AdminKey, a)
	return context.WithValue(ctx, SessionTokenKey, token)
}

// RequireAdmin rejects requests without a valid admin session with 401.
func RequireAdmin(sessions SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractSessionToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "missing session token")
				return
			}
			a, err := sessions.ValidateSession(token)
			if err != nil {
				switch {
				case errors.Is(err, admin.ErrSessionExpired):
					writeError(w, http.StatusUnauthorized, "session expired")
				case errors.Is(err, admin.ErrInactive):
					writeError(w, http.StatusForbidden, "admin is inactive")
				default:
					writeError(w, http.StatusUnauthorized, "invalid session")
				}
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAdmin(r.Context(), a, token)))
		})
	}
}

// RequirePermission rejects admins lacking perm with 403. It must run after
// RequireAdmin.
func RequirePermission(perm admin.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a, ok := AdminFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing session token")
				return
			}
			if !a.HasPermission(perm) {
				writeError(w, http.StatusForbidden, "permission denied: "+string(perm))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractSessionToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")); token != "" {
			return token
		}
	}
	return strings.TrimSpace(r.Header.Get(SessionHeader))
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
