// Package middleware provides HTTP middleware for the Control Surface.
package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// PrincipalHeader is the header an upstream gateway sets once it has
// already authenticated the caller. The Control Surface trusts it at face
// value and performs no credential verification of its own; that is the
// responsibility of whatever boundary terminates external access.
const PrincipalHeader = "X-Watchtower-Principal"

type principalKey struct{}

// Principal identifies the already-authenticated caller.
type Principal struct {
	ID string
}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the Principal stored by Auth, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Auth extracts the principal from PrincipalHeader and stores it in the
// request context. It never rejects a request by itself; RequireAuth does
// that for the handlers that need it.
func Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(PrincipalHeader); id != "" {
			r = r.WithContext(WithPrincipal(r.Context(), Principal{ID: id}))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth rejects any request without a principal. Applied only to
// mutating operations; read-only endpoints stay open.
func RequireAuth(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := PrincipalFromContext(r.Context()); !ok {
				logger.Warn("rejected mutating request without a principal",
					"remote_addr", r.RemoteAddr, "path", r.URL.Path, "method", r.Method)
				writeJSONError(w, http.StatusUnauthorized, "auth_required", "a principal is required for this operation")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
