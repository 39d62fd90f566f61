package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/torva/torva/internal/procedure"
	"github.com/torva/torva/internal/storage"
)

// SessionLookup resolves a session token to a live session.
type SessionLookup interface {
	LookupSession(ctx context.Context, token string) (*storage.Session, error)
}

// Authenticate attaches the caller behind the bearer token to the request
// context. The API token yields a service caller; a live session token yields
// a customer caller. Requests without an Authorization header pass through
// unauthenticated so public procedures keep working.
func Authenticate(token string, sessions SessionLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				next.ServeHTTP(w, r)
				return
			}
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || len(auth) == len(prefix) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid bearer token")
				return
			}
			bearer := auth[len(prefix):]

			if token != "" && subtle.ConstantTimeCompare([]byte(bearer), []byte(token)) == 1 {
				ctx := procedure.WithCaller(r.Context(), procedure.Caller{Kind: procedure.CallerService})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			if sessions == nil {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid bearer token")
				return
			}

			se, err := sessions.LookupSession(r.Context(), bearer)
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or expired session token")
				return
			}
			if err != nil {
				code, errType := errorStatus(err)
				httpError(w, code, errType, "looking up session: %v", err)
				return
			}
			ctx := procedure.WithCaller(r.Context(), procedure.Caller{
				Kind:       procedure.CallerCustomer,
				CustomerID: se.UserID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
