package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

type contextKey string

// IdentityKey is the context key used to store the caller's identity.
const IdentityKey contextKey = "identity"

// Headers set by the gateway in front of this service.
const (
	TenantHeader = "X-Tenant-ID"
	UserHeader   = "X-User-ID"
)

// Identity is the tenant and user a request acts for.
type Identity struct {
	TenantID string
	UserID   string
}

// RequireIdentity reads the identity the gateway asserted in the request headers and stores it in the
// request context. Requests without both headers get 401 Unauthorized.
func RequireIdentity(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := Identity{
				TenantID: strings.TrimSpace(r.Header.Get(TenantHeader)),
				UserID:   strings.TrimSpace(r.Header.Get(UserHeader)),
			}

			if identity.TenantID == "" || identity.UserID == "" {
				log.Debug().Str("path", r.URL.Path).Msg("missing identity headers")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// GetIdentityFromContext returns the identity stored by RequireIdentity.
func GetIdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(IdentityKey).(Identity)
	return identity, ok
}
