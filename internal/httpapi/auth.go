package httpapi

import (
	"context"
	"net/http"

	"github.com/cuemby/warrenguard/internal/model"
)

// PrincipalResolver is the internal/principal seam this boundary needs.
type PrincipalResolver interface {
	Authenticate(ctx context.Context, rawKey, clientIP string) (*model.Principal, string, error)
}

// requireAuth resolves X-API-Key into a Principal and rejects the request
// on any authentication failure. The health probes are registered
// without this middleware and accept anonymous callers; every other route
// sits behind it.
func requireAuth(resolver PrincipalResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get("X-API-Key")
			principal, _, err := resolver.Authenticate(r.Context(), rawKey, clientIP(r))
			if err != nil {
				writeError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyPrincipal, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func mfaToken(r *http.Request) string {
	return r.Header.Get("X-MFA-Token")
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host := r.RemoteAddr
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
	}
	return host
}
