package middleware

import (
	"net/http"

	shopGuard "github.com/MrEthical07/shopGuard"
	"go.uber.org/zap"
)

// Authenticate rejects requests without a valid access token with 401.
func Authenticate(gate *shopGuard.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if gate == nil {
				writeError(w, http.StatusUnauthorized, msgAuthRequired)
				return
			}
			r, _, err := gate.AuthenticateRequest(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, msgAuthRequired)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// OptionalAuthenticate attaches an identity when credentials are present
// and valid. Anonymous requests pass through; bad credentials still get 401
// so an expired session is not silently downgraded to a guest.
func OptionalAuthenticate(gate *shopGuard.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if gate == nil || !gate.HasCredentials(r) {
				next.ServeHTTP(w, r)
				return
			}
			r, _, err := gate.AuthenticateRequest(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, msgAuthRequired)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole allows only identities holding one of roles. It must run after
// Authenticate; a missing identity is 401, a wrong role 403.
func RequireRole(gate *shopGuard.Gate, roles ...string) func(http.Handler) http.Handler {
	return requireIdentity(gate, "role", func(id *shopGuard.Identity) bool { return id.HasRole(roles...) })
}

// RequireLevel allows identities at level or above.
func RequireLevel(gate *shopGuard.Gate, level int) func(http.Handler) http.Handler {
	return requireIdentity(gate, "level", func(id *shopGuard.Identity) bool { return id.Level >= level })
}

func requireIdentity(gate *shopGuard.Gate, check string, ok func(*shopGuard.Identity) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, found := shopGuard.IdentityFromContext(r.Context())
			if !found {
				writeError(w, http.StatusUnauthorized, msgAuthRequired)
				return
			}
			if !ok(id) {
				gate.Logger().Warn("authorization denied",
					zap.String("check", check),
					zap.String("subject", id.Subject),
					zap.String("role", id.Role),
					zap.String("path", r.URL.Path),
				)
				writeError(w, http.StatusForbidden, msgForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
