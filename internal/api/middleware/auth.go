package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	pkgmw "github.com/kloudping-venkat/DevopsMate/pkg/middleware"
	"github.com/rs/zerolog/log"
)

// AuthMiddleware authenticates requests through the AuthProviderChain and
// stores the resulting Identity in the request context. The router reads
// the Principal from there; a query never names its own principal.
type AuthMiddleware struct {
	chain       contracts.AuthProviderChain
	requireAuth bool
}

// NewAuthMiddleware creates the auth middleware. With requireAuth set,
// unauthenticated requests to non-public paths are rejected.
func NewAuthMiddleware(chain contracts.AuthProviderChain, requireAuth bool) *AuthMiddleware {
	return &AuthMiddleware{
		chain:       chain,
		requireAuth: requireAuth,
	}
}

// Handler returns the HTTP handler middleware that authenticates requests.
func (am *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAuthPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := am.chain.Authenticate(r.Context(), r)
		if err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("Authentication failed")
			unauthorized(w, "authentication_failed", err.Error())
			return
		}

		if identity == nil && am.requireAuth {
			unauthorized(w, "authentication_required",
				"This endpoint requires authentication. Set Authorization: Bearer <key>, X-API-Key, or X-Service-Token header.")
			return
		}

		if identity != nil {
			notePrincipal(r, identity.Principal.ID)
		}
		next.ServeHTTP(w, r.WithContext(pkgmw.SetIdentity(r.Context(), identity)))
	})
}

func unauthorized(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="devopsmate"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}

// isAuthPublicPath returns true for paths that should skip authentication.
func isAuthPublicPath(path string) bool {
	switch path {
	case "/health", "/version":
		return true
	}
	return false
}
