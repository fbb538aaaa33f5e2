package middleware

import (
	"net/http"
	"strings"

	pkgmw "github.com/kloudping-venkat/DevopsMate/pkg/middleware"
)

// ScopeHeader names the environment a request targets.
const ScopeHeader = "X-DevopsMate-Scope"

// ScopeExtractor resolves the scope a request targets. It checks the
// X-DevopsMate-Scope header, then the scope query parameter, and falls back
// to defaultScope. A scope in the request body still wins in the handlers.
func ScopeExtractor(defaultScope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope := strings.TrimSpace(r.Header.Get(ScopeHeader))
			if scope == "" {
				scope = strings.TrimSpace(r.URL.Query().Get("scope"))
			}
			if scope == "" {
				scope = defaultScope
			}
			noteScope(r, scope)
			next.ServeHTTP(w, r.WithContext(pkgmw.SetScope(r.Context(), scope)))
		})
	}
}
