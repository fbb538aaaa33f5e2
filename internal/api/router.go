package api

import (
	"encoding/json"
	"net/http"

	"github.com/kloudping-venkat/DevopsMate/internal/api/handlers"
	"github.com/kloudping-venkat/DevopsMate/internal/api/middleware"
	"github.com/kloudping-venkat/DevopsMate/internal/config"
	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes. health lists the
// backends /health checks; nil reports the process only.
func NewRouter(cfg *config.Config, h *handlers.Handlers, rh *handlers.RAGHandlers, chain contracts.AuthProviderChain, health map[string]contracts.HealthChecker) http.Handler {
	r := chi.NewRouter()

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.ScopeExtractor(cfg.Auth.DefaultScope))
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Service-Token", middleware.ScopeHeader, "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.NewAuthMiddleware(chain, cfg.Auth.RequireAuth).Handler)
	r.Use(middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst).Handler)

	// Health & info
	r.Method(http.MethodGet, "/health", &handlers.Health{Checks: health})
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/modes", h.ListModes)
		r.Post("/queries", h.SubmitQuery)

		r.Route("/sessions/{sessionId}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Post("/close", h.CloseSession)
		})

		r.Get("/approvals", h.ListApprovals)
		r.Route("/actions/{actionId}", func(r chi.Router) {
			r.Get("/", h.GetAction)
			r.Post("/decision", h.DecideAction)
		})

		if rh != nil {
			r.Route("/knowledge-bases", func(r chi.Router) {
				r.Get("/", rh.ListKnowledgeBases)
				r.Post("/", rh.CreateKnowledgeBase)
				r.Post("/{kbId}/documents", rh.IngestDocument)
			})
			r.Post("/knowledge/search", rh.Search)
		}
	})

	return r
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "devopsmate",
		})
	}
}
