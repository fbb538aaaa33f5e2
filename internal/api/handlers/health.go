package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// DefaultHealthTimeout bounds each backend check.
const DefaultHealthTimeout = 2 * time.Second

// Health reports the status of the backends the server depends on.
// GET /health returns 200 when every check passes and 503 otherwise.
type Health struct {
	Checks  map[string]contracts.HealthChecker
	Timeout time.Duration
}

type healthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Checks  map[string]string `json:"checks,omitempty"`
}

func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultHealthTimeout
	}

	resp := healthResponse{Status: "healthy", Service: "devopsmate"}
	if len(h.Checks) > 0 {
		resp.Checks = make(map[string]string, len(h.Checks))
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, c := range h.Checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			err := c.HealthCheck(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				resp.Status = "degraded"
				resp.Checks[name] = "error: " + err.Error()
				log.Warn().Err(err).Str("check", name).Msg("Health check failed")
				return
			}
			resp.Checks[name] = "ok"
		}()
	}
	wg.Wait()

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}
