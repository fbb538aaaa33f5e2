package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kloudping-venkat/DevopsMate/internal/apperr"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ollamaStub(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/generate":
			var req generateRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			json.NewEncoder(w).Encode(generateResponse{
				Response:        req.Model + ":" + reply,
				PromptEvalCount: 10,
				EvalCount:       5,
			})
		case "/api/tags":
			w.Write([]byte(`{"models":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestComplete_RoutesByModelClass(t *testing.T) {
	srv := ollamaStub(t, "ok")
	mr := NewModelRouter(Config{Endpoints: []string{srv.URL}, CodeModel: "coder", AnalyticsModel: "analyst"})

	out, err := mr.Complete(context.Background(), "hi", models.ModelCodeInfra, 0.5)
	require.NoError(t, err)
	assert.Equal(t, "coder:ok", out)

	out, err = mr.Complete(context.Background(), "hi", models.ModelAnalytics, 0.3)
	require.NoError(t, err)
	assert.Equal(t, "analyst:ok", out)

	usage := mr.Usage()
	require.Len(t, usage, 2)
	assert.Equal(t, int64(10), usage[0].InputTokens)
}

func TestComplete_FailsOverToNextEndpoint(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer down.Close()
	up := ollamaStub(t, "ok")

	mr := NewModelRouter(Config{Endpoints: []string{down.URL, up.URL}, AnalyticsModel: "m"})
	out, err := mr.Complete(context.Background(), "hi", models.ModelAnalytics, 0)
	require.NoError(t, err)
	assert.Equal(t, "m:ok", out)
}

func TestComplete_AllEndpointsDownIsUnavailable(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer down.Close()

	mr := NewModelRouter(Config{Endpoints: []string{down.URL}})
	_, err := mr.Complete(context.Background(), "hi", models.ModelAnalytics, 0)
	assert.True(t, errors.Is(err, apperr.ErrBackendUnavailable))
}

func TestComplete_TimeoutIsBounded(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	mr := NewModelRouter(Config{Endpoints: []string{slow.URL}, Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := mr.Complete(context.Background(), "hi", models.ModelAnalytics, 0)
	assert.True(t, errors.Is(err, apperr.ErrBackendUnavailable))
	assert.Less(t, time.Since(start), time.Second)
}

func TestHealthCheck(t *testing.T) {
	srv := ollamaStub(t, "")
	mr := NewModelRouter(Config{Endpoints: []string{srv.URL}})
	assert.NoError(t, mr.HealthCheck(context.Background()))
}
