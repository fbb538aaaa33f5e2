package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kloudping-venkat/DevopsMate/internal/approval"
	"github.com/kloudping-venkat/DevopsMate/internal/config"
	"github.com/kloudping-venkat/DevopsMate/internal/rag"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.FromEnv()
	cfg.DataDir = ""
	cfg.Store.Kind = "memory"
	cfg.Embeddings.Kind = "hash"
	cfg.Embeddings.Dimensions = 128
	cfg.VectorStore.Kind = "embedded"
	cfg.Executor.Kind = "dry-run"
	cfg.Telemetry.Enabled = false
	cfg.Auth.AdminKey = "root"
	cfg.Approval.SweepInterval = time.Second
	cfg.Retention.ArchiveDir = t.TempDir()
	return cfg
}

func TestNewWithConfig_ServesHealthAndModes(t *testing.T) {
	srv, err := NewWithConfig(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var health struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, map[string]string{"store": "ok", "embeddings": "ok", "vector_store": "ok"}, health.Checks)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/modes", nil)
	req.Header.Set("X-API-Key", "root")
	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewWithConfig_SeedsKnowledgeBasesOnce(t *testing.T) {
	cfg := testConfig(t)
	cfg.KnowledgeBases = []models.KnowledgeBase{{ID: "runbooks", Name: "Runbooks", Category: models.CategoryRunbooks}}

	srv, err := NewWithConfig(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	require.NoError(t, seedKnowledgeBases(context.Background(), srv.Engine, cfg.KnowledgeBases))
	kbs, err := srv.Engine.ListKnowledgeBases(context.Background())
	require.NoError(t, err)
	assert.Len(t, kbs, 1)
}

func TestNewWithConfig_RejectsBadPolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.Policies = append(cfg.Policies, approval.PolicyRule{Name: "broken", Expression: "action_type =="})
	_, err := NewWithConfig(context.Background(), cfg)
	assert.Error(t, err)
}

func TestStart_WatcherIngestsDirectory(t *testing.T) {
	dir := t.TempDir()
	content := "Drain the node before rotating its kubelet certificate."
	require.NoError(t, os.WriteFile(filepath.Join(dir, "certs.md"), []byte(content), 0o600))

	cfg := testConfig(t)
	cfg.KnowledgeBases = []models.KnowledgeBase{{ID: "runbooks", Name: "Runbooks", Category: models.CategoryRunbooks}}
	cfg.Watch = config.WatchConfig{KnowledgeBaseID: "runbooks", Dir: dir}

	srv, err := NewWithConfig(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv.Start(ctx)

	require.Eventually(t, func() bool {
		results := srv.Engine.Retrieve(ctx, rag.RetrieveRequest{
			Text:             content,
			KnowledgeBaseIDs: []string{"runbooks"},
			MinScore:         0.01,
		})
		for range results.All() {
			return true
		}
		return false
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	assert.NoError(t, srv.Shutdown(context.Background()))
}

func TestStart_ReindexesKnowledgeAfterRestart(t *testing.T) {
	cfg := testConfig(t)
	cfg.DataDir = t.TempDir()
	cfg.KnowledgeBases = []models.KnowledgeBase{{ID: "runbooks", Name: "Runbooks", Category: models.CategoryRunbooks}}
	content := "Rotate the ingress TLS certificate before it expires on Friday."

	first, err := NewWithConfig(context.Background(), cfg)
	require.NoError(t, err)
	_, err = first.Engine.Ingest(context.Background(), rag.DocumentInput{ID: "tls", KnowledgeBaseID: "runbooks", Title: "tls", Content: content})
	require.NoError(t, err)
	require.NoError(t, first.Shutdown(context.Background()))

	second, err := NewWithConfig(context.Background(), cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	second.Start(ctx)

	require.Eventually(t, func() bool {
		results := second.Engine.Retrieve(ctx, rag.RetrieveRequest{Text: content, KnowledgeBaseIDs: []string{"runbooks"}})
		for range results.All() {
			return true
		}
		return false
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	assert.NoError(t, second.Shutdown(context.Background()))
}
