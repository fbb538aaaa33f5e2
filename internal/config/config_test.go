package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("DEVOPSMATE_CONFIG", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "memory", cfg.Store.Kind)
	assert.Equal(t, "hash", cfg.Embeddings.Kind)
	assert.Equal(t, "dry-run", cfg.Executor.Kind)
	assert.Equal(t, 30*time.Minute, cfg.Approval.TTL)
	assert.True(t, cfg.Auth.RequireAuth)
	assert.Equal(t, 30*24*time.Hour, cfg.Retention.Retention)
	assert.Equal(t, 24*time.Hour, cfg.Retention.IdleTimeout)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("DEVOPSMATE_PORT", "9090")
	t.Setenv("DEVOPSMATE_APPROVAL_TTL", "5m")
	t.Setenv("DEVOPSMATE_RATE_LIMIT", "2.5")
	t.Setenv("DEVOPSMATE_OLLAMA_ENDPOINTS", "http://a:11434, http://b:11434")
	t.Setenv("DEVOPSMATE_MODEL_CLASSIFIER", "true")
	t.Setenv("DEVOPSMATE_BRANCH_TIMEOUT", "not-a-duration")

	cfg := FromEnv()
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.Approval.TTL)
	assert.Equal(t, 2.5, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, []string{"http://a:11434", "http://b:11434"}, cfg.LLM.Endpoints)
	assert.True(t, cfg.LLM.ModelClassifier)
	assert.Equal(t, 45*time.Second, cfg.Collab.BranchTimeout, "bad values fall back")
}

const sample = `
port: 7070
approval:
  ttl: 10m
principals:
  - id: alice
    permissions: ["ask:*", "plan:*"]
    scopes: ["production"]
    api_keys: ["alice-key"]
  - id: lead
    permissions: ["approve:production:*"]
    scopes: ["production"]
    api_keys: ["lead-key"]
data_sources:
  - name: prod-metrics
    type: static
    kind: metrics
    facts:
      - scope: production
        summary: checkout p99 180ms
        keywords: [checkout]
policies:
  - name: business_hours
    expression: 'action_type != "deploy" || scope != "production"'
notifications:
  - name: ops
    kind: webhook
    url: http://hooks.local/ops
    events: [approval_pending]
guardrails:
  - kind: max_length
    config:
      max_characters: 500
`

func TestApplyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devopsmate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	t.Setenv("DEVOPSMATE_CONFIG", path)
	t.Setenv("DEVOPSMATE_ADMIN_KEY", "root-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, 10*time.Minute, cfg.Approval.TTL)
	assert.Equal(t, "hash", cfg.Embeddings.Kind, "unset sections keep env defaults")

	require.Len(t, cfg.Principals, 2)
	assert.Equal(t, []string{"ask:*", "plan:*"}, cfg.Principals[0].Permissions)

	keys := cfg.APIKeys()
	assert.Equal(t, "alice", keys["alice-key"].ID)
	assert.True(t, keys["lead-key"].CanApprove("production", models.ActionDeploy))
	assert.True(t, keys["root-key"].Can(models.ModeExecute, models.CapDeploy))
	assert.True(t, keys["root-key"].InScope("anything"))

	require.Len(t, cfg.DataSources, 1)
	assert.Equal(t, "checkout p99 180ms", cfg.DataSources[0].Facts[0].Summary)
	require.Len(t, cfg.Policies, 1)
	require.Len(t, cfg.Notifications, 1)
	assert.Equal(t, []string{"approval_pending"}, cfg.Notifications[0].Events)
	require.Len(t, cfg.Guardrails, 1)
	assert.EqualValues(t, 500, cfg.Guardrails[0].Config["max_characters"])
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"store kind", func(c *Config) { c.Store.Kind = "redis" }},
		{"pgvector without url", func(c *Config) { c.VectorStore.Kind = "pgvector"; c.VectorStore.URL = "" }},
		{"watch half set", func(c *Config) { c.Watch.Dir = "/tmp/runbooks" }},
		{"duplicate key", func(c *Config) {
			c.Principals = []PrincipalConfig{
				{Principal: models.Principal{ID: "a"}, APIKeys: []string{"k"}},
				{Principal: models.Principal{ID: "b"}, APIKeys: []string{"k"}},
			}
		}},
		{"http source without url", func(c *Config) {
			c.DataSources = []DataSourceConfig{{Name: "m", Type: "http", Kind: "metrics"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := FromEnv()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
