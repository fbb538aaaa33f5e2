// Package config loads DevopsMate configuration from DEVOPSMATE_* environment
// variables, optionally overlaid with a YAML file named by DEVOPSMATE_CONFIG.
//
// The environment covers scalar settings. The YAML file additionally declares
// the things that do not fit in a variable: principals and their API keys,
// specialist definitions, data sources, knowledge bases, approval policies,
// notification channels and guardrail rules. Values present in the file win
// over the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kloudping-venkat/DevopsMate/internal/approval"
	"github.com/kloudping-venkat/DevopsMate/internal/datasource"
	"github.com/kloudping-venkat/DevopsMate/internal/guardrails"
	"github.com/kloudping-venkat/DevopsMate/internal/notify"
	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the DevopsMate server.
type Config struct {
	Port     int    `yaml:"port"`
	Version  string `yaml:"-"`
	LogLevel string `yaml:"log_level"`
	DataDir  string `yaml:"data_dir"`

	Store       StoreConfig       `yaml:"store"`
	LLM         LLMConfig         `yaml:"llm"`
	Embeddings  EmbeddingConfig   `yaml:"embeddings"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Auth        AuthConfig        `yaml:"auth"`
	Approval    ApprovalConfig    `yaml:"approval"`
	Collab      CollabConfig      `yaml:"collaboration"`
	Executor    ExecutorConfig    `yaml:"executor"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Watch       WatchConfig       `yaml:"watch"`
	Retention   RetentionConfig   `yaml:"retention"`
	CORSOrigins []string          `yaml:"cors_origins"`

	Principals      []PrincipalConfig       `yaml:"principals"`
	Specializations []models.Specialization `yaml:"specializations"`
	DataSources     []DataSourceConfig      `yaml:"data_sources"`
	KnowledgeBases  []models.KnowledgeBase  `yaml:"knowledge_bases"`
	Policies        []approval.PolicyRule   `yaml:"policies"`
	Notifications   []notify.Channel        `yaml:"notifications"`
	Guardrails      []guardrails.Rule       `yaml:"guardrails"`
}

type StoreConfig struct {
	Kind string `yaml:"kind"` // "memory" or "sqlite"
	Path string `yaml:"path"` // sqlite database file
}

type LLMConfig struct {
	Endpoints       []string      `yaml:"endpoints"`
	CodeModel       string        `yaml:"code_model"`
	AnalyticsModel  string        `yaml:"analytics_model"`
	Timeout         time.Duration `yaml:"timeout"`
	ModelClassifier bool          `yaml:"model_classifier"` // model fallback in the router
}

type EmbeddingConfig struct {
	Kind       string        `yaml:"kind"` // "hash" or "ollama"
	Endpoint   string        `yaml:"endpoint"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	BatchSize  int           `yaml:"batch_size"`
	Timeout    time.Duration `yaml:"timeout"`
}

type VectorStoreConfig struct {
	Kind       string `yaml:"kind"` // "embedded" or "pgvector"
	URL        string `yaml:"url"`
	MaxVectors int    `yaml:"max_vectors"`
}

type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

type AuthConfig struct {
	RequireAuth          bool   `yaml:"require_auth"`
	ServiceAccountSecret string `yaml:"service_account_secret"`
	AdminKey             string `yaml:"admin_key"`
	DefaultScope         string `yaml:"default_scope"`
}

type ApprovalConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type CollabConfig struct {
	BranchTimeout time.Duration `yaml:"branch_timeout"`
}

type ExecutorConfig struct {
	Kind    string        `yaml:"kind"` // "dry-run" or "http"
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"` // 0 disables limiting
	Burst             int     `yaml:"burst"`
}

// WatchConfig keeps a knowledge base in sync with a directory.
type WatchConfig struct {
	KnowledgeBaseID string   `yaml:"knowledge_base_id"`
	Dir             string   `yaml:"dir"`
	Extensions      []string `yaml:"extensions"`
}

// RetentionConfig bounds session history. An empty ArchiveDir purges
// expired sessions without archiving them.
type RetentionConfig struct {
	Interval    time.Duration `yaml:"interval"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	Retention   time.Duration `yaml:"retention"`
	ArchiveDir  string        `yaml:"archive_dir"`
	Compress    bool          `yaml:"compress"`
}

// PrincipalConfig is a principal plus the API keys that authenticate it.
type PrincipalConfig struct {
	models.Principal `yaml:",inline"`
	APIKeys          []string `yaml:"api_keys"`
}

// DataSourceConfig declares one data source. Kind "static" serves Facts;
// anything else is fetched over HTTP from URL.
type DataSourceConfig struct {
	Name    string                   `yaml:"name"`
	Type    string                   `yaml:"type"` // "http" or "static"
	Kind    contracts.DataSourceKind `yaml:"kind"`
	URL     string                   `yaml:"url"`
	Token   string                   `yaml:"token"`
	Timeout time.Duration            `yaml:"timeout"`
	Facts   []datasource.StaticFact  `yaml:"facts"`
}

// Load reads configuration from environment variables with sensible
// defaults, then applies the YAML file named by DEVOPSMATE_CONFIG.
func Load() (*Config, error) {
	cfg := FromEnv()
	if path := os.Getenv("DEVOPSMATE_CONFIG"); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv reads the environment only.
func FromEnv() *Config {
	dataDir := envStr("DEVOPSMATE_DATA_DIR", defaultDataDir())
	return &Config{
		Port:     envInt("DEVOPSMATE_PORT", 8080),
		Version:  envStr("DEVOPSMATE_VERSION", "0.1.0"),
		LogLevel: envStr("DEVOPSMATE_LOG_LEVEL", "info"),
		DataDir:  dataDir,
		Store: StoreConfig{
			Kind: envStr("DEVOPSMATE_STORE", "memory"),
			Path: envStr("DEVOPSMATE_SQLITE_PATH", dataDir+"/devopsmate.db"),
		},
		LLM: LLMConfig{
			Endpoints:       envList("DEVOPSMATE_OLLAMA_ENDPOINTS"),
			CodeModel:       envStr("DEVOPSMATE_CODE_MODEL", ""),
			AnalyticsModel:  envStr("DEVOPSMATE_ANALYTICS_MODEL", ""),
			Timeout:         envDuration("DEVOPSMATE_LLM_TIMEOUT", 60*time.Second),
			ModelClassifier: envBool("DEVOPSMATE_MODEL_CLASSIFIER", false),
		},
		Embeddings: EmbeddingConfig{
			Kind:       envStr("DEVOPSMATE_EMBEDDINGS", "hash"),
			Endpoint:   envStr("DEVOPSMATE_EMBEDDING_ENDPOINT", "http://localhost:11434"),
			Model:      envStr("DEVOPSMATE_EMBEDDING_MODEL", "nomic-embed-text"),
			Dimensions: envInt("DEVOPSMATE_EMBEDDING_DIMS", 768),
			BatchSize:  envInt("DEVOPSMATE_EMBEDDING_BATCH", 32),
			Timeout:    envDuration("DEVOPSMATE_EMBEDDING_TIMEOUT", 30*time.Second),
		},
		VectorStore: VectorStoreConfig{
			Kind:       envStr("DEVOPSMATE_VECTOR_STORE", "embedded"),
			URL:        envStr("DATABASE_URL", ""),
			MaxVectors: envInt("DEVOPSMATE_MAX_VECTORS", 0),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "devopsmate"),
		},
		Auth: AuthConfig{
			RequireAuth:          envBool("DEVOPSMATE_REQUIRE_AUTH", true),
			ServiceAccountSecret: envStr("DEVOPSMATE_SA_SECRET", ""),
			AdminKey:             envStr("DEVOPSMATE_ADMIN_KEY", ""),
			DefaultScope:         envStr("DEVOPSMATE_DEFAULT_SCOPE", "production"),
		},
		Approval: ApprovalConfig{
			TTL:           envDuration("DEVOPSMATE_APPROVAL_TTL", approval.DefaultTTL),
			SweepInterval: envDuration("DEVOPSMATE_SWEEP_INTERVAL", time.Minute),
		},
		Collab: CollabConfig{
			BranchTimeout: envDuration("DEVOPSMATE_BRANCH_TIMEOUT", 45*time.Second),
		},
		Executor: ExecutorConfig{
			Kind:    envStr("DEVOPSMATE_EXECUTOR", "dry-run"),
			URL:     envStr("DEVOPSMATE_EXECUTOR_URL", ""),
			Token:   envStr("DEVOPSMATE_EXECUTOR_TOKEN", ""),
			Timeout: envDuration("DEVOPSMATE_EXECUTOR_TIMEOUT", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloat("DEVOPSMATE_RATE_LIMIT", 5),
			Burst:             envInt("DEVOPSMATE_RATE_BURST", 20),
		},
		Watch: WatchConfig{
			KnowledgeBaseID: envStr("DEVOPSMATE_WATCH_KB", ""),
			Dir:             envStr("DEVOPSMATE_WATCH_DIR", ""),
			Extensions:      envList("DEVOPSMATE_WATCH_EXTENSIONS"),
		},
		Retention: RetentionConfig{
			Interval:    envDuration("DEVOPSMATE_RETENTION_INTERVAL", time.Hour),
			IdleTimeout: envDuration("DEVOPSMATE_SESSION_IDLE_TIMEOUT", 24*time.Hour),
			Retention:   envDuration("DEVOPSMATE_SESSION_RETENTION", 30*24*time.Hour),
			ArchiveDir:  envStr("DEVOPSMATE_ARCHIVE_DIR", dataDir+"/archive"),
			Compress:    envBool("DEVOPSMATE_ARCHIVE_COMPRESS", true),
		},
		CORSOrigins: envList("DEVOPSMATE_CORS_ORIGINS"),
	}
}

// ApplyFile overlays the YAML file at path.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Kind {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("store: unknown kind %q", c.Store.Kind)
	}
	switch c.Embeddings.Kind {
	case "hash", "ollama":
	default:
		return fmt.Errorf("embeddings: unknown kind %q", c.Embeddings.Kind)
	}
	switch c.VectorStore.Kind {
	case "embedded":
	case "pgvector":
		if c.VectorStore.URL == "" {
			return fmt.Errorf("vector_store: pgvector needs a url")
		}
	default:
		return fmt.Errorf("vector_store: unknown kind %q", c.VectorStore.Kind)
	}
	if (c.Watch.Dir == "") != (c.Watch.KnowledgeBaseID == "") {
		return fmt.Errorf("watch: dir and knowledge_base_id must be set together")
	}

	seen := map[string]bool{}
	for _, p := range c.Principals {
		if p.ID == "" {
			return fmt.Errorf("principals: entry without id")
		}
		for _, k := range p.APIKeys {
			if seen[k] {
				return fmt.Errorf("principals: api key of %s is already assigned", p.ID)
			}
			seen[k] = true
		}
	}
	for _, ds := range c.DataSources {
		if ds.Name == "" || ds.Kind == "" {
			return fmt.Errorf("data_sources: name and kind are required")
		}
		if ds.Type != "static" && ds.URL == "" {
			return fmt.Errorf("data_sources: %s needs a url", ds.Name)
		}
	}
	return nil
}

// APIKeys maps every configured key to its principal. The admin key, when
// set, maps to a principal holding every permission in every scope.
func (c *Config) APIKeys() map[string]models.Principal {
	keys := make(map[string]models.Principal)
	for _, p := range c.Principals {
		for _, k := range p.APIKeys {
			keys[k] = p.Principal
		}
	}
	if c.Auth.AdminKey != "" {
		keys[c.Auth.AdminKey] = AdminPrincipal()
	}
	return keys
}

// AdminPrincipal holds every mode, approval and knowledge permission in
// every scope.
func AdminPrincipal() models.Principal {
	perms := []string{"approve:*", models.PermManageKnowledge}
	for _, m := range models.AllModes() {
		perms = append(perms, m.String()+":*")
	}
	return models.Principal{ID: "admin", DisplayName: "Administrator", Permissions: perms, Scopes: []string{"*"}}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.devopsmate"
	}
	return ".devopsmate"
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
