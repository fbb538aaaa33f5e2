// Package contracts defines the boundaries between the DevopsMate core and
// the external systems it consumes.
//
// The core never talks to a model server, vector database, metrics API or
// deployment system directly. It goes through these interfaces, and the
// wiring code in pkg/server picks the concrete adapters.
package contracts

import (
	"context"
	"time"

	"github.com/kloudping-venkat/DevopsMate/internal/store"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
)

// Store is a type alias for the internal Store interface.
type Store = store.Store

// ErrNotFound is a type alias for the internal ErrNotFound error.
type ErrNotFound = store.ErrNotFound

// ── Language Model ──────────────────────────────────────────

// LLMBackend produces completions. Implementations must bound every call
// with a timeout and report failures as apperr.KindBackendUnavailable.
type LLMBackend interface {
	Complete(ctx context.Context, prompt string, class models.ModelClass, temperature float64) (string, error)
}

// ── Embeddings ──────────────────────────────────────────────

// EmbeddingDriver turns text into vectors.
type EmbeddingDriver interface {
	// Kind returns the driver identifier (e.g. "ollama", "hash").
	Kind() string

	// Dimensions is the length of every returned vector.
	Dimensions() int

	// MaxBatchSize is the most texts accepted by one Embed call.
	MaxBatchSize() int

	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float64, error)

	HealthCheck(ctx context.Context) error
}

// ── Vector Search ───────────────────────────────────────────

// VectorRecord is a vector stored under an id inside a knowledge base.
type VectorRecord struct {
	ID       string            `json:"id"`
	Vector   []float64         `json:"vector"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// VectorMatch is one search hit.
type VectorMatch struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// VectorStoreDriver is a similarity index partitioned by knowledge base.
type VectorStoreDriver interface {
	Kind() string
	Upsert(ctx context.Context, knowledgeBaseID string, records []VectorRecord) error
	Search(ctx context.Context, knowledgeBaseID string, vector []float64, topK int) ([]VectorMatch, error)
	Delete(ctx context.Context, knowledgeBaseID string, ids []string) error
	// Contains reports how many of ids are currently indexed.
	Contains(ctx context.Context, knowledgeBaseID string, ids []string) (int, error)
	HealthCheck(ctx context.Context) error
}

// ── Data Sources ────────────────────────────────────────────

type DataSourceKind string

const (
	SourceMetrics    DataSourceKind = "metrics"
	SourceLogs       DataSourceKind = "logs"
	SourceTopology   DataSourceKind = "topology"
	SourceRepository DataSourceKind = "repository"
	SourceCost       DataSourceKind = "cost"
	SourceSecurity   DataSourceKind = "security"
)

// DataRequest asks a source for facts relevant to a query.
type DataRequest struct {
	Query string    `json:"query"`
	Scope string    `json:"scope"`
	Since time.Time `json:"since,omitempty"`
	Limit int       `json:"limit,omitempty"`
}

// Fact is one structured observation returned by a data source.
type Fact struct {
	Source     string         `json:"source"`
	Kind       DataSourceKind `json:"kind"`
	Summary    string         `json:"summary"`
	Attributes map[string]any `json:"attributes,omitempty"`
	ObservedAt time.Time      `json:"observed_at"`
}

// DataSource is an opaque fact provider (metrics, logs, topology, repos).
type DataSource interface {
	Name() string
	Kind() DataSourceKind
	Fetch(ctx context.Context, req DataRequest) ([]Fact, error)
}

// ── Execution ───────────────────────────────────────────────

// ExecutionOutcome is what the backend reports for one action.
type ExecutionOutcome struct {
	Succeeded bool   `json:"succeeded"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ExecutionBackend applies an approved action to real infrastructure.
// It is only ever called for actions in the executing state.
type ExecutionBackend interface {
	Kind() string
	Execute(ctx context.Context, action *models.Action) (ExecutionOutcome, error)
}

// ── Notifications ───────────────────────────────────────────

// NotificationEvent is sent when an approval or action changes state.
type NotificationEvent struct {
	Type       string         `json:"type"`
	ActionID   string         `json:"action_id"`
	ApprovalID string         `json:"approval_id,omitempty"`
	Scope      string         `json:"scope,omitempty"`
	Status     string         `json:"status"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Notifier delivers events. Delivery is best-effort and never blocks a
// state transition.
type Notifier interface {
	Notify(ctx context.Context, event NotificationEvent)
}

// ── Health ──────────────────────────────────────────────────

// HealthChecker is a backend the /health endpoint reports on.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }
