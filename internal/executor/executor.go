// Package executor provides the execution backends that apply approved
// actions.
//
// DevopsMate never mutates infrastructure itself. An approved action is
// either forwarded to an external executor over HTTP (a deployment
// service, a CI trigger, an operator webhook) or recorded in dry-run mode:
//
//	approval.Workflow → Backend.Execute(action) → ExecutionOutcome
//
// Backends are only called for actions in the executing state.
package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kloudping-venkat/DevopsMate/internal/apperr"
	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds one call to an HTTP executor.
const DefaultTimeout = 5 * time.Minute

// Config selects and configures a backend.
type Config struct {
	Kind    string        // "http" or "dry-run"
	URL     string        // base URL of the HTTP executor
	Token   string        // bearer token for the HTTP executor
	Timeout time.Duration // per-call bound
}

// New returns the backend cfg describes. Unknown or empty kinds fall back
// to dry-run.
func New(cfg Config) (contracts.ExecutionBackend, error) {
	switch strings.ToLower(cfg.Kind) {
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("http executor requires a URL")
		}
		return NewHTTPBackend(cfg.URL, cfg.Token, cfg.Timeout), nil
	case "", "dry-run", "dryrun":
		return NewDryRunBackend(), nil
	default:
		return nil, fmt.Errorf("unknown executor kind %q", cfg.Kind)
	}
}

// ── HTTP ────────────────────────────────────────────────────

// executeRequest is the payload sent to an HTTP executor.
type executeRequest struct {
	ActionID    string            `json:"action_id"`
	Type        string            `json:"type"`
	Target      models.Target     `json:"target"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	RequestedBy string            `json:"requested_by"`
}

// HTTPBackend forwards actions to an external executor. It expects
// POST {base}/v1/actions to answer with an ExecutionOutcome.
type HTTPBackend struct {
	client *resty.Client
}

// NewHTTPBackend creates an HTTP execution backend.
func NewHTTPBackend(baseURL, token string, timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &HTTPBackend{client: c}
}

func (b *HTTPBackend) Kind() string { return "http" }

// Execute posts the action. A non-2xx reply with a parseable outcome is a
// reported failure; transport errors are BackendUnavailable. Neither is
// retried.
func (b *HTTPBackend) Execute(ctx context.Context, action *models.Action) (contracts.ExecutionOutcome, error) {
	var out contracts.ExecutionOutcome
	resp, err := b.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", action.ID).
		SetBody(executeRequest{
			ActionID:    action.ID,
			Type:        string(action.Type),
			Target:      action.Target,
			Parameters:  action.Parameters,
			RequestedBy: action.RequestedBy,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/v1/actions")
	if err != nil {
		return contracts.ExecutionOutcome{}, apperr.Unavailable("executor.http", err)
	}
	if resp.IsError() {
		if out.Error == "" {
			out.Error = fmt.Sprintf("executor returned %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
		}
		out.Succeeded = false
		return out, nil
	}

	log.Debug().Str("action", action.ID).Bool("succeeded", out.Succeeded).Msg("HTTP executor replied")
	return out, nil
}

// ── Dry run ─────────────────────────────────────────────────

// DryRunBackend records actions without applying them.
type DryRunBackend struct {
	mu       sync.Mutex
	executed []models.Action
	failures map[models.ActionType]string
}

// NewDryRunBackend creates a dry-run backend.
func NewDryRunBackend() *DryRunBackend {
	return &DryRunBackend{failures: make(map[models.ActionType]string)}
}

func (b *DryRunBackend) Kind() string { return "dry-run" }

// FailOn makes every action of type t report failure with msg.
func (b *DryRunBackend) FailOn(t models.ActionType, msg string) {
	b.mu.Lock()
	b.failures[t] = msg
	b.mu.Unlock()
}

// Execute records the action and describes what would have happened.
func (b *DryRunBackend) Execute(_ context.Context, action *models.Action) (contracts.ExecutionOutcome, error) {
	b.mu.Lock()
	b.executed = append(b.executed, *action)
	msg, fail := b.failures[action.Type]
	b.mu.Unlock()

	log.Info().
		Str("action", action.ID).
		Str("type", string(action.Type)).
		Str("target", action.Target.Name).
		Str("scope", action.Target.Scope).
		Msg("🧪 Dry-run execution")

	if fail {
		return contracts.ExecutionOutcome{Succeeded: false, Error: msg}, nil
	}
	return contracts.ExecutionOutcome{Succeeded: true, Output: describe(action)}, nil
}

// Executed returns the actions seen so far, oldest first.
func (b *DryRunBackend) Executed() []models.Action {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Action(nil), b.executed...)
}

func describe(a *models.Action) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "dry-run: would %s %s %s in %s", a.Type, a.Target.Kind, a.Target.Name, a.Target.Scope)
	if len(a.Parameters) > 0 {
		keys := make([]string, 0, len(a.Parameters))
		for k := range a.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+a.Parameters[k])
		}
		sb.WriteString(" (" + strings.Join(parts, ", ") + ")")
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
