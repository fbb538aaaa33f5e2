// Package llm implements the language-model backend.
//
// The router maps a model class (code_infra, analytics) to a model name,
// sends the prompt to one of the configured Ollama endpoints, and fails over
// to the next endpoint when one is unreachable. Endpoints are tried in order
// of their observed latency.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kloudping-venkat/DevopsMate/internal/apperr"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultCodeModel      = "qwen2.5-coder:32b"
	DefaultAnalyticsModel = "mixtral:8x7b"
	DefaultTimeout        = 60 * time.Second
)

// Config configures the model router.
type Config struct {
	Endpoints      []string
	CodeModel      string
	AnalyticsModel string
	Timeout        time.Duration
}

// Usage accumulates token counts per model.
type Usage struct {
	Model        string `json:"model"`
	Calls        int64  `json:"calls"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

type endpoint struct {
	url    string
	client *resty.Client
}

// ModelRouter routes completions to Ollama endpoints by model class.
type ModelRouter struct {
	endpoints []endpoint
	models    map[models.ModelClass]string
	timeout   time.Duration

	// endpoint url → rolling avg ms
	latencyMu sync.RWMutex
	latencies map[string]int64

	usageMu sync.Mutex
	usage   map[string]*Usage
}

// NewModelRouter creates a model router. No endpoints means the local
// default http://localhost:11434.
func NewModelRouter(cfg Config) *ModelRouter {
	if len(cfg.Endpoints) == 0 {
		cfg.Endpoints = []string{"http://localhost:11434"}
	}
	if cfg.CodeModel == "" {
		cfg.CodeModel = DefaultCodeModel
	}
	if cfg.AnalyticsModel == "" {
		cfg.AnalyticsModel = DefaultAnalyticsModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	mr := &ModelRouter{
		models: map[models.ModelClass]string{
			models.ModelCodeInfra: cfg.CodeModel,
			models.ModelAnalytics: cfg.AnalyticsModel,
		},
		timeout:   cfg.Timeout,
		latencies: make(map[string]int64),
		usage:     make(map[string]*Usage),
	}
	for _, u := range cfg.Endpoints {
		u = strings.TrimRight(u, "/")
		mr.endpoints = append(mr.endpoints, endpoint{
			url: u,
			client: resty.New().
				SetBaseURL(u).
				SetHeader("Content-Type", "application/json"),
		})
	}
	return mr
}

// ModelFor returns the model name serving a class. Unknown classes use the
// analytics model.
func (mr *ModelRouter) ModelFor(class models.ModelClass) string {
	if m, ok := mr.models[class]; ok {
		return m
	}
	return mr.models[models.ModelAnalytics]
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int64  `json:"prompt_eval_count"`
	EvalCount       int64  `json:"eval_count"`
}

// Complete sends prompt to the model serving class. Every attempt is bounded
// by the configured timeout. When all endpoints fail the error is
// apperr.KindBackendUnavailable.
func (mr *ModelRouter) Complete(ctx context.Context, prompt string, class models.ModelClass, temperature float64) (string, error) {
	model := mr.ModelFor(class)

	ctx, span := otel.Tracer("devopsmate").Start(ctx, "llm.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", model),
		attribute.String("llm.class", string(class)),
		attribute.Float64("llm.temperature", temperature),
	)

	var errs []error
	for _, ep := range mr.ordered() {
		out, err := mr.call(ctx, ep, model, prompt, temperature)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "cancelled")
			return "", ctx.Err()
		}
		log.Warn().Err(err).Str("endpoint", ep.url).Str("model", model).Msg("LLM endpoint failed, trying next")
		errs = append(errs, err)
	}

	err := apperr.Unavailable("llm.Complete", fmt.Errorf("all endpoints failed for %s: %w", model, errors.Join(errs...)))
	span.RecordError(err)
	span.SetStatus(codes.Error, "backend unavailable")
	return "", err
}

func (mr *ModelRouter) call(ctx context.Context, ep endpoint, model, prompt string, temperature float64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, mr.timeout)
	defer cancel()

	start := time.Now()
	var out generateResponse
	resp, err := ep.client.R().
		SetContext(ctx).
		SetBody(generateRequest{
			Model:   model,
			Prompt:  prompt,
			Options: map[string]any{"temperature": temperature},
		}).
		SetResult(&out).
		Post("/api/generate")
	if err != nil {
		return "", fmt.Errorf("ollama: request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("ollama: status %d: %s", resp.StatusCode(), resp.String())
	}

	mr.observe(ep.url, time.Since(start).Milliseconds())
	mr.track(model, out.PromptEvalCount, out.EvalCount)
	return strings.TrimSpace(out.Response), nil
}

// ordered returns endpoints fastest first. Unmeasured endpoints count as 1s
// and keep their configured order among equals.
func (mr *ModelRouter) ordered() []endpoint {
	eps := append([]endpoint(nil), mr.endpoints...)
	mr.latencyMu.RLock()
	defer mr.latencyMu.RUnlock()
	sort.SliceStable(eps, func(i, j int) bool {
		li, lj := mr.latencies[eps[i].url], mr.latencies[eps[j].url]
		if li == 0 {
			li = 1000
		}
		if lj == 0 {
			lj = 1000
		}
		return li < lj
	})
	return eps
}

func (mr *ModelRouter) observe(url string, ms int64) {
	mr.latencyMu.Lock()
	defer mr.latencyMu.Unlock()
	prev := mr.latencies[url]
	if prev == 0 {
		mr.latencies[url] = max(ms, 1)
		return
	}
	// Exponential moving average
	mr.latencies[url] = (prev*7 + ms*3) / 10
}

func (mr *ModelRouter) track(model string, in, out int64) {
	mr.usageMu.Lock()
	defer mr.usageMu.Unlock()
	u, ok := mr.usage[model]
	if !ok {
		u = &Usage{Model: model}
		mr.usage[model] = u
	}
	u.Calls++
	u.InputTokens += in
	u.OutputTokens += out
}

// Usage returns token usage per model, sorted by model name.
func (mr *ModelRouter) Usage() []Usage {
	mr.usageMu.Lock()
	defer mr.usageMu.Unlock()
	out := make([]Usage, 0, len(mr.usage))
	for _, u := range mr.usage {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// HealthCheck verifies at least one endpoint answers /api/tags.
func (mr *ModelRouter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var errs []error
	for _, ep := range mr.endpoints {
		resp, err := ep.client.R().SetContext(ctx).Get("/api/tags")
		if err == nil && !resp.IsError() {
			return nil
		}
		if err == nil {
			err = fmt.Errorf("ollama: status %d", resp.StatusCode())
		}
		errs = append(errs, fmt.Errorf("%s: %w", ep.url, err))
	}
	return apperr.Unavailable("llm.HealthCheck", errors.Join(errs...))
}
