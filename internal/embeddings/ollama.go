package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kloudping-venkat/DevopsMate/internal/apperr"
)

// OllamaDriver implements EmbeddingDriver for Ollama's local embedding API.
// Supports nomic-embed-text (768d), mxbai-embed-large (1024d), all-minilm (384d).
type OllamaDriver struct {
	model      string
	dimensions int
	batchSize  int
	client     *resty.Client
}

// OllamaOption configures the Ollama driver.
type OllamaOption func(*OllamaDriver)

// WithOllamaBatchSize sets the max texts per Embed call.
func WithOllamaBatchSize(size int) OllamaOption {
	return func(d *OllamaDriver) { d.batchSize = size }
}

// WithOllamaTimeout bounds every embed request.
func WithOllamaTimeout(timeout time.Duration) OllamaOption {
	return func(d *OllamaDriver) { d.client.SetTimeout(timeout) }
}

// NewOllamaDriver creates an Ollama embedding driver.
func NewOllamaDriver(endpoint, model string, opts ...OllamaOption) *OllamaDriver {
	dims := 768
	switch model {
	case "mxbai-embed-large":
		dims = 1024
	case "all-minilm", "all-minilm:l6-v2":
		dims = 384
	}

	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}

	d := &OllamaDriver{
		model:      model,
		dimensions: dims,
		batchSize:  64,
		client: resty.New().
			SetBaseURL(endpoint).
			SetTimeout(60 * time.Second).
			SetHeader("Content-Type", "application/json"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *OllamaDriver) Kind() string      { return "ollama" }
func (d *OllamaDriver) Dimensions() int   { return d.dimensions }
func (d *OllamaDriver) MaxBatchSize() int { return d.batchSize }

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// Embed generates vector embeddings through /api/embed.
func (d *OllamaDriver) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > d.batchSize {
		return nil, apperr.Validation("embeddings.Ollama", "batch size %d exceeds max %d", len(texts), d.batchSize)
	}

	var result ollamaEmbedResponse
	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(ollamaEmbedRequest{Model: d.model, Input: texts}).
		SetResult(&result).
		Post("/api/embed")
	if err != nil {
		return nil, apperr.Unavailable("embeddings.Ollama", err)
	}
	if resp.IsError() {
		return nil, apperr.Unavailable("embeddings.Ollama",
			fmt.Errorf("ollama embed API returned %d: %s", resp.StatusCode(), resp.String()))
	}
	if len(result.Embeddings) != len(texts) {
		return nil, apperr.Unavailable("embeddings.Ollama",
			fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings)))
	}
	return result.Embeddings, nil
}

// HealthCheck verifies Ollama is reachable and the model is available.
func (d *OllamaDriver) HealthCheck(ctx context.Context) error {
	_, err := d.Embed(ctx, []string{"health check"})
	return err
}
