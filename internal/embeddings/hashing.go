package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashDriver embeds text with signed feature hashing over lowercase word
// tokens and their bigrams. Vectors are L2-normalised, so texts that share
// vocabulary score high under cosine similarity. It needs no model server.
type HashDriver struct {
	dimensions int
}

// NewHashDriver creates a hashing driver. dims <= 0 selects 256.
func NewHashDriver(dims int) *HashDriver {
	if dims <= 0 {
		dims = 256
	}
	return &HashDriver{dimensions: dims}
}

func (d *HashDriver) Kind() string      { return "hash" }
func (d *HashDriver) Dimensions() int   { return d.dimensions }
func (d *HashDriver) MaxBatchSize() int { return 1024 }

// Embed never fails except on context cancellation.
func (d *HashDriver) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = d.vector(t)
	}
	return out, nil
}

func (d *HashDriver) HealthCheck(context.Context) error { return nil }

func (d *HashDriver) vector(text string) []float64 {
	v := make([]float64, d.dimensions)
	tokens := tokenize(text)
	for i, tok := range tokens {
		d.add(v, tok, 1)
		if i > 0 {
			d.add(v, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, x := range v {
		norm += x * x
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] /= norm
	}
	return v
}

func (d *HashDriver) add(v []float64, feature string, weight float64) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(d.dimensions))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
