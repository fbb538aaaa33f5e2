package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// DefaultMaxVectors is the default cap for the embedded store (50K).
const DefaultMaxVectors = 50_000

// EmbeddedStore is an in-memory vector store using brute-force cosine
// similarity. Suitable for development and small knowledge bases; use
// pgvector beyond that.
type EmbeddedStore struct {
	mu         sync.RWMutex
	partitions map[string]map[string]contracts.VectorRecord // kbID -> id -> record
	count      int
	maxVectors int
}

// EmbeddedOption configures the embedded store.
type EmbeddedOption func(*EmbeddedStore)

// WithMaxVectors sets the maximum number of vectors (default 50K).
func WithMaxVectors(max int) EmbeddedOption {
	return func(s *EmbeddedStore) { s.maxVectors = max }
}

// NewEmbeddedStore creates an in-memory vector store.
func NewEmbeddedStore(opts ...EmbeddedOption) *EmbeddedStore {
	s := &EmbeddedStore{
		partitions: make(map[string]map[string]contracts.VectorRecord),
		maxVectors: DefaultMaxVectors,
	}
	for _, opt := range opts {
		opt(s)
	}
	log.Info().Int("max_vectors", s.maxVectors).Msg("Embedded vector store initialized")
	return s
}

func (s *EmbeddedStore) Kind() string { return "embedded" }

func (s *EmbeddedStore) Upsert(_ context.Context, kbID string, records []contracts.VectorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	part := s.partitions[kbID]
	newCount := 0
	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("vector record without id")
		}
		if _, exists := part[r.ID]; !exists {
			newCount++
		}
	}
	total := s.count + newCount
	if total > s.maxVectors {
		return fmt.Errorf("embedded vector store capacity exceeded: %d > %d (consider pgvector)", total, s.maxVectors)
	}
	if total > int(float64(s.maxVectors)*0.9) {
		log.Warn().Int("count", total).Int("max", s.maxVectors).Msg("Embedded vector store nearing capacity, consider pgvector")
	}

	if part == nil {
		part = make(map[string]contracts.VectorRecord)
		s.partitions[kbID] = part
	}
	for _, r := range records {
		cp := r
		cp.Vector = append([]float64(nil), r.Vector...)
		part[r.ID] = cp
	}
	s.count = total
	return nil
}

func (s *EmbeddedStore) Search(_ context.Context, kbID string, vector []float64, topK int) ([]contracts.VectorMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []contracts.VectorMatch
	for id, r := range s.partitions[kbID] {
		if len(r.Vector) != len(vector) {
			continue
		}
		matches = append(matches, contracts.VectorMatch{ID: id, Score: cosineSimilarity(vector, r.Vector)})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})

	if topK > 0 && topK < len(matches) {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *EmbeddedStore) Delete(_ context.Context, kbID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	part := s.partitions[kbID]
	for _, id := range ids {
		if _, ok := part[id]; ok {
			delete(part, id)
			s.count--
		}
	}
	return nil
}

func (s *EmbeddedStore) Contains(_ context.Context, kbID string, ids []string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	part := s.partitions[kbID]
	n := 0
	for _, id := range ids {
		if _, ok := part[id]; ok {
			n++
		}
	}
	return n, nil
}

// Count returns the number of vectors stored for a knowledge base.
func (s *EmbeddedStore) Count(_ context.Context, kbID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.partitions[kbID]), nil
}

func (s *EmbeddedStore) HealthCheck(_ context.Context) error {
	return nil
}

func cosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
