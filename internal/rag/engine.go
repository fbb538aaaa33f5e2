package rag

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kloudping-venkat/DevopsMate/internal/apperr"
	"github.com/kloudping-venkat/DevopsMate/internal/store"
	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMinScore = 0.7
	DefaultTopK     = 5
)

// Engine ingests documents into knowledge bases and retrieves from them.
// The same embedding driver serves both paths so vectors stay comparable.
type Engine struct {
	store      store.KnowledgeStore
	embeddings contracts.EmbeddingDriver
	vectors    contracts.VectorStoreDriver

	mu       sync.Mutex
	inFlight map[string]struct{} // document ids being ingested
}

// NewEngine creates a Retrieval Engine.
func NewEngine(s store.KnowledgeStore, emb contracts.EmbeddingDriver, vs contracts.VectorStoreDriver) *Engine {
	return &Engine{
		store:      s,
		embeddings: emb,
		vectors:    vs,
		inFlight:   make(map[string]struct{}),
	}
}

// CreateKnowledgeBase registers a new knowledge base.
func (e *Engine) CreateKnowledgeBase(ctx context.Context, kb *models.KnowledgeBase) error {
	if kb.Name == "" {
		return apperr.Validation("rag.CreateKnowledgeBase", "name is required")
	}
	if !kb.Category.Valid() {
		return apperr.Validation("rag.CreateKnowledgeBase", "unknown category %q", kb.Category)
	}
	if kb.ID == "" {
		kb.ID = uuid.NewString()
	}
	if kb.CreatedAt.IsZero() {
		kb.CreatedAt = time.Now().UTC()
	}
	cfg := ConfigFor(kb)
	kb.Config = models.KnowledgeBaseConfig{ChunkSize: cfg.ChunkSize, ChunkOverlap: cfg.ChunkOverlap}

	if err := e.store.CreateKnowledgeBase(ctx, kb); err != nil {
		return err
	}
	log.Info().Str("kb", kb.ID).Str("name", kb.Name).Str("category", string(kb.Category)).Msg("Knowledge base created")
	return nil
}

// ListKnowledgeBases returns every knowledge base.
func (e *Engine) ListKnowledgeBases(ctx context.Context) ([]models.KnowledgeBase, error) {
	return e.store.ListKnowledgeBases(ctx)
}

// KnowledgeBasesFor returns the ids of knowledge bases in the given
// categories. No categories means every knowledge base.
func (e *Engine) KnowledgeBasesFor(ctx context.Context, categories ...models.KnowledgeCategory) ([]string, error) {
	kbs, err := e.store.ListKnowledgeBases(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, kb := range kbs {
		if len(categories) == 0 {
			ids = append(ids, kb.ID)
			continue
		}
		for _, c := range categories {
			if kb.Category == c {
				ids = append(ids, kb.ID)
				break
			}
		}
	}
	return ids, nil
}

func (e *Engine) acquire(docID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[docID]; busy {
		return false
	}
	e.inFlight[docID] = struct{}{}
	return true
}

func (e *Engine) release(docID string) {
	e.mu.Lock()
	delete(e.inFlight, docID)
	e.mu.Unlock()
}
