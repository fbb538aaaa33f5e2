package rag

import (
	"context"
	"errors"
	"iter"
	"sort"
	"sync"

	"github.com/kloudping-venkat/DevopsMate/internal/apperr"
	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/rs/zerolog/log"
)

// RetrieveRequest selects what to search. Zero MinScore and TopK mean the
// defaults. No KnowledgeBaseIDs means every knowledge base in Categories,
// or every knowledge base when Categories is empty too.
type RetrieveRequest struct {
	Text             string
	KnowledgeBaseIDs []string
	Categories       []models.KnowledgeCategory
	MinScore         float64
	TopK             int
}

// Results is a lazily evaluated retrieval. The search runs on the first
// call to All or Err and is reused after that.
type Results struct {
	once   sync.Once
	run    func() ([]models.RetrievedChunk, error)
	chunks []models.RetrievedChunk
	err    error
}

func (r *Results) load() {
	r.once.Do(func() { r.chunks, r.err = r.run() })
}

// All yields retrieved chunks, best first.
func (r *Results) All() iter.Seq[models.RetrievedChunk] {
	return func(yield func(models.RetrievedChunk) bool) {
		r.load()
		for _, c := range r.chunks {
			if !yield(c) {
				return
			}
		}
	}
}

// Err reports why retrieval was degraded. Results may still hold chunks
// from the knowledge bases that did answer.
func (r *Results) Err() error {
	r.load()
	return r.err
}

// ResultsOf wraps already computed chunks.
func ResultsOf(chunks []models.RetrievedChunk, err error) *Results {
	return &Results{run: func() ([]models.RetrievedChunk, error) { return chunks, err }}
}

// Retrieve returns the chunks most similar to req.Text.
func (e *Engine) Retrieve(ctx context.Context, req RetrieveRequest) *Results {
	return &Results{run: func() ([]models.RetrievedChunk, error) {
		return e.retrieve(ctx, req)
	}}
}

func (e *Engine) retrieve(ctx context.Context, req RetrieveRequest) ([]models.RetrievedChunk, error) {
	minScore := req.MinScore
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	topK := req.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	kbIDs := req.KnowledgeBaseIDs
	if len(kbIDs) == 0 {
		ids, err := e.KnowledgeBasesFor(ctx, req.Categories...)
		if err != nil {
			return nil, apperr.Unavailable("rag.Retrieve", err)
		}
		kbIDs = ids
	}
	if len(kbIDs) == 0 || req.Text == "" {
		return nil, nil
	}

	vecs, err := e.embeddings.Embed(ctx, []string{req.Text})
	if err != nil {
		return nil, wrapBackend("rag.Retrieve", err)
	}
	if len(vecs) != 1 {
		return nil, apperr.Unavailable("rag.Retrieve", errors.New("embedding driver returned no vector"))
	}

	var (
		matches []contracts.VectorMatch
		errs    []error
	)
	for _, kbID := range kbIDs {
		m, err := e.vectors.Search(ctx, kbID, vecs[0], topK)
		if err != nil {
			log.Warn().Err(err).Str("kb", kbID).Msg("Knowledge base search failed")
			errs = append(errs, err)
			continue
		}
		matches = append(matches, m...)
	}
	var searchErr error
	if len(errs) > 0 {
		searchErr = apperr.Unavailable("rag.Retrieve", errors.Join(errs...))
	}
	if len(matches) == 0 {
		return nil, searchErr
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.Score >= minScore {
			ids = append(ids, m.ID)
		}
	}
	known, err := e.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, apperr.Unavailable("rag.Retrieve", err)
	}

	seen := make(map[string]bool, len(known))
	results := make([]models.RetrievedChunk, 0, len(known))
	for _, m := range matches {
		c, ok := known[m.ID]
		if !ok || seen[m.ID] || m.Score < minScore {
			continue
		}
		seen[m.ID] = true
		results = append(results, models.RetrievedChunk{KnowledgeChunk: c, Score: m.Score})
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.DocumentUpdatedAt.Equal(b.DocumentUpdatedAt) {
			return a.DocumentUpdatedAt.After(b.DocumentUpdatedAt)
		}
		if a.DocumentID != b.DocumentID {
			return a.DocumentID < b.DocumentID
		}
		return a.Position < b.Position
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, searchErr
}
