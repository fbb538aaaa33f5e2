package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kloudping-venkat/DevopsMate/internal/apperr"
	"github.com/kloudping-venkat/DevopsMate/internal/store"
	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/rs/zerolog/log"
)

// DocumentInput is a document submitted for ingestion. An empty ID creates
// a new document; a known ID re-ingests it.
type DocumentInput struct {
	ID              string `json:"id,omitempty"`
	KnowledgeBaseID string `json:"knowledge_base_id"`
	Title           string `json:"title"`
	Content         string `json:"content"`
	SourceRef       string `json:"source_ref,omitempty"`
}

// ingestSession tracks the vectors one ingestion has written so a failure
// can release them.
type ingestSession struct {
	vectors  contracts.VectorStoreDriver
	kbID     string
	upserted []string
	done     bool
}

func (s *ingestSession) upsert(ctx context.Context, records []contracts.VectorRecord) error {
	if err := s.vectors.Upsert(ctx, s.kbID, records); err != nil {
		return err
	}
	for _, r := range records {
		s.upserted = append(s.upserted, r.ID)
	}
	return nil
}

func (s *ingestSession) commit() { s.done = true }

// rollback deletes everything upserted unless the session was committed.
// It runs detached from ctx so a cancelled request still cleans up.
func (s *ingestSession) rollback(ctx context.Context) {
	if s.done || len(s.upserted) == 0 {
		return
	}
	if err := s.vectors.Delete(context.WithoutCancel(ctx), s.kbID, s.upserted); err != nil {
		log.Warn().Err(err).Str("kb", s.kbID).Int("vectors", len(s.upserted)).Msg("Failed to release vectors after ingestion failure")
	}
}

// Ingest chunks, embeds and indexes a document. It returns once the
// document is ready or has failed. Previously ready chunks stay searchable
// until the new generation is committed.
func (e *Engine) Ingest(ctx context.Context, in DocumentInput) (*models.KnowledgeDocument, error) {
	kb, err := e.store.GetKnowledgeBase(ctx, in.KnowledgeBaseID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFound("rag.Ingest", "knowledge base %s not found", in.KnowledgeBaseID)
		}
		return nil, err
	}

	if !utf8.ValidString(in.Content) {
		return nil, apperr.Validation("rag.Ingest", "content is not valid UTF-8")
	}

	hash := contentHash(in.Content)
	now := time.Now().UTC()

	doc := &models.KnowledgeDocument{
		ID:              in.ID,
		KnowledgeBaseID: kb.ID,
		CreatedAt:       now,
	}
	var prevGeneration int
	if in.ID != "" {
		existing, err := e.store.GetDocument(ctx, in.ID)
		switch {
		case err == nil:
			if existing.KnowledgeBaseID != kb.ID {
				return nil, apperr.Validation("rag.Ingest", "document %s belongs to knowledge base %s", in.ID, existing.KnowledgeBaseID)
			}
			if existing.Status == models.DocumentReady && existing.ContentHash == hash {
				if e.indexed(ctx, existing) {
					log.Debug().Str("doc", existing.ID).Msg("Document unchanged, skipping ingestion")
					return existing, nil
				}
				log.Info().Str("doc", existing.ID).Str("kb", kb.ID).Msg("Document vectors missing, re-indexing")
			}
			doc = existing
			prevGeneration = existing.Generation
		case !store.IsNotFound(err):
			return nil, err
		}
	} else {
		doc.ID = uuid.NewString()
	}

	if !e.acquire(doc.ID) {
		return nil, apperr.Validation("rag.Ingest", "document %s is already being ingested", doc.ID)
	}
	defer e.release(doc.ID)

	doc.Title = in.Title
	doc.Content = in.Content
	doc.SourceRef = in.SourceRef
	doc.ContentHash = hash
	doc.Status = models.DocumentChunking
	doc.Error = ""
	doc.UpdatedAt = now
	doc.Generation = prevGeneration + 1
	if err := e.store.UpsertDocument(ctx, doc); err != nil {
		return nil, err
	}

	start := time.Now()
	replaced, err := e.index(ctx, kb, doc)
	if err != nil {
		doc.Status = models.DocumentFailed
		doc.Error = err.Error()
		doc.Generation = prevGeneration
		doc.UpdatedAt = time.Now().UTC()
		if uerr := e.store.UpsertDocument(context.WithoutCancel(ctx), doc); uerr != nil {
			log.Error().Err(uerr).Str("doc", doc.ID).Msg("Failed to mark document failed")
		}
		log.Warn().Err(err).Str("doc", doc.ID).Str("kb", kb.ID).Msg("Ingestion failed")
		return doc, err
	}

	if len(replaced) > 0 {
		ids := make([]string, len(replaced))
		for i, c := range replaced {
			ids[i] = c.VectorRef
		}
		if err := e.vectors.Delete(context.WithoutCancel(ctx), kb.ID, ids); err != nil {
			log.Warn().Err(err).Str("doc", doc.ID).Int("vectors", len(ids)).Msg("Failed to delete previous generation vectors")
		}
	}

	log.Info().
		Str("doc", doc.ID).
		Str("kb", kb.ID).
		Int("chunks", doc.ChunkCount).
		Int("generation", doc.Generation).
		Dur("took", time.Since(start)).
		Msg("📚 Document ingested")
	return doc, nil
}

// index embeds the document's chunks and commits them. On success the
// document is stored as ready and the replaced chunk set is returned.
func (e *Engine) index(ctx context.Context, kb *models.KnowledgeBase, doc *models.KnowledgeDocument) ([]models.KnowledgeChunk, error) {
	spans := Split(doc.Content, ConfigFor(kb))
	if len(spans) == 0 {
		return nil, apperr.Validation("rag.Ingest", "document %s has no content", doc.ID)
	}

	chunks := make([]models.KnowledgeChunk, len(spans))
	for i, sp := range spans {
		id := fmt.Sprintf("%s-g%d-%d", doc.ID, doc.Generation, sp.Position)
		chunks[i] = models.KnowledgeChunk{
			ID:                id,
			DocumentID:        doc.ID,
			KnowledgeBaseID:   kb.ID,
			Text:              sp.Text,
			Start:             sp.Start,
			End:               sp.End,
			Position:          sp.Position,
			VectorRef:         id,
			Generation:        doc.Generation,
			DocumentTitle:     doc.Title,
			DocumentUpdatedAt: doc.UpdatedAt,
		}
	}

	sess := &ingestSession{vectors: e.vectors, kbID: kb.ID}
	defer sess.rollback(ctx)

	batchSize := max(e.embeddings.MaxBatchSize(), 1)
	for i := 0; i < len(chunks); i += batchSize {
		batch := chunks[i:min(i+batchSize, len(chunks))]
		texts := make([]string, len(batch))
		for j, c := range batch {
			texts[j] = c.Text
		}

		vecs, err := e.embeddings.Embed(ctx, texts)
		if err != nil {
			return nil, wrapBackend("rag.Ingest", err)
		}
		if len(vecs) != len(batch) {
			return nil, apperr.Unavailable("rag.Ingest", fmt.Errorf("embedding driver returned %d vectors for %d texts", len(vecs), len(batch)))
		}

		records := make([]contracts.VectorRecord, len(batch))
		for j, c := range batch {
			records[j] = contracts.VectorRecord{
				ID:     c.VectorRef,
				Vector: vecs[j],
				Metadata: map[string]string{
					"document_id": doc.ID,
					"position":    fmt.Sprintf("%d", c.Position),
				},
			}
		}
		if err := sess.upsert(ctx, records); err != nil {
			return nil, apperr.Unavailable("rag.Ingest", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc.Status = models.DocumentReady
	doc.ChunkCount = len(chunks)
	replaced, err := e.store.CommitChunks(ctx, doc, chunks)
	if err != nil {
		return nil, err
	}
	sess.commit()
	return replaced, nil
}

// indexed reports whether every committed chunk of doc still has its
// vector. Lookup errors count as missing.
func (e *Engine) indexed(ctx context.Context, doc *models.KnowledgeDocument) bool {
	chunks, err := e.store.ListChunks(ctx, doc.ID)
	if err != nil || len(chunks) == 0 {
		return false
	}
	refs := make([]string, len(chunks))
	for i, c := range chunks {
		refs[i] = c.VectorRef
	}
	n, err := e.vectors.Contains(ctx, doc.KnowledgeBaseID, refs)
	if err != nil {
		log.Warn().Err(err).Str("doc", doc.ID).Msg("Cannot check document vectors")
		return false
	}
	return n == len(refs)
}

// Reindex re-ingests ready documents whose vectors are gone, which is the
// case for every document after a restart on a non-persistent vector store.
// It returns how many documents were re-indexed.
func (e *Engine) Reindex(ctx context.Context) (int, error) {
	kbs, err := e.store.ListKnowledgeBases(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	var errs []error
	for _, kb := range kbs {
		docs, err := e.store.ListDocuments(ctx, kb.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, d := range docs {
			if d.Status != models.DocumentReady || e.indexed(ctx, &d) {
				continue
			}
			_, err := e.Ingest(ctx, DocumentInput{
				ID:              d.ID,
				KnowledgeBaseID: d.KnowledgeBaseID,
				Title:           d.Title,
				Content:         d.Content,
				SourceRef:       d.SourceRef,
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("reindex %s: %w", d.ID, err))
				continue
			}
			n++
		}
	}
	if n > 0 {
		log.Info().Int("documents", n).Msg("📚 Knowledge re-indexed")
	}
	return n, errors.Join(errs...)
}

func wrapBackend(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}
	return apperr.Unavailable(op, err)
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
