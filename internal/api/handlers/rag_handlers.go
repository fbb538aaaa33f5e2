package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kloudping-venkat/DevopsMate/internal/rag"
	pkgmw "github.com/kloudping-venkat/DevopsMate/pkg/middleware"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/rs/zerolog/log"
)

// RAGHandlers holds dependencies for the knowledge base API handlers.
type RAGHandlers struct {
	Engine *rag.Engine
}

// ══════════════════════════════════════════════════════════════
// ── Knowledge Bases ──────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// CreateKnowledgeBase handles POST /api/v1/knowledge-bases
func (h *RAGHandlers) CreateKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	if !canManage(w, r) {
		return
	}
	var kb models.KnowledgeBase
	if err := json.NewDecoder(r.Body).Decode(&kb); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.Engine.CreateKnowledgeBase(r.Context(), &kb); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, kb)
}

// ListKnowledgeBases handles GET /api/v1/knowledge-bases
func (h *RAGHandlers) ListKnowledgeBases(w http.ResponseWriter, r *http.Request) {
	list, err := h.Engine.ListKnowledgeBases(r.Context())
	if err != nil {
		respondAppError(w, err)
		return
	}
	if list == nil {
		list = []models.KnowledgeBase{}
	}
	respondJSON(w, http.StatusOK, list)
}

// IngestDocument handles POST /api/v1/knowledge-bases/{kbId}/documents.
// It returns once the document is ready or has failed.
func (h *RAGHandlers) IngestDocument(w http.ResponseWriter, r *http.Request) {
	if !canManage(w, r) {
		return
	}
	var in rag.DocumentInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if in.Content == "" {
		respondError(w, http.StatusBadRequest, "content is required")
		return
	}
	in.KnowledgeBaseID = chi.URLParam(r, "kbId")

	doc, err := h.Engine.Ingest(r.Context(), in)
	if err != nil {
		log.Warn().Err(err).Str("kb", in.KnowledgeBaseID).Msg("Document ingestion failed")
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

// ══════════════════════════════════════════════════════════════
// ── Search ───────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type searchRequest struct {
	Text             string                     `json:"text"`
	KnowledgeBaseIDs []string                   `json:"knowledge_base_ids,omitempty"`
	Categories       []models.KnowledgeCategory `json:"categories,omitempty"`
	MinScore         float64                    `json:"min_score,omitempty"`
	TopK             int                        `json:"top_k,omitempty"`
}

// Search handles POST /api/v1/knowledge/search
func (h *RAGHandlers) Search(w http.ResponseWriter, r *http.Request) {
	principal := pkgmw.GetPrincipal(r.Context())
	if !principal.Can(models.ModeAsk, models.CapReadInfra) {
		respondError(w, http.StatusForbidden, "knowledge search requires ask:read_infra")
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	results := h.Engine.Retrieve(r.Context(), rag.RetrieveRequest{
		Text:             req.Text,
		KnowledgeBaseIDs: req.KnowledgeBaseIDs,
		Categories:       req.Categories,
		MinScore:         req.MinScore,
		TopK:             req.TopK,
	})
	chunks := []models.RetrievedChunk{}
	for c := range results.All() {
		chunks = append(chunks, c)
	}
	warnings := []string{}
	if err := results.Err(); err != nil {
		if len(chunks) == 0 {
			respondAppError(w, err)
			return
		}
		warnings = append(warnings, "retrieval degraded: "+err.Error())
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"chunks":   chunks,
		"warnings": warnings,
	})
}

func canManage(w http.ResponseWriter, r *http.Request) bool {
	if pkgmw.GetPrincipal(r.Context()).HasPermission(models.PermManageKnowledge) {
		return true
	}
	respondError(w, http.StatusForbidden, "managing knowledge requires "+models.PermManageKnowledge)
	return false
}
