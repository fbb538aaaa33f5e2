// Package handlers implements the HTTP handlers for DevopsMate. Each handler
// is a thin adapter: it decodes the request, takes the Principal from the
// auth middleware and hands off to the router, the sessions manager or the
// approval workflow.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kloudping-venkat/DevopsMate/internal/apperr"
	"github.com/kloudping-venkat/DevopsMate/internal/approval"
	"github.com/kloudping-venkat/DevopsMate/internal/router"
	"github.com/kloudping-venkat/DevopsMate/internal/sessions"
	pkgmw "github.com/kloudping-venkat/DevopsMate/pkg/middleware"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/rs/zerolog/log"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Router    *router.QueryRouter
	Sessions  *sessions.Manager
	Approvals *approval.Workflow
}

// New creates a new Handlers instance.
func New(qr *router.QueryRouter, sm *sessions.Manager, wf *approval.Workflow) *Handlers {
	return &Handlers{Router: qr, Sessions: sm, Approvals: wf}
}

// ══════════════════════════════════════════════════════════════
// ── Queries ──────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type queryRequest struct {
	Text      string            `json:"text"`
	Mode      string            `json:"mode,omitempty"`
	Scope     string            `json:"scope,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
}

// queryResponse adds the session the query landed in so clients can
// continue it.
type queryResponse struct {
	SessionID string `json:"session_id,omitempty"`
	*models.Result
}

// SubmitQuery handles POST /api/v1/queries. The router always returns a
// Result; the HTTP status only reflects how the query was refused, if it
// was.
func (h *Handlers) SubmitQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	q := &models.Query{
		SessionID: req.SessionID,
		Text:      req.Text,
		Scope:     req.Scope,
		Metadata:  req.Metadata,
	}
	if q.Scope == "" {
		q.Scope = pkgmw.GetScope(r.Context())
	}
	if req.Mode != "" {
		mode, err := models.ParseMode(req.Mode)
		if err != nil {
			respondAppError(w, err)
			return
		}
		q.Mode = mode
	}

	principal := pkgmw.GetPrincipal(r.Context())
	_, res := h.Router.Route(r.Context(), q, principal)

	status := http.StatusOK
	if !res.Success {
		if kind, ok := res.Data["error_kind"].(string); ok {
			status = statusForKind(kind)
		}
		if res.AccessDenied {
			status = http.StatusForbidden
		}
	}
	respondJSON(w, status, queryResponse{SessionID: q.SessionID, Result: res})
}

// statusForKind maps the error_kind recorded on a refused Result to a 4xx
// status. Backend and execution failures are reported inside a 200 Result
// because the query itself was accepted and answered.
func statusForKind(name string) int {
	for k := apperr.KindPermissionDenied; k <= apperr.KindPartialCollaborationFailure; k++ {
		if k.String() != name {
			continue
		}
		if status := apperr.HTTPStatus(apperr.New(k, "", "")); status < http.StatusInternalServerError {
			return status
		}
		break
	}
	return http.StatusOK
}

// ListModes handles GET /api/v1/modes
func (h *Handlers) ListModes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Router.ListModes())
}

// ══════════════════════════════════════════════════════════════
// ── Sessions ─────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// GetSession handles GET /api/v1/sessions/{sessionId}
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	principal := pkgmw.GetPrincipal(r.Context())
	sess, err := h.Sessions.Get(r.Context(), chi.URLParam(r, "sessionId"), principal.ID)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// CloseSession handles POST /api/v1/sessions/{sessionId}/close
func (h *Handlers) CloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	principal := pkgmw.GetPrincipal(r.Context())
	if err := h.Sessions.Close(r.Context(), sessionID, principal.ID); err != nil {
		respondAppError(w, err)
		return
	}
	log.Info().Str("session", sessionID).Str("principal", principal.ID).Msg("Session closed")
	respondJSON(w, http.StatusOK, map[string]string{"session_id": sessionID, "status": string(models.SessionClosed)})
}

// ══════════════════════════════════════════════════════════════
// ── Approvals & Actions ──────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// ListApprovals handles GET /api/v1/approvals?status=&limit=
// Only approvals the caller requested or may decide are listed.
func (h *Handlers) ListApprovals(w http.ResponseWriter, r *http.Request) {
	status := models.ApprovalStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	switch status {
	case "", models.ApprovalPending, models.ApprovalApproved, models.ApprovalRejected, models.ApprovalExpired:
	default:
		respondError(w, http.StatusBadRequest, "unknown approval status "+strconv.Quote(string(status)))
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	principal := pkgmw.GetPrincipal(r.Context())
	list, err := h.Approvals.ListApprovalsFor(r.Context(), principal, status, limit)
	if err != nil {
		respondAppError(w, err)
		return
	}
	if list == nil {
		list = []models.Approval{}
	}
	respondJSON(w, http.StatusOK, list)
}

// GetAction handles GET /api/v1/actions/{actionId}
func (h *Handlers) GetAction(w http.ResponseWriter, r *http.Request) {
	principal := pkgmw.GetPrincipal(r.Context())
	action, ap, err := h.Approvals.GetActionFor(r.Context(), chi.URLParam(r, "actionId"), principal)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"action":   action,
		"approval": ap,
	})
}

type decisionRequest struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
}

// DecideAction handles POST /api/v1/actions/{actionId}/decision
func (h *Handlers) DecideAction(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	decision, err := approval.ParseDecision(strings.ToLower(strings.TrimSpace(req.Decision)))
	if err != nil {
		respondAppError(w, err)
		return
	}

	actionID := chi.URLParam(r, "actionId")
	principal := pkgmw.GetPrincipal(r.Context())
	ap, err := h.Approvals.Decide(r.Context(), actionID, decision, principal, req.Reason)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ap)
}

// ══════════════════════════════════════════════════════════════
// ── Helpers ──────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondAppError maps the error taxonomy onto a status and includes the
// kind so clients can branch without parsing messages.
func respondAppError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
	}
	respondJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  apperr.KindOf(err).String(),
	})
}
