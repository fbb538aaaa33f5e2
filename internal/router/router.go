// Package router implements the DevopsMate Query Router.
//
// The router validates a query, attaches it to a session, picks a mode
// (explicit or classified), checks the principal's permission and scope,
// dispatches to the mode handler and records the result. Permission checks
// fail closed: a denied query never reaches a handler.
package router

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kloudping-venkat/DevopsMate/internal/apperr"
	"github.com/kloudping-venkat/DevopsMate/internal/guardrails"
	"github.com/kloudping-venkat/DevopsMate/internal/modes"
	"github.com/kloudping-venkat/DevopsMate/internal/sessions"
	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// QueryRouter routes queries to mode handlers.
type QueryRouter struct {
	validator    *guardrails.Validator
	sessions     *sessions.Manager
	handlers     [models.NumModes + 1]modes.Handler
	classifier   contracts.LLMBackend // nil disables the model fallback
	historyTurns int
}

// Option configures a QueryRouter.
type Option func(*QueryRouter)

// WithValidator replaces the default guardrails.
func WithValidator(v *guardrails.Validator) Option {
	return func(r *QueryRouter) { r.validator = v }
}

// WithModelClassifier enables the model fallback for queries no rule
// classifies. The model can pick Ask, Plan or Debug, never Execute.
func WithModelClassifier(llm contracts.LLMBackend) Option {
	return func(r *QueryRouter) { r.classifier = llm }
}

// WithHistoryTurns sets how many prior turns handlers see.
func WithHistoryTurns(n int) Option {
	return func(r *QueryRouter) {
		if n >= 0 {
			r.historyTurns = n
		}
	}
}

// New creates a router over the given session manager and handlers.
func New(sm *sessions.Manager, handlers [models.NumModes + 1]modes.Handler, opts ...Option) *QueryRouter {
	r := &QueryRouter{
		validator:    guardrails.NewValidator(nil, guardrails.Limits{}),
		sessions:     sm,
		handlers:     handlers,
		historyTurns: sessions.DefaultHistoryTurns,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ListModes returns the description of every mode, lowest risk first.
func (r *QueryRouter) ListModes() []models.ModeInfo {
	out := make([]models.ModeInfo, 0, models.NumModes)
	for _, m := range models.AllModes() {
		out = append(out, m.Info())
	}
	return out
}

// Route handles q on behalf of principal and returns the mode it ran in
// together with its Result. It never returns a nil Result.
func (r *QueryRouter) Route(ctx context.Context, q *models.Query, principal models.Principal) (models.Mode, *models.Result) {
	start := time.Now()
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = start.UTC()
	}
	q.Principal = principal.ID

	ctx, span := otel.Tracer("devopsmate").Start(ctx, "router.route")
	defer span.End()
	span.SetAttributes(
		attribute.String("query.id", q.ID),
		attribute.String("query.scope", q.Scope),
		attribute.String("principal", principal.ID),
	)

	// 1. validation
	warnings, err := r.validator.Validate(q)
	if err == nil && strings.TrimSpace(q.Scope) == "" {
		err = apperr.Validation("router.Route", "query scope is required")
	}
	if err != nil {
		res := rejected(q, q.Mode, err, start)
		span.SetStatus(codes.Error, err.Error())
		return res.Mode, res
	}

	// 2. session
	sess, err := r.sessions.Resolve(ctx, q.SessionID, principal.ID)
	if err != nil {
		res := rejected(q, q.Mode, err, start)
		span.SetStatus(codes.Error, err.Error())
		return res.Mode, res
	}
	q.SessionID = sess.ID
	if _, err := r.sessions.Append(ctx, q); err != nil {
		res := rejected(q, q.Mode, err, start)
		span.SetStatus(codes.Error, err.Error())
		return res.Mode, res
	}

	// 3. mode
	mode, classifiedBy := q.Mode, "explicit"
	if !mode.Valid() {
		mode, classifiedBy = r.classify(ctx, q.Text)
	}
	q.Mode = mode
	handler := r.handlers[mode]
	span.SetAttributes(attribute.String("mode", mode.String()), attribute.String("mode.classified_by", classifiedBy))

	// 4-5. permission and scope
	capability := handler.RequiredCapability(q)
	if reason, ok := authorize(principal, mode, capability, q.Scope); !ok {
		res := models.NewResult(q.ID, mode)
		res.AccessDenied = true
		res.AccessReason = reason
		res.Fail(apperr.PermissionDenied("router.Route", "%s", reason))
		res.Data["capability"] = string(capability)
		res.ExecutionTimeMs = time.Since(start).Milliseconds()
		r.record(ctx, q, res)

		log.Warn().
			Str("query", q.ID).
			Str("principal", principal.ID).
			Str("mode", mode.String()).
			Str("capability", string(capability)).
			Msg("🔑 Access denied")
		span.SetStatus(codes.Error, reason)
		return mode, res
	}

	// 6. dispatch
	res := handler.Handle(ctx, &modes.Request{
		Query:     q,
		Principal: principal,
		History:   sessions.History(sess, q.ID, r.historyTurns),
	})
	res.Mode = mode
	res.Warnings = append(append([]string{}, warnings...), res.Warnings...)
	res.Data["classified_by"] = classifiedBy
	res.ExecutionTimeMs = time.Since(start).Milliseconds()

	if ctx.Err() != nil {
		log.Info().Str("query", q.ID).Msg("Caller cancelled; result not persisted")
		span.SetStatus(codes.Error, "cancelled")
		return mode, res
	}
	r.record(ctx, q, res)

	if !res.Success {
		span.SetStatus(codes.Error, strings.Join(res.Errors, "; "))
	}
	log.Info().
		Str("query", q.ID).
		Str("session", q.SessionID).
		Str("mode", mode.String()).
		Bool("success", res.Success).
		Float64("confidence", res.Confidence).
		Int64("duration_ms", res.ExecutionTimeMs).
		Msg("Query routed")
	return mode, res
}

func (r *QueryRouter) record(ctx context.Context, q *models.Query, res *models.Result) {
	if err := r.sessions.Record(ctx, q, res); err != nil {
		log.Error().Err(err).Str("query", q.ID).Str("session", q.SessionID).Msg("Failed to record result")
	}
}

// authorize checks the mode permission, then scope. The returned reason is
// empty when allowed.
func authorize(p models.Principal, mode models.Mode, c models.Capability, scope string) (string, bool) {
	if !mode.Allows(c) {
		return fmt.Sprintf("capability %s is not available in %s mode", c, mode), false
	}
	if !p.Can(mode, c) {
		return fmt.Sprintf("missing permission %s", models.Permission(mode, c)), false
	}
	if p.InScope(scope) {
		return "", true
	}
	if mode == models.ModeAsk && p.Can(models.ModeAsk, models.CapReadCrossScope) {
		return "", true
	}
	return fmt.Sprintf("scope %s is outside the principal's scopes", scope), false
}

// rejected builds the Result of a query that failed before dispatch.
func rejected(q *models.Query, mode models.Mode, err error, start time.Time) *models.Result {
	res := models.NewResult(q.ID, mode)
	res.Fail(err)
	res.Data["error_kind"] = apperr.KindOf(err).String()
	if apperr.KindOf(err) == apperr.KindPermissionDenied {
		res.AccessDenied = true
		res.AccessReason = err.Error()
	}
	res.ExecutionTimeMs = time.Since(start).Milliseconds()
	return res
}

// ── classification ──────────────────────────────────────────

var (
	planRule  = regexp.MustCompile(`(?i)\b(what if|what would happen|estimate|simulate|how much would|plan|dry[- ]run)\b`)
	debugRule = regexp.MustCompile(`(?i)\b(why is|why does|why did|why are|debug|root cause|diagnose|troubleshoot|failing|crashlooping|investigate)\b`)
)

// Classify picks a mode with the ordered rules: hypothetical phrasing is
// Plan, diagnostic phrasing is Debug, a leading mutating verb is Execute
// and everything else is Ask.
func Classify(text string) (models.Mode, bool) {
	switch {
	case planRule.MatchString(text):
		return models.ModePlan, true
	case debugRule.MatchString(text):
		return models.ModeDebug, true
	}
	if _, ok := modes.VerbAction(text); ok {
		return models.ModeExecute, true
	}
	return models.ModeAsk, false
}

const classifyPrompt = `Classify this DevOps request into exactly one mode.
ask: read-only question about current state
plan: hypothetical change, simulation or estimate
debug: investigate a failure or unexpected behavior

Request: %s

Reply with one word: ask, plan or debug.`

func (r *QueryRouter) classify(ctx context.Context, text string) (models.Mode, string) {
	if mode, matched := Classify(text); matched || r.classifier == nil {
		return mode, "rules"
	}

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	answer, err := r.classifier.Complete(cctx, fmt.Sprintf(classifyPrompt, text), models.ModelAnalytics, 0)
	if err != nil {
		log.Debug().Err(err).Msg("Model classifier unavailable, defaulting to ask")
		return models.ModeAsk, "rules"
	}
	fields := strings.Fields(strings.ToLower(answer))
	if len(fields) == 0 {
		return models.ModeAsk, "rules"
	}
	switch m, _ := models.ParseMode(strings.Trim(fields[0], ".:,\"'`")); m {
	case models.ModePlan, models.ModeDebug:
		return m, "model"
	default:
		// Execute is only reachable through explicit verbs.
		return models.ModeAsk, "model"
	}
}
