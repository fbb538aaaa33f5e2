// Package modes implements the four mode handlers the router dispatches
// to: Ask (read-only answers), Plan (change simulation), Debug (root-cause
// analysis) and Execute (approval-gated mutations).
//
// Handlers never return bare errors. Every failure ends up in the Result's
// Errors and Warnings so the router can persist it like any other answer.
package modes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kloudping-venkat/DevopsMate/internal/agents"
	"github.com/kloudping-venkat/DevopsMate/internal/apperr"
	"github.com/kloudping-venkat/DevopsMate/internal/datasource"
	"github.com/kloudping-venkat/DevopsMate/internal/rag"
	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/rs/zerolog/log"
)

// Request is one dispatched query.
type Request struct {
	Query     *models.Query
	Principal models.Principal
	History   []models.Turn
}

// Handler serves one mode.
type Handler interface {
	Mode() models.Mode
	RequiredCapability(q *models.Query) models.Capability
	Handle(ctx context.Context, req *Request) *models.Result
}

// Retriever is the part of the retrieval engine handlers use.
type Retriever interface {
	Retrieve(ctx context.Context, req rag.RetrieveRequest) *rag.Results
}

// Collaborator runs specialist collaborations.
type Collaborator interface {
	Collaborate(ctx context.Context, q *models.Query, ids []string, strategy models.Strategy, in agents.Input) (*models.Collaboration, error)
}

// Approvals is the part of the approval workflow Execute uses.
type Approvals interface {
	Propose(ctx context.Context, action *models.Action, requester string) (*models.Approval, error)
	Execute(ctx context.Context, token string, principal models.Principal) (*models.Action, error)
}

// Deps are the collaborators shared by all handlers. Retrieval, Sources,
// Collab and Agents may be nil; handlers degrade without them.
type Deps struct {
	LLM       contracts.LLMBackend
	Retrieval Retriever
	Sources   *datasource.Registry
	Collab    Collaborator
	Agents    *agents.Registry
	Approvals Approvals
}

// NewHandlers builds the four handlers indexed by mode.
func NewHandlers(d Deps) [models.NumModes + 1]Handler {
	var hs [models.NumModes + 1]Handler
	hs[models.ModeAsk] = NewAsk(d)
	hs[models.ModePlan] = NewPlan(d)
	hs[models.ModeDebug] = NewDebug(d)
	hs[models.ModeExecute] = NewExecute(d)
	return hs
}

// ── shared helpers ──────────────────────────────────────────

// retrieve collects knowledge for q. Metadata "knowledge_bases" (comma
// separated ids) overrides the category filter.
func retrieve(ctx context.Context, d Deps, q *models.Query, res *models.Result, categories ...models.KnowledgeCategory) []models.RetrievedChunk {
	if d.Retrieval == nil {
		return nil
	}
	req := rag.RetrieveRequest{Text: q.Text, Categories: categories}
	if ids := splitList(q.Meta(models.MetaKnowledgeBases)); len(ids) > 0 {
		req.KnowledgeBaseIDs = ids
		req.Categories = nil
	}

	results := d.Retrieval.Retrieve(ctx, req)
	var chunks []models.RetrievedChunk
	for c := range results.All() {
		chunks = append(chunks, c)
	}
	if err := results.Err(); err != nil {
		res.Warn("knowledge retrieval degraded: " + err.Error())
		log.Warn().Err(err).Str("query", q.ID).Msg("Retrieval degraded")
	}
	return chunks
}

// gather fetches facts from every registered source of the given kinds.
func gather(ctx context.Context, d Deps, q *models.Query, res *models.Result, kinds ...contracts.DataSourceKind) []contracts.Fact {
	if d.Sources == nil {
		return nil
	}
	sources := d.Sources.Select(nil, kinds)
	if len(sources) == 0 {
		return nil
	}
	facts, err := datasource.Gather(ctx, sources, contracts.DataRequest{
		Query: q.Text,
		Scope: q.Scope,
		Since: time.Now().Add(-time.Hour),
		Limit: 50,
	})
	if err != nil {
		res.Warn("data sources degraded: " + err.Error())
	}
	return facts
}

// collaborate runs the requested specialists and folds warnings into res.
func collaborate(ctx context.Context, d Deps, q *models.Query, ids []string, strategy models.Strategy, chunks []models.RetrievedChunk, res *models.Result) *models.Collaboration {
	if d.Collab == nil || len(ids) == 0 {
		return nil
	}
	c, err := d.Collab.Collaborate(ctx, q, ids, strategy, agents.Input{Scope: q.Scope, Knowledge: chunks})
	if err != nil {
		res.Warn("specialist collaboration unavailable: " + err.Error())
		return nil
	}
	res.Data["collaboration_id"] = c.ID
	if c.Final != nil {
		res.Warnings = append(res.Warnings, c.Final.Warnings...)
	}
	return c
}

// complete calls the model; a failure is returned as BackendUnavailable.
func complete(ctx context.Context, d Deps, prompt string, class models.ModelClass, temperature float64) (string, error) {
	if d.LLM == nil {
		return "", apperr.Unavailable("modes.complete", fmt.Errorf("no language model configured"))
	}
	return d.LLM.Complete(ctx, prompt, class, temperature)
}

func knowledgeRefs(chunks []models.RetrievedChunk) []map[string]any {
	refs := make([]map[string]any, 0, len(chunks))
	for _, c := range chunks {
		refs = append(refs, map[string]any{
			"knowledge_base_id": c.KnowledgeBaseID,
			"document_id":       c.DocumentID,
			"title":             c.DocumentTitle,
			"chunk_id":          c.ID,
			"position":          c.Position,
			"score":             c.Score,
		})
	}
	return refs
}

func factRefs(facts []contracts.Fact) []map[string]any {
	refs := make([]map[string]any, 0, len(facts))
	for _, f := range facts {
		refs = append(refs, map[string]any{
			"source":  f.Source,
			"kind":    string(f.Kind),
			"summary": f.Summary,
		})
	}
	return refs
}

// fail records err on res, tagging its kind.
func fail(res *models.Result, err error) *models.Result {
	res.Fail(err)
	res.Confidence = 0
	res.Data["error_kind"] = apperr.KindOf(err).String()
	return res
}

func finish(res *models.Result, start time.Time) *models.Result {
	res.ExecutionTimeMs = time.Since(start).Milliseconds()
	res.Confidence = models.ClampConfidence(res.Confidence)
	return res
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// containsWord reports whether any keyword appears in lower as a whole word
// (single words) or substring (phrases).
func containsWord(lower string, keywords ...string) bool {
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r == '-' || r == '\'' || r == '_' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	for _, k := range keywords {
		if strings.Contains(k, " ") {
			if strings.Contains(lower, k) {
				return true
			}
			continue
		}
		for _, w := range words {
			if w == k {
				return true
			}
		}
	}
	return false
}
