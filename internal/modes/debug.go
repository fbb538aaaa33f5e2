package modes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kloudping-venkat/DevopsMate/internal/agents"
	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/rs/zerolog/log"
)

// Debug runs root-cause analysis.
type Debug struct {
	deps Deps
}

// NewDebug creates the Debug handler.
func NewDebug(d Deps) *Debug { return &Debug{deps: d} }

func (h *Debug) Mode() models.Mode { return models.ModeDebug }

// RequiredCapability reads the kind of investigation from the phrasing.
func (h *Debug) RequiredCapability(q *models.Query) models.Capability {
	lower := strings.ToLower(q.Text)
	switch {
	case containsWord(lower, "trace", "traces", "tracing", "span", "spans", "request path"):
		return models.CapTraceExecution
	case containsWord(lower, "inspect", "deep dive", "dump", "internals", "heap", "goroutines"):
		return models.CapDeepInspect
	case containsWord(lower, "fail", "fails", "failing", "failed", "failure", "crash", "crashing", "crashloop", "exception", "broken", "error", "errors"):
		return models.CapAnalyzeFailure
	default:
		return models.CapDiagnoseIssue
	}
}

func (h *Debug) Handle(ctx context.Context, req *Request) *models.Result {
	start := time.Now()
	q := req.Query
	res := models.NewResult(q.ID, models.ModeDebug)
	res.Data["capability"] = string(h.RequiredCapability(q))

	chunks := retrieve(ctx, h.deps, q, res, models.CategoryIncidents, models.CategoryRunbooks)
	res.Data["knowledge"] = knowledgeRefs(chunks)

	var (
		collab *models.Collaboration
		facts  []contracts.Fact
	)
	if ids := h.specialists(q); len(ids) > 0 {
		collab = collaborate(ctx, h.deps, q, ids, models.StrategyParallel, chunks, res)
	}
	if collab == nil || collab.Final == nil || !collab.Final.Success {
		facts = gather(ctx, h.deps, q, res, contracts.SourceLogs, contracts.SourceMetrics, contracts.SourceTopology)
	}
	res.Data["facts"] = factRefs(facts)

	data := promptData{
		Query:      q.Text,
		Scope:      q.Scope,
		Capability: res.Data["capability"].(string),
		History:    req.History,
		Knowledge:  chunks,
		Facts:      facts,
	}
	if collab != nil && collab.Final != nil {
		data.Findings = collab.Partials
		data.Synthesis = collab.Final.Response
	}

	prompt, err := render(debugPrompt, data)
	if err != nil {
		return finish(fail(res, err), start)
	}
	text, err := complete(ctx, h.deps, prompt, models.ModelAnalytics, 0.3)
	if err != nil {
		if ctx.Err() == nil && collab != nil && collab.Final != nil && collab.Final.Success {
			res.Warn("root-cause analysis unavailable: " + err.Error())
			res.Success = true
			res.Response = collab.Final.Response
			res.Confidence = collab.Final.Confidence / 2
			return finish(res, start)
		}
		return finish(fail(res, fmt.Errorf("analyze issue: %w", err)), start)
	}

	text, confidence := agents.ParseConfidence(text)
	analysis := ParseAnalysis(text)
	res.Data["analysis"] = analysis

	var sb strings.Builder
	fmt.Fprintf(&sb, "Root Cause Analysis\n\nIssue: %s\n\nRoot Cause:\n%s\n", q.Text, analysis.RootCause)
	if len(analysis.Evidence) > 0 {
		sb.WriteString("\nEvidence:\n")
		for _, e := range analysis.Evidence[:min(len(analysis.Evidence), 5)] {
			sb.WriteString("- " + e + "\n")
		}
	}
	sb.WriteString("\nRecommendations:\n")
	for _, r := range analysis.Recommendations {
		sb.WriteString("- " + r + "\n")
	}
	res.Response = sb.String()
	res.Success = true

	if collab != nil && collab.Final != nil && collab.Final.Success {
		confidence = (confidence + collab.Final.Confidence) / 2
	}
	res.Confidence = confidence

	log.Debug().Str("query", q.ID).Bool("collaborated", collab != nil).Int("facts", len(facts)).Msg("Debug analyzed")
	return finish(res, start)
}

// specialists picks logs and metrics, plus topology when registered.
func (h *Debug) specialists(q *models.Query) []string {
	if h.deps.Agents == nil || h.deps.Collab == nil {
		return nil
	}
	if ids := splitList(q.Meta(models.MetaSpecializations)); len(ids) > 0 {
		return ids
	}
	return h.deps.Agents.ForDomains(models.DomainLogs, models.DomainMetrics, models.DomainTopology)
}
