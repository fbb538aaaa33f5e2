package modes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
)

// Plan simulates changes without applying them.
type Plan struct {
	deps Deps
}

// NewPlan creates the Plan handler.
func NewPlan(d Deps) *Plan { return &Plan{deps: d} }

func (h *Plan) Mode() models.Mode { return models.ModePlan }

// RequiredCapability reads the kind of simulation from the phrasing.
func (h *Plan) RequiredCapability(q *models.Query) models.Capability {
	lower := strings.ToLower(q.Text)
	switch {
	case containsWord(lower, "cost", "costs", "price", "spend", "how much", "budget", "cheaper"):
		return models.CapEstimateCost
	case containsWord(lower, "impact", "affect", "affected", "blast radius", "risk", "downtime"):
		return models.CapEstimateImpact
	case containsWord(lower, "validate", "verify", "safe", "check if", "is it ok"):
		return models.CapValidateChange
	default:
		return models.CapSimulateChange
	}
}

func (h *Plan) Handle(ctx context.Context, req *Request) *models.Result {
	start := time.Now()
	q := req.Query
	res := models.NewResult(q.ID, models.ModePlan)
	capability := h.RequiredCapability(q)
	res.Data["capability"] = string(capability)

	chunks := retrieve(ctx, h.deps, q, res, models.CategoryBestPractices, models.CategoryRunbooks)
	kinds := []contracts.DataSourceKind{contracts.SourceTopology, contracts.SourceMetrics}
	if capability == models.CapEstimateCost {
		kinds = append(kinds, contracts.SourceCost)
	}
	facts := gather(ctx, h.deps, q, res, kinds...)
	res.Data["knowledge"] = knowledgeRefs(chunks)
	res.Data["facts"] = factRefs(facts)

	prompt, err := render(planPrompt, promptData{
		Query:      q.Text,
		Scope:      q.Scope,
		Capability: string(capability),
		History:    req.History,
		Knowledge:  chunks,
		Facts:      facts,
	})
	if err != nil {
		return finish(fail(res, err), start)
	}
	text, err := complete(ctx, h.deps, prompt, models.ModelCodeInfra, 0.5)
	if err != nil {
		return finish(fail(res, fmt.Errorf("generate plan: %w", err)), start)
	}

	steps := ParsePlan(text)
	res.Data["plan"] = map[string]any{
		"steps":    steps,
		"raw_text": text,
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Plan for: %s\n\nSteps:\n", q.Text)
	for i, s := range steps {
		fmt.Fprintf(&sb, "\n%d. %s\n", i+1, strings.TrimSpace(stepMarker.ReplaceAllString(s.Description, "")))
		for _, d := range s.Details {
			fmt.Fprintf(&sb, "   - %s\n", d)
		}
	}
	res.Response = sb.String()
	res.Success = true

	res.Confidence = 80
	if len(steps) < 2 {
		res.Confidence = 50
	}
	res.Confidence -= 10 * float64(len(res.Warnings))
	return finish(res, start)
}
