package collab

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kloudping-venkat/DevopsMate/internal/agents"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
)

const coordinatorTemperature = 0.2

var idToken = regexp.MustCompile(`[A-Za-z0-9_\-]+`)

// coordinate asks the analytics model which of the candidates should handle
// the query and in what order. Only candidate ids are accepted.
func (o *Orchestrator) coordinate(ctx context.Context, q *models.Query, candidates []agents.Agent) ([]agents.Agent, error) {
	if o.llm == nil {
		return nil, errors.New("no coordinator model configured")
	}

	var sb strings.Builder
	sb.WriteString("You coordinate operations specialists. Pick the specialists needed to answer the question and order them so each can build on the previous findings.\n\n")
	fmt.Fprintf(&sb, "Question: %s\n\nSpecialists:\n", q.Text)
	byID := make(map[string]agents.Agent, len(candidates))
	for _, a := range candidates {
		spec := a.Specialization()
		byID[spec.ID] = a
		fmt.Fprintf(&sb, "- %s: %s\n", spec.ID, spec.Description)
	}
	sb.WriteString("\nReply with the chosen specialist ids, comma separated, in execution order. Nothing else.")

	out, err := o.llm.Complete(ctx, sb.String(), models.ModelAnalytics, coordinatorTemperature)
	if err != nil {
		return nil, err
	}

	var ordered []agents.Agent
	seen := make(map[string]bool)
	for _, tok := range idToken.FindAllString(out, -1) {
		id := strings.ToLower(tok)
		a, ok := byID[id]
		if !ok {
			a, ok = byID[tok]
		}
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ordered = append(ordered, a)
	}
	if len(ordered) == 0 {
		return nil, fmt.Errorf("coordinator picked no known specialist: %q", out)
	}
	return ordered, nil
}
