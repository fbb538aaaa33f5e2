package modes

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"

	"github.com/kloudping-venkat/DevopsMate/pkg/models"
)

// ── plans ───────────────────────────────────────────────────

// PlanStep is one numbered or bulleted step of a generated plan.
type PlanStep struct {
	Description string   `json:"description"`
	Details     []string `json:"details"`
}

var stepMarker = regexp.MustCompile(`^(\d+[.)]|[-*•]|(?i:step)\b)`)

// ParsePlan splits model output into steps. Lines starting with a number,
// a bullet or "Step" open a new step; other lines are its details.
func ParsePlan(text string) []PlanStep {
	var (
		steps   []PlanStep
		current *PlanStep
	)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if stepMarker.MatchString(line) {
			if current != nil {
				steps = append(steps, *current)
			}
			current = &PlanStep{Description: line, Details: []string{}}
			continue
		}
		if current != nil {
			current.Details = append(current.Details, line)
		} else if len(steps) == 0 {
			steps = append(steps, PlanStep{Description: line, Details: []string{}})
		}
	}
	if current != nil {
		steps = append(steps, *current)
	}
	return steps
}

// ── root-cause analyses ─────────────────────────────────────

// Analysis is a parsed root-cause analysis.
type Analysis struct {
	RootCause       string   `json:"root_cause"`
	Evidence        []string `json:"evidence"`
	Recommendations []string `json:"recommendations"`
	FullText        string   `json:"full_analysis"`
}

// ParseAnalysis extracts the root cause, evidence and recommendations
// sections. Without a "Root Cause" line the first paragraph is used.
func ParseAnalysis(text string) Analysis {
	a := Analysis{Evidence: []string{}, Recommendations: []string{}, FullText: text}
	section := ""
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		lower := strings.ToLower(line)
		switch {
		case line == "":
			continue
		case strings.Contains(lower, "root cause"):
			section = "root_cause"
			if _, after, ok := strings.Cut(line, ":"); ok && strings.TrimSpace(after) != "" {
				a.RootCause = strings.TrimSpace(after)
			}
		case strings.HasPrefix(lower, "recommendation") || strings.HasPrefix(lower, "fix") || strings.HasPrefix(lower, "solution"):
			section = "recommendations"
			if _, after, ok := strings.Cut(line, ":"); ok && strings.TrimSpace(after) != "" {
				a.Recommendations = append(a.Recommendations, strings.TrimSpace(after))
			}
		case strings.HasPrefix(lower, "evidence") || strings.HasPrefix(lower, "supporting"):
			section = "evidence"
		case isListItem(line):
			item := trimListMarker(line)
			switch section {
			case "recommendations":
				a.Recommendations = append(a.Recommendations, item)
			case "evidence":
				a.Evidence = append(a.Evidence, item)
			}
		case section == "root_cause" && a.RootCause == "":
			a.RootCause = line
		}
	}
	if a.RootCause == "" {
		para, _, _ := strings.Cut(strings.TrimSpace(text), "\n\n")
		a.RootCause = strings.TrimSpace(para)
	}
	if len(a.Recommendations) == 0 {
		a.Recommendations = []string{"See full analysis"}
	}
	return a
}

func isListItem(line string) bool {
	if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") || strings.HasPrefix(line, "•") {
		return true
	}
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	return i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')')
}

func trimListMarker(line string) string {
	return strings.TrimSpace(strings.TrimLeftFunc(line, func(r rune) bool {
		return r == '-' || r == '*' || r == '•' || r == '.' || r == ')' || unicode.IsDigit(r) || unicode.IsSpace(r)
	}))
}

// ── actions ─────────────────────────────────────────────────

// verbs maps leading imperative verbs to action types.
var verbs = map[string]models.ActionType{
	"deploy":    models.ActionDeploy,
	"scale":     models.ActionScale,
	"restart":   models.ActionRestart,
	"rollback":  models.ActionRollback,
	"roll back": models.ActionRollback,
	"update":    models.ActionUpdate,
	"configure": models.ActionConfigure,
}

var (
	leadingVerb = regexp.MustCompile(`(?i)^\s*(?:please\s+)?(deploy|scale|restart|roll\s*back|update|configure)\b`)
	actionRule  = regexp.MustCompile(`(?i)^\s*(?:please\s+)?(deploy|scale|restart|roll\s*back|update|configure)\s+(?:the\s+)?(?:(service|deployment|statefulset|repository|repo|job|app|config)\s+)?([A-Za-z0-9][\w./-]*)(.*)$`)
	scopeSuffix = regexp.MustCompile(`(?i)\s+(?:in|on)\s+(?:the\s+)?([a-z0-9][\w/.-]*)(?:\s+(?:environment|env|cluster|scope))?\s*$`)
	toScope     = regexp.MustCompile(`(?i)\s+to\s+(?:the\s+)?([a-z][\w/.-]*)(?:\s+(?:environment|env|cluster|scope))?\s*$`)
	versionLike = regexp.MustCompile(`(?i)^(?:v\d[\w.+-]*|previous|latest)$`)
	replicasArg = regexp.MustCompile(`(?i)\bto\s+(\d+)(?:\s+(?:replicas?|instances?|pods?))?\b`)
	versionArg  = regexp.MustCompile(`(?i)(?:\bversion\s+|\bto\s+|@|\bv)(v?\d[\w.+-]*|previous|latest)\b`)
	keyValueArg = regexp.MustCompile(`([A-Za-z_][\w.-]*)\s*=\s*("[^"]*"|\S+)`)
	splitter    = regexp.MustCompile(`(?i)\s*(?:;|\band then\b|\bthen\b)\s*`)
)

// VerbAction returns the action type named by the query's leading verb.
func VerbAction(text string) (models.ActionType, bool) {
	m := leadingVerb.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	t, ok := verbs[normalizeVerb(m[1])]
	return t, ok
}

func normalizeVerb(v string) string {
	v = strings.ToLower(strings.Join(strings.Fields(v), " "))
	if v == "rollback" || v == "roll back" {
		return "rollback"
	}
	return v
}

// ParseActions extracts actions with the rule parser. Each clause must
// start with a known verb; ok is false if any clause does not.
func ParseActions(text, defaultScope string) (actions []*models.Action, ok bool) {
	for _, clause := range splitter.Split(strings.TrimSpace(text), -1) {
		clause = strings.TrimRight(strings.TrimSpace(clause), ".!")
		if clause == "" {
			continue
		}
		a, matched := parseClause(clause, defaultScope)
		if !matched {
			return nil, false
		}
		actions = append(actions, a)
	}
	return actions, len(actions) > 0
}

func parseClause(clause, defaultScope string) (*models.Action, bool) {
	m := actionRule.FindStringSubmatch(clause)
	if m == nil {
		return nil, false
	}
	actionType := verbs[normalizeVerb(m[1])]
	kind := strings.ToLower(m[2])
	switch kind {
	case "":
		kind = "service"
	case "repo":
		kind = "repository"
	}

	rest := m[4]
	scope := defaultScope
	if sm := scopeSuffix.FindStringSubmatchIndex(rest); sm != nil {
		scope = rest[sm[2]:sm[3]]
		rest = rest[:sm[0]]
	} else if sm := toScope.FindStringSubmatchIndex(rest); sm != nil && !versionLike.MatchString(rest[sm[2]:sm[3]]) {
		// "deploy checkout v2 to staging": a trailing target that is not a
		// version names the environment.
		scope = rest[sm[2]:sm[3]]
		rest = rest[:sm[0]]
	}

	params := map[string]string{}
	for _, kv := range keyValueArg.FindAllStringSubmatch(rest, -1) {
		params[kv[1]] = strings.Trim(kv[2], `"`)
	}
	switch actionType {
	case models.ActionScale:
		if r := replicasArg.FindStringSubmatch(rest); r != nil {
			params["replicas"] = r[1]
		}
	case models.ActionDeploy, models.ActionRollback, models.ActionUpdate:
		if v := versionArg.FindStringSubmatch(rest); v != nil {
			params["version"] = v[1]
		}
	}
	if actionType == models.ActionRollback && params["version"] == "" {
		params["version"] = "previous"
	}

	a := &models.Action{
		Type:       actionType,
		Target:     models.Target{Kind: kind, Name: m[3], Scope: scope},
		Parameters: params,
	}
	a.Rollback = rollbackFor(a)
	return a, true
}

// rollbackFor describes how to undo a deploy or an update. Other action
// types have no automatic rollback.
func rollbackFor(a *models.Action) *models.RollbackDescriptor {
	switch a.Type {
	case models.ActionDeploy, models.ActionUpdate:
		return &models.RollbackDescriptor{
			Type:       models.ActionRollback,
			Parameters: map[string]string{"version": "previous"},
		}
	}
	return nil
}

type modelAction struct {
	Type       string         `json:"type"`
	Target     string         `json:"target"`
	TargetKind string         `json:"target_kind"`
	Scope      string         `json:"scope"`
	Parameters map[string]any `json:"parameters"`
}

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// ParseModelActions decodes the model's JSON action list. Unknown action
// types and actions without a target are rejected.
func ParseModelActions(text, defaultScope string) ([]*models.Action, bool) {
	raw := jsonObject.FindString(text)
	if raw == "" {
		return nil, false
	}
	var doc struct {
		Actions []modelAction `json:"actions"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, false
	}

	var out []*models.Action
	for _, ma := range doc.Actions {
		t, known := verbs[normalizeVerb(ma.Type)]
		if !known || strings.TrimSpace(ma.Target) == "" {
			return nil, false
		}
		scope := ma.Scope
		if scope == "" {
			scope = defaultScope
		}
		kind := ma.TargetKind
		if kind == "" {
			kind = "service"
		}
		params := make(map[string]string, len(ma.Parameters))
		for k, v := range ma.Parameters {
			params[k] = stringify(v)
		}
		a := &models.Action{
			Type:       t,
			Target:     models.Target{Kind: kind, Name: ma.Target, Scope: scope},
			Parameters: params,
		}
		a.Rollback = rollbackFor(a)
		out = append(out, a)
	}
	return out, len(out) > 0
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}
