package modes

import (
	"context"
	"strings"
	"time"

	"github.com/kloudping-venkat/DevopsMate/internal/agents"
	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/rs/zerolog/log"
)

// Intent is what an Ask query is about.
type Intent string

const (
	IntentEnvironmentCompare Intent = "environment_compare"
	IntentListResources      Intent = "list_resources"
	IntentServiceStatus      Intent = "service_status"
	IntentHealthCheck        Intent = "health_check"
	IntentAccessCheck        Intent = "access_check"
	IntentRepoAnalysis       Intent = "repo_analysis"
	IntentCostAnalysis       Intent = "cost_analysis"
	IntentSchemaValidation   Intent = "schema_validation"
	IntentVersionCompare     Intent = "version_compare"
	IntentVMDiagnostics      Intent = "vm_diagnostics"
	IntentDNSCheck           Intent = "dns_check"
	IntentConnectivityCheck  Intent = "connectivity_check"
	IntentRoutingCheck       Intent = "routing_check"
	IntentGeneric            Intent = "generic"
)

type intentRule struct {
	intent   Intent
	keywords []string
	also     []string // when set, one of these must match too
}

// intentRules are checked in order; the first match wins.
var intentRules = []intentRule{
	{IntentEnvironmentCompare, []string{"compare", "vs", "versus", "difference", "drift"}, []string{"staging", "prod", "production", "dev", "environment", "environments"}},
	{IntentListResources, []string{"list", "show", "find", "all resources", "with tag"}, nil},
	{IntentServiceStatus, []string{"healthy", "health", "status", "up", "down"}, []string{"service", "checkout", "api"}},
	{IntentHealthCheck, []string{"healthy", "health", "status", "up", "down"}, nil},
	{IntentAccessCheck, []string{"who can", "permission", "permissions", "access", "rbac", "iam"}, nil},
	{IntentRepoAnalysis, []string{"repo", "repository", "pipeline", "best way", "service"}, nil},
	{IntentCostAnalysis, []string{"cost", "costs", "spend", "break-even", "worth", "benefit"}, nil},
	{IntentSchemaValidation, []string{"migration", "schema", "safe", "breaking"}, nil},
	{IntentVersionCompare, []string{"version", "latest", "running", "commit", "tag"}, nil},
	{IntentVMDiagnostics, []string{"vm", "slow", "cpu", "memory", "disk"}, nil},
	{IntentDNSCheck, []string{"dns", "resolve", "resolving", "domain"}, nil},
	{IntentConnectivityCheck, []string{"ping", "reach", "connect", "network", "traceroute"}, nil},
	{IntentRoutingCheck, []string{"route", "routing", "ingress", "load balancer"}, nil},
}

// ParseIntent classifies an Ask query.
func ParseIntent(text string) Intent {
	lower := strings.ToLower(text)
	for _, r := range intentRules {
		if !containsWord(lower, r.keywords...) {
			continue
		}
		if r.also != nil && !containsWord(lower, r.also...) {
			continue
		}
		return r.intent
	}
	return IntentGeneric
}

var intentCapability = map[Intent]models.Capability{
	IntentEnvironmentCompare: models.CapReadInfra,
	IntentListResources:      models.CapReadInfra,
	IntentServiceStatus:      models.CapReadInfra,
	IntentHealthCheck:        models.CapReadMetrics,
	IntentAccessCheck:        models.CapReadSecurity,
	IntentRepoAnalysis:       models.CapReadCICD,
	IntentCostAnalysis:       models.CapReadCost,
	IntentSchemaValidation:   models.CapReadConfig,
	IntentVersionCompare:     models.CapReadCICD,
	IntentVMDiagnostics:      models.CapReadInfra,
	IntentDNSCheck:           models.CapReadInfra,
	IntentConnectivityCheck:  models.CapReadInfra,
	IntentRoutingCheck:       models.CapReadConfig,
	IntentGeneric:            models.CapReadInfra,
}

var intentSources = map[Intent][]contracts.DataSourceKind{
	IntentEnvironmentCompare: {contracts.SourceTopology},
	IntentListResources:      {contracts.SourceTopology},
	IntentServiceStatus:      {contracts.SourceMetrics, contracts.SourceTopology},
	IntentHealthCheck:        {contracts.SourceMetrics},
	IntentAccessCheck:        {contracts.SourceSecurity},
	IntentRepoAnalysis:       {contracts.SourceRepository},
	IntentCostAnalysis:       {contracts.SourceCost},
	IntentSchemaValidation:   {contracts.SourceRepository},
	IntentVersionCompare:     {contracts.SourceRepository, contracts.SourceTopology},
	IntentVMDiagnostics:      {contracts.SourceMetrics, contracts.SourceLogs},
	IntentDNSCheck:           {contracts.SourceTopology},
	IntentConnectivityCheck:  {contracts.SourceTopology, contracts.SourceLogs},
	IntentRoutingCheck:       {contracts.SourceTopology},
	IntentGeneric:            {contracts.SourceMetrics, contracts.SourceTopology},
}

// domainKeywords detect which specialist domains a query touches.
var domainKeywords = []struct {
	domain   models.Domain
	keywords []string
}{
	{models.DomainMetrics, []string{"latency", "cpu", "memory", "p99", "p95", "throughput", "error rate", "metrics", "saturation"}},
	{models.DomainLogs, []string{"log", "logs", "exception", "stack trace", "errors"}},
	{models.DomainSecurity, []string{"vulnerability", "vulnerabilities", "cve", "iam", "rbac", "secret", "secrets", "exposed"}},
	{models.DomainCost, []string{"cost", "costs", "spend", "bill", "billing", "budget"}},
	{models.DomainTopology, []string{"dependency", "dependencies", "upstream", "downstream", "topology", "depends"}},
	{models.DomainCode, []string{"repo", "repository", "code", "commit", "terraform", "helm", "manifest"}},
}

// DomainsOf returns the specialist domains text mentions, in fixed order.
func DomainsOf(text string) []models.Domain {
	lower := strings.ToLower(text)
	var out []models.Domain
	for _, dk := range domainKeywords {
		if containsWord(lower, dk.keywords...) {
			out = append(out, dk.domain)
		}
	}
	return out
}

// Ask answers read-only questions.
type Ask struct {
	deps Deps
}

// NewAsk creates the Ask handler.
func NewAsk(d Deps) *Ask { return &Ask{deps: d} }

func (h *Ask) Mode() models.Mode { return models.ModeAsk }

func (h *Ask) RequiredCapability(q *models.Query) models.Capability {
	return intentCapability[ParseIntent(q.Text)]
}

func (h *Ask) Handle(ctx context.Context, req *Request) *models.Result {
	start := time.Now()
	q := req.Query
	res := models.NewResult(q.ID, models.ModeAsk)
	intent := ParseIntent(q.Text)
	res.Data["intent"] = string(intent)

	chunks := retrieve(ctx, h.deps, q, res)
	facts := gather(ctx, h.deps, q, res, intentSources[intent]...)
	res.Data["knowledge"] = knowledgeRefs(chunks)
	res.Data["facts"] = factRefs(facts)

	var collab *models.Collaboration
	if ids, strategy, ok := h.collaborators(q); ok {
		collab = collaborate(ctx, h.deps, q, ids, strategy, chunks, res)
	}

	data := promptData{
		Query:     q.Text,
		Scope:     q.Scope,
		Intent:    string(intent),
		History:   req.History,
		Knowledge: chunks,
		Facts:     facts,
	}
	if collab != nil && collab.Final != nil {
		data.Findings = collab.Partials
		data.Synthesis = collab.Final.Response
	}

	prompt, err := render(askPrompt, data)
	if err != nil {
		return finish(fail(res, err), start)
	}
	answer, err := complete(ctx, h.deps, prompt, models.ModelAnalytics, 0.3)
	if err != nil {
		if ctx.Err() != nil {
			return finish(fail(res, ctx.Err()), start)
		}
		// Fall back to what was gathered without the model.
		res.Warn("language model unavailable: " + err.Error())
		if fallback := summarize(chunks, facts, collab); fallback != "" {
			res.Success = true
			res.Response = fallback
			res.Confidence = 30
			return finish(res, start)
		}
		return finish(fail(res, err), start)
	}

	text, confidence := agents.ParseConfidence(answer)
	if len(chunks) == 0 && len(facts) == 0 && collab == nil {
		confidence = min(confidence, 50)
	}
	res.Success = true
	res.Response = text
	res.Confidence = confidence

	log.Debug().
		Str("query", q.ID).
		Str("intent", string(intent)).
		Int("knowledge", len(chunks)).
		Int("facts", len(facts)).
		Msg("Ask answered")
	return finish(res, start)
}

// collaborators decides whether specialists join: explicitly through
// metadata, or when the query spans two or more specialist domains.
func (h *Ask) collaborators(q *models.Query) ([]string, models.Strategy, bool) {
	if h.deps.Agents == nil || h.deps.Collab == nil {
		return nil, "", false
	}
	strategy := models.Strategy(q.Meta(models.MetaCollaborate))
	ids := splitList(q.Meta(models.MetaSpecializations))

	if strategy != "" {
		if len(ids) == 0 {
			ids = h.deps.Agents.ForDomains(DomainsOf(q.Text)...)
		}
		return ids, strategy, len(ids) > 0
	}
	domains := DomainsOf(q.Text)
	if len(domains) < 2 {
		return nil, "", false
	}
	if len(ids) == 0 {
		ids = h.deps.Agents.ForDomains(domains...)
	}
	return ids, models.StrategyParallel, len(ids) > 1
}

func summarize(chunks []models.RetrievedChunk, facts []contracts.Fact, collab *models.Collaboration) string {
	var sb strings.Builder
	if collab != nil && collab.Final != nil && collab.Final.Success {
		sb.WriteString(collab.Final.Response)
		sb.WriteString("\n\n")
	}
	if len(facts) > 0 {
		sb.WriteString("Observed facts:\n")
		for _, f := range facts {
			sb.WriteString("- [" + f.Source + "] " + f.Summary + "\n")
		}
	}
	if len(chunks) > 0 {
		sb.WriteString("Related knowledge:\n")
		for _, c := range chunks {
			sb.WriteString("- " + c.DocumentTitle + ": " + truncateRunes(c.Text, 200) + "\n")
		}
	}
	return strings.TrimSpace(sb.String())
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
