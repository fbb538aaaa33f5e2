package modes_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kloudping-venkat/DevopsMate/internal/agents"
	"github.com/kloudping-venkat/DevopsMate/internal/apperr"
	"github.com/kloudping-venkat/DevopsMate/internal/approval"
	"github.com/kloudping-venkat/DevopsMate/internal/datasource"
	"github.com/kloudping-venkat/DevopsMate/internal/executor"
	"github.com/kloudping-venkat/DevopsMate/internal/modes"
	"github.com/kloudping-venkat/DevopsMate/internal/rag"
	"github.com/kloudping-venkat/DevopsMate/internal/store"
	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── fakes ───────────────────────────────────────────────────

type llmFunc func(prompt string, class models.ModelClass, temperature float64) (string, error)

func (f llmFunc) Complete(_ context.Context, prompt string, class models.ModelClass, temperature float64) (string, error) {
	return f(prompt, class, temperature)
}

type fixedRetriever struct {
	chunks []models.RetrievedChunk
	err    error

	mu   sync.Mutex
	reqs []rag.RetrieveRequest
}

func (r *fixedRetriever) Retrieve(_ context.Context, req rag.RetrieveRequest) *rag.Results {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	return rag.ResultsOf(r.chunks, r.err)
}

type fakeCollab struct {
	collab *models.Collaboration
	err    error
	ids    []string
}

func (f *fakeCollab) Collaborate(_ context.Context, _ *models.Query, ids []string, _ models.Strategy, _ agents.Input) (*models.Collaboration, error) {
	f.ids = ids
	return f.collab, f.err
}

var runbookChunk = models.RetrievedChunk{
	KnowledgeChunk: models.KnowledgeChunk{
		ID: "c1", DocumentID: "d1", KnowledgeBaseID: "runbooks",
		DocumentTitle: "checkout runbook", Text: "Restart checkout by draining traffic first.",
	},
	Score: 0.91,
}

func sources() *datasource.Registry {
	reg := datasource.NewRegistry()
	reg.Register(datasource.NewStaticSource("metrics", contracts.SourceMetrics, []datasource.StaticFact{
		{Scope: "production", Summary: "checkout p99 latency 180ms, error rate 0.1%"},
	}))
	reg.Register(datasource.NewStaticSource("logs", contracts.SourceLogs, []datasource.StaticFact{
		{Scope: "production", Summary: "checkout: 42 connection refused errors to payments in 10m"},
	}))
	return reg
}

func principal(perms ...string) models.Principal {
	return models.Principal{ID: "dev", Permissions: perms, Scopes: []string{"production"}}
}

// ── parsing ─────────────────────────────────────────────────

func TestParseIntent(t *testing.T) {
	tests := []struct {
		text string
		want modes.Intent
		cap  models.Capability
	}{
		{"Is checkout service up?", modes.IntentServiceStatus, models.CapReadInfra},
		{"compare staging vs production config", modes.IntentEnvironmentCompare, models.CapReadInfra},
		{"list all buckets with tag team=payments", modes.IntentListResources, models.CapReadInfra},
		{"is the cluster healthy", modes.IntentHealthCheck, models.CapReadMetrics},
		{"who can approve changes in prod", modes.IntentAccessCheck, models.CapReadSecurity},
		{"how much do we spend on egress", modes.IntentCostAnalysis, models.CapReadCost},
		{"does this dns name resolve", modes.IntentDNSCheck, models.CapReadInfra},
		{"hello there", modes.IntentGeneric, models.CapReadInfra},
	}
	ask := modes.NewAsk(modes.Deps{})
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, modes.ParseIntent(tt.text))
			assert.Equal(t, tt.cap, ask.RequiredCapability(&models.Query{Text: tt.text}))
		})
	}
}

func TestParsePlan(t *testing.T) {
	steps := modes.ParsePlan("Here is the plan\n1. Drain node\n   cordon first\n2. Upgrade kernel\n- Verify\n")
	require.Len(t, steps, 4)
	assert.Equal(t, "Here is the plan", steps[0].Description)
	assert.Equal(t, "1. Drain node", steps[1].Description)
	assert.Equal(t, []string{"cordon first"}, steps[1].Details)
	assert.Equal(t, "- Verify", steps[3].Description)
}

func TestParseAnalysis(t *testing.T) {
	a := modes.ParseAnalysis(`Root Cause: payments connection pool exhausted
Evidence:
- 42 connection refused errors
- p99 latency doubled
Recommendations:
- raise pool size
1. add circuit breaker`)
	assert.Equal(t, "payments connection pool exhausted", a.RootCause)
	assert.Equal(t, []string{"42 connection refused errors", "p99 latency doubled"}, a.Evidence)
	assert.Equal(t, []string{"raise pool size", "add circuit breaker"}, a.Recommendations)

	plain := modes.ParseAnalysis("Something odd happened.\n\nMore text.")
	assert.Equal(t, "Something odd happened.", plain.RootCause)
	assert.Equal(t, []string{"See full analysis"}, plain.Recommendations)
}

func TestParseActions(t *testing.T) {
	acts, ok := modes.ParseActions("Deploy checkout version 1.4.2", "production")
	require.True(t, ok)
	require.Len(t, acts, 1)
	assert.Equal(t, models.ActionDeploy, acts[0].Type)
	assert.Equal(t, models.Target{Kind: "service", Name: "checkout", Scope: "production"}, acts[0].Target)
	assert.Equal(t, "1.4.2", acts[0].Parameters["version"])
	require.NotNil(t, acts[0].Rollback)

	acts, ok = modes.ParseActions("please scale deployment payments to 5 replicas in staging", "production")
	require.True(t, ok)
	assert.Equal(t, "staging", acts[0].Target.Scope)
	assert.Equal(t, "deployment", acts[0].Target.Kind)
	assert.Equal(t, "5", acts[0].Parameters["replicas"])
	assert.Nil(t, acts[0].Rollback)

	acts, ok = modes.ParseActions("roll back checkout", "production")
	require.True(t, ok)
	assert.Equal(t, models.ActionRollback, acts[0].Type)
	assert.Equal(t, "previous", acts[0].Parameters["version"])

	acts, ok = modes.ParseActions("restart api; then scale api to 3", "production")
	require.True(t, ok)
	assert.Len(t, acts, 2)

	acts, ok = modes.ParseActions("Deploy checkout service v2.0.0 to staging", "production")
	require.True(t, ok)
	assert.Equal(t, "staging", acts[0].Target.Scope)
	assert.Equal(t, "2.0.0", acts[0].Parameters["version"])

	for _, text := range []string{"update checkout to v3.1", "update checkout to latest", "roll back checkout to previous"} {
		acts, ok = modes.ParseActions(text, "production")
		require.True(t, ok, text)
		assert.Equal(t, "production", acts[0].Target.Scope, text)
	}

	_, ok = modes.ParseActions("make it faster", "production")
	assert.False(t, ok)
}

func TestParseModelActions(t *testing.T) {
	acts, ok := modes.ParseModelActions(`Sure: {"actions":[{"type":"restart","target":"billing","parameters":{"grace":30}}]}`, "production")
	require.True(t, ok)
	assert.Equal(t, models.ActionRestart, acts[0].Type)
	assert.Equal(t, "production", acts[0].Target.Scope)
	assert.Equal(t, "30", acts[0].Parameters["grace"])

	_, ok = modes.ParseModelActions(`{"actions":[{"type":"delete","target":"db"}]}`, "production")
	assert.False(t, ok)
}

// ── handlers ────────────────────────────────────────────────

func TestAsk_AnswersFromKnowledgeAndFacts(t *testing.T) {
	var prompt string
	llm := llmFunc(func(p string, class models.ModelClass, temp float64) (string, error) {
		prompt = p
		assert.Equal(t, models.ModelAnalytics, class)
		return "Checkout is up and healthy.\nConfidence: 88", nil
	})
	ret := &fixedRetriever{chunks: []models.RetrievedChunk{runbookChunk}}
	h := modes.NewAsk(modes.Deps{LLM: llm, Retrieval: ret, Sources: sources()})

	q := &models.Query{ID: "q1", Text: "Is checkout service up?", Scope: "production"}
	res := h.Handle(context.Background(), &modes.Request{Query: q, Principal: principal("ask:read_infra")})

	require.True(t, res.Success, res.Errors)
	assert.Equal(t, models.ModeAsk, res.Mode)
	assert.Equal(t, "Checkout is up and healthy.", res.Response)
	assert.Equal(t, 88.0, res.Confidence)
	assert.Equal(t, "service_status", res.Data["intent"])
	assert.Len(t, res.Data["knowledge"], 1)
	assert.Contains(t, prompt, "[kb:checkout runbook#0]")
	assert.Contains(t, prompt, "[metrics] checkout p99 latency")
	require.Len(t, ret.reqs, 1)
	assert.Empty(t, ret.reqs[0].Categories, "ask searches every knowledge base")
}

func TestAsk_ModelDownFallsBackToFacts(t *testing.T) {
	llm := llmFunc(func(string, models.ModelClass, float64) (string, error) {
		return "", apperr.Unavailable("test", errors.New("connection refused"))
	})
	h := modes.NewAsk(modes.Deps{LLM: llm, Sources: sources()})

	q := &models.Query{ID: "q1", Text: "Is checkout service up?", Scope: "production"}
	res := h.Handle(context.Background(), &modes.Request{Query: q})

	assert.True(t, res.Success)
	assert.Equal(t, 30.0, res.Confidence)
	assert.Contains(t, res.Response, "checkout p99 latency")
	assert.NotEmpty(t, res.Warnings)
}

func TestAsk_DegradedRetrievalWarns(t *testing.T) {
	llm := llmFunc(func(string, models.ModelClass, float64) (string, error) { return "No data.", nil })
	ret := &fixedRetriever{err: apperr.Unavailable("rag", errors.New("vector store down"))}
	h := modes.NewAsk(modes.Deps{LLM: llm, Retrieval: ret})

	res := h.Handle(context.Background(), &modes.Request{Query: &models.Query{ID: "q", Text: "hello", Scope: "production"}})
	assert.True(t, res.Success)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "knowledge retrieval degraded")
	assert.LessOrEqual(t, res.Confidence, 50.0)
}

func TestPlan_ParsesSteps(t *testing.T) {
	llm := llmFunc(func(_ string, class models.ModelClass, temp float64) (string, error) {
		assert.Equal(t, models.ModelCodeInfra, class)
		assert.Equal(t, 0.5, temp)
		return "1. Add a read replica\n   cost: $200/month\n2. Shift read traffic\n3. Monitor lag", nil
	})
	ret := &fixedRetriever{}
	h := modes.NewPlan(modes.Deps{LLM: llm, Retrieval: ret})

	q := &models.Query{ID: "q1", Text: "what if we add a read replica to orders-db", Scope: "production"}
	assert.Equal(t, models.CapSimulateChange, h.RequiredCapability(q))
	res := h.Handle(context.Background(), &modes.Request{Query: q})

	require.True(t, res.Success)
	plan := res.Data["plan"].(map[string]any)
	assert.Len(t, plan["steps"], 3)
	assert.Equal(t, 80.0, res.Confidence)
	assert.ElementsMatch(t, []models.KnowledgeCategory{models.CategoryBestPractices, models.CategoryRunbooks}, ret.reqs[0].Categories)
}

func TestPlan_CapabilityFromPhrasing(t *testing.T) {
	h := modes.NewPlan(modes.Deps{})
	assert.Equal(t, models.CapEstimateCost, h.RequiredCapability(&models.Query{Text: "how much would it cost to double the cache"}))
	assert.Equal(t, models.CapEstimateImpact, h.RequiredCapability(&models.Query{Text: "what is the blast radius of dropping redis"}))
	assert.Equal(t, models.CapValidateChange, h.RequiredCapability(&models.Query{Text: "validate this helm change"}))
}

func TestDebug_UsesCollaborationAndParsesAnalysis(t *testing.T) {
	llm := llmFunc(func(p string, _ models.ModelClass, _ float64) (string, error) {
		assert.Contains(t, p, "## logs")
		return "Root Cause: payments pool exhausted\nEvidence:\n- refused connections\nRecommendations:\n- raise pool size\nConfidence: 80", nil
	})
	final := models.NewResult("q1", models.ModeDebug)
	final.Success = true
	final.Confidence = 60
	final.Response = "## logs (confidence 60)\nconnection refused to payments"
	fc := &fakeCollab{collab: &models.Collaboration{
		ID:       "col-1",
		Partials: []models.PartialResult{{SpecializationID: "logs", Domain: models.DomainLogs, Status: models.PartialCompleted, Finding: "connection refused to payments", Confidence: 60}},
		Final:    final,
		Status:   models.CollaborationCompleted,
	}}

	reg := agents.NewRegistry()
	for _, spec := range agents.Builtin() {
		a, err := agents.NewDomainAgent(spec, llm, nil)
		require.NoError(t, err)
		reg.Register(a)
	}
	h := modes.NewDebug(modes.Deps{LLM: llm, Collab: fc, Agents: reg, Sources: sources()})

	q := &models.Query{ID: "q1", Text: "why is checkout failing", Scope: "production"}
	assert.Equal(t, models.CapAnalyzeFailure, h.RequiredCapability(q))
	res := h.Handle(context.Background(), &modes.Request{Query: q})

	require.True(t, res.Success, res.Errors)
	assert.Equal(t, []string{"logs", "metrics", "topology"}, fc.ids)
	assert.Equal(t, "col-1", res.Data["collaboration_id"])
	analysis := res.Data["analysis"].(modes.Analysis)
	assert.Equal(t, "payments pool exhausted", analysis.RootCause)
	assert.Equal(t, 70.0, res.Confidence)
	assert.Empty(t, res.Data["facts"], "facts are only gathered directly when collaboration fails")
}

func TestDebug_FallsBackToFactsWithoutCollaboration(t *testing.T) {
	llm := llmFunc(func(p string, _ models.ModelClass, _ float64) (string, error) {
		assert.Contains(t, p, "[logs] checkout: 42 connection refused")
		return "Root Cause: payments down", nil
	})
	h := modes.NewDebug(modes.Deps{LLM: llm, Sources: sources()})
	res := h.Handle(context.Background(), &modes.Request{Query: &models.Query{ID: "q", Text: "debug checkout", Scope: "production"}})
	require.True(t, res.Success)
	assert.Len(t, res.Data["facts"], 2)
}

// ── execute ─────────────────────────────────────────────────

func newExecute(t *testing.T, llm contracts.LLMBackend) (*modes.Execute, *approval.Workflow, *executor.DryRunBackend) {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	backend := executor.NewDryRunBackend()
	wf := approval.NewWorkflow(s, backend)
	return modes.NewExecute(modes.Deps{LLM: llm, Approvals: wf}), wf, backend
}

func TestExecute_ProposeThenRunWithToken(t *testing.T) {
	h, wf, backend := newExecute(t, nil)
	ctx := context.Background()
	dev := principal("execute:deploy")
	q := &models.Query{ID: "q1", SessionID: "s1", Text: "deploy checkout version 2.0", Scope: "production"}

	assert.Equal(t, models.CapDeploy, h.RequiredCapability(q))
	res := h.Handle(ctx, &modes.Request{Query: q, Principal: dev})
	assert.False(t, res.Success)
	assert.Equal(t, true, res.Data["approval_required"])
	assert.Empty(t, backend.Executed(), "proposing never executes")

	actionID := res.Data["action_id"].(string)
	token := res.Data["approval_id"].(string)
	_, err := wf.Decide(ctx, actionID, approval.DecisionApprove, models.Principal{ID: "lead", Permissions: []string{"approve:production:*"}}, "")
	require.NoError(t, err)

	q2 := &models.Query{ID: "q2", SessionID: "s1", Text: "deploy checkout version 2.0", Scope: "production",
		Metadata: map[string]string{models.MetaApprovalToken: token}}
	res = h.Handle(ctx, &modes.Request{Query: q2, Principal: dev})
	require.True(t, res.Success, res.Errors)
	assert.Equal(t, string(models.ActionSucceeded), res.Data["status"])
	require.Len(t, backend.Executed(), 1)
	assert.Equal(t, "2.0", backend.Executed()[0].Parameters["version"])
}

func TestExecute_UnapprovedTokenNeverRuns(t *testing.T) {
	h, _, backend := newExecute(t, nil)
	ctx := context.Background()
	dev := principal("execute:*")
	res := h.Handle(ctx, &modes.Request{Query: &models.Query{ID: "q1", Text: "restart checkout", Scope: "production"}, Principal: dev})
	token := res.Data["approval_id"].(string)

	res = h.Handle(ctx, &modes.Request{Query: &models.Query{ID: "q2", Text: "restart checkout", Scope: "production",
		Metadata: map[string]string{models.MetaApprovalToken: token}}, Principal: dev})
	assert.False(t, res.Success)
	assert.Equal(t, "approval_conflict", res.Data["error_kind"])
	assert.Empty(t, backend.Executed())
}

func TestExecute_ScopeMismatchIsValidationError(t *testing.T) {
	for _, text := range []string{
		"scale checkout to 3 in staging",
		"Deploy checkout service v2.0.0 to staging",
	} {
		t.Run(text, func(t *testing.T) {
			h, wf, backend := newExecute(t, nil)
			res := h.Handle(context.Background(), &modes.Request{
				Query:     &models.Query{ID: "q1", Text: text, Scope: "production"},
				Principal: principal("execute:*"),
			})
			assert.False(t, res.Success)
			assert.Equal(t, "validation_error", res.Data["error_kind"])
			assert.Empty(t, backend.Executed())

			pending, err := wf.ListApprovals(context.Background(), models.ApprovalPending, 0)
			require.NoError(t, err)
			assert.Empty(t, pending)
		})
	}
}

func TestExecute_ModelFallbackParser(t *testing.T) {
	llm := llmFunc(func(_ string, class models.ModelClass, temp float64) (string, error) {
		assert.Equal(t, models.ModelCodeInfra, class)
		assert.Equal(t, 0.1, temp)
		return `{"actions":[{"type":"configure","target":"ingress-nginx","target_kind":"deployment","parameters":{"timeout":"30s"}}]}`, nil
	})
	h, _, _ := newExecute(t, llm)
	res := h.Handle(context.Background(), &modes.Request{
		Query:     &models.Query{ID: "q1", Text: "bump the ingress timeout to 30s", Scope: "production"},
		Principal: principal("execute:*"),
	})
	assert.Equal(t, true, res.Data["approval_required"])
	assert.Equal(t, "model", res.Data["parsed_by"])
	assert.True(t, strings.Contains(res.Response, "ingress-nginx"))
}

func TestExecute_UnparseableCommand(t *testing.T) {
	llm := llmFunc(func(string, models.ModelClass, float64) (string, error) { return "I am not sure.", nil })
	h, _, _ := newExecute(t, llm)
	res := h.Handle(context.Background(), &modes.Request{
		Query:     &models.Query{ID: "q1", Text: "make it better", Scope: "production"},
		Principal: principal("execute:*"),
	})
	assert.False(t, res.Success)
	assert.Equal(t, "validation_error", res.Data["error_kind"])
}
