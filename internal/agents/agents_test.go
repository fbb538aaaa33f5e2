package agents

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kloudping-venkat/DevopsMate/internal/datasource"
	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLLM struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
	classes []models.ModelClass
}

func (r *recordingLLM) Complete(_ context.Context, prompt string, class models.ModelClass, _ float64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, prompt)
	r.classes = append(r.classes, class)
	return r.reply, r.err
}

type downSource struct{}

func (downSource) Name() string                   { return "metrics" }
func (downSource) Kind() contracts.DataSourceKind { return contracts.SourceMetrics }
func (downSource) Fetch(context.Context, contracts.DataRequest) ([]contracts.Fact, error) {
	return nil, errors.New("prometheus unreachable")
}

func TestParseConfidence(t *testing.T) {
	tests := []struct {
		in      string
		finding string
		conf    float64
	}{
		{"Latency is high.\nConfidence: 85", "Latency is high.", 85},
		{"Latency is high.\nconfidence = 70%", "Latency is high.", 70},
		{"No confidence stated", "No confidence stated", DefaultConfidence},
		{"a\nConfidence: 20\nb\nConfidence: 150", "a\nConfidence: 20\nb", 100},
	}
	for _, tt := range tests {
		finding, conf := ParseConfidence(tt.in)
		assert.Equal(t, tt.finding, finding)
		assert.Equal(t, tt.conf, conf)
	}
}

func TestDomainAgent_UsesFactsKnowledgeAndPrior(t *testing.T) {
	sources := datasource.NewRegistry()
	sources.Register(datasource.NewStaticSource("logs", contracts.SourceLogs, []datasource.StaticFact{
		{Summary: "OOMKilled in checkout-7f9", Keywords: []string{"checkout"}},
	}))
	llm := &recordingLLM{reply: "Checkout pods are OOMKilled.\nConfidence: 80"}

	spec := Builtin()[1] // logs
	a, err := NewDomainAgent(spec, llm, sources)
	require.NoError(t, err)

	q := &models.Query{ID: "q1", Text: "why is checkout failing"}
	pr, err := a.Handle(context.Background(), q, Input{
		Scope:     "prod",
		Knowledge: []models.RetrievedChunk{{KnowledgeChunk: models.KnowledgeChunk{DocumentTitle: "oom-runbook", Text: "raise memory limits"}}},
		Prior:     []models.PartialResult{{SpecializationID: "metrics", Status: models.PartialCompleted, Finding: "memory at 99%"}},
	})
	require.NoError(t, err)

	assert.Equal(t, models.PartialCompleted, pr.Status)
	assert.Equal(t, "Checkout pods are OOMKilled.", pr.Finding)
	assert.Equal(t, 80.0, pr.Confidence)
	assert.Len(t, pr.ContextUsed, 3)
	for _, line := range pr.ContextUsed {
		assert.True(t, strings.Contains(llm.prompts[0], line), "prompt missing context line %q", line)
	}
	assert.Equal(t, models.ModelAnalytics, llm.classes[0])
}

func TestDomainAgent_SourceFailureLowersConfidence(t *testing.T) {
	sources := datasource.NewRegistry()
	sources.Register(downSource{})
	llm := &recordingLLM{reply: "Not enough data.\nConfidence: 50"}

	a, err := NewDomainAgent(Builtin()[0], llm, sources)
	require.NoError(t, err)

	pr, err := a.Handle(context.Background(), &models.Query{Text: "latency"}, Input{})
	require.NoError(t, err)
	assert.Equal(t, 40.0, pr.Confidence)
	require.Len(t, pr.Warnings, 1)
	assert.Contains(t, pr.Warnings[0], "metrics")
}

func TestDomainAgent_LLMFailureIsReturned(t *testing.T) {
	llm := &recordingLLM{err: errors.New("model down")}
	a, err := NewDomainAgent(Builtin()[5], llm, nil)
	require.NoError(t, err)

	_, err = a.Handle(context.Background(), &models.Query{Text: "review the helm chart"}, Input{})
	assert.Error(t, err)
	assert.Equal(t, models.ModelCodeInfra, llm.classes[0])
}

func TestNewDomainAgent_BadTemplate(t *testing.T) {
	_, err := NewDomainAgent(models.Specialization{ID: "bad", PromptTemplate: "{{.Query"}, &recordingLLM{}, nil)
	assert.Error(t, err)
}

func TestRegistry_OverrideAndDomains(t *testing.T) {
	r, err := NewDefaultRegistry(&recordingLLM{}, nil, models.Specialization{
		ID: "logs", Domain: models.DomainLogs, Description: "custom logs specialist",
	})
	require.NoError(t, err)

	a, err := r.Get("logs")
	require.NoError(t, err)
	assert.Equal(t, "custom logs specialist", a.Specialization().Description)
	assert.Len(t, r.Specializations(), 6)
	assert.Equal(t, []string{"logs", "metrics"}, r.ForDomains(models.DomainMetrics, models.DomainLogs))
}

func TestInput_CloneIsIsolated(t *testing.T) {
	in := Input{Prior: []models.PartialResult{{SpecializationID: "a"}}}
	c := in.Clone()
	c.Prior[0].SpecializationID = "b"
	assert.Equal(t, "a", in.Prior[0].SpecializationID)
}
