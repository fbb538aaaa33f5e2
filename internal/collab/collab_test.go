package collab

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kloudping-venkat/DevopsMate/internal/agents"
	"github.com/kloudping-venkat/DevopsMate/internal/apperr"
	"github.com/kloudping-venkat/DevopsMate/internal/store"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeAgent struct {
	id         string
	finding    string
	confidence float64
	delay      time.Duration
	err        error

	mu   sync.Mutex
	seen []agents.Input
}

func (f *fakeAgent) Specialization() models.Specialization {
	return models.Specialization{ID: f.id, Domain: models.Domain(f.id), Description: f.id + " specialist"}
}

func (f *fakeAgent) Handle(ctx context.Context, _ *models.Query, in agents.Input) (models.PartialResult, error) {
	f.mu.Lock()
	f.seen = append(f.seen, in)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return models.PartialResult{}, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return models.PartialResult{}, f.err
	}
	return models.PartialResult{Finding: f.finding, Confidence: f.confidence, ContextUsed: []string{"ctx:" + f.id}}, nil
}

type stubLLM struct {
	reply string
	err   error
}

func (s stubLLM) Complete(context.Context, string, models.ModelClass, float64) (string, error) {
	return s.reply, s.err
}

func setup(t *testing.T, llm stubLLM, fakes ...*fakeAgent) (*Orchestrator, store.Store) {
	t.Helper()
	reg := agents.NewRegistry()
	for _, f := range fakes {
		reg.Register(f)
	}
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	return NewOrchestrator(reg, llm, s, WithBranchTimeout(100*time.Millisecond)), s
}

var query = &models.Query{ID: "q1", Text: "why is checkout slow", Mode: models.ModeDebug}

func TestParallel_TimeoutIsIsolated(t *testing.T) {
	defer goleak.VerifyNone(t)

	logs := &fakeAgent{id: "logs", finding: "OOMKilled", confidence: 80}
	metrics := &fakeAgent{id: "metrics", finding: "p99 840ms", confidence: 60}
	slow := &fakeAgent{id: "topology", delay: time.Second}
	o, s := setup(t, stubLLM{}, logs, metrics, slow)

	c, err := o.Collaborate(context.Background(), query, []string{"logs", "metrics", "topology"}, models.StrategyParallel, agents.Input{})
	require.NoError(t, err)

	require.Len(t, c.Partials, 3)
	assert.Equal(t, models.PartialCompleted, c.Partials[0].Status)
	assert.Equal(t, models.PartialCompleted, c.Partials[1].Status)
	assert.Equal(t, models.PartialTimedOut, c.Partials[2].Status)
	assert.Equal(t, 0.0, c.Partials[2].Confidence)

	assert.Equal(t, models.CollaborationDegraded, c.Status)
	assert.True(t, c.Final.Success)
	assert.Equal(t, 70.0, c.Final.Confidence, "mean over completed partials only")
	assert.Contains(t, strings.Join(c.Final.Warnings, "\n"), apperr.KindPartialCollaborationFailure.String())
	assert.Contains(t, c.Final.Response, "## logs")
	assert.Contains(t, c.Final.Response, "topology (timed_out)")

	stored, err := s.GetCollaboration(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Status, stored.Status)
}

// stubbornAgent ignores its context and blocks until released.
type stubbornAgent struct {
	id      string
	release chan struct{}
}

func (s *stubbornAgent) Specialization() models.Specialization {
	return models.Specialization{ID: s.id, Domain: models.Domain(s.id)}
}

func (s *stubbornAgent) Handle(context.Context, *models.Query, agents.Input) (models.PartialResult, error) {
	<-s.release
	return models.PartialResult{Finding: "late", Confidence: 99}, nil
}

func TestParallel_DeadlineBeatsSpecialistIgnoringContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	stubborn := &stubbornAgent{id: "security", release: make(chan struct{})}
	defer close(stubborn.release)
	logs := &fakeAgent{id: "logs", finding: "OOMKilled", confidence: 80}

	reg := agents.NewRegistry()
	reg.Register(logs)
	reg.Register(stubborn)
	o := NewOrchestrator(reg, stubLLM{}, nil, WithBranchTimeout(100*time.Millisecond))

	start := time.Now()
	c, err := o.Collaborate(context.Background(), query, []string{"logs", "security"}, models.StrategyParallel, agents.Input{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	require.Len(t, c.Partials, 2)
	assert.Equal(t, models.PartialCompleted, c.Partials[0].Status)
	assert.Equal(t, models.PartialTimedOut, c.Partials[1].Status)
	assert.Equal(t, 80.0, c.Final.Confidence)
}

func TestParallel_BranchesGetIsolatedInputs(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := &fakeAgent{id: "a", finding: "x", confidence: 50}
	b := &fakeAgent{id: "b", finding: "y", confidence: 50}
	o, _ := setup(t, stubLLM{}, a, b)

	in := agents.Input{Knowledge: []models.RetrievedChunk{{Score: 0.9}}}
	_, err := o.Collaborate(context.Background(), query, []string{"a", "b"}, models.StrategyParallel, in)
	require.NoError(t, err)

	a.seen[0].Knowledge[0].Score = 0
	assert.Equal(t, 0.9, b.seen[0].Knowledge[0].Score)
	assert.Equal(t, 0.9, in.Knowledge[0].Score)
}

func TestSequential_PassesPriorAndAbortsOnFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	first := &fakeAgent{id: "metrics", finding: "memory at 99%", confidence: 90}
	broken := &fakeAgent{id: "logs", err: errors.New("loki down")}
	never := &fakeAgent{id: "code", finding: "unused"}
	o, _ := setup(t, stubLLM{}, first, broken, never)

	c, err := o.Collaborate(context.Background(), query, []string{"metrics", "logs", "code"}, models.StrategySequential, agents.Input{})
	require.NoError(t, err)

	require.Len(t, c.Partials, 3)
	assert.Equal(t, models.PartialCompleted, c.Partials[0].Status)
	assert.Equal(t, models.PartialFailed, c.Partials[1].Status)
	assert.Equal(t, models.PartialSkipped, c.Partials[2].Status)
	assert.Empty(t, never.seen, "skipped specialist must not run")

	require.Len(t, broken.seen, 1)
	require.Len(t, broken.seen[0].Prior, 1)
	assert.Equal(t, "memory at 99%", broken.seen[0].Prior[0].Finding)

	assert.Equal(t, 90.0, c.Final.Confidence)
	assert.True(t, c.Final.Success)
}

func TestOrchestrated_UsesCoordinatorOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	logs := &fakeAgent{id: "logs", finding: "errors", confidence: 70}
	metrics := &fakeAgent{id: "metrics", finding: "latency", confidence: 50}
	cost := &fakeAgent{id: "cost", finding: "n/a", confidence: 10}
	o, _ := setup(t, stubLLM{reply: "metrics, logs, bogus"}, logs, metrics, cost)

	c, err := o.Collaborate(context.Background(), query, []string{"logs", "metrics", "cost"}, models.StrategyOrchestrated, agents.Input{})
	require.NoError(t, err)

	assert.Equal(t, []string{"metrics", "logs"}, c.Participants)
	require.Len(t, c.Partials, 2)
	assert.Equal(t, "metrics", c.Partials[0].SpecializationID)
	assert.Empty(t, cost.seen)
}

func TestOrchestrated_FallsBackToParallel(t *testing.T) {
	defer goleak.VerifyNone(t)

	logs := &fakeAgent{id: "logs", finding: "errors", confidence: 70}
	metrics := &fakeAgent{id: "metrics", finding: "latency", confidence: 50}
	o, _ := setup(t, stubLLM{err: errors.New("coordinator down")}, logs, metrics)

	c, err := o.Collaborate(context.Background(), query, []string{"logs", "metrics"}, models.StrategyOrchestrated, agents.Input{})
	require.NoError(t, err)

	require.Len(t, c.Partials, 2)
	assert.Equal(t, models.CollaborationCompleted, c.Status)
	assert.Contains(t, strings.Join(c.Final.Warnings, "\n"), "coordinator unavailable")
}

func TestCollaborate_AllFailedIsUnsuccessful(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := &fakeAgent{id: "a", err: errors.New("down")}
	o, _ := setup(t, stubLLM{}, a)

	c, err := o.Collaborate(context.Background(), query, []string{"a"}, models.StrategyParallel, agents.Input{})
	require.NoError(t, err)
	assert.False(t, c.Final.Success)
	assert.Equal(t, models.CollaborationFailed, c.Status)
	assert.Equal(t, 0.0, c.Final.Confidence)
}

func TestCollaborate_RejectsUnknownSpecialistAndStrategy(t *testing.T) {
	o, _ := setup(t, stubLLM{}, &fakeAgent{id: "a"})

	_, err := o.Collaborate(context.Background(), query, []string{"nope"}, models.StrategyParallel, agents.Input{})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = o.Collaborate(context.Background(), query, []string{"a"}, models.Strategy("round_robin"), agents.Input{})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestCollaborate_CancelledCallerIsNotPersisted(t *testing.T) {
	defer goleak.VerifyNone(t)

	slow := &fakeAgent{id: "slow", delay: time.Second}
	o, s := setup(t, stubLLM{}, slow)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := o.Collaborate(ctx, query, []string{"slow"}, models.StrategyParallel, agents.Input{})
	assert.ErrorIs(t, err, context.Canceled)

	list, _ := s.ListCollaborations(context.Background(), query.ID)
	assert.Empty(t, list)
}
