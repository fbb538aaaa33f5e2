// Package collab runs several specialists on one query and synthesizes
// their findings into a single Result.
//
// Strategies:
//   - sequential: in order, each specialist sees the earlier findings; the
//     first failure stops the chain
//   - parallel: all at once with a per-branch timeout; failures are isolated
//   - orchestrated: a coordinator model picks and orders specialists, then
//     runs them sequentially; falls back to parallel
package collab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kloudping-venkat/DevopsMate/internal/agents"
	"github.com/kloudping-venkat/DevopsMate/internal/apperr"
	"github.com/kloudping-venkat/DevopsMate/internal/store"
	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// DefaultBranchTimeout bounds each specialist run.
const DefaultBranchTimeout = 30 * time.Second

// Orchestrator runs collaborations.
type Orchestrator struct {
	agents        *agents.Registry
	llm           contracts.LLMBackend
	store         store.CollaborationStore
	branchTimeout time.Duration
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithBranchTimeout overrides DefaultBranchTimeout.
func WithBranchTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.branchTimeout = d }
}

// NewOrchestrator creates an orchestrator. llm serves the coordinator of
// the orchestrated strategy.
func NewOrchestrator(reg *agents.Registry, llm contracts.LLMBackend, s store.CollaborationStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{agents: reg, llm: llm, store: s, branchTimeout: DefaultBranchTimeout}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Collaborate runs the specialists and returns the persisted collaboration.
// Specialist failures never surface as an error; they are recorded in the
// partials and the synthesized Result. An error means invalid input or a
// cancelled caller.
func (o *Orchestrator) Collaborate(ctx context.Context, q *models.Query, ids []string, strategy models.Strategy, in agents.Input) (*models.Collaboration, error) {
	if len(ids) == 0 {
		return nil, apperr.Validation("collab.Collaborate", "no specialists requested")
	}
	if !strategy.Valid() {
		return nil, apperr.Validation("collab.Collaborate", "unknown strategy %q", strategy)
	}
	participants := make([]agents.Agent, len(ids))
	for i, id := range ids {
		a, err := o.agents.Get(id)
		if err != nil {
			return nil, apperr.Validation("collab.Collaborate", "unknown specialist %q", id)
		}
		participants[i] = a
	}

	ctx, span := otel.Tracer("devopsmate").Start(ctx, "collab.collaborate")
	defer span.End()
	span.SetAttributes(
		attribute.String("collab.strategy", string(strategy)),
		attribute.StringSlice("collab.participants", ids),
	)

	c := &models.Collaboration{
		ID:           uuid.NewString(),
		QueryID:      q.ID,
		Strategy:     strategy,
		Participants: ids,
		Status:       models.CollaborationRunning,
		CreatedAt:    time.Now().UTC(),
	}

	var (
		notes []string
		err   error
	)
	switch strategy {
	case models.StrategySequential:
		c.Partials = o.sequential(ctx, q, participants, in)
	case models.StrategyParallel:
		c.Partials, err = o.parallel(ctx, q, participants, in)
	case models.StrategyOrchestrated:
		ordered, cerr := o.coordinate(ctx, q, participants)
		if cerr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Err(cerr).Str("query", q.ID).Msg("Coordinator failed, falling back to parallel")
			notes = append(notes, fmt.Sprintf("coordinator unavailable, ran specialists in parallel: %v", cerr))
			c.Partials, err = o.parallel(ctx, q, participants, in)
		} else {
			c.Partials = o.sequential(ctx, q, ordered, in)
			c.Participants = make([]string, len(ordered))
			for i, a := range ordered {
				c.Participants[i] = a.Specialization().ID
			}
		}
	}

	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.Final = Synthesize(q, c.Partials)
	c.Final.Data["collaboration_id"] = c.ID
	c.Final.Data["strategy"] = string(strategy)
	for _, n := range notes {
		c.Final.Warn(n)
	}
	c.Status = statusOf(c.Partials)
	done := time.Now().UTC()
	c.CompletedAt = &done

	if o.store != nil {
		if err := o.store.SaveCollaboration(ctx, c); err != nil {
			return nil, err
		}
	}

	log.Info().
		Str("collaboration", c.ID).
		Str("strategy", string(strategy)).
		Str("status", string(c.Status)).
		Float64("confidence", c.Final.Confidence).
		Msg("🤝 Collaboration finished")
	return c, nil
}

// run executes one specialist under the branch timeout and converts the
// outcome into a PartialResult.
func (o *Orchestrator) run(ctx context.Context, q *models.Query, a agents.Agent, in agents.Input) models.PartialResult {
	spec := a.Specialization()
	start := time.Now()

	bctx, cancel := context.WithTimeout(ctx, o.branchTimeout)
	defer cancel()

	// The deadline wins even against a specialist that ignores bctx; its
	// late answer is dropped.
	type outcome struct {
		pr  models.PartialResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		pr, err := a.Handle(bctx, q, in)
		done <- outcome{pr, err}
	}()

	var pr models.PartialResult
	var err error
	select {
	case out := <-done:
		pr, err = out.pr, out.err
	case <-bctx.Done():
		err = bctx.Err()
	}
	pr.SpecializationID = spec.ID
	pr.Domain = spec.Domain
	pr.DurationMs = time.Since(start).Milliseconds()
	if pr.ContextUsed == nil {
		pr.ContextUsed = []string{}
	}

	switch {
	case err == nil:
		pr.Status = models.PartialCompleted
		log.Debug().Str("specialist", spec.ID).Int64("duration_ms", pr.DurationMs).Msg("✅ Specialist completed")
	case errors.Is(bctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		pr.Status = models.PartialTimedOut
		pr.Confidence = 0
		pr.Error = fmt.Sprintf("timed out after %s", o.branchTimeout)
		log.Warn().Str("specialist", spec.ID).Dur("timeout", o.branchTimeout).Msg("⏱️ Specialist timed out")
	default:
		pr.Status = models.PartialFailed
		pr.Confidence = 0
		pr.Error = err.Error()
		log.Warn().Str("specialist", spec.ID).Err(err).Msg("❌ Specialist failed")
	}
	return pr
}

func (o *Orchestrator) sequential(ctx context.Context, q *models.Query, participants []agents.Agent, in agents.Input) []models.PartialResult {
	partials := make([]models.PartialResult, 0, len(participants))
	for i, a := range participants {
		if ctx.Err() != nil {
			break
		}
		step := in.Clone()
		step.Prior = append(step.Prior, partials...)

		pr := o.run(ctx, q, a, step)
		partials = append(partials, pr)
		if pr.Status == models.PartialCompleted {
			continue
		}
		for _, rest := range participants[i+1:] {
			spec := rest.Specialization()
			partials = append(partials, models.PartialResult{
				SpecializationID: spec.ID,
				Domain:           spec.Domain,
				Status:           models.PartialSkipped,
				ContextUsed:      []string{},
				Error:            fmt.Sprintf("skipped after %s %s", pr.SpecializationID, pr.Status),
			})
		}
		break
	}
	return partials
}

// parallel fails only when the caller cancels. Branch failures and
// timeouts are recorded in the partials.
func (o *Orchestrator) parallel(ctx context.Context, q *models.Query, participants []agents.Agent, in agents.Input) ([]models.PartialResult, error) {
	partials := make([]models.PartialResult, len(participants))
	g, gctx := errgroup.WithContext(ctx)
	for i, a := range participants {
		branch := in.Clone()
		g.Go(func() error {
			partials[i] = o.run(gctx, q, a, branch)
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return partials, nil
}

func statusOf(partials []models.PartialResult) models.CollaborationStatus {
	completed := 0
	for _, p := range partials {
		if p.Status == models.PartialCompleted {
			completed++
		}
	}
	switch {
	case completed == 0:
		return models.CollaborationFailed
	case completed < len(partials):
		return models.CollaborationDegraded
	default:
		return models.CollaborationCompleted
	}
}
