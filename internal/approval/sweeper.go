package approval

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultSweepInterval is how often the Sweeper looks for lapsed approvals.
const DefaultSweepInterval = time.Minute

// Sweeper periodically expires pending approvals past their deadline.
// Reads expire lazily as well; the sweeper makes sure notifications go out
// even when nobody looks at an action again.
type Sweeper struct {
	workflow *Workflow
	interval time.Duration
}

// NewSweeper creates a sweeper. Intervals under a second are raised to one.
func NewSweeper(w *Workflow, interval time.Duration) *Sweeper {
	if interval < time.Second {
		interval = time.Second
	}
	return &Sweeper{workflow: w, interval: interval}
}

// Start runs sweeps until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("Approval sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Approval sweeper stopped")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Sweeper) runCycle(ctx context.Context) {
	n, err := s.workflow.ExpireDue(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Approval sweeper: failed to list approvals")
		return
	}
	if n > 0 {
		log.Info().Int("expired", n).Msg("Approval sweep complete")
	}
}
