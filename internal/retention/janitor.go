// Package retention bounds how long conversation history stays in the
// Context Store.
//
// Each cycle the janitor:
//   - closes active sessions idle for longer than IdleTimeout
//   - archives sessions closed for longer than Retention, then purges them
//
// Archive failures are fail-safe: sessions are NOT deleted if archiving
// fails. Without an archiver expired sessions are purged directly.
package retention

import (
	"context"
	"time"

	"github.com/kloudping-venkat/DevopsMate/internal/store"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultBatchSize is the most sessions examined per cycle.
const DefaultBatchSize = 5000

// Archiver writes expired sessions to durable storage before they are
// purged. It returns where the batch was written.
type Archiver interface {
	Kind() string
	ArchiveSessions(ctx context.Context, sessions []models.Session) (string, error)
	HealthCheck(ctx context.Context) error
}

// Config controls the janitor. A zero IdleTimeout or Retention disables
// that step.
type Config struct {
	Interval    time.Duration
	IdleTimeout time.Duration
	Retention   time.Duration
	BatchSize   int
}

// CycleStats tracks what happened in a single retention cycle.
type CycleStats struct {
	Closed      int
	Archived    int
	Purged      int
	ArchivePath string
	Errors      []error
}

// Janitor periodically closes idle sessions and purges expired ones.
type Janitor struct {
	store    store.SessionStore
	archiver Archiver
	cfg      Config
	now      func() time.Time
}

// NewJanitor creates a retention janitor. archiver may be nil.
func NewJanitor(s store.SessionStore, archiver Archiver, cfg Config) *Janitor {
	if cfg.Interval < time.Minute {
		cfg.Interval = time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Janitor{
		store:    s,
		archiver: archiver,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start runs cycles until ctx is canceled.
func (j *Janitor) Start(ctx context.Context) {
	archiver := "none"
	if j.archiver != nil {
		archiver = j.archiver.Kind()
	}
	log.Info().
		Dur("interval", j.cfg.Interval).
		Dur("idle_timeout", j.cfg.IdleTimeout).
		Dur("retention", j.cfg.Retention).
		Str("archiver", archiver).
		Msg("Retention janitor started")

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	j.logCycle(j.RunCycle(ctx))

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case <-ticker.C:
			j.logCycle(j.RunCycle(ctx))
		}
	}
}

// RunCycle performs one retention sweep.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	var stats CycleStats

	list, err := j.store.ListSessions(ctx, "", j.cfg.BatchSize)
	if err != nil {
		stats.Errors = append(stats.Errors, err)
		return stats
	}

	now := j.now()
	var expired []models.Session
	for _, sess := range list {
		switch {
		case sess.Status == models.SessionActive && j.cfg.IdleTimeout > 0 && now.Sub(sess.UpdatedAt) >= j.cfg.IdleTimeout:
			if err := j.store.CloseSession(ctx, sess.ID, now); err != nil {
				stats.Errors = append(stats.Errors, err)
				continue
			}
			stats.Closed++
		case sess.Status == models.SessionClosed && j.cfg.Retention > 0 && sess.ClosedAt != nil && now.Sub(*sess.ClosedAt) >= j.cfg.Retention:
			expired = append(expired, sess)
		}
	}
	if len(expired) == 0 {
		return stats
	}

	if j.archiver != nil {
		path, err := j.archiver.ArchiveSessions(ctx, expired)
		if err != nil {
			// Fail-safe: keep the sessions when they could not be archived.
			stats.Errors = append(stats.Errors, err)
			return stats
		}
		stats.Archived = len(expired)
		stats.ArchivePath = path
	}

	ids := make([]string, len(expired))
	for i, sess := range expired {
		ids[i] = sess.ID
	}
	n, err := j.store.DeleteSessions(ctx, ids)
	if err != nil {
		stats.Errors = append(stats.Errors, err)
		return stats
	}
	stats.Purged = n
	return stats
}

func (j *Janitor) logCycle(stats CycleStats) {
	for _, err := range stats.Errors {
		log.Warn().Err(err).Msg("Retention cycle error")
	}
	if stats.Closed > 0 || stats.Purged > 0 {
		log.Info().
			Int("closed", stats.Closed).
			Int("archived", stats.Archived).
			Int("purged", stats.Purged).
			Str("archive", stats.ArchivePath).
			Msg("Retention cycle complete")
	}
}
