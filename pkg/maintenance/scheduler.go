// Package maintenance runs the periodic stale-reset and retention-purge
// routines as two independently-ticking loops, directly modeled on the
// teacher's resultProcessor ticker pattern but coordinated over one
// errgroup so both stop cleanly on the same shutdown signal.
package maintenance

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/parsehaven/docforge/pkg/auth"
	"github.com/parsehaven/docforge/pkg/logging"
	"github.com/parsehaven/docforge/pkg/metrics"
	"github.com/parsehaven/docforge/pkg/queue"
)

// Config controls the two maintenance cadences and their parameters.
type Config struct {
	StaleTimeoutMinutes int
	ResetInterval       time.Duration
	PurgeRetentionDays  int
	PurgeInterval       time.Duration
	ArtifactRoot        string
	// GraceDelay postpones each loop's first run, so a freshly started
	// process doesn't immediately reclaim tasks claimed moments ago by
	// workers that are still starting up.
	GraceDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.ResetInterval <= 0 {
		c.ResetInterval = 5 * time.Minute
	}
	if c.PurgeInterval <= 0 {
		c.PurgeInterval = 6 * time.Hour
	}
	if c.GraceDelay <= 0 {
		c.GraceDelay = 30 * time.Second
	}
	return c
}

// Scheduler runs the reset-stale and purge-old loops.
type Scheduler struct {
	cfg   Config
	queue *queue.Service
	m     *metrics.Registry
	log   *logging.Logger
}

// New builds a Scheduler. m may be nil to disable queue-depth
// observation between runs.
func New(cfg Config, svc *queue.Service, m *metrics.Registry, log *logging.Logger) *Scheduler {
	return &Scheduler{cfg: cfg.withDefaults(), queue: svc, m: m, log: log.WithComponent("maintenance")}
}

// principal carries the QueueAdmin bit the store operations require;
// the scheduler runs as an internal trusted caller, not on behalf of
// any HTTP request.
func (s *Scheduler) principal() auth.Principal {
	return auth.ForRole("maintenance-scheduler", auth.RoleAdmin)
}

// Run blocks until ctx is cancelled, running both loops concurrently.
// It always returns nil: a single failed reset/purge cycle is logged
// and retried on the next tick, never fatal to the scheduler.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.runResetStaleLoop(ctx) })
	g.Go(func() error { return s.runPurgeLoop(ctx) })
	return g.Wait()
}

func (s *Scheduler) runResetStaleLoop(ctx context.Context) error {
	timer := time.NewTimer(s.cfg.GraceDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			s.resetStaleOnce(ctx)
			timer.Reset(s.cfg.ResetInterval)
		}
	}
}

func (s *Scheduler) runPurgeLoop(ctx context.Context) error {
	timer := time.NewTimer(s.cfg.GraceDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			s.purgeOnce(ctx)
			timer.Reset(s.cfg.PurgeInterval)
		}
	}
}

func (s *Scheduler) resetStaleOnce(ctx context.Context) {
	thresholdSeconds := int64(s.cfg.StaleTimeoutMinutes) * 60
	count, err := s.queue.ResetStale(ctx, s.principal(), thresholdSeconds)
	if err != nil {
		s.log.Error("reset-stale cycle failed", map[string]any{"error": err.Error()})
		return
	}
	if count > 0 {
		s.log.WithField("reset_count", count).Info("reclaimed stale tasks")
	}
	s.observeStats(ctx)
}

func (s *Scheduler) purgeOnce(ctx context.Context) {
	count, err := s.queue.PurgeOld(ctx, s.principal(), s.cfg.PurgeRetentionDays, s.cfg.ArtifactRoot)
	if err != nil {
		s.log.Error("purge cycle failed", map[string]any{"error": err.Error()})
		return
	}
	if count > 0 {
		s.log.WithField("deleted_count", count).Info("purged terminal tasks")
	}
	s.observeStats(ctx)
}

func (s *Scheduler) observeStats(ctx context.Context) {
	if s.m == nil {
		return
	}
	stats, err := s.queue.Stats(ctx, s.principal())
	if err != nil {
		return
	}
	s.m.ObserveStats(stats)
}
