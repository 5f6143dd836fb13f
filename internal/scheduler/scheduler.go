// Package scheduler runs the periodic maintenance sweeps: key cleanup,
// audit retention trimming and security event index pruning.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"fleetgate/internal/audit"
	"fleetgate/internal/keys"
)

// EventIndexTrimmer prunes the time-ordered security event index. The threat
// event recorder implements it.
type EventIndexTrimmer interface {
	TrimIndex(ctx context.Context, olderThan time.Time) (int64, error)
}

// Scheduler owns the cron runner driving the maintenance jobs.
type Scheduler struct {
	keys      keys.Manager
	trail     *audit.Trail
	events    EventIndexTrimmer
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	c         *cron.Cron
}

// New creates a Scheduler. trail and events may be nil when the audit store
// or the event recorder are disabled.
func New(km keys.Manager, trail *audit.Trail, events EventIndexTrimmer, interval, retention time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		keys:      km,
		trail:     trail,
		events:    events,
		logger:    logger.With("component", "scheduler"),
		interval:  interval,
		retention: retention,
		c:         cron.New(),
	}
}

// Start registers the maintenance job and launches the cron runner.
func (s *Scheduler) Start() error {
	if _, err := s.c.AddFunc(fmt.Sprintf("@every %s", s.interval), s.runOnce); err != nil {
		return fmt.Errorf("failed to schedule maintenance job: %w", err)
	}
	s.c.Start()
	s.logger.Info("maintenance scheduler started", "interval", s.interval)
	return nil
}

// Stop terminates the cron runner. Jobs already running finish on their own.
func (s *Scheduler) Stop() {
	s.c.Stop()
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if removed, err := s.keys.Cleanup(ctx); err != nil {
		s.logger.Error("key cleanup sweep failed", "error", err)
	} else if removed > 0 {
		s.logger.Info("key cleanup sweep removed entries", "removed", removed)
	}

	if s.retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.retention)

	if s.events != nil {
		if trimmed, err := s.events.TrimIndex(ctx, cutoff); err != nil {
			s.logger.Error("event index trim failed", "error", err)
		} else if trimmed > 0 {
			s.logger.Info("event index trimmed", "events", trimmed)
		}
	}

	if s.trail != nil {
		if trimmed, err := s.trail.Trim(ctx, s.retention); err != nil {
			s.logger.Error("audit trim failed", "error", err)
		} else if trimmed > 0 {
			s.logger.Info("audit trail trimmed", "rows", trimmed)
		}
	}
}
