package adaptation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs Store.Recompute on the configured cron schedule.
type Scheduler struct {
	store   *Store
	cron    *cron.Cron
	logger  *slog.Logger
	mu      sync.Mutex
	running bool
}

// NewScheduler creates a recompute scheduler for the store.
func NewScheduler(store *Store) *Scheduler {
	return &Scheduler{
		store:  store,
		cron:   cron.New(),
		logger: store.logger.With("component", "adaptation.scheduler"),
	}
}

// Start schedules periodic recompute. An empty schedule disables it. The
// scheduler stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule := s.store.cfg.RecomputeSchedule
	if schedule == "" {
		s.logger.Info("recompute schedule not configured, skipping scheduler")
		return nil
	}
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if _, err := s.cron.AddFunc(schedule, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule recompute %q: %w", schedule, err)
	}
	s.cron.Start()
	s.running = true

	s.logger.Info("adaptation scheduler started", "schedule", schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	snap, err := s.store.Recompute(ctx)
	if err != nil {
		s.logger.Error("scheduled recompute failed", "error", err)
		return
	}
	s.logger.Debug("scheduled recompute completed", "snapshot_version", snap.Version())
}

// Stop stops the scheduler and waits for a running recompute to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("adaptation scheduler stopped")
}

// IsRunning reports whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled recompute, or nil when not scheduled.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
