package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"mercator-hq/rulegate/pkg/audit"
	"mercator-hq/rulegate/pkg/audit/export"
	"mercator-hq/rulegate/pkg/audit/query"
)

// Config contains configuration for the retention pruner.
type Config struct {
	// RetentionDays is the number of days to retain events.
	// 0 means keep events forever.
	RetentionDays int

	// PruneSchedule is a cron expression for scheduling pruning.
	// Example: "0 3 * * *" (daily at 3 AM)
	PruneSchedule string

	// ArchiveBeforeDelete writes events to ArchivePath as JSON before
	// deleting them.
	ArchiveBeforeDelete bool

	// ArchivePath is the directory to store archived events.
	ArchivePath string

	// MaxEvents is the maximum number of events to keep.
	// 0 means unlimited.
	MaxEvents int64
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() *Config {
	return &Config{
		RetentionDays: 90,
		PruneSchedule: "0 3 * * *",
		ArchivePath:   "data/archives/",
	}
}

// Option configures a Pruner.
type Option func(*Pruner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pruner) { p.logger = logger }
}

// WithClock sets the clock used to compute the age cutoff.
func WithClock(now func() time.Time) Option {
	return func(p *Pruner) { p.now = now }
}

// Pruner enforces retention on audit events.
type Pruner struct {
	storage   audit.Storage
	config    *Config
	logger    *slog.Logger
	now       func() time.Time
	scheduler *Scheduler
}

// NewPruner creates a new retention pruner.
func NewPruner(storage audit.Storage, config *Config, opts ...Option) *Pruner {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Pruner{
		storage: storage,
		config:  config,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default().With("component", "audit.retention")
	}
	p.scheduler = NewScheduler(p)

	return p
}

// Prune deletes events older than the retention period and then, if more
// than MaxEvents remain, the oldest events. It returns the number deleted.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	var total int64

	if p.config.RetentionDays > 0 {
		deleted, err := p.pruneByAge(ctx)
		if err != nil {
			return total, fmt.Errorf("prune by age failed: %w", err)
		}
		total += deleted
	}

	if p.config.MaxEvents > 0 {
		deleted, err := p.pruneByCount(ctx)
		if err != nil {
			return total, fmt.Errorf("prune by count failed: %w", err)
		}
		total += deleted
	}

	if total == 0 {
		p.logger.Debug("no audit events pruned",
			"retention_days", p.config.RetentionDays,
			"max_events", p.config.MaxEvents,
		)
	} else {
		p.logger.Info("audit pruning completed",
			"total_deleted", total,
			"retention_days", p.config.RetentionDays,
			"max_events", p.config.MaxEvents,
		)
	}
	return total, nil
}

// Cutoff returns the time before which events are pruned by age.
func (p *Pruner) Cutoff() time.Time {
	return p.now().AddDate(0, 0, -p.config.RetentionDays)
}

// pruneByAge deletes events older than the retention period.
func (p *Pruner) pruneByAge(ctx context.Context) (int64, error) {
	cutoff := p.Cutoff()
	q := &audit.Query{EndTime: &cutoff}

	p.logger.Debug("pruning by age", "cutoff_time", cutoff)

	if p.config.ArchiveBeforeDelete {
		if err := p.archive(ctx, q, "age"); err != nil {
			return 0, audit.NewRetentionError("age", cutoff, err)
		}
	}

	deleted, err := p.storage.Delete(ctx, q)
	if err != nil {
		return 0, audit.NewRetentionError("age", cutoff, err)
	}
	return deleted, nil
}

// pruneByCount deletes the oldest events beyond MaxEvents, at most
// query.MaxLimit per call.
func (p *Pruner) pruneByCount(ctx context.Context) (int64, error) {
	count, err := p.storage.Count(ctx, &audit.Query{})
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	if count <= p.config.MaxEvents {
		return 0, nil
	}

	excess := count - p.config.MaxEvents
	if excess > query.MaxLimit {
		excess = query.MaxLimit
	}

	p.logger.Info("event count exceeds limit, pruning oldest",
		"current_count", count,
		"max_events", p.config.MaxEvents,
		"to_delete", excess,
	)

	oldest, err := p.storage.Query(ctx, &audit.Query{
		SortBy:    "occurred_at",
		SortOrder: "asc",
		Limit:     int(excess),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to query oldest events: %w", err)
	}
	if len(oldest) == 0 {
		return 0, nil
	}

	// Events sharing the cutoff timestamp are deleted together.
	cutoff := oldest[len(oldest)-1].OccurredAt
	q := &audit.Query{EndTime: &cutoff}

	if p.config.ArchiveBeforeDelete {
		if err := p.archive(ctx, q, "count"); err != nil {
			return 0, audit.NewRetentionError("count", cutoff, err)
		}
	}

	deleted, err := p.storage.Delete(ctx, q)
	if err != nil {
		return 0, audit.NewRetentionError("count", cutoff, err)
	}
	return deleted, nil
}

// archive exports the events matched by q to a JSON file in ArchivePath.
func (p *Pruner) archive(ctx context.Context, q *audit.Query, reason string) error {
	aq := *q
	aq.Limit = query.MaxLimit
	aq.SortOrder = "asc"

	events, err := p.storage.Query(ctx, &aq)
	if err != nil {
		return fmt.Errorf("failed to query events for archiving: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	if err := os.MkdirAll(p.config.ArchivePath, 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	name := fmt.Sprintf("audit-%s-%s.json", reason, p.now().UTC().Format("2006-01-02-150405"))
	path := filepath.Join(p.config.ArchivePath, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer f.Close()

	if err := export.NewJSONExporter(true).Export(ctx, events, f); err != nil {
		return fmt.Errorf("failed to export events to archive: %w", err)
	}

	p.logger.Info("audit events archived",
		"archive_file", path,
		"event_count", len(events),
	)
	return nil
}

// Start starts the automatic pruning scheduler.
func (p *Pruner) Start(ctx context.Context) error {
	return p.scheduler.Start(ctx)
}

// Stop stops the automatic pruning scheduler.
func (p *Pruner) Stop() {
	p.scheduler.Stop()
}

// NextPruning returns the time of the next scheduled pruning.
func (p *Pruner) NextPruning() *time.Time {
	return p.scheduler.NextRun()
}
