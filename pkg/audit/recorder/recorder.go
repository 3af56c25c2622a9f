package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/rulegate/pkg/audit"
	"mercator-hq/rulegate/pkg/engine"
	"mercator-hq/rulegate/pkg/telemetry/metrics"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid recorder configuration")

// Config contains configuration for the audit recorder.
type Config struct {
	// BufferSize is the capacity of the async event queue. Events arriving
	// while the queue is full are dropped.
	// Default: 1000
	BufferSize int

	// BatchSize is the maximum number of events written in one transaction.
	// Default: 100
	BatchSize int

	// WriteTimeout bounds a single storage write.
	// Default: 5 seconds
	WriteTimeout time.Duration
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() *Config {
	return &Config{
		BufferSize:   1000,
		BatchSize:    100,
		WriteTimeout: 5 * time.Second,
	}
}

// Validate validates the recorder configuration.
func (c *Config) Validate() error {
	if c.BufferSize < 1 {
		return fmt.Errorf("%w: buffer size must be at least 1", ErrInvalidConfig)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: batch size must be at least 1", ErrInvalidConfig)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: write timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) { r.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(r *Recorder) { r.metrics = m }
}

// WithClock sets the clock used for RecordedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// Recorder persists dispatch events asynchronously so that evaluation never
// waits on storage.
type Recorder struct {
	storage audit.Storage
	config  *Config
	logger  *slog.Logger
	metrics *metrics.Collector
	now     func() time.Time

	queue   chan *audit.Event
	done    chan struct{}
	wg      sync.WaitGroup
	closeMu sync.RWMutex
	closed  bool

	unsubscribe func()
	dropped     atomic.Uint64
	written     atomic.Uint64
}

// New creates a recorder writing to storage and starts its worker.
func New(storage audit.Storage, config *Config, opts ...Option) (*Recorder, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	r := &Recorder{
		storage: storage,
		config:  config,
		now:     time.Now,
		queue:   make(chan *audit.Event, config.BufferSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default().With("component", "audit.recorder")
	}

	r.wg.Add(1)
	go r.worker()

	r.logger.Info("audit recorder initialized",
		"buffer_size", config.BufferSize,
		"batch_size", config.BatchSize,
		"write_timeout", config.WriteTimeout,
	)
	return r, nil
}

// Attach subscribes the recorder to eng. Close detaches it.
func (r *Recorder) Attach(eng *engine.Engine) {
	unsubscribe := eng.OnViolationDispatched(func(ev engine.DispatchEvent) {
		r.Record(ev)
	})

	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	if r.closed {
		unsubscribe()
		return
	}
	prev := r.unsubscribe
	r.unsubscribe = func() {
		if prev != nil {
			prev()
		}
		unsubscribe()
	}
}

// Record enqueues ev for writing. It never blocks; it reports false when the
// event was dropped because the queue is full or the recorder is closed.
func (r *Recorder) Record(ev engine.DispatchEvent) bool {
	r.closeMu.RLock()
	defer r.closeMu.RUnlock()

	if r.closed {
		r.drop(ev.EventID, "recorder closed")
		return false
	}

	select {
	case r.queue <- FromDispatch(ev, r.now()):
		return true
	default:
		r.drop(ev.EventID, "queue full")
		return false
	}
}

func (r *Recorder) drop(eventID, reason string) {
	r.dropped.Add(1)
	r.metrics.RecordAuditDropped()
	r.logger.Warn("dropping audit event",
		"event_id", eventID,
		"reason", reason,
		"queue_capacity", r.config.BufferSize,
	)
}

// Dropped returns the number of events dropped so far.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Written returns the number of events written so far.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Close detaches the recorder, drains the queue and waits for pending
// writes to complete. It is safe to call more than once.
func (r *Recorder) Close() error {
	r.closeMu.Lock()
	if r.closed {
		r.closeMu.Unlock()
		return nil
	}
	r.closed = true
	unsubscribe := r.unsubscribe
	r.closeMu.Unlock()

	r.logger.Info("shutting down audit recorder")
	if unsubscribe != nil {
		unsubscribe()
	}

	close(r.done)
	r.wg.Wait()

	r.logger.Info("audit recorder shut down complete",
		"written", r.Written(),
		"dropped", r.Dropped(),
	)
	return nil
}

// worker drains the queue in batches until Close.
func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case ev := <-r.queue:
			r.writeBatch(r.collect(ev))

		case <-r.done:
			r.logger.Info("draining audit queue before shutdown",
				"pending_count", len(r.queue),
			)
			for {
				select {
				case ev := <-r.queue:
					r.writeBatch(r.collect(ev))
				default:
					return
				}
			}
		}
	}
}

// collect gathers first plus whatever is already queued, up to BatchSize.
func (r *Recorder) collect(first *audit.Event) []*audit.Event {
	batch := []*audit.Event{first}
	for len(batch) < r.config.BatchSize {
		select {
		case ev := <-r.queue:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
	return batch
}

// writeBatch writes one batch to storage.
func (r *Recorder) writeBatch(batch []*audit.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	if err := r.storage.Store(ctx, batch...); err != nil {
		r.metrics.RecordAuditWrite("failure", len(batch))
		r.logger.Error("failed to store audit events",
			"count", len(batch),
			"first_event_id", batch[0].ID,
			"error", audit.NewRecorderError(batch, err),
		)
		return
	}
	duration := time.Since(start)

	r.written.Add(uint64(len(batch)))
	r.metrics.RecordAuditWrite("success", len(batch))
	r.logger.Debug("audit events recorded",
		"count", len(batch),
		"duration_ms", duration.Milliseconds(),
	)

	if duration > r.config.WriteTimeout/2 {
		r.logger.Warn("slow audit write",
			"count", len(batch),
			"duration_ms", duration.Milliseconds(),
			"threshold_ms", (r.config.WriteTimeout / 2).Milliseconds(),
		)
	}
}

// FromDispatch converts a dispatch event into its audit form.
func FromDispatch(ev engine.DispatchEvent, recordedAt time.Time) *audit.Event {
	spans := make([]audit.Span, len(ev.Spans))
	for i, s := range ev.Spans {
		spans[i] = audit.Span{Start: s.Start, End: s.End}
	}
	return &audit.Event{
		ID:              ev.EventID,
		ContentDigest:   ev.ContentDigest,
		SnapshotVersion: ev.SnapshotVersion,
		RuleID:          ev.RuleID,
		RuleVersion:     ev.RuleVersion,
		Tier:            string(ev.Tier),
		Severity:        string(ev.Severity),
		Category:        ev.Category,
		Action:          string(ev.Action),
		Confidence:      ev.Confidence,
		Spans:           spans,
		OccurredAt:      ev.At,
		RecordedAt:      recordedAt,
	}
}
