package adaptation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/rulegate/pkg/rules"
)

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = errors.New("adaptation store closed")

// Persister stores adaptation snapshots and the resolution log.
type Persister interface {
	// LoadSnapshot returns the last saved snapshot, or nil when none exists.
	LoadSnapshot(ctx context.Context) (*Snapshot, error)

	// SaveSnapshot replaces the saved snapshot.
	SaveSnapshot(ctx context.Context, snap *Snapshot) error

	// AppendResolutions appends records to the persisted resolution log.
	AppendResolutions(ctx context.Context, records []ResolutionRecord) error
}

// Observer receives store activity, typically for metrics.
type Observer interface {
	AdaptationTransition(from, to string)
	AdaptationSignalDropped()
}

// Store records feedback signals and publishes adapted rule parameters.
//
// Signals are queued and applied by a single worker goroutine, so every rule
// has exactly one writer. Recompute and the worker coordinate through a
// per-rule lock. Readers only ever see published snapshots.
type Store struct {
	cfg       Config
	logger    *slog.Logger
	persister Persister
	observer  Observer
	now       func() time.Time

	signals  chan Signal
	done     chan struct{}
	wg       sync.WaitGroup
	closed   atomic.Bool
	closeMu  sync.RWMutex
	snapshot atomic.Pointer[Snapshot]
	dropped  atomic.Uint64

	// entriesMu guards the entries map itself, not the entries.
	entriesMu sync.RWMutex
	entries   map[string]*entry

	// recomputeMu serializes recompute and publish.
	recomputeMu sync.Mutex

	logMu      sync.Mutex
	log        []ResolutionRecord
	pendingLog []ResolutionRecord
}

// entry is the mutable per-rule state.
type entry struct {
	mu            sync.Mutex
	state         RuleState
	tier          rules.Tier
	baseThreshold float64
	events        []event
	lastTrigger   time.Time

	// refs holds when each kind/ref pair was last recorded.
	refs map[string]time.Time
}

type event struct {
	at   time.Time
	kind SignalKind
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithPersister sets where snapshots and resolutions are saved.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithObserver sets the activity observer.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// WithClock overrides the store clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store, loads the last persisted snapshot if a persister is
// configured, and starts the signal worker.
func New(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Store{
		cfg:     cfg,
		logger:  slog.Default(),
		now:     time.Now,
		signals: make(chan Signal, cfg.BufferSize),
		done:    make(chan struct{}),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "adaptation.store")

	snap := NewSnapshot(0, s.now(), nil)
	if s.persister != nil {
		loaded, err := s.persister.LoadSnapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load adaptation snapshot: %w", err)
		}
		if loaded != nil {
			snap = loaded
			for _, st := range loaded.States() {
				s.entries[st.RuleID] = &entry{state: st}
			}
		}
	}
	s.snapshot.Store(snap)

	s.wg.Add(1)
	go s.worker()

	s.logger.Info("adaptation store initialized",
		"snapshot_version", snap.Version(),
		"rules", len(snap.States()),
		"window", s.cfg.Window,
		"cooldown", s.cfg.Cooldown,
	)
	return s, nil
}

// Config returns the store configuration.
func (s *Store) Config() Config { return s.cfg }

// Snapshot returns the last published snapshot. It never returns nil.
func (s *Store) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// Record queues a signal without blocking. It reports false when the signal
// was dropped because the queue is full or the store is closed.
func (s *Store) Record(sig Signal) bool {
	if sig.RuleID == "" || !sig.Kind.Valid() {
		return false
	}
	if sig.At.IsZero() {
		sig.At = s.now()
	}

	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed.Load() {
		return false
	}

	select {
	case s.signals <- sig:
		return true
	default:
		s.dropped.Add(1)
		if s.observer != nil {
			s.observer.AdaptationSignalDropped()
		}
		s.logger.Warn("adaptation signal queue full, dropping signal",
			"rule_id", sig.RuleID,
			"kind", sig.Kind,
		)
		return false
	}
}

// Feedback records caller feedback about rule. The signal carries the rule's
// version and pattern threshold so the adjustment it leads to applies to the
// rule as loaded.
func (s *Store) Feedback(rule rules.Rule, kind SignalKind) bool {
	return s.Record(Signal{
		RuleID:        rule.ID,
		RuleVersion:   rule.Version,
		Tier:          rule.Tier,
		Kind:          kind,
		BaseThreshold: rule.Patterns.Threshold(),
	})
}

// Dropped returns the number of signals dropped so far.
func (s *Store) Dropped() uint64 { return s.dropped.Load() }

// Flush blocks until every signal queued before the call has been applied.
func (s *Store) Flush(ctx context.Context) error {
	barrier := make(chan struct{})

	s.closeMu.RLock()
	if s.closed.Load() {
		s.closeMu.RUnlock()
		return ErrClosed
	}
	select {
	case s.signals <- Signal{barrier: barrier}:
	case <-ctx.Done():
		s.closeMu.RUnlock()
		return ctx.Err()
	}
	s.closeMu.RUnlock()

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AppendResolution appends a record to the resolution log. Records are
// never modified after being appended.
func (s *Store) AppendResolution(rec ResolutionRecord) {
	if rec.At.IsZero() {
		rec.At = s.now()
	}
	rec.WinnerIDs = append([]string(nil), rec.WinnerIDs...)
	rec.SuppressedIDs = append([]string(nil), rec.SuppressedIDs...)

	s.logMu.Lock()
	s.log = append(s.log, rec)
	s.pendingLog = append(s.pendingLog, rec)
	s.logMu.Unlock()
}

// Resolutions returns a copy of the in-memory resolution log, oldest first.
func (s *Store) Resolutions() []ResolutionRecord {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	return append([]ResolutionRecord(nil), s.log...)
}

func (s *Store) worker() {
	defer s.wg.Done()
	for {
		select {
		case sig := <-s.signals:
			s.handle(sig)
		case <-s.done:
			// Drain what was queued before close.
			for {
				select {
				case sig := <-s.signals:
					s.handle(sig)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) handle(sig Signal) {
	if sig.barrier != nil {
		close(sig.barrier)
		return
	}
	s.apply(sig)
}

// apply folds one signal into its rule's entry. It runs on the worker only.
func (s *Store) apply(sig Signal) {
	if sig.Tier == rules.TierSafety {
		return
	}

	e := s.entry(sig.RuleID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if sig.RuleVersion != "" && e.state.RuleVersion != sig.RuleVersion {
		if e.state.RuleVersion != "" {
			s.logger.Debug("rule version changed, resetting adaptation state",
				"rule_id", sig.RuleID,
				"old_version", e.state.RuleVersion,
				"new_version", sig.RuleVersion,
			)
		}
		e.state = RuleState{RuleID: sig.RuleID, RuleVersion: sig.RuleVersion, State: StateStable, ChangedAt: sig.At}
		e.events = nil
		e.refs = nil
		e.lastTrigger = time.Time{}
	}
	if sig.Tier != "" {
		e.tier = sig.Tier
	}
	if sig.BaseThreshold > 0 {
		e.baseThreshold = sig.BaseThreshold
	}

	e.prune(sig.At.Add(-s.cfg.Window))
	if sig.Ref != "" && e.seen(sig.Kind, sig.Ref, sig.At) {
		s.logger.Debug("duplicate adaptation signal ignored",
			"rule_id", sig.RuleID,
			"kind", sig.Kind,
			"ref", sig.Ref,
		)
		return
	}
	e.events = append(e.events, event{at: sig.At, kind: sig.Kind})
	if sig.Kind.triggering() {
		e.lastTrigger = sig.At
	}

	trigger, ok := s.exceeded(e)
	if !ok {
		return
	}
	switch e.state.State {
	case StateStable:
		e.state.Trigger = trigger
		s.transition(e, StateCandidate, sig.At)
	case StateAdjusted:
		if sig.At.Sub(e.state.AdjustedAt) >= s.cfg.Cooldown {
			e.state.Trigger = trigger
			s.transition(e, StateCandidate, sig.At)
		}
	}
}

func (s *Store) entry(ruleID string) *entry {
	s.entriesMu.RLock()
	e, ok := s.entries[ruleID]
	s.entriesMu.RUnlock()
	if ok {
		return e
	}

	s.entriesMu.Lock()
	defer s.entriesMu.Unlock()
	if e, ok = s.entries[ruleID]; ok {
		return e
	}
	e = &entry{state: RuleState{RuleID: ruleID, State: StateStable}}
	s.entries[ruleID] = e
	return e
}

// prune drops events and refs older than cutoff.
func (e *entry) prune(cutoff time.Time) {
	for key, at := range e.refs {
		if at.Before(cutoff) {
			delete(e.refs, key)
		}
	}
	i := 0
	for i < len(e.events) && e.events[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		e.events = append(e.events[:0], e.events[i:]...)
	}
}

// seen reports whether kind was already recorded for ref inside the window,
// and marks it recorded at at otherwise.
func (e *entry) seen(kind SignalKind, ref string, at time.Time) bool {
	key := string(kind) + ":" + ref
	if _, ok := e.refs[key]; ok {
		return true
	}
	if e.refs == nil {
		e.refs = make(map[string]time.Time)
	}
	e.refs[key] = at
	return false
}

// exceeded returns the first rate above its threshold, checked in the order
// override, conflict, miss.
func (s *Store) exceeded(e *entry) (SignalKind, bool) {
	var dispatched, conflicts, overrides, missed int
	for _, ev := range e.events {
		switch ev.kind {
		case SignalDispatched:
			dispatched++
		case SignalConflict:
			conflicts++
		case SignalOverride:
			overrides++
		case SignalMissed:
			missed++
		}
	}

	if dispatched >= s.cfg.MinSamples {
		if float64(overrides)/float64(dispatched) > s.cfg.OverrideRateThreshold {
			return SignalOverride, true
		}
		if float64(conflicts)/float64(dispatched) > s.cfg.ConflictRateThreshold {
			return SignalConflict, true
		}
	}
	if total := dispatched + missed; total >= s.cfg.MinSamples && missed > 0 {
		if float64(missed)/float64(total) > s.cfg.MissRateThreshold {
			return SignalMissed, true
		}
	}
	return "", false
}

func (s *Store) transition(e *entry, to State, at time.Time) {
	from := e.state.State
	if from == to {
		return
	}
	e.state.State = to
	e.state.ChangedAt = at
	if s.observer != nil {
		s.observer.AdaptationTransition(string(from), string(to))
	}
	s.logger.Info("rule adaptation state changed",
		"rule_id", e.state.RuleID,
		"from", from,
		"to", to,
		"trigger", e.state.Trigger,
	)
}

// Recompute commits adjustments for candidate rules, returns cooled-down
// rules to stable, compacts the resolution log, and publishes a new snapshot.
func (s *Store) Recompute(ctx context.Context) (*Snapshot, error) {
	s.recomputeMu.Lock()
	defer s.recomputeMu.Unlock()

	now := s.now()

	s.entriesMu.RLock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.entriesMu.RUnlock()
	sort.Strings(ids)

	states := make([]RuleState, 0, len(ids))
	for _, id := range ids {
		e := s.entry(id)
		e.mu.Lock()
		switch e.state.State {
		case StateCandidate:
			s.commit(e, now)
		case StateAdjusted:
			quiet := now.Sub(e.state.AdjustedAt) >= s.cfg.Cooldown &&
				(e.lastTrigger.IsZero() || now.Sub(e.lastTrigger) >= s.cfg.Cooldown)
			if quiet {
				s.transition(e, StateStable, now)
			}
		}
		states = append(states, e.state)
		e.mu.Unlock()
	}

	prev := s.snapshot.Load()
	snap := NewSnapshot(prev.Version()+1, now, states)
	s.snapshot.Store(snap)

	pending := s.compactLog()

	if s.persister != nil {
		if err := s.persister.AppendResolutions(ctx, pending); err != nil {
			s.requeue(pending)
			return snap, fmt.Errorf("failed to persist resolution log: %w", err)
		}
		if err := s.persister.SaveSnapshot(ctx, snap); err != nil {
			return snap, fmt.Errorf("failed to persist adaptation snapshot: %w", err)
		}
	}

	s.logger.Debug("adaptation snapshot published",
		"version", snap.Version(),
		"rules", len(states),
		"resolutions_persisted", len(pending),
	)
	return snap, nil
}

// commit computes and stores new parameters for a candidate rule.
func (s *Store) commit(e *entry, now time.Time) {
	base := e.state.Params.ConfidenceThreshold
	if !e.state.Adjusted || base <= 0 {
		base = e.baseThreshold
		if base <= 0 {
			base = rules.DefaultConfidenceThreshold
		}
	}
	weight := e.state.Params.TieBreakWeight
	if !e.state.Adjusted || weight <= 0 {
		weight = 1.0
	}

	switch e.state.Trigger {
	case SignalOverride:
		base = math.Min(s.cfg.ThresholdCap, base+s.cfg.ThresholdRaise)
		weight = math.Max(s.cfg.WeightFloor, weight-s.cfg.WeightStep)
	case SignalConflict:
		weight = math.Max(s.cfg.WeightFloor, weight-s.cfg.WeightStep)
	case SignalMissed:
		base = math.Max(s.cfg.ThresholdFloor, base-s.cfg.ThresholdLower)
	}

	e.state.Params = Params{
		ConfidenceThreshold: round(base),
		TieBreakWeight:      round(weight),
	}
	e.state.Adjusted = true
	e.state.AdjustedAt = now
	// Signals that led to this adjustment must not count against the next one.
	e.events = nil
	e.lastTrigger = time.Time{}
	s.transition(e, StateAdjusted, now)
}

func (s *Store) compactLog() []ResolutionRecord {
	s.logMu.Lock()
	defer s.logMu.Unlock()

	if over := len(s.log) - s.cfg.LogCapacity; over > 0 {
		s.log = append([]ResolutionRecord(nil), s.log[over:]...)
	}
	pending := s.pendingLog
	s.pendingLog = nil
	return pending
}

func (s *Store) requeue(records []ResolutionRecord) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	s.pendingLog = append(records, s.pendingLog...)
}

// Close stops accepting signals, applies everything already queued, runs a
// final recompute, and persists it.
func (s *Store) Close(ctx context.Context) error {
	s.closeMu.Lock()
	if s.closed.Swap(true) {
		s.closeMu.Unlock()
		return nil
	}
	close(s.done)
	s.closeMu.Unlock()

	s.wg.Wait()

	if _, err := s.Recompute(ctx); err != nil {
		return err
	}
	s.logger.Info("adaptation store closed", "dropped_signals", s.dropped.Load())
	return nil
}

// round keeps adjusted parameters free of float drift across repeated steps.
func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}
