package adaptation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mercator-hq/rulegate/pkg/rules"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions []string
	dropped     int
}

func (o *recordingObserver) AdaptationTransition(from, to string) {
	o.mu.Lock()
	o.transitions = append(o.transitions, from+"->"+to)
	o.mu.Unlock()
}

func (o *recordingObserver) AdaptationSignalDropped() {
	o.mu.Lock()
	o.dropped++
	o.mu.Unlock()
}

func newTestStore(t *testing.T, clock *fakeClock, opts ...Option) *Store {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RecomputeSchedule = ""
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	s, err := New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func send(t *testing.T, s *Store, ruleID string, tier rules.Tier, kind SignalKind, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if !s.Record(Signal{RuleID: ruleID, RuleVersion: "1.0.0", Tier: tier, Kind: kind, BaseThreshold: 0.7}) {
			t.Fatalf("Record() dropped signal %d", i)
		}
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}
}

func stateOf(t *testing.T, s *Store, ruleID string) RuleState {
	t.Helper()
	snap, err := s.Recompute(context.Background())
	if err != nil {
		t.Fatalf("Recompute() error: %v", err)
	}
	st, _ := snap.State(ruleID)
	return st
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero window", func(c *Config) { c.Window = 0 }},
		{"no samples", func(c *Config) { c.MinSamples = 0 }},
		{"rate above one", func(c *Config) { c.OverrideRateThreshold = 1.5 }},
		{"inverted bounds", func(c *Config) { c.ThresholdFloor = 0.9; c.ThresholdCap = 0.6 }},
		{"bad schedule", func(c *Config) { c.RecomputeSchedule = "every minute" }},
		{"empty buffer", func(c *Config) { c.BufferSize = 0 }},
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() error: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestOverridePressureRaisesThreshold(t *testing.T) {
	clock := newFakeClock()
	obs := &recordingObserver{}
	s := newTestStore(t, clock, WithObserver(obs))

	send(t, s, "tone", rules.TierPreference, SignalDispatched, 5)
	send(t, s, "tone", rules.TierPreference, SignalOverride, 2)

	// Candidate is visible after the next publish; parameters are committed
	// by that same recompute.
	st := stateOf(t, s, "tone")
	if st.State != StateAdjusted {
		t.Fatalf("state = %s, want adjusted", st.State)
	}
	if st.Trigger != SignalOverride {
		t.Errorf("trigger = %s, want override", st.Trigger)
	}
	if st.Params.ConfidenceThreshold != 0.75 {
		t.Errorf("threshold = %v, want 0.75", st.Params.ConfidenceThreshold)
	}
	if st.Params.TieBreakWeight != 0.9 {
		t.Errorf("weight = %v, want 0.9", st.Params.TieBreakWeight)
	}

	snap := s.Snapshot()
	if got := snap.Threshold("tone", "1.0.0", 0.7); got != 0.75 {
		t.Errorf("Snapshot.Threshold() = %v, want 0.75", got)
	}
	if got := snap.Threshold("tone", "2.0.0", 0.7); got != 0.7 {
		t.Errorf("Snapshot.Threshold() for another version = %v, want base", got)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	want := []string{"stable->candidate", "candidate->adjusted"}
	if len(obs.transitions) != 2 || obs.transitions[0] != want[0] || obs.transitions[1] != want[1] {
		t.Errorf("transitions = %v, want %v", obs.transitions, want)
	}
}

func TestMissedSignalsLowerThresholdWithFloor(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig().WithCooldown(0)
	cfg.RecomputeSchedule = ""
	s, err := New(context.Background(), cfg, WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close(context.Background())

	want := []float64{0.6, 0.5, 0.5}
	for i, threshold := range want {
		send(t, s, "fair-use", rules.TierOperational, SignalDispatched, 4)
		send(t, s, "fair-use", rules.TierOperational, SignalMissed, 1)
		st := stateOf(t, s, "fair-use")
		if st.Params.ConfidenceThreshold != threshold {
			t.Errorf("round %d: threshold = %v, want %v", i, st.Params.ConfidenceThreshold, threshold)
		}
		clock.Advance(time.Minute)
	}
}

func TestConflictPressureOnlyChangesWeight(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)

	send(t, s, "bullets", rules.TierPreference, SignalDispatched, 10)
	send(t, s, "bullets", rules.TierPreference, SignalConflict, 4)

	st := stateOf(t, s, "bullets")
	if st.State != StateAdjusted || st.Trigger != SignalConflict {
		t.Fatalf("state = %s trigger = %s", st.State, st.Trigger)
	}
	if st.Params.ConfidenceThreshold != 0.7 {
		t.Errorf("threshold changed to %v on conflict pressure", st.Params.ConfidenceThreshold)
	}
	if st.Params.TieBreakWeight != 0.9 {
		t.Errorf("weight = %v, want 0.9", st.Params.TieBreakWeight)
	}
}

func TestBelowMinSamplesStaysStable(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)

	send(t, s, "tone", rules.TierPreference, SignalDispatched, 2)
	send(t, s, "tone", rules.TierPreference, SignalOverride, 2)

	if st := stateOf(t, s, "tone"); st.State != StateStable || st.Adjusted {
		t.Errorf("state = %+v, want stable and unadjusted", st)
	}
}

func TestSafetyRulesAreNeverAdapted(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)

	send(t, s, "weapons", rules.TierSafety, SignalDispatched, 20)
	send(t, s, "weapons", rules.TierSafety, SignalOverride, 20)

	snap, err := s.Recompute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := snap.State("weapons"); ok {
		t.Error("safety rule has adaptation state")
	}
	if got := snap.Threshold("weapons", "1.0.0", 0.7); got != 0.7 {
		t.Errorf("safety threshold = %v, want unchanged", got)
	}
}

func TestCooldownReturnsToStable(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)

	send(t, s, "tone", rules.TierPreference, SignalDispatched, 5)
	send(t, s, "tone", rules.TierPreference, SignalOverride, 2)
	if st := stateOf(t, s, "tone"); st.State != StateAdjusted {
		t.Fatalf("state = %s, want adjusted", st.State)
	}

	// A triggering signal during cooldown keeps the rule adjusted.
	clock.Advance(50 * time.Minute)
	send(t, s, "tone", rules.TierPreference, SignalOverride, 1)
	clock.Advance(20 * time.Minute)
	if st := stateOf(t, s, "tone"); st.State != StateAdjusted {
		t.Fatalf("state = %s, want adjusted while signals continue", st.State)
	}

	clock.Advance(time.Hour)
	st := stateOf(t, s, "tone")
	if st.State != StateStable {
		t.Fatalf("state = %s, want stable after cooldown", st.State)
	}
	if !st.Adjusted || st.Params.ConfidenceThreshold != 0.75 {
		t.Errorf("committed params lost on return to stable: %+v", st)
	}
}

func TestRollingWindowForgetsOldSignals(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)

	send(t, s, "tone", rules.TierPreference, SignalOverride, 3)
	clock.Advance(25 * time.Hour)
	send(t, s, "tone", rules.TierPreference, SignalDispatched, 20)

	if st := stateOf(t, s, "tone"); st.State != StateStable {
		t.Errorf("state = %s, want stable once overrides left the window", st.State)
	}
}

func TestRuleVersionChangeResetsState(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)

	send(t, s, "tone", rules.TierPreference, SignalDispatched, 5)
	send(t, s, "tone", rules.TierPreference, SignalOverride, 2)
	stateOf(t, s, "tone")

	s.Record(Signal{RuleID: "tone", RuleVersion: "2.0.0", Tier: rules.TierPreference, Kind: SignalDispatched})
	if err := s.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	st := stateOf(t, s, "tone")
	if st.RuleVersion != "2.0.0" || st.Adjusted || st.State != StateStable {
		t.Errorf("state after new version = %+v", st)
	}
}

func TestRecordDropsWhenFull(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.RecomputeSchedule = ""
	cfg.BufferSize = 1
	obs := &recordingObserver{}
	s, err := New(context.Background(), cfg, WithClock(clock.Now), WithObserver(obs))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close(context.Background())

	accepted := 0
	for i := 0; i < 1000; i++ {
		if s.Record(Signal{RuleID: "r", Tier: rules.TierPreference, Kind: SignalDispatched}) {
			accepted++
		}
	}
	if accepted == 1000 {
		t.Skip("worker drained every signal; queue never filled")
	}
	if s.Dropped() == 0 {
		t.Error("Dropped() = 0 after rejected signals")
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if uint64(obs.dropped) != s.Dropped() {
		t.Errorf("observer saw %d drops, store counted %d", obs.dropped, s.Dropped())
	}
}

func TestRecordRejectsInvalidSignals(t *testing.T) {
	s := newTestStore(t, newFakeClock())
	if s.Record(Signal{Kind: SignalDispatched}) {
		t.Error("Record() accepted signal without rule id")
	}
	if s.Record(Signal{RuleID: "r", Kind: "bogus"}) {
		t.Error("Record() accepted unknown kind")
	}
}

func TestCloseStopsRecording(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecomputeSchedule = ""
	s, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.Record(Signal{RuleID: "r", Kind: SignalDispatched}) {
		t.Error("Record() accepted signal after Close")
	}
	if err := s.Flush(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Flush() after Close = %v, want ErrClosed", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestResolutionLogCompaction(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.RecomputeSchedule = ""
	cfg.LogCapacity = 3
	s, err := New(context.Background(), cfg, WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close(context.Background())

	for _, id := range []string{"c1", "c2", "c3", "c4", "c5"} {
		s.AppendResolution(ResolutionRecord{ConflictID: id, Strategy: "priority", WinnerIDs: []string{"a"}})
	}
	if got := len(s.Resolutions()); got != 5 {
		t.Fatalf("before compaction: %d records", got)
	}
	if _, err := s.Recompute(context.Background()); err != nil {
		t.Fatal(err)
	}
	log := s.Resolutions()
	if len(log) != 3 || log[0].ConflictID != "c3" || log[2].ConflictID != "c5" {
		t.Errorf("after compaction: %+v", log)
	}
}

func TestSQLitePersisterRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "adaptation.db")
	p, err := OpenSQLite(path, 0)
	if err != nil {
		t.Fatalf("OpenSQLite() error: %v", err)
	}
	defer p.Close()

	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.RecomputeSchedule = ""
	s, err := New(ctx, cfg, WithClock(clock.Now), WithPersister(p))
	if err != nil {
		t.Fatal(err)
	}
	send(t, s, "tone", rules.TierPreference, SignalDispatched, 5)
	send(t, s, "tone", rules.TierPreference, SignalOverride, 2)
	s.AppendResolution(ResolutionRecord{
		ConflictID:    "c1",
		ConflictKind:  "rule_rule",
		Strategy:      "priority",
		WinnerIDs:     []string{"tone"},
		SuppressedIDs: []string{"bullets"},
	})
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	reopened, err := New(ctx, cfg, WithClock(clock.Now), WithPersister(p))
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close(ctx)

	if got := reopened.Snapshot().Threshold("tone", "1.0.0", 0.7); got != 0.75 {
		t.Errorf("restored threshold = %v, want 0.75", got)
	}
	if reopened.Snapshot().Version() == 0 {
		t.Error("restored snapshot has version 0")
	}

	recs, err := p.LoadResolutions(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].SuppressedIDs[0] != "bullets" {
		t.Errorf("persisted resolutions = %+v", recs)
	}
}

func TestSchedulerLifecycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecomputeSchedule = "@every 1h"
	s, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := NewScheduler(s)
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !sched.IsRunning() {
		t.Fatal("scheduler not running")
	}
	if next := sched.NextRun(); next == nil || next.Before(time.Now()) {
		t.Errorf("NextRun() = %v", next)
	}
	if err := sched.Start(ctx); err == nil {
		t.Error("second Start() should fail")
	}
	sched.Stop()
	if sched.IsRunning() {
		t.Error("scheduler still running after Stop")
	}
}

func TestTransitionLogsTrigger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	s := newTestStore(t, newFakeClock(), WithLogger(logger))

	send(t, s, "tone", rules.TierPreference, SignalDispatched, 5)
	send(t, s, "tone", rules.TierPreference, SignalOverride, 2)

	var found bool
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var rec map[string]any
		if err := json.Unmarshal(line, &rec); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		if rec["msg"] != "rule adaptation state changed" || rec["to"] != string(StateCandidate) {
			continue
		}
		found = true
		if rec["trigger"] != string(SignalOverride) {
			t.Errorf("trigger = %v, want %s", rec["trigger"], SignalOverride)
		}
	}
	if !found {
		t.Fatalf("no candidate transition logged in %s", buf.String())
	}
}

func TestFeedbackCarriesRuleVersionAndThreshold(t *testing.T) {
	s := newTestStore(t, newFakeClock())
	rule := rules.Rule{
		ID:       "fair-use",
		Version:  "3.1.0",
		Tier:     rules.TierOperational,
		Patterns: rules.Pattern{Keywords: []string{"quote"}, ConfidenceThreshold: 0.85},
	}

	for i := 0; i < 6; i++ {
		if !s.Feedback(rule, SignalMissed) {
			t.Fatalf("Feedback() dropped signal %d", i)
		}
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}

	st := stateOf(t, s, "fair-use")
	if st.RuleVersion != "3.1.0" || !st.Adjusted {
		t.Fatalf("state = %+v, want adjusted for version 3.1.0", st)
	}
	if got := s.Snapshot().Threshold("fair-use", "3.1.0", 0.85); got != 0.75 {
		t.Errorf("Snapshot.Threshold() = %v, want 0.75", got)
	}
}

func TestRepeatedRefCountsOnceWithinWindow(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)

	send(t, s, "tone", rules.TierPreference, SignalDispatched, 5)
	override := func(ref string) {
		t.Helper()
		s.Record(Signal{RuleID: "tone", RuleVersion: "1.0.0", Tier: rules.TierPreference, Kind: SignalOverride, Ref: ref})
		if err := s.Flush(context.Background()); err != nil {
			t.Fatalf("Flush() error: %v", err)
		}
	}

	for i := 0; i < 5; i++ {
		override("digest-a")
	}
	if st := stateOf(t, s, "tone"); st.State != StateStable {
		t.Fatalf("state after replays = %s, want stable", st.State)
	}

	override("digest-b")
	if st := stateOf(t, s, "tone"); st.State != StateAdjusted || st.Trigger != SignalOverride {
		t.Errorf("state after a second distinct override = %+v, want adjusted by override", st)
	}
}

func TestRefIsForgottenAfterWindow(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)

	sig := Signal{RuleID: "tone", RuleVersion: "1.0.0", Tier: rules.TierPreference, Kind: SignalOverride, Ref: "digest-a"}
	s.Record(sig)
	clock.Advance(25 * time.Hour)
	s.Record(sig)
	send(t, s, "tone", rules.TierPreference, SignalDispatched, 5)

	// Only the second override is inside the window.
	s.entriesMu.RLock()
	e := s.entries["tone"]
	s.entriesMu.RUnlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	var overrides int
	for _, ev := range e.events {
		if ev.kind == SignalOverride {
			overrides++
		}
	}
	if overrides != 1 {
		t.Errorf("overrides in window = %d, want 1", overrides)
	}
}
