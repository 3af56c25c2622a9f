package adaptation

import (
	"sort"
	"time"

	"mercator-hq/rulegate/pkg/rules"
)

// State is the adaptation state of one rule.
type State string

const (
	// StateStable rules have no pending adjustment.
	StateStable State = "stable"

	// StateCandidate rules crossed a rate threshold and wait for the next
	// recompute.
	StateCandidate State = "candidate"

	// StateAdjusted rules had new parameters committed and are cooling down.
	StateAdjusted State = "adjusted"
)

// SignalKind classifies a feedback signal.
type SignalKind string

const (
	// SignalDispatched is emitted every time a rule's violation is dispatched.
	SignalDispatched SignalKind = "dispatched"

	// SignalConflict is emitted for every rule involved in a detected conflict.
	SignalConflict SignalKind = "conflict"

	// SignalOverride is emitted when a caller overrides a rule's warning.
	SignalOverride SignalKind = "override"

	// SignalMissed is caller feedback that a rule should have fired but did not.
	SignalMissed SignalKind = "missed"

	// SignalConfirmed is caller feedback that a rule fired correctly.
	SignalConfirmed SignalKind = "confirmed"
)

// Valid reports whether k is a known signal kind.
func (k SignalKind) Valid() bool {
	switch k {
	case SignalDispatched, SignalConflict, SignalOverride, SignalMissed, SignalConfirmed:
		return true
	}
	return false
}

// triggering reports whether the signal counts toward adjustment.
func (k SignalKind) triggering() bool {
	return k == SignalConflict || k == SignalOverride || k == SignalMissed
}

// Signal is one feedback event about a rule.
type Signal struct {
	RuleID      string
	RuleVersion string
	Tier        rules.Tier
	Kind        SignalKind

	// BaseThreshold is the rule's own confidence threshold when the signal
	// was produced. Adjustments are computed from it.
	BaseThreshold float64

	// At is when the signal happened. Zero means "now" when recorded.
	At time.Time

	// Ref identifies the occurrence the signal reports, such as the content
	// digest of an overridden warning. A signal whose kind and ref match one
	// already inside the window is ignored.
	Ref string

	// barrier is set on internal flush markers.
	barrier chan struct{}
}

// Params are the adapted parameters of a rule.
type Params struct {
	// ConfidenceThreshold replaces the rule's pattern threshold.
	ConfidenceThreshold float64

	// TieBreakWeight biases conflict resolution ties. 1.0 is neutral.
	TieBreakWeight float64
}

// RuleState is the committed adaptation state of a rule.
type RuleState struct {
	RuleID      string
	RuleVersion string
	State       State
	Params      Params

	// Adjusted reports whether Params were ever committed for this version.
	Adjusted bool

	// Trigger names the rate that last moved the rule to candidate.
	Trigger SignalKind

	ChangedAt  time.Time
	AdjustedAt time.Time
}

// Snapshot is an immutable view of all committed rule states. Readers use it
// without locks.
type Snapshot struct {
	version uint64
	takenAt time.Time
	states  map[string]RuleState
}

// NewSnapshot builds a snapshot from states.
func NewSnapshot(version uint64, takenAt time.Time, states []RuleState) *Snapshot {
	m := make(map[string]RuleState, len(states))
	for _, s := range states {
		m[s.RuleID] = s
	}
	return &Snapshot{version: version, takenAt: takenAt, states: m}
}

// Version returns the snapshot version.
func (s *Snapshot) Version() uint64 {
	if s == nil {
		return 0
	}
	return s.version
}

// TakenAt returns when the snapshot was published.
func (s *Snapshot) TakenAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.takenAt
}

// State returns the committed state of a rule.
func (s *Snapshot) State(ruleID string) (RuleState, bool) {
	if s == nil {
		return RuleState{}, false
	}
	st, ok := s.states[ruleID]
	return st, ok
}

// Threshold returns the confidence threshold to use for a rule, falling back
// to base when the rule has no committed adjustment for ruleVersion.
func (s *Snapshot) Threshold(ruleID, ruleVersion string, base float64) float64 {
	st, ok := s.State(ruleID)
	if !ok || !st.Adjusted || st.RuleVersion != ruleVersion || st.Params.ConfidenceThreshold <= 0 {
		return base
	}
	return st.Params.ConfidenceThreshold
}

// Weight returns the tie-break weight of a rule. Unadjusted rules weigh 1.0.
func (s *Snapshot) Weight(ruleID, ruleVersion string) float64 {
	st, ok := s.State(ruleID)
	if !ok || !st.Adjusted || st.RuleVersion != ruleVersion || st.Params.TieBreakWeight <= 0 {
		return 1.0
	}
	return st.Params.TieBreakWeight
}

// States returns all rule states ordered by rule ID.
func (s *Snapshot) States() []RuleState {
	if s == nil {
		return nil
	}
	out := make([]RuleState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out
}

// ResolutionRecord is one entry of the append-only resolution log.
type ResolutionRecord struct {
	ConflictID      string
	ConflictKind    string
	Strategy        string
	WinnerIDs       []string
	SuppressedIDs   []string
	Justification   string
	SnapshotVersion uint64
	At              time.Time
}
