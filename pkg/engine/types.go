package engine

import (
	"sort"
	"strings"
	"time"

	"mercator-hq/rulegate/pkg/rules"
)

// Context carries the caller's evaluation context as key/value pairs.
type Context map[string]string

// Well-known context keys.
const (
	ContextDomain      = "domain"
	ContextRole        = "role"
	ContextAudience    = "audience"
	ContextContentType = "content_type"

	// ContextPriorities is a comma-separated list of rule IDs or categories,
	// most preferred first, consumed by the user_preference strategy.
	ContextPriorities = "priorities"
)

// Get returns the value of key, or "" when unset. It is safe on a nil Context.
func (c Context) Get(key string) string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c[key])
}

// Priorities returns the parsed priorities list.
func (c Context) Priorities() []string {
	raw := c.Get(ContextPriorities)
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Span is a half-open byte range [Start, End) of the evaluated content.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Overlaps reports whether s and o share at least one byte.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Len returns the number of bytes covered.
func (s Span) Len() int { return s.End - s.Start }

// extent returns the smallest span covering all spans.
func extent(spans []Span) Span {
	if len(spans) == 0 {
		return Span{}
	}
	out := spans[0]
	for _, s := range spans[1:] {
		if s.Start < out.Start {
			out.Start = s.Start
		}
		if s.End > out.End {
			out.End = s.End
		}
	}
	return out
}

// normalizeSpans sorts spans and drops exact duplicates.
func normalizeSpans(spans []Span) []Span {
	if len(spans) < 2 {
		return spans
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End < spans[j].End
	})
	out := spans[:1]
	for _, s := range spans[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}

// Detector names a detection primitive kind.
type Detector string

const (
	DetectorKeyword    Detector = "keyword"
	DetectorRegex      Detector = "regex"
	DetectorParameter  Detector = "parameter"
	DetectorClassifier Detector = "classifier"
)

// Action is the enforcement outcome of a violation.
type Action string

const (
	// ActionBlock rejects the content.
	ActionBlock Action = "block"

	// ActionAdapt rewrites the offending spans.
	ActionAdapt Action = "adapt"

	// ActionWarn lets the content through with an overridable warning.
	ActionWarn Action = "warn"

	// ActionSuggest attaches a non-binding suggestion.
	ActionSuggest Action = "suggest"
)

// Rank orders actions by restrictiveness, block highest.
func (a Action) Rank() int {
	switch a {
	case ActionBlock:
		return 4
	case ActionAdapt:
		return 3
	case ActionWarn:
		return 2
	case ActionSuggest:
		return 1
	default:
		return 0
	}
}

// Violation is one rule that matched the content.
type Violation struct {
	RuleID      string         `json:"rule_id"`
	RuleVersion string         `json:"rule_version"`
	Tier        rules.Tier     `json:"tier"`
	Severity    rules.Severity `json:"severity"`
	Category    string         `json:"category,omitempty"`
	Mode        rules.Mode     `json:"mode"`
	Spans       []Span         `json:"spans"`
	Confidence  float64        `json:"confidence"`
	Detectors   []Detector     `json:"detectors"`
	Message     string         `json:"message,omitempty"`

	// Action is set by the dispatcher.
	Action Action `json:"action,omitempty"`

	override    rules.OverridePolicy
	threshold   float64
	tags        []string
	suggestion  string
	suggestions []Suggestion
}

// IsStrictSafety reports whether the violation is protected from suppression.
func (v *Violation) IsStrictSafety() bool {
	return v.Tier == rules.TierSafety && v.Mode == rules.ModeStrict
}

// Extent returns the smallest span covering every span of the violation.
func (v *Violation) Extent() Span { return extent(v.Spans) }

func (v *Violation) tagValues(key string) []string {
	r := rules.Rule{Tags: v.tags}
	return r.TagValues(key)
}

// sortViolations orders violations by tier, then severity descending, then
// rule ID ascending.
func sortViolations(vs []*Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		a, b := vs[i], vs[j]
		if a.Tier.Rank() != b.Tier.Rank() {
			return a.Tier.Rank() > b.Tier.Rank()
		}
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		return a.RuleID < b.RuleID
	})
}

// Suggestion is advisory output attached to a result.
type Suggestion struct {
	Type        string  `json:"type"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	SourceRule  string  `json:"source_rule"`
	Original    string  `json:"original,omitempty"`
	Suggested   string  `json:"suggested,omitempty"`
}

// Suggestion types.
const (
	SuggestionRule       = "rule"
	SuggestionQuote      = "quote_length"
	SuggestionLength     = "length"
	SuggestionSuppressed = "suppressed"
	SuggestionLowerTier  = "lower_tier"
)

// Warning is a non-blocking outcome that may be overridden.
type Warning struct {
	RuleID  string `json:"rule_id"`
	Message string `json:"message,omitempty"`

	// OverrideToken is presented back in an OverrideRequest. Empty when the
	// rule does not allow overrides.
	OverrideToken string `json:"override_token,omitempty"`

	JustificationRequired bool `json:"justification_required,omitempty"`
}

// RuleError is a contained per-rule or per-conflict failure.
type RuleError struct {
	RuleID  string    `json:"rule_id,omitempty"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// ValidationResult is the outcome of one evaluation.
type ValidationResult struct {
	Valid          bool          `json:"valid"`
	Violations     []*Violation  `json:"violations"`
	Suggestions    []Suggestion  `json:"suggestions"`
	Warnings       []Warning     `json:"warnings"`
	Conflicts      []Conflict    `json:"conflicts"`
	Resolutions    []Resolution  `json:"resolutions"`
	AdaptedContent *string       `json:"adapted_content,omitempty"`
	Score          float64       `json:"score"`
	RulesEvaluated int           `json:"rules_evaluated"`
	TiersEvaluated []rules.Tier  `json:"tiers_evaluated"`
	Strategy       Strategy      `json:"strategy"`
	Errors         []RuleError   `json:"errors,omitempty"`

	SnapshotVersion uint64 `json:"snapshot_version"`
	ContentDigest   string `json:"content_digest"`

	// ProcessingTime is a measurement and varies between identical calls.
	ProcessingTime time.Duration `json:"processing_time"`
}

// Blocked reports whether any violation was blocked.
func (r *ValidationResult) Blocked() bool {
	for _, v := range r.Violations {
		if v.Action == ActionBlock {
			return true
		}
	}
	return false
}

// DispatchEvent describes one enforced action. It is delivered to the
// adaptation store and to OnViolationDispatched subscribers.
type DispatchEvent struct {
	EventID         string
	RuleID          string
	RuleVersion     string
	Tier            rules.Tier
	Severity        rules.Severity
	Category        string
	Action          Action
	Spans           []Span
	Confidence      float64
	ContentDigest   string
	SnapshotVersion uint64
	At              time.Time
}

// SnapshotSource provides the current rule snapshot.
type SnapshotSource interface {
	Current() *rules.RuleSet
}

// SnapshotSourceFunc adapts a function to SnapshotSource.
type SnapshotSourceFunc func() *rules.RuleSet

// Current calls f.
func (f SnapshotSourceFunc) Current() *rules.RuleSet { return f() }

// StaticSource serves a fixed snapshot.
func StaticSource(rs *rules.RuleSet) SnapshotSource {
	return SnapshotSourceFunc(func() *rules.RuleSet { return rs })
}
