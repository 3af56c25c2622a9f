package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ConflictKind classifies how violations conflict.
type ConflictKind string

const (
	// ConflictRuleRule groups overlapping violations that request different
	// enforcement modes.
	ConflictRuleRule ConflictKind = "rule_rule"

	// ConflictPriority groups overlapping violations from different tiers
	// whose actions contradict.
	ConflictPriority ConflictKind = "priority"

	// ConflictSemantic groups overlapping violations of the same tier and
	// category whose confidences are too close to tell apart.
	ConflictSemantic ConflictKind = "semantic"

	// ConflictContext pairs a violation with a context it does not apply to.
	ConflictContext ConflictKind = "context"
)

func (k ConflictKind) order() int {
	switch k {
	case ConflictRuleRule:
		return 0
	case ConflictPriority:
		return 1
	case ConflictSemantic:
		return 2
	default:
		return 3
	}
}

// idNamespace seeds deterministic conflict IDs and override tokens.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://mercator-hq/rulegate"))

// Conflict is a set of violations whose outcomes cannot all stand.
type Conflict struct {
	ID          string       `json:"id"`
	Kind        ConflictKind `json:"kind"`
	RuleIDs     []string     `json:"rule_ids"`
	Span        Span         `json:"span"`
	Constraint  string       `json:"constraint,omitempty"`
	Description string       `json:"description"`
}

// NewConflict builds a conflict over the given rule IDs. A conflict needs two
// distinct rules, or exactly one rule and a context constraint.
func NewConflict(kind ConflictKind, ruleIDs []string, span Span, constraint, description string) (Conflict, error) {
	ids := dedupeSorted(ruleIDs)
	switch {
	case len(ids) >= 2:
	case len(ids) == 1 && constraint != "":
	default:
		return Conflict{}, fmt.Errorf("conflict %s needs at least two distinct rules, got %v", kind, ids)
	}

	name := string(kind) + "|" + strings.Join(ids, ",") + "|" + constraint
	return Conflict{
		ID:          uuid.NewSHA1(idNamespace, []byte(name)).String(),
		Kind:        kind,
		RuleIDs:     ids,
		Span:        span,
		Constraint:  constraint,
		Description: description,
	}, nil
}

// Has reports whether ruleID is a member.
func (c Conflict) Has(ruleID string) bool {
	i := sort.SearchStrings(c.RuleIDs, ruleID)
	return i < len(c.RuleIDs) && c.RuleIDs[i] == ruleID
}

func dedupeSorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	n := 0
	for i, s := range out {
		if s == "" || (i > 0 && s == out[i-1]) {
			continue
		}
		out[n] = s
		n++
	}
	return out[:n]
}

func sortConflicts(cs []Conflict) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.Kind != b.Kind {
			return a.Kind.order() < b.Kind.order()
		}
		if a.Span.Start != b.Span.Start {
			return a.Span.Start < b.Span.Start
		}
		return a.ID < b.ID
	})
}

// Strategy names a conflict resolution strategy.
type Strategy string

const (
	// StrategyPriority lets the highest tier win, then severity, then
	// adaptation weight, then rule ID.
	StrategyPriority Strategy = "priority"

	// StrategyContextAware scores candidates by how well their tags match
	// the evaluation context.
	StrategyContextAware Strategy = "context_aware"

	// StrategyUserPreference picks the candidate listed first in the
	// context's priorities.
	StrategyUserPreference Strategy = "user_preference"

	// StrategyFallback is priority ordering used when another strategy
	// cannot decide.
	StrategyFallback Strategy = "fallback"
)

// Strategies lists every strategy.
var Strategies = []Strategy{StrategyPriority, StrategyContextAware, StrategyUserPreference, StrategyFallback}

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyPriority, StrategyContextAware, StrategyUserPreference, StrategyFallback:
		return true
	}
	return false
}

// ParseStrategy converts a name into a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	s := Strategy(strings.TrimSpace(strings.ToLower(name)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return s, nil
}

// Resolution records how one conflict was decided.
type Resolution struct {
	ConflictID string       `json:"conflict_id"`
	Kind       ConflictKind `json:"kind"`

	// Strategy is the strategy that decided the conflict, which differs
	// from Requested when a fallback or short-circuit applied.
	Strategy  Strategy `json:"strategy"`
	Requested Strategy `json:"requested"`

	WinnerIDs     []string `json:"winner_ids"`
	SuppressedIDs []string `json:"suppressed_ids"`
	Justification string   `json:"justification"`
}
