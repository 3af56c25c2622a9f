package engine

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"mercator-hq/rulegate/pkg/adaptation"
	"mercator-hq/rulegate/pkg/rules"
)

// Context-aware scoring weights per matching applicability tag.
const (
	weightRole        = 10
	weightDomain      = 8
	weightAudience    = 5
	weightContentType = 5
)

// resolve decides one conflict. members are the violations named by the
// conflict. The decision is a pure function of its arguments.
func resolve(conflict Conflict, members []*Violation, c Context, requested Strategy, snap *adaptation.Snapshot) (Resolution, error) {
	res := Resolution{
		ConflictID: conflict.ID,
		Kind:       conflict.Kind,
		Requested:  requested,
	}
	if !requested.Valid() {
		return res, fmt.Errorf("%w: %q", ErrUnknownStrategy, requested)
	}
	members = sortedByID(members)

	// Strict Safety short-circuit, ahead of any strategy.
	var protected, others []*Violation
	for _, v := range members {
		if v.IsStrictSafety() {
			protected = append(protected, v)
		} else {
			others = append(others, v)
		}
	}
	if len(protected) > 0 {
		res.Strategy = requested
		res.WinnerIDs = ruleIDs(protected)
		res.SuppressedIDs = ruleIDs(others)
		res.Justification = "strict safety rules cannot be overridden"
		return res, nil
	}

	if conflict.Kind == ConflictContext {
		return resolveContext(res, conflict, members, requested)
	}

	if len(members) < 2 || len(members) != len(conflict.RuleIDs) {
		return unresolved(res, members, fmt.Errorf("conflict %s has %d of %d member violations",
			conflict.ID, len(members), len(conflict.RuleIDs)))
	}

	candidates := highestTier(members)
	var (
		winner *Violation
		reason string
	)
	switch requested {
	case StrategyPriority:
		winner = byPriority(candidates, snap)
		reason = priorityReason(winner, members)
	case StrategyContextAware:
		winner, reason = byContext(candidates, c)
	case StrategyUserPreference:
		winner, reason = byPreference(candidates, c)
	case StrategyFallback:
	}

	res.Strategy = requested
	if winner == nil {
		res.Strategy = StrategyFallback
		winner = byPriority(candidates, snap)
		if winner == nil {
			return unresolved(res, members, fmt.Errorf("no candidate for conflict %s", conflict.ID))
		}
		reason = "fallback to priority ordering: " + priorityReason(winner, members)
	}

	res.WinnerIDs = []string{winner.RuleID}
	for _, v := range members {
		if v != winner {
			res.SuppressedIDs = append(res.SuppressedIDs, v.RuleID)
		}
	}
	res.Justification = reason
	return res, nil
}

// resolveContext decides a conflict between one violation and the context.
func resolveContext(res Resolution, conflict Conflict, members []*Violation, requested Strategy) (Resolution, error) {
	if len(members) != 1 {
		return unresolved(res, members, fmt.Errorf("context conflict %s has %d member violations", conflict.ID, len(members)))
	}
	v := members[0]

	switch requested {
	case StrategyContextAware:
		res.Strategy = requested
		res.SuppressedIDs = []string{v.RuleID}
		res.Justification = fmt.Sprintf("rule does not apply to %s", conflict.Constraint)
	case StrategyPriority, StrategyFallback:
		res.Strategy = requested
		res.WinnerIDs = []string{v.RuleID}
		res.Justification = fmt.Sprintf("rule stands regardless of %s", conflict.Constraint)
	default:
		res.Strategy = StrategyFallback
		res.WinnerIDs = []string{v.RuleID}
		res.Justification = fmt.Sprintf("fallback: rule stands regardless of %s", conflict.Constraint)
	}
	return res, nil
}

// unresolved keeps the most restrictive member and suppresses nothing.
func unresolved(res Resolution, members []*Violation, cause error) (Resolution, error) {
	res.Strategy = StrategyFallback
	res.SuppressedIDs = nil
	if mr := mostRestrictive(members); mr != nil {
		res.WinnerIDs = []string{mr.RuleID}
	}
	res.Justification = "unresolved: most restrictive violation stands"
	return res, newEvalError(KindConflictUnresolved, "", cause)
}

// highestTier returns the members of the highest tier present.
func highestTier(members []*Violation) []*Violation {
	top := 0
	for _, v := range members {
		if r := v.Tier.Rank(); r > top {
			top = r
		}
	}
	var out []*Violation
	for _, v := range members {
		if v.Tier.Rank() == top {
			out = append(out, v)
		}
	}
	return out
}

// byPriority orders by tier, severity, adaptation weight, then rule ID.
func byPriority(candidates []*Violation, snap *adaptation.Snapshot) *Violation {
	if len(candidates) == 0 {
		return nil
	}
	ordered := append([]*Violation(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Tier.Rank() != b.Tier.Rank() {
			return a.Tier.Rank() > b.Tier.Rank()
		}
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		wa, wb := snap.Weight(a.RuleID, a.RuleVersion), snap.Weight(b.RuleID, b.RuleVersion)
		if wa != wb {
			return wa > wb
		}
		return a.RuleID < b.RuleID
	})
	return ordered[0]
}

func priorityReason(winner *Violation, members []*Violation) string {
	tiers := make(map[rules.Tier]bool)
	for _, v := range members {
		tiers[v.Tier] = true
	}
	if len(tiers) > 1 {
		return fmt.Sprintf("%s tier takes precedence", winner.Tier)
	}
	return fmt.Sprintf("%s severity %s ranks highest", winner.RuleID, winner.Severity)
}

// contextScore scores how well v's applicability tags match the context.
func contextScore(v *Violation, c Context) int {
	score := 0
	for _, w := range []struct {
		key    string
		weight int
	}{
		{ContextRole, weightRole},
		{ContextDomain, weightDomain},
		{ContextAudience, weightAudience},
		{ContextContentType, weightContentType},
	} {
		if want := c.Get(w.key); want != "" && slices.Contains(v.tagValues(w.key), want) {
			score += w.weight
		}
	}
	return score
}

// byContext picks the candidate whose tags best match the context. It
// returns nil when no candidate matches at all or the best score is tied.
func byContext(candidates []*Violation, c Context) (*Violation, string) {
	var (
		best      *Violation
		bestScore int
		tied      bool
	)
	for _, v := range candidates {
		s := contextScore(v, c)
		switch {
		case s > bestScore:
			best, bestScore, tied = v, s, false
		case s == bestScore && s > 0:
			tied = true
		}
	}
	if best == nil || tied {
		return nil, ""
	}
	return best, fmt.Sprintf("%s best matches the context (score %d)", best.RuleID, bestScore)
}

// byPreference picks the candidate listed first in the context priorities,
// by rule ID or category. Safety conflicts are never decided by preference.
func byPreference(candidates []*Violation, c Context) (*Violation, string) {
	if len(candidates) == 0 || candidates[0].Tier == rules.TierSafety {
		return nil, ""
	}
	for _, p := range c.Priorities() {
		for _, v := range candidates {
			if v.RuleID == p {
				return v, fmt.Sprintf("user prefers rule %s", p)
			}
		}
		for _, v := range candidates {
			if v.Category != "" && strings.EqualFold(v.Category, p) {
				return v, fmt.Sprintf("user prefers category %s", p)
			}
		}
	}
	return nil, ""
}

// mostRestrictive orders by mode, tier, severity, then rule ID.
func mostRestrictive(vs []*Violation) *Violation {
	var best *Violation
	for _, v := range vs {
		if best == nil || moreRestrictive(v, best) {
			best = v
		}
	}
	return best
}

func moreRestrictive(a, b *Violation) bool {
	if a.Mode.Rank() != b.Mode.Rank() {
		return a.Mode.Rank() > b.Mode.Rank()
	}
	if a.Tier.Rank() != b.Tier.Rank() {
		return a.Tier.Rank() > b.Tier.Rank()
	}
	if a.Severity.Rank() != b.Severity.Rank() {
		return a.Severity.Rank() > b.Severity.Rank()
	}
	return a.RuleID < b.RuleID
}

// checkInvariants verifies no resolution suppresses a Strict Safety
// violation.
func checkInvariants(resolutions []Resolution, byID map[string]*Violation) error {
	for _, res := range resolutions {
		for _, id := range res.SuppressedIDs {
			if v, ok := byID[id]; ok && v.IsStrictSafety() {
				return newEvalError(KindInvariantViolation, id,
					fmt.Errorf("resolution of conflict %s suppresses a strict safety rule", res.ConflictID))
			}
		}
	}
	return nil
}

func sortedByID(vs []*Violation) []*Violation {
	out := append([]*Violation(nil), vs...)
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out
}

func ruleIDs(vs []*Violation) []string {
	if len(vs) == 0 {
		return nil
	}
	ids := make([]string, len(vs))
	for i, v := range vs {
		ids[i] = v.RuleID
	}
	return ids
}
