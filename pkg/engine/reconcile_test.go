package engine

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"mercator-hq/rulegate/pkg/rules"
)

// tiedTechnicalRules overlap on one keyword and yield a rule_rule conflict
// over all three plus a semantic conflict over the two "fmt" rules. Under
// context_aware the two conflicts pick different winners.
func tiedTechnicalRules() []rules.Rule {
	aTech := keywordRule("a-tech", rules.TierOperational, rules.SeverityMedium, rules.ModeAdvisory, "secret")
	aTech.Category = "fmt"
	aTech.Tags = []string{"domain:technical"}

	bTech := keywordRule("b-tech", rules.TierOperational, rules.SeverityMedium, rules.ModeAdaptive, "secret")
	bTech.Category = "other"
	bTech.Tags = []string{"domain:technical"}

	wStrict := keywordRule("w-strict", rules.TierOperational, rules.SeverityHigh, rules.ModeStrict, "secret")
	wStrict.Category = "fmt"
	return []rules.Rule{aTech, bTech, wStrict}
}

// styleRules yield rule_rule, priority and semantic conflicts over one group.
func styleRules() []rules.Rule {
	block := keywordRule("op-block", rules.TierOperational, rules.SeverityHigh, rules.ModeStrict, "secret")
	block.Category = "style"

	warn := keywordRule("op-warn", rules.TierOperational, rules.SeverityHigh, rules.ModeAdvisory, "secret")
	warn.Category = "style"
	warn.Tags = []string{"domain:technical"}

	tone := keywordRule("pref-tone", rules.TierPreference, rules.SeverityLow, rules.ModeAdaptive, "secret")
	tone.Category = "style"
	tone.Tags = []string{"domain:technical"}
	return []rules.Rule{block, warn, tone}
}

func TestResolveConflicts_MixedKindGroup(t *testing.T) {
	tests := []struct {
		name      string
		rules     []rules.Rule
		context   Context
		wantKinds int
		want      map[Strategy][]string
	}{
		{
			name:      "rule_rule and semantic",
			rules:     tiedTechnicalRules(),
			context:   Context{ContextDomain: "technical"},
			wantKinds: 2,
			want: map[Strategy][]string{
				StrategyPriority:       {"w-strict"},
				StrategyContextAware:   {"a-tech", "w-strict"},
				StrategyUserPreference: {"w-strict"},
				StrategyFallback:       {"w-strict"},
			},
		},
		{
			name:      "rule_rule, priority and semantic",
			rules:     styleRules(),
			context:   Context{ContextDomain: "technical", ContextPriorities: "op-warn"},
			wantKinds: 3,
			want: map[Strategy][]string{
				StrategyPriority:       {"op-block"},
				StrategyContextAware:   {"op-warn"},
				StrategyUserPreference: {"op-warn"},
				StrategyFallback:       {"op-block"},
			},
		},
	}

	for _, tt := range tests {
		eng := newTestEngine(t, newRuleSet(t, tt.rules...))
		for _, s := range Strategies {
			t.Run(fmt.Sprintf("%s/%s", tt.name, s), func(t *testing.T) {
				res, err := eng.ResolveConflicts(context.Background(), "the secret word", s, tt.context)
				if err != nil {
					t.Fatalf("evaluation failed: %v", err)
				}

				kinds := make(map[ConflictKind]bool)
				for _, c := range res.Conflicts {
					kinds[c.Kind] = true
				}
				if len(kinds) != tt.wantKinds {
					t.Fatalf("conflict kinds = %v, want %d distinct", conflictKinds(res.Conflicts), tt.wantKinds)
				}

				if len(res.Violations) == 0 {
					t.Fatal("an overlap group must keep at least one enforced violation")
				}
				got := ruleIDs(res.Violations)
				sort.Strings(got)
				if fmt.Sprint(got) != fmt.Sprint(tt.want[s]) {
					t.Errorf("enforced = %v, want %v", got, tt.want[s])
				}

				// A strict member that wins any conflict is enforced.
				for _, r := range res.Resolutions {
					for _, id := range r.WinnerIDs {
						if v := findViolation(res, id); v == nil {
							t.Errorf("winner %s of %s conflict is not enforced", id, r.Kind)
						} else if v.Mode == rules.ModeStrict && v.Action != ActionBlock {
							t.Errorf("strict winner %s dispatched as %s", id, v.Action)
						}
					}
				}
				if findViolation(res, "w-strict") != nil && res.Valid {
					t.Error("an enforced strict violation must invalidate the content")
				}
			})
		}
	}
}

func TestSettle(t *testing.T) {
	byID := map[string]*Violation{
		"a": violation("a", rules.TierOperational, rules.SeverityMedium, rules.ModeAdvisory, 0.8),
		"b": violation("b", rules.TierOperational, rules.SeverityMedium, rules.ModeAdaptive, 0.8),
		"w": violation("w", rules.TierOperational, rules.SeverityHigh, rules.ModeStrict, 0.8),
	}

	tests := []struct {
		name        string
		resolutions []Resolution
		want        []string
	}{
		{
			name: "winner of one conflict survives losing another",
			resolutions: []Resolution{
				{Kind: ConflictRuleRule, WinnerIDs: []string{"w"}, SuppressedIDs: []string{"a", "b"}},
				{Kind: ConflictSemantic, WinnerIDs: []string{"a"}, SuppressedIDs: []string{"w"}},
			},
			want: []string{"b"},
		},
		{
			name: "context conflict suppresses outright",
			resolutions: []Resolution{
				{Kind: ConflictContext, SuppressedIDs: []string{"b"}},
			},
			want: []string{"b"},
		},
		{
			name: "group without a standing member keeps its most restrictive applicable one",
			resolutions: []Resolution{
				{Kind: ConflictRuleRule, WinnerIDs: []string{"a"}, SuppressedIDs: []string{"b", "w"}},
				{Kind: ConflictContext, SuppressedIDs: []string{"a"}},
			},
			want: []string{"a", "b"},
		},
		{
			name: "every member ruled out by context",
			resolutions: []Resolution{
				{Kind: ConflictRuleRule, WinnerIDs: []string{"a"}, SuppressedIDs: []string{"b"}},
				{Kind: ConflictContext, SuppressedIDs: []string{"a"}},
				{Kind: ConflictContext, SuppressedIDs: []string{"b"}},
			},
			want: []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			suppressed := settle(tt.resolutions, byID)
			var got []string
			for id := range suppressed {
				got = append(got, id)
			}
			sort.Strings(got)
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("suppressed = %v, want %v", got, tt.want)
			}
		})
	}
}
