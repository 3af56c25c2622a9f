package rules

import (
	"fmt"
	"sort"
	"time"
)

// RuleSet is an immutable, versioned snapshot of all rules used for one
// evaluation pass. Callers must not modify a RuleSet or the rules it returns.
type RuleSet struct {
	version     uint64
	publishedAt time.Time
	rules       []Rule
	index       map[string]int
}

// NewRuleSet builds a snapshot from rules. Rules are deep-copied and sorted by
// tier (highest first) and then by ID. Duplicate IDs are rejected.
func NewRuleSet(version uint64, publishedAt time.Time, rules []Rule) (*RuleSet, error) {
	sorted := make([]Rule, 0, len(rules))
	for _, r := range rules {
		sorted = append(sorted, r.Clone())
	}
	SortRules(sorted)

	index := make(map[string]int, len(sorted))
	for i, r := range sorted {
		if _, dup := index[r.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate rule id %q", ErrInvalidRule, r.ID)
		}
		index[r.ID] = i
	}

	return &RuleSet{
		version:     version,
		publishedAt: publishedAt,
		rules:       sorted,
		index:       index,
	}, nil
}

// Version returns the snapshot version. Versions increase with every publish.
func (s *RuleSet) Version() uint64 { return s.version }

// PublishedAt returns when the snapshot was published.
func (s *RuleSet) PublishedAt() time.Time { return s.publishedAt }

// Len returns the number of rules in the snapshot.
func (s *RuleSet) Len() int { return len(s.rules) }

// Rules returns all rules in snapshot order.
func (s *RuleSet) Rules() []Rule { return s.rules }

// Get returns the rule with the given ID.
func (s *RuleSet) Get(id string) (*Rule, bool) {
	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return &s.rules[i], true
}

// ByTier returns the rules of one tier, in ID order.
func (s *RuleSet) ByTier(tier Tier) []Rule {
	lo := sort.Search(len(s.rules), func(i int) bool { return s.rules[i].Tier.Rank() <= tier.Rank() })
	hi := lo
	for hi < len(s.rules) && s.rules[hi].Tier == tier {
		hi++
	}
	return s.rules[lo:hi]
}

// SortRules orders rules by tier descending and then by ID ascending.
func SortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		ri, rj := rules[i].Tier.Rank(), rules[j].Tier.Rank()
		if ri != rj {
			return ri > rj
		}
		return rules[i].ID < rules[j].ID
	})
}
