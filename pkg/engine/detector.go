package engine

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"mercator-hq/rulegate/pkg/rules"
)

// contextTagKeys are the applicability tags checked against the context, in
// the order they are reported.
var contextTagKeys = []string{ContextDomain, ContextRole, ContextAudience}

// detectConflicts finds every conflict among violations. Overlap groups are
// built with a span sweep; context conflicts do not need overlap.
func detectConflicts(violations []*Violation, c Context, semanticThreshold float64) []Conflict {
	var conflicts []Conflict
	add := func(kind ConflictKind, members []*Violation, constraint, desc string) {
		ids := make([]string, len(members))
		spans := make([]Span, 0, len(members))
		for i, v := range members {
			ids[i] = v.RuleID
			spans = append(spans, v.Extent())
		}
		conflict, err := NewConflict(kind, ids, extent(spans), constraint, desc)
		if err == nil {
			conflicts = append(conflicts, conflict)
		}
	}

	for _, group := range overlapGroups(violations) {
		if modes := distinctModes(group); len(modes) >= 2 {
			add(ConflictRuleRule, group, "",
				fmt.Sprintf("overlapping rules request different modes: %s", strings.Join(modes, ", ")))
		}
		if contradictoryTiers(group) {
			add(ConflictPriority, group, "", "strict and non-strict rules from different tiers overlap")
		}
		for _, run := range semanticRuns(group, semanticThreshold) {
			add(ConflictSemantic, run, "",
				fmt.Sprintf("rules of category %q overlap with indistinguishable confidence", run[0].Category))
		}
	}

	for _, v := range violations {
		if constraint, ok := contextMismatch(v, c); ok {
			add(ConflictContext, []*Violation{v}, constraint,
				fmt.Sprintf("rule %s does not apply to %s", v.RuleID, constraint))
		}
	}

	sortConflicts(conflicts)
	return conflicts
}

type spanRef struct {
	span Span
	idx  int
}

// overlapGroups returns sets of violations whose spans transitively overlap.
// Groups are ordered by their first span, members by rule ID.
func overlapGroups(violations []*Violation) [][]*Violation {
	var refs []spanRef
	for i, v := range violations {
		for _, s := range v.Spans {
			if s.Len() > 0 {
				refs = append(refs, spanRef{span: s, idx: i})
			}
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].span.Start != refs[j].span.Start {
			return refs[i].span.Start < refs[j].span.Start
		}
		if refs[i].span.End != refs[j].span.End {
			return refs[i].span.End < refs[j].span.End
		}
		return refs[i].idx < refs[j].idx
	})

	uf := newUnionFind(len(violations))
	first := make([]int, len(violations))
	for i := range first {
		first[i] = -1
	}

	clusterRoot, maxEnd := -1, -1
	for n, ref := range refs {
		if first[ref.idx] < 0 {
			first[ref.idx] = n
		}
		if clusterRoot >= 0 && ref.span.Start < maxEnd {
			uf.union(clusterRoot, ref.idx)
			if ref.span.End > maxEnd {
				maxEnd = ref.span.End
			}
			continue
		}
		clusterRoot, maxEnd = ref.idx, ref.span.End
	}

	byRoot := make(map[int][]int)
	var roots []int
	for i := range violations {
		if first[i] < 0 {
			continue
		}
		root := uf.find(i)
		if _, ok := byRoot[root]; !ok {
			roots = append(roots, root)
		}
		byRoot[root] = append(byRoot[root], i)
	}

	var groups [][]*Violation
	for _, root := range roots {
		idxs := byRoot[root]
		if len(idxs) < 2 {
			continue
		}
		group := make([]*Violation, len(idxs))
		for i, idx := range idxs {
			group[i] = violations[idx]
		}
		sort.Slice(group, func(i, j int) bool { return group[i].RuleID < group[j].RuleID })
		groups = append(groups, group)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groupStart(groups[i]) < groupStart(groups[j])
	})
	return groups
}

func groupStart(group []*Violation) int {
	start := -1
	for _, v := range group {
		if s := v.Extent().Start; start < 0 || s < start {
			start = s
		}
	}
	return start
}

func distinctModes(group []*Violation) []string {
	var modes []string
	for _, v := range group {
		if !slices.Contains(modes, string(v.Mode)) {
			modes = append(modes, string(v.Mode))
		}
	}
	sort.Strings(modes)
	return modes
}

// contradictoryTiers reports whether a Strict member and a non-Strict member
// of different tiers overlap.
func contradictoryTiers(group []*Violation) bool {
	for _, a := range group {
		if a.Mode != rules.ModeStrict {
			continue
		}
		for _, b := range group {
			if b.Mode != rules.ModeStrict && b.Tier != a.Tier {
				return true
			}
		}
	}
	return false
}

// semanticRuns splits members of the same tier and category, sorted by
// confidence, into runs whose neighbouring confidences differ by less than
// threshold. Only runs of two or more are returned.
func semanticRuns(group []*Violation, threshold float64) [][]*Violation {
	type key struct {
		tier     rules.Tier
		category string
	}
	buckets := make(map[key][]*Violation)
	var keys []key
	for _, v := range group {
		if v.Category == "" {
			continue
		}
		k := key{v.Tier, v.Category}
		if _, ok := buckets[k]; !ok {
			keys = append(keys, k)
		}
		buckets[k] = append(buckets[k], v)
	}

	var runs [][]*Violation
	for _, k := range keys {
		members := buckets[k]
		if len(members) < 2 {
			continue
		}
		sort.SliceStable(members, func(i, j int) bool {
			if members[i].Confidence != members[j].Confidence {
				return members[i].Confidence > members[j].Confidence
			}
			return members[i].RuleID < members[j].RuleID
		})

		run := []*Violation{members[0]}
		for _, v := range members[1:] {
			if run[len(run)-1].Confidence-v.Confidence < threshold {
				run = append(run, v)
				continue
			}
			if len(run) >= 2 {
				runs = append(runs, run)
			}
			run = []*Violation{v}
		}
		if len(run) >= 2 {
			runs = append(runs, run)
		}
	}
	return runs
}

// contextMismatch reports the first applicability tag of v that excludes the
// context value, formatted as "key=value".
func contextMismatch(v *Violation, c Context) (string, bool) {
	for _, key := range contextTagKeys {
		want := c.Get(key)
		if want == "" {
			continue
		}
		values := v.tagValues(key)
		if len(values) > 0 && !slices.Contains(values, want) {
			return key + "=" + want, true
		}
	}
	return "", false
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}
