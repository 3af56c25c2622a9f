package source

import (
	"context"
	"sync"

	"mercator-hq/rulegate/pkg/rules"
)

// MemorySource is an in-memory rule source, mostly for tests and embedding.
type MemorySource struct {
	mu    sync.RWMutex
	rules []rules.Rule
}

// NewMemorySource creates a new in-memory rule source.
func NewMemorySource(rs ...rules.Rule) *MemorySource {
	s := &MemorySource{}
	s.SetRules(rs)
	return s
}

// LoadRules returns a copy of the rules stored in memory.
func (s *MemorySource) LoadRules(ctx context.Context) ([]rules.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]rules.Rule, len(s.rules))
	for i, r := range s.rules {
		out[i] = r.Clone()
	}
	return out, nil
}

// SetRules replaces the rules in memory.
func (s *MemorySource) SetRules(rs []rules.Rule) {
	normalized := make([]rules.Rule, len(rs))
	for i, r := range rs {
		normalized[i] = rules.Normalize(r)
	}

	s.mu.Lock()
	s.rules = normalized
	s.mu.Unlock()
}
