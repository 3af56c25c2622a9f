// Package registry owns the published rule snapshot.
//
// A Registry loads rules from a source, validates them, and publishes them as
// an immutable rules.RuleSet. Publishing swaps an atomic pointer, so readers
// never observe a partially updated rule set and an evaluation that captured
// a snapshot keeps using it after a reload. Replaced rule versions are kept in
// a bounded history for audit.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/rulegate/pkg/rules"
	"mercator-hq/rulegate/pkg/rules/source"
)

// ErrNoSource is returned by Reload when the registry has no source.
var ErrNoSource = errors.New("registry has no rule source")

// DefaultHistoryLimit is the number of replaced versions kept per rule.
const DefaultHistoryLimit = 10

// Registry publishes rule snapshots.
type Registry struct {
	source       source.Source
	logger       *slog.Logger
	historyLimit int
	now          func() time.Time

	current atomic.Pointer[rules.RuleSet]

	// mu serializes publishers. Readers never take it.
	mu      sync.Mutex
	digest  string
	history map[string][]rules.Rule
	onSwap  []func(*rules.RuleSet)
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithHistoryLimit sets how many replaced versions of each rule are retained.
func WithHistoryLimit(n int) Option {
	return func(r *Registry) { r.historyLimit = n }
}

// WithClock overrides the time source used for publish timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a registry. src may be nil when rules are published directly.
// The registry starts with an empty version 0 snapshot.
func New(src source.Source, opts ...Option) *Registry {
	r := &Registry{
		source:       src,
		logger:       slog.Default(),
		historyLimit: DefaultHistoryLimit,
		now:          time.Now,
		history:      make(map[string][]rules.Rule),
	}
	for _, opt := range opts {
		opt(r)
	}
	empty, _ := rules.NewRuleSet(0, r.now(), nil)
	r.current.Store(empty)
	return r
}

// Current returns the last published snapshot. It never returns nil.
func (r *Registry) Current() *rules.RuleSet {
	return r.current.Load()
}

// OnPublish registers a callback invoked after every successful publish.
func (r *Registry) OnPublish(fn func(*rules.RuleSet)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSwap = append(r.onSwap, fn)
}

// Reload loads rules from the source and publishes them. An unchanged rule
// list does not produce a new version.
func (r *Registry) Reload(ctx context.Context) (*rules.RuleSet, error) {
	if r.source == nil {
		return nil, ErrNoSource
	}
	loaded, err := r.source.LoadRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	return r.Publish(loaded)
}

// Publish validates rules and atomically replaces the current snapshot.
// On error the current snapshot is left untouched.
func (r *Registry) Publish(rs []rules.Rule) (*rules.RuleSet, error) {
	normalized := make([]rules.Rule, len(rs))
	for i, rule := range rs {
		normalized[i] = rules.Normalize(rule)
		if err := rules.Validate(&normalized[i]); err != nil {
			return nil, err
		}
	}

	digest, err := fingerprint(normalized)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	if digest == r.digest && prev.Version() > 0 {
		r.logger.Debug("rule set unchanged, keeping snapshot", "version", prev.Version())
		return prev, nil
	}

	next, err := rules.NewRuleSet(prev.Version()+1, r.now(), normalized)
	if err != nil {
		return nil, err
	}

	r.recordHistory(prev, next)
	r.current.Store(next)
	r.digest = digest

	r.logger.Info("published rule snapshot",
		"version", next.Version(),
		"rule_count", next.Len(),
		"digest", digest[:12],
	)

	for _, fn := range r.onSwap {
		fn(next)
	}
	return next, nil
}

// History returns the replaced versions of a rule, oldest first.
func (r *Registry) History(ruleID string) []rules.Rule {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]rules.Rule(nil), r.history[ruleID]...)
}

// recordHistory keeps every rule of prev that next replaces or removes.
func (r *Registry) recordHistory(prev, next *rules.RuleSet) {
	for _, old := range prev.Rules() {
		if cur, ok := next.Get(old.ID); ok && reflect.DeepEqual(*cur, old) {
			continue
		}
		h := append(r.history[old.ID], old)
		if r.historyLimit > 0 && len(h) > r.historyLimit {
			h = h[len(h)-r.historyLimit:]
		}
		r.history[old.ID] = h
	}
}

func fingerprint(rs []rules.Rule) (string, error) {
	sorted := append([]rules.Rule(nil), rs...)
	rules.SortRules(sorted)
	data, err := json.Marshal(sorted)
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint rules: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
