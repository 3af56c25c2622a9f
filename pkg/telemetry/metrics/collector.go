package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/rulegate/pkg/config"
)

// DefaultMaxCategories bounds the distinct category label values.
const DefaultMaxCategories = 200

// Collector owns every rulegate metric and the registry they live in.
type Collector struct {
	enabled  bool
	registry *prometheus.Registry

	evaluation *EvaluationMetrics
	conflicts  *ConflictMetrics
	adaptation *AdaptationMetrics
	audit      *AuditMetrics

	categories *CardinalityLimiter
}

// NewCollector creates a collector and registers its metrics. If registry is
// nil a new one is created.
func NewCollector(cfg config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = config.DefaultMetricsNamespace
	}

	return &Collector{
		enabled:    cfg.IsEnabled(),
		registry:   registry,
		evaluation: NewEvaluationMetrics(namespace, registry),
		conflicts:  NewConflictMetrics(namespace, registry),
		adaptation: NewAdaptationMetrics(namespace, registry),
		audit:      NewAuditMetrics(namespace, registry),
		categories: NewCardinalityLimiter(DefaultMaxCategories),
	}
}

func (c *Collector) on() bool {
	return c != nil && c.enabled
}

// RecordEvaluation records a completed evaluation.
func (c *Collector) RecordEvaluation(valid bool, duration time.Duration) {
	if !c.on() {
		return
	}
	c.evaluation.RecordEvaluation(valid, duration)
}

// RecordAction records one enforcement action produced by the dispatcher.
func (c *Collector) RecordAction(tier, action, category string) {
	if !c.on() {
		return
	}
	if !c.categories.Allow(category) {
		category = "other"
	}
	c.evaluation.RecordAction(tier, action, category)
}

// RecordRuleError records a rule that could not be evaluated.
//
// Kinds: "malformed_rule", "classifier_timeout", "classifier_error"
func (c *Collector) RecordRuleError(kind string) {
	if !c.on() {
		return
	}
	c.evaluation.RecordRuleError(kind)
}

// RecordInvariantViolation records a resolution that tried to suppress a
// strict safety violation.
func (c *Collector) RecordInvariantViolation() {
	if !c.on() {
		return
	}
	c.evaluation.RecordInvariantViolation()
}

// RecordConflict records a detected conflict.
func (c *Collector) RecordConflict(kind string) {
	if !c.on() {
		return
	}
	c.conflicts.RecordConflict(kind)
}

// RecordResolution records how a conflict was resolved. Strategy is the
// strategy that produced the winners, which may differ from the one
// requested when a fallback happened.
func (c *Collector) RecordResolution(requested, applied string) {
	if !c.on() {
		return
	}
	c.conflicts.RecordResolution(requested, applied)
}

// AdaptationTransition records a rule state change in the adaptation store.
func (c *Collector) AdaptationTransition(from, to string) {
	if !c.on() {
		return
	}
	c.adaptation.RecordTransition(from, to)
}

// AdaptationSignalDropped records a feedback signal lost to a full queue.
func (c *Collector) AdaptationSignalDropped() {
	if !c.on() {
		return
	}
	c.adaptation.RecordDropped()
}

// SetSnapshotVersion reports the rule snapshot version being served.
func (c *Collector) SetSnapshotVersion(version uint64) {
	if !c.on() {
		return
	}
	c.adaptation.SetSnapshotVersion(version)
}

// RecordAuditWrite records the outcome of an audit batch write.
//
// Results: "success", "failure"
func (c *Collector) RecordAuditWrite(result string, events int) {
	if !c.on() {
		return
	}
	c.audit.RecordWrite(result, events)
}

// RecordAuditDropped records an audit event lost to a full queue.
func (c *Collector) RecordAuditDropped() {
	if !c.on() {
		return
	}
	c.audit.RecordDropped()
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// CardinalityLimiter bounds the number of distinct values a label may take.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter admitting maxCardinality values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value is already tracked or fits under the limit.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	_, exists := cl.current[value]
	cl.mu.RUnlock()
	if exists {
		return true
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[value]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[value] = struct{}{}
	return true
}

// Count returns the number of tracked values.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
