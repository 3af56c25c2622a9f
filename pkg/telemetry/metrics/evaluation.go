package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EvaluationMetrics tracks evaluation throughput and enforcement.
//
// Metrics:
//   - rulegate_evaluations_total: evaluations by validity
//   - rulegate_evaluation_duration_seconds: end-to-end evaluation duration
//   - rulegate_actions_total: enforcement actions by tier, action, and category
//   - rulegate_rule_errors_total: rules that failed to evaluate, by kind
//   - rulegate_invariant_violations_total: suppressed strict safety violations
type EvaluationMetrics struct {
	evaluationsTotal    *prometheus.CounterVec
	evaluationDuration  prometheus.Histogram
	actionsTotal        *prometheus.CounterVec
	ruleErrorsTotal     *prometheus.CounterVec
	invariantViolations prometheus.Counter
}

// NewEvaluationMetrics creates and registers evaluation metrics.
func NewEvaluationMetrics(namespace string, registry *prometheus.Registry) *EvaluationMetrics {
	em := &EvaluationMetrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Total number of content evaluations",
			},
			[]string{"valid"},
		),

		evaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of content evaluation in seconds",
				// 50µs to ~400ms
				Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
			},
		),

		actionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_total",
				Help:      "Total number of enforcement actions dispatched",
			},
			[]string{"tier", "action", "category"},
		),

		ruleErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_errors_total",
				Help:      "Total number of rules that failed to evaluate",
			},
			[]string{"kind"},
		),

		invariantViolations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invariant_violations_total",
				Help:      "Total number of resolutions that attempted to suppress a strict safety violation",
			},
		),
	}

	registry.MustRegister(
		em.evaluationsTotal,
		em.evaluationDuration,
		em.actionsTotal,
		em.ruleErrorsTotal,
		em.invariantViolations,
	)

	return em
}

// RecordEvaluation records a completed evaluation.
func (em *EvaluationMetrics) RecordEvaluation(valid bool, duration time.Duration) {
	em.evaluationsTotal.WithLabelValues(strconv.FormatBool(valid)).Inc()
	em.evaluationDuration.Observe(duration.Seconds())
}

// RecordAction records a dispatched action.
func (em *EvaluationMetrics) RecordAction(tier, action, category string) {
	em.actionsTotal.WithLabelValues(tier, action, category).Inc()
}

// RecordRuleError records a rule evaluation failure.
func (em *EvaluationMetrics) RecordRuleError(kind string) {
	em.ruleErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordInvariantViolation records a suppressed strict safety violation.
func (em *EvaluationMetrics) RecordInvariantViolation() {
	em.invariantViolations.Inc()
}
