// Package metrics provides Prometheus metrics for the rulegate engine.
//
// # Metrics Categories
//
//   - Evaluation: evaluation count and duration, rule errors, invariant breaches
//   - Dispatch: enforcement actions by tier, action, and category
//   - Conflicts: detected conflicts by kind and resolutions by strategy
//   - Adaptation: state transitions and dropped feedback signals
//   - Audit: recorded, dropped, and failed audit writes
//
// # Usage
//
//	collector := metrics.NewCollector(cfg.Telemetry.Metrics, prometheus.NewRegistry())
//	eng, err := engine.New(reg, engine.WithMetrics(collector))
//
// Every method is safe on a nil *Collector and on a disabled one, so callers
// never guard metric calls.
//
// # Cardinality
//
// Rule IDs are never used as labels. Categories are author-defined strings
// and are bounded by a cardinality limiter; label values past the limit are
// reported as "other".
package metrics
