package metrics

import "github.com/prometheus/client_golang/prometheus"

// AuditMetrics tracks the dispatch audit trail.
//
// Metrics:
//   - rulegate_audit_writes_total: batch writes by result
//   - rulegate_audit_events_total: events written by result
//   - rulegate_audit_dropped_total: events lost to a full queue
type AuditMetrics struct {
	writesTotal  *prometheus.CounterVec
	eventsTotal  *prometheus.CounterVec
	droppedTotal prometheus.Counter
}

// NewAuditMetrics creates and registers audit metrics.
func NewAuditMetrics(namespace string, registry *prometheus.Registry) *AuditMetrics {
	am := &AuditMetrics{
		writesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_writes_total",
				Help:      "Total number of audit batch writes",
			},
			[]string{"result"},
		),
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_events_total",
				Help:      "Total number of audit events written",
			},
			[]string{"result"},
		),
		droppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_dropped_total",
				Help:      "Total number of audit events dropped because the queue was full",
			},
		),
	}

	registry.MustRegister(am.writesTotal, am.eventsTotal, am.droppedTotal)
	return am
}

// RecordWrite records a batch write.
func (am *AuditMetrics) RecordWrite(result string, events int) {
	am.writesTotal.WithLabelValues(result).Inc()
	am.eventsTotal.WithLabelValues(result).Add(float64(events))
}

// RecordDropped records a dropped event.
func (am *AuditMetrics) RecordDropped() {
	am.droppedTotal.Inc()
}
