package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConflictMetrics tracks conflict detection and resolution.
//
// Metrics:
//   - rulegate_conflicts_total: detected conflicts by kind
//   - rulegate_resolutions_total: resolutions by requested and applied strategy
type ConflictMetrics struct {
	conflictsTotal   *prometheus.CounterVec
	resolutionsTotal *prometheus.CounterVec
}

// NewConflictMetrics creates and registers conflict metrics.
func NewConflictMetrics(namespace string, registry *prometheus.Registry) *ConflictMetrics {
	cm := &ConflictMetrics{
		conflictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conflicts_total",
				Help:      "Total number of detected rule conflicts",
			},
			[]string{"kind"},
		),
		resolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Total number of conflict resolutions",
			},
			[]string{"requested", "applied"},
		),
	}

	registry.MustRegister(cm.conflictsTotal, cm.resolutionsTotal)
	return cm
}

// RecordConflict records a detected conflict.
func (cm *ConflictMetrics) RecordConflict(kind string) {
	cm.conflictsTotal.WithLabelValues(kind).Inc()
}

// RecordResolution records a resolution.
func (cm *ConflictMetrics) RecordResolution(requested, applied string) {
	cm.resolutionsTotal.WithLabelValues(requested, applied).Inc()
}
