package metrics

import "github.com/prometheus/client_golang/prometheus"

// AdaptationMetrics tracks the feedback and adaptation store.
//
// Metrics:
//   - rulegate_adaptation_transitions_total: rule state changes by from and to state
//   - rulegate_adaptation_signals_dropped_total: signals lost to a full queue
//   - rulegate_snapshot_version: rule snapshot version being served
type AdaptationMetrics struct {
	transitionsTotal *prometheus.CounterVec
	signalsDropped   prometheus.Counter
	snapshotVersion  prometheus.Gauge
}

// NewAdaptationMetrics creates and registers adaptation metrics.
func NewAdaptationMetrics(namespace string, registry *prometheus.Registry) *AdaptationMetrics {
	am := &AdaptationMetrics{
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "adaptation_transitions_total",
				Help:      "Total number of adaptation state transitions",
			},
			[]string{"from", "to"},
		),
		signalsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "adaptation_signals_dropped_total",
				Help:      "Total number of feedback signals dropped because the queue was full",
			},
		),
		snapshotVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "snapshot_version",
				Help:      "Version of the rule snapshot currently served",
			},
		),
	}

	registry.MustRegister(am.transitionsTotal, am.signalsDropped, am.snapshotVersion)
	return am
}

// RecordTransition records a state transition.
func (am *AdaptationMetrics) RecordTransition(from, to string) {
	am.transitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordDropped records a dropped signal.
func (am *AdaptationMetrics) RecordDropped() {
	am.signalsDropped.Inc()
}

// SetSnapshotVersion sets the served snapshot version.
func (am *AdaptationMetrics) SetSnapshotVersion(version uint64) {
	am.snapshotVersion.Set(float64(version))
}
