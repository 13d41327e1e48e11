// ABOUTME: Prometheus metrics for scenario runs and verification outcomes.
// ABOUTME: Counters are labeled by scenario name and classification label.

package scenario

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts scenario runs and verification outcomes.
type Metrics struct {
	runs     *prometheus.CounterVec
	verdicts *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics builds the metric set and registers it on reg. A nil
// registerer leaves the metrics unregistered, which is what the tests
// want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "scenario",
			Name:      "runs_total",
			Help:      "Scenario runs by name.",
		}, []string{"scenario"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "scenario",
			Name:      "verdicts_total",
			Help:      "Verification verdict labels by scenario.",
		}, []string{"scenario", "label"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vigil",
			Subsystem: "scenario",
			Name:      "verification_duration_seconds",
			Help:      "Time spent in post-crash verification.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.verdicts, m.duration)
	}
	return m
}

func (m *Metrics) observeRun(scenario string, labels []Label, verifyTime time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(scenario).Inc()
	for _, l := range labels {
		m.verdicts.WithLabelValues(scenario, string(l)).Inc()
	}
	m.duration.Observe(verifyTime.Seconds())
}
