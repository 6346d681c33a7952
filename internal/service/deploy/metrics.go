package deploy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var durationBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200}

// Metrics counts pipeline outcomes and durations.
type Metrics struct {
	outcomes  *prometheus.CounterVec
	durations prometheus.Histogram
	queueKeys prometheus.GaugeFunc
}

// NewMetrics registers pipeline metrics, tolerating re-registration the
// way the rest of the service does.
func NewMetrics(queueLen func() int) *Metrics {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "filify",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Count of finished pipeline runs by outcome",
		}, []string{"outcome"}),
		durations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "filify",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of pipeline runs",
			Buckets:   durationBuckets,
		}),
		queueKeys: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "filify",
			Subsystem: "pipeline",
			Name:      "busy_projects",
			Help:      "Number of projects with a running or queued pipeline",
		}, func() float64 { return float64(queueLen()) }),
	}

	for _, collector := range []prometheus.Collector{m.outcomes, m.durations, m.queueKeys} {
		if err := prometheus.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch existing := already.ExistingCollector.(type) {
				case *prometheus.CounterVec:
					m.outcomes = existing
				case prometheus.Histogram:
					m.durations = existing
				}
			}
		}
	}
	return m
}

func (m *Metrics) observeRun(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
	m.durations.Observe(time.Since(started).Seconds())
}
