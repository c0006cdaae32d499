package build

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks build outcomes for the /metrics endpoint.
type Metrics struct {
	buildsTotal   prometheus.Counter
	buildFailures prometheus.Counter
	buildDuration prometheus.Histogram
}

// NewMetrics registers the build metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		buildsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devloop_builds_total",
			Help: "Number of bundler invocations.",
		}),
		buildFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devloop_build_failures_total",
			Help: "Number of bundler invocations that reported errors.",
		}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "devloop_build_duration_seconds",
			Help:    "Bundler invocation duration.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
	reg.MustRegister(m.buildsTotal, m.buildFailures, m.buildDuration)
	return m
}

func (m *Metrics) observeBuild(d time.Duration) {
	if m == nil {
		return
	}
	m.buildsTotal.Inc()
	m.buildDuration.Observe(d.Seconds())
}

func (m *Metrics) buildFailed() {
	if m == nil {
		return
	}
	m.buildFailures.Inc()
}
