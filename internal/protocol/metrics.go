package protocol

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Invocation outcomes recorded by the metrics collector.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeFatal   = "fatal"
)

// Metrics records per-pattern invocation counts and durations. A nil
// *Metrics is a valid no-op collector.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the courier collectors on reg. Pass
// prometheus.DefaultRegisterer for the process-wide registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "courier",
			Name:      "requests_total",
			Help:      "Handled invocations by pattern and outcome.",
		}, []string{"pattern", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "courier",
			Name:      "request_duration_seconds",
			Help:      "Invocation duration from receipt to completion.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pattern"}),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}

func (m *Metrics) observe(pattern, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(pattern, outcome).Inc()
	m.duration.WithLabelValues(pattern).Observe(time.Since(started).Seconds())
}
