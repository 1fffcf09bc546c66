package online

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Result label values.
const (
	resultOK       = "ok"
	resultError    = "error"
	resultCacheHit = "cache_hit"
)

// Metrics holds the fetch instrumentation.
type Metrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics creates the fetch metrics and registers them with reg, when given.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustval_fetch_requests_total",
				Help: "Total number of external trust data requests.",
			},
			[]string{"kind", "result"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trustval_fetch_duration_seconds",
				Help:    "Duration of external trust data requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.Duration)
	}
	return m
}

func (m *Metrics) observe(kind, result string, seconds float64) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(kind, result).Inc()
	if result != resultCacheHit {
		m.Duration.WithLabelValues(kind).Observe(seconds)
	}
}
