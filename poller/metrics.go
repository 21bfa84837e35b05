package poller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "memsql_top"

// Failure reasons.
const (
	reasonFetch  = "fetch"
	reasonMemory = "memory"
	reasonSchema = "schema"
)

// Metrics describes the poller's own behaviour.
type Metrics struct {
	Cycles   prometheus.Counter
	Failures *prometheus.CounterVec
	Duration prometheus.Histogram
	Entities prometheus.Gauge
}

// NewMetrics registers the poller metrics with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Cycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "cycles_total",
			Help:      "Number of packets published.",
		}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "failures_total",
			Help:      "Number of failed poll cycles by reason.",
		}, []string{"reason"}),
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "cycle_duration_seconds",
			Help:      "Time spent fetching, diffing and publishing one cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		Entities: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "entities",
			Help:      "Entities in the last published packet.",
		}),
	}
}
