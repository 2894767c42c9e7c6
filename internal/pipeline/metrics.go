package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the retrieval pipeline.
// All fields are optional on the Pipeline: a nil Metrics disables recording,
// which keeps library use and most tests free of registry plumbing.
type Metrics struct {
	// retrievalsTotal counts completed retrieval runs, partitioned by
	// outcome: "selected", "fallback", or "empty".
	retrievalsTotal *prometheus.CounterVec

	// poolSize records the deduplicated candidate pool size per run.
	poolSize prometheus.Histogram

	// selectedCount records how many candidates made it into the context.
	selectedCount prometheus.Histogram

	// durationSeconds records the wall-clock duration of each retrieval run.
	durationSeconds prometheus.Histogram
}

// NewMetrics registers the retrieval instruments against reg.
// promauto.With(reg) keeps tests hermetic by avoiding the global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		retrievalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragkit",
			Subsystem: "retrieval",
			Name:      "runs_total",
			Help:      "Total number of retrieval runs completed, partitioned by outcome.",
		}, []string{"outcome"}),

		poolSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ragkit",
			Subsystem: "retrieval",
			Name:      "pool_size",
			Help:      "Deduplicated candidate pool size per retrieval run.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		}),

		selectedCount: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ragkit",
			Subsystem: "retrieval",
			Name:      "selected_count",
			Help:      "Number of candidates selected into the context per run.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 10},
		}),

		durationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ragkit",
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of retrieval runs.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}

// observe records one completed retrieval run. Safe on a nil receiver.
func (m *Metrics) observe(result *Result, seconds float64) {
	if m == nil {
		return
	}
	outcome := "selected"
	switch {
	case len(result.Pool) == 0:
		outcome = "empty"
	case result.Fallback:
		outcome = "fallback"
	}
	m.retrievalsTotal.WithLabelValues(outcome).Inc()
	m.poolSize.Observe(float64(len(result.Pool)))
	m.selectedCount.Observe(float64(len(result.Selected)))
	m.durationSeconds.Observe(seconds)
}
