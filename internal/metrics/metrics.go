// Package metrics exposes Prometheus instrumentation for sync runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/biobanking/blaze-sync/internal/sync"
)

// Metrics holds the collectors registered for one service instance.
type Metrics struct {
	entities     *prometheus.CounterVec
	runDuration  prometheus.Histogram
	runsTotal    *prometheus.CounterVec
	lastSuccess  prometheus.Gauge
	lastRunEpoch prometheus.Gauge
}

// New registers the service's collectors on the given registerer. Pass
// prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		entities: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "blazesync_entities_total",
			Help: "Synced entities by type and outcome.",
		}, []string{"entity", "outcome"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "blazesync_run_duration_seconds",
			Help:    "Wall-clock duration of sync runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "blazesync_runs_total",
			Help: "Completed sync runs by result.",
		}, []string{"result"}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "blazesync_last_run_success",
			Help: "Whether the most recent sync run succeeded (1) or not (0).",
		}),
		lastRunEpoch: factory.NewGauge(prometheus.GaugeOpts{
			Name: "blazesync_last_run_timestamp_seconds",
			Help: "Unix time of the most recent sync run.",
		}),
	}
}

// ObserveRun records the outcome of one finished sync run.
func (m *Metrics) ObserveRun(summary sync.Summary, duration time.Duration) {
	observe := func(entity string, c sync.Counts) {
		m.entities.WithLabelValues(entity, "processed").Add(float64(c.Processed))
		m.entities.WithLabelValues(entity, "failed").Add(float64(c.Failed))
		m.entities.WithLabelValues(entity, "skipped").Add(float64(c.Skipped))
	}
	observe("biobank", summary.Biobank)
	observe("collection", summary.Collections)
	observe("patient", summary.Patients)
	observe("specimen", summary.Specimens)
	observe("condition", summary.Conditions)

	m.runDuration.Observe(duration.Seconds())
	m.lastRunEpoch.Set(float64(summary.Timestamp.Unix()))
	if summary.Success {
		m.runsTotal.WithLabelValues("success").Inc()
		m.lastSuccess.Set(1)
	} else {
		m.runsTotal.WithLabelValues("failure").Inc()
		m.lastSuccess.Set(0)
	}
}
