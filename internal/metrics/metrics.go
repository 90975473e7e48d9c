// Package metrics exposes the Prometheus instrumentation for the job
// orchestrator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the orchestrator records into.
type Metrics struct {
	JobDuration     *prometheus.HistogramVec
	Submissions     prometheus.Counter
	Rejections      prometheus.Counter
	PoolAcquires    *prometheus.CounterVec
	ActiveJobs      prometheus.Gauge
	ProgressEvents  prometheus.Counter
	PersistFailures prometheus.Counter
}

// New registers the orchestrator's collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "verso",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of job executions by final status.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		}, []string{"status"}),
		Submissions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "verso",
			Subsystem: "jobs",
			Name:      "submissions_total",
			Help:      "Accepted job submissions.",
		}),
		Rejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "verso",
			Subsystem: "jobs",
			Name:      "rejections_total",
			Help:      "Submissions rejected by backpressure.",
		}),
		PoolAcquires: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "verso",
			Subsystem: "pools",
			Name:      "acquires_total",
			Help:      "Translation pool acquisitions by cache outcome.",
		}, []string{"outcome"}),
		ActiveJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "verso",
			Subsystem: "jobs",
			Name:      "active",
			Help:      "Jobs currently pending or running.",
		}),
		ProgressEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "verso",
			Subsystem: "jobs",
			Name:      "progress_events_total",
			Help:      "Progress events observed across all jobs.",
		}),
		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "verso",
			Subsystem: "store",
			Name:      "persist_failures_total",
			Help:      "Snapshot persists that returned an error.",
		}),
	}
}

// Default registers on the global Prometheus registry.
func Default() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// ObserveJobDuration records one finished execution.
func (m *Metrics) ObserveJobDuration(status string, d time.Duration) {
	m.JobDuration.WithLabelValues(status).Observe(d.Seconds())
}

// RecordPoolAcquire records a cache hit or miss.
func (m *Metrics) RecordPoolAcquire(isNew bool) {
	outcome := "hit"
	if isNew {
		outcome = "miss"
	}
	m.PoolAcquires.WithLabelValues(outcome).Inc()
}
