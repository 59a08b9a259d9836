package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instrumentation for the scheduler's worker
// pool: one CounterVec labelled by job name and outcome (done, retried,
// failed) and a HistogramVec for duration,
// registered once at construction.
type Metrics struct {
	jobsProcessedTotal *prometheus.CounterVec
	jobDurationSeconds *prometheus.HistogramVec
}

// NewMetrics registers the scheduler's metrics against reg. Pass
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() in tests to avoid duplicate-registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		jobsProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nexusknowledge",
				Subsystem: "scheduler",
				Name:      "jobs_processed_total",
				Help:      "Total jobs processed by job name and outcome (done, retried, failed)",
			},
			[]string{"job_name", "outcome"},
		),
		jobDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "nexusknowledge",
				Subsystem: "scheduler",
				Name:      "job_duration_seconds",
				Help:      "Job handler execution duration in seconds by job name",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"job_name"},
		),
	}
}

// NewNoopMetrics returns a Metrics backed by its own private registry, used
// when the caller doesn't want scheduler metrics exported (tests, the CLI).
func NewNoopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// IncJobsProcessed records one job outcome.
func (m *Metrics) IncJobsProcessed(jobName, outcome string) {
	if m == nil {
		return
	}
	m.jobsProcessedTotal.WithLabelValues(jobName, outcome).Inc()
}

// ObserveJobDuration records handler execution time.
func (m *Metrics) ObserveJobDuration(jobName string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDurationSeconds.WithLabelValues(jobName).Observe(d.Seconds())
}
