// Package metrics exposes Prometheus collectors for the task queue and
// worker pool: queue depth by status, claim throughput, task outcome
// counts, and parse duration by backend.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/parsehaven/docforge/pkg/task"
)

// Registry bundles every collector this platform exposes under /metrics.
type Registry struct {
	QueueDepth         *prometheus.GaugeVec
	TasksClaimed       prometheus.Counter
	TasksCompleted     *prometheus.CounterVec
	ParseDuration      *prometheus.HistogramVec
	CircuitBreakerOpen *prometheus.GaugeVec
}

// NewRegistry registers every collector against reg and returns the bundle.
// Pass prometheus.NewRegistry() for isolated tests, or
// prometheus.DefaultRegisterer for a process-wide /metrics endpoint.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "docforge",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of tasks currently in each status.",
		}, []string{"status"}),
		TasksClaimed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "docforge",
			Subsystem: "worker",
			Name:      "tasks_claimed_total",
			Help:      "Total tasks claimed by any worker runtime.",
		}),
		TasksCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docforge",
			Subsystem: "worker",
			Name:      "tasks_finished_total",
			Help:      "Total tasks reaching a terminal status, labeled by outcome.",
		}, []string{"outcome", "backend"}),
		ParseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docforge",
			Subsystem: "worker",
			Name:      "parse_duration_seconds",
			Help:      "Wall-clock time spent inside an engine adapter's Parse call.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"backend"}),
		CircuitBreakerOpen: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "docforge",
			Subsystem: "worker",
			Name:      "circuit_breaker_open",
			Help:      "1 if the backend's circuit breaker is open, else 0.",
		}, []string{"backend"}),
	}
}

// ObserveStats pushes a Stats snapshot into the queue depth gauge; called
// periodically by the maintenance loop rather than per-request.
func (r *Registry) ObserveStats(s task.Stats) {
	r.QueueDepth.WithLabelValues("pending").Set(float64(s.Pending))
	r.QueueDepth.WithLabelValues("processing").Set(float64(s.Processing))
	r.QueueDepth.WithLabelValues("completed").Set(float64(s.Completed))
	r.QueueDepth.WithLabelValues("failed").Set(float64(s.Failed))
	r.QueueDepth.WithLabelValues("cancelled").Set(float64(s.Cancelled))
}

// RecordClaim increments the claim counter; called once per successful
// ClaimNext.
func (r *Registry) RecordClaim() {
	r.TasksClaimed.Inc()
}

// RecordOutcome increments the terminal-outcome counter for one task.
func (r *Registry) RecordOutcome(backend, outcome string) {
	r.TasksCompleted.WithLabelValues(outcome, backend).Inc()
}

// RecordParseDuration records how long one Parse call took, in seconds.
func (r *Registry) RecordParseDuration(backend string, seconds float64) {
	r.ParseDuration.WithLabelValues(backend).Observe(seconds)
}

// SetBreakerOpen records whether backend's circuit breaker is currently
// open (1) or not (0), for /metrics scraping and health composition.
func (r *Registry) SetBreakerOpen(backend string, open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	r.CircuitBreakerOpen.WithLabelValues(backend).Set(v)
}
