package pool

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors a Pool reports through.
// Grounded on aipilotbyjd-linkflow-ai's internal/platform/metrics
// construction style: one struct of named vectors, built and
// registered once per process.
type Metrics struct {
	UnitsDispatched *prometheus.CounterVec
	UnitsCompleted  *prometheus.CounterVec
	UnitsFailed     *prometheus.CounterVec
	UnitDuration    *prometheus.HistogramVec
	BusyWorkers     *prometheus.GaugeVec
}

// NewMetrics builds and registers the pool's collectors against reg.
// Passing a fresh *prometheus.Registry per Pool keeps tests and
// multiple in-process pools from colliding on global registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UnitsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grove_batch",
			Name:      "units_dispatched_total",
			Help:      "Total number of work units handed to a worker goroutine.",
		}, []string{"job_id"}),
		UnitsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grove_batch",
			Name:      "units_completed_total",
			Help:      "Total number of work units that finished successfully.",
		}, []string{"job_id"}),
		UnitsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grove_batch",
			Name:      "units_failed_total",
			Help:      "Total number of work units that exhausted their retries.",
		}, []string{"job_id", "reason"}),
		UnitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "grove_batch",
			Name:      "unit_duration_seconds",
			Help:      "Wall time of a single agent subprocess invocation.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"job_id"}),
		BusyWorkers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "grove_batch",
			Name:      "busy_workers",
			Help:      "Number of worker goroutines currently running a unit.",
		}, []string{"job_id"}),
	}
	reg.MustRegister(m.UnitsDispatched, m.UnitsCompleted, m.UnitsFailed, m.UnitDuration, m.BusyWorkers)
	return m
}
