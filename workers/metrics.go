package workers

import "github.com/prometheus/client_golang/prometheus"

// Registry owns the Prometheus collectors for every worker created through
// it, in a private registry rather than the global default one, so that
// embedding the module in a larger program never collides with its own
// metrics.
type Registry struct {
	reg *prometheus.Registry
}

// NewRegistry creates an empty worker metrics registry.
func NewRegistry() *Registry {
	return &Registry{reg: prometheus.NewRegistry()}
}

// Gatherer exposes the underlying collector set for an HTTP /metrics
// handler (e.g. promhttp.HandlerFor).
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Metrics is one worker kind's counter/gauge set: jobs started, jobs
// cancelled before completion, and current queue depth (0 or 1, since
// Worker's submission queue is single-slot).
type Metrics struct {
	JobsStarted   prometheus.Counter
	JobsCancelled prometheus.Counter
	QueueDepth    prometheus.Gauge
}

// NewMetrics registers and returns the counter/gauge set for a worker kind
// named name (e.g. "search", "checksum").
func (r *Registry) NewMetrics(name string) *Metrics {
	labels := prometheus.Labels{"worker": name}
	m := &Metrics{
		JobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sqlitelydef", Subsystem: "worker",
			Name: "jobs_started_total", ConstLabels: labels,
		}),
		JobsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sqlitelydef", Subsystem: "worker",
			Name: "jobs_cancelled_total", ConstLabels: labels,
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sqlitelydef", Subsystem: "worker",
			Name: "queue_depth", ConstLabels: labels,
		}),
	}
	r.reg.MustRegister(m.JobsStarted, m.JobsCancelled, m.QueueDepth)
	return m
}
