package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prom holds Prometheus instruments mirroring the live run state for the
// optional status listener. Instruments are registered on a private registry
// so repeated runs in one process never collide.
type Prom struct {
	Registry *prometheus.Registry

	ActiveVUs       prometheus.Gauge
	TargetVUs       prometheus.Gauge
	IterationsTotal prometheus.Counter
	ErrorsTotal     prometheus.Counter
	ChecksTotal     *prometheus.CounterVec
	RequestDuration prometheus.Histogram
}

// NewProm creates and registers all run instruments.
func NewProm() *Prom {
	reg := prometheus.NewRegistry()
	p := &Prom{
		Registry: reg,
		ActiveVUs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "botsurge_active_vus",
			Help: "Currently running virtual users",
		}),
		TargetVUs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "botsurge_target_vus",
			Help: "Scheduler target virtual users",
		}),
		IterationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botsurge_iterations_total",
			Help: "Total iterations executed",
		}),
		ErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botsurge_errors_total",
			Help: "Total failed iterations",
		}),
		ChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botsurge_checks_total",
			Help: "Check outcomes",
		}, []string{"check", "result"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "botsurge_request_duration_seconds",
			Help:    "Request round-trip time",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
	reg.MustRegister(p.ActiveVUs, p.TargetVUs, p.IterationsTotal, p.ErrorsTotal, p.ChecksTotal, p.RequestDuration)
	return p
}
