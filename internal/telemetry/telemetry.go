// Package telemetry exposes pipeline-run metrics via a Prometheus
// registry, following the client_golang idiom used across the example
// pack (juju-juju wires its own prometheus.Collector into apiserver
// metrics; this package is the cascadeflow analogue: a small set of
// counters and gauges describing engine progress rather than
// hand-rolling a text exposition format).
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters and gauges one engine run reports.
type Metrics struct {
	MessagesPublished *prometheus.CounterVec
	StepWorkersIdle   *prometheus.GaugeVec
	QuiescenceTotal   prometheus.Counter
	Registry          *prometheus.Registry
}

// New constructs a Metrics bound to a fresh registry. Each Metrics
// instance should be registered exactly once per process; running
// multiple engines in one process should share an instance.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MessagesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cascadeflow_messages_published_total",
			Help: "Total messages published to a stream, labelled by stream name.",
		}, []string{"stream"}),
		StepWorkersIdle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cascadeflow_step_workers_idle",
			Help: "1 while the worker id in the step label is idle, 0 while it is active; one series per worker id, not summed per step.",
		}, []string{"step"}),
		QuiescenceTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cascadeflow_quiescence_total",
			Help: "Number of times the engine reached quiescence.",
		}),
		Registry: reg,
	}

	reg.MustRegister(m.MessagesPublished, m.StepWorkersIdle, m.QuiescenceTotal)
	return m
}
