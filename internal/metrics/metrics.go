// Package metrics exposes transfer outcome counters. The counters are
// ambient instrumentation: no listener is started here, callers may
// register them with any Prometheus registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the per-kind transfer counters.
type Metrics struct {
	Pushed *prometheus.CounterVec
	Pulled *prometheus.CounterVec
	Errors *prometheus.CounterVec
}

// New creates the counters and registers them with reg. Pass
// prometheus.NewRegistry() in tests to avoid global registry
// collisions.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Pushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dxsync_artifacts_pushed_total",
			Help: "Artifacts successfully pushed, by kind.",
		}, []string{"kind"}),
		Pulled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dxsync_artifacts_pulled_total",
			Help: "Artifacts successfully pulled, by kind.",
		}, []string{"kind"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dxsync_transfer_errors_total",
			Help: "Per-item transfer failures, by kind and direction.",
		}, []string{"kind", "direction"}),
	}

	if reg != nil {
		reg.MustRegister(m.Pushed, m.Pulled, m.Errors)
	}

	return m
}

// RecordSuccess increments the success counter for a direction.
func (m *Metrics) RecordSuccess(kind, direction string) {
	if m == nil {
		return
	}

	if direction == "pushed" {
		m.Pushed.WithLabelValues(kind).Inc()
	} else {
		m.Pulled.WithLabelValues(kind).Inc()
	}
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(kind, direction string) {
	if m == nil {
		return
	}

	m.Errors.WithLabelValues(kind, direction).Inc()
}
