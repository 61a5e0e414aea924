// Package metrics implements collab.StatsCollector on top of Prometheus
// counters and gauges, the production sink for the routing worker's
// drop-reason and connection-lifecycle events (spec.md §7).
//
// Grounded on kubernetes-kubernetes's use of
// github.com/prometheus/client_golang: CounterVec/Counter/Gauge fields
// registered once at construction with a caller-supplied registry, the
// same shape this package follows.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"quicroute/internal/protocol"
)

// Collector is the Prometheus-backed collab.StatsCollector implementation.
type Collector struct {
	drops              *prometheus.CounterVec
	connectionsCreated prometheus.Counter
	connectionsClosed  prometheus.Counter
	connectionsActive  prometheus.Gauge
}

// New registers quicroute's metrics with reg and returns a Collector ready
// to pass to worker.New. Passing prometheus.NewRegistry() keeps tests free
// of the global default registry's cross-test state.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quicroute",
			Subsystem: "worker",
			Name:      "dropped_datagrams_total",
			Help:      "Datagrams the routing worker discarded, labeled by reason.",
		}, []string{"reason"}),
		connectionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quicroute",
			Subsystem: "worker",
			Name:      "connections_created_total",
			Help:      "Connections admitted by the routing worker.",
		}),
		connectionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quicroute",
			Subsystem: "worker",
			Name:      "connections_closed_total",
			Help:      "Connections torn down by the routing worker.",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quicroute",
			Subsystem: "worker",
			Name:      "connections_active",
			Help:      "Connections currently routable by the worker.",
		}),
	}
	reg.MustRegister(c.drops, c.connectionsCreated, c.connectionsClosed, c.connectionsActive)
	return c
}

// RecordDrop implements collab.StatsCollector.
func (c *Collector) RecordDrop(reason protocol.DropReason) {
	c.drops.WithLabelValues(string(reason)).Inc()
}

// ConnectionCreated implements collab.StatsCollector.
func (c *Collector) ConnectionCreated() {
	c.connectionsCreated.Inc()
	c.connectionsActive.Inc()
}

// ConnectionClosed implements collab.StatsCollector.
func (c *Collector) ConnectionClosed() {
	c.connectionsClosed.Inc()
	c.connectionsActive.Dec()
}
