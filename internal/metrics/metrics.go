// Package metrics holds the Prometheus collectors shared by the cache and
// connection layers. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "customer_store"

// Cache operation results.
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultOK    = "ok"
	ResultError = "error"
	ResultSkip  = "skipped"
)

// Metrics groups the collectors registered for one process.
type Metrics struct {
	cacheOps   *prometheus.CounterVec
	connEvents *prometheus.CounterVec
	pool       *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg. A nil reg leaves them
// unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "operations_total",
			Help:      "Cache operations by operation and result.",
		}, []string{"op", "result"}),
		connEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "events_total",
			Help:      "Connection lifecycle events by type.",
		}, []string{"type"}),
		pool: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "connections",
			Help:      "Store connection pool statistics.",
		}, []string{"stat"}),
	}

	if reg != nil {
		reg.MustRegister(m.cacheOps, m.connEvents, m.pool)
	}
	return m
}

// CacheOp counts one cache operation.
func (m *Metrics) CacheOp(op, result string) {
	if m == nil {
		return
	}
	m.cacheOps.WithLabelValues(op, result).Inc()
}

// ConnectionEvent counts one lifecycle event.
func (m *Metrics) ConnectionEvent(eventType string) {
	if m == nil {
		return
	}
	m.connEvents.WithLabelValues(eventType).Inc()
}

// PoolStat sets one pool gauge.
func (m *Metrics) PoolStat(stat string, value float64) {
	if m == nil {
		return
	}
	m.pool.WithLabelValues(stat).Set(value)
}
