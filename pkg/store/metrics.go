package store

import (
	"github.com/prometheus/client_golang/prometheus"
)

// storeMetrics holds the per-store prometheus collectors. Each store owns its
// own registry so several stores can live in one process (tests do this).
type storeMetrics struct {
	registry *prometheus.Registry
	puts     *prometheus.CounterVec
	deletes  *prometheus.CounterVec
	events   *prometheus.CounterVec
}

func newStoreMetrics() *storeMetrics {
	m := &storeMetrics{
		registry: prometheus.NewRegistry(),
		puts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "libfritter_store_puts_total",
			Help: "Record writes committed, per table.",
		}, []string{"table"}),
		deletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "libfritter_store_deletes_total",
			Help: "Record deletes committed, per table.",
		}, []string{"table"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "libfritter_store_events_total",
			Help: "Change events emitted, per table.",
		}, []string{"table"}),
	}
	m.registry.MustRegister(m.puts, m.deletes, m.events)
	return m
}

// Registry exposes the store's prometheus registry so embedders can mount or
// scrape it.
func (s *Store) Registry() *prometheus.Registry {
	return s.metrics.registry
}
