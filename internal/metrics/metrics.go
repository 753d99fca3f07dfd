// Package metrics exposes Prometheus counters for the pipeline and cache.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every counter the pipeline and serving layer emit.
type Metrics struct {
	RowsRead        *prometheus.CounterVec // table
	RowsQuarantined *prometheus.CounterVec // table, reason
	BuildsTotal     prometheus.Counter
	BuildsFailed    prometheus.Counter
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
}

// New registers all collectors on reg and returns them. Pass
// prometheus.NewRegistry() in tests to avoid global registry collisions.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RowsRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nutridex",
			Name:      "rows_read_total",
			Help:      "Source rows read, per table.",
		}, []string{"table"}),
		RowsQuarantined: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nutridex",
			Name:      "rows_quarantined_total",
			Help:      "Source rows excluded from the store, per table and reason.",
		}, []string{"table", "reason"}),
		BuildsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nutridex",
			Name:      "builds_total",
			Help:      "Completed pipeline rebuilds.",
		}),
		BuildsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nutridex",
			Name:      "builds_failed_total",
			Help:      "Pipeline rebuilds aborted before publish.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nutridex",
			Name:      "query_cache_hits_total",
			Help:      "Query cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nutridex",
			Name:      "query_cache_misses_total",
			Help:      "Query cache misses.",
		}),
	}
	reg.MustRegister(
		m.RowsRead, m.RowsQuarantined,
		m.BuildsTotal, m.BuildsFailed,
		m.CacheHits, m.CacheMisses,
	)
	return m
}

// Nop returns metrics backed by an unexported registry, for callers that
// do not scrape.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
