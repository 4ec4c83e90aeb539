// Package metrics holds the Prometheus metrics for the Lotus gateway.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for Lotus
type Metrics struct {
	queriesTotal    *prometheus.CounterVec
	queryDuration   *prometheus.HistogramVec
	queryErrors     *prometheus.CounterVec
	cacheHitsTotal  *prometheus.CounterVec
	cacheMissTotal  *prometheus.CounterVec
	preflightDenied *prometheus.CounterVec
	schemaLookups   *prometheus.CounterVec
}

// New creates and registers all Lotus metrics with reg; nil uses the
// default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		queriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lotus_queries_total",
				Help: "Total number of executed queries",
			},
			[]string{"backend", "cache_status"},
		),
		queryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lotus_query_duration_seconds",
				Help:    "Query latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"backend"},
		),
		queryErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lotus_query_errors_total",
				Help: "Total number of failed queries by error kind",
			},
			[]string{"backend", "kind"},
		),
		cacheHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lotus_cache_hits_total",
				Help: "Total number of result cache hits",
			},
			[]string{"backend"},
		),
		cacheMissTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lotus_cache_misses_total",
				Help: "Total number of result cache misses",
			},
			[]string{"backend"},
		),
		preflightDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lotus_preflight_denied_total",
				Help: "Total number of queries denied by preflight authorization",
			},
			[]string{"backend"},
		),
		schemaLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lotus_schema_lookups_total",
				Help: "Total number of schema introspection calls",
			},
			[]string{"backend", "operation"},
		),
	}
}

// RecordQuery records one finished query.
func (m *Metrics) RecordQuery(backend, cacheStatus string, duration time.Duration) {
	m.queriesTotal.WithLabelValues(backend, cacheStatus).Inc()
	m.queryDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordError records one failed query by error kind.
func (m *Metrics) RecordError(backend, kind string) {
	m.queryErrors.WithLabelValues(backend, kind).Inc()
}

// RecordCache records a cache outcome.
func (m *Metrics) RecordCache(backend string, hit bool) {
	if hit {
		m.cacheHitsTotal.WithLabelValues(backend).Inc()
		return
	}
	m.cacheMissTotal.WithLabelValues(backend).Inc()
}

// RecordPreflightDenied records a blocked query.
func (m *Metrics) RecordPreflightDenied(backend string) {
	m.preflightDenied.WithLabelValues(backend).Inc()
}

// RecordSchemaLookup records one introspection call.
func (m *Metrics) RecordSchemaLookup(backend, operation string) {
	m.schemaLookups.WithLabelValues(backend, operation).Inc()
}
