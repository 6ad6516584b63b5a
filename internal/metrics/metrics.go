// Package metrics exposes Prometheus instrumentation for explorer operations
// and the connection pool. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pgscope"

// Outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// PoolStats is a snapshot of connection pool state.
type PoolStats struct {
	AcquiredConns     int32
	IdleConns         int32
	TotalConns        int32
	MaxConns          int32
	EmptyAcquireCount int64
}

// Metrics owns a private registry so multiple explorers (and tests) never
// collide on the global one.
type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	rows       *prometheus.HistogramVec
	rejections *prometheus.CounterVec
	errors     *prometheus.CounterVec
}

// New creates the collectors and registers them, plus the Go runtime and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Explorer operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Wall-clock duration of explorer operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		rows: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rows_returned",
			Help:      "Rows returned per operation.",
			Buckets:   []float64{0, 1, 10, 50, 100, 500, 1000},
		}, []string{"operation"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "statement_rejections_total",
			Help:      "Caller statements refused before execution, by reason.",
		}, []string{"reason"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Operation errors by kind.",
		}, []string{"operation", "kind"}),
	}
	m.registry.MustRegister(
		m.operations, m.duration, m.rows, m.rejections, m.errors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveOperation records one finished operation. rows < 0 skips the row
// histogram.
func (m *Metrics) ObserveOperation(operation, outcome string, d time.Duration, rows int) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(d.Seconds())
	if rows >= 0 {
		m.rows.WithLabelValues(operation).Observe(float64(rows))
	}
}

// ObserveError counts a failed operation by error kind.
func (m *Metrics) ObserveError(operation, kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(operation, kind).Inc()
}

// StatementRejected counts a statement refused by the guard.
func (m *Metrics) StatementRejected(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

// RegisterPool exports pool gauges read from stat on every scrape.
func (m *Metrics) RegisterPool(stat func() PoolStats) {
	if m == nil {
		return
	}
	gauge := func(name, help string, read func(PoolStats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return read(stat()) })
	}
	m.registry.MustRegister(
		gauge("acquired_conns", "Connections currently checked out.", func(s PoolStats) float64 { return float64(s.AcquiredConns) }),
		gauge("idle_conns", "Idle connections.", func(s PoolStats) float64 { return float64(s.IdleConns) }),
		gauge("total_conns", "Open connections.", func(s PoolStats) float64 { return float64(s.TotalConns) }),
		gauge("max_conns", "Configured pool size.", func(s PoolStats) float64 { return float64(s.MaxConns) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "empty_acquire_total",
			Help:      "Acquires that had to wait for a connection.",
		}, func() float64 { return float64(stat().EmptyAcquireCount) }),
	)
}
