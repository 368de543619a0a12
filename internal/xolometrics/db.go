package xolometrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DBMetrics instruments internal/auditindex's SQLite and Postgres
// backends: operations/duration/errors counters plus connection-pool and
// backend-health gauges, shared by both backends as one facet.
type DBMetrics struct {
	operationsTotal    *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	errorsTotal        *prometheus.CounterVec
	healthStatus       *prometheus.GaugeVec
	connections        *prometheus.GaugeVec
	sqliteFileSizeByte prometheus.Gauge
}

func newDBMetrics(namespace string) *DBMetrics {
	return &DBMetrics{
		operationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit_index",
				Name:      "operations_total",
				Help:      "Total audit-index operations by operation, backend, and status.",
			},
			[]string{"operation", "backend", "status"},
		),
		operationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "audit_index",
				Name:      "operation_duration_seconds",
				Help:      "Audit-index operation latency.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "backend"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit_index",
				Name:      "errors_total",
				Help:      "Total audit-index errors by operation, backend, and error type.",
			},
			[]string{"operation", "backend", "error_type"},
		),
		healthStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "audit_index",
				Name:      "health_status",
				Help:      "Audit-index backend health (0=unhealthy, 1=healthy).",
			},
			[]string{"backend"},
		),
		connections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "audit_index",
				Name:      "connections",
				Help:      "Audit-index connection pool stats (Postgres only).",
			},
			[]string{"state"},
		),
		sqliteFileSizeByte: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "audit_index",
				Name:      "sqlite_file_size_bytes",
				Help:      "SQLite audit-index file size in bytes (lite profile only).",
			},
		),
	}
}

// RecordOperation records an operation's outcome and duration in one call;
// errType is only recorded (as an additional errors_total increment) when
// non-empty, letting callers skip error classification on the success path.
func (m *DBMetrics) RecordOperation(operation, backend, status string, duration time.Duration, errType string) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, backend, status).Inc()
	m.operationDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
	if errType != "" {
		m.errorsTotal.WithLabelValues(operation, backend, errType).Inc()
	}
}

// RecordHealthCheck sets the backend's current health gauge.
func (m *DBMetrics) RecordHealthCheck(backend string, healthy bool) {
	if m == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.healthStatus.WithLabelValues(backend).Set(v)
}

// SetConnectionStats reports the Postgres pool's current connection counts.
func (m *DBMetrics) SetConnectionStats(total, idle, inUse int32) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues("total").Set(float64(total))
	m.connections.WithLabelValues("idle").Set(float64(idle))
	m.connections.WithLabelValues("in_use").Set(float64(inUse))
}

// SetSQLiteFileSize reports the lite profile's on-disk index size.
func (m *DBMetrics) SetSQLiteFileSize(bytes int64) {
	if m == nil {
		return
	}
	m.sqliteFileSizeByte.Set(float64(bytes))
}
