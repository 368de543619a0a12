package xolometrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RetryMetrics tracks retry/backoff behavior for any operation using
// internal/xoloerr.WithRetry — the Catalog/Fleet HTTP calls.
// It satisfies internal/xoloerr.MetricsRecorder.
type RetryMetrics struct {
	attemptsTotal      *prometheus.CounterVec
	durationSeconds    *prometheus.HistogramVec
	backoffSeconds     *prometheus.HistogramVec
	finalAttemptsTotal *prometheus.HistogramVec
}

func newRetryMetrics(namespace string) *RetryMetrics {
	return &RetryMetrics{
		attemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retry",
				Name:      "attempts_total",
				Help:      "Total retry attempts by operation, outcome, and error type.",
			},
			[]string{"operation", "outcome", "error_type"},
		),
		durationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "retry",
				Name:      "duration_seconds",
				Help:      "Duration of a single retry attempt.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"operation", "outcome"},
		),
		backoffSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "retry",
				Name:      "backoff_seconds",
				Help:      "Backoff delay applied before a retry attempt.",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.2, 0.5, 1, 2, 5},
			},
			[]string{"operation"},
		),
		finalAttemptsTotal: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "retry",
				Name:      "final_attempts_total",
				Help:      "Number of attempts made before final success, failure, or cancellation.",
				Buckets:   []float64{1, 2, 3, 4, 5, 10, 20},
			},
			[]string{"operation", "outcome"},
		),
	}
}

// RecordAttempt records a single attempt's outcome and duration.
func (m *RetryMetrics) RecordAttempt(operation, outcome, errorType string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(operation, outcome, errorType).Inc()
	m.durationSeconds.WithLabelValues(operation, outcome).Observe(durationSeconds)
}

// RecordBackoff records the delay applied before a retry.
func (m *RetryMetrics) RecordBackoff(operation string, delaySeconds float64) {
	if m == nil {
		return
	}
	m.backoffSeconds.WithLabelValues(operation).Observe(delaySeconds)
}

// RecordFinalAttempt records how many attempts an operation took to settle.
func (m *RetryMetrics) RecordFinalAttempt(operation, outcome string, attempts int) {
	if m == nil {
		return
	}
	m.finalAttemptsTotal.WithLabelValues(operation, outcome).Observe(float64(attempts))
}
