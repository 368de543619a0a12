package xolometrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WorkflowMetrics covers every long-running server-side operation:
// lock acquisition, title/version workflows, the
// release state machine, background watchers, the deletion pool, and the
// nightly scheduler.
type WorkflowMetrics struct {
	LockWaitSeconds    *prometheus.HistogramVec
	LockHeldSeconds    *prometheus.HistogramVec
	LockTimeoutsTotal  *prometheus.CounterVec
	WorkflowDuration   *prometheus.HistogramVec
	WorkflowsTotal     *prometheus.CounterVec
	ReleaseTransitions *prometheus.CounterVec
	WatcherOutcomes    *prometheus.CounterVec
	WatchersActive     *prometheus.GaugeVec
	SchedulerRuns      *prometheus.CounterVec
	SchedulerSkipped   prometheus.Counter
	DeletionQueueDepth prometheus.Gauge
	DeletionsTotal     *prometheus.CounterVec
	ChangelogAppends   *prometheus.CounterVec
}

func newWorkflowMetrics(namespace string) *WorkflowMetrics {
	return &WorkflowMetrics{
		LockWaitSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "lock",
				Name:      "wait_seconds",
				Help:      "Time spent waiting to acquire a title or version lock.",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"entity_kind"},
		),
		LockHeldSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "lock",
				Name:      "held_seconds",
				Help:      "Time a title or version lock was held before release.",
				Buckets:   []float64{0.01, 0.1, 1, 10, 60, 300, 1800, 3600},
			},
			[]string{"entity_kind"},
		),
		LockTimeoutsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lock",
				Name:      "timeouts_total",
				Help:      "Lock acquisitions that gave up after AcquireTimeout.",
			},
			[]string{"entity_kind"},
		),
		WorkflowDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "workflow",
				Name:      "duration_seconds",
				Help:      "Duration of a title/version workflow from request to completion.",
				Buckets:   []float64{0.01, 0.1, 1, 5, 30, 60, 300, 1800},
			},
			[]string{"workflow", "outcome"},
		),
		WorkflowsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "workflow",
				Name:      "total",
				Help:      "Workflows started, labeled by kind and final outcome.",
			},
			[]string{"workflow", "outcome"},
		),
		ReleaseTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "release",
				Name:      "transitions_total",
				Help:      "Release state machine transitions, labeled by from/to state.",
			},
			[]string{"from", "to"},
		),
		WatcherOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "watch",
				Name:      "outcomes_total",
				Help:      "Background watcher terminations, labeled by watcher kind and outcome.",
			},
			[]string{"watcher", "outcome"},
		),
		WatchersActive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "watch",
				Name:      "active",
				Help:      "Currently running background watchers by kind.",
			},
			[]string{"watcher"},
		),
		SchedulerRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "runs_total",
				Help:      "Scheduler cleanup cycles run, labeled by outcome.",
			},
			[]string{"outcome"},
		),
		SchedulerSkipped: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "skipped_total",
				Help:      "Scheduler ticks that did not run cleanup (gate not satisfied or lost leader election).",
			},
		),
		DeletionQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pkgdeletion",
				Name:      "queue_depth",
				Help:      "Number of Fleet package deletions currently queued.",
			},
		),
		DeletionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pkgdeletion",
				Name:      "total",
				Help:      "Fleet package deletions processed, labeled by outcome.",
			},
			[]string{"outcome"},
		),
		ChangelogAppends: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "changelog",
				Name:      "appends_total",
				Help:      "Changelog entries appended, labeled by title slug's action kind.",
			},
			[]string{"action"},
		),
	}
}

// ObserveWait records how long an Acquire call waited before succeeding.
// Satisfies internal/lockmgr's lockMetricsRecorder interface.
func (m *WorkflowMetrics) ObserveWait(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.LockWaitSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveHeld records how long a lock was held before release.
func (m *WorkflowMetrics) ObserveHeld(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.LockHeldSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

// IncTimeout records an Acquire call that gave up waiting.
func (m *WorkflowMetrics) IncTimeout(kind string) {
	if m == nil {
		return
	}
	m.LockTimeoutsTotal.WithLabelValues(kind).Inc()
}

// IncAppend records a changelog append, labeled by a coarse action kind.
// Satisfies internal/changelog's appendMetrics interface.
func (m *WorkflowMetrics) IncAppend(action string) {
	if m == nil {
		return
	}
	m.ChangelogAppends.WithLabelValues(action).Inc()
}
