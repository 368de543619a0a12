// Package xolometrics is Xolo's Prometheus metrics surface: a namespaced
// singleton exposing category managers, lazily built on first access.
//
// Categories are Workflow (title/version lifecycle, release engine,
// watchers, scheduler), HTTP (admin API request metrics), Retry, and DB.
package xolometrics

import "sync"

const namespace = "xolo"

// Registry is the central handle for all of Xolo's Prometheus metrics.
// Use Default() to get the process-wide singleton.
type Registry struct {
	workflow     *WorkflowMetrics
	http         *HTTPMetrics
	retry        *RetryMetrics
	db           *DBMetrics
	workflowOnce sync.Once
	httpOnce     sync.Once
	retryOnce    sync.Once
	dbOnce       sync.Once
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide Registry singleton.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = &Registry{}
	})
	return defaultRegistry
}

// Workflow returns the title/version/release/watcher/scheduler metrics
// manager, building it on first access.
func (r *Registry) Workflow() *WorkflowMetrics {
	r.workflowOnce.Do(func() {
		r.workflow = newWorkflowMetrics(namespace)
	})
	return r.workflow
}

// HTTP returns the admin API request metrics manager.
func (r *Registry) HTTP() *HTTPMetrics {
	r.httpOnce.Do(func() {
		r.http = newHTTPMetrics(namespace, "http")
	})
	return r.http
}

// Retry returns the shared retry/backoff metrics manager, satisfying
// internal/xoloerr.MetricsRecorder.
func (r *Registry) Retry() *RetryMetrics {
	r.retryOnce.Do(func() {
		r.retry = newRetryMetrics(namespace)
	})
	return r.retry
}

// DB returns the audit-index storage metrics manager.
func (r *Registry) DB() *DBMetrics {
	r.dbOnce.Do(func() {
		r.db = newDBMetrics(namespace)
	})
	return r.db
}
