// Package watch implements Xolo's two bounded-time background watchers:
// the patch-visibility poller started after Version.create, and the
// EA-acceptance poller started after a title's requirement
// switches to or within EA. Both are idempotent — re-entering the workflow
// that would start one does not spawn a second watcher for the same key —
// and both give up with an alert-level log after their budget elapses.
package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xolohq/xolo/internal/xolometrics"
)

// Registry tracks one in-flight watcher per (kind, key), refusing a second
// start while the first is alive.
type Registry struct {
	mu      sync.Mutex
	active  map[string]context.CancelFunc
	wg      sync.WaitGroup
	metrics *xolometrics.WorkflowMetrics
	logger  *slog.Logger
}

// NewRegistry builds a Registry. metrics and logger may be nil.
func NewRegistry(metrics *xolometrics.WorkflowMetrics, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		active:  make(map[string]context.CancelFunc),
		metrics: metrics,
		logger:  logger,
	}
}

func registryKey(kind, key string) string { return kind + ":" + key }

// PollFunc is one poll attempt. It returns (done, err): done==true stops
// the watcher successfully; a non-nil err is logged but does not stop
// polling (the next tick retries) unless the budget is exhausted.
type PollFunc func(ctx context.Context) (done bool, err error)

// Start begins a bounded-time poller for (kind, key) unless one is
// already running, in which case it returns false immediately. The watcher
// polls every interval, up to budget total, and calls onTimeout if the
// budget elapses without poll reporting done.
func (r *Registry) Start(parent context.Context, kind, key string, interval, budget time.Duration, poll PollFunc, onTimeout func()) bool {
	regKey := registryKey(kind, key)

	r.mu.Lock()
	if _, running := r.active[regKey]; running {
		r.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithTimeout(detach(parent), budget)
	r.active[regKey] = cancel
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.WatchersActive.WithLabelValues(kind).Inc()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		defer func() {
			r.mu.Lock()
			delete(r.active, regKey)
			r.mu.Unlock()
			if r.metrics != nil {
				r.metrics.WatchersActive.WithLabelValues(kind).Dec()
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				done, err := poll(ctx)
				if err != nil {
					r.logger.Warn("watcher poll failed, will retry", "watcher", kind, "key", key, "error", err)
					continue
				}
				if done {
					r.logger.Info("watcher completed", "watcher", kind, "key", key)
					r.observe(kind, "completed")
					return
				}
			case <-ctx.Done():
				r.logger.Error("watcher exceeded its budget, abandoning", "watcher", kind, "key", key, "budget", budget, "alert", true)
				r.observe(kind, "timeout")
				if onTimeout != nil {
					onTimeout()
				}
				return
			}
		}
	}()
	return true
}

func (r *Registry) observe(kind, outcome string) {
	if r.metrics != nil {
		r.metrics.WatcherOutcomes.WithLabelValues(kind, outcome).Inc()
	}
}

// Active reports whether a watcher is currently running for (kind, key).
func (r *Registry) Active(kind, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, running := r.active[registryKey(kind, key)]
	return running
}

// Shutdown cancels every running watcher and waits (bounded by ctx) for
// them to exit, so shutdown can await every watcher before completing.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	for _, cancel := range r.active {
		cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("watch registry shutdown timed out waiting for watchers")
	}
}

// detach strips parent's cancellation so a watcher outlives the HTTP
// request that started it, while still inheriting request-scoped values
// (e.g. a trace id) — only Done()/Err() are severed.
func detach(parent context.Context) context.Context {
	return detachedContext{parent}
}

type detachedContext struct{ context.Context }

func (detachedContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (detachedContext) Done() <-chan struct{}       { return nil }
func (detachedContext) Err() error                  { return nil }
