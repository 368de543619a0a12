// Package pkgdeletion implements the process-wide bounded worker pool that
// serializes Fleet package deletions. Deletions are
// minute-scale, so submissions return immediately and the actual work runs
// on a small fixed set of goroutines draining a buffered job queue.
package pkgdeletion

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xolohq/xolo/internal/fleet"
	"github.com/xolohq/xolo/internal/xolometrics"
)

// dequeueTimeout bounds a single deletion call against Fleet.
const dequeueTimeout = 10 * time.Minute

// Job is one queued package deletion.
type Job struct {
	TitleSlug string
	Version   string
	PackageID string
}

// Pool is the single process-wide deletion worker pool.
type Pool struct {
	client  fleet.Client
	logger  *slog.Logger
	metrics *xolometrics.WorkflowMetrics

	jobs chan Job
	wg   sync.WaitGroup

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Pool with the given worker count and queue depth, and
// starts its workers. Admins submitting a deletion while the queue is full
// are told (via Submit's bool return) to wait or watch alerts before
// reusing a package name.
func New(workers, queueSize int, client fleet.Client, logger *slog.Logger, metrics *xolometrics.WorkflowMetrics) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	p := &Pool{
		client:  client,
		logger:  logger,
		metrics: metrics,
		jobs:    make(chan Job, queueSize),
		stopCh:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Submit enqueues a package deletion. Returns false if the queue is full —
// callers should surface this as "try again shortly" rather than block the
// request path — submissions return immediately.
func (p *Pool) Submit(job Job) bool {
	select {
	case p.jobs <- job:
		if p.metrics != nil {
			p.metrics.DeletionQueueDepth.Set(float64(len(p.jobs)))
		}
		return true
	default:
		return false
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.process(job)
			if p.metrics != nil {
				p.metrics.DeletionQueueDepth.Set(float64(len(p.jobs)))
			}
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) process(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), dequeueTimeout)
	defer cancel()

	if err := p.client.DeletePackage(ctx, job.PackageID); err != nil {
		p.logger.Error("package deletion failed", "title", job.TitleSlug, "version", job.Version, "package_id", job.PackageID, "error", err, "alert", true)
		if p.metrics != nil {
			p.metrics.DeletionsTotal.WithLabelValues("failure").Inc()
		}
		return
	}
	p.logger.Info("package deleted", "title", job.TitleSlug, "version", job.Version, "package_id", job.PackageID)
	if p.metrics != nil {
		p.metrics.DeletionsTotal.WithLabelValues("success").Inc()
	}
}

// Shutdown drains in-flight and queued jobs, bounded by ctx's deadline,
// then force-terminates the workers.
func (p *Pool) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		close(p.jobs) // no more jobs accepted; workers drain what remains
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("package deletion pool force-terminated before queue drained")
		p.stopOnce.Do(func() { close(p.stopCh) })
	}
}
