// Package scheduler implements Xolo's single hourly timer:
// a cleanup gate evaluated every tick, optional Redis leader election when
// more than one replica is running, and a loopback HTTP call so cleanup
// runs through the same request/lock plumbing as any admin-triggered
// workflow.
package scheduler

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/xolohq/xolo/internal/lockmgr"
	"github.com/xolohq/xolo/internal/xolometrics"
)

// Clock abstracts "now" so tests can drive the cleanup gate deterministically.
type Clock func() time.Time

// Config governs the scheduler's gate and loopback call.
type Config struct {
	TickInterval           time.Duration
	CleanupHour            int
	MinHoursBetweenCleanup int

	// LoopbackURL is the server's own /maint/cleanup-internal endpoint
	// (e.g. "http://127.0.0.1:8080/maint/cleanup-internal").
	LoopbackURL   string
	InternalToken string

	// ClusterLock, when UseClusterLock is true, is the Redis-backed lock
	// replicas race to hold before running cleanup (xoloconfig
	// Profile == standard).
	UseClusterLock bool
	ClusterLock    *lockmgr.ClusterLock
}

// Scheduler owns the ticker goroutine. One instance runs per process;
// under ProfileStandard every replica runs one, and ClusterLock ensures
// only the leader actually executes cleanup on any given tick.
type Scheduler struct {
	cfg     Config
	client  *http.Client
	logger  *slog.Logger
	metrics *xolometrics.WorkflowMetrics
	clock   Clock

	mu           sync.Mutex
	lastRun      time.Time
	forceCh      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Scheduler. logger may be nil.
func New(cfg Config, metrics *xolometrics.WorkflowMetrics, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Hour
	}
	return &Scheduler{
		cfg:     cfg,
		client:  &http.Client{Timeout: 55 * time.Minute},
		logger:  logger,
		metrics: metrics,
		clock:   time.Now,
		forceCh: make(chan struct{}, 1),
	}
}

// Start begins the ticker goroutine.
func (s *Scheduler) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.loop()
}

// Stop cancels the ticker and waits for the current tick, if any, to finish.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cancel == nil {
		return
	}
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("scheduler shutdown timed out waiting for in-flight cleanup")
	}
}

// Force enqueues an immediate out-of-band cleanup tick (used by the admin
// "run cleanup now" affordance), bypassing the gate entirely.
func (s *Scheduler) Force() {
	select {
	case s.forceCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(false)
		case <-s.forceCh:
			s.tick(true)
		case <-s.ctx.Done():
			return
		}
	}
}

// tick evaluates the cleanup gate and, if it passes (or force is set),
// acquires cluster leadership (if configured) and runs cleanup.
func (s *Scheduler) tick(force bool) {
	now := s.clock()
	if !force && !s.gate(now) {
		if s.metrics != nil {
			s.metrics.SchedulerSkipped.Inc()
		}
		return
	}

	if s.cfg.UseClusterLock && s.cfg.ClusterLock != nil {
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		acquired, err := s.cfg.ClusterLock.Acquire(ctx)
		cancel()
		if err != nil {
			s.logger.Error("scheduler cluster lock acquire failed", "error", err)
			return
		}
		if !acquired {
			s.logger.Info("scheduler lost leader election, skipping this tick")
			if s.metrics != nil {
				s.metrics.SchedulerSkipped.Inc()
			}
			return
		}
		defer func() {
			releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer releaseCancel()
			if err := s.cfg.ClusterLock.Release(releaseCtx); err != nil {
				s.logger.Warn("scheduler cluster lock release failed", "error", err)
			}
		}()
	}

	s.runCleanup()

	s.mu.Lock()
	s.lastRun = now
	s.mu.Unlock()
}

// gate passes when the local clock hour equals CleanupHour and at least
// MinHoursBetweenCleanup have elapsed since the last run.
func (s *Scheduler) gate(now time.Time) bool {
	if now.Hour() != s.cfg.CleanupHour {
		return false
	}
	s.mu.Lock()
	last := s.lastRun
	s.mu.Unlock()
	if last.IsZero() {
		return true
	}
	minGap := time.Duration(s.cfg.MinHoursBetweenCleanup) * time.Hour
	return now.Sub(last) >= minGap
}

// runCleanup posts to the loopback cleanup endpoint so the work executes
// inside the same request/lock plumbing as any other workflow.
func (s *Scheduler) runCleanup() {
	start := time.Now()
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.cfg.LoopbackURL, bytes.NewReader(nil))
	if err != nil {
		s.recordRun("failure", start)
		s.logger.Error("scheduler failed to build cleanup request", "error", err)
		return
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.InternalToken)

	resp, err := s.client.Do(req)
	if err != nil {
		s.recordRun("failure", start)
		s.logger.Error("scheduler cleanup call failed", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		s.recordRun("failure", start)
		s.logger.Error("scheduler cleanup call returned non-2xx", "status", resp.StatusCode)
		return
	}

	s.recordRun("success", start)
	s.logger.Info("scheduler cleanup completed", "duration", time.Since(start))
}

func (s *Scheduler) recordRun(outcome string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.SchedulerRuns.WithLabelValues(outcome).Inc()
	s.metrics.WorkflowDuration.WithLabelValues("scheduler_cleanup", outcome).Observe(time.Since(start).Seconds())
}
