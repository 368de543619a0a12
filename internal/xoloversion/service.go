// Package xoloversion implements the Version entity lifecycle: create,
// update, delete, and the release state machine that moves a version
// through pending -> pilot -> released/deprecated/skipped.
package xoloversion

import (
	"context"
	"log/slog"
	"time"

	"github.com/xolohq/xolo/internal/catalog"
	"github.com/xolohq/xolo/internal/changelog"
	"github.com/xolohq/xolo/internal/fleet"
	"github.com/xolohq/xolo/internal/lockmgr"
	"github.com/xolohq/xolo/internal/pkgdeletion"
	"github.com/xolohq/xolo/internal/progress"
	"github.com/xolohq/xolo/internal/store"
	"github.com/xolohq/xolo/internal/watch"
	"github.com/xolohq/xolo/internal/xolo"
	"github.com/xolohq/xolo/internal/xolometrics"
)

// Service wires everything a version workflow needs. Every exported method
// is safe to call concurrently for different (title, version) pairs; the
// Manager fields it holds serialize conflicting work themselves.
type Service struct {
	Store      *store.Store
	Changelog  *changelog.Manager
	Locks      *lockmgr.Manager
	Catalog    catalog.Client
	Fleet      fleet.Client
	Watchers   *watch.Registry
	Deletions  *pkgdeletion.Pool
	Metrics    *xolometrics.WorkflowMetrics
	Logger     *slog.Logger

	// ObjectPrefix namespaces Fleet/Catalog object names (xolo.ObjectName).
	ObjectPrefix string

	// LockTimeout bounds how long Acquire waits before giving up with a
	// xoloerr.Timeout (xoloconfig LockConfig.AcquireTimeout).
	LockTimeout time.Duration
}

// New builds a Service. logger may be nil (defaults to slog.Default()).
func New(
	st *store.Store,
	cl *changelog.Manager,
	locks *lockmgr.Manager,
	cat catalog.Client,
	flt fleet.Client,
	watchers *watch.Registry,
	deletions *pkgdeletion.Pool,
	metrics *xolometrics.WorkflowMetrics,
	logger *slog.Logger,
	objectPrefix string,
	lockTimeout time.Duration,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Store:        st,
		Changelog:    cl,
		Locks:        locks,
		Catalog:      cat,
		Fleet:        flt,
		Watchers:     watchers,
		Deletions:    deletions,
		Metrics:      metrics,
		Logger:       logger,
		ObjectPrefix: objectPrefix,
		LockTimeout:  lockTimeout,
	}
}

// acquireBoth locks title then version, in that order, returning a
// release func that unlocks both in reverse order. ctx governs both
// Acquire calls together via LockTimeout.
func (s *Service) acquireBoth(ctx context.Context, slug, version string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.LockTimeout)
	defer cancel()

	titleKey := lockmgr.Key(slug, "")
	titleToken, err := s.Locks.Acquire(lockCtx, lockmgr.KindTitle, titleKey)
	if err != nil {
		return nil, err
	}

	versionKey := lockmgr.Key(slug, version)
	versionToken, err := s.Locks.Acquire(lockCtx, lockmgr.KindVersion, versionKey)
	if err != nil {
		s.Locks.Release(lockmgr.KindTitle, titleKey, titleToken)
		return nil, err
	}

	return func() {
		s.Locks.Release(lockmgr.KindVersion, versionKey, versionToken)
		s.Locks.Release(lockmgr.KindTitle, titleKey, titleToken)
	}, nil
}

func (s *Service) observe(workflow, outcome string, start time.Time) {
	if s.Metrics == nil {
		return
	}
	s.Metrics.WorkflowsTotal.WithLabelValues(workflow, outcome).Inc()
	s.Metrics.WorkflowDuration.WithLabelValues(workflow, outcome).Observe(time.Since(start).Seconds())
}

// report is a nil-safe progress.Progressf.
func report(r progress.Reporter, format string, args ...interface{}) {
	if r == nil {
		return
	}
	progress.Progressf(r, format, args...)
}

func objName(prefix, slug, suffix string) string {
	return xolo.ObjectName(prefix, slug, suffix)
}
