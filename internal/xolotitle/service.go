// Package xolotitle implements the Title entity lifecycle:
// create, update (attribute diff against Catalog/Fleet, requirement
// transitions), and delete (cascading version teardown oldest-to-newest).
package xolotitle

import (
	"context"
	"log/slog"
	"time"

	"github.com/xolohq/xolo/internal/catalog"
	"github.com/xolohq/xolo/internal/changelog"
	"github.com/xolohq/xolo/internal/fleet"
	"github.com/xolohq/xolo/internal/lockmgr"
	"github.com/xolohq/xolo/internal/progress"
	"github.com/xolohq/xolo/internal/store"
	"github.com/xolohq/xolo/internal/watch"
	"github.com/xolohq/xolo/internal/xolo"
	"github.com/xolohq/xolo/internal/xolometrics"
	"github.com/xolohq/xolo/internal/xoloversion"
)

// Service wires everything a title workflow needs, including a
// xoloversion.Service so Title.delete can cascade into each version's own
// teardown without duplicating that logic.
type Service struct {
	Store     *store.Store
	Changelog *changelog.Manager
	Locks     *lockmgr.Manager
	Catalog   catalog.Client
	Fleet     fleet.Client
	Watchers  *watch.Registry
	Versions  *xoloversion.Service
	Metrics   *xolometrics.WorkflowMetrics
	Logger    *slog.Logger

	ObjectPrefix string
	LockTimeout  time.Duration
}

// New builds a Service. logger may be nil (defaults to slog.Default()).
func New(
	st *store.Store,
	cl *changelog.Manager,
	locks *lockmgr.Manager,
	cat catalog.Client,
	flt fleet.Client,
	watchers *watch.Registry,
	versions *xoloversion.Service,
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
		Versions:     versions,
		Metrics:      metrics,
		Logger:       logger,
		ObjectPrefix: objectPrefix,
		LockTimeout:  lockTimeout,
	}
}

func (s *Service) acquireTitleLock(ctx context.Context, slug string) (string, func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.LockTimeout)
	defer cancel()
	key := lockmgr.Key(slug, "")
	token, err := s.Locks.Acquire(lockCtx, lockmgr.KindTitle, key)
	if err != nil {
		return "", nil, err
	}
	return token, func() { s.Locks.Release(lockmgr.KindTitle, key, token) }, nil
}

func (s *Service) observe(workflow, outcome string, start time.Time) {
	if s.Metrics == nil {
		return
	}
	s.Metrics.WorkflowsTotal.WithLabelValues(workflow, outcome).Inc()
	s.Metrics.WorkflowDuration.WithLabelValues(workflow, outcome).Observe(time.Since(start).Seconds())
}

func report(r progress.Reporter, format string, args ...interface{}) {
	if r == nil {
		return
	}
	progress.Progressf(r, format, args...)
}

func objName(prefix, slug, suffix string) string {
	return xolo.ObjectName(prefix, slug, suffix)
}
