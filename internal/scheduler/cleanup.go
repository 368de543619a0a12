package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/xolohq/xolo/internal/store"
	"github.com/xolohq/xolo/internal/xolo"
	"github.com/xolohq/xolo/internal/xolotitle"
	"github.com/xolohq/xolo/internal/xoloversion"
)

// cleanupActor attributes changelog entries the cleanup cycle writes
// through xolotitle/xoloversion's normal workflow paths.
const cleanupActor = "scheduler"

// CleanupConfig carries the cleanup workflow's own tunables, as opposed
// to Config's ticker/gate settings.
type CleanupConfig struct {
	DeprecatedLifetimeDays int
	KeepSkippedVersions    bool
	PilotNotifyAfterDays   int
}

// Cleanup implements the body of the POST /maint/cleanup-internal handler:
// auto-accept outstanding EAs, delete stale deprecated/skipped versions,
// and once a month warn title owners about long-pilot versions. It is
// invoked over loopback by Scheduler.runCleanup, but exposed standalone so
// the HTTP handler and any ad-hoc admin trigger share one code path.
type Cleanup struct {
	Store    *store.Store
	Titles   *xolotitle.Service
	Versions *xoloversion.Service
	Config   CleanupConfig
	Logger   *slog.Logger
	clock    Clock
}

// NewCleanup builds a Cleanup. logger may be nil.
func NewCleanup(st *store.Store, titles *xolotitle.Service, versions *xoloversion.Service, cfg CleanupConfig, logger *slog.Logger) *Cleanup {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleanup{Store: st, Titles: titles, Versions: versions, Config: cfg, Logger: logger, clock: time.Now}
}

// Run executes one cleanup cycle over every title on disk. It does not
// stop on a single title's error — it logs and continues, so one bad
// title can't starve the rest of cleanup.
func (c *Cleanup) Run(ctx context.Context) error {
	slugs, err := c.Store.EnumerateTitles()
	if err != nil {
		return err
	}

	now := c.clock()
	notifyMonth := now.Day() == 1

	for _, slug := range slugs {
		title, err := c.Store.LoadTitle(slug)
		if err != nil {
			c.Logger.Error("cleanup: failed to load title", "title", slug, "error", err)
			continue
		}

		if err := c.autoAcceptEA(ctx, title); err != nil {
			c.Logger.Error("cleanup: EA auto-accept failed", "title", slug, "error", err)
		}

		if err := c.sweepVersions(ctx, title); err != nil {
			c.Logger.Error("cleanup: version sweep failed", "title", slug, "error", err)
		}

		if notifyMonth {
			c.notifyStalePilot(title, now)
		}
	}
	return nil
}

// autoAcceptEA auto-accepts outstanding EAs: a
// title with a normal EA whose acceptance is still pending gets it
// accepted unconditionally, the same action the EA-acceptance watcher
// performs when a human hasn't done so within its own budget.
func (c *Cleanup) autoAcceptEA(ctx context.Context, title *xolo.Title) error {
	if title.FleetNormalEAID == "" {
		return nil
	}
	status, err := c.Titles.Fleet.EAAcceptanceStatus(ctx, title.Slug)
	if err != nil {
		return err
	}
	if status.Accepted {
		return nil
	}
	return c.Titles.Fleet.AcceptEA(ctx, title.Slug)
}

// sweepVersions deletes deprecated versions older than
// DeprecatedLifetimeDays (a value <= 0 disables this) and skipped versions
// unless KeepSkippedVersions is set.
func (c *Cleanup) sweepVersions(ctx context.Context, title *xolo.Title) error {
	for _, version := range append([]string{}, title.VersionOrder...) {
		v, err := c.Store.LoadVersion(title.Slug, version)
		if err != nil {
			c.Logger.Error("cleanup: failed to load version", "title", title.Slug, "version", version, "error", err)
			continue
		}

		switch v.State {
		case xolo.StateDeprecated:
			if c.Config.DeprecatedLifetimeDays <= 0 || v.DeprecatedAt == nil {
				continue
			}
			age := c.clock().Sub(*v.DeprecatedAt)
			if age < time.Duration(c.Config.DeprecatedLifetimeDays)*24*time.Hour {
				continue
			}
		case xolo.StateSkipped:
			if c.Config.KeepSkippedVersions {
				continue
			}
		default:
			continue
		}

		c.Logger.Info("cleanup: deleting stale version", "title", title.Slug, "version", version, "state", v.State)
		if err := c.Versions.Delete(ctx, cleanupActor, "loopback", title.Slug, version, nil); err != nil {
			return err
		}
	}
	return nil
}

// notifyStalePilot issues the monthly unreleased-pilot
// notice: if the newest version has sat in pilot longer than
// PilotNotifyAfterDays, log a notice addressed to the title's contact.
// Xolo has no mail transport in its dependency stack, so this is the
// terminal action; wiring an SMTP sender is a deployment-specific
// extension left to the operator's log pipeline.
func (c *Cleanup) notifyStalePilot(title *xolo.Title, now time.Time) {
	if len(title.VersionOrder) == 0 || title.Contact == "" || c.Config.PilotNotifyAfterDays <= 0 {
		return
	}
	newest := title.VersionOrder[0]
	v, err := c.Store.LoadVersion(title.Slug, newest)
	if err != nil {
		c.Logger.Error("cleanup: failed to load newest version for pilot notice", "title", title.Slug, "error", err)
		return
	}
	if v.State != xolo.StatePilot {
		return
	}
	age := now.Sub(v.CreatedAt)
	if age < time.Duration(c.Config.PilotNotifyAfterDays)*24*time.Hour {
		return
	}
	c.Logger.Warn("unreleased pilot notice",
		"title", title.Slug, "version", newest, "contact", title.Contact,
		"pilot_days", int(age.Hours()/24))
}
