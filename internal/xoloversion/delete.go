package xoloversion

import (
	"context"
	"time"

	"github.com/xolohq/xolo/internal/lockmgr"
	"github.com/xolohq/xolo/internal/pkgdeletion"
	"github.com/xolohq/xolo/internal/progress"
	"github.com/xolohq/xolo/internal/xolo"
)

const workflowVersionDelete = "version_delete"

// Delete tears a version down: disable and delete the
// patch policy, delete the install policies, hand the (slow) package
// deletion off to the pool, delete the Catalog patch, then remove the
// version from the title's order.
//
// Callers already holding the title lock (e.g. Title.delete's cascade)
// should use DeleteLocked instead to avoid re-acquiring it.
func (s *Service) Delete(ctx context.Context, admin, host, slug, version string, prog progress.Reporter) error {
	start := time.Now()
	release, err := s.acquireBoth(ctx, slug, version)
	if err != nil {
		s.observe(workflowVersionDelete, "lock_timeout", start)
		return err
	}
	defer release()

	title, err := s.Store.LoadTitle(slug)
	if err != nil {
		s.observe(workflowVersionDelete, "error", start)
		return err
	}
	if err := s.deleteLocked(ctx, admin, host, title, version, prog); err != nil {
		s.observe(workflowVersionDelete, "error", start)
		return err
	}
	s.observe(workflowVersionDelete, "success", start)
	return nil
}

// DeleteLocked performs the same teardown as Delete but assumes the caller
// already holds the title lock; it takes the (slug, version) lock itself —
// used by Title.delete's cascade, which must never lock the same title twice.
func (s *Service) DeleteLocked(ctx context.Context, admin, host string, title *xolo.Title, version string, prog progress.Reporter) error {
	versionKey := lockmgr.Key(title.Slug, version)
	token, err := s.Locks.Acquire(ctx, lockmgr.KindVersion, versionKey)
	if err != nil {
		return err
	}
	defer s.Locks.Release(lockmgr.KindVersion, versionKey, token)
	return s.deleteLocked(ctx, admin, host, title, version, prog)
}

func (s *Service) deleteLocked(ctx context.Context, admin, host string, title *xolo.Title, version string, prog progress.Reporter) error {
	v, err := s.Store.LoadVersion(title.Slug, version)
	if err != nil {
		return err
	}

	report(prog, "tearing down fleet policies for %s/%s", title.Slug, version)
	if v.FleetPatchPolicyID != "" {
		_ = s.Fleet.DisablePolicy(ctx, v.FleetPatchPolicyID)
		if err := s.Fleet.DeletePolicy(ctx, v.FleetPatchPolicyID); err != nil {
			return err
		}
	}
	if v.FleetManualPolicyID != "" {
		if err := s.Fleet.DeletePolicy(ctx, v.FleetManualPolicyID); err != nil {
			return err
		}
	}
	if v.FleetAutoPolicyID != "" {
		if err := s.Fleet.DeletePolicy(ctx, v.FleetAutoPolicyID); err != nil {
			return err
		}
	}

	if v.FleetPackageID != "" {
		if !s.Deletions.Submit(pkgdeletion.Job{TitleSlug: title.Slug, Version: version, PackageID: v.FleetPackageID}) {
			s.Logger.Warn("package deletion queue full, caller should retry", "title", title.Slug, "version", version)
		}
	}

	report(prog, "deleting catalog patch %s/%s", title.Slug, version)
	if v.CatalogPatchID != "" {
		if err := s.Catalog.DeletePatch(ctx, title.Slug, version); err != nil {
			return err
		}
	}

	title.RemoveVersion(version)
	if title.ReleasedVersion == version {
		title.ReleasedVersion = ""
	}
	if err := s.Store.SaveTitle(title); err != nil {
		return err
	}
	if err := s.Store.DeleteVersion(title.Slug, version); err != nil {
		return err
	}

	if err := s.Changelog.Append(title.Slug, xolo.ChangelogEntry{
		Admin: admin, Host: host, Version: version, Message: "Version " + version + " deleted",
	}); err != nil {
		s.Logger.Warn("changelog append failed after version delete", "title", title.Slug, "version", version, "error", err)
	}

	report(prog, "version %s/%s deleted", title.Slug, version)
	return nil
}
