package xolotitle

import (
	"context"
	"time"

	"github.com/xolohq/xolo/internal/progress"
)

const workflowTitleDelete = "title_delete"

// Delete tears a title down: cascade-delete every version
// oldest to newest (so Catalog never observes a re-release as newer
// versions disappear), tear down the title's Catalog/Fleet side-objects,
// finalize the changelog, and remove the on-disk directory.
func (s *Service) Delete(ctx context.Context, admin, host, slug string, prog progress.Reporter) error {
	start := time.Now()

	_, release, err := s.acquireTitleLock(ctx, slug)
	if err != nil {
		s.observe(workflowTitleDelete, "lock_timeout", start)
		return err
	}
	defer release()

	title, err := s.Store.LoadTitle(slug)
	if err != nil {
		s.observe(workflowTitleDelete, "error", start)
		return err
	}

	// VersionOrder is newest-first; cascade oldest to newest.
	order := append([]string{}, title.VersionOrder...)
	for i := len(order) - 1; i >= 0; i-- {
		version := order[i]
		report(prog, "deleting version %s/%s", slug, version)
		if err := s.Versions.DeleteLocked(ctx, admin, host, title, version, prog); err != nil {
			s.observe(workflowTitleDelete, "error", start)
			return err
		}
		// DeleteLocked reloaded and re-saved title internally; refresh our
		// copy so FleetInstalledGroupID etc. below reflect current state.
		title, err = s.Store.LoadTitle(slug)
		if err != nil {
			s.observe(workflowTitleDelete, "error", start)
			return err
		}
	}

	report(prog, "tearing down catalog/fleet objects for %s", slug)
	if title.CatalogTitleID != "" {
		if err := s.Catalog.DeleteTitle(ctx, slug); err != nil {
			s.observe(workflowTitleDelete, "error", start)
			return err
		}
	}
	if title.FleetPatchTitleID != "" {
		if err := s.Fleet.DeactivatePatchTitle(ctx, title.FleetPatchTitleID); err != nil {
			s.observe(workflowTitleDelete, "error", start)
			return err
		}
	}
	if title.FleetInstalledGroupID != "" {
		if err := s.Fleet.DeleteGroup(ctx, title.FleetInstalledGroupID); err != nil {
			s.observe(workflowTitleDelete, "error", start)
			return err
		}
	}
	if title.FleetFrozenGroupID != "" {
		if err := s.Fleet.DeleteGroup(ctx, title.FleetFrozenGroupID); err != nil {
			s.observe(workflowTitleDelete, "error", start)
			return err
		}
	}
	if title.FleetNormalEAID != "" {
		if err := s.Fleet.DeleteEA(ctx, title.FleetNormalEAID); err != nil {
			s.observe(workflowTitleDelete, "error", start)
			return err
		}
	}
	for _, policyID := range []string{title.FleetInstallLatestID, title.FleetUninstallPolicyID, title.FleetExpirePolicyID} {
		if policyID == "" {
			continue
		}
		if err := s.Fleet.DeletePolicy(ctx, policyID); err != nil {
			s.observe(workflowTitleDelete, "error", start)
			return err
		}
	}

	if err := s.Changelog.Finalize(slug, admin, host); err != nil {
		s.observe(workflowTitleDelete, "error", start)
		return err
	}
	if err := s.Store.DeleteTitleDir(slug); err != nil {
		s.observe(workflowTitleDelete, "error", start)
		return err
	}

	report(prog, "title %s deleted", slug)
	s.observe(workflowTitleDelete, "success", start)
	return nil
}
