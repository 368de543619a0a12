package xoloversion

import (
	"context"
	"time"

	"github.com/xolohq/xolo/internal/catalog"
	"github.com/xolohq/xolo/internal/fleet"
	"github.com/xolohq/xolo/internal/progress"
	"github.com/xolohq/xolo/internal/xolo"
	"github.com/xolohq/xolo/internal/xoloerr"
)

const workflowVersionCreate = "version_create"

// Create provisions a new version: a Catalog patch, a Fleet
// package object, manual-install and auto-install policies, then a
// background watcher that waits for Catalog to make the patch visible
// before creating the patch policy.
func (s *Service) Create(ctx context.Context, admin, host string, in *xolo.Version, prog progress.Reporter) (*xolo.Version, error) {
	start := time.Now()
	if err := in.Validate(); err != nil {
		s.observe(workflowVersionCreate, "invalid", start)
		return nil, err
	}

	release, err := s.acquireBoth(ctx, in.Title, in.Version)
	if err != nil {
		s.observe(workflowVersionCreate, "lock_timeout", start)
		return nil, err
	}
	defer release()

	title, err := s.Store.LoadTitle(in.Title)
	if err != nil {
		s.observe(workflowVersionCreate, "error", start)
		return nil, err
	}

	if title.VersionIndex(in.Version) != -1 {
		s.observe(workflowVersionCreate, "already_exists", start)
		return nil, xoloerr.AlreadyExistsf("version %s/%s already exists", in.Title, in.Version)
	}

	in.CreatedAt = time.Now().UTC()
	in.State = xolo.StatePending

	report(prog, "creating catalog patch %s/%s", in.Title, in.Version)
	req := xolo.RequirementOf(title)
	patchID, err := s.Catalog.CreatePatch(ctx, in.Title, catalog.PatchAttrs{
		Version:     in.Version,
		MinOS:       in.MinOS,
		MaxOS:       in.MaxOS,
		PublishDate: in.PublishDate.Format(time.RFC3339),
		Standalone:  in.Standalone,
	})
	if err != nil {
		s.observe(workflowVersionCreate, "error", start)
		return nil, err
	}
	in.CatalogPatchID = patchID

	if err := s.Catalog.SetPatchComponent(ctx, in.Title, in.Version, req); err != nil {
		s.observe(workflowVersionCreate, "error", start)
		return nil, err
	}
	if len(in.KillApps) > 0 {
		if err := s.Catalog.SetPatchKillApps(ctx, in.Title, in.Version, in.KillApps); err != nil {
			s.observe(workflowVersionCreate, "error", start)
			return nil, err
		}
	}

	report(prog, "provisioning fleet package and policies for %s/%s", in.Title, in.Version)
	pkg, err := s.Fleet.CreatePackage(ctx, fleet.PackageSpec{
		Filename:   xolo.ObjectName(s.ObjectPrefix, in.Title, in.Version),
		CategoryID: title.FleetCategoryID,
	})
	if err != nil {
		s.observe(workflowVersionCreate, "error", start)
		return nil, err
	}
	in.FleetPackageID = pkg.ID
	in.FleetPackageFilename = pkg.Filename

	if in.InstallerLocalPath != "" {
		if err := s.Fleet.UploadPackage(ctx, pkg.ID, in.InstallerLocalPath); err != nil {
			s.observe(workflowVersionCreate, "error", start)
			return nil, err
		}
	}

	manualScope := fleet.Scope{
		TargetGroupIDs:   nil, // "all targets" — empty target list with exclusions only
		ExcludedGroupIDs: append([]string{title.FleetFrozenGroupID}, title.ExcludedGroups...),
	}
	manualPolicyID, err := s.Fleet.CreatePolicy(ctx, fleet.PolicySpec{
		Name:      objName(s.ObjectPrefix, in.Title, xolo.SuffixManualInstall),
		Kind:      fleet.PolicyManualInstall,
		Scope:     manualScope,
		PackageID: pkg.ID,
		Enabled:   true,
		RebootRequired: in.RebootRequired,
		SelfService:    title.SelfService,
	})
	if err != nil {
		s.observe(workflowVersionCreate, "error", start)
		return nil, err
	}
	in.FleetManualPolicyID = manualPolicyID

	autoScope := fleet.Scope{
		TargetGroupIDs:   append(append([]string{}, in.EffectivePilotGroups(title)...), title.FleetInstalledGroupID),
		ExcludedGroupIDs: append([]string{title.FleetFrozenGroupID}, title.ExcludedGroups...),
	}
	autoPolicyID, err := s.Fleet.CreatePolicy(ctx, fleet.PolicySpec{
		Name:           objName(s.ObjectPrefix, in.Title, xolo.SuffixAutoInstall),
		Kind:           fleet.PolicyAutoInstall,
		Scope:          autoScope,
		PackageID:      pkg.ID,
		Enabled:        true,
		RebootRequired: in.RebootRequired,
	})
	if err != nil {
		s.observe(workflowVersionCreate, "error", start)
		return nil, err
	}
	in.FleetAutoPolicyID = autoPolicyID
	in.InstallerLocalPath = ""

	title.PrependVersion(in.Version)
	if err := s.Store.SaveTitle(title); err != nil {
		s.observe(workflowVersionCreate, "error", start)
		return nil, err
	}
	in.State = xolo.StatePilot
	if err := s.Store.SaveVersion(in); err != nil {
		s.observe(workflowVersionCreate, "error", start)
		return nil, err
	}

	if err := s.Changelog.Append(in.Title, xolo.ChangelogEntry{
		Admin:   admin,
		Host:    host,
		Version: in.Version,
		Message: "Version " + in.Version + " created",
	}); err != nil {
		s.Logger.Warn("changelog append failed after version create", "title", in.Title, "version", in.Version, "error", err)
	}

	s.startPatchVisibilityWatcher(title, in)

	report(prog, "version %s/%s created", in.Title, in.Version)
	s.observe(workflowVersionCreate, "success", start)
	return in, nil
}

// startPatchVisibilityWatcher begins the background visibility poller;
// re-entry for the same (title, version) is a no-op (watch.Registry's
// idempotence).
func (s *Service) startPatchVisibilityWatcher(title *xolo.Title, v *xolo.Version) {
	s.Watchers.StartPatchVisibility(
		context.Background(),
		v.Title, v.Version,
		func(ctx context.Context) (bool, error) {
			vis, err := s.Catalog.PatchVisibility(ctx, v.Title, v.Version)
			if err != nil {
				return false, err
			}
			return vis.Visible, nil
		},
		func(ctx context.Context) error {
			patchTitleID := title.FleetPatchTitleID
			if patchTitleID == "" {
				id, err := s.Fleet.ActivatePatchTitle(ctx, title.Slug, title.CatalogTitleID)
				if err != nil {
					return err
				}
				title.FleetPatchTitleID = id
				patchTitleID = id
				if err := s.Store.SaveTitle(title); err != nil {
					return err
				}
			}
			if err := s.Fleet.AssignPatchPackage(ctx, patchTitleID, v.Version, v.FleetPackageID); err != nil {
				return err
			}
			patchPolicyID, err := s.Fleet.CreatePolicy(ctx, fleet.PolicySpec{
				Name:      objName(s.ObjectPrefix, v.Title, "patch-"+v.Version),
				Kind:      fleet.PolicyPatch,
				Scope:     fleet.Scope{TargetGroupIDs: []string{title.FleetInstalledGroupID}, ExcludedGroupIDs: []string{title.FleetFrozenGroupID}},
				PackageID: v.FleetPackageID,
				Enabled:   false, // stays disabled until release() turns it on
			})
			if err != nil {
				return err
			}
			v.FleetPatchPolicyID = patchPolicyID
			return s.Store.SaveVersion(v)
		},
		func() {
			s.Logger.Error("patch visibility watcher timed out", "title", v.Title, "version", v.Version, "alert", true)
		},
	)
}
