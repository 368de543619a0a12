package xoloversion

import (
	"context"
	"time"

	"github.com/xolohq/xolo/internal/fleet"
	"github.com/xolohq/xolo/internal/progress"
	"github.com/xolohq/xolo/internal/xolo"
)

const workflowVersionUpdate = "version_update"

// Update edits a version: diff, persist, then push
// the changed attributes to Catalog (capabilities, killapps) and Fleet
// (auto-install policy scope, reboot flag on both install policies). A
// min_os change reaches Catalog only; the Fleet package object is not
// updated.
func (s *Service) Update(ctx context.Context, admin, host string, in *xolo.Version, prog progress.Reporter) (*xolo.Version, error) {
	start := time.Now()

	release, err := s.acquireBoth(ctx, in.Title, in.Version)
	if err != nil {
		s.observe(workflowVersionUpdate, "lock_timeout", start)
		return nil, err
	}
	defer release()

	current, err := s.Store.LoadVersion(in.Title, in.Version)
	if err != nil {
		s.observe(workflowVersionUpdate, "error", start)
		return nil, err
	}
	title, err := s.Store.LoadTitle(in.Title)
	if err != nil {
		s.observe(workflowVersionUpdate, "error", start)
		return nil, err
	}

	in.AdoptServerFields(current)

	changes := xolo.Diff(current, in)
	if len(changes) == 0 {
		s.Logger.Info("version update: no changes", "title", in.Title, "version", in.Version)
		s.observe(workflowVersionUpdate, "noop", start)
		return current, nil
	}

	for _, c := range changes {
		if err := s.Changelog.Append(in.Title, xolo.ChangelogEntry{
			Admin: admin, Host: host, Version: in.Version,
			Attrib: c.Attrib, Old: c.Old, New: c.New,
		}); err != nil {
			s.Logger.Warn("changelog append failed during version update", "title", in.Title, "version", in.Version, "error", err)
		}
	}

	changed := make(map[string]bool, len(changes))
	for _, c := range changes {
		changed[c.Attrib] = true
	}

	if err := s.Store.SaveVersion(in); err != nil {
		s.observe(workflowVersionUpdate, "error", start)
		return nil, s.markUpdateFailed(in.Title, in.Version, admin, host, err)
	}

	report(prog, "pushing changes for %s/%s to catalog", in.Title, in.Version)
	if changed["min_os"] || changed["max_os"] {
		if err := s.Catalog.SetPatchCapabilities(ctx, in.Title, in.Version, in.MinOS, in.MaxOS); err != nil {
			s.observe(workflowVersionUpdate, "error", start)
			return nil, s.markUpdateFailed(in.Title, in.Version, admin, host, err)
		}
	}
	if changed["killapps"] {
		if err := s.Catalog.SetPatchKillApps(ctx, in.Title, in.Version, in.KillApps); err != nil {
			s.observe(workflowVersionUpdate, "error", start)
			return nil, s.markUpdateFailed(in.Title, in.Version, admin, host, err)
		}
	}

	report(prog, "pushing changes for %s/%s to fleet", in.Title, in.Version)
	if changed["pilot_groups"] {
		if err := s.pushAutoScope(ctx, title, in); err != nil {
			s.observe(workflowVersionUpdate, "error", start)
			return nil, s.markUpdateFailed(in.Title, in.Version, admin, host, err)
		}
	}
	if changed["reboot_required"] {
		if in.FleetManualPolicyID != "" {
			rr := in.RebootRequired
			if err := s.Fleet.UpdatePolicy(ctx, in.FleetManualPolicyID, fleet.PolicyUpdate{RebootRequired: &rr}); err != nil {
				s.observe(workflowVersionUpdate, "error", start)
				return nil, s.markUpdateFailed(in.Title, in.Version, admin, host, err)
			}
		}
		if in.FleetAutoPolicyID != "" {
			rr := in.RebootRequired
			if err := s.Fleet.UpdatePolicy(ctx, in.FleetAutoPolicyID, fleet.PolicyUpdate{RebootRequired: &rr}); err != nil {
				s.observe(workflowVersionUpdate, "error", start)
				return nil, s.markUpdateFailed(in.Title, in.Version, admin, host, err)
			}
		}
	}

	report(prog, "version %s/%s updated", in.Title, in.Version)
	s.observe(workflowVersionUpdate, "success", start)
	return in, nil
}

// markUpdateFailed appends the failure marker after change entries have
// already been written, then passes the error through.
func (s *Service) markUpdateFailed(slug, version, admin, host string, cause error) error {
	if err := s.Changelog.Append(slug, xolo.ChangelogEntry{
		Admin: admin, Host: host, Version: version, Message: "UPDATE FAILED: " + cause.Error(),
	}); err != nil {
		s.Logger.Warn("changelog failure marker append failed", "title", slug, "version", version, "error", err)
	}
	return cause
}

// pushAutoScope rebuilds the auto-install policy's target scope from the
// version's (possibly just-overridden) effective pilot groups.
func (s *Service) pushAutoScope(ctx context.Context, title *xolo.Title, v *xolo.Version) error {
	if v.FleetAutoPolicyID == "" {
		return nil
	}
	scope := fleet.Scope{
		TargetGroupIDs:   append(append([]string{}, v.EffectivePilotGroups(title)...), title.FleetInstalledGroupID),
		ExcludedGroupIDs: append([]string{title.FleetFrozenGroupID}, title.ExcludedGroups...),
	}
	return s.Fleet.UpdatePolicy(ctx, v.FleetAutoPolicyID, fleet.PolicyUpdate{Scope: &scope})
}
