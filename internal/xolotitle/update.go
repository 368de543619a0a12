package xolotitle

import (
	"context"
	"time"

	"github.com/xolohq/xolo/internal/catalog"
	"github.com/xolohq/xolo/internal/fleet"
	"github.com/xolohq/xolo/internal/progress"
	"github.com/xolohq/xolo/internal/xolo"
)

const workflowTitleUpdate = "title_update"

// versionScopedAttribs are the Title attributes whose change requires a
// follow-up pass over every version's Fleet policies.
var versionScopedAttribs = map[string]bool{
	"pilot_groups":          true,
	"release_groups":        true,
	"excluded_groups":       true,
	"self_service":          true,
	"self_service_category": true,
	"icon_upload_id":        true,
}

// Update edits a title: diff against the stored
// title, append change entries before touching externals, mirror the
// change to Catalog, handle any requirement transition, rebuild Fleet
// objects as needed, then re-save and start the EA-acceptance watcher if
// the requirement moved to or within EA.
func (s *Service) Update(ctx context.Context, admin, host string, in *xolo.Title, prog progress.Reporter) (*xolo.Title, error) {
	start := time.Now()

	_, release, err := s.acquireTitleLock(ctx, in.Slug)
	if err != nil {
		s.observe(workflowTitleUpdate, "lock_timeout", start)
		return nil, err
	}
	defer release()

	current, err := s.Store.LoadTitle(in.Slug)
	if err != nil {
		s.observe(workflowTitleUpdate, "error", start)
		return nil, err
	}

	in.AdoptServerFields(current)

	changes := xolo.Diff(current, in)
	if len(changes) == 0 {
		s.Logger.Info("title update: no changes", "title", in.Slug)
		s.observe(workflowTitleUpdate, "noop", start)
		return current, nil
	}

	for _, c := range changes {
		if err := s.Changelog.Append(in.Slug, xolo.ChangelogEntry{
			Admin: admin, Host: host, Attrib: c.Attrib, Old: c.Old, New: c.New,
		}); err != nil {
			s.Logger.Warn("changelog append failed during title update", "title", in.Slug, "error", err)
		}
	}

	changed := make(map[string]bool, len(changes))
	for _, c := range changes {
		changed[c.Attrib] = true
	}

	report(prog, "pushing changes for %s to catalog", in.Slug)
	if changed["display_name"] || changed["publisher"] {
		patch := catalog.TitlePatch{}
		if changed["display_name"] {
			patch.DisplayName = &in.DisplayName
		}
		if changed["publisher"] {
			patch.Publisher = &in.Publisher
		}
		if err := s.Catalog.UpdateTitle(ctx, in.Slug, patch); err != nil {
			s.observe(workflowTitleUpdate, "error", start)
			return nil, s.markUpdateFailed(in.Slug, admin, host, err)
		}
	}

	before := xolo.RequirementOf(current)
	after := xolo.RequirementOf(in)
	transition := xolo.ClassifyTransition(before, after)

	if err := s.applyRequirementTransition(ctx, in, transition, before, after); err != nil {
		s.observe(workflowTitleUpdate, "error", start)
		return nil, s.markUpdateFailed(in.Slug, admin, host, err)
	}

	switch transition {
	case xolo.TransitionAppToEA, xolo.TransitionUpdateEA:
		if err := s.Store.WriteVersionScript(in.Slug, in.VersionScript); err != nil {
			s.observe(workflowTitleUpdate, "error", start)
			return nil, s.markUpdateFailed(in.Slug, admin, host, err)
		}
	case xolo.TransitionEAToApp:
		if err := s.Store.DeleteVersionScript(in.Slug); err != nil {
			s.observe(workflowTitleUpdate, "error", start)
			return nil, s.markUpdateFailed(in.Slug, admin, host, err)
		}
	}

	if err := s.syncTitlePolicies(ctx, in, changed); err != nil {
		s.observe(workflowTitleUpdate, "error", start)
		return nil, s.markUpdateFailed(in.Slug, admin, host, err)
	}

	if err := s.persistIcon(ctx, in); err != nil {
		s.observe(workflowTitleUpdate, "error", start)
		return nil, s.markUpdateFailed(in.Slug, admin, host, err)
	}

	versionTouched := false
	for attrib := range changed {
		if versionScopedAttribs[attrib] {
			versionTouched = true
			break
		}
	}
	if versionTouched {
		report(prog, "pushing version-scoped fleet changes for %s", in.Slug)
		if err := s.pushVersionScopedChanges(ctx, in); err != nil {
			s.observe(workflowTitleUpdate, "error", start)
			return nil, s.markUpdateFailed(in.Slug, admin, host, err)
		}
	}

	if err := s.Store.SaveTitle(in); err != nil {
		s.observe(workflowTitleUpdate, "error", start)
		return nil, s.markUpdateFailed(in.Slug, admin, host, err)
	}

	if transition == xolo.TransitionAppToEA || transition == xolo.TransitionUpdateEA {
		s.startEAAcceptanceWatcher(in)
	}

	report(prog, "title %s updated", in.Slug)
	s.observe(workflowTitleUpdate, "success", start)
	return in, nil
}

// markUpdateFailed appends the failure marker to the changelog after
// change entries have already been written, so the journal records that
// the listed changes did not fully land, then passes the error through.
func (s *Service) markUpdateFailed(slug, admin, host string, cause error) error {
	if err := s.Changelog.Append(slug, xolo.ChangelogEntry{
		Admin: admin, Host: host, Message: "UPDATE FAILED: " + cause.Error(),
	}); err != nil {
		s.Logger.Warn("changelog failure marker append failed", "title", slug, "error", err)
	}
	return cause
}

// applyRequirementTransition: for
// app_to_ea/ea_to_app it creates or deletes the normal EA, rewrites the
// installed-group criteria, and rewrites every version's patch component;
// update_app/update_ea just rewrites the component in place.
func (s *Service) applyRequirementTransition(ctx context.Context, t *xolo.Title, transition xolo.TransitionKind, before, after xolo.Requirement) error {
	if transition == xolo.TransitionNone {
		return nil
	}

	if err := s.Catalog.SetRequirement(ctx, t.Slug, after); err != nil {
		return err
	}

	normalEAName := objName(s.ObjectPrefix, t.Slug, xolo.SuffixNormalEA)

	switch transition {
	case xolo.TransitionAppToEA:
		eaID, err := s.Fleet.UpsertNormalEA(ctx, fleet.EACriteria{Name: normalEAName, Script: after.Script})
		if err != nil {
			return err
		}
		t.FleetNormalEAID = eaID
	case xolo.TransitionEAToApp:
		if t.FleetNormalEAID != "" {
			if err := s.Fleet.DeleteEA(ctx, t.FleetNormalEAID); err != nil {
				return err
			}
			t.FleetNormalEAID = ""
		}
	case xolo.TransitionUpdateEA:
		if t.FleetNormalEAID != "" {
			if _, err := s.Fleet.UpsertNormalEA(ctx, fleet.EACriteria{Name: normalEAName, Script: after.Script}); err != nil {
				return err
			}
		}
	}

	if transition == xolo.TransitionAppToEA || transition == xolo.TransitionEAToApp {
		criteria := fleet.InstalledGroupCriteria(after, normalEAName)
		if err := s.Fleet.UpdateGroupCriteria(ctx, t.FleetInstalledGroupID, criteria); err != nil {
			return err
		}
	}

	versions, err := s.Store.EnumerateVersions(t.Slug)
	if err != nil {
		return err
	}
	for _, version := range versions {
		if err := s.Catalog.SetPatchComponent(ctx, t.Slug, version, after); err != nil {
			return err
		}
	}
	return nil
}

// pushVersionScopedChanges re-derives each version's auto-install scope and
// self-service/icon-dependent manual-install settings after a title-level
// change to pilot/release/excluded groups, self-service, or the icon.
func (s *Service) pushVersionScopedChanges(ctx context.Context, t *xolo.Title) error {
	versions, err := s.Store.EnumerateVersions(t.Slug)
	if err != nil {
		return err
	}
	for _, version := range versions {
		v, err := s.Store.LoadVersion(t.Slug, version)
		if err != nil {
			return err
		}
		if v.FleetAutoPolicyID != "" {
			scope := fleet.Scope{
				TargetGroupIDs:   append(append([]string{}, v.EffectivePilotGroups(t)...), t.FleetInstalledGroupID),
				ExcludedGroupIDs: append([]string{t.FleetFrozenGroupID}, t.ExcludedGroups...),
			}
			if err := s.Fleet.UpdatePolicy(ctx, v.FleetAutoPolicyID, fleet.PolicyUpdate{Scope: &scope}); err != nil {
				return err
			}
		}
		if v.FleetManualPolicyID != "" && v.State == xolo.StateReleased {
			selfService := t.SelfService
			if err := s.Fleet.UpdatePolicy(ctx, v.FleetManualPolicyID, fleet.PolicyUpdate{SelfService: &selfService}); err != nil {
				return err
			}
		}
	}
	return nil
}

// startEAAcceptanceWatcher begins the EA-acceptance poller; idempotent
// per title via watch.Registry.
func (s *Service) startEAAcceptanceWatcher(t *xolo.Title) {
	s.Watchers.StartEAAcceptance(
		context.Background(),
		t.Slug,
		func(ctx context.Context) (bool, error) {
			status, err := s.Fleet.EAAcceptanceStatus(ctx, t.Slug)
			if err != nil {
				return false, err
			}
			return status.Accepted, nil
		},
		func(ctx context.Context) error {
			return s.Fleet.AcceptEA(ctx, t.Slug)
		},
		func() {
			s.Logger.Error("EA acceptance watcher timed out", "title", t.Slug, "alert", true)
		},
	)
}
