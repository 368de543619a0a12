package xoloversion

import (
	"context"
	"time"

	"github.com/xolohq/xolo/internal/fleet"
	"github.com/xolohq/xolo/internal/lockmgr"
	"github.com/xolohq/xolo/internal/progress"
	"github.com/xolohq/xolo/internal/xolo"
	"github.com/xolohq/xolo/internal/xoloerr"
)

const workflowRelease = "release"

// Release implements the release state machine: release(V)
// iterates every version of the title, oldest first, so no intermediate
// state has two versions simultaneously marked released. target must
// already exist in title.VersionOrder.
func (s *Service) Release(ctx context.Context, admin, host, slug, target string, prog progress.Reporter) (*xolo.Title, error) {
	start := time.Now()

	lockCtx, cancel := context.WithTimeout(ctx, s.LockTimeout)
	titleKey := lockmgr.Key(slug, "")
	titleToken, err := s.Locks.Acquire(lockCtx, lockmgr.KindTitle, titleKey)
	cancel()
	if err != nil {
		s.observe(workflowRelease, "lock_timeout", start)
		return nil, err
	}
	defer s.Locks.Release(lockmgr.KindTitle, titleKey, titleToken)

	title, err := s.Store.LoadTitle(slug)
	if err != nil {
		s.observe(workflowRelease, "error", start)
		return nil, err
	}
	if title.VersionIndex(target) == -1 {
		s.observe(workflowRelease, "not_found", start)
		return nil, xoloerr.NotFoundf("version %s/%s not found", slug, target)
	}
	if title.ReleasedVersion == target {
		s.observe(workflowRelease, "invalid", start)
		return nil, xoloerr.InvalidDataf("version %s/%s is already released", slug, target)
	}

	previouslyReleased := title.ReleasedVersion
	rollback := previouslyReleased != "" && isOlder(title, target, previouslyReleased)

	report(prog, "releasing %s/%s", slug, target)

	// Iterate oldest-to-newest: VersionOrder is newest-first, so walk it in
	// reverse.
	order := title.VersionOrder
	for i := len(order) - 1; i >= 0; i-- {
		version := order[i]
		v, err := s.Store.LoadVersion(slug, version)
		if err != nil {
			s.observe(workflowRelease, "error", start)
			return nil, err
		}
		fromState := v.State

		switch {
		case version == target:
			if err := s.transitionToReleased(ctx, title, v, rollback); err != nil {
				s.observe(workflowRelease, "error", start)
				return nil, err
			}
		case isOlder(title, version, target):
			if err := s.transitionBelowTarget(ctx, v); err != nil {
				s.observe(workflowRelease, "error", start)
				return nil, err
			}
		default: // version is newer than target — only touched on rollback
			if rollback {
				if err := s.transitionAboveTarget(ctx, title, v); err != nil {
					s.observe(workflowRelease, "error", start)
					return nil, err
				}
			}
		}

		if err := s.Store.SaveVersion(v); err != nil {
			s.observe(workflowRelease, "error", start)
			return nil, err
		}
		if fromState != v.State && s.Metrics != nil {
			s.Metrics.ReleaseTransitions.WithLabelValues(string(fromState), string(v.State)).Inc()
		}
	}

	title.ReleasedVersion = target
	if err := s.Store.SaveTitle(title); err != nil {
		s.observe(workflowRelease, "error", start)
		return nil, err
	}

	if err := s.Changelog.Append(slug, xolo.ChangelogEntry{
		Admin: admin, Host: host, Version: target, Message: "version released: " + target,
	}); err != nil {
		s.Logger.Warn("changelog append failed after release", "title", slug, "version", target, "error", err)
	}

	report(prog, "%s/%s is now released", slug, target)
	s.observe(workflowRelease, "success", start)
	return title, nil
}

// isOlder reports whether a is older than b, using their position in
// title.VersionOrder (newest first, so a higher index is older).
func isOlder(title *xolo.Title, a, b string) bool {
	return title.VersionIndex(a) > title.VersionIndex(b)
}

// transitionToReleased moves the target version into StateReleased,
// enabling its patch policy, setting allow_downgrade on rollback, and
// folding the manual-install policy into self-service if the title
// requests it.
func (s *Service) transitionToReleased(ctx context.Context, title *xolo.Title, v *xolo.Version, rollback bool) error {
	v.State = xolo.StateReleased
	v.DeprecatedAt = nil

	if v.FleetPatchPolicyID != "" {
		allowDowngrade := rollback
		if err := s.Fleet.UpdatePolicy(ctx, v.FleetPatchPolicyID, fleet.PolicyUpdate{AllowDowngrade: &allowDowngrade}); err != nil {
			return err
		}
		if err := s.Fleet.EnablePolicy(ctx, v.FleetPatchPolicyID); err != nil {
			return err
		}
	}
	if v.FleetAutoPolicyID != "" && len(title.ReleaseGroups) > 0 {
		// Once released, auto-install widens from the pilot scope to the
		// title's general release groups.
		scope := fleet.Scope{
			TargetGroupIDs:   append(append([]string{}, title.ReleaseGroups...), title.FleetInstalledGroupID),
			ExcludedGroupIDs: append([]string{title.FleetFrozenGroupID}, title.ExcludedGroups...),
		}
		if err := s.Fleet.UpdatePolicy(ctx, v.FleetAutoPolicyID, fleet.PolicyUpdate{Scope: &scope}); err != nil {
			return err
		}
	}
	if title.SelfService && v.FleetManualPolicyID != "" {
		selfService := true
		if err := s.Fleet.UpdatePolicy(ctx, v.FleetManualPolicyID, fleet.PolicyUpdate{SelfService: &selfService}); err != nil {
			return err
		}
	}
	if title.FleetInstallLatestID != "" {
		packageID := v.FleetPackageID
		if err := s.Fleet.UpdatePolicy(ctx, title.FleetInstallLatestID, fleet.PolicyUpdate{PackageID: &packageID}); err != nil {
			return err
		}
	}
	return nil
}

// transitionBelowTarget demotes a version older than the release target:
// released -> deprecated, pilot -> skipped.
func (s *Service) transitionBelowTarget(ctx context.Context, v *xolo.Version) error {
	switch v.State {
	case xolo.StateReleased:
		v.State = xolo.StateDeprecated
		now := time.Now().UTC()
		v.DeprecatedAt = &now
		if v.FleetPatchPolicyID != "" {
			if err := s.Fleet.DisablePolicy(ctx, v.FleetPatchPolicyID); err != nil {
				return err
			}
		}
	case xolo.StatePilot:
		v.State = xolo.StateSkipped
	}
	return nil
}

// transitionAboveTarget is only reachable on a rollback, for a version newer
// than the new release target. Two distinct
// versions land here: the version that was released before this rollback —
// now stale, demoted to deprecated exactly like transitionBelowTarget would
// demote any other released version — and any already deprecated/skipped
// version above the target, which is restored to pilot.
func (s *Service) transitionAboveTarget(ctx context.Context, title *xolo.Title, v *xolo.Version) error {
	switch v.State {
	case xolo.StateReleased:
		return s.transitionBelowTarget(ctx, v)
	case xolo.StateDeprecated, xolo.StateSkipped:
		v.State = xolo.StatePilot
		v.DeprecatedAt = nil

		if v.FleetManualPolicyID != "" {
			selfService := false
			if err := s.Fleet.UpdatePolicy(ctx, v.FleetManualPolicyID, fleet.PolicyUpdate{SelfService: &selfService}); err != nil {
				return err
			}
		}
		if v.FleetPatchPolicyID != "" {
			allowDowngrade := false
			if err := s.Fleet.UpdatePolicy(ctx, v.FleetPatchPolicyID, fleet.PolicyUpdate{AllowDowngrade: &allowDowngrade}); err != nil {
				return err
			}
		}
		return s.pushAutoScope(ctx, title, v)
	default:
		return nil
	}
}
