package xolotitle

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/xolohq/xolo/internal/fleet"
	"github.com/xolohq/xolo/internal/xolo"
	"github.com/xolohq/xolo/internal/xoloerr"
)

// provisionUninstallPolicy creates the title's uninstall policy when an
// uninstall mechanism is configured. No-op when neither uninstall_script
// nor uninstall_ids is set.
func (s *Service) provisionUninstallPolicy(ctx context.Context, t *xolo.Title, scope fleet.Scope) error {
	if t.UninstallScript == "" && len(t.UninstallIDs) == 0 {
		return nil
	}
	id, err := s.Fleet.CreatePolicy(ctx, fleet.PolicySpec{
		Name:            objName(s.ObjectPrefix, t.Slug, xolo.SuffixUninstall),
		Kind:            fleet.PolicyUninstall,
		Scope:           scope,
		Enabled:         true,
		UninstallScript: t.UninstallScript,
		UninstallIDs:    t.UninstallIDs,
	})
	if err != nil {
		return err
	}
	t.FleetUninstallPolicyID = id
	return nil
}

// provisionExpirePolicy creates the title's expire policy. ExpirationDays
// <= 0 disables expiration, so no policy is created.
func (s *Service) provisionExpirePolicy(ctx context.Context, t *xolo.Title, scope fleet.Scope) error {
	if t.ExpirationDays <= 0 {
		return nil
	}
	id, err := s.Fleet.CreatePolicy(ctx, fleet.PolicySpec{
		Name:           objName(s.ObjectPrefix, t.Slug, xolo.SuffixExpire),
		Kind:           fleet.PolicyExpire,
		Scope:          scope,
		Enabled:        true,
		ExpirationDays: t.ExpirationDays,
	})
	if err != nil {
		return err
	}
	t.FleetExpirePolicyID = id
	return nil
}

// persistScriptsAndIcon writes the title's version-script and
// uninstall-script files under its store directory and, when a staged icon
// upload is attached, moves it into place and pushes it to Fleet. Clears
// the request-only IconLocalPath before the caller persists the title.
func (s *Service) persistScriptsAndIcon(ctx context.Context, t *xolo.Title) error {
	if t.VersionScript != "" {
		if err := s.Store.WriteVersionScript(t.Slug, t.VersionScript); err != nil {
			return err
		}
	}
	if t.UninstallScript != "" {
		if err := s.Store.WriteUninstallScript(t.Slug, t.UninstallScript); err != nil {
			return err
		}
	}

	return s.persistIcon(ctx, t)
}

// persistIcon moves a staged icon upload into the title's store directory
// and pushes it to Fleet. No-op when no staged icon is attached.
func (s *Service) persistIcon(ctx context.Context, t *xolo.Title) error {
	if t.IconLocalPath == "" {
		return nil
	}
	data, err := os.ReadFile(t.IconLocalPath)
	if err != nil {
		return xoloerr.Wrap(xoloerr.InvalidData, "read staged icon upload", err)
	}
	ext := strings.TrimPrefix(filepath.Ext(t.IconLocalPath), ".")
	if ext == "" {
		ext = "png"
	}
	if _, err := s.Store.WriteIcon(t.Slug, ext, data); err != nil {
		return err
	}
	iconID, err := s.Fleet.UploadIcon(ctx, t.IconLocalPath)
	if err != nil {
		return err
	}
	t.FleetIconID = iconID
	t.IconLocalPath = ""
	return nil
}

// syncTitlePolicies reconciles the uninstall and expire policies after a
// title update changed their source attributes: create when newly
// configured, update in place, delete when unconfigured.
func (s *Service) syncTitlePolicies(ctx context.Context, t *xolo.Title, changed map[string]bool) error {
	scope := fleet.Scope{
		ExcludedGroupIDs: append([]string{t.FleetFrozenGroupID}, t.ExcludedGroups...),
	}

	if changed["uninstall_script"] || changed["uninstall_ids"] || changed["excluded_groups"] {
		wantUninstall := t.UninstallScript != "" || len(t.UninstallIDs) > 0
		switch {
		case wantUninstall && t.FleetUninstallPolicyID == "":
			if err := s.provisionUninstallPolicy(ctx, t, scope); err != nil {
				return err
			}
		case wantUninstall:
			if err := s.Fleet.UpdatePolicy(ctx, t.FleetUninstallPolicyID, fleet.PolicyUpdate{Scope: &scope}); err != nil {
				return err
			}
		case t.FleetUninstallPolicyID != "":
			if err := s.Fleet.DeletePolicy(ctx, t.FleetUninstallPolicyID); err != nil {
				return err
			}
			t.FleetUninstallPolicyID = ""
		}
		if changed["uninstall_script"] {
			if t.UninstallScript != "" {
				if err := s.Store.WriteUninstallScript(t.Slug, t.UninstallScript); err != nil {
					return err
				}
			} else if err := s.Store.DeleteUninstallScript(t.Slug); err != nil {
				return err
			}
		}
	}

	if changed["expiration_days"] || changed["excluded_groups"] {
		switch {
		case t.ExpirationDays > 0 && t.FleetExpirePolicyID == "":
			if err := s.provisionExpirePolicy(ctx, t, scope); err != nil {
				return err
			}
		case t.ExpirationDays > 0:
			days := t.ExpirationDays
			if err := s.Fleet.UpdatePolicy(ctx, t.FleetExpirePolicyID, fleet.PolicyUpdate{Scope: &scope, ExpirationDays: &days}); err != nil {
				return err
			}
		case t.FleetExpirePolicyID != "":
			if err := s.Fleet.DeletePolicy(ctx, t.FleetExpirePolicyID); err != nil {
				return err
			}
			t.FleetExpirePolicyID = ""
		}
	}

	return nil
}
