package xolotitle

import (
	"context"
	"time"

	"github.com/xolohq/xolo/internal/catalog"
	"github.com/xolohq/xolo/internal/fleet"
	"github.com/xolohq/xolo/internal/progress"
	"github.com/xolohq/xolo/internal/xolo"
)

const workflowTitleRepair = "title_repair"

func equalOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Repair re-mediates a title's Catalog/Fleet side-objects against its
// stored state: a missing Catalog title is re-created with its requirement,
// missing Fleet groups and the normal EA are re-provisioned, and
// VersionOrder is reconciled with the version files actually on disk. Used
// after a partially-failed workflow or an external-system restore left the
// compound state inconsistent.
func (s *Service) Repair(ctx context.Context, admin, host, slug string, prog progress.Reporter) (*xolo.Title, error) {
	start := time.Now()

	_, release, err := s.acquireTitleLock(ctx, slug)
	if err != nil {
		s.observe(workflowTitleRepair, "lock_timeout", start)
		return nil, err
	}
	defer release()

	t, err := s.Store.LoadTitle(slug)
	if err != nil {
		s.observe(workflowTitleRepair, "error", start)
		return nil, err
	}

	repaired := false
	req := xolo.RequirementOf(t)

	report(prog, "checking catalog state for %s", slug)
	exists, err := s.Catalog.TitleExists(ctx, slug)
	if err != nil {
		s.observe(workflowTitleRepair, "error", start)
		return nil, err
	}
	if !exists {
		catalogID, err := s.Catalog.CreateTitle(ctx, catalog.TitleSpec{
			Slug: slug, DisplayName: t.DisplayName, Publisher: t.Publisher,
		})
		if err != nil {
			s.observe(workflowTitleRepair, "error", start)
			return nil, err
		}
		t.CatalogTitleID = catalogID
		if err := s.Catalog.SetRequirement(ctx, slug, req); err != nil {
			s.observe(workflowTitleRepair, "error", start)
			return nil, err
		}
		repaired = true
	}

	report(prog, "checking fleet side-objects for %s", slug)
	if t.FleetCategoryID == "" {
		categoryID, err := s.Fleet.EnsureCategory(ctx, slug)
		if err != nil {
			s.observe(workflowTitleRepair, "error", start)
			return nil, err
		}
		t.FleetCategoryID = categoryID
		repaired = true
	}

	normalEAName := objName(s.ObjectPrefix, slug, xolo.SuffixNormalEA)
	if req.Kind == xolo.RequirementEA && t.FleetNormalEAID == "" {
		eaID, err := s.Fleet.UpsertNormalEA(ctx, fleet.EACriteria{Name: normalEAName, Script: req.Script})
		if err != nil {
			s.observe(workflowTitleRepair, "error", start)
			return nil, err
		}
		t.FleetNormalEAID = eaID
		repaired = true
	}

	if t.FleetInstalledGroupID == "" {
		groupID, err := s.Fleet.CreateGroup(ctx, objName(s.ObjectPrefix, slug, xolo.SuffixInstalledGroup), fleet.GroupSmart, fleet.InstalledGroupCriteria(req, normalEAName))
		if err != nil {
			s.observe(workflowTitleRepair, "error", start)
			return nil, err
		}
		t.FleetInstalledGroupID = groupID
		repaired = true
	}
	if t.FleetFrozenGroupID == "" {
		groupID, err := s.Fleet.CreateGroup(ctx, objName(s.ObjectPrefix, slug, xolo.SuffixFrozenGroup), fleet.GroupStatic, nil)
		if err != nil {
			s.observe(workflowTitleRepair, "error", start)
			return nil, err
		}
		t.FleetFrozenGroupID = groupID
		if len(t.FrozenMembers) > 0 {
			if err := s.Fleet.UpdateStaticGroupMembers(ctx, groupID, t.FrozenMembers); err != nil {
				s.observe(workflowTitleRepair, "error", start)
				return nil, err
			}
		}
		repaired = true
	}

	if t.FleetInstallLatestID == "" {
		policyID, err := s.Fleet.CreatePolicy(ctx, fleet.PolicySpec{
			Name:        objName(s.ObjectPrefix, slug, xolo.SuffixInstallLatest),
			Kind:        fleet.PolicyManualInstall,
			Scope:       fleet.Scope{ExcludedGroupIDs: append([]string{t.FleetFrozenGroupID}, t.ExcludedGroups...)},
			Enabled:     true,
			SelfService: t.SelfService,
		})
		if err != nil {
			s.observe(workflowTitleRepair, "error", start)
			return nil, err
		}
		t.FleetInstallLatestID = policyID
		repaired = true
	}

	report(prog, "reconciling version order for %s", slug)
	onDisk, err := s.Store.EnumerateVersions(slug)
	if err != nil {
		s.observe(workflowTitleRepair, "error", start)
		return nil, err
	}
	present := make(map[string]bool, len(onDisk))
	for _, v := range onDisk {
		present[v] = true
	}
	order := make([]string, 0, len(t.VersionOrder))
	listed := make(map[string]bool, len(t.VersionOrder))
	for _, v := range t.VersionOrder {
		if present[v] {
			order = append(order, v)
			listed[v] = true
		}
	}
	// Version files the order never mentions go in as oldest — their true
	// position is unknowable, and oldest keeps them out of release's way.
	for _, v := range onDisk {
		if !listed[v] {
			order = append(order, v)
		}
	}
	if !equalOrder(order, t.VersionOrder) {
		t.VersionOrder = order
		repaired = true
	}
	if t.ReleasedVersion != "" && !present[t.ReleasedVersion] {
		t.ReleasedVersion = ""
		repaired = true
	}

	if !repaired {
		report(prog, "title %s is consistent, nothing to repair", slug)
		s.observe(workflowTitleRepair, "noop", start)
		return t, nil
	}

	if err := s.Store.SaveTitle(t); err != nil {
		s.observe(workflowTitleRepair, "error", start)
		return nil, err
	}
	if err := s.Changelog.Append(slug, xolo.ChangelogEntry{
		Admin: admin, Host: host, Message: "Title Repaired",
	}); err != nil {
		s.Logger.Warn("changelog append failed after repair", "title", slug, "error", err)
	}

	report(prog, "title %s repaired", slug)
	s.observe(workflowTitleRepair, "success", start)
	return t, nil
}
