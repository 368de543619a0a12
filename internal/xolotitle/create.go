package xolotitle

import (
	"context"
	"time"

	"github.com/xolohq/xolo/internal/catalog"
	"github.com/xolohq/xolo/internal/fleet"
	"github.com/xolohq/xolo/internal/progress"
	"github.com/xolohq/xolo/internal/xolo"
	"github.com/xolohq/xolo/internal/xoloerr"
)

const workflowTitleCreate = "title_create"

// Create provisions a new title: Catalog first (title +
// requirement), then Fleet (category, installed smart group, frozen static
// group), then persist and append the changelog's opening entry.
func (s *Service) Create(ctx context.Context, admin, host string, in *xolo.Title, prog progress.Reporter) (*xolo.Title, error) {
	start := time.Now()
	if err := in.Validate(); err != nil {
		s.observe(workflowTitleCreate, "invalid", start)
		return nil, err
	}
	if s.Store.TitleExists(in.Slug) {
		s.observe(workflowTitleCreate, "already_exists", start)
		return nil, xoloerr.AlreadyExistsf("title %q already exists", in.Slug)
	}

	_, release, err := s.acquireTitleLock(ctx, in.Slug)
	if err != nil {
		s.observe(workflowTitleCreate, "lock_timeout", start)
		return nil, err
	}
	defer release()

	in.CreatedAt = time.Now().UTC()
	in.CreatedBy = admin

	report(prog, "creating catalog title %s", in.Slug)
	catalogID, err := s.Catalog.CreateTitle(ctx, catalog.TitleSpec{
		Slug: in.Slug, DisplayName: in.DisplayName, Publisher: in.Publisher,
	})
	if err != nil {
		s.observe(workflowTitleCreate, "error", start)
		return nil, err
	}
	in.CatalogTitleID = catalogID

	req := xolo.RequirementOf(in)
	if err := s.Catalog.SetRequirement(ctx, in.Slug, req); err != nil {
		s.observe(workflowTitleCreate, "error", start)
		return nil, err
	}

	report(prog, "provisioning fleet objects for %s", in.Slug)
	categoryID, err := s.Fleet.EnsureCategory(ctx, in.Slug)
	if err != nil {
		s.observe(workflowTitleCreate, "error", start)
		return nil, err
	}
	in.FleetCategoryID = categoryID

	normalEAName := objName(s.ObjectPrefix, in.Slug, xolo.SuffixNormalEA)
	if req.Kind == xolo.RequirementEA {
		eaID, err := s.Fleet.UpsertNormalEA(ctx, fleet.EACriteria{Name: normalEAName, Script: req.Script})
		if err != nil {
			s.observe(workflowTitleCreate, "error", start)
			return nil, err
		}
		in.FleetNormalEAID = eaID
	}

	installedCriteria := fleet.InstalledGroupCriteria(req, normalEAName)
	installedGroupID, err := s.Fleet.CreateGroup(ctx, objName(s.ObjectPrefix, in.Slug, xolo.SuffixInstalledGroup), fleet.GroupSmart, installedCriteria)
	if err != nil {
		s.observe(workflowTitleCreate, "error", start)
		return nil, err
	}
	in.FleetInstalledGroupID = installedGroupID

	frozenGroupID, err := s.Fleet.CreateGroup(ctx, objName(s.ObjectPrefix, in.Slug, xolo.SuffixFrozenGroup), fleet.GroupStatic, nil)
	if err != nil {
		s.observe(workflowTitleCreate, "error", start)
		return nil, err
	}
	in.FleetFrozenGroupID = frozenGroupID

	titleScope := fleet.Scope{
		ExcludedGroupIDs: append([]string{frozenGroupID}, in.ExcludedGroups...),
	}
	installLatestID, err := s.Fleet.CreatePolicy(ctx, fleet.PolicySpec{
		Name:        objName(s.ObjectPrefix, in.Slug, xolo.SuffixInstallLatest),
		Kind:        fleet.PolicyManualInstall,
		Scope:       titleScope,
		Enabled:     true,
		SelfService: in.SelfService,
	})
	if err != nil {
		s.observe(workflowTitleCreate, "error", start)
		return nil, err
	}
	in.FleetInstallLatestID = installLatestID

	if err := s.provisionUninstallPolicy(ctx, in, titleScope); err != nil {
		s.observe(workflowTitleCreate, "error", start)
		return nil, err
	}
	if err := s.provisionExpirePolicy(ctx, in, titleScope); err != nil {
		s.observe(workflowTitleCreate, "error", start)
		return nil, err
	}

	if err := s.persistScriptsAndIcon(ctx, in); err != nil {
		s.observe(workflowTitleCreate, "error", start)
		return nil, err
	}

	if err := s.Store.SaveTitle(in); err != nil {
		s.observe(workflowTitleCreate, "error", start)
		return nil, err
	}

	if err := s.Changelog.Append(in.Slug, xolo.ChangelogEntry{
		Admin: admin, Host: host, Message: "Title Created",
	}); err != nil {
		s.Logger.Warn("changelog append failed after title create", "title", in.Slug, "error", err)
	}

	report(prog, "title %s created", in.Slug)
	s.observe(workflowTitleCreate, "success", start)
	return in, nil
}
