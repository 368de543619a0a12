// Package xolotesting provides in-memory fakes of the Catalog and Fleet
// clients for use in tests of internal/xolotitle and internal/xoloversion.
// Both fakes are safe for concurrent use (guarded by a mutex) since the
// lock-serialised workflows under test still dispatch their external calls
// from request goroutines and background watchers at the same time.
package xolotesting

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xolohq/xolo/internal/catalog"
	"github.com/xolohq/xolo/internal/fleet"
	"github.com/xolohq/xolo/internal/xolo"
)

// FakeCatalog is an in-memory stand-in for catalog.Client.
type FakeCatalog struct {
	mu sync.Mutex

	nextID int
	Titles map[string]bool
	Reqs   map[string]xolo.Requirement // slug -> requirement

	// Patches keyed by slug/version.
	Patches    map[string]catalog.PatchAttrs
	Components map[string]xolo.Requirement
	KillApps   map[string][]xolo.KillApp
	Enabled    map[string]bool

	// Visible, if set for a slug/version key, overrides the default
	// "visible immediately" behavior of PatchVisibility.
	Visible map[string]bool

	// Calls counts invocations per method name, for assertions on call
	// counts without needing a full mock framework.
	Calls map[string]int
}

// NewFakeCatalog builds an empty FakeCatalog.
func NewFakeCatalog() *FakeCatalog {
	return &FakeCatalog{
		Titles:     make(map[string]bool),
		Reqs:       make(map[string]xolo.Requirement),
		Patches:    make(map[string]catalog.PatchAttrs),
		Components: make(map[string]xolo.Requirement),
		KillApps:   make(map[string][]xolo.KillApp),
		Enabled:    make(map[string]bool),
		Visible:    make(map[string]bool),
		Calls:      make(map[string]int),
	}
}

func key(slug, version string) string { return slug + "/" + version }

func (f *FakeCatalog) count(name string) {
	f.Calls[name]++
}

func (f *FakeCatalog) TitleExists(ctx context.Context, slug string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("TitleExists")
	return f.Titles[slug], nil
}

func (f *FakeCatalog) CreateTitle(ctx context.Context, spec catalog.TitleSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CreateTitle")
	f.Titles[spec.Slug] = true
	f.nextID++
	return fmt.Sprintf("cat-title-%d", f.nextID), nil
}

func (f *FakeCatalog) UpdateTitle(ctx context.Context, slug string, patch catalog.TitlePatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("UpdateTitle")
	return nil
}

func (f *FakeCatalog) DeleteTitle(ctx context.Context, slug string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("DeleteTitle")
	delete(f.Titles, slug)
	return nil
}

func (f *FakeCatalog) SetRequirement(ctx context.Context, slug string, req xolo.Requirement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("SetRequirement")
	f.Reqs[slug] = req
	return nil
}

func (f *FakeCatalog) CreatePatch(ctx context.Context, slug string, attrs catalog.PatchAttrs) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CreatePatch")
	f.Patches[key(slug, attrs.Version)] = attrs
	f.nextID++
	return fmt.Sprintf("cat-patch-%d", f.nextID), nil
}

func (f *FakeCatalog) UpdatePatch(ctx context.Context, slug, version string, attrs catalog.PatchAttrs) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("UpdatePatch")
	f.Patches[key(slug, version)] = attrs
	return nil
}

func (f *FakeCatalog) EnablePatch(ctx context.Context, slug, version string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("EnablePatch")
	f.Enabled[key(slug, version)] = true
	return nil
}

func (f *FakeCatalog) DeletePatch(ctx context.Context, slug, version string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("DeletePatch")
	delete(f.Patches, key(slug, version))
	return nil
}

func (f *FakeCatalog) SetPatchComponent(ctx context.Context, slug, version string, req xolo.Requirement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("SetPatchComponent")
	f.Components[key(slug, version)] = req
	return nil
}

func (f *FakeCatalog) SetPatchCapabilities(ctx context.Context, slug, version, minOS, maxOS string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("SetPatchCapabilities")
	return nil
}

func (f *FakeCatalog) SetPatchKillApps(ctx context.Context, slug, version string, killApps []xolo.KillApp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("SetPatchKillApps")
	f.KillApps[key(slug, version)] = killApps
	return nil
}

func (f *FakeCatalog) PatchVisibility(ctx context.Context, slug, version string) (catalog.Visibility, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("PatchVisibility")
	k := key(slug, version)
	visible, set := f.Visible[k]
	if !set {
		visible = true // default: visible on first poll
	}
	return catalog.Visibility{Version: version, Visible: visible}, nil
}

// ComponentKind returns the RequirementKind last set via SetPatchComponent
// for slug/version, for test assertions.
func (f *FakeCatalog) ComponentKind(slug, version string) xolo.RequirementKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Components[key(slug, version)].Kind
}

// FakeFleet is an in-memory stand-in for fleet.Client.
type FakeFleet struct {
	mu sync.Mutex

	nextID int

	Groups        map[string]groupRecord
	Packages      map[string]fleet.Package
	Policies      map[string]fleet.PolicySpec
	PolicyEnabled map[string]bool
	EAs           map[string]fleet.EACriteria
	PatchTitles   map[string]string // slug -> fleet patch title id
	Accepted      map[string]bool   // slug -> EA acceptance state

	GroupMembers map[string][]string // principal -> group ids

	Calls map[string]int
}

type groupRecord struct {
	name     string
	kind     fleet.GroupKind
	criteria map[string]interface{}
	members  []string
}

// NewFakeFleet builds an empty FakeFleet. EA acceptance status defaults to
// accepted=false (Fleet has noticed a change awaiting acceptance), so an
// EA-acceptance watcher submits acceptance on its first poll;
// SetAccepted(slug, true) simulates Fleet not having noticed yet.
func NewFakeFleet() *FakeFleet {
	return &FakeFleet{
		Groups:        make(map[string]groupRecord),
		Packages:      make(map[string]fleet.Package),
		Policies:      make(map[string]fleet.PolicySpec),
		PolicyEnabled: make(map[string]bool),
		EAs:           make(map[string]fleet.EACriteria),
		PatchTitles:   make(map[string]string),
		Accepted:      make(map[string]bool),
		GroupMembers:  make(map[string][]string),
		Calls:         make(map[string]int),
	}
}

func (f *FakeFleet) count(name string) { f.Calls[name]++ }

func (f *FakeFleet) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *FakeFleet) Login(ctx context.Context, username, password string) (fleet.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("Login")
	return fleet.Session{Principal: username}, nil
}

func (f *FakeFleet) EnsureCategory(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("EnsureCategory")
	return f.id("cat"), nil
}

func (f *FakeFleet) CreateGroup(ctx context.Context, name string, kind fleet.GroupKind, criteria map[string]interface{}) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CreateGroup")
	id := f.id("grp")
	f.Groups[id] = groupRecord{name: name, kind: kind, criteria: criteria}
	return id, nil
}

func (f *FakeFleet) UpdateGroupCriteria(ctx context.Context, groupID string, criteria map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("UpdateGroupCriteria")
	g := f.Groups[groupID]
	g.criteria = criteria
	f.Groups[groupID] = g
	return nil
}

func (f *FakeFleet) UpdateStaticGroupMembers(ctx context.Context, groupID string, memberIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("UpdateStaticGroupMembers")
	sorted := append([]string(nil), memberIDs...)
	sort.Strings(sorted)
	g := f.Groups[groupID]
	g.members = sorted
	f.Groups[groupID] = g
	return nil
}

func (f *FakeFleet) DeleteGroup(ctx context.Context, groupID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("DeleteGroup")
	delete(f.Groups, groupID)
	return nil
}

func (f *FakeFleet) CreatePackage(ctx context.Context, spec fleet.PackageSpec) (fleet.Package, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CreatePackage")
	id := f.id("pkg")
	pkg := fleet.Package{ID: id, Filename: spec.Filename}
	f.Packages[id] = pkg
	return pkg, nil
}

func (f *FakeFleet) UpdatePackage(ctx context.Context, packageID string, spec fleet.PackageSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("UpdatePackage")
	return nil
}

func (f *FakeFleet) DeletePackage(ctx context.Context, packageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("DeletePackage")
	delete(f.Packages, packageID)
	return nil
}

func (f *FakeFleet) UploadPackage(ctx context.Context, packageID, localPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("UploadPackage")
	return nil
}

func (f *FakeFleet) CreatePolicy(ctx context.Context, spec fleet.PolicySpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CreatePolicy")
	id := f.id("pol")
	f.Policies[id] = spec
	f.PolicyEnabled[id] = spec.Enabled
	return id, nil
}

func (f *FakeFleet) UpdatePolicy(ctx context.Context, policyID string, patch fleet.PolicyUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("UpdatePolicy")
	spec, ok := f.Policies[policyID]
	if !ok {
		return fmt.Errorf("fake fleet: unknown policy %s", policyID)
	}
	if patch.Scope != nil {
		spec.Scope = *patch.Scope
	}
	if patch.PackageID != nil {
		spec.PackageID = *patch.PackageID
	}
	if patch.Enabled != nil {
		spec.Enabled = *patch.Enabled
		f.PolicyEnabled[policyID] = *patch.Enabled
	}
	if patch.RebootRequired != nil {
		spec.RebootRequired = *patch.RebootRequired
	}
	if patch.AllowDowngrade != nil {
		spec.AllowDowngrade = *patch.AllowDowngrade
	}
	if patch.SelfService != nil {
		spec.SelfService = *patch.SelfService
	}
	if patch.ExpirationDays != nil {
		spec.ExpirationDays = *patch.ExpirationDays
	}
	f.Policies[policyID] = spec
	return nil
}

func (f *FakeFleet) EnablePolicy(ctx context.Context, policyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("EnablePolicy")
	f.PolicyEnabled[policyID] = true
	spec := f.Policies[policyID]
	spec.Enabled = true
	f.Policies[policyID] = spec
	return nil
}

func (f *FakeFleet) DisablePolicy(ctx context.Context, policyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("DisablePolicy")
	f.PolicyEnabled[policyID] = false
	spec := f.Policies[policyID]
	spec.Enabled = false
	f.Policies[policyID] = spec
	return nil
}

func (f *FakeFleet) DeletePolicy(ctx context.Context, policyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("DeletePolicy")
	delete(f.Policies, policyID)
	delete(f.PolicyEnabled, policyID)
	return nil
}

func (f *FakeFleet) ActivatePatchTitle(ctx context.Context, slug, catalogTitleID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("ActivatePatchTitle")
	id := f.id("pt")
	f.PatchTitles[slug] = id
	return id, nil
}

func (f *FakeFleet) DeactivatePatchTitle(ctx context.Context, fleetPatchTitleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("DeactivatePatchTitle")
	return nil
}

func (f *FakeFleet) AssignPatchPackage(ctx context.Context, fleetPatchTitleID, version, packageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("AssignPatchPackage")
	return nil
}

func (f *FakeFleet) UpsertNormalEA(ctx context.Context, criteria fleet.EACriteria) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("UpsertNormalEA")
	id := f.id("ea")
	f.EAs[id] = criteria
	return id, nil
}

func (f *FakeFleet) DeleteEA(ctx context.Context, eaID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("DeleteEA")
	delete(f.EAs, eaID)
	return nil
}

func (f *FakeFleet) EAAcceptanceStatus(ctx context.Context, titleSlug string) (fleet.EAAcceptance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("EAAcceptanceStatus")
	return fleet.EAAcceptance{TitleSlug: titleSlug, Accepted: f.Accepted[titleSlug]}, nil
}

func (f *FakeFleet) AcceptEA(ctx context.Context, titleSlug string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("AcceptEA")
	f.Accepted[titleSlug] = true
	return nil
}

func (f *FakeFleet) UploadIcon(ctx context.Context, localPath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("UploadIcon")
	return f.id("icon"), nil
}

func (f *FakeFleet) DeployMDM(ctx context.Context, deviceGroupID, packageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("DeployMDM")
	return nil
}

func (f *FakeFleet) IsGroupMember(ctx context.Context, groupID, principal string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("IsGroupMember")
	for _, g := range f.GroupMembers[principal] {
		if g == groupID {
			return true, nil
		}
	}
	return false, nil
}

func (f *FakeFleet) FlushPolicyLogs(ctx context.Context, policyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("FlushPolicyLogs")
	return nil
}

// SetAccepted forces the EA-acceptance status reported for slug, for tests
// driving the EA-acceptance watcher without waiting on its real interval.
func (f *FakeFleet) SetAccepted(slug string, accepted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Accepted[slug] = accepted
}

// Policy returns a copy of the stored policy spec for assertions.
func (f *FakeFleet) Policy(id string) (fleet.PolicySpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.Policies[id]
	return p, ok
}

// GroupMembersOf returns the static members last set for groupID.
func (f *FakeFleet) GroupMembersOf(groupID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Groups[groupID].members
}

var _ catalog.Client = (*FakeCatalog)(nil)
var _ fleet.Client = (*FakeFleet)(nil)
