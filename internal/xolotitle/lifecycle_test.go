package xolotitle_test

import (
	"context"
	"testing"
	"time"

	"github.com/xolohq/xolo/internal/changelog"
	"github.com/xolohq/xolo/internal/lockmgr"
	"github.com/xolohq/xolo/internal/pkgdeletion"
	"github.com/xolohq/xolo/internal/store"
	"github.com/xolohq/xolo/internal/watch"
	"github.com/xolohq/xolo/internal/xolo"
	"github.com/xolohq/xolo/internal/xoloerr"
	"github.com/xolohq/xolo/internal/xolotesting"
	"github.com/xolohq/xolo/internal/xolotitle"
	"github.com/xolohq/xolo/internal/xoloversion"
)

type harness struct {
	Titles   *xolotitle.Service
	Versions *xoloversion.Service
	Catalog  *xolotesting.FakeCatalog
	Fleet    *xolotesting.FakeFleet
	Store    *store.Store
	Watchers *watch.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.New(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	cl := changelog.New(st, nil)
	locks := lockmgr.New(time.Hour, time.Minute, nil)
	t.Cleanup(locks.Stop)
	watchers := watch.NewRegistry(nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		watchers.Shutdown(ctx)
	})

	fakeCat := xolotesting.NewFakeCatalog()
	fakeFleet := xolotesting.NewFakeFleet()
	pool := pkgdeletion.New(2, 16, fakeFleet, nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		pool.Shutdown(ctx)
	})

	versions := xoloversion.New(st, cl, locks, fakeCat, fakeFleet, watchers, pool, nil, nil, "xolo-", 5*time.Second)
	titles := xolotitle.New(st, cl, locks, fakeCat, fakeFleet, watchers, versions, nil, nil, "xolo-", 5*time.Second)

	return &harness{Titles: titles, Versions: versions, Catalog: fakeCat, Fleet: fakeFleet, Store: st, Watchers: watchers}
}

func appTitle(slug string) *xolo.Title {
	return &xolo.Title{
		Slug:        slug,
		DisplayName: "Zoom",
		Publisher:   "Zoom Video Communications",
		AppName:     "zoom.us",
		AppBundleID: "us.zoom.xos",
	}
}

func eaTitle(slug string) *xolo.Title {
	return &xolo.Title{
		Slug:          slug,
		DisplayName:   "Firefox",
		Publisher:     "Mozilla",
		VersionScript: "#!/bin/sh\necho 1.0",
	}
}

// Title.create provisions Catalog first, then Fleet, and opens the
// changelog with a single "Title Created" entry.
func TestTitleCreateProvisionsCatalogAndFleet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	title, err := h.Titles.Create(ctx, "admin", "host1", appTitle("zoom"), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if title.CatalogTitleID == "" {
		t.Fatalf("expected catalog title id to be set")
	}
	if title.FleetCategoryID == "" || title.FleetInstalledGroupID == "" || title.FleetFrozenGroupID == "" {
		t.Fatalf("expected fleet category/installed/frozen objects provisioned, got %+v", title)
	}
	if title.FleetNormalEAID != "" {
		t.Fatalf("app-requirement title should not provision a normal EA, got %q", title.FleetNormalEAID)
	}

	entries, err := loadChangelog(h, "zoom")
	if err != nil {
		t.Fatalf("changelog read: %v", err)
	}
	if len(entries) != 1 || entries[0].Message != "Title Created" {
		t.Fatalf("expected single Title Created entry, got %+v", entries)
	}

	if !h.Store.TitleExists("zoom") {
		t.Fatalf("expected title persisted to store")
	}
}

// Creating a title with an EA-based requirement provisions a normal EA and
// wires the installed group's smart criteria to it instead of a bundle id.
func TestTitleCreateEARequirementProvisionsNormalEA(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	title, err := h.Titles.Create(ctx, "admin", "host1", eaTitle("firefox"), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if title.FleetNormalEAID == "" {
		t.Fatalf("expected normal EA provisioned for EA-requirement title")
	}
	if h.Catalog.Reqs["firefox"].Kind != xolo.RequirementEA {
		t.Fatalf("expected catalog requirement kind ea, got %+v", h.Catalog.Reqs["firefox"])
	}
}

// Uninstall and expire configuration provisions the matching title-scoped
// Fleet policies, and script-based fields land as files in the store.
func TestTitleCreateProvisionsTitlePolicies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	in := eaTitle("firefox")
	in.UninstallScript = "#!/bin/sh\nrm -rf '/Applications/Firefox.app'"
	in.ExpirationDays = 90

	title, err := h.Titles.Create(ctx, "admin", "h", in, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if title.FleetInstallLatestID == "" {
		t.Fatalf("expected install-latest policy provisioned")
	}
	if title.FleetUninstallPolicyID == "" || title.FleetExpirePolicyID == "" {
		t.Fatalf("expected uninstall and expire policies provisioned, got %+v", title)
	}

	expire, ok := h.Fleet.Policy(title.FleetExpirePolicyID)
	if !ok || expire.ExpirationDays != 90 {
		t.Fatalf("expected expire policy with 90-day expiration, got %+v (ok=%v)", expire, ok)
	}
	uninstall, ok := h.Fleet.Policy(title.FleetUninstallPolicyID)
	if !ok || uninstall.UninstallScript == "" {
		t.Fatalf("expected uninstall policy carrying the script, got %+v (ok=%v)", uninstall, ok)
	}

	script, err := h.Store.ReadVersionScript("firefox")
	if err != nil || script != in.VersionScript {
		t.Fatalf("expected version script persisted, got %q err=%v", script, err)
	}
	if _, err := h.Store.ReadUninstallScript("firefox"); err != nil {
		t.Fatalf("expected uninstall script persisted: %v", err)
	}
}

// Clearing expiration_days on update deletes the expire policy; setting it
// on a title that never had one creates it.
func TestTitleUpdateSyncsExpirePolicy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	in := appTitle("zoom")
	in.ExpirationDays = 30
	created, err := h.Titles.Create(ctx, "admin", "h", in, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated := *created
	updated.ExpirationDays = 0
	result, err := h.Titles.Update(ctx, "admin", "h", &updated, nil)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if result.FleetExpirePolicyID != "" {
		t.Fatalf("expected expire policy id cleared, got %q", result.FleetExpirePolicyID)
	}
	if _, ok := h.Fleet.Policy(created.FleetExpirePolicyID); ok {
		t.Fatalf("expected expire policy deleted from fleet")
	}
}

// Creating a title twice with the same slug is AlreadyExists, not a second
// provisioning attempt.
func TestTitleCreateDuplicateIsAlreadyExists(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.Titles.Create(ctx, "admin", "h", appTitle("zoom"), nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := h.Titles.Create(ctx, "admin", "h", appTitle("zoom"), nil)
	if !xoloerr.Is(err, xoloerr.AlreadyExists) {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

// Scenario 4: switching a title's requirement from app-based
// detection to an extension attribute provisions the normal EA, rewrites the
// installed group's criteria, pushes the new component to every existing
// version's Catalog patch, and starts the EA-acceptance watcher.
func TestTitleUpdateAppToEATransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.Titles.Create(ctx, "admin", "h", appTitle("zoom"), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := h.Versions.Create(ctx, "admin", "h", newVersion("zoom", "1.0.0"), nil); err != nil {
		t.Fatalf("Create version: %v", err)
	}

	updated := *created
	updated.AppName = ""
	updated.AppBundleID = ""
	updated.VersionScript = "#!/bin/sh\necho 5.0"

	result, err := h.Titles.Update(ctx, "admin", "h", &updated, nil)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if result.FleetNormalEAID == "" {
		t.Fatalf("expected normal EA provisioned after app_to_ea transition")
	}
	if h.Catalog.ComponentKind("zoom", "1.0.0") != xolo.RequirementEA {
		t.Fatalf("expected version 1.0.0's catalog patch component rewritten to ea")
	}
	if !h.Watchers.Active(watch.KindEAAcceptance, "zoom") {
		t.Fatalf("expected EA-acceptance watcher started for zoom after app_to_ea transition")
	}

	entries, err := loadChangelog(h, "zoom")
	if err != nil {
		t.Fatalf("changelog read: %v", err)
	}
	var sawAppName, sawScript bool
	for _, e := range entries {
		if e.Attrib == "app_name" {
			sawAppName = true
		}
		if e.Attrib == "version_script" {
			sawScript = true
		}
	}
	if !sawAppName || !sawScript {
		t.Fatalf("expected changelog entries for both app_name and version_script changes, got %+v", entries)
	}
}

// An update with no changed attributes is a no-op: no changelog entry, no
// Catalog/Fleet calls.
func TestTitleUpdateNoopWhenUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.Titles.Create(ctx, "admin", "h", appTitle("zoom"), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	before, err := loadChangelog(h, "zoom")
	if err != nil {
		t.Fatalf("changelog read: %v", err)
	}

	same := *created
	if _, err := h.Titles.Update(ctx, "admin", "h", &same, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}

	after, err := loadChangelog(h, "zoom")
	if err != nil {
		t.Fatalf("changelog read: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("expected no new changelog entries on a no-op update, before=%d after=%d", len(before), len(after))
	}
}

// Updating pilot_groups is version-scoped: every version's auto-install
// policy scope is rebuilt from the new groups.
func TestTitleUpdatePilotGroupsPushesVersionScope(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.Titles.Create(ctx, "admin", "h", appTitle("zoom"), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	v, err := h.Versions.Create(ctx, "admin", "h", newVersion("zoom", "1.0.0"), nil)
	if err != nil {
		t.Fatalf("Create version: %v", err)
	}

	updated := *created
	updated.PilotGroups = []string{"pilot-team-a"}
	if _, err := h.Titles.Update(ctx, "admin", "h", &updated, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}

	autoPolicy, ok := h.Fleet.Policy(v.FleetAutoPolicyID)
	if !ok {
		t.Fatalf("expected auto-install policy to exist")
	}
	found := false
	for _, g := range autoPolicy.Scope.TargetGroupIDs {
		if g == "pilot-team-a" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected auto-install policy scope to include new pilot group, got %+v", autoPolicy.Scope)
	}
}

// Title.delete cascades into every version (oldest first) before tearing
// down the title's own Catalog/Fleet objects and finalizing the changelog.
func TestTitleDeleteCascadesVersionsAndTeardown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	title, err := h.Titles.Create(ctx, "admin", "h", appTitle("zoom"), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, v := range []string{"1.0.0", "2.0.0"} {
		if _, err := h.Versions.Create(ctx, "admin", "h", newVersion("zoom", v), nil); err != nil {
			t.Fatalf("Create version %s: %v", v, err)
		}
	}

	if err := h.Titles.Delete(ctx, "admin", "h", "zoom", nil); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if h.Store.TitleExists("zoom") {
		t.Fatalf("expected title directory removed")
	}
	if _, err := h.Store.LoadVersion("zoom", "1.0.0"); err == nil {
		t.Fatalf("expected version 1.0.0 removed by cascade delete")
	}
	if _, err := h.Store.LoadVersion("zoom", "2.0.0"); err == nil {
		t.Fatalf("expected version 2.0.0 removed by cascade delete")
	}
	if _, ok := h.Fleet.Groups[title.FleetInstalledGroupID]; ok {
		t.Fatalf("expected installed group deleted")
	}
}

// Freeze adds a client to the frozen static group without touching any
// other scoping; Thaw removes it again.
func TestTitleFreezeAndThaw(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.Titles.Create(ctx, "admin", "h", appTitle("zoom"), nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	title, err := h.Titles.Freeze(ctx, "admin", "h", "zoom", "client-42", nil)
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	members := h.Fleet.GroupMembersOf(title.FleetFrozenGroupID)
	if !contains(members, "client-42") {
		t.Fatalf("expected client-42 in frozen group, got %v", members)
	}

	title, err = h.Titles.Thaw(ctx, "admin", "h", "zoom", "client-42", nil)
	if err != nil {
		t.Fatalf("Thaw: %v", err)
	}
	members = h.Fleet.GroupMembersOf(title.FleetFrozenGroupID)
	if contains(members, "client-42") {
		t.Fatalf("expected client-42 removed from frozen group, got %v", members)
	}
}

// Repair re-creates a Catalog title that vanished out from under Xolo and
// reconciles a stale version_order entry whose file is gone.
func TestTitleRepairRestoresCatalogAndVersionOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.Titles.Create(ctx, "admin", "h", appTitle("zoom"), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := h.Versions.Create(ctx, "admin", "h", newVersion("zoom", "1.0.0"), nil); err != nil {
		t.Fatalf("Create version: %v", err)
	}

	// Simulate the external catalog losing the title and a version file
	// disappearing without its order entry being cleaned up.
	if err := h.Catalog.DeleteTitle(ctx, "zoom"); err != nil {
		t.Fatalf("simulate catalog loss: %v", err)
	}
	stored, err := h.Store.LoadTitle("zoom")
	if err != nil {
		t.Fatalf("LoadTitle: %v", err)
	}
	stored.VersionOrder = append([]string{"9.9.9"}, stored.VersionOrder...)
	if err := h.Store.SaveTitle(stored); err != nil {
		t.Fatalf("SaveTitle: %v", err)
	}

	repaired, err := h.Titles.Repair(ctx, "admin", "h", "zoom", nil)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}

	exists, err := h.Catalog.TitleExists(ctx, "zoom")
	if err != nil || !exists {
		t.Fatalf("expected catalog title re-created, exists=%v err=%v", exists, err)
	}
	if repaired.VersionIndex("9.9.9") != -1 {
		t.Fatalf("expected phantom 9.9.9 dropped from version_order, got %v", repaired.VersionOrder)
	}
	if repaired.VersionIndex("1.0.0") == -1 {
		t.Fatalf("expected 1.0.0 kept in version_order, got %v", repaired.VersionOrder)
	}

	entries, err := loadChangelog(h, "zoom")
	if err != nil {
		t.Fatalf("changelog read: %v", err)
	}
	if entries[len(entries)-1].Message != "Title Repaired" {
		t.Fatalf("expected final changelog entry Title Repaired, got %+v", entries[len(entries)-1])
	}
	_ = created
}

// A consistent title repairs as a no-op: no changelog entry appended.
func TestTitleRepairNoopWhenConsistent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.Titles.Create(ctx, "admin", "h", appTitle("zoom"), nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	before, err := loadChangelog(h, "zoom")
	if err != nil {
		t.Fatalf("changelog read: %v", err)
	}

	if _, err := h.Titles.Repair(ctx, "admin", "h", "zoom", nil); err != nil {
		t.Fatalf("Repair: %v", err)
	}

	after, err := loadChangelog(h, "zoom")
	if err != nil {
		t.Fatalf("changelog read: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("expected no changelog entry for a no-op repair, before=%d after=%d", len(before), len(after))
	}
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func newVersion(slug, version string) *xolo.Version {
	return &xolo.Version{
		Title:   slug,
		Version: version,
		MinOS:   "12.0",
		State:   xolo.StatePending,
	}
}

func loadChangelog(h *harness, slug string) ([]xolo.ChangelogEntry, error) {
	return changelog.New(h.Store, nil).Read(slug)
}
