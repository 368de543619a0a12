package xoloversion_test

import (
	"context"
	"testing"
	"time"

	"github.com/xolohq/xolo/internal/changelog"
	"github.com/xolohq/xolo/internal/fleet"
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

// harness bundles a fully-wired xolotitle.Service + xoloversion.Service
// against an isolated temp-dir store and in-memory Catalog/Fleet fakes,
// the shape every end-to-end scenario below exercises.
type harness struct {
	Titles   *xolotitle.Service
	Versions *xoloversion.Service
	Catalog  *xolotesting.FakeCatalog
	Fleet    *xolotesting.FakeFleet
	Store    *store.Store
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

	return &harness{Titles: titles, Versions: versions, Catalog: fakeCat, Fleet: fakeFleet, Store: st}
}

func eaTitle(slug string) *xolo.Title {
	return &xolo.Title{
		Slug:          slug,
		DisplayName:   "Firefox",
		Publisher:     "Mozilla",
		VersionScript: "#!/bin/sh\necho 1.0",
	}
}

func newVersion(slug, version string) *xolo.Version {
	return &xolo.Version{
		Title:   slug,
		Version: version,
		MinOS:   "12.0",
		State:   xolo.StatePending,
	}
}

// Scenario 1: create title, add version, release.
func TestCreateAddReleaseScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	title, err := h.Titles.Create(ctx, "admin", "host1", eaTitle("firefox"), nil)
	if err != nil {
		t.Fatalf("Create title: %v", err)
	}

	v, err := h.Versions.Create(ctx, "admin", "host1", newVersion("firefox", "1.0.0"), nil)
	if err != nil {
		t.Fatalf("Create version: %v", err)
	}
	if v.State != xolo.StatePilot {
		t.Fatalf("expected version state pilot after create, got %s", v.State)
	}

	updatedTitle, err := h.Versions.Release(ctx, "admin", "host1", "firefox", "1.0.0", nil)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if updatedTitle.ReleasedVersion != "1.0.0" {
		t.Fatalf("expected released_version=1.0.0, got %q", updatedTitle.ReleasedVersion)
	}

	stored, err := h.Store.LoadVersion("firefox", "1.0.0")
	if err != nil {
		t.Fatalf("LoadVersion: %v", err)
	}
	if stored.State != xolo.StateReleased {
		t.Fatalf("expected stored version state released, got %s", stored.State)
	}

	entries, err := loadChangelog(h, "firefox")
	if err != nil {
		t.Fatalf("changelog read: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 changelog entries, got %d: %+v", len(entries), entries)
	}
	wantMessages := []string{"Title Created", "Version 1.0.0 created", "version released: 1.0.0"}
	for i, want := range wantMessages {
		if entries[i].Message != want {
			t.Errorf("entry %d: got message %q, want %q", i, entries[i].Message, want)
		}
	}

	manual, ok := h.Fleet.Policy(stored.FleetManualPolicyID)
	if !ok {
		t.Fatalf("manual-install policy missing")
	}
	if manual.PackageID != stored.FleetPackageID {
		t.Fatalf("manual-install policy package = %q, want %q", manual.PackageID, stored.FleetPackageID)
	}

	installLatest, ok := h.Fleet.Policy(updatedTitle.FleetInstallLatestID)
	if !ok {
		t.Fatalf("install-latest policy missing")
	}
	if installLatest.PackageID != stored.FleetPackageID {
		t.Fatalf("install-latest policy package = %q, want %q", installLatest.PackageID, stored.FleetPackageID)
	}
	_ = title
}

// Scenario 2: rollback — releasing an older version demotes
// the current release and restores newer deprecated/skipped versions to
// pilot.
func TestReleaseRollbackScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.Titles.Create(ctx, "admin", "h", eaTitle("app"), nil); err != nil {
		t.Fatalf("Create title: %v", err)
	}
	for _, v := range []string{"1.0.0", "1.5.0", "2.0.0"} {
		if _, err := h.Versions.Create(ctx, "admin", "h", newVersion("app", v), nil); err != nil {
			t.Fatalf("Create version %s: %v", v, err)
		}
	}
	// The real patch policy is only created by the patch-visibility watcher,
	// which ticks on a 15s real-time interval — simulate it having already
	// completed for 1.5.0 so the rollback's allow_downgrade wiring can be
	// exercised without a real-time wait.
	simulatePatchPolicyCreated(t, h, "app", "1.5.0")

	if _, err := h.Versions.Release(ctx, "admin", "h", "app", "2.0.0", nil); err != nil {
		t.Fatalf("release 2.0.0: %v", err)
	}

	title, err := h.Versions.Release(ctx, "admin", "h", "app", "1.5.0", nil)
	if err != nil {
		t.Fatalf("release 1.5.0 (rollback): %v", err)
	}
	if title.ReleasedVersion != "1.5.0" {
		t.Fatalf("expected released_version=1.5.0, got %q", title.ReleasedVersion)
	}

	v200, err := h.Store.LoadVersion("app", "2.0.0")
	if err != nil {
		t.Fatalf("LoadVersion 2.0.0: %v", err)
	}
	if v200.State != xolo.StateDeprecated {
		t.Fatalf("expected 2.0.0 deprecated after rollback, got %s", v200.State)
	}

	v150, err := h.Store.LoadVersion("app", "1.5.0")
	if err != nil {
		t.Fatalf("LoadVersion 1.5.0: %v", err)
	}
	if v150.State != xolo.StateReleased {
		t.Fatalf("expected 1.5.0 released, got %s", v150.State)
	}
	patchPolicy, ok := h.Fleet.Policy(v150.FleetPatchPolicyID)
	if !ok || !patchPolicy.AllowDowngrade {
		t.Fatalf("expected 1.5.0's patch policy to have allow_downgrade=true, got %+v (ok=%v)", patchPolicy, ok)
	}

	v100, err := h.Store.LoadVersion("app", "1.0.0")
	if err != nil {
		t.Fatalf("LoadVersion 1.0.0: %v", err)
	}
	if v100.State != xolo.StateSkipped {
		t.Fatalf("expected 1.0.0 skipped (it is older than the new release target), got %s", v100.State)
	}
}

// A rollback over two different states above the new target: a
// previously-released version (demoted to deprecated, as in the plain
// rollback test) and a previously-skipped version (restored to pilot, the
// release state machine's third branch the plain rollback alone doesn't
// reach).
func TestReleaseRollbackRestoresSkippedToPilot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.Titles.Create(ctx, "admin", "h", eaTitle("app"), nil); err != nil {
		t.Fatalf("Create title: %v", err)
	}
	for _, v := range []string{"1.0.0", "2.0.0", "3.0.0", "4.0.0"} {
		if _, err := h.Versions.Create(ctx, "admin", "h", newVersion("app", v), nil); err != nil {
			t.Fatalf("Create version %s: %v", v, err)
		}
	}

	// Release 4.0.0 first: everything older (1.0.0, 2.0.0, 3.0.0) is still in
	// pilot and becomes skipped.
	if _, err := h.Versions.Release(ctx, "admin", "h", "app", "4.0.0", nil); err != nil {
		t.Fatalf("release 4.0.0: %v", err)
	}
	for _, v := range []string{"1.0.0", "2.0.0", "3.0.0"} {
		loaded, _ := h.Store.LoadVersion("app", v)
		if loaded.State != xolo.StateSkipped {
			t.Fatalf("expected %s skipped, got %s", v, loaded.State)
		}
	}

	// Roll back to 2.0.0. Above the new target: 3.0.0 was skipped and is
	// restored to pilot; 4.0.0 was released and is demoted to deprecated.
	// Below the target, 1.0.0 stays skipped (transitionBelowTarget is a
	// no-op once a version is already skipped).
	if _, err := h.Versions.Release(ctx, "admin", "h", "app", "2.0.0", nil); err != nil {
		t.Fatalf("release 2.0.0 (rollback): %v", err)
	}

	v100, _ := h.Store.LoadVersion("app", "1.0.0")
	if v100.State != xolo.StateSkipped {
		t.Fatalf("expected 1.0.0 still skipped, got %s", v100.State)
	}
	v200, _ := h.Store.LoadVersion("app", "2.0.0")
	if v200.State != xolo.StateReleased {
		t.Fatalf("expected 2.0.0 released, got %s", v200.State)
	}
	v300, _ := h.Store.LoadVersion("app", "3.0.0")
	if v300.State != xolo.StatePilot {
		t.Fatalf("expected 3.0.0 restored to pilot on rollback, got %s", v300.State)
	}
	v400, _ := h.Store.LoadVersion("app", "4.0.0")
	if v400.State != xolo.StateDeprecated {
		t.Fatalf("expected 4.0.0 deprecated after rollback, got %s", v400.State)
	}
}

// Boundary: releasing a nonexistent version raises NotFound.
func TestReleaseNonexistentVersionIsNotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.Titles.Create(ctx, "admin", "h", eaTitle("app"), nil); err != nil {
		t.Fatalf("Create title: %v", err)
	}
	_, err := h.Versions.Release(ctx, "admin", "h", "app", "9.9.9", nil)
	if !xoloerr.Is(err, xoloerr.NotFound) {
		t.Fatalf("expected NotFound releasing a nonexistent version, got %v", err)
	}
}

// Boundary: releasing the version that is already released raises
// InvalidData rather than silently re-applying the transition.
func TestReleaseAlreadyReleasedIsInvalidData(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.Titles.Create(ctx, "admin", "h", eaTitle("app"), nil); err != nil {
		t.Fatalf("Create title: %v", err)
	}
	if _, err := h.Versions.Create(ctx, "admin", "h", newVersion("app", "1.0.0"), nil); err != nil {
		t.Fatalf("Create version: %v", err)
	}
	if _, err := h.Versions.Release(ctx, "admin", "h", "app", "1.0.0", nil); err != nil {
		t.Fatalf("release 1.0.0: %v", err)
	}
	_, err := h.Versions.Release(ctx, "admin", "h", "app", "1.0.0", nil)
	if !xoloerr.Is(err, xoloerr.InvalidData) {
		t.Fatalf("expected InvalidData releasing the current release again, got %v", err)
	}
}

func TestVersionCreateDuplicateIsAlreadyExists(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.Titles.Create(ctx, "admin", "h", eaTitle("app"), nil); err != nil {
		t.Fatalf("Create title: %v", err)
	}
	if _, err := h.Versions.Create(ctx, "admin", "h", newVersion("app", "1.0.0"), nil); err != nil {
		t.Fatalf("Create version: %v", err)
	}
	_, err := h.Versions.Create(ctx, "admin", "h", newVersion("app", "1.0.0"), nil)
	if !xoloerr.Is(err, xoloerr.AlreadyExists) {
		t.Fatalf("expected AlreadyExists creating duplicate version, got %v", err)
	}
}

// Version.delete tears down Fleet policies, queues the package for async
// deletion, removes the Catalog patch, and drops the version from the
// title's order.
func TestVersionDeleteTeardown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.Titles.Create(ctx, "admin", "h", eaTitle("app"), nil); err != nil {
		t.Fatalf("Create title: %v", err)
	}
	v, err := h.Versions.Create(ctx, "admin", "h", newVersion("app", "1.0.0"), nil)
	if err != nil {
		t.Fatalf("Create version: %v", err)
	}

	if err := h.Versions.Delete(ctx, "admin", "h", "app", "1.0.0", nil); err != nil {
		t.Fatalf("Delete version: %v", err)
	}

	if _, err := h.Store.LoadVersion("app", "1.0.0"); err == nil {
		t.Fatalf("expected version file to be removed")
	}
	title, err := h.Store.LoadTitle("app")
	if err != nil {
		t.Fatalf("LoadTitle: %v", err)
	}
	if title.VersionIndex("1.0.0") != -1 {
		t.Fatalf("expected 1.0.0 removed from version_order, got %v", title.VersionOrder)
	}
	if _, ok := h.Fleet.Policy(v.FleetManualPolicyID); ok {
		t.Fatalf("expected manual-install policy deleted")
	}
}

func loadChangelog(h *harness, slug string) ([]xolo.ChangelogEntry, error) {
	return changelog.New(h.Store, nil).Read(slug)
}

// simulatePatchPolicyCreated mimics what the patch-visibility watcher's
// onVisible callback does once Catalog reports the patch visible: create a
// disabled patch policy and persist its id on the version. Tests use this to
// exercise release's patch-policy wiring without waiting on the watcher's
// real 15s poll interval.
func simulatePatchPolicyCreated(t *testing.T, h *harness, slug, version string) {
	t.Helper()
	v, err := h.Store.LoadVersion(slug, version)
	if err != nil {
		t.Fatalf("LoadVersion %s/%s: %v", slug, version, err)
	}
	title, err := h.Store.LoadTitle(slug)
	if err != nil {
		t.Fatalf("LoadTitle %s: %v", slug, err)
	}
	policyID, err := h.Fleet.CreatePolicy(context.Background(), policySpecFor(title, v))
	if err != nil {
		t.Fatalf("simulate patch policy create: %v", err)
	}
	v.FleetPatchPolicyID = policyID
	if err := h.Store.SaveVersion(v); err != nil {
		t.Fatalf("save version after simulated patch policy: %v", err)
	}
}

func policySpecFor(title *xolo.Title, v *xolo.Version) fleet.PolicySpec {
	return fleet.PolicySpec{
		Name:      "xolo-" + title.Slug + "-patch-" + v.Version,
		Kind:      fleet.PolicyPatch,
		Scope:     fleet.Scope{TargetGroupIDs: []string{title.FleetInstalledGroupID}, ExcludedGroupIDs: []string{title.FleetFrozenGroupID}},
		PackageID: v.FleetPackageID,
		Enabled:   false,
	}
}
