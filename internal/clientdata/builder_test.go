package clientdata

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xolohq/xolo/internal/fleet"
	"github.com/xolohq/xolo/internal/store"
	"github.com/xolohq/xolo/internal/xolo"
	"github.com/xolohq/xolo/internal/xoloconfig"
)

// fakeFleet implements fleet.Client with no-op bodies except
// FlushPolicyLogs, which records its argument for assertions.
type fakeFleet struct {
	flushedPolicyID string
}

func (f *fakeFleet) Login(ctx context.Context, username, password string) (fleet.Session, error) {
	return fleet.Session{}, nil
}
func (f *fakeFleet) EnsureCategory(ctx context.Context, name string) (string, error) { return "", nil }
func (f *fakeFleet) CreateGroup(ctx context.Context, name string, kind fleet.GroupKind, criteria map[string]interface{}) (string, error) {
	return "", nil
}
func (f *fakeFleet) UpdateGroupCriteria(ctx context.Context, groupID string, criteria map[string]interface{}) error {
	return nil
}
func (f *fakeFleet) UpdateStaticGroupMembers(ctx context.Context, groupID string, memberIDs []string) error {
	return nil
}
func (f *fakeFleet) DeleteGroup(ctx context.Context, groupID string) error { return nil }
func (f *fakeFleet) CreatePackage(ctx context.Context, spec fleet.PackageSpec) (fleet.Package, error) {
	return fleet.Package{}, nil
}
func (f *fakeFleet) UpdatePackage(ctx context.Context, packageID string, spec fleet.PackageSpec) error {
	return nil
}
func (f *fakeFleet) DeletePackage(ctx context.Context, packageID string) error { return nil }
func (f *fakeFleet) UploadPackage(ctx context.Context, packageID, localPath string) error {
	return nil
}
func (f *fakeFleet) CreatePolicy(ctx context.Context, spec fleet.PolicySpec) (string, error) {
	return "", nil
}
func (f *fakeFleet) UpdatePolicy(ctx context.Context, policyID string, patch fleet.PolicyUpdate) error {
	return nil
}
func (f *fakeFleet) EnablePolicy(ctx context.Context, policyID string) error  { return nil }
func (f *fakeFleet) DisablePolicy(ctx context.Context, policyID string) error { return nil }
func (f *fakeFleet) DeletePolicy(ctx context.Context, policyID string) error { return nil }
func (f *fakeFleet) ActivatePatchTitle(ctx context.Context, slug, catalogTitleID string) (string, error) {
	return "", nil
}
func (f *fakeFleet) DeactivatePatchTitle(ctx context.Context, fleetPatchTitleID string) error {
	return nil
}
func (f *fakeFleet) AssignPatchPackage(ctx context.Context, fleetPatchTitleID, version, packageID string) error {
	return nil
}
func (f *fakeFleet) UpsertNormalEA(ctx context.Context, criteria fleet.EACriteria) (string, error) {
	return "", nil
}
func (f *fakeFleet) DeleteEA(ctx context.Context, eaID string) error { return nil }
func (f *fakeFleet) EAAcceptanceStatus(ctx context.Context, titleSlug string) (fleet.EAAcceptance, error) {
	return fleet.EAAcceptance{}, nil
}
func (f *fakeFleet) AcceptEA(ctx context.Context, titleSlug string) error { return nil }
func (f *fakeFleet) UploadIcon(ctx context.Context, localPath string) (string, error) {
	return "", nil
}
func (f *fakeFleet) DeployMDM(ctx context.Context, deviceGroupID, packageID string) error {
	return nil
}
func (f *fakeFleet) IsGroupMember(ctx context.Context, groupID, principal string) (bool, error) {
	return false, nil
}
func (f *fakeFleet) FlushPolicyLogs(ctx context.Context, policyID string) error {
	f.flushedPolicyID = policyID
	return nil
}

var _ fleet.Client = (*fakeFleet)(nil)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(t.TempDir(), 0)
	require.NoError(t, err)
	return st
}

func seedTitle(t *testing.T, st *store.Store) {
	t.Helper()
	title := &xolo.Title{
		Slug:                  "firefox",
		DisplayName:           "Firefox",
		Publisher:             "Mozilla",
		AppName:               "Firefox.app",
		AppBundleID:           "org.mozilla.firefox",
		PilotGroups:           []string{"pilot-mac"},
		ReleaseGroups:         []string{"all-mac"},
		ExcludedGroups:        []string{"contractors"},
		ExpirationDays:        30,
		VersionOrder:          []string{"2.0.0", "1.0.0"},
		ReleasedVersion:       "1.0.0",
		FleetFrozenGroupID:    "frozen-firefox",
		CreatedAt:             time.Now(),
		CreatedBy:             "alice",
	}
	require.NoError(t, st.SaveTitle(title))

	require.NoError(t, st.SaveVersion(&xolo.Version{
		Title: "firefox", Version: "1.0.0", MinOS: "11.0", State: xolo.StateReleased,
	}))
	require.NoError(t, st.SaveVersion(&xolo.Version{
		Title: "firefox", Version: "2.0.0", MinOS: "12.0", State: xolo.StatePilot,
	}))
}

func TestBuild_DeveloperModeSkipsPackagingAndUpload(t *testing.T) {
	st := newTestStore(t)
	seedTitle(t, st)

	ff := &fakeFleet{}
	cfg := xoloconfig.ClientDataConfig{
		OutputDir:              t.TempDir(),
		DeveloperMode:          true,
		ForcedExclusionGroupID: "quarantine",
		DeploymentPolicyID:     "policy-1",
	}
	b := New(st, ff, cfg, nil)

	res, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 1, res.TitleCount)
	assert.Empty(t, res.PackagePath)
	assert.Empty(t, ff.flushedPolicyID, "developer mode must not flush policy logs")

	data, err := os.ReadFile(res.SnapshotPath)
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	require.Contains(t, snap.Titles, "firefox")

	firefox := snap.Titles["firefox"]
	assert.ElementsMatch(t, []string{"contractors", "quarantine", "frozen-firefox"}, firefox.ExcludedGroups)
	assert.Len(t, firefox.Versions, 2)
	assert.Equal(t, "1.0.0", firefox.ReleasedVersion)
}

func TestBuild_NoTitlesProducesEmptySnapshot(t *testing.T) {
	st := newTestStore(t)
	b := New(st, &fakeFleet{}, xoloconfig.ClientDataConfig{OutputDir: t.TempDir(), DeveloperMode: true}, nil)

	res, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.TitleCount)
}
