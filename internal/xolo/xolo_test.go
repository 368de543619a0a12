package xolo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTitle_HasRequirement(t *testing.T) {
	cases := []struct {
		name string
		t    Title
		want bool
	}{
		{"app only", Title{AppName: "Firefox", AppBundleID: "org.mozilla.firefox"}, true},
		{"script only", Title{VersionScript: "#!/bin/sh\necho 1"}, true},
		{"neither", Title{}, false},
		{"both", Title{AppName: "Firefox", AppBundleID: "org.mozilla.firefox", VersionScript: "x"}, false},
		{"partial app", Title{AppName: "Firefox"}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, c.t.HasRequirement())
		})
	}
}

func TestTitle_HasUninstallConfig(t *testing.T) {
	assert.True(t, (&Title{}).HasUninstallConfig())
	assert.True(t, (&Title{UninstallScript: "x"}).HasUninstallConfig())
	assert.True(t, (&Title{UninstallIDs: []string{"a"}}).HasUninstallConfig())
	assert.False(t, (&Title{UninstallScript: "x", UninstallIDs: []string{"a"}}).HasUninstallConfig())
}

func TestTitle_VersionOrdering(t *testing.T) {
	ti := &Title{VersionOrder: []string{"2.0.0", "1.0.0"}}
	ti.PrependVersion("3.0.0")
	assert.Equal(t, []string{"3.0.0", "2.0.0", "1.0.0"}, ti.VersionOrder)
	assert.Equal(t, 0, ti.VersionIndex("3.0.0"))
	assert.Equal(t, -1, ti.VersionIndex("9.9.9"))

	ti.RemoveVersion("2.0.0")
	assert.Equal(t, []string{"3.0.0", "1.0.0"}, ti.VersionOrder)
}

func TestClassifyTransition(t *testing.T) {
	app := NewAppRequirement("Firefox", "org.mozilla.firefox")
	app2 := NewAppRequirement("Firefox", "org.mozilla.firefox.new")
	ea := NewEARequirement("#!/bin/sh\necho 1")
	ea2 := NewEARequirement("#!/bin/sh\necho 2")

	assert.Equal(t, TransitionAppToEA, ClassifyTransition(app, ea))
	assert.Equal(t, TransitionEAToApp, ClassifyTransition(ea, app))
	assert.Equal(t, TransitionUpdateApp, ClassifyTransition(app, app2))
	assert.Equal(t, TransitionUpdateEA, ClassifyTransition(ea, ea2))
	assert.Equal(t, TransitionNone, ClassifyTransition(app, app))
	assert.Equal(t, TransitionNone, ClassifyTransition(ea, ea))
}

func TestRequirementOf(t *testing.T) {
	appTitle := &Title{AppName: "Firefox", AppBundleID: "org.mozilla.firefox"}
	req := RequirementOf(appTitle)
	assert.Equal(t, RequirementApp, req.Kind)
	assert.Equal(t, "Firefox", req.AppName)

	eaTitle := &Title{VersionScript: "#!/bin/sh\necho 1"}
	req = RequirementOf(eaTitle)
	assert.Equal(t, RequirementEA, req.Kind)
	assert.Equal(t, "#!/bin/sh\necho 1", req.Script)
}

func TestTitle_Validate(t *testing.T) {
	valid := &Title{
		Slug:        "firefox",
		DisplayName: "Firefox",
		AppName:     "Firefox",
		AppBundleID: "org.mozilla.firefox",
	}
	require.NoError(t, valid.Validate())

	neither := &Title{Slug: "firefox", DisplayName: "Firefox"}
	err := neither.Validate()
	require.Error(t, err)

	both := &Title{
		Slug: "firefox", DisplayName: "Firefox",
		AppName: "Firefox", AppBundleID: "org.mozilla.firefox",
		VersionScript: "#!/bin/sh\necho 1",
	}
	require.Error(t, both.Validate())

	badUninstall := &Title{
		Slug: "firefox", DisplayName: "Firefox",
		AppName: "Firefox", AppBundleID: "org.mozilla.firefox",
		UninstallScript: "x", UninstallIDs: []string{"y"},
	}
	require.Error(t, badUninstall.Validate())
}

func TestVersion_Validate(t *testing.T) {
	v := &Version{
		Title: "firefox", Version: "1.0.0", MinOS: "11.0", State: StatePending,
	}
	require.NoError(t, v.Validate())

	v.State = "bogus"
	require.Error(t, v.Validate())
}

func TestVersion_EffectivePilotGroups(t *testing.T) {
	ti := &Title{PilotGroups: []string{"it-pilot"}}
	v := &Version{}
	assert.Equal(t, []string{"it-pilot"}, v.EffectivePilotGroups(ti))

	v.PilotGroups = []string{"custom-pilot"}
	assert.Equal(t, []string{"custom-pilot"}, v.EffectivePilotGroups(ti))
}

func TestVersion_HasInstaller(t *testing.T) {
	v := &Version{}
	assert.False(t, v.HasInstaller())
	v.FleetPackageID = "pkg-1"
	assert.True(t, v.HasInstaller())
}

func TestVersion_IsTerminal(t *testing.T) {
	assert.True(t, (&Version{State: StateDeprecated}).IsTerminal())
	assert.True(t, (&Version{State: StateSkipped}).IsTerminal())
	assert.False(t, (&Version{State: StatePilot}).IsTerminal())
}
