package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xolohq/xolo/internal/xolo"
	"github.com/xolohq/xolo/internal/xoloerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), 8)
	require.NoError(t, err)
	return s
}

func TestStore_SaveLoadTitle(t *testing.T) {
	s := newTestStore(t)
	ti := &xolo.Title{Slug: "firefox", DisplayName: "Firefox", AppName: "Firefox", AppBundleID: "org.mozilla.firefox"}

	require.NoError(t, s.SaveTitle(ti))
	assert.True(t, s.TitleExists("firefox"))

	loaded, err := s.LoadTitle("firefox")
	require.NoError(t, err)
	assert.Equal(t, ti.Slug, loaded.Slug)
	assert.Equal(t, ti.AppBundleID, loaded.AppBundleID)
}

func TestStore_LoadTitle_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadTitle("nonexistent")
	require.Error(t, err)
	assert.True(t, xoloerr.Is(err, xoloerr.NotFound))
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	// round-trip law: save(load(t)) == t
	s := newTestStore(t)
	ti := &xolo.Title{
		Slug: "chrome", DisplayName: "Chrome", AppName: "Chrome", AppBundleID: "com.google.chrome",
		PilotGroups: []string{"it-pilot"}, VersionOrder: []string{"2.0.0", "1.0.0"},
	}
	require.NoError(t, s.SaveTitle(ti))

	loaded, err := s.LoadTitle("chrome")
	require.NoError(t, err)
	require.NoError(t, s.SaveTitle(loaded))

	reloaded, err := s.LoadTitle("chrome")
	require.NoError(t, err)
	assert.Equal(t, loaded, reloaded)
}

func TestStore_EnumerateTitles(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveTitle(&xolo.Title{Slug: "b-title", DisplayName: "B"}))
	require.NoError(t, s.SaveTitle(&xolo.Title{Slug: "a-title", DisplayName: "A"}))

	slugs, err := s.EnumerateTitles()
	require.NoError(t, err)
	assert.Equal(t, []string{"a-title", "b-title"}, slugs)
}

func TestStore_DeleteTitleDir(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveTitle(&xolo.Title{Slug: "firefox", DisplayName: "Firefox"}))
	require.NoError(t, s.DeleteTitleDir("firefox"))
	assert.False(t, s.TitleExists("firefox"))

	_, err := s.LoadTitle("firefox")
	require.Error(t, err)
}

func TestStore_SaveLoadVersion(t *testing.T) {
	s := newTestStore(t)
	v := &xolo.Version{Title: "firefox", Version: "1.0.0", MinOS: "11.0", State: xolo.StatePending}
	require.NoError(t, s.SaveVersion(v))

	loaded, err := s.LoadVersion("firefox", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, v.MinOS, loaded.MinOS)
	assert.Equal(t, v.State, loaded.State)
}

func TestStore_EnumerateVersions(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveVersion(&xolo.Version{Title: "firefox", Version: "1.0.0", MinOS: "11.0", State: xolo.StatePending}))
	require.NoError(t, s.SaveVersion(&xolo.Version{Title: "firefox", Version: "2.0.0", MinOS: "11.0", State: xolo.StatePending}))

	versions, err := s.EnumerateVersions("firefox")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0", "2.0.0"}, versions)
}

func TestStore_DeleteVersion(t *testing.T) {
	s := newTestStore(t)
	v := &xolo.Version{Title: "firefox", Version: "1.0.0", MinOS: "11.0", State: xolo.StatePending}
	require.NoError(t, s.SaveVersion(v))
	require.NoError(t, s.DeleteVersion("firefox", "1.0.0"))

	_, err := s.LoadVersion("firefox", "1.0.0")
	require.Error(t, err)
	assert.True(t, xoloerr.Is(err, xoloerr.NotFound))
}

func TestStore_VersionScript(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.WriteVersionScript("firefox", "#!/bin/sh\necho 1"))

	content, err := s.ReadVersionScript("firefox")
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho 1", content)

	require.NoError(t, s.DeleteVersionScript("firefox"))
	_, err = s.ReadVersionScript("firefox")
	require.Error(t, err)
}

func TestStore_Icon(t *testing.T) {
	s := newTestStore(t)
	name, err := s.WriteIcon("firefox", "png", []byte("fake-png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "self-service-icon.png", name)

	located, err := s.LocateIcon("firefox")
	require.NoError(t, err)
	assert.Equal(t, name, located)

	// writing a new icon with a different extension replaces the old one
	name2, err := s.WriteIcon("firefox", "jpg", []byte("fake-jpg-bytes"))
	require.NoError(t, err)
	located2, err := s.LocateIcon("firefox")
	require.NoError(t, err)
	assert.Equal(t, name2, located2)
	assert.NotEqual(t, name, name2)

	require.NoError(t, s.DeleteIcon("firefox"))
	located3, err := s.LocateIcon("firefox")
	require.NoError(t, err)
	assert.Equal(t, "", located3)
}

func TestStore_CacheInvalidation(t *testing.T) {
	s := newTestStore(t)
	ti := &xolo.Title{Slug: "firefox", DisplayName: "Firefox v1"}
	require.NoError(t, s.SaveTitle(ti))

	ti.DisplayName = "Firefox v2"
	require.NoError(t, s.SaveTitle(ti))

	loaded, err := s.LoadTitle("firefox")
	require.NoError(t, err)
	assert.Equal(t, "Firefox v2", loaded.DisplayName)
}
