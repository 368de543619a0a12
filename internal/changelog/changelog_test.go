package changelog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xolohq/xolo/internal/xolo"
)

type fakePaths struct {
	dir string
}

func (p *fakePaths) ChangelogPath(slug string) string {
	return filepath.Join(p.dir, slug+".jsonl")
}

func (p *fakePaths) BackupsDir() string {
	return filepath.Join(p.dir, "backups")
}

func newTestManager(t *testing.T) (*Manager, *fakePaths) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	paths := &fakePaths{dir: dir}
	return New(paths, nil), paths
}

func TestAppend_StrictExtension(t *testing.T) {
	// the changelog must be a strict extension of its prior content
	m, paths := newTestManager(t)

	require.NoError(t, m.Append("firefox", xolo.ChangelogEntry{Admin: "alice", Message: "Title Created"}))
	require.NoError(t, m.Append("firefox", xolo.ChangelogEntry{Admin: "alice", Message: "Version 1.0.0 created", Version: "1.0.0"}))

	data, err := os.ReadFile(paths.ChangelogPath("firefox"))
	require.NoError(t, err)

	entries, err := m.Read("firefox")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Title Created", entries[0].Message)
	assert.Equal(t, "Version 1.0.0 created", entries[1].Message)

	require.NoError(t, m.Append("firefox", xolo.ChangelogEntry{Admin: "alice", Message: "version released: 1.0.0", Version: "1.0.0"}))
	newData, err := os.ReadFile(paths.ChangelogPath("firefox"))
	require.NoError(t, err)
	assert.Contains(t, string(newData), string(data))
	assert.Greater(t, len(newData), len(data))
}

func TestAppend_BacksUpBeforeWrite(t *testing.T) {
	m, paths := newTestManager(t)
	require.NoError(t, m.Append("firefox", xolo.ChangelogEntry{Message: "Title Created"}))
	require.NoError(t, m.Append("firefox", xolo.ChangelogEntry{Message: "second"}))

	backup, err := os.ReadFile(m.backupPath("firefox"))
	require.NoError(t, err)
	// the backup taken before the second append should contain only the first entry
	assert.Contains(t, string(backup), "Title Created")
	assert.NotContains(t, string(backup), "\"second\"")
	_ = paths
}

func TestRead_EmptyChangelog(t *testing.T) {
	m, _ := newTestManager(t)
	entries, err := m.Read("nonexistent")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFinalize_ArchivesAndAppendsDeletedEntry(t *testing.T) {
	m, paths := newTestManager(t)
	require.NoError(t, m.Append("firefox", xolo.ChangelogEntry{Message: "Title Created"}))

	require.NoError(t, m.Finalize("firefox", "alice", "admin.local"))

	_, err := os.Stat(paths.ChangelogPath("firefox"))
	assert.True(t, os.IsNotExist(err), "changelog file should be renamed away")

	entries, err := os.ReadDir(paths.BackupsDir())
	require.NoError(t, err)
	var foundArchive bool
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".jsonl" {
			foundArchive = true
			data, err := os.ReadFile(filepath.Join(paths.BackupsDir(), e.Name()))
			require.NoError(t, err)
			assert.Contains(t, string(data), "Title Deleted")
			assert.Contains(t, string(data), "Title Created")
		}
	}
	assert.True(t, foundArchive, "expected an archived .jsonl changelog in the backups dir")
}

func TestConcurrentAppends_SameTitleSerialized(t *testing.T) {
	m, _ := newTestManager(t)
	const n = 50
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			_ = m.Append("firefox", xolo.ChangelogEntry{Message: "entry"})
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < n; i++ {
		<-done
	}
	entries, err := m.Read("firefox")
	require.NoError(t, err)
	assert.Len(t, entries, n)
}
