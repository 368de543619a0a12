package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xolohq/xolo/internal/auditindex/auditrecord"
	"github.com/xolohq/xolo/internal/xolo"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := New(context.Background(), filepath.Join(t.TempDir(), "audit.db"), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestIndex_AppendAndQuery(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, idx.Append(ctx, "firefox", xolo.ChangelogEntry{
		Time: now, Admin: "alice", Host: "xolo1", Message: "Title Created",
	}))
	require.NoError(t, idx.Append(ctx, "firefox", xolo.ChangelogEntry{
		Time: now.Add(time.Second), Admin: "bob", Host: "xolo1", Version: "1.0.0", Message: "Version 1.0.0 created",
	}))
	require.NoError(t, idx.Append(ctx, "chrome", xolo.ChangelogEntry{
		Time: now.Add(2 * time.Second), Admin: "alice", Host: "xolo1", Message: "Title Created",
	}))

	all, err := idx.Query(ctx, auditrecord.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// newest first
	assert.Equal(t, "chrome", all[0].Slug)
	assert.Equal(t, "firefox", all[2].Slug)

	bySlug, err := idx.Query(ctx, auditrecord.Filter{Slug: "firefox"})
	require.NoError(t, err)
	require.Len(t, bySlug, 2)
	for _, r := range bySlug {
		assert.Equal(t, "firefox", r.Slug)
	}

	byAdmin, err := idx.Query(ctx, auditrecord.Filter{Admin: "bob"})
	require.NoError(t, err)
	require.Len(t, byAdmin, 1)
	assert.Equal(t, "1.0.0", byAdmin[0].Version)

	limited, err := idx.Query(ctx, auditrecord.Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "chrome", limited[0].Slug)
}

func TestIndex_AppendPreservesOldNew(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Append(ctx, "firefox", xolo.ChangelogEntry{
		Time: time.Now().UTC(), Admin: "alice", Host: "xolo1",
		Attrib: "self_service", Old: "false", New: "true",
	}))

	records, err := idx.Query(ctx, auditrecord.Filter{Slug: "firefox"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "false", records[0].Old)
	assert.Equal(t, "true", records[0].New)
}

func TestIndex_Health(t *testing.T) {
	idx := newTestIndex(t)
	assert.NoError(t, idx.Health(context.Background()))
}

func TestNew_RejectsForbiddenPath(t *testing.T) {
	_, err := New(context.Background(), "/etc/audit.db", nil, nil)
	assert.Error(t, err)
}

func TestNew_RejectsTraversal(t *testing.T) {
	_, err := New(context.Background(), "../audit.db", nil, nil)
	assert.Error(t, err)
}
