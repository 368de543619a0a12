package lockmgr

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestClusterLock_MutualExclusion(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	l1 := NewClusterLock(client, "xolo:scheduler:leader", nil, nil)
	l2 := NewClusterLock(client, "xolo:scheduler:leader", nil, nil)

	ok, err := l1.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, l1.IsAcquired())

	ok, err = l2.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second replica must lose the election while the first holds the key")

	require.NoError(t, l1.Release(ctx))
	assert.False(t, l1.IsAcquired())

	ok, err = l2.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

// A Release after the key's TTL expired and another replica reacquired it
// must not delete the new holder's key (the Lua compare-and-delete).
func TestClusterLock_ReleaseDoesNotStealReacquiredKey(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	l1 := NewClusterLock(client, "xolo:scheduler:leader", nil, nil)
	l2 := NewClusterLock(client, "xolo:scheduler:leader", nil, nil)

	ok, err := l1.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// Age the key past the default 30s TTL so it expires server-side.
	mr.FastForward(time.Minute)

	ok, err = l2.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok, "expired key must be reacquirable")

	require.NoError(t, l1.Release(ctx))

	held, err := mr.Get("xolo:scheduler:leader")
	require.NoError(t, err)
	assert.Equal(t, l2.value, held, "stale Release must leave the new holder's key in place")
}

func TestClusterLock_Extend(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	l := NewClusterLock(client, "xolo:scheduler:leader", nil, nil)

	require.Error(t, l.Extend(ctx, time.Minute), "extending an unacquired lock must fail")

	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Extend(ctx, 2*time.Minute))
	assert.Equal(t, 2*time.Minute, mr.TTL("xolo:scheduler:leader"))
}
