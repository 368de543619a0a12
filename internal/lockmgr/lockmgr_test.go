package lockmgr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xolohq/xolo/internal/xoloerr"
)

func TestAcquireRelease(t *testing.T) {
	m := New(time.Minute, time.Hour, nil)
	defer m.Stop()

	token, err := m.Acquire(context.Background(), KindTitle, Key("firefox", ""))
	require.NoError(t, err)
	assert.True(t, m.IsLocked(Key("firefox", "")))

	m.Release(KindTitle, Key("firefox", ""), token)
	assert.False(t, m.IsLocked(Key("firefox", "")))
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	m := New(time.Minute, time.Hour, nil)
	defer m.Stop()

	key := Key("firefox", "")
	token, err := m.Acquire(context.Background(), KindTitle, key)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		_, err := m.Acquire(context.Background(), KindTitle, key)
		assert.NoError(t, err)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire should not have returned before Release")
	case <-time.After(50 * time.Millisecond):
	}

	m.Release(KindTitle, key, token)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire should have returned after Release")
	}
}

func TestAcquireTimesOutWithContext(t *testing.T) {
	m := New(time.Minute, time.Hour, nil)
	defer m.Stop()

	key := Key("firefox", "")
	_, err := m.Acquire(context.Background(), KindTitle, key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = m.Acquire(ctx, KindTitle, key)
	require.Error(t, err)
	assert.True(t, xoloerr.Is(err, xoloerr.Timeout))
}

func TestTryAcquireLockedWhenHeld(t *testing.T) {
	m := New(time.Minute, time.Hour, nil)
	defer m.Stop()

	key := Key("firefox", "")
	_, err := m.TryAcquire(KindTitle, key)
	require.NoError(t, err)

	_, err = m.TryAcquire(KindTitle, key)
	require.Error(t, err)
	assert.True(t, xoloerr.Is(err, xoloerr.Locked))
}

func TestSweepReclaimsExpiredLocks(t *testing.T) {
	m := New(10*time.Millisecond, 5*time.Millisecond, nil)
	defer m.Stop()

	key := Key("firefox", "")
	_, err := m.TryAcquire(KindTitle, key)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return !m.IsLocked(key)
	}, time.Second, 5*time.Millisecond, "sweeper should have reclaimed the expired lock")
}

func TestConcurrentAcquireEveryWaiterEventuallyWins(t *testing.T) {
	m := New(time.Minute, time.Hour, nil)
	defer m.Stop()

	key := Key("firefox", "")
	const n = 20
	var wg sync.WaitGroup
	var successes int32
	var mu sync.Mutex
	tokens := make([]string, 0, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()
			token, err := m.Acquire(ctx, KindTitle, key)
			if err == nil {
				mu.Lock()
				successes++
				tokens = append(tokens, token)
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				m.Release(KindTitle, key, token)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, n, successes, "every goroutine should eventually acquire and release in turn")
}
