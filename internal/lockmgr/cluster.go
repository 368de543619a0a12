package lockmgr

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	mrand "math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClusterConfig configures a ClusterLock.
type ClusterConfig struct {
	TTL            time.Duration
	MaxRetries     int
	RetryInterval  time.Duration
	AcquireTimeout time.Duration
	ReleaseTimeout time.Duration
	ValuePrefix    string
}

// DefaultClusterConfig is what NewClusterLock uses when config is nil. Its
// values are separate from internal/xoloconfig's lock.* defaults (for
// example a 30s TTL here against lock.ttl's 60m).
func DefaultClusterConfig() *ClusterConfig {
	return &ClusterConfig{
		TTL:            30 * time.Second,
		MaxRetries:     3,
		RetryInterval:  100 * time.Millisecond,
		AcquireTimeout: 5 * time.Second,
		ReleaseTimeout: 2 * time.Second,
		ValuePrefix:    "xolo-lock",
	}
}

// ClusterLock is a Redis-backed mutual-exclusion lock used by
// internal/scheduler to elect a single cleanup leader when Xolo runs with
// more than one replica (xoloconfig.ProfileStandard). It is never used for
// per-title/version locking — that stays in-process, see lockmgr.go.
type ClusterLock struct {
	redis    *redis.Client
	key      string
	value    string
	ttl      time.Duration
	logger   *slog.Logger
	acquired bool
}

// NewClusterLock builds a ClusterLock for key. config may be nil to accept
// DefaultClusterConfig.
func NewClusterLock(client *redis.Client, key string, config *ClusterConfig, logger *slog.Logger) *ClusterLock {
	if config == nil {
		config = DefaultClusterConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ClusterLock{
		redis:  client,
		key:    key,
		value:  generateLockValue(config.ValuePrefix),
		ttl:    config.TTL,
		logger: logger,
	}
}

func generateLockValue(prefix string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(b))
}

// Acquire is AcquireWithRetry with the default retry count: up to four
// SETNX attempts with jittered backoff between them.
func (l *ClusterLock) Acquire(ctx context.Context) (bool, error) {
	return l.AcquireWithRetry(ctx, 0)
}

// AcquireWithRetry retries the SETNX up to maxRetries times (0 uses the
// cluster-wide default of 3), backing off with jitter between attempts.
func (l *ClusterLock) AcquireWithRetry(ctx context.Context, maxRetries int) (bool, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ok, err := l.redis.SetNX(ctx, l.key, l.value, l.ttl).Result()
		if err != nil {
			l.logger.Error("cluster lock acquire failed", "key", l.key, "attempt", attempt+1, "error", err)
			if attempt == maxRetries {
				return false, fmt.Errorf("acquire cluster lock after %d attempts: %w", maxRetries+1, err)
			}
		} else if ok {
			l.acquired = true
			l.logger.Info("cluster lock acquired", "key", l.key)
			return true, nil
		}

		if attempt == maxRetries {
			return false, nil
		}
		select {
		case <-time.After(retryBackoff(attempt)):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return false, nil
}

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

const extendScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("expire", KEYS[1], ARGV[2])
else
	return 0
end`

// Release deletes the key only if it still holds this lock's value
// (compare-and-delete via Lua, so a lock whose TTL already expired and was
// reacquired by another replica is never stolen back).
func (l *ClusterLock) Release(ctx context.Context) error {
	if !l.acquired {
		return nil
	}
	result, err := l.redis.Eval(ctx, releaseScript, []string{l.key}, l.value).Result()
	if err != nil {
		return fmt.Errorf("release cluster lock: %w", err)
	}
	if n, _ := result.(int64); n == 1 {
		l.acquired = false
		l.logger.Info("cluster lock released", "key", l.key)
		return nil
	}
	l.logger.Warn("cluster lock already expired or reacquired elsewhere", "key", l.key)
	l.acquired = false
	return nil
}

// Extend pushes the TTL out, used by a long-running cleanup cycle to hold
// leadership past the lock's original TTL.
func (l *ClusterLock) Extend(ctx context.Context, newTTL time.Duration) error {
	if !l.acquired {
		return fmt.Errorf("cannot extend a lock that was not acquired")
	}
	result, err := l.redis.Eval(ctx, extendScript, []string{l.key}, l.value, int(newTTL.Seconds())).Result()
	if err != nil {
		return fmt.Errorf("extend cluster lock: %w", err)
	}
	if n, _ := result.(int64); n == 1 {
		l.ttl = newTTL
		return nil
	}
	return fmt.Errorf("cluster lock expired or reacquired elsewhere before extend")
}

// IsAcquired reports whether this lock currently believes it holds the key.
func (l *ClusterLock) IsAcquired() bool { return l.acquired }

func retryBackoff(attempt int) time.Duration {
	base := time.Duration(attempt+1) * 100 * time.Millisecond
	jitter := time.Duration(float64(base) * 0.25 * (mrand.Float64()*2 - 1))
	return base + jitter
}
