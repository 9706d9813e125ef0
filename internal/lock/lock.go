// Package lock provides the cross-process mutual-exclusion gate around
// batch execution. Triggers arrive from independent processes (scheduler,
// API, CLI), so the lock is an atomic conditional write against Redis, not
// an in-process mutex.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/evergreenpress/republisher/internal/logger"
)

const defaultKey = "republisher:batch:lock"

// releaseScript deletes the lock only when the caller still holds it, which
// makes Release idempotent and safe against deleting a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a TTL-guarded single-holder lock. A crashed holder's lock
// expires with the TTL, so the TTL must exceed the worst-case batch duration.
type RedisLock struct {
	client redis.UniversalClient
	key    string
	logger logger.Logger
}

// New creates a lock on the default key.
func New(client redis.UniversalClient, log logger.Logger) *RedisLock {
	return &RedisLock{
		client: client,
		key:    defaultKey,
		logger: log,
	}
}

// Acquire attempts to take the lock for owner with the given TTL. Returns
// false when another holder is active.
func (l *RedisLock) Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	if ok {
		l.logger.Debug("execution lock acquired",
			logger.String("owner", owner),
			logger.Duration("ttl", ttl),
		)
	}
	return ok, nil
}

// Release frees the lock if owner still holds it. Releasing a lock held by
// someone else, or already released, is a no-op.
func (l *RedisLock) Release(ctx context.Context, owner string) error {
	deleted, err := releaseScript.Run(ctx, l.client, []string{l.key}, owner).Int()
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if deleted == 0 {
		l.logger.Debug("release was a no-op", logger.String("owner", owner))
	}
	return nil
}

// Holder returns the current lock owner, or empty when the lock is free.
func (l *RedisLock) Holder(ctx context.Context) (string, error) {
	owner, err := l.client.Get(ctx, l.key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read lock holder: %w", err)
	}
	return owner, nil
}
