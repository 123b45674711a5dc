package redis

import (
	"context"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/paygate/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lua script for safe lock release (only owner can release)
var releaseLockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// DistributedLock represents a distributed lock using Redis
type DistributedLock struct {
	client   *redis.Client
	key      string
	value    string
	ttl      time.Duration
	acquired bool
}

// NewDistributedLock creates a new distributed lock
func NewDistributedLock(client *redis.Client, key string, ttl time.Duration) *DistributedLock {
	return &DistributedLock{
		client: client,
		key:    fmt.Sprintf("lock:%s", key),
		value:  uuid.New().String(),
		ttl:    ttl,
	}
}

// Acquire attempts to acquire the lock
func (l *DistributedLock) Acquire(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	l.acquired = success
	return success, nil
}

// AcquireWithRetry attempts to acquire the lock with retries
func (l *DistributedLock) AcquireWithRetry(ctx context.Context, maxRetries int, retryDelay time.Duration) error {
	for i := 0; i < maxRetries; i++ {
		acquired, err := l.Acquire(ctx)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
			continue
		}
	}

	return fmt.Errorf("%s: %w", l.key, domainErrors.ErrLockAcquisitionFailed)
}

// Release releases the lock
func (l *DistributedLock) Release(ctx context.Context) error {
	if !l.acquired {
		return nil
	}

	result, err := releaseLockScript.Run(ctx, l.client, []string{l.key}, l.value).Result()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	val, ok := result.(int64)
	if !ok || val == 0 {
		return fmt.Errorf("%s: %w", l.key, domainErrors.ErrLockNotHeld)
	}

	l.acquired = false
	return nil
}

// KeyLocker hands out one DistributedLock per key. It serializes
// reconciliation of a single transaction across API instances.
type KeyLocker struct {
	client     *redis.Client
	ttl        time.Duration
	maxRetries int
	retryDelay time.Duration
}

func NewKeyLocker(client *redis.Client, ttl time.Duration, maxRetries int, retryDelay time.Duration) *KeyLocker {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &KeyLocker{client: client, ttl: ttl, maxRetries: maxRetries, retryDelay: retryDelay}
}

// Lock blocks until the key is held or retries run out. The returned func
// releases it.
func (k *KeyLocker) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	lock := NewDistributedLock(k.client, key, k.ttl)
	if err := lock.AcquireWithRetry(ctx, k.maxRetries, k.retryDelay); err != nil {
		return nil, err
	}
	return lock.Release, nil
}
