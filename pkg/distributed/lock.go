package distributed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned by TryLock when another holder owns the lock.
var ErrNotAcquired = errors.New("lock not acquired")

// Lock is a best-effort distributed lock backed by Redis SET NX. It shrinks
// race windows across instances but makes no linearizability promise; the
// protected section must stay correct if the lock is lost or never acquired.
type Lock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
}

// NewLock creates a lock handle for the given key.
func NewLock(client *redis.Client, key string, ttl time.Duration) *Lock {
	b := make([]byte, 16)
	rand.Read(b)
	return &Lock{
		client: client,
		key:    key,
		value:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

// TryLock attempts to acquire the lock once without blocking.
func (l *Lock) TryLock(ctx context.Context) error {
	acquired, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if !acquired {
		return ErrNotAcquired
	}
	return nil
}

// Lock acquires the lock, retrying until the timeout elapses.
func (l *Lock) Lock(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		err := l.TryLock(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotAcquired) {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("lock %s: acquisition timeout", l.key)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Unlock releases the lock if this handle still owns it.
func (l *Lock) Unlock(ctx context.Context) error {
	// Delete only our own value so an expired-and-reacquired lock survives.
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`
	if _, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result(); err != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.key, err)
	}
	return nil
}

// Manager creates locks under a common key prefix.
type Manager struct {
	client *redis.Client
	prefix string
}

// NewManager creates a lock manager.
func NewManager(client *redis.Client, prefix string) *Manager {
	return &Manager{client: client, prefix: prefix}
}

// Acquire returns an unheld lock handle for the given key.
func (m *Manager) Acquire(key string, ttl time.Duration) *Lock {
	return NewLock(m.client, m.prefix+key, ttl)
}
