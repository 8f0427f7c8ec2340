// Package locks implements per-conversation distributed locks on Redis.
// A lock is a SET NX EX with a random token; release and refresh compare the
// token server-side so an expired holder can never stomp a new one.
package locks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "locks:conversation:"

// ErrNotHeld is returned when release or refresh finds a different holder.
var ErrNotHeld = errors.New("lock not held")

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("expire", KEYS[1], ARGV[2])
end
return 0
`)

// Manager acquires and maintains conversation locks.
type Manager struct {
	rdb *redis.Client
}

func NewManager(rdb *redis.Client) *Manager {
	return &Manager{rdb: rdb}
}

// Lock is a held conversation lock.
type Lock struct {
	rdb   *redis.Client
	key   string
	token string
}

// Acquire attempts to take the lock for conversationID. Returns (nil, false,
// nil) when another holder owns it.
func (m *Manager) Acquire(ctx context.Context, conversationID string, ttl time.Duration) (*Lock, bool, error) {
	if ttl < time.Second {
		ttl = time.Second
	}
	key := keyPrefix + conversationID
	token := uuid.NewString()

	ok, err := m.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{rdb: m.rdb, key: key, token: token}, true, nil
}

// Release deletes the lock if still held by this token.
func (l *Lock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Refresh extends the TTL if still held by this token.
func (l *Lock) Refresh(ctx context.Context, ttl time.Duration) error {
	if ttl < time.Second {
		ttl = time.Second
	}
	n, err := refreshScript.Run(ctx, l.rdb, []string{l.key}, l.token, int(ttl.Seconds())).Int()
	if err != nil {
		return fmt.Errorf("refresh lock %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Hold acquires the lock, runs fn while refreshing the TTL in the background,
// and always releases on return. Returns (false, nil) when the lock is busy;
// fn does not run in that case. Refresh errors are swallowed: losing the lock
// mid-run is detected by the final release, not by aborting fn.
func (m *Manager) Hold(ctx context.Context, conversationID string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	lock, ok, err := m.Acquire(ctx, conversationID, ttl)
	if err != nil || !ok {
		return false, err
	}

	refreshCtx, stopRefresh := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		interval := ttl / 3
		if interval < time.Second {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-refreshCtx.Done():
				return
			case <-ticker.C:
				if err := lock.Refresh(refreshCtx, ttl); err != nil && !errors.Is(err, context.Canceled) {
					slog.WarnContext(refreshCtx, "lock refresh failed", "key", lock.key, "error", err)
				}
			}
		}
	}()

	runErr := fn(ctx)

	stopRefresh()
	<-done

	// Release with a short independent deadline so a canceled ctx still
	// frees the lock.
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := lock.Release(releaseCtx); err != nil && !errors.Is(err, ErrNotHeld) {
		slog.WarnContext(ctx, "lock release failed", "key", lock.key, "error", err)
	}

	return true, runErr
}
