// Package redislock provides a best-effort mutual-exclusion lock backed by a
// single Redis key (SET NX PX), used to keep scheduler ticks single-instance
// across replicas.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// ErrLockLost is the cause of a held context's cancellation when the lock
// expired or was taken over while in use.
var ErrLockLost = errors.New("redislock: lock lost")

const defaultPrefix = "ledger:lock"

// Locker hands out named locks that expire after ttl if never released.
type Locker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func New(client redis.UniversalClient, prefix string, ttl time.Duration) *Locker {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = defaultPrefix
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Locker{client: client, prefix: trimmedPrefix, ttl: ttl}
}

func (l *Locker) key(name string) string {
	return l.prefix + ":" + name
}

// TryLock attempts to take the named lock without waiting. When ok is false
// another holder owns it.
//
// While held, the key's expiry is pushed out every ttl/3. The returned held
// context is derived from ctx and is cancelled with ErrLockLost once the key
// no longer carries this caller's token, or no refresh has succeeded for a
// full ttl. Work guarded by the lock should stop when held is done. unlock stops
// the refresher and deletes the key only if this caller still holds it.
func (l *Locker) TryLock(ctx context.Context, name string) (held context.Context, unlock func(), ok bool, err error) {
	if l == nil || l.client == nil {
		return nil, nil, false, errors.New("redislock: no redis client configured")
	}
	key := l.key(name)
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, nil, false, err
	}
	if !acquired {
		return nil, nil, false, nil
	}

	held, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(held, cancel, key, token, stop, done)

	var once sync.Once
	unlock = func() {
		once.Do(func() {
			close(stop)
			<-done
			cancel(context.Canceled)

			releaseCtx, cancelRelease := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancelRelease()
			_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
		})
	}
	return held, unlock, true, nil
}

func (l *Locker) keepAlive(held context.Context, lost context.CancelCauseFunc, key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := l.ttl / 3
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	lastRefresh := time.Now()

	for {
		select {
		case <-stop:
			return
		case <-held.Done():
			return
		case <-ticker.C:
		}

		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(held), interval)
		extended, err := refreshScript.Run(refreshCtx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int64()
		cancel()
		switch {
		case err == nil && extended == 1:
			lastRefresh = time.Now()
		case err == nil:
			lost(ErrLockLost)
			return
		case time.Since(lastRefresh) >= l.ttl:
			lost(fmt.Errorf("%w: %v", ErrLockLost, err))
			return
		}
	}
}
