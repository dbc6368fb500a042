package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
	"golang.org/x/sync/semaphore"
)

// ErrLockTimeout is returned when exclusive access could not be obtained in time.
var ErrLockTimeout = fmt.Errorf("%w: timed out waiting for exclusive access", domain.ErrConflict)

// KeyedLocker grants exclusive access per id. Multi-id acquisitions always take
// the ids in ascending byte order, so two callers locking the same pair in
// opposite directions cannot deadlock.
type KeyedLocker struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{entries: make(map[uuid.UUID]*lockEntry)}
}

// canonicalOrder sorts and de-duplicates ids.
func canonicalOrder(ids []uuid.UUID) []uuid.UUID {
	out := append([]uuid.UUID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	n := 0
	for i, id := range out {
		if i == 0 || id != out[n-1] {
			out[n] = id
			n++
		}
	}
	return out[:n]
}

func (l *KeyedLocker) ref(id uuid.UUID) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		e = &lockEntry{sem: semaphore.NewWeighted(1)}
		l.entries[id] = e
	}
	e.refs++
	return e.sem
}

func (l *KeyedLocker) unref(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[id]; ok {
		e.refs--
		if e.refs <= 0 {
			delete(l.entries, id)
		}
	}
}

// Acquire locks every id or none. On timeout it returns ErrLockTimeout; if ctx
// itself is cancelled, ctx.Err() is returned.
func (l *KeyedLocker) Acquire(ctx context.Context, timeout time.Duration, ids ...uuid.UUID) (release func(), err error) {
	ordered := canonicalOrder(ids)

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type heldLock struct {
		id  uuid.UUID
		sem *semaphore.Weighted
	}
	held := make([]heldLock, 0, len(ordered))
	releaseHeld := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].sem.Release(1)
			l.unref(held[i].id)
		}
	}

	for _, id := range ordered {
		sem := l.ref(id)
		if err := sem.Acquire(waitCtx, 1); err != nil {
			l.unref(id)
			releaseHeld()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, context.DeadlineExceeded) {
				lockTimeoutsTotal.Inc()
				return nil, ErrLockTimeout
			}
			return nil, err
		}
		held = append(held, heldLock{id: id, sem: sem})
	}

	var once sync.Once
	return func() { once.Do(releaseHeld) }, nil
}
