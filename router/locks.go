package router

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/semaphore"
)

const (
	lockShards = 64
	// exclusiveWeight drains every reader slot of a keyLock.
	exclusiveWeight = 1 << 30
)

// keyLock is a reference-counted RW lock for one address. Readers take one
// unit of the semaphore and writers take all of them, so waits honor the
// caller's context.
type keyLock struct {
	sem  *semaphore.Weighted
	refs int
}

type lockShard struct {
	locks map[string]*keyLock
	mu    sync.Mutex
}

// lockTable hands out per-address RW locks. Entries exist only while held
// or awaited.
type lockTable struct {
	shards [lockShards]lockShard
}

func newLockTable() *lockTable {
	t := &lockTable{}
	for i := range t.shards {
		t.shards[i].locks = make(map[string]*keyLock)
	}
	return t
}

func (t *lockTable) shard(key string) *lockShard {
	return &t.shards[xxhash.Sum64String(key)%lockShards]
}

// acquire locks key, exclusively or shared, and returns the unlock func.
// It gives up with ctx.Err() when ctx is done before the lock is granted.
func (t *lockTable) acquire(ctx context.Context, key string, exclusive bool) (func(), error) {
	s := t.shard(key)
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{sem: semaphore.NewWeighted(exclusiveWeight)}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	var weight int64 = 1
	if exclusive {
		weight = exclusiveWeight
	}
	drop := func() {
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
	if err := l.sem.Acquire(ctx, weight); err != nil {
		drop()
		return nil, err
	}

	return func() {
		l.sem.Release(weight)
		drop()
	}, nil
}

// size returns the number of live lock entries.
func (t *lockTable) size() int {
	n := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		n += len(s.locks)
		s.mu.Unlock()
	}
	return n
}

// held tracks the addresses locked by one call chain, so a guest calling
// back into a resource it is running under fails instead of deadlocking.
type held struct {
	parent *held
	key    string
}

type heldKey struct{}

func withHeld(ctx context.Context, key string) context.Context {
	parent, _ := ctx.Value(heldKey{}).(*held)
	return context.WithValue(ctx, heldKey{}, &held{parent: parent, key: key})
}

func isHeld(ctx context.Context, key string) bool {
	h, _ := ctx.Value(heldKey{}).(*held)
	for ; h != nil; h = h.parent {
		if h.key == key {
			return true
		}
	}
	return false
}

// Held returns the addresses held by the call chain of ctx, innermost first.
func Held(ctx context.Context) []string {
	var out []string
	h, _ := ctx.Value(heldKey{}).(*held)
	for ; h != nil; h = h.parent {
		out = append(out, h.key)
	}
	return out
}
