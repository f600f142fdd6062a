package resource

import (
	"errors"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/multierr"
)

var (
	ErrClosed            = errors.New("resource table closed")
	ErrExists            = errors.New("resource key already present")
	ErrInvalidHandle     = errors.New("invalid resource handle")
	ErrOutstandingBorrow = errors.New("cannot drop resource with outstanding borrows")
)

// DefaultShards is used when NewTable is given a non-positive shard count.
const DefaultShards = 32

// Table is a sharded arena of values indexed by handle and by key.
type Table[V any] struct {
	shards    []*shard[V]
	observers []Observer
	obsMu     sync.RWMutex
	closed    bool
	closeMu   sync.RWMutex
}

type shard[V any] struct {
	index    map[string]uint32
	entries  []entry[V]
	freeList []uint32
	mu       sync.RWMutex
}

type item[V any] struct {
	value V
	key   string
	h     Handle
}

type entry[V any] struct {
	value       V
	key         string
	borrowCount uint32
	valid       bool
}

// NewTable creates a table with the given number of shards.
func NewTable[V any](shards int) *Table[V] {
	if shards <= 0 {
		shards = DefaultShards
	}
	t := &Table[V]{shards: make([]*shard[V], shards)}
	for i := range t.shards {
		t.shards[i] = &shard[V]{
			index:    make(map[string]uint32),
			entries:  make([]entry[V], 0, 16),
			freeList: make([]uint32, 0, 4),
		}
	}
	return t
}

func (t *Table[V]) shardFor(key string) (uint32, *shard[V]) {
	idx := uint32(xxhash.Sum64String(key) % uint64(len(t.shards)))
	return idx, t.shards[idx]
}

func (t *Table[V]) shardOf(h Handle) (*shard[V], uint32, bool) {
	si, slot, ok := h.split()
	if !ok || int(si) >= len(t.shards) {
		return nil, 0, false
	}
	return t.shards[si], slot, true
}

func (t *Table[V]) isClosed() bool {
	t.closeMu.RLock()
	defer t.closeMu.RUnlock()
	return t.closed
}

// Create stores value under key and returns its handle.
// Returns ErrExists if the key is already present.
func (t *Table[V]) Create(key string, value V) (Handle, error) {
	if t.isClosed() {
		return 0, ErrClosed
	}

	si, s := t.shardFor(key)
	s.mu.Lock()
	if _, exists := s.index[key]; exists {
		s.mu.Unlock()
		return 0, ErrExists
	}

	e := entry[V]{key: key, value: value, valid: true}
	var slot uint32
	if n := len(s.freeList); n > 0 {
		slot = s.freeList[n-1]
		s.freeList = s.freeList[:n-1]
		s.entries[slot] = e
	} else {
		s.entries = append(s.entries, e)
		slot = uint32(len(s.entries) - 1)
	}
	s.index[key] = slot
	s.mu.Unlock()

	h := makeHandle(si, slot)
	t.notify(Event{Type: EventCreated, Handle: h, Key: key, Value: value})
	return h, nil
}

// Lookup returns the handle and value stored under key.
func (t *Table[V]) Lookup(key string) (Handle, V, bool) {
	si, s := t.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.index[key]
	if !ok {
		var zero V
		return 0, zero, false
	}
	return makeHandle(si, slot), s.entries[slot].value, true
}

// Get retrieves a value by handle.
func (t *Table[V]) Get(h Handle) (V, bool) {
	var zero V
	s, slot, ok := t.shardOf(h)
	if !ok {
		return zero, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if int(slot) >= len(s.entries) || !s.entries[slot].valid {
		return zero, false
	}
	return s.entries[slot].value, true
}

// Key returns the key a handle was created with.
func (t *Table[V]) Key(h Handle) (string, bool) {
	s, slot, ok := t.shardOf(h)
	if !ok {
		return "", false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if int(slot) >= len(s.entries) || !s.entries[slot].valid {
		return "", false
	}
	return s.entries[slot].key, true
}

// Update replaces the value at h with the result of fn, atomically with
// respect to other operations on the same shard. If fn returns an error the
// value is left untouched and the error is returned.
func (t *Table[V]) Update(h Handle, fn func(V) (V, error)) (V, error) {
	var zero V
	s, slot, ok := t.shardOf(h)
	if !ok {
		return zero, ErrInvalidHandle
	}

	s.mu.Lock()
	if int(slot) >= len(s.entries) || !s.entries[slot].valid {
		s.mu.Unlock()
		return zero, ErrInvalidHandle
	}
	e := &s.entries[slot]
	next, err := fn(e.value)
	if err != nil {
		s.mu.Unlock()
		return zero, err
	}
	e.value = next
	key := e.key
	s.mu.Unlock()

	t.notify(Event{Type: EventUpdated, Handle: h, Key: key, Value: next})
	return next, nil
}

// Borrow increments the borrow count for a handle.
func (t *Table[V]) Borrow(h Handle) bool {
	s, slot, ok := t.shardOf(h)
	if !ok {
		return false
	}

	s.mu.Lock()
	if int(slot) >= len(s.entries) || !s.entries[slot].valid {
		s.mu.Unlock()
		return false
	}
	e := &s.entries[slot]
	e.borrowCount++
	key := e.key
	s.mu.Unlock()

	t.notify(Event{Type: EventBorrowed, Handle: h, Key: key})
	return true
}

// ReturnBorrow decrements the borrow count for a handle.
func (t *Table[V]) ReturnBorrow(h Handle) bool {
	s, slot, ok := t.shardOf(h)
	if !ok {
		return false
	}

	s.mu.Lock()
	if int(slot) >= len(s.entries) {
		s.mu.Unlock()
		return false
	}
	e := &s.entries[slot]
	if !e.valid || e.borrowCount == 0 {
		s.mu.Unlock()
		return false
	}
	e.borrowCount--
	key := e.key
	s.mu.Unlock()

	t.notify(Event{Type: EventBorrowReturned, Handle: h, Key: key})
	return true
}

// Borrows returns the outstanding borrow count for a handle.
func (t *Table[V]) Borrows(h Handle) uint32 {
	s, slot, ok := t.shardOf(h)
	if !ok {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if int(slot) >= len(s.entries) || !s.entries[slot].valid {
		return 0
	}
	return s.entries[slot].borrowCount
}

// Drop removes the entry at h and returns its value.
// Entries with outstanding borrows are kept and ErrOutstandingBorrow is returned.
func (t *Table[V]) Drop(h Handle) (V, error) {
	return t.DropIf(h, nil)
}

// DropIf is like Drop but first runs check on the current value under the
// shard lock. A non-nil error from check aborts the drop and is returned.
func (t *Table[V]) DropIf(h Handle, check func(V) error) (V, error) {
	var zero V
	s, slot, ok := t.shardOf(h)
	if !ok {
		return zero, ErrInvalidHandle
	}

	s.mu.Lock()
	if int(slot) >= len(s.entries) || !s.entries[slot].valid {
		s.mu.Unlock()
		return zero, ErrInvalidHandle
	}
	e := &s.entries[slot]
	if e.borrowCount > 0 {
		s.mu.Unlock()
		return zero, ErrOutstandingBorrow
	}
	if check != nil {
		if err := check(e.value); err != nil {
			s.mu.Unlock()
			return zero, err
		}
	}

	value, key := e.value, e.key
	*e = entry[V]{}
	delete(s.index, key)
	s.freeList = append(s.freeList, slot)
	s.mu.Unlock()

	if d, ok := any(value).(Dropper); ok {
		d.Drop()
	}
	t.notify(Event{Type: EventDropped, Handle: h, Key: key, Value: value})
	return value, nil
}

// Len returns the number of live entries.
func (t *Table[V]) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.RLock()
		n += len(s.index)
		s.mu.RUnlock()
	}
	return n
}

// Each iterates over all live entries, shard by shard. Each shard is read
// under its own lock, so the walk is not a global snapshot.
func (t *Table[V]) Each(fn func(Handle, string, V) bool) {
	for si, s := range t.shards {
		s.mu.RLock()
		items := make([]item[V], 0, len(s.index))
		for i, e := range s.entries {
			if e.valid {
				items = append(items, item[V]{h: makeHandle(uint32(si), uint32(i)), key: e.key, value: e.value})
			}
		}
		s.mu.RUnlock()

		for _, it := range items {
			if !fn(it.h, it.key, it.value) {
				return
			}
		}
	}
}

// AddObserver registers an observer for lifecycle events.
func (t *Table[V]) AddObserver(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

func (t *Table[V]) notify(e Event) {
	t.obsMu.RLock()
	observers := t.observers
	t.obsMu.RUnlock()

	for _, o := range observers {
		o.OnResourceEvent(e)
	}
}

// Close drops every entry and rejects further creates.
// Values implementing Dropper or io.Closer are released.
func (t *Table[V]) Close() error {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return nil
	}
	t.closed = true
	t.closeMu.Unlock()

	var errs error
	for _, s := range t.shards {
		s.mu.Lock()
		for i := range s.entries {
			if !s.entries[i].valid {
				continue
			}
			switch v := any(s.entries[i].value).(type) {
			case Dropper:
				v.Drop()
			case interface{ Close() error }:
				errs = multierr.Append(errs, v.Close())
			}
		}
		s.entries = nil
		s.freeList = nil
		s.index = make(map[string]uint32)
		s.mu.Unlock()
	}
	return errs
}
