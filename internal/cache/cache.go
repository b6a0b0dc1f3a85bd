// Package cache provides a normalized, keyed collection of entities with
// load status tracking and change notification.
package cache

import (
	"slices"
	"sync"
	"time"
)

// Status describes where a collection is in its load lifecycle.
type Status int

const (
	Idle Status = iota
	Loading
	Ready
	Error
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Error:
		return "error"
	}
	return "unknown"
}

// Collection holds entities of type T keyed by a caller-supplied function.
// Every mutation is applied atomically under the lock; readers see either
// the state before or after a mutation, never a partial one.
type Collection[T any] struct {
	key func(T) string
	now func() time.Time

	mu           sync.RWMutex
	items        map[string]T
	order        []string // first-insertion order for stable listing
	status       Status
	err          error
	lastSyncedAt time.Time

	subMu   sync.Mutex
	subs    map[int]func()
	nextSub int
}

// New creates an empty collection in the Idle state.
func New[T any](key func(T) string) *Collection[T] {
	return &Collection[T]{
		key:   key,
		now:   time.Now,
		items: make(map[string]T),
		subs:  make(map[int]func()),
	}
}

// SetClock replaces the time source used for lastSyncedAt. Tests only.
func (c *Collection[T]) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// ReplaceAll rebuilds the collection from items and marks it Ready.
// Later duplicates of a key overwrite earlier ones.
func (c *Collection[T]) ReplaceAll(items []T) {
	c.mu.Lock()
	c.items = make(map[string]T, len(items))
	c.order = make([]string, 0, len(items))
	for _, it := range items {
		k := c.key(it)
		if _, ok := c.items[k]; !ok {
			c.order = append(c.order, k)
		}
		c.items[k] = it
	}
	c.status = Ready
	c.err = nil
	c.lastSyncedAt = c.now()
	c.mu.Unlock()
	c.notify()
}

// Upsert inserts item or overwrites the existing entry with the same key.
func (c *Collection[T]) Upsert(item T) {
	k := c.key(item)
	c.mu.Lock()
	if _, ok := c.items[k]; !ok {
		c.order = append(c.order, k)
	}
	c.items[k] = item
	c.lastSyncedAt = c.now()
	c.mu.Unlock()
	c.notify()
}

// Remove deletes the entry for id. Removing an absent id is a no-op and
// reports false.
func (c *Collection[T]) Remove(id string) bool {
	c.mu.Lock()
	if _, ok := c.items[id]; !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.items, id)
	for i, k := range c.order {
		if k == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.lastSyncedAt = c.now()
	c.mu.Unlock()
	c.notify()
	return true
}

// SetLoading marks a snapshot load as in flight. Existing data stays readable.
func (c *Collection[T]) SetLoading() {
	c.mu.Lock()
	c.status = Loading
	c.err = nil
	c.mu.Unlock()
	c.notify()
}

// SetError flags the collection as failed. Existing data stays readable.
func (c *Collection[T]) SetError(err error) {
	c.mu.Lock()
	c.status = Error
	c.err = err
	c.mu.Unlock()
	c.notify()
}

// Get returns the entry for id.
func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.items[id]
	return it, ok
}

// List returns all entries in first-insertion order.
func (c *Collection[T]) List() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.items[k])
	}
	return out
}

// Keys returns all keys in first-insertion order.
func (c *Collection[T]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Collection[T]) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Err returns the load error. It is non-nil only while Status is Error.
func (c *Collection[T]) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

func (c *Collection[T]) LastSyncedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSyncedAt
}

// Stale reports whether the collection has never synced, or last synced
// more than maxAge before now.
func (c *Collection[T]) Stale(maxAge time.Duration, now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastSyncedAt.IsZero() {
		return true
	}
	return now.Sub(c.lastSyncedAt) > maxAge
}

// Subscribe registers fn to run after every mutation. The returned func
// removes the subscription.
func (c *Collection[T]) Subscribe(fn func()) (cancel func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Collection[T]) notify() {
	c.subMu.Lock()
	ids := make([]int, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	fns := make([]func(), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, c.subs[id])
	}
	c.subMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
