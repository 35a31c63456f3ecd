// Package cache provides the bounded, recency-ordered cache that sits between
// transactional sessions and the persistent store.
//
// The cache keeps a doubly linked list of entries ordered by recency of
// access (front = most recently used) and a map of keys to list elements, so
// that lookups, insertions and evictions are all O(1). Entries may be
// tombstones: a tombstone records that a key is known to be absent from the
// store, which lets readers short-circuit without touching the store.
//
// LRU is not safe for concurrent use. Callers that share a cache must guard
// it with their own lock.
package cache

import (
	"container/list"
	"errors"
)

// ErrInvalidCapacity is returned by New when the capacity is not positive.
// A disabled cache is represented by the absence of an LRU, never by a
// zero-capacity one.
var ErrInvalidCapacity = errors.New("cache capacity must be greater than zero")

// Entry is a single cached key. Present is false for tombstones.
type Entry struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Present bool   `json:"present"`
}

// EvictFunc is called with the entry that was dropped to make room.
type EvictFunc func(Entry)

// LRU is a fixed-capacity least-recently-used cache of string values.
type LRU struct {
	capacity int
	order    *list.List // of *Entry, front = most recently used
	index    map[string]*list.Element
	onEvict  EvictFunc
}

// New creates an LRU holding at most capacity entries.
func New(capacity int) (*LRU, error) {
	return NewWithEvict(capacity, nil)
}

// NewWithEvict is like New but registers a callback invoked on every eviction.
func NewWithEvict(capacity int, onEvict EvictFunc) (*LRU, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &LRU{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
		onEvict:  onEvict,
	}, nil
}

// Put inserts or overwrites the entry for key and marks it most recently used.
// Passing present=false stores a tombstone.
// If key is new and the cache is full, the least recently used entry is
// evicted first. Exactly one entry is evicted per overflowing Put.
func (c *LRU) Put(key, value string, present bool) {
	if !present {
		value = ""
	}

	if el, ok := c.index[key]; ok {
		e := el.Value.(*Entry)
		e.Value = value
		e.Present = present
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		c.evictOldest()
	}

	el := c.order.PushFront(&Entry{Key: key, Value: value, Present: present})
	c.index[key] = el
}

// Get looks up key. On a hit the entry becomes the most recently used and
// found is true; present reports whether the hit is a real value or a
// tombstone. On a miss found is false and the cache is unchanged.
func (c *LRU) Get(key string) (value string, present bool, found bool) {
	el, ok := c.index[key]
	if !ok {
		return "", false, false
	}
	c.order.MoveToFront(el)
	e := el.Value.(*Entry)
	return e.Value, e.Present, true
}

// Remove drops key from the cache without calling the eviction callback.
// It reports whether the key was cached.
func (c *LRU) Remove(key string) bool {
	el, ok := c.index[key]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.index, key)
	return true
}

// Snapshot returns a copy of all entries from most to least recently used.
// It does not change recency.
func (c *LRU) Snapshot() []Entry {
	out := make([]Entry, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		out = append(out, *el.Value.(*Entry))
	}
	return out
}

// Len returns the number of cached entries, tombstones included.
func (c *LRU) Len() int {
	return c.order.Len()
}

// Cap returns the configured capacity.
func (c *LRU) Cap() int {
	return c.capacity
}

func (c *LRU) evictOldest() {
	el := c.order.Back()
	if el == nil {
		return
	}
	e := c.order.Remove(el).(*Entry)
	delete(c.index, e.Key)
	if c.onEvict != nil {
		c.onEvict(*e)
	}
}
