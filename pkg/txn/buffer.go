// Package txn holds the per-session transaction buffer: the writes and
// deletes a caller has staged but not yet committed.
//
// A Buffer belongs to exactly one session and is never shared, so it carries
// no lock. Lifecycle checks (is a transaction active?) are made by the engine
// before it delegates here.
package txn

import (
	"sort"

	"github.com/sanonone/txcache/pkg/storage"
)

// Buffer accumulates pending mutations. writes and deletes never share a key.
type Buffer struct {
	active  bool
	writes  map[string]string
	deletes map[string]struct{}
}

// NewBuffer returns an empty, inactive buffer.
func NewBuffer() *Buffer {
	return &Buffer{
		writes:  make(map[string]string),
		deletes: make(map[string]struct{}),
	}
}

// Active reports whether a transaction is open.
func (b *Buffer) Active() bool {
	return b.active
}

// Activate clears the buffer and marks the transaction open.
func (b *Buffer) Activate() {
	b.Reset()
	b.active = true
}

// Deactivate clears the buffer and marks the transaction closed.
func (b *Buffer) Deactivate() {
	b.Reset()
	b.active = false
}

// Reset drops every staged mutation.
func (b *Buffer) Reset() {
	clear(b.writes)
	clear(b.deletes)
}

// StageWrite records key=value, cancelling any staged delete of key.
func (b *Buffer) StageWrite(key, value string) {
	b.writes[key] = value
	delete(b.deletes, key)
}

// StageDelete records the deletion of key, cancelling any staged write.
func (b *Buffer) StageDelete(key string) {
	delete(b.writes, key)
	b.deletes[key] = struct{}{}
}

// Lookup reports what the buffer knows about key. ok is false when the key
// was not touched in this transaction; otherwise deleted tells a staged
// delete from a staged write of value.
func (b *Buffer) Lookup(key string) (value string, deleted bool, ok bool) {
	if _, del := b.deletes[key]; del {
		return "", true, true
	}
	if v, w := b.writes[key]; w {
		return v, false, true
	}
	return "", false, false
}

// Len returns the number of staged mutations.
func (b *Buffer) Len() int {
	return len(b.writes) + len(b.deletes)
}

// Batch returns a copy of the staged mutations ready to be applied.
func (b *Buffer) Batch() storage.Batch {
	writes := make(map[string]string, len(b.writes))
	for k, v := range b.writes {
		writes[k] = v
	}
	return storage.Batch{Writes: writes, Deletes: b.sortedDeletes()}
}

func (b *Buffer) sortedDeletes() []string {
	keys := make([]string, 0, len(b.deletes))
	for k := range b.deletes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Pending is a read-only view of a buffer for diagnostics.
type Pending struct {
	Active  bool              `json:"active"`
	Writes  map[string]string `json:"writes"`
	Deletes []string          `json:"deletes"`
}

// Pending returns a copy of the buffer's state.
func (b *Buffer) Pending() Pending {
	batch := b.Batch()
	return Pending{
		Active:  b.active,
		Writes:  batch.Writes,
		Deletes: batch.Deletes,
	}
}
