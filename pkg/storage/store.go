// Package storage defines the persistent key-value store that the
// transactional engine sits in front of, together with its backends.
//
// A Store is the capability the engine needs: read a key, upsert a key, delete
// a key. Every mutation must be durable (flushed) before the call returns.
// Backends are picked at construction time (see Open); the engine never
// depends on a concrete type.
package storage

import (
	"context"
	"errors"
	"sort"
)

var (
	// ErrStoreIO wraps every failure reported by a backend. The engine treats
	// it as opaque.
	ErrStoreIO = errors.New("store I/O failure")
	// ErrInvalidKey is returned for keys a backend cannot represent.
	ErrInvalidKey = errors.New("invalid key")
	// ErrInvalidValue is returned for values a backend cannot represent.
	ErrInvalidValue = errors.New("invalid value")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")
)

// Store is a persistent mapping of string keys to string values.
// Implementations must be safe for concurrent use.
type Store interface {
	// Read returns the value for key. found is false if the key is absent;
	// absence is not an error.
	Read(ctx context.Context, key string) (value string, found bool, err error)
	// Write upserts key. The value is durable when Write returns.
	Write(ctx context.Context, key, value string) error
	// Delete removes key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error
	// Close releases the backend's resources.
	Close() error
}

// Batch is a set of mutations applied together. Writes and Deletes never
// share a key.
type Batch struct {
	Writes  map[string]string
	Deletes []string
}

// Len returns the number of mutations in the batch.
func (b Batch) Len() int {
	return len(b.Writes) + len(b.Deletes)
}

// Empty reports whether the batch carries no mutation.
func (b Batch) Empty() bool {
	return b.Len() == 0
}

// SortedWrites returns the write keys in lexical order, so that backends apply
// a batch deterministically.
func (b Batch) SortedWrites() []string {
	keys := make([]string, 0, len(b.Writes))
	for k := range b.Writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Batcher is implemented by stores that can apply a Batch atomically: either
// every mutation is durable or none is.
type Batcher interface {
	Apply(ctx context.Context, b Batch) error
}
