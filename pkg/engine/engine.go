// Package engine provides the transactional, cached interface to a key-value
// store.
//
// An Engine owns one Store and one optional LRU cache, both shared by every
// caller. Each caller works through its own Session, which holds a private
// transaction buffer: writes and deletes are staged there and only reach the
// store and the cache on Commit.
//
// Two locks guard the shared state, the store lock and the cache lock. When
// both are needed they are always taken in that order (store, then cache).
//
// Basic usage:
//
//	opts := engine.DefaultOptions("./data.txt")
//	db, err := engine.Open(ctx, opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	s := db.NewSession()
//	s.Begin()
//	s.Set(ctx, "user:1", "alice")
//	s.Commit(ctx)
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sanonone/txcache/pkg/cache"
	"github.com/sanonone/txcache/pkg/metrics"
	"github.com/sanonone/txcache/pkg/storage"
)

// Options configures an Engine.
type Options struct {
	// Store selects and configures the backing store (used by Open only).
	Store storage.Config

	// CacheCapacity is the maximum number of cached keys, tombstones
	// included. A value <= 0 disables the cache: every read that misses the
	// session's own buffer goes to the store.
	CacheCapacity int

	// StrictReads holds the store lock across the whole read-miss path
	// (store read and cache population). This closes the window in which a
	// reader can install a value that a concurrent commit has already
	// replaced, at the cost of serializing cache population behind store
	// reads.
	StrictReads bool

	// LockTimeout bounds how long an operation waits for the store or cache
	// lock. 0 waits indefinitely.
	LockTimeout time.Duration

	// Logger receives engine logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns a configuration using the flat-file backend at path
// with a 1024-entry cache.
func DefaultOptions(path string) Options {
	return Options{
		Store: storage.Config{
			Backend: storage.BackendFile,
			Path:    path,
		},
		CacheCapacity: 1024,
	}
}

// Engine is the transactional store facade shared by all sessions.
// Use NewSession to obtain a per-caller handle.
type Engine struct {
	store   storage.Store
	batcher storage.Batcher // nil when the store cannot apply batches atomically
	cache   *cache.LRU      // nil when caching is disabled

	storeMu *lock
	cacheMu *lock

	opts Options
	log  *slog.Logger

	closeOnce sync.Once
}

// Open builds the Store described by opts.Store and returns an Engine on top
// of it. The Engine owns the store and closes it on Close.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	store, err := storage.Open(ctx, opts.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return New(store, opts), nil
}

// New returns an Engine on top of an existing store. opts.Store is ignored.
func New(store storage.Store, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		store:   store,
		storeMu: newLock(),
		cacheMu: newLock(),
		opts:    opts,
		log:     logger,
	}
	if b, ok := store.(storage.Batcher); ok {
		e.batcher = b
	}

	if opts.CacheCapacity > 0 {
		lru, err := cache.NewWithEvict(opts.CacheCapacity, e.onEvict)
		if err != nil {
			// unreachable: capacity is positive
			panic(err)
		}
		e.cache = lru
	}

	logger.Info("Engine initialized",
		"cache_capacity", opts.CacheCapacity,
		"cache_enabled", e.cache != nil,
		"atomic_commit", e.batcher != nil,
		"strict_reads", opts.StrictReads,
		"lock_timeout", opts.LockTimeout,
	)
	return e
}

func (e *Engine) onEvict(entry cache.Entry) {
	metrics.CacheEvictions.Inc()
	e.log.Debug("Cache eviction", "key", entry.Key, "tombstone", !entry.Present)
}

// NewSession returns a new caller handle with an empty, inactive buffer.
func (e *Engine) NewSession() *Session {
	return newSession(e)
}

// CacheEnabled reports whether the engine runs with a cache.
func (e *Engine) CacheEnabled() bool {
	return e.cache != nil
}

// CacheSnapshot returns the cache content from most to least recently used.
// ok is false when caching is disabled.
func (e *Engine) CacheSnapshot() (entries []cache.Entry, ok bool) {
	if e.cache == nil {
		return nil, false
	}
	if err := e.cacheMu.acquire(context.Background(), 0); err != nil {
		return nil, true
	}
	defer e.cacheMu.release()
	return e.cache.Snapshot(), true
}

// Close closes the underlying store. It is safe to call more than once.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		err = e.store.Close()
		e.log.Info("Engine closed")
	})
	return err
}

// readThrough resolves key from the cache, falling back to the store and
// recording the result in the cache.
func (e *Engine) readThrough(ctx context.Context, key string) (string, bool, error) {
	if e.cache != nil {
		if err := e.cacheMu.acquire(ctx, e.opts.LockTimeout); err != nil {
			return "", false, err
		}
		value, present, found := e.cache.Get(key)
		e.cacheMu.release()

		if found {
			if present {
				metrics.CacheLookups.WithLabelValues("hit").Inc()
			} else {
				metrics.CacheLookups.WithLabelValues("tombstone").Inc()
			}
			return value, present, nil
		}
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	if e.opts.StrictReads {
		return e.readStrict(ctx, key)
	}

	if err := e.storeMu.acquire(ctx, e.opts.LockTimeout); err != nil {
		return "", false, err
	}
	value, found, err := e.store.Read(ctx, key)
	e.storeMu.release()
	if err != nil {
		return "", false, fmt.Errorf("read %q: %w", key, err)
	}

	if e.cache != nil {
		// Separate critical section: a commit may land between the store read
		// and this put. StrictReads closes that window.
		if err := e.cacheMu.acquire(ctx, e.opts.LockTimeout); err != nil {
			e.log.Debug("Skipping cache population", "key", key, "error", err)
			return value, found, nil
		}
		e.cache.Put(key, value, found)
		metrics.CacheEntries.Set(float64(e.cache.Len()))
		e.cacheMu.release()
	}
	return value, found, nil
}

// readStrict reads the store and populates the cache while holding the store
// lock, with the cache lock nested inside it.
func (e *Engine) readStrict(ctx context.Context, key string) (string, bool, error) {
	if err := e.storeMu.acquire(ctx, e.opts.LockTimeout); err != nil {
		return "", false, err
	}
	defer e.storeMu.release()

	value, found, err := e.store.Read(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("read %q: %w", key, err)
	}

	if e.cache != nil {
		if err := e.cacheMu.acquire(ctx, e.opts.LockTimeout); err != nil {
			e.log.Debug("Skipping cache population", "key", key, "error", err)
			return value, found, nil
		}
		e.cache.Put(key, value, found)
		metrics.CacheEntries.Set(float64(e.cache.Len()))
		e.cacheMu.release()
	}
	return value, found, nil
}

// apply writes a committed batch to the store and the cache while holding
// both locks. With a Batcher store the batch is all-or-nothing; otherwise
// mutations are applied one by one and a mid-batch failure is reported as a
// *PartialCommitError.
func (e *Engine) apply(ctx context.Context, b storage.Batch) error {
	if err := e.storeMu.acquire(ctx, e.opts.LockTimeout); err != nil {
		return err
	}
	defer e.storeMu.release()

	if e.cache != nil {
		if err := e.cacheMu.acquire(ctx, e.opts.LockTimeout); err != nil {
			return err
		}
		defer e.cacheMu.release()
	}

	start := time.Now()
	defer func() {
		metrics.CommitDuration.Observe(time.Since(start).Seconds())
		if e.cache != nil {
			metrics.CacheEntries.Set(float64(e.cache.Len()))
		}
	}()

	if e.batcher != nil {
		if err := e.batcher.Apply(ctx, b); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		if e.cache != nil {
			for k, v := range b.Writes {
				e.cache.Put(k, v, true)
			}
			for _, k := range b.Deletes {
				e.cache.Put(k, "", false)
			}
		}
		return nil
	}

	return e.applySequential(ctx, b)
}

// applySequential is the fallback for stores without Batcher. Caller holds
// both locks.
func (e *Engine) applySequential(ctx context.Context, b storage.Batch) error {
	type mutation struct {
		key    string
		value  string
		delete bool
	}
	muts := make([]mutation, 0, b.Len())
	for _, k := range b.SortedWrites() {
		muts = append(muts, mutation{key: k, value: b.Writes[k]})
	}
	for _, k := range b.Deletes {
		muts = append(muts, mutation{key: k, delete: true})
	}

	applied := make([]string, 0, len(muts))
	for i, m := range muts {
		var err error
		if m.delete {
			err = e.store.Delete(ctx, m.key)
		} else {
			err = e.store.Write(ctx, m.key, m.value)
		}

		if err != nil {
			if e.cache != nil {
				for _, rest := range muts[i:] {
					e.cache.Remove(rest.key)
				}
			}
			if len(applied) == 0 {
				return fmt.Errorf("commit: %w", err)
			}
			unapplied := make([]string, 0, len(muts)-i-1)
			for _, rest := range muts[i+1:] {
				unapplied = append(unapplied, rest.key)
			}
			return &PartialCommitError{
				Applied:   applied,
				Failed:    m.key,
				Unapplied: unapplied,
				Err:       err,
			}
		}

		if e.cache != nil {
			e.cache.Put(m.key, m.value, !m.delete)
		}
		applied = append(applied, m.key)
	}
	return nil
}

// isPartial reports whether err is a *PartialCommitError.
func isPartial(err error) bool {
	var partial *PartialCommitError
	return errors.As(err, &partial)
}
