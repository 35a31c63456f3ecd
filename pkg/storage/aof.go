package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/sanonone/txcache/pkg/persistence"
	"github.com/tidwall/btree"
)

// AOFStore keeps the live data in an in-memory B-tree and records every
// mutation in an append-only file. The file is replayed on open.
//
// Each Write, Delete or Apply appends one frame and fsyncs before the
// in-memory state changes, so a mutation is visible only once it is durable.
// Apply writes the whole batch as a single batch frame; replay either applies
// that frame completely or, if it is torn, drops it.
type AOFStore struct {
	mu     sync.RWMutex
	data   btree.Map[string, string]
	aof    *persistence.AOFWriter
	closed bool
}

// OpenAOFStore replays the AOF at path (if any) and opens it for appending.
func OpenAOFStore(path string) (*AOFStore, error) {
	s := &AOFStore{}

	validSize, err := persistence.Replay(path, s.replayFrame)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreIO, err)
	}

	aof, err := persistence.NewAOFWriter(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreIO, err)
	}
	if aof.Size() > validSize {
		slog.Warn("Truncating damaged AOF tail",
			"path", path,
			"size", aof.Size(),
			"valid_size", validSize,
		)
		if err := aof.Rollback(validSize); err != nil {
			aof.Close()
			return nil, fmt.Errorf("%w: failed to truncate AOF: %w", ErrStoreIO, err)
		}
	}
	s.aof = aof

	slog.Info("AOF store opened", "path", path, "keys", s.data.Len(), "bytes", validSize)
	return s, nil
}

// replayFrame applies one decoded frame to the in-memory map.
func (s *AOFStore) replayFrame(cmds []*persistence.Command) error {
	for _, cmd := range cmds {
		switch cmd.Name {
		case "SET":
			if len(cmd.Args) != 2 {
				return fmt.Errorf("SET expects 2 arguments, got %d", len(cmd.Args))
			}
			s.data.Set(string(cmd.Args[0]), string(cmd.Args[1]))
		case "DEL":
			if len(cmd.Args) != 1 {
				return fmt.Errorf("DEL expects 1 argument, got %d", len(cmd.Args))
			}
			s.data.Delete(string(cmd.Args[0]))
		default:
			return fmt.Errorf("unknown AOF command %q", cmd.Name)
		}
	}
	return nil
}

// Read implements Store.
func (s *AOFStore) Read(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", false, ErrClosed
	}
	value, found := s.data.Get(key)
	return value, found, nil
}

// Write implements Store.
func (s *AOFStore) Write(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	payload := persistence.FormatCommand("SET", []byte(key), []byte(value))
	if err := s.appendDurable(persistence.OpCodeCommand, payload); err != nil {
		return err
	}
	s.data.Set(key, value)
	return nil
}

// Delete implements Store.
func (s *AOFStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, found := s.data.Get(key); !found {
		return nil
	}
	payload := persistence.FormatCommand("DEL", []byte(key))
	if err := s.appendDurable(persistence.OpCodeCommand, payload); err != nil {
		return err
	}
	s.data.Delete(key)
	return nil
}

// Apply implements Batcher.
func (s *AOFStore) Apply(_ context.Context, b Batch) error {
	if b.Empty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	var payload []byte
	for _, k := range b.SortedWrites() {
		payload = append(payload, persistence.FormatCommand("SET", []byte(k), []byte(b.Writes[k]))...)
	}
	for _, k := range b.Deletes {
		payload = append(payload, persistence.FormatCommand("DEL", []byte(k))...)
	}

	if err := s.appendDurable(persistence.OpCodeBatch, payload); err != nil {
		return err
	}
	for k, v := range b.Writes {
		s.data.Set(k, v)
	}
	for _, k := range b.Deletes {
		s.data.Delete(k)
	}
	return nil
}

// appendDurable appends one frame and fsyncs it. On failure the file is
// rolled back to its previous size. Caller must hold the write lock.
func (s *AOFStore) appendDurable(op byte, payload []byte) error {
	before := s.aof.Size()

	err := s.aof.Append(op, payload)
	if err == nil {
		err = s.aof.Sync()
	}
	if err != nil {
		if rbErr := s.aof.Rollback(before); rbErr != nil {
			slog.Error("AOF rollback failed", "path", s.aof.Path(), "error", rbErr)
		}
		return fmt.Errorf("%w: AOF append failed: %w", ErrStoreIO, err)
	}
	return nil
}

// Compact rewrites the AOF so that it holds exactly one SET per live key.
// The new log is written next to the current one and swapped in with an
// atomic rename.
func (s *AOFStore) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tmpPath := s.aof.Path() + ".rewrite"
	tmp, err := persistence.NewAOFWriter(tmpPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreIO, err)
	}
	if err := tmp.Rollback(0); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: failed to reset rewrite file: %w", ErrStoreIO, err)
	}

	var writeErr error
	s.data.Scan(func(key, value string) bool {
		writeErr = tmp.Append(persistence.OpCodeCommand,
			persistence.FormatCommand("SET", []byte(key), []byte(value)))
		return writeErr == nil
	})
	if writeErr == nil {
		writeErr = tmp.Sync()
	}
	if closeErr := tmp.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: AOF rewrite failed: %w", ErrStoreIO, writeErr)
	}

	before := s.aof.Size()
	if err := s.aof.ReplaceWith(tmpPath); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreIO, err)
	}
	slog.Info("AOF compacted", "path", s.aof.Path(), "before", before, "after", s.aof.Size())
	return nil
}

// Size returns the current size of the AOF in bytes.
func (s *AOFStore) Size() int64 {
	return s.aof.Size()
}

// Len returns the number of live keys.
func (s *AOFStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Len()
}

// Close implements Store. The AOF is flushed and closed.
func (s *AOFStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.aof.Close()
}
