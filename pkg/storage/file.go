package storage

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// maxLineSize bounds a single "key=value" line when scanning the file.
const maxLineSize = 16 * 1024 * 1024

// FileStore keeps the data as "key=value" lines in a flat text file.
//
// Reads scan the file from the top and stop at the first matching line.
// Every mutation rewrites the whole file: the current content is read, modified
// in memory, written to a temporary file in the same directory, fsynced and
// renamed over the original. The rename makes each rewrite atomic, which is
// what lets Apply commit a whole batch or nothing.
//
// Lines that do not contain '=' are preserved verbatim.
type FileStore struct {
	mu     sync.Mutex
	path   string
	closed bool
}

// line is one line of the store file. raw lines carry no key.
type line struct {
	key   string
	value string
	raw   string
	isKV  bool
}

// OpenFileStore opens the store file at path, creating it if it does not exist.
func OpenFileStore(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0666)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open store file: %w", ErrStoreIO, err)
	}
	f.Close()
	return &FileStore{path: path}, nil
}

// Path returns the file path.
func (s *FileStore) Path() string {
	return s.path
}

func validateFileKey(key string) error {
	if key == "" || strings.ContainsAny(key, "=\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func validateFileValue(value string) error {
	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("%w: value contains a line break", ErrInvalidValue)
	}
	return nil
}

// Read implements Store.
func (s *FileStore) Read(_ context.Context, key string) (string, bool, error) {
	if err := validateFileKey(key); err != nil {
		return "", false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", false, ErrClosed
	}

	f, err := os.Open(s.path)
	if err != nil {
		return "", false, fmt.Errorf("%w: failed to open store file for reading: %w", ErrStoreIO, err)
	}
	defer f.Close()

	prefix := key + "="
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		text := scanner.Text()
		if strings.HasPrefix(text, prefix) {
			return text[len(prefix):], true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", false, fmt.Errorf("%w: failed to scan store file: %w", ErrStoreIO, err)
	}
	return "", false, nil
}

// Write implements Store.
func (s *FileStore) Write(ctx context.Context, key, value string) error {
	return s.Apply(ctx, Batch{Writes: map[string]string{key: value}})
}

// Delete implements Store.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	return s.Apply(ctx, Batch{Deletes: []string{key}})
}

// Apply implements Batcher with a single rewrite of the file.
func (s *FileStore) Apply(_ context.Context, b Batch) error {
	for k, v := range b.Writes {
		if err := validateFileKey(k); err != nil {
			return err
		}
		if err := validateFileValue(v); err != nil {
			return err
		}
	}
	for _, k := range b.Deletes {
		if err := validateFileKey(k); err != nil {
			return err
		}
	}
	if b.Empty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	lines, err := s.load()
	if err != nil {
		return err
	}

	pos := make(map[string]int, len(lines))
	for i, l := range lines {
		if l.isKV {
			if _, dup := pos[l.key]; !dup {
				pos[l.key] = i
			}
		}
	}

	changed := false
	for _, k := range b.SortedWrites() {
		v := b.Writes[k]
		if i, ok := pos[k]; ok {
			if lines[i].value != v {
				lines[i].value = v
				changed = true
			}
			continue
		}
		pos[k] = len(lines)
		lines = append(lines, line{key: k, value: v, isKV: true})
		changed = true
	}

	dropped := make(map[string]bool, len(b.Deletes))
	for _, k := range b.Deletes {
		if _, ok := pos[k]; ok {
			dropped[k] = true
			changed = true
		}
	}
	if !changed {
		return nil
	}

	return s.rewrite(lines, dropped)
}

// load reads the whole file. Caller must hold the mutex.
func (s *FileStore) load() ([]line, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open store file for reading: %w", ErrStoreIO, err)
	}
	defer f.Close()

	var lines []line
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		text := scanner.Text()
		k, v, ok := strings.Cut(text, "=")
		if !ok || k == "" {
			lines = append(lines, line{raw: text})
			continue
		}
		lines = append(lines, line{key: k, value: v, isKV: true})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to scan store file: %w", ErrStoreIO, err)
	}
	return lines, nil
}

// rewrite replaces the file with lines, skipping every line whose key is in
// dropped. Caller must hold the mutex.
func (s *FileStore) rewrite(lines []line, dropped map[string]bool) error {
	dir, base := filepath.Split(s.path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %w", ErrStoreIO, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	w := bufio.NewWriter(tmp)
	for _, l := range lines {
		if l.isKV && dropped[l.key] {
			continue
		}
		var err error
		if l.isKV {
			_, err = fmt.Fprintf(w, "%s=%s\n", l.key, l.value)
		} else {
			_, err = fmt.Fprintf(w, "%s\n", l.raw)
		}
		if err != nil {
			cleanup()
			return fmt.Errorf("%w: failed to write temp file: %w", ErrStoreIO, err)
		}
	}

	if err := w.Flush(); err != nil {
		cleanup()
		return fmt.Errorf("%w: failed to flush temp file: %w", ErrStoreIO, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("%w: failed to sync temp file: %w", ErrStoreIO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: failed to close temp file: %w", ErrStoreIO, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: failed to replace store file: %w", ErrStoreIO, err)
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
