// Package persistence implements the append-only file (AOF) used by the
// log-structured store backend: CRC-framed records, a RESP command codec for
// frame payloads, and replay.
package persistence

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
)

// AOFWriter manages writing frames to the Append-Only File.
type AOFWriter struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	fw   *FrameWriter
	path string
	size int64 // logical size, buffered bytes included
}

// NewAOFWriter opens or creates an AOF file at the given path.
func NewAOFWriter(path string) (*AOFWriter, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return nil, fmt.Errorf("failed to open AOF file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat AOF file: %w", err)
	}

	a := &AOFWriter{
		file: file,
		buf:  bufio.NewWriter(file),
		path: path,
		size: info.Size(),
	}
	a.fw = NewFrameWriter(a.buf)
	return a, nil
}

// Append frames payload with the given opcode and adds it to the write buffer.
// Nothing reaches the disk until Sync (or Flush) is called.
func (a *AOFWriter) Append(op byte, payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	n, err := a.fw.WriteFrame(op, payload)
	a.size += int64(n)
	return err
}

// Flush forces the buffer contents to be written to the os file descriptor.
func (a *AOFWriter) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.Flush()
}

// Sync flushes the buffer and fsyncs the file.
func (a *AOFWriter) Sync() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.buf.Flush(); err != nil {
		return err
	}
	return a.file.Sync()
}

// Size returns the logical size of the log, including buffered frames.
func (a *AOFWriter) Size() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// Rollback discards anything buffered and truncates the file back to size.
// It is used to undo an Append whose Sync failed.
func (a *AOFWriter) Rollback(size int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buf.Reset(a.file)
	if err := a.file.Truncate(size); err != nil {
		return err
	}
	if _, err := a.file.Seek(size, io.SeekStart); err != nil {
		return err
	}
	a.size = size
	return nil
}

// Close flushes and closes the underlying file.
func (a *AOFWriter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.buf.Flush(); err != nil {
		_ = a.file.Close()
		return err
	}
	return a.file.Close()
}

// Path returns the file path.
func (a *AOFWriter) Path() string {
	return a.path
}

// ReplaceWith replaces the current AOF file with a new one atomically (rename)
// and reopens it. Used at the end of a compaction.
func (a *AOFWriter) ReplaceWith(newFilePath string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_ = a.buf.Flush()
	_ = a.file.Close()

	if err := os.Rename(newFilePath, a.path); err != nil {
		return fmt.Errorf("failed to replace AOF file: %w", err)
	}

	file, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return fmt.Errorf("failed to reopen AOF file after replace: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat AOF file after replace: %w", err)
	}
	a.file = file
	a.buf.Reset(file)
	a.size = info.Size()
	return nil
}
