// Command txcache runs a concurrent demo workload against a flat-file store
// through the transactional cache and prints the final cache content.
//
// Usage:
//
//	txcache [flags] <store-path> <max-cache-entries> <num-callers>
//
// Each caller begins a transaction, sets key<i>_1 and key<i>_2, reads both
// back, deletes key<i>_1 and commits.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/sanonone/txcache/internal/config"
	"github.com/sanonone/txcache/pkg/cache"
	"github.com/sanonone/txcache/pkg/engine"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("txcache", flag.ContinueOnError)
	fs.SetOutput(stderr)
	strict := fs.Bool("strict-reads", false, "Hold the store lock while populating the cache on a read miss")
	lockTimeout := fs.Duration("lock-timeout", 0, "Maximum wait for the store or cache lock (0 waits forever)")
	logLevel := fs.String("log-level", "warn", "Log level: debug, info, warn, error")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: txcache [flags] <store-path> <max-cache-entries> <num-callers>")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 3 {
		fs.Usage()
		return 1
	}

	capacity, err1 := strconv.Atoi(fs.Arg(1))
	callers, err2 := strconv.Atoi(fs.Arg(2))
	if err1 != nil || err2 != nil {
		fmt.Fprintln(stderr, "Error: invalid number as an argument")
		return 1
	}

	cfg := config.DefaultConfig()
	cfg.LogLevel = *logLevel
	if _, err := config.ParseLevel(cfg.LogLevel); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	logger := cfg.NewLogger(stderr)

	ctx := context.Background()
	opts := engine.DefaultOptions(fs.Arg(0))
	opts.CacheCapacity = capacity
	opts.StrictReads = *strict
	opts.LockTimeout = *lockTimeout
	opts.Logger = logger
	db, err := engine.Open(ctx, opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	out := &printer{w: stdout}
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			workload(ctx, db, id, out, logger)
		}(i)
	}
	wg.Wait()

	out.printf("Final cache:\n")
	printCache(out, db)
	return 0
}

// workload is one caller's transaction.
func workload(ctx context.Context, db *engine.Engine, id int, out *printer, logger *slog.Logger) {
	s := db.NewSession()
	if err := s.Begin(); err != nil {
		out.printf("Caller %d: failed to begin transaction: %v\n", id, err)
		return
	}

	key1, key2 := fmt.Sprintf("key%d_1", id), fmt.Sprintf("key%d_2", id)
	value1, value2 := fmt.Sprintf("value%d_1", id), fmt.Sprintf("value%d_2", id)

	start := time.Now()
	if err := setAll(ctx, s, key1, value1, key2, value2); err != nil {
		out.printf("Caller %d: set failed: %v\n", id, err)
		s.Abort()
		return
	}
	out.printf("Caller %d: Set %s = %s\nCaller %d: Set %s = %s\n", id, key1, value1, id, key2, value2)

	got1, _, err1 := s.Get(ctx, key1)
	got2, _, err2 := s.Get(ctx, key2)
	if err1 != nil || err2 != nil {
		out.printf("Caller %d: get failed\n", id)
		s.Abort()
		return
	}
	out.printf("Caller %d: Got %s = %s\nCaller %d: Got %s = %s\n", id, key1, got1, id, key2, got2)

	if _, _, err := s.Delete(ctx, key1); err != nil {
		out.printf("Caller %d: delete failed: %v\n", id, err)
		s.Abort()
		return
	}
	out.printf("Caller %d: Deleted %s\n", id, key1)

	if err := s.Commit(ctx); err != nil {
		out.printf("Caller %d: failed to commit transaction: %v\n", id, err)
		if s.Active() {
			s.Abort()
		}
		return
	}
	logger.Debug("Caller finished", "caller", id, "duration", time.Since(start))
	out.printf("Caller %d: Committed transaction\n", id)
}

func setAll(ctx context.Context, s *engine.Session, kv ...string) error {
	for i := 0; i+1 < len(kv); i += 2 {
		if _, _, err := s.Set(ctx, kv[i], kv[i+1]); err != nil {
			return err
		}
	}
	return nil
}

func printCache(out *printer, db *engine.Engine) {
	entries, ok := db.CacheSnapshot()
	if !ok {
		out.printf("(cache disabled)\n")
		return
	}
	for _, e := range entries {
		out.printf("%s\n", formatEntry(e))
	}
}

func formatEntry(e cache.Entry) string {
	if !e.Present {
		return e.Key + " -> (deleted)"
	}
	return e.Key + " -> " + e.Value
}

// printer serializes output from concurrent callers.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}
