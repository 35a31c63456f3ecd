package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strconv"
	"testing"

	"github.com/sanonone/txcache/internal/server"
	"github.com/sanonone/txcache/pkg/engine"
	"github.com/sanonone/txcache/pkg/storage"
)

// newTestClient starts an in-process server and returns a client for it.
func newTestClient(t *testing.T, token string) *Client {
	t.Helper()
	return newTestClientWithStore(t, storage.NewMemoryStore(), token)
}

func newTestClientWithStore(t *testing.T, store storage.Store, token string) *Client {
	t.Helper()
	eng := engine.New(store, engine.Options{
		CacheCapacity: 2,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	srv := server.NewServer(eng, server.Options{AuthToken: "secret"})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown()
		eng.Close()
	})

	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)
	return New(host, port, token)
}

func TestClientSessionFlow(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, "secret")

	if err := c.Healthz(ctx); err != nil {
		t.Fatalf("Healthz: %v", err)
	}

	writer, err := c.OpenSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	reader, err := c.OpenSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if writer.ID() == reader.ID() {
		t.Fatal("sessions must have distinct IDs")
	}

	if err := writer.Begin(ctx); err != nil {
		t.Fatal(err)
	}
	if _, existed, err := writer.Set(ctx, "user/1", "alice"); err != nil || existed {
		t.Fatalf("Set: %v %v", existed, err)
	}
	if v, found, _ := writer.Get(ctx, "user/1"); !found || v != "alice" {
		t.Fatalf("writer Get = %q,%v", v, found)
	}

	pending, err := writer.Pending(ctx)
	if err != nil || !pending.Active || pending.Writes["user/1"] != "alice" {
		t.Fatalf("Pending = %+v, %v", pending, err)
	}

	reader.Begin(ctx)
	if _, found, _ := reader.Get(ctx, "user/1"); found {
		t.Fatal("reader saw an uncommitted write")
	}
	reader.Abort(ctx)

	if err := writer.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	reader.Begin(ctx)
	if v, found, _ := reader.Get(ctx, "user/1"); !found || v != "alice" {
		t.Fatalf("reader after commit = %q,%v", v, found)
	}
	if old, existed, _ := reader.Delete(ctx, "user/1"); !existed || old != "alice" {
		t.Fatalf("Delete = %q,%v", old, existed)
	}
	if err := reader.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	snap, err := c.CacheSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Enabled || len(snap.Entries) != 1 || snap.Entries[0].Present {
		t.Fatalf("expected a single tombstone, got %+v", snap)
	}

	if err := writer.Close(ctx); err != nil {
		t.Fatal(err)
	}
	var apiErr *APIError
	if err := writer.Begin(ctx); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("Begin on closed session: %v", err)
	}
}

func TestClientErrors(t *testing.T) {
	ctx := context.Background()

	unauth := newTestClient(t, "wrong")
	var apiErr *APIError
	if _, err := unauth.OpenSession(ctx); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}

	c := newTestClient(t, "secret")
	s, err := c.OpenSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(ctx); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
	if apiErr.Message != engine.ErrNoActiveTransaction.Error() {
		t.Errorf("unexpected message %q", apiErr.Message)
	}
}

func TestClientConnectionError(t *testing.T) {
	c := New("127.0.0.1", 1, "")
	if err := c.Healthz(context.Background()); err == nil {
		t.Fatal("expected a connection error")
	}
}

// unbatchedStore has no Apply method and rejects writes of failKey.
type unbatchedStore struct {
	mem     *storage.MemoryStore
	failKey string
}

func (s *unbatchedStore) Read(ctx context.Context, key string) (string, bool, error) {
	return s.mem.Read(ctx, key)
}

func (s *unbatchedStore) Write(ctx context.Context, key, value string) error {
	if key == s.failKey {
		return storage.ErrStoreIO
	}
	return s.mem.Write(ctx, key, value)
}

func (s *unbatchedStore) Delete(ctx context.Context, key string) error {
	return s.mem.Delete(ctx, key)
}

func (s *unbatchedStore) Close() error { return s.mem.Close() }

func TestClientPartialCommit(t *testing.T) {
	ctx := context.Background()
	c := newTestClientWithStore(t, &unbatchedStore{mem: storage.NewMemoryStore(), failKey: "b"}, "secret")

	s, err := c.OpenSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Begin(ctx); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"a", "b", "c"} {
		if _, _, err := s.Set(ctx, k, "v"); err != nil {
			t.Fatalf("Set(%q): %v", k, err)
		}
	}

	err = s.Commit(ctx)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected a 500 APIError, got %v", err)
	}
	if apiErr.Partial == nil {
		t.Fatalf("partial commit details not decoded: %+v", apiErr)
	}
	want := &PartialCommit{Applied: []string{"a"}, Failed: "b", Unapplied: []string{"c"}}
	if !reflect.DeepEqual(apiErr.Partial, want) {
		t.Fatalf("Partial = %+v, want %+v", apiErr.Partial, want)
	}

	pending, err := s.Pending(ctx)
	if err != nil || pending.Active {
		t.Fatalf("transaction should be closed after a partial commit: %+v, %v", pending, err)
	}
}
