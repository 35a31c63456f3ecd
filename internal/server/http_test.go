package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/sanonone/txcache/pkg/engine"
	"github.com/sanonone/txcache/pkg/storage"
)

func newTestServer(t *testing.T, token string) (*httptest.Server, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	eng := engine.New(store, engine.Options{
		CacheCapacity: 4,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	s := NewServer(eng, Options{AuthToken: token})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Shutdown()
		eng.Close()
	})
	return ts, store
}

func do(t *testing.T, ts *httptest.Server, method, path string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer test-secret-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decoding response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func openSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	var resp SessionResponse
	if code := do(t, ts, "POST", "/sessions", nil, &resp); code != http.StatusCreated {
		t.Fatalf("POST /sessions: %d", code)
	}
	return resp.ID
}

func TestHealthzAndAuth(t *testing.T) {
	ts, _ := newTestServer(t, "test-secret-token")

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("healthz expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/sessions", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 401 {
		t.Errorf("protected expected 401, got %d", resp.StatusCode)
	}

	if code := do(t, ts, "POST", "/sessions", nil, nil); code != http.StatusCreated {
		t.Errorf("protected with token expected 201, got %d", code)
	}
}

func TestTransactionOverHTTP(t *testing.T) {
	ts, store := newTestServer(t, "")
	id := openSession(t, ts)
	base := "/sessions/" + id

	var sess SessionResponse
	if code := do(t, ts, "POST", base+"/begin", nil, &sess); code != 200 || !sess.Active {
		t.Fatalf("begin: %d %+v", code, sess)
	}

	var kv KVResponse
	do(t, ts, "PUT", base+"/kv/user/1", map[string]string{"value": "alice"}, &kv)
	if kv.Key != "user/1" || kv.Found {
		t.Fatalf("first PUT = %+v", kv)
	}

	do(t, ts, "GET", base+"/kv/user/1", nil, &kv)
	if !kv.Found || kv.Value != "alice" {
		t.Fatalf("read-your-own-write = %+v", kv)
	}

	do(t, ts, "GET", base, nil, &sess)
	if sess.Writes["user/1"] != "alice" {
		t.Fatalf("pending view = %+v", sess)
	}

	if store.Len() != 0 {
		t.Fatal("uncommitted write reached the store")
	}

	if code := do(t, ts, "POST", base+"/commit", nil, &sess); code != 200 || sess.Active {
		t.Fatalf("commit: %d %+v", code, sess)
	}
	if v, _, _ := store.Read(t.Context(), "user/1"); v != "alice" {
		t.Fatalf("store holds %q", v)
	}

	var cache CacheResponse
	do(t, ts, "GET", "/cache", nil, &cache)
	if !cache.Enabled || len(cache.Entries) != 1 || cache.Entries[0].Key != "user/1" {
		t.Fatalf("cache = %+v", cache)
	}
}

func TestDeleteReturnsOldValue(t *testing.T) {
	ts, _ := newTestServer(t, "")
	id := openSession(t, ts)
	base := "/sessions/" + id

	do(t, ts, "POST", base+"/begin", nil, nil)
	do(t, ts, "PUT", base+"/kv/k", map[string]string{"value": "v"}, nil)

	var kv KVResponse
	if code := do(t, ts, "DELETE", base+"/kv/k", nil, &kv); code != 200 || !kv.Found || kv.Value != "v" {
		t.Fatalf("DELETE: %d %+v", code, kv)
	}
	do(t, ts, "GET", base+"/kv/k", nil, &kv)
	if kv.Found {
		t.Fatal("deleted key still visible")
	}
}

func TestErrorMapping(t *testing.T) {
	ts, _ := newTestServer(t, "")
	id := openSession(t, ts)
	base := "/sessions/" + id

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"get without transaction", "GET", base + "/kv/k", nil, http.StatusConflict},
		{"commit without transaction", "POST", base + "/commit", nil, http.StatusConflict},
		{"abort without transaction", "POST", base + "/abort", nil, http.StatusConflict},
		{"unknown session", "POST", "/sessions/nope/begin", nil, http.StatusNotFound},
		{"unknown route", "GET", "/nowhere", nil, http.StatusNotFound},
		{"begin", "POST", base + "/begin", nil, http.StatusOK},
		{"double begin", "POST", base + "/begin", nil, http.StatusConflict},
		{"empty key", "GET", base + "/kv/", nil, http.StatusBadRequest},
		{"missing value", "PUT", base + "/kv/k", map[string]string{"other": "x"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := do(t, ts, tt.method, tt.path, tt.body, nil); code != tt.want {
				t.Fatalf("%s %s: expected %d, got %d", tt.method, tt.path, tt.want, code)
			}
		})
	}
}

func TestEmptyValueOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t, "")
	base := "/sessions/" + openSession(t, ts)

	do(t, ts, "POST", base+"/begin", nil, nil)
	if code := do(t, ts, "PUT", base+"/kv/blank", map[string]string{"value": ""}, nil); code != 200 {
		t.Fatalf("PUT empty value: %d", code)
	}
	var kv KVResponse
	do(t, ts, "GET", base+"/kv/blank", nil, &kv)
	if !kv.Found || kv.Value != "" {
		t.Fatalf("empty value = %+v", kv)
	}
}

func TestCloseSessionAbortsTransaction(t *testing.T) {
	ts, store := newTestServer(t, "")
	id := openSession(t, ts)
	base := "/sessions/" + id

	do(t, ts, "POST", base+"/begin", nil, nil)
	do(t, ts, "PUT", base+"/kv/k", map[string]string{"value": "v"}, nil)

	var sess SessionResponse
	if code := do(t, ts, "DELETE", base, nil, &sess); code != 200 || !sess.Aborted {
		t.Fatalf("close: %d %+v", code, sess)
	}
	if code := do(t, ts, "GET", base, nil, nil); code != http.StatusNotFound {
		t.Fatalf("closed session still reachable: %d", code)
	}
	if store.Len() != 0 {
		t.Fatal("closing a session committed its writes")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, "test-secret-token")
	do(t, ts, "POST", "/sessions", nil, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != 200 {
		t.Fatalf("metrics expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "txcache_http_requests_total") {
		t.Error("HTTP request counter not exported")
	}
	if !strings.Contains(string(body), `path="POST /sessions"`) {
		t.Error("requests should be labeled by route pattern")
	}
}

func TestStatusFor(t *testing.T) {
	partial := &engine.PartialCommitError{Applied: []string{"a"}, Failed: "b", Err: storage.ErrStoreIO}
	tests := []struct {
		err  error
		want int
	}{
		{engine.ErrNoActiveTransaction, http.StatusConflict},
		{engine.ErrTransactionAlreadyActive, http.StatusConflict},
		{engine.ErrLockTimeout, http.StatusServiceUnavailable},
		{engine.ErrEmptyKey, http.StatusBadRequest},
		{storage.ErrInvalidValue, http.StatusBadRequest},
		{partial, http.StatusInternalServerError},
		{storage.ErrStoreIO, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

// flakyStore has no batch support and fails every mutation on failKey, so
// commits through it apply one key at a time.
type flakyStore struct {
	mem     *storage.MemoryStore
	failKey string
}

func (s *flakyStore) Read(ctx context.Context, key string) (string, bool, error) {
	return s.mem.Read(ctx, key)
}

func (s *flakyStore) Write(ctx context.Context, key, value string) error {
	if key == s.failKey {
		return fmt.Errorf("write %s: %w", key, storage.ErrStoreIO)
	}
	return s.mem.Write(ctx, key, value)
}

func (s *flakyStore) Delete(ctx context.Context, key string) error {
	if key == s.failKey {
		return fmt.Errorf("delete %s: %w", key, storage.ErrStoreIO)
	}
	return s.mem.Delete(ctx, key)
}

func (s *flakyStore) Close() error { return s.mem.Close() }

func TestPartialCommitOverHTTP(t *testing.T) {
	store := &flakyStore{mem: storage.NewMemoryStore(), failKey: "b"}
	eng := engine.New(store, engine.Options{
		CacheCapacity: 4,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	s := NewServer(eng, Options{})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Shutdown()
		eng.Close()
	})

	id := openSession(t, ts)
	if code := do(t, ts, "POST", "/sessions/"+id+"/begin", nil, nil); code != http.StatusOK {
		t.Fatalf("begin: %d", code)
	}
	for _, k := range []string{"a", "b", "c"} {
		if code := do(t, ts, "PUT", "/sessions/"+id+"/kv/"+k, map[string]string{"value": k + "-v"}, nil); code != http.StatusOK {
			t.Fatalf("PUT %s: %d", k, code)
		}
	}

	var errResp ErrorResponse
	if code := do(t, ts, "POST", "/sessions/"+id+"/commit", nil, &errResp); code != http.StatusInternalServerError {
		t.Fatalf("commit: %d", code)
	}
	if errResp.Partial == nil {
		t.Fatalf("missing partial payload: %+v", errResp)
	}
	p := errResp.Partial
	if !reflect.DeepEqual(p.Applied, []string{"a"}) || p.Failed != "b" || !reflect.DeepEqual(p.Unapplied, []string{"c"}) {
		t.Fatalf("unexpected partial payload %+v", p)
	}

	var sess SessionResponse
	do(t, ts, "GET", "/sessions/"+id, nil, &sess)
	if sess.Active {
		t.Fatal("a partial commit must end the transaction")
	}
	if v, found, _ := store.mem.Read(context.Background(), "a"); !found || v != "a-v" {
		t.Fatalf("applied key missing: %q,%v", v, found)
	}
}
