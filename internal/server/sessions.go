package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sanonone/txcache/pkg/engine"
	"github.com/sanonone/txcache/pkg/metrics"
)

// remoteSession is an engine session owned by an HTTP client. Requests on
// the same session are serialized by mu.
type remoteSession struct {
	mu       sync.Mutex
	sess     *engine.Session
	lastUsed time.Time
	closed   bool
}

// SessionRegistry tracks the sessions opened over HTTP.
type SessionRegistry struct {
	engine   *engine.Engine
	ttl      time.Duration
	sessions map[string]*remoteSession
	mu       sync.RWMutex
	now      func() time.Time
}

// NewSessionRegistry creates an empty registry. Sessions idle for longer than
// ttl are dropped by Sweep; ttl <= 0 disables expiry.
func NewSessionRegistry(eng *engine.Engine, ttl time.Duration) *SessionRegistry {
	return &SessionRegistry{
		engine:   eng,
		ttl:      ttl,
		sessions: make(map[string]*remoteSession),
		now:      time.Now,
	}
}

// Create opens a new engine session and registers it under its ID.
func (r *SessionRegistry) Create() string {
	rs := &remoteSession{
		sess:     r.engine.NewSession(),
		lastUsed: r.now(),
	}

	r.mu.Lock()
	r.sessions[rs.sess.ID()] = rs
	n := len(r.sessions)
	r.mu.Unlock()

	metrics.ActiveSessions.Set(float64(n))
	return rs.sess.ID()
}

// Do runs fn on the session with the given ID while holding the session's
// lock. It reports false if the session does not exist.
func (r *SessionRegistry) Do(id string, fn func(s *engine.Session)) bool {
	r.mu.RLock()
	rs, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.closed {
		return false
	}
	rs.lastUsed = r.now()
	fn(rs.sess)
	return true
}

// Remove drops a session, aborting its open transaction if any. It reports
// whether the session existed and whether a transaction was aborted.
func (r *SessionRegistry) Remove(id string) (found, aborted bool) {
	r.mu.Lock()
	rs, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return false, false
	}
	metrics.ActiveSessions.Set(float64(n))

	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.closed = true
	return true, rs.sess.Abort() == nil
}

// Len returns the number of registered sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep drops the sessions idle for longer than the TTL and returns how many
// were removed. Sessions busy with a request are skipped.
func (r *SessionRegistry) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	deadline := r.now().Add(-r.ttl)

	r.mu.Lock()
	var expired []*remoteSession
	for id, rs := range r.sessions {
		if !rs.mu.TryLock() {
			continue
		}
		if rs.lastUsed.Before(deadline) {
			rs.closed = true
			delete(r.sessions, id)
			expired = append(expired, rs)
		}
		rs.mu.Unlock()
	}
	n := len(r.sessions)
	r.mu.Unlock()

	if len(expired) == 0 {
		return 0
	}
	metrics.ActiveSessions.Set(float64(n))

	for _, rs := range expired {
		if rs.sess.Abort() == nil {
			slog.Info("Expired session aborted its open transaction", "session", rs.sess.ID())
		}
	}
	return len(expired)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *SessionRegistry) RunSweeper(ctx context.Context, interval time.Duration) {
	if r.ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				slog.Debug("Expired idle sessions", "count", n)
			}
		}
	}
}

// Close aborts and drops every session.
func (r *SessionRegistry) Close() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Remove(id)
	}
}
