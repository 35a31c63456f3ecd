package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sanonone/txcache/pkg/cache"
	"github.com/sanonone/txcache/pkg/engine"
	"github.com/sanonone/txcache/pkg/storage"
)

// registerHTTPHandlers sets up the REST API routes.
func (s *Server) registerHTTPHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /sessions", s.handleSessionCreate)
	mux.HandleFunc("GET /sessions/{id}", s.handleSessionGet)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleSessionDelete)

	mux.HandleFunc("POST /sessions/{id}/begin", s.handleBegin)
	mux.HandleFunc("POST /sessions/{id}/commit", s.handleCommit)
	mux.HandleFunc("POST /sessions/{id}/abort", s.handleAbort)

	mux.HandleFunc("GET /sessions/{id}/kv/{key...}", s.handleKVGet)
	mux.HandleFunc("PUT /sessions/{id}/kv/{key...}", s.handleKVSet)
	mux.HandleFunc("DELETE /sessions/{id}/kv/{key...}", s.handleKVDelete)

	mux.HandleFunc("GET /cache", s.handleCache)
}

// --- Session lifecycle ---

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	id := s.sessions.Create()
	s.writeHTTPResponse(w, http.StatusCreated, SessionResponse{ID: id})
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var resp SessionResponse
	ok := s.sessions.Do(id, func(sess *engine.Session) {
		p := sess.Pending()
		resp = SessionResponse{ID: id, Active: p.Active, Writes: p.Writes, Deletes: p.Deletes}
	})
	if !ok {
		s.writeHTTPError(w, http.StatusNotFound, "session not found")
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, resp)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	found, aborted := s.sessions.Remove(id)
	if !found {
		s.writeHTTPError(w, http.StatusNotFound, "session not found")
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, SessionResponse{ID: id, Aborted: aborted})
}

// --- Transaction control ---

func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(_ context.Context, sess *engine.Session) error {
		return sess.Begin()
	})
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(ctx context.Context, sess *engine.Session) error {
		return sess.Commit(ctx)
	})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(_ context.Context, sess *engine.Session) error {
		return sess.Abort()
	})
}

// transition runs a Begin/Commit/Abort call and replies with the session
// state afterwards.
func (s *Server) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, *engine.Session) error) {
	id := r.PathValue("id")
	var (
		err    error
		active bool
	)
	ok := s.sessions.Do(id, func(sess *engine.Session) {
		err = fn(r.Context(), sess)
		active = sess.Active()
	})
	if !ok {
		s.writeHTTPError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, SessionResponse{ID: id, Active: active})
}

// --- Key operations ---

func (s *Server) handleKVGet(w http.ResponseWriter, r *http.Request) {
	s.keyOp(w, r, func(ctx context.Context, sess *engine.Session, key string) (string, bool, error) {
		return sess.Get(ctx, key)
	})
}

func (s *Server) handleKVSet(w http.ResponseWriter, r *http.Request) {
	var req KVSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid JSON, expected an object with a 'value' key")
		return
	}
	s.keyOp(w, r, func(ctx context.Context, sess *engine.Session, key string) (string, bool, error) {
		return sess.Set(ctx, key, *req.Value)
	})
}

func (s *Server) handleKVDelete(w http.ResponseWriter, r *http.Request) {
	s.keyOp(w, r, func(ctx context.Context, sess *engine.Session, key string) (string, bool, error) {
		return sess.Delete(ctx, key)
	})
}

func (s *Server) keyOp(w http.ResponseWriter, r *http.Request, fn func(context.Context, *engine.Session, string) (string, bool, error)) {
	id, key := r.PathValue("id"), r.PathValue("key")
	var resp KVResponse
	var err error
	ok := s.sessions.Do(id, func(sess *engine.Session) {
		resp.Key = key
		resp.Value, resp.Found, err = fn(r.Context(), sess, key)
	})
	if !ok {
		s.writeHTTPError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, resp)
}

// --- Introspection ---

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	entries, enabled := s.engine.CacheSnapshot()
	if entries == nil {
		entries = []cache.Entry{}
	}
	s.writeHTTPResponse(w, http.StatusOK, CacheResponse{Enabled: enabled, Entries: entries})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Response helpers ---

func (s *Server) writeHTTPResponse(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeHTTPError(w http.ResponseWriter, statusCode int, message string) {
	s.writeHTTPResponse(w, statusCode, ErrorResponse{Error: message})
}

// writeEngineError maps an engine error onto a status code.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}

	var partial *engine.PartialCommitError
	if errors.As(err, &partial) {
		resp.Partial = &PartialPayload{
			Applied:   partial.Applied,
			Failed:    partial.Failed,
			Unapplied: partial.Unapplied,
		}
	}

	s.writeHTTPResponse(w, statusFor(err), resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrNoActiveTransaction),
		errors.Is(err, engine.ErrTransactionAlreadyActive):
		return http.StatusConflict
	case errors.Is(err, engine.ErrEmptyKey),
		errors.Is(err, storage.ErrInvalidKey),
		errors.Is(err, storage.ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrLockTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
