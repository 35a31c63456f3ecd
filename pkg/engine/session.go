package engine

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/sanonone/txcache/pkg/metrics"
	"github.com/sanonone/txcache/pkg/txn"
)

// Session is one caller's handle on an Engine. It owns a private transaction
// buffer, so uncommitted writes are visible only through this Session.
//
// A Session must not be used from more than one goroutine at a time; give
// each concurrent caller its own Session.
type Session struct {
	id     string
	engine *Engine
	buf    *txn.Buffer
	log    *slog.Logger
}

func newSession(e *Engine) *Session {
	id := uuid.New().String()
	return &Session{
		id:     id,
		engine: e,
		buf:    txn.NewBuffer(),
		log:    e.log.With("session", id),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// Active reports whether the session has an open transaction.
func (s *Session) Active() bool {
	return s.buf.Active()
}

// Pending returns a copy of the staged, uncommitted mutations.
func (s *Session) Pending() txn.Pending {
	return s.buf.Pending()
}

// Begin opens a transaction. It takes no lock.
func (s *Session) Begin() error {
	if s.buf.Active() {
		return ErrTransactionAlreadyActive
	}
	s.buf.Activate()
	s.log.Debug("Transaction started")
	return nil
}

// Commit applies the staged mutations to the store and the cache.
//
// On success the transaction is closed. If the store rejects an atomic batch,
// or a lock cannot be acquired, nothing is applied and the transaction stays
// open so the caller can retry Commit or Abort. A *PartialCommitError closes
// the transaction.
func (s *Session) Commit(ctx context.Context) error {
	if !s.buf.Active() {
		return ErrNoActiveTransaction
	}

	batch := s.buf.Batch()
	if batch.Empty() {
		s.buf.Deactivate()
		metrics.Transactions.WithLabelValues("commit").Inc()
		s.log.Debug("Transaction committed", "mutations", 0)
		return nil
	}

	if err := s.engine.apply(ctx, batch); err != nil {
		if isPartial(err) {
			s.buf.Deactivate()
			metrics.Transactions.WithLabelValues("partial").Inc()
			s.log.Warn("Transaction partially committed", "error", err)
			return err
		}
		metrics.Transactions.WithLabelValues("commit_failed").Inc()
		s.log.Error("Commit failed, transaction still open", "error", err)
		return err
	}

	s.buf.Deactivate()
	metrics.Transactions.WithLabelValues("commit").Inc()
	s.log.Debug("Transaction committed", "writes", len(batch.Writes), "deletes", len(batch.Deletes))
	return nil
}

// Abort discards the staged mutations. The store and the cache are not
// touched.
func (s *Session) Abort() error {
	if !s.buf.Active() {
		return ErrNoActiveTransaction
	}
	discarded := s.buf.Len()
	s.buf.Deactivate()
	metrics.Transactions.WithLabelValues("abort").Inc()
	s.log.Debug("Transaction aborted", "discarded", discarded)
	return nil
}

// Get returns the value of key as seen by this session: its own staged
// mutations first, then the cache, then the store. found is false when the
// key is absent.
func (s *Session) Get(ctx context.Context, key string) (value string, found bool, err error) {
	if !s.buf.Active() {
		return "", false, ErrNoActiveTransaction
	}
	if key == "" {
		return "", false, ErrEmptyKey
	}
	return s.read(ctx, key)
}

// Set stages key=value and returns the value key had before, as seen by
// this session.
func (s *Session) Set(ctx context.Context, key, value string) (old string, existed bool, err error) {
	if !s.buf.Active() {
		return "", false, ErrNoActiveTransaction
	}
	if key == "" {
		return "", false, ErrEmptyKey
	}
	old, existed, err = s.read(ctx, key)
	if err != nil {
		return "", false, err
	}
	s.buf.StageWrite(key, value)
	return old, existed, nil
}

// Delete stages the removal of key and returns the value key had before, as
// seen by this session.
func (s *Session) Delete(ctx context.Context, key string) (old string, existed bool, err error) {
	if !s.buf.Active() {
		return "", false, ErrNoActiveTransaction
	}
	if key == "" {
		return "", false, ErrEmptyKey
	}
	old, existed, err = s.read(ctx, key)
	if err != nil {
		return "", false, err
	}
	s.buf.StageDelete(key)
	return old, existed, nil
}

func (s *Session) read(ctx context.Context, key string) (string, bool, error) {
	if value, deleted, ok := s.buf.Lookup(key); ok {
		if deleted {
			return "", false, nil
		}
		return value, true, nil
	}
	return s.engine.readThrough(ctx, key)
}
