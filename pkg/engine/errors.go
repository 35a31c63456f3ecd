package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransactionAlreadyActive is returned by Begin when the session is
	// already inside a transaction. The open transaction is left untouched.
	ErrTransactionAlreadyActive = errors.New("transaction already active")

	// ErrNoActiveTransaction is returned by Commit, Abort, Get, Set and Delete
	// when the session has no open transaction. Nothing is mutated.
	ErrNoActiveTransaction = errors.New("no active transaction")

	// ErrLockTimeout is returned when the store or cache lock could not be
	// acquired within Options.LockTimeout. Nothing is mutated.
	ErrLockTimeout = errors.New("timed out waiting for lock")

	// ErrEmptyKey is returned for operations on the empty key.
	ErrEmptyKey = errors.New("key must not be empty")
)

// PartialCommitError reports a commit that failed after some, but not all,
// of its mutations reached the store. It only happens with stores that cannot
// apply a batch atomically. The transaction is closed: the keys in Applied are
// durable and cached, Failed is in an unknown state, and the keys in Unapplied
// were never sent to the store. Failed and Unapplied are dropped from the
// cache.
type PartialCommitError struct {
	Applied   []string
	Failed    string
	Unapplied []string
	Err       error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("partial commit: %d applied, failed at %q, %d not applied [%s]: %v",
		len(e.Applied), e.Failed, len(e.Unapplied), strings.Join(e.Unapplied, ","), e.Err)
}

func (e *PartialCommitError) Unwrap() error {
	return e.Err
}
