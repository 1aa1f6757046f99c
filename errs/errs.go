// Package errs defines the commit engine's closed set of error kinds
// (spec §7): each is a small struct wrapping an underlying cause,
// following the teacher's CouchDBError (db/couchdb_types.go) — a
// structured error with a predicate method callers can use instead of
// string matching, rather than one exception type for every failure.
package errs

import "fmt"

// StorageError wraps a failure from the primary key-column-value store
// during prepare or during a schema/main storage commit, which rolls
// back the transaction. A transaction-log append failure is also
// reported as a StorageError; one raised after a successful storage
// commit comes with no rollback.
type StorageError struct {
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %v", e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }

// IndexError wraps a failure from a single named index during
// commitIndexes. Unlike StorageError it does NOT roll back the
// transaction — the primary store is already durable — it is recorded
// per-index and promotes the trailer status to FAILURE.
type IndexError struct {
	IndexName string
	Cause     error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index %q error: %v", e.IndexName, e.Cause)
}

func (e *IndexError) Unwrap() error { return e.Cause }

// TriggerLogError wraps a failure appending to the trigger/audit log.
// It is recorded locally and logged at error level but never alters the
// status of the main storage or index commit.
type TriggerLogError struct {
	Cause error
}

func (e *TriggerLogError) Error() string {
	return fmt.Sprintf("trigger log error: %v", e.Cause)
}

func (e *TriggerLogError) Unwrap() error { return e.Cause }

// LockAcquisitionError wraps a failed optimistic lock claim. It is
// surfaced as a StorageError at commit time and treated identically —
// construct one with AsStorageError to produce that wrapping.
type LockAcquisitionError struct {
	Key    []byte
	Column []byte
	Cause  error
}

func (e *LockAcquisitionError) Error() string {
	return fmt.Sprintf("lock acquisition failed for key %x column %x: %v", e.Key, e.Column, e.Cause)
}

func (e *LockAcquisitionError) Unwrap() error { return e.Cause }

// AsStorageError wraps a LockAcquisitionError as a StorageError, the
// required surfacing at commit time.
func (e *LockAcquisitionError) AsStorageError() *StorageError {
	return &StorageError{Cause: e}
}

// InvariantViolation is a fail-fast, pre-persistence error: a
// non-positive vertex id, a missing schema precondition, or a schema
// mutation attempted with batch loading enabled or without locks.
type InvariantViolation struct {
	Reason string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation: %s", e.Reason)
}

// AlreadyOpenInstance is returned by the instance registry when a second
// graph attempts to register the same unique instance id. The caller
// should fail immediately and advise a forced shutdown of the prior
// instance.
type AlreadyOpenInstance struct {
	InstanceID string
}

func (e *AlreadyOpenInstance) Error() string {
	return fmt.Sprintf("instance id %q is already registered; a forced shutdown of the prior instance may be required", e.InstanceID)
}

// Unsupported is returned when a requested read has no backend
// capability to serve it — global vertex-id enumeration against a
// primary store offering neither an unordered scan nor an ordered key
// range is the only source of this error today.
type Unsupported struct {
	Operation string
	Cause     error
}

func (e *Unsupported) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("unsupported: %s", e.Operation)
	}
	return fmt.Sprintf("unsupported: %s: %v", e.Operation, e.Cause)
}

func (e *Unsupported) Unwrap() error { return e.Cause }

// ChainTrailerAndStorage resolves the spec's open question: when a
// log-trailer append fails while a primary-store failure is also being
// reported, both causes are chained — never one shadowing the other —
// via Go 1.20+ multi-%w wrapping so errors.As can recover either.
func ChainTrailerAndStorage(trailerErr, storageErr error) error {
	switch {
	case trailerErr == nil:
		return storageErr
	case storageErr == nil:
		return trailerErr
	default:
		return fmt.Errorf("%w: %w", trailerErr, storageErr)
	}
}
