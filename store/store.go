// Package store declares the primary key-column-value store and lock
// backend contracts the commit engine consumes. Concrete backends
// (store/boltkv for the primary store, lock/redislocker for locking)
// implement these interfaces; nothing in this package talks to a real
// database.
package store

import (
	"context"
	"errors"

	"github.com/evalgo/gdbtx/model"
)

// ErrUnsupportedOperation is returned when a backend is asked to perform
// a scan mode it declares no capability for.
var ErrUnsupportedOperation = errors.New("store: unsupported operation")

// Mutation is a queued (key, entry) change, tagged with whether it is an
// addition or a deletion. The primary store and composite-index store
// both consume batches of these.
type Mutation struct {
	Key   model.StaticBuffer
	Entry model.Entry
	Kind  model.IndexUpdateKind
}

// PrimaryStore is the primary key-column-value backend: slice and
// multi-slice reads, queued mutations, and the two-phase
// commitStorage/commitIndexes split the spec requires. A single
// PrimaryStore handle also backs the composite-index KCV contract (same
// engine, a distinct bucket/namespace), since §6 describes them as
// sharing the same physical shape.
type PrimaryStore interface {
	// Query returns the entries at a single key within the given slice.
	Query(ctx context.Context, q model.KeySliceQuery) ([]model.Entry, error)
	// MultiQuery returns entries for every key in keys within the given
	// slice, keyed by the input key.
	MultiQuery(ctx context.Context, keys []model.StaticBuffer, q model.SliceQuery) (map[string][]model.Entry, error)
	// Keys returns every key in [q.Start, q.End) — the ordered-scan
	// fallback used by getVertexIDs when UnorderedScanner is absent.
	Keys(ctx context.Context, q model.KeyRangeQuery) ([]model.StaticBuffer, error)

	// Mutate queues additions and deletions against key. Mutations
	// queued against the same key are applied in insertion order at
	// commit time; nothing is visible to reads until CommitStorage.
	Mutate(key model.StaticBuffer, additions, deletions []model.Entry) error

	// AcquireLock best-effort claims an optimistic lock on (key,
	// column). A failure to acquire must surface as a StorageError at
	// commit time, not be swallowed.
	AcquireLock(ctx context.Context, key model.StaticBuffer, column model.StaticBuffer) error

	// CommitStorage durably applies every queued Mutate call. A failure
	// here means partial persistence is possible and the caller must
	// roll back and surface a StorageError.
	CommitStorage(ctx context.Context) error
	// Rollback discards queued mutations and releases any locks held by
	// this handle. Safe to call after a failed CommitStorage.
	Rollback(ctx context.Context) error
}

// UnorderedScanner is an optional capability a PrimaryStore may
// implement to support an unordered full-key scan, preferred over the
// ordered range scan fallback when available. Callers detect it with a
// type assertion:
//
//	if scanner, ok := primary.(store.UnorderedScanner); ok { ... }
type UnorderedScanner interface {
	ScanKeysUnordered(ctx context.Context, limit int) ([]model.StaticBuffer, error)
}

// CompositeIndexStore is the composite-index KCV contract: queued
// mutations plus a two-phase commit, mirroring PrimaryStore's shape but
// kept as a distinct interface so a backend can implement only one.
type CompositeIndexStore interface {
	Mutate(key model.StaticBuffer, additions, deletions []model.Entry) error
	AcquireLock(ctx context.Context, key model.StaticBuffer, column model.StaticBuffer) error
	CommitIndexes(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// MixedIndexStore is a single named mixed-index backend: add/delete of
// (field, value) pairs under a document id, with per-commit error
// reporting rather than an all-or-nothing transaction, since mixed
// indexes are lock-free and eventually consistent within a commit.
type MixedIndexStore interface {
	Name() string
	Add(ctx context.Context, docID []byte, field string, value []byte, isNew bool) error
	Delete(ctx context.Context, docID []byte, field string, value []byte, isRemoved bool) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Locker is the distributed optimistic-lock backend consumed by
// BackendTransaction.acquireEdgeLock/acquireIndexLock when the primary
// store itself does not provide locking (e.g. a non-transactional KCV
// store paired with an external lock service).
type Locker interface {
	Acquire(ctx context.Context, key model.StaticBuffer, column model.StaticBuffer) error
	Release(ctx context.Context, key model.StaticBuffer, column model.StaticBuffer) error
}

// LogStore is the append-only transaction-log backend: at-least-once
// append semantics, no read path required by the commit engine itself
// (reconciliation tooling reads it out of band — see cmd/gdbtx-logcat).
type LogStore interface {
	Append(ctx context.Context, record []byte) error
}
