// Package backendtx is the façade the commit engine drives: it unifies
// the primary key-column-value store, the composite-index store, every
// named mixed-index backend, and an optional distributed lock service
// behind the single set of operations spec §4.5 describes, so commit
// never talks to a concrete backend package directly.
//
// Grounded in the teacher's db/repository façade style
// (db/repository/interfaces.go plus its concrete Postgres/Redis/CouchDB
// implementations): one struct holding several narrow interfaces,
// dispatching each call to whichever backend implements it.
package backendtx

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/evalgo/gdbtx/errs"
	"github.com/evalgo/gdbtx/model"
	"github.com/evalgo/gdbtx/store"
	"github.com/evalgo/gdbtx/txlog"
)

// loggedEdgeMutation is one MutateEdges call's worth of work, retained
// only so LogMutations can reconstruct an opaque replay payload; it is
// never read back by this package itself.
type loggedEdgeMutation struct {
	key  model.StaticBuffer
	e    model.Entry
	kind model.IndexUpdateKind
}

// BackendTransaction is one transaction's handle onto every configured
// backend. It is not safe for concurrent use from multiple goroutines
// without external synchronization beyond what its own mutex provides
// for bookkeeping; the commit engine drives it from a single goroutine
// per transaction.
type BackendTransaction struct {
	Primary   store.PrimaryStore
	Composite store.CompositeIndexStore
	Mixed     map[string]store.MixedIndexStore
	// Locker is consulted first by AcquireEdgeLock/AcquireIndexLock when
	// non-nil, for deployments pairing a non-locking primary store with
	// an external lock service. When nil, locks are claimed against
	// Primary/Composite directly.
	Locker store.Locker

	mu       sync.Mutex
	edgeLog  []loggedEdgeMutation
	indexLog []model.IndexUpdate
}

// New returns a BackendTransaction over the given backends. mixed may be
// nil or empty when no mixed indexes are configured; locker may be nil
// when the primary/composite stores provide their own locking.
func New(primary store.PrimaryStore, composite store.CompositeIndexStore, mixed map[string]store.MixedIndexStore, locker store.Locker) *BackendTransaction {
	if mixed == nil {
		mixed = make(map[string]store.MixedIndexStore)
	}
	return &BackendTransaction{Primary: primary, Composite: composite, Mixed: mixed, Locker: locker}
}

// EdgeStoreQuery reads entries at a single key within a slice.
func (b *BackendTransaction) EdgeStoreQuery(ctx context.Context, q model.KeySliceQuery) ([]model.Entry, error) {
	return b.Primary.Query(ctx, q)
}

// EdgeStoreMultiQuery reads entries for several keys within a shared
// slice.
func (b *BackendTransaction) EdgeStoreMultiQuery(ctx context.Context, keys []model.StaticBuffer, q model.SliceQuery) (map[string][]model.Entry, error) {
	return b.Primary.MultiQuery(ctx, keys, q)
}

// EdgeStoreKeys performs the ordered-scan fallback over vertex keys.
func (b *BackendTransaction) EdgeStoreKeys(ctx context.Context, q model.KeyRangeQuery) ([]model.StaticBuffer, error) {
	return b.Primary.Keys(ctx, q)
}

// UnorderedScanner reports whether the primary store supports an
// unordered full scan, preferred over EdgeStoreKeys by getVertexIDs when
// available.
func (b *BackendTransaction) UnorderedScanner() (store.UnorderedScanner, bool) {
	scanner, ok := b.Primary.(store.UnorderedScanner)
	return scanner, ok
}

// MutateEdges queues additions and deletions at key against the primary
// store and records them for LogMutations.
func (b *BackendTransaction) MutateEdges(key model.StaticBuffer, additions, deletions []model.Entry) error {
	if err := b.Primary.Mutate(key, additions, deletions); err != nil {
		return &errs.StorageError{Cause: err}
	}
	b.mu.Lock()
	for _, e := range deletions {
		b.edgeLog = append(b.edgeLog, loggedEdgeMutation{key: key, e: e, kind: model.Deletion})
	}
	for _, e := range additions {
		b.edgeLog = append(b.edgeLog, loggedEdgeMutation{key: key, e: e, kind: model.Addition})
	}
	b.mu.Unlock()
	return nil
}

// MutateIndex applies a single IndexUpdate to whichever backend owns it
// — the composite-index store for a CompositeIndex update, or the named
// MixedIndexStore for a MixedIndex update — and records it for
// LogMutations.
func (b *BackendTransaction) MutateIndex(u model.IndexUpdate) error {
	switch u.Class {
	case model.CompositeIndex:
		var additions, deletions []model.Entry
		if u.Kind == model.Deletion {
			deletions = []model.Entry{u.Entry}
		} else {
			additions = []model.Entry{u.Entry}
		}
		if err := b.Composite.Mutate(u.Key, additions, deletions); err != nil {
			return &errs.IndexError{IndexName: u.IndexName, Cause: err}
		}
	case model.MixedIndex:
		backend, ok := b.Mixed[u.IndexName]
		if !ok {
			return &errs.IndexError{IndexName: u.IndexName, Cause: fmt.Errorf("backendtx: no mixed index backend registered for %q", u.IndexName)}
		}
		var err error
		if u.Kind == model.Deletion {
			err = backend.Delete(context.Background(), u.Key, u.Field, u.FieldValue, u.OwnerIsRemoved)
		} else {
			err = backend.Add(context.Background(), u.Key, u.Field, u.FieldValue, u.OwnerIsNew)
		}
		if err != nil {
			return &errs.IndexError{IndexName: u.IndexName, Cause: err}
		}
	default:
		return &errs.IndexError{IndexName: u.IndexName, Cause: fmt.Errorf("backendtx: unknown index class %v", u.Class)}
	}
	b.mu.Lock()
	b.indexLog = append(b.indexLog, u)
	b.mu.Unlock()
	return nil
}

// AcquireEdgeLock claims an optimistic lock on (key, column) in the
// primary edge store, preferring an external Locker when configured.
func (b *BackendTransaction) AcquireEdgeLock(ctx context.Context, key, column model.StaticBuffer) error {
	var err error
	if b.Locker != nil {
		err = b.Locker.Acquire(ctx, key, column)
	} else {
		err = b.Primary.AcquireLock(ctx, key, column)
	}
	if err != nil {
		return (&errs.LockAcquisitionError{Key: key, Column: column, Cause: err}).AsStorageError()
	}
	return nil
}

// AcquireIndexLock claims an optimistic lock on (key, column) in the
// composite-index store, preferring an external Locker when configured.
func (b *BackendTransaction) AcquireIndexLock(ctx context.Context, key, column model.StaticBuffer) error {
	var err error
	if b.Locker != nil {
		err = b.Locker.Acquire(ctx, key, column)
	} else {
		err = b.Composite.AcquireLock(ctx, key, column)
	}
	if err != nil {
		return (&errs.LockAcquisitionError{Key: key, Column: column, Cause: err}).AsStorageError()
	}
	return nil
}

// IndexTransaction is a named mixed-index backend bound to this
// BackendTransaction, letting callers queue add/delete calls without
// re-deriving the backend lookup or the IndexUpdate bookkeeping
// MutateIndex performs.
type IndexTransaction struct {
	name string
	b    *BackendTransaction
}

// IndexTransaction looks up the named mixed-index backend, returning
// false if none is registered.
func (b *BackendTransaction) IndexTransaction(backingIndexName string) (*IndexTransaction, bool) {
	if _, ok := b.Mixed[backingIndexName]; !ok {
		return nil, false
	}
	return &IndexTransaction{name: backingIndexName, b: b}, true
}

// Name returns the backing mixed-index name.
func (it *IndexTransaction) Name() string { return it.name }

// Add queues a field/value addition under docID.
func (it *IndexTransaction) Add(docID []byte, field string, value []byte, isNew bool) error {
	return it.b.MutateIndex(model.IndexUpdate{
		IndexName: it.name, Class: model.MixedIndex, Kind: model.Addition,
		Key: docID, Field: field, FieldValue: value, OwnerIsNew: isNew,
	})
}

// Delete queues a field/value removal under docID.
func (it *IndexTransaction) Delete(docID []byte, field string, value []byte, isRemoved bool) error {
	return it.b.MutateIndex(model.IndexUpdate{
		IndexName: it.name, Class: model.MixedIndex, Kind: model.Deletion,
		Key: docID, Field: field, FieldValue: value, OwnerIsRemoved: isRemoved,
	})
}

// CommitStorage durably applies every queued edge mutation. A failure
// here must roll back the whole transaction.
func (b *BackendTransaction) CommitStorage(ctx context.Context) error {
	if err := b.Primary.CommitStorage(ctx); err != nil {
		return &errs.StorageError{Cause: err}
	}
	return nil
}

// compositeIndexLabel is the synthetic name CommitIndexes reports
// composite-index failures under, since a CompositeIndexStore has no
// per-index identity of its own — every composite index shares the
// one physical store.
const compositeIndexLabel = "composite"

// CommitIndexes durably applies every queued index mutation across the
// composite-index store and every mixed-index backend, returning one
// error per index that failed rather than failing the whole call. A
// non-empty result does not imply the main storage commit should roll
// back — only storage failures do that.
func (b *BackendTransaction) CommitIndexes(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	if b.Composite != nil {
		if err := b.Composite.CommitIndexes(ctx); err != nil {
			failures[compositeIndexLabel] = &errs.IndexError{IndexName: compositeIndexLabel, Cause: err}
		}
	}
	for name, backend := range b.Mixed {
		if err := backend.Commit(ctx); err != nil {
			failures[name] = &errs.IndexError{IndexName: name, Cause: err}
		}
	}
	return failures
}

// Rollback discards every queued mutation across every configured
// backend, joining any errors encountered rather than stopping at the
// first.
func (b *BackendTransaction) Rollback(ctx context.Context) error {
	var errList []error
	if err := b.Primary.Rollback(ctx); err != nil {
		errList = append(errList, fmt.Errorf("backendtx: rollback primary: %w", err))
	}
	if b.Composite != nil {
		if err := b.Composite.Rollback(ctx); err != nil {
			errList = append(errList, fmt.Errorf("backendtx: rollback composite: %w", err))
		}
	}
	for name, backend := range b.Mixed {
		if err := backend.Rollback(ctx); err != nil {
			errList = append(errList, fmt.Errorf("backendtx: rollback mixed index %q: %w", name, err))
		}
	}
	b.mu.Lock()
	b.edgeLog = nil
	b.indexLog = nil
	b.mu.Unlock()
	return errors.Join(errList...)
}

func putUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func putBytes(buf []byte, b []byte) []byte {
	buf = putUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

func putBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func encodeEntry(buf []byte, e model.Entry) []byte {
	buf = putBytes(buf, e.Column)
	buf = putBytes(buf, e.Value)
	buf = putBool(buf, e.HasTTL)
	var ttl [4]byte
	binary.BigEndian.PutUint32(ttl[:], e.TTLSeconds)
	return append(buf, ttl[:]...)
}

// LogMutations encodes every edge and index mutation queued on this
// handle since construction (or since the last Rollback; a successful
// LogMutations call does not clear them) into a single opaque payload and writes it via sink, as the
// prepare phase's log entry ahead of the trailer. Called once per
// transaction, before CommitStorage.
func (b *BackendTransaction) LogMutations(ctx context.Context, sink txlog.Sink, txID int64) error {
	b.mu.Lock()
	edgeLog := b.edgeLog
	indexLog := b.indexLog
	b.mu.Unlock()

	buf := make([]byte, 0, 64)
	buf = putUvarint(buf, uint64(len(edgeLog)))
	for _, m := range edgeLog {
		buf = putBytes(buf, m.key)
		buf = encodeEntry(buf, m.e)
		buf = append(buf, byte(m.kind))
	}
	buf = putUvarint(buf, uint64(len(indexLog)))
	for _, u := range indexLog {
		buf = append(buf, byte(u.Class))
		buf = append(buf, byte(u.Kind))
		buf = putBytes(buf, []byte(u.IndexName))
		buf = putBytes(buf, u.Key)
		buf = encodeEntry(buf, u.Entry)
		buf = putBytes(buf, []byte(u.Field))
		buf = putBytes(buf, u.FieldValue)
		buf = putBool(buf, u.OwnerIsNew)
		buf = putBool(buf, u.OwnerIsRemoved)
	}

	if err := sink.WritePayload(ctx, txID, buf); err != nil {
		return fmt.Errorf("backendtx: write payload: %w", err)
	}
	return nil
}
