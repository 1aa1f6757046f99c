// Package boltkv implements the primary key-column-value store and
// composite-index store contracts (store.PrimaryStore,
// store.CompositeIndexStore) over go.etcd.io/bbolt, following the
// teacher's db/bolt.go wrapper shape: a thin *bbolt.DB wrapper exposing
// the operations its callers need instead of the raw bbolt API.
//
// A vertex key is a bucket nested under the store's root bucket (named at
// Open); within it, each physical column is a key. This gives the (key, column) addressing
// the spec's backend contract requires while keeping the on-disk layout
// a single bbolt file.
package boltkv

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/evalgo/gdbtx/model"
	"github.com/evalgo/gdbtx/store"
)

var (
	_ store.PrimaryStore       = (*Store)(nil)
	_ store.CompositeIndexStore = (*Store)(nil)
	_ store.UnorderedScanner   = (*Store)(nil)
)

type opKind uint8

const (
	opAdd opKind = iota
	opDel
)

type queuedOp struct {
	key   model.StaticBuffer
	entry model.Entry
	kind  opKind
}

// Store is a bbolt-backed key-column-value store. A single open *Store
// can serve as either the primary edge store or the composite-index
// store — callers pick the bucket name at Open time to keep the two
// namespaces disjoint within one file.
type Store struct {
	db     *bbolt.DB
	bucket []byte

	mu    sync.Mutex
	queue []queuedOp
	locks map[string]struct{}
}

// Open opens (creating if necessary) a bbolt file at path and ensures
// the named root bucket exists.
func Open(path string, bucket string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltkv: open %s: %w", path, err)
	}
	b := []byte(bucket)
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(b)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("boltkv: create bucket %s: %w", bucket, err)
	}
	return &Store{db: db, bucket: b, locks: make(map[string]struct{})}, nil
}

// Close closes the underlying bbolt file.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeEntry(e model.Entry) []byte {
	buf := make([]byte, 0, 5+len(e.Value))
	if e.HasTTL {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	var ttlBuf [4]byte
	binary.BigEndian.PutUint32(ttlBuf[:], e.TTLSeconds)
	buf = append(buf, ttlBuf[:]...)
	buf = append(buf, e.Value...)
	return buf
}

func decodeEntry(column, raw []byte) model.Entry {
	col := make([]byte, len(column))
	copy(col, column)
	val := make([]byte, len(raw)-5)
	copy(val, raw[5:])
	return model.Entry{
		Column:     model.StaticBuffer(col),
		Value:      model.StaticBuffer(val),
		HasTTL:     raw[0] == 1,
		TTLSeconds: binary.BigEndian.Uint32(raw[1:5]),
	}
}

// Query returns the entries at a single key within the requested column
// range.
func (s *Store) Query(ctx context.Context, q model.KeySliceQuery) ([]model.Entry, error) {
	var out []model.Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(s.bucket)
		if root == nil {
			return nil
		}
		nested := root.Bucket(q.Key)
		if nested == nil {
			return nil
		}
		c := nested.Cursor()
		for col, val := c.Seek(q.SliceStart); col != nil; col, val = c.Next() {
			if q.SliceEnd != nil && bytes.Compare(col, q.SliceEnd) >= 0 {
				break
			}
			out = append(out, decodeEntry(col, val))
			if q.Limit > 0 && len(out) >= q.Limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// MultiQuery returns entries for every key in keys within the given
// slice, keyed by the stringified input key.
func (s *Store) MultiQuery(ctx context.Context, keys []model.StaticBuffer, q model.SliceQuery) (map[string][]model.Entry, error) {
	result := make(map[string][]model.Entry, len(keys))
	for _, k := range keys {
		entries, err := s.Query(ctx, q.ForKey(k))
		if err != nil {
			return nil, err
		}
		result[string(k)] = entries
	}
	return result, nil
}

// Keys returns every vertex key in [q.Start, q.End) — the ordered-scan
// fallback used by getVertexIDs when ScanKeysUnordered is not preferred.
func (s *Store) Keys(ctx context.Context, q model.KeyRangeQuery) ([]model.StaticBuffer, error) {
	var out []model.StaticBuffer
	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(s.bucket)
		if root == nil {
			return nil
		}
		c := root.Cursor()
		for k, v := c.Seek(q.Start); k != nil; k, v = c.Next() {
			if q.End != nil && bytes.Compare(k, q.End) >= 0 {
				break
			}
			if v != nil {
				continue // not a nested (vertex) bucket
			}
			cp := make([]byte, len(k))
			copy(cp, k)
			out = append(out, model.StaticBuffer(cp))
		}
		return nil
	})
	return out, err
}

var errScanLimitReached = errors.New("boltkv: scan limit reached")

// ScanKeysUnordered implements store.UnorderedScanner. bbolt's own
// iteration order is not meaningful to callers of this method — they
// must not rely on it — which is why this satisfies the "unordered"
// capability rather than Keys's ordered-range contract.
func (s *Store) ScanKeysUnordered(ctx context.Context, limit int) ([]model.StaticBuffer, error) {
	var out []model.StaticBuffer
	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(s.bucket)
		if root == nil {
			return nil
		}
		return root.ForEach(func(k, v []byte) error {
			if v != nil {
				return nil
			}
			cp := make([]byte, len(k))
			copy(cp, k)
			out = append(out, model.StaticBuffer(cp))
			if limit > 0 && len(out) >= limit {
				return errScanLimitReached
			}
			return nil
		})
	})
	if err != nil && !errors.Is(err, errScanLimitReached) {
		return nil, err
	}
	return out, nil
}

// Mutate queues additions and deletions against key; nothing is visible
// to Query until CommitStorage/CommitIndexes. Deletions queue ahead of
// additions within a single call so a replace (delete-then-add the same
// column) lands in the intuitive order.
func (s *Store) Mutate(key model.StaticBuffer, additions, deletions []model.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range deletions {
		s.queue = append(s.queue, queuedOp{key: key, entry: e, kind: opDel})
	}
	for _, e := range additions {
		s.queue = append(s.queue, queuedOp{key: key, entry: e, kind: opAdd})
	}
	return nil
}

// AcquireLock best-effort claims (key, column) for the lifetime of this
// handle. As an embedded, single-process store, bbolt has no notion of a
// cross-process lock; this claim only arbitrates concurrent callers of
// the same *Store within one process. Deployments needing real
// cross-process locking configure lock/redislocker instead and the
// commit engine's façade prefers it when present.
func (s *Store) AcquireLock(ctx context.Context, key, column model.StaticBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := string(key) + "\x00" + string(column)
	if _, locked := s.locks[k]; locked {
		return fmt.Errorf("boltkv: lock already held for key %x column %x", key, column)
	}
	s.locks[k] = struct{}{}
	return nil
}

func (s *Store) flush(ctx context.Context) error {
	s.mu.Lock()
	queue := s.queue
	s.queue = nil
	s.locks = make(map[string]struct{})
	s.mu.Unlock()

	if len(queue) == 0 {
		return nil
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(s.bucket)
		for _, op := range queue {
			nested, err := root.CreateBucketIfNotExists(op.key)
			if err != nil {
				return fmt.Errorf("boltkv: create nested bucket for key %x: %w", op.key, err)
			}
			switch op.kind {
			case opAdd:
				if err := nested.Put(op.entry.Column, encodeEntry(op.entry)); err != nil {
					return fmt.Errorf("boltkv: put column: %w", err)
				}
			case opDel:
				if err := nested.Delete(op.entry.Column); err != nil {
					return fmt.Errorf("boltkv: delete column: %w", err)
				}
			}
		}
		return nil
	})
}

// CommitStorage durably applies every queued Mutate call. Satisfies
// store.PrimaryStore.
func (s *Store) CommitStorage(ctx context.Context) error {
	return s.flush(ctx)
}

// CommitIndexes durably applies every queued Mutate call. Satisfies
// store.CompositeIndexStore; identical to CommitStorage because a
// composite index is physically just another bucket in the same store.
func (s *Store) CommitIndexes(ctx context.Context) error {
	return s.flush(ctx)
}

// Rollback discards queued mutations and releases locks held by this
// handle.
func (s *Store) Rollback(ctx context.Context) error {
	s.mu.Lock()
	s.queue = nil
	s.locks = make(map[string]struct{})
	s.mu.Unlock()
	return nil
}
