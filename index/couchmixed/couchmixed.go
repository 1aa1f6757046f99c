// Package couchmixed implements store.MixedIndexStore against CouchDB
// using kivik v4, grounded in the teacher's db/couchdb_index.go
// EnsureIndex/CreateIndex pattern: Mango "json" indexes keyed on the
// indexed field, upserted documents carrying the field value.
package couchmixed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	kivik "github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb" // CouchDB driver registration

	"github.com/evalgo/gdbtx/store"
)

var _ store.MixedIndexStore = (*Store)(nil)

// Error wraps a CouchDB failure with its HTTP status, the same
// structured-predicate shape as the teacher's CouchDBError.
type Error struct {
	StatusCode int
	Reason     string
}

func (e *Error) Error() string {
	return fmt.Sprintf("couchmixed error (status %d): %s", e.StatusCode, e.Reason)
}

// IsConflict reports a CouchDB revision conflict (HTTP 409).
func (e *Error) IsConflict() bool { return e.StatusCode == http.StatusConflict }

// IsNotFound reports a missing document or database (HTTP 404).
func (e *Error) IsNotFound() bool { return e.StatusCode == http.StatusNotFound }

func wrapErr(context string, err error) error {
	if err == nil {
		return nil
	}
	if status := kivik.HTTPStatus(err); status != 0 {
		return &Error{StatusCode: status, Reason: fmt.Sprintf("%s: %v", context, err)}
	}
	return fmt.Errorf("couchmixed: %s: %w", context, err)
}

type op struct {
	docID  string
	field  string
	value  []byte
	delete bool
}

// Store is a single named mixed index backed by one CouchDB database.
// Field is the document property this index maintains; mutations are
// queued via Add/Delete and applied in Commit, matching the commit
// engine's queue-then-flush contract for every backend.
type Store struct {
	name     string
	field    string
	database *kivik.DB

	mu    sync.Mutex
	queue []op
}

// Open connects to CouchDB at url and binds to database, using it as
// the backing store for the mixed index named name over field.
func Open(ctx context.Context, url, database, name, field string) (*Store, error) {
	client, err := kivik.New("couch", url)
	if err != nil {
		return nil, fmt.Errorf("couchmixed: connect: %w", err)
	}
	if err := client.Err(); err != nil {
		return nil, fmt.Errorf("couchmixed: connect: %w", err)
	}

	exists, err := client.DBExists(ctx, database)
	if err != nil {
		return nil, wrapErr("check database exists", err)
	}
	if !exists {
		if err := client.CreateDB(ctx, database); err != nil {
			return nil, wrapErr("create database", err)
		}
	}

	db := client.DB(database)
	if err := db.Err(); err != nil {
		return nil, wrapErr("open database", err)
	}

	if err := ensureFieldIndex(ctx, db, name, field); err != nil {
		return nil, err
	}

	return &Store{name: name, field: field, database: db}, nil
}

func ensureFieldIndex(ctx context.Context, db *kivik.DB, name, field string) error {
	indexDef := map[string]interface{}{
		"index": map[string]interface{}{"fields": []string{field}},
		"name":  name,
		"type":  "json",
	}
	if err := db.CreateIndex(ctx, "", "", indexDef); err != nil {
		return wrapErr("create index", err)
	}
	return nil
}

// Name returns the mixed index's configured name.
func (s *Store) Name() string { return s.name }

// Add queues an upsert of (docID, field=value). isNew distinguishes a
// brand-new document from a re-index of an existing one so a caller
// could, if needed, branch on create-vs-replace semantics; this
// implementation treats both identically since Commit's read-modify-write
// (fetch the document and its revision, then Put) handles both.
func (s *Store) Add(ctx context.Context, docID []byte, field string, value []byte, isNew bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, op{docID: string(docID), field: field, value: value})
	return nil
}

// Delete queues removal of the (docID, field) entry. isRemoved marks
// whether the owning element itself was removed (full document delete)
// versus just this one field value; this implementation clears the
// field either way, since the document's other indexed fields are
// maintained by their own Store instances.
func (s *Store) Delete(ctx context.Context, docID []byte, field string, value []byte, isRemoved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, op{docID: string(docID), field: field, value: value, delete: true})
	return nil
}

// Commit applies every queued Add/Delete as a CouchDB document upsert,
// fetching the current revision first (read-modify-write, the standard
// CouchDB MVCC pattern) and retrying once on a conflict.
func (s *Store) Commit(ctx context.Context) error {
	s.mu.Lock()
	queue := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, o := range queue {
		err := s.applyOne(ctx, o)
		var cerr *Error
		if errors.As(err, &cerr) && cerr.IsConflict() {
			err = s.applyOne(ctx, o)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyOne(ctx context.Context, o op) error {
	doc := map[string]interface{}{}
	row := s.database.Get(ctx, o.docID)
	if err := row.ScanDoc(&doc); err != nil && kivik.HTTPStatus(err) != http.StatusNotFound {
		return wrapErr("fetch document", err)
	}

	if o.delete {
		delete(doc, o.field)
	} else {
		doc[o.field] = o.value
	}
	doc["_id"] = o.docID

	if _, err := s.database.Put(ctx, o.docID, doc); err != nil {
		return wrapErr(fmt.Sprintf("put document %s", o.docID), err)
	}
	return nil
}

// Rollback discards queued mutations without touching CouchDB; nothing
// has been written yet since Commit is the only write path.
func (s *Store) Rollback(ctx context.Context) error {
	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()
	return nil
}
