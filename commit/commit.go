// Package commit implements the central two-phase (prepare, flush)
// commit algorithm: given a set of added and removed relations, it
// assigns ids, derives every physical store and index mutation, claims
// optimistic locks in the required order, and drives the configured
// BackendTransaction through storage commit, index commit, and
// transaction-log recording.
//
// Grounded in the teacher's job/worker orchestration style
// (executor/worker.go's single-pass process-then-report loop) adapted
// from a queue-consumer shape to the commit engine's prepare-then-flush
// shape: gather everything that can fail before touching a backend,
// then perform the backend calls in the fixed order the spec demands.
package commit

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/evalgo/gdbtx/backendtx"
	"github.com/evalgo/gdbtx/edgeserializer"
	"github.com/evalgo/gdbtx/errs"
	"github.com/evalgo/gdbtx/idassign"
	"github.com/evalgo/gdbtx/indexserializer"
	"github.com/evalgo/gdbtx/model"
	"github.com/evalgo/gdbtx/schemacache"
	"github.com/evalgo/gdbtx/txlog"
)

// Clock supplies the commit timestamp when a transaction has not already
// stamped one. Abstracted so tests can supply a deterministic sequence.
type Clock interface {
	Now() int64
}

// SystemClock stamps commits with the wall-clock time in Unix
// nanoseconds.
type SystemClock struct{}

// Now returns time.Now() in Unix nanoseconds.
func (SystemClock) Now() int64 { return time.Now().UnixNano() }

// Options is the per-transaction slice of the configuration surface
// (spec §6) the commit engine consults.
type Options struct {
	AcquireLocks         bool
	BatchLoading         bool
	AssignIDsImmediately bool
}

// BackendFactory opens a fresh BackendTransaction, used to obtain the
// second, schema-only transaction the flush phase needs when the
// configured backend lacks transactional isolation.
type BackendFactory func() (*backendtx.BackendTransaction, error)

// Engine is the commit engine. One Engine is shared by every
// transaction in a process; each call to Commit operates on the
// BackendTransaction supplied in its CommitInput.
type Engine struct {
	IDs             *idassign.Assigner
	EdgeSerializer  *edgeserializer.Serializer
	IndexSerializer *indexserializer.Serializer
	// SchemaCache, when non-nil, has its by-name entries invalidated for
	// every committed schema vertex, so the next lookup observes the
	// change.
	SchemaCache *schemacache.Cache
	// TxLog, when non-nil, receives header/payload/trailer/trigger
	// records. A nil TxLog disables transaction logging entirely.
	TxLog *txlog.Logger
	// HasTxIsolation reports whether the configured primary store
	// commits schema and data mutations atomically together. When
	// false, NewSchemaBackend must be set.
	HasTxIsolation bool
	// NewSchemaBackend opens the second backend transaction used
	// exclusively for schema ops when HasTxIsolation is false.
	NewSchemaBackend BackendFactory
	Clock            Clock

	txCounter int64
}

// New returns an Engine. clock may be nil, in which case SystemClock is
// used.
func New(ids *idassign.Assigner, edgeSer *edgeserializer.Serializer, indexSer *indexserializer.Serializer, txLog *txlog.Logger, clock Clock) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Engine{IDs: ids, EdgeSerializer: edgeSer, IndexSerializer: indexSer, TxLog: txLog, Clock: clock}
}

// vertexContext adapts an Assigner to edgeserializer.Context.
type vertexContext struct {
	ids *idassign.Assigner
}

func (v vertexContext) VertexKey(vertexID int64) (model.StaticBuffer, error) {
	return v.ids.GetKey(vertexID)
}

// CommitInput is everything one call to Commit needs: the backend
// handle for this transaction, every vertex touched (keyed by id, so
// lifecycle and schema-ness can be inspected), the added/removed
// relations, the index definitions in scope, and the per-tx options.
type CommitInput struct {
	Backend  *backendtx.BackendTransaction
	Vertices map[int64]*model.Vertex
	Added    []*model.Relation
	Removed  []*model.Relation

	Composite []indexserializer.CompositeIndexDef
	Mixed     []indexserializer.MixedIndexDef

	Options Options
	// CommitTimestamp, if non-zero, is used as-is; otherwise the Engine's
	// Clock stamps one.
	CommitTimestamp int64
}

func directionForPosition(position int) model.Directionality {
	if position == 1 {
		return model.In
	}
	return model.Out
}

// acquireLockPredicate implements spec §4.6's lock predicate: true when
// locking is enabled, the relation-type requests LOCK consistency, and
// either the multiplicity is unique in the direction this position
// implies, or this is position 0 of a SIMPLE-multiplicity type.
func acquireLockPredicate(opts Options, rt *model.RelationType, position int) bool {
	if !opts.AcquireLocks || rt.Consistency != model.Lock {
		return false
	}
	dir := directionForPosition(position)
	if rt.Multiplicity.IsUniqueInDirection(dir) {
		return true
	}
	return position == 0 && rt.Multiplicity == model.Simple
}

func compositeRelationType(defs []indexserializer.CompositeIndexDef, indexName string) (*model.RelationType, bool) {
	for _, d := range defs {
		if d.Name == indexName {
			return d.RelationType, true
		}
	}
	return nil, false
}

type vertexMutations struct {
	additions []model.Entry
	deletions []model.Entry
}

// prepareCommit is the pure (non-flushing) phase: it derives every
// primary and index mutation implied by added/removed, claims edge and
// index locks in the required order, and queues everything on backend.
// It returns whether any primary mutation was queued.
func (e *Engine) prepareCommit(ctx context.Context, backend *backendtx.BackendTransaction, vctx edgeserializer.Context, vertices map[int64]*model.Vertex, added, removed []*model.Relation, composite []indexserializer.CompositeIndexDef, mixed []indexserializer.MixedIndexDef, opts Options) (bool, error) {
	primary := make(map[int64]*vertexMutations)
	var indexUpdates []model.IndexUpdate

	lifecycleOf := func(vertexID int64) model.Lifecycle {
		if v, ok := vertices[vertexID]; ok {
			return v.Lifecycle
		}
		return model.Loaded
	}

	process := func(r *model.Relation, isDeletion bool) error {
		for position := 0; position < r.Arity; position++ {
			if r.SkipPosition(position) {
				continue
			}
			entries, base, err := e.writeEntries(r, position, vctx)
			if err != nil {
				return fmt.Errorf("commit: serialize relation %d at position %d: %w", r.ID, position, err)
			}
			vid := r.VertexAt(position)
			vm := primary[vid]
			if vm == nil {
				vm = &vertexMutations{}
				primary[vid] = vm
			}
			if isDeletion {
				vm.deletions = append(vm.deletions, entries...)
			} else {
				vm.additions = append(vm.additions, entries...)
			}

			lockOK := acquireLockPredicate(opts, r.Type, position)
			switch {
			case isDeletion && lockOK:
				key, err := vctx.VertexKey(vid)
				if err != nil {
					return &errs.InvariantViolation{Reason: err.Error()}
				}
				if err := backend.AcquireEdgeLock(ctx, key, base.Column); err != nil {
					return err
				}
			case !isDeletion && lockOK && lifecycleOf(vid) != model.New:
				key, err := vctx.VertexKey(vid)
				if err != nil {
					return &errs.InvariantViolation{Reason: err.Error()}
				}
				if err := backend.AcquireEdgeLock(ctx, key, base.Column); err != nil {
					return err
				}
			}
		}

		owner := r.VertexAt(0)
		ownerIsNew := lifecycleOf(owner) == model.New
		ownerIsRemoved := lifecycleOf(owner) == model.Removed
		indexUpdates = append(indexUpdates, e.IndexSerializer.RelationUpdates(r, composite, mixed, ownerIsNew, ownerIsRemoved)...)
		return nil
	}

	for _, r := range removed {
		if err := process(r, true); err != nil {
			return false, err
		}
	}
	for _, r := range added {
		if err := process(r, false); err != nil {
			return false, err
		}
	}

	// Every NEW vertex touched by this round gets the vertex-existence
	// marker entry, so getVertexIDs's global scan can find it even
	// though the marker carries no relation-derived semantics of its
	// own.
	for vid, vm := range primary {
		if lifecycleOf(vid) == model.New {
			vm.additions = append(vm.additions, edgeserializer.VertexExistenceEntry())
		}
	}

	// Composite-index locks (locking enabled, LOCK consistency, cardinality
	// not LIST): every DELETION lock before any ADDITION lock, regardless
	// of which relation produced it.
	for _, kind := range []model.IndexUpdateKind{model.Deletion, model.Addition} {
		for _, u := range indexUpdates {
			if u.Class != model.CompositeIndex || u.Kind != kind {
				continue
			}
			rt, ok := compositeRelationType(composite, u.IndexName)
			if !ok || !opts.AcquireLocks || rt.Consistency != model.Lock || !u.Lockable(rt.Cardinality) {
				continue
			}
			if err := backend.AcquireIndexLock(ctx, u.Key, u.Entry.Column); err != nil {
				return false, err
			}
		}
	}

	for vid, vm := range primary {
		key, err := vctx.VertexKey(vid)
		if err != nil {
			return false, &errs.InvariantViolation{Reason: err.Error()}
		}
		if err := backend.MutateEdges(key, vm.additions, vm.deletions); err != nil {
			return false, err
		}
	}
	for _, u := range indexUpdates {
		if err := backend.MutateIndex(u); err != nil {
			return false, err
		}
	}

	return len(primary) > 0, nil
}

func (e *Engine) writeEntries(r *model.Relation, position int, vctx edgeserializer.Context) ([]model.Entry, model.Entry, error) {
	views := r.Type.Views(position)
	entries := make([]model.Entry, 0, len(views))
	var base model.Entry
	for i, view := range views {
		entry, err := e.EdgeSerializer.WriteRelationAsType(r, view, position, vctx)
		if err != nil {
			return nil, model.Entry{}, err
		}
		entries = append(entries, entry)
		if i == 0 {
			base = entry
		}
	}
	return entries, base, nil
}

func schemaSplit(relations []*model.Relation, vertices map[int64]*model.Vertex) (schemaOps, dataOps []*model.Relation) {
	for _, r := range relations {
		v, ok := vertices[r.VertexAt(0)]
		vertex0IsSchema := ok && v.IsSchema
		if r.IsSchemaOperation(vertex0IsSchema) {
			schemaOps = append(schemaOps, r)
		} else {
			dataOps = append(dataOps, r)
		}
	}
	return schemaOps, dataOps
}

// flushBackend applies a backend's queued mutations with no transaction
// logging: CommitStorage, then, if that succeeds, CommitIndexes.
func flushBackend(ctx context.Context, backend *backendtx.BackendTransaction) (map[string]error, error) {
	if err := backend.CommitStorage(ctx); err != nil {
		return nil, err
	}
	return backend.CommitIndexes(ctx), nil
}

func triggerRelations(rs []*model.Relation, vctx edgeserializer.Context, ser *edgeserializer.Serializer) []txlog.TriggerRelation {
	out := make([]txlog.TriggerRelation, 0, len(rs))
	for _, r := range rs {
		entry, err := ser.WriteRelation(r, 0, vctx)
		if err != nil {
			continue
		}
		out = append(out, txlog.TriggerRelation{Vertex0ID: r.VertexAt(0), Entry: entry})
	}
	return out
}

// Commit runs the full prepare/flush algorithm against in.Backend (and,
// when the backend is not transactionally isolated and schema relations
// are present, a second backend opened via NewSchemaBackend). A prepare
// or storage-commit failure rolls back in.Backend before the error is
// returned, and a failed schema sub-transaction rolls back its own
// backend. An index-commit failure after a successful storage commit,
// or a trailer-append failure, is returned without a rollback, and a
// schema sub-transaction that already committed is not undone by a
// later failure of the main flush.
func (e *Engine) Commit(ctx context.Context, in CommitInput) (err error) {
	opts := in.Options
	vctx := vertexContext{ids: e.IDs}

	schemaAdded, dataAdded := schemaSplit(in.Added, in.Vertices)
	schemaRemoved, dataRemoved := schemaSplit(in.Removed, in.Vertices)
	hasSchemaOps := len(schemaAdded) > 0 || len(schemaRemoved) > 0

	if hasSchemaOps && (opts.BatchLoading || !opts.AcquireLocks) {
		return &errs.InvariantViolation{Reason: "schema mutations require acquireLocks and forbid batch loading"}
	}

	ts := in.CommitTimestamp
	if ts == 0 {
		ts = e.Clock.Now()
	}
	txID := atomic.AddInt64(&e.txCounter, 1)

	if !opts.AssignIDsImmediately {
		all := make([]*model.Relation, 0, len(in.Added)+len(in.Removed))
		all = append(all, in.Added...)
		all = append(all, in.Removed...)
		if err := e.IDs.AssignIDs(all); err != nil {
			return &errs.StorageError{Cause: err}
		}
	}
	for _, r := range append(append([]*model.Relation{}, in.Added...), in.Removed...) {
		for pos := 0; pos < r.Arity; pos++ {
			v, ok := in.Vertices[r.VertexAt(pos)]
			if !ok || !v.HasPositiveID() {
				return &errs.InvariantViolation{Reason: fmt.Sprintf("vertex %d lacks a positive id", r.VertexAt(pos))}
			}
		}
	}

	if hasSchemaOps && !e.HasTxIsolation {
		if err := e.runSchemaSubTransaction(ctx, vctx, in, schemaAdded, schemaRemoved, txID, ts); err != nil {
			return err
		}
	}

	mainAdded, mainRemoved := dataAdded, dataRemoved
	if e.HasTxIsolation {
		mainAdded, mainRemoved = in.Added, in.Removed
	}

	anyMutation, err := e.prepareCommit(ctx, in.Backend, vctx, in.Vertices, mainAdded, mainRemoved, in.Composite, in.Mixed, opts)
	if err != nil {
		_ = in.Backend.Rollback(ctx)
		return err
	}

	if !anyMutation {
		if _, err := flushBackend(ctx, in.Backend); err != nil {
			_ = in.Backend.Rollback(ctx)
			return err
		}
		return nil
	}

	return e.mainFlush(ctx, in, vctx, mainAdded, mainRemoved, txID, ts)
}

func (e *Engine) runSchemaSubTransaction(ctx context.Context, vctx edgeserializer.Context, in CommitInput, schemaAdded, schemaRemoved []*model.Relation, txID, ts int64) error {
	if e.NewSchemaBackend == nil {
		return &errs.InvariantViolation{Reason: "schema relations present but no schema backend factory is configured for a non-isolated backend"}
	}
	schemaBackend, err := e.NewSchemaBackend()
	if err != nil {
		return &errs.StorageError{Cause: fmt.Errorf("commit: open schema backend: %w", err)}
	}

	if e.TxLog.Enabled() {
		if err := e.TxLog.WriteHeader(ctx, txlog.Header{TxID: txID, CommitTimestamp: ts, Status: txlog.PreflushSystem}); err != nil {
			return &errs.StorageError{Cause: err}
		}
	}

	anyMutation, prepErr := e.prepareCommit(ctx, schemaBackend, vctx, in.Vertices, schemaAdded, schemaRemoved, in.Composite, in.Mixed, in.Options)
	systemStatus := txlog.SuccessSystem
	var flushErr error
	if prepErr != nil {
		flushErr = prepErr
	} else if anyMutation {
		if e.TxLog.Enabled() {
			if perr := schemaBackend.LogMutations(ctx, e.TxLog, txID); perr != nil {
				flushErr = &errs.StorageError{Cause: perr}
			}
		}
		if flushErr == nil {
			if _, cerr := flushBackend(ctx, schemaBackend); cerr != nil {
				flushErr = cerr
			}
		}
	}
	if flushErr != nil {
		systemStatus = txlog.FailureSystem
	}

	if flushErr != nil {
		_ = schemaBackend.Rollback(ctx)
	} else {
		e.invalidateSchemaCache(schemaAdded, schemaRemoved, in.Vertices)
	}

	var trailerErr error
	if e.TxLog.Enabled() {
		trailerErr = e.TxLog.WriteTrailer(ctx, txlog.Trailer{Header: txlog.Header{TxID: txID, CommitTimestamp: ts, Status: systemStatus}})
	}
	if flushErr != nil {
		return errs.ChainTrailerAndStorage(trailerErr, flushErr)
	}
	if trailerErr != nil {
		return &errs.StorageError{Cause: trailerErr}
	}
	return nil
}

func (e *Engine) mainFlush(ctx context.Context, in CommitInput, vctx edgeserializer.Context, added, removed []*model.Relation, txID, ts int64) (err error) {
	if e.TxLog.Enabled() {
		if werr := e.TxLog.WriteHeader(ctx, txlog.Header{TxID: txID, CommitTimestamp: ts, Status: txlog.Precommit}); werr != nil {
			_ = in.Backend.Rollback(ctx)
			return &errs.StorageError{Cause: werr}
		}
		if perr := in.Backend.LogMutations(ctx, e.TxLog, txID); perr != nil {
			_ = in.Backend.Rollback(ctx)
			return &errs.StorageError{Cause: perr}
		}
	}

	status := txlog.Success
	var storageErr error
	var indexFailures map[string]error
	var triggerErr error

	storageErr = in.Backend.CommitStorage(ctx)
	if storageErr != nil {
		status = txlog.Failure
	} else {
		indexFailures = in.Backend.CommitIndexes(ctx)
		if len(indexFailures) > 0 {
			status = txlog.Failure
		}
		if e.TxLog.Enabled() {
			rec := txlog.TriggerRecord{
				CommitTimestamp: ts,
				TxID:            txID,
				Added:           triggerRelations(added, vctx, e.EdgeSerializer),
				Removed:         triggerRelations(removed, vctx, e.EdgeSerializer),
			}
			triggerErr = e.TxLog.WriteTriggerRecord(ctx, rec)
		}
	}

	e.invalidateSchemaCache(added, removed, in.Vertices)

	var trailerErr error
	if e.TxLog.Enabled() {
		trailer := txlog.Trailer{Header: txlog.Header{TxID: txID, CommitTimestamp: ts, Status: status}}
		if status == txlog.Failure {
			names := make([]string, 0, len(indexFailures))
			for name := range indexFailures {
				names = append(names, name)
			}
			sort.Strings(names)
			trailer.Failure = &txlog.FailureDetail{
				StorageSuccess:    storageErr == nil,
				TriggerSuccess:    triggerErr == nil,
				FailingIndexNames: names,
			}
		}
		trailerErr = e.TxLog.WriteTrailer(ctx, trailer)
	}

	if storageErr != nil {
		_ = in.Backend.Rollback(ctx)
		return errs.ChainTrailerAndStorage(trailerErr, storageErr)
	}
	if trailerErr != nil {
		return &errs.StorageError{Cause: trailerErr}
	}
	if len(indexFailures) > 0 {
		for _, ierr := range indexFailures {
			return ierr // report one representative index error; all are recorded in the trailer
		}
	}
	return nil
}

func (e *Engine) invalidateSchemaCache(added, removed []*model.Relation, vertices map[int64]*model.Vertex) {
	if e.SchemaCache == nil {
		return
	}
	seen := make(map[string]bool)
	for _, r := range append(append([]*model.Relation{}, added...), removed...) {
		if v, ok := vertices[r.VertexAt(0)]; ok && v.IsSchema && v.Label != "" && !seen[v.Label] {
			seen[v.Label] = true
			e.SchemaCache.Invalidate(v.Label)
		}
	}
}
