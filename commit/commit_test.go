package commit

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/gdbtx/backendtx"
	"github.com/evalgo/gdbtx/edgeserializer"
	"github.com/evalgo/gdbtx/idassign"
	"github.com/evalgo/gdbtx/indexserializer"
	"github.com/evalgo/gdbtx/model"
	"github.com/evalgo/gdbtx/store"
	"github.com/evalgo/gdbtx/txlog"
)

// fakeKV is an in-memory stand-in for both store.PrimaryStore and
// store.CompositeIndexStore, recording lock-acquisition order so tests
// can assert on it directly.
type fakeKV struct {
	committed  map[string][]model.Entry
	queued     map[string][]model.Entry
	lockCalls  []string
	failLock   bool
	failCommit bool
	rolledBack bool
}

func newFakeKV() *fakeKV {
	return &fakeKV{committed: map[string][]model.Entry{}, queued: map[string][]model.Entry{}}
}

func (f *fakeKV) Query(ctx context.Context, q model.KeySliceQuery) ([]model.Entry, error) {
	var out []model.Entry
	for _, e := range f.committed[string(q.Key)] {
		if q.SliceStart != nil && bytes.Compare(e.Column, q.SliceStart) < 0 {
			continue
		}
		if q.SliceEnd != nil && bytes.Compare(e.Column, q.SliceEnd) >= 0 {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeKV) MultiQuery(ctx context.Context, keys []model.StaticBuffer, q model.SliceQuery) (map[string][]model.Entry, error) {
	return nil, nil
}

func (f *fakeKV) Keys(ctx context.Context, q model.KeyRangeQuery) ([]model.StaticBuffer, error) {
	return nil, nil
}

func (f *fakeKV) Mutate(key model.StaticBuffer, additions, deletions []model.Entry) error {
	f.queued[string(key)] = append(f.queued[string(key)], additions...)
	return nil
}

func (f *fakeKV) AcquireLock(ctx context.Context, key, column model.StaticBuffer) error {
	if f.failLock {
		return assert.AnError
	}
	f.lockCalls = append(f.lockCalls, string(key))
	return nil
}

func (f *fakeKV) CommitStorage(ctx context.Context) error {
	if f.failCommit {
		return assert.AnError
	}
	for k, v := range f.queued {
		f.committed[k] = append(f.committed[k], v...)
	}
	f.queued = map[string][]model.Entry{}
	return nil
}

func (f *fakeKV) CommitIndexes(ctx context.Context) error {
	return f.CommitStorage(ctx)
}

func (f *fakeKV) Rollback(ctx context.Context) error {
	f.rolledBack = true
	f.queued = map[string][]model.Entry{}
	return nil
}

type fakeMixed struct {
	name       string
	queued     map[string]string
	failCommit bool
}

func newFakeMixed(name string) *fakeMixed {
	return &fakeMixed{name: name, queued: map[string]string{}}
}

func (m *fakeMixed) Name() string { return m.name }

func (m *fakeMixed) Add(ctx context.Context, docID []byte, field string, value []byte, isNew bool) error {
	m.queued[string(docID)+"/"+field] = string(value)
	return nil
}

func (m *fakeMixed) Delete(ctx context.Context, docID []byte, field string, value []byte, isRemoved bool) error {
	delete(m.queued, string(docID)+"/"+field)
	return nil
}

// Commit is where a real search-backend push failure (S6) is staged: Add
// has already staked the value in-memory, but making it durable can still
// fail independently of the primary store's own commit.
func (m *fakeMixed) Commit(ctx context.Context) error {
	if m.failCommit {
		return assert.AnError
	}
	return nil
}

func (m *fakeMixed) Rollback(ctx context.Context) error {
	m.queued = map[string]string{}
	return nil
}

type fakeLogStore struct {
	records [][]byte
}

func (l *fakeLogStore) Append(ctx context.Context, record []byte) error {
	l.records = append(l.records, record)
	return nil
}

var _ store.LogStore = (*fakeLogStore)(nil)
var _ store.PrimaryStore = (*fakeKV)(nil)
var _ store.CompositeIndexStore = (*fakeKV)(nil)
var _ store.MixedIndexStore = (*fakeMixed)(nil)

// fixedClock lets tests pin the commit timestamp without depending on
// wall-clock time.
type fixedClock int64

func (c fixedClock) Now() int64 { return int64(c) }

func newEngine(primary, composite *fakeKV, mixed map[string]store.MixedIndexStore, logStore *fakeLogStore) (*Engine, *backendtx.BackendTransaction) {
	backend := backendtx.New(primary, composite, mixed, nil)
	var logger *txlog.Logger
	if logStore != nil {
		logger = txlog.NewLogger(logStore, nil, "test")
	}
	e := New(idassign.New(idassign.NewCounterSource()), edgeserializer.New(), indexserializer.New(), logger, fixedClock(42))
	return e, backend
}

func TestCommitPropertyAdditionOnNewVertexSkipsLock(t *testing.T) {
	primary, composite := newFakeKV(), newFakeKV()
	logStore := &fakeLogStore{}
	e, backend := newEngine(primary, composite, nil, logStore)

	rt := &model.RelationType{ID: 1, Name: "name", Multiplicity: model.Simple, Directionality: model.Out, Cardinality: model.Single, Consistency: model.Lock, Status: model.Enabled}
	v := model.NewVertex(0, "", model.New)
	require.NoError(t, e.IDs.AssignVertexID(v, ""))

	prop := model.NewProperty(rt, v.ID, []byte("alice"))

	err := e.Commit(context.Background(), CommitInput{
		Backend:  backend,
		Vertices: map[int64]*model.Vertex{v.ID: v},
		Added:    []*model.Relation{prop},
		Options:  Options{AcquireLocks: true},
	})
	require.NoError(t, err)

	assert.Empty(t, primary.lockCalls, "a NEW vertex's own property addition must not acquire a lock")
	key, err := e.IDs.GetKey(v.ID)
	require.NoError(t, err)
	assert.Len(t, primary.committed[string(key)], 1)

	require.Len(t, logStore.records, 3, "header, mutation payload, trailer")
	assert.NotEmpty(t, logStore.records[1], "the mutation payload record must be present between header and trailer")
	trailer, _, err := txlog.DecodeTrailer(logStore.records[2])
	require.NoError(t, err)
	assert.Equal(t, txlog.Success, trailer.Header.Status)
}

func TestCommitEdgeAdditionLocksColumnAtPositionZero(t *testing.T) {
	primary, composite := newFakeKV(), newFakeKV()
	e, backend := newEngine(primary, composite, nil, nil)

	rt := &model.RelationType{ID: 2, Name: "knows", Multiplicity: model.Many2One, Directionality: model.Both, Consistency: model.Lock, Status: model.Enabled}
	u := model.NewVertex(0, "", model.Loaded)
	u.ID = 10
	w := model.NewVertex(0, "", model.Loaded)
	w.ID = 20

	edge := model.NewEdge(rt, u.ID, w.ID, nil)
	edge.ID = 99

	err := e.Commit(context.Background(), CommitInput{
		Backend:  backend,
		Vertices: map[int64]*model.Vertex{u.ID: u, w.ID: w},
		Added:    []*model.Relation{edge},
		Options:  Options{AcquireLocks: true, AssignIDsImmediately: true},
	})
	require.NoError(t, err)

	uKey, err := e.IDs.GetKey(u.ID)
	require.NoError(t, err)
	require.Len(t, primary.lockCalls, 1, "MANY2ONE locks only the OUT side at position 0")
	assert.Equal(t, string(uKey), primary.lockCalls[0])
}

func TestCommitSelfLoopEmitsExactlyOneAddition(t *testing.T) {
	primary, composite := newFakeKV(), newFakeKV()
	e, backend := newEngine(primary, composite, nil, nil)

	rt := &model.RelationType{ID: 3, Name: "selfRef", Multiplicity: model.Multi, Directionality: model.Both, Status: model.Enabled}
	v := model.NewVertex(0, "", model.Loaded)
	v.ID = 7

	loop := model.NewEdge(rt, v.ID, v.ID, nil)

	err := e.Commit(context.Background(), CommitInput{
		Backend:  backend,
		Vertices: map[int64]*model.Vertex{v.ID: v},
		Added:    []*model.Relation{loop},
		Options:  Options{AssignIDsImmediately: false},
	})
	require.NoError(t, err)

	key, err := e.IDs.GetKey(v.ID)
	require.NoError(t, err)
	assert.Len(t, primary.committed[string(key)], 1, "a self-loop must produce one physical entry, not two")
}

func TestCommitCompositeIndexLocksDeletionsBeforeAdditions(t *testing.T) {
	primary, composite := newFakeKV(), newFakeKV()
	e, backend := newEngine(primary, composite, nil, nil)

	rt := &model.RelationType{ID: 4, Name: "email", Multiplicity: model.Simple, Directionality: model.Out, Cardinality: model.Set, Consistency: model.Lock, Status: model.Enabled}
	idxDef := indexserializer.CompositeIndexDef{Name: "byEmail", RelationType: rt, Status: model.Enabled}

	vAdded := model.NewVertex(0, "", model.Loaded)
	vAdded.ID = 30
	vRemoved := model.NewVertex(0, "", model.Loaded)
	vRemoved.ID = 31

	added := model.NewProperty(rt, vAdded.ID, []byte("new@example.com"))
	removed := model.NewProperty(rt, vRemoved.ID, []byte("old@example.com"))
	removed.Lifecycle = model.Removed

	// Precompute the expected keys the same way the engine derives them,
	// independent of commit ordering.
	ser := indexserializer.New()
	wantDeletionUpdates := ser.RelationUpdates(removed, []indexserializer.CompositeIndexDef{idxDef}, nil, false, false)
	wantAdditionUpdates := ser.RelationUpdates(added, []indexserializer.CompositeIndexDef{idxDef}, nil, false, false)
	require.Len(t, wantDeletionUpdates, 1)
	require.Len(t, wantAdditionUpdates, 1)

	err := e.Commit(context.Background(), CommitInput{
		Backend:   backend,
		Vertices:  map[int64]*model.Vertex{vAdded.ID: vAdded, vRemoved.ID: vRemoved},
		Added:     []*model.Relation{added},
		Removed:   []*model.Relation{removed},
		Composite: []indexserializer.CompositeIndexDef{idxDef},
		Options:   Options{AcquireLocks: true},
	})
	require.NoError(t, err)

	require.Len(t, composite.lockCalls, 2)
	assert.Equal(t, string(wantDeletionUpdates[0].Key), composite.lockCalls[0], "the deletion lock must be acquired first")
	assert.Equal(t, string(wantAdditionUpdates[0].Key), composite.lockCalls[1], "the addition lock must be acquired second")
}

func TestCommitMixedIndexFailureReportsFailureWithoutRollback(t *testing.T) {
	primary, composite := newFakeKV(), newFakeKV()
	badIndex := newFakeMixed("idx_text")
	badIndex.failCommit = true
	logStore := &fakeLogStore{}
	e, backend := newEngine(primary, composite, map[string]store.MixedIndexStore{"idx_text": badIndex}, logStore)

	rt := &model.RelationType{ID: 5, Name: "bio", Multiplicity: model.Simple, Directionality: model.Out, Status: model.Enabled}
	mixedDef := indexserializer.MixedIndexDef{Name: "idx_text", Field: "bio", RelationType: rt, Status: model.Enabled}

	v := model.NewVertex(0, "", model.New)
	require.NoError(t, e.IDs.AssignVertexID(v, ""))
	prop := model.NewProperty(rt, v.ID, []byte("hello world"))

	err := e.Commit(context.Background(), CommitInput{
		Backend:  backend,
		Vertices: map[int64]*model.Vertex{v.ID: v},
		Added:    []*model.Relation{prop},
		Mixed:    []indexserializer.MixedIndexDef{mixedDef},
		Options:  Options{},
	})
	require.Error(t, err)

	assert.False(t, primary.rolledBack, "a mixed-index failure must not roll back an already-durable primary store")

	require.Len(t, logStore.records, 3, "header, mutation payload, trailer")
	assert.NotEmpty(t, logStore.records[1], "the mutation payload record must be present between header and trailer")
	trailer, _, derr := txlog.DecodeTrailer(logStore.records[2])
	require.NoError(t, derr)
	require.Equal(t, txlog.Failure, trailer.Header.Status)
	require.NotNil(t, trailer.Failure)
	assert.True(t, trailer.Failure.StorageSuccess)
	assert.Equal(t, []string{"idx_text"}, trailer.Failure.FailingIndexNames)
}

func TestCommitNonIsolatedBackendSplitsSchemaIntoSubTransaction(t *testing.T) {
	dataPrimary, dataComposite := newFakeKV(), newFakeKV()
	schemaPrimary, schemaComposite := newFakeKV(), newFakeKV()
	logStore := &fakeLogStore{}
	e, dataBackend := newEngine(dataPrimary, dataComposite, nil, logStore)
	e.HasTxIsolation = false
	e.NewSchemaBackend = func() (*backendtx.BackendTransaction, error) {
		return backendtx.New(schemaPrimary, schemaComposite, nil, nil), nil
	}

	schemaType := &model.RelationType{ID: 6, Name: "schemaProp", Multiplicity: model.Simple, Directionality: model.Out, Consistency: model.Lock, Status: model.Enabled, IsSchemaBaseType: true}
	dataType := &model.RelationType{ID: 7, Name: "dataProp", Multiplicity: model.Simple, Directionality: model.Out, Status: model.Enabled}

	schemaVertex := model.NewVertex(0, "", model.Loaded)
	schemaVertex.ID = 100
	schemaVertex.IsSchema = true
	dataVertex := model.NewVertex(0, "", model.New)
	require.NoError(t, e.IDs.AssignVertexID(dataVertex, ""))

	schemaRel := model.NewProperty(schemaType, schemaVertex.ID, []byte("schema-value"))
	dataRel := model.NewProperty(dataType, dataVertex.ID, []byte("data-value"))

	err := e.Commit(context.Background(), CommitInput{
		Backend:  dataBackend,
		Vertices: map[int64]*model.Vertex{schemaVertex.ID: schemaVertex, dataVertex.ID: dataVertex},
		Added:    []*model.Relation{schemaRel, dataRel},
		Options:  Options{AcquireLocks: true},
	})
	require.NoError(t, err)

	schemaKey, err := e.IDs.GetKey(schemaVertex.ID)
	require.NoError(t, err)
	assert.Len(t, schemaPrimary.committed[string(schemaKey)], 1, "the schema relation belongs on the schema backend")
	dataKey, err := e.IDs.GetKey(dataVertex.ID)
	require.NoError(t, err)
	assert.Len(t, dataPrimary.committed[string(dataKey)], 1, "the data relation belongs on the main backend")
	assert.Empty(t, dataPrimary.committed[string(schemaKey)])

	require.Len(t, logStore.records, 6, "schema header/payload/trailer, then main header/payload/trailer")
	h0, _, err := txlog.DecodeHeader(logStore.records[0])
	require.NoError(t, err)
	assert.Equal(t, txlog.PreflushSystem, h0.Status)
	assert.NotEmpty(t, logStore.records[1], "the schema sub-transaction's mutation payload record must be present")
	t2, _, err := txlog.DecodeTrailer(logStore.records[2])
	require.NoError(t, err)
	assert.Equal(t, txlog.SuccessSystem, t2.Header.Status)
	h3, _, err := txlog.DecodeHeader(logStore.records[3])
	require.NoError(t, err)
	assert.Equal(t, txlog.Precommit, h3.Status)
	assert.NotEmpty(t, logStore.records[4], "the main transaction's mutation payload record must be present")
	t5, _, err := txlog.DecodeTrailer(logStore.records[5])
	require.NoError(t, err)
	assert.Equal(t, txlog.Success, t5.Header.Status)
}

func TestCommitRejectsSchemaMutationWithoutLocking(t *testing.T) {
	primary, composite := newFakeKV(), newFakeKV()
	e, backend := newEngine(primary, composite, nil, nil)

	schemaType := &model.RelationType{ID: 8, Name: "schemaProp", Multiplicity: model.Simple, Directionality: model.Out, Status: model.Enabled, IsSchemaBaseType: true}
	schemaVertex := model.NewVertex(0, "", model.Loaded)
	schemaVertex.ID = 200
	schemaVertex.IsSchema = true
	rel := model.NewProperty(schemaType, schemaVertex.ID, []byte("v"))

	err := e.Commit(context.Background(), CommitInput{
		Backend:  backend,
		Vertices: map[int64]*model.Vertex{schemaVertex.ID: schemaVertex},
		Added:    []*model.Relation{rel},
		Options:  Options{AcquireLocks: false},
	})
	require.Error(t, err)
}

func TestCommitStorageFailureRollsBackAndWritesFailureTrailer(t *testing.T) {
	primary, composite := newFakeKV(), newFakeKV()
	primary.failCommit = true
	logStore := &fakeLogStore{}
	e, backend := newEngine(primary, composite, nil, logStore)

	rt := &model.RelationType{ID: 9, Name: "prop", Multiplicity: model.Simple, Directionality: model.Out, Status: model.Enabled}
	v := model.NewVertex(0, "", model.New)
	require.NoError(t, e.IDs.AssignVertexID(v, ""))
	prop := model.NewProperty(rt, v.ID, []byte("x"))

	err := e.Commit(context.Background(), CommitInput{
		Backend:  backend,
		Vertices: map[int64]*model.Vertex{v.ID: v},
		Added:    []*model.Relation{prop},
	})
	require.Error(t, err)
	assert.True(t, primary.rolledBack)

	require.Len(t, logStore.records, 3, "header, mutation payload, trailer")
	assert.NotEmpty(t, logStore.records[1], "the mutation payload record must be present between header and trailer")
	trailer, _, derr := txlog.DecodeTrailer(logStore.records[2])
	require.NoError(t, derr)
	assert.Equal(t, txlog.Failure, trailer.Header.Status)
}
