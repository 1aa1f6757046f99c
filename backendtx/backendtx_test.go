package backendtx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/gdbtx/model"
	"github.com/evalgo/gdbtx/store"
	"github.com/evalgo/gdbtx/txlog"
)

// fakeStore is an in-memory stand-in for both store.PrimaryStore and
// store.CompositeIndexStore, used so these tests exercise backendtx's
// dispatch logic without depending on boltkv.
type fakeStore struct {
	committed map[string][]model.Entry
	queued    map[string][]model.Entry
	lockedKey string
	failLock  bool
	failCommit bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{committed: map[string][]model.Entry{}, queued: map[string][]model.Entry{}}
}

func (f *fakeStore) Query(ctx context.Context, q model.KeySliceQuery) ([]model.Entry, error) {
	return f.committed[string(q.Key)], nil
}

func (f *fakeStore) MultiQuery(ctx context.Context, keys []model.StaticBuffer, q model.SliceQuery) (map[string][]model.Entry, error) {
	out := map[string][]model.Entry{}
	for _, k := range keys {
		out[string(k)] = f.committed[string(k)]
	}
	return out, nil
}

func (f *fakeStore) Keys(ctx context.Context, q model.KeyRangeQuery) ([]model.StaticBuffer, error) {
	var out []model.StaticBuffer
	for k := range f.committed {
		out = append(out, model.StaticBuffer(k))
	}
	return out, nil
}

func (f *fakeStore) Mutate(key model.StaticBuffer, additions, deletions []model.Entry) error {
	f.queued[string(key)] = append(f.queued[string(key)], additions...)
	return nil
}

func (f *fakeStore) AcquireLock(ctx context.Context, key, column model.StaticBuffer) error {
	if f.failLock {
		return assert.AnError
	}
	f.lockedKey = string(key)
	return nil
}

func (f *fakeStore) CommitStorage(ctx context.Context) error {
	if f.failCommit {
		return assert.AnError
	}
	for k, v := range f.queued {
		f.committed[k] = append(f.committed[k], v...)
	}
	f.queued = map[string][]model.Entry{}
	return nil
}

func (f *fakeStore) CommitIndexes(ctx context.Context) error {
	return f.CommitStorage(ctx)
}

func (f *fakeStore) Rollback(ctx context.Context) error {
	f.queued = map[string][]model.Entry{}
	return nil
}

type fakeMixed struct {
	name      string
	committed map[string]string
	queued    map[string]string
	failAdd   bool
}

func newFakeMixed(name string) *fakeMixed {
	return &fakeMixed{name: name, committed: map[string]string{}, queued: map[string]string{}}
}

func (m *fakeMixed) Name() string { return m.name }

func (m *fakeMixed) Add(ctx context.Context, docID []byte, field string, value []byte, isNew bool) error {
	if m.failAdd {
		return assert.AnError
	}
	m.queued[string(docID)+"/"+field] = string(value)
	return nil
}

func (m *fakeMixed) Delete(ctx context.Context, docID []byte, field string, value []byte, isRemoved bool) error {
	delete(m.queued, string(docID)+"/"+field)
	return nil
}

func (m *fakeMixed) Commit(ctx context.Context) error {
	for k, v := range m.queued {
		m.committed[k] = v
	}
	m.queued = map[string]string{}
	return nil
}

func (m *fakeMixed) Rollback(ctx context.Context) error {
	m.queued = map[string]string{}
	return nil
}

type fakeSink struct {
	payloads [][]byte
}

func (s *fakeSink) WritePayload(ctx context.Context, txID int64, payload []byte) error {
	s.payloads = append(s.payloads, payload)
	return nil
}

var _ txlog.Sink = (*fakeSink)(nil)

func TestMutateEdgesNotVisibleUntilCommitStorage(t *testing.T) {
	primary := newFakeStore()
	b := New(primary, nil, nil, nil)
	key := model.StaticBuffer("v1")
	entry := model.Entry{Column: model.StaticBuffer("c"), Value: model.StaticBuffer("val")}

	require.NoError(t, b.MutateEdges(key, []model.Entry{entry}, nil))
	got, err := b.EdgeStoreQuery(context.Background(), model.KeySliceQuery{Key: key})
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, b.CommitStorage(context.Background()))
	got, err = b.EdgeStoreQuery(context.Background(), model.KeySliceQuery{Key: key})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, entry.Value, got[0].Value)
}

func TestMutateIndexRoutesToMixedBackend(t *testing.T) {
	primary := newFakeStore()
	composite := newFakeStore()
	mixed := newFakeMixed("byName")
	b := New(primary, composite, map[string]store.MixedIndexStore{"byName": mixed}, nil)

	require.NoError(t, b.MutateIndex(model.IndexUpdate{
		IndexName: "byName", Class: model.MixedIndex, Kind: model.Addition,
		Key: model.StaticBuffer("v1"), Field: "name", FieldValue: []byte("alice"), OwnerIsNew: true,
	}))
	failures := b.CommitIndexes(context.Background())
	assert.Empty(t, failures)
	assert.Equal(t, "alice", mixed.committed["v1/name"])
}

func TestAcquireEdgeLockRejectsFailure(t *testing.T) {
	primary := newFakeStore()
	primary.failLock = true
	b := New(primary, nil, nil, nil)
	err := b.AcquireEdgeLock(context.Background(), model.StaticBuffer("v1"), model.StaticBuffer("c"))
	require.Error(t, err)
}

func TestMutateIndexFailureOnOneIndexDoesNotAffectOthers(t *testing.T) {
	primary := newFakeStore()
	composite := newFakeStore()
	good := newFakeMixed("good")
	bad := newFakeMixed("bad")
	bad.failAdd = true
	b := New(primary, composite, map[string]store.MixedIndexStore{"good": good, "bad": bad}, nil)

	require.NoError(t, b.MutateIndex(model.IndexUpdate{IndexName: "good", Class: model.MixedIndex, Kind: model.Addition, Key: model.StaticBuffer("v1"), Field: "f", FieldValue: []byte("x")}))
	err := b.MutateIndex(model.IndexUpdate{IndexName: "bad", Class: model.MixedIndex, Kind: model.Addition, Key: model.StaticBuffer("v1"), Field: "f", FieldValue: []byte("y")})
	require.Error(t, err)

	failures := b.CommitIndexes(context.Background())
	assert.Empty(t, failures)
	assert.Equal(t, "x", good.committed["v1/f"])
}

func TestLogMutationsWritesNonEmptyPayload(t *testing.T) {
	primary := newFakeStore()
	b := New(primary, nil, nil, nil)
	require.NoError(t, b.MutateEdges(model.StaticBuffer("v1"), []model.Entry{{Column: model.StaticBuffer("c"), Value: model.StaticBuffer("val")}}, nil))

	sink := &fakeSink{}
	require.NoError(t, b.LogMutations(context.Background(), sink, 1))
	require.Len(t, sink.payloads, 1)
	assert.NotEmpty(t, sink.payloads[0])
}
