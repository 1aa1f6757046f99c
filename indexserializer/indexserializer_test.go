package indexserializer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/gdbtx/model"
)

func TestRelationUpdatesTTLOnlyOnAddition(t *testing.T) {
	s := New()
	rt := &model.RelationType{ID: 1, Name: "age", HasTTL: true, TTLSeconds: 30}
	composite := []CompositeIndexDef{{Name: "by_age", RelationType: rt, Status: model.Enabled}}

	added := model.NewProperty(rt, 10, []byte("30"))
	added.Lifecycle = model.New
	removed := model.NewProperty(rt, 10, []byte("30"))
	removed.Lifecycle = model.Removed

	addUpdates := s.RelationUpdates(added, composite, nil, true, false)
	delUpdates := s.RelationUpdates(removed, composite, nil, false, false)

	require.Len(t, addUpdates, 1)
	require.Len(t, delUpdates, 1)
	assert.True(t, addUpdates[0].Entry.HasTTL)
	assert.EqualValues(t, 30, addUpdates[0].Entry.TTLSeconds)
	assert.False(t, delUpdates[0].Entry.HasTTL)
	assert.Equal(t, model.Deletion, delUpdates[0].Kind)
}

func TestRelationUpdatesDisabledIndexContributesNothing(t *testing.T) {
	s := New()
	rt := &model.RelationType{ID: 2, Name: "nickname"}
	composite := []CompositeIndexDef{{Name: "by_nickname", RelationType: rt, Status: model.Disabled}}

	r := model.NewProperty(rt, 10, []byte("bob"))
	updates := s.RelationUpdates(r, composite, nil, true, false)
	assert.Empty(t, updates)
}

func TestListValueDeletionIsSingleEntry(t *testing.T) {
	s := New()
	rt := &model.RelationType{ID: 3, Name: "tags", Cardinality: model.List}
	def := CompositeIndexDef{Name: "by_tag", RelationType: rt, Status: model.Enabled}

	r := model.NewProperty(rt, 10, []byte("blue"))
	r.Lifecycle = model.Removed

	update := s.ListValueDeletion(r, def)
	assert.Equal(t, model.Deletion, update.Kind)
	assert.Equal(t, model.CompositeIndex, update.Class)
}

func TestMixedIndexUpdateCarriesDocumentIDAndField(t *testing.T) {
	s := New()
	rt := &model.RelationType{ID: 4, Name: "bio"}
	mixed := []MixedIndexDef{{Name: "idx_text", Field: "bio", RelationType: rt, Status: model.Enabled}}

	r := model.NewProperty(rt, 42, []byte("hello world"))
	updates := s.RelationUpdates(r, nil, mixed, true, false)

	require.Len(t, updates, 1)
	assert.Equal(t, model.MixedIndex, updates[0].Class)
	assert.Equal(t, "bio", updates[0].Field)
	assert.Equal(t, []byte("hello world"), updates[0].FieldValue)
}
