// Package indexserializer derives the complete set of composite- and
// mixed-index updates implied by a relation mutation or a vertex's
// mutated properties.
package indexserializer

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/evalgo/gdbtx/model"
)

// CompositeIndexDef describes a composite index over a single
// relation-type. Each entry's key is hashed from the index name, the
// owning vertex id and the relation value (see compositeKey); keys over
// more than one relation-type are not supported.
type CompositeIndexDef struct {
	Name         string
	RelationType *model.RelationType
	Status       model.SchemaStatus
}

// Enabled reports whether this index should receive writes.
func (d CompositeIndexDef) Enabled() bool { return d.Status == model.Enabled }

// MixedIndexDef describes a mixed index maintained by an external
// search backend over a named field derived from a relation-type.
type MixedIndexDef struct {
	Name         string
	Field        string
	RelationType *model.RelationType
	Status       model.SchemaStatus
}

func (d MixedIndexDef) Enabled() bool { return d.Status == model.Enabled }

// Serializer derives IndexUpdates. It holds no state of its own; the set
// of index definitions to consider is passed to each call, since which
// indexes exist is the SchemaCache's concern, not this package's.
type Serializer struct{}

func New() *Serializer { return &Serializer{} }

// compositeKey deterministically hashes the index name, the owning
// vertex id and the relation value into a physical key, so equal
// (index, vertex, value) tuples always map to the same key regardless of
// write order. Equal values on different vertices land on different
// keys; the key does not group vertices by value.
func compositeKey(indexName string, vertexID int64, value []byte) model.StaticBuffer {
	h := sha256.New()
	h.Write([]byte(indexName))
	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], uint64(vertexID))
	h.Write(idBuf[:])
	h.Write(value)
	return model.StaticBuffer(h.Sum(nil))
}

// documentID derives a mixed-index backend's document id from the
// owning element's permanent id.
func documentID(elementID int64) []byte {
	return []byte(fmt.Sprintf("v%d", elementID))
}

// RelationUpdates derives the IndexUpdates implied by a single relation
// mutation (added or removed), given the composite and mixed index
// definitions declared over its relation-type. ownerIsNew/ownerIsRemoved
// describe the lifecycle of the owning vertex at derivation time.
func (s *Serializer) RelationUpdates(r *model.Relation, composite []CompositeIndexDef, mixed []MixedIndexDef, ownerIsNew, ownerIsRemoved bool) []model.IndexUpdate {
	kind := model.Addition
	if r.Lifecycle == model.Removed {
		kind = model.Deletion
	}

	var updates []model.IndexUpdate
	vertexID := r.VertexAt(0)

	for _, def := range composite {
		if !def.Enabled() || def.RelationType != r.Type {
			continue
		}
		entry := model.Entry{Value: model.StaticBuffer(r.Value)}
		if kind == model.Addition && r.Type.HasTTL {
			entry = entry.WithTTL(r.Type.TTLSeconds)
		}
		updates = append(updates, model.IndexUpdate{
			IndexName:          def.Name,
			Class:              model.CompositeIndex,
			Kind:               kind,
			Key:                compositeKey(def.Name, vertexID, r.Value),
			Entry:              entry,
			OwnerIsNew:         ownerIsNew,
			OwnerIsRemoved:     ownerIsRemoved,
			FromSchemaRelation: r.Type.IsSchemaBaseType,
		})
	}

	for _, def := range mixed {
		if !def.Enabled() || def.RelationType != r.Type {
			continue
		}
		updates = append(updates, model.IndexUpdate{
			IndexName:          def.Name,
			Class:              model.MixedIndex,
			Kind:               kind,
			Key:                documentID(vertexID),
			Field:              def.Field,
			FieldValue:         r.Value,
			OwnerIsNew:         ownerIsNew,
			OwnerIsRemoved:     ownerIsRemoved,
			FromSchemaRelation: r.Type.IsSchemaBaseType,
		})
	}

	return updates
}

// VertexPropertyUpdates derives the composite-index updates for a
// vertex's mutated properties by calling RelationUpdates on each one
// (owner flags false, no mixed indexes). vertexID is not used, and no
// key spanning more than one relation-type is derived. The commit engine
// does not call it. mutatedProperties holds only the relations that
// changed in this commit.
func (s *Serializer) VertexPropertyUpdates(vertexID int64, mutatedProperties []*model.Relation, composite []CompositeIndexDef) []model.IndexUpdate {
	var updates []model.IndexUpdate
	for _, r := range mutatedProperties {
		updates = append(updates, s.RelationUpdates(r, composite, nil, false, false)...)
	}
	return updates
}

// ListValueDeletion encodes the removal of a single value from a
// LIST-cardinality property as one DELETION IndexUpdate, never a full
// index rebuild.
func (s *Serializer) ListValueDeletion(r *model.Relation, def CompositeIndexDef) model.IndexUpdate {
	vertexID := r.VertexAt(0)
	return model.IndexUpdate{
		IndexName: def.Name,
		Class:     model.CompositeIndex,
		Kind:      model.Deletion,
		Key:       compositeKey(def.Name, vertexID, r.Value),
		Entry:     model.Entry{Value: model.StaticBuffer(r.Value)},
	}
}
