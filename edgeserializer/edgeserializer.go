// Package edgeserializer encodes relations into the physical
// (column, value) entries the primary key-column-value store persists,
// and computes the slice queries used to read them back.
//
// Column layout: `typeId (8 bytes, big-endian) || direction (1 byte) ||
// sortKey (variable) || relationId (8 bytes, big-endian)`. The
// (typeId, direction) prefix is fixed-width, so a slice query for a
// given (type, direction) pair is a single contiguous byte range —
// exactly the property §4.1 requires.
package edgeserializer

import (
	"encoding/binary"
	"fmt"

	"github.com/evalgo/gdbtx/model"
)

// Direction bytes. Out and In are adjacent so a BOTH query is the
// contiguous range covering both.
const (
	dirNone byte = 0
	dirOut  byte = 1
	dirIn   byte = 2
)

// VertexExistsTypeID is the synthetic relation-type id reserved for the
// vertex-existence marker entry every real vertex carries.
const VertexExistsTypeID int64 = 0

// Context resolves the physical key of a vertex by id. EdgeSerializer
// needs this to embed the other endpoint's key in an edge's column as
// its sort key; it never assigns ids itself (that is idassign's job).
type Context interface {
	VertexKey(vertexID int64) (model.StaticBuffer, error)
}

// Serializer encodes and decodes relations and computes slice queries.
// It is stateless and safe for concurrent use.
type Serializer struct{}

// New returns a ready-to-use Serializer.
func New() *Serializer { return &Serializer{} }

func directionByte(position, arity int) byte {
	if arity == 1 {
		return dirNone
	}
	if position == 0 {
		return dirOut
	}
	return dirIn
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func typeDirPrefix(typeID int64, dir byte) []byte {
	prefix := make([]byte, 0, 9)
	prefix = append(prefix, encodeUint64(uint64(typeID))...)
	prefix = append(prefix, dir)
	return prefix
}

// WriteRelation encodes r's entry at the given vertex position (0 or 1)
// under r's own base relation-type.
func (s *Serializer) WriteRelation(r *model.Relation, position int, tx Context) (model.Entry, error) {
	return s.WriteRelationAsType(r, r.Type.BaseView(), position, tx)
}

// WriteRelationAsType encodes r's entry at the given position under an
// alternate relation-index view (asType), so the same relation can be
// mirrored under a relation-index's own typeId.
func (s *Serializer) WriteRelationAsType(r *model.Relation, asType *model.RelationIndex, position int, tx Context) (model.Entry, error) {
	if r.Arity == 2 && position > 1 {
		return model.Entry{}, fmt.Errorf("edgeserializer: position %d out of range for arity-2 relation", position)
	}

	var sortKey []byte
	var otherVertexID int64
	if r.Arity == 2 {
		otherPos := 1 - position
		otherVertexID = r.Vertices[otherPos]
		otherKey, err := tx.VertexKey(otherVertexID)
		if err != nil {
			return model.Entry{}, fmt.Errorf("edgeserializer: resolve key for vertex %d: %w", otherVertexID, err)
		}
		sortKey = []byte(otherKey)
	}

	dir := directionByte(position, r.Arity)

	column := make([]byte, 0, 9+len(sortKey)+8)
	column = append(column, typeDirPrefix(asType.TypeID, dir)...)
	column = append(column, sortKey...)
	column = append(column, encodeUint64(uint64(r.ID))...)

	value := make([]byte, 0, 16+len(r.Value))
	value = append(value, encodeUint64(uint64(r.ID))...)
	value = append(value, encodeUint64(uint64(otherVertexID))...)
	value = append(value, r.Value...)

	entry := model.Entry{Column: model.StaticBuffer(column), Value: model.StaticBuffer(value)}
	return entry, nil
}

// Query computes the contiguous column-range slice query for all
// entries of the given relation type and direction. BOTH spans the
// adjacent OUT and IN direction bytes.
func (s *Serializer) Query(typeID int64, direction model.Directionality) model.SliceQuery {
	var startDir, endDirExclusive byte
	switch direction {
	case model.Out:
		startDir, endDirExclusive = dirOut, dirOut+1
	case model.In:
		startDir, endDirExclusive = dirIn, dirIn+1
	default: // Both
		startDir, endDirExclusive = dirOut, dirIn+1
	}
	return model.SliceQuery{
		SliceStart: typeDirPrefix(typeID, startDir),
		SliceEnd:   typeDirPrefix(typeID, endDirExclusive),
	}
}

// VertexExistenceQuery returns the singleton one-row slice query used to
// test whether a key represents a real vertex during global scans.
func VertexExistenceQuery() model.SliceQuery {
	return model.SliceQuery{
		SliceStart: typeDirPrefix(VertexExistsTypeID, dirNone),
		SliceEnd:   typeDirPrefix(VertexExistsTypeID, dirNone+1),
		Limit:      1,
	}
}

// VertexExistenceEntry is the single entry written for every vertex so
// it can be found by VertexExistenceQuery.
func VertexExistenceEntry() model.Entry {
	return model.Entry{
		Column: model.StaticBuffer(typeDirPrefix(VertexExistsTypeID, dirNone)),
		Value:  model.StaticBuffer{},
	}
}
