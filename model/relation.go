package model

// Relation is a directed or undirected edge, or a vertex property — the
// unit of mutation the commit engine processes. Arity is 1 for a
// property (only Vertices[0] is meaningful) and 2 for an edge.
type Relation struct {
	ID       int64
	Type     *RelationType
	Arity    int
	Vertices [2]int64
	// Value is the opaque payload: for a property, the serialized
	// value; for an edge, whatever user-facing payload is attached.
	Value []byte

	Lifecycle Lifecycle
}

// NewEdge constructs an arity-2 relation between out and in, in the NEW
// lifecycle state.
func NewEdge(typ *RelationType, out, in int64, value []byte) *Relation {
	return &Relation{
		Type:      typ,
		Arity:     2,
		Vertices:  [2]int64{out, in},
		Value:     value,
		Lifecycle: New,
	}
}

// NewProperty constructs an arity-1 relation owned by vertex, in the NEW
// lifecycle state.
func NewProperty(typ *RelationType, vertex int64, value []byte) *Relation {
	return &Relation{
		Type:      typ,
		Arity:     1,
		Vertices:  [2]int64{vertex, 0},
		Value:     value,
		Lifecycle: New,
	}
}

// IsProperty reports whether this relation is a vertex property rather
// than an edge.
func (r *Relation) IsProperty() bool {
	return r.Arity == 1
}

// Loop reports whether this is a self-edge: arity 2 with both endpoints
// identical. A loop's mutation is emitted exactly once, at position 0.
func (r *Relation) Loop() bool {
	return r.Arity == 2 && r.Vertices[0] == r.Vertices[1]
}

// VertexAt returns the vertex id at the given position (0 or 1). Position
// 1 is only meaningful when Arity == 2.
func (r *Relation) VertexAt(position int) int64 {
	return r.Vertices[position]
}

// SkipPosition reports whether prepare-commit processing should skip the
// given position: position 1 is skipped for a loop, since the mutation
// is already emitted once at position 0.
func (r *Relation) SkipPosition(position int) bool {
	return position == 1 && r.Loop()
}

// IsSchemaOperation reports whether r satisfies the commit engine's
// SCHEMA_FILTER: its type is a schema base-type and its first vertex is a
// schema vertex.
func (r *Relation) IsSchemaOperation(vertex0IsSchema bool) bool {
	return r.Type != nil && r.Type.IsSchemaBaseType && vertex0IsSchema
}
