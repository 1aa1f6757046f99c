package model

// RelationIndex is an alternate sort ordering of a RelationType's base
// entries, mirrored on every write that touches the base type. It carries
// its own directionality and status but shares the base type's
// multiplicity, cardinality, and consistency.
type RelationIndex struct {
	// TypeID distinguishes this view's physical entries from the base
	// type's and from every other index view, so EdgeSerializer can emit
	// a disjoint column prefix per view.
	TypeID         int64
	Name           string
	Directionality Directionality
	Status         SchemaStatus
}

// Enabled reports whether this index view should receive writes. Disabled
// relation indexes contribute zero physical entries.
func (ri *RelationIndex) Enabled() bool {
	return ri != nil && ri.Status == Enabled
}

// RelationType is the schema entry describing how relations of this type
// are stored: their multiplicity, directionality, cardinality, locking
// behavior, optional TTL, and the set of relation-index views that mirror
// the base entries under alternate sort orders.
type RelationType struct {
	ID             int64
	Name           string
	Multiplicity   Multiplicity
	Directionality Directionality
	Cardinality    Cardinality
	Consistency    Consistency
	Status         SchemaStatus

	// TTLSeconds is attached to composite-index additions derived from
	// relations of this type when HasTTL is true. A zero/absent TTL
	// never attaches metadata, including implicitly on deletions.
	TTLSeconds uint32
	HasTTL     bool

	// IsSchemaBaseType marks relation-types whose instances satisfy the
	// commit engine's SCHEMA_FILTER (type is a base-type and vertex[0]
	// is a schema vertex). Schema base types route through the
	// non-isolated-backend schema sub-transaction.
	IsSchemaBaseType bool

	// Indexes are this base type's derived relation-index views. Only a
	// base type carries indexes; a RelationIndex itself is not further
	// indexable.
	Indexes []*RelationIndex
}

// BaseView returns the base type's own entries represented as a
// RelationIndex, so EdgeSerializer can iterate the base type and its
// relation-index views uniformly.
func (rt *RelationType) BaseView() *RelationIndex {
	return &RelationIndex{
		TypeID:         rt.ID,
		Name:           rt.Name,
		Directionality: rt.Directionality,
		Status:         rt.Status,
	}
}

// Views returns every view (the base type plus its relation-index views)
// that is enabled and whose directionality covers the given vertex
// position of an arity-2 relation. For a property (position 0 only, no
// directionality) pass position 0; Directionality.Covers(0) is true for
// Out and Both, which is why property relation-types are conventionally
// declared OUT.
func (rt *RelationType) Views(position int) []*RelationIndex {
	out := make([]*RelationIndex, 0, len(rt.Indexes)+1)
	if base := rt.BaseView(); base.Enabled() && base.Directionality.Covers(position) {
		out = append(out, base)
	}
	for _, idx := range rt.Indexes {
		if idx.Enabled() && idx.Directionality.Covers(position) {
			out = append(out, idx)
		}
	}
	return out
}
