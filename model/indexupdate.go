package model

// IndexClass distinguishes a composite index, whose entries live in the
// primary key-column-value store and participate in locking, from a
// mixed index, maintained by an external lock-free search backend.
type IndexClass uint8

const (
	CompositeIndex IndexClass = iota
	MixedIndex
)

func (c IndexClass) String() string {
	if c == MixedIndex {
		return "MIXED"
	}
	return "COMPOSITE"
}

// IndexUpdateKind is whether an IndexUpdate adds or removes an entry.
type IndexUpdateKind uint8

const (
	Addition IndexUpdateKind = iota
	Deletion
)

func (k IndexUpdateKind) String() string {
	if k == Deletion {
		return "DELETION"
	}
	return "ADDITION"
}

// IndexUpdate is a single change to a secondary index, derived by
// IndexSerializer from a relation or vertex property mutation.
//
// For a composite index, Key and Entry have the physical
// key-column-value shape and Field/FieldValue are unused. For a mixed
// index, Key carries the owning element's document id and Field/
// FieldValue carry the indexed (field, value) pair; Entry is unused.
type IndexUpdate struct {
	IndexName string
	Class     IndexClass
	Kind      IndexUpdateKind

	Key   StaticBuffer
	Entry Entry

	Field      string
	FieldValue []byte

	// OwnerIsNew and OwnerIsRemoved record the lifecycle of the element
	// that produced this update at derivation time, so a mixed-index
	// backend can distinguish an upsert of a brand-new document from a
	// full re-index of an existing one, and a delete of one value from
	// the delete of the entire document.
	OwnerIsNew     bool
	OwnerIsRemoved bool

	// FromSchemaRelation tags updates derived from a schema relation. The
	// commit engine does not read it: schema updates reach the schema
	// sub-transaction because the engine splits the relations themselves.
	FromSchemaRelation bool
}

// Lockable reports whether this update's class and cardinality allow
// composite-index locking: only composite indexes lock, and only when
// the owning relation-type's cardinality is not LIST. The commit engine
// also requires locking to be enabled and LOCK consistency.
func (u IndexUpdate) Lockable(cardinality Cardinality) bool {
	return u.Class == CompositeIndex && cardinality != List
}
