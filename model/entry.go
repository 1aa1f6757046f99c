package model

// StaticBuffer is an immutable byte buffer used for physical keys,
// columns, and values. It is a plain byte slice; callers must not mutate
// a buffer obtained from a serializer.
type StaticBuffer []byte

// Entry is a single physical (column, value) pair written to the primary
// key-column-value store or a composite index. TTL metadata is only ever
// attached to additions, never deletions, per the TTL invariant.
type Entry struct {
	Column StaticBuffer
	Value  StaticBuffer

	HasTTL     bool
	TTLSeconds uint32
}

// WithTTL returns a copy of e carrying the given positive TTL. Callers
// must only invoke this for composite-index ADDITION entries derived
// from a relation-type that itself carries a TTL.
func (e Entry) WithTTL(seconds uint32) Entry {
	e.HasTTL = seconds > 0
	e.TTLSeconds = seconds
	return e
}

// KeySliceQuery asks a backend for the entries at a single key whose
// columns fall within [SliceStart, SliceEnd).
type KeySliceQuery struct {
	Key        StaticBuffer
	SliceStart StaticBuffer
	SliceEnd   StaticBuffer
	Limit      int
}

// SliceQuery is a column-range query over a single vertex's adjacency,
// typically produced by EdgeSerializer.Query for a (type, direction)
// pair, or unbounded for a full-vertex scan.
type SliceQuery struct {
	SliceStart StaticBuffer
	SliceEnd   StaticBuffer
	Limit      int
}

// ForKey binds this slice query to a specific vertex key.
func (q SliceQuery) ForKey(key StaticBuffer) KeySliceQuery {
	return KeySliceQuery{Key: key, SliceStart: q.SliceStart, SliceEnd: q.SliceEnd, Limit: q.Limit}
}

// KeyRangeQuery asks a backend for keys in [Start, End), used by the
// ordered-scan fallback of getVertexIDs.
type KeyRangeQuery struct {
	Start StaticBuffer
	End   StaticBuffer
}
