package commit

import (
	"context"
	"sort"

	"github.com/evalgo/gdbtx/backendtx"
	"github.com/evalgo/gdbtx/edgeserializer"
	"github.com/evalgo/gdbtx/errs"
	"github.com/evalgo/gdbtx/model"
)

// VertexIDs enumerates every vertex id visible through backend (spec
// §4.7): it prefers an unordered scan when the primary store offers
// one, falling back to a full ordered range scan over every key, and
// fails with an *errs.Unsupported if the backend offers neither. Every
// candidate key is confirmed to carry the vertex-existence marker entry
// before its id is decoded, so stray non-vertex keys never leak into
// the result. Returned ids are sorted for deterministic output.
func (e *Engine) VertexIDs(ctx context.Context, backend *backendtx.BackendTransaction) ([]int64, error) {
	keys, err := scanVertexKeys(ctx, backend)
	if err != nil {
		return nil, err
	}

	existence := edgeserializer.VertexExistenceQuery()
	ids := make([]int64, 0, len(keys))
	for _, key := range keys {
		entries, qerr := backend.EdgeStoreQuery(ctx, existence.ForKey(key))
		if qerr != nil {
			return nil, &errs.StorageError{Cause: qerr}
		}
		if len(entries) == 0 {
			continue
		}
		id, kerr := e.IDs.GetKeyID(key)
		if kerr != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func scanVertexKeys(ctx context.Context, backend *backendtx.BackendTransaction) ([]model.StaticBuffer, error) {
	if scanner, ok := backend.UnorderedScanner(); ok {
		keys, err := scanner.ScanKeysUnordered(ctx, 0)
		if err != nil {
			return nil, &errs.StorageError{Cause: err}
		}
		return keys, nil
	}
	keys, err := backend.EdgeStoreKeys(ctx, model.KeyRangeQuery{})
	if err != nil {
		return nil, &errs.Unsupported{Operation: "vertex id enumeration", Cause: err}
	}
	return keys, nil
}

// EdgeQuery dispatches a single vertex's slice query onto backend.
// vertexID must be positive.
func (e *Engine) EdgeQuery(ctx context.Context, backend *backendtx.BackendTransaction, vertexID int64, q model.SliceQuery) ([]model.Entry, error) {
	if vertexID <= 0 {
		return nil, &errs.InvariantViolation{Reason: "edge query requires a positive vertex id"}
	}
	key, err := e.IDs.GetKey(vertexID)
	if err != nil {
		return nil, &errs.InvariantViolation{Reason: err.Error()}
	}
	return backend.EdgeStoreQuery(ctx, q.ForKey(key))
}

// EdgeMultiQuery dispatches the same slice query against every id in
// vertexIDs. Every id must be positive.
func (e *Engine) EdgeMultiQuery(ctx context.Context, backend *backendtx.BackendTransaction, vertexIDs []int64, q model.SliceQuery) (map[string][]model.Entry, error) {
	keys := make([]model.StaticBuffer, 0, len(vertexIDs))
	for _, vid := range vertexIDs {
		if vid <= 0 {
			return nil, &errs.InvariantViolation{Reason: "edge multi-query requires every vertex id to be positive"}
		}
		key, err := e.IDs.GetKey(vid)
		if err != nil {
			return nil, &errs.InvariantViolation{Reason: err.Error()}
		}
		keys = append(keys, key)
	}
	return backend.EdgeStoreMultiQuery(ctx, keys, q)
}
