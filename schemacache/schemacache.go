// Package schemacache memoizes schema-vertex lookups behind a retrieval
// callback supplied by the engine, serializing concurrent misses so the
// underlying store never sees more than one in-flight fetch per key —
// the same contract the teacher enforces around its Redis-backed cache
// gets (db/repository/redis.go's GetCache), implemented here with
// golang.org/x/sync/singleflight instead of a distributed lock since
// this cache is process-local.
package schemacache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// RelationEntry is one (relation-type, direction) adjacency entry
// returned by a schema-relations lookup.
type RelationEntry struct {
	RelationTypeID int64
	Direction      int // a model.Directionality value, stored as a plain int
}

// Retriever is the engine-supplied callback a Cache falls back to on a
// miss. Implementations typically read the schema vertex's own adjacency
// out of the primary store.
type Retriever interface {
	SchemaIDByName(ctx context.Context, name string) (int64, bool, error)
	SchemaRelations(ctx context.Context, schemaID int64, relationTypeID int64, direction int) ([]RelationEntry, error)
}

type nameKey = string

type relKey struct {
	schemaID       int64
	relationTypeID int64
	direction      int
}

// Cache is a concurrent, process-wide memo over a Retriever.
type Cache struct {
	retriever Retriever

	nameGroup singleflight.Group
	relGroup  singleflight.Group

	mu      sync.RWMutex
	byName  map[nameKey]int64
	byNameOK map[nameKey]bool
	byRel   map[relKey][]RelationEntry
}

// New returns a Cache backed by retriever.
func New(retriever Retriever) *Cache {
	return &Cache{
		retriever: retriever,
		byName:    make(map[nameKey]int64),
		byNameOK:  make(map[nameKey]bool),
		byRel:     make(map[relKey][]RelationEntry),
	}
}

// SchemaByName returns the schema id for name, if one exists. Concurrent
// calls for the same name share a single Retriever fetch.
func (c *Cache) SchemaByName(ctx context.Context, name string) (int64, bool, error) {
	c.mu.RLock()
	if ok, known := c.byNameOK[name]; known {
		id := c.byName[name]
		c.mu.RUnlock()
		return id, ok, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.nameGroup.Do(name, func() (interface{}, error) {
		id, ok, err := c.retriever.SchemaIDByName(ctx, name)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.byName[name] = id
		c.byNameOK[name] = ok
		c.mu.Unlock()
		return [2]interface{}{id, ok}, nil
	})
	if err != nil {
		return 0, false, err
	}
	pair := v.([2]interface{})
	return pair[0].(int64), pair[1].(bool), nil
}

// SchemaRelations returns the adjacency entries for (schemaID,
// relationTypeID, direction), fetching and caching on first use.
// Concurrent calls for the same key share a single Retriever fetch.
func (c *Cache) SchemaRelations(ctx context.Context, schemaID, relationTypeID int64, direction int) ([]RelationEntry, error) {
	key := relKey{schemaID: schemaID, relationTypeID: relationTypeID, direction: direction}

	c.mu.RLock()
	if entries, ok := c.byRel[key]; ok {
		c.mu.RUnlock()
		return entries, nil
	}
	c.mu.RUnlock()

	groupKey := fmtRelKey(key)
	v, err, _ := c.relGroup.Do(groupKey, func() (interface{}, error) {
		entries, err := c.retriever.SchemaRelations(ctx, schemaID, relationTypeID, direction)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.byRel[key] = entries
		c.mu.Unlock()
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]RelationEntry), nil
}

// Invalidate drops any cached entries for name, forcing the next lookup
// to consult the Retriever. Used when a schema vertex is modified within
// a transaction that subsequently commits.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	delete(c.byName, name)
	delete(c.byNameOK, name)
	c.mu.Unlock()
}

func fmtRelKey(k relKey) string {
	// A cheap, collision-resistant-enough string key for singleflight's
	// map; correctness only requires that distinct relKeys usually map
	// to distinct strings, since a false match only serializes two
	// unrelated fetches rather than corrupting either one.
	return itoa(k.schemaID) + "/" + itoa(k.relationTypeID) + "/" + itoa(int64(k.direction))
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
