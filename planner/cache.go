package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/99designs/gqlgen/graphql/handler/lru"
	"golang.org/x/sync/singleflight"

	"github.com/latticeflow/fedrouter/ast"
	"github.com/latticeflow/fedrouter/planquery"
)

// Cache is the process-wide plan cache named in SPEC_FULL.md §4.1/§9: a
// bounded LRU keyed by the normalized operation's content hash, with
// single-flight admission so concurrent misses for the same operation
// plan exactly once and everyone else awaits that build.
type Cache struct {
	entries *lru.Cache
	group   singleflight.Group
	planner *Planner
}

// NewCache builds a plan Cache of the given capacity over planner.
func NewCache(size int, planner *Planner) *Cache {
	return &Cache{entries: lru.New(size), planner: planner}
}

// Get returns the cached plan for op, planning and caching it on first
// use. Concurrent callers for the same operation content share one
// planning pass.
func (c *Cache) Get(op *ast.Operation) (*planquery.Plan, error) {
	key := contentHash(op)
	if v, ok := c.entries.Get(key); ok {
		return v.(*planquery.Plan), nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, ok := c.entries.Get(key); ok {
			return v.(*planquery.Plan), nil
		}
		plan, err := c.planner.Plan(op)
		if err != nil {
			return nil, err
		}
		c.entries.Add(key, plan)
		return plan, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*planquery.Plan), nil
}

// contentHash hashes the operation's shape deterministically: name,
// kind, root type, variable declarations, and a stable text rendering
// of its selection set (argument order is already canonical post
// normalization, so two operations with the same shape always hash the
// same regardless of which request produced them).
func contentHash(op *ast.Operation) string {
	doc, _ := printOperation(string(op.Kind), op.Name, op.Selections, op.VariableDefinitions)
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00", op.Kind, op.RootTypeName)
	for _, vd := range op.VariableDefinitions {
		fmt.Fprintf(h, "%s:%s,", vd.Name, vd.Type)
	}
	h.Write([]byte("\x00"))
	h.Write([]byte(doc))
	return hex.EncodeToString(h.Sum(nil))
}
