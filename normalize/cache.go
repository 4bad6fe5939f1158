package normalize

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/99designs/gqlgen/graphql/handler/lru"
	gqlast "github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
	"golang.org/x/sync/singleflight"

	"github.com/latticeflow/fedrouter/ast"
	"github.com/latticeflow/fedrouter/supergraph"
)

// Cache is the process-wide normalized-operation cache named in
// SPEC_FULL.md §5/§9: a bounded LRU keyed by the operation's source text
// plus operation name, with single-flight admission so concurrent
// misses for the same key normalize exactly once. Mirrors
// planner.Cache's construction on the same two libraries.
type Cache struct {
	entries *lru.Cache
	group   singleflight.Group
	state   *supergraph.State
}

// NewCache builds a normalize Cache bounded to size entries.
func NewCache(size int, state *supergraph.State) *Cache {
	return &Cache{entries: lru.New(size), state: state}
}

// Get normalizes (query text, operationName) against the cache's
// supergraph state, reusing a cached result when the same pair was seen
// before and coalescing concurrent misses onto a single normalize call.
func (c *Cache) Get(queryText, operationName string) (*ast.Operation, error) {
	key := cacheKey(queryText, operationName)
	if v, ok := c.entries.Get(key); ok {
		return v.(*ast.Operation), nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, ok := c.entries.Get(key); ok {
			return v.(*ast.Operation), nil
		}
		doc, gqlErr := parser.ParseQuery(&gqlast.Source{Input: queryText, Name: "request"})
		if gqlErr != nil {
			return nil, gqlErr
		}
		op, err := FromQueryDocument(doc, operationName, c.state)
		if err != nil {
			return nil, err
		}
		c.entries.Add(key, op)
		return op, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ast.Operation), nil
}

func cacheKey(queryText, operationName string) string {
	h := sha256.Sum256([]byte(operationName + "\x00" + queryText))
	return hex.EncodeToString(h[:])
}
