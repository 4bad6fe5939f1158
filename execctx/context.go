// Package execctx defines the per-request Execution Context named in
// SPEC_FULL.md §3: the response tree root, an append-only error list,
// the byte arena raw subgraph bodies are copied into, and a
// response-header aggregator. Output rewrites are not indexed here: each
// planquery.FetchNode carries its own, applied to that fetch's data
// before it is merged. One Context lives for one
// request, or for one subscription event plus its entity-resolution
// pass.
package execctx

import (
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/latticeflow/fedrouter/graphqlerr"
	"github.com/latticeflow/fedrouter/internal/arena"
	"github.com/latticeflow/fedrouter/internal/reqid"
	"github.com/latticeflow/fedrouter/respval"
)

// Context is the mutable state one request's plan execution reads and
// writes. Its fields are guarded by mu since Parallel plan nodes touch
// it from multiple goroutines; callers must go through the accessor
// methods rather than the zero-value fields directly.
type Context struct {
	RequestID string

	mu      sync.Mutex
	root    respval.Value
	errors  graphqlerr.List
	headers http.Header

	Arena *arena.ByteStorage

	// dedupe coalesces concurrent identical Fetches within this one
	// request (e.g. two Parallel branches fetching the same query-typed
	// node from the same subgraph with the same variables). Scoped to a
	// single Context so the coalescing never crosses requests.
	dedupe singleflight.Group
}

// New builds a fresh per-request Context.
func New() *Context {
	return &Context{
		RequestID: reqid.New(),
		headers:   http.Header{},
		Arena:     arena.New(),
	}
}

// Root returns the current response tree root.
func (c *Context) Root() respval.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.root
}

// MergeAtRoot deep-merges v into the response tree root.
func (c *Context) MergeAtRoot(v respval.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.root = respval.Merge(c.root, v)
}

// AddError appends a client-visible error. Order reflects observation
// order, not request order, matching the concurrency model's "errors
// appended under interior mutability" rule.
func (c *Context) AddError(err *graphqlerr.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, err)
}

// Errors returns a snapshot of the accumulated errors.
func (c *Context) Errors() graphqlerr.List {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(graphqlerr.List, len(c.errors))
	copy(out, c.errors)
	return out
}

// AggregateHeaders merges a subgraph response's headers into the
// request-level aggregator (first value wins per header name, matching
// the first-event-snapshot rule used for subscriptions).
func (c *Context) AggregateHeaders(h http.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, vs := range h {
		if _, ok := c.headers[k]; ok {
			continue
		}
		c.headers[k] = append([]string(nil), vs...)
	}
}

// Headers returns the aggregated response headers.
func (c *Context) Headers() http.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headers.Clone()
}

// Dedupe coalesces concurrent calls sharing key into a single call to fn,
// matching §4.4's "dedupe only for queries" rule: callers pass a key
// derived from subgraph+document+variables and only do so for query
// operations, never mutations or subscriptions.
func (c *Context) Dedupe(key string, fn func() (interface{}, error)) (interface{}, error) {
	v, err, _ := c.dedupe.Do(key, fn)
	return v, err
}
