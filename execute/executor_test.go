package execute

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticeflow/fedrouter/ast"
	"github.com/latticeflow/fedrouter/execctx"
	"github.com/latticeflow/fedrouter/logger"
	"github.com/latticeflow/fedrouter/planquery"
	"github.com/latticeflow/fedrouter/respval"
	"github.com/latticeflow/fedrouter/supergraph"
	"github.com/latticeflow/fedrouter/transport"
)

// fakeClient answers Execute by subgraph name from a fixed response
// table, optionally delaying and always counting calls per subgraph --
// enough to assert both merge correctness and dedup/parallelism
// behavior without a real network.
type fakeClient struct {
	responses map[string]string // subgraph -> raw JSON body
	delay     map[string]time.Duration
	calls     map[string]*int32
}

func newFakeClient() *fakeClient {
	return &fakeClient{responses: map[string]string{}, delay: map[string]time.Duration{}, calls: map[string]*int32{}}
}

func (f *fakeClient) set(subgraph, body string) { f.responses[subgraph] = body }

func (f *fakeClient) callCount(subgraph string) int32 {
	c, ok := f.calls[subgraph]
	if !ok {
		return 0
	}
	return atomic.LoadInt32(c)
}

func (f *fakeClient) Execute(ctx context.Context, subgraph string, req transport.Request) (transport.Response, error) {
	c, ok := f.calls[subgraph]
	if !ok {
		var z int32
		c = &z
		f.calls[subgraph] = c
	}
	atomic.AddInt32(c, 1)

	if d, ok := f.delay[subgraph]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return transport.Response{}, ctx.Err()
		}
	}
	body, ok := f.responses[subgraph]
	if !ok {
		return transport.Response{}, fmt.Errorf("fakeClient: no response registered for %q", subgraph)
	}
	return transport.Response{Body: []byte(body), Headers: http.Header{}}, nil
}

func (f *fakeClient) Subscribe(ctx context.Context, subgraph string, req transport.Request) (transport.EventStream, error) {
	return nil, fmt.Errorf("fakeClient: Subscribe not implemented")
}

func TestRunRootFetchMergesDataIntoResponseTree(t *testing.T) {
	client := newFakeClient()
	client.set("products", `{"data":{"topProducts":[{"upc":"1","name":"Table"}]}}`)

	exec := New(client, supergraph.NewState(), logger.NewWriter(nopWriter{}))
	ectx := execctx.New()

	plan := &planquery.Plan{
		RootOperationKind: ast.OperationQuery,
		Root: planquery.NewFetch(&planquery.FetchNode{
			Subgraph:          "products",
			OperationDocument: "query Fetch_products { topProducts { upc name } }",
			OperationName:     "Fetch_products",
		}),
	}

	require.NoError(t, exec.Execute(context.Background(), ectx, plan, nil))
	assert.Empty(t, ectx.Errors())

	root, ok := ectx.Root().(*respval.Object)
	require.True(t, ok)
	v, ok := root.Get("topProducts")
	require.True(t, ok)
	arr, ok := v.(*respval.Array)
	require.True(t, ok)
	require.Len(t, arr.Items, 1)
	item := arr.Items[0].(*respval.Object)
	name, _ := item.Get("name")
	assert.Equal(t, "Table", name)
}

func TestRunFlattenDedupesSharedRepresentationsIntoOneFetch(t *testing.T) {
	client := newFakeClient()
	client.set("products", `{"data":{"topProducts":[{"__typename":"Product","upc":"1","price":10.0},{"__typename":"Product","upc":"1","price":10.0},{"__typename":"Product","upc":"2","price":20.0}]}}`)
	client.set("inventory", `{"data":{"_entities":[{"shippingEstimate":1.5},{"shippingEstimate":3.0}]}}`)

	exec := New(client, supergraph.NewState(), logger.NewWriter(nopWriter{}))
	ectx := execctx.New()

	rootFetch := planquery.NewFetch(&planquery.FetchNode{
		Subgraph:          "products",
		OperationDocument: "query Fetch_products { topProducts { upc price } }",
		OperationName:     "Fetch_products",
	})

	requires := ast.SelectionSet{
		{Field: &ast.Field{Name: "__typename"}},
		{Field: &ast.Field{Name: "upc"}},
		{Field: &ast.Field{Name: "price"}},
	}
	entityFetch := planquery.NewFetch(&planquery.FetchNode{
		Subgraph:          "inventory",
		OperationDocument: "query EntityFetch($representations: [_Any!]!) { _entities(representations: $representations) { ... on Product { shippingEstimate } } }",
		OperationName:     "EntityFetch",
		VariableUsages:    []planquery.VariableUsage{{Name: "representations"}},
		Requires:          requires,
		IsEntityFetch:     true,
	})
	flatten := planquery.NewFlatten(&planquery.FlattenNode{
		Path: planquery.FlattenPath{
			{Kind: planquery.SegmentField, FieldName: "topProducts"},
			{Kind: planquery.SegmentIndex},
		},
		Inner: entityFetch,
	})

	plan := &planquery.Plan{
		RootOperationKind: ast.OperationQuery,
		Root:              planquery.NewSequence(rootFetch, flatten),
	}

	require.NoError(t, exec.Execute(context.Background(), ectx, plan, nil))
	assert.Empty(t, ectx.Errors())
	assert.Equal(t, int32(1), client.callCount("inventory"), "two positions share one representation, so only one entity fetch should fire")

	root := ectx.Root().(*respval.Object)
	tp, _ := root.Get("topProducts")
	arr := tp.(*respval.Array)
	require.Len(t, arr.Items, 3)

	for _, idx := range []int{0, 1} {
		obj := arr.Items[idx].(*respval.Object)
		est, ok := obj.Get("shippingEstimate")
		require.True(t, ok)
		assert.Equal(t, 1.5, est)
	}
	obj2 := arr.Items[2].(*respval.Object)
	est2, ok := obj2.Get("shippingEstimate")
	require.True(t, ok)
	assert.Equal(t, 3.0, est2)
}

func TestRunParallelWallClockIsMaxNotSumOfBranchDelays(t *testing.T) {
	client := newFakeClient()
	client.set("weather", `{"data":{"weather":{"tempC":21}}}`)
	client.set("news", `{"data":{"news":{"headline":"hi"}}}`)
	client.delay["weather"] = 50 * time.Millisecond
	client.delay["news"] = 50 * time.Millisecond

	exec := New(client, supergraph.NewState(), logger.NewWriter(nopWriter{}))
	ectx := execctx.New()

	plan := &planquery.Plan{
		RootOperationKind: ast.OperationQuery,
		Root: planquery.NewParallel(
			planquery.NewFetch(&planquery.FetchNode{Subgraph: "weather", OperationDocument: "query Fetch_weather { weather { tempC } }", OperationName: "Fetch_weather"}),
			planquery.NewFetch(&planquery.FetchNode{Subgraph: "news", OperationDocument: "query Fetch_news { news { headline } }", OperationName: "Fetch_news"}),
		),
	}

	start := time.Now()
	require.NoError(t, exec.Execute(context.Background(), ectx, plan, nil))
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 90*time.Millisecond, "two 50ms branches run in parallel should take ~50ms, not ~100ms")

	root := ectx.Root().(*respval.Object)
	_, ok := root.Get("weather")
	assert.True(t, ok)
	_, ok = root.Get("news")
	assert.True(t, ok)
}

func TestRunConditionPicksBranchFromVariable(t *testing.T) {
	client := newFakeClient()
	client.set("a", `{"data":{"onlyIfTrue":true}}`)

	exec := New(client, supergraph.NewState(), logger.NewWriter(nopWriter{}))
	ectx := execctx.New()

	plan := &planquery.Plan{
		RootOperationKind: ast.OperationQuery,
		Root: planquery.NewCondition(&planquery.ConditionNode{
			VariableName: "withExtra",
			Then: planquery.NewFetch(&planquery.FetchNode{
				Subgraph: "a", OperationDocument: "query Fetch_a { onlyIfTrue }", OperationName: "Fetch_a",
			}),
			Else: nil,
		}),
	}

	require.NoError(t, exec.Execute(context.Background(), ectx, plan, map[string]interface{}{"withExtra": false}))
	assert.Nil(t, ectx.Root())

	ectx2 := execctx.New()
	require.NoError(t, exec.Execute(context.Background(), ectx2, plan, map[string]interface{}{"withExtra": true}))
	root := ectx2.Root().(*respval.Object)
	v, ok := root.Get("onlyIfTrue")
	require.True(t, ok)
	assert.Equal(t, true, v)
}

func TestProjectAppliesAliasAndSkipDirective(t *testing.T) {
	state := supergraph.NewState()
	root := respval.NewObject()
	root.Set("productName", "Widget")
	root.Set("price", 9.99)

	sel := ast.SelectionSet{
		{Field: &ast.Field{Name: "name", Alias: "productName"}},
		{Field: &ast.Field{Name: "price", SkipIf: "hidePrice"}},
	}

	projected := Project(root, sel, map[string]interface{}{"hidePrice": true}, state)
	obj := projected.(*respval.Object)

	v, ok := obj.Get("productName")
	require.True(t, ok)
	assert.Equal(t, "Widget", v)

	_, ok = obj.Get("price")
	assert.False(t, ok, "price should be skipped, not merely nulled")
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
