package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticeflow/fedrouter/ast"
	"github.com/latticeflow/fedrouter/planquery"
	"github.com/latticeflow/fedrouter/supergraph"
)

// buildReviewsState composes a small three-subgraph supergraph modeled
// on the classic products/reviews/inventory federation example: Product
// is an entity keyed by upc, owned by "products", with a "reviews"
// subgraph field requiring no extra data and an "inventory" subgraph
// field requiring "price" to compute a shipping estimate.
func buildReviewsState(t *testing.T) *supergraph.State {
	t.Helper()
	state := supergraph.NewState()
	state.QueryTypeName = "Query"

	product := &supergraph.Type{
		Name: "Product",
		Kind: supergraph.KindObject,
		Keys: map[string][]supergraph.KeySelection{
			"products": {{Name: "upc"}},
		},
		Fields: map[string]*supergraph.Field{
			"upc": {
				Name:      "upc",
				Type:      supergraph.TypeRef{NamedType: "String", NonNull: true},
				Subgraphs: []string{"products"},
			},
			"price": {
				Name:      "price",
				Type:      supergraph.TypeRef{NamedType: "Int"},
				Subgraphs: []string{"products"},
			},
			"name": {
				Name:      "name",
				Type:      supergraph.TypeRef{NamedType: "String"},
				Subgraphs: []string{"products"},
			},
			"reviews": {
				Name:      "reviews",
				Type:      supergraph.TypeRef{ListOf: &supergraph.TypeRef{NamedType: "Review"}},
				Subgraphs: []string{"reviews"},
			},
			"shippingEstimate": {
				Name:      "shippingEstimate",
				Type:      supergraph.TypeRef{NamedType: "Int"},
				Subgraphs: []string{"inventory"},
				Requires:  []supergraph.KeySelection{{Name: "price"}},
			},
		},
	}
	review := &supergraph.Type{
		Name: "Review",
		Kind: supergraph.KindObject,
		Fields: map[string]*supergraph.Field{
			"body": {Name: "body", Type: supergraph.TypeRef{NamedType: "String"}, Subgraphs: []string{"reviews"}},
		},
	}
	query := &supergraph.Type{
		Name: "Query",
		Kind: supergraph.KindObject,
		Fields: map[string]*supergraph.Field{
			"topProduct": {
				Name:      "topProduct",
				Type:      supergraph.TypeRef{NamedType: "Product"},
				Subgraphs: []string{"products"},
			},
		},
	}
	state.PutType(product)
	state.PutType(review)
	state.PutType(query)
	require.NoError(t, state.Finalize())
	return state
}

func varDefsNone() []ast.VariableDefinition { return nil }

func TestPlanSimpleRequiresChainSchedulesEntityHop(t *testing.T) {
	state := buildReviewsState(t)
	p := New(state)

	op := &ast.Operation{
		Kind:         ast.OperationQuery,
		RootTypeName: "Query",
		Selections: ast.SelectionSet{
			{Field: &ast.Field{
				Name: "topProduct",
				Selections: ast.SelectionSet{
					{Field: &ast.Field{Name: "name"}},
					{Field: &ast.Field{Name: "shippingEstimate"}},
				},
			}},
		},
	}

	plan, err := p.Plan(op)
	require.NoError(t, err)
	require.NotNil(t, plan.Root)

	// A single root subgraph group that also has a dependent wave plans
	// as Sequence(fetch, wave): the products fetch, then the inventory
	// entity hop that depends on its output.
	require.Equal(t, planquery.KindSequence, plan.Root.Kind)
	require.Len(t, plan.Root.Sequence.Children, 2)
	rootFetch := plan.Root.Sequence.Children[0]
	require.Equal(t, planquery.KindFetch, rootFetch.Kind)

	// The root fetch goes to "products" (owns topProduct); it must carry
	// "price" in its local selection even though the client never asked
	// for it, since inventory's shippingEstimate requires it.
	assert.Equal(t, "products", rootFetch.Fetch.Subgraph)
	assert.Contains(t, rootFetch.Fetch.OperationDocument, "price")
	assert.Contains(t, rootFetch.Fetch.OperationDocument, "name")

	// The sibling wave resolving shippingEstimate must execute after the
	// products fetch, as a Flatten over an inventory entity fetch.
	entityDoc := findEntityFetchDoc(t, plan.Root, "inventory")
	assert.Contains(t, entityDoc, "_entities")
	assert.Contains(t, entityDoc, "shippingEstimate")
}

// findEntityFetchDoc walks the plan tree for a Flatten wrapping a Fetch
// to the named subgraph and returns its operation document.
func findEntityFetchDoc(t *testing.T, n *planquery.Node, subgraph string) string {
	t.Helper()
	var found string
	var walk func(*planquery.Node)
	walk = func(n *planquery.Node) {
		if n == nil || found != "" {
			return
		}
		switch n.Kind {
		case planquery.KindFetch:
			if n.Fetch.Subgraph == subgraph {
				found = n.Fetch.OperationDocument
			}
		case planquery.KindFlatten:
			walk(n.Flatten.Inner)
		case planquery.KindSequence:
			for _, c := range n.Sequence.Children {
				walk(c)
			}
		case planquery.KindParallel:
			for _, c := range n.Parallel.Children {
				walk(c)
			}
		case planquery.KindCondition:
			walk(n.Condition.Then)
			walk(n.Condition.Else)
		}
	}
	walk(n)
	require.NotEmpty(t, found, "no fetch to subgraph %q found in plan", subgraph)
	return found
}

// buildInterfaceState models a Node interface implemented by two object
// types, User and Bot, both resolvable only from "accounts", where the
// "displayName" field has a mismatched nullable/non-null shape between
// the two concrete types, forcing the rule-6 alias rewrite.
func buildInterfaceState(t *testing.T) *supergraph.State {
	t.Helper()
	state := supergraph.NewState()
	state.QueryTypeName = "Query"

	node := &supergraph.Type{
		Name:            "Node",
		Kind:            supergraph.KindInterface,
		Implementations: nil,
	}
	user := &supergraph.Type{
		Name:       "User",
		Kind:       supergraph.KindObject,
		Interfaces: []string{"Node"},
		Fields: map[string]*supergraph.Field{
			"displayName": {
				Name:      "displayName",
				Type:      supergraph.TypeRef{NamedType: "String", NonNull: true},
				Subgraphs: []string{"accounts"},
			},
		},
	}
	bot := &supergraph.Type{
		Name:       "Bot",
		Kind:       supergraph.KindObject,
		Interfaces: []string{"Node"},
		Fields: map[string]*supergraph.Field{
			"displayName": {
				Name:      "displayName",
				Type:      supergraph.TypeRef{NamedType: "String"},
				Subgraphs: []string{"accounts"},
			},
		},
	}
	query := &supergraph.Type{
		Name: "Query",
		Kind: supergraph.KindObject,
		Fields: map[string]*supergraph.Field{
			"node": {
				Name:      "node",
				Type:      supergraph.TypeRef{NamedType: "Node"},
				Subgraphs: []string{"accounts"},
			},
		},
	}
	state.PutType(node)
	state.PutType(user)
	state.PutType(bot)
	state.PutType(query)
	require.NoError(t, state.Finalize())
	return state
}

func TestPlanAliasesMismatchedFieldShapeAcrossInlineFragments(t *testing.T) {
	state := buildInterfaceState(t)
	p := New(state)

	op := &ast.Operation{
		Kind:         ast.OperationQuery,
		RootTypeName: "Query",
		Selections: ast.SelectionSet{
			{Field: &ast.Field{
				Name: "node",
				Selections: ast.SelectionSet{
					{InlineFragment: &ast.InlineFragment{
						TypeCondition: "User",
						Selections:    ast.SelectionSet{{Field: &ast.Field{Name: "displayName"}}},
					}},
					{InlineFragment: &ast.InlineFragment{
						TypeCondition: "Bot",
						Selections:    ast.SelectionSet{{Field: &ast.Field{Name: "displayName"}}},
					}},
				},
			}},
		},
	}

	plan, err := p.Plan(op)
	require.NoError(t, err)
	require.Equal(t, planquery.KindFetch, plan.Root.Kind)

	rewrites := plan.Root.Fetch.OutputRewrites
	require.Len(t, rewrites, 1)
	assert.Equal(t, planquery.RewriteRenameKey, rewrites[0].Kind)
	assert.Equal(t, []string{"Bot"}, rewrites[0].Guard)
	assert.Equal(t, "displayName", rewrites[0].ToKey)
	assert.Contains(t, rewrites[0].FromKey, internalAliasPrefix)

	// The printed document must alias the Bot-side selection and leave
	// the User-side selection under its original key.
	doc := plan.Root.Fetch.OperationDocument
	assert.Contains(t, doc, rewrites[0].FromKey+": displayName")
}

// buildParallelState models two fields on Query owned by entirely
// independent subgraphs with no requires relationship, so the resulting
// plan's two fetches must run in a Parallel node, not a Sequence.
func buildParallelState(t *testing.T) *supergraph.State {
	t.Helper()
	state := supergraph.NewState()
	state.QueryTypeName = "Query"

	query := &supergraph.Type{
		Name: "Query",
		Kind: supergraph.KindObject,
		Fields: map[string]*supergraph.Field{
			"weather": {
				Name:      "weather",
				Type:      supergraph.TypeRef{NamedType: "String"},
				Subgraphs: []string{"weather"},
			},
			"news": {
				Name:      "news",
				Type:      supergraph.TypeRef{NamedType: "String"},
				Subgraphs: []string{"news"},
			},
		},
	}
	state.PutType(query)
	require.NoError(t, state.Finalize())
	return state
}

func TestPlanIndependentSubgraphFieldsRunInParallel(t *testing.T) {
	state := buildParallelState(t)
	p := New(state)

	op := &ast.Operation{
		Kind:         ast.OperationQuery,
		RootTypeName: "Query",
		Selections: ast.SelectionSet{
			{Field: &ast.Field{Name: "weather"}},
			{Field: &ast.Field{Name: "news"}},
		},
	}

	plan, err := p.Plan(op)
	require.NoError(t, err)
	require.Equal(t, planquery.KindParallel, plan.Root.Kind)
	require.Len(t, plan.Root.Parallel.Children, 2)

	subgraphs := map[string]bool{}
	for _, c := range plan.Root.Parallel.Children {
		require.Equal(t, planquery.KindFetch, c.Kind)
		subgraphs[c.Fetch.Subgraph] = true
	}
	assert.True(t, subgraphs["weather"])
	assert.True(t, subgraphs["news"])
}

func TestPlanMutationAcrossMultipleSubgraphsErrors(t *testing.T) {
	state := buildParallelState(t)
	p := New(state)

	op := &ast.Operation{
		Kind:         ast.OperationMutation,
		RootTypeName: "Query",
		Selections: ast.SelectionSet{
			{Field: &ast.Field{Name: "weather"}},
			{Field: &ast.Field{Name: "news"}},
		},
	}

	_, err := p.Plan(op)
	require.Error(t, err)
	var perr *PlanningError
	require.ErrorAs(t, err, &perr)
}
