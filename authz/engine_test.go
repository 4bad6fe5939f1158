package authz_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticeflow/fedrouter/ast"
	"github.com/latticeflow/fedrouter/authz"
	"github.com/latticeflow/fedrouter/supergraph"
)

func buildTestState(t *testing.T) *supergraph.State {
	t.Helper()
	state := supergraph.NewState()
	state.QueryTypeName = "Query"
	state.PutType(&supergraph.Type{
		Name: "Query",
		Kind: supergraph.KindObject,
		Fields: map[string]*supergraph.Field{
			"secret": {
				Name:      "secret",
				Type:      supergraph.TypeRef{NamedType: "String"},
				Subgraphs: []string{"main"},
				Auth: supergraph.AuthDirectives{
					RequiresScopes: [][]string{{"admin"}},
				},
			},
			"public": {
				Name:      "public",
				Type:      supergraph.TypeRef{NamedType: "String"},
				Subgraphs: []string{"main"},
			},
		},
	})
	state.PutType(&supergraph.Type{Name: "String", Kind: supergraph.KindScalar})
	require.NoError(t, state.Finalize())
	return state
}

func mustEngine(t *testing.T, state *supergraph.State) *authz.Engine {
	t.Helper()
	meta, err := authz.BuildMetadata(state)
	require.NoError(t, err)
	return authz.NewEngine(meta)
}

func queryOp(sels ast.SelectionSet) *ast.Operation {
	return &ast.Operation{Kind: ast.OperationQuery, RootTypeName: "Query", Selections: sels}
}

// Scenario 3: authorization skip mode -- caller with no scopes querying
// { secret public } against a schema where Query.secret requires the
// "admin" scope. Expected: Modified, new operation { public }, one error
// at path ["secret"].
func TestRewriteSkipModeDropsUnauthorizedField(t *testing.T) {
	state := buildTestState(t)
	engine := mustEngine(t, state)

	op := queryOp(ast.SelectionSet{
		{Field: &ast.Field{Name: "secret"}},
		{Field: &ast.Field{Name: "public"}},
	})

	meta, err := authz.BuildMetadata(state)
	require.NoError(t, err)
	user := meta.NewUserAuthContext(true, nil)

	decision, err := engine.Rewrite(op, nil, user, authz.ModeSkip, state)
	require.NoError(t, err)

	require.Equal(t, authz.DecisionModified, decision.Kind)
	require.Len(t, decision.Errors, 1)
	assert.Equal(t, []string{"secret"}, decision.Errors[0].Path)

	require.NotNil(t, decision.NewOperation)
	require.Len(t, decision.NewOperation.Selections, 1)
	assert.Equal(t, "public", decision.NewOperation.Selections[0].Field.Name)
}

func TestRewriteRejectModeReturnsNoOperation(t *testing.T) {
	state := buildTestState(t)
	engine := mustEngine(t, state)
	meta, err := authz.BuildMetadata(state)
	require.NoError(t, err)
	user := meta.NewUserAuthContext(false, nil)

	op := queryOp(ast.SelectionSet{{Field: &ast.Field{Name: "secret"}}})

	decision, err := engine.Rewrite(op, nil, user, authz.ModeReject, state)
	require.NoError(t, err)
	assert.Equal(t, authz.DecisionReject, decision.Kind)
	assert.Nil(t, decision.NewOperation)
	require.Len(t, decision.Errors, 1)
}

func TestRewriteAuthorizedCallerPassesThrough(t *testing.T) {
	state := buildTestState(t)
	engine := mustEngine(t, state)
	meta, err := authz.BuildMetadata(state)
	require.NoError(t, err)
	user := meta.NewUserAuthContext(true, []string{"admin"})

	op := queryOp(ast.SelectionSet{
		{Field: &ast.Field{Name: "secret"}},
		{Field: &ast.Field{Name: "public"}},
	})

	decision, err := engine.Rewrite(op, nil, user, authz.ModeSkip, state)
	require.NoError(t, err)
	assert.Equal(t, authz.DecisionNoChange, decision.Kind)
	assert.Nil(t, decision.NewOperation)
	assert.Empty(t, decision.Errors)
}

func TestUnknownScopesAreDropped(t *testing.T) {
	state := buildTestState(t)
	meta, err := authz.BuildMetadata(state)
	require.NoError(t, err)

	// "admin" is the only scope the schema knows about; "bogus" is unknown
	// and must not satisfy any rule.
	user := meta.NewUserAuthContext(true, []string{"bogus"})
	engine := authz.NewEngine(meta)

	op := queryOp(ast.SelectionSet{{Field: &ast.Field{Name: "secret"}}})
	decision, err := engine.Rewrite(op, nil, user, authz.ModeReject, state)
	require.NoError(t, err)
	assert.Equal(t, authz.DecisionReject, decision.Kind)
}
