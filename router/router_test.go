package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticeflow/fedrouter/authz"
	"github.com/latticeflow/fedrouter/logger"
	"github.com/latticeflow/fedrouter/router"
	"github.com/latticeflow/fedrouter/routerconfig"
	"github.com/latticeflow/fedrouter/supergraph"
	"github.com/latticeflow/fedrouter/transport"
)

// fakeClient answers Execute from a fixed per-subgraph JSON body table,
// matching execute/executor_test.go's fakeClient in spirit but kept
// local to router_test since it is unexported in that package.
type fakeClient struct {
	responses map[string]string
}

func (f *fakeClient) Execute(ctx context.Context, subgraph string, req transport.Request) (transport.Response, error) {
	body, ok := f.responses[subgraph]
	if !ok {
		return transport.Response{}, fmt.Errorf("fakeClient: no response for %q", subgraph)
	}
	return transport.Response{Body: []byte(body), Headers: http.Header{}}, nil
}

func (f *fakeClient) Subscribe(ctx context.Context, subgraph string, req transport.Request) (transport.EventStream, error) {
	return nil, fmt.Errorf("fakeClient: Subscribe not implemented")
}

func helloWorldState(t *testing.T) *supergraph.State {
	t.Helper()
	state := supergraph.NewState()
	state.QueryTypeName = "Query"
	state.PutType(&supergraph.Type{
		Name: "Query",
		Kind: supergraph.KindObject,
		Fields: map[string]*supergraph.Field{
			"hello": {
				Name:      "hello",
				Type:      supergraph.TypeRef{NamedType: "String"},
				Subgraphs: []string{"main"},
			},
			"secret": {
				Name:      "secret",
				Type:      supergraph.TypeRef{NamedType: "String"},
				Subgraphs: []string{"main"},
				Auth:      supergraph.AuthDirectives{RequiresScopes: [][]string{{"admin"}}},
			},
		},
	})
	state.PutType(&supergraph.Type{Name: "String", Kind: supergraph.KindScalar})
	return state
}

func newTestRouter(t *testing.T, configure func(*routerconfig.Config)) *router.Router {
	t.Helper()
	state := helloWorldState(t)
	client := &fakeClient{responses: map[string]string{"main": `{"data":{"hello":"world"}}`}}

	cfg := routerconfig.Default()
	if configure != nil {
		configure(&cfg)
	}

	rt, err := router.New(cfg, state, client, nil, logger.NewWriter(discard{}))
	require.NoError(t, err)
	return rt
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func postJSON(t *testing.T, rt *router.Router, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestServeHTTPExecutesSimpleQuery(t *testing.T) {
	rt := newTestRouter(t, nil)

	rec, decoded := postJSON(t, rt, `{"query":"{ hello }"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	data, ok := decoded["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "world", data["hello"])
	assert.Nil(t, decoded["errors"])
}

func TestServeHTTPRejectsMalformedJSON(t *testing.T) {
	rt := newTestRouter(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewBufferString(`{not json`))
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeHTTPPersistedDocumentRequiredRejectsRawQuery(t *testing.T) {
	rt := newTestRouter(t, func(cfg *routerconfig.Config) {
		cfg.PersistedDocs.Required = true
	})

	rec, decoded := postJSON(t, rt, `{"query":"{ hello }"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	errs, ok := decoded["errors"].([]interface{})
	require.True(t, ok)
	require.Len(t, errs, 1)
	errEntry := errs[0].(map[string]interface{})
	ext := errEntry["extensions"].(map[string]interface{})
	assert.Equal(t, "PERSISTED_DOCUMENT_REQUIRED", ext["code"])
}

func TestServeHTTPUnauthorizedFieldRejectedInRejectMode(t *testing.T) {
	rt := newTestRouter(t, func(cfg *routerconfig.Config) {
		cfg.Authentication.Directives.Enabled = true
		cfg.Authentication.Directives.Unauthorized.Mode = string(authz.ModeReject)
	})

	rec, decoded := postJSON(t, rt, `{"query":"{ secret }"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Nil(t, decoded["data"])
	errs, ok := decoded["errors"].([]interface{})
	require.True(t, ok)
	require.Len(t, errs, 1)
	errEntry := errs[0].(map[string]interface{})
	ext := errEntry["extensions"].(map[string]interface{})
	assert.Equal(t, "UNAUTHORIZED_FIELD_OR_TYPE", ext["code"])
}

func TestServeHTTPUnauthorizedFieldSkippedInSkipMode(t *testing.T) {
	rt := newTestRouter(t, func(cfg *routerconfig.Config) {
		cfg.Authentication.Directives.Enabled = true
		cfg.Authentication.Directives.Unauthorized.Mode = string(authz.ModeSkip)
	})

	rec, decoded := postJSON(t, rt, `{"query":"{ hello secret }"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	data, ok := decoded["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "world", data["hello"])
	assert.Nil(t, data["secret"])

	errs, ok := decoded["errors"].([]interface{})
	require.True(t, ok)
	require.Len(t, errs, 1)
}
