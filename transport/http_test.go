package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientExecutePostsQueryAndForwardsHeaders(t *testing.T) {
	var gotBody wireRequest
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &gotBody))
		w.Header().Set("X-Reply", "yes")
		w.Write([]byte(`{"data":{"ok":true}}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(map[string]string{"products": srv.URL})
	resp, err := client.Execute(context.Background(), "products", Request{
		Query:         "query Fetch_products { ok }",
		OperationName: "Fetch_products",
		Variables:     map[string]interface{}{"id": "1"},
		Headers:       http.Header{"Authorization": []string{"Bearer xyz"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer xyz", gotAuth)
	assert.Equal(t, "Fetch_products", gotBody.OperationName)
	assert.Equal(t, "1", gotBody.Variables["id"])
	assert.JSONEq(t, `{"data":{"ok":true}}`, string(resp.Body))
	assert.Equal(t, "yes", resp.Headers.Get("X-Reply"))
}

func TestHTTPClientExecuteFoldsRepresentationsIntoVariables(t *testing.T) {
	var gotBody wireRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotBody))
		w.Write([]byte(`{"data":{"_entities":[]}}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(map[string]string{"inventory": srv.URL})
	_, err := client.Execute(context.Background(), "inventory", Request{
		Query:           "query EntityFetch($representations: [_Any!]!) { _entities(representations: $representations) { __typename } }",
		Representations: []interface{}{map[string]interface{}{"__typename": "Product", "upc": "1"}},
	})
	require.NoError(t, err)

	reprs, ok := gotBody.Variables["representations"].([]interface{})
	require.True(t, ok)
	require.Len(t, reprs, 1)
}

func TestHTTPClientExecuteUnknownSubgraphErrors(t *testing.T) {
	client := NewHTTPClient(map[string]string{})
	_, err := client.Execute(context.Background(), "missing", Request{Query: "{ ok }"})
	assert.Error(t, err)
}
