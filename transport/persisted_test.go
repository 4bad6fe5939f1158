package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCDNPersistedDocumentResolverCachesFetches(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("query { ok }"))
	}))
	defer srv.Close()

	r := NewCDNPersistedDocumentResolver(srv.URL, 16)

	query, err := r.Resolve(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "query { ok }", query)

	_, err = r.Resolve(context.Background(), "abc123")
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits), "second resolve should hit the cache, not the CDN")
}

func TestCDNPersistedDocumentResolverNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := NewCDNPersistedDocumentResolver(srv.URL, 16)
	_, err := r.Resolve(context.Background(), "missing")
	assert.Error(t, err)
}
