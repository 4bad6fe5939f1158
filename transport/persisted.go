package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/99designs/gqlgen/graphql/handler/lru"
	"golang.org/x/sync/singleflight"
)

// CDNPersistedDocumentResolver implements PersistedDocumentResolver by
// fetching "<BaseURL>/<documentID>" over HTTP, the way a persisted-query
// manifest CDN is conventionally addressed. Resolved documents are kept
// in a bounded LRU with single-flight admission, mirroring
// normalize.Cache/planner.Cache's identical construction -- a CDN fetch
// is exactly the kind of cacheable, coalescable lookup those two already
// model.
type CDNPersistedDocumentResolver struct {
	BaseURL string
	HTTP    *http.Client

	cache *lru.Cache
	group singleflight.Group
}

var _ PersistedDocumentResolver = (*CDNPersistedDocumentResolver)(nil)

// NewCDNPersistedDocumentResolver builds a resolver backed by an LRU of
// the given size.
func NewCDNPersistedDocumentResolver(baseURL string, size int) *CDNPersistedDocumentResolver {
	return &CDNPersistedDocumentResolver{
		BaseURL: baseURL,
		HTTP:    &http.Client{},
		cache:   lru.New(size),
	}
}

// Resolve implements PersistedDocumentResolver.
func (r *CDNPersistedDocumentResolver) Resolve(ctx context.Context, documentID string) (string, error) {
	if v, ok := r.cache.Get(documentID); ok {
		return v.(string), nil
	}

	v, err, _ := r.group.Do(documentID, func() (interface{}, error) {
		if v, ok := r.cache.Get(documentID); ok {
			return v.(string), nil
		}
		query, err := r.fetch(ctx, documentID)
		if err != nil {
			return nil, err
		}
		r.cache.Add(documentID, query)
		return query, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *CDNPersistedDocumentResolver) fetch(ctx context.Context, documentID string) (string, error) {
	url := r.BaseURL + "/" + documentID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("transport: building persisted document request for %q: %w", documentID, err)
	}

	resp, err := r.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("transport: fetching persisted document %q: %w", documentID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("transport: persisted document %q not found", documentID)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transport: persisted document CDN returned status %d for %q", resp.StatusCode, documentID)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("transport: reading persisted document %q: %w", documentID, err)
	}
	return string(body), nil
}

func (r *CDNPersistedDocumentResolver) httpClient() *http.Client {
	if r.HTTP != nil {
		return r.HTTP
	}
	return http.DefaultClient
}
