package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient is the default SubgraphClient: one shared *http.Client
// dispatches every Execute as a single POST carrying
// {query, operationName, variables}, folding Representations into
// variables["representations"] the way every federation subgraph's
// `_entities` resolver expects them. Subscribe delegates to Subscriber,
// since subscriptions need a persistent connection HTTP POST cannot
// provide.
type HTTPClient struct {
	// Endpoints maps a subgraph name to its HTTP URL.
	Endpoints map[string]string

	HTTP *http.Client

	// Subscriber handles Subscribe calls; nil means this client serves
	// queries and mutations only.
	Subscriber *WebSocketSubscriber
}

var _ SubgraphClient = (*HTTPClient)(nil)

// NewHTTPClient builds an HTTPClient with a sensible request timeout.
func NewHTTPClient(endpoints map[string]string) *HTTPClient {
	return &HTTPClient{
		Endpoints: endpoints,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
	}
}

type wireRequest struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
}

// Execute implements SubgraphClient.
func (c *HTTPClient) Execute(ctx context.Context, subgraph string, req Request) (Response, error) {
	url, ok := c.Endpoints[subgraph]
	if !ok {
		return Response{}, fmt.Errorf("transport: unknown subgraph %q", subgraph)
	}

	variables := req.Variables
	if req.Representations != nil {
		cloned := make(map[string]interface{}, len(variables)+1)
		for k, v := range variables {
			cloned[k] = v
		}
		cloned["representations"] = req.Representations
		variables = cloned
	}

	body, err := json.Marshal(wireRequest{Query: req.Query, OperationName: req.OperationName, Variables: variables})
	if err != nil {
		return Response{}, fmt.Errorf("transport: marshaling request to %q: %w", subgraph, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("transport: building request to %q: %w", subgraph, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("transport: executing request against %q: %w", subgraph, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("transport: reading response from %q: %w", subgraph, err)
	}
	return Response{Body: data, Headers: resp.Header}, nil
}

// Subscribe implements SubgraphClient.
func (c *HTTPClient) Subscribe(ctx context.Context, subgraph string, req Request) (EventStream, error) {
	if c.Subscriber == nil {
		return nil, fmt.Errorf("transport: subgraph %q has no subscription transport configured", subgraph)
	}
	url, ok := c.Endpoints[subgraph]
	if !ok {
		return nil, fmt.Errorf("transport: unknown subgraph %q", subgraph)
	}
	return c.Subscriber.Subscribe(ctx, url, req)
}

func (c *HTTPClient) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}
