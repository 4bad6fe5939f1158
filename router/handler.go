package router

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/latticeflow/fedrouter/ast"
	"github.com/latticeflow/fedrouter/authz"
	"github.com/latticeflow/fedrouter/execctx"
	"github.com/latticeflow/fedrouter/execute"
	"github.com/latticeflow/fedrouter/graphqlerr"
	"github.com/latticeflow/fedrouter/transport"
)

// httpRequestBody is the standard GraphQL-over-HTTP wire shape spec.md
// §6 names: a raw query or a persisted-document id, never both required
// at once.
type httpRequestBody struct {
	Query         string                 `json:"query"`
	DocumentID    string                 `json:"documentId"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
	Extensions    map[string]interface{} `json:"extensions"`
}

// ServeHTTP implements the query/mutation path: normalize -> authorize
// -> plan -> execute -> project. Subscriptions are rejected here; they
// are only ever served over ServeWS's graphql-transport-ws connection,
// matching the teacher's own split between http.go and server.go.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "request must be a POST", http.StatusBadRequest)
		return
	}

	var body httpRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	envelope, headers := rt.handle(r.Context(), body, r.Header)
	for k, vs := range headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(envelope)
}

// handle runs one request to completion and returns the wire envelope
// plus any response headers execution collected along the way. It never
// returns an HTTP-level error: every failure from here down is a
// client, fatal GraphQL error per spec.md §7's taxonomy, surfaced as an
// error in the envelope with HTTP 200.
func (rt *Router) handle(ctx context.Context, body httpRequestBody, reqHeaders http.Header) (graphqlerr.Envelope, http.Header) {
	queryText, persistedErr := rt.resolveQuery(ctx, body)
	if persistedErr != nil {
		return fatalEnvelope(persistedErr), nil
	}

	prep, prepErr := rt.prepare(ctx, queryText, body.OperationName, body.Variables)
	if prepErr != nil {
		return fatalEnvelope(prepErr), nil
	}
	if prep.Plan == nil {
		return graphqlerr.Envelope{Data: nil, Errors: prep.AuthzErrors.ToEnvelopeErrors()}, nil
	}
	if prep.Plan.RootOperationKind == ast.OperationSubscription {
		return fatalEnvelope(graphqlerr.ServiceUnavailable("subscriptions must be issued over the websocket endpoint")), nil
	}

	execCtx := ctx
	if rt.Config.QueryPlanner.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, rt.Config.QueryPlanner.Timeout)
		defer cancel()
	}

	ectx := execctx.New()
	if body.DocumentID != "" {
		ectx.AggregateHeaders(http.Header{transport.PersistedDocumentHashHeader: []string{body.DocumentID}})
	}

	if err := rt.Executor.Execute(execCtx, ectx, prep.Plan, body.Variables); err != nil {
		return fatalEnvelope(graphqlerr.ServiceUnavailable(err.Error())), ectx.Headers()
	}

	allErrs := append(graphqlerr.List{}, prep.AuthzErrors...)
	allErrs = append(allErrs, ectx.Errors()...)
	return execute.BuildEnvelope(ectx.Root(), prep.Op.Selections, body.Variables, rt.State, allErrs), ectx.Headers()
}

// resolveQuery implements spec.md §6's persisted-document resolution:
// documentId takes precedence when present, a bare query is accepted
// unless the deployment requires persisted documents, and a request
// with neither is PERSISTED_DOCUMENT_KEY_NOT_FOUND.
func (rt *Router) resolveQuery(ctx context.Context, body httpRequestBody) (string, *graphqlerr.Error) {
	if body.DocumentID != "" {
		if rt.PersistedDocs == nil {
			return "", graphqlerr.FailedToFetchFromCDN("no persisted document resolver configured")
		}
		query, err := rt.PersistedDocs.Resolve(ctx, body.DocumentID)
		if err != nil {
			return "", graphqlerr.PersistedDocumentNotFound(body.DocumentID)
		}
		return query, nil
	}
	if body.Query == "" {
		return "", graphqlerr.PersistedDocumentKeyNotFound()
	}
	if rt.Config.PersistedDocs.Required {
		return "", graphqlerr.PersistedDocumentRequired()
	}
	return body.Query, nil
}

// userAuthContext builds the caller's authz.UserAuthContext from
// whatever principal a host's JWT middleware attached to ctx. With
// jwt.enabled = false (or no middleware at all) every caller is
// unauthenticated with no scopes, matching Default()'s reject-by-default
// posture for @authenticated/@requiresScopes fields.
func (rt *Router) userAuthContext(ctx context.Context) authz.UserAuthContext {
	p := principalFromContext(ctx)
	return rt.AuthzMeta.NewUserAuthContext(p.authenticated, p.scopes)
}

func fatalEnvelope(err *graphqlerr.Error) graphqlerr.Envelope {
	return graphqlerr.Envelope{Data: nil, Errors: graphqlerr.List{err}.ToEnvelopeErrors()}
}

func stringPathToInterface(path []string) []interface{} {
	out := make([]interface{}, len(path))
	for i, p := range path {
		out[i] = p
	}
	return out
}
