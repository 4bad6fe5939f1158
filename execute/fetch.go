package execute

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/latticeflow/fedrouter/execctx"
	"github.com/latticeflow/fedrouter/graphqlerr"
	"github.com/latticeflow/fedrouter/planquery"
	"github.com/latticeflow/fedrouter/respval"
	"github.com/latticeflow/fedrouter/transport"
)

const introspectionSubgraph = "__introspection"

// doFetch issues one subgraph operation and returns its "data" value,
// the subgraph-reported GraphQL errors (not yet rebound to a response
// path), and a fatal *graphqlerr.Error if the request or its response
// could not be completed at all (transport failure, malformed body).
func (e *Executor) doFetch(ctx context.Context, ectx *execctx.Context, f *planquery.FetchNode, variables map[string]interface{}, representations []interface{}, dedupe bool) (respval.Value, []rawError, *graphqlerr.Error) {
	if f.Subgraph == introspectionSubgraph {
		data, err := e.resolveIntrospection(f)
		if err != nil {
			return nil, nil, graphqlerr.PlanningFailed(err.Error())
		}
		return data, nil, nil
	}

	req := transport.Request{
		Query:           f.OperationDocument,
		OperationName:   f.OperationName,
		Variables:       selectVariables(f.VariableUsages, variables),
		Representations: representations,
		Dedupe:          dedupe,
	}

	if !dedupe {
		return e.doFetchOnce(ctx, ectx, f, req)
	}

	key := dedupeKey(f.Subgraph, req)
	type result struct {
		data respval.Value
		errs []rawError
		err  *graphqlerr.Error
	}
	v, _ := ectx.Dedupe(key, func() (interface{}, error) {
		data, errs, fatal := e.doFetchOnce(ctx, ectx, f, req)
		return result{data: data, errs: errs, err: fatal}, nil
	})
	r := v.(result)
	return r.data, r.errs, r.err
}

func (e *Executor) doFetchOnce(ctx context.Context, ectx *execctx.Context, f *planquery.FetchNode, req transport.Request) (respval.Value, []rawError, *graphqlerr.Error) {
	resp, err := e.Client.Execute(ctx, f.Subgraph, req)
	if err != nil {
		return nil, nil, graphqlerr.SubgraphRequestFailure(f.Subgraph, nil, err.Error())
	}
	ectx.AggregateHeaders(resp.Headers)

	owned := ectx.Arena.Put(resp.Body)
	top, err := respval.FromJSON(owned)
	if err != nil {
		return nil, nil, graphqlerr.SubgraphResponseDeserializationFailed(f.Subgraph, nil, err.Error())
	}
	topObj, ok := top.(*respval.Object)
	if !ok {
		return nil, nil, graphqlerr.SubgraphResponseDeserializationFailed(f.Subgraph, nil, "response is not a JSON object")
	}

	data, _ := topObj.Get("data")
	errs := extractErrors(topObj)
	return data, errs, nil
}

// selectVariables projects the coerced request variables down to the
// subset this fetch's operation document actually references, matching
// §4.4's "variable selection by variable_usages".
func selectVariables(usages []planquery.VariableUsage, variables map[string]interface{}) map[string]interface{} {
	if len(usages) == 0 {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(usages))
	for _, u := range usages {
		if v, ok := variables[u.Name]; ok {
			out[u.Name] = v
		}
	}
	return out
}

func extractErrors(top *respval.Object) []rawError {
	rawErrs, ok := top.Get("errors")
	if !ok {
		return nil
	}
	arr, ok := rawErrs.(*respval.Array)
	if !ok {
		return nil
	}
	out := make([]rawError, 0, len(arr.Items))
	for _, item := range arr.Items {
		obj, ok := item.(*respval.Object)
		if !ok {
			continue
		}
		msg := "subgraph error"
		if m, ok := obj.Get("message"); ok {
			if s, ok := m.(string); ok {
				msg = s
			}
		}
		var path []interface{}
		if p, ok := obj.Get("path"); ok {
			if arr, ok := p.(*respval.Array); ok {
				path = make([]interface{}, len(arr.Items))
				for i, seg := range arr.Items {
					path[i] = toJSONValue(seg)
				}
			}
		}
		out = append(out, rawError{Message: msg, Path: path})
	}
	return out
}

// dedupeKey identifies a Fetch uniquely enough within one request for
// §4.4's "dedupe only for queries" coalescing: subgraph, document
// identity, and the concrete variable values sent.
func dedupeKey(subgraph string, req transport.Request) string {
	var sb strings.Builder
	sb.WriteString(subgraph)
	sb.WriteByte('\n')
	sb.WriteString(req.Query)
	sb.WriteByte('\n')
	keys := make([]string, 0, len(req.Variables))
	for k := range req.Variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s=%v;", k, req.Variables[k])
	}
	return sb.String()
}
