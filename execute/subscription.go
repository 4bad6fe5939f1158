package execute

import (
	"context"
	"errors"
	"io"

	"github.com/latticeflow/fedrouter/ast"
	"github.com/latticeflow/fedrouter/execctx"
	"github.com/latticeflow/fedrouter/graphqlerr"
	"github.com/latticeflow/fedrouter/planquery"
	"github.com/latticeflow/fedrouter/respval"
	"github.com/latticeflow/fedrouter/transport"
)

// Event is one subscription event: a freshly built per-event execution
// context (response tree root, errors, headers), or a terminal Err if
// the upstream stream itself failed.
type Event struct {
	Ctx *execctx.Context
	Err error
}

// ExecuteSubscription drives a Subscription plan node: it opens one
// graphql-transport-ws stream against PrimaryFetch's subgraph and, for
// every event, builds a fresh execctx.Context rooted at that event's
// payload and runs Rest (if present) as a mini-execution over it --
// spec.md §4.4's "Subscription entity resolution" and §9's
// first-event-snapshot header rule (each event gets its own Context, so
// headers are captured once per event and never merged across events).
func (e *Executor) ExecuteSubscription(ctx context.Context, plan *planquery.Plan, variables map[string]interface{}) (<-chan Event, error) {
	if plan.RootOperationKind != ast.OperationSubscription || plan.Root.Kind != planquery.KindSubscription {
		return nil, errors.New("execute: ExecuteSubscription requires a Subscription plan")
	}
	sub := plan.Root.Subscription
	primary := sub.PrimaryFetch.Fetch

	req := transport.Request{
		Query:         primary.OperationDocument,
		OperationName: primary.OperationName,
		Variables:     selectVariables(primary.VariableUsages, variables),
	}
	stream, err := e.Client.Subscribe(ctx, primary.Subgraph, req)
	if err != nil {
		return nil, err
	}

	out := make(chan Event)
	go e.pumpSubscription(ctx, stream, primary, sub.Rest, variables, out)
	return out, nil
}

func (e *Executor) pumpSubscription(ctx context.Context, stream transport.EventStream, primary *planquery.FetchNode, rest *planquery.Node, variables map[string]interface{}, out chan<- Event) {
	defer close(out)
	defer stream.Close()

	for {
		resp, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			select {
			case out <- Event{Err: err}:
			case <-ctx.Done():
			}
			return
		}

		ectx := e.resolveSubscriptionEvent(ctx, resp, primary, rest, variables)

		select {
		case out <- Event{Ctx: ectx}:
		case <-ctx.Done():
			return
		}
	}
}

func (e *Executor) resolveSubscriptionEvent(ctx context.Context, resp transport.Response, primary *planquery.FetchNode, rest *planquery.Node, variables map[string]interface{}) *execctx.Context {
	ectx := execctx.New()
	ectx.AggregateHeaders(resp.Headers)

	owned := ectx.Arena.Put(resp.Body)
	top, err := respval.FromJSON(owned)
	if err != nil {
		ectx.AddError(graphqlerr.SubgraphResponseDeserializationFailed(primary.Subgraph, nil, err.Error()))
		return ectx
	}
	topObj, _ := top.(*respval.Object)
	if topObj == nil {
		ectx.AddError(graphqlerr.SubgraphResponseDeserializationFailed(primary.Subgraph, nil, "subscription event is not a JSON object"))
		return ectx
	}

	data, _ := topObj.Get("data")
	for _, re := range extractErrors(topObj) {
		ectx.AddError(graphqlerr.SubgraphRequestFailure(primary.Subgraph, re.Path, re.Message))
	}
	data = applyOutputRewrites(data, primary.OutputRewrites)
	ectx.MergeAtRoot(data)

	if rest != nil {
		if err := e.run(ctx, ectx, rest, variables, ast.OperationQuery); err != nil {
			ectx.AddError(graphqlerr.ServiceUnavailable(err.Error()))
		}
	}
	return ectx
}
