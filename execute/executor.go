// Package execute implements the Plan Executor: it drives a
// planquery.Plan against live subgraphs, merging partial results into a
// shared response tree, threading cancellation, and shaping the final
// client response.
//
// Grounded on federation/executor.go's DFS-over-response-tree-by-path
// approach for Flatten and federation/planner.go's reversed-path
// convention for how that path is built bottom-up during planning and
// walked top-down here; the bounded-concurrency Parallel behavior is
// ported from lib/executor/src/execution/plan.rs's job-based execution
// loop onto golang.org/x/sync/errgroup, capped with errgroup's SetLimit.
package execute

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/latticeflow/fedrouter/ast"
	"github.com/latticeflow/fedrouter/execctx"
	"github.com/latticeflow/fedrouter/graphqlerr"
	"github.com/latticeflow/fedrouter/logger"
	"github.com/latticeflow/fedrouter/planquery"
	"github.com/latticeflow/fedrouter/supergraph"
	"github.com/latticeflow/fedrouter/transport"
)

// Executor drives plan trees against a fixed subgraph client and
// supergraph state (the latter needed only to resolve the sentinel
// introspection subgraph locally).
type Executor struct {
	Client transport.SubgraphClient
	Schema *supergraph.State
	Log    logger.Logger

	// MaxParallelism bounds how many Fetch/Flatten branches of a single
	// Parallel node run concurrently. Zero means unbounded.
	MaxParallelism int
}

// New builds an Executor.
func New(client transport.SubgraphClient, schema *supergraph.State, log logger.Logger) *Executor {
	if log == nil {
		log = logger.New()
	}
	return &Executor{Client: client, Schema: schema, Log: log}
}

// Execute runs a full plan to completion against a single response tree.
// Errors are recorded on ectx as they occur; the caller retrieves both
// the response tree and the accumulated errors from ectx once Execute
// returns. Execute never returns a non-nil error for ordinary subgraph
// or authorization failures -- those are client-visible
// graphqlerr.Errors recorded on ectx instead -- only for a cancelled or
// deadline-exceeded ctx, a subscription plan (or a Subscription node
// inside the plan), or a node of unknown kind.
func (e *Executor) Execute(ctx context.Context, ectx *execctx.Context, plan *planquery.Plan, variables map[string]interface{}) error {
	if plan.RootOperationKind == ast.OperationSubscription {
		return fmt.Errorf("execute: a subscription plan must be driven via ExecuteSubscription, not Execute")
	}
	return e.run(ctx, ectx, plan.Root, variables, plan.RootOperationKind)
}

func (e *Executor) run(ctx context.Context, ectx *execctx.Context, node *planquery.Node, variables map[string]interface{}, rootKind ast.OperationKind) error {
	if node == nil {
		return nil
	}
	switch node.Kind {
	case planquery.KindFetch:
		return e.runRootFetch(ctx, ectx, node.Fetch, variables, rootKind)
	case planquery.KindFlatten:
		return e.runFlatten(ctx, ectx, node.Flatten, variables, rootKind)
	case planquery.KindSequence:
		return e.runSequence(ctx, ectx, node.Sequence, variables, rootKind)
	case planquery.KindParallel:
		return e.runParallel(ctx, ectx, node.Parallel, variables, rootKind)
	case planquery.KindCondition:
		return e.runCondition(ctx, ectx, node.Condition, variables, rootKind)
	case planquery.KindSubscription:
		return fmt.Errorf("execute: Subscription node must be driven via ExecuteSubscription, not Execute")
	default:
		return fmt.Errorf("execute: unknown plan node kind %d", node.Kind)
	}
}

func (e *Executor) runSequence(ctx context.Context, ectx *execctx.Context, n *planquery.SequenceNode, variables map[string]interface{}, rootKind ast.OperationKind) error {
	for _, child := range n.Children {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.run(ctx, ectx, child, variables, rootKind); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) runParallel(ctx context.Context, ectx *execctx.Context, n *planquery.ParallelNode, variables map[string]interface{}, rootKind ast.OperationKind) error {
	g, gctx := errgroup.WithContext(ctx)
	if e.MaxParallelism > 0 {
		g.SetLimit(e.MaxParallelism)
	}
	for _, child := range n.Children {
		child := child
		g.Go(func() error {
			return e.run(gctx, ectx, child, variables, rootKind)
		})
	}
	return g.Wait()
}

func (e *Executor) runCondition(ctx context.Context, ectx *execctx.Context, n *planquery.ConditionNode, variables map[string]interface{}, rootKind ast.OperationKind) error {
	v, ok := variables[n.VariableName]
	taken := ok
	if b, isBool := v.(bool); isBool {
		taken = taken && b
	} else {
		taken = false
	}
	if taken {
		return e.run(ctx, ectx, n.Then, variables, rootKind)
	}
	return e.run(ctx, ectx, n.Else, variables, rootKind)
}

// runRootFetch executes a Fetch node whose result lands directly at the
// response tree root (no enclosing Flatten).
func (e *Executor) runRootFetch(ctx context.Context, ectx *execctx.Context, f *planquery.FetchNode, variables map[string]interface{}, rootKind ast.OperationKind) error {
	data, errs, fatal := e.doFetch(ctx, ectx, f, variables, nil, rootKind == ast.OperationQuery)
	if fatal != nil {
		ectx.AddError(fatal)
		return nil
	}
	for _, re := range errs {
		ectx.AddError(graphqlerr.SubgraphRequestFailure(f.Subgraph, re.Path, re.Message))
	}
	if data == nil {
		return nil
	}
	data = applyOutputRewrites(data, f.OutputRewrites)
	ectx.MergeAtRoot(data)
	return nil
}

// rawError is a GraphQL-level error lifted straight from a subgraph's
// own {errors: [...]} array, not yet rebound to the caller's response
// path (rootFetch uses it as-is; Flatten rebinds "_entities[i]" prefixes
// to the real scattered-back position).
type rawError struct {
	Message string
	Path    []interface{}
}
