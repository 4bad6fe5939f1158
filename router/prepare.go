package router

import (
	"context"

	"github.com/latticeflow/fedrouter/ast"
	"github.com/latticeflow/fedrouter/authz"
	"github.com/latticeflow/fedrouter/graphqlerr"
	"github.com/latticeflow/fedrouter/planquery"
)

// prepared is the outcome of normalize -> authorize -> plan, shared by
// both the HTTP query/mutation path and the WebSocket subscription path
// so the two surfaces can never disagree about how a request is
// authorized or planned.
type prepared struct {
	// Op is the original normalized operation, kept for projection even
	// when authorization rewrote a pruned copy for planning -- a denied
	// field must still project to null, not vanish from the response.
	Op *ast.Operation

	// Plan is nil exactly when authorization rejected the request
	// outright (authz.DecisionReject); AuthzErrors is non-empty in that
	// case and the caller must stop without planning or executing.
	Plan *planquery.Plan

	AuthzErrors graphqlerr.List
}

// prepare runs normalize -> authorize -> plan for one operation. It
// never executes anything; callers branch on prepared.Plan == nil to
// detect an authorization rejection before touching the executor.
func (rt *Router) prepare(ctx context.Context, queryText, operationName string, variables map[string]interface{}) (*prepared, *graphqlerr.Error) {
	op, err := rt.Normalize.Get(queryText, operationName)
	if err != nil {
		return nil, graphqlerr.PlanningFailed(err.Error())
	}

	user := rt.userAuthContext(ctx)
	opToPlan := op
	var authzErrs graphqlerr.List

	if rt.Config.Authentication.Directives.Enabled {
		decision, err := rt.Authz.Rewrite(op, variables, user, rt.AuthzMode, rt.State)
		if err != nil {
			return nil, graphqlerr.PlanningFailed(err.Error())
		}
		for _, ae := range decision.Errors {
			authzErrs = append(authzErrs, graphqlerr.Unauthorized(stringPathToInterface(ae.Path)))
		}
		switch decision.Kind {
		case authz.DecisionReject:
			return &prepared{Op: op, AuthzErrors: authzErrs}, nil
		case authz.DecisionModified:
			opToPlan = decision.NewOperation
		}
	}

	plan, err := rt.Planner.Get(opToPlan)
	if err != nil {
		return nil, graphqlerr.PlanningFailed(err.Error())
	}

	return &prepared{Op: op, Plan: plan, AuthzErrors: authzErrs}, nil
}
