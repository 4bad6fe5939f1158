// Package planner implements the Query Planner: it translates a
// normalized operation plus supergraph state into an explicit execution
// tree of subgraph fetches, entity-resolution hops, and control-flow
// nodes. Grounded on federation/planner.go's Planner.plan/planObject
// field-routing and needKey detection, and federation/planner_helpers.go's
// recursive federated-key selection synthesis, generalized from a single
// implicit wave into explicit waves ordered by @requires dependency per
// lib/executor/src/execution/plan.rs.
package planner

import (
	"fmt"
	"sort"

	"github.com/latticeflow/fedrouter/ast"
	"github.com/latticeflow/fedrouter/planquery"
	"github.com/latticeflow/fedrouter/supergraph"
)

// introspectionSubgraph is a sentinel subgraph name the executor
// recognizes and resolves locally from supergraph.State instead of
// dispatching a transport call (spec.md §4.1 rule 8).
const introspectionSubgraph = "__introspection"

const internalAliasPrefix = "_internal_qp_alias_"

// PlanningError is returned when no valid decomposition exists:
// unsatisfiable @requires chain, unreachable field, or cyclic entity
// dependency. Planning errors are fatal for the request; the planner
// does not retry.
type PlanningError struct {
	Path []string
	msg  string
}

func (e *PlanningError) Error() string {
	if len(e.Path) == 0 {
		return "query planning failed: " + e.msg
	}
	return fmt.Sprintf("query planning failed at %v: %s", e.Path, e.msg)
}

func planErr(path []string, format string, args ...interface{}) error {
	return &PlanningError{Path: path, msg: fmt.Sprintf(format, args...)}
}

// Planner translates normalized operations into query plans against a
// fixed supergraph state.
type Planner struct {
	state *supergraph.State
}

// New builds a Planner over composed supergraph state.
func New(state *supergraph.State) *Planner {
	return &Planner{state: state}
}

// Plan runs the full planning algorithm described in spec.md §4.1. The
// states Initial -> FieldsRouted -> WavesPlanned -> Rewritten ->
// Finalized are the phases below: routeRootFields (FieldsRouted),
// the wave scheduler inside planObjectBody (WavesPlanned), alias-conflict
// detection (Rewritten), and the final Plan assembly (Finalized).
func (p *Planner) Plan(op *ast.Operation) (*planquery.Plan, error) {
	rootType, ok := p.state.LookupType(op.RootTypeName)
	if !ok {
		return nil, planErr(nil, "unknown root type %q", op.RootTypeName)
	}

	groups, introspectionSel := p.routeRootFields(rootType, op.Selections)
	if len(groups) == 0 && len(introspectionSel) == 0 {
		return nil, planErr(nil, "operation has no fields to plan")
	}

	var groupNodes []*planquery.Node
	subgraphNames := make([]string, 0, len(groups))
	for sg := range groups {
		subgraphNames = append(subgraphNames, sg)
	}
	sort.Strings(subgraphNames)

	for _, sg := range subgraphNames {
		fields := groups[sg]
		localSel, after, rewrites, err := p.planObjectBody(rootType, fields, sg, op.VariableDefinitions)
		if err != nil {
			return nil, err
		}
		opName, opKind := fmt.Sprintf("Fetch_%s", sg), toGraphQLOperationKind(op.Kind)
		doc, varUsages := printOperation(opKind, opName, localSel, op.VariableDefinitions)
		fetch := planquery.NewFetch(&planquery.FetchNode{
			Subgraph:          sg,
			OperationDocument: doc,
			OperationName:     opName,
			VariableUsages:    varUsages,
			OutputRewrites:    rewrites,
		})
		node := fetch
		if after != nil {
			node = planquery.NewSequence(fetch, after)
		}
		groupNodes = append(groupNodes, node)
	}

	if len(introspectionSel) > 0 {
		doc, _ := printOperation("query", "Introspection", introspectionSel, nil)
		groupNodes = append(groupNodes, planquery.NewFetch(&planquery.FetchNode{
			Subgraph:          introspectionSubgraph,
			OperationDocument: doc,
			OperationName:     "Introspection",
		}))
	}

	var root *planquery.Node
	switch {
	case len(groupNodes) == 1:
		root = groupNodes[0]
	case op.Kind == ast.OperationMutation:
		if len(groupNodes) > 1 {
			return nil, planErr(nil, "mutation selects fields across multiple subgraphs; ordering cannot be guaranteed")
		}
		root = groupNodes[0]
	default:
		root = planquery.NewParallel(groupNodes...)
	}

	return &planquery.Plan{Root: root, RootOperationKind: op.Kind}, nil
}

func toGraphQLOperationKind(k ast.OperationKind) string {
	switch k {
	case ast.OperationMutation:
		return "mutation"
	case ast.OperationSubscription:
		return "subscription"
	default:
		return "query"
	}
}

// routeRootFields partitions the operation's top-level fields by the
// subgraph chosen to resolve them. Introspection fields are split out
// since they never produce a subgraph fetch (rule 8).
func (p *Planner) routeRootFields(rootType *supergraph.Type, sels ast.SelectionSet) (map[string]ast.SelectionSet, ast.SelectionSet) {
	groups := map[string]ast.SelectionSet{}
	var introspection ast.SelectionSet

	for _, sel := range sels {
		f := sel.Field
		if f == nil {
			continue // root selection sets don't carry inline fragments
		}
		if isIntrospectionField(f.Name) {
			introspection = append(introspection, sel)
			continue
		}
		sg := p.selectService(rootType, f.Name, "")
		groups[sg] = append(groups[sg], sel)
	}
	return groups, introspection
}

func isIntrospectionField(name string) bool {
	return name == "__schema" || name == "__type" || name == "__typename"
}

// selectService applies the tie-break order from spec.md §4.1 rule 7:
// (a) the subgraph already hosting the enclosing selection set, (b) the
// subgraph covering the most sibling fields [approximated here by (b')
// the subgraph resolving the most fields of the type overall, a stable
// proxy that avoids a second full pass over the sibling set], (c) stable
// lexicographic subgraph name.
func (p *Planner) selectService(typ *supergraph.Type, fieldName, currentService string) string {
	candidates := p.state.ResolvableSubgraphs(typ.Name, fieldName)
	if len(candidates) == 0 {
		return ""
	}
	if currentService != "" {
		for _, c := range candidates {
			if c == currentService {
				return currentService
			}
		}
	}
	best, bestCount := candidates[0], -1
	for _, c := range candidates {
		count := 0
		for _, f := range typ.Fields {
			for _, s := range f.Subgraphs {
				if s == c {
					count++
					break
				}
			}
		}
		if count > bestCount || (count == bestCount && c < best) {
			best, bestCount = c, count
		}
	}
	return best
}
