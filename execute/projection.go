package execute

import (
	"github.com/latticeflow/fedrouter/ast"
	"github.com/latticeflow/fedrouter/graphqlerr"
	"github.com/latticeflow/fedrouter/respval"
	"github.com/latticeflow/fedrouter/supergraph"
)

// Project implements Response Projection (spec.md §4.5): a deterministic
// walk of the client-visible selection set that shapes the merged
// response tree into the client's requested form. Because the
// authorization rewrite already pruned denied selections before
// planning and execution ever ran, a field absent from the tree here is
// exactly a denied-or-never-resolved field -- both are projected as an
// explicit null, matching "insert null for denied/absent paths".
//
// Grounded on federation/server.go's marshalPbSelections/
// unmarshalPbSelectionSet pair for the general shape of a declarative
// selection-set walk over an arbitrary value tree, generalized here from
// protobuf marshaling to shaping an in-memory respval.Value into another
// respval.Value ready for JSON encoding.
func Project(root respval.Value, sel ast.SelectionSet, variables map[string]interface{}, state *supergraph.State) respval.Value {
	return projectValue(root, sel, variables, state)
}

func projectValue(v respval.Value, sel ast.SelectionSet, variables map[string]interface{}, state *supergraph.State) respval.Value {
	switch t := v.(type) {
	case nil:
		return nil
	case *respval.Array:
		arr := respval.NewArray()
		for _, item := range t.Items {
			arr.Items = append(arr.Items, projectValue(item, sel, variables, state))
		}
		return arr
	case *respval.Object:
		return projectObject(t, sel, variables, state)
	default:
		return t
	}
}

func projectObject(obj *respval.Object, sel ast.SelectionSet, variables map[string]interface{}, state *supergraph.State) *respval.Object {
	out := respval.NewObject()
	for _, s := range sel {
		switch {
		case s.Field != nil:
			f := s.Field
			if hidesSelection(f.SkipIf, f.IncludeIf, variables) {
				continue
			}
			rk := f.ResponseKey()
			v, ok := obj.Get(rk)
			if !ok {
				out.Set(rk, nil)
				continue
			}
			if len(f.Selections) == 0 {
				out.Set(rk, v)
				continue
			}
			out.Set(rk, projectValue(v, f.Selections, variables, state))

		case s.InlineFragment != nil:
			frag := s.InlineFragment
			if hidesSelection(frag.SkipIf, frag.IncludeIf, variables) {
				continue
			}
			if !typeConditionMatches(state, obj, frag.TypeCondition) {
				continue
			}
			inner := projectObject(obj, frag.Selections, variables, state)
			for _, k := range inner.Keys() {
				v, _ := inner.Get(k)
				out.Set(k, v)
			}
		}
	}
	return out
}

func hidesSelection(skipIf, includeIf string, variables map[string]interface{}) bool {
	if skipIf != "" && boolVar(variables, skipIf) {
		return true
	}
	if includeIf != "" && !boolVar(variables, includeIf) {
		return true
	}
	return false
}

func boolVar(variables map[string]interface{}, name string) bool {
	v, ok := variables[name]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// typeConditionMatches decides whether obj's concrete type satisfies an
// inline fragment's type condition: an exact match, or condition names
// an interface/union obj's __typename implements/belongs to. When obj
// carries no __typename (never requested, so never merged in), the
// fragment is assumed to apply -- the planner only ever produced this
// inline fragment here because routing already proved it reachable.
func typeConditionMatches(state *supergraph.State, obj *respval.Object, condition string) bool {
	tn, ok := respval.Typename(obj)
	if !ok {
		return true
	}
	if tn == condition {
		return true
	}
	t, ok := state.LookupType(condition)
	if !ok {
		return false
	}
	switch t.Kind {
	case supergraph.KindInterface:
		for _, impl := range t.Implementations {
			if impl == tn {
				return true
			}
		}
	case supergraph.KindUnion:
		for _, pt := range t.PossibleTypes {
			if pt == tn {
				return true
			}
		}
	}
	return false
}

// BuildEnvelope projects root against the client's original selection
// set and wraps it with errs into the {data, errors} wire envelope.
func BuildEnvelope(root respval.Value, sel ast.SelectionSet, variables map[string]interface{}, state *supergraph.State, errs graphqlerr.List) graphqlerr.Envelope {
	return graphqlerr.Envelope{
		Data:   Project(root, sel, variables, state),
		Errors: errs.ToEnvelopeErrors(),
	}
}
