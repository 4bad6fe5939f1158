// Package normalize bridges parsed GraphQL documents
// (github.com/vektah/gqlparser/v2) into the router's own normalized
// ast.Operation form: fragment spreads inlined, @skip/@include lifted
// to variable references where they depend on a variable (literal
// skip/include directives are resolved immediately since they can
// never change per request), identical sibling selections merged, and
// arguments sorted into canonical order.
//
// Grounded on federation/normalize.go's flattener (flattenFragments,
// mergeSameAlias, flatten), generalized from thunder's reflection-based
// graphql.Type to the supergraph package's own type representation.
package normalize

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"

	gqlast "github.com/vektah/gqlparser/v2/ast"

	"github.com/latticeflow/fedrouter/ast"
	"github.com/latticeflow/fedrouter/supergraph"
)

// Error reports a document that cannot be normalized against the
// supplied supergraph state: unknown operation, unknown fragment, or an
// operation type the schema has no root for.
type Error struct {
	msg string
}

func (e *Error) Error() string { return e.msg }

func errf(format string, args ...interface{}) error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

type flattener struct {
	fragments map[string]*gqlast.FragmentDefinition
	state     *supergraph.State
}

// FromQueryDocument normalizes the named operation (or the document's
// sole operation, if operationName is empty) against state.
func FromQueryDocument(doc *gqlast.QueryDocument, operationName string, state *supergraph.State) (*ast.Operation, error) {
	opDef, err := selectOperation(doc, operationName)
	if err != nil {
		return nil, err
	}

	rootTypeName, kind, err := rootTypeFor(opDef, state)
	if err != nil {
		return nil, err
	}

	fl := &flattener{fragments: map[string]*gqlast.FragmentDefinition{}, state: state}
	for _, f := range doc.Fragments {
		fl.fragments[f.Name] = f
	}

	sel, err := fl.flattenSelectionSet(opDef.SelectionSet, rootTypeName)
	if err != nil {
		return nil, err
	}

	varDefs := make([]ast.VariableDefinition, 0, len(opDef.VariableDefinitions))
	for _, vd := range opDef.VariableDefinitions {
		varDefs = append(varDefs, ast.VariableDefinition{Name: vd.Variable, Type: vd.Type.String()})
	}

	return &ast.Operation{
		Name:                opDef.Name,
		Kind:                kind,
		RootTypeName:        rootTypeName,
		VariableDefinitions: varDefs,
		Selections:          sel,
	}, nil
}

func selectOperation(doc *gqlast.QueryDocument, name string) (*gqlast.OperationDefinition, error) {
	if len(doc.Operations) == 0 {
		return nil, errf("document has no operations")
	}
	if name == "" {
		if len(doc.Operations) > 1 {
			return nil, errf("document has multiple operations; operationName is required")
		}
		return doc.Operations[0], nil
	}
	for _, op := range doc.Operations {
		if op.Name == name {
			return op, nil
		}
	}
	return nil, errf("no operation named %q", name)
}

func rootTypeFor(op *gqlast.OperationDefinition, state *supergraph.State) (string, ast.OperationKind, error) {
	switch op.Operation {
	case gqlast.Query, "":
		if state.QueryTypeName == "" {
			return "", "", errf("supergraph has no query root type")
		}
		return state.QueryTypeName, ast.OperationQuery, nil
	case gqlast.Mutation:
		if state.MutationTypeName == "" {
			return "", "", errf("supergraph has no mutation root type")
		}
		return state.MutationTypeName, ast.OperationMutation, nil
	case gqlast.Subscription:
		if state.SubscriptionTypeName == "" {
			return "", "", errf("supergraph has no subscription root type")
		}
		return state.SubscriptionTypeName, ast.OperationSubscription, nil
	default:
		return "", "", errf("unknown operation type %q", op.Operation)
	}
}

func (fl *flattener) flattenSelectionSet(sel gqlast.SelectionSet, parentType string) (ast.SelectionSet, error) {
	var out ast.SelectionSet
	for _, s := range sel {
		switch v := s.(type) {
		case *gqlast.Field:
			skipIf, includeIf, live, err := fl.liftSkipInclude(v.Directives)
			if err != nil {
				return nil, err
			}
			if !live {
				continue
			}
			args, err := fl.convertArguments(v.Arguments)
			if err != nil {
				return nil, err
			}
			f := &ast.Field{
				Name:       v.Name,
				Alias:      v.Alias,
				Arguments:  args,
				SkipIf:     skipIf,
				IncludeIf:  includeIf,
				ParentType: parentType,
			}
			if len(v.SelectionSet) > 0 {
				childSel, err := fl.flattenSelectionSet(v.SelectionSet, fl.childTypeName(parentType, v.Name))
				if err != nil {
					return nil, err
				}
				f.Selections = childSel
			}
			out = append(out, ast.Selection{Field: f})

		case *gqlast.InlineFragment:
			skipIf, includeIf, live, err := fl.liftSkipInclude(v.Directives)
			if err != nil {
				return nil, err
			}
			if !live {
				continue
			}
			typeCond := v.TypeCondition
			if typeCond == "" {
				typeCond = parentType
			}
			inner, err := fl.flattenSelectionSet(v.SelectionSet, typeCond)
			if err != nil {
				return nil, err
			}
			out = appendFragment(out, typeCond, parentType, skipIf, includeIf, inner)

		case *gqlast.FragmentSpread:
			frag, ok := fl.fragments[v.Name]
			if !ok {
				return nil, errf("unknown fragment %q", v.Name)
			}
			skipIf, includeIf, live, err := fl.liftSkipInclude(v.Directives)
			if err != nil {
				return nil, err
			}
			if !live {
				continue
			}
			typeCond := frag.TypeCondition
			if typeCond == "" {
				typeCond = parentType
			}
			inner, err := fl.flattenSelectionSet(frag.SelectionSet, typeCond)
			if err != nil {
				return nil, err
			}
			out = appendFragment(out, typeCond, parentType, skipIf, includeIf, inner)

		default:
			return nil, errf("unsupported selection type %T", s)
		}
	}
	return mergeSameAlias(out), nil
}

// appendFragment splices a fragment's flattened selections directly
// into the parent set when it narrows nothing and carries no deferred
// condition, and otherwise keeps it as an InlineFragment wrapper the
// planner and authorization engine can recurse into.
func appendFragment(out ast.SelectionSet, typeCond, parentType, skipIf, includeIf string, inner ast.SelectionSet) ast.SelectionSet {
	if skipIf == "" && includeIf == "" && typeCond == parentType {
		return append(out, inner...)
	}
	return append(out, ast.Selection{InlineFragment: &ast.InlineFragment{
		TypeCondition: typeCond,
		SkipIf:        skipIf,
		IncludeIf:     includeIf,
		Selections:    inner,
	}})
}

func (fl *flattener) childTypeName(parentType, fieldName string) string {
	if fieldName == "__typename" {
		return "String"
	}
	t, ok := fl.state.LookupType(parentType)
	if !ok {
		return ""
	}
	f, ok := t.Fields[fieldName]
	if !ok {
		return ""
	}
	return f.Type.Named()
}

// liftSkipInclude resolves @skip/@include against this document: a
// variable-valued "if" argument is lifted to a named reference for
// per-request evaluation; a literal "if" argument is decided now, since
// it can never vary across requests reusing the same normalized
// operation. live is false when a literal decides the selection is
// absent outright.
func (fl *flattener) liftSkipInclude(directives gqlast.DirectiveList) (skipIf, includeIf string, live bool, err error) {
	live = true
	for _, d := range directives {
		switch d.Name {
		case "skip":
			arg := d.Arguments.ForName("if")
			if arg == nil {
				continue
			}
			if arg.Value.Kind == gqlast.Variable {
				skipIf = arg.Value.Raw
				continue
			}
			b, convErr := literalBool(arg.Value)
			if convErr != nil {
				return "", "", false, convErr
			}
			if b {
				return "", "", false, nil
			}
		case "include":
			arg := d.Arguments.ForName("if")
			if arg == nil {
				continue
			}
			if arg.Value.Kind == gqlast.Variable {
				includeIf = arg.Value.Raw
				continue
			}
			b, convErr := literalBool(arg.Value)
			if convErr != nil {
				return "", "", false, convErr
			}
			if !b {
				return "", "", false, nil
			}
		}
	}
	return skipIf, includeIf, true, nil
}

func literalBool(v *gqlast.Value) (bool, error) {
	if v.Kind != gqlast.BooleanValue {
		return false, errf("expected boolean literal for skip/include, got %v", v.Kind)
	}
	return v.Raw == "true", nil
}

func (fl *flattener) convertArguments(args gqlast.ArgumentList) (ast.Arguments, error) {
	out := make(ast.Arguments, 0, len(args))
	for _, a := range args {
		v, err := convertValue(a.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, ast.Argument{Name: a.Name, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func convertValue(v *gqlast.Value) (ast.Value, error) {
	if v == nil {
		return nil, nil
	}
	switch v.Kind {
	case gqlast.Variable:
		return ast.VariableRef{Name: v.Raw}, nil
	case gqlast.IntValue, gqlast.FloatValue:
		n, err := strconv.ParseFloat(v.Raw, 64)
		if err != nil {
			return nil, errf("invalid numeric literal %q: %v", v.Raw, err)
		}
		return n, nil
	case gqlast.StringValue, gqlast.BlockValue, gqlast.EnumValue:
		return v.Raw, nil
	case gqlast.BooleanValue:
		return v.Raw == "true", nil
	case gqlast.NullValue:
		return nil, nil
	case gqlast.ListValue:
		out := make([]ast.Value, 0, len(v.Children))
		for _, c := range v.Children {
			cv, err := convertValue(c.Value)
			if err != nil {
				return nil, err
			}
			out = append(out, cv)
		}
		return out, nil
	case gqlast.ObjectValue:
		out := make(map[string]ast.Value, len(v.Children))
		for _, c := range v.Children {
			cv, err := convertValue(c.Value)
			if err != nil {
				return nil, err
			}
			out[c.Name] = cv
		}
		return out, nil
	default:
		return nil, errf("unsupported value kind %v", v.Kind)
	}
}

// mergeSameAlias implements the §3 sibling-merge invariant: two Field
// items at the same response key selecting the same field with equal
// arguments are merged by concatenating their selection sets rather
// than kept as duplicate response entries. Cross-type-condition
// conflicts (same key, different concrete-type shape) are left to the
// planner's alias rewrite, since resolving those requires schema
// knowledge of each concrete type, not just the operation text.
func mergeSameAlias(sel ast.SelectionSet) ast.SelectionSet {
	var out ast.SelectionSet
	index := map[string]int{}
	for _, s := range sel {
		if s.Field == nil {
			out = append(out, s)
			continue
		}
		key := s.Field.ResponseKey()
		if pos, ok := index[key]; ok && out[pos].Field != nil {
			existing := out[pos].Field
			if existing.Name == s.Field.Name && argsEqual(existing.Arguments, s.Field.Arguments) {
				existing.Selections = append(existing.Selections, s.Field.Selections...)
				continue
			}
		}
		index[key] = len(out)
		out = append(out, s)
	}
	return out
}

func argsEqual(a, b ast.Arguments) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || !reflect.DeepEqual(a[i].Value, b[i].Value) {
			return false
		}
	}
	return true
}
