package execute

import (
	"sort"

	gqlast "github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/latticeflow/fedrouter/planquery"
	"github.com/latticeflow/fedrouter/respval"
	"github.com/latticeflow/fedrouter/supergraph"
)

// resolveIntrospection answers a Fetch routed to the introspection
// sentinel subgraph directly from the composed supergraph state rather
// than dispatching a transport call, per spec.md §4.1 rule 8. The
// printed operation document is re-parsed since the planner discards
// the original selection set once it prints Fetch.OperationDocument.
func (e *Executor) resolveIntrospection(f *planquery.FetchNode) (respval.Value, error) {
	doc, gqlErr := parser.ParseQuery(&gqlast.Source{Input: f.OperationDocument})
	if gqlErr != nil {
		return nil, gqlErr
	}
	if len(doc.Operations) == 0 {
		return respval.NewObject(), nil
	}
	return e.resolveIntrospectionRoot(doc.Operations[0].SelectionSet), nil
}

func (e *Executor) resolveIntrospectionRoot(sel gqlast.SelectionSet) *respval.Object {
	out := respval.NewObject()
	for _, s := range sel {
		field, ok := s.(*gqlast.Field)
		if !ok {
			continue
		}
		key := responseKey(field)
		switch field.Name {
		case "__typename":
			out.Set(key, e.Schema.QueryTypeName)
		case "__schema":
			out.Set(key, e.resolveSchema(field.SelectionSet))
		case "__type":
			var name string
			if arg := field.Arguments.ForName("name"); arg != nil {
				name = arg.Value.Raw
			}
			out.Set(key, e.resolveType(name, field.SelectionSet))
		default:
			out.Set(key, nil)
		}
	}
	return out
}

func (e *Executor) resolveSchema(sel gqlast.SelectionSet) *respval.Object {
	out := respval.NewObject()
	for _, s := range sel {
		field, ok := s.(*gqlast.Field)
		if !ok {
			continue
		}
		key := responseKey(field)
		switch field.Name {
		case "queryType":
			out.Set(key, e.resolveType(e.Schema.QueryTypeName, field.SelectionSet))
		case "mutationType":
			if e.Schema.MutationTypeName == "" {
				out.Set(key, nil)
			} else {
				out.Set(key, e.resolveType(e.Schema.MutationTypeName, field.SelectionSet))
			}
		case "subscriptionType":
			if e.Schema.SubscriptionTypeName == "" {
				out.Set(key, nil)
			} else {
				out.Set(key, e.resolveType(e.Schema.SubscriptionTypeName, field.SelectionSet))
			}
		case "types":
			arr := respval.NewArray()
			for _, name := range e.Schema.AllTypeNames() {
				arr.Items = append(arr.Items, e.resolveType(name, field.SelectionSet))
			}
			out.Set(key, arr)
		default:
			out.Set(key, nil)
		}
	}
	return out
}

func (e *Executor) resolveType(name string, sel gqlast.SelectionSet) respval.Value {
	t, ok := e.Schema.LookupType(name)
	if !ok {
		return nil
	}
	out := respval.NewObject()
	for _, s := range sel {
		field, ok := s.(*gqlast.Field)
		if !ok {
			continue
		}
		key := responseKey(field)
		switch field.Name {
		case "name":
			out.Set(key, t.Name)
		case "kind":
			out.Set(key, t.Kind.String())
		case "fields":
			arr := respval.NewArray()
			for _, fieldName := range sortedFieldNames(t.Fields) {
				arr.Items = append(arr.Items, e.resolveFieldDef(t.Fields[fieldName], field.SelectionSet))
			}
			out.Set(key, arr)
		case "interfaces":
			arr := respval.NewArray()
			for _, ifaceName := range t.Interfaces {
				arr.Items = append(arr.Items, e.resolveType(ifaceName, field.SelectionSet))
			}
			out.Set(key, arr)
		case "possibleTypes":
			arr := respval.NewArray()
			for _, pt := range t.PossibleTypes {
				arr.Items = append(arr.Items, e.resolveType(pt, field.SelectionSet))
			}
			out.Set(key, arr)
		case "enumValues":
			arr := respval.NewArray()
			for _, v := range t.EnumValues {
				ev := respval.NewObject()
				ev.Set("name", v)
				arr.Items = append(arr.Items, ev)
			}
			out.Set(key, arr)
		default:
			out.Set(key, nil)
		}
	}
	return out
}

func (e *Executor) resolveFieldDef(f *supergraph.Field, sel gqlast.SelectionSet) *respval.Object {
	out := respval.NewObject()
	for _, s := range sel {
		field, ok := s.(*gqlast.Field)
		if !ok {
			continue
		}
		key := responseKey(field)
		switch field.Name {
		case "name":
			out.Set(key, f.Name)
		case "type":
			typeObj := respval.NewObject()
			typeObj.Set("name", f.Type.Named())
			typeObj.Set("kind", "")
			out.Set(key, typeObj)
		default:
			out.Set(key, nil)
		}
	}
	return out
}

func responseKey(f *gqlast.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

func sortedFieldNames(fields map[string]*supergraph.Field) []string {
	names := make([]string, 0, len(fields))
	for n := range fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
