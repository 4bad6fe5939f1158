package planner

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/latticeflow/fedrouter/ast"
	"github.com/latticeflow/fedrouter/planquery"
)

// printOperation renders a selection set into a subgraph-ready GraphQL
// operation document, collecting the set of variables it actually
// references so the executor only forwards those at request time
// (spec.md §4.4 Fetch step 2).
func printOperation(kind, name string, sel ast.SelectionSet, varDefs []ast.VariableDefinition) (string, []planquery.VariableUsage) {
	used := map[string]bool{}
	collectVariableUsages(sel, used)

	var b strings.Builder
	b.WriteString(kind)
	b.WriteString(" ")
	b.WriteString(name)
	writeVariableDefs(&b, used, varDefs)
	b.WriteString(" {\n")
	writeSelectionSet(&b, sel, 1)
	b.WriteString("}\n")

	return b.String(), variableUsageList(used)
}

// printEntityFetchOperation renders the federation wire convention for
// an entity-resolution fetch: query($representations:[_Any!]!){
// _entities(representations:$representations){ ... on T { ...fields } } }
// (spec.md §6).
func printEntityFetchOperation(typeName string, requires ast.SelectionSet, fields ast.SelectionSet, varDefs []ast.VariableDefinition) (string, []planquery.VariableUsage) {
	used := map[string]bool{}
	collectVariableUsages(fields, used)

	var b strings.Builder
	b.WriteString("query EntityFetch($representations: [_Any!]!")
	names := sortedKeys(used)
	for _, n := range names {
		b.WriteString(", $")
		b.WriteString(n)
		b.WriteString(": ")
		b.WriteString(lookupVarType(n, varDefs))
	}
	b.WriteString(") {\n")
	b.WriteString("  _entities(representations: $representations) {\n")
	b.WriteString(fmt.Sprintf("    ... on %s {\n", typeName))
	writeSelectionSet(&b, fields, 3)
	b.WriteString("    }\n  }\n}\n")

	usages := []planquery.VariableUsage{{Name: "representations"}}
	for _, n := range names {
		usages = append(usages, planquery.VariableUsage{Name: n})
	}
	return b.String(), usages
}

func writeVariableDefs(b *strings.Builder, used map[string]bool, varDefs []ast.VariableDefinition) {
	names := sortedKeys(used)
	if len(names) == 0 {
		return
	}
	b.WriteString("(")
	for i, n := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("$")
		b.WriteString(n)
		b.WriteString(": ")
		b.WriteString(lookupVarType(n, varDefs))
	}
	b.WriteString(")")
}

func lookupVarType(name string, varDefs []ast.VariableDefinition) string {
	for _, vd := range varDefs {
		if vd.Name == name {
			return vd.Type
		}
	}
	// Fallback for synthetic variables (e.g. ones the planner itself
	// introduced) not present in the client's original declarations.
	return "String"
}

func variableUsageList(used map[string]bool) []planquery.VariableUsage {
	names := sortedKeys(used)
	out := make([]planquery.VariableUsage, len(names))
	for i, n := range names {
		out[i] = planquery.VariableUsage{Name: n}
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func collectVariableUsages(sel ast.SelectionSet, used map[string]bool) {
	for _, s := range sel {
		switch {
		case s.Field != nil:
			collectArgVariables(s.Field.Arguments, used)
			if s.Field.SkipIf != "" {
				used[s.Field.SkipIf] = true
			}
			if s.Field.IncludeIf != "" {
				used[s.Field.IncludeIf] = true
			}
			collectVariableUsages(s.Field.Selections, used)
		case s.InlineFragment != nil:
			if s.InlineFragment.SkipIf != "" {
				used[s.InlineFragment.SkipIf] = true
			}
			if s.InlineFragment.IncludeIf != "" {
				used[s.InlineFragment.IncludeIf] = true
			}
			collectVariableUsages(s.InlineFragment.Selections, used)
		}
	}
}

func collectArgVariables(args ast.Arguments, used map[string]bool) {
	for _, a := range args {
		collectValueVariables(a.Value, used)
	}
}

func collectValueVariables(v ast.Value, used map[string]bool) {
	switch val := v.(type) {
	case ast.VariableRef:
		used[val.Name] = true
	case []ast.Value:
		for _, e := range val {
			collectValueVariables(e, used)
		}
	case map[string]ast.Value:
		for _, e := range val {
			collectValueVariables(e, used)
		}
	}
}

func writeSelectionSet(b *strings.Builder, sel ast.SelectionSet, indent int) {
	pad := strings.Repeat("  ", indent)
	for _, s := range sel {
		switch {
		case s.Field != nil:
			writeField(b, s.Field, pad, indent)
		case s.InlineFragment != nil:
			b.WriteString(pad)
			b.WriteString("... on ")
			b.WriteString(s.InlineFragment.TypeCondition)
			writeDirectives(b, s.InlineFragment.SkipIf, s.InlineFragment.IncludeIf)
			b.WriteString(" {\n")
			writeSelectionSet(b, s.InlineFragment.Selections, indent+1)
			b.WriteString(pad)
			b.WriteString("}\n")
		}
	}
}

func writeField(b *strings.Builder, f *ast.Field, pad string, indent int) {
	b.WriteString(pad)
	if f.Alias != "" && f.Alias != f.Name {
		b.WriteString(f.Alias)
		b.WriteString(": ")
	}
	b.WriteString(f.Name)
	writeArguments(b, f.Arguments)
	writeDirectives(b, f.SkipIf, f.IncludeIf)
	if len(f.Selections) > 0 {
		b.WriteString(" {\n")
		writeSelectionSet(b, f.Selections, indent+1)
		b.WriteString(pad)
		b.WriteString("}\n")
	} else {
		b.WriteString("\n")
	}
}

func writeArguments(b *strings.Builder, args ast.Arguments) {
	if len(args) == 0 {
		return
	}
	b.WriteString("(")
	for i, a := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(a.Name)
		b.WriteString(": ")
		writeValue(b, a.Value)
	}
	b.WriteString(")")
}

func writeDirectives(b *strings.Builder, skipIf, includeIf string) {
	if skipIf != "" {
		b.WriteString(" @skip(if: $")
		b.WriteString(skipIf)
		b.WriteString(")")
	}
	if includeIf != "" {
		b.WriteString(" @include(if: $")
		b.WriteString(includeIf)
		b.WriteString(")")
	}
}

func writeValue(b *strings.Builder, v ast.Value) {
	switch val := v.(type) {
	case ast.VariableRef:
		b.WriteString("$")
		b.WriteString(val.Name)
	case nil:
		b.WriteString("null")
	case string:
		b.WriteString(strconv.Quote(val))
	case bool:
		b.WriteString(strconv.FormatBool(val))
	case float64:
		b.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case []ast.Value:
		b.WriteString("[")
		for i, e := range val {
			if i > 0 {
				b.WriteString(", ")
			}
			writeValue(b, e)
		}
		b.WriteString("]")
	case map[string]ast.Value:
		b.WriteString("{")
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(k)
			b.WriteString(": ")
			writeValue(b, val[k])
		}
		b.WriteString("}")
	default:
		fmt.Fprintf(b, "%v", val)
	}
}
