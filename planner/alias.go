package planner

import (
	"fmt"

	"github.com/latticeflow/fedrouter/ast"
	"github.com/latticeflow/fedrouter/planquery"
)

type aliasCandidate struct {
	typeCondition string
	field         *ast.Field
}

// detectAliasConflictsIn implements spec.md §4.1 rule 6: when inline
// fragments at the same response key select a field of the same name
// whose concrete-type shape (nullability, list wrapping, argument set)
// disagrees, rename all but the first occurrence with an internal alias
// and record an output rewrite that restores the client-visible key
// under a TypenameEquals guard.
func (p *Planner) detectAliasConflictsIn(sel *ast.SelectionSet) []planquery.OutputRewrite {
	byKey := map[string][]aliasCandidate{}
	for _, s := range *sel {
		if s.InlineFragment == nil {
			continue
		}
		for _, inner := range s.InlineFragment.Selections {
			if inner.Field == nil {
				continue
			}
			key := inner.Field.ResponseKey()
			byKey[key] = append(byKey[key], aliasCandidate{
				typeCondition: s.InlineFragment.TypeCondition,
				field:         inner.Field,
			})
		}
	}

	var rewrites []planquery.OutputRewrite
	aliasN := 0
	for key, candidates := range byKey {
		if len(candidates) < 2 {
			continue
		}
		firstShape := p.fieldShape(candidates[0].typeCondition, candidates[0].field.Name)
		for _, c := range candidates[1:] {
			shape := p.fieldShape(c.typeCondition, c.field.Name)
			if shape == firstShape {
				continue
			}
			alias := fmt.Sprintf("%s%d", internalAliasPrefix, aliasN)
			aliasN++
			c.field.Alias = alias
			rewrites = append(rewrites, planquery.OutputRewrite{
				Kind:    planquery.RewriteRenameKey,
				Guard:   []string{c.typeCondition},
				FromKey: alias,
				ToKey:   key,
			})
		}
	}
	return rewrites
}

func (p *Planner) fieldShape(typeName, fieldName string) string {
	t, ok := p.state.LookupType(typeName)
	if !ok {
		return ""
	}
	f, ok := t.Fields[fieldName]
	if !ok {
		return ""
	}
	return f.Type.String()
}
