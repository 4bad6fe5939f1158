package planner

import (
	"sort"

	"github.com/latticeflow/fedrouter/ast"
	"github.com/latticeflow/fedrouter/planquery"
	"github.com/latticeflow/fedrouter/supergraph"
)

// remoteField bundles a selection destined for a subgraph other than
// currentService along with the requires-chain bookkeeping needed by the
// wave scheduler.
type remoteField struct {
	sel      ast.Selection
	name     string
	requires []string // required field names, resolved against typ
}

// planObjectBody plans every selection against one object/interface type
// as seen from currentService. It returns:
//   - localSel: the selection set to print into currentService's own
//     fetch (fields resolvable there, recursively planned)
//   - after: a single node (possibly a Sequence of Parallel waves) that
//     must run once currentService's fetch has landed, or nil
//   - rewrites: output rewrites (alias fixups) scoped to this level,
//     relative to the eventual enclosing Fetch's response root
func (p *Planner) planObjectBody(typ *supergraph.Type, sels ast.SelectionSet, currentService string, varDefs []ast.VariableDefinition) (ast.SelectionSet, *planquery.Node, []planquery.OutputRewrite, error) {
	var localSel ast.SelectionSet
	var localAfters []*planquery.Node
	var rewrites []planquery.OutputRewrite
	var remotes []remoteField

	for _, sel := range sels {
		switch {
		case sel.Field != nil:
			f := sel.Field
			if f.Name == "__typename" {
				localSel = append(localSel, sel)
				continue
			}
			sg := p.selectService(typ, f.Name, currentService)
			if sg == "" {
				return nil, nil, nil, planErr(nil, "field %q on type %q is not resolvable by any subgraph", f.Name, typ.Name)
			}
			if sg == currentService {
				newField, childAfter, childRewrites, err := p.planField(typ, f, currentService, varDefs)
				if err != nil {
					return nil, nil, nil, err
				}
				localSel = append(localSel, ast.Selection{Field: newField})
				if childAfter != nil {
					localAfters = append(localAfters, prependField(childAfter, f, typ))
				}
				rewrites = append(rewrites, prependRewrites(childRewrites, f, typ)...)
				continue
			}
			fieldDef := typ.Fields[f.Name]
			remotes = append(remotes, remoteField{
				sel:      sel,
				name:     f.Name,
				requires: selectionNames(fieldDef.Requires),
			})

		case sel.InlineFragment != nil:
			frag := sel.InlineFragment
			concreteType, ok := p.state.LookupType(frag.TypeCondition)
			if !ok {
				return nil, nil, nil, planErr(nil, "unknown type condition %q", frag.TypeCondition)
			}
			innerSel, innerAfter, innerRewrites, err := p.planObjectBody(concreteType, frag.Selections, currentService, varDefs)
			if err != nil {
				return nil, nil, nil, err
			}
			newFrag := *frag
			newFrag.Selections = innerSel
			localSel = append(localSel, ast.Selection{InlineFragment: &newFrag})
			if innerAfter != nil {
				localAfters = append(localAfters, innerAfter)
			}
			rewrites = append(rewrites, innerRewrites...)
		}
	}

	detected := p.detectAliasConflictsIn(&localSel)
	if len(detected) > 0 {
		ensureFieldSelected(&localSel, "__typename")
	}
	rewrites = append(rewrites, detected...)

	waveNode, waveErr := p.scheduleRemoteWaves(typ, remotes, currentService, &localSel, varDefs)
	if waveErr != nil {
		return nil, nil, nil, waveErr
	}
	if waveNode != nil {
		localAfters = append(localAfters, waveNode)
	}

	combined := combineAfters(localAfters)
	return localSel, combined, rewrites, nil
}

// planField recurses into a single field's own selection set (if any),
// still within currentService.
func (p *Planner) planField(typ *supergraph.Type, f *ast.Field, currentService string, varDefs []ast.VariableDefinition) (*ast.Field, *planquery.Node, []planquery.OutputRewrite, error) {
	newField := *f
	if len(f.Selections) == 0 {
		return &newField, nil, nil, nil
	}
	fieldDef := typ.Fields[f.Name]
	childType, ok := p.state.LookupType(fieldDef.Type.Named())
	if !ok {
		return nil, nil, nil, planErr(nil, "field %q has unknown return type %q", f.Name, fieldDef.Type.Named())
	}
	childSel, childAfter, childRewrites, err := p.planObjectBody(childType, f.Selections, currentService, varDefs)
	if err != nil {
		return nil, nil, nil, err
	}
	newField.Selections = childSel
	return &newField, childAfter, childRewrites, nil
}

// scheduleRemoteWaves implements spec.md §4.1 rules 2-4: fields not
// resolvable at currentService are grouped by target subgraph and
// scheduled into dependency-ordered waves so that a field's @requires
// selection is always satisfied by an earlier wave (or by currentService
// itself) before its fetch runs.
func (p *Planner) scheduleRemoteWaves(typ *supergraph.Type, remotes []remoteField, currentService string, localSel *ast.SelectionSet, varDefs []ast.VariableDefinition) (*planquery.Node, error) {
	if len(remotes) == 0 {
		return nil, nil
	}

	remotes = closeOverTransitiveRequires(p.state, typ, remotes, currentService)

	groups := map[string][]remoteField{}
	for _, rf := range remotes {
		sg := p.selectService(typ, rf.name, "")
		groups[sg] = append(groups[sg], rf)
	}

	resolved := map[string]bool{}
	var waves []*planquery.Node

	pending := groups
	for len(pending) > 0 {
		ready := map[string][]remoteField{}
		for sg, fields := range pending {
			allReady := true
			for _, rf := range fields {
				for _, req := range rf.requires {
					if isResolvableLocally(typ, req, currentService) {
						ensureFieldSelected(localSel, req)
						continue
					}
					if !resolved[req] {
						allReady = false
					}
				}
			}
			if allReady {
				ready[sg] = fields
			}
		}
		if len(ready) == 0 {
			return nil, planErr(nil, "unsatisfiable @requires chain on type %q", typ.Name)
		}

		var waveFetches []*planquery.Node
		sgNames := make([]string, 0, len(ready))
		for sg := range ready {
			sgNames = append(sgNames, sg)
		}
		sort.Strings(sgNames)
		for _, sg := range sgNames {
			fields := ready[sg]
			node, err := p.buildEntityHop(typ, sg, fields, currentService, varDefs)
			if err != nil {
				return nil, err
			}
			waveFetches = append(waveFetches, node)
			for _, s := range node.Flatten.Inner.Fetch.Requires {
				if s.Field.Name == "__typename" || isResolvableLocally(typ, s.Field.Name, currentService) {
					ensureFieldSelected(localSel, s.Field.Name)
				}
			}
			for _, rf := range fields {
				resolved[rf.name] = true
			}
			delete(pending, sg)
		}
		if len(waveFetches) == 1 {
			waves = append(waves, waveFetches[0])
		} else {
			waves = append(waves, planquery.NewParallel(waveFetches...))
		}
	}

	if len(waves) == 1 {
		return waves[0], nil
	}
	return planquery.NewSequence(waves...), nil
}

// buildEntityHop builds a Flatten(Fetch) node resolving `fields` for typ
// on subgraph sg, using typ's entity key to build the representation.
// The Flatten's Path is left empty here; callers prepend the ancestor
// field path as results bubble up (see prependField).
func (p *Planner) buildEntityHop(typ *supergraph.Type, sg string, fields []remoteField, currentService string, varDefs []ast.VariableDefinition) (*planquery.Node, error) {
	key, ok := typ.KeyFor(sg)
	if !ok {
		key, ok = typ.KeyFor(currentService)
	}
	if !ok {
		return nil, planErr(nil, "type %q has no entity key usable to resolve fields on subgraph %q", typ.Name, sg)
	}

	requiresSel := keySelectionToAST(key)
	seenRequires := map[string]bool{}
	for _, s := range requiresSel {
		seenRequires[s.Field.Name] = true
	}
	for _, rf := range fields {
		for _, req := range rf.requires {
			if !seenRequires[req] {
				requiresSel = append(requiresSel, ast.Selection{Field: &ast.Field{Name: req}})
				seenRequires[req] = true
			}
		}
	}

	var fieldSels ast.SelectionSet
	for _, rf := range fields {
		newField, childAfter, childRewrites, err := p.planField(typ, rf.sel.Field, sg, varDefs)
		if err != nil {
			return nil, err
		}
		fieldSels = append(fieldSels, ast.Selection{Field: newField})
		if childAfter != nil {
			return nil, planErr(nil, "nested entity hops beyond one level of @requires are not supported for field %q", rf.name)
		}
		_ = childRewrites
	}

	doc, varUsages := printEntityFetchOperation(typ.Name, requiresSel, fieldSels, varDefs)
	fetch := planquery.NewFetch(&planquery.FetchNode{
		Subgraph:          sg,
		OperationDocument: doc,
		OperationName:     "EntityFetch",
		VariableUsages:    varUsages,
		Requires:          requiresSel,
		IsEntityFetch:     true,
	})
	return planquery.NewFlatten(&planquery.FlattenNode{Path: planquery.FlattenPath{}, Inner: fetch}), nil
}

func isResolvableLocally(typ *supergraph.Type, fieldName, currentService string) bool {
	f, ok := typ.Fields[fieldName]
	if !ok {
		return false
	}
	for _, sg := range f.Subgraphs {
		if sg == currentService {
			return true
		}
	}
	return false
}

// closeOverTransitiveRequires discovers fields that must be fetched
// solely to satisfy another field's @requires even though the client
// never asked for them, and adds synthetic remoteField entries for any
// that aren't resolvable at currentService. Fixed-point with a generous
// bound; exceeding it indicates a cyclic requires chain.
func closeOverTransitiveRequires(state *supergraph.State, typ *supergraph.Type, remotes []remoteField, currentService string) []remoteField {
	known := map[string]bool{}
	for _, rf := range remotes {
		known[rf.name] = true
	}

	maxRounds := len(typ.Fields) + 4
	for round := 0; round < maxRounds; round++ {
		added := false
		for _, rf := range remotes {
			for _, req := range rf.requires {
				if known[req] || isResolvableLocally(typ, req, currentService) {
					continue
				}
				fieldDef, ok := typ.Fields[req]
				if !ok {
					continue
				}
				known[req] = true
				remotes = append(remotes, remoteField{
					sel:      ast.Selection{Field: &ast.Field{Name: req}},
					name:     req,
					requires: selectionNames(fieldDef.Requires),
				})
				added = true
			}
		}
		if !added {
			break
		}
	}
	return remotes
}

func selectionNames(sel []supergraph.KeySelection) []string {
	out := make([]string, len(sel))
	for i, s := range sel {
		out[i] = s.Name
	}
	return out
}

func keySelectionToAST(key []supergraph.KeySelection) ast.SelectionSet {
	out := make(ast.SelectionSet, 0, len(key)+1)
	out = append(out, ast.Selection{Field: &ast.Field{Name: "__typename"}})
	for _, k := range key {
		out = append(out, ast.Selection{Field: &ast.Field{Name: k.Name}})
	}
	return out
}

func ensureFieldSelected(sel *ast.SelectionSet, name string) {
	for _, s := range *sel {
		if s.Field != nil && s.Field.ResponseKey() == name {
			return
		}
	}
	*sel = append(*sel, ast.Selection{Field: &ast.Field{Name: name}})
}

// prependField deep-applies a field (and, if its type is a list, an
// array-iteration step) to the front of every Flatten path reachable
// inside n, converting a bottom-up-built after-node into one relative to
// the parent's own response position.
func prependField(n *planquery.Node, f *ast.Field, parentType *supergraph.Type) *planquery.Node {
	fieldDef := parentType.Fields[f.Name]
	segs := []planquery.PathSegment{{Kind: planquery.SegmentField, FieldName: f.ResponseKey()}}
	if fieldDef != nil && fieldDef.Type.ListOf != nil {
		segs = append(segs, planquery.PathSegment{Kind: planquery.SegmentIndex})
	}
	prependPath(n, segs)
	return n
}

func prependPath(n *planquery.Node, segs []planquery.PathSegment) {
	switch n.Kind {
	case planquery.KindFlatten:
		n.Flatten.Path = append(append(planquery.FlattenPath{}, segs...), n.Flatten.Path...)
	case planquery.KindSequence:
		for _, c := range n.Sequence.Children {
			prependPath(c, segs)
		}
	case planquery.KindParallel:
		for _, c := range n.Parallel.Children {
			prependPath(c, segs)
		}
	case planquery.KindCondition:
		if n.Condition.Then != nil {
			prependPath(n.Condition.Then, segs)
		}
		if n.Condition.Else != nil {
			prependPath(n.Condition.Else, segs)
		}
	}
}

func prependRewrites(rewrites []planquery.OutputRewrite, f *ast.Field, parentType *supergraph.Type) []planquery.OutputRewrite {
	if len(rewrites) == 0 {
		return nil
	}
	fieldDef := parentType.Fields[f.Name]
	segs := []planquery.PathSegment{{Kind: planquery.SegmentField, FieldName: f.ResponseKey()}}
	if fieldDef != nil && fieldDef.Type.ListOf != nil {
		segs = append(segs, planquery.PathSegment{Kind: planquery.SegmentIndex})
	}
	out := make([]planquery.OutputRewrite, len(rewrites))
	for i, r := range rewrites {
		r.Path = append(append(planquery.FlattenPath{}, segs...), r.Path...)
		out[i] = r
	}
	return out
}

// combineAfters merges sibling after-nodes into one: nil if empty, the
// single node if there's exactly one, or a Parallel wrapping all of them
// since sibling fields occupy disjoint response-tree regions by
// construction.
func combineAfters(nodes []*planquery.Node) *planquery.Node {
	switch len(nodes) {
	case 0:
		return nil
	case 1:
		return nodes[0]
	default:
		return planquery.NewParallel(nodes...)
	}
}
