package authz

import (
	"github.com/latticeflow/fedrouter/ast"
	"github.com/latticeflow/fedrouter/supergraph"
)

// Mode selects what happens when the rewrite finds denied paths.
type Mode string

const (
	ModeSkip   Mode = "skip"
	ModeReject Mode = "reject"
)

// AuthorizationError names one response path the caller is not entitled
// to see. Its GraphQL-visible code is always UNAUTHORIZED_FIELD_OR_TYPE.
type AuthorizationError struct {
	Path []string
}

// DecisionKind discriminates the three possible Rewrite outcomes.
type DecisionKind int

const (
	DecisionNoChange DecisionKind = iota
	DecisionModified
	DecisionReject
)

// Decision is the result of Engine.Rewrite.
type Decision struct {
	Kind         DecisionKind
	NewOperation *ast.Operation // set only for DecisionModified
	Errors       []AuthorizationError
}

// Engine intersects a normalized operation with a caller's principal and
// the schema's authorization rules.
type Engine struct {
	metadata *Metadata
}

// NewEngine builds an Engine over pre-distilled authorization metadata.
func NewEngine(m *Metadata) *Engine {
	return &Engine{metadata: m}
}

// Rewrite runs the authorization algorithm described in spec.md §4.3 /
// authorization.rs: walk the operation tracking response path, check
// type and field rules, collect denied paths into a trie, and either
// pass the operation through unchanged, reject outright, or rebuild it
// with denied subtrees pruned.
func (e *Engine) Rewrite(op *ast.Operation, vars map[string]interface{}, user UserAuthContext, mode Mode, state *supergraph.State) (Decision, error) {
	trie := NewTrie()
	typeCache := map[string]bool{}

	errs := e.collect(op.Selections, op.RootTypeName, nil, vars, user, state, trie, typeCache)

	if !trie.HasDeniedPaths() {
		return Decision{Kind: DecisionNoChange}, nil
	}
	if mode == ModeReject {
		return Decision{Kind: DecisionReject, Errors: errs}, nil
	}

	rebuilt := e.rebuild(op.Selections, trie.Root(), trie)
	newOp := *op
	newOp.Selections = rebuilt
	return Decision{Kind: DecisionModified, NewOperation: &newOp, Errors: errs}, nil
}

func (e *Engine) collect(
	sels ast.SelectionSet,
	parentType string,
	path []string,
	vars map[string]interface{},
	user UserAuthContext,
	state *supergraph.State,
	trie *Trie,
	typeCache map[string]bool,
) []AuthorizationError {
	var errs []AuthorizationError

	for _, sel := range sels {
		switch {
		case sel.Field != nil:
			f := sel.Field
			if directiveHidesSelection(f.SkipIf, f.IncludeIf, vars) {
				continue
			}
			fieldPath := appendPath(path, f.ResponseKey())
			childType := childParentType(state, parentType, f.Name)

			if !e.typeAuthorized(childType, user, typeCache) {
				trie.MarkDenied(fieldPath)
				errs = append(errs, AuthorizationError{Path: fieldPath})
				continue
			}
			if !e.fieldAuthorized(parentType, f.Name, user) {
				trie.MarkDenied(fieldPath)
				errs = append(errs, AuthorizationError{Path: fieldPath})
				continue
			}
			if len(f.Selections) == 0 {
				continue
			}
			errs = append(errs, e.collect(f.Selections, childType, fieldPath, vars, user, state, trie, typeCache)...)

		case sel.InlineFragment != nil:
			frag := sel.InlineFragment
			if directiveHidesSelection(frag.SkipIf, frag.IncludeIf, vars) {
				continue
			}
			errs = append(errs, e.collect(frag.Selections, frag.TypeCondition, path, vars, user, state, trie, typeCache)...)
		}
	}
	return errs
}

func (e *Engine) rebuild(sels ast.SelectionSet, trieNode int, trie *Trie) ast.SelectionSet {
	var out ast.SelectionSet

	for _, sel := range sels {
		switch {
		case sel.Field != nil:
			f := sel.Field
			child, denied, found := trie.Child(trieNode, f.ResponseKey())
			if found && denied {
				continue
			}
			newField := *f
			if !found {
				out = append(out, ast.Selection{Field: &newField})
				continue
			}
			if len(f.Selections) > 0 {
				rebuilt := e.rebuild(f.Selections, child, trie)
				if len(rebuilt) == 0 {
					continue // composite field whose subtree became empty
				}
				newField.Selections = rebuilt
			}
			out = append(out, ast.Selection{Field: &newField})

		case sel.InlineFragment != nil:
			frag := sel.InlineFragment
			rebuilt := e.rebuild(frag.Selections, trieNode, trie)
			if len(rebuilt) == 0 {
				continue
			}
			newFrag := *frag
			newFrag.Selections = rebuilt
			out = append(out, ast.Selection{InlineFragment: &newFrag})
		}
	}
	return out
}

// typeAuthorized checks the output type rule, memoized once per type per
// request as required by the algorithm (step 2).
func (e *Engine) typeAuthorized(typeName string, user UserAuthContext, cache map[string]bool) bool {
	if ok, cached := cache[typeName]; cached {
		return ok
	}
	r, has := e.metadata.typeRule(typeName)
	authorized := !has || r.satisfiedBy(user)
	cache[typeName] = authorized
	return authorized
}

func (e *Engine) fieldAuthorized(parentType, fieldName string, user UserAuthContext) bool {
	r, has := e.metadata.fieldRule(parentType, fieldName)
	if !has {
		return true
	}
	return r.satisfiedBy(user)
}

func childParentType(state *supergraph.State, parentType, fieldName string) string {
	t, ok := state.LookupType(parentType)
	if !ok || t.Fields == nil {
		return ""
	}
	f, ok := t.Fields[fieldName]
	if !ok {
		return ""
	}
	return f.Type.Named()
}

func directiveHidesSelection(skipIf, includeIf string, vars map[string]interface{}) bool {
	if skipIf != "" && evalBoolVar(vars, skipIf) {
		return true
	}
	if includeIf != "" && !evalBoolVar(vars, includeIf) {
		return true
	}
	return false
}

func evalBoolVar(vars map[string]interface{}, name string) bool {
	v, ok := vars[name]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

func appendPath(path []string, seg string) []string {
	next := make([]string, len(path)+1)
	copy(next, path)
	next[len(path)] = seg
	return next
}
