// Package authz implements the Authorization Rewrite Engine: it distills
// authorization directives out of the composed schema once at startup
// (Metadata) and, per request, intersects a normalized operation with the
// caller's principal to either pass it through unchanged, rewrite it with
// denied paths stripped, or reject it outright. Ported from the
// AuthorizationMetadata / apply_authorization_to_operation design in
// bin/router/src/pipeline/authorization.rs, since spec.md's own text for
// this component is itself a summary of that source.
package authz

import (
	"sort"

	"github.com/latticeflow/fedrouter/supergraph"
)

// ScopeID is an interned scope string, matching the original's
// Rodeo-backed interner. The teacher has no string interner of its own;
// this is new code grounded directly on the original source.
type ScopeID int

// rule is the distilled per-type or per-field authorization check.
type rule struct {
	authenticated  bool
	requiresScopes [][]ScopeID // DNF: satisfied if any inner slice is a subset of the caller's scopes
}

func (r rule) isEmpty() bool {
	return !r.authenticated && len(r.requiresScopes) == 0
}

// Metadata is the immutable, process-wide authorization index built once
// from supergraph.State at startup.
type Metadata struct {
	scopeIDs   map[string]ScopeID
	scopeNames []string

	typeRules  map[string]rule
	fieldRules map[string]map[string]rule // parentType -> fieldName -> rule
}

// BuildMetadata distills authorization rules out of a composed schema.
// Neither composition nor this function validates @requiresScopes
// arguments; every scope string is accepted as given, and this function
// never returns a non-nil error.
func BuildMetadata(state *supergraph.State) (*Metadata, error) {
	m := &Metadata{
		scopeIDs:   map[string]ScopeID{},
		typeRules:  map[string]rule{},
		fieldRules: map[string]map[string]rule{},
	}
	for _, name := range state.AllTypeNames() {
		t, _ := state.LookupType(name)
		if !t.Auth.IsEmpty() {
			m.typeRules[name] = m.buildRule(t.Auth)
		}
		if t.Kind != supergraph.KindObject && t.Kind != supergraph.KindInterface {
			continue
		}
		fieldNames := make([]string, 0, len(t.Fields))
		for fn := range t.Fields {
			fieldNames = append(fieldNames, fn)
		}
		sort.Strings(fieldNames)
		for _, fn := range fieldNames {
			f := t.Fields[fn]
			if f.Auth.IsEmpty() {
				continue
			}
			if m.fieldRules[name] == nil {
				m.fieldRules[name] = map[string]rule{}
			}
			m.fieldRules[name][fn] = m.buildRule(f.Auth)
		}
	}
	return m, nil
}

func (m *Metadata) buildRule(a supergraph.AuthDirectives) rule {
	r := rule{authenticated: a.Authenticated}
	for _, group := range a.RequiresScopes {
		ids := make([]ScopeID, len(group))
		for i, s := range group {
			ids[i] = m.intern(s)
		}
		r.requiresScopes = append(r.requiresScopes, ids)
	}
	return r
}

func (m *Metadata) intern(s string) ScopeID {
	if id, ok := m.scopeIDs[s]; ok {
		return id
	}
	id := ScopeID(len(m.scopeNames))
	m.scopeNames = append(m.scopeNames, s)
	m.scopeIDs[s] = id
	return id
}

// typeRule returns the rule attached directly to a type, if any.
func (m *Metadata) typeRule(name string) (rule, bool) {
	r, ok := m.typeRules[name]
	return r, ok
}

// fieldRule returns the rule attached to (parentType, field), if any.
func (m *Metadata) fieldRule(parentType, field string) (rule, bool) {
	fields, ok := m.fieldRules[parentType]
	if !ok {
		return rule{}, false
	}
	r, ok := fields[field]
	return r, ok
}

// UserAuthContext is the per-request principal: authenticated flag plus
// the interned subset of the caller's scopes the schema actually knows
// about. Unknown scopes are dropped at construction since they cannot
// satisfy any schema rule (step 1 of the algorithm).
type UserAuthContext struct {
	IsAuthenticated bool
	scopeIDs        map[ScopeID]struct{}
}

// NewUserAuthContext interns the caller's raw scope strings against m,
// silently dropping any the schema never declared.
func (m *Metadata) NewUserAuthContext(isAuthenticated bool, scopes []string) UserAuthContext {
	ctx := UserAuthContext{IsAuthenticated: isAuthenticated, scopeIDs: map[ScopeID]struct{}{}}
	for _, s := range scopes {
		if id, ok := m.scopeIDs[s]; ok {
			ctx.scopeIDs[id] = struct{}{}
		}
	}
	return ctx
}

func (r rule) satisfiedBy(ctx UserAuthContext) bool {
	if r.authenticated && !ctx.IsAuthenticated {
		return false
	}
	if len(r.requiresScopes) == 0 {
		return true
	}
	for _, group := range r.requiresScopes {
		allPresent := true
		for _, id := range group {
			if _, ok := ctx.scopeIDs[id]; !ok {
				allPresent = false
				break
			}
		}
		if allPresent {
			return true
		}
	}
	return false
}
