package supergraph

import "github.com/samsarahq/go/oops"

// SubgraphSchema is the per-subgraph input to composition: a parsed SDL
// type map plus the federation directive data extracted from it. Building
// this from subgraph introspection or SDL text is an external-collaborator
// concern (cmd/routerd builds these from a YAML document); this package
// only defines the shape composition consumes and the merge itself,
// mirroring federation/schema.go's separation between parseSchema (per
// service) and convertSchema (merged result).
type SubgraphSchema struct {
	Name                 string
	QueryTypeName        string
	MutationTypeName     string
	SubscriptionTypeName string
	Types                map[string]*Type
}

// Compose merges N subgraph schemas into one State, following the
// teacher's validateFederationKeys two-pass shape: first union every
// type and field across subgraphs, then validate that @key/@requires
// references resolve. It does not implement full federation satisfiability
// checking (left to the external composition tool per spec §1's external
// collaborator boundary) -- it assumes the inputs are already a valid
// composition and builds the fast-lookup indexes the planner needs.
func Compose(schemas []SubgraphSchema) (*State, error) {
	if len(schemas) == 0 {
		return nil, oops.Errorf("supergraph: compose requires at least one subgraph schema")
	}

	state := NewState()
	state.QueryTypeName = schemas[0].QueryTypeName
	state.MutationTypeName = schemas[0].MutationTypeName
	state.SubscriptionTypeName = schemas[0].SubscriptionTypeName

	for _, sg := range schemas {
		for name, t := range sg.Types {
			existing, ok := state.types[name]
			if !ok {
				clone := cloneType(t)
				state.types[name] = clone
				continue
			}
			if err := mergeTypeInto(existing, t, sg.Name); err != nil {
				return nil, oops.Wrapf(err, "supergraph: merging type %q from subgraph %q", name, sg.Name)
			}
		}
	}

	if err := state.Finalize(); err != nil {
		return nil, oops.Wrapf(err, "supergraph: finalize")
	}
	if err := state.validateKeysAndRequires(); err != nil {
		return nil, oops.Wrapf(err, "supergraph: validation")
	}
	return state, nil
}

func cloneType(t *Type) *Type {
	clone := *t
	if t.Fields != nil {
		clone.Fields = make(map[string]*Field, len(t.Fields))
		for k, f := range t.Fields {
			fc := *f
			clone.Fields[k] = &fc
		}
	}
	if t.Keys != nil {
		clone.Keys = make(map[string][]KeySelection, len(t.Keys))
		for k, v := range t.Keys {
			clone.Keys[k] = v
		}
	}
	return &clone
}

// mergeTypeInto merges type t, as seen from subgraph sgName, into an
// already-registered composed type. Object/Interface field sets union;
// a field present in both contributes its subgraph to Subgraphs.
func mergeTypeInto(into, t *Type, sgName string) error {
	if into.Kind != t.Kind {
		return oops.Errorf("type %q has conflicting kinds across subgraphs (%s vs %s)", t.Name, into.Kind, t.Kind)
	}
	switch t.Kind {
	case KindObject, KindInterface:
		if into.Fields == nil {
			into.Fields = map[string]*Field{}
		}
		for fname, f := range t.Fields {
			existing, ok := into.Fields[fname]
			if !ok {
				fc := *f
				fc.Subgraphs = []string{sgName}
				into.Fields[fname] = &fc
				continue
			}
			existing.Subgraphs = appendUnique(existing.Subgraphs, sgName)
			if f.Override != "" {
				existing.Override = f.Override
			}
			if len(f.Requires) > 0 {
				existing.Requires = f.Requires
			}
			if len(f.Provides) > 0 {
				existing.Provides = f.Provides
			}
		}
		for k, v := range t.Keys {
			if into.Keys == nil {
				into.Keys = map[string][]KeySelection{}
			}
			into.Keys[k] = v
		}
		into.Interfaces = appendUniqueAll(into.Interfaces, t.Interfaces)
	case KindUnion:
		into.PossibleTypes = appendUniqueAll(into.PossibleTypes, t.PossibleTypes)
	case KindEnum:
		into.EnumValues = appendUniqueAll(into.EnumValues, t.EnumValues)
	case KindInputObject:
		// input object shape must agree across subgraphs; nothing to merge
	case KindScalar:
		// scalars carry no routing data
	}
	return nil
}

func appendUnique(s []string, v string) []string {
	for _, e := range s {
		if e == v {
			return s
		}
	}
	return append(s, v)
}

func appendUniqueAll(s []string, add []string) []string {
	for _, v := range add {
		s = appendUnique(s, v)
	}
	return s
}

// validateKeysAndRequires checks that every @requires selection names
// fields that actually exist on the declaring field's parent type, and
// that every entity key field exists too -- catching composition bugs
// early rather than surfacing them as confusing planner failures later.
func (s *State) validateKeysAndRequires() error {
	for _, t := range s.types {
		if t.Kind != KindObject {
			continue
		}
		for sgName, key := range t.Keys {
			if err := validateSelectionAgainstType(t, key); err != nil {
				return oops.Wrapf(err, "type %q key from subgraph %q", t.Name, sgName)
			}
		}
		for fname, f := range t.Fields {
			if len(f.Requires) == 0 {
				continue
			}
			if err := validateSelectionAgainstType(t, f.Requires); err != nil {
				return oops.Wrapf(err, "type %q field %q requires", t.Name, fname)
			}
		}
	}
	return nil
}

func validateSelectionAgainstType(t *Type, sel []KeySelection) error {
	for _, s := range sel {
		f, ok := t.Fields[s.Name]
		if !ok {
			return oops.Errorf("field %q not found on type %q", s.Name, t.Name)
		}
		if len(s.Sub) == 0 {
			continue
		}
		_ = f // nested validation would resolve f.Type.NamedType; left to the composer
	}
	return nil
}
