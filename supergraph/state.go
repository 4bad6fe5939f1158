package supergraph

import (
	"fmt"
	"sort"

	"github.com/samsarahq/go/oops"
)

// State is the composed, indexed view over every subgraph schema: the
// thing built once at startup and shared immutably thereafter. Grounded
// on federation/schema.go's serviceSchemas/SchemaWithFederationInfo,
// generalized from "N independent thunder schemas merged by convention"
// to an explicit federation-directive-driven composition.
type State struct {
	// Subgraphs lists every subgraph name in a stable, deterministic
	// order (sorted), used for tie-breaking (§4.1 rule 7c).
	Subgraphs []string

	QueryTypeName        string
	MutationTypeName     string
	SubscriptionTypeName string

	types map[string]*Type
}

// NewState builds an empty State; types are registered with PutType
// and finalized with Finalize.
func NewState() *State {
	return &State{types: make(map[string]*Type)}
}

// LookupType returns the composed type definition by name, if any.
func (s *State) LookupType(name string) (*Type, bool) {
	t, ok := s.types[name]
	return t, ok
}

// MustLookupType panics on unknown type; used only in contexts where the
// caller has already validated the type exists against the operation
// being planned (planner/authz internal invariant, not a user-facing
// failure path).
func (s *State) MustLookupType(name string) *Type {
	t, ok := s.types[name]
	if !ok {
		panic(fmt.Sprintf("supergraph: unknown type %q", name))
	}
	return t
}

// PutType registers or replaces a composed type definition. Used during
// composition (building State from per-subgraph schemas) and in tests
// that construct a State by hand.
func (s *State) PutType(t *Type) {
	s.types[t.Name] = t
}

// AllTypeNames returns every known type name in sorted order.
func (s *State) AllTypeNames() []string {
	names := make([]string, 0, len(s.types))
	for n := range s.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Finalize computes derived indexes (interface implementation lists,
// sorted Subgraphs) after all types have been registered. Grounded on
// federation/schema.go's two-pass convertSchema (types first, then edges
// that reference other types).
func (s *State) Finalize() error {
	subgraphSet := map[string]struct{}{}
	for _, t := range s.types {
		if t.Kind != KindObject {
			continue
		}
		for _, f := range t.Fields {
			for _, sg := range f.Subgraphs {
				subgraphSet[sg] = struct{}{}
			}
		}
	}
	subgraphs := make([]string, 0, len(subgraphSet))
	for sg := range subgraphSet {
		subgraphs = append(subgraphs, sg)
	}
	sort.Strings(subgraphs)
	s.Subgraphs = subgraphs

	// Interface <-> implementation closure: an object declares the
	// interfaces it implements; the interface's Implementations list is
	// derived, not authored.
	for _, t := range s.types {
		if t.Kind != KindInterface {
			continue
		}
		t.Implementations = t.Implementations[:0]
	}
	objNames := make([]string, 0, len(s.types))
	for n, t := range s.types {
		if t.Kind == KindObject {
			objNames = append(objNames, n)
		}
	}
	sort.Strings(objNames)
	for _, name := range objNames {
		obj := s.types[name]
		for _, ifaceName := range obj.Interfaces {
			iface, ok := s.types[ifaceName]
			if !ok {
				return oops.Errorf("supergraph: object %q implements unknown interface %q", name, ifaceName)
			}
			if iface.Kind != KindInterface {
				return oops.Errorf("supergraph: %q is not an interface", ifaceName)
			}
			iface.Implementations = append(iface.Implementations, name)
		}
	}
	return nil
}

// IsEntity reports whether t carries at least one `@key` selection set.
func (t *Type) IsEntity() bool {
	return len(t.Keys) > 0
}

// ResolvableSubgraphs returns, for a (parentType, fieldName) pair, every
// subgraph that can resolve the field, in the deterministic tie-break
// order used by the planner: the subgraph must appear in Field.Subgraphs.
// When the field is overridden and more than one subgraph lists it, the
// Override source is left out. An empty result means the field is
// unroutable.
func (s *State) ResolvableSubgraphs(parentType, fieldName string) []string {
	t, ok := s.types[parentType]
	if !ok || t.Fields == nil {
		return nil
	}
	f, ok := t.Fields[fieldName]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(f.Subgraphs))
	for _, sg := range f.Subgraphs {
		if sg != f.Override || len(f.Subgraphs) == 1 {
			out = append(out, sg)
		}
	}
	sort.Strings(out)
	return out
}

// KeyFor returns the entity key selection (the set of fields identifying
// the entity) owned by subgraph sg on this type, if the type is an
// entity there.
func (t *Type) KeyFor(sg string) ([]KeySelection, bool) {
	ks, ok := t.Keys[sg]
	if !ok || len(ks) == 0 {
		return nil, false
	}
	return ks, true
}
