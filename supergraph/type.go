// Package supergraph holds the composed-schema metadata the planner and
// authorization engine both read: type definitions, field-to-subgraph
// routing, entity keys, and the federation directive edges
// (requires/provides/override). It is built once at startup and shared
// immutably by every request, mirroring the teacher's
// SchemaWithFederationInfo (federation/schema.go).
package supergraph

// Kind discriminates the tagged Type variant.
type Kind int

const (
	KindScalar Kind = iota
	KindObject
	KindInterface
	KindUnion
	KindEnum
	KindInputObject
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "SCALAR"
	case KindObject:
		return "OBJECT"
	case KindInterface:
		return "INTERFACE"
	case KindUnion:
		return "UNION"
	case KindEnum:
		return "ENUM"
	case KindInputObject:
		return "INPUT_OBJECT"
	default:
		return "UNKNOWN"
	}
}

// Type is a composed-schema type definition. Only the fields relevant to
// its Kind are populated; the rest stay zero-valued, matching the
// teacher's single-struct-per-variant approach rather than an interface
// hierarchy (simpler for the planner's lookups, which always know the
// expected kind from context).
type Type struct {
	Name string
	Kind Kind

	// Object / Interface
	Fields          map[string]*Field
	Interfaces      []string // interfaces this object implements
	Implementations []string // for an Interface: concrete object type names

	// Union
	PossibleTypes []string

	// Enum
	EnumValues []string

	// InputObject
	InputFields map[string]InputField

	// Keys maps owning subgraph name to that subgraph's `@key` selection
	// set (the fields identifying the entity there). A type with no
	// entries here is not an entity.
	Keys map[string][]KeySelection

	// Auth carries the authorization directives attached directly to
	// the type. It is checked for every field whose output type is this
	// type, in addition to that field's own rule.
	Auth AuthDirectives
}

// KeySelection is one flattened field path of an `@key` selection set,
// e.g. `@key(fields: "upc")` -> [{Name: "upc"}], `@key(fields: "id org { id }")`
// -> [{Name: "id"}, {Name: "org", Sub: [{Name: "id"}]}].
type KeySelection struct {
	Name string
	Sub  []KeySelection
}

// InputField is a field of an InputObject type.
type InputField struct {
	Name         string
	Type         TypeRef
	DefaultValue interface{}
}

// TypeRef is a (possibly wrapped) reference to a named type: NonNull and
// List wrap recursively around a NamedType leaf, mirroring GraphQL's own
// type-reference grammar.
type TypeRef struct {
	NamedType string
	NonNull   bool
	ListOf    *TypeRef
}

// Named unwraps List/NonNull wrappers and returns the underlying named
// type, e.g. "[String!]!".Named() == "String".
func (t TypeRef) Named() string {
	r := t
	for r.ListOf != nil {
		r = *r.ListOf
	}
	return r.NamedType
}

// String renders the type reference in SDL form, e.g. "[String!]!".
func (t TypeRef) String() string {
	var s string
	if t.ListOf != nil {
		s = "[" + t.ListOf.String() + "]"
	} else {
		s = t.NamedType
	}
	if t.NonNull {
		s += "!"
	}
	return s
}

// Field is a field definition on an Object or Interface type.
type Field struct {
	Name      string
	Type      TypeRef
	Arguments map[string]InputField

	// Subgraphs lists every subgraph that can resolve this field. For a
	// field with no federation directives this is the single owning
	// subgraph; for a field overridden or shared, it may list more than
	// one, with Override/Provides/Requires disambiguating per-subgraph
	// behavior.
	Subgraphs []string

	// Requires is the (possibly empty) selection set, expressed against
	// the field's parent type, that must be present in the response
	// before a fetch resolving this field can run. Grounded on the
	// teacher's need-key detection in federation/planner.go, generalized
	// from "needs the whole key" to an arbitrary field selection.
	Requires []KeySelection

	// Provides is the selection set this field additionally makes
	// available on its result type when resolved from Subgraphs[0].
	// Composition records it; the planner does not read it, so fields of
	// the result type are routed by their own Subgraphs alone.
	Provides []KeySelection

	// Override names the subgraph this field's resolution was moved
	// from, if any (`@override(from: X)`); empty if not overridden.
	Override string

	Auth AuthDirectives
}

// AuthDirectives captures `@authenticated` / `@requiresScopes` attached to
// a type or field. A DNF scope list is a slice of AND-groups; the rule is
// satisfied if any group's scopes are all present in the caller's scopes.
type AuthDirectives struct {
	Authenticated  bool
	RequiresScopes [][]string // DNF: OR of AND-groups, raw scope strings
}

// IsEmpty reports whether no authorization directives apply.
func (a AuthDirectives) IsEmpty() bool {
	return !a.Authenticated && len(a.RequiresScopes) == 0
}
