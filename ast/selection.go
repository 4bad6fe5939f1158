// Package ast defines the normalized operation form consumed by the planner
// and authorization engine: fragment spreads inlined, skip/include lifted to
// variable references, and argument order canonicalized. See normalize for
// the pass that produces this form from a parsed gqlparser document.
package ast

// Value is a coerced or still-variable-referencing argument value. Scalars,
// enums, lists, and input objects are represented as their corresponding Go
// values (string, float64, bool, nil, []Value, map[string]Value); a variable
// reference is carried as VariableRef.
type Value interface{}

// VariableRef marks an argument value that must be resolved from the
// request's coerced variables at execution time.
type VariableRef struct {
	Name string
}

// Argument is a single name/value pair in canonical (sorted-by-name) order.
type Argument struct {
	Name  string
	Value Value
}

// Arguments is kept as a slice rather than a map so canonicalized order
// is preserved for deterministic subgraph operation printing.
type Arguments []Argument

// Lookup returns the argument value for name, if present.
func (a Arguments) Lookup(name string) (Value, bool) {
	for _, arg := range a {
		if arg.Name == name {
			return arg.Value, true
		}
	}
	return nil, false
}

// Selection is one item of a normalized selection set: either a Field or an
// InlineFragment. Fragment spreads never appear post-normalization.
type Selection struct {
	Field          *Field
	InlineFragment *InlineFragment
}

// IsField reports whether this selection is a field (as opposed to an inline fragment).
func (s *Selection) IsField() bool { return s.Field != nil }

// Field is a single field selection, normalized so that every response key
// (alias or name) appears exactly once per selection set.
type Field struct {
	Name      string
	Alias     string
	Arguments Arguments

	// SkipIf/IncludeIf name the boolean variable that must be evaluated
	// against the request's coerced variables to decide whether this
	// field is present. Empty string means the directive wasn't present.
	SkipIf    string
	IncludeIf string

	// ParentType is the concrete object/interface type name this field
	// is selected against; set by the normalizer so later passes never
	// need to re-resolve it from the schema.
	ParentType string

	Selections SelectionSet
}

// ResponseKey returns the key this field occupies in the response object.
func (f *Field) ResponseKey() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// InlineFragment selects a concrete type's fields conditionally. Since
// fragment spreads are inlined at normalization time, only type-conditioned
// inline fragments with live conditions survive into this form.
type InlineFragment struct {
	TypeCondition string

	SkipIf    string
	IncludeIf string

	Selections SelectionSet
}

// SelectionSet is an ordered sequence of selection items.
type SelectionSet []Selection

// Fields returns the Field selections directly in this set (not recursing
// into inline fragments).
func (s SelectionSet) Fields() []*Field {
	var out []*Field
	for _, sel := range s {
		if sel.Field != nil {
			out = append(out, sel.Field)
		}
	}
	return out
}

// OperationKind distinguishes query/mutation/subscription operations.
type OperationKind string

const (
	OperationQuery        OperationKind = "query"
	OperationMutation     OperationKind = "mutation"
	OperationSubscription OperationKind = "subscription"
)

// VariableDefinition carries a client-declared variable's name and SDL
// type text forward from the original operation document, so the
// planner can reprint syntactically valid variable declarations on the
// subgraph operations it emits without re-resolving types from scratch.
type VariableDefinition struct {
	Name string
	Type string // SDL type reference text, e.g. "String!", "[ID!]"
}

// Operation is the normalized form of a client operation: the form the
// planner and authorization engine both consume.
type Operation struct {
	Name                string
	Kind                OperationKind
	RootTypeName        string
	VariableDefinitions []VariableDefinition
	Selections          SelectionSet
}
