// Package planquery defines the Query Plan tree the planner produces and
// the executor consumes: Fetch, Flatten, Sequence, Parallel, Condition,
// and Subscription nodes. Generalized from the teacher's single-shaped
// federation.Plan (federation/planner.go) into an explicit small closed
// node hierarchy, the shape lib/executor/src/execution/plan.rs assumes.
package planquery

import "github.com/latticeflow/fedrouter/ast"

// NodeKind discriminates the Node tagged union.
type NodeKind int

const (
	KindFetch NodeKind = iota
	KindFlatten
	KindSequence
	KindParallel
	KindCondition
	KindSubscription
)

// Node is one plan tree node. Exactly one of the typed fields matching
// Kind is populated; this mirrors the teacher's preference for a single
// struct carrying a kind tag over a Go interface hierarchy, which keeps
// tree-walking code (execute/, tests) free of type switches on pointer
// identity.
type Node struct {
	Kind NodeKind

	Fetch        *FetchNode
	Flatten      *FlattenNode
	Sequence     *SequenceNode
	Parallel     *ParallelNode
	Condition    *ConditionNode
	Subscription *SubscriptionNode
}

// SegmentKind discriminates a FlattenPath segment.
type SegmentKind int

const (
	SegmentField SegmentKind = iota
	SegmentIndex
	SegmentTypenameEquals
)

// PathSegment is one step of a Flatten path: a field name, an array
// iteration marker ("@"), or a __typename filter.
type PathSegment struct {
	Kind SegmentKind

	FieldName string   // SegmentField
	Typenames []string // SegmentTypenameEquals
}

// FlattenPath is an ordered walk spec over the response tree, built
// bottom-up during planning and walked top-down during execution
// (mirrors the teacher's reversePaths convention in federation/planner.go).
type FlattenPath []PathSegment

// OutputRewriteKind names the declarative rewrite actions applied to a
// Fetch's response, per spec.md §9 ("Output rewrites are
// modeled as a declarative program executed after merge, not inline
// with deserialization").
type OutputRewriteKind int

const (
	RewriteRenameKey OutputRewriteKind = iota
)

// OutputRewrite is one declarative "path ++ guard ++ action" instruction
// applied to a Fetch's response before it is merged into the response
// tree.
type OutputRewrite struct {
	Kind OutputRewriteKind

	// Path locates the object within the fetch response whose key should
	// be rewritten; empty means the response root.
	Path FlattenPath

	// Guard restricts the rewrite to objects whose __typename is one of
	// these names; empty means unconditional.
	Guard []string

	FromKey string
	ToKey   string
}

// InputRewrite reshapes a representation before it is sent to a
// subgraph, e.g. dropping fields the target subgraph's key doesn't use.
type InputRewrite struct {
	Path FlattenPath
	Drop []string
}

// VariableUsage names a variable referenced by a Fetch's operation
// document, so the executor selects only the subset of coerced variables
// the subgraph actually needs.
type VariableUsage struct {
	Name string
}

// FetchNode issues one GraphQL operation against a single subgraph.
type FetchNode struct {
	Subgraph string

	// OperationDocument is the pre-printed subgraph operation text, ready
	// to send with {query, operationName, variables, representations?}.
	OperationDocument string
	OperationName     string

	VariableUsages []VariableUsage

	InputRewrites  []InputRewrite
	OutputRewrites []OutputRewrite

	// Requires is non-nil when this fetch must be wrapped in a Flatten
	// that supplies the entity key selection to project representations
	// against (spec.md §3 invariant).
	Requires ast.SelectionSet

	// IsEntityFetch marks a fetch whose operation document is the
	// `_entities(representations: $representations)` shape.
	IsEntityFetch bool
}

// FlattenNode walks the response tree along Path, projects entity
// representations at each visited position, and wraps a Fetch that
// resolves them.
type FlattenNode struct {
	Path  FlattenPath
	Inner *Node // always Kind == KindFetch
}

// SequenceNode executes children strictly in order, merging the response
// tree after each.
type SequenceNode struct {
	Children []*Node
}

// ParallelNode executes children concurrently; children must be pairwise
// independent in both reads and writes of the response tree.
type ParallelNode struct {
	Children []*Node
}

// ConditionNode picks a branch based on a boolean variable's coerced
// value. Either branch may be nil, meaning "do nothing".
type ConditionNode struct {
	VariableName string
	Then         *Node
	Else         *Node
}

// SubscriptionNode issues a subscription to PrimaryFetch's subgraph and,
// for each event, optionally runs Rest as a fresh mini-execution rooted
// at the event payload (spec.md §4.4, §9 "Subscription entity resolution").
type SubscriptionNode struct {
	PrimaryFetch *Node // always Kind == KindFetch
	Rest         *Node // nil if the event needs no further resolution
}

// Plan is the immutable output of planning: a root node plus the root
// operation kind. It carries no response-shape metadata; projection
// walks the client's operation (see execute/projection.go).
type Plan struct {
	Root *Node

	// RootOperationKind records whether this plan serves a query,
	// mutation, or subscription, since the executor's top-level dispatch
	// (single response vs. stream) depends on it.
	RootOperationKind ast.OperationKind
}

func newNode(kind NodeKind) *Node { return &Node{Kind: kind} }

// NewFetch wraps a FetchNode in a Node.
func NewFetch(f *FetchNode) *Node {
	n := newNode(KindFetch)
	n.Fetch = f
	return n
}

// NewFlatten wraps a FlattenNode in a Node.
func NewFlatten(f *FlattenNode) *Node {
	n := newNode(KindFlatten)
	n.Flatten = f
	return n
}

// NewSequence wraps a SequenceNode in a Node.
func NewSequence(children ...*Node) *Node {
	n := newNode(KindSequence)
	n.Sequence = &SequenceNode{Children: children}
	return n
}

// NewParallel wraps a ParallelNode in a Node.
func NewParallel(children ...*Node) *Node {
	n := newNode(KindParallel)
	n.Parallel = &ParallelNode{Children: children}
	return n
}

// NewCondition wraps a ConditionNode in a Node.
func NewCondition(c *ConditionNode) *Node {
	n := newNode(KindCondition)
	n.Condition = c
	return n
}

// NewSubscription wraps a SubscriptionNode in a Node.
func NewSubscription(s *SubscriptionNode) *Node {
	n := newNode(KindSubscription)
	n.Subscription = s
	return n
}
