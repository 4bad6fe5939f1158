package authz

// pathNode is one node of the UnauthorizedPathTree arena. Children are
// keyed by interned path segment; a node is itself "denied" only if a
// path terminating exactly there was marked so -- an ancestor exists
// purely as a waypoint to a denied descendant unless it was independently
// denied too.
type pathNode struct {
	children map[uint32]int
	isDenied bool
}

// Trie is an arena of pathNode; node 0 is root, matching spec.md's
// "Unauthorized Path Trie" data model and ported directly from
// UnauthorizedPathTree/PathNode in authorization.rs. Interning path
// segments (response keys, which include client aliases and so are not
// known until request time) is scoped to a single Trie's lifetime --
// one per Rewrite call -- rather than the schema-wide interner used for
// ScopeID, since aliases are per-operation and unbounded.
type Trie struct {
	nodes    []pathNode
	interner map[string]uint32
}

// NewTrie creates an empty trie with only the root node.
func NewTrie() *Trie {
	return &Trie{
		nodes:    []pathNode{{children: map[uint32]int{}}},
		interner: map[string]uint32{},
	}
}

func (t *Trie) intern(segment string) uint32 {
	if id, ok := t.interner[segment]; ok {
		return id
	}
	id := uint32(len(t.interner))
	t.interner[segment] = id
	return id
}

// HasDeniedPaths reports whether any path has been marked denied.
func (t *Trie) HasDeniedPaths() bool {
	for _, n := range t.nodes {
		if n.isDenied {
			return true
		}
	}
	return false
}

// MarkDenied records that the response position at path must be removed.
// Intermediate nodes are created as needed and left non-denied.
func (t *Trie) MarkDenied(path []string) {
	cur := 0
	for _, seg := range path {
		id := t.intern(seg)
		next, ok := t.nodes[cur].children[id]
		if !ok {
			t.nodes = append(t.nodes, pathNode{children: map[uint32]int{}})
			next = len(t.nodes) - 1
			t.nodes[cur].children[id] = next
		}
		cur = next
	}
	t.nodes[cur].isDenied = true
}

// Child looks up the trie node reached from `cur` by the given segment.
// The root handle is 0. ok is false if the segment has no recorded
// restriction at all beneath cur (the caller should keep the subtree
// unconditionally in that case).
func (t *Trie) Child(cur int, segment string) (child int, denied bool, ok bool) {
	id, known := t.interner[segment]
	if !known {
		return 0, false, false
	}
	next, ok := t.nodes[cur].children[id]
	if !ok {
		return 0, false, false
	}
	return next, t.nodes[next].isDenied, true
}

// Root returns the root node handle.
func (t *Trie) Root() int { return 0 }
