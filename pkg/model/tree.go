package model

import (
	"errors"
	"sort"
)

// Tree errors.
var (
	ErrPathNotFound      = errors.New("path not found")
	ErrInvalidPathSyntax = errors.New("invalid path syntax")
	ErrInvalidHandle     = errors.New("invalid node handle")
	ErrDuplicatePath     = errors.New("duplicate path")
	ErrParentNotBranch   = errors.New("parent is not a branch")
	ErrEmptyTree         = errors.New("tree has no nodes")
)

// Handle identifies a node within a Tree.
type Handle int32

// InvalidHandle is returned by lookups that do not find a node.
const InvalidHandle Handle = -1

// Node is one entry of the signal tree.
type Node struct {
	handle   Handle
	parent   Handle
	name     string
	path     string
	depth    int
	meta     Metadata
	children []Handle // sorted by name
}

// Handle returns the node handle.
func (n *Node) Handle() Handle { return n.handle }

// Parent returns the parent handle, or InvalidHandle for a root.
func (n *Node) Parent() Handle { return n.parent }

// Name returns the last path segment.
func (n *Node) Name() string { return n.name }

// Path returns the full dot separated path.
func (n *Node) Path() string { return n.path }

// Depth returns the number of ancestors.
func (n *Node) Depth() int { return n.depth }

// Metadata returns the node metadata.
func (n *Node) Metadata() *Metadata { return &n.meta }

// IsLeaf reports whether the node carries a value.
func (n *Node) IsLeaf() bool { return n.meta.IsLeaf() }

// Children returns the child handles ordered by name.
func (n *Node) Children() []Handle {
	out := make([]Handle, len(n.children))
	copy(out, n.children)
	return out
}

// Tree is an immutable signal tree.
// It is safe for concurrent use since nothing mutates it after Build.
type Tree struct {
	nodes  []Node
	roots  []Handle
	byPath map[string]Handle
	leaves int
}

// Len returns the number of nodes in the tree.
func (t *Tree) Len() int { return len(t.nodes) }

// LeafCount returns the number of value-carrying nodes.
func (t *Tree) LeafCount() int { return t.leaves }

// Roots returns the root handles ordered by name.
func (t *Tree) Roots() []Handle {
	out := make([]Handle, len(t.roots))
	copy(out, t.roots)
	return out
}

// Node returns the node for a handle.
func (t *Tree) Node(h Handle) (*Node, error) {
	if h < 0 || int(h) >= len(t.nodes) {
		return nil, ErrInvalidHandle
	}
	return &t.nodes[h], nil
}

// MustNode returns the node for a handle and panics on an invalid handle.
// Handles obtained from this tree are always valid.
func (t *Tree) MustNode(h Handle) *Node {
	n, err := t.Node(h)
	if err != nil {
		panic(err)
	}
	return n
}

// Path returns the path of a handle, or "" for an invalid handle.
func (t *Tree) Path(h Handle) string {
	if h < 0 || int(h) >= len(t.nodes) {
		return ""
	}
	return t.nodes[h].path
}

// Lookup finds a node by exact path.
func (t *Tree) Lookup(path string) (Handle, bool) {
	h, ok := t.byPath[normalizeSeparators(path)]
	return h, ok
}

// Leaves returns every leaf at or below h, ordered by handle.
// The traversal uses an explicit stack, bounded by the tree size.
func (t *Tree) Leaves(h Handle) []Handle {
	if h < 0 || int(h) >= len(t.nodes) {
		return nil
	}
	var out []Handle
	stack := []Handle{h}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &t.nodes[cur]
		if n.IsLeaf() {
			out = append(out, cur)
			continue
		}
		stack = append(stack, n.children...)
	}
	sortHandles(out)
	return out
}

// Walk visits every node in depth-first, name-ordered sequence.
// Returning false from fn stops the walk.
func (t *Tree) Walk(fn func(n *Node) bool) {
	stack := make([]Handle, 0, len(t.roots))
	for i := len(t.roots) - 1; i >= 0; i-- {
		stack = append(stack, t.roots[i])
	}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &t.nodes[cur]
		if !fn(n) {
			return
		}
		for i := len(n.children) - 1; i >= 0; i-- {
			stack = append(stack, n.children[i])
		}
	}
}

func (t *Tree) child(h Handle, name string) (Handle, bool) {
	children := t.nodes[h].children
	i := sort.Search(len(children), func(i int) bool {
		return t.nodes[children[i]].name >= name
	})
	if i < len(children) && t.nodes[children[i]].name == name {
		return children[i], true
	}
	return InvalidHandle, false
}

func sortHandles(hs []Handle) {
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
}
