package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrBuilderDone is returned when a Builder is used after Build.
var ErrBuilderDone = errors.New("builder already built")

// Builder assembles a Tree. It is not safe for concurrent use.
type Builder struct {
	nodes  []Node
	roots  []Handle
	byPath map[string]Handle
	done   bool
}

// NewBuilder creates an empty tree builder.
func NewBuilder() *Builder {
	return &Builder{
		byPath: make(map[string]Handle),
	}
}

// AddBranch adds a branch node. Adding an existing branch is a no-op.
func (b *Builder) AddBranch(path, description string) (Handle, error) {
	if h, ok := b.byPath[normalizeSeparators(path)]; ok && !b.nodes[h].IsLeaf() {
		if description != "" {
			b.nodes[h].meta.Description = description
		}
		return h, nil
	}
	return b.Add(path, Metadata{Kind: KindBranch, Description: description})
}

// Add adds a node at path. Missing ancestors are created as branches.
// A zero meta.Access is replaced with DefaultAccess(meta.Kind).
func (b *Builder) Add(path string, meta Metadata) (Handle, error) {
	if b.done {
		return InvalidHandle, ErrBuilderDone
	}
	segments, err := splitPath(path)
	if err != nil {
		return InvalidHandle, err
	}
	if meta.Access == 0 {
		meta.Access = DefaultAccess(meta.Kind)
	}

	parent := InvalidHandle
	for i, seg := range segments {
		cur := strings.Join(segments[:i+1], ".")
		last := i == len(segments)-1

		if h, ok := b.byPath[cur]; ok {
			if last {
				return InvalidHandle, fmt.Errorf("%w: %s", ErrDuplicatePath, cur)
			}
			if b.nodes[h].IsLeaf() {
				return InvalidHandle, fmt.Errorf("%w: %s", ErrParentNotBranch, cur)
			}
			parent = h
			continue
		}

		m := Metadata{Kind: KindBranch}
		if last {
			m = meta
		}
		parent = b.insert(parent, seg, cur, i, m)
	}
	return parent, nil
}

func (b *Builder) insert(parent Handle, name, path string, depth int, meta Metadata) Handle {
	h := Handle(len(b.nodes))
	b.nodes = append(b.nodes, Node{
		handle: h,
		parent: parent,
		name:   name,
		path:   path,
		depth:  depth,
		meta:   meta,
	})
	b.byPath[path] = h
	if parent == InvalidHandle {
		b.roots = append(b.roots, h)
	} else {
		b.nodes[parent].children = append(b.nodes[parent].children, h)
	}
	return h
}

// Build freezes the builder into a Tree.
func (b *Builder) Build() (*Tree, error) {
	if b.done {
		return nil, ErrBuilderDone
	}
	if len(b.nodes) == 0 {
		return nil, ErrEmptyTree
	}
	b.done = true

	t := &Tree{
		nodes:  b.nodes,
		roots:  b.roots,
		byPath: b.byPath,
	}
	byName := func(hs []Handle) {
		sort.Slice(hs, func(i, j int) bool {
			return t.nodes[hs[i]].name < t.nodes[hs[j]].name
		})
	}
	byName(t.roots)
	for i := range t.nodes {
		byName(t.nodes[i].children)
		if t.nodes[i].IsLeaf() {
			t.leaves++
		}
	}

	b.nodes = nil
	b.roots = nil
	b.byPath = nil
	return t, nil
}

// splitPath splits an exact path into validated segments.
func splitPath(path string) ([]string, error) {
	path = normalizeSeparators(path)
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPathSyntax)
	}
	segments := strings.Split(path, ".")
	for _, seg := range segments {
		if !validSegment(seg) {
			return nil, fmt.Errorf("%w: segment %q in %q", ErrInvalidPathSyntax, seg, path)
		}
	}
	return segments, nil
}

// normalizeSeparators maps the alternate '/' separator to '.'. A single
// leading slash, as found in HTTP style paths, is dropped.
func normalizeSeparators(path string) string {
	path = strings.TrimPrefix(strings.TrimSpace(path), "/")
	return strings.ReplaceAll(path, "/", ".")
}

// validSegment accepts VSS node names: letters, digits, '_' and '-'.
func validSegment(seg string) bool {
	if seg == "" {
		return false
	}
	for _, r := range seg {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
