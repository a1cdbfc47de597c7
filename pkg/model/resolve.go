package model

import (
	"fmt"
	"strings"
)

// Wildcard segments.
const (
	WildcardOne = "*"
	WildcardAny = "**"
)

// Expression is a parsed path expression.
type Expression struct {
	raw      string
	segments []string
	wildcard bool
}

// ParseExpression parses and validates a path expression.
func ParseExpression(expr string) (Expression, error) {
	norm := normalizeSeparators(expr)
	if norm == "" {
		return Expression{}, fmt.Errorf("%w: empty path", ErrInvalidPathSyntax)
	}
	segments := strings.Split(norm, ".")
	e := Expression{raw: norm, segments: segments}
	for _, seg := range segments {
		switch {
		case seg == WildcardOne || seg == WildcardAny:
			e.wildcard = true
		case !validSegment(seg):
			return Expression{}, fmt.Errorf("%w: segment %q in %q", ErrInvalidPathSyntax, seg, expr)
		}
	}
	return e, nil
}

// String returns the normalized expression.
func (e Expression) String() string { return e.raw }

// IsWildcard reports whether the expression contains a wildcard segment.
func (e Expression) IsWildcard() bool { return e.wildcard }

// Match reports whether the concrete path is addressed by the expression.
// It needs no tree, so it serves for access rules written as expressions.
func (e Expression) Match(path string) bool {
	parts := strings.Split(normalizeSeparators(path), ".")
	n := len(e.segments)

	// cur[i] is set when the first i segments match the consumed prefix.
	cur := make([]bool, n+1)
	cur[0] = true
	closeAny := func(set []bool) {
		for i := 0; i < n; i++ {
			if set[i] && e.segments[i] == WildcardAny {
				set[i+1] = true
			}
		}
	}
	closeAny(cur)

	for _, part := range parts {
		next := make([]bool, n+1)
		for i := 0; i < n; i++ {
			if !cur[i] {
				continue
			}
			switch e.segments[i] {
			case WildcardAny:
				next[i] = true
			case WildcardOne:
				next[i+1] = true
			default:
				if e.segments[i] == part {
					next[i+1] = true
				}
			}
		}
		closeAny(next)
		cur = next
	}
	return cur[n]
}

// matchState is a node paired with the index of the segment it must match.
type matchState struct {
	node Handle
	seg  int
}

// Resolve returns the handles of all nodes matched by expr, ordered by
// handle. The result depends only on expr and the tree shape.
func (t *Tree) Resolve(expr string) ([]Handle, error) {
	e, err := ParseExpression(expr)
	if err != nil {
		return nil, err
	}
	return t.ResolveExpression(e)
}

// ResolveExpression resolves a parsed expression.
func (t *Tree) ResolveExpression(e Expression) ([]Handle, error) {
	if !e.wildcard {
		if h, ok := t.byPath[e.raw]; ok {
			return []Handle{h}, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, e.raw)
	}

	n := len(e.segments)
	matched := make(map[Handle]struct{})
	visited := make(map[matchState]struct{})
	stack := make([]matchState, 0, len(t.roots))
	for _, r := range t.roots {
		stack = append(stack, matchState{node: r, seg: 0})
	}

	// Each (node, segment) pair is expanded at most once, which bounds the
	// traversal by Len() * len(segments) even with several '**' segments.
	for len(stack) > 0 {
		st := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[st]; seen {
			continue
		}
		visited[st] = struct{}{}

		node := &t.nodes[st.node]
		seg := e.segments[st.seg]

		if seg == WildcardAny {
			// '**' matching zero segments: the node faces the next segment.
			if st.seg+1 < n {
				stack = append(stack, matchState{node: st.node, seg: st.seg + 1})
			} else {
				matched[st.node] = struct{}{}
			}
			// '**' consuming this node: children stay on the same segment.
			for _, c := range node.children {
				stack = append(stack, matchState{node: c, seg: st.seg})
			}
			continue
		}

		if seg != WildcardOne && seg != node.name {
			continue
		}
		if st.seg == n-1 || trailingAny(e.segments[st.seg+1:]) {
			matched[st.node] = struct{}{}
		}
		if st.seg+1 < n {
			for _, c := range node.children {
				stack = append(stack, matchState{node: c, seg: st.seg + 1})
			}
		}
	}

	if len(matched) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, e.raw)
	}
	out := make([]Handle, 0, len(matched))
	for h := range matched {
		out = append(out, h)
	}
	sortHandles(out)
	return out, nil
}

// ResolveLeaves resolves expr and expands matched branches to the leaves
// below them.
func (t *Tree) ResolveLeaves(expr string) ([]Handle, error) {
	handles, err := t.Resolve(expr)
	if err != nil {
		return nil, err
	}
	return t.expandLeaves(handles), nil
}

func (t *Tree) expandLeaves(handles []Handle) []Handle {
	seen := make(map[Handle]struct{}, len(handles))
	var out []Handle
	for _, h := range handles {
		for _, leaf := range t.Leaves(h) {
			if _, dup := seen[leaf]; dup {
				continue
			}
			seen[leaf] = struct{}{}
			out = append(out, leaf)
		}
	}
	sortHandles(out)
	return out
}

func trailingAny(segments []string) bool {
	if len(segments) == 0 {
		return false
	}
	for _, s := range segments {
		if s != WildcardAny {
			return false
		}
	}
	return true
}
