package model

import (
	"errors"
	"sort"
	"testing"
)

func resolvePaths(t *testing.T, tree *Tree, expr string, leaves bool) []string {
	t.Helper()
	var hs []Handle
	var err error
	if leaves {
		hs, err = tree.ResolveLeaves(expr)
	} else {
		hs, err = tree.Resolve(expr)
	}
	if err != nil {
		t.Fatalf("Resolve(%q): %v", expr, err)
	}
	paths := make([]string, len(hs))
	for i, h := range hs {
		paths[i] = tree.Path(h)
	}
	sort.Strings(paths)
	return paths
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestResolveExactPath(t *testing.T) {
	tree := testTree(t)

	// Every node path resolves to exactly that node.
	tree.Walk(func(n *Node) bool {
		hs, err := tree.Resolve(n.Path())
		if err != nil {
			t.Errorf("Resolve(%q): %v", n.Path(), err)
			return true
		}
		if len(hs) != 1 || hs[0] != n.Handle() {
			t.Errorf("Resolve(%q) = %v, want [%d]", n.Path(), hs, n.Handle())
		}
		return true
	})
}

func TestResolveWildcards(t *testing.T) {
	tree := testTree(t)

	tests := []struct {
		name   string
		expr   string
		leaves bool
		want   []string
	}{
		{
			name: "single segment",
			expr: "Vehicle.Cabin.Door.*.Left.IsOpen",
			want: []string{"Vehicle.Cabin.Door.Row1.Left.IsOpen", "Vehicle.Cabin.Door.Row2.Left.IsOpen"},
		},
		{
			name: "two single segments",
			expr: "Vehicle.Cabin.Door.*.*.IsOpen",
			want: []string{
				"Vehicle.Cabin.Door.Row1.Left.IsOpen",
				"Vehicle.Cabin.Door.Row1.Right.IsOpen",
				"Vehicle.Cabin.Door.Row2.Left.IsOpen",
			},
		},
		{
			name: "star matches branches",
			expr: "Vehicle.Cabin.Door.*",
			want: []string{"Vehicle.Cabin.Door.Row1", "Vehicle.Cabin.Door.Row2"},
		},
		{
			name: "trailing any includes the anchor",
			expr: "Vehicle.Cabin.Door.Row1.**",
			want: []string{
				"Vehicle.Cabin.Door.Row1",
				"Vehicle.Cabin.Door.Row1.Left",
				"Vehicle.Cabin.Door.Row1.Left.IsOpen",
				"Vehicle.Cabin.Door.Row1.Right",
				"Vehicle.Cabin.Door.Row1.Right.IsOpen",
			},
		},
		{
			name: "inner any",
			expr: "Vehicle.**.IsOpen",
			want: []string{
				"Vehicle.Cabin.Door.Row1.Left.IsOpen",
				"Vehicle.Cabin.Door.Row1.Right.IsOpen",
				"Vehicle.Cabin.Door.Row2.Left.IsOpen",
			},
		},
		{
			name: "any matching zero segments",
			expr: "Vehicle.**.Speed",
			want: []string{"Vehicle.Speed"},
		},
		{
			name: "leading any",
			expr: "**.Level",
			want: []string{"Vehicle.Powertrain.FuelSystem.Level"},
		},
		{
			name: "repeated any",
			expr: "**.Door.**.IsOpen",
			want: []string{
				"Vehicle.Cabin.Door.Row1.Left.IsOpen",
				"Vehicle.Cabin.Door.Row1.Right.IsOpen",
				"Vehicle.Cabin.Door.Row2.Left.IsOpen",
			},
		},
		{
			name:   "branch expands to leaves",
			expr:   "Vehicle.Cabin",
			leaves: true,
			want: []string{
				"Vehicle.Cabin.Door.Row1.Left.IsOpen",
				"Vehicle.Cabin.Door.Row1.Right.IsOpen",
				"Vehicle.Cabin.Door.Row2.Left.IsOpen",
			},
		},
		{
			name:   "overlapping matches deduplicated",
			expr:   "Vehicle.Cabin.**",
			leaves: true,
			want: []string{
				"Vehicle.Cabin.Door.Row1.Left.IsOpen",
				"Vehicle.Cabin.Door.Row1.Right.IsOpen",
				"Vehicle.Cabin.Door.Row2.Left.IsOpen",
			},
		},
		{
			name: "slash separator",
			expr: "/Vehicle/Cabin/Door/*/Right/IsOpen",
			want: []string{"Vehicle.Cabin.Door.Row1.Right.IsOpen"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolvePaths(t, tree, tt.expr, tt.leaves)
			if !equalStrings(got, tt.want) {
				t.Errorf("Resolve(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestResolveAllNodes(t *testing.T) {
	tree := testTree(t)

	hs, err := tree.Resolve("**")
	if err != nil {
		t.Fatalf("Resolve(**): %v", err)
	}
	if len(hs) != tree.Len() {
		t.Errorf("Resolve(**) = %d nodes, want %d", len(hs), tree.Len())
	}
	leaves, _ := tree.ResolveLeaves("**")
	if len(leaves) != tree.LeafCount() {
		t.Errorf("ResolveLeaves(**) = %d leaves, want %d", len(leaves), tree.LeafCount())
	}
}

func TestResolveDeterministic(t *testing.T) {
	tree := testTree(t)

	first, _ := tree.Resolve("Vehicle.**.IsOpen")
	for i := 0; i < 10; i++ {
		again, _ := tree.Resolve("Vehicle.**.IsOpen")
		if len(again) != len(first) {
			t.Fatalf("run %d: len = %d, want %d", i, len(again), len(first))
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("run %d: result[%d] = %d, want %d", i, j, again[j], first[j])
			}
		}
	}
}

func TestResolveErrors(t *testing.T) {
	tree := testTree(t)

	tests := []struct {
		expr    string
		wantErr error
	}{
		{"", ErrInvalidPathSyntax},
		{"Vehicle..Speed", ErrInvalidPathSyntax},
		{"Vehicle.Sp*ed", ErrInvalidPathSyntax},
		{"Vehicle.***", ErrInvalidPathSyntax},
		{"Vehicle.Speed.", ErrInvalidPathSyntax},
		{"Vehicle.Wings", ErrPathNotFound},
		{"Vehicle.*.Wings", ErrPathNotFound},
		{"Vehicle.Speed.*", ErrPathNotFound},
		{"Truck.**", ErrPathNotFound},
	}
	for _, tt := range tests {
		_, err := tree.Resolve(tt.expr)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("Resolve(%q) error = %v, want %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestParseExpression(t *testing.T) {
	e, err := ParseExpression("/Vehicle/Speed")
	if err != nil {
		t.Fatalf("ParseExpression: %v", err)
	}
	if e.String() != "Vehicle.Speed" {
		t.Errorf("String() = %q, want Vehicle.Speed", e.String())
	}
	if e.IsWildcard() {
		t.Error("IsWildcard() = true for exact path")
	}

	e, _ = ParseExpression("Vehicle.*")
	if !e.IsWildcard() {
		t.Error("IsWildcard() = false for wildcard path")
	}
}

func TestExpressionMatch(t *testing.T) {
	tests := []struct {
		expr string
		path string
		want bool
	}{
		{"Vehicle.Speed", "Vehicle.Speed", true},
		{"Vehicle.Speed", "Vehicle.Speeds", false},
		{"Vehicle.*", "Vehicle.Speed", true},
		{"Vehicle.*", "Vehicle.Cabin.Door", false},
		{"Vehicle.**", "Vehicle", true},
		{"Vehicle.**", "Vehicle.Cabin.Door.Row1.Left.IsOpen", true},
		{"Vehicle.**.IsOpen", "Vehicle.Cabin.Door.Row1.Left.IsOpen", true},
		{"Vehicle.**.IsOpen", "Vehicle.Cabin.Door.Row1.Left.IsLocked", false},
		{"**", "Vehicle.Speed", true},
		{"**.Speed", "Vehicle.Speed", true},
		{"Vehicle.Cabin.**", "Vehicle.Speed", false},
	}
	for _, tt := range tests {
		e, err := ParseExpression(tt.expr)
		if err != nil {
			t.Fatalf("ParseExpression(%q): %v", tt.expr, err)
		}
		if got := e.Match(tt.path); got != tt.want {
			t.Errorf("%q.Match(%q) = %v, want %v", tt.expr, tt.path, got, tt.want)
		}
	}
}
