package model

import (
	"errors"
	"testing"
)

func ptr(f float64) *float64 { return &f }

// testTree builds a small vehicle tree used across the package tests.
func testTree(t *testing.T) *Tree {
	t.Helper()
	b := NewBuilder()
	must := func(_ Handle, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("build: %v", err)
		}
	}
	must(b.AddBranch("Vehicle", "High-level vehicle data"))
	must(b.Add("Vehicle.Speed", Metadata{Kind: KindSensor, Type: DataTypeFloat, Unit: "km/h"}))
	must(b.Add("Vehicle.Cabin.Door.Row1.Left.IsOpen", Metadata{Kind: KindActuator, Type: DataTypeBool}))
	must(b.Add("Vehicle.Cabin.Door.Row1.Right.IsOpen", Metadata{Kind: KindActuator, Type: DataTypeBool}))
	must(b.Add("Vehicle.Cabin.Door.Row2.Left.IsOpen", Metadata{Kind: KindActuator, Type: DataTypeBool}))
	must(b.Add("Vehicle.Powertrain.FuelSystem.Level", Metadata{
		Kind: KindSensor, Type: DataTypeUint8, Unit: "percent", Max: ptr(100),
	}))
	must(b.Add("Vehicle.VehicleIdentification.VIN", Metadata{Kind: KindAttribute, Type: DataTypeString}))

	tree, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return tree
}

func TestBuilderCreatesAncestors(t *testing.T) {
	tree := testTree(t)

	h, ok := tree.Lookup("Vehicle.Cabin.Door.Row1")
	if !ok {
		t.Fatal("Lookup(Vehicle.Cabin.Door.Row1) not found")
	}
	n := tree.MustNode(h)
	if n.IsLeaf() {
		t.Error("implicit ancestor should be a branch")
	}
	if n.Depth() != 3 {
		t.Errorf("Depth() = %d, want 3", n.Depth())
	}
	if got := tree.Path(n.Parent()); got != "Vehicle.Cabin.Door" {
		t.Errorf("parent path = %q, want Vehicle.Cabin.Door", got)
	}
	if tree.LeafCount() != 6 {
		t.Errorf("LeafCount() = %d, want 6", tree.LeafCount())
	}
}

func TestBuilderChildrenSorted(t *testing.T) {
	tree := testTree(t)

	h, _ := tree.Lookup("Vehicle")
	var names []string
	for _, c := range tree.MustNode(h).Children() {
		names = append(names, tree.MustNode(c).Name())
	}
	want := []string{"Cabin", "Powertrain", "Speed", "VehicleIdentification"}
	if len(names) != len(want) {
		t.Fatalf("children = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("children[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestBuilderErrors(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{"duplicate", "Vehicle.Speed", ErrDuplicatePath},
		{"under leaf", "Vehicle.Speed.Max", ErrParentNotBranch},
		{"empty segment", "Vehicle..Speed", ErrInvalidPathSyntax},
		{"trailing dot", "Vehicle.Speed.", ErrInvalidPathSyntax},
		{"bad char", "Vehicle.Sp@ed", ErrInvalidPathSyntax},
		{"wildcard", "Vehicle.*", ErrInvalidPathSyntax},
		{"empty", "", ErrInvalidPathSyntax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder()
			if _, err := b.Add("Vehicle.Speed", Metadata{Kind: KindSensor, Type: DataTypeFloat}); err != nil {
				t.Fatalf("Add: %v", err)
			}
			_, err := b.Add(tt.path, Metadata{Kind: KindSensor, Type: DataTypeFloat})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Add(%q) error = %v, want %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestBuilderDone(t *testing.T) {
	b := NewBuilder()
	if _, err := b.Build(); !errors.Is(err, ErrEmptyTree) {
		t.Errorf("Build() on empty builder = %v, want ErrEmptyTree", err)
	}

	b = NewBuilder()
	_, _ = b.Add("Vehicle.Speed", Metadata{Kind: KindSensor})
	if _, err := b.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := b.Add("Vehicle.Other", Metadata{Kind: KindSensor}); !errors.Is(err, ErrBuilderDone) {
		t.Errorf("Add after Build = %v, want ErrBuilderDone", err)
	}
	if _, err := b.Build(); !errors.Is(err, ErrBuilderDone) {
		t.Errorf("second Build = %v, want ErrBuilderDone", err)
	}
}

func TestDefaultAccess(t *testing.T) {
	tree := testTree(t)

	tests := []struct {
		path      string
		canWrite  bool
		canSub    bool
		accessStr string
	}{
		{"Vehicle.Speed", false, true, "RS"},
		{"Vehicle.Cabin.Door.Row1.Left.IsOpen", true, true, "RWS"},
		{"Vehicle.VehicleIdentification.VIN", false, true, "RS"},
	}
	for _, tt := range tests {
		h, ok := tree.Lookup(tt.path)
		if !ok {
			t.Fatalf("Lookup(%q) failed", tt.path)
		}
		a := tree.MustNode(h).Metadata().Access
		if a.CanWrite() != tt.canWrite {
			t.Errorf("%s CanWrite() = %v, want %v", tt.path, a.CanWrite(), tt.canWrite)
		}
		if a.CanSubscribe() != tt.canSub {
			t.Errorf("%s CanSubscribe() = %v, want %v", tt.path, a.CanSubscribe(), tt.canSub)
		}
		if a.String() != tt.accessStr {
			t.Errorf("%s Access = %q, want %q", tt.path, a.String(), tt.accessStr)
		}
	}
}

func TestLookupSlashSeparator(t *testing.T) {
	tree := testTree(t)

	a, ok := tree.Lookup("/Vehicle/Speed")
	if !ok {
		t.Fatal("Lookup(/Vehicle/Speed) not found")
	}
	b, _ := tree.Lookup("Vehicle.Speed")
	if a != b {
		t.Errorf("slash and dot lookups differ: %d vs %d", a, b)
	}
}

func TestTreeWalkOrder(t *testing.T) {
	tree := testTree(t)

	var paths []string
	tree.Walk(func(n *Node) bool {
		paths = append(paths, n.Path())
		return len(paths) < 4
	})
	want := []string{"Vehicle", "Vehicle.Cabin", "Vehicle.Cabin.Door", "Vehicle.Cabin.Door.Row1"}
	if len(paths) != len(want) {
		t.Fatalf("walk = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("walk[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestNodeInvalidHandle(t *testing.T) {
	tree := testTree(t)

	if _, err := tree.Node(InvalidHandle); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("Node(InvalidHandle) = %v, want ErrInvalidHandle", err)
	}
	if _, err := tree.Node(Handle(tree.Len())); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("Node(Len) = %v, want ErrInvalidHandle", err)
	}
	if tree.Path(InvalidHandle) != "" {
		t.Error("Path(InvalidHandle) should be empty")
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name    string
		meta    Metadata
		in      any
		want    any
		wantErr error
	}{
		{"float from int", Metadata{Type: DataTypeFloat}, 50, float64(50), nil},
		{"float from string", Metadata{Type: DataTypeDouble}, "12.5", 12.5, nil},
		{"int from float", Metadata{Type: DataTypeInt32}, float64(-7), int64(-7), nil},
		{"int fraction", Metadata{Type: DataTypeInt32}, 1.5, nil, ErrValueType},
		{"uint negative", Metadata{Type: DataTypeUint16}, -1, nil, ErrValueType},
		{"uint8 overflow", Metadata{Type: DataTypeUint8}, 300, nil, ErrOutOfRange},
		{"uint8 from string", Metadata{Type: DataTypeUint8}, "42", uint64(42), nil},
		{"int64 exact", Metadata{Type: DataTypeInt64}, int64(9007199254740993), int64(9007199254740993), nil},
		{"int64 overflow", Metadata{Type: DataTypeInt64}, 1e30, nil, ErrOutOfRange},
		{"int64 from float string", Metadata{Type: DataTypeInt64}, "12.0", int64(12), nil},
		{"uint64 exact", Metadata{Type: DataTypeUint64}, uint64(18446744073709551615), uint64(18446744073709551615), nil},
		{"uint64 negative string", Metadata{Type: DataTypeUint64}, "-3", nil, ErrValueType},
		{"int32 from uint", Metadata{Type: DataTypeInt32}, uint32(1 << 31), nil, ErrOutOfRange},
		{"max", Metadata{Type: DataTypeUint8, Max: ptr(100)}, 101, nil, ErrOutOfRange},
		{"min", Metadata{Type: DataTypeFloat, Min: ptr(-40)}, -41.0, nil, ErrOutOfRange},
		{"bool", Metadata{Type: DataTypeBool}, true, true, nil},
		{"bool from string", Metadata{Type: DataTypeBool}, "false", false, nil},
		{"bool mismatch", Metadata{Type: DataTypeBool}, 1, nil, ErrValueType},
		{"string", Metadata{Type: DataTypeString}, "WBA", "WBA", nil},
		{"string mismatch", Metadata{Type: DataTypeString}, 5, nil, ErrValueType},
		{"allowed", Metadata{Type: DataTypeString, Allowed: []any{"P", "R", "N", "D"}}, "D", "D", nil},
		{"not allowed", Metadata{Type: DataTypeString, Allowed: []any{"P", "R", "N", "D"}}, "X", nil, ErrNotAllowed},
		{"null rejected", Metadata{Type: DataTypeFloat}, nil, nil, ErrNotNullable},
		{"null accepted", Metadata{Type: DataTypeFloat, Nullable: true}, nil, nil, nil},
		{"unknown passes", Metadata{}, "anything", "anything", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.meta.Coerce(tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Coerce(%v) error = %v, want %v", tt.in, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Coerce(%v) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Coerce(%v) = %v (%T), want %v (%T)", tt.in, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestCoerceArray(t *testing.T) {
	meta := Metadata{Type: DataTypeArray, Element: DataTypeUint8}

	got, err := meta.Coerce([]any{1, "2", 3.0})
	if err != nil {
		t.Fatalf("Coerce: %v", err)
	}
	arr := got.([]any)
	if len(arr) != 3 || arr[1] != uint64(2) {
		t.Errorf("Coerce = %v, want [1 2 3] as uint64", arr)
	}

	if _, err := meta.Coerce([]any{1, 256}); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("element overflow error = %v, want ErrOutOfRange", err)
	}
	if _, err := meta.Coerce(5); !errors.Is(err, ErrValueType) {
		t.Errorf("scalar into array error = %v, want ErrValueType", err)
	}
}

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		a, b any
		want bool
	}{
		{int64(5), uint64(5), true},
		{float64(5), int(5), true},
		{5.5, 5.0, false},
		{"5", 5, false},
		{"a", "a", true},
		{true, true, true},
		{true, false, false},
		{nil, nil, true},
		{nil, 0, false},
		{[]any{1, "x"}, []any{int64(1), "x"}, true},
		{[]any{1}, []any{1, 2}, false},
	}
	for _, tt := range tests {
		if got := ValuesEqual(tt.a, tt.b); got != tt.want {
			t.Errorf("ValuesEqual(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestParseDataType(t *testing.T) {
	tests := []struct {
		in       string
		want     DataType
		wantElem DataType
		wantErr  bool
	}{
		{"float", DataTypeFloat, DataTypeUnknown, false},
		{"boolean", DataTypeBool, DataTypeUnknown, false},
		{"bool", DataTypeBool, DataTypeUnknown, false},
		{"UINT8", DataTypeUint8, DataTypeUnknown, false},
		{"string[]", DataTypeArray, DataTypeString, false},
		{"", DataTypeUnknown, DataTypeUnknown, false},
		{"quaternion", DataTypeUnknown, DataTypeUnknown, true},
		{"array", DataTypeUnknown, DataTypeUnknown, true},
	}
	for _, tt := range tests {
		got, elem, err := ParseDataType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDataType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want || elem != tt.wantElem {
			t.Errorf("ParseDataType(%q) = (%s, %s), want (%s, %s)", tt.in, got, elem, tt.want, tt.wantElem)
		}
	}
}

func TestKindString(t *testing.T) {
	for _, k := range []Kind{KindBranch, KindSensor, KindActuator, KindAttribute} {
		parsed, err := ParseKind(k.String())
		if err != nil || parsed != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), parsed, err)
		}
	}
	if Kind(99).String() != "unknown" {
		t.Errorf("Kind(99).String() = %q", Kind(99).String())
	}
}
