package model

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// RawNode is a VSS node definition as found in tree files. Branches list
// their children by name; the JSON export of VSS uses the same shape, so
// JSON files load through the same parser.
type RawNode struct {
	Type        string             `yaml:"type"`     // "branch", "sensor", "actuator", "attribute"
	DataType    string             `yaml:"datatype"` // "float", "uint8", "string[]", ...
	Access      string             `yaml:"access"`   // optional: "readOnly", "readWrite"
	Nullable    bool               `yaml:"nullable"`
	Unit        string             `yaml:"unit"`
	Min         *float64           `yaml:"min"`
	Max         *float64           `yaml:"max"`
	Allowed     []any              `yaml:"allowed"`
	Default     any                `yaml:"default"`
	Description string             `yaml:"description"`
	Children    map[string]RawNode `yaml:"children"`
}

// ParseTree parses a tree definition from YAML or JSON bytes.
func ParseTree(data []byte) (*Tree, error) {
	var roots map[string]RawNode
	if err := yaml.Unmarshal(data, &roots); err != nil {
		return nil, fmt.Errorf("parsing tree: %w", err)
	}
	if len(roots) == 0 {
		return nil, ErrEmptyTree
	}

	b := NewBuilder()
	for name, raw := range roots {
		if err := addRaw(b, name, raw); err != nil {
			return nil, err
		}
	}
	return b.Build()
}

// LoadYAML reads a tree definition from r.
func LoadYAML(r io.Reader) (*Tree, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading tree: %w", err)
	}
	return ParseTree(data)
}

// LoadFile loads a tree definition from a file.
func LoadFile(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return ParseTree(data)
}

func addRaw(b *Builder, path string, raw RawNode) error {
	kind := KindBranch
	if raw.Type != "" {
		k, err := ParseKind(raw.Type)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		kind = k
	}

	if kind == KindBranch {
		if _, err := b.AddBranch(path, raw.Description); err != nil {
			return err
		}
		for name, child := range raw.Children {
			if err := addRaw(b, path+"."+name, child); err != nil {
				return err
			}
		}
		return nil
	}

	if len(raw.Children) > 0 {
		return fmt.Errorf("%w: %s has children", ErrParentNotBranch, path)
	}
	meta, err := raw.metadata(kind)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	_, err = b.Add(path, meta)
	return err
}

func (raw RawNode) metadata(kind Kind) (Metadata, error) {
	typ, elem, err := ParseDataType(raw.DataType)
	if err != nil {
		return Metadata{}, err
	}
	meta := Metadata{
		Kind:        kind,
		Type:        typ,
		Element:     elem,
		Nullable:    raw.Nullable,
		Min:         raw.Min,
		Max:         raw.Max,
		Unit:        raw.Unit,
		Description: raw.Description,
	}
	switch raw.Access {
	case "":
	case "readOnly":
		meta.Access = AccessReadOnly
	case "readWrite":
		meta.Access = AccessReadWrite
	default:
		return Metadata{}, fmt.Errorf("unknown access %q", raw.Access)
	}

	for _, a := range raw.Allowed {
		v, err := coerceScalar(typeOrElem(typ, elem), a)
		if err != nil {
			return Metadata{}, fmt.Errorf("allowed value %v: %w", a, err)
		}
		meta.Allowed = append(meta.Allowed, v)
	}
	if raw.Default != nil {
		v, err := meta.Coerce(raw.Default)
		if err != nil {
			return Metadata{}, fmt.Errorf("default: %w", err)
		}
		meta.Default = v
	}
	return meta, nil
}

func typeOrElem(typ, elem DataType) DataType {
	if typ == DataTypeArray {
		return elem
	}
	return typ
}
