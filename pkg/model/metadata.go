package model

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value errors.
var (
	ErrValueType   = errors.New("invalid value type for signal")
	ErrOutOfRange  = errors.New("value out of range")
	ErrNotAllowed  = errors.New("value not in allowed set")
	ErrNotNullable = errors.New("signal does not accept null")
)

// Kind classifies a node.
type Kind uint8

const (
	KindBranch Kind = iota
	KindSensor
	KindActuator
	KindAttribute
)

// String returns the VSS name of the kind.
func (k Kind) String() string {
	switch k {
	case KindBranch:
		return "branch"
	case KindSensor:
		return "sensor"
	case KindActuator:
		return "actuator"
	case KindAttribute:
		return "attribute"
	default:
		return "unknown"
	}
}

// ParseKind parses a VSS node type name.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "branch":
		return KindBranch, nil
	case "sensor":
		return KindSensor, nil
	case "actuator":
		return KindActuator, nil
	case "attribute":
		return KindAttribute, nil
	default:
		return KindBranch, fmt.Errorf("unknown node type %q", s)
	}
}

// Access flags for leaves.
type Access uint8

const (
	// AccessRead allows reading the signal.
	AccessRead Access = 1 << iota

	// AccessWrite allows clients to set the signal.
	AccessWrite

	// AccessSubscribe allows subscribing to changes.
	AccessSubscribe

	// AccessReadOnly is read and subscribe.
	AccessReadOnly = AccessRead | AccessSubscribe

	// AccessReadWrite is read, write, and subscribe.
	AccessReadWrite = AccessRead | AccessWrite | AccessSubscribe
)

// CanRead returns true if reading is allowed.
func (a Access) CanRead() bool { return a&AccessRead != 0 }

// CanWrite returns true if writing is allowed.
func (a Access) CanWrite() bool { return a&AccessWrite != 0 }

// CanSubscribe returns true if subscribing is allowed.
func (a Access) CanSubscribe() bool { return a&AccessSubscribe != 0 }

// String returns the access flags as a string.
func (a Access) String() string {
	var s string
	if a.CanRead() {
		s += "R"
	}
	if a.CanWrite() {
		s += "W"
	}
	if a.CanSubscribe() {
		s += "S"
	}
	if s == "" {
		return "-"
	}
	return s
}

// DefaultAccess returns the access flags implied by a node kind.
func DefaultAccess(k Kind) Access {
	switch k {
	case KindActuator:
		return AccessReadWrite
	case KindSensor:
		return AccessReadOnly
	case KindAttribute:
		return AccessReadOnly
	default:
		return 0
	}
}

// DataType represents the type of a signal value.
type DataType uint8

const (
	DataTypeUnknown DataType = iota
	DataTypeBool
	DataTypeInt8
	DataTypeInt16
	DataTypeInt32
	DataTypeInt64
	DataTypeUint8
	DataTypeUint16
	DataTypeUint32
	DataTypeUint64
	DataTypeFloat
	DataTypeDouble
	DataTypeString
	DataTypeArray
)

var dataTypeNames = []string{
	"unknown", "boolean", "int8", "int16", "int32", "int64",
	"uint8", "uint16", "uint32", "uint64", "float", "double",
	"string", "array",
}

// String returns the VSS data type name.
func (d DataType) String() string {
	if int(d) < len(dataTypeNames) {
		return dataTypeNames[d]
	}
	return "unknown"
}

// IsNumeric reports whether values of this type are numbers.
func (d DataType) IsNumeric() bool {
	return d >= DataTypeInt8 && d <= DataTypeDouble
}

func (d DataType) isSigned() bool   { return d >= DataTypeInt8 && d <= DataTypeInt64 }
func (d DataType) isUnsigned() bool { return d >= DataTypeUint8 && d <= DataTypeUint64 }
func (d DataType) isFloat() bool    { return d == DataTypeFloat || d == DataTypeDouble }

// ParseDataType parses a VSS datatype name. Array types ("uint8[]") return
// DataTypeArray together with the element type.
func ParseDataType(s string) (DataType, DataType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if elem, ok := strings.CutSuffix(s, "[]"); ok {
		e, _, err := ParseDataType(elem)
		if err != nil {
			return DataTypeUnknown, DataTypeUnknown, err
		}
		return DataTypeArray, e, nil
	}
	switch s {
	case "bool":
		return DataTypeBool, DataTypeUnknown, nil
	case "":
		return DataTypeUnknown, DataTypeUnknown, nil
	}
	for i, name := range dataTypeNames {
		if name == s && DataType(i) != DataTypeArray {
			return DataType(i), DataTypeUnknown, nil
		}
	}
	return DataTypeUnknown, DataTypeUnknown, fmt.Errorf("unknown datatype %q", s)
}

// Metadata describes a node's properties.
type Metadata struct {
	// Kind is the node kind (branch or one of the leaf kinds).
	Kind Kind

	// Type is the value type of a leaf. Unused for branches.
	Type DataType

	// Element is the element type when Type is DataTypeArray.
	Element DataType

	// Access defines the allowed operations. Zero means DefaultAccess(Kind).
	Access Access

	// Nullable indicates if nil is a valid value.
	Nullable bool

	// Min is the minimum allowed value (numeric types).
	Min *float64

	// Max is the maximum allowed value (numeric types).
	Max *float64

	// Allowed restricts values to an enumerated set.
	Allowed []any

	// Default is the value of an attribute before any write.
	Default any

	// Unit is the unit of measurement (e.g., "km/h", "percent").
	Unit string

	// Description is a human-readable description.
	Description string
}

// IsLeaf reports whether the metadata describes a value-carrying node.
func (m *Metadata) IsLeaf() bool {
	return m.Kind != KindBranch
}

// Coerce validates value against the metadata and returns it in canonical
// form: signed integers as int64, unsigned as uint64, floats as float64.
// Numeric strings are parsed, since VISS clients commonly send values as
// JSON strings.
func (m *Metadata) Coerce(value any) (any, error) {
	if value == nil {
		if !m.Nullable {
			return nil, ErrNotNullable
		}
		return nil, nil
	}

	var v any
	var err error
	if m.Type == DataTypeArray {
		v, err = coerceArray(m.Element, value)
	} else {
		v, err = coerceScalar(m.Type, value)
	}
	if err != nil {
		return nil, err
	}

	items := []any{v}
	elem := m.Type
	if m.Type == DataTypeArray {
		items = v.([]any)
		elem = m.Element
	}
	for _, item := range items {
		if elem.IsNumeric() {
			if err := m.checkRange(elem, item); err != nil {
				return nil, err
			}
		}
		if len(m.Allowed) > 0 && !m.isAllowed(item) {
			return nil, fmt.Errorf("%w: %v", ErrNotAllowed, item)
		}
	}
	return v, nil
}

func coerceArray(elem DataType, value any) (any, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected array", ErrValueType)
	}
	out := make([]any, len(items))
	for i, item := range items {
		v, err := coerceScalar(elem, item)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func coerceScalar(t DataType, value any) (any, error) {
	switch {
	case t == DataTypeUnknown:
		return value, nil
	case t == DataTypeBool:
		switch b := value.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, fmt.Errorf("%w: expected boolean", ErrValueType)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("%w: expected boolean", ErrValueType)
	case t == DataTypeString:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("%w: expected string", ErrValueType)
	case t.isFloat():
		f, ok := ToFloat64(value)
		if !ok {
			return nil, fmt.Errorf("%w: expected %s", ErrValueType, t)
		}
		return f, nil
	case t.isSigned():
		return toInt64(value)
	case t.isUnsigned():
		return toUint64(value)
	}
	return nil, fmt.Errorf("%w: unsupported type %s", ErrValueType, t)
}

// 2^63 as float64. float64(math.MaxInt64) rounds up to it, so bounds use
// half-open comparisons.
const twoTo63 = float64(1 << 63)

// toInt64 converts value to int64 without passing integers through float64.
func toInt64(value any) (any, error) {
	switch n := value.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint, uint8, uint16, uint32, uint64:
		u, _ := toUint64(n)
		if u.(uint64) > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %v exceeds int64", ErrOutOfRange, n)
		}
		return int64(u.(uint64)), nil
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		} else if errors.Is(err, strconv.ErrRange) {
			return nil, fmt.Errorf("%w: %s exceeds int64", ErrOutOfRange, s)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: expected integer", ErrValueType)
		}
		return floatToInt64(f)
	}
	f, ok := toNumber(value)
	if !ok {
		return nil, fmt.Errorf("%w: expected integer", ErrValueType)
	}
	return floatToInt64(f)
}

func floatToInt64(f float64) (any, error) {
	if f != math.Trunc(f) {
		return nil, fmt.Errorf("%w: expected integer", ErrValueType)
	}
	if f < -twoTo63 || f >= twoTo63 {
		return nil, fmt.Errorf("%w: %v exceeds int64", ErrOutOfRange, f)
	}
	return int64(f), nil
}

// toUint64 converts value to uint64 without passing integers through
// float64. Negative inputs are a type error.
func toUint64(value any) (any, error) {
	switch n := value.(type) {
	case uint:
		return uint64(n), nil
	case uint8:
		return uint64(n), nil
	case uint16:
		return uint64(n), nil
	case uint32:
		return uint64(n), nil
	case uint64:
		return n, nil
	case int, int8, int16, int32, int64:
		i, _ := toInt64(n)
		if i.(int64) < 0 {
			return nil, fmt.Errorf("%w: expected unsigned integer", ErrValueType)
		}
		return uint64(i.(int64)), nil
	case string:
		s := strings.TrimSpace(n)
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return u, nil
		} else if errors.Is(err, strconv.ErrRange) {
			return nil, fmt.Errorf("%w: %s exceeds uint64", ErrOutOfRange, s)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: expected unsigned integer", ErrValueType)
		}
		return floatToUint64(f)
	}
	f, ok := toNumber(value)
	if !ok {
		return nil, fmt.Errorf("%w: expected unsigned integer", ErrValueType)
	}
	return floatToUint64(f)
}

func floatToUint64(f float64) (any, error) {
	if f != math.Trunc(f) || f < 0 {
		return nil, fmt.Errorf("%w: expected unsigned integer", ErrValueType)
	}
	if f >= 2*twoTo63 {
		return nil, fmt.Errorf("%w: %v exceeds uint64", ErrOutOfRange, f)
	}
	return uint64(f), nil
}

// checkRange validates numeric range constraints, including the implicit
// bounds of sized integer types. 64-bit integer bounds are enforced by
// coercion.
func (m *Metadata) checkRange(t DataType, value any) error {
	v, ok := ToFloat64(value)
	if !ok {
		return nil
	}
	if m.Min == nil && m.Max == nil && (t == DataTypeInt64 || t == DataTypeUint64) {
		return nil
	}
	lo, hi := typeBounds(t)
	if m.Min != nil && *m.Min > lo {
		lo = *m.Min
	}
	if m.Max != nil && *m.Max < hi {
		hi = *m.Max
	}
	if v < lo {
		return fmt.Errorf("%w: %v < %v", ErrOutOfRange, value, lo)
	}
	if v > hi {
		return fmt.Errorf("%w: %v > %v", ErrOutOfRange, value, hi)
	}
	return nil
}

func typeBounds(t DataType) (float64, float64) {
	switch t {
	case DataTypeInt8:
		return math.MinInt8, math.MaxInt8
	case DataTypeInt16:
		return math.MinInt16, math.MaxInt16
	case DataTypeInt32:
		return math.MinInt32, math.MaxInt32
	case DataTypeUint8:
		return 0, math.MaxUint8
	case DataTypeUint16:
		return 0, math.MaxUint16
	case DataTypeUint32:
		return 0, math.MaxUint32
	case DataTypeInt64:
		return -twoTo63, twoTo63
	case DataTypeUint64:
		return 0, 2 * twoTo63
	default:
		return math.Inf(-1), math.Inf(1)
	}
}

func (m *Metadata) isAllowed(v any) bool {
	for _, a := range m.Allowed {
		if ValuesEqual(a, v) {
			return true
		}
	}
	return false
}

// ValuesEqual compares two signal values. Numbers compare by value across
// Go numeric types; arrays compare element-wise.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, ok := toNumber(a); ok {
		bf, ok := toNumber(b)
		return ok && af == bf
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !ValuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// ToFloat64 converts any Go number, or a numeric string, to float64.
func ToFloat64(v any) (float64, bool) {
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return toNumber(v)
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
