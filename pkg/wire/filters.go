package wire

import (
	"fmt"
	"time"

	"github.com/viss-protocol/viss-go/pkg/filter"
)

// Filters is the VISS filters object of a subscribe request. At most one
// filter may be set.
//
//	{"interval": 100}         timing, milliseconds
//	{"range": {"above": 10, "below": 20}}
//	{"minChange": 0.5}
//	{"curation": true}
type Filters struct {
	Interval  *int64       `json:"interval,omitempty" cbor:"1,keyasint,omitempty"`
	Range     *RangeFilter `json:"range,omitempty" cbor:"2,keyasint,omitempty"`
	MinChange *float64     `json:"minChange,omitempty" cbor:"3,keyasint,omitempty"`
	Curation  bool         `json:"curation,omitempty" cbor:"4,keyasint,omitempty"`
}

// RangeFilter bounds the range filter: values v with Above <= v < Below
// are in range. A missing bound is open.
type RangeFilter struct {
	Above *float64 `json:"above,omitempty" cbor:"1,keyasint,omitempty"`
	Below *float64 `json:"below,omitempty" cbor:"2,keyasint,omitempty"`
}

// Filter converts the wire filters to a filter.Filter. A nil receiver is
// the pass-through filter.
func (f *Filters) Filter() (filter.Filter, error) {
	if f == nil {
		return filter.None(), nil
	}

	var out []filter.Filter
	if f.Interval != nil {
		out = append(out, filter.Timing(time.Duration(*f.Interval)*time.Millisecond))
	}
	if f.Range != nil {
		out = append(out, filter.Filter{Kind: filter.KindRange, Lower: f.Range.Above, Upper: f.Range.Below})
	}
	if f.MinChange != nil {
		out = append(out, filter.MinChange(*f.MinChange))
	}
	if f.Curation {
		out = append(out, filter.Curation())
	}

	switch len(out) {
	case 0:
		return filter.None(), nil
	case 1:
		if err := out[0].Validate(); err != nil {
			return filter.Filter{}, err
		}
		return out[0], nil
	default:
		return filter.Filter{}, fmt.Errorf("%w: %d filters given, at most one supported", filter.ErrInvalidFilter, len(out))
	}
}

// FiltersFrom converts a filter.Filter to its wire form. The pass-through
// filter maps to nil.
func FiltersFrom(f filter.Filter) *Filters {
	switch f.Kind {
	case filter.KindTiming:
		ms := f.Interval.Milliseconds()
		return &Filters{Interval: &ms}
	case filter.KindRange:
		return &Filters{Range: &RangeFilter{Above: f.Lower, Below: f.Upper}}
	case filter.KindMinChange:
		th := f.Threshold
		return &Filters{MinChange: &th}
	case filter.KindCuration:
		return &Filters{Curation: true}
	default:
		return nil
	}
}
