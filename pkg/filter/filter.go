// Package filter decides whether a value update is worth delivering to a
// subscription.
//
// A Filter is declarative. The decision itself is ShouldDeliver, a pure
// function of the filter, the bookkeeping State of one subscription-path
// pair, and the new record. Evaluator wraps a State and serializes the
// bookkeeping updates for one pair.
//
// Supported filters:
//   - None: every update.
//   - MinChange: |new - last delivered| >= Threshold.
//   - Range: the value enters or leaves [Lower, Upper) (edge-triggered).
//   - Curation: the value differs from the last delivered value.
//   - Timing: at least Interval since the last delivery.
//
// The first update seen by a pair is always delivered.
package filter

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/viss-protocol/viss-go/pkg/model"
)

// ErrInvalidFilter is returned for filters with inconsistent parameters.
var ErrInvalidFilter = errors.New("invalid filter")

// Kind selects the filter behavior.
type Kind uint8

const (
	KindNone Kind = iota
	KindMinChange
	KindRange
	KindCuration
	KindTiming
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "NONE"
	case KindMinChange:
		return "MIN_CHANGE"
	case KindRange:
		return "RANGE"
	case KindCuration:
		return "CURATION"
	case KindTiming:
		return "TIMING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", k)
	}
}

// Filter is a subscription filter. Only the fields of its Kind are used.
type Filter struct {
	Kind Kind

	// Threshold is the minimum change for KindMinChange.
	Threshold float64

	// Lower and Upper bound the KindRange interval [Lower, Upper).
	// A nil bound is open.
	Lower *float64
	Upper *float64

	// Interval is the minimum spacing of deliveries for KindTiming.
	Interval time.Duration
}

// None returns the pass-through filter.
func None() Filter { return Filter{} }

// MinChange returns a minimum-change filter.
func MinChange(threshold float64) Filter {
	return Filter{Kind: KindMinChange, Threshold: threshold}
}

// Range returns an edge-triggered range filter on [lower, upper).
func Range(lower, upper float64) Filter {
	return Filter{Kind: KindRange, Lower: &lower, Upper: &upper}
}

// Curation returns an on-change deduplication filter.
func Curation() Filter { return Filter{Kind: KindCuration} }

// Timing returns a sampling filter with the given interval.
func Timing(interval time.Duration) Filter {
	return Filter{Kind: KindTiming, Interval: interval}
}

// Validate checks the filter parameters.
func (f Filter) Validate() error {
	switch f.Kind {
	case KindNone, KindCuration:
		return nil
	case KindMinChange:
		if f.Threshold < 0 || math.IsNaN(f.Threshold) {
			return fmt.Errorf("%w: negative threshold %v", ErrInvalidFilter, f.Threshold)
		}
		return nil
	case KindRange:
		if f.Lower == nil && f.Upper == nil {
			return fmt.Errorf("%w: range without bounds", ErrInvalidFilter)
		}
		if f.Lower != nil && f.Upper != nil && *f.Lower >= *f.Upper {
			return fmt.Errorf("%w: empty range [%v, %v)", ErrInvalidFilter, *f.Lower, *f.Upper)
		}
		return nil
	case KindTiming:
		if f.Interval <= 0 {
			return fmt.Errorf("%w: non-positive interval %s", ErrInvalidFilter, f.Interval)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidFilter, f.Kind)
	}
}

// String returns a compact description of the filter.
func (f Filter) String() string {
	var b strings.Builder
	b.WriteString(f.Kind.String())
	switch f.Kind {
	case KindMinChange:
		fmt.Fprintf(&b, "(%v)", f.Threshold)
	case KindRange:
		b.WriteString("[")
		if f.Lower != nil {
			fmt.Fprintf(&b, "%v", *f.Lower)
		}
		b.WriteString(",")
		if f.Upper != nil {
			fmt.Fprintf(&b, "%v", *f.Upper)
		}
		b.WriteString(")")
	case KindTiming:
		fmt.Fprintf(&b, "(%s)", f.Interval)
	}
	return b.String()
}

// inRange reports whether v lies in [Lower, Upper). Non-numeric values are
// never in range.
func (f Filter) inRange(v any) bool {
	x, ok := model.ToFloat64(v)
	if !ok {
		return false
	}
	if f.Lower != nil && x < *f.Lower {
		return false
	}
	if f.Upper != nil && x >= *f.Upper {
		return false
	}
	return true
}
