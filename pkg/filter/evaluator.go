package filter

import (
	"math"
	"sync"
	"time"

	"github.com/viss-protocol/viss-go/pkg/model"
	"github.com/viss-protocol/viss-go/pkg/store"
)

// State is the bookkeeping of one subscription-path pair.
type State struct {
	// Delivered is set once any record was delivered.
	Delivered bool

	// LastDelivered is the last delivered value.
	LastDelivered any

	// LastDeliveryTime is the timestamp of the last delivered record.
	LastDeliveryTime time.Time

	// Observed is set once any record was offered.
	Observed bool

	// LastObserved is the last offered value, delivered or not.
	LastObserved any
}

// ShouldDeliver reports whether next is delivery-worthy given the filter
// and the pair's state. It has no side effects.
func ShouldDeliver(f Filter, st State, next store.Record) bool {
	switch f.Kind {
	case KindNone:
		return true

	case KindMinChange:
		if !st.Delivered {
			return true
		}
		prev, okPrev := model.ToFloat64(st.LastDelivered)
		cur, okCur := model.ToFloat64(next.Value)
		if !okPrev || !okCur {
			return !model.ValuesEqual(st.LastDelivered, next.Value)
		}
		return math.Abs(cur-prev) >= f.Threshold

	case KindRange:
		if !st.Observed {
			return true
		}
		return f.inRange(st.LastObserved) != f.inRange(next.Value)

	case KindCuration:
		if !st.Delivered {
			return true
		}
		return !model.ValuesEqual(st.LastDelivered, next.Value)

	case KindTiming:
		if !st.Delivered {
			return true
		}
		return next.Timestamp.Sub(st.LastDeliveryTime) >= f.Interval

	default:
		return false
	}
}

// Advance returns the state after next was offered.
func (st State) Advance(next store.Record, delivered bool) State {
	st.Observed = true
	st.LastObserved = next.Value
	if delivered {
		st.Delivered = true
		st.LastDelivered = next.Value
		st.LastDeliveryTime = next.Timestamp
	}
	return st
}

// Evaluator applies a filter to the update stream of one
// subscription-path pair. It is safe for concurrent use.
type Evaluator struct {
	filter Filter

	mu    sync.Mutex
	state State
}

// NewEvaluator creates an evaluator with empty state.
func NewEvaluator(f Filter) *Evaluator {
	return &Evaluator{filter: f}
}

// Filter returns the evaluator's filter.
func (e *Evaluator) Filter() Filter { return e.filter }

// Offer evaluates next and updates the bookkeeping. It returns true when
// next should be delivered.
func (e *Evaluator) Offer(next store.Record) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	deliver := ShouldDeliver(e.filter, e.state, next)
	e.state = e.state.Advance(next, deliver)
	return deliver
}

// State returns a copy of the current bookkeeping.
func (e *Evaluator) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Reset clears the bookkeeping so the next offer delivers.
func (e *Evaluator) Reset() {
	e.mu.Lock()
	e.state = State{}
	e.mu.Unlock()
}
