// Package feed connects vehicle data sources to the value store.
//
// A source turns samples from a bus, a broker or a simulation into writes
// on a Sink. Sources use the data-source write path, so sensor values are
// accepted and access modes are not checked.
package feed

import (
	"time"

	"github.com/viss-protocol/viss-go/pkg/store"
)

// Sink receives signal samples. *store.Store implements it.
type Sink interface {
	UpdatePath(path string, value any, ts time.Time) (store.Record, error)
}

// Sample is one signal value from a data source.
type Sample struct {
	// Path is the leaf path, e.g. "Vehicle.Speed".
	Path string `json:"path"`

	// Value is the raw value, coerced by the store to the leaf type.
	Value any `json:"value"`

	// Timestamp is milliseconds since the Unix epoch. Zero means now.
	Timestamp int64 `json:"ts,omitempty"`
}

// Time returns the sample time, or now for a zero timestamp.
func (s Sample) Time(now time.Time) time.Time {
	if s.Timestamp == 0 {
		return now
	}
	return time.UnixMilli(s.Timestamp)
}

var _ Sink = (*store.Store)(nil)
