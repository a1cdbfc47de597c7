package wire

import (
	"errors"
	"fmt"
	"time"

	"github.com/viss-protocol/viss-go/pkg/subscription"
)

// ErrInvalidMessage is returned for messages that cannot be decoded or
// lack required fields.
var ErrInvalidMessage = errors.New("invalid message")

// Timestamp is a point in time in milliseconds since the Unix epoch.
type Timestamp int64

// FromTime converts t to a Timestamp. The zero time maps to 0.
func FromTime(t time.Time) Timestamp {
	if t.IsZero() {
		return 0
	}
	return Timestamp(t.UnixMilli())
}

// Time returns the timestamp as time.Time. 0 maps to the zero time.
func (ts Timestamp) Time() time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(ts))
}

// Request is a client request.
//
//	{"action": "get", "path": "Vehicle.Speed", "requestId": "1"}
//	{"action": "set", "path": "Vehicle.Cabin.Door.Row1.Left.IsOpen", "value": true, "requestId": "2"}
//	{"action": "subscribe", "path": "Vehicle.Speed", "filters": {"minChange": 5}, "requestId": "3"}
//	{"action": "unsubscribe", "subscriptionId": "...", "requestId": "4"}
type Request struct {
	Action         Action    `json:"action" cbor:"1,keyasint"`
	RequestID      string    `json:"requestId" cbor:"2,keyasint"`
	Path           string    `json:"path,omitempty" cbor:"3,keyasint,omitempty"`
	Value          any       `json:"value,omitempty" cbor:"4,keyasint,omitempty"`
	Filters        *Filters  `json:"filters,omitempty" cbor:"5,keyasint,omitempty"`
	SubscriptionID string    `json:"subscriptionId,omitempty" cbor:"6,keyasint,omitempty"`
	Authorization  string    `json:"authorization,omitempty" cbor:"7,keyasint,omitempty"`
	Timestamp      Timestamp `json:"timestamp,omitempty" cbor:"8,keyasint,omitempty"`
}

// Validate checks that the request carries the fields its action needs.
func (r *Request) Validate() error {
	if !r.Action.IsRequest() {
		return fmt.Errorf("%w: action %q", ErrInvalidMessage, r.Action)
	}
	if r.RequestID == "" {
		return fmt.Errorf("%w: missing requestId", ErrInvalidMessage)
	}
	if r.Action.NeedsPath() && r.Path == "" {
		return fmt.Errorf("%w: %s without path", ErrInvalidMessage, r.Action)
	}
	if r.Action.NeedsSubscriptionID() && r.SubscriptionID == "" {
		return fmt.Errorf("%w: %s without subscriptionId", ErrInvalidMessage, r.Action)
	}
	if r.Filters != nil && r.Action != ActionSubscribe {
		return fmt.Errorf("%w: filters on %s", ErrInvalidMessage, r.Action)
	}
	return nil
}

// Response answers exactly one request.
//
// For get on a single leaf Value is the leaf value and Timestamp its write
// time. For get on a branch or wildcard Value maps each leaf path to its
// value and Timestamp is the newest write time among them.
type Response struct {
	Action         Action    `json:"action" cbor:"1,keyasint"`
	RequestID      string    `json:"requestId" cbor:"2,keyasint"`
	Value          any       `json:"value,omitempty" cbor:"4,keyasint,omitempty"`
	SubscriptionID string    `json:"subscriptionId,omitempty" cbor:"6,keyasint,omitempty"`
	Timestamp      Timestamp `json:"timestamp" cbor:"8,keyasint"`
	Error          *Error    `json:"error,omitempty" cbor:"9,keyasint,omitempty"`
}

// IsSuccess returns true if the response carries no error.
func (r *Response) IsSuccess() bool {
	return r.Error == nil
}

// Notification is a subscription delivery pushed to the client.
//
//	{"action": "subscription", "subscriptionId": "...", "path": "Vehicle.Speed", "value": 42, "timestamp": 1700000000000}
type Notification struct {
	Action         Action    `json:"action" cbor:"1,keyasint"`
	Path           string    `json:"path,omitempty" cbor:"3,keyasint,omitempty"`
	Value          any       `json:"value" cbor:"4,keyasint"`
	SubscriptionID string    `json:"subscriptionId" cbor:"6,keyasint"`
	Timestamp      Timestamp `json:"timestamp" cbor:"8,keyasint"`
	Error          *Error    `json:"error,omitempty" cbor:"9,keyasint,omitempty"`

	// Gap is set when earlier deliveries of the subscription were dropped.
	Gap bool `json:"gap,omitempty" cbor:"10,keyasint,omitempty"`
}

// NewSuccess creates a success response to req.
func NewSuccess(req *Request, ts time.Time) *Response {
	return &Response{
		Action:    req.Action,
		RequestID: req.RequestID,
		Timestamp: FromTime(ts),
	}
}

// NewFailure creates an error response to req.
func NewFailure(req *Request, err error, ts time.Time) *Response {
	return &Response{
		Action:         req.Action,
		RequestID:      req.RequestID,
		SubscriptionID: req.SubscriptionID,
		Timestamp:      FromTime(ts),
		Error:          ErrorFor(err),
	}
}

// envelope holds the fields shared by all messages.
type envelope struct {
	Action    Action `json:"action" cbor:"1,keyasint"`
	RequestID string `json:"requestId" cbor:"2,keyasint"`
}

// NotificationFrom converts a subscription delivery to a notification.
func NotificationFrom(d subscription.Delivery) *Notification {
	return &Notification{
		Action:         ActionSubscription,
		SubscriptionID: d.SubscriptionID,
		Path:           d.Path,
		Value:          d.Value,
		Timestamp:      FromTime(d.Timestamp),
		Gap:            d.Gap,
	}
}
