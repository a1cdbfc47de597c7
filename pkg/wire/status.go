package wire

import (
	"errors"
	"fmt"

	"github.com/viss-protocol/viss-go/pkg/auth"
	"github.com/viss-protocol/viss-go/pkg/filter"
	"github.com/viss-protocol/viss-go/pkg/model"
	"github.com/viss-protocol/viss-go/pkg/store"
	"github.com/viss-protocol/viss-go/pkg/subscription"
)

// VISS error numbers.
const (
	NumberBadRequest         = 400
	NumberUnauthorized       = 401
	NumberForbidden          = 403
	NumberNotFound           = 404
	NumberConflict           = 409
	NumberTooManyRequests    = 429
	NumberServiceUnavailable = 503
)

// VISS error reasons.
const (
	ReasonBadRequest            = "bad_request"
	ReasonFilterInvalid         = "filter_invalid"
	ReasonInvalidValue          = "invalid_value"
	ReasonInvalidToken          = "invalid_token"
	ReasonExpiredToken          = "token_expired"
	ReasonForbidden             = "forbidden_request"
	ReasonReadOnly              = "read_only"
	ReasonInvalidPath           = "invalid_path"
	ReasonNoValue               = "no_value"
	ReasonInvalidSubscriptionID = "invalid_subscription_id"
	ReasonStaleTimestamp        = "stale_timestamp"
	ReasonInvalidState          = "invalid_state"
	ReasonTooManyRequests       = "too_many_requests"
	ReasonServiceUnavailable    = "service_unavailable"
)

// ErrTooManyRequests is returned when a client exceeds its request rate.
var ErrTooManyRequests = errors.New("too many requests")

// Error is the VISS error object.
type Error struct {
	Number  int    `json:"number" cbor:"1,keyasint"`
	Reason  string `json:"reason" cbor:"2,keyasint"`
	Message string `json:"message,omitempty" cbor:"3,keyasint,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%d %s", e.Number, e.Reason)
	}
	return fmt.Sprintf("%d %s: %s", e.Number, e.Reason, e.Message)
}

// NewError creates a VISS error.
func NewError(number int, reason, message string) *Error {
	return &Error{Number: number, Reason: reason, Message: message}
}

// ErrorFor maps an error to its VISS error. Unknown errors map to 503.
// A nil error returns nil.
func ErrorFor(err error) *Error {
	if err == nil {
		return nil
	}
	var we *Error
	if errors.As(err, &we) {
		return we
	}

	msg := err.Error()
	switch {
	case errors.Is(err, ErrInvalidMessage),
		errors.Is(err, model.ErrInvalidPathSyntax):
		return NewError(NumberBadRequest, ReasonBadRequest, msg)
	case errors.Is(err, filter.ErrInvalidFilter):
		return NewError(NumberBadRequest, ReasonFilterInvalid, msg)
	case errors.Is(err, model.ErrValueType),
		errors.Is(err, model.ErrOutOfRange),
		errors.Is(err, model.ErrNotAllowed),
		errors.Is(err, model.ErrNotNullable),
		errors.Is(err, store.ErrNotLeaf):
		return NewError(NumberBadRequest, ReasonInvalidValue, msg)
	case errors.Is(err, auth.ErrExpiredToken):
		return NewError(NumberUnauthorized, ReasonExpiredToken, msg)
	case errors.Is(err, auth.ErrInvalidToken):
		return NewError(NumberUnauthorized, ReasonInvalidToken, msg)
	case errors.Is(err, auth.ErrAccessDenied):
		return NewError(NumberForbidden, ReasonForbidden, msg)
	case errors.Is(err, store.ErrReadOnly):
		return NewError(NumberForbidden, ReasonReadOnly, msg)
	case errors.Is(err, model.ErrPathNotFound),
		errors.Is(err, subscription.ErrNoTargets):
		return NewError(NumberNotFound, ReasonInvalidPath, msg)
	case errors.Is(err, store.ErrNoValue):
		return NewError(NumberNotFound, ReasonNoValue, msg)
	case errors.Is(err, subscription.ErrSubscriptionNotFound):
		return NewError(NumberNotFound, ReasonInvalidSubscriptionID, msg)
	case errors.Is(err, store.ErrRejectedStale):
		return NewError(NumberConflict, ReasonStaleTimestamp, msg)
	case errors.Is(err, subscription.ErrInvalidState):
		return NewError(NumberConflict, ReasonInvalidState, msg)
	case errors.Is(err, ErrTooManyRequests):
		return NewError(NumberTooManyRequests, ReasonTooManyRequests, msg)
	default:
		return NewError(NumberServiceUnavailable, ReasonServiceUnavailable, msg)
	}
}

// Status returns the metrics label of a result: "ok" or the error reason.
func Status(err error) string {
	if err == nil {
		return "ok"
	}
	return ErrorFor(err).Reason
}
