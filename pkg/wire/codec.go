package wire

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// WebSocket subprotocols.
const (
	SubprotocolJSON = "viss.json"
	SubprotocolCBOR = "viss.cbor"
)

// Codec encodes and decodes messages for one subprotocol.
type Codec interface {
	// Subprotocol returns the WebSocket subprotocol name.
	Subprotocol() string

	// Binary reports whether frames are binary rather than text.
	Binary() bool

	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSON is the default text codec.
var JSON Codec = jsonCodec{}

// CBOR is the binary codec with integer keys.
var CBOR Codec = cborCodec{}

// Subprotocols lists the supported subprotocols in order of preference.
var Subprotocols = []string{SubprotocolJSON, SubprotocolCBOR}

// CodecFor returns the codec of a negotiated subprotocol. An empty
// subprotocol selects JSON.
func CodecFor(subprotocol string) (Codec, error) {
	switch subprotocol {
	case "", SubprotocolJSON:
		return JSON, nil
	case SubprotocolCBOR:
		return CBOR, nil
	default:
		return nil, fmt.Errorf("unsupported subprotocol %q", subprotocol)
	}
}

type jsonCodec struct{}

func (jsonCodec) Subprotocol() string { return SubprotocolJSON }
func (jsonCodec) Binary() bool        { return false }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

var reflectMapStringAny = reflect.TypeOf(map[string]any(nil))

// encMode is the CBOR encoder mode for VISS messages.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for VISS messages.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Lenient for forward compatibility. Maps decode with string keys so
	// values round-trip with the JSON codec.
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
		DefaultMapType:    reflectMapStringAny,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

type cborCodec struct{}

func (cborCodec) Subprotocol() string { return SubprotocolCBOR }
func (cborCodec) Binary() bool        { return true }

func (cborCodec) Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

func (cborCodec) Unmarshal(data []byte, v any) error { return decMode.Unmarshal(data, v) }

// EncodeRequest validates and encodes a request.
func EncodeRequest(c Codec, req *Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return c.Marshal(req)
}

// DecodeRequest decodes and validates a request. On a validation failure
// the partially decoded request is returned with the error, so the caller
// can still answer with the request id.
func DecodeRequest(c Codec, data []byte) (*Request, error) {
	var req Request
	if err := c.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := req.Validate(); err != nil {
		return &req, err
	}
	return &req, nil
}

// EncodeResponse encodes a response.
func EncodeResponse(c Codec, resp *Response) ([]byte, error) {
	return c.Marshal(resp)
}

// DecodeResponse decodes a response.
func DecodeResponse(c Codec, data []byte) (*Response, error) {
	var resp Response
	if err := c.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return &resp, nil
}

// EncodeNotification encodes a notification. The action is always
// "subscription".
func EncodeNotification(c Codec, n *Notification) ([]byte, error) {
	n.Action = ActionSubscription
	return c.Marshal(n)
}

// DecodeNotification decodes a notification.
func DecodeNotification(c Codec, data []byte) (*Notification, error) {
	var n Notification
	if err := c.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if n.Action != ActionSubscription {
		return nil, fmt.Errorf("%w: not a notification: action %q", ErrInvalidMessage, n.Action)
	}
	return &n, nil
}

// MessageType represents the type of a decoded server message.
type MessageType int

const (
	MessageTypeUnknown MessageType = iota
	MessageTypeResponse
	MessageTypeNotification
)

// PeekMessageType examines a server message to tell responses from
// notifications without fully decoding it.
func PeekMessageType(c Codec, data []byte) (MessageType, error) {
	var env envelope
	if err := c.Unmarshal(data, &env); err != nil {
		return MessageTypeUnknown, fmt.Errorf("failed to peek message: %w", err)
	}
	switch {
	case env.Action == ActionSubscription:
		return MessageTypeNotification, nil
	case env.Action.IsRequest():
		return MessageTypeResponse, nil
	default:
		return MessageTypeUnknown, fmt.Errorf("%w: action %q", ErrInvalidMessage, env.Action)
	}
}
