package log

import (
	"time"

	"github.com/viss-protocol/viss-go/pkg/wire"
)

// RequestMessage captures a decoded request. The authorization token is
// never recorded.
func RequestMessage(req *wire.Request) *MessageEvent {
	return &MessageEvent{
		Type:           MessageTypeRequest,
		Action:         string(req.Action),
		RequestID:      req.RequestID,
		Path:           req.Path,
		SubscriptionID: req.SubscriptionID,
		Value:          req.Value,
	}
}

// ResponseMessage captures a response and the time spent producing it.
func ResponseMessage(resp *wire.Response, processing time.Duration) *MessageEvent {
	m := &MessageEvent{
		Type:           MessageTypeResponse,
		Action:         string(resp.Action),
		RequestID:      resp.RequestID,
		SubscriptionID: resp.SubscriptionID,
		Value:          resp.Value,
		ProcessingTime: &processing,
	}
	if resp.Error != nil {
		m.ErrorNumber = resp.Error.Number
		m.ErrorReason = resp.Error.Reason
	}
	return m
}

// NotificationMessage captures a subscription notification.
func NotificationMessage(n *wire.Notification) *MessageEvent {
	return &MessageEvent{
		Type:           MessageTypeNotification,
		Action:         string(wire.ActionSubscription),
		Path:           n.Path,
		SubscriptionID: n.SubscriptionID,
		Value:          n.Value,
		Gap:            n.Gap,
	}
}
