package wire

import "fmt"

// Action is the VISS action of a message.
type Action string

const (
	ActionGet            Action = "get"
	ActionSet            Action = "set"
	ActionSubscribe      Action = "subscribe"
	ActionUnsubscribe    Action = "unsubscribe"
	ActionUnsubscribeAll Action = "unsubscribeAll"

	// ActionSubscription marks a server push notification.
	ActionSubscription Action = "subscription"

	// Pause and resume are extensions to the VISS action set.
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
)

// IsValid reports whether a is a known action.
func (a Action) IsValid() bool {
	switch a {
	case ActionGet, ActionSet, ActionSubscribe, ActionUnsubscribe,
		ActionUnsubscribeAll, ActionSubscription, ActionPause, ActionResume:
		return true
	}
	return false
}

// IsRequest reports whether a client may send a.
func (a Action) IsRequest() bool {
	return a.IsValid() && a != ActionSubscription
}

// NeedsPath reports whether a request with a carries a path.
func (a Action) NeedsPath() bool {
	return a == ActionGet || a == ActionSet || a == ActionSubscribe
}

// NeedsSubscriptionID reports whether a request with a names a subscription.
func (a Action) NeedsSubscriptionID() bool {
	return a == ActionUnsubscribe || a == ActionPause || a == ActionResume
}

// String returns the action name.
func (a Action) String() string {
	if a == "" {
		return "UNKNOWN"
	}
	return string(a)
}

// ParseAction converts a string to an Action.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.IsValid() {
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidMessage, s)
	}
	return a, nil
}
