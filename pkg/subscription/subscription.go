package subscription

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/viss-protocol/viss-go/pkg/filter"
	"github.com/viss-protocol/viss-go/pkg/metrics"
	"github.com/viss-protocol/viss-go/pkg/model"
	"github.com/viss-protocol/viss-go/pkg/store"
)

// Subscription errors.
var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrResourceExhausted    = errors.New("maximum subscriptions reached")
	ErrNoTargets            = errors.New("subscription covers no signals")
	ErrInvalidState         = errors.New("invalid subscription state")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionClosed        = errors.New("session closed")
	ErrSessionAttached      = errors.New("session attached to another link")
)

// Default limits.
const (
	DefaultMaxSubscriptions           = 10000
	DefaultMaxSubscriptionsPerSession = 100
	DefaultQueueSize                  = 256
	DefaultGracePeriod                = 30 * time.Second
)

// State is the lifecycle state of a subscription.
type State uint32

const (
	StatePending State = iota
	StateActive
	StatePaused
	StateCancelled
	StateExpired
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateActive:
		return "ACTIVE"
	case StatePaused:
		return "PAUSED"
	case StateCancelled:
		return "CANCELLED"
	case StateExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no transition leaves the state.
func (s State) IsTerminal() bool {
	return s == StateCancelled || s == StateExpired
}

// Config holds subscription manager configuration.
type Config struct {
	// MaxSubscriptions is the maximum number of live subscriptions.
	MaxSubscriptions int

	// MaxSubscriptionsPerSession limits subscriptions of one session.
	MaxSubscriptionsPerSession int

	// QueueSize is the delivery queue capacity of each session.
	QueueSize int

	// GracePeriod is how long a detached session is kept for resume.
	GracePeriod time.Duration

	// Logger receives lifecycle logs (optional).
	Logger *slog.Logger

	// Metrics receives subscription metrics (optional).
	Metrics *metrics.Metrics
}

// DefaultConfig returns the default subscription configuration.
func DefaultConfig() Config {
	return Config{
		MaxSubscriptions:           DefaultMaxSubscriptions,
		MaxSubscriptionsPerSession: DefaultMaxSubscriptionsPerSession,
		QueueSize:                  DefaultQueueSize,
		GracePeriod:                DefaultGracePeriod,
	}
}

// Delivery is one value update for a subscription.
type Delivery struct {
	SubscriptionID string
	Handle         model.Handle
	Path           string
	Value          any
	Timestamp      time.Time

	// Gap is set when deliveries of this subscription were dropped since
	// the previous delivery.
	Gap bool
}

// Subscription is a standing request for value updates on a set of leaves.
type Subscription struct {
	// ID is the unique subscription identifier.
	ID string

	// Expression is the path expression the subscription was created with.
	Expression string

	// Filter applies to every covered leaf independently.
	Filter filter.Filter

	// Created is when the subscription was registered.
	Created time.Time

	session *Session
	handles []model.Handle

	// mu serializes state transitions against enqueue.
	mu         sync.Mutex
	state      atomic.Uint32
	evaluators map[model.Handle]*filter.Evaluator

	gapPending atomic.Bool
	dropped    atomic.Uint64
}

func newSubscription(id, expr string, sess *Session, handles []model.Handle, f filter.Filter) *Subscription {
	sub := &Subscription{
		ID:         id,
		Expression: expr,
		Filter:     f,
		Created:    time.Now(),
		session:    sess,
		handles:    handles,
		evaluators: make(map[model.Handle]*filter.Evaluator, len(handles)),
	}
	for _, h := range handles {
		sub.evaluators[h] = filter.NewEvaluator(f)
	}
	return sub
}

// Session returns the owning session.
func (s *Subscription) Session() *Session { return s.session }

// Handles returns the covered leaves.
func (s *Subscription) Handles() []model.Handle {
	out := make([]model.Handle, len(s.handles))
	copy(out, s.handles)
	return out
}

// State returns the current state.
func (s *Subscription) State() State { return State(s.state.Load()) }

// IsActive returns whether the subscription receives deliveries.
func (s *Subscription) IsActive() bool { return s.State() == StateActive }

// Gap reports whether any delivery of this subscription was dropped.
func (s *Subscription) Gap() bool { return s.dropped.Load() > 0 }

// Dropped returns the number of dropped deliveries.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// activate moves a pending subscription to ACTIVE.
func (s *Subscription) activate() {
	s.mu.Lock()
	if s.State() == StatePending {
		s.state.Store(uint32(StateActive))
	}
	s.mu.Unlock()
}

// transition moves between ACTIVE and PAUSED.
func (s *Subscription) transition(from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.State()
	if cur == to {
		return nil
	}
	if cur != from {
		return ErrInvalidState
	}
	s.state.Store(uint32(to))
	return nil
}

// terminate moves the subscription into a terminal state. It returns false
// if the subscription was already terminal. Once terminate returns, no
// enqueue for this subscription is in flight.
func (s *Subscription) terminate(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State().IsTerminal() {
		return false
	}
	s.state.Store(uint32(to))
	return true
}

// offer evaluates a change and enqueues a delivery when the filter accepts
// it. It returns true when a delivery was enqueued.
func (s *Subscription) offer(c store.Change) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateActive {
		return false
	}
	ev, ok := s.evaluators[c.Handle]
	if !ok || !ev.Offer(c.Current) {
		return false
	}
	s.session.enqueue(s, Delivery{
		SubscriptionID: s.ID,
		Handle:         c.Handle,
		Path:           c.Path,
		Value:          c.Current.Value,
		Timestamp:      c.Current.Timestamp,
	})
	return true
}

// markDropped records a dropped delivery. Called with the session lock held.
func (s *Subscription) markDropped() {
	s.dropped.Add(1)
	s.gapPending.Store(true)
}
