package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/viss-protocol/viss-go/pkg/auth"
)

// SessionState is the link state of a session.
type SessionState uint8

const (
	// SessionAttached means a transport link is serving the session.
	SessionAttached SessionState = iota

	// SessionDetached means the link was lost and the grace period runs.
	SessionDetached

	// SessionClosed is terminal.
	SessionClosed
)

// String returns a human-readable session state name.
func (s SessionState) String() string {
	switch s {
	case SessionAttached:
		return "ATTACHED"
	case SessionDetached:
		return "DETACHED"
	case SessionClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

type queued struct {
	sub *Subscription
	d   Delivery
}

// Session is one connected consumer. It owns its subscriptions and a
// bounded delivery queue.
type Session struct {
	id      string
	manager *Manager
	created time.Time

	mu         sync.Mutex
	identity   auth.Identity
	state      SessionState
	subs       map[string]*Subscription
	queue      []queued
	capacity   int
	dropped    uint64
	graceTimer *time.Timer
	detachGen  uint64
	detachedAt time.Time

	ready chan struct{}
	done  chan struct{}
}

func newSession(id string, m *Manager, identity auth.Identity, capacity int) *Session {
	return &Session{
		id:       id,
		manager:  m,
		created:  time.Now(),
		identity: identity,
		state:    SessionAttached,
		subs:     make(map[string]*Subscription),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Created returns when the session was opened.
func (s *Session) Created() time.Time { return s.created }

// Identity returns the authenticated client identity.
func (s *Session) Identity() auth.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// SetIdentity replaces the client identity, e.g. after a token refresh.
func (s *Session) SetIdentity(id auth.Identity) {
	s.mu.Lock()
	s.identity = id
	s.mu.Unlock()
}

// State returns the link state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// DetachedAt returns when the session was last detached.
func (s *Session) DetachedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detachedAt
}

// Done is closed once the session is closed or expired and its
// subscriptions are terminated.
func (s *Session) Done() <-chan struct{} { return s.done }

// Ready is signalled after a delivery was queued.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Subscriptions returns the live subscriptions of the session.
func (s *Session) Subscriptions() []*Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out
}

// Subscription returns a live subscription of this session.
func (s *Session) Subscription(id string) (*Subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	return sub, ok
}

// Pending returns the number of queued deliveries.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Dropped returns the number of deliveries dropped on this session.
func (s *Session) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// TryNext pops the next delivery without blocking.
func (s *Session) TryNext() (Delivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.queue) > 0 {
		q := s.queue[0]
		s.queue[0] = queued{}
		s.queue = s.queue[1:]

		if q.sub.State() != StateActive {
			continue
		}
		if q.sub.gapPending.Swap(false) {
			q.d.Gap = true
		}
		return q.d, true
	}
	return Delivery{}, false
}

// Next blocks until a delivery is available, the context is done, or the
// session is closed.
func (s *Session) Next(ctx context.Context) (Delivery, error) {
	for {
		if d, ok := s.TryNext(); ok {
			return d, nil
		}
		select {
		case <-s.done:
			return Delivery{}, ErrSessionClosed
		default:
		}
		select {
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		case <-s.done:
			return Delivery{}, ErrSessionClosed
		case <-s.ready:
		}
	}
}

// Detach marks the transport link as lost. The session and its
// subscriptions expire unless Attach is called within the grace period.
func (s *Session) Detach() {
	s.mu.Lock()
	if s.state != SessionAttached {
		s.mu.Unlock()
		return
	}
	s.state = SessionDetached
	s.detachedAt = time.Now()
	s.detachGen++
	gen := s.detachGen
	grace := s.manager.config.GracePeriod
	s.graceTimer = time.AfterFunc(grace, func() {
		s.manager.expire(s, gen)
	})
	s.mu.Unlock()

	s.manager.debugLog("session detached", "session", s.id, "grace", grace)
}

// Attach resumes a detached session. It fails with ErrSessionAttached if
// a link already serves the session, so at most one caller wins.
func (s *Session) Attach() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SessionClosed:
		return ErrSessionClosed
	case SessionAttached:
		return ErrSessionAttached
	}
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	s.state = SessionAttached
	return nil
}

// Close closes the session and cancels its subscriptions.
func (s *Session) Close() {
	s.manager.closeSession(s, StateCancelled, 0)
}

// enqueue appends a delivery, dropping per the back-pressure policy when
// the queue is full. Called with sub.mu held.
func (s *Session) enqueue(sub *Subscription, d Delivery) {
	s.mu.Lock()
	if s.state == SessionClosed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= s.capacity {
		victim := -1
		for i, q := range s.queue {
			if q.sub == sub {
				victim = i
				break
			}
		}
		sub.markDropped()
		s.dropped++
		if victim < 0 {
			// Nothing of this subscription is queued: the incoming
			// delivery goes and the next one carries the gap.
			s.mu.Unlock()
			s.manager.config.Metrics.Dropped()
			return
		}
		s.queue = append(s.queue[:victim], s.queue[victim+1:]...)
		s.queue = append(s.queue, queued{sub: sub, d: d})
		s.mu.Unlock()
		s.manager.config.Metrics.Dropped()
		s.signal()
		return
	}
	s.queue = append(s.queue, queued{sub: sub, d: d})
	s.mu.Unlock()
	s.signal()
}

func (s *Session) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// addSubscription registers a subscription with the session.
func (s *Session) addSubscription(sub *Subscription, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SessionClosed {
		return ErrSessionClosed
	}
	if limit > 0 && len(s.subs) >= limit {
		return ErrResourceExhausted
	}
	s.subs[sub.ID] = sub
	return nil
}

// removeSubscription forgets a subscription and purges its queued
// deliveries.
func (s *Session) removeSubscription(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.subs, sub.ID)
	kept := s.queue[:0]
	for _, q := range s.queue {
		if q.sub != sub {
			kept = append(kept, q)
		}
	}
	for i := len(kept); i < len(s.queue); i++ {
		s.queue[i] = queued{}
	}
	s.queue = kept
}

// markClosed moves the session to SessionClosed and returns its
// subscriptions. A non-zero gen closes only if the session is still in the
// detach of that generation. It returns false if nothing was closed.
func (s *Session) markClosed(gen uint64) ([]*Subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SessionClosed {
		return nil, false
	}
	if gen != 0 && (s.state != SessionDetached || s.detachGen != gen) {
		return nil, false
	}
	s.state = SessionClosed
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	return subs, true
}
