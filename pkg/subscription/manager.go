package subscription

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/viss-protocol/viss-go/pkg/auth"
	"github.com/viss-protocol/viss-go/pkg/filter"
	"github.com/viss-protocol/viss-go/pkg/model"
	"github.com/viss-protocol/viss-go/pkg/store"
)

// Manager tracks sessions and subscriptions and fans out store changes.
type Manager struct {
	mu sync.RWMutex

	config Config

	sessions map[string]*Session

	// Live subscriptions by ID
	subscriptions map[string]*Subscription

	// Subscriptions by covered leaf. Slices are replaced, never modified in
	// place, so readers may iterate a copy of the header without the lock.
	index map[model.Handle][]*Subscription
}

// NewManager creates a new subscription manager with default configuration.
func NewManager() *Manager {
	return NewManagerWithConfig(DefaultConfig())
}

// NewManagerWithConfig creates a new subscription manager with custom configuration.
func NewManagerWithConfig(config Config) *Manager {
	if config.MaxSubscriptions <= 0 {
		config.MaxSubscriptions = DefaultMaxSubscriptions
	}
	if config.MaxSubscriptionsPerSession <= 0 {
		config.MaxSubscriptionsPerSession = DefaultMaxSubscriptionsPerSession
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.GracePeriod <= 0 {
		config.GracePeriod = DefaultGracePeriod
	}

	return &Manager{
		config:        config,
		sessions:      make(map[string]*Session),
		subscriptions: make(map[string]*Subscription),
		index:         make(map[model.Handle][]*Subscription),
	}
}

// Attach registers the manager as a change listener of st.
func (m *Manager) Attach(st *store.Store) {
	st.OnChange(m.HandleChange)
}

// OpenSession creates a session for a newly connected client.
func (m *Manager) OpenSession(identity auth.Identity) *Session {
	s := newSession(uuid.NewString(), m, identity, m.config.QueueSize)

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.config.Metrics.SessionOpened()
	m.debugLog("session opened", "session", s.id, "subject", identity.Subject)
	return s
}

// Session returns an open or detached session by ID.
func (m *Manager) Session(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// ResumeSession re-attaches a detached session.
func (m *Manager) ResumeSession(id string) (*Session, error) {
	s, err := m.Session(id)
	if err != nil {
		return nil, err
	}
	if err := s.Attach(); err != nil {
		return nil, err
	}
	m.debugLog("session resumed", "session", id)
	return s, nil
}

// CloseSession closes a session and cancels its subscriptions.
func (m *Manager) CloseSession(s *Session) {
	m.closeSession(s, StateCancelled, 0)
}

// Subscribe registers a subscription of sess on the given leaves.
func (m *Manager) Subscribe(sess *Session, expr string, handles []model.Handle, f filter.Filter) (*Subscription, error) {
	if len(handles) == 0 {
		return nil, ErrNoTargets
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	sub := newSubscription(uuid.NewString(), expr, sess, dedupe(handles), f)

	m.mu.Lock()
	if len(m.subscriptions) >= m.config.MaxSubscriptions {
		m.mu.Unlock()
		return nil, ErrResourceExhausted
	}
	if err := sess.addSubscription(sub, m.config.MaxSubscriptionsPerSession); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.subscriptions[sub.ID] = sub
	for _, h := range sub.handles {
		subs := m.index[h]
		next := make([]*Subscription, len(subs), len(subs)+1)
		copy(next, subs)
		m.index[h] = append(next, sub)
	}
	m.mu.Unlock()

	sub.activate()

	m.config.Metrics.SubscriptionStarted()
	m.debugLog("subscribed",
		"session", sess.id,
		"subscription", sub.ID,
		"expr", expr,
		"leaves", len(sub.handles),
		"filter", f.String())
	return sub, nil
}

// Unsubscribe cancels a subscription. A second call for the same ID
// returns ErrSubscriptionNotFound.
func (m *Manager) Unsubscribe(id string) error {
	sub, err := m.Get(id)
	if err != nil {
		return err
	}
	if !m.remove(sub, StateCancelled) {
		return ErrSubscriptionNotFound
	}
	return nil
}

// UnsubscribeAll cancels every subscription of sess and returns the number
// cancelled.
func (m *Manager) UnsubscribeAll(sess *Session) int {
	n := 0
	for _, sub := range sess.Subscriptions() {
		if m.remove(sub, StateCancelled) {
			n++
		}
	}
	return n
}

// Pause stops deliveries of a subscription until Resume.
func (m *Manager) Pause(id string) error {
	sub, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := sub.transition(StateActive, StatePaused); err != nil {
		return fmt.Errorf("%w: pause %s in %s", err, id, sub.State())
	}
	return nil
}

// Resume restarts deliveries of a paused subscription.
func (m *Manager) Resume(id string) error {
	sub, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := sub.transition(StatePaused, StateActive); err != nil {
		return fmt.Errorf("%w: resume %s in %s", err, id, sub.State())
	}
	return nil
}

// HandleChange fans a store change out to the subscriptions covering the
// changed leaf. It never blocks on a session.
func (m *Manager) HandleChange(c store.Change) {
	m.mu.RLock()
	subs := m.index[c.Handle]
	m.mu.RUnlock()

	for _, sub := range subs {
		if sub.offer(c) {
			m.config.Metrics.Delivered()
		}
	}
}

// Get returns a live subscription by ID.
func (m *Manager) Get(id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subscriptions[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}

// Count returns the number of live subscriptions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// SessionCount returns the number of open or detached sessions.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close closes every session.
func (m *Manager) Close() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		m.closeSession(s, StateCancelled, 0)
	}
}

// remove terminates a subscription and drops it from all tables. It
// returns false if the subscription was already terminal.
func (m *Manager) remove(sub *Subscription, to State) bool {
	if !sub.terminate(to) {
		return false
	}

	m.mu.Lock()
	delete(m.subscriptions, sub.ID)
	for _, h := range sub.handles {
		subs := m.index[h]
		next := make([]*Subscription, 0, len(subs))
		for _, s := range subs {
			if s != sub {
				next = append(next, s)
			}
		}
		if len(next) == 0 {
			delete(m.index, h)
		} else {
			m.index[h] = next
		}
	}
	m.mu.Unlock()

	sub.session.removeSubscription(sub)

	m.config.Metrics.SubscriptionEnded(to.String())
	m.debugLog("subscription ended", "subscription", sub.ID, "state", to.String())
	return true
}

func (m *Manager) closeSession(s *Session, reason State, gen uint64) {
	subs, ok := s.markClosed(gen)
	if !ok {
		return
	}
	for _, sub := range subs {
		m.remove(sub, reason)
	}

	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()
	close(s.done)

	m.config.Metrics.SessionClosed()
	m.debugLog("session closed", "session", s.id, "reason", reason.String(), "subscriptions", len(subs))
}

// expire is the grace timer callback of a detached session.
func (m *Manager) expire(s *Session, gen uint64) {
	m.closeSession(s, StateExpired, gen)
}

// debugLog logs a debug message if logging is enabled.
func (m *Manager) debugLog(msg string, args ...any) {
	if m.config.Logger != nil {
		m.config.Logger.Debug(msg, args...)
	}
}

func dedupe(handles []model.Handle) []model.Handle {
	seen := make(map[model.Handle]struct{}, len(handles))
	out := make([]model.Handle, 0, len(handles))
	for _, h := range handles {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}
