package interaction

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/viss-protocol/viss-go/pkg/filter"
	"github.com/viss-protocol/viss-go/pkg/wire"
)

// DefaultStreamBuffer is the number of notifications a stream buffers
// before it drops new ones.
const DefaultStreamBuffer = 64

// Stream receives the notifications of one subscription on the client side.
type Stream struct {
	// ID is the server-assigned subscription id.
	ID string

	// Path is the subscribed path expression.
	Path string

	// Filter is the filter the subscription was created with.
	Filter filter.Filter

	client *Client
	ch     chan *wire.Notification

	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

func newStream(c *Client, id, path string, f filter.Filter) *Stream {
	return &Stream{
		ID:     id,
		Path:   path,
		Filter: f,
		client: c,
		ch:     make(chan *wire.Notification, DefaultStreamBuffer),
	}
}

// C returns the notification channel. It is closed when the subscription
// is cancelled or the client closes.
func (s *Stream) C() <-chan *wire.Notification { return s.ch }

// Dropped returns the number of notifications dropped because the
// consumer did not keep up.
func (s *Stream) Dropped() uint64 { return s.dropped.Load() }

// Unsubscribe cancels the subscription.
func (s *Stream) Unsubscribe(ctx context.Context) error {
	return s.client.Unsubscribe(ctx, s.ID)
}

// Pause suspends deliveries.
func (s *Stream) Pause(ctx context.Context) error {
	return s.client.Pause(ctx, s.ID)
}

// Resume restarts deliveries.
func (s *Stream) Resume(ctx context.Context) error {
	return s.client.Resume(ctx, s.ID)
}

// deliver hands n to the consumer without blocking the reader.
func (s *Stream) deliver(n *wire.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.ch <- n:
	default:
		s.dropped.Add(1)
	}
}

func (s *Stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
