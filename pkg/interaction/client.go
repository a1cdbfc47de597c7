package interaction

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/viss-protocol/viss-go/pkg/filter"
	"github.com/viss-protocol/viss-go/pkg/wire"
)

// Client errors.
var (
	ErrRequestTimeout  = errors.New("request timed out")
	ErrClientClosed    = errors.New("client is closed")
	ErrUnexpectedReply = errors.New("unexpected reply")
)

// DefaultTimeout is the default request timeout.
const DefaultTimeout = 30 * time.Second

// Sender sends an encoded request over a connection.
type Sender interface {
	Send(data []byte) error
}

// Client provides a high-level API for making VISS requests.
type Client struct {
	mu sync.RWMutex

	sender  Sender
	codec   wire.Codec
	timeout time.Duration
	token   string

	nextID atomic.Uint64

	// Pending requests awaiting responses, by request id
	pending   map[string]chan *wire.Response
	pendingMu sync.Mutex

	// Subscription streams by subscription id. Notifications that arrive
	// while a subscribe is in flight and whose stream is not registered yet
	// are held in early.
	streams     map[string]*Stream
	early       map[string][]*wire.Notification
	subscribing int

	notifyHandler func(*wire.Notification)

	closed bool
}

// NewClient creates a new interaction client. A nil codec selects JSON.
func NewClient(sender Sender, codec wire.Codec) *Client {
	if codec == nil {
		codec = wire.JSON
	}
	return &Client{
		sender:  sender,
		codec:   codec,
		timeout: DefaultTimeout,
		pending: make(map[string]chan *wire.Response),
		streams: make(map[string]*Stream),
		early:   make(map[string][]*wire.Notification),
	}
}

// SetTimeout sets the request timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = timeout
}

// SetToken sets the authorization token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// SetNotificationHandler sets the handler for notifications that belong
// to no stream of this client.
func (c *Client) SetNotificationHandler(handler func(*wire.Notification)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifyHandler = handler
}

// Close closes the client and all its streams.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	streams := c.streams
	c.streams = make(map[string]*Stream)
	c.early = make(map[string][]*wire.Notification)
	c.mu.Unlock()

	// Cancel all pending requests
	c.pendingMu.Lock()
	for _, ch := range c.pending {
		close(ch)
	}
	c.pending = make(map[string]chan *wire.Response)
	c.pendingMu.Unlock()

	for _, s := range streams {
		s.close()
	}
	return nil
}

// nextRequestID generates the next unique request id.
func (c *Client) nextRequestID() string {
	return strconv.FormatUint(c.nextID.Add(1), 10)
}

// newRequest creates a request with a fresh id and the client token.
func (c *Client) newRequest(action wire.Action) *wire.Request {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	return &wire.Request{
		Action:        action,
		RequestID:     c.nextRequestID(),
		Authorization: token,
	}
}

// sendRequest sends a request and waits for the response. Error responses
// are returned as *wire.Error.
func (c *Client) sendRequest(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, ErrClientClosed
	}
	timeout := c.timeout
	c.mu.RUnlock()

	respCh := make(chan *wire.Response, 1)

	c.pendingMu.Lock()
	c.pending[req.RequestID] = respCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.RequestID)
		c.pendingMu.Unlock()
	}()

	data, err := wire.EncodeRequest(c.codec, req)
	if err != nil {
		return nil, err
	}
	if err := c.sender.Send(data); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrRequestTimeout
	case resp, ok := <-respCh:
		if !ok {
			return nil, ErrClientClosed
		}
		if resp.Error != nil {
			return resp, resp.Error
		}
		return resp, nil
	}
}

// HandleMessage decodes a server message and routes it to the waiting
// request or the owning stream.
func (c *Client) HandleMessage(data []byte) error {
	mt, err := wire.PeekMessageType(c.codec, data)
	if err != nil {
		return err
	}
	switch mt {
	case wire.MessageTypeNotification:
		n, err := wire.DecodeNotification(c.codec, data)
		if err != nil {
			return err
		}
		c.HandleNotification(n)
		return nil
	default:
		resp, err := wire.DecodeResponse(c.codec, data)
		if err != nil {
			return err
		}
		return c.HandleResponse(resp)
	}
}

// HandleResponse should be called when a response is received.
func (c *Client) HandleResponse(resp *wire.Response) error {
	c.pendingMu.Lock()
	ch, exists := c.pending[resp.RequestID]
	c.pendingMu.Unlock()

	if !exists {
		return fmt.Errorf("%w: request %q", ErrUnexpectedReply, resp.RequestID)
	}

	select {
	case ch <- resp:
	default:
		// Duplicate response
	}
	return nil
}

// HandleNotification should be called when a notification is received.
func (c *Client) HandleNotification(n *wire.Notification) {
	c.mu.Lock()
	stream, ok := c.streams[n.SubscriptionID]
	handler := c.notifyHandler
	if !ok && c.subscribing > 0 {
		if len(c.early[n.SubscriptionID]) < DefaultStreamBuffer {
			c.early[n.SubscriptionID] = append(c.early[n.SubscriptionID], n)
		}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if ok {
		stream.deliver(n)
		return
	}
	if handler != nil {
		handler(n)
	}
}

// Get reads the value at path. For a single leaf it returns the value and
// its write time; for branches and wildcards a map of leaf path to value.
func (c *Client) Get(ctx context.Context, path string) (any, time.Time, error) {
	req := c.newRequest(wire.ActionGet)
	req.Path = path

	resp, err := c.sendRequest(ctx, req)
	if err != nil {
		return nil, time.Time{}, err
	}
	return resp.Value, resp.Timestamp.Time(), nil
}

// Set writes value to the leaf at path.
func (c *Client) Set(ctx context.Context, path string, value any) error {
	req := c.newRequest(wire.ActionSet)
	req.Path = path
	req.Value = value

	_, err := c.sendRequest(ctx, req)
	return err
}

// Subscribe subscribes to the leaves matched by path and returns the
// stream of their notifications.
func (c *Client) Subscribe(ctx context.Context, path string, f filter.Filter) (*Stream, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	req := c.newRequest(wire.ActionSubscribe)
	req.Path = path
	req.Filters = wire.FiltersFrom(f)

	c.mu.Lock()
	c.subscribing++
	c.mu.Unlock()

	resp, err := c.sendRequest(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribing--
	defer func() {
		if c.subscribing == 0 {
			c.early = make(map[string][]*wire.Notification)
		}
	}()

	if err != nil {
		return nil, err
	}
	if resp.SubscriptionID == "" {
		return nil, fmt.Errorf("%w: subscribe without subscriptionId", ErrUnexpectedReply)
	}
	if c.closed {
		return nil, ErrClientClosed
	}

	stream := newStream(c, resp.SubscriptionID, path, f)
	for _, n := range c.early[stream.ID] {
		stream.deliver(n)
	}
	delete(c.early, stream.ID)
	c.streams[stream.ID] = stream
	return stream, nil
}

// Unsubscribe cancels a subscription and closes its stream.
func (c *Client) Unsubscribe(ctx context.Context, subscriptionID string) error {
	req := c.newRequest(wire.ActionUnsubscribe)
	req.SubscriptionID = subscriptionID

	_, err := c.sendRequest(ctx, req)
	c.dropStream(subscriptionID)
	return err
}

// UnsubscribeAll cancels all subscriptions of the session and closes every
// stream.
func (c *Client) UnsubscribeAll(ctx context.Context) error {
	req := c.newRequest(wire.ActionUnsubscribeAll)
	if _, err := c.sendRequest(ctx, req); err != nil {
		return err
	}

	c.mu.Lock()
	streams := c.streams
	c.streams = make(map[string]*Stream)
	c.mu.Unlock()

	for _, s := range streams {
		s.close()
	}
	return nil
}

// Pause suspends deliveries of a subscription.
func (c *Client) Pause(ctx context.Context, subscriptionID string) error {
	req := c.newRequest(wire.ActionPause)
	req.SubscriptionID = subscriptionID
	_, err := c.sendRequest(ctx, req)
	return err
}

// Resume restarts deliveries of a paused subscription.
func (c *Client) Resume(ctx context.Context, subscriptionID string) error {
	req := c.newRequest(wire.ActionResume)
	req.SubscriptionID = subscriptionID
	_, err := c.sendRequest(ctx, req)
	return err
}

func (c *Client) dropStream(id string) {
	c.mu.Lock()
	s, ok := c.streams[id]
	delete(c.streams, id)
	c.mu.Unlock()
	if ok {
		s.close()
	}
}
