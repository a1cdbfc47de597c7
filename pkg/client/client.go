// Package client is a VISS WebSocket client.
//
// A Client owns one connection and one server session. Responses are
// correlated by request id; notifications are routed to the Stream of
// their subscription. After a link loss Reconnect resumes the session, and
// existing streams keep receiving.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/viss-protocol/viss-go/pkg/filter"
	"github.com/viss-protocol/viss-go/pkg/interaction"
	"github.com/viss-protocol/viss-go/pkg/transport"
	"github.com/viss-protocol/viss-go/pkg/wire"
)

// Stream is the notification stream of one subscription.
type Stream = interaction.Stream

// ErrClosed is returned by operations on a closed client.
var ErrClosed = interaction.ErrClientClosed

// Config configures a client.
type Config struct {
	// Codec selects JSON or CBOR framing (default: JSON).
	Codec wire.Codec

	// Token is sent as authorization with every request.
	Token string

	// Timeout bounds every request (default: 30s).
	Timeout time.Duration

	// TLSConfig is used for wss URLs.
	TLSConfig *tls.Config

	// ResumeInitial and ResumeMax bound the delay between Reconnect
	// attempts (default: 50ms and 1s).
	ResumeInitial time.Duration
	ResumeMax     time.Duration

	// Logger for operational logs (optional).
	Logger *slog.Logger

	// OnNotification receives notifications of subscriptions without a
	// stream, e.g. ones created by another client of the session.
	OnNotification func(*wire.Notification)
}

// Client is a connected VISS client.
type Client struct {
	url    string
	config Config
	ic     *interaction.Client

	mu     sync.RWMutex
	conn   *transport.ClientConn
	lost   chan struct{}
	closed bool
}

// Dial connects to the server at url and opens a new session.
func Dial(ctx context.Context, url string, config Config) (*Client, error) {
	if config.Codec == nil {
		config.Codec = wire.JSON
	}
	if config.Timeout <= 0 {
		config.Timeout = interaction.DefaultTimeout
	}

	c := &Client{url: url, config: config}

	conn, err := c.dial(ctx, "")
	if err != nil {
		return nil, err
	}

	c.ic = interaction.NewClient(c, conn.Codec())
	c.ic.SetTimeout(config.Timeout)
	c.ic.SetToken(config.Token)
	if config.OnNotification != nil {
		c.ic.SetNotificationHandler(config.OnNotification)
	}

	if err := c.attach(conn); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) dial(ctx context.Context, sessionID string) (*transport.ClientConn, error) {
	return transport.Dial(ctx, c.url, transport.DialConfig{
		Codec:     c.config.Codec,
		SessionID: sessionID,
		TLSConfig: c.config.TLSConfig,
	})
}

// attach makes conn the current connection and starts its read loop.
// attach makes conn the current link. A closed client closes conn instead.
func (c *Client) attach(conn *transport.ClientConn) error {
	lost := make(chan struct{})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.lost = lost
	c.mu.Unlock()

	go c.readLoop(conn, lost)
	return nil
}

func (c *Client) readLoop(conn *transport.ClientConn, lost chan struct{}) {
	defer close(lost)
	for {
		data, err := conn.Receive(0)
		if err != nil {
			if !errors.Is(err, transport.ErrConnectionClosed) {
				c.debugLog("link lost", "session", conn.SessionID(), "error", err)
			}
			return
		}
		if err := c.ic.HandleMessage(data); err != nil {
			c.debugLog("dropped server message", "error", err)
		}
	}
}

// Send writes an encoded request to the current connection.
func (c *Client) Send(data []byte) error {
	c.mu.RLock()
	conn := c.conn
	closed := c.closed
	c.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	return conn.Send(data)
}

// SessionID returns the server session id.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn.SessionID()
}

// Lost is closed when the current connection fails. A new channel is
// installed by Reconnect.
func (c *Client) Lost() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lost
}

// Reconnect drops the current connection and resumes the session on a new
// one. It retries with backoff until ctx is done, as the server may not
// have noticed the old link is gone yet.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.RLock()
	old := c.conn
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	sessionID := old.SessionID()
	old.Close()

	b := newBackoff(c.config.ResumeInitial, c.config.ResumeMax)
	for {
		conn, err := c.dial(ctx, sessionID)
		if err == nil {
			if err := c.attach(conn); err != nil {
				return err
			}
			c.debugLog("session resumed", "session", sessionID)
			return nil
		}
		if c.isClosed() {
			return ErrClosed
		}
		delay := b.next()
		c.debugLog("resume failed", "session", sessionID, "error", err, "retry", delay)

		select {
		case <-ctx.Done():
			return fmt.Errorf("resume session %s: %w", sessionID, err)
		case <-time.After(delay):
		}
	}
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Close closes the connection and all streams. The server closes the
// session once its grace period ends.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.ic.Close()
	return conn.Close()
}

// Get reads the value at path. A single leaf yields its value; a branch or
// wildcard yields a map of leaf path to value.
func (c *Client) Get(ctx context.Context, path string) (any, time.Time, error) {
	return c.ic.Get(ctx, path)
}

// Set writes value to the actuator at path.
func (c *Client) Set(ctx context.Context, path string, value any) error {
	return c.ic.Set(ctx, path, value)
}

// Subscribe subscribes to path with an optional filter.
func (c *Client) Subscribe(ctx context.Context, path string, f filter.Filter) (*Stream, error) {
	return c.ic.Subscribe(ctx, path, f)
}

// Unsubscribe cancels a subscription.
func (c *Client) Unsubscribe(ctx context.Context, subscriptionID string) error {
	return c.ic.Unsubscribe(ctx, subscriptionID)
}

// UnsubscribeAll cancels every subscription of the session.
func (c *Client) UnsubscribeAll(ctx context.Context) error {
	return c.ic.UnsubscribeAll(ctx)
}

// Pause suspends deliveries of a subscription.
func (c *Client) Pause(ctx context.Context, subscriptionID string) error {
	return c.ic.Pause(ctx, subscriptionID)
}

// Resume restarts deliveries of a paused subscription.
func (c *Client) Resume(ctx context.Context, subscriptionID string) error {
	return c.ic.Resume(ctx, subscriptionID)
}

// debugLog logs a debug message if logging is enabled.
func (c *Client) debugLog(msg string, args ...any) {
	if c.config.Logger != nil {
		c.config.Logger.Debug(msg, args...)
	}
}

var _ interaction.Sender = (*Client)(nil)
