package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/viss-protocol/viss-go/pkg/wire"
)

// DialConfig configures a client connection.
type DialConfig struct {
	// Codec selects the subprotocol (default: JSON).
	Codec wire.Codec

	// SessionID resumes a detached session.
	SessionID string

	// TLSConfig is used for wss URLs.
	TLSConfig *tls.Config

	// HandshakeTimeout bounds the upgrade (default: 30s).
	HandshakeTimeout time.Duration

	// MaxMessageSize is the maximum frame size read (default: 64KB).
	MaxMessageSize int64

	// WriteTimeout bounds a single frame write (default: 10s).
	WriteTimeout time.Duration

	// Header is sent with the upgrade request.
	Header http.Header
}

// ClientConn is a client WebSocket connection to a VISS server.
type ClientConn struct {
	ws        *websocket.Conn
	codec     wire.Codec
	sessionID string
	config    DialConfig
	closeCh   chan struct{}

	closeOnce sync.Once
	writeMu   sync.Mutex
	readMu    sync.Mutex
}

// Dial connects to a VISS server at rawURL (ws:// or wss://).
func Dial(ctx context.Context, rawURL string, config DialConfig) (*ClientConn, error) {
	if config.Codec == nil {
		config.Codec = wire.JSON
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 30 * time.Second
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if config.SessionID != "" {
		q := u.Query()
		q.Set(SessionParam, config.SessionID)
		u.RawQuery = q.Encode()
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: config.HandshakeTimeout,
		TLSClientConfig:  config.TLSConfig,
		Subprotocols:     []string{config.Codec.Subprotocol()},
	}

	ws, resp, err := dialer.DialContext(ctx, u.String(), config.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial failed: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	codec, err := wire.CodecFor(ws.Subprotocol())
	if err != nil {
		ws.Close()
		return nil, err
	}
	ws.SetReadLimit(config.MaxMessageSize)

	return &ClientConn{
		ws:        ws,
		codec:     codec,
		sessionID: resp.Header.Get(HeaderSession),
		config:    config,
		closeCh:   make(chan struct{}),
	}, nil
}

// SessionID returns the server session id of the connection.
func (c *ClientConn) SessionID() string {
	return c.sessionID
}

// Codec returns the negotiated message codec.
func (c *ClientConn) Codec() wire.Codec {
	return c.codec
}

// LocalAddr returns the local network address.
func (c *ClientConn) LocalAddr() net.Addr {
	return c.ws.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *ClientConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// Send sends a message to the server.
func (c *ClientConn) Send(data []byte) error {
	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}

	msgType := websocket.TextMessage
	if c.codec.Binary() {
		msgType = websocket.BinaryMessage
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(msgType, data)
}

// Receive receives a message from the server. A zero timeout blocks until
// a message arrives or the connection fails. Server pings are answered
// while receiving.
func (c *ClientConn) Receive(timeout time.Duration) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	select {
	case <-c.closeCh:
		return nil, ErrConnectionClosed
	default:
	}

	if timeout > 0 {
		c.ws.SetReadDeadline(time.Now().Add(timeout))
		defer c.ws.SetReadDeadline(time.Time{})
	}

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		select {
		case <-c.closeCh:
			return nil, ErrConnectionClosed
		default:
		}
		return nil, err
	}
	return data, nil
}

// Close sends a close frame and closes the connection.
func (c *ClientConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.config.WriteTimeout))
		err = c.ws.Close()
	})
	return err
}
