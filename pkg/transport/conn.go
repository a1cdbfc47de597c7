package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/viss-protocol/viss-go/pkg/log"
	"github.com/viss-protocol/viss-go/pkg/subscription"
	"github.com/viss-protocol/viss-go/pkg/wire"
)

// ServerConn is one WebSocket connection serving a session.
type ServerConn struct {
	ws         *websocket.Conn
	server     *Server
	session    *subscription.Session
	codec      wire.Codec
	connID     string
	remoteAddr net.Addr
	limiter    *rate.Limiter
	keepAlive  *keepAlive

	closeCh   chan struct{}
	closeOnce sync.Once

	// Synchronization
	writeMu sync.Mutex
}

func newServerConn(s *Server, ws *websocket.Conn, sess *subscription.Session, connID string) (*ServerConn, error) {
	codec, err := wire.CodecFor(ws.Subprotocol())
	if err != nil {
		return nil, err
	}

	c := &ServerConn{
		ws:         ws,
		server:     s,
		session:    sess,
		codec:      codec,
		connID:     connID,
		remoteAddr: ws.RemoteAddr(),
		keepAlive:  newKeepAlive(s.config.KeepAlive),
		closeCh:    make(chan struct{}),
	}
	if s.config.RequestRate > 0 {
		c.limiter = rate.NewLimiter(s.config.RequestRate, s.config.RequestBurst)
	}

	ws.SetReadLimit(s.config.MaxMessageSize)
	ws.SetPongHandler(func(appData string) error {
		c.logControl(log.ControlMsgPong, log.DirectionIn, nil)
		if _, ok := c.keepAlive.pong([]byte(appData), time.Now()); ok {
			c.extendReadDeadline()
		}
		return nil
	})
	ws.SetCloseHandler(func(code int, text string) error {
		c.logControl(log.ControlMsgClose, log.DirectionIn, &code)
		msg := websocket.FormatCloseMessage(code, "")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.config.WriteTimeout))
		return nil
	})
	return c, nil
}

// RemoteAddr returns the remote address of the client.
func (c *ServerConn) RemoteAddr() net.Addr {
	return c.remoteAddr
}

// ConnID returns the unique connection identifier.
func (c *ServerConn) ConnID() string {
	return c.connID
}

// Session returns the session served by the connection.
func (c *ServerConn) Session() *subscription.Session {
	return c.session
}

// Codec returns the negotiated message codec.
func (c *ServerConn) Codec() wire.Codec {
	return c.codec
}

// Send writes one message frame.
func (c *ServerConn) Send(data []byte) error {
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

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout)); err != nil {
		return err
	}
	if err := c.ws.WriteMessage(msgType, data); err != nil {
		return err
	}
	c.logFrame(log.DirectionOut, data)
	return nil
}

// Close sends a close frame and closes the connection. The session is
// detached so it can be resumed.
func (c *ServerConn) Close() error {
	return c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *ServerConn) closeWith(code int, text string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		msg := websocket.FormatCloseMessage(code, text)
		if c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.server.config.WriteTimeout)) == nil {
			c.logControl(log.ControlMsgClose, log.DirectionOut, &code)
		}
		err = c.ws.Close()
	})
	return err
}

// serve runs the connection loops and returns when the link is gone.
func (c *ServerConn) serve(resumed bool) {
	c.server.config.Metrics.ConnectionOpened()
	defer c.server.config.Metrics.ConnectionClosed()

	c.logState(log.StateEntityConnection, c.connID, "", "CONNECTED", "")
	if resumed {
		c.logState(log.StateEntitySession, c.session.ID(), subscription.SessionDetached.String(), subscription.SessionAttached.String(), "resumed")
	}
	c.server.debugLog("connection opened",
		"conn", c.connID,
		"remote", c.remoteAddr.String(),
		"session", c.session.ID(),
		"codec", c.codec.Subprotocol(),
		"resumed", resumed)

	ctx, cancel := context.WithCancel(c.server.ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writeLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		c.pingLoop(ctx)
	}()

	c.extendReadDeadline()
	c.readLoop(ctx)

	cancel()
	c.Close()
	wg.Wait()

	reason := "link lost"
	if c.session.State() == subscription.SessionAttached {
		c.session.Detach()
		c.logState(log.StateEntitySession, c.session.ID(), subscription.SessionAttached.String(), subscription.SessionDetached.String(), reason)
	} else {
		reason = "session closed"
	}
	c.logState(log.StateEntityConnection, c.connID, "CONNECTED", "DISCONNECTED", reason)
	c.server.debugLog("connection closed", "conn", c.connID, "session", c.session.ID(), "reason", reason)
}

// readLoop answers requests until the link fails.
func (c *ServerConn) readLoop(ctx context.Context) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closeCh:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logError(log.LayerTransport, err, "read")
				}
			}
			return
		}
		c.extendReadDeadline()
		c.logFrame(log.DirectionIn, data)

		if err := c.handleMessage(ctx, data); err != nil {
			c.logError(log.LayerTransport, err, "write response")
			return
		}
	}
}

// handleMessage decodes one request and sends its response.
func (c *ServerConn) handleMessage(ctx context.Context, data []byte) error {
	start := time.Now()

	req, err := wire.DecodeRequest(c.codec, data)
	if req != nil {
		c.logMessage(log.DirectionIn, log.RequestMessage(req))
	}

	var resp *wire.Response
	switch {
	case req == nil:
		c.logError(log.LayerWire, err, "decode request")
		resp = &wire.Response{Timestamp: wire.FromTime(start), Error: wire.ErrorFor(err)}
	case err != nil:
		resp = wire.NewFailure(req, err, start)
	case c.limiter != nil && !c.limiter.Allow():
		resp = wire.NewFailure(req, wire.ErrTooManyRequests, start)
	default:
		resp = c.server.handler.HandleRequest(ctx, c.session, req)
	}

	out, err := wire.EncodeResponse(c.codec, resp)
	if err != nil {
		return err
	}
	c.logMessage(log.DirectionOut, log.ResponseMessage(resp, time.Since(start)))
	return c.Send(out)
}

// writeLoop sends queued deliveries as notifications.
func (c *ServerConn) writeLoop(ctx context.Context) {
	for {
		d, err := c.session.Next(ctx)
		if err != nil {
			if errors.Is(err, subscription.ErrSessionClosed) {
				c.closeWith(websocket.CloseNormalClosure, "session closed")
			}
			return
		}

		n := wire.NotificationFrom(d)
		data, err := wire.EncodeNotification(c.codec, n)
		if err != nil {
			c.logError(log.LayerWire, err, "encode notification")
			continue
		}
		c.logMessage(log.DirectionOut, log.NotificationMessage(n))
		if err := c.Send(data); err != nil {
			c.Close()
			return
		}
	}
}

// pingLoop sends pings and closes the connection after too many missed
// pongs.
func (c *ServerConn) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.keepAlive.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		case now := <-ticker.C:
			payload, ok := c.keepAlive.ping(now)
			if !ok {
				c.server.debugLog("keep-alive timeout", "conn", c.connID, "session", c.session.ID())
				c.closeWith(websocket.CloseGoingAway, "keep-alive timeout")
				return
			}
			if err := c.ws.WriteControl(websocket.PingMessage, payload, now.Add(c.server.config.WriteTimeout)); err != nil {
				c.Close()
				return
			}
			c.logControl(log.ControlMsgPing, log.DirectionOut, nil)
		}
	}
}

func (c *ServerConn) extendReadDeadline() {
	_ = c.ws.SetReadDeadline(time.Now().Add(c.keepAlive.config.DetectionDelay()))
}

func (c *ServerConn) event(direction log.Direction, layer log.Layer, category log.Category) log.Event {
	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Direction:    direction,
		Layer:        layer,
		Category:     category,
		LocalRole:    log.RoleServer,
		RemoteAddr:   c.remoteAddr.String(),
		SessionID:    c.session.ID(),
		Subject:      c.session.Identity().Subject,
	}
}

func (c *ServerConn) logFrame(direction log.Direction, data []byte) {
	if c.server.config.ProtocolLogger == nil {
		return
	}
	e := c.event(direction, log.LayerTransport, log.CategoryMessage)
	e.Frame = log.NewFrameEvent(data, c.codec.Binary())
	c.server.config.ProtocolLogger.Log(e)
}

func (c *ServerConn) logMessage(direction log.Direction, m *log.MessageEvent) {
	if c.server.config.ProtocolLogger == nil {
		return
	}
	e := c.event(direction, log.LayerWire, log.CategoryMessage)
	e.Message = m
	c.server.config.ProtocolLogger.Log(e)
}

func (c *ServerConn) logControl(t log.ControlMsgType, direction log.Direction, code *int) {
	if c.server.config.ProtocolLogger == nil {
		return
	}
	e := c.event(direction, log.LayerTransport, log.CategoryControl)
	e.ControlMsg = &log.ControlMsgEvent{Type: t, CloseCode: code}
	c.server.config.ProtocolLogger.Log(e)
}

func (c *ServerConn) logState(entity log.StateEntity, id, oldState, newState, reason string) {
	if c.server.config.ProtocolLogger == nil {
		return
	}
	layer := log.LayerTransport
	if entity != log.StateEntityConnection {
		layer = log.LayerService
	}
	e := c.event(log.DirectionIn, layer, log.CategoryState)
	e.StateChange = &log.StateChangeEvent{
		Entity:   entity,
		ID:       id,
		OldState: oldState,
		NewState: newState,
		Reason:   reason,
	}
	c.server.config.ProtocolLogger.Log(e)
}

func (c *ServerConn) logError(layer log.Layer, err error, where string) {
	c.server.debugLog("connection error", "conn", c.connID, "context", where, "error", err)
	if c.server.config.ProtocolLogger == nil {
		return
	}
	e := c.event(log.DirectionIn, layer, log.CategoryError)
	e.Error = &log.ErrorEventData{Layer: layer, Message: err.Error(), Context: where}
	c.server.config.ProtocolLogger.Log(e)
}
