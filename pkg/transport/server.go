package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/viss-protocol/viss-go/pkg/auth"
	"github.com/viss-protocol/viss-go/pkg/interaction"
	"github.com/viss-protocol/viss-go/pkg/log"
	"github.com/viss-protocol/viss-go/pkg/metrics"
	"github.com/viss-protocol/viss-go/pkg/subscription"
	"github.com/viss-protocol/viss-go/pkg/wire"
)

// Transport defaults.
const (
	// DefaultMaxMessageSize is the largest accepted request frame.
	DefaultMaxMessageSize = 64 * 1024

	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 10 * time.Second

	// HeaderSession carries the session id in the upgrade response.
	HeaderSession = "Viss-Session"

	// SessionParam is the query parameter resuming a detached session.
	SessionParam = "session"
)

// Transport errors.
var (
	// ErrConnectionClosed is returned when sending on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrServerRunning is returned by Start on a running server.
	ErrServerRunning = errors.New("server already running")
)

// ServerConfig configures a VISS WebSocket server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8090" or "127.0.0.1:8090").
	Address string

	// Path the WebSocket endpoint is mounted on (default "/").
	Path string

	// TLSConfig enables wss. Nil serves plain ws.
	TLSConfig *TLSConfig

	// MaxMessageSize is the maximum request frame size (default: 64KB).
	MaxMessageSize int64

	// WriteTimeout bounds a single frame write (default: 10s).
	WriteTimeout time.Duration

	// KeepAlive configures ping/pong liveness monitoring.
	KeepAlive KeepAliveConfig

	// RequestRate limits requests per connection. Zero disables limiting.
	RequestRate rate.Limit

	// RequestBurst is the burst of the request limiter (default: 10).
	RequestBurst int

	// CheckOrigin validates the Origin header. Nil accepts all origins.
	CheckOrigin func(r *http.Request) bool

	// Logger for operational logs (optional).
	Logger *slog.Logger

	// ProtocolLogger receives protocol capture events (optional).
	ProtocolLogger log.Logger

	// Metrics records connection counts (optional).
	Metrics *metrics.Metrics
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:        fmt.Sprintf(":%d", DefaultPort),
		Path:           "/",
		MaxMessageSize: DefaultMaxMessageSize,
		WriteTimeout:   DefaultWriteTimeout,
		KeepAlive:      DefaultKeepAliveConfig(),
		RequestBurst:   10,
	}
}

// Server accepts WebSocket connections and binds each to a session.
type Server struct {
	config   ServerConfig
	handler  *interaction.Server
	manager  *subscription.Manager
	upgrader websocket.Upgrader
	tlsConf  *tls.Config

	httpServer *http.Server
	listener   net.Listener

	// Active connections
	conns   map[*ServerConn]struct{}
	connsMu sync.RWMutex

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a server dispatching requests to handler.
func NewServer(handler *interaction.Server, manager *subscription.Manager, config ServerConfig) (*Server, error) {
	if handler == nil || manager == nil {
		return nil, fmt.Errorf("handler and manager are required")
	}
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.Path == "" {
		config.Path = "/"
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.RequestBurst <= 0 {
		config.RequestBurst = 10
	}
	config.KeepAlive = config.KeepAlive.withDefaults()

	s := &Server{
		config:  config,
		handler: handler,
		manager: manager,
		conns:   make(map[*ServerConn]struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		Subprotocols:    wire.Subprotocols,
		CheckOrigin:     checkOrigin,
	}

	if config.TLSConfig != nil {
		tlsConf, err := NewServerTLSConfig(config.TLSConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		s.tlsConf = tlsConf
	}
	return s, nil
}

// Start starts listening and serving connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return ErrServerRunning
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	if s.tlsConf != nil {
		listener = tls.NewListener(listener, s.tlsConf)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle(s.config.Path, s)
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logError("serve failed", err)
		}
	}()

	s.debugLog("server started", "addr", listener.Addr().String(), "tls", s.tlsConf != nil)
	return nil
}

// Stop stops the server and closes all connections. Their sessions are
// detached, not closed.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	s.cancel()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Close()
	}

	s.connsMu.RLock()
	conns := make([]*ServerConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.RUnlock()
	for _, c := range conns {
		c.Close()
	}

	s.wg.Wait()
	return err
}

// Addr returns the server's listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// ServeHTTP upgrades the request and serves the connection until it closes.
// It can be mounted on any mux; Start is only needed for a standalone
// listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sess, resumed, status, err := s.session(r)
	if err != nil {
		s.debugLog("upgrade rejected", "remote", r.RemoteAddr, "error", err)
		http.Error(w, err.Error(), status)
		return
	}

	header := http.Header{}
	header.Set(HeaderSession, sess.ID())

	ws, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		// The upgrader already answered with an HTTP error.
		if resumed {
			sess.Detach()
		} else {
			sess.Close()
		}
		s.debugLog("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn, err := newServerConn(s, ws, sess, uuid.NewString())
	if err != nil {
		ws.Close()
		sess.Detach()
		s.logError("connection setup failed", err)
		return
	}

	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()

	s.wg.Add(1)
	defer s.wg.Done()

	conn.serve(resumed)

	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
}

// session opens a new session or resumes the one named by the query.
func (s *Server) session(r *http.Request) (*subscription.Session, bool, int, error) {
	id := r.URL.Query().Get(SessionParam)
	if id == "" {
		return s.manager.OpenSession(auth.Anonymous), false, 0, nil
	}

	sess, err := s.manager.ResumeSession(id)
	switch {
	case errors.Is(err, subscription.ErrSessionNotFound):
		return nil, false, http.StatusNotFound, err
	case errors.Is(err, subscription.ErrSessionAttached):
		return nil, false, http.StatusConflict, fmt.Errorf("session %s: %w", id, err)
	case err != nil:
		return nil, false, http.StatusGone, err
	}
	return sess, true, 0, nil
}

// debugLog logs a debug message if logging is enabled.
func (s *Server) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, args...)
	}
}

func (s *Server) logError(msg string, err error) {
	if s.config.Logger != nil {
		s.config.Logger.Error(msg, "error", err)
	}
}
