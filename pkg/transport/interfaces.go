package transport

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/viss-protocol/viss-go/pkg/interaction"
	"github.com/viss-protocol/viss-go/pkg/subscription"
	"github.com/viss-protocol/viss-go/pkg/wire"
)

// ServerConnection represents a server-side connection to a client.
// Implemented by ServerConn.
type ServerConnection interface {
	// RemoteAddr returns the remote network address of the client.
	RemoteAddr() net.Addr

	// Session returns the session served by the connection.
	Session() *subscription.Session

	// Codec returns the negotiated message codec.
	Codec() wire.Codec

	// Send sends a message to the client.
	Send(data []byte) error

	// Close closes the connection.
	Close() error
}

// ClientConnection represents a client-side connection to a server.
// Implemented by ClientConn.
type ClientConnection interface {
	// SessionID returns the server session id.
	SessionID() string

	// Codec returns the negotiated message codec.
	Codec() wire.Codec

	// Send sends a message to the server.
	Send(data []byte) error

	// Receive receives a message with the specified timeout.
	Receive(timeout time.Duration) ([]byte, error)

	// Close closes the connection.
	Close() error
}

// TransportServer represents a VISS WebSocket server.
// Implemented by Server.
type TransportServer interface {
	http.Handler

	// Start begins accepting connections.
	Start(ctx context.Context) error

	// Stop gracefully stops the server.
	Stop() error

	// Addr returns the server's listen address.
	Addr() net.Addr

	// ConnectionCount returns the number of active connections.
	ConnectionCount() int
}

// Compile-time interface satisfaction checks.
var (
	_ ServerConnection   = (*ServerConn)(nil)
	_ ClientConnection   = (*ClientConn)(nil)
	_ TransportServer    = (*Server)(nil)
	_ interaction.Sender = (*ClientConn)(nil)
)
