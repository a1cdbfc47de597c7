// Package transport carries VISS messages over WebSocket.
//
// The server upgrades HTTP requests with gorilla/websocket and binds every
// connection to one subscription.Session:
//   - a reader loop decodes requests and answers each with one response
//   - a writer loop drains the session queue into notifications
//   - a ping loop monitors liveness with sequence-numbered pings
//
// # Subprotocols
//
// Clients select the encoding with the WebSocket subprotocol:
//
//	viss.json   text frames, JSON (default when none is requested)
//	viss.cbor   binary frames, CBOR with integer keys
//
// # Session Resume
//
// The session id is returned in the Viss-Session response header of the
// upgrade. When the link is lost the session is detached and keeps its
// subscriptions for the grace period of the subscription manager. A client
// that reconnects with ?session=<id> within that period continues where it
// left off; deliveries queued meanwhile are sent after the upgrade.
//
// # Keep-Alive
//
// The server pings every PingInterval. A connection that misses
// MaxMissedPongs pongs in a row, or is silent for DetectionDelay, is closed.
package transport
