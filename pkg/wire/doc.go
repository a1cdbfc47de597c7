// Package wire defines the VISS message format and its codecs.
//
// Messages are JSON objects as defined by the W3C Vehicle Information
// Service Specification. The same structs also encode as CBOR with
// integer keys for the binary subprotocol.
//
// # Message Types
//
// There are three message types:
//   - Request: client to server (get, set, subscribe, unsubscribe,
//     unsubscribeAll, pause, resume)
//   - Response: server to client, one per request, success or error
//   - Notification: server to client, action "subscription", one per
//     delivered value update
//
// # Timestamps
//
// Timestamps are milliseconds since the Unix epoch.
//
// # Errors
//
// A failed request is answered with a Response carrying an Error with the
// VISS error number, reason and a message. ErrorFor maps the sentinel
// errors of the core packages to VISS errors.
package wire
