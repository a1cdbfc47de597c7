// Package discovery implements mDNS/DNS-SD discovery for VISS servers.
//
// Servers advertise the _viss._tcp service. The instance name is a
// user-friendly server name. TXT records describe how to connect:
//
//   - path: the WebSocket endpoint path (default "/")
//   - proto: the supported WebSocket subprotocols, comma-separated
//   - tls: "1" when the endpoint requires wss
//   - vin: the vehicle identification number (optional)
//   - ver: the server version (optional)
//
// A browser aggregates the addresses of one instance across interfaces
// and builds the endpoint URL from the TXT records.
package discovery
