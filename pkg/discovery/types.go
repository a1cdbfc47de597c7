package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Service constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of VISS servers.
	ServiceType = "_viss._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default VISS WebSocket port.
	DefaultPort = 8090
)

// TXT record key constants.
const (
	TXTKeyPath      = "path"  // WebSocket endpoint path
	TXTKeyProtocols = "proto" // Subprotocols (comma-separated)
	TXTKeyTLS       = "tls"   // "1" when wss is required
	TXTKeyVIN       = "vin"   // Vehicle identification number (optional)
	TXTKeyVersion   = "ver"   // Server version (optional)
)

// Timing constants.
const (
	// BrowseTimeout is the default timeout for mDNS browsing.
	BrowseTimeout = 10 * time.Second

	// DefaultTTL is the default DNS record TTL.
	DefaultTTL = 120 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// MaxTXTRecordSize is the maximum total TXT record size.
	MaxTXTRecordSize = 400
)

// Discovery errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrTXTRecordTooLarge   = errors.New("TXT records exceed 400 bytes")
	ErrNotFound            = errors.New("service not found")
	ErrNotAdvertising      = errors.New("not advertising")
)

// ServiceInfo describes an advertised VISS server.
type ServiceInfo struct {
	// Name is the instance name, e.g. "Vehicle Gateway".
	Name string

	// Port is the listen port (default 8090).
	Port uint16

	// Path is the WebSocket endpoint path (default "/").
	Path string

	// Subprotocols lists the supported WebSocket subprotocols.
	Subprotocols []string

	// TLS reports whether the endpoint requires wss.
	TLS bool

	// VIN is the vehicle identification number (optional).
	VIN string

	// Version is the server version (optional).
	Version string
}

// Service is a VISS server found by browsing.
type Service struct {
	// InstanceName is the mDNS instance name.
	InstanceName string

	// Host is the advertised host name.
	Host string

	// Port is the service port.
	Port uint16

	// Addresses are the IPv4 and IPv6 addresses of the host.
	Addresses []string

	// Info holds the decoded TXT records.
	Info ServiceInfo
}

// URL returns the endpoint URL using the first address, or the host name
// when no address is known.
func (s *Service) URL() string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	scheme := "ws"
	if s.Info.TLS {
		scheme = "wss"
	}
	path := s.Info.Path
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(host, strconv.Itoa(int(s.Port))), path)
}

// Supports reports whether the server offers the given subprotocol.
func (s *Service) Supports(subprotocol string) bool {
	for _, p := range s.Info.Subprotocols {
		if p == subprotocol {
			return true
		}
	}
	return false
}
