package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// DefaultPort is the default VISS WebSocket port.
const DefaultPort = 8090

// TLSConfig holds the server side TLS settings for wss.
type TLSConfig struct {
	// Certificate is the server certificate.
	Certificate tls.Certificate

	// ClientCAs verifies client certificates. Nil disables client
	// certificate checks.
	ClientCAs *x509.CertPool

	// RequireClientCert rejects clients without a certificate signed by
	// ClientCAs.
	RequireClientCert bool
}

// LoadTLSConfig reads a PEM certificate and key, and optionally a PEM CA
// bundle for client certificates.
func LoadTLSConfig(certFile, keyFile, clientCAFile string) (*TLSConfig, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load key pair: %w", err)
	}
	cfg := &TLSConfig{Certificate: cert}

	if clientCAFile != "" {
		pem, err := os.ReadFile(clientCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read client CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", clientCAFile)
		}
		cfg.ClientCAs = pool
		cfg.RequireClientCert = true
	}
	return cfg, nil
}

// NewServerTLSConfig creates the crypto/tls configuration of the server.
func NewServerTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("TLSConfig is required")
	}
	if len(cfg.Certificate.Certificate) == 0 {
		return nil, fmt.Errorf("server certificate is required")
	}

	tlsConfig := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cfg.Certificate},
		ClientCAs:    cfg.ClientCAs,
		NextProtos:   []string{"http/1.1"},
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
	}

	switch {
	case cfg.RequireClientCert:
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	case cfg.ClientCAs != nil:
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	default:
		tlsConfig.ClientAuth = tls.NoClientCert
	}
	return tlsConfig, nil
}

// NewClientTLSConfig creates a client TLS configuration trusting rootCAs.
// A nil pool uses the system roots.
func NewClientTLSConfig(rootCAs *x509.CertPool, serverName string, insecure bool) *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		RootCAs:            rootCAs,
		ServerName:         serverName,
		InsecureSkipVerify: insecure,
	}
}
