package transport

import (
	"encoding/binary"
	"sync"
	"time"
)

// Keep-alive constants.
const (
	// DefaultPingInterval is the default interval between pings.
	DefaultPingInterval = 30 * time.Second

	// DefaultPongTimeout is the default time a pong may take.
	DefaultPongTimeout = 5 * time.Second

	// DefaultMaxMissedPongs is the default number of missed pongs before disconnect.
	DefaultMaxMissedPongs = 3
)

// KeepAliveConfig configures keep-alive behavior.
type KeepAliveConfig struct {
	// PingInterval is the interval between pings.
	PingInterval time.Duration

	// PongTimeout is the time a pong may take after its ping.
	PongTimeout time.Duration

	// MaxMissedPongs is the number of missed pongs before disconnect.
	MaxMissedPongs int
}

// DefaultKeepAliveConfig returns the default keep-alive configuration.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		PingInterval:   DefaultPingInterval,
		PongTimeout:    DefaultPongTimeout,
		MaxMissedPongs: DefaultMaxMissedPongs,
	}
}

func (c KeepAliveConfig) withDefaults() KeepAliveConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = DefaultPongTimeout
	}
	if c.MaxMissedPongs <= 0 {
		c.MaxMissedPongs = DefaultMaxMissedPongs
	}
	return c
}

// DetectionDelay is the longest a dead link goes unnoticed: the read
// deadline of a connection.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	return c.PingInterval*time.Duration(c.MaxMissedPongs) + c.PongTimeout
}

// keepAlive tracks the ping sequence of one connection. Ping payloads carry
// a 4-byte big endian sequence number echoed by the pong.
type keepAlive struct {
	config KeepAliveConfig

	mu       sync.Mutex
	seq      uint32
	pending  bool
	sentAt   time.Time
	missed   int
	lastSeen time.Duration
}

func newKeepAlive(config KeepAliveConfig) *keepAlive {
	return &keepAlive{config: config.withDefaults()}
}

// ping returns the payload of the next ping. It returns false once
// MaxMissedPongs pings in a row went unanswered.
func (k *keepAlive) ping(now time.Time) ([]byte, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.pending && now.Sub(k.sentAt) >= k.config.PongTimeout {
		k.missed++
		if k.missed >= k.config.MaxMissedPongs {
			return nil, false
		}
	}

	k.seq++
	k.pending = true
	k.sentAt = now

	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, k.seq)
	return payload, true
}

// pong records a pong. It returns the round trip time and whether the pong
// answered the outstanding ping. Late pongs of earlier pings are ignored.
func (k *keepAlive) pong(payload []byte, now time.Time) (time.Duration, bool) {
	if len(payload) != 4 {
		return 0, false
	}
	seq := binary.BigEndian.Uint32(payload)

	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.pending || seq != k.seq {
		return 0, false
	}
	k.pending = false
	k.missed = 0
	k.lastSeen = now.Sub(k.sentAt)
	return k.lastSeen, true
}

// latency returns the round trip time of the last answered ping.
func (k *keepAlive) latency() time.Duration {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lastSeen
}
