package discovery

import (
	"context"
	"time"
)

// Browser finds VISS servers on the local network.
type Browser interface {
	// Browse searches for servers. Each instance is emitted once, when it is
	// first seen. The channel is closed when the context is cancelled.
	Browse(ctx context.Context) (<-chan *Service, error)

	// Find returns the server with the given instance name, or the first
	// server found when name is empty.
	Find(ctx context.Context, name string) (*Service, error)
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout bounds Find when the context has no deadline.
	// Default: 10 seconds.
	BrowseTimeout time.Duration

	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		BrowseTimeout: BrowseTimeout,
		Interface:     "",
	}
}
