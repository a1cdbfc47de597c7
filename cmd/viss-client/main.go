// Command viss-client is an interactive VISS client.
//
// Usage:
//
//	viss-client [flags] [url]
//
// Without a url the client looks up a server via mDNS.
//
// Flags:
//
//	-codec string      Message codec: json, cbor (default "json")
//	-token string      Access token sent with every request
//	-server string     mDNS instance name to connect to (default: first found)
//	-insecure          Skip TLS certificate verification
//	-timeout duration  Request timeout (default 10s)
//	-log-level string  Log level: debug, info, warn, error (default "warn")
//
// Examples:
//
//	viss-client ws://127.0.0.1:8090/
//	viss-client -codec cbor -server "VISS Server"
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/viss-protocol/viss-go/cmd/viss-client/interactive"
	"github.com/viss-protocol/viss-go/pkg/client"
	"github.com/viss-protocol/viss-go/pkg/discovery"
	"github.com/viss-protocol/viss-go/pkg/transport"
	"github.com/viss-protocol/viss-go/pkg/version"
	"github.com/viss-protocol/viss-go/pkg/wire"
)

func main() {
	codecName := flag.String("codec", "json", "Message codec: json, cbor")
	token := flag.String("token", "", "Access token sent with every request")
	serverName := flag.String("server", "", "mDNS instance name to connect to (default: first found)")
	insecure := flag.Bool("insecure", false, "Skip TLS certificate verification")
	timeout := flag.Duration("timeout", 10*time.Second, "Request timeout")
	logLevel := flag.String("log-level", "warn", "Log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fail("invalid log level %q", *logLevel)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	codec := wire.JSON
	switch *codecName {
	case "json":
	case "cbor":
		codec = wire.CBOR
	default:
		fail("unknown codec %q", *codecName)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	url := flag.Arg(0)
	if url == "" {
		svc, err := discover(ctx, *serverName, codec.Subprotocol())
		if err != nil {
			fail("discovery: %v", err)
		}
		url = svc.URL()
		fmt.Printf("Found %s at %s\n", svc.InstanceName, url)
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, *timeout)
	c, err := client.Dial(dialCtx, url, client.Config{
		Codec:     codec,
		Token:     *token,
		Timeout:   *timeout,
		TLSConfig: transport.NewClientTLSConfig(nil, "", *insecure),
		Logger:    logger,
	})
	dialCancel()
	if err != nil {
		fail("connect %s: %v", url, err)
	}
	defer c.Close()

	fmt.Printf("Connected to %s (session %s, %s)\n", url, c.SessionID(), codec.Subprotocol())

	shell, err := interactive.New(c, *timeout)
	if err != nil {
		fail("%v", err)
	}
	go watchLink(ctx, c, shell)
	shell.Run(ctx, cancel)
}

// discover finds a server supporting subprotocol. An empty name selects the
// first compatible server.
func discover(ctx context.Context, name, subprotocol string) (*discovery.Service, error) {
	browser := discovery.NewMDNSBrowser(discovery.DefaultBrowserConfig())
	if name != "" {
		return browser.Find(ctx, name)
	}

	ctx, cancel := context.WithTimeout(ctx, discovery.BrowseTimeout)
	defer cancel()
	services, err := browser.Browse(ctx)
	if err != nil {
		return nil, err
	}
	for svc := range services {
		if !svc.Supports(subprotocol) {
			continue
		}
		if err := version.Check(svc.Info.Version); err != nil {
			continue
		}
		return svc, nil
	}
	return nil, discovery.ErrNotFound
}

// watchLink reports link losses and resumes the session.
func watchLink(ctx context.Context, c *client.Client, shell *interactive.Shell) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Lost():
		}
		fmt.Fprintln(shell.Stdout(), "Connection lost, resuming session...")
		if err := c.Reconnect(ctx); err != nil {
			fmt.Fprintf(shell.Stdout(), "Resume failed: %v\n", err)
			return
		}
		fmt.Fprintf(shell.Stdout(), "Session %s resumed\n", c.SessionID())
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "viss-client: "+format+"\n", args...)
	os.Exit(1)
}
