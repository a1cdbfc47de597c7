// Command viss-server serves a VSS signal tree over the VISS WebSocket
// protocol.
//
// Usage:
//
//	viss-server [flags]
//
// Flags:
//
//	-config string        Configuration file path
//	-address string       Listen address (overrides server.address)
//	-tree string          Signal tree file (overrides tree.file)
//	-log-level string     Log level: debug, info, warn, error
//	-protocol-log string  Write a CBOR protocol capture to this file
//	-simulate             Run the drive simulator
//	-nats string          NATS URL of the signal feed
//	-metrics string       Prometheus listen address
//	-mdns                 Advertise the server via mDNS
//	-name string          mDNS instance name
//
// Examples:
//
//	# Serve a tree with simulated data
//	viss-server -tree vss.yaml -simulate
//
//	# Serve with a NATS feed and a protocol capture
//	viss-server -config viss.yaml -nats nats://127.0.0.1:4222 -protocol-log viss.log
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/viss-protocol/viss-go/pkg/auth"
	"github.com/viss-protocol/viss-go/pkg/config"
	"github.com/viss-protocol/viss-go/pkg/discovery"
	"github.com/viss-protocol/viss-go/pkg/feed"
	"github.com/viss-protocol/viss-go/pkg/interaction"
	vlog "github.com/viss-protocol/viss-go/pkg/log"
	"github.com/viss-protocol/viss-go/pkg/metrics"
	"github.com/viss-protocol/viss-go/pkg/model"
	"github.com/viss-protocol/viss-go/pkg/store"
	"github.com/viss-protocol/viss-go/pkg/subscription"
	"github.com/viss-protocol/viss-go/pkg/transport"
	"github.com/viss-protocol/viss-go/pkg/version"
	"github.com/viss-protocol/viss-go/pkg/wire"
)

// flags holds command line overrides of the configuration file.
type flags struct {
	configFile  string
	address     string
	tree        string
	logLevel    string
	protocolLog string
	simulate    bool
	natsURL     string
	metrics     string
	mdns        bool
	name        string
}

func main() {
	var f flags
	flag.StringVar(&f.configFile, "config", "", "Configuration file path")
	flag.StringVar(&f.address, "address", "", "Listen address (overrides server.address)")
	flag.StringVar(&f.tree, "tree", "", "Signal tree file (overrides tree.file)")
	flag.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&f.protocolLog, "protocol-log", "", "Write a CBOR protocol capture to this file")
	flag.BoolVar(&f.simulate, "simulate", false, "Run the drive simulator")
	flag.StringVar(&f.natsURL, "nats", "", "NATS URL of the signal feed")
	flag.StringVar(&f.metrics, "metrics", "", "Prometheus listen address")
	flag.BoolVar(&f.mdns, "mdns", false, "Advertise the server via mDNS")
	flag.StringVar(&f.name, "name", "", "mDNS instance name")
	flag.Parse()

	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "viss-server: %v\n", err)
		os.Exit(2)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// loadConfig reads the configuration file, if any, and applies flag
// overrides.
func loadConfig(f flags) (*config.Config, error) {
	var cfg *config.Config
	if f.configFile != "" {
		loaded, err := config.Load(f.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		def := config.Default()
		cfg = &def
	}

	if f.address != "" {
		cfg.Server.Address = f.address
	}
	if f.tree != "" {
		cfg.Tree.File = f.tree
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.protocolLog != "" {
		cfg.Log.ProtocolFile = f.protocolLog
	}
	if f.simulate {
		cfg.Feed.Simulator.Enabled = true
	}
	if f.natsURL != "" {
		cfg.Feed.NATS.URL = f.natsURL
	}
	if f.metrics != "" {
		cfg.Metrics.Address = f.metrics
	}
	if f.mdns {
		cfg.Discovery.Enabled = true
	}
	if f.name != "" {
		cfg.Discovery.Name = f.name
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	tree, err := model.LoadFile(cfg.Tree.File)
	if err != nil {
		return fmt.Errorf("load tree: %w", err)
	}
	logger.Info("signal tree loaded", "file", cfg.Tree.File, "nodes", tree.Len(), "leaves", tree.LeafCount())

	st := store.New(tree, store.Config{Logger: logger, Metrics: m})

	subCfg := cfg.SubscriptionManagerConfig()
	subCfg.Logger = logger
	subCfg.Metrics = m
	manager := subscription.NewManagerWithConfig(subCfg)
	manager.Attach(st)
	defer manager.Close()

	authorizer, authenticator, err := newAuth(cfg)
	if err != nil {
		return err
	}
	handler := interaction.NewServer(st, manager, interaction.Config{
		Authorizer:    authorizer,
		Authenticator: authenticator,
		Logger:        logger,
		Metrics:       m,
	})

	tc := cfg.TransportConfig()
	tc.Logger = logger
	tc.Metrics = m
	if cfg.Server.TLS.Enabled() {
		tlsConf, err := transport.LoadTLSConfig(cfg.Server.TLS.Cert, cfg.Server.TLS.Key, cfg.Server.TLS.ClientCA)
		if err != nil {
			return err
		}
		tlsConf.RequireClientCert = cfg.Server.TLS.RequireClientCert
		tc.TLSConfig = tlsConf
	}
	var captures []vlog.Logger
	if cfg.Log.ProtocolFile != "" {
		plog, err := vlog.NewFileLogger(cfg.Log.ProtocolFile)
		if err != nil {
			return fmt.Errorf("open protocol log: %w", err)
		}
		defer plog.Close()
		captures = append(captures, plog)
		logger.Info("protocol capture enabled", "file", cfg.Log.ProtocolFile)
	}
	if cfg.SlogLevel() == slog.LevelDebug {
		captures = append(captures, vlog.NewSlogAdapter(logger))
	}
	switch len(captures) {
	case 0:
	case 1:
		tc.ProtocolLogger = captures[0]
	default:
		tc.ProtocolLogger = vlog.NewMultiLogger(captures...)
	}

	server, err := transport.NewServer(handler, manager, tc)
	if err != nil {
		return err
	}
	if err := server.Start(ctx); err != nil {
		return err
	}
	defer server.Stop()
	logger.Info("VISS server listening",
		"addr", server.Addr().String(),
		"path", tc.Path,
		"tls", tc.TLSConfig != nil,
		"auth", cfg.Auth.Mode)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Address != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Metrics.Address, cfg.Metrics.Path, reg, logger)
		})
	}

	if cfg.Feed.NATS.URL != "" {
		nc, err := nats.Connect(cfg.Feed.NATS.URL,
			nats.Name("viss-server"),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.Warn("nats disconnected", "error", err)
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logger.Info("nats reconnected", "url", nc.ConnectedUrl())
			}),
		)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Close()

		nsCfg := cfg.NATSSourceConfig()
		nsCfg.Logger = logger
		source := feed.NewNATSSource(nc, st, nsCfg)
		if err := source.Start(); err != nil {
			return err
		}
		logger.Info("nats feed subscribed", "url", cfg.Feed.NATS.URL, "subject", source.Subject())
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("nats feed stopped", "accepted", source.Accepted(), "rejected", source.Rejected())
			return source.Stop()
		})
	}

	if cfg.Feed.Simulator.Enabled {
		simCfg := cfg.SimulatorConfig()
		simCfg.Logger = logger
		sim := feed.NewSimulator(st, simCfg)
		logger.Info("drive simulation enabled", "interval", simCfg.Interval)
		g.Go(func() error {
			return sim.Run(gctx)
		})
	}

	if cfg.Discovery.Enabled {
		port, err := listenPort(server.Addr())
		if err != nil {
			return err
		}
		adv := discovery.NewMDNSAdvertiser(discovery.AdvertiserConfig{
			Interface: cfg.Discovery.Interface,
			Logger:    logger,
		})
		info := cfg.ServiceInfo(port, wire.Subprotocols, version.Current)
		if err := adv.Advertise(ctx, info); err != nil {
			return fmt.Errorf("advertise: %w", err)
		}
		logger.Info("mDNS advertising", "name", info.Name, "service", discovery.ServiceType, "port", port)
		g.Go(func() error {
			<-gctx.Done()
			return adv.Stop()
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "connections", server.ConnectionCount(), "subscriptions", manager.Count())
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newAuth builds the authorizer of the configured mode. In token mode the
// authorizer also authenticates request tokens.
func newAuth(cfg *config.Config) (auth.Authorizer, interaction.Authenticator, error) {
	switch cfg.Auth.Mode {
	case config.AuthPolicy:
		policy, err := cfg.Policy()
		if err != nil {
			return nil, nil, err
		}
		return policy, nil, nil

	case config.AuthToken:
		policy, err := cfg.Policy()
		if err != nil {
			return nil, nil, err
		}
		tokCfg := auth.TokenConfig{
			Secret:   []byte(cfg.Auth.Token.Secret),
			Issuer:   cfg.Auth.Token.Issuer,
			Audience: cfg.Auth.Token.Audience,
			Leeway:   cfg.Auth.Token.Leeway,
			Fallback: policy,
		}
		if cfg.Auth.Token.PublicKeyFile != "" {
			pem, err := os.ReadFile(cfg.Auth.Token.PublicKeyFile)
			if err != nil {
				return nil, nil, fmt.Errorf("read public key: %w", err)
			}
			key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
			if err != nil {
				return nil, nil, fmt.Errorf("parse public key: %w", err)
			}
			tokCfg.PublicKey = key
		}
		ta, err := auth.NewTokenAuthorizer(tokCfg)
		if err != nil {
			return nil, nil, err
		}
		return ta, ta, nil

	default:
		return auth.AllowAll{}, nil, nil
	}
}

func serveMetrics(ctx context.Context, addr, path string, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", "addr", addr, "path", path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func listenPort(addr net.Addr) (uint16, error) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listen address %v", addr)
	}
	return uint16(tcp.Port), nil
}
