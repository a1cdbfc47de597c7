// Package config loads the viss-server configuration file.
//
// The file is YAML. Every field is optional; missing fields keep the
// values of Default. Durations use Go syntax ("30s", "2m").
//
//	server:
//	  address: ":8090"
//	  path: /
//	tree:
//	  file: vss.yaml
//	auth:
//	  mode: policy
//	  rules:
//	    - subject: "*"
//	      grant: "get,subscribe:Vehicle.**"
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/viss-protocol/viss-go/pkg/auth"
	"github.com/viss-protocol/viss-go/pkg/discovery"
	"github.com/viss-protocol/viss-go/pkg/feed"
	"github.com/viss-protocol/viss-go/pkg/subscription"
	"github.com/viss-protocol/viss-go/pkg/transport"
)

// ErrInvalidConfig is returned for a configuration that fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Authorization modes.
const (
	AuthNone   = "none"
	AuthPolicy = "policy"
	AuthToken  = "token"
)

// Config is the server configuration.
type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Tree          TreeConfig         `yaml:"tree"`
	Subscriptions SubscriptionConfig `yaml:"subscriptions"`
	Auth          AuthConfig         `yaml:"auth"`
	Feed          FeedConfig         `yaml:"feed"`
	Discovery     DiscoveryConfig    `yaml:"discovery"`
	Log           LogConfig          `yaml:"log"`
	Metrics       MetricsConfig      `yaml:"metrics"`
}

// ServerConfig configures the WebSocket endpoint.
type ServerConfig struct {
	Address        string          `yaml:"address" validate:"required"`
	Path           string          `yaml:"path" validate:"required,startswith=/"`
	MaxMessageSize int64           `yaml:"max_message_size" validate:"gte=0"`
	WriteTimeout   time.Duration   `yaml:"write_timeout" validate:"gte=0"`
	RequestRate    float64         `yaml:"request_rate" validate:"gte=0"`
	RequestBurst   int             `yaml:"request_burst" validate:"gte=0"`
	KeepAlive      KeepAliveConfig `yaml:"keepalive"`
	TLS            TLSConfig       `yaml:"tls"`
}

// KeepAliveConfig configures ping/pong liveness checks.
type KeepAliveConfig struct {
	PingInterval   time.Duration `yaml:"ping_interval" validate:"gte=0"`
	PongTimeout    time.Duration `yaml:"pong_timeout" validate:"gte=0"`
	MaxMissedPongs int           `yaml:"max_missed_pongs" validate:"gte=0"`
}

// TLSConfig enables wss when Cert is set.
type TLSConfig struct {
	Cert              string `yaml:"cert" validate:"required_with=Key"`
	Key               string `yaml:"key" validate:"required_with=Cert"`
	ClientCA          string `yaml:"client_ca"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

// Enabled reports whether TLS is configured.
func (c TLSConfig) Enabled() bool { return c.Cert != "" }

// TreeConfig names the signal tree file.
type TreeConfig struct {
	File string `yaml:"file" validate:"required"`
}

// SubscriptionConfig configures subscription limits.
type SubscriptionConfig struct {
	Max         int           `yaml:"max" validate:"gte=0"`
	PerSession  int           `yaml:"per_session" validate:"gte=0"`
	QueueSize   int           `yaml:"queue_size" validate:"gte=0"`
	GracePeriod time.Duration `yaml:"grace_period" validate:"gte=0"`
}

// AuthConfig configures authorization.
type AuthConfig struct {
	Mode  string       `yaml:"mode" validate:"oneof=none policy token"`
	Rules []RuleConfig `yaml:"rules" validate:"dive"`
	Token TokenConfig  `yaml:"token"`
}

// RuleConfig is one policy rule.
type RuleConfig struct {
	Subject string `yaml:"subject" validate:"required"`
	Grant   string `yaml:"grant" validate:"required"`
}

// TokenConfig configures JWT validation. One of Secret or PublicKeyFile is
// required in token mode.
type TokenConfig struct {
	Secret        string        `yaml:"secret"`
	PublicKeyFile string        `yaml:"public_key_file"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	Leeway        time.Duration `yaml:"leeway" validate:"gte=0"`
}

// FeedConfig configures data sources.
type FeedConfig struct {
	NATS      NATSConfig      `yaml:"nats"`
	Simulator SimulatorConfig `yaml:"simulator"`
}

// NATSConfig enables the NATS source when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url" validate:"omitempty,url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	Queue         string `yaml:"queue"`
}

// SimulatorConfig configures the drive simulation.
type SimulatorConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval" validate:"gte=0"`
	SpeedPath string        `yaml:"speed_path"`
	FuelPath  string        `yaml:"fuel_path"`
	DoorPath  string        `yaml:"door_path"`
}

// DiscoveryConfig configures mDNS advertising.
type DiscoveryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Name      string `yaml:"name" validate:"required_if=Enabled true,max=63"`
	Interface string `yaml:"interface"`
	VIN       string `yaml:"vin"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level        string `yaml:"level" validate:"oneof=debug info warn error"`
	Format       string `yaml:"format" validate:"oneof=text json"`
	ProtocolFile string `yaml:"protocol_file"`
}

// MetricsConfig enables the Prometheus endpoint when Address is set.
type MetricsConfig struct {
	Address string `yaml:"address"`
	Path    string `yaml:"path" validate:"omitempty,startswith=/"`
}

// Default returns the default configuration.
func Default() Config {
	ka := transport.DefaultKeepAliveConfig()
	sub := subscription.DefaultConfig()
	sim := feed.DefaultSimulatorConfig()
	return Config{
		Server: ServerConfig{
			Address:        fmt.Sprintf(":%d", transport.DefaultPort),
			Path:           "/",
			MaxMessageSize: transport.DefaultMaxMessageSize,
			WriteTimeout:   transport.DefaultWriteTimeout,
			RequestBurst:   10,
			KeepAlive: KeepAliveConfig{
				PingInterval:   ka.PingInterval,
				PongTimeout:    ka.PongTimeout,
				MaxMissedPongs: ka.MaxMissedPongs,
			},
		},
		Tree: TreeConfig{File: "vss.yaml"},
		Subscriptions: SubscriptionConfig{
			Max:         sub.MaxSubscriptions,
			PerSession:  sub.MaxSubscriptionsPerSession,
			QueueSize:   sub.QueueSize,
			GracePeriod: sub.GracePeriod,
		},
		Auth: AuthConfig{Mode: AuthNone},
		Feed: FeedConfig{
			NATS: NATSConfig{SubjectPrefix: feed.DefaultSubjectPrefix},
			Simulator: SimulatorConfig{
				Interval:  sim.Interval,
				SpeedPath: sim.SpeedPath,
				FuelPath:  sim.FuelPath,
				DoorPath:  sim.DoorPath,
			},
		},
		Discovery: DiscoveryConfig{Name: "VISS Server"},
		Log:       LogConfig{Level: "info", Format: "text"},
		Metrics:   MetricsConfig{Path: "/metrics"},
	}
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if c.Auth.Mode == AuthToken && c.Auth.Token.Secret == "" && c.Auth.Token.PublicKeyFile == "" {
		return fmt.Errorf("%w: auth.token needs secret or public_key_file", ErrInvalidConfig)
	}
	if c.Server.TLS.RequireClientCert && c.Server.TLS.ClientCA == "" {
		return fmt.Errorf("%w: server.tls.require_client_cert needs client_ca", ErrInvalidConfig)
	}
	for i, r := range c.Auth.Rules {
		if _, err := auth.ParseGrant(r.Grant); err != nil {
			return fmt.Errorf("%w: auth.rules[%d]: %v", ErrInvalidConfig, i, err)
		}
	}
	return nil
}

// describe renders a validation error with the YAML field path.
func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	if fe.Param() != "" {
		return fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// TransportConfig returns the WebSocket server configuration. TLS is left
// to the caller since it needs file access.
func (c *Config) TransportConfig() transport.ServerConfig {
	tc := transport.DefaultServerConfig()
	tc.Address = c.Server.Address
	tc.Path = c.Server.Path
	tc.MaxMessageSize = c.Server.MaxMessageSize
	tc.WriteTimeout = c.Server.WriteTimeout
	tc.RequestRate = rate.Limit(c.Server.RequestRate)
	tc.RequestBurst = c.Server.RequestBurst
	tc.KeepAlive = transport.KeepAliveConfig{
		PingInterval:   c.Server.KeepAlive.PingInterval,
		PongTimeout:    c.Server.KeepAlive.PongTimeout,
		MaxMissedPongs: c.Server.KeepAlive.MaxMissedPongs,
	}
	return tc
}

// SubscriptionManagerConfig returns the subscription manager configuration.
func (c *Config) SubscriptionManagerConfig() subscription.Config {
	return subscription.Config{
		MaxSubscriptions:           c.Subscriptions.Max,
		MaxSubscriptionsPerSession: c.Subscriptions.PerSession,
		QueueSize:                  c.Subscriptions.QueueSize,
		GracePeriod:                c.Subscriptions.GracePeriod,
	}
}

// Policy builds the policy of the configured rules.
func (c *Config) Policy() (*auth.Policy, error) {
	rules := make([]auth.Rule, 0, len(c.Auth.Rules))
	for _, r := range c.Auth.Rules {
		rule, err := auth.ParseRule(r.Subject, r.Grant)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return auth.NewPolicy(rules...), nil
}

// SimulatorConfig returns the simulator configuration.
func (c *Config) SimulatorConfig() feed.SimulatorConfig {
	s := c.Feed.Simulator
	return feed.SimulatorConfig{
		Interval:  s.Interval,
		SpeedPath: s.SpeedPath,
		FuelPath:  s.FuelPath,
		DoorPath:  s.DoorPath,
	}
}

// NATSSourceConfig returns the NATS source configuration.
func (c *Config) NATSSourceConfig() feed.NATSConfig {
	return feed.NATSConfig{
		SubjectPrefix: c.Feed.NATS.SubjectPrefix,
		Queue:         c.Feed.NATS.Queue,
	}
}

// ServiceInfo returns the mDNS advertisement for the server listening on
// port.
func (c *Config) ServiceInfo(port uint16, subprotocols []string, version string) *discovery.ServiceInfo {
	return &discovery.ServiceInfo{
		Name:         c.Discovery.Name,
		Port:         port,
		Path:         c.Server.Path,
		Subprotocols: subprotocols,
		TLS:          c.Server.TLS.Enabled(),
		VIN:          c.Discovery.VIN,
		Version:      version,
	}
}
