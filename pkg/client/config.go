package client

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/vango-dev/pubsub/pkg/protocol"
)

// Default values for Config.
const (
	// DefaultWatchdogTimeout is used when Config.WatchdogTimeout is zero.
	DefaultWatchdogTimeout = 15 * time.Second

	// DefaultSubprotocol is the WebSocket subprotocol of the binary protocol.
	DefaultSubprotocol = "centrifuge-protobuf"

	defaultTracerName = "github.com/vango-dev/pubsub/pkg/client"
)

// Config holds configuration for a Client and the sessions it opens.
type Config struct {
	// URL is the WebSocket endpoint, e.g. "wss://host/connection/websocket".
	// ws, wss, http and https schemes are accepted; a missing port means
	// 80 or 443.
	URL string

	// Timeouts

	// WatchdogTimeout is the silence after which a session is torn down.
	// The watchdog checks every WatchdogTimeout/2. Zero selects the default.
	// Default: 15 seconds.
	WatchdogTimeout time.Duration

	// HandshakeTimeout bounds resolve, connect, TLS and upgrade together.
	// Default: 10 seconds.
	HandshakeTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a message.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// ReconnectDelay is the pause between two session attempts.
	// Default: 0 (reconnect immediately).
	ReconnectDelay time.Duration

	// Limits

	// MaxFrameSize is the largest accepted frame payload.
	// Default: 4MB.
	MaxFrameSize int

	// MaxMessageSize is the largest accepted WebSocket message. A message may
	// hold several frames.
	// Default: 8MB.
	MaxMessageSize int64

	// Transport

	// Subprotocol is offered in Sec-WebSocket-Protocol. Empty offers none.
	// Default: "centrifuge-protobuf".
	Subprotocol string

	// TLSConfig is cloned for every TLS handshake. ServerName defaults to
	// the URL host.
	TLSConfig *tls.Config

	// InsecureSkipVerify disables certificate verification.
	// Default: false.
	InsecureSkipVerify bool

	// Header is sent with the upgrade request.
	Header http.Header

	// Resolver looks up the endpoint host. Default: net.DefaultResolver.
	Resolver *net.Resolver

	// Identity

	// ClientName and ClientVersion are sent in the connect command.
	ClientName    string
	ClientVersion string

	// Observability

	// Logger receives structured logs. Default: slog.Default().
	Logger *slog.Logger

	// Metrics collects Prometheus metrics. Nil disables metrics.
	Metrics *Metrics

	// TracerName names the OpenTelemetry tracer used for session spans.
	// Default: the package import path.
	TracerName string
}

// DefaultConfig returns a Config with sensible defaults and an empty URL.
func DefaultConfig() *Config {
	return &Config{
		WatchdogTimeout:  DefaultWatchdogTimeout,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		MaxFrameSize:     protocol.DefaultMaxFrameSize,
		MaxMessageSize:   8 * 1024 * 1024, // 8MB
		Subprotocol:      DefaultSubprotocol,
		ClientName:       "pubsub-go",
		TracerName:       defaultTracerName,
	}
}

// Clone returns a copy of the Config. Header and TLSConfig are deep copied.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Header != nil {
		clone.Header = c.Header.Clone()
	}
	if c.TLSConfig != nil {
		clone.TLSConfig = c.TLSConfig.Clone()
	}
	return &clone
}

// Validate checks the endpoint URL.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: empty URL", ErrInvalidConfig)
	}
	if _, err := c.dialURL(); err != nil {
		return err
	}
	if c.WatchdogTimeout < 0 {
		return fmt.Errorf("%w: negative watchdog timeout", ErrInvalidConfig)
	}
	return nil
}

// WithURL sets the endpoint and returns the config for chaining.
func (c *Config) WithURL(u string) *Config {
	c.URL = u
	return c
}

// WithWatchdogTimeout sets the watchdog timeout and returns the config for chaining.
func (c *Config) WithWatchdogTimeout(d time.Duration) *Config {
	c.WatchdogTimeout = d
	return c
}

// WithReconnectDelay sets the reconnect delay and returns the config for chaining.
func (c *Config) WithReconnectDelay(d time.Duration) *Config {
	c.ReconnectDelay = d
	return c
}

// WithLogger sets the logger and returns the config for chaining.
func (c *Config) WithLogger(l *slog.Logger) *Config {
	c.Logger = l
	return c
}

// WithMetrics sets the metrics collector and returns the config for chaining.
func (c *Config) WithMetrics(m *Metrics) *Config {
	c.Metrics = m
	return c
}

// WithTLSConfig sets the TLS configuration and returns the config for chaining.
func (c *Config) WithTLSConfig(cfg *tls.Config) *Config {
	c.TLSConfig = cfg
	return c
}

func (c *Config) watchdogTimeout() time.Duration {
	if c.WatchdogTimeout <= 0 {
		return DefaultWatchdogTimeout
	}
	return c.WatchdogTimeout
}

func (c *Config) writeDeadline() time.Time {
	timeout := c.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return time.Now().Add(timeout)
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Config) tracerName() string {
	if c.TracerName == "" {
		return defaultTracerName
	}
	return c.TracerName
}

func (c *Config) resolver() *net.Resolver {
	if c.Resolver != nil {
		return c.Resolver
	}
	return net.DefaultResolver
}

// dialURL normalizes the endpoint to a ws or wss URL.
func (c *Config) dialURL() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidConfig, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidConfig)
	}
	return u.String(), nil
}

// tlsConfig returns the TLS configuration for a handshake with host.
func (c *Config) tlsConfig(host string) *tls.Config {
	var cfg *tls.Config
	if c.TLSConfig != nil {
		cfg = c.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	if c.InsecureSkipVerify {
		cfg.InsecureSkipVerify = true
	}
	// The upgrade request is HTTP/1.1; advertising h2 would break it.
	cfg.NextProtos = []string{"http/1.1"}
	return cfg
}
