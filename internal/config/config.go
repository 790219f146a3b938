package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vango-dev/pubsub/internal/errors"
	"github.com/vango-dev/pubsub/pkg/client"
)

const (
	// ConfigFileName is the conventional name of the configuration file.
	ConfigFileName = "pubsub-tail.toml"

	// DefaultMetricsNamespace prefixes every exported metric.
	DefaultMetricsNamespace = "pubsub"

	// DefaultArchivePrefix is the key prefix of archived publications.
	DefaultArchivePrefix = "publications"

	// DefaultArchiveQueue is the number of publications buffered for upload.
	DefaultArchiveQueue = 1024
)

// Config is the pubsub-tail configuration file.
type Config struct {
	// URL is the WebSocket endpoint of the server.
	URL string `toml:"url"`

	// Token is the connection credential. TokenEnv, when set, names an
	// environment variable that is read instead.
	Token    string `toml:"token,omitempty"`
	TokenEnv string `toml:"token_env,omitempty"`

	// Channels are subscribed after every successful connect.
	Channels []string `toml:"channels"`

	// WatchdogTimeoutMS is the silence in milliseconds after which the
	// connection is dropped. 0 means 15000.
	WatchdogTimeoutMS int `toml:"watchdog_timeout_ms"`

	// HandshakeTimeoutMS bounds dialing and the upgrade. 0 means 10000.
	HandshakeTimeoutMS int `toml:"handshake_timeout_ms"`

	// ReconnectDelayMS is the pause between connection attempts.
	ReconnectDelayMS int `toml:"reconnect_delay_ms"`

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool `toml:"insecure_skip_verify"`

	// ClientName is sent in the connect command.
	ClientName string `toml:"client_name,omitempty"`

	Metrics MetricsConfig `toml:"metrics"`
	Archive ArchiveConfig `toml:"archive"`
	Log     LogConfig     `toml:"log"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// MetricsConfig configures the local metrics and health listener.
type MetricsConfig struct {
	// Addr is the listen address, e.g. ":9090". Empty disables the listener.
	Addr string `toml:"addr"`

	// Namespace prefixes every metric name.
	Namespace string `toml:"namespace"`
}

// ArchiveConfig configures uploading publications to S3.
type ArchiveConfig struct {
	// Bucket is the destination bucket. Empty disables archiving.
	Bucket string `toml:"bucket"`

	// Prefix is prepended to every object key.
	Prefix string `toml:"prefix"`

	// Region is the AWS region of the bucket.
	Region string `toml:"region"`

	// Endpoint overrides the S3 endpoint, for S3-compatible stores.
	Endpoint string `toml:"endpoint,omitempty"`

	// PathStyle addresses the bucket in the path instead of the host name.
	PathStyle bool `toml:"path_style"`

	// QueueSize bounds the publications waiting for upload.
	QueueSize int `toml:"queue_size"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level"`

	// Format is "text", "json" or "console".
	Format string `toml:"format"`
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		ClientName: "pubsub-tail",
		Metrics: MetricsConfig{
			Namespace: DefaultMetricsNamespace,
		},
		Archive: ArchiveConfig{
			Prefix:    DefaultArchivePrefix,
			QueueSize: DefaultArchiveQueue,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFile reads configuration from a TOML file. Keys the file sets
// override the defaults; unknown keys are rejected.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E101").
				WithDetail("No config file at " + path).
				Wrap(err)
		}
		return nil, errors.New("E102").Wrap(err)
	}

	cfg := New()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, errors.New("E102").
			WithDetail("Failed to parse " + filepath.Base(path)).
			Wrap(err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, errors.New("E103").
			WithDetail("Unknown keys: " + strings.Join(keys, ", "))
	}

	cfg.configPath = path
	cfg.applyDefaults()
	return cfg, nil
}

// SaveTo writes the configuration to path as TOML.
func (c *Config) SaveTo(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return errors.New("E102").Wrap(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return errors.New("E103").WithDetail("Cannot write " + path).Wrap(err)
	}
	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// applyDefaults fills in default values for fields the file cleared.
func (c *Config) applyDefaults() {
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultMetricsNamespace
	}
	if c.Archive.Prefix == "" {
		c.Archive.Prefix = DefaultArchivePrefix
	}
	if c.Archive.QueueSize <= 0 {
		c.Archive.QueueSize = DefaultArchiveQueue
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("E104")
	}
	for _, f := range []struct {
		key   string
		value int
	}{
		{"watchdog_timeout_ms", c.WatchdogTimeoutMS},
		{"handshake_timeout_ms", c.HandshakeTimeoutMS},
		{"reconnect_delay_ms", c.ReconnectDelayMS},
	} {
		if f.value < 0 {
			return errors.New("E103").WithDetail(f.key + " must not be negative")
		}
	}

	if err := c.ClientConfig(nil, nil).Validate(); err != nil {
		return errors.New("E103").WithDetail("url: " + c.URL).Wrap(err)
	}

	for _, ch := range c.Channels {
		if strings.TrimSpace(ch) == "" {
			return errors.New("E103").WithDetail("channels must not contain empty names")
		}
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json", "console":
	default:
		return errors.New("E103").
			WithDetail("log.format must be text, json or console, got " + c.Log.Format)
	}

	if c.Archive.Bucket != "" && c.Archive.Region == "" && c.Archive.Endpoint == "" {
		return errors.New("E301").WithDetail("archive.region is required with archive.bucket")
	}
	return nil
}

// ResolveToken returns the credential, reading TokenEnv when it is set.
func (c *Config) ResolveToken() (string, error) {
	if c.TokenEnv == "" {
		return c.Token, nil
	}
	token := os.Getenv(c.TokenEnv)
	if token == "" {
		return "", errors.New("E105").WithSuggestion("export " + c.TokenEnv + "=<token>")
	}
	return token, nil
}

// ClientConfig converts the file settings to a client configuration.
func (c *Config) ClientConfig(logger *slog.Logger, metrics *client.Metrics) *client.Config {
	cfg := client.DefaultConfig().
		WithURL(c.URL).
		WithWatchdogTimeout(millis(c.WatchdogTimeoutMS)).
		WithReconnectDelay(millis(c.ReconnectDelayMS)).
		WithLogger(logger).
		WithMetrics(metrics)
	if c.HandshakeTimeoutMS > 0 {
		cfg.HandshakeTimeout = millis(c.HandshakeTimeoutMS)
	}
	cfg.InsecureSkipVerify = c.InsecureSkipVerify
	if c.ClientName != "" {
		cfg.ClientName = c.ClientName
	}
	return cfg
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, errors.New("E106").WithDetail("got " + name)
	}
	return level, nil
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
