package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vango-dev/pubsub/internal/archive"
	"github.com/vango-dev/pubsub/internal/config"
	"github.com/vango-dev/pubsub/internal/errors"
	"github.com/vango-dev/pubsub/internal/logging"
	"github.com/vango-dev/pubsub/pkg/client"
	"github.com/vango-dev/pubsub/pkg/protocol"
)

type runOptions struct {
	configPath    string
	url           string
	token         string
	tokenEnv      string
	channels      []string
	metricsAddr   string
	archiveBucket string
	logLevel      string
	logFormat     string
	insecure      bool
}

func runCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect and print publications",
		Long: `Connect to the server, subscribe to the configured channels and
print every publication as "<channel>\t<data>" on stdout.

Settings come from pubsub-tail.toml (or --config) and are
overridden by flags.

Examples:
  pubsub-tail run --url wss://example.com/connection/websocket --channel news
  pubsub-tail run --config /etc/pubsub-tail.toml --metrics-addr :9090
  pubsub-tail run --token-env PUBSUB_TOKEN --channel a --channel b`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runTail(ctx, cfg, cmd.OutOrStdout(), os.Stderr)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "Config file (default ./"+config.ConfigFileName+" if present)")
	f.StringVarP(&opts.url, "url", "u", "", "WebSocket endpoint URL")
	f.StringVar(&opts.token, "token", "", "Connection token")
	f.StringVar(&opts.tokenEnv, "token-env", "", "Environment variable holding the token")
	f.StringArrayVar(&opts.channels, "channel", nil, "Channel to subscribe to (repeatable)")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Address for /metrics and /healthz")
	f.StringVar(&opts.archiveBucket, "archive-bucket", "", "S3 bucket to archive publications into")
	f.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.StringVar(&opts.logFormat, "log-format", "", "Log format: text, json, console")
	f.BoolVar(&opts.insecure, "insecure", false, "Skip TLS certificate verification")

	return cmd
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(opts runOptions) (*config.Config, error) {
	cfg := config.New()

	path := opts.configPath
	if path == "" {
		if _, err := os.Stat(config.ConfigFileName); err == nil {
			path = config.ConfigFileName
		}
	}
	if path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if opts.url != "" {
		cfg.URL = opts.url
	}
	if opts.token != "" {
		cfg.Token = opts.token
		cfg.TokenEnv = ""
	}
	if opts.tokenEnv != "" {
		cfg.TokenEnv = opts.tokenEnv
	}
	if len(opts.channels) > 0 {
		cfg.Channels = opts.channels
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if opts.archiveBucket != "" {
		cfg.Archive.Bucket = opts.archiveBucket
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}
	if opts.insecure {
		cfg.InsecureSkipVerify = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runTail runs the client until ctx is done.
func runTail(ctx context.Context, cfg *config.Config, out, logOut io.Writer) error {
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.New(logOut, logging.Options{
		Level:  level,
		Format: cfg.Log.Format,
		Attrs:  []slog.Attr{slog.String("app", "pubsub-tail")},
	})
	slog.SetDefault(logger)

	token, err := cfg.ResolveToken()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := client.NewMetrics(
		client.WithRegistry(registry),
		client.WithNamespace(cfg.Metrics.Namespace),
	)

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var arch *archive.Archive
	if cfg.Archive.Bucket != "" {
		s3c, err := archive.NewS3Client(archive.S3Options{
			Region:    cfg.Archive.Region,
			Endpoint:  cfg.Archive.Endpoint,
			PathStyle: cfg.Archive.PathStyle,
		})
		if err != nil {
			return errors.FromError(err, "E301")
		}
		arch = archive.New(s3c, archive.Config{
			Bucket:    cfg.Archive.Bucket,
			Prefix:    cfg.Archive.Prefix,
			QueueSize: cfg.Archive.QueueSize,
			Logger:    logger,
			Registry:  registry,
			Namespace: cfg.Metrics.Namespace,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = arch.Run(ctx)
		}()
	}

	var outMu sync.Mutex
	clientCfg := cfg.ClientConfig(logger, metrics)
	clientCfg.ClientVersion = version

	c, err := client.New(clientCfg,
		client.WithToken(func() string { return token }),
		client.OnConnect(func(c *client.Client, res *protocol.ConnectResult) {
			logger.Info("connected",
				"session_id", c.SessionID(),
				"server_client", res.Client,
				"server_version", res.Version)
			for _, ch := range cfg.Channels {
				if err := c.Subscribe(ch); err != nil {
					logger.Warn("subscribe failed", "channel", ch, "error", err)
				}
			}
		}),
		client.OnPublication(func(channel string, data []byte) {
			outMu.Lock()
			fmt.Fprintf(out, "%s\t%s\n", channel, data)
			outMu.Unlock()
			if arch != nil {
				arch.Enqueue(channel, data)
			}
		}),
		client.OnError(func(err *client.TransportError) {
			logger.Warn("session failed",
				"session_id", err.SessionID,
				"stage", err.Stage.String(),
				"code", err.Code,
				"error", err.Err)
		}),
	)
	if err != nil {
		return errors.FromError(err, "E202")
	}

	if cfg.Metrics.Addr != "" {
		ln, err := net.Listen("tcp", cfg.Metrics.Addr)
		if err != nil {
			return errors.New("E201").WithDetail("listen " + cfg.Metrics.Addr).Wrap(err)
		}
		srv := &http.Server{
			Handler:           newRouter(registry, c),
			ReadHeaderTimeout: 5 * time.Second,
		}
		logger.Info("metrics listening", "addr", ln.Addr().String())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	c.Run(ctx)
	return nil
}

// clientStatus is the part of *client.Client the health endpoint reads.
type clientStatus interface {
	ID() string
	State() client.State
	SessionID() string
}

type healthResponse struct {
	ClientID  string `json:"client_id"`
	SessionID string `json:"session_id,omitempty"`
	State     string `json:"state"`
}

// newRouter serves /metrics from registry and /healthz from status.
// /healthz answers 503 unless a session is ready.
func newRouter(registry *prometheus.Registry, status clientStatus) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		Registry: registry,
	}))
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		state := status.State()
		code := http.StatusOK
		if state != client.StateReady {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(healthResponse{
			ClientID:  status.ID(),
			SessionID: status.SessionID(),
			State:     state.String(),
		})
	})
	return r
}
