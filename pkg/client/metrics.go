package client

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus collectors of a client.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "pubsub").
	Namespace string

	// Subsystem is the metrics subsystem (default: "client").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for session duration in seconds.
	// Default: 1s to about 68 minutes, exponential.
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus collectors.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "pubsub",
		Subsystem: "client",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 13),
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the Prometheus collectors for one client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	sessionsTotal   prometheus.Counter
	sessionFailures *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	sessionDuration prometheus.Histogram
	watchdogTrips   prometheus.Counter
	reconnectsTotal prometheus.Counter
	framesReceived  prometheus.Counter
	heartbeatsTotal prometheus.Counter
	publications    prometheus.Counter
	replyErrors     prometheus.Counter
	decodeErrors    *prometheus.CounterVec
	bytesSent       prometheus.Counter
	bytesReceived   prometheus.Counter
}

// NewMetrics creates and registers the client collectors.
//
// Metrics collected (default namespace and subsystem):
//   - pubsub_client_sessions_total: Counter of session attempts
//   - pubsub_client_session_failures_total: Counter of failed sessions by stage
//   - pubsub_client_active_sessions: Gauge of running sessions
//   - pubsub_client_session_duration_seconds: Histogram of session lifetimes
//   - pubsub_client_watchdog_trips_total: Counter of sessions stopped for silence
//   - pubsub_client_reconnects_total: Counter of supervisor restarts
//   - pubsub_client_frames_received_total: Counter of decoded frames
//   - pubsub_client_heartbeats_total: Counter of answered heartbeat frames
//   - pubsub_client_publications_total: Counter of delivered publications
//   - pubsub_client_reply_errors_total: Counter of error replies
//   - pubsub_client_decode_errors_total: Counter of decode failures by kind
//   - pubsub_client_bytes_sent_total / bytes_received_total: Traffic counters
//
// Registering twice with the same registry panics, as promauto does.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		})
	}

	return &Metrics{
		sessionsTotal: counter("sessions_total", "Total number of session attempts"),

		sessionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "session_failures_total",
			Help:        "Total number of failed sessions by lifecycle stage",
			ConstLabels: config.ConstLabels,
		}, []string{"stage"}),

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_sessions",
			Help:        "Number of running sessions",
			ConstLabels: config.ConstLabels,
		}),

		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "session_duration_seconds",
			Help:        "Session lifetime in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		watchdogTrips:   counter("watchdog_trips_total", "Total number of sessions stopped for inactivity"),
		reconnectsTotal: counter("reconnects_total", "Total number of supervisor restarts"),
		framesReceived:  counter("frames_received_total", "Total number of frames received"),
		heartbeatsTotal: counter("heartbeats_total", "Total number of heartbeat frames answered"),
		publications:    counter("publications_total", "Total number of publications delivered"),
		replyErrors:     counter("reply_errors_total", "Total number of error replies received"),

		decodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "decode_errors_total",
			Help:        "Total number of decode failures by kind",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		bytesSent:     counter("bytes_sent_total", "Total bytes written to the connection"),
		bytesReceived: counter("bytes_received_total", "Total bytes read from the connection"),
	}
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
	m.activeSessions.Inc()
}

func (m *Metrics) sessionEnded(d time.Duration) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.sessionDuration.Observe(d.Seconds())
}

func (m *Metrics) sessionFailed(stage State) {
	if m == nil {
		return
	}
	m.sessionFailures.WithLabelValues(stage.String()).Inc()
}

func (m *Metrics) watchdogTripped() {
	if m == nil {
		return
	}
	m.watchdogTrips.Inc()
}

func (m *Metrics) reconnect() {
	if m == nil {
		return
	}
	m.reconnectsTotal.Inc()
}

func (m *Metrics) frameReceived() {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
}

func (m *Metrics) heartbeat() {
	if m == nil {
		return
	}
	m.heartbeatsTotal.Inc()
}

func (m *Metrics) publication() {
	if m == nil {
		return
	}
	m.publications.Inc()
}

func (m *Metrics) replyError() {
	if m == nil {
		return
	}
	m.replyErrors.Inc()
}

func (m *Metrics) decodeError(kind string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) sent(n int) {
	if m == nil {
		return
	}
	m.bytesSent.Add(float64(n))
}

func (m *Metrics) received(n int) {
	if m == nil {
		return
	}
	m.bytesReceived.Add(float64(n))
}
