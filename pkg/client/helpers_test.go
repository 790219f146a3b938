package client

import (
	"crypto/tls"
	"crypto/x509"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// wsServer accepts WebSocket upgrades and hands the server side of every
// connection to the test.
type wsServer struct {
	*httptest.Server
	conns chan *websocket.Conn
}

func newWSServer(t *testing.T, secure bool) *wsServer {
	t.Helper()

	upgrader := websocket.Upgrader{
		CheckOrigin:  func(*http.Request) bool { return true },
		Subprotocols: []string{DefaultSubprotocol},
	}
	ws := &wsServer{conns: make(chan *websocket.Conn, 16)}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		select {
		case ws.conns <- c:
		default:
			_ = c.Close()
		}
	})
	if secure {
		ws.Server = httptest.NewTLSServer(handler)
	} else {
		ws.Server = httptest.NewServer(handler)
	}
	t.Cleanup(ws.Close)
	return ws
}

// accept waits for the next upgraded connection.
func (ws *wsServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-ws.conns:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a connection")
		return nil
	}
}

// rootCAs trusts the certificate of a TLS test server.
func (ws *wsServer) rootCAs() *tls.Config {
	pool := x509.NewCertPool()
	pool.AddCert(ws.Certificate())
	return &tls.Config{RootCAs: pool}
}

func testConfig(url string) *Config {
	cfg := DefaultConfig().WithURL(url).WithLogger(testLogger())
	cfg.HandshakeTimeout = 5 * time.Second
	return cfg
}

// stateRecorder collects OnStateChange transitions.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(_ *Session, st State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, st)
}

func (r *stateRecorder) get() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func metricCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	if m.Counter == nil {
		t.Fatal("expected counter metric to have Counter field")
	}
	return m.GetCounter().GetValue()
}

func newTestMetrics() *Metrics {
	return NewMetrics(WithRegistry(prometheus.NewRegistry()))
}
