package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vango-dev/pubsub/internal/config"
	"github.com/vango-dev/pubsub/internal/errors"
	"github.com/vango-dev/pubsub/pkg/client"
	"github.com/vango-dev/pubsub/pkg/protocol"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.ConfigFileName)
	body := `
url = "wss://file.example/ws"
token = "file-token"
channels = ["from-file"]

[log]
level = "debug"
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := loadConfig(runOptions{
		configPath:  path,
		url:         "wss://flag.example/ws",
		channels:    []string{"a", "b"},
		metricsAddr: ":9100",
		logFormat:   "json",
		insecure:    true,
	})
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}

	if cfg.URL != "wss://flag.example/ws" {
		t.Errorf("URL = %q, want the flag value", cfg.URL)
	}
	if cfg.Token != "file-token" {
		t.Errorf("Token = %q, want the file value", cfg.Token)
	}
	if strings.Join(cfg.Channels, ",") != "a,b" {
		t.Errorf("Channels = %v, want [a b]", cfg.Channels)
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want :9100", cfg.Metrics.Addr)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v, want debug/json", cfg.Log)
	}
	if !cfg.InsecureSkipVerify {
		t.Error("InsecureSkipVerify = false, want true")
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		opts runOptions
		code string
	}{
		{"no url", runOptions{}, "E104"},
		{"missing file", runOptions{configPath: filepath.Join(t.TempDir(), "none.toml")}, "E101"},
		{"bad level", runOptions{url: "ws://h/", logLevel: "loud"}, "E106"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(tt.opts)
			if !errors.HasCode(err, tt.code) {
				t.Errorf("loadConfig() error = %v, want code %s", err, tt.code)
			}
		})
	}
}

type fakeStatus struct {
	state client.State
}

func (f fakeStatus) ID() string          { return "client-1" }
func (f fakeStatus) State() client.State { return f.state }
func (f fakeStatus) SessionID() string   { return "7" }

func TestHealthz(t *testing.T) {
	tests := []struct {
		state client.State
		code  int
	}{
		{client.StateReady, http.StatusOK},
		{client.StateConnecting, http.StatusServiceUnavailable},
		{client.StateClosed, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			h := newRouter(prometheus.NewRegistry(), fakeStatus{state: tt.state})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			if rec.Code != tt.code {
				t.Errorf("status = %d, want %d", rec.Code, tt.code)
			}
			var body healthResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("body %q: %v", rec.Body.String(), err)
			}
			if body.State != tt.state.String() || body.ClientID != "client-1" || body.SessionID != "7" {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	client.NewMetrics(client.WithRegistry(reg), client.WithNamespace("tailtest"))

	h := newRouter(reg, fakeStatus{state: client.StateReady})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "tailtest_client_sessions_total") {
		t.Errorf("metrics output missing sessions_total:\n%s", rec.Body.String())
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	dir := t.TempDir()

	path, err := writeDefaultConfig(dir, "wss://example.com/ws", false)
	if err != nil {
		t.Fatalf("writeDefaultConfig failed: %v", err)
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile(%s) failed: %v", path, err)
	}
	if cfg.URL != "wss://example.com/ws" {
		t.Errorf("URL = %q", cfg.URL)
	}

	if _, err := writeDefaultConfig(dir, "", false); err == nil {
		t.Error("second write without force succeeded, want error")
	}
	if _, err := writeDefaultConfig(dir, "", true); err != nil {
		t.Errorf("write with force error = %v", err)
	}
}

func TestPrintVersion(t *testing.T) {
	var buf bytes.Buffer
	printVersion(&buf, true)
	if got := buf.String(); got != version+"\n" {
		t.Errorf("short version = %q, want %q", got, version+"\n")
	}

	buf.Reset()
	printVersion(&buf, false)
	if !strings.Contains(buf.String(), client.DefaultSubprotocol) {
		t.Errorf("version output missing subprotocol:\n%s", buf.String())
	}
}

// pubServer accepts one client, answers connect and subscribe and then
// publishes "hello" on every subscribed channel.
func pubServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{Subprotocols: []string{client.DefaultSubprotocol}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		splitter := protocol.NewSplitter(0)
		for {
			payload, ok, err := splitter.Next()
			if err != nil {
				return
			}
			if !ok {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				splitter.Feed(msg)
				continue
			}
			cmd, err := protocol.UnmarshalCommand(payload)
			if err != nil {
				return
			}

			enc := protocol.NewEncoder()
			switch {
			case cmd.Connect != nil:
				enc.WriteReply(&protocol.Reply{ID: cmd.ID, Connect: &protocol.ConnectResult{Client: "srv-1"}})
			case cmd.Subscribe != nil:
				enc.WriteReply(&protocol.Reply{ID: cmd.ID, Subscribe: &protocol.SubscribeResult{}})
				enc.WriteReply(&protocol.Reply{Push: &protocol.Push{
					Channel: cmd.Subscribe.Channel,
					Pub:     &protocol.Publication{Data: []byte("hello")},
				}})
			default:
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, enc.Bytes()); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunTail(t *testing.T) {
	srv := pubServer(t)

	cfg := config.New()
	cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.Channels = []string{"news", "alerts"}
	cfg.Metrics.Addr = "127.0.0.1:0"

	out := &lockedBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runTail(ctx, cfg, out, io.Discard) }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s := out.String()
		if strings.Contains(s, "news\thello\n") && strings.Contains(s, "alerts\thello\n") {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if s := out.String(); !strings.Contains(s, "news\thello\n") || !strings.Contains(s, "alerts\thello\n") {
		t.Errorf("output = %q, want a line per channel", s)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("runTail() error = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runTail did not return after cancel")
	}
}

func TestRunTailTokenEnvMissing(t *testing.T) {
	cfg := config.New()
	cfg.URL = "ws://127.0.0.1:1/ws"
	cfg.TokenEnv = "PUBSUB_TAIL_MISSING_TOKEN"
	t.Setenv("PUBSUB_TAIL_MISSING_TOKEN", "")

	err := runTail(context.Background(), cfg, io.Discard, io.Discard)
	if !errors.HasCode(err, "E105") {
		t.Errorf("runTail() error = %v, want E105", err)
	}
}
