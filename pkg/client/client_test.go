package client

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/pubsub/pkg/protocol"
)

// peer is the server side of one client connection.
type peer struct {
	t        *testing.T
	conn     *websocket.Conn
	splitter *protocol.Splitter
}

func newPeer(t *testing.T, conn *websocket.Conn) *peer {
	return &peer{t: t, conn: conn, splitter: protocol.NewSplitter(0)}
}

// readMessage returns the next binary message from the client.
func (p *peer) readMessage() []byte {
	p.t.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := p.conn.ReadMessage()
	if err != nil {
		p.t.Fatalf("server ReadMessage failed: %v", err)
	}
	return msg
}

// readCommand returns the next command sent by the client.
func (p *peer) readCommand() *protocol.Command {
	p.t.Helper()
	for {
		payload, ok, err := p.splitter.Next()
		if err != nil {
			p.t.Fatalf("command framing error: %v", err)
		}
		if ok {
			cmd, err := protocol.UnmarshalCommand(payload)
			if err != nil {
				p.t.Fatalf("UnmarshalCommand failed: %v", err)
			}
			return cmd
		}
		p.splitter.Feed(p.readMessage())
	}
}

// send writes replies as frames of a single message.
func (p *peer) send(replies ...*protocol.Reply) {
	p.t.Helper()
	enc := protocol.NewEncoder()
	for _, r := range replies {
		enc.WriteReply(r)
	}
	if err := p.conn.WriteMessage(websocket.BinaryMessage, enc.Bytes()); err != nil {
		p.t.Fatalf("server WriteMessage failed: %v", err)
	}
}

type publication struct {
	channel string
	data    string
}

func TestClientConnectSubscribeAndReceive(t *testing.T) {
	srv := newWSServer(t, false)
	cfg := testConfig(srv.URL)
	cfg.ClientVersion = "1.2.3"
	metrics := newTestMetrics()
	cfg.Metrics = metrics

	pubs := make(chan publication, 4)
	connected := make(chan string, 1)
	c, err := New(cfg,
		WithToken(func() string { return "secret" }),
		OnConnect(func(c *Client, res *protocol.ConnectResult) {
			connected <- res.Client
			if err := c.Subscribe("news"); err != nil {
				t.Errorf("Subscribe failed: %v", err)
			}
		}),
		OnPublication(func(channel string, data []byte) {
			pubs <- publication{channel, string(data)}
		}),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	p := newPeer(t, srv.accept(t))

	connect := p.readCommand()
	if connect.Connect == nil {
		t.Fatalf("first command = %+v, want connect", connect)
	}
	if connect.ID != 1 {
		t.Errorf("connect ID = %d, want 1", connect.ID)
	}
	if connect.Connect.Token != "secret" {
		t.Errorf("connect token = %q, want %q", connect.Connect.Token, "secret")
	}
	if connect.Connect.Name != "pubsub-go" || connect.Connect.Version != "1.2.3" {
		t.Errorf("connect name/version = %q/%q, want pubsub-go/1.2.3",
			connect.Connect.Name, connect.Connect.Version)
	}

	p.send(&protocol.Reply{ID: connect.ID, Connect: &protocol.ConnectResult{Client: "abc", Version: "5.4.0"}})
	select {
	case id := <-connected:
		if id != "abc" {
			t.Errorf("connected client = %q, want %q", id, "abc")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("OnConnect not called")
	}

	sub := p.readCommand()
	if sub.Subscribe == nil || sub.Subscribe.Channel != "news" {
		t.Fatalf("second command = %+v, want subscribe to news", sub)
	}
	if sub.ID != 2 {
		t.Errorf("subscribe ID = %d, want 2", sub.ID)
	}

	p.send(
		&protocol.Reply{ID: sub.ID, Subscribe: &protocol.SubscribeResult{}},
		&protocol.Reply{Push: &protocol.Push{Channel: "news", Pub: &protocol.Publication{Data: []byte("hello")}}},
		&protocol.Reply{Push: &protocol.Push{Channel: "news", Pub: &protocol.Publication{Data: []byte("world")}}},
	)
	for _, want := range []publication{{"news", "hello"}, {"news", "world"}} {
		select {
		case got := <-pubs:
			if got != want {
				t.Errorf("publication = %+v, want %+v", got, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("publication %+v not delivered", want)
		}
	}

	// Heartbeat: a lone zero-length frame is answered with a single 0x00.
	if err := p.conn.WriteMessage(websocket.BinaryMessage, []byte{0}); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	if got := p.readMessage(); !bytes.Equal(got, []byte{0}) {
		t.Errorf("heartbeat answer = %v, want [0]", got)
	}

	if got := c.State(); got != StateReady {
		t.Errorf("State() = %v, want %v", got, StateReady)
	}
	if got := c.SessionID(); got != "1" {
		t.Errorf("SessionID() = %q, want %q", got, "1")
	}
	if got := metricCounterValue(t, metrics.publications); got != 2 {
		t.Errorf("publications_total = %v, want 2", got)
	}
	if got := metricCounterValue(t, metrics.heartbeatsTotal); got != 1 {
		t.Errorf("heartbeats_total = %v, want 1", got)
	}

	c.Stop()
	if got := c.State(); got != StateClosed {
		t.Errorf("State() after Stop = %v, want %v", got, StateClosed)
	}
}

func TestClientReconnectKeepsMessageIDs(t *testing.T) {
	srv := newWSServer(t, false)

	var mu sync.Mutex
	var failures []*TransportError
	c, err := New(testConfig(srv.URL), OnError(func(err *TransportError) {
		mu.Lock()
		failures = append(failures, err)
		mu.Unlock()
	}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	first := newPeer(t, srv.accept(t))
	if cmd := first.readCommand(); cmd.ID != 1 {
		t.Errorf("first connect ID = %d, want 1", cmd.ID)
	}
	first.conn.Close()

	second := newPeer(t, srv.accept(t))
	if cmd := second.readCommand(); cmd.Connect == nil || cmd.ID != 2 {
		t.Errorf("second connect = %+v, want connect with ID 2", cmd)
	}
	if !waitFor(t, 2*time.Second, func() bool { return c.SessionID() == "2" }) {
		t.Errorf("SessionID() = %q, want %q", c.SessionID(), "2")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(failures) != 1 {
		t.Fatalf("OnError calls = %d, want 1", len(failures))
	}
	if failures[0].SessionID != "1" || failures[0].Stage != StateReady {
		t.Errorf("failure = %v, want session 1 failing in %v", failures[0], StateReady)
	}
}

func TestClientServerDisconnectReconnects(t *testing.T) {
	srv := newWSServer(t, false)
	c, err := New(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	first := newPeer(t, srv.accept(t))
	first.readCommand()
	first.send(&protocol.Reply{Push: &protocol.Push{
		Disconnect: &protocol.Disconnect{Code: 3001, Reason: "shutdown"},
	}})

	second := newPeer(t, srv.accept(t))
	if cmd := second.readCommand(); cmd.Connect == nil {
		t.Errorf("command after reconnect = %+v, want connect", cmd)
	}
}

func TestClientFramingErrorReachesErrorHook(t *testing.T) {
	srv := newWSServer(t, false)
	cfg := testConfig(srv.URL)
	cfg.MaxFrameSize = 16

	errs := make(chan *TransportError, 4)
	c, err := New(cfg, OnError(func(err *TransportError) {
		select {
		case errs <- err:
		default:
		}
	}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	p := newPeer(t, srv.accept(t))
	p.readCommand()
	// Declares a 1000 byte frame.
	if err := p.conn.WriteMessage(websocket.BinaryMessage, protocol.AppendUvarint(nil, 1000)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	select {
	case te := <-errs:
		if !errors.Is(te, protocol.ErrFrameTooLarge) {
			t.Errorf("error = %v, want ErrFrameTooLarge", te)
		}
		if !errors.Is(te, ErrDispatchStopped) {
			t.Errorf("error = %v, want ErrDispatchStopped", te)
		}
		if te.Code != websocket.CloseMessageTooBig {
			t.Errorf("Code = %d, want %d", te.Code, websocket.CloseMessageTooBig)
		}
		if te.SessionID != "1" || te.Stage != StateReady {
			t.Errorf("failure = %v, want session 1 failing in %v", te, StateReady)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("framing error not reported")
	}
}

func TestClientTokenHookPanic(t *testing.T) {
	srv := newWSServer(t, false)
	errs := make(chan *TransportError, 4)
	c, err := New(testConfig(srv.URL).WithReconnectDelay(10*time.Millisecond),
		WithToken(func() string { panic("no credentials") }),
		OnError(func(err *TransportError) {
			select {
			case errs <- err:
			default:
			}
		}),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	select {
	case err := <-errs:
		if !errors.Is(err, ErrSessionPanic) {
			t.Errorf("error = %v, want ErrSessionPanic", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("token hook panic not reported")
	}
}

func TestClientCommandsRequireSession(t *testing.T) {
	c, err := New(testConfig("ws://127.0.0.1:1/"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"subscribe", func() error { return c.Subscribe("news") }, ErrNotConnected},
		{"unsubscribe", func() error { return c.Unsubscribe("news") }, ErrNotConnected},
		{"publish", func() error { return c.Publish("news", []byte("x")) }, ErrNotConnected},
		{"subscribe empty", func() error { return c.Subscribe("") }, ErrEmptyChannel},
		{"publish empty", func() error { return c.Publish("", nil) }, ErrEmptyChannel},
	}
	for _, tt := range tests {
		if err := tt.call(); !errors.Is(err, tt.want) {
			t.Errorf("%s: error = %v, want %v", tt.name, err, tt.want)
		}
	}
	if got := c.State(); got != StateCreated {
		t.Errorf("State() = %v, want %v", got, StateCreated)
	}
	if got := c.SessionID(); got != "" {
		t.Errorf("SessionID() = %q, want empty", got)
	}
}

func TestClientNextMessageID(t *testing.T) {
	c, err := New(testConfig("ws://127.0.0.1:1/"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := c.NextMessageID(); got != 1 {
		t.Fatalf("first NextMessageID() = %d, want 1", got)
	}

	const goroutines, per = 8, 500
	ids := make(chan uint32, goroutines*per)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < per; j++ {
				ids <- c.NextMessageID()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint32]bool)
	for id := range ids {
		if id <= 1 {
			t.Errorf("id %d reissued", id)
		}
		if seen[id] {
			t.Errorf("duplicate id %d", id)
		}
		seen[id] = true
	}
}

func TestClientNew(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("New(nil) error = %v, want ErrInvalidConfig", err)
	}
	if _, err := New(DefaultConfig()); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("New(no URL) error = %v, want ErrInvalidConfig", err)
	}

	cfg := testConfig("ws://127.0.0.1:1/")
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	b, _ := New(cfg)
	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("client IDs = %q and %q, want distinct non-empty", a.ID(), b.ID())
	}

	cfg.URL = "ws://changed/"
	if a.config.URL == cfg.URL {
		t.Error("New did not copy the config")
	}
}

func TestClientStartStop(t *testing.T) {
	c, err := New(testConfig("ws://127.0.0.1:1/").WithReconnectDelay(10 * time.Millisecond))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	c.Stop() // no-op before Start

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start error = %v, want ErrAlreadyRunning", err)
	}

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	if err := c.Start(context.Background()); err != nil {
		t.Errorf("Start after Stop failed: %v", err)
	}
	c.Stop()

	// A run ended by its parent context can be started again without Stop.
	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()
	released := waitFor(t, 5*time.Second, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.done == nil && !c.running.Load()
	})
	if !released {
		t.Fatal("run did not end after its context was cancelled")
	}
	if err := c.Start(context.Background()); err != nil {
		t.Errorf("Start after context end failed: %v", err)
	}
	c.Stop()
}
