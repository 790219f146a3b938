package client

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/vango-dev/pubsub/pkg/protocol"
)

// Option configures a Client.
type Option func(*Client)

// WithToken sets the credential hook. It is called once per session, right
// before the connect command is sent.
func WithToken(fn func() string) Option {
	return func(c *Client) {
		c.token = fn
	}
}

// OnReady sets the hook called after a session is ready and the connect
// command has been sent.
func OnReady(fn func(c *Client)) Option {
	return func(c *Client) {
		c.onReady = fn
	}
}

// OnConnect sets the hook called when the server accepts the connect
// command. Subscriptions are usually issued from here.
func OnConnect(fn func(c *Client, res *protocol.ConnectResult)) Option {
	return func(c *Client) {
		c.onConnect = fn
	}
}

// OnPublication sets the hook called for every channel publication.
func OnPublication(fn func(channel string, data []byte)) Option {
	return func(c *Client) {
		c.onPublication = fn
	}
}

// OnError sets the hook called for every transport failure.
func OnError(fn func(err *TransportError)) Option {
	return func(c *Client) {
		c.onError = fn
	}
}

// Client stays connected to a pub/sub endpoint. Each connection attempt is
// a Session run by a Supervisor; hooks and the message id counter outlive
// sessions.
type Client struct {
	id      string
	config  *Config
	logger  *slog.Logger
	metrics *Metrics

	token         func() string
	onReady       func(c *Client)
	onConnect     func(c *Client, res *protocol.ConnectResult)
	onPublication func(channel string, data []byte)
	onError       func(err *TransportError)

	nextID     atomic.Uint32
	supervisor *Supervisor
	session    atomic.Pointer[Session]
	running    atomic.Bool

	mu     sync.Mutex // guards cancel, done
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a client. cfg is validated and copied.
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.Clone()

	c := &Client{
		id:      uuid.NewString(),
		config:  cfg,
		metrics: cfg.Metrics,
	}
	c.logger = cfg.logger().With("client_id", c.id)
	for _, opt := range opts {
		opt(c)
	}
	c.supervisor = NewSupervisor(c.newSession, cfg.ReconnectDelay, c.logger, c.metrics)
	return c, nil
}

// ID returns the client instance identifier.
func (c *Client) ID() string {
	return c.id
}

// State returns the state of the current session, or StateCreated before
// the first one.
func (c *Client) State() State {
	if s := c.session.Load(); s != nil {
		return s.State()
	}
	return StateCreated
}

// SessionID returns the id of the current session, or "" before the first one.
func (c *Client) SessionID() string {
	if s := c.session.Load(); s != nil {
		return s.ID()
	}
	return ""
}

// NextMessageID returns the next command id. The first id is 1.
func (c *Client) NextMessageID() uint32 {
	return c.nextID.Add(1)
}

// Run keeps the client connected until ctx is done. It blocks and never
// returns an error: failures are logged, reported to the error hook and
// followed by a new session.
func (c *Client) Run(ctx context.Context) {
	if !c.running.CompareAndSwap(false, true) {
		c.logger.Error("run error", "error", ErrAlreadyRunning)
		return
	}
	defer c.running.Store(false)

	c.logger.Info("client started", "url", c.config.URL)
	c.supervisor.Run(ctx)
	c.logger.Info("client stopped", "sessions", c.supervisor.Attempts())
}

// Start runs the client in a new goroutine. Stop ends it.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil || c.running.Load() {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	go func() {
		defer close(done)
		defer c.release(done)
		c.Run(ctx)
	}()
	return nil
}

// release forgets a run that ended on its own, so Start works again
// without a Stop. A run already taken over by Stop is left alone.
func (c *Client) release(done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done != done {
		return
	}
	c.cancel()
	c.cancel, c.done = nil, nil
}

// Stop sends a close frame on the current session, stops the supervisor and
// waits for it to return. Stop without Start is a no-op.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	if s := c.session.Load(); s != nil && s.beginClose() {
		s.sendClose()
	}
	cancel()
	<-done
}

// Subscribe asks the server for publications of channel.
func (c *Client) Subscribe(channel string) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	return c.send("subscribe", &protocol.Command{
		Subscribe: &protocol.SubscribeRequest{Channel: channel},
	})
}

// Unsubscribe stops publications of channel.
func (c *Client) Unsubscribe(channel string) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	return c.send("unsubscribe", &protocol.Command{
		Unsubscribe: &protocol.UnsubscribeRequest{Channel: channel},
	})
}

// Publish sends data to channel.
func (c *Client) Publish(channel string, data []byte) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	return c.send("publish", &protocol.Command{
		Publish: &protocol.PublishRequest{Channel: channel, Data: data},
	})
}

// send writes cmd on the current session.
func (c *Client) send(name string, cmd *protocol.Command) error {
	s := c.session.Load()
	if s == nil || s.State() != StateReady {
		return ErrNotConnected
	}
	return c.sendOn(s, name, cmd)
}

// sendOn assigns the next id to cmd and writes it. A failed write ends the
// session.
func (c *Client) sendOn(s *Session, name string, cmd *protocol.Command) error {
	cmd.ID = c.NextMessageID()
	frame := protocol.Serialize(protocol.MarshalCommand(cmd))
	if err := s.Write(frame); err != nil {
		c.logger.Error("command write error",
			"command", name,
			"id", cmd.ID,
			"session_id", s.ID(),
			"error", err)
		s.abort(err)
		return &CommandError{ID: cmd.ID, Command: name, Err: err}
	}
	c.logger.Debug("command sent", "command", name, "id", cmd.ID, "session_id", s.ID())
	return nil
}

// newSession is the supervisor's factory. Every session gets its own
// dispatcher, so a partial frame never leaks into the next connection.
func (c *Client) newSession(id string) Runner {
	var s *Session
	dispatcher := NewDispatcher(c.config.MaxFrameSize, Routes{
		Heartbeat: func() error {
			return s.Write([]byte{0})
		},
		Connected: func(res *protocol.ConnectResult) {
			if c.onConnect != nil {
				c.onConnect(c, res)
			}
		},
		Publication: c.onPublication,
		Disconnect: func(d *protocol.Disconnect) {
			s.abort(fmt.Errorf("client: server disconnect %d: %s", d.Code, d.Reason))
		},
	}, c.logger.With("session_id", id), c.metrics)

	s = NewSession(id, c.config, SessionHandler{
		OnReady: c.sessionReady,
		OnMessage: func(_ *Session, data []byte) error {
			return dispatcher.Handle(data)
		},
		OnError: func(_ *Session, err *TransportError) {
			if c.onError != nil {
				c.safely("error", func() { c.onError(err) })
			}
		},
	})
	s.clientID = c.id
	c.session.Store(s)
	return s
}

// sessionReady authenticates a fresh session and hands it to the ready hook.
func (c *Client) sessionReady(s *Session) error {
	token, err := c.credential()
	if err != nil {
		return err
	}
	err = c.sendOn(s, "connect", &protocol.Command{
		Connect: &protocol.ConnectRequest{
			Token:   token,
			Name:    c.config.ClientName,
			Version: c.config.ClientVersion,
		},
	})
	if err != nil {
		return err
	}
	if c.onReady != nil {
		c.safely("ready", func() { c.onReady(c) })
	}
	return nil
}

// safely runs a user hook, logging a panic instead of ending the session.
func (c *Client) safely(hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("hook panic",
				"hook", hook,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}

// credential calls the token hook. A panic fails the session.
func (c *Client) credential() (token string, err error) {
	if c.token == nil {
		return "", nil
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("token hook panic",
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("%w: token hook: %v", ErrSessionPanic, r)
		}
	}()
	return c.token(), nil
}
