package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// SessionHandler receives the events of one session. Nil fields are skipped.
type SessionHandler struct {
	// OnReady runs on the session goroutine after the WebSocket upgrade and
	// before the first read. An error ends the session.
	OnReady func(s *Session) error

	// OnMessage receives every data message on the session goroutine.
	// A non-nil error stops reading and ends the session with that error
	// wrapped in ErrDispatchStopped. A panic is recovered and logged, and
	// reading continues.
	OnMessage func(s *Session, data []byte) error

	// OnError receives every transport failure. It may be called from the
	// session goroutine and from async write goroutines.
	OnError func(s *Session, err *TransportError)

	// OnStateChange observes lifecycle transitions.
	OnStateChange func(s *Session, st State)
}

// Session is one WebSocket connection attempt and its lifetime. It is not
// reused: a reconnect creates a new Session with a new ID.
//
// One goroutine calls Run; Write, WriteAsync, PingAsync and Close may be
// called from any goroutine. Data writes are serialized by a write mutex and
// control frames by a separate ping mutex, so a ping never waits behind a
// slow data write.
type Session struct {
	id       string
	clientID string
	config   *Config
	handler  SessionHandler
	logger   *slog.Logger
	metrics  *Metrics

	state    atomic.Int32
	started  atomic.Bool
	activity Activity

	mu     sync.Mutex // guards conn, cancel, cause
	conn   *websocket.Conn
	cancel context.CancelCauseFunc
	cause  error

	writeMu sync.Mutex
	pingMu  sync.Mutex
	backlog *writeQueue
}

// NewSession creates a session in StateCreated. cfg is used as is and must
// not be modified afterwards.
func NewSession(id string, cfg *Config, handler SessionHandler) *Session {
	s := &Session{
		id:      id,
		config:  cfg,
		handler: handler,
		logger:  cfg.logger().With("session_id", id),
		metrics: cfg.Metrics,
		backlog: newWriteQueue(),
	}
	s.state.Store(int32(StateCreated))
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// LastActivity returns the monotonic millisecond timestamp of the last read
// or control frame.
func (s *Session) LastActivity() int64 {
	return s.activity.Last()
}

// Run connects, performs the handshakes, calls OnReady and reads until the
// connection fails, the watchdog trips, Close is called or ctx is done.
// It returns the reason the session ended: a *TransportError for failures,
// ErrSessionClosed or the context error otherwise. Run never retries.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrSessionStarted
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	s.bind(cancel)

	ctx, span := startSessionSpan(ctx, s.config, s.clientID, s.id)

	start := time.Now()
	s.metrics.sessionStarted()
	defer func() {
		s.metrics.sessionEnded(time.Since(start))
	}()

	// Unblock a pending read when the context ends.
	stop := context.AfterFunc(ctx, s.closeConn)
	defer stop()
	defer s.closeConn()

	s.activity.Touch()
	watchdog := NewWatchdog(s.config.watchdogTimeout(), &s.activity, func() {
		s.metrics.watchdogTripped()
		s.logger.Warn("watchdog timeout",
			"idle", s.activity.Idle(),
			"state", s.State())
		s.abort(ErrWatchdogTimeout)
	})
	go watchdog.Run(ctx)

	resp, err := s.serve(ctx)
	err = s.finish(ctx, err, resp)
	endSessionSpan(span, s.State(), err)
	return err
}

// serve dials and then reads until the connection ends.
func (s *Session) serve(ctx context.Context) (*http.Response, error) {
	endpoint, err := s.config.dialURL()
	if err != nil {
		return nil, err
	}

	conn, resp, err := s.dialer().DialContext(ctx, endpoint, s.config.Header)
	if err != nil {
		return resp, err
	}
	if !s.attach(ctx, conn) {
		return nil, context.Cause(ctx)
	}

	if s.config.MaxMessageSize > 0 {
		conn.SetReadLimit(s.config.MaxMessageSize)
	}
	conn.SetPingHandler(func(data string) error {
		s.activity.Touch()
		s.pongAsync([]byte(data))
		return nil
	})
	conn.SetPongHandler(func(string) error {
		s.activity.Touch()
		return nil
	})

	s.enter(ctx, StateReady)
	if s.config.Subprotocol != "" && conn.Subprotocol() != s.config.Subprotocol {
		s.logger.Warn("subprotocol not accepted",
			"offered", s.config.Subprotocol,
			"accepted", conn.Subprotocol())
	}
	s.logger.Info("session ready", "remote", conn.RemoteAddr().String())

	if s.handler.OnReady != nil {
		if err := s.handler.OnReady(s); err != nil {
			return nil, err
		}
	}

	return nil, s.readLoop(conn)
}

// readLoop keeps exactly one read outstanding. The next read starts only
// after the previous message has been handled.
func (s *Session) readLoop(conn *websocket.Conn) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				s.logger.Debug("read error", "error", err)
			}
			return err
		}

		// Update activity
		s.activity.Touch()
		s.metrics.received(len(msg))

		if err := s.deliver(msg); err != nil {
			return fmt.Errorf("%w: %w", ErrDispatchStopped, err)
		}
	}
}

// deliver hands msg to OnMessage, recovering a panic.
func (s *Session) deliver(msg []byte) (err error) {
	if s.handler.OnMessage == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("message handler panic",
				"panic", r,
				"stack", string(debug.Stack()))
			err = nil
		}
	}()
	return s.handler.OnMessage(s, msg)
}

// finish settles the final state and reports failures.
func (s *Session) finish(ctx context.Context, err error, resp *http.Response) error {
	stage := s.State()

	if stage == StateClosing && ctx.Err() == nil {
		// The peer answered our close frame before the context ended.
		s.setState(StateClosed)
		s.logger.Info("session closed", "reason", err)
		return ErrSessionClosed
	}
	if ctx.Err() != nil {
		err = context.Cause(ctx)
		if errors.Is(err, ErrSessionClosed) ||
			errors.Is(err, context.Canceled) ||
			errors.Is(err, context.DeadlineExceeded) {
			s.setState(StateClosed)
			s.logger.Info("session closed", "reason", err)
			return err
		}
	}
	if err == nil {
		err = ErrDispatchStopped
	}

	te := newTransportError(s.id, stage, err, resp)
	s.setState(StateErrored)
	s.metrics.sessionFailed(stage)
	s.logger.Error("session error",
		"stage", stage,
		"code", te.Code,
		"error", err)
	s.report(te)
	return te
}

// Write sends data as one binary message and blocks until it is flushed.
// Concurrent writers are serialized. The caller decides whether a failure
// ends the session.
func (s *Session) Write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn := s.connection()
	if conn == nil {
		return ErrNotConnected
	}

	conn.SetWriteDeadline(s.config.writeDeadline())
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return err
	}
	s.metrics.sent(len(data))
	return nil
}

// WriteAsync queues data and returns immediately. Queued messages are sent
// in order under the write mutex. A failure drops the rest of the queue and
// ends the session, which reports it to OnError once.
func (s *Session) WriteAsync(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	if s.backlog.push(buf) {
		go s.flush()
	}
}

// flush drains the backlog. Only one flush runs at a time.
func (s *Session) flush() {
	for {
		data, ok := s.backlog.pop()
		if !ok {
			return
		}
		if err := s.Write(data); err != nil {
			dropped := s.backlog.discard()
			s.logger.Error("write error", "error", err, "dropped", dropped)
			// Run reports the abort cause to OnError.
			s.abort(err)
		}
	}
}

// Pending returns the number of WriteAsync messages not yet written.
func (s *Session) Pending() int {
	return s.backlog.len()
}

// PingAsync sends a WebSocket ping with data (at most 125 bytes) without
// blocking. Pings are serialized with each other but not with data writes.
// A failure is reported to OnError.
func (s *Session) PingAsync(data []byte) {
	s.controlAsync(websocket.PingMessage, data)
}

func (s *Session) pongAsync(data []byte) {
	s.controlAsync(websocket.PongMessage, data)
}

func (s *Session) controlAsync(messageType int, data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	go func() {
		if err := s.writeControl(messageType, buf); err != nil {
			if errors.Is(err, websocket.ErrCloseSent) {
				return
			}
			s.logger.Error("control write error", "type", messageType, "error", err)
			s.report(newTransportError(s.id, s.State(), err, nil))
		}
	}()
}

func (s *Session) writeControl(messageType int, data []byte) error {
	s.pingMu.Lock()
	defer s.pingMu.Unlock()

	conn := s.connection()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteControl(messageType, data, s.config.writeDeadline())
}

// Close sends a normal closure frame when connected and stops the session.
// Run returns ErrSessionClosed. Close is idempotent.
func (s *Session) Close() error {
	if !s.beginClose() {
		return nil
	}
	s.sendClose()
	s.abort(ErrSessionClosed)
	return nil
}

// beginClose moves to StateClosing. It reports false when the session is
// already closing or finished.
func (s *Session) beginClose() bool {
	for {
		cur := s.State()
		if cur == StateClosing || cur.Terminal() {
			return false
		}
		if s.state.CompareAndSwap(int32(cur), int32(StateClosing)) {
			break
		}
	}
	if s.handler.OnStateChange != nil {
		s.handler.OnStateChange(s, StateClosing)
	}
	return true
}

func (s *Session) sendClose() {
	if s.connection() == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := s.writeControl(websocket.CloseMessage, msg); err != nil {
		s.logger.Debug("close frame error", "error", err)
	}
}

// abort stops the session with cause. The first cause wins.
func (s *Session) abort(cause error) {
	s.mu.Lock()
	if s.cause == nil {
		s.cause = cause
	}
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel(cause)
	}
	s.closeConn()
}

// bind installs the cancel function of a running session. A cause recorded
// before Run started is applied immediately.
func (s *Session) bind(cancel context.CancelCauseFunc) {
	s.mu.Lock()
	s.cancel = cancel
	cause := s.cause
	s.mu.Unlock()

	if cause != nil {
		cancel(cause)
	}
}

// attach publishes a dialed connection unless the session was stopped
// while dialing, in which case conn is closed.
func (s *Session) attach(ctx context.Context, conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cause != nil || ctx.Err() != nil {
		conn.Close()
		return false
	}
	s.conn = conn
	return true
}

func (s *Session) connection() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Session) closeConn() {
	if conn := s.connection(); conn != nil {
		conn.Close()
	}
}

func (s *Session) report(te *TransportError) {
	if s.handler.OnError != nil {
		s.handler.OnError(s, te)
	}
}

// enter moves to next unless the session is already closing or finished.
func (s *Session) enter(ctx context.Context, next State) {
	for {
		cur := State(s.state.Load())
		if cur == StateClosing || cur.Terminal() {
			return
		}
		if s.state.CompareAndSwap(int32(cur), int32(next)) {
			break
		}
	}
	stateEvent(ctx, next)
	s.logger.Debug("state", "state", next)
	if s.handler.OnStateChange != nil {
		s.handler.OnStateChange(s, next)
	}
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	if s.handler.OnStateChange != nil {
		s.handler.OnStateChange(s, st)
	}
}
