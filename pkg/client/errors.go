package client

import (
	"errors"
	"fmt"
	"net/http"
	"syscall"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/pubsub/pkg/protocol"
)

// Sentinel errors for common client and session conditions.
var (
	// ErrInvalidConfig is returned when a Config fails validation.
	ErrInvalidConfig = errors.New("client: invalid config")

	// ErrNotConnected is returned when a command is sent without a ready session.
	ErrNotConnected = errors.New("client: not connected")

	// ErrSessionStarted is returned when Run is called twice on one session.
	ErrSessionStarted = errors.New("client: session already started")

	// ErrSessionClosed is the cause of a session stopped by Close.
	ErrSessionClosed = errors.New("client: session closed")

	// ErrWatchdogTimeout is the cause of a session stopped for inactivity.
	ErrWatchdogTimeout = errors.New("client: watchdog timeout")

	// ErrDispatchStopped is returned when the message handler refuses further reads.
	ErrDispatchStopped = errors.New("client: dispatch stopped")

	// ErrSessionPanic wraps a panic that escaped a session run.
	ErrSessionPanic = errors.New("client: session panic")

	// ErrAlreadyRunning is returned when Start is called on a running client.
	ErrAlreadyRunning = errors.New("client: already running")

	// ErrEmptyChannel is returned when a channel name is empty.
	ErrEmptyChannel = errors.New("client: empty channel")
)

// TransportError reports a failure of one session together with the state
// it was in and a numeric code.
//
// Code is the WebSocket close code for a closed connection, the HTTP status
// of a rejected upgrade, or the OS errno of a socket failure. It is zero when
// none applies.
type TransportError struct {
	SessionID string
	Stage     State // State in which the failure happened
	Code      int
	Err       error // Underlying error
}

// Error returns the error message with session context.
func (e *TransportError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("client: session %s: %s: code %d: %v", e.SessionID, e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("client: session %s: %s: %v", e.SessionID, e.Stage, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// newTransportError builds a TransportError. resp is the upgrade response,
// if any.
func newTransportError(sessionID string, stage State, err error, resp *http.Response) *TransportError {
	return &TransportError{
		SessionID: sessionID,
		Stage:     stage,
		Code:      errorCode(err, resp),
		Err:       err,
	}
}

func errorCode(err error, resp *http.Response) int {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code
	}
	if resp != nil && errors.Is(err, websocket.ErrBadHandshake) {
		return resp.StatusCode
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	switch {
	case errors.Is(err, protocol.ErrFrameTooLarge):
		return websocket.CloseMessageTooBig
	case errors.Is(err, protocol.ErrLengthOverflow):
		return websocket.CloseProtocolError
	}
	return 0
}

// CommandError wraps a command that could not be written.
type CommandError struct {
	ID      uint32
	Command string // "connect", "subscribe", ...
	Err     error
}

// Error returns the error message.
func (e *CommandError) Error() string {
	return fmt.Sprintf("client: %s command %d: %v", e.Command, e.ID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *CommandError) Unwrap() error {
	return e.Err
}
