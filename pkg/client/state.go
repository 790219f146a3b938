package client

// State is the lifecycle state of a session.
//
//	Created → Resolving → Connecting → SecureHandshaking → ProtocolHandshaking → Ready → Closing → Closed
//
// SecureHandshaking is skipped for ws:// endpoints. Errored is entered from
// any non-terminal state when the session fails.
type State int32

const (
	StateCreated State = iota
	StateResolving
	StateConnecting
	StateSecureHandshaking
	StateProtocolHandshaking
	StateReady
	StateClosing
	StateClosed
	StateErrored
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateResolving:
		return "resolving"
	case StateConnecting:
		return "connecting"
	case StateSecureHandshaking:
		return "secure_handshaking"
	case StateProtocolHandshaking:
		return "protocol_handshaking"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateErrored
}
