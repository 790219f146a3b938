package protocol

import "strconv"

// ErrorCode identifies the type of error carried in a reply.
type ErrorCode uint32

const (
	ErrInternal              ErrorCode = 100 // Internal server error
	ErrUnauthorized          ErrorCode = 101 // Credential rejected
	ErrUnknownChannel        ErrorCode = 102 // Channel namespace not found
	ErrPermissionDenied      ErrorCode = 103 // Not allowed on this channel
	ErrMethodNotFound        ErrorCode = 104 // Command not supported
	ErrAlreadySubscribed     ErrorCode = 105 // Duplicate subscribe
	ErrLimitExceeded         ErrorCode = 106 // Server limit reached
	ErrBadRequest            ErrorCode = 107 // Malformed command
	ErrNotAvailable          ErrorCode = 108 // Feature disabled
	ErrTokenExpired          ErrorCode = 109 // Credential expired
	ErrExpired               ErrorCode = 110 // Connection expired
	ErrTooManyRequests       ErrorCode = 111 // Rate limited
	ErrUnrecoverablePosition ErrorCode = 112 // Stream position lost
)

// String returns the string representation of the error code.
func (ec ErrorCode) String() string {
	switch ec {
	case ErrInternal:
		return "Internal"
	case ErrUnauthorized:
		return "Unauthorized"
	case ErrUnknownChannel:
		return "UnknownChannel"
	case ErrPermissionDenied:
		return "PermissionDenied"
	case ErrMethodNotFound:
		return "MethodNotFound"
	case ErrAlreadySubscribed:
		return "AlreadySubscribed"
	case ErrLimitExceeded:
		return "LimitExceeded"
	case ErrBadRequest:
		return "BadRequest"
	case ErrNotAvailable:
		return "NotAvailable"
	case ErrTokenExpired:
		return "TokenExpired"
	case ErrExpired:
		return "Expired"
	case ErrTooManyRequests:
		return "TooManyRequests"
	case ErrUnrecoverablePosition:
		return "UnrecoverablePosition"
	default:
		return "Code(" + strconv.FormatUint(uint64(ec), 10) + ")"
	}
}

// Error is an error reply from the server. It answers one command and does
// not close the connection.
type Error struct {
	Code      ErrorCode // Error code
	Message   string    // Human-readable error message
	Temporary bool      // If true, the command may be retried
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Message
}
