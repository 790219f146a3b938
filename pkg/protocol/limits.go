package protocol

// Size limits applied while decoding untrusted input.
const (
	// DefaultMaxFrameSize bounds the declared payload length of one frame (4MB).
	// A larger length prefix is treated as a corrupt stream.
	DefaultMaxFrameSize = 4 * 1024 * 1024
)
