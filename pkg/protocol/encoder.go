package protocol

// Encoder batches length-prefixed frames into one buffer, the way a server
// packs several replies into a single WebSocket message. The client sends
// one frame per message with Serialize; Encoder serves server-side peers
// such as test servers. The receiving Splitter yields the frames back in
// order.
//
// Unlike Serialize, WriteFrame encodes an empty payload as a zero-length
// heartbeat frame.
type Encoder struct {
	buf []byte
}

// NewEncoder creates a new encoder with a default initial capacity.
func NewEncoder() *Encoder {
	return &Encoder{
		buf: make([]byte, 0, 256),
	}
}

// NewEncoderWithCap creates a new encoder with the specified initial capacity.
func NewEncoderWithCap(cap int) *Encoder {
	return &Encoder{
		buf: make([]byte, 0, cap),
	}
}

// Reset resets the encoder to empty state, reusing the underlying buffer.
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
}

// Bytes returns the encoded bytes. The returned slice is valid until
// the next call to Reset or any Write method.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Len returns the number of bytes currently encoded.
func (e *Encoder) Len() int {
	return len(e.buf)
}

// WriteFrame appends one frame: varint length followed by the payload.
// An empty payload appends a single zero byte, the heartbeat frame a server
// sends. Serialize drops empty payloads instead.
func (e *Encoder) WriteFrame(payload []byte) {
	e.buf = AppendUvarint(e.buf, uint64(len(payload)))
	e.buf = append(e.buf, payload...)
}

// WriteCommand encodes c and appends it as one frame.
func (e *Encoder) WriteCommand(c *Command) {
	e.WriteFrame(MarshalCommand(c))
}

// WriteReply encodes r and appends it as one frame.
func (e *Encoder) WriteReply(r *Reply) {
	e.WriteFrame(MarshalReply(r))
}
