package protocol

import (
	"errors"
)

// Frame errors.
var (
	ErrShortBuffer    = errors.New("protocol: incomplete length prefix")
	ErrLengthOverflow = errors.New("protocol: length prefix overflows 64 bits")
	ErrFrameTooLarge  = errors.New("protocol: frame payload too large")
)

// EncodeLength writes the varint length prefix n into buf and returns the
// number of bytes written. buf must have at least UvarintLen(n) bytes.
func EncodeLength(buf []byte, n uint64) int {
	return EncodeUvarint(buf, n)
}

// DecodeLength decodes the length prefix at the start of buf.
// It returns the payload length and the number of prefix bytes consumed.
// ErrShortBuffer means buf ends inside the prefix and more bytes are needed.
func DecodeLength(buf []byte) (uint64, int, error) {
	n, size := DecodeUvarint(buf)
	switch size {
	case varintIncomplete:
		return 0, 0, ErrShortBuffer
	case varintOverflow:
		return 0, 0, ErrLengthOverflow
	}
	return n, size, nil
}

// Serialize returns payload prefixed with its varint length.
// An empty payload yields an empty result: only the peer emits zero-length
// heartbeat frames.
func Serialize(payload []byte) []byte {
	if len(payload) == 0 {
		return []byte{}
	}
	buf := make([]byte, 0, UvarintLen(uint64(len(payload)))+len(payload))
	buf = AppendUvarint(buf, uint64(len(payload)))
	return append(buf, payload...)
}

// Splitter cuts a byte stream into frames. Bytes are fed in the chunks they
// arrive in; a frame split across two chunks is held until it is complete.
//
// Splitter is not safe for concurrent use. It belongs to the single reader.
type Splitter struct {
	buf     []byte
	off     int
	maxSize uint64
}

// NewSplitter creates a splitter that rejects frames larger than maxFrameSize.
// A non-positive maxFrameSize selects DefaultMaxFrameSize.
func NewSplitter(maxFrameSize int) *Splitter {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Splitter{maxSize: uint64(maxFrameSize)}
}

// Feed appends data to the pending bytes. Payloads returned by Next before
// this call are no longer valid.
func (s *Splitter) Feed(data []byte) {
	if s.off > 0 {
		n := copy(s.buf, s.buf[s.off:])
		s.buf = s.buf[:n]
		s.off = 0
	}
	s.buf = append(s.buf, data...)
}

// Next returns the next complete frame payload.
// ok is false when the pending bytes do not hold a complete frame yet.
// A zero-length payload with ok true is the heartbeat frame.
// A non-nil error means the stream cannot be resynchronized.
func (s *Splitter) Next() (payload []byte, ok bool, err error) {
	rest := s.buf[s.off:]
	if len(rest) == 0 {
		return nil, false, nil
	}

	n, size, err := DecodeLength(rest)
	if errors.Is(err, ErrShortBuffer) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if n > s.maxSize {
		return nil, false, ErrFrameTooLarge
	}
	if uint64(len(rest)-size) < n {
		return nil, false, nil
	}

	end := size + int(n)
	payload = rest[size:end:end]
	s.off += end
	return payload, true, nil
}

// Buffered returns the number of bytes not yet consumed by Next.
func (s *Splitter) Buffered() int {
	return len(s.buf) - s.off
}

// Reset discards all pending bytes.
func (s *Splitter) Reset() {
	s.buf = s.buf[:0]
	s.off = 0
}
