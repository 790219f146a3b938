package protocol

// MaxVarintLen is the maximum number of bytes a varint can occupy.
// A uint64 requires at most 10 bytes.
const MaxVarintLen = 10

// Negative byte counts returned by DecodeUvarint.
const (
	varintIncomplete = -1
	varintOverflow   = -2
)

// EncodeUvarint writes v into buf as a base-128 varint and returns the number
// of bytes written. Each byte carries 7 value bits, low group first; the high
// bit marks that another byte follows.
// buf must have at least UvarintLen(v) bytes available.
func EncodeUvarint(buf []byte, v uint64) int {
	i := 0
	for v >= 0x80 {
		buf[i] = byte(v) | 0x80
		v >>= 7
		i++
	}
	buf[i] = byte(v)
	return i + 1
}

// AppendUvarint appends the varint encoding of v to dst.
func AppendUvarint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// DecodeUvarint decodes an unsigned varint from the start of buf.
// Returns (value, bytesRead). If bytesRead < 0, decoding failed:
//   - -1: buffer ends before the terminating byte
//   - -2: more than MaxVarintLen bytes, or the value exceeds 64 bits
func DecodeUvarint(buf []byte) (uint64, int) {
	var v uint64
	var shift uint

	for i, b := range buf {
		if i == MaxVarintLen {
			return 0, varintOverflow
		}
		if i == MaxVarintLen-1 && b > 1 {
			return 0, varintOverflow
		}
		v |= uint64(b&0x7F) << shift
		if b < 0x80 {
			return v, i + 1
		}
		shift += 7
	}
	return 0, varintIncomplete
}

// UvarintLen returns the number of bytes needed to encode v as a varint.
func UvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		n++
		v >>= 7
	}
	return n
}
