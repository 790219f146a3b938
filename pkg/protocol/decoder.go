package protocol

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed reports a payload that is not a valid protobuf message.
var ErrMalformed = errors.New("protocol: malformed message")

// Decoder walks the fields of one protobuf message.
//
// Typical use:
//
//	d := NewDecoder(payload)
//	for d.Next() {
//	    switch d.Field() {
//	    case 1:
//	        id = d.ReadUint32()
//	    default:
//	        d.Skip()
//	    }
//	}
//	if err := d.Err(); err != nil { ... }
//
// A field whose wire type does not match the accessor is skipped and the
// accessor returns the zero value, so newer peers can change field types
// without breaking older readers.
type Decoder struct {
	buf []byte
	num protowire.Number
	typ protowire.Type
	err error
}

// NewDecoder creates a new decoder over buf. buf is not copied.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Next advances to the next field. It returns false at the end of the
// message or after an error.
func (d *Decoder) Next() bool {
	if d.err != nil || len(d.buf) == 0 {
		return false
	}
	num, typ, n := protowire.ConsumeTag(d.buf)
	if n < 0 {
		d.fail(n)
		return false
	}
	d.buf = d.buf[n:]
	d.num, d.typ = num, typ
	return true
}

// Field returns the number of the current field.
func (d *Decoder) Field() protowire.Number {
	return d.num
}

// Err returns the first decoding error.
func (d *Decoder) Err() error {
	return d.err
}

// Skip discards the value of the current field.
func (d *Decoder) Skip() {
	n := protowire.ConsumeFieldValue(d.num, d.typ, d.buf)
	if n < 0 {
		d.fail(n)
		return
	}
	d.buf = d.buf[n:]
}

// ReadUint64 reads the current field as a varint.
func (d *Decoder) ReadUint64() uint64 {
	if d.typ != protowire.VarintType {
		d.Skip()
		return 0
	}
	v, n := protowire.ConsumeVarint(d.buf)
	if n < 0 {
		d.fail(n)
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

// ReadUint32 reads the current field as a 32-bit varint.
func (d *Decoder) ReadUint32() uint32 {
	return uint32(d.ReadUint64())
}

// ReadBool reads the current field as a boolean varint.
func (d *Decoder) ReadBool() bool {
	return protowire.DecodeBool(d.ReadUint64())
}

// ReadRaw reads the current length-delimited field without copying.
// The result aliases the decoder's buffer; use it for nested messages.
func (d *Decoder) ReadRaw() []byte {
	if d.typ != protowire.BytesType {
		d.Skip()
		return nil
	}
	v, n := protowire.ConsumeBytes(d.buf)
	if n < 0 {
		d.fail(n)
		return nil
	}
	d.buf = d.buf[n:]
	return v
}

// ReadBytes reads the current length-delimited field into a new slice.
func (d *Decoder) ReadBytes() []byte {
	v := d.ReadRaw()
	if v == nil {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

// ReadString reads the current length-delimited field as a string.
func (d *Decoder) ReadString() string {
	return string(d.ReadRaw())
}

// ReadMessage reads the current field as a nested message. ok is false when the
// wire type is not length-delimited.
func (d *Decoder) ReadMessage() (msg []byte, ok bool) {
	if d.typ != protowire.BytesType {
		d.Skip()
		return nil, false
	}
	msg = d.ReadRaw()
	return msg, d.err == nil
}

// decodeMessage runs field for every field of msg and returns the first
// error from either the wire format or field.
func decodeMessage(msg []byte, field func(d *Decoder) error) error {
	d := NewDecoder(msg)
	for d.Next() {
		if err := field(d); err != nil {
			return err
		}
	}
	return d.Err()
}

// decodeNested reads the current field as a nested message and decodes it
// with field. A wire type mismatch skips the field.
func (d *Decoder) decodeNested(field func(d *Decoder) error) error {
	msg, ok := d.ReadMessage()
	if !ok {
		return d.Err()
	}
	return decodeMessage(msg, field)
}

func (d *Decoder) fail(n int) {
	d.err = fmt.Errorf("%w: field %d: %v", ErrMalformed, d.num, protowire.ParseError(n))
}

// Append helpers. Scalars at their zero value are omitted as in proto3;
// nested messages are always written so their presence survives.

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendUint(b, num, protowire.EncodeBool(v))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}
