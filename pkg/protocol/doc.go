// Package protocol implements the binary wire protocol spoken between a
// pub/sub client and a Centrifugo-compatible server.
//
// # Wire Format
//
// Every WebSocket binary message carries one or more frames:
//
//	┌──────────────────────┬───────────────────────────────┐
//	│ Length               │ Payload                       │
//	│ (uvarint, 1-10 B)    │ (Length bytes, protobuf)      │
//	└──────────────────────┴───────────────────────────────┘
//
// A frame of Length 0 has no payload. The server sends it as a heartbeat
// and the client answers with the single byte 0x00.
//
// # Encoding
//
//   - Varint: 7 bits per byte, low group first, high bit set on every byte
//     except the last
//   - Payloads: protobuf wire format, written and read with protowire
//     without generated code
//
// # Messages
//
// The client sends Command values (connect, subscribe, unsubscribe,
// publish) and receives Reply values. A Reply either answers a command by
// ID or carries a Push (publication, message, unsubscribe, disconnect).
//
// # Usage Example
//
//	// Encode a subscribe command as one frame
//	frame := Serialize(MarshalCommand(&Command{
//	    ID:        2,
//	    Subscribe: &SubscribeRequest{Channel: "news"},
//	}))
//
//	// Split an incoming message into replies
//	sp := NewSplitter(DefaultMaxFrameSize)
//	sp.Feed(msg)
//	for {
//	    payload, ok, err := sp.Next()
//	    if err != nil || !ok {
//	        break
//	    }
//	    reply, err := UnmarshalReply(payload)
//	    ...
//	}
//
// # File Structure
//
//   - varint.go: Varint encoding/decoding
//   - frame.go: Length prefix, Serialize, Splitter
//   - encoder.go: Multi-frame batch encoder
//   - decoder.go: Protobuf field decoder
//   - command.go: Client commands
//   - reply.go: Server replies and pushes
//   - error.go: Error replies
//   - limits.go: Size limits
package protocol
