package protocol

import "google.golang.org/protobuf/encoding/protowire"

// Reply field numbers.
const (
	replyID          protowire.Number = 1
	replyError       protowire.Number = 2
	replyPush        protowire.Number = 4
	replyConnect     protowire.Number = 5
	replySubscribe   protowire.Number = 6
	replyUnsubscribe protowire.Number = 7
	replyPublish     protowire.Number = 8
)

// Push field numbers.
const (
	pushChannel     protowire.Number = 2
	pushPub         protowire.Number = 4
	pushJoin        protowire.Number = 5
	pushLeave       protowire.Number = 6
	pushUnsubscribe protowire.Number = 7
	pushMessage     protowire.Number = 8
	pushSubscribe   protowire.Number = 9
	pushConnect     protowire.Number = 10
	pushDisconnect  protowire.Number = 11
	pushRefresh     protowire.Number = 12
)

// ReplyKind identifies which variant a Reply carries.
type ReplyKind uint8

const (
	ReplyEmpty       ReplyKind = iota // No body: a server heartbeat
	ReplyError                        // Error answer to a command
	ReplyConnect                      // Connect result
	ReplySubscribe                    // Subscribe result
	ReplyPush                         // Asynchronous push
	ReplyUnsubscribe                  // Unsubscribe result
	ReplyPublish                      // Publish result
)

// String returns the string representation of the reply kind.
func (k ReplyKind) String() string {
	switch k {
	case ReplyEmpty:
		return "Empty"
	case ReplyError:
		return "Error"
	case ReplyConnect:
		return "Connect"
	case ReplySubscribe:
		return "Subscribe"
	case ReplyPush:
		return "Push"
	case ReplyUnsubscribe:
		return "Unsubscribe"
	case ReplyPublish:
		return "Publish"
	default:
		return "Unknown"
	}
}

// Reply is a server to client message: either the answer to a command
// (ID set) or a push (ID zero).
//
// Decoded replies copy every byte they keep, so a Reply stays valid after
// the frame it came from is reused.
type Reply struct {
	ID          uint32
	Error       *Error
	Push        *Push
	Connect     *ConnectResult
	Subscribe   *SubscribeResult
	Unsubscribe *UnsubscribeResult
	Publish     *PublishResult
}

// Kind reports the variant carried by r. An error takes precedence over
// any result sent alongside it.
func (r *Reply) Kind() ReplyKind {
	switch {
	case r.Error != nil:
		return ReplyError
	case r.Connect != nil:
		return ReplyConnect
	case r.Subscribe != nil:
		return ReplySubscribe
	case r.Push != nil:
		return ReplyPush
	case r.Unsubscribe != nil:
		return ReplyUnsubscribe
	case r.Publish != nil:
		return ReplyPublish
	default:
		return ReplyEmpty
	}
}

// ConnectResult is the server's answer to a connect command.
type ConnectResult struct {
	Client  string
	Version string
	Expires bool
	TTL     uint32
	Data    []byte
	Ping    uint32 // Server ping interval in seconds, 0 if disabled
	Pong    bool   // Server expects pong answers to pings
	Session string
	Node    string
}

// SubscribeResult is the server's answer to a subscribe command.
type SubscribeResult struct {
	Expires     bool
	TTL         uint32
	Recoverable bool
	Epoch       string
	Offset      uint64
	Data        []byte
}

// UnsubscribeResult is the server's answer to an unsubscribe command.
type UnsubscribeResult struct{}

// PublishResult is the server's answer to a publish command.
type PublishResult struct{}

// PushKind identifies which variant a Push carries.
type PushKind uint8

const (
	PushOther       PushKind = iota // Join, leave, refresh and other pushes
	PushPublication                 // Channel publication
	PushMessage                     // Direct message to this connection
	PushUnsubscribe                 // Server-side unsubscribe
	PushDisconnect                  // Server is closing the connection
)

// String returns the string representation of the push kind.
func (k PushKind) String() string {
	switch k {
	case PushPublication:
		return "Publication"
	case PushMessage:
		return "Message"
	case PushUnsubscribe:
		return "Unsubscribe"
	case PushDisconnect:
		return "Disconnect"
	default:
		return "Other"
	}
}

// Push is an asynchronous server message.
type Push struct {
	Channel     string
	Pub         *Publication
	Message     *Message
	Unsubscribe *Unsubscribe
	Disconnect  *Disconnect

	// Other holds the field number of a push body this package does not model.
	Other protowire.Number
}

// Kind reports the variant carried by p.
func (p *Push) Kind() PushKind {
	switch {
	case p.Pub != nil:
		return PushPublication
	case p.Message != nil:
		return PushMessage
	case p.Unsubscribe != nil:
		return PushUnsubscribe
	case p.Disconnect != nil:
		return PushDisconnect
	default:
		return PushOther
	}
}

// Publication is data published into a channel.
type Publication struct {
	Data    []byte
	Offset  uint64
	Channel string // Set for wildcard subscriptions; otherwise Push.Channel applies
}

// Message is data sent to this connection only.
type Message struct {
	Data []byte
}

// Unsubscribe tells the client it was removed from Push.Channel.
type Unsubscribe struct {
	Code   uint32
	Reason string
}

// Disconnect announces that the server is closing the connection.
type Disconnect struct {
	Code   uint32
	Reason string
}

// UnmarshalReply decodes a reply. Unknown fields are skipped.
func UnmarshalReply(data []byte) (*Reply, error) {
	r := &Reply{}
	err := decodeMessage(data, func(d *Decoder) error {
		switch d.Field() {
		case replyID:
			r.ID = d.ReadUint32()
		case replyError:
			r.Error = &Error{}
			return d.decodeNested(r.Error.decodeField)
		case replyPush:
			r.Push = &Push{}
			return d.decodeNested(r.Push.decodeField)
		case replyConnect:
			r.Connect = &ConnectResult{}
			return d.decodeNested(r.Connect.decodeField)
		case replySubscribe:
			r.Subscribe = &SubscribeResult{}
			return d.decodeNested(r.Subscribe.decodeField)
		case replyUnsubscribe:
			r.Unsubscribe = &UnsubscribeResult{}
			d.Skip()
		case replyPublish:
			r.Publish = &PublishResult{}
			d.Skip()
		default:
			d.Skip()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (e *Error) decodeField(d *Decoder) error {
	switch d.Field() {
	case 1:
		e.Code = ErrorCode(d.ReadUint32())
	case 2:
		e.Message = d.ReadString()
	case 3:
		e.Temporary = d.ReadBool()
	default:
		d.Skip()
	}
	return nil
}

func (c *ConnectResult) decodeField(d *Decoder) error {
	switch d.Field() {
	case 1:
		c.Client = d.ReadString()
	case 2:
		c.Version = d.ReadString()
	case 3:
		c.Expires = d.ReadBool()
	case 4:
		c.TTL = d.ReadUint32()
	case 5:
		c.Data = d.ReadBytes()
	case 7:
		c.Ping = d.ReadUint32()
	case 8:
		c.Pong = d.ReadBool()
	case 9:
		c.Session = d.ReadString()
	case 10:
		c.Node = d.ReadString()
	default:
		d.Skip()
	}
	return nil
}

func (s *SubscribeResult) decodeField(d *Decoder) error {
	switch d.Field() {
	case 1:
		s.Expires = d.ReadBool()
	case 2:
		s.TTL = d.ReadUint32()
	case 3:
		s.Recoverable = d.ReadBool()
	case 6:
		s.Epoch = d.ReadString()
	case 9:
		s.Offset = d.ReadUint64()
	case 11:
		s.Data = d.ReadBytes()
	default:
		d.Skip()
	}
	return nil
}

func (p *Push) decodeField(d *Decoder) error {
	switch f := d.Field(); f {
	case pushChannel:
		p.Channel = d.ReadString()
	case pushPub:
		p.Pub = &Publication{}
		return d.decodeNested(p.Pub.decodeField)
	case pushMessage:
		p.Message = &Message{}
		return d.decodeNested(func(d *Decoder) error {
			if d.Field() == 1 {
				p.Message.Data = d.ReadBytes()
			} else {
				d.Skip()
			}
			return nil
		})
	case pushUnsubscribe:
		p.Unsubscribe = &Unsubscribe{}
		return d.decodeNested(func(d *Decoder) error {
			switch d.Field() {
			case 2:
				p.Unsubscribe.Code = d.ReadUint32()
			case 3:
				p.Unsubscribe.Reason = d.ReadString()
			default:
				d.Skip()
			}
			return nil
		})
	case pushDisconnect:
		p.Disconnect = &Disconnect{}
		return d.decodeNested(func(d *Decoder) error {
			switch d.Field() {
			case 1:
				p.Disconnect.Code = d.ReadUint32()
			case 2:
				p.Disconnect.Reason = d.ReadString()
			default:
				d.Skip()
			}
			return nil
		})
	case pushJoin, pushLeave, pushSubscribe, pushConnect, pushRefresh:
		p.Other = f
		d.Skip()
	default:
		d.Skip()
	}
	return nil
}

func (p *Publication) decodeField(d *Decoder) error {
	switch d.Field() {
	case 4:
		p.Data = d.ReadBytes()
	case 6:
		p.Offset = d.ReadUint64()
	case 10:
		p.Channel = d.ReadString()
	default:
		d.Skip()
	}
	return nil
}

// MarshalReply encodes r in protobuf wire format. Servers and test peers
// use it; the client only decodes replies.
func MarshalReply(r *Reply) []byte {
	var b []byte
	b = appendUint(b, replyID, uint64(r.ID))
	if r.Error != nil {
		var m []byte
		m = appendUint(m, 1, uint64(r.Error.Code))
		m = appendString(m, 2, r.Error.Message)
		m = appendBool(m, 3, r.Error.Temporary)
		b = appendMessage(b, replyError, m)
	}
	if r.Push != nil {
		b = appendMessage(b, replyPush, marshalPush(r.Push))
	}
	if r.Connect != nil {
		c := r.Connect
		var m []byte
		m = appendString(m, 1, c.Client)
		m = appendString(m, 2, c.Version)
		m = appendBool(m, 3, c.Expires)
		m = appendUint(m, 4, uint64(c.TTL))
		m = appendBytes(m, 5, c.Data)
		m = appendUint(m, 7, uint64(c.Ping))
		m = appendBool(m, 8, c.Pong)
		m = appendString(m, 9, c.Session)
		m = appendString(m, 10, c.Node)
		b = appendMessage(b, replyConnect, m)
	}
	if r.Subscribe != nil {
		s := r.Subscribe
		var m []byte
		m = appendBool(m, 1, s.Expires)
		m = appendUint(m, 2, uint64(s.TTL))
		m = appendBool(m, 3, s.Recoverable)
		m = appendString(m, 6, s.Epoch)
		m = appendUint(m, 9, s.Offset)
		m = appendBytes(m, 11, s.Data)
		b = appendMessage(b, replySubscribe, m)
	}
	if r.Unsubscribe != nil {
		b = appendMessage(b, replyUnsubscribe, nil)
	}
	if r.Publish != nil {
		b = appendMessage(b, replyPublish, nil)
	}
	return b
}

func marshalPush(p *Push) []byte {
	var b []byte
	b = appendString(b, pushChannel, p.Channel)
	if p.Pub != nil {
		var m []byte
		m = appendBytes(m, 4, p.Pub.Data)
		m = appendUint(m, 6, p.Pub.Offset)
		m = appendString(m, 10, p.Pub.Channel)
		b = appendMessage(b, pushPub, m)
	}
	if p.Message != nil {
		b = appendMessage(b, pushMessage, appendBytes(nil, 1, p.Message.Data))
	}
	if p.Unsubscribe != nil {
		var m []byte
		m = appendUint(m, 2, uint64(p.Unsubscribe.Code))
		m = appendString(m, 3, p.Unsubscribe.Reason)
		b = appendMessage(b, pushUnsubscribe, m)
	}
	if p.Disconnect != nil {
		var m []byte
		m = appendUint(m, 1, uint64(p.Disconnect.Code))
		m = appendString(m, 2, p.Disconnect.Reason)
		b = appendMessage(b, pushDisconnect, m)
	}
	if p.Other != 0 {
		b = appendMessage(b, p.Other, nil)
	}
	return b
}
