package protocol

import "google.golang.org/protobuf/encoding/protowire"

// Command field numbers.
const (
	commandID          protowire.Number = 1
	commandConnect     protowire.Number = 4
	commandSubscribe   protowire.Number = 5
	commandUnsubscribe protowire.Number = 6
	commandPublish     protowire.Number = 7
)

// Command is a client to server request. At most one request body is set;
// a Command with none is the empty command sent as a heartbeat answer.
type Command struct {
	ID          uint32
	Connect     *ConnectRequest
	Subscribe   *SubscribeRequest
	Unsubscribe *UnsubscribeRequest
	Publish     *PublishRequest
}

// ConnectRequest authenticates the connection.
type ConnectRequest struct {
	Token   string
	Data    []byte
	Name    string
	Version string
}

// SubscribeRequest asks for publications on a channel.
type SubscribeRequest struct {
	Channel string
	Token   string
}

// UnsubscribeRequest cancels a subscription.
type UnsubscribeRequest struct {
	Channel string
}

// PublishRequest sends data into a channel.
type PublishRequest struct {
	Channel string
	Data    []byte
}

// MarshalCommand encodes c in protobuf wire format.
func MarshalCommand(c *Command) []byte {
	var b []byte
	b = appendUint(b, commandID, uint64(c.ID))
	if c.Connect != nil {
		var m []byte
		m = appendString(m, 1, c.Connect.Token)
		m = appendBytes(m, 2, c.Connect.Data)
		m = appendString(m, 4, c.Connect.Name)
		m = appendString(m, 5, c.Connect.Version)
		b = appendMessage(b, commandConnect, m)
	}
	if c.Subscribe != nil {
		var m []byte
		m = appendString(m, 1, c.Subscribe.Channel)
		m = appendString(m, 2, c.Subscribe.Token)
		b = appendMessage(b, commandSubscribe, m)
	}
	if c.Unsubscribe != nil {
		b = appendMessage(b, commandUnsubscribe, appendString(nil, 1, c.Unsubscribe.Channel))
	}
	if c.Publish != nil {
		var m []byte
		m = appendString(m, 1, c.Publish.Channel)
		m = appendBytes(m, 2, c.Publish.Data)
		b = appendMessage(b, commandPublish, m)
	}
	return b
}

// UnmarshalCommand decodes a command. Unknown fields are skipped.
func UnmarshalCommand(data []byte) (*Command, error) {
	c := &Command{}
	err := decodeMessage(data, func(d *Decoder) error {
		switch d.Field() {
		case commandID:
			c.ID = d.ReadUint32()
		case commandConnect:
			c.Connect = &ConnectRequest{}
			return d.decodeNested(c.Connect.decodeField)
		case commandSubscribe:
			c.Subscribe = &SubscribeRequest{}
			return d.decodeNested(c.Subscribe.decodeField)
		case commandUnsubscribe:
			c.Unsubscribe = &UnsubscribeRequest{}
			return d.decodeNested(func(d *Decoder) error {
				if d.Field() == 1 {
					c.Unsubscribe.Channel = d.ReadString()
				} else {
					d.Skip()
				}
				return nil
			})
		case commandPublish:
			c.Publish = &PublishRequest{}
			return d.decodeNested(func(d *Decoder) error {
				switch d.Field() {
				case 1:
					c.Publish.Channel = d.ReadString()
				case 2:
					c.Publish.Data = d.ReadBytes()
				default:
					d.Skip()
				}
				return nil
			})
		default:
			d.Skip()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *ConnectRequest) decodeField(d *Decoder) error {
	switch d.Field() {
	case 1:
		r.Token = d.ReadString()
	case 2:
		r.Data = d.ReadBytes()
	case 4:
		r.Name = d.ReadString()
	case 5:
		r.Version = d.ReadString()
	default:
		d.Skip()
	}
	return nil
}

func (r *SubscribeRequest) decodeField(d *Decoder) error {
	switch d.Field() {
	case 1:
		r.Channel = d.ReadString()
	case 2:
		r.Token = d.ReadString()
	default:
		d.Skip()
	}
	return nil
}
