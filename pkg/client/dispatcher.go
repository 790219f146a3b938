package client

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/vango-dev/pubsub/pkg/protocol"
)

// Routes are the destinations of decoded replies. Nil fields are skipped.
type Routes struct {
	// Heartbeat answers a zero-length frame. An error stops the dispatcher.
	Heartbeat func() error

	// Connected receives the result of the connect command.
	Connected func(res *protocol.ConnectResult)

	// Subscribed receives the result of a subscribe command.
	Subscribed func(id uint32, res *protocol.SubscribeResult)

	// Publication receives channel publications. data is owned by the callee.
	Publication func(channel string, data []byte)

	// Disconnect receives a server-side disconnect push.
	Disconnect func(d *protocol.Disconnect)
}

// Dispatcher turns WebSocket messages into replies and routes them.
// A message may carry several frames and a frame may span messages.
//
// Dispatcher is owned by the reading goroutine of one session.
type Dispatcher struct {
	splitter *protocol.Splitter
	routes   Routes
	logger   *slog.Logger
	metrics  *Metrics
}

// NewDispatcher creates a dispatcher. A non-positive maxFrameSize selects
// the protocol default.
func NewDispatcher(maxFrameSize int, routes Routes, logger *slog.Logger, metrics *Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		splitter: protocol.NewSplitter(maxFrameSize),
		routes:   routes,
		logger:   logger,
		metrics:  metrics,
	}
}

// Handle processes one received message. A non-nil error means the
// connection must be dropped: the stream cannot be framed, or the heartbeat
// answer failed.
//
// A zero-length frame is a server heartbeat. It is answered at once and the
// rest of the message is discarded.
func (d *Dispatcher) Handle(data []byte) error {
	d.splitter.Feed(data)

	for {
		payload, ok, err := d.splitter.Next()
		if err != nil {
			d.logger.Error("frame decode error",
				"error", err,
				"buffered", d.splitter.Buffered())
			d.metrics.decodeError("frame")
			d.splitter.Reset()
			return err
		}
		if !ok {
			return nil
		}
		d.metrics.frameReceived()

		if len(payload) == 0 {
			if n := d.splitter.Buffered(); n > 0 {
				d.logger.Debug("discarding bytes after heartbeat", "bytes", n)
			}
			d.splitter.Reset()
			d.metrics.heartbeat()
			return d.heartbeat()
		}

		d.route(payload)
	}
}

func (d *Dispatcher) heartbeat() error {
	if d.routes.Heartbeat == nil {
		return nil
	}
	if err := d.routes.Heartbeat(); err != nil {
		d.logger.Error("heartbeat write error", "error", err)
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

func (d *Dispatcher) route(payload []byte) {
	reply, err := protocol.UnmarshalReply(payload)
	if err != nil {
		d.logger.Warn("reply decode error", "error", err, "size", len(payload))
		d.metrics.decodeError("reply")
		return
	}

	switch reply.Kind() {
	case protocol.ReplyError:
		d.metrics.replyError()
		d.logger.Error("error reply",
			"id", reply.ID,
			"code", reply.Error.Code,
			"message", reply.Error.Message,
			"temporary", reply.Error.Temporary)

	case protocol.ReplyConnect:
		res := reply.Connect
		d.logger.Info("connected",
			"client", res.Client,
			"version", res.Version,
			"ping", res.Ping)
		if d.routes.Connected != nil {
			d.call("connected", func() { d.routes.Connected(res) })
		}

	case protocol.ReplySubscribe:
		res := reply.Subscribe
		d.logger.Info("subscribed",
			"id", reply.ID,
			"recoverable", res.Recoverable,
			"offset", res.Offset)
		if d.routes.Subscribed != nil {
			d.call("subscribed", func() { d.routes.Subscribed(reply.ID, res) })
		}

	case protocol.ReplyPush:
		d.routePush(reply.Push)

	default:
		d.logger.Debug("reply", "id", reply.ID, "kind", reply.Kind())
	}
}

func (d *Dispatcher) routePush(push *protocol.Push) {
	switch push.Kind() {
	case protocol.PushPublication:
		channel := push.Pub.Channel
		if channel == "" {
			channel = push.Channel
		}
		d.metrics.publication()
		if d.routes.Publication != nil {
			d.call("publication", func() { d.routes.Publication(channel, push.Pub.Data) })
		}

	case protocol.PushMessage:
		d.logger.Debug("message push", "size", len(push.Message.Data))

	case protocol.PushUnsubscribe:
		d.logger.Info("unsubscribed by server",
			"channel", push.Channel,
			"code", push.Unsubscribe.Code,
			"reason", push.Unsubscribe.Reason)

	case protocol.PushDisconnect:
		d.logger.Warn("disconnect push",
			"code", push.Disconnect.Code,
			"reason", push.Disconnect.Reason)
		if d.routes.Disconnect != nil {
			d.call("disconnect", func() { d.routes.Disconnect(push.Disconnect) })
		}

	default:
		d.logger.Debug("push", "channel", push.Channel, "field", int(push.Other))
	}
}

// call runs a route, recovering a panic so one bad handler does not drop
// the connection.
func (d *Dispatcher) call(route string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("route panic",
				"route", route,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}
