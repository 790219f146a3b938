package client

import (
	"bytes"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/vango-dev/pubsub/pkg/protocol"
)

type routeRecorder struct {
	heartbeats   int
	heartbeatErr error
	connected    []*protocol.ConnectResult
	subscribed   []uint32
	channels     []string
	payloads     [][]byte
	disconnects  []*protocol.Disconnect
}

func (r *routeRecorder) routes() Routes {
	return Routes{
		Heartbeat: func() error {
			r.heartbeats++
			return r.heartbeatErr
		},
		Connected: func(res *protocol.ConnectResult) {
			r.connected = append(r.connected, res)
		},
		Subscribed: func(id uint32, _ *protocol.SubscribeResult) {
			r.subscribed = append(r.subscribed, id)
		},
		Publication: func(channel string, data []byte) {
			r.channels = append(r.channels, channel)
			r.payloads = append(r.payloads, data)
		},
		Disconnect: func(d *protocol.Disconnect) {
			r.disconnects = append(r.disconnects, d)
		},
	}
}

func publicationFrame(channel string, data []byte) []byte {
	return protocol.Serialize(protocol.MarshalReply(&protocol.Reply{
		Push: &protocol.Push{
			Channel: channel,
			Pub:     &protocol.Publication{Data: data},
		},
	}))
}

func concat(frames ...[]byte) []byte {
	var out []byte
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}

func TestDispatcherMultiFrameOrder(t *testing.T) {
	rec := &routeRecorder{}
	metrics := newTestMetrics()
	d := NewDispatcher(0, rec.routes(), testLogger(), metrics)

	buf := concat(
		publicationFrame("a", []byte("first")),
		publicationFrame("b", []byte("second")),
		publicationFrame("a", []byte("third")),
	)
	if err := d.Handle(buf); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	wantChannels := []string{"a", "b", "a"}
	wantPayloads := []string{"first", "second", "third"}
	if len(rec.channels) != len(wantChannels) {
		t.Fatalf("got %d publications, want %d", len(rec.channels), len(wantChannels))
	}
	for i := range wantChannels {
		if rec.channels[i] != wantChannels[i] {
			t.Errorf("channel[%d] = %q, want %q", i, rec.channels[i], wantChannels[i])
		}
		if string(rec.payloads[i]) != wantPayloads[i] {
			t.Errorf("payload[%d] = %q, want %q", i, rec.payloads[i], wantPayloads[i])
		}
	}
	if rec.heartbeats != 0 {
		t.Errorf("heartbeats = %d, want 0", rec.heartbeats)
	}
	if got := metricCounterValue(t, metrics.framesReceived); got != 3 {
		t.Errorf("frames_received_total = %v, want 3", got)
	}
	if got := metricCounterValue(t, metrics.publications); got != 3 {
		t.Errorf("publications_total = %v, want 3", got)
	}
}

func TestDispatcherPayloadsDoNotAlias(t *testing.T) {
	rec := &routeRecorder{}
	d := NewDispatcher(0, rec.routes(), testLogger(), nil)

	buf := concat(
		publicationFrame("c", []byte("AAAA")),
		publicationFrame("c", []byte("BBBB")),
	)
	d.Handle(buf)
	for i := range buf {
		buf[i] = 0xff
	}
	// Feeding more data compacts the splitter's buffer.
	d.Handle(publicationFrame("c", []byte("CCCC")))

	want := []string{"AAAA", "BBBB", "CCCC"}
	for i, p := range rec.payloads {
		if string(p) != want[i] {
			t.Errorf("payload[%d] = %q, want %q", i, p, want[i])
		}
	}
}

func TestDispatcherHeartbeat(t *testing.T) {
	tests := []struct {
		name           string
		buf            []byte
		wantHeartbeats int
		wantPubs       int
	}{
		{
			name:           "single zero byte",
			buf:            []byte{0},
			wantHeartbeats: 1,
		},
		{
			name:           "rest of buffer discarded",
			buf:            concat([]byte{0}, publicationFrame("x", []byte("late"))),
			wantHeartbeats: 1,
		},
		{
			name:           "frames before heartbeat are routed",
			buf:            concat(publicationFrame("x", []byte("early")), []byte{0}),
			wantHeartbeats: 1,
			wantPubs:       1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &routeRecorder{}
			metrics := newTestMetrics()
			d := NewDispatcher(0, rec.routes(), testLogger(), metrics)

			if err := d.Handle(tt.buf); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if rec.heartbeats != tt.wantHeartbeats {
				t.Errorf("heartbeats = %d, want %d", rec.heartbeats, tt.wantHeartbeats)
			}
			if len(rec.payloads) != tt.wantPubs {
				t.Errorf("publications = %d, want %d", len(rec.payloads), tt.wantPubs)
			}
			if got := metricCounterValue(t, metrics.heartbeatsTotal); got != float64(tt.wantHeartbeats) {
				t.Errorf("heartbeats_total = %v, want %d", got, tt.wantHeartbeats)
			}
		})
	}
}

func TestDispatcherHeartbeatWriteFailure(t *testing.T) {
	rec := &routeRecorder{heartbeatErr: errors.New("broken pipe")}
	d := NewDispatcher(0, rec.routes(), testLogger(), nil)

	err := d.Handle([]byte{0})
	if !errors.Is(err, rec.heartbeatErr) {
		t.Errorf("Handle() error = %v, want the heartbeat write error", err)
	}
}

func TestDispatcherHeartbeatErrorKeepsErrno(t *testing.T) {
	rec := &routeRecorder{heartbeatErr: fmt.Errorf("write tcp: %w", syscall.ECONNRESET)}
	d := NewDispatcher(0, rec.routes(), testLogger(), nil)

	err := d.Handle([]byte{0})
	if got := errorCode(err, nil); got != int(syscall.ECONNRESET) {
		t.Errorf("errorCode(Handle()) = %d, want %d", got, int(syscall.ECONNRESET))
	}
}

func TestDispatcherBuffersPartialFrames(t *testing.T) {
	rec := &routeRecorder{}
	d := NewDispatcher(0, rec.routes(), testLogger(), nil)

	payload := bytes.Repeat([]byte("z"), 300) // two-byte length prefix
	frame := publicationFrame("partial", payload)

	// Split inside the length prefix, then inside the payload.
	chunks := [][]byte{frame[:1], frame[1:10], frame[10:]}
	for i, c := range chunks {
		if err := d.Handle(c); err != nil {
			t.Fatalf("Handle(chunk %d) error = %v", i, err)
		}
		if i < len(chunks)-1 && len(rec.payloads) != 0 {
			t.Fatalf("publication routed after chunk %d of %d", i, len(chunks))
		}
	}

	if len(rec.payloads) != 1 {
		t.Fatalf("publications = %d, want 1", len(rec.payloads))
	}
	if !bytes.Equal(rec.payloads[0], payload) {
		t.Error("reassembled payload differs from the original")
	}
}

func TestDispatcherFramingErrors(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		max  int
		want error
	}{
		{
			name: "length overflow",
			buf:  bytes.Repeat([]byte{0xff}, 11),
			want: protocol.ErrLengthOverflow,
		},
		{
			name: "frame too large",
			buf:  publicationFrame("big", bytes.Repeat([]byte("x"), 64)),
			max:  16,
			want: protocol.ErrFrameTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &routeRecorder{}
			metrics := newTestMetrics()
			d := NewDispatcher(tt.max, rec.routes(), testLogger(), metrics)

			if err := d.Handle(tt.buf); !errors.Is(err, tt.want) {
				t.Errorf("Handle() error = %v, want %v", err, tt.want)
			}
			if len(rec.payloads) != 0 {
				t.Errorf("publications = %d, want 0", len(rec.payloads))
			}
			if got := metricCounterValue(t, metrics.decodeErrors.WithLabelValues("frame")); got != 1 {
				t.Errorf("decode_errors_total{kind=frame} = %v, want 1", got)
			}
		})
	}
}

func TestDispatcherSkipsMalformedReply(t *testing.T) {
	rec := &routeRecorder{}
	metrics := newTestMetrics()
	d := NewDispatcher(0, rec.routes(), testLogger(), metrics)

	// A frame whose payload is a truncated varint field.
	bad := protocol.Serialize([]byte{0x08, 0x80})
	buf := concat(bad, publicationFrame("ok", []byte("after")))

	if err := d.Handle(buf); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(rec.payloads) != 1 || string(rec.payloads[0]) != "after" {
		t.Errorf("payloads = %q, want [after]", rec.payloads)
	}
	if got := metricCounterValue(t, metrics.decodeErrors.WithLabelValues("reply")); got != 1 {
		t.Errorf("decode_errors_total{kind=reply} = %v, want 1", got)
	}
}

func TestDispatcherRoutesReplies(t *testing.T) {
	rec := &routeRecorder{}
	metrics := newTestMetrics()
	d := NewDispatcher(0, rec.routes(), testLogger(), metrics)

	buf := concat(
		protocol.Serialize(protocol.MarshalReply(&protocol.Reply{
			ID:      1,
			Connect: &protocol.ConnectResult{Client: "c-1", Version: "5.0.0", Ping: 25},
		})),
		protocol.Serialize(protocol.MarshalReply(&protocol.Reply{
			ID:        2,
			Subscribe: &protocol.SubscribeResult{Recoverable: true},
		})),
		protocol.Serialize(protocol.MarshalReply(&protocol.Reply{
			ID:    3,
			Error: &protocol.Error{Code: protocol.ErrPermissionDenied, Message: "permission denied"},
		})),
		protocol.Serialize(protocol.MarshalReply(&protocol.Reply{
			Push: &protocol.Push{
				Disconnect: &protocol.Disconnect{Code: 3001, Reason: "shutdown"},
			},
		})),
	)
	if err := d.Handle(buf); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if len(rec.connected) != 1 || rec.connected[0].Client != "c-1" {
		t.Errorf("connected = %+v, want one result for client c-1", rec.connected)
	}
	if len(rec.subscribed) != 1 || rec.subscribed[0] != 2 {
		t.Errorf("subscribed = %v, want [2]", rec.subscribed)
	}
	if got := metricCounterValue(t, metrics.replyErrors); got != 1 {
		t.Errorf("reply_errors_total = %v, want 1", got)
	}
	if len(rec.disconnects) != 1 || rec.disconnects[0].Code != 3001 {
		t.Errorf("disconnects = %+v, want one with code 3001", rec.disconnects)
	}
}

func TestDispatcherPublicationChannel(t *testing.T) {
	rec := &routeRecorder{}
	d := NewDispatcher(0, rec.routes(), testLogger(), nil)

	wildcard := protocol.Serialize(protocol.MarshalReply(&protocol.Reply{
		Push: &protocol.Push{
			Channel: "news:*",
			Pub:     &protocol.Publication{Data: []byte("x"), Channel: "news:sport"},
		},
	}))
	d.Handle(concat(wildcard, publicationFrame("plain", []byte("y"))))

	want := []string{"news:sport", "plain"}
	for i := range want {
		if i >= len(rec.channels) || rec.channels[i] != want[i] {
			t.Errorf("channels = %q, want %q", rec.channels, want)
			break
		}
	}
}

func TestDispatcherRecoversRoutePanic(t *testing.T) {
	var got []string
	routes := Routes{
		Publication: func(channel string, data []byte) {
			if string(data) == "boom" {
				panic("handler failure")
			}
			got = append(got, string(data))
		},
	}
	d := NewDispatcher(0, routes, testLogger(), nil)

	buf := concat(
		publicationFrame("p", []byte("boom")),
		publicationFrame("p", []byte("next")),
	)
	if err := d.Handle(buf); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(got) != 1 || got[0] != "next" {
		t.Errorf("delivered = %q, want [next]", got)
	}
}

func TestDispatcherNilRoutes(t *testing.T) {
	d := NewDispatcher(0, Routes{}, nil, nil)

	buf := concat(publicationFrame("n", []byte("v")), []byte{0})
	if err := d.Handle(buf); err != nil {
		t.Errorf("Handle() error = %v with no routes set", err)
	}
}
