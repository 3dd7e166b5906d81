package transport

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/channelgw/internal/channel"
	"github.com/mattjoyce/channelgw/internal/events"
	"github.com/mattjoyce/channelgw/internal/protocol"
	"github.com/mattjoyce/channelgw/internal/pubsub"
	"github.com/mattjoyce/channelgw/internal/socket"
)

// frame is a decoded outbound frame.
type frame struct {
	Topic   string         `json:"topic"`
	Event   string         `json:"event"`
	Ref     *string        `json:"ref"`
	Payload map[string]any `json:"payload"`
}

func (f frame) ref() string {
	if f.Ref == nil {
		return ""
	}
	return *f.Ref
}

func (f frame) status() any { return f.Payload["status"] }

func (f frame) response() any { return f.Payload["response"] }

func decodeFrame(t *testing.T, b []byte) frame {
	t.Helper()
	var f frame
	require.NoError(t, json.Unmarshal(b, &f))
	return f
}

// echoChannel replies to "ping", crashes on "crash", broadcasts "shout" and
// parks on gate for "block".
type echoChannel struct {
	terminated chan error
	gate       chan struct{}
}

func (c *echoChannel) Join(topic string, payload any, s *socket.Socket) (any, *socket.Socket, error) {
	if m, ok := payload.(map[string]any); ok && m["deny"] == true {
		return nil, nil, channel.Deny("denied")
	}
	return map[string]any{"topic": topic}, s, nil
}

func (c *echoChannel) HandleIn(event string, payload any, s *socket.Socket) (socket.Result, error) {
	switch event {
	case "ping":
		return socket.ReplyOK(payload, s), nil
	case "crash":
		return socket.Result{}, errors.New("crashed on purpose")
	case "block":
		if c.gate != nil {
			<-c.gate
		}
		return socket.NoReply(s), nil
	case "shout":
		if err := s.Broadcast(context.Background(), "shout", payload); err != nil {
			return socket.Result{}, err
		}
		return socket.NoReply(s), nil
	}
	return socket.ReplyError(map[string]any{"reason": "unknown event"}, s), nil
}

func (c *echoChannel) Terminate(reason error, _ *socket.Socket) {
	if c.terminated != nil {
		select {
		case c.terminated <- reason:
		default:
		}
	}
}

// testHandler accepts everyone except params reject=1 and serves "room:*".
type testHandler struct {
	channel *echoChannel
}

func newTestHandler() *testHandler {
	return &testHandler{channel: &echoChannel{terminated: make(chan error, 16)}}
}

func (h *testHandler) Connect(params map[string]any, base *socket.Socket) (*socket.Socket, error) {
	if params["reject"] == "1" {
		return nil, errors.New("rejected")
	}
	if user, ok := params["user"].(string); ok {
		return base.Assign("user", user), nil
	}
	return base, nil
}

func (h *testHandler) ID(s *socket.Socket) (string, bool) {
	user, ok := s.Get("user")
	if !ok {
		return "", false
	}
	return "user_socket:" + user.(string), true
}

func (h *testHandler) ChannelForTopic(topic string, _ socket.Transport) (socket.Channel, bool) {
	if strings.HasPrefix(topic, "room:") {
		return h.channel, true
	}
	return nil, false
}

// nopOutbound discards everything a process writes.
type nopOutbound struct{}

func (nopOutbound) Push(protocol.Message) {}
func (nopOutbound) Reply(protocol.Reply)  {}

// captureSender records frames sent by an Owner.
type captureSender struct {
	frames chan []byte

	mu     sync.Mutex
	closed bool
}

func newCaptureSender() *captureSender {
	return &captureSender{frames: make(chan []byte, 64)}
}

func (c *captureSender) Send(b []byte) error {
	c.frames <- b
	return nil
}

func (c *captureSender) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *captureSender) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *captureSender) next(t *testing.T) frame {
	t.Helper()
	select {
	case b := <-c.frames:
		return decodeFrame(t, b)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return frame{}
	}
}

func (c *captureSender) none(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case b := <-c.frames:
		t.Fatalf("unexpected frame: %s", b)
	case <-time.After(within):
	}
}

// testEndpoint wires an Endpoint with an in-memory pubsub.
func testEndpoint(t *testing.T) (*Endpoint, *testHandler, *pubsub.Memory, *events.Hub) {
	t.Helper()
	ps := pubsub.NewMemory()
	t.Cleanup(func() { _ = ps.Close() })
	hub := events.NewHub(64)
	h := newTestHandler()
	ep := &Endpoint{
		Config:  socket.EndpointConfig{Name: "test", PubSub: ps},
		Handler: h,
		Server:  channel.NewServer(channel.Options{JoinTimeout: time.Second}),
		Events:  hub,
		Owners:  NewManager(),
	}
	return ep, h, ps, hub
}
