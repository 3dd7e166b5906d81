// Package socket holds per-connection state and the callback contracts an
// application implements to accept connections and route topics to channels.
package socket

import (
	"context"
	"errors"
	"maps"

	"github.com/mattjoyce/channelgw/internal/protocol"
	"github.com/mattjoyce/channelgw/internal/pubsub"
)

// Transport identifies the physical transport a socket arrived on.
type Transport string

const (
	TransportWebSocket Transport = "websocket"
	TransportLongPoll  Transport = "longpoll"
)

// ErrNotJoined is returned when a push is attempted on a socket that is not
// bound to a topic.
var ErrNotJoined = errors.New("socket is not joined to a topic")

// Outbound writes frames back to the client owning a socket.
type Outbound interface {
	Push(msg protocol.Message)
	Reply(reply protocol.Reply)
}

// Socket is the state of one client connection.
//
// Connection fields are fixed when Connect accepts the client. Topic fields
// are stamped on a copy for each successful join; a Socket value is never
// mutated in place; use the With*/Assign helpers which return copies.
type Socket struct {
	Endpoint   string
	Transport  Transport
	Handler    Handler
	PubSub     pubsub.PubSub
	Serializer protocol.Serializer
	// ID identifies the connection for targeted disconnects. Empty when the
	// handler did not assign one.
	ID      string
	Assigns map[string]any

	Owner   string
	Topic   string
	Channel Channel

	out Outbound
}

// Assign returns a copy of s with key set in its assigns.
func (s *Socket) Assign(key string, value any) *Socket {
	cp := *s
	cp.Assigns = make(map[string]any, len(s.Assigns)+1)
	maps.Copy(cp.Assigns, s.Assigns)
	cp.Assigns[key] = value
	return &cp
}

// Get returns the assign stored under key.
func (s *Socket) Get(key string) (any, bool) {
	v, ok := s.Assigns[key]
	return v, ok
}

// Stamp returns a copy of s bound to topic on behalf of the connection owner.
func (s *Socket) Stamp(owner, topic string, ch Channel, out Outbound) *Socket {
	cp := *s
	cp.Owner = owner
	cp.Topic = topic
	cp.Channel = ch
	cp.out = out
	return &cp
}

// Joined reports whether s is bound to a topic.
func (s *Socket) Joined() bool {
	return s.Topic != "" && s.out != nil
}

// Push sends an unsolicited message to this socket's client on its topic.
func (s *Socket) Push(event string, payload any) error {
	if !s.Joined() {
		return ErrNotJoined
	}
	s.out.Push(protocol.Message{Topic: s.Topic, Event: event, Payload: payload})
	return nil
}

// Reply answers a client message on this socket's topic.
func (s *Socket) Reply(reply protocol.Reply) error {
	if !s.Joined() {
		return ErrNotJoined
	}
	s.out.Reply(reply)
	return nil
}

// Broadcast publishes event to every subscriber of this socket's topic,
// including the sender.
func (s *Socket) Broadcast(ctx context.Context, event string, payload any) error {
	if s.Topic == "" {
		return ErrNotJoined
	}
	if s.PubSub == nil {
		return errors.New("socket has no pubsub")
	}
	return s.PubSub.Broadcast(ctx, protocol.Broadcast{Topic: s.Topic, Event: event, Payload: payload})
}
