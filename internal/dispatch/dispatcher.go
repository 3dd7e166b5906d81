package dispatch

import (
	"errors"
	"log/slog"

	"github.com/mattjoyce/channelgw/internal/channel"
	"github.com/mattjoyce/channelgw/internal/log"
	"github.com/mattjoyce/channelgw/internal/protocol"
	"github.com/mattjoyce/channelgw/internal/socket"
)

//go:generate mockgen -destination=mocks/mock_dispatch.go -package=mocks github.com/mattjoyce/channelgw/internal/dispatch ChannelServer

// ChannelServer spawns and controls channel processes.
type ChannelServer interface {
	// Join runs the channel's join callback on a new process. On failure
	// no process is left running.
	Join(s *socket.Socket, payload any) (any, *channel.Process, error)
	// Leave asks p to leave its topic without waiting for it.
	Leave(p *channel.Process, ref string)
}

// Outcome is the result of dispatching one message.
type Outcome interface {
	outcome()
}

// ReplyNow carries a reply the owner writes without touching its registry.
type ReplyNow struct {
	Reply protocol.Reply
}

// Registered reports a successful join. The owner binds Process to the
// reply topic and writes Reply.
type Registered struct {
	Process *channel.Process
	Reply   protocol.Reply
}

// JoinRejected reports a join refused by the channel.
type JoinRejected struct {
	Reply protocol.Reply
}

// IgnoreError reports a message that could not be routed.
type IgnoreError struct {
	Reply protocol.Reply
}

// Ack reports a message handed to its bound process.
type Ack struct{}

func (ReplyNow) outcome()     {}
func (Registered) outcome()   {}
func (JoinRejected) outcome() {}
func (IgnoreError) outcome()  {}
func (Ack) outcome()          {}

// Dispatcher routes messages for one connection.
type Dispatcher struct {
	server ChannelServer
	out    socket.Outbound
	logger *slog.Logger
}

// New creates a Dispatcher whose joined sockets write through out.
func New(server ChannelServer, out socket.Outbound) *Dispatcher {
	return &Dispatcher{
		server: server,
		out:    out,
		logger: log.WithComponent("dispatch"),
	}
}

// Dispatch routes msg. bound is the process registered for msg.Topic on
// this connection, or nil. base is the connection's socket as accepted by
// the handler.
//
// A *socket.ContractViolation raised by the handler is not recovered.
func (d *Dispatcher) Dispatch(bound *channel.Process, msg protocol.Message, ownerID string, base *socket.Socket) Outcome {
	switch {
	case msg.IsHeartbeat():
		return ReplyNow{Reply: msg.OK(protocol.EmptyPayload())}

	case msg.Topic == protocol.TopicPhoenix:
		// The reserved topic never reaches a handler or the registry.
		return d.unmatched(msg)

	case bound == nil && msg.Event == protocol.EventJoin:
		return d.join(msg, ownerID, base)

	case bound == nil:
		return d.unmatched(msg)

	case msg.Event == protocol.EventLeave:
		d.server.Leave(bound, msg.Ref)
		return Ack{}

	default:
		if !bound.Deliver(msg) {
			d.logger.Debug("message for exited process dropped", "topic", msg.Topic, "event", msg.Event)
		}
		return Ack{}
	}
}

func (d *Dispatcher) join(msg protocol.Message, ownerID string, base *socket.Socket) Outcome {
	ch, ok := base.Handler.ChannelForTopic(msg.Topic, base.Transport)
	if !ok {
		return d.unmatched(msg)
	}

	stamped := base.Stamp(ownerID, msg.Topic, ch, d.out)
	response, p, err := d.server.Join(stamped, msg.Payload)
	if err != nil {
		d.logger.Info("join rejected", "topic", msg.Topic, "owner", ownerID, "error", err)
		return JoinRejected{Reply: msg.Error(rejectReason(err))}
	}
	return Registered{Process: p, Reply: msg.OK(response)}
}

func (d *Dispatcher) unmatched(msg protocol.Message) Outcome {
	d.logger.Debug("ignoring unmatched topic", "topic", msg.Topic, "event", msg.Event)
	return IgnoreError{Reply: msg.Error(protocol.Reason("unmatched topic"))}
}

func rejectReason(err error) any {
	var je *channel.JoinError
	if errors.As(err, &je) {
		return je.Reason
	}
	return protocol.Reason(err.Error())
}
