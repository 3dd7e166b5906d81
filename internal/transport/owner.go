package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mattjoyce/channelgw/internal/channel"
	"github.com/mattjoyce/channelgw/internal/dispatch"
	"github.com/mattjoyce/channelgw/internal/events"
	"github.com/mattjoyce/channelgw/internal/log"
	"github.com/mattjoyce/channelgw/internal/metrics"
	"github.com/mattjoyce/channelgw/internal/protocol"
	"github.com/mattjoyce/channelgw/internal/socket"
)

// ErrOwnerClosed is returned when a frame arrives after the owner shut down.
var ErrOwnerClosed = errors.New("connection owner closed")

// Sender delivers encoded frames to the client of one connection.
type Sender interface {
	// Send queues frame for delivery. It must not block for long.
	Send(frame []byte) error
	// Close ends the physical connection.
	Close() error
}

// Owner is the control loop of one client connection. Only the goroutine
// running Run touches the registry.
type Owner struct {
	id         string
	base       *socket.Socket
	conn       Sender
	serializer protocol.Serializer
	dispatcher *dispatch.Dispatcher
	events     events.Publisher

	inbound  chan protocol.Message
	exits    chan channel.Exit
	shutdown chan struct{}
	done     chan struct{}

	closeOnce sync.Once
	reg       *registry
	channels  atomic.Int64

	mu     sync.Mutex
	closed bool

	logger *slog.Logger
}

// NewOwner creates the owner of an accepted connection. pub may be nil.
func NewOwner(base *socket.Socket, conn Sender, server dispatch.ChannelServer, pub events.Publisher) *Owner {
	id := uuid.NewString()
	serializer := base.Serializer
	if serializer == nil {
		serializer = protocol.JSONSerializer{}
	}
	o := &Owner{
		id:         id,
		base:       base,
		conn:       conn,
		serializer: serializer,
		events:     pub,
		inbound:    make(chan protocol.Message),
		exits:      make(chan channel.Exit, 16),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		reg:        newRegistry(),
		logger:     log.WithConn(id).With("transport", string(base.Transport)),
	}
	o.dispatcher = dispatch.New(server, o)
	return o
}

// ID returns the owner identity stamped on joined sockets.
func (o *Owner) ID() string { return o.id }

// Socket returns the connection's base socket.
func (o *Owner) Socket() *socket.Socket { return o.base }

// Channels returns the number of currently bound topics.
func (o *Owner) Channels() int { return int(o.channels.Load()) }

// Done is closed once the owner has torn down.
func (o *Owner) Done() <-chan struct{} { return o.done }

// Close asks the owner to tear down. It does not wait.
func (o *Owner) Close() {
	o.closeOnce.Do(func() { close(o.shutdown) })
}

// HandleFrame decodes one inbound frame and hands it to the owner loop.
func (o *Owner) HandleFrame(frame []byte) error {
	msg, err := o.serializer.DecodeMessage(frame)
	if err != nil {
		return err
	}
	return o.Handle(msg)
}

// Handle hands msg to the owner loop, blocking until the loop takes it.
func (o *Owner) Handle(msg protocol.Message) error {
	select {
	case o.inbound <- msg:
		return nil
	case <-o.done:
		return ErrOwnerClosed
	}
}

// Push implements socket.Outbound.
func (o *Owner) Push(msg protocol.Message) {
	frame, err := o.serializer.EncodeMessage(msg)
	if err != nil {
		o.logger.Error("encode push failed", "topic", msg.Topic, "event", msg.Event, "error", err)
		return
	}
	o.send(frame)
}

// Reply implements socket.Outbound.
func (o *Owner) Reply(r protocol.Reply) {
	frame, err := o.serializer.EncodeReply(r)
	if err != nil {
		o.logger.Error("encode reply failed", "topic", r.Topic, "error", err)
		return
	}
	o.send(frame)
}

func (o *Owner) send(frame []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if err := o.conn.Send(frame); err != nil {
		o.logger.Warn("outbound frame dropped, closing connection", "error", err)
		o.Close()
	}
}

// Run drives the connection until ctx ends, Close is called or a disconnect
// broadcast arrives for the socket ID. All bound processes are stopped
// before Run returns.
func (o *Owner) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var disconnects <-chan protocol.Broadcast
	if o.base.ID != "" && o.base.PubSub != nil {
		ch, unsubscribe, err := o.base.PubSub.Subscribe(o.base.ID)
		if err != nil {
			o.logger.Warn("disconnect subscription failed", "socket_id", o.base.ID, "error", err)
		} else {
			disconnects = ch
			defer unsubscribe()
		}
	}

	metrics.SocketOpened(string(o.base.Transport))
	o.publish(events.SocketConnected, o.socketData(""))
	o.logger.Info("socket connected", "socket_id", o.base.ID)

	reason := o.loop(ctx, disconnects)
	o.teardown(reason)
}

func (o *Owner) loop(ctx context.Context, disconnects <-chan protocol.Broadcast) string {
	for {
		select {
		case <-ctx.Done():
			return "context done"
		case <-o.shutdown:
			return "transport closed"
		case msg := <-o.inbound:
			o.handle(ctx, msg)
		case exit := <-o.exits:
			o.handleExit(exit)
		case b, ok := <-disconnects:
			if !ok {
				disconnects = nil
				continue
			}
			if b.Event == protocol.EventDisconnect {
				return "disconnect"
			}
		}
	}
}

func (o *Owner) handle(ctx context.Context, msg protocol.Message) {
	var bound *channel.Process
	if msg.Topic != protocol.TopicPhoenix {
		bound = o.reg.lookup(msg.Topic)
	}

	switch out := o.dispatcher.Dispatch(bound, msg, o.id, o.base).(type) {
	case dispatch.ReplyNow:
		metrics.Heartbeat()
		o.Reply(out.Reply)

	case dispatch.Registered:
		o.reg.bind(out.Reply.Topic, out.Process)
		o.channels.Store(int64(o.reg.len()))
		channel.Monitor(ctx, out.Process, o.exits)
		metrics.Join("ok")
		o.publish(events.ChannelJoined, events.ChannelData{Owner: o.id, Topic: out.Reply.Topic, Process: out.Process.ID()})
		o.Reply(out.Reply)

	case dispatch.JoinRejected:
		metrics.Join("rejected")
		o.publish(events.ChannelJoinReject, events.ChannelData{Owner: o.id, Topic: out.Reply.Topic, Reason: fmt.Sprint(out.Reply.Payload)})
		o.Reply(out.Reply)

	case dispatch.IgnoreError:
		if msg.Event == protocol.EventJoin {
			metrics.Join("unmatched")
		}
		o.Reply(out.Reply)

	case dispatch.Ack:
	}
}

func (o *Owner) handleExit(exit channel.Exit) {
	topic, ok := o.reg.topicOf(exit.Process)
	if !ok {
		o.logger.Debug("stale exit ignored", "process_id", exit.Process.ID())
		return
	}
	o.reg.unbind(topic)
	o.channels.Store(int64(o.reg.len()))

	normal := channel.IsNormalExit(exit.Reason)
	metrics.ChannelExited(normal)
	o.publish(events.ChannelExited, events.ChannelData{
		Owner:   o.id,
		Topic:   topic,
		Process: exit.Process.ID(),
		Reason:  fmt.Sprint(exit.Reason),
		Normal:  normal,
	})

	if normal {
		o.Push(protocol.CloseMessage(topic))
	} else {
		o.logger.Warn("channel exited abnormally", "topic", topic, "reason", fmt.Sprint(exit.Reason))
		o.Push(protocol.ErrorMessage(topic))
	}
}

func (o *Owner) teardown(reason string) {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	for topic, p := range o.reg.drain() {
		p.Stop(channel.ErrClosed)
		metrics.ChannelExited(true)
		o.logger.Debug("channel stopped on teardown", "topic", topic, "process_id", p.ID())
	}
	o.channels.Store(0)

	if err := o.conn.Close(); err != nil {
		o.logger.Debug("transport close failed", "error", err)
	}

	metrics.SocketClosed(string(o.base.Transport))
	o.publish(events.SocketClosed, o.socketData(reason))
	o.logger.Info("socket closed", "reason", reason)
	close(o.done)
}

func (o *Owner) socketData(reason string) events.SocketData {
	return events.SocketData{
		Owner:     o.id,
		SocketID:  o.base.ID,
		Transport: string(o.base.Transport),
		Reason:    reason,
	}
}

func (o *Owner) publish(eventType string, data any) {
	if o.events != nil {
		o.events.Publish(eventType, data)
	}
}
