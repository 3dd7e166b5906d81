package socket

import "github.com/mattjoyce/channelgw/internal/protocol"

//go:generate mockgen -destination=mocks/mock_socket.go -package=mocks github.com/mattjoyce/channelgw/internal/socket Handler,Channel

// Handler is implemented by applications to authorise connections and map
// topics to channels.
type Handler interface {
	// Connect accepts the client by returning a socket, usually the base
	// socket with assigns added, or rejects it by returning an error.
	Connect(params map[string]any, base *Socket) (*Socket, error)
	// ID returns the connection identity used for targeted disconnects.
	// ok=false means the connection is anonymous; an empty id with ok=true
	// is not allowed.
	ID(s *Socket) (id string, ok bool)
	// ChannelForTopic resolves the channel serving topic on transport.
	ChannelForTopic(topic string, transport Transport) (Channel, bool)
}

// Channel is the business logic bound to a topic. Each join runs the channel
// on its own worker; callbacks for one binding are never concurrent.
type Channel interface {
	// Join authorises the client for topic. The returned value is sent as
	// the ok reply; a non-nil error rejects the join.
	Join(topic string, payload any, s *Socket) (any, *Socket, error)
	// HandleIn handles an event pushed by the client. A non-nil error
	// crashes the channel.
	HandleIn(event string, payload any, s *Socket) (Result, error)
	// Terminate runs when the channel worker exits.
	Terminate(reason error, s *Socket)
}

// Result is what a channel returns from HandleIn.
type Result struct {
	// Status is empty when no reply should be sent.
	Status   protocol.Status
	Response any
	// Socket replaces the channel's socket when non-nil.
	Socket *Socket
	// Stop ends the channel with this reason after the reply is sent.
	Stop error
}

// NoReply keeps the channel running without answering the client.
func NoReply(s *Socket) Result {
	return Result{Socket: s}
}

// ReplyOK answers the client with an ok status.
func ReplyOK(response any, s *Socket) Result {
	return Result{Status: protocol.StatusOK, Response: response, Socket: s}
}

// ReplyError answers the client with an error status.
func ReplyError(response any, s *Socket) Result {
	return Result{Status: protocol.StatusError, Response: response, Socket: s}
}

// StopWith returns r with a stop reason.
func (r Result) StopWith(reason error) Result {
	r.Stop = reason
	return r
}
