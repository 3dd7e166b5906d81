package channel

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/channelgw/internal/log"
	"github.com/mattjoyce/channelgw/internal/protocol"
	"github.com/mattjoyce/channelgw/internal/socket"
)

const (
	// DefaultJoinTimeout bounds how long a join may block the connection.
	DefaultJoinTimeout = 5 * time.Second
	// DefaultMailboxSize is the number of undelivered messages a worker buffers.
	DefaultMailboxSize = 256
)

// JoinError is returned when a channel refuses a join. Reason becomes the
// payload of the error reply.
type JoinError struct {
	Reason any
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("join rejected: %v", e.Reason)
}

// Deny builds a JoinError with the conventional {"reason": reason} payload.
func Deny(reason string) error {
	return &JoinError{Reason: protocol.Reason(reason)}
}

// Options configures a Server.
type Options struct {
	JoinTimeout time.Duration
	MailboxSize int
}

// Server spawns and controls channel workers.
type Server struct {
	joinTimeout time.Duration
	mailboxSize int
	logger      *slog.Logger
}

// NewServer creates a Server, applying defaults for zero options.
func NewServer(opts Options) *Server {
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = DefaultMailboxSize
	}
	return &Server{
		joinTimeout: opts.JoinTimeout,
		mailboxSize: opts.MailboxSize,
		logger:      log.WithComponent("channel"),
	}
}

type joinResult struct {
	response any
	err      error
}

// Join spawns a worker for sock.Channel on sock.Topic and waits for its Join
// callback. On success the running process is returned; on failure the
// error is a *JoinError and no worker remains.
func (s *Server) Join(sock *socket.Socket, payload any) (any, *Process, error) {
	if sock.Channel == nil || sock.Topic == "" {
		return nil, nil, &JoinError{Reason: protocol.Reason("unmatched topic")}
	}

	p := newProcess(sock.Topic, s.mailboxSize, s.logger)
	results := make(chan joinResult, 1)
	go s.run(p, sock, payload, results)

	timer := time.NewTimer(s.joinTimeout)
	defer timer.Stop()

	select {
	case res := <-results:
		if res.err != nil {
			return nil, nil, res.err
		}
		s.logger.Debug("channel joined", "topic", sock.Topic, "process_id", p.ID(), "owner", sock.Owner)
		return res.response, p, nil
	case <-timer.C:
		p.Stop(ErrJoinTimeout)
		s.logger.Warn("channel join timed out", "topic", sock.Topic, "timeout", s.joinTimeout.String())
		return nil, nil, &JoinError{Reason: protocol.Reason("join timeout")}
	}
}

// Leave asks p to leave its topic. It does not wait for the worker.
func (s *Server) Leave(p *Process, ref string) {
	if !p.Leave(ref) {
		s.logger.Debug("leave for exited process ignored", "process_id", p.ID(), "topic", p.Topic())
	}
}

func (s *Server) run(p *Process, sock *socket.Socket, payload any, results chan<- joinResult) {
	response, joined, err := callJoin(sock.Channel, sock.Topic, payload, sock)
	if err != nil {
		results <- joinResult{err: err}
		p.exit(ErrNormal)
		return
	}
	if joined == nil {
		joined = sock
	}

	var broadcasts <-chan protocol.Broadcast
	unsubscribe := func() {}
	if joined.PubSub != nil {
		ch, cancel, err := joined.PubSub.Subscribe(joined.Topic)
		if err != nil {
			s.logger.Warn("channel pubsub subscribe failed", "topic", joined.Topic, "error", err)
		} else {
			broadcasts, unsubscribe = ch, cancel
		}
	}

	results <- joinResult{response: response}
	reason := p.loop(sock.Channel, joined, broadcasts)
	unsubscribe()
	p.exit(reason)
}

func callJoin(ch socket.Channel, topic string, payload any, sock *socket.Socket) (response any, joined *socket.Socket, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &JoinError{Reason: protocol.Reason("join crashed")}
		}
	}()
	response, joined, err = ch.Join(topic, payload, sock)
	if err != nil {
		var je *JoinError
		if errors.As(err, &je) {
			return nil, nil, je
		}
		return nil, nil, &JoinError{Reason: protocol.Reason(err.Error())}
	}
	if response == nil {
		response = protocol.EmptyPayload()
	}
	return response, joined, nil
}
