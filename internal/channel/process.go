package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/mattjoyce/channelgw/internal/protocol"
	"github.com/mattjoyce/channelgw/internal/socket"
)

var (
	// ErrNormal stops a channel without signalling an error to the client.
	ErrNormal = errors.New("normal")
	// ErrShutdown is wrapped by every requested-shutdown reason.
	ErrShutdown = errors.New("shutdown")
	// ErrLeft is the exit reason after the client left the topic.
	ErrLeft = fmt.Errorf("%w: left", ErrShutdown)
	// ErrClosed is the exit reason when the owning connection went away.
	ErrClosed = fmt.Errorf("%w: connection closed", ErrShutdown)
	// ErrJoinTimeout is the exit reason of a worker whose join took too long.
	ErrJoinTimeout = fmt.Errorf("%w: join timeout", ErrShutdown)
	// ErrMailboxOverflow stops a worker that fell too far behind its client.
	ErrMailboxOverflow = errors.New("mailbox overflow")
)

// IsNormalExit reports whether reason is a normal or requested shutdown.
func IsNormalExit(reason error) bool {
	return reason == nil || errors.Is(reason, ErrNormal) || errors.Is(reason, ErrShutdown)
}

// Exit is delivered by Monitor after a process has terminated.
type Exit struct {
	Process *Process
	Reason  error
}

type envelope struct {
	msg   protocol.Message
	leave bool
}

// Process is one running channel worker.
type Process struct {
	id    string
	topic string

	// mu guards queue and exited. notify holds one pending wakeup.
	mu      sync.Mutex
	queue   []envelope
	limit   int
	exited  bool
	notify  chan struct{}
	stop    chan error
	done    chan struct{}

	stopOnce sync.Once
	reason   error
	logger   *slog.Logger
}

func newProcess(topic string, mailboxSize int, logger *slog.Logger) *Process {
	id := uuid.NewString()
	return &Process{
		id:      id,
		topic:   topic,
		limit:   mailboxSize,
		notify:  make(chan struct{}, 1),
		stop:    make(chan error, 1),
		done:    make(chan struct{}),
		logger:  logger.With("process_id", id, "topic", topic),
	}
}

// ID returns the process identity.
func (p *Process) ID() string { return p.id }

// Topic returns the topic the process serves.
func (p *Process) Topic() string { return p.topic }

// Done is closed after the worker has stopped handling messages.
func (p *Process) Done() <-chan struct{} { return p.done }

// Reason returns the exit reason. Only meaningful after Done is closed.
func (p *Process) Reason() error {
	<-p.done
	return p.reason
}

// Deliver queues msg for HandleIn without waiting on the worker. It returns
// false when the process has exited. A full mailbox stops the process with
// ErrMailboxOverflow.
func (p *Process) Deliver(msg protocol.Message) bool {
	return p.enqueue(envelope{msg: msg})
}

// Leave asks the process to leave its topic; the client gets an ok reply
// carrying ref from the worker itself. Leave is queued even when the
// mailbox is full.
func (p *Process) Leave(ref string) bool {
	return p.enqueue(envelope{msg: protocol.Message{Topic: p.topic, Event: protocol.EventLeave, Ref: ref}, leave: true})
}

func (p *Process) enqueue(env envelope) bool {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return false
	}
	if !env.leave && p.limit > 0 && len(p.queue) >= p.limit {
		p.mu.Unlock()
		p.logger.Warn("channel mailbox full, stopping", "limit", p.limit)
		p.Stop(ErrMailboxOverflow)
		return false
	}
	p.queue = append(p.queue, env)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
	return true
}

// next pops the oldest queued envelope and re-arms notify when more remain.
func (p *Process) next() (envelope, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return envelope{}, false
	}
	env := p.queue[0]
	p.queue[0] = envelope{}
	p.queue = p.queue[1:]
	if len(p.queue) > 0 {
		select {
		case p.notify <- struct{}{}:
		default:
		}
	}
	return env, true
}

// Pending returns the number of queued, unhandled envelopes.
func (p *Process) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Stop asks the process to terminate with reason. Only the first call counts.
func (p *Process) Stop(reason error) {
	p.stopOnce.Do(func() {
		p.stop <- reason
	})
}

// Monitor posts an Exit on exits once p has terminated, unless ctx ends first.
func Monitor(ctx context.Context, p *Process, exits chan<- Exit) {
	go func() {
		select {
		case <-p.done:
		case <-ctx.Done():
			return
		}
		select {
		case exits <- Exit{Process: p, Reason: p.reason}:
		case <-ctx.Done():
		}
	}()
}

// loop runs until the channel stops. sock is the socket returned by Join.
func (p *Process) loop(ch socket.Channel, sock *socket.Socket, broadcasts <-chan protocol.Broadcast) error {
	for {
		select {
		case reason := <-p.stop:
			p.terminate(ch, reason, sock)
			return reason

		case <-p.notify:
			env, ok := p.next()
			if !ok {
				continue
			}
			if env.leave {
				p.terminate(ch, ErrLeft, sock)
				_ = sock.Reply(protocol.Reply{Ref: env.msg.Ref, Topic: p.topic, Status: protocol.StatusOK, Payload: protocol.EmptyPayload()})
				return ErrLeft
			}
			next, stopReason := p.handleIn(ch, env.msg, sock)
			sock = next
			if stopReason != nil {
				p.terminate(ch, stopReason, sock)
				return stopReason
			}

		case b, ok := <-broadcasts:
			if !ok {
				broadcasts = nil
				continue
			}
			_ = sock.Push(b.Event, b.Payload)
		}
	}
}

func (p *Process) handleIn(ch socket.Channel, msg protocol.Message, sock *socket.Socket) (next *socket.Socket, stop error) {
	next = sock
	defer func() {
		if r := recover(); r != nil {
			stop = fmt.Errorf("channel panic in %s: %v", msg.Event, r)
		}
	}()

	res, err := ch.HandleIn(msg.Event, msg.Payload, sock)
	if err != nil {
		return sock, fmt.Errorf("handle %s: %w", msg.Event, err)
	}
	if res.Socket != nil {
		next = res.Socket
	}
	if res.Status != "" {
		_ = next.Reply(protocol.Reply{Ref: msg.Ref, Topic: p.topic, Status: res.Status, Payload: res.Response})
	}
	return next, res.Stop
}

func (p *Process) terminate(ch socket.Channel, reason error, sock *socket.Socket) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("channel terminate panicked", "panic", fmt.Sprint(r))
		}
	}()
	ch.Terminate(reason, sock)
}

func (p *Process) exit(reason error) {
	p.mu.Lock()
	p.exited = true
	p.queue = nil
	p.mu.Unlock()

	p.reason = reason
	if IsNormalExit(reason) {
		p.logger.Debug("channel exited", "reason", fmt.Sprint(reason))
	} else {
		p.logger.Error("channel crashed", "reason", reason.Error())
	}
	close(p.done)
}
