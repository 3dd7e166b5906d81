package transport

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mattjoyce/channelgw/internal/log"
	"github.com/mattjoyce/channelgw/internal/socket"
)

const (
	// DefaultWebSocketTimeout closes connections that sent nothing for this long.
	DefaultWebSocketTimeout = 60 * time.Second
	// DefaultMaxMessageBytes bounds one inbound frame.
	DefaultMaxMessageBytes = 64 * 1024

	writeWait       = 10 * time.Second
	sendQueueLength = 256
)

// ErrSendQueueFull is returned when a client does not read fast enough.
var ErrSendQueueFull = errors.New("send queue full")

// WebSocketOptions configures the WebSocket transport.
type WebSocketOptions struct {
	// Timeout is the idle timeout. Any inbound frame resets it.
	Timeout         time.Duration
	MaxMessageBytes int64
}

// WebSocket serves the websocket transport of an endpoint.
type WebSocket struct {
	ep       *Endpoint
	opts     WebSocketOptions
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewWebSocket(ep *Endpoint, opts WebSocketOptions) *WebSocket {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultWebSocketTimeout
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = DefaultMaxMessageBytes
	}
	return &WebSocket{
		ep:   ep,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The origin guard runs before the upgrade.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: log.WithComponent("websocket"),
	}
}

func (ws *WebSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !ws.ep.allowOrigin(w, r) {
		ws.logger.Warn("origin rejected", "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		return
	}

	base, err := ws.ep.connect(r.URL.Query(), socket.TransportWebSocket)
	if err != nil {
		ws.logger.Info("connect rejected", "remote", r.RemoteAddr, "error", err)
		writeConnectError(w, err)
		return
	}

	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		ws.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	wc := newWSConn(conn)
	owner := ws.ep.newOwner(base, wc)
	go wc.writeLoop()
	go ws.ep.run(r.Context(), owner)

	ws.readLoop(conn, owner)
	owner.Close()
	<-owner.Done()
}

func (ws *WebSocket) readLoop(conn *websocket.Conn, owner *Owner) {
	conn.SetReadLimit(ws.opts.MaxMessageBytes)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(ws.opts.Timeout))
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ws.logger.Debug("websocket read ended", "owner", owner.ID(), "error", err)
			}
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		if err := owner.HandleFrame(data); err != nil {
			if errors.Is(err, ErrOwnerClosed) {
				return
			}
			ws.logger.Warn("invalid frame dropped", "owner", owner.ID(), "error", err)
		}
	}
}

// wsConn is the Sender of a websocket connection. A single goroutine
// writes frames to the socket.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{
		conn:   conn,
		send:   make(chan []byte, sendQueueLength),
		closed: make(chan struct{}),
	}
}

func (c *wsConn) Send(frame []byte) error {
	select {
	case <-c.closed:
		return ErrOwnerClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *wsConn) writeLoop() {
	defer c.conn.Close()
	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				return
			}
		case <-c.closed:
			c.flush()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// flush writes whatever was queued before the close.
func (c *wsConn) flush() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *wsConn) write(frame []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}
