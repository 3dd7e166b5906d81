package transport

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/mattjoyce/channelgw/internal/log"
	"github.com/mattjoyce/channelgw/internal/socket"
)

const (
	// DefaultPollWindow is how long a poll waits for messages.
	DefaultPollWindow = 10 * time.Second
	// DefaultSessionTimeout ends sessions that stopped polling.
	DefaultSessionTimeout = 20 * time.Second

	maxBufferedFrames = 1024
	tokenContext      = "channelgw long-poll session token v1"
)

// Long-poll statuses carried in the response body.
const (
	pollOK       = 200
	pollNoData   = 204
	pollGone     = 410
	pollTooLarge = 413
)

// LongPollOptions configures the long-poll transport.
type LongPollOptions struct {
	Window         time.Duration
	SessionTimeout time.Duration
	// Secret keys session tokens. A random key is used when empty, which
	// invalidates tokens across restarts.
	Secret          string
	MaxMessageBytes int64
}

type pollResponse struct {
	Status   int               `json:"status"`
	Token    string            `json:"token,omitempty"`
	Messages []json.RawMessage `json:"messages,omitempty"`
}

// LongPoll serves the long-poll transport of an endpoint. Each session is
// backed by an Owner exactly like a websocket connection.
type LongPoll struct {
	ep   *Endpoint
	opts LongPollOptions
	key  [32]byte

	mu       sync.Mutex
	sessions map[string]*pollSession

	logger *slog.Logger
}

func NewLongPoll(ep *Endpoint, opts LongPollOptions) *LongPoll {
	if opts.Window <= 0 {
		opts.Window = DefaultPollWindow
	}
	if opts.SessionTimeout <= opts.Window {
		opts.SessionTimeout = 2 * opts.Window
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = DefaultMaxMessageBytes
	}

	lp := &LongPoll{
		ep:       ep,
		opts:     opts,
		sessions: make(map[string]*pollSession),
		logger:   log.WithComponent("longpoll"),
	}
	material := []byte(opts.Secret)
	if len(material) == 0 {
		material = make([]byte, 32)
		_, _ = rand.Read(material)
	}
	blake3.DeriveKey(tokenContext, material, lp.key[:])
	return lp
}

func (lp *LongPoll) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !lp.ep.allowOrigin(w, r) {
		lp.logger.Warn("origin rejected", "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		return
	}
	switch r.Method {
	case http.MethodGet:
		lp.poll(w, r)
	case http.MethodPost:
		lp.publish(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

// Sessions returns the number of open sessions.
func (lp *LongPoll) Sessions() int {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return len(lp.sessions)
}

func (lp *LongPoll) poll(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	s := lp.lookup(token)
	if s == nil {
		lp.open(w, r)
		return
	}

	s.touch()
	msgs := s.wait(r.Context(), lp.opts.Window)
	s.touch()

	if len(msgs) == 0 {
		writeJSON(w, http.StatusOK, pollResponse{Status: pollNoData, Token: token})
		return
	}
	writeJSON(w, http.StatusOK, pollResponse{Status: pollOK, Token: token, Messages: msgs})
}

func (lp *LongPoll) open(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	query.Del("token")
	base, err := lp.ep.connect(query, socket.TransportLongPoll)
	if err != nil {
		lp.logger.Info("connect rejected", "remote", r.RemoteAddr, "error", err)
		writeConnectError(w, err)
		return
	}

	id := uuid.NewString()
	s := newPollSession()
	s.owner = lp.ep.newOwner(base, s)

	lp.mu.Lock()
	lp.sessions[id] = s
	lp.mu.Unlock()

	go lp.ep.run(context.Background(), s.owner)
	go lp.expire(id, s)

	lp.logger.Debug("long-poll session opened", "owner", s.owner.ID())
	writeJSON(w, http.StatusOK, pollResponse{Status: pollGone, Token: lp.sign(id)})
}

func (lp *LongPoll) publish(w http.ResponseWriter, r *http.Request) {
	s := lp.lookup(r.URL.Query().Get("token"))
	if s == nil {
		writeJSON(w, http.StatusOK, pollResponse{Status: pollGone})
		return
	}
	s.touch()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, lp.opts.MaxMessageBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, pollResponse{Status: pollTooLarge})
		return
	}

	for _, frame := range splitFrames(r.Header.Get("Content-Type"), body) {
		if err := s.owner.HandleFrame(frame); err != nil {
			if errors.Is(err, ErrOwnerClosed) {
				writeJSON(w, http.StatusOK, pollResponse{Status: pollGone})
				return
			}
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, pollResponse{Status: pollOK})
}

// splitFrames returns the frames of a publish body: one per line for
// newline-delimited JSON, otherwise the whole body.
func splitFrames(contentType string, body []byte) [][]byte {
	if !strings.HasPrefix(contentType, "application/x-ndjson") {
		return [][]byte{body}
	}
	var frames [][]byte
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 4096), len(body)+1)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) > 0 {
			frames = append(frames, append([]byte(nil), line...))
		}
	}
	return frames
}

func (lp *LongPoll) lookup(token string) *pollSession {
	id, ok := lp.verify(token)
	if !ok {
		return nil
	}
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return lp.sessions[id]
}

// expire closes the session after it went unpolled for the session
// timeout and forgets it once its owner is done.
func (lp *LongPoll) expire(id string, s *pollSession) {
	ticker := time.NewTicker(lp.opts.SessionTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-s.owner.Done():
			lp.mu.Lock()
			delete(lp.sessions, id)
			lp.mu.Unlock()
			return
		case <-ticker.C:
			if s.idle() > lp.opts.SessionTimeout {
				lp.logger.Debug("long-poll session timed out", "owner", s.owner.ID())
				s.owner.Close()
			}
		}
	}
}

func (lp *LongPoll) mac(id string) string {
	h, _ := blake3.NewKeyed(lp.key[:])
	_, _ = h.Write([]byte(id))
	return hex.EncodeToString(h.Sum(nil))
}

func (lp *LongPoll) sign(id string) string {
	return id + "." + lp.mac(id)
}

func (lp *LongPoll) verify(token string) (string, bool) {
	id, sig, ok := strings.Cut(token, ".")
	if !ok || id == "" {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(sig), []byte(lp.mac(id))) != 1 {
		return "", false
	}
	return id, true
}

// pollSession buffers outbound frames between polls. It is the Sender of
// the session's Owner.
type pollSession struct {
	owner *Owner

	mu     sync.Mutex
	buf    []json.RawMessage
	notify chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
	lastSeen  atomic.Int64
}

func newPollSession() *pollSession {
	s := &pollSession{
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	s.touch()
	return s
}

func (s *pollSession) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
		return ErrOwnerClosed
	default:
	}
	if len(s.buf) >= maxBufferedFrames {
		return ErrSendQueueFull
	}
	s.buf = append(s.buf, json.RawMessage(append([]byte(nil), frame...)))
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

func (s *pollSession) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *pollSession) take() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.buf
	s.buf = nil
	return out
}

// wait returns buffered frames as soon as there are any, or nil after window.
func (s *pollSession) wait(ctx context.Context, window time.Duration) []json.RawMessage {
	timer := time.NewTimer(window)
	defer timer.Stop()
	for {
		if msgs := s.take(); len(msgs) > 0 {
			return msgs
		}
		select {
		case <-s.notify:
		case <-s.closed:
			return s.take()
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *pollSession) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *pollSession) idle() time.Duration {
	return time.Since(time.Unix(0, s.lastSeen.Load()))
}
