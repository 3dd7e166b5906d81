package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/channelgw/internal/auth"
	"github.com/mattjoyce/channelgw/internal/events"
	"github.com/mattjoyce/channelgw/internal/protocol"
	"github.com/mattjoyce/channelgw/internal/pubsub"
	"github.com/mattjoyce/channelgw/internal/state"
	"github.com/mattjoyce/channelgw/internal/transport"
)

type fixedStats transport.Stats

func (f fixedStats) Stats() transport.Stats { return transport.Stats(f) }

type fakeSessions struct {
	sessions []state.Session
	err      error
	limit    int
}

func (f *fakeSessions) Recent(_ context.Context, limit int) ([]state.Session, error) {
	f.limit = limit
	return f.sessions, f.err
}

type failingPubSub struct{}

func (failingPubSub) Broadcast(context.Context, protocol.Broadcast) error {
	return errors.New("boom")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		Admin:  true,
		APIKey: "admin-key",
		Tokens: []auth.TokenConfig{
			{Token: "reader", Scopes: []string{auth.ScopeEventsRead, auth.ScopeSocketsRead}},
			{Token: "broadcaster", Scopes: []string{auth.ScopeBroadcast}},
		},
	}
}

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func subscribe(t *testing.T, ps *pubsub.Memory, topic string) <-chan protocol.Broadcast {
	t.Helper()
	stream, cancel, err := ps.Subscribe(topic)
	require.NoError(t, err)
	t.Cleanup(cancel)
	return stream
}

func nextBroadcast(t *testing.T, stream <-chan protocol.Broadcast) protocol.Broadcast {
	t.Helper()
	select {
	case b := <-stream:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
		return protocol.Broadcast{}
	}
}

func TestHealthz(t *testing.T) {
	s := New(Config{}, Deps{Stats: fixedStats{Connections: 2, Channels: 3, ByTransport: map[string]int{"websocket": 2}}}, testLogger())

	rec := do(t, s.Handler(), http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Connections)
	assert.Equal(t, 3, resp.Channels)
	assert.Equal(t, 2, resp.ByTransport["websocket"])
}

func TestHealthzWithoutStats(t *testing.T) {
	s := New(Config{}, Deps{}, testLogger())

	rec := do(t, s.Handler(), http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"connections":0`)
}

func TestMetricsEndpoint(t *testing.T) {
	s := New(Config{}, Deps{}, testLogger())

	rec := do(t, s.Handler(), http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "channelgw_socket_heartbeats_total")
}

func TestAdminRoutesDisabled(t *testing.T) {
	s := New(Config{APIKey: "admin-key"}, Deps{PubSub: pubsub.NewMemory()}, testLogger())

	rec := do(t, s.Handler(), http.MethodPost, "/broadcast", "admin-key", `{"topic":"t","event":"e"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminAuth(t *testing.T) {
	s := New(testConfig(), Deps{PubSub: pubsub.NewMemory()}, testLogger())
	h := s.Handler()

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"unknown token", "nope", http.StatusUnauthorized},
		{"missing scope", "reader", http.StatusForbidden},
		{"scoped token", "broadcaster", http.StatusAccepted},
		{"legacy admin key", "admin-key", http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/broadcast", tt.token, `{"topic":"room:1","event":"news"}`)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status >= 400 {
				var resp ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.NotEmpty(t, resp.Error)
			}
		})
	}
}

func TestBroadcastPublishes(t *testing.T) {
	ps := pubsub.NewMemory()
	t.Cleanup(func() { _ = ps.Close() })
	stream := subscribe(t, ps, "room:1")
	s := New(testConfig(), Deps{PubSub: ps}, testLogger())

	rec := do(t, s.Handler(), http.MethodPost, "/broadcast", "broadcaster", `{"topic":"room:1","event":"news","payload":{"n":1}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	b := nextBroadcast(t, stream)
	assert.Equal(t, "news", b.Event)
	assert.Equal(t, map[string]any{"n": json.Number("1")}, b.Payload)
}

func TestBroadcastDefaultsToEmptyPayload(t *testing.T) {
	ps := pubsub.NewMemory()
	t.Cleanup(func() { _ = ps.Close() })
	stream := subscribe(t, ps, "room:1")
	s := New(testConfig(), Deps{PubSub: ps}, testLogger())

	rec := do(t, s.Handler(), http.MethodPost, "/broadcast", "admin-key", `{"topic":"room:1","event":"news"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, map[string]any{}, nextBroadcast(t, stream).Payload)
}

func TestBroadcastValidation(t *testing.T) {
	s := New(testConfig(), Deps{PubSub: pubsub.NewMemory()}, testLogger())
	h := s.Handler()

	for name, body := range map[string]string{
		"invalid json":  `{`,
		"missing topic": `{"event":"news"}`,
		"missing event": `{"topic":"room:1","event":"  "}`,
		"bad payload":   `{"topic":"room:1","event":"news","payload":"`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/broadcast", "admin-key", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestBroadcastFailure(t *testing.T) {
	s := New(testConfig(), Deps{PubSub: failingPubSub{}}, testLogger())

	rec := do(t, s.Handler(), http.MethodPost, "/broadcast", "admin-key", `{"topic":"room:1","event":"news"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = do(t, s.Handler(), http.MethodPost, "/sockets/user_socket:ana/disconnect", "admin-key", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestDisconnectPublishesOnSocketTopic(t *testing.T) {
	ps := pubsub.NewMemory()
	t.Cleanup(func() { _ = ps.Close() })
	stream := subscribe(t, ps, "user_socket:ana")
	s := New(testConfig(), Deps{PubSub: ps}, testLogger())

	rec := do(t, s.Handler(), http.MethodPost, "/sockets/user_socket:ana/disconnect", "broadcaster", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, s.Handler(), http.MethodPost, "/sockets/user_socket:ana/disconnect", "admin-key", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, protocol.DisconnectBroadcast("user_socket:ana"), nextBroadcast(t, stream))
}

func TestSocketsListing(t *testing.T) {
	sessions := &fakeSessions{sessions: []state.Session{{Owner: "o1", Transport: "websocket"}}}
	s := New(testConfig(), Deps{
		Stats:    fixedStats{Connections: 1, ByTransport: map[string]int{"websocket": 1}},
		Sessions: sessions,
	}, testLogger())
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/sockets?limit=5", "reader", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SocketsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Live.Connections)
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, "o1", resp.Sessions[0].Owner)
	assert.Equal(t, 5, sessions.limit)

	rec = do(t, h, http.MethodGet, "/sockets?limit=zero", "reader", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	sessions.err = errors.New("db gone")
	rec = do(t, h, http.MethodGet, "/sockets", "reader", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, state.DefaultRecentLimit, sessions.limit)
}

func TestEventsStream(t *testing.T) {
	hub := events.NewHub(16)
	hub.Publish(events.SocketConnected, events.SocketData{Owner: "o1", Transport: "websocket"})
	s := New(testConfig(), Deps{Events: hub}, testLogger())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer reader")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 32)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	waitLine := func(want string) {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				require.True(t, ok, "stream ended before %q", want)
				if strings.HasPrefix(line, want) {
					return
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %q", want)
			}
		}
	}

	// Buffered event replayed first.
	waitLine("event: socket.connected")
	waitLine(`data: {"owner":"o1"`)

	hub.Publish(events.ChannelJoined, events.ChannelData{Owner: "o1", Topic: "room:lobby"})
	waitLine("event: channel.joined")
}

func TestEventsStreamFiltersByTypeAndResumes(t *testing.T) {
	hub := events.NewHub(16)
	hub.Publish(events.ChannelJoined, events.ChannelData{Owner: "o1", Topic: "room:old"})
	hub.Publish(events.SocketConnected, events.SocketData{Owner: "o2", Transport: "longpoll"})
	hub.Publish(events.ChannelJoined, events.ChannelData{Owner: "o2", Topic: "room:new"})
	s := New(testConfig(), Deps{Events: hub}, testLogger())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?type=channel.&last_event_id=1", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer reader")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var seen []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if line == ": ready" {
			break
		}
		if line != "" {
			seen = append(seen, line)
		}
	}
	assert.Equal(t, []string{
		"id: 3",
		"event: channel.joined",
		`data: {"owner":"o2","topic":"room:new"}`,
	}, seen)
}

func TestEventsRequiresScope(t *testing.T) {
	s := New(testConfig(), Deps{}, testLogger())

	rec := do(t, s.Handler(), http.MethodGet, "/events", "broadcaster", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("-3"))
	assert.Equal(t, int64(0), parseLastEventID("abc"))
	assert.Equal(t, int64(42), parseLastEventID("42"))
}
