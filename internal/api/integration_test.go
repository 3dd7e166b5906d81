package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/channelgw/internal/channel"
	"github.com/mattjoyce/channelgw/internal/events"
	"github.com/mattjoyce/channelgw/internal/pubsub"
	"github.com/mattjoyce/channelgw/internal/rooms"
	"github.com/mattjoyce/channelgw/internal/socket"
	"github.com/mattjoyce/channelgw/internal/state"
	"github.com/mattjoyce/channelgw/internal/storage"
	"github.com/mattjoyce/channelgw/internal/transport"
)

type wireFrame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Ref     *string         `json:"ref"`
	Payload json.RawMessage `json:"payload"`
}

type gateway struct {
	srv      *httptest.Server
	owners   *transport.Manager
	sessions *state.SessionLog
}

func startGateway(t *testing.T) *gateway {
	t.Helper()

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "gw.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ps := pubsub.NewMemory()
	t.Cleanup(func() { _ = ps.Close() })
	hub := events.NewHub(64)
	sessions := state.NewSessionLog(db)
	stream, unsubscribe := hub.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		unsubscribe()
	})
	go sessions.Follow(ctx, stream)

	room := rooms.NewRoom(rooms.NewStore(db), 10)
	ep := &transport.Endpoint{
		Config:  socket.EndpointConfig{Name: "test", PubSub: ps},
		Handler: rooms.NewHandler(nil, room),
		Server:  channel.NewServer(channel.Options{JoinTimeout: time.Second}),
		Events:  hub,
		Owners:  transport.NewManager(),
	}

	s := New(testConfig(), Deps{
		WebSocket: transport.NewWebSocket(ep, transport.WebSocketOptions{}),
		LongPoll:  transport.NewLongPoll(ep, transport.LongPollOptions{Secret: "test-secret"}),
		Stats:     ep.Owners,
		PubSub:    ps,
		Events:    hub,
		Sessions:  sessions,
	}, testLogger())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &gateway{srv: srv, owners: ep.Owners, sessions: sessions}
}

func (g *gateway) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/socket/websocket?" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, topic, event, ref string, payload any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{
		"topic": topic, "event": event, "ref": ref, "payload": payload,
	}))
}

func read(t *testing.T, conn *websocket.Conn) wireFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f wireFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestRoomChatOverWebSocket(t *testing.T) {
	g := startGateway(t)
	ana := g.dial(t, "user=ana")
	bo := g.dial(t, "user=bo")

	send(t, ana, "room:lobby", "phx_join", "1", map[string]any{})
	joined := read(t, ana)
	assert.Equal(t, "phx_reply", joined.Event)
	assert.JSONEq(t, `{"status":"ok","response":{"messages":[]}}`, string(joined.Payload))

	send(t, bo, "room:lobby", "phx_join", "1", map[string]any{})
	read(t, bo)

	send(t, ana, "room:lobby", "new_msg", "2", map[string]any{"body": "hello"})

	byEvent := map[string]wireFrame{}
	for range 2 {
		f := read(t, ana)
		byEvent[f.Event] = f
	}
	require.Contains(t, byEvent, "phx_reply")
	require.Contains(t, byEvent, "new_msg")
	assert.Equal(t, "2", *byEvent["phx_reply"].Ref)
	assert.Nil(t, byEvent["new_msg"].Ref)

	pushed := read(t, bo)
	assert.Equal(t, "new_msg", pushed.Event)
	var msg rooms.Message
	require.NoError(t, json.Unmarshal(pushed.Payload, &msg))
	assert.Equal(t, "hello", msg.Body)
	assert.Equal(t, "ana", msg.Author)

	// A late joiner gets the history in its join reply.
	cy := g.dial(t, "user=cy")
	send(t, cy, "room:lobby", "phx_join", "1", map[string]any{})
	var reply struct {
		Response struct {
			Messages []rooms.Message `json:"messages"`
		} `json:"response"`
	}
	require.NoError(t, json.Unmarshal(read(t, cy).Payload, &reply))
	require.Len(t, reply.Response.Messages, 1)
	assert.Equal(t, "hello", reply.Response.Messages[0].Body)

	require.Eventually(t, func() bool {
		return g.owners.Stats().Channels == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAdminDisconnectClosesSocket(t *testing.T) {
	g := startGateway(t)
	ana := g.dial(t, "user=ana")
	send(t, ana, "room:lobby", "phx_join", "1", map[string]any{})
	read(t, ana)

	req, err := http.NewRequest(http.MethodPost, g.srv.URL+"/sockets/user_socket:ana/disconnect", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer admin-key")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.NoError(t, ana.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ana.ReadMessage()
	require.Error(t, err)

	require.Eventually(t, func() bool {
		return g.owners.Stats().Connections == 0
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		sessions, err := g.sessions.Recent(context.Background(), 10)
		return err == nil && len(sessions) == 1 && !sessions[0].Open()
	}, 2*time.Second, 10*time.Millisecond)
}
