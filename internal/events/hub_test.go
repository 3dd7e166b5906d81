package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubRingBufferKeepsNewest(t *testing.T) {
	h := NewHub(2)
	h.Publish(SocketConnected, SocketData{Owner: "a", Transport: "websocket"})
	h.Publish(ChannelJoined, ChannelData{Owner: "a", Topic: "room:1"})
	h.Publish(SocketClosed, SocketData{Owner: "a", Transport: "websocket"})

	snap := h.SnapshotSince(0)
	require.Len(t, snap, 2)
	assert.Equal(t, ChannelJoined, snap[0].Type)
	assert.Equal(t, SocketClosed, snap[1].Type)
	assert.Equal(t, int64(3), snap[1].ID)

	since := h.SnapshotSince(2)
	require.Len(t, since, 1)
	assert.Equal(t, int64(3), since[0].ID)
}

func TestHubSubscribeReceivesPayload(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe()

	h.Publish(ChannelExited, ChannelData{Owner: "o", Topic: "room:1", Reason: "left", Normal: true})

	ev := <-ch
	assert.Equal(t, ChannelExited, ev.Type)
	var data ChannelData
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	assert.Equal(t, ChannelData{Owner: "o", Topic: "room:1", Reason: "left", Normal: true}, data)

	cancel()
	_, open := <-ch
	assert.False(t, open)
}

func TestHubNilDataIsEmptyObject(t *testing.T) {
	h := NewHub(1)
	h.Publish("ping", nil)
	assert.JSONEq(t, `{}`, string(h.SnapshotSince(0)[0].Data))
}
