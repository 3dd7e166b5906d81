package pubsub

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/channelgw/internal/protocol"
)

func newLoopbackLibp2p(t *testing.T) *Libp2p {
	t.Helper()
	p, err := NewLibp2p(context.Background(), Libp2pOptions{
		ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"},
		TopicPrefix: "test/",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestLibp2pDeliversLocalBroadcast(t *testing.T) {
	p := newLoopbackLibp2p(t)

	ch, cancel, err := p.Subscribe("room:1")
	require.NoError(t, err)
	defer cancel()

	msg := protocol.Broadcast{Topic: "room:1", Event: "new_msg", Payload: map[string]any{"body": "hi"}}
	require.NoError(t, p.Broadcast(context.Background(), msg))

	select {
	case got := <-ch:
		assert.Equal(t, "room:1", got.Topic)
		assert.Equal(t, "new_msg", got.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast not delivered")
	}
}

func TestLibp2pReleasesTopicsWhenUnused(t *testing.T) {
	p := newLoopbackLibp2p(t)

	_, cancelA, err := p.Subscribe("room:1")
	require.NoError(t, err)
	_, cancelB, err := p.Subscribe("room:1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.joined())

	cancelA()
	cancelA()
	assert.Equal(t, 1, p.joined(), "topic still has a subscriber")

	cancelB()
	assert.Eventually(t, func() bool { return p.joined() == 0 }, 2*time.Second, 10*time.Millisecond)

	// Publishing to topics nobody listens on must not accumulate handles.
	for i := range 20 {
		b := protocol.Broadcast{Topic: fmt.Sprintf("room:%d", i), Event: "tick"}
		require.NoError(t, p.Broadcast(context.Background(), b))
	}
	assert.Equal(t, 0, p.joined())
}

func TestLibp2pRejoinsReleasedTopic(t *testing.T) {
	p := newLoopbackLibp2p(t)

	_, cancel, err := p.Subscribe("room:1")
	require.NoError(t, err)
	cancel()
	require.Eventually(t, func() bool { return p.joined() == 0 }, 2*time.Second, 10*time.Millisecond)

	ch, cancel, err := p.Subscribe("room:1")
	require.NoError(t, err)
	defer cancel()
	require.NoError(t, p.Broadcast(context.Background(), protocol.Broadcast{Topic: "room:1", Event: "again"}))

	select {
	case got := <-ch:
		assert.Equal(t, "again", got.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast not delivered after rejoin")
	}
}
