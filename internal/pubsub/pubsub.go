// Package pubsub fans Broadcasts out to every subscriber of a topic.
//
// Two adapters exist: Memory for a single node and Libp2p, which gossips
// broadcasts to other gateway nodes over libp2p gossipsub.
package pubsub

import (
	"context"
	"errors"

	"github.com/mattjoyce/channelgw/internal/protocol"
)

// ErrClosed is returned by operations on a closed adapter.
var ErrClosed = errors.New("pubsub closed")

// PubSub is the broadcast backend used by sockets and channels.
type PubSub interface {
	// Broadcast delivers b to every current subscriber of b.Topic.
	Broadcast(ctx context.Context, b protocol.Broadcast) error
	// Subscribe returns a stream of broadcasts for topic and a cancel func
	// that unsubscribes and closes the stream.
	Subscribe(topic string) (<-chan protocol.Broadcast, func(), error)
	Close() error
}

// subscriberBuffer bounds how far a slow subscriber may fall behind before
// broadcasts to it are dropped.
const subscriberBuffer = 64
