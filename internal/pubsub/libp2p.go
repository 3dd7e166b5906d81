package pubsub

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	gossip "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	mdns "github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/mattjoyce/channelgw/internal/log"
	"github.com/mattjoyce/channelgw/internal/protocol"
)

// Libp2pOptions configures the gossipsub adapter.
type Libp2pOptions struct {
	ListenAddrs     []string
	Bootstrap       []string
	Rendezvous      string
	EnableMDNS      bool
	IdentityKeyFile string
	// TopicPrefix namespaces gateway topics on the shared gossip mesh.
	TopicPrefix string
}

// Libp2p relays broadcasts between gateway nodes with gossipsub. Broadcasts
// published locally are also delivered to local subscribers.
type Libp2p struct {
	ctx    context.Context
	cancel context.CancelFunc

	host       host.Host
	ps         *gossip.PubSub
	serializer protocol.Serializer
	prefix     string
	logger     *slog.Logger

	// mu guards topics. A topic handle is joined on first use and closed
	// once its last user releases it.
	mu     sync.Mutex
	topics map[string]*topicRef
}

type topicRef struct {
	topic *gossip.Topic
	refs  int
}

const (
	closeRetries    = 5
	closeRetryDelay = 50 * time.Millisecond
)

func NewLibp2p(parent context.Context, opts Libp2pOptions) (*Libp2p, error) {
	ctx, cancel := context.WithCancel(parent)
	logger := log.WithComponent("pubsub")

	listenAddrs := make([]ma.Multiaddr, 0, len(opts.ListenAddrs))
	for _, s := range opts.ListenAddrs {
		if s == "" {
			continue
		}
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("invalid listen multiaddr %q: %w", s, err)
		}
		listenAddrs = append(listenAddrs, a)
	}
	if len(listenAddrs) == 0 {
		a, _ := ma.NewMultiaddr("/ip4/0.0.0.0/tcp/0")
		listenAddrs = append(listenAddrs, a)
	}

	hostOpts := []libp2p.Option{libp2p.ListenAddrs(listenAddrs...)}
	if opts.IdentityKeyFile != "" {
		key, err := loadOrCreateIdentityKey(opts.IdentityKeyFile)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("load identity key: %w", err)
		}
		hostOpts = append(hostOpts, libp2p.Identity(key))
	}

	h, err := libp2p.New(hostOpts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create host: %w", err)
	}

	ps, err := gossip.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		cancel()
		return nil, fmt.Errorf("create gossipsub: %w", err)
	}

	p := &Libp2p{
		ctx:        ctx,
		cancel:     cancel,
		host:       h,
		ps:         ps,
		serializer: protocol.JSONSerializer{},
		prefix:     opts.TopicPrefix,
		logger:     logger,
		topics:     make(map[string]*topicRef),
	}

	if opts.EnableMDNS {
		service := mdns.NewMdnsService(h, opts.Rendezvous, &mdnsNotifee{host: h, logger: logger})
		if err := service.Start(); err != nil {
			logger.Warn("mdns start failed", "error", err)
		}
	}

	for _, raw := range opts.Bootstrap {
		if raw == "" {
			continue
		}
		addr, err := ma.NewMultiaddr(raw)
		if err != nil {
			logger.Warn("skip bootstrap addr", "addr", raw, "error", err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			logger.Warn("skip bootstrap addr", "addr", raw, "error", err)
			continue
		}
		if err := h.Connect(ctx, *info); err != nil {
			logger.Warn("bootstrap connect failed", "peer", info.ID.String(), "error", err)
		} else {
			logger.Info("connected bootstrap peer", "peer", info.ID.String())
		}
	}

	logger.Info("libp2p pubsub started", "peer_id", h.ID().String(), "listen", p.ListenAddrs())
	return p, nil
}

func (p *Libp2p) Broadcast(ctx context.Context, b protocol.Broadcast) error {
	data, err := p.serializer.EncodeBroadcast(b)
	if err != nil {
		return err
	}
	t, err := p.acquire(b.Topic)
	if err != nil {
		return err
	}
	defer p.release(b.Topic)
	return t.Publish(ctx, data)
}

func (p *Libp2p) Subscribe(topic string) (<-chan protocol.Broadcast, func(), error) {
	t, err := p.acquire(topic)
	if err != nil {
		return nil, nil, err
	}
	sub, err := t.Subscribe()
	if err != nil {
		p.release(topic)
		return nil, nil, err
	}

	out := make(chan protocol.Broadcast, subscriberBuffer)
	subCtx, subCancel := context.WithCancel(p.ctx)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(subCtx)
			if err != nil {
				return
			}
			b, err := p.serializer.DecodeBroadcast(msg.Data)
			if err != nil {
				p.logger.Debug("dropping undecodable broadcast", "topic", topic, "error", err)
				continue
			}
			select {
			case out <- b:
			default:
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			subCancel()
			sub.Cancel()
			p.release(topic)
		})
	}
	return out, cancel, nil
}

func (p *Libp2p) Close() error {
	p.cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, ref := range p.topics {
		_ = ref.topic.Close()
		delete(p.topics, name)
	}
	return p.host.Close()
}

// PeerID returns the local libp2p peer id.
func (p *Libp2p) PeerID() string {
	return p.host.ID().String()
}

// ListenAddrs returns dialable multiaddrs including the /p2p suffix.
func (p *Libp2p) ListenAddrs() []string {
	out := make([]string, 0, len(p.host.Addrs()))
	for _, addr := range p.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", addr.String(), p.host.ID().String()))
	}
	return out
}

func (p *Libp2p) acquire(name string) (*gossip.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ref, ok := p.topics[name]; ok {
		ref.refs++
		return ref.topic, nil
	}
	t, err := p.ps.Join(p.prefix + name)
	if err != nil {
		return nil, fmt.Errorf("join gossip topic %q: %w", name, err)
	}
	p.topics[name] = &topicRef{topic: t, refs: 1}
	return t, nil
}

// release drops one reference to name and leaves the gossip topic when none
// remain. gossipsub refuses to close a topic until cancelled subscriptions
// have been processed, so a failed close is retried in the background.
func (p *Libp2p) release(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ref, ok := p.topics[name]
	if !ok {
		return
	}
	if ref.refs--; ref.refs > 0 {
		return
	}
	if err := ref.topic.Close(); err != nil {
		go p.retryClose(name, ref)
		return
	}
	delete(p.topics, name)
}

func (p *Libp2p) retryClose(name string, ref *topicRef) {
	for range closeRetries {
		select {
		case <-p.ctx.Done():
			return
		case <-time.After(closeRetryDelay):
		}
		p.mu.Lock()
		if p.topics[name] != ref || ref.refs > 0 {
			p.mu.Unlock()
			return
		}
		err := ref.topic.Close()
		if err == nil {
			delete(p.topics, name)
		}
		p.mu.Unlock()
		if err == nil {
			return
		}
	}
	p.logger.Warn("gossip topic still in use, keeping handle", "topic", name)
}

// joined returns the number of gossip topics currently held.
func (p *Libp2p) joined() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.topics)
}

type mdnsNotifee struct {
	host   host.Host
	logger *slog.Logger
}

func (n *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if err := n.host.Connect(context.Background(), info); err != nil {
		n.logger.Debug("mdns connect failed", "peer", info.ID.String(), "error", err)
	}
}

func loadOrCreateIdentityKey(path string) (crypto.PrivKey, error) {
	if b, err := os.ReadFile(path); err == nil && len(b) > 0 {
		key, err := crypto.UnmarshalPrivateKey(b)
		if err != nil {
			return nil, fmt.Errorf("unmarshal private key: %w", err)
		}
		return key, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir key dir: %w", err)
	}
	key, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	raw, err := crypto.MarshalPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}
	return key, nil
}
