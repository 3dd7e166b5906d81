package pubsub

import (
	"context"
	"sync"

	"github.com/mattjoyce/channelgw/internal/protocol"
)

// Memory is a process-local PubSub.
type Memory struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan protocol.Broadcast
	closed bool
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[int]chan protocol.Broadcast)}
}

func (m *Memory) Broadcast(_ context.Context, b protocol.Broadcast) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for _, ch := range m.subs[b.Topic] {
		select {
		case ch <- b:
		default:
			// Don't let one slow subscriber stall every publisher.
		}
	}
	return nil
}

func (m *Memory) Subscribe(topic string) (<-chan protocol.Broadcast, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, nil, ErrClosed
	}
	if _, ok := m.subs[topic]; !ok {
		m.subs[topic] = make(map[int]chan protocol.Broadcast)
	}
	id := m.nextID
	m.nextID++
	ch := make(chan protocol.Broadcast, subscriberBuffer)
	m.subs[topic][id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if byTopic, ok := m.subs[topic]; ok {
			if sub, exists := byTopic[id]; exists {
				delete(byTopic, id)
				close(sub)
			}
			if len(byTopic) == 0 {
				delete(m.subs, topic)
			}
		}
	}
	return ch, cancel, nil
}

// Subscribers returns the number of live subscriptions for topic.
func (m *Memory) Subscribers(topic string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[topic])
}

// Close closes every subscription stream.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for topic, byTopic := range m.subs {
		for id, ch := range byTopic {
			close(ch)
			delete(byTopic, id)
		}
		delete(m.subs, topic)
	}
	return nil
}
