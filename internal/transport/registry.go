package transport

import "github.com/mattjoyce/channelgw/internal/channel"

// registry maps joined topics to their processes. It is owned by a single
// Owner goroutine and is not safe for concurrent use.
type registry struct {
	byTopic   map[string]*channel.Process
	byProcess map[string]string
}

func newRegistry() *registry {
	return &registry{
		byTopic:   make(map[string]*channel.Process),
		byProcess: make(map[string]string),
	}
}

func (r *registry) lookup(topic string) *channel.Process {
	return r.byTopic[topic]
}

func (r *registry) bind(topic string, p *channel.Process) {
	if old, ok := r.byTopic[topic]; ok {
		delete(r.byProcess, old.ID())
	}
	r.byTopic[topic] = p
	r.byProcess[p.ID()] = topic
}

// topicOf returns the topic p is currently bound to. A process that was
// replaced or already removed is reported as not found.
func (r *registry) topicOf(p *channel.Process) (string, bool) {
	topic, ok := r.byProcess[p.ID()]
	if !ok || r.byTopic[topic] != p {
		return "", false
	}
	return topic, true
}

func (r *registry) unbind(topic string) {
	if p, ok := r.byTopic[topic]; ok {
		delete(r.byProcess, p.ID())
		delete(r.byTopic, topic)
	}
}

func (r *registry) len() int {
	return len(r.byTopic)
}

// drain removes and returns every binding.
func (r *registry) drain() map[string]*channel.Process {
	out := r.byTopic
	r.byTopic = make(map[string]*channel.Process)
	r.byProcess = make(map[string]string)
	return out
}
