// Package memory keeps bucket notifications in memory, for tests and for
// runs without a message bus.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Message is one recorded notification.
type Message struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher records notifications instead of sending them. A non-nil
// failure set with FailWith is returned by every Publish and nothing is
// recorded.
type Publisher struct {
	mu       sync.Mutex
	seq      int
	messages []Message
	fail     error
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes subsequent publishes return err. Nil restores success.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = err
}

// Publish records the notification under a sequential ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, p.fail)
	}
	p.seq++
	id := fmt.Sprintf("memory-%d", p.seq)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Payload: payload})
	return id, nil
}

// Messages returns a copy of every recorded notification in publish order.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}

// Topic returns the recorded notifications of one topic.
func (p *Publisher) Topic(topic string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Message
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
