package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var _ Bus = (*MemoryBus)(nil)

// MemoryBus is an in-process Bus for tests and single-node development.
// It only reaches listeners inside the same process, so it must not back a
// multi-instance deployment.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string]map[*memorySubscription]struct{}
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[string]map[*memorySubscription]struct{}),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: failed to marshal payload for %s: %w", topic, err)
	}

	b.mu.RLock()
	targets := make([]*memorySubscription, 0, len(b.subs[topic]))
	for sub := range b.subs[topic] {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		sub.deliver(Message{Topic: topic, Payload: data})
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	sub := &memorySubscription{
		bus:    b,
		topics: topics,
		ch:     make(chan Message, 64),
	}

	b.mu.Lock()
	for _, topic := range topics {
		if b.subs[topic] == nil {
			b.subs[topic] = make(map[*memorySubscription]struct{})
		}
		b.subs[topic][sub] = struct{}{}
	}
	b.mu.Unlock()

	return sub, nil
}

type memorySubscription struct {
	bus    *MemoryBus
	topics []string

	mu     sync.Mutex
	ch     chan Message
	closed bool
}

func (s *memorySubscription) deliver(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.ch <- msg:
	default:
		zap.L().Warn("event subscription buffer full, dropping message",
			zap.String("topic", msg.Topic))
	}
}

func (s *memorySubscription) C() <-chan Message {
	return s.ch
}

func (s *memorySubscription) Close() error {
	s.bus.mu.Lock()
	for _, topic := range s.topics {
		delete(s.bus.subs[topic], s)
		if len(s.bus.subs[topic]) == 0 {
			delete(s.bus.subs, topic)
		}
	}
	s.bus.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}
