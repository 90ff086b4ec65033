package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

var _ Bus = (*RedisBus)(nil)

// RedisBus is the production Bus, backed by Redis pub/sub. Each Subscribe
// call opens its own pub/sub connection so a slow consumer only stalls
// itself.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: failed to marshal payload for %s: %w", topic, err)
	}

	if err = b.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("events: failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, topics...)

	// Force the subscribe round-trip so messages published after this call
	// returns are guaranteed to be seen.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("events: failed to subscribe to %v: %w", topics, err)
	}

	sub := &redisSubscription{
		ps: ps,
		ch: make(chan Message, 64),
	}
	go sub.forward()
	return sub, nil
}

type redisSubscription struct {
	ps *redis.PubSub
	ch chan Message
}

func (s *redisSubscription) forward() {
	defer close(s.ch)
	for msg := range s.ps.Channel() {
		select {
		case s.ch <- Message{Topic: msg.Channel, Payload: []byte(msg.Payload)}:
		default:
			zap.L().Warn("event subscription buffer full, dropping message",
				zap.String("topic", msg.Channel))
		}
	}
}

func (s *redisSubscription) C() <-chan Message {
	return s.ch
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}
