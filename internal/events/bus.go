package events

import (
	"context"
)

// Message is a single payload received from a topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Subscription is one open set of topic subscriptions. Messages arrive on C
// until Close is called or the underlying connection goes away, at which
// point C is closed.
type Subscription interface {
	C() <-chan Message
	Close() error
}

// Bus is a publish/subscribe transport keyed by topic string. Delivery is
// at-least-once and best-effort; the durable store stays the source of truth
// for anything that matters.
type Bus interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
	Subscribe(ctx context.Context, topics ...string) (Subscription, error)
}
