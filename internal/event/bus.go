// Package event provides a small synchronous publish/subscribe bus for
// framework events such as the mock toggle.
package event

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/avapiclient/internal/observability"
)

// Handler processes one event payload.
type Handler func(ctx context.Context, payload any) error

// Subscription is an active registration on a topic.
type Subscription interface {
	// ID returns the unique subscription identifier.
	ID() string
	// Topic returns the topic this subscription is for.
	Topic() string
	// Unsubscribe cancels the subscription. It is safe to call more than once.
	Unsubscribe()
}

// Bus delivers events to subscribers synchronously, in subscription order.
// Emit returns only after every handler has run.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]*subscription
	logger observability.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger for the bus.
func WithLogger(logger observability.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// NewBus creates an event bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		topics: make(map[string][]*subscription),
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h for topic.
func (b *Bus) Subscribe(topic string, h Handler) Subscription {
	sub := &subscription{id: uuid.NewString(), topic: topic, handler: h, bus: b}

	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], sub)
	b.mu.Unlock()

	b.logger.Debug("event subscription added",
		observability.String("topic", topic),
		observability.String("subscription_id", sub.id),
	)
	return sub
}

// Emit delivers payload to every subscriber of topic. Every handler runs
// even when an earlier one fails; failures are joined.
func (b *Bus) Emit(ctx context.Context, topic string, payload any) error {
	b.mu.RLock()
	subs := make([]*subscription, len(b.topics[topic]))
	copy(subs, b.topics[topic])
	b.mu.RUnlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.handler(ctx, payload); err != nil {
			b.logger.Warn("event handler failed",
				observability.String("topic", topic),
				observability.String("subscription_id", sub.id),
				observability.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s handler %s: %w", topic, sub.id, err))
		}
	}
	return errors.Join(errs...)
}

// Subscribers returns the number of subscribers of topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *Bus) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[sub.topic]
	for i, s := range subs {
		if s == sub {
			b.topics[sub.topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.topics[sub.topic]) == 0 {
		delete(b.topics, sub.topic)
	}
}

type subscription struct {
	id      string
	topic   string
	handler Handler
	bus     *Bus
	once    sync.Once
}

func (s *subscription) ID() string    { return s.id }
func (s *subscription) Topic() string { return s.topic }

func (s *subscription) Unsubscribe() {
	s.once.Do(func() { s.bus.remove(s) })
}
