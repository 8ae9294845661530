// Package events is an in-process topic bus.
package events

import (
	"context"
	"errors"
	"sync"
)

// Wildcard subscribes a handler to every topic.
const Wildcard = "*"

// Handler reacts to an event.
type Handler[E any] func(ctx context.Context, event E) error

// Bus provides in-process pub/sub keyed by topic.
type Bus[E any] struct {
	subscribers map[string][]Handler[E]
	mu          sync.RWMutex
}

// NewBus constructs an empty bus.
func NewBus[E any]() *Bus[E] {
	return &Bus[E]{subscribers: make(map[string][]Handler[E])}
}

// Subscribe registers a handler for a topic, or for all topics with Wildcard.
func (b *Bus[E]) Subscribe(topic string, handler Handler[E]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], handler)
}

// Subscribers returns the number of handlers that receive topic.
func (b *Bus[E]) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.subscribers[topic])
	if topic != Wildcard {
		n += len(b.subscribers[Wildcard])
	}
	return n
}

// Publish runs every handler of the topic in subscription order, wildcard
// handlers last. All handlers run even if some fail; their errors are joined.
func (b *Bus[E]) Publish(ctx context.Context, topic string, event E) error {
	b.mu.RLock()
	handlers := append([]Handler[E](nil), b.subscribers[topic]...)
	if topic != Wildcard {
		handlers = append(handlers, b.subscribers[Wildcard]...)
	}
	b.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
