// Package mock provides an in-memory test double for the bus.Bus interface.
//
// Use Bus in unit tests to observe publishes and to inject inbound events
// without a live Redis. All fields are safe to set before calling any
// method; mutating them during a concurrent call is the caller's
// responsibility.
//
// Example:
//
//	b := &mock.Bus{}
//	sub, _ := b.Subscribe(ctx, bus.UserSubject("u1"), handler)
//	b.Emit(bus.UserSubject("u1"), []byte(`{"type":"world_update"}`))
package mock

import (
	"context"
	"path"
	"sync"

	"github.com/emberfield/waystone/internal/bus"
)

// PublishCall records a single invocation of Publish.
type PublishCall struct {
	// Subject is the subject passed to Publish.
	Subject string
	// Payload is the payload passed to Publish.
	Payload []byte
}

// Bus is a mock implementation of bus.Bus. The zero value is a connected
// bus that delivers every publish synchronously to matching subscribers.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int

	// PublishErr, if non-nil, is returned from Publish; no delivery happens.
	PublishErr error

	// SubscribeErr, if non-nil, is returned from Subscribe.
	SubscribeErr error

	// Disconnected makes Connected report false.
	Disconnected bool

	// PublishCalls records every invocation of Publish in order.
	PublishCalls []PublishCall
}

type subscriber struct {
	pattern string
	handler bus.Handler
}

// Publish records the call and synchronously delivers payload to every
// matching subscriber. Synchronous delivery keeps tests deterministic.
func (b *Bus) Publish(_ context.Context, subject string, payload []byte) error {
	b.mu.Lock()
	b.PublishCalls = append(b.PublishCalls, PublishCall{Subject: subject, Payload: payload})
	if b.PublishErr != nil {
		err := b.PublishErr
		b.mu.Unlock()
		return err
	}
	handlers := b.matching(subject)
	b.mu.Unlock()

	for _, h := range handlers {
		h(subject, payload)
	}
	return nil
}

// Emit delivers payload to matching subscribers without recording a
// publish call. Use it to simulate events produced elsewhere.
func (b *Bus) Emit(subject string, payload []byte) {
	b.mu.Lock()
	handlers := b.matching(subject)
	b.mu.Unlock()

	for _, h := range handlers {
		h(subject, payload)
	}
}

// matching returns the handlers subscribed to subject. Callers hold b.mu.
func (b *Bus) matching(subject string) []bus.Handler {
	var out []bus.Handler
	for _, s := range b.subs {
		if ok, _ := path.Match(s.pattern, subject); ok {
			out = append(out, s.handler)
		}
	}
	return out
}

// Subscribe registers h and returns a handle that removes it again.
func (b *Bus) Subscribe(_ context.Context, subject string, h bus.Handler) (*bus.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SubscribeErr != nil {
		return nil, b.SubscribeErr
	}
	if b.subs == nil {
		b.subs = make(map[int]*subscriber)
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscriber{pattern: subject, handler: h}

	return bus.NewSubscription(subject, func(context.Context) error {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
		return nil
	}), nil
}

// SubscriberCount reports how many subscriptions are currently active.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Connected reports the configured connection state.
func (b *Bus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.Disconnected
}

// Close drops all subscriptions.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
	return nil
}

// Reset clears all recorded calls. Thread-safe.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.PublishCalls = nil
}

// Ensure Bus implements bus.Bus at compile time.
var _ bus.Bus = (*Bus)(nil)
