// Package bus provides the pub/sub backbone that carries world-update
// events from the state store to connected sessions.
//
// Subjects form a dot-separated hierarchy. The runtime uses exactly one
// family of subjects: per-user world updates. Cross-player tooling can
// observe every stream through the wildcard subject.
package bus

import (
	"context"
	"sync"
)

const (
	// UserSubjectPrefix prefixes every per-user update subject.
	UserSubjectPrefix = "world.updates.user."

	// UserWildcard subscribes to every user's update stream at once.
	UserWildcard = UserSubjectPrefix + "*"
)

// UserSubject returns the subject carrying world updates for one user.
func UserSubject(userID string) string { return UserSubjectPrefix + userID }

// Handler consumes one message. Handlers run on their subscription's
// delivery goroutine; a slow handler delays later messages on the same
// subscription but never on other subscriptions.
type Handler func(subject string, payload []byte)

// Bus is the pub/sub client surface used by the runtime. Implementations
// must be safe for concurrent Publish and Subscribe calls.
type Bus interface {
	// Publish sends payload on subject. Publishing is fire-and-forget:
	// callers log a returned error and continue. A failed publish never
	// aborts the state write it follows.
	Publish(ctx context.Context, subject string, payload []byte) error

	// Subscribe registers h for messages on subject, which may contain a
	// trailing "*" wildcard. Messages on one subject are delivered in
	// publication order. The handler receives the concrete subject the
	// message was published on, never the wildcard.
	Subscribe(ctx context.Context, subject string, h Handler) (*Subscription, error)

	// Connected reports whether the backbone is currently reachable.
	Connected() bool

	// Close tears down all subscriptions and the underlying connection.
	Close() error
}

// Subscription is a handle on one active subscription. Its lifetime is
// bound to the connection that created it: sessions unsubscribe exactly
// once, during teardown.
type Subscription struct {
	subject  string
	cancel   func(context.Context) error
	stopOnce sync.Once
}

// NewSubscription builds a handle around an implementation's cancel hook.
func NewSubscription(subject string, cancel func(context.Context) error) *Subscription {
	return &Subscription{subject: subject, cancel: cancel}
}

// Subject returns the subscribed subject, wildcard included if one was used.
func (s *Subscription) Subject() string { return s.subject }

// Unsubscribe stops delivery and releases the handle. Calling it more than
// once is safe; only the first call takes effect.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			err = s.cancel(ctx)
		}
	})
	return err
}
