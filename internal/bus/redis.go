package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a [Bus] backed by Redis pub/sub. Wildcard subjects map onto
// pattern subscriptions. The underlying client reconnects on its own and
// re-establishes subscriptions; messages published while disconnected are
// dropped, which sessions tolerate through snapshot-version reconciliation.
type Redis struct {
	client *redis.Client
}

// RedisOption configures a [Redis] bus.
type RedisOption func(*redis.Options)

// WithPassword authenticates against Redis.
func WithPassword(password string) RedisOption {
	return func(o *redis.Options) { o.Password = password }
}

// WithDB selects the Redis logical database.
func WithDB(db int) RedisOption {
	return func(o *redis.Options) { o.DB = db }
}

// NewRedis creates a bus speaking to the Redis instance at addr
// (host:port). The connection is established lazily on first use.
func NewRedis(addr string, opts ...RedisOption) *Redis {
	options := &redis.Options{Addr: addr}
	for _, opt := range opts {
		opt(options)
	}
	return &Redis{client: redis.NewClient(options)}
}

// Publish implements [Bus].
func (r *Redis) Publish(ctx context.Context, subject string, payload []byte) error {
	if err := r.client.Publish(ctx, subject, payload).Err(); err != nil {
		return fmt.Errorf("bus: publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe implements [Bus]. Each subscription owns a dedicated pub/sub
// connection and one delivery goroutine, so subscriptions never block each
// other.
func (r *Redis) Subscribe(ctx context.Context, subject string, h Handler) (*Subscription, error) {
	if h == nil {
		return nil, errors.New("bus: nil handler")
	}

	var ps *redis.PubSub
	if strings.ContainsAny(subject, "*?") {
		ps = r.client.PSubscribe(ctx, subject)
	} else {
		ps = r.client.Subscribe(ctx, subject)
	}

	// Force the subscription onto the wire so that failures surface here
	// rather than silently on the delivery goroutine.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("bus: subscribe %s: %w", subject, err)
	}

	ch := ps.Channel()
	go func() {
		for msg := range ch {
			h(msg.Channel, []byte(msg.Payload))
		}
		slog.Debug("bus: delivery loop ended", "subject", subject)
	}()

	return NewSubscription(subject, func(context.Context) error {
		return ps.Close()
	}), nil
}

// Connected implements [Bus] with a short ping.
func (r *Redis) Connected() bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return r.client.Ping(ctx).Err() == nil
}

// Close implements [Bus]. Closing the client also terminates every
// subscription's delivery goroutine.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Ensure Redis implements Bus at compile time.
var _ Bus = (*Redis)(nil)
