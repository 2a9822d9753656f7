// Package redis provides the primary store backend, backed by a shared
// Redis deployment so every process in the fleet coordinates through
// the same state. Jobs and schedules are stored as JSON values with
// set/sorted-set indexes; locks use SET NX PX with Lua compare-on-token
// release and renewal; lifecycle broadcasts go out over PUBLISH.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/pulse/store"
)

var _ store.Store = (*Store)(nil)

// Store is a Redis-backed composite store.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides the key prefix. The default is "pulse:".
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// New creates a Store over an existing Redis client. The caller owns
// client configuration (addresses, auth, pooling); Close shuts the
// client down.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: "pulse:"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate is a no-op; Redis structures are created on first write.
func (s *Store) Migrate(_ context.Context) error {
	return nil
}

// Ping verifies the Redis deployment is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Publish broadcasts a payload on the prefixed channel.
func (s *Store) Publish(ctx context.Context, name string, payload []byte) error {
	if err := s.client.Publish(ctx, s.prefix+"events:"+name, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", name, err)
	}
	return nil
}

// Subscribe returns a subscription to the prefixed broadcast channel.
// Useful for game servers reacting to lifecycle broadcasts in real
// time.
func (s *Store) Subscribe(ctx context.Context, name string) *redis.PubSub {
	return s.client.Subscribe(ctx, s.prefix+"events:"+name)
}
