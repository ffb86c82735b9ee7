// Package redis implements store.Store on Redis. Jobs are Hashes; each
// queue keeps a Sorted Set of ready jobs and a Sorted Set of delayed jobs
// keyed by due time. Claiming and dependency removal run as Lua scripts
// so concurrent workers never claim the same job and exactly one child
// completion drains a parent.
//
// The scripts touch keys derived from job IDs, so the store expects a
// single Redis node (or a client pinned to one), not Redis Cluster.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/conductor/dependency"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/job"
)

// Compile-time interface checks.
var (
	_ job.Store        = (*Store)(nil)
	_ dependency.Store = (*Store)(nil)
	_ dlq.Store        = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements store.Store backed by Redis.
type Store struct {
	client redis.Cmdable
	logger *slog.Logger
}

// New creates a Redis-backed store. The caller owns the client lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Migrate loads the Lua scripts so the first claim does not pay for it.
func (s *Store) Migrate(ctx context.Context) error {
	for _, sc := range []*redis.Script{dequeueScript, removeDependencyScript} {
		if err := sc.Load(ctx, s.client).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }
