// Package postgres provides a durable store backend on PostgreSQL via
// pgx. Claiming uses FOR UPDATE SKIP LOCKED so concurrent workers never
// block each other on the dequeue path; locks are rows with expiry
// upsert semantics; broadcasts ride pg_notify.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xraph/pulse/store"
)

var _ store.Store = (*Store)(nil)

// Store is a PostgreSQL-backed composite store.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store over an existing connection pool. The caller owns
// pool configuration; Close shuts the pool down.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool for the given DSN and wraps it.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Publish broadcasts a payload over pg_notify. Payloads above the
// NOTIFY limit (~8 KB) are refused by the server.
func (s *Store) Publish(ctx context.Context, name string, payload []byte) error {
	if _, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, "pulse_"+name, string(payload)); err != nil {
		return fmt.Errorf("postgres: publish %s: %w", name, err)
	}
	return nil
}
