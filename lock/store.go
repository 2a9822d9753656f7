package lock

import (
	"context"
	"time"
)

// Store defines the coordination-store contract for distributed locks.
// All three operations must be atomic with respect to each other:
// acquisition is set-if-absent with TTL, release and renewal are
// compare-on-token so a stale holder can never disturb a new one.
type Store interface {
	// AcquireLock atomically stores key -> token with the given TTL if
	// the key is absent (or expired). Returns true if the lock was
	// acquired by this call.
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// ReleaseLock deletes the lock only if it currently holds token.
	// Returns true if the lock was released, false if the token did
	// not match (no-op).
	ReleaseLock(ctx context.Context, key, token string) (bool, error)

	// RenewLock extends the TTL only if the lock currently holds token.
	// Returns false if the token did not match, meaning the caller has
	// lost the lock.
	RenewLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
}
