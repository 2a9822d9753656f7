package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only when it still holds the caller's
// token, so a stale holder can never evict a successor.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the TTL only when the lock still holds the
// caller's token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// AcquireLock takes the lock with SET NX PX: atomic set-if-absent with
// expiry, the canonical Redis lease.
func (s *Store) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.lockKey(key), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: acquire lock %q: %w", key, err)
	}
	return ok, nil
}

// ReleaseLock deletes the lock if the token matches.
func (s *Store) ReleaseLock(ctx context.Context, key, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{s.lockKey(key)}, token).Int()
	if err != nil {
		return false, fmt.Errorf("redis: release lock %q: %w", key, err)
	}
	return n == 1, nil
}

// RenewLock extends the lock TTL if the token matches.
func (s *Store) RenewLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, s.client, []string{s.lockKey(key)}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis: renew lock %q: %w", key, err)
	}
	return n == 1, nil
}
