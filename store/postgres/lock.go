package postgres

import (
	"context"
	"fmt"
	"time"
)

// AcquireLock inserts the lock row, or takes over an expired one. The
// conditional upsert is atomic: a live lease blocks the conflict-update
// path, so exactly one caller wins.
func (s *Store) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO pulse_locks (key, token, expires_at)
		VALUES ($1, $2, now() + ($3 * interval '1 millisecond'))
		ON CONFLICT (key) DO UPDATE
		SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at
		WHERE pulse_locks.expires_at <= now()`,
		key, token, ttl.Milliseconds(),
	)
	if err != nil {
		return false, fmt.Errorf("postgres: acquire lock %q: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseLock deletes the lock only when it still holds the token.
func (s *Store) ReleaseLock(ctx context.Context, key, token string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM pulse_locks WHERE key = $1 AND token = $2`,
		key, token,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: release lock %q: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// RenewLock extends the expiry only when the unexpired lock still holds
// the token.
func (s *Store) RenewLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pulse_locks
		SET expires_at = now() + ($3 * interval '1 millisecond')
		WHERE key = $1 AND token = $2 AND expires_at > now()`,
		key, token, ttl.Milliseconds(),
	)
	if err != nil {
		return false, fmt.Errorf("postgres: renew lock %q: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}
