package memory

import (
	"context"
	"time"
)

// AcquireLock stores key -> token with the TTL if the key is free or
// its current lease has expired.
func (s *Store) AcquireLock(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	if held, ok := s.locks[key]; ok && held.expiresAt.After(time.Now()) {
		return false, nil
	}
	s.locks[key] = lockEntry{token: token, expiresAt: time.Now().Add(ttl)}
	return true, nil
}

// ReleaseLock deletes the lock only when it still holds token.
func (s *Store) ReleaseLock(_ context.Context, key, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	held, ok := s.locks[key]
	if !ok || held.token != token {
		return false, nil
	}
	delete(s.locks, key)
	return true, nil
}

// RenewLock extends the TTL only when the unexpired lock still holds
// token.
func (s *Store) RenewLock(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	held, ok := s.locks[key]
	if !ok || held.token != token || !held.expiresAt.After(time.Now()) {
		return false, nil
	}
	s.locks[key] = lockEntry{token: token, expiresAt: time.Now().Add(ttl)}
	return true, nil
}
