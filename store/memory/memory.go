// Package memory provides an in-process store backend. It implements
// the full composite store contract with plain maps under a mutex:
// useful for tests and single-process development, useless for fleet
// coordination since nothing is shared across processes.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/pulse"
	"github.com/xraph/pulse/dlq"
	"github.com/xraph/pulse/job"
	"github.com/xraph/pulse/schedule"
	"github.com/xraph/pulse/store"
)

var _ store.Store = (*Store)(nil)

// Store is an in-memory composite store.
type Store struct {
	mu     sync.Mutex
	closed bool

	jobs      map[string]*job.Job
	locks     map[string]lockEntry
	schedules map[string]*schedule.Entry
	entries   map[string]*dlq.Entry

	broadcasts []Broadcast
}

type lockEntry struct {
	token     string
	expiresAt time.Time
}

// Broadcast is a published message retained for inspection.
type Broadcast struct {
	Name    string
	Payload []byte
	At      time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		jobs:      make(map[string]*job.Job),
		locks:     make(map[string]lockEntry),
		schedules: make(map[string]*schedule.Entry),
		entries:   make(map[string]*dlq.Entry),
	}
}

// Migrate is a no-op; maps need no schema.
func (s *Store) Migrate(_ context.Context) error {
	return nil
}

// Ping always succeeds while the store is open.
func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return pulse.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Subsequent operations return
// pulse.ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Publish retains the message in memory. There is no cross-process
// fan-out to deliver to.
func (s *Store) Publish(_ context.Context, name string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return pulse.ErrStoreClosed
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.broadcasts = append(s.broadcasts, Broadcast{Name: name, Payload: cp, At: time.Now().UTC()})
	return nil
}

// Broadcasts returns the published messages, oldest first.
func (s *Store) Broadcasts() []Broadcast {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Broadcast, len(s.broadcasts))
	copy(out, s.broadcasts)
	return out
}

// checkOpen must be called with s.mu held.
func (s *Store) checkOpen() error {
	if s.closed {
		return pulse.ErrStoreClosed
	}
	return nil
}
