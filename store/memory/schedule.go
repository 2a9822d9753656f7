package memory

import (
	"context"
	"sort"

	"github.com/xraph/pulse"
	"github.com/xraph/pulse/schedule"
)

func copyEntry(e *schedule.Entry) *schedule.Entry {
	cp := *e
	if e.Payload != nil {
		cp.Payload = make([]byte, len(e.Payload))
		copy(cp.Payload, e.Payload)
	}
	return &cp
}

// RegisterSchedule persists a new schedule entry.
func (s *Store) RegisterSchedule(_ context.Context, entry *schedule.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, ok := s.schedules[entry.ID]; ok {
		return pulse.ErrDuplicateSchedule
	}
	s.schedules[entry.ID] = copyEntry(entry)
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (s *Store) GetSchedule(_ context.Context, scheduleID string) (*schedule.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	entry, ok := s.schedules[scheduleID]
	if !ok {
		return nil, pulse.ErrScheduleNotFound
	}
	return copyEntry(entry), nil
}

// ListSchedules returns all schedules ordered by ID.
func (s *Store) ListSchedules(_ context.Context) ([]*schedule.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	out := make([]*schedule.Entry, 0, len(s.schedules))
	for _, entry := range s.schedules {
		out = append(out, copyEntry(entry))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

// UpdateSchedule persists changes to an existing entry.
func (s *Store) UpdateSchedule(_ context.Context, entry *schedule.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, ok := s.schedules[entry.ID]; !ok {
		return pulse.ErrScheduleNotFound
	}
	s.schedules[entry.ID] = copyEntry(entry)
	return nil
}

// DeleteSchedule removes a schedule by ID.
func (s *Store) DeleteSchedule(_ context.Context, scheduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, ok := s.schedules[scheduleID]; !ok {
		return pulse.ErrScheduleNotFound
	}
	delete(s.schedules, scheduleID)
	return nil
}
