package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/pulse"
	"github.com/xraph/pulse/schedule"
)

func marshalSchedule(entry *schedule.Entry) (string, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("redis: marshal schedule %q: %w", entry.ID, err)
	}
	return string(raw), nil
}

// RegisterSchedule persists a new schedule entry. The SETNX result is
// the duplicate check: schedule IDs are deterministic, so a lost race
// here is another process registering the identical descriptor.
func (s *Store) RegisterSchedule(ctx context.Context, entry *schedule.Entry) error {
	raw, err := marshalSchedule(entry)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, s.scheduleKey(entry.ID), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("redis: register schedule %q: %w", entry.ID, err)
	}
	if !ok {
		return pulse.ErrDuplicateSchedule
	}
	if err := s.client.SAdd(ctx, s.schedulesKey(), entry.ID).Err(); err != nil {
		return fmt.Errorf("redis: index schedule %q: %w", entry.ID, err)
	}
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (s *Store) GetSchedule(ctx context.Context, scheduleID string) (*schedule.Entry, error) {
	raw, err := s.client.Get(ctx, s.scheduleKey(scheduleID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, pulse.ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get schedule %q: %w", scheduleID, err)
	}

	var entry schedule.Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("redis: unmarshal schedule %q: %w", scheduleID, err)
	}
	return &entry, nil
}

// ListSchedules returns all persisted schedules.
func (s *Store) ListSchedules(ctx context.Context) ([]*schedule.Entry, error) {
	ids, err := s.client.SMembers(ctx, s.schedulesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list schedules: %w", err)
	}

	out := make([]*schedule.Entry, 0, len(ids))
	for _, scheduleID := range ids {
		entry, err := s.GetSchedule(ctx, scheduleID)
		if err != nil {
			if errors.Is(err, pulse.ErrScheduleNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// UpdateSchedule persists changes to an existing entry.
func (s *Store) UpdateSchedule(ctx context.Context, entry *schedule.Entry) error {
	raw, err := marshalSchedule(entry)
	if err != nil {
		return err
	}

	// SET XX: only if it already exists.
	ok, err := s.client.SetXX(ctx, s.scheduleKey(entry.ID), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("redis: update schedule %q: %w", entry.ID, err)
	}
	if !ok {
		return pulse.ErrScheduleNotFound
	}
	return nil
}

// DeleteSchedule removes a schedule by ID.
func (s *Store) DeleteSchedule(ctx context.Context, scheduleID string) error {
	n, err := s.client.Del(ctx, s.scheduleKey(scheduleID)).Result()
	if err != nil {
		return fmt.Errorf("redis: delete schedule %q: %w", scheduleID, err)
	}
	if err := s.client.SRem(ctx, s.schedulesKey(), scheduleID).Err(); err != nil {
		return fmt.Errorf("redis: unindex schedule %q: %w", scheduleID, err)
	}
	if n == 0 {
		return pulse.ErrScheduleNotFound
	}
	return nil
}
