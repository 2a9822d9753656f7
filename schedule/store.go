package schedule

import "context"

// Store defines the persistence contract for recurring schedules.
type Store interface {
	// RegisterSchedule persists a new schedule entry. Returns
	// pulse.ErrDuplicateSchedule if the ID already exists.
	RegisterSchedule(ctx context.Context, entry *Entry) error

	// GetSchedule retrieves a schedule by its deterministic ID.
	GetSchedule(ctx context.Context, scheduleID string) (*Entry, error)

	// ListSchedules returns all persisted schedules.
	ListSchedules(ctx context.Context) ([]*Entry, error)

	// UpdateSchedule persists changes to an existing entry
	// (NextRunAt, LastRunAt, Enabled).
	UpdateSchedule(ctx context.Context, entry *Entry) error

	// DeleteSchedule removes a schedule by ID.
	DeleteSchedule(ctx context.Context, scheduleID string) error
}
