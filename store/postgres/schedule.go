package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/pulse"
	"github.com/xraph/pulse/schedule"
)

const scheduleColumns = `id, queue, job_type, spec, payload, last_run_at,
	next_run_at, enabled, created_at, updated_at`

func scanSchedule(row jobRow) (*schedule.Entry, error) {
	var entry schedule.Entry
	err := row.Scan(
		&entry.ID, &entry.Queue, &entry.JobType, &entry.Spec, &entry.Payload,
		&entry.LastRunAt, &entry.NextRunAt, &entry.Enabled,
		&entry.CreatedAt, &entry.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pulse.ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan schedule: %w", err)
	}
	return &entry, nil
}

// RegisterSchedule persists a new schedule entry.
func (s *Store) RegisterSchedule(ctx context.Context, entry *schedule.Entry) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO pulse_schedules (`+scheduleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		entry.ID, entry.Queue, entry.JobType, entry.Spec, entry.Payload,
		entry.LastRunAt, entry.NextRunAt, entry.Enabled,
		entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: register schedule %q: %w", entry.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return pulse.ErrDuplicateSchedule
	}
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (s *Store) GetSchedule(ctx context.Context, scheduleID string) (*schedule.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM pulse_schedules WHERE id = $1`,
		scheduleID,
	)
	return scanSchedule(row)
}

// ListSchedules returns all persisted schedules.
func (s *Store) ListSchedules(ctx context.Context) ([]*schedule.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+scheduleColumns+` FROM pulse_schedules ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list schedules: %w", err)
	}
	defer rows.Close()

	var out []*schedule.Entry
	for rows.Next() {
		entry, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list schedules: %w", err)
	}
	return out, nil
}

// UpdateSchedule persists changes to an existing entry.
func (s *Store) UpdateSchedule(ctx context.Context, entry *schedule.Entry) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pulse_schedules SET
			queue = $2, job_type = $3, spec = $4, payload = $5,
			last_run_at = $6, next_run_at = $7, enabled = $8, updated_at = $9
		WHERE id = $1`,
		entry.ID, entry.Queue, entry.JobType, entry.Spec, entry.Payload,
		entry.LastRunAt, entry.NextRunAt, entry.Enabled, entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update schedule %q: %w", entry.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return pulse.ErrScheduleNotFound
	}
	return nil
}

// DeleteSchedule removes a schedule by ID.
func (s *Store) DeleteSchedule(ctx context.Context, scheduleID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM pulse_schedules WHERE id = $1`, scheduleID,
	)
	if err != nil {
		return fmt.Errorf("postgres: delete schedule %q: %w", scheduleID, err)
	}
	if tag.RowsAffected() == 0 {
		return pulse.ErrScheduleNotFound
	}
	return nil
}
