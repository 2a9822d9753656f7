package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/pulse"
	"github.com/xraph/pulse/dlq"
	"github.com/xraph/pulse/id"
)

const dlqColumns = `id, job_id, job_type, queue, payload, error, stack,
	attempts_made, max_attempts, tenant, failed_at, replayed_at, created_at`

func scanDLQ(row jobRow) (*dlq.Entry, error) {
	var (
		entry   dlq.Entry
		entryID string
		jobID   string
	)
	err := row.Scan(
		&entryID, &jobID, &entry.JobType, &entry.Queue, &entry.Payload,
		&entry.Error, &entry.Stack, &entry.AttemptsMade, &entry.MaxAttempts,
		&entry.Tenant, &entry.FailedAt, &entry.ReplayedAt, &entry.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pulse.ErrDLQNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan dead letter: %w", err)
	}

	entry.ID, err = id.ParseDLQID(entryID)
	if err != nil {
		return nil, fmt.Errorf("postgres: dead letter id %q: %w", entryID, err)
	}
	entry.JobID, err = id.ParseJobID(jobID)
	if err != nil {
		return nil, fmt.Errorf("postgres: dead letter job id %q: %w", jobID, err)
	}
	return &entry, nil
}

// PushDLQ appends a dead letter entry.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pulse_dead_letters (`+dlqColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.ID.String(), entry.JobID.String(), entry.JobType, entry.Queue,
		entry.Payload, entry.Error, entry.Stack, entry.AttemptsMade,
		entry.MaxAttempts, entry.Tenant, entry.FailedAt, entry.ReplayedAt,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: push dead letter %s: %w", entry.ID, err)
	}
	return nil
}

// ListDLQ returns entries newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqColumns + ` FROM pulse_dead_letters WHERE TRUE`
	var args []any
	if opts.Queue != "" {
		args = append(args, opts.Queue)
		query += fmt.Sprintf(` AND queue = $%d`, len(args))
	}
	query += ` ORDER BY failed_at DESC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list dead letters: %w", err)
	}
	defer rows.Close()

	var out []*dlq.Entry
	for rows.Next() {
		entry, err := scanDLQ(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list dead letters: %w", err)
	}
	return out, nil
}

// GetDLQ retrieves an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+dlqColumns+` FROM pulse_dead_letters WHERE id = $1`,
		entryID.String(),
	)
	return scanDLQ(row)
}

// MarkReplayed stamps an entry's replayed_at.
func (s *Store) MarkReplayed(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pulse_dead_letters SET replayed_at = now() WHERE id = $1`,
		entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("postgres: mark replayed %s: %w", entryID, err)
	}
	if tag.RowsAffected() == 0 {
		return pulse.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes entries that failed before the cutoff.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM pulse_dead_letters WHERE failed_at < $1`, before,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: purge dead letters: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the number of entries in the sink.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM pulse_dead_letters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count dead letters: %w", err)
	}
	return n, nil
}
