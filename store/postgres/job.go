package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/pulse"
	"github.com/xraph/pulse/id"
	"github.com/xraph/pulse/job"
)

const jobColumns = `id, queue, type, payload, state, attempts_made, max_attempts,
	last_error, tenant, worker_id, run_at, started_at, finished_at, heartbeat_at,
	timeout_ms, created_at, updated_at`

type jobRow interface {
	Scan(dest ...any) error
}

func scanJob(row jobRow) (*job.Job, error) {
	var (
		j         job.Job
		jobID     string
		workerID  string
		timeoutMS int64
	)
	err := row.Scan(
		&jobID, &j.Queue, &j.Type, &j.Payload, &j.State, &j.AttemptsMade,
		&j.MaxAttempts, &j.LastError, &j.Tenant, &workerID, &j.RunAt,
		&j.StartedAt, &j.FinishedAt, &j.HeartbeatAt, &timeoutMS,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pulse.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan job: %w", err)
	}

	j.ID, err = id.ParseJobID(jobID)
	if err != nil {
		return nil, fmt.Errorf("postgres: job id %q: %w", jobID, err)
	}
	if workerID != "" {
		j.WorkerID, err = id.ParseWorkerID(workerID)
		if err != nil {
			return nil, fmt.Errorf("postgres: worker id %q: %w", workerID, err)
		}
	}
	j.Timeout = time.Duration(timeoutMS) * time.Millisecond
	return &j, nil
}

func workerIDText(workerID id.WorkerID) string {
	if workerID.IsNil() {
		return ""
	}
	return workerID.String()
}

// EnqueueJob persists a new job.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO pulse_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO NOTHING`,
		j.ID.String(), j.Queue, j.Type, j.Payload, j.State, j.AttemptsMade,
		j.MaxAttempts, j.LastError, j.Tenant, workerIDText(j.WorkerID), j.RunAt,
		j.StartedAt, j.FinishedAt, j.HeartbeatAt, j.Timeout.Milliseconds(),
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: enqueue job %s: %w", j.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return pulse.ErrJobAlreadyExists
	}
	return nil
}

// DequeueJobs claims up to limit due jobs with FOR UPDATE SKIP LOCKED,
// FIFO by run_at within the given queues.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `
		UPDATE pulse_jobs SET state = 'active', updated_at = now()
		WHERE id IN (
			SELECT id FROM pulse_jobs
			WHERE queue = ANY($1)
			  AND state IN ('waiting', 'delayed')
			  AND run_at <= now()
			ORDER BY run_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		queues, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: claim jobs: %w", err)
	}
	defer rows.Close()

	var claimed []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: claim jobs: %w", err)
	}
	return claimed, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM pulse_jobs WHERE id = $1`,
		jobID.String(),
	)
	return scanJob(row)
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pulse_jobs SET
			queue = $2, type = $3, payload = $4, state = $5, attempts_made = $6,
			max_attempts = $7, last_error = $8, tenant = $9, worker_id = $10,
			run_at = $11, started_at = $12, finished_at = $13, heartbeat_at = $14,
			timeout_ms = $15, updated_at = $16
		WHERE id = $1`,
		j.ID.String(), j.Queue, j.Type, j.Payload, j.State, j.AttemptsMade,
		j.MaxAttempts, j.LastError, j.Tenant, workerIDText(j.WorkerID), j.RunAt,
		j.StartedAt, j.FinishedAt, j.HeartbeatAt, j.Timeout.Milliseconds(),
		j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update job %s: %w", j.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return pulse.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pulse_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("postgres: delete job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return pulse.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs in the given state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM pulse_jobs WHERE state = $1`
	args := []any{string(state)}
	if opts.Queue != "" {
		query += ` AND queue = $2`
		args = append(args, opts.Queue)
	}
	query += ` ORDER BY created_at`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list %s jobs: %w", state, err)
	}
	defer rows.Close()

	var out []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list %s jobs: %w", state, err)
	}
	return out, nil
}

// HeartbeatJob records liveness for an active job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pulse_jobs SET heartbeat_at = now(), worker_id = $2, updated_at = now()
		WHERE id = $1`,
		jobID.String(), workerIDText(workerID),
	)
	if err != nil {
		return fmt.Errorf("postgres: heartbeat job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return pulse.ErrJobNotFound
	}
	return nil
}

// ReapStalledJobs returns active jobs whose heartbeat (or last update,
// when never heartbeated) is older than the threshold.
func (s *Store) ReapStalledJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM pulse_jobs
		WHERE state = 'active'
		  AND COALESCE(heartbeat_at, updated_at) < now() - ($1 * interval '1 millisecond')`,
		threshold.Milliseconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: reap stalled jobs: %w", err)
	}
	defer rows.Close()

	var stalled []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		stalled = append(stalled, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: reap stalled jobs: %w", err)
	}
	return stalled, nil
}

// CountJobs returns the number of jobs matching the options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT count(*) FROM pulse_jobs WHERE TRUE`
	var args []any
	if opts.Queue != "" {
		args = append(args, opts.Queue)
		query += fmt.Sprintf(` AND queue = $%d`, len(args))
	}
	if opts.State != "" {
		args = append(args, string(opts.State))
		query += fmt.Sprintf(` AND state = $%d`, len(args))
	}

	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count jobs: %w", err)
	}
	return n, nil
}

// PurgeFinishedJobs removes completed jobs finished before the cutoff.
func (s *Store) PurgeFinishedJobs(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM pulse_jobs
		WHERE state = 'completed' AND finished_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: purge finished jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}
