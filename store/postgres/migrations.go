package postgres

import (
	"context"
	"fmt"
)

// migrations are applied in order; each statement is idempotent so
// Migrate can run at every process start.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS pulse_jobs (
		id            TEXT PRIMARY KEY,
		queue         TEXT NOT NULL,
		type          TEXT NOT NULL,
		payload       BYTEA,
		state         TEXT NOT NULL,
		attempts_made INT NOT NULL DEFAULT 0,
		max_attempts  INT NOT NULL DEFAULT 1,
		last_error    TEXT NOT NULL DEFAULT '',
		tenant        TEXT NOT NULL DEFAULT '',
		worker_id     TEXT NOT NULL DEFAULT '',
		run_at        TIMESTAMPTZ NOT NULL,
		started_at    TIMESTAMPTZ,
		finished_at   TIMESTAMPTZ,
		heartbeat_at  TIMESTAMPTZ,
		timeout_ms    BIGINT NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS pulse_jobs_claim_idx
		ON pulse_jobs (queue, run_at)
		WHERE state IN ('waiting', 'delayed')`,
	`CREATE INDEX IF NOT EXISTS pulse_jobs_state_idx
		ON pulse_jobs (queue, state)`,
	`CREATE INDEX IF NOT EXISTS pulse_jobs_heartbeat_idx
		ON pulse_jobs (heartbeat_at)
		WHERE state = 'active'`,
	`CREATE TABLE IF NOT EXISTS pulse_locks (
		key        TEXT PRIMARY KEY,
		token      TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pulse_schedules (
		id          TEXT PRIMARY KEY,
		queue       TEXT NOT NULL,
		job_type    TEXT NOT NULL,
		spec        TEXT NOT NULL,
		payload     BYTEA,
		last_run_at TIMESTAMPTZ,
		next_run_at TIMESTAMPTZ,
		enabled     BOOLEAN NOT NULL DEFAULT TRUE,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pulse_dead_letters (
		id            TEXT PRIMARY KEY,
		job_id        TEXT NOT NULL,
		job_type      TEXT NOT NULL,
		queue         TEXT NOT NULL,
		payload       BYTEA,
		error         TEXT NOT NULL,
		stack         TEXT NOT NULL DEFAULT '',
		attempts_made INT NOT NULL DEFAULT 0,
		max_attempts  INT NOT NULL DEFAULT 0,
		tenant        TEXT NOT NULL DEFAULT '',
		failed_at     TIMESTAMPTZ NOT NULL,
		replayed_at   TIMESTAMPTZ,
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS pulse_dead_letters_failed_idx
		ON pulse_dead_letters (failed_at DESC)`,
}

// Migrate applies the schema.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migration %d: %w", i, err)
		}
	}
	return nil
}
