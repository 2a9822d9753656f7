// Package dlq provides the dead letter sink: a terminal store for jobs
// that exhausted all retry attempts, kept with full diagnostics for
// manual inspection and optional replay.
package dlq

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/pulse/id"
	"github.com/xraph/pulse/job"
)

// Service provides high-level dead-letter operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
	logger   *slog.Logger
}

// NewService creates a DLQ service.
func NewService(store Store, jobStore job.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, jobStore: jobStore, logger: logger}
}

// Record builds an Entry from a permanently failed job and persists it.
// Recording is best-effort: a sink failure is logged and swallowed so it
// can never block the originating queue's own failure bookkeeping.
// Returns the entry on success, nil if recording failed.
func (s *Service) Record(ctx context.Context, j *job.Job, jobErr error, stack string) *Entry {
	now := time.Now().UTC()
	entry := &Entry{
		ID:           id.NewDLQID(),
		JobID:        j.ID,
		JobType:      j.Type,
		Queue:        j.Queue,
		Payload:      j.Payload,
		Error:        jobErr.Error(),
		Stack:        stack,
		AttemptsMade: j.AttemptsMade,
		MaxAttempts:  j.MaxAttempts,
		Tenant:       j.Tenant,
		FailedAt:     now,
		CreatedAt:    now,
	}

	if err := s.store.PushDLQ(ctx, entry); err != nil {
		s.logger.Error("dead letter record failed",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("queue", j.Queue),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return entry
}

// Store returns the underlying DLQ store for List, Get, Purge, and
// Count operations.
func (s *Service) Store() Store {
	return s.store
}
