package dlq

import (
	"context"
	"time"

	"github.com/xraph/pulse"
	"github.com/xraph/pulse/id"
	"github.com/xraph/pulse/job"
)

// Replay re-enqueues a dead-lettered job as a new waiting job on its
// original queue and marks the entry as replayed. The new job gets a
// fresh ID, a zero attempt count, and runs immediately. The entry
// itself stays in the sink for the audit trail.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	j := &job.Job{
		Entity:      pulse.NewEntity(),
		ID:          id.NewJobID(),
		Queue:       entry.Queue,
		Type:        entry.JobType,
		Payload:     entry.Payload,
		State:       job.StateWaiting,
		MaxAttempts: entry.MaxAttempts,
		Tenant:      entry.Tenant,
		RunAt:       time.Now().UTC(),
	}

	if err := s.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	if err := s.store.MarkReplayed(ctx, entryID); err != nil {
		// The job is already enqueued. Log but don't fail.
		s.logger.Warn("mark replayed failed",
			"entry_id", entryID.String(),
			"error", err.Error(),
		)
		return j, nil
	}
	return j, nil
}
