// Package stats exposes point-in-time queue depth counts for
// dashboards and capacity tuning. Counts are computed from the shared
// store on demand; concurrent job churn means a snapshot is a
// consistent-enough view, not a transaction.
package stats

import (
	"context"
	"fmt"

	"github.com/xraph/pulse/dlq"
	"github.com/xraph/pulse/job"
)

// Counts holds the per-state job totals for one queue.
type Counts struct {
	// Waiting is the number of jobs ready for pickup.
	Waiting int64 `json:"waiting"`
	// Delayed is the number of jobs parked for a future RunAt,
	// including retry backoff waits.
	Delayed int64 `json:"delayed"`
	// Active is the number of jobs currently executing.
	Active int64 `json:"active"`
	// Completed is the number of retained successful jobs.
	Completed int64 `json:"completed"`
	// Failed is the number of jobs that exhausted their attempts,
	// whether or not they have been recorded to the dead letter sink.
	// A terminal failure increments this exactly once.
	Failed int64 `json:"failed"`
}

// Snapshot is the full statistics view for one queue.
type Snapshot struct {
	Queue  string `json:"queue"`
	Counts Counts `json:"counts"`
}

// Service computes statistics from the job store and dead letter sink.
type Service struct {
	jobs job.Store
	sink dlq.Store
}

// NewService creates a stats Service.
func NewService(jobs job.Store, sink dlq.Store) *Service {
	return &Service{jobs: jobs, sink: sink}
}

// CountsFor returns the per-state totals for one queue.
func (s *Service) CountsFor(ctx context.Context, queue string) (Counts, error) {
	var c Counts
	states := []struct {
		state job.State
		dst   *int64
	}{
		{job.StateWaiting, &c.Waiting},
		{job.StateDelayed, &c.Delayed},
		{job.StateActive, &c.Active},
		{job.StateCompleted, &c.Completed},
	}
	for _, st := range states {
		n, err := s.jobs.CountJobs(ctx, job.CountOpts{Queue: queue, State: st.state})
		if err != nil {
			return Counts{}, fmt.Errorf("stats: count %s jobs: %w", st.state, err)
		}
		*st.dst = n
	}

	// A job counts as failed from the moment it exhausts its attempts;
	// moving on to the sink afterwards must not count it twice.
	failed, err := s.jobs.CountJobs(ctx, job.CountOpts{Queue: queue, State: job.StateFailed})
	if err != nil {
		return Counts{}, fmt.Errorf("stats: count failed jobs: %w", err)
	}
	deadLettered, err := s.jobs.CountJobs(ctx, job.CountOpts{Queue: queue, State: job.StateDeadLettered})
	if err != nil {
		return Counts{}, fmt.Errorf("stats: count dead-lettered jobs: %w", err)
	}
	c.Failed = failed + deadLettered
	return c, nil
}

// SnapshotAll returns a Snapshot for each of the given queues.
func (s *Service) SnapshotAll(ctx context.Context, queues []string) ([]Snapshot, error) {
	out := make([]Snapshot, 0, len(queues))
	for _, q := range queues {
		counts, err := s.CountsFor(ctx, q)
		if err != nil {
			return nil, err
		}
		out = append(out, Snapshot{Queue: q, Counts: counts})
	}
	return out, nil
}

// DLQDepth returns the total number of entries in the dead letter sink.
func (s *Service) DLQDepth(ctx context.Context) (int64, error) {
	n, err := s.sink.CountDLQ(ctx)
	if err != nil {
		return 0, fmt.Errorf("stats: count dead letters: %w", err)
	}
	return n, nil
}
