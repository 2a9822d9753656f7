package memory

import (
	"context"
	"sort"
	"time"

	"github.com/xraph/pulse"
	"github.com/xraph/pulse/id"
	"github.com/xraph/pulse/job"
)

func copyJob(j *job.Job) *job.Job {
	cp := *j
	if j.Payload != nil {
		cp.Payload = make([]byte, len(j.Payload))
		copy(cp.Payload, j.Payload)
	}
	return &cp
}

// EnqueueJob persists a new job.
func (s *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	key := j.ID.String()
	if _, ok := s.jobs[key]; ok {
		return pulse.ErrJobAlreadyExists
	}
	s.jobs[key] = copyJob(j)
	return nil
}

// DequeueJobs claims up to limit due jobs, FIFO by RunAt within the
// given queues, and marks them active.
func (s *Store) DequeueJobs(_ context.Context, queues []string, limit int) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	wanted := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		wanted[q] = struct{}{}
	}

	now := time.Now().UTC()
	var due []*job.Job
	for _, j := range s.jobs {
		if _, ok := wanted[j.Queue]; !ok {
			continue
		}
		if j.State != job.StateWaiting && j.State != job.StateDelayed {
			continue
		}
		if j.RunAt.After(now) {
			continue
		}
		due = append(due, j)
	}
	sort.Slice(due, func(i, k int) bool {
		if !due[i].RunAt.Equal(due[k].RunAt) {
			return due[i].RunAt.Before(due[k].RunAt)
		}
		return due[i].CreatedAt.Before(due[k].CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*job.Job, 0, len(due))
	for _, j := range due {
		j.State = job.StateActive
		j.UpdatedAt = now
		claimed = append(claimed, copyJob(j))
	}
	return claimed, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	j, ok := s.jobs[jobID.String()]
	if !ok {
		return nil, pulse.ErrJobNotFound
	}
	return copyJob(j), nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	key := j.ID.String()
	if _, ok := s.jobs[key]; !ok {
		return pulse.ErrJobNotFound
	}
	s.jobs[key] = copyJob(j)
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	key := jobID.String()
	if _, ok := s.jobs[key]; !ok {
		return pulse.ErrJobNotFound
	}
	delete(s.jobs, key)
	return nil
}

// ListJobsByState returns jobs in the given state, oldest first.
func (s *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var matched []*job.Job
	for _, j := range s.jobs {
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		matched = append(matched, j)
	}
	sort.Slice(matched, func(i, k int) bool {
		return matched[i].CreatedAt.Before(matched[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	out := make([]*job.Job, 0, len(matched))
	for _, j := range matched {
		out = append(out, copyJob(j))
	}
	return out, nil
}

// HeartbeatJob records liveness for an active job.
func (s *Store) HeartbeatJob(_ context.Context, jobID id.JobID, workerID id.WorkerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	j, ok := s.jobs[jobID.String()]
	if !ok {
		return pulse.ErrJobNotFound
	}
	now := time.Now().UTC()
	j.HeartbeatAt = &now
	j.WorkerID = workerID
	j.UpdatedAt = now
	return nil
}

// ReapStalledJobs returns active jobs whose heartbeat is older than the
// threshold.
func (s *Store) ReapStalledJobs(_ context.Context, threshold time.Duration) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-threshold)
	var stalled []*job.Job
	for _, j := range s.jobs {
		if j.State != job.StateActive {
			continue
		}
		last := j.UpdatedAt
		if j.HeartbeatAt != nil {
			last = *j.HeartbeatAt
		}
		if last.Before(cutoff) {
			stalled = append(stalled, copyJob(j))
		}
	}
	return stalled, nil
}

// CountJobs returns the number of jobs matching the options.
func (s *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var n int64
	for _, j := range s.jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		n++
	}
	return n, nil
}

// PurgeFinishedJobs removes completed jobs finished before the cutoff.
func (s *Store) PurgeFinishedJobs(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var removed int64
	for key, j := range s.jobs {
		if j.State != job.StateCompleted {
			continue
		}
		if j.FinishedAt == nil || !j.FinishedAt.Before(before) {
			continue
		}
		delete(s.jobs, key)
		removed++
	}
	return removed, nil
}
