package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/pulse"
	"github.com/xraph/pulse/id"
	"github.com/xraph/pulse/job"
)

// claimScript atomically pops due job ids from a queue's pending index
// and moves their state-set membership to active. Atomicity here is
// what guarantees a job is claimed by exactly one worker.
//
// KEYS: pending zset, waiting set, delayed set, active set
// ARGV: now (unix ms), limit
var claimScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
	redis.call("ZREM", KEYS[1], id)
	redis.call("SREM", KEYS[2], id)
	redis.call("SREM", KEYS[3], id)
	redis.call("SADD", KEYS[4], id)
end
return ids
`)

func marshalJob(j *job.Job) (string, error) {
	raw, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("redis: marshal job %s: %w", j.ID, err)
	}
	return string(raw), nil
}

func unmarshalJob(raw string) (*job.Job, error) {
	var j job.Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, fmt.Errorf("redis: unmarshal job: %w", err)
	}
	return &j, nil
}

// EnqueueJob persists a new job and indexes it for claiming.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	raw, err := marshalJob(j)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, s.jobKey(j.ID.String()), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("redis: enqueue job %s: %w", j.ID, err)
	}
	if !ok {
		return pulse.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.queuesKey(), j.Queue)
	pipe.SAdd(ctx, s.stateKey(j.Queue, string(j.State)), j.ID.String())
	if j.State == job.StateWaiting || j.State == job.StateDelayed {
		pipe.ZAdd(ctx, s.pendingKey(j.Queue), redis.Z{
			Score:  float64(j.RunAt.UnixMilli()),
			Member: j.ID.String(),
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: index job %s: %w", j.ID, err)
	}
	return nil
}

// DequeueJobs claims up to limit due jobs across the queues, FIFO by
// RunAt within each queue.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	now := time.Now().UTC()
	var claimed []*job.Job

	for _, queue := range queues {
		remaining := limit - len(claimed)
		if limit > 0 && remaining <= 0 {
			break
		}
		if limit <= 0 {
			remaining = -1 // Lua LIMIT count of -1 means unbounded
		}

		keys := []string{
			s.pendingKey(queue),
			s.stateKey(queue, string(job.StateWaiting)),
			s.stateKey(queue, string(job.StateDelayed)),
			s.stateKey(queue, string(job.StateActive)),
		}
		ids, err := claimScript.Run(ctx, s.client, keys, now.UnixMilli(), remaining).StringSlice()
		if err != nil {
			return nil, fmt.Errorf("redis: claim from %q: %w", queue, err)
		}

		for _, jobID := range ids {
			j, err := s.getRawJob(ctx, jobID)
			if err != nil {
				if errors.Is(err, pulse.ErrJobNotFound) {
					continue // index entry outlived the job; skip
				}
				return nil, err
			}
			j.State = job.StateActive
			j.UpdatedAt = now
			raw, err := marshalJob(j)
			if err != nil {
				return nil, err
			}
			if err := s.client.Set(ctx, s.jobKey(jobID), raw, 0).Err(); err != nil {
				return nil, fmt.Errorf("redis: store claimed job %s: %w", jobID, err)
			}
			claimed = append(claimed, j)
		}
	}
	return claimed, nil
}

func (s *Store) getRawJob(ctx context.Context, jobID string) (*job.Job, error) {
	raw, err := s.client.Get(ctx, s.jobKey(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, pulse.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get job %s: %w", jobID, err)
	}
	return unmarshalJob(raw)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getRawJob(ctx, jobID.String())
}

// UpdateJob persists changes and keeps the state indexes in sync.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	old, err := s.getRawJob(ctx, j.ID.String())
	if err != nil {
		return err
	}

	raw, err := marshalJob(j)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.jobKey(j.ID.String()), raw, 0)
	if old.State != j.State {
		pipe.SRem(ctx, s.stateKey(j.Queue, string(old.State)), j.ID.String())
		pipe.SAdd(ctx, s.stateKey(j.Queue, string(j.State)), j.ID.String())
	}
	if j.State == job.StateWaiting || j.State == job.StateDelayed {
		pipe.ZAdd(ctx, s.pendingKey(j.Queue), redis.Z{
			Score:  float64(j.RunAt.UnixMilli()),
			Member: j.ID.String(),
		})
	} else {
		pipe.ZRem(ctx, s.pendingKey(j.Queue), j.ID.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: update job %s: %w", j.ID, err)
	}
	return nil
}

// DeleteJob removes a job and its index entries.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	j, err := s.getRawJob(ctx, jobID.String())
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.jobKey(jobID.String()))
	pipe.SRem(ctx, s.stateKey(j.Queue, string(j.State)), jobID.String())
	pipe.ZRem(ctx, s.pendingKey(j.Queue), jobID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: delete job %s: %w", jobID, err)
	}
	return nil
}

func (s *Store) queueNames(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.queuesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list queues: %w", err)
	}
	return names, nil
}

// jobsInState loads the jobs in one state for the given queues.
func (s *Store) jobsInState(ctx context.Context, queues []string, state job.State) ([]*job.Job, error) {
	var out []*job.Job
	for _, queue := range queues {
		ids, err := s.client.SMembers(ctx, s.stateKey(queue, string(state))).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: members of %s/%s: %w", queue, state, err)
		}
		for _, jobID := range ids {
			j, err := s.getRawJob(ctx, jobID)
			if err != nil {
				if errors.Is(err, pulse.ErrJobNotFound) {
					continue
				}
				return nil, err
			}
			out = append(out, j)
		}
	}
	return out, nil
}

// ListJobsByState returns jobs in the given state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	queues := []string{opts.Queue}
	if opts.Queue == "" {
		var err error
		queues, err = s.queueNames(ctx)
		if err != nil {
			return nil, err
		}
	}

	matched, err := s.jobsInState(ctx, queues, state)
	if err != nil {
		return nil, err
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
	return matched, nil
}

// HeartbeatJob records liveness for an active job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	j, err := s.getRawJob(ctx, jobID.String())
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	j.HeartbeatAt = &now
	j.WorkerID = workerID
	j.UpdatedAt = now
	raw, err := marshalJob(j)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.jobKey(jobID.String()), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis: heartbeat job %s: %w", jobID, err)
	}
	return nil
}

// ReapStalledJobs returns active jobs whose heartbeat is older than the
// threshold.
func (s *Store) ReapStalledJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	queues, err := s.queueNames(ctx)
	if err != nil {
		return nil, err
	}
	active, err := s.jobsInState(ctx, queues, job.StateActive)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-threshold)
	var stalled []*job.Job
	for _, j := range active {
		last := j.UpdatedAt
		if j.HeartbeatAt != nil {
			last = *j.HeartbeatAt
		}
		if last.Before(cutoff) {
			stalled = append(stalled, j)
		}
	}
	return stalled, nil
}

// CountJobs returns the number of jobs matching the options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	queues := []string{opts.Queue}
	if opts.Queue == "" {
		var err error
		queues, err = s.queueNames(ctx)
		if err != nil {
			return 0, err
		}
	}

	states := []job.State{opts.State}
	if opts.State == "" {
		states = []job.State{
			job.StateWaiting, job.StateDelayed, job.StateActive,
			job.StateCompleted, job.StateFailed, job.StateDeadLettered,
		}
	}

	var total int64
	for _, queue := range queues {
		for _, state := range states {
			n, err := s.client.SCard(ctx, s.stateKey(queue, string(state))).Result()
			if err != nil {
				return 0, fmt.Errorf("redis: count %s/%s: %w", queue, state, err)
			}
			total += n
		}
	}
	return total, nil
}

// PurgeFinishedJobs removes completed jobs finished before the cutoff.
func (s *Store) PurgeFinishedJobs(ctx context.Context, before time.Time) (int64, error) {
	queues, err := s.queueNames(ctx)
	if err != nil {
		return 0, err
	}
	completed, err := s.jobsInState(ctx, queues, job.StateCompleted)
	if err != nil {
		return 0, err
	}

	var removed int64
	for _, j := range completed {
		if j.FinishedAt == nil || !j.FinishedAt.Before(before) {
			continue
		}
		if err := s.DeleteJob(ctx, j.ID); err != nil {
			if errors.Is(err, pulse.ErrJobNotFound) {
				continue
			}
			return removed, err
		}
		removed++
	}
	return removed, nil
}
