// Package worker runs jobs: a polling pool claims due jobs from the
// store, and an executor drives each one through the middleware chain,
// the retry ladder, and finally the dead letter sink.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/pulse"
	"github.com/xraph/pulse/backoff"
	"github.com/xraph/pulse/dlq"
	"github.com/xraph/pulse/event"
	"github.com/xraph/pulse/id"
	"github.com/xraph/pulse/job"
	"github.com/xraph/pulse/middleware"
	"github.com/xraph/pulse/queue"
)

// Executor runs a single job to its next state: completed, delayed for
// retry, or failed and dead-lettered. All outcome bookkeeping happens
// here so the pool stays a pure claim-and-dispatch loop.
type Executor struct {
	jobs     job.Store
	registry *job.Registry
	queues   *queue.Registry
	sink     *dlq.Service
	bus      *event.Bus
	chain    middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor. The middleware chain may be nil, in
// which case handlers run bare.
func NewExecutor(
	jobs job.Store,
	registry *job.Registry,
	queues *queue.Registry,
	sink *dlq.Service,
	bus *event.Bus,
	chain middleware.Middleware,
	logger *slog.Logger,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		jobs:     jobs,
		registry: registry,
		queues:   queues,
		sink:     sink,
		bus:      bus,
		chain:    chain,
		logger:   logger,
	}
}

// Execute runs one already-claimed active job through the handler and
// records the outcome. The job's state on entry is active; on return it
// is completed, delayed, failed, or dead_lettered.
func (e *Executor) Execute(ctx context.Context, j *job.Job) {
	start := time.Now().UTC()
	j.StartedAt = &start
	e.emit(event.QueueEvent{
		Type:    event.JobStarted,
		Queue:   j.Queue,
		JobType: j.Type,
		JobID:   j.ID,
		Attempt: j.AttemptsMade + 1,
		At:      start,
	})

	result, err := e.run(ctx, j)
	duration := time.Since(start)

	if err != nil {
		e.handleFailure(ctx, j, err, duration)
		return
	}
	e.handleSuccess(ctx, j, result, duration)
}

// run resolves the handler and invokes it through the middleware chain.
// A job type with no registered handler fails like any other error and
// walks the same retry ladder; operators see it in the dead letter sink
// rather than losing the job silently.
func (e *Executor) run(ctx context.Context, j *job.Job) (*job.Result, error) {
	handler, ok := e.registry.Get(j.Queue, j.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", pulse.ErrNoHandler, j.Queue, j.Type)
	}

	base := func(ctx context.Context) (*job.Result, error) {
		return handler(ctx, j.Payload)
	}
	if e.chain == nil {
		return base(ctx)
	}
	return e.chain(ctx, j, base)
}

func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, result *job.Result, duration time.Duration) {
	now := time.Now().UTC()
	j.State = job.StateCompleted
	j.AttemptsMade++
	j.FinishedAt = &now
	j.LastError = ""
	j.Touch()
	if err := e.jobs.UpdateJob(ctx, j); err != nil {
		e.logger.Error("job completion update failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	if result != nil {
		result.Duration = duration
	}
	e.emit(event.QueueEvent{
		Type:     event.JobCompleted,
		Queue:    j.Queue,
		JobType:  j.Type,
		JobID:    j.ID,
		Attempt:  j.AttemptsMade,
		Duration: duration,
		At:       now,
	})
}

// handleFailure increments the attempt count and either schedules a
// delayed retry or marks the job permanently failed and records it in
// the dead letter sink.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, jobErr error, duration time.Duration) {
	now := time.Now().UTC()
	j.AttemptsMade++
	j.LastError = jobErr.Error()

	if j.AttemptsMade < j.MaxAttempts {
		delay := e.backoffFor(j.Queue).Delay(j.AttemptsMade)
		j.State = job.StateDelayed
		j.RunAt = now.Add(delay)
		j.WorkerID = id.WorkerID{}
		j.Touch()
		if err := e.jobs.UpdateJob(ctx, j); err != nil {
			e.logger.Error("job retry update failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			return
		}
		e.logger.Warn("job failed, retrying",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("queue", j.Queue),
			slog.Int("attempt", j.AttemptsMade),
			slog.Int("max_attempts", j.MaxAttempts),
			slog.Duration("retry_in", delay),
			slog.String("error", jobErr.Error()),
		)
		e.emit(event.QueueEvent{
			Type:    event.JobRetrying,
			Queue:   j.Queue,
			JobType: j.Type,
			JobID:   j.ID,
			Attempt: j.AttemptsMade,
			Error:   jobErr.Error(),
			At:      now,
		})
		return
	}

	j.State = job.StateFailed
	j.FinishedAt = &now
	j.Touch()
	if err := e.jobs.UpdateJob(ctx, j); err != nil {
		e.logger.Error("job failure update failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	e.logger.Error("job failed permanently",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.String("queue", j.Queue),
		slog.Int("attempts", j.AttemptsMade),
		slog.String("error", jobErr.Error()),
	)
	e.emit(event.QueueEvent{
		Type:     event.JobFailed,
		Queue:    j.Queue,
		JobType:  j.Type,
		JobID:    j.ID,
		Attempt:  j.AttemptsMade,
		Error:    jobErr.Error(),
		Duration: duration,
		At:       now,
	})

	e.deadLetter(ctx, j, jobErr)
}

// deadLetter records the exhausted job in the sink and, on success,
// advances the job to dead_lettered. Jobs already executing on the
// dead letter queue are never re-recorded.
func (e *Executor) deadLetter(ctx context.Context, j *job.Job, jobErr error) {
	if e.sink == nil || j.Queue == pulse.DeadLetterQueue {
		return
	}

	entry := e.sink.Record(ctx, j, jobErr, "")
	if entry == nil {
		// Sink failure was logged by the service; the job stays failed
		// and remains inspectable through the job store.
		return
	}

	j.State = job.StateDeadLettered
	j.Touch()
	if err := e.jobs.UpdateJob(ctx, j); err != nil {
		e.logger.Error("dead letter state update failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	e.emit(event.QueueEvent{
		Type:    event.JobDeadLettered,
		Queue:   j.Queue,
		JobType: j.Type,
		JobID:   j.ID,
		Attempt: j.AttemptsMade,
		Error:   jobErr.Error(),
		At:      time.Now().UTC(),
	})
}

func (e *Executor) backoffFor(queueName string) backoff.Strategy {
	if e.queues != nil {
		if strategy := e.queues.OptionsFor(queueName).Backoff; strategy != nil {
			return strategy
		}
	}
	return backoff.DefaultStrategy()
}

func (e *Executor) emit(evt event.QueueEvent) {
	if e.bus != nil {
		e.bus.Emit(evt)
	}
}
