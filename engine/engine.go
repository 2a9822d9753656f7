// Package engine assembles the subsystems into a runnable unit: job
// registry, queue registry, lock manager, scheduler, worker pool, dead
// letter sink, and drain controller, all sharing one store.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/xraph/pulse"
	"github.com/xraph/pulse/dlq"
	"github.com/xraph/pulse/drain"
	"github.com/xraph/pulse/event"
	"github.com/xraph/pulse/id"
	"github.com/xraph/pulse/job"
	"github.com/xraph/pulse/lock"
	"github.com/xraph/pulse/middleware"
	"github.com/xraph/pulse/queue"
	"github.com/xraph/pulse/schedule"
	"github.com/xraph/pulse/stats"
	"github.com/xraph/pulse/store"
	"github.com/xraph/pulse/worker"
)

// Engine is the top-level coordinator. Build one with Build, register
// job definitions and schedules, then Start it.
type Engine struct {
	cfg    pulse.Config
	store  store.Store
	logger *slog.Logger

	registry  *job.Registry
	queues    *queue.Registry
	locks     *lock.Manager
	sink      *dlq.Service
	bus       *event.Bus
	broadcast *event.BestEffort
	registrar *schedule.Registrar
	scheduler *schedule.Scheduler
	pool      *worker.Pool
	drainer   *drain.Controller
	stats     *stats.Service

	userMiddleware []middleware.Middleware

	started atomic.Bool
	logStop func()
}

// Build constructs an Engine over the given store.
func Build(st store.Store, cfg pulse.Config, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, pulse.ErrNoStore
	}

	e := &Engine{
		cfg:      cfg,
		store:    st,
		logger:   slog.Default(),
		registry: job.NewRegistry(),
		queues:   queue.NewRegistry(queue.DefaultOptions()),
		bus:      event.NewBus(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.locks = lock.NewManager(st, e.logger)
	e.sink = dlq.NewService(st, st, e.logger)
	e.registrar = schedule.NewRegistrar(st, e.logger)
	e.stats = stats.NewService(st, st)
	if e.broadcast == nil {
		e.broadcast = event.NewBestEffort(nil, e.logger)
	}

	chain := middleware.Chain(e.buildMiddleware()...)
	executor := worker.NewExecutor(st, e.registry, e.queues, e.sink, e.bus, chain, e.logger)
	e.pool = worker.NewPool(cfg, st, e.queues, executor, e.bus, e.logger)
	e.drainer = drain.NewController(cfg, e.pool, e.queues, st, e.logger)
	e.scheduler = schedule.NewScheduler(st, e.locks, e.EnqueueRaw, e, e.logger,
		schedule.WithTickInterval(cfg.SchedulerTick),
		schedule.WithLeaderTTL(cfg.LeaderTTL),
	)
	return e, nil
}

// buildMiddleware composes the execution chain, outermost first:
// logging wraps everything, recovery converts panics before retry
// accounting, then metrics, tracing, the per-job timeout, and finally
// any user middleware closest to the handler.
func (e *Engine) buildMiddleware() []middleware.Middleware {
	mws := []middleware.Middleware{
		middleware.Logging(e.logger),
		middleware.Recover(e.logger),
		middleware.Metrics(),
		middleware.Tracing(),
		middleware.Timeout(e.logger),
	}
	return append(mws, e.userMiddleware...)
}

// Register adds a typed job definition to the engine's registry and
// applies its queue options when provided.
func Register[T any](e *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(e.registry, def)
}

// DeclareSchedule declares a recurring schedule. Declarations are
// reconciled against the store when Start runs.
func (e *Engine) DeclareSchedule(d schedule.Descriptor) {
	e.registrar.Declare(d)
}

// ConfigureQueue sets per-queue options (backoff, concurrency, rate
// limits, retention).
func (e *Engine) ConfigureQueue(name string, opts queue.Options) {
	e.queues.Configure(name, opts)
}

// ConfigureTenant sets per-tenant concurrency limits within a queue.
func (e *Engine) ConfigureTenant(opts queue.TenantOptions) {
	e.queues.ConfigureTenant(opts)
}

// Enqueue marshals a typed payload and enqueues a job for it.
func Enqueue[T any](ctx context.Context, e *Engine, queueName, jobType string, payload T, opts ...job.Option) (id.JobID, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return id.JobID{}, fmt.Errorf("engine: marshal payload for %s/%s: %w", queueName, jobType, err)
	}
	return e.EnqueueRaw(ctx, queueName, jobType, raw, opts...)
}

// EnqueueRaw enqueues a job with a pre-marshalled payload. Options
// default from the registered definition for the (queue, jobType) pair.
func (e *Engine) EnqueueRaw(ctx context.Context, queueName, jobType string, payload []byte, opts ...job.Option) (id.JobID, error) {
	if e.drainer.Phase() != drain.PhaseRunning {
		return id.JobID{}, pulse.ErrDraining
	}

	o := e.registry.DefaultsFor(queueName, jobType)
	for _, opt := range opts {
		opt(&o)
	}

	now := time.Now().UTC()
	runAt := o.RunAt
	state := job.StateWaiting
	if runAt.IsZero() {
		runAt = now
	} else if runAt.After(now) {
		state = job.StateDelayed
	}

	j := &job.Job{
		Entity:      pulse.NewEntity(),
		ID:          id.NewJobID(),
		Queue:       queueName,
		Type:        jobType,
		Payload:     payload,
		State:       state,
		MaxAttempts: o.MaxAttempts,
		Tenant:      o.Tenant,
		RunAt:       runAt,
		Timeout:     o.Timeout,
	}
	if err := e.store.EnqueueJob(ctx, j); err != nil {
		return id.JobID{}, fmt.Errorf("engine: enqueue %s/%s: %w", queueName, jobType, err)
	}

	e.bus.Emit(event.QueueEvent{
		Type:    event.JobEnqueued,
		Queue:   queueName,
		JobType: jobType,
		JobID:   j.ID,
		At:      now,
	})
	return j.ID, nil
}

// TriggerNow fires a registered schedule immediately, outside its
// normal cadence, enqueueing one job with the schedule's payload. The
// schedule's own NextRunAt is untouched.
func (e *Engine) TriggerNow(ctx context.Context, queueName, jobType string) (id.JobID, error) {
	scheduleID := schedule.Descriptor{Queue: queueName, JobType: jobType}.ID()
	entry, err := e.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return id.JobID{}, err
	}

	jobID, err := e.EnqueueRaw(ctx, entry.Queue, entry.JobType, entry.Payload)
	if err != nil {
		return id.JobID{}, err
	}
	e.logger.Info("schedule triggered manually",
		slog.String("schedule_id", scheduleID),
		slog.String("job_id", jobID.String()),
	)
	return jobID, nil
}

// Start validates the configuration, reconciles schedules, and launches
// the scheduler and worker pool. Every declared schedule must have a
// registered handler: a schedule firing into a handlerless queue would
// grind out dead letters forever.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return nil
	}

	if err := e.store.Ping(ctx); err != nil {
		return fmt.Errorf("engine: store unreachable: %w", err)
	}

	for _, d := range e.registrar.Declared() {
		if !e.registry.Has(d.Queue, d.JobType) {
			return fmt.Errorf("%w: schedule %q needs a handler for %s/%s",
				pulse.ErrNoHandler, d.ID(), d.Queue, d.JobType)
		}
	}

	if err := e.registrar.Sync(ctx); err != nil {
		return err
	}

	logCh, cancel := e.bus.Subscribe(256)
	e.logStop = cancel
	go event.LogEvents(ctx, logCh, e.logger)

	if err := e.scheduler.Start(ctx); err != nil {
		return err
	}
	if err := e.pool.Start(ctx); err != nil {
		return err
	}

	e.logger.Info("engine started",
		slog.Any("queues", e.cfg.Queues),
		slog.Int("concurrency", e.cfg.Concurrency),
		slog.Int("schedules", len(e.registrar.Declared())),
	)
	return nil
}

// Stop shuts the engine down: the scheduler first so nothing new fires,
// then the drain sequence for the pool, queues, and store.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.started.Load() {
		return nil
	}

	if err := e.scheduler.Stop(ctx); err != nil {
		e.logger.Warn("scheduler stop error", slog.String("error", err.Error()))
	}
	err := e.drainer.Drain(ctx)
	if e.logStop != nil {
		e.logStop()
	}
	e.bus.Close()
	return err
}

// EmitScheduleFired satisfies the scheduler's emitter contract.
func (e *Engine) EmitScheduleFired(ctx context.Context, scheduleID string, jobID id.JobID) {
	evt := event.QueueEvent{
		Type:  event.ScheduleFired,
		JobID: jobID,
		At:    time.Now().UTC(),
	}
	e.bus.Emit(evt)
	if payload, err := json.Marshal(map[string]string{
		"schedule_id": scheduleID,
		"job_id":      jobID.String(),
	}); err == nil {
		_ = e.broadcast.Publish(ctx, string(event.ScheduleFired), payload)
	}
}

// Stats returns the statistics service.
func (e *Engine) Stats() *stats.Service { return e.stats }

// DLQ returns the dead letter service.
func (e *Engine) DLQ() *dlq.Service { return e.sink }

// Locks returns the lock manager for application-level leases, e.g.
// guarding a world cycle from a custom caller.
func (e *Engine) Locks() *lock.Manager { return e.locks }

// Queues returns the queue registry.
func (e *Engine) Queues() *queue.Registry { return e.queues }

// Bus returns the lifecycle event bus.
func (e *Engine) Bus() *event.Bus { return e.bus }

// Schedules returns the declared schedule descriptors.
func (e *Engine) Schedules() []schedule.Descriptor { return e.registrar.Declared() }

// Config returns the engine configuration.
func (e *Engine) Config() pulse.Config { return e.cfg }

// Drainer returns the drain controller, exposed for the admin surface's
// drain endpoint.
func (e *Engine) Drainer() *drain.Controller { return e.drainer }
