package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/pulse"
	"github.com/xraph/pulse/event"
	"github.com/xraph/pulse/id"
	"github.com/xraph/pulse/job"
	"github.com/xraph/pulse/queue"
)

// Pool polls the store for due jobs and executes them with bounded
// concurrency. It also heartbeats its active jobs and reaps stalled
// jobs abandoned by crashed workers.
type Pool struct {
	cfg      pulse.Config
	jobs     job.Store
	queues   *queue.Registry
	executor *Executor
	bus      *event.Bus
	logger   *slog.Logger

	workerID id.WorkerID

	mu      sync.Mutex
	running map[string]*runningJob // job ID -> in-flight job
	paused  bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type runningJob struct {
	job    *job.Job
	cancel context.CancelCauseFunc
}

// NewPool creates a Pool.
func NewPool(
	cfg pulse.Config,
	jobs job.Store,
	queues *queue.Registry,
	executor *Executor,
	bus *event.Bus,
	logger *slog.Logger,
) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		cfg:      cfg,
		jobs:     jobs,
		queues:   queues,
		executor: executor,
		bus:      bus,
		logger:   logger,
		workerID: id.NewWorkerID(),
		running:  make(map[string]*runningJob),
		stopCh:   make(chan struct{}),
	}
}

// WorkerID returns this pool's worker identity, recorded on claimed
// jobs and heartbeats.
func (p *Pool) WorkerID() id.WorkerID {
	return p.workerID
}

// Start launches the poll, heartbeat, and stalled-reaper goroutines.
func (p *Pool) Start(_ context.Context) error {
	p.wg.Add(3)
	go p.pollLoop()
	go p.heartbeatLoop()
	go p.reapLoop()
	p.logger.Info("worker pool started",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.cfg.Concurrency),
		slog.Any("queues", p.cfg.Queues),
	)
	return nil
}

// Stop signals the loops to exit and waits for them and all in-flight
// jobs to finish. Jobs are not cancelled; use Pause plus the drain
// controller for a bounded shutdown.
func (p *Pool) Stop(_ context.Context) error {
	close(p.stopCh)
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
	return nil
}

// Pause stops the pool from claiming new jobs. In-flight jobs continue.
func (p *Pool) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// ActiveCount returns the number of in-flight jobs.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.running)
}

// ActiveCountForQueue returns the number of in-flight jobs on a queue.
func (p *Pool) ActiveCountForQueue(queueName string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, r := range p.running {
		if r.job.Queue == queueName {
			n++
		}
	}
	return n
}

// CloseQueue waits for the queue's in-flight jobs to finish. When ctx
// expires first, the remaining jobs' contexts are cancelled and the
// context error is returned; the cancelled handlers surface context
// errors through the normal retry path.
func (p *Pool) CloseQueue(ctx context.Context, queueName string) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if p.ActiveCountForQueue(queueName) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			p.cancelQueue(queueName, ctx.Err())
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Pool) cancelQueue(queueName string, cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.running {
		if r.job.Queue == queueName {
			r.cancel(cause)
		}
	}
}

func (p *Pool) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.poll(context.Background())
		}
	}
}

// poll claims up to the free capacity of due jobs and dispatches them.
func (p *Pool) poll(ctx context.Context) {
	p.mu.Lock()
	paused := p.paused
	capacity := p.cfg.Concurrency - len(p.running)
	p.mu.Unlock()
	if paused || capacity <= 0 {
		return
	}

	claimed, err := p.jobs.DequeueJobs(ctx, p.cfg.Queues, capacity)
	if err != nil {
		p.logger.Error("dequeue error", slog.String("error", err.Error()))
		return
	}

	for _, j := range claimed {
		p.dispatch(ctx, j)
	}
}

// dispatch checks queue-level admission and runs the job on its own
// goroutine. Jobs rejected by the queue (paused, rate limit, per-queue
// or per-tenant concurrency) are handed back to waiting untouched.
func (p *Pool) dispatch(ctx context.Context, j *job.Job) {
	if p.queues != nil && !p.queues.Acquire(j.Queue, j.Tenant) {
		p.requeue(ctx, j)
		return
	}

	j.WorkerID = p.workerID
	now := time.Now().UTC()
	j.HeartbeatAt = &now
	j.Touch()
	if err := p.jobs.UpdateJob(ctx, j); err != nil {
		p.logger.Error("claim update error",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	jobCtx, cancel := context.WithCancelCause(context.Background())
	p.mu.Lock()
	p.running[j.ID.String()] = &runningJob{job: j, cancel: cancel}
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel(nil)
		defer func() {
			p.mu.Lock()
			delete(p.running, j.ID.String())
			p.mu.Unlock()
			if p.queues != nil {
				p.queues.Release(j.Queue, j.Tenant)
			}
		}()
		p.executor.Execute(jobCtx, j)
	}()
}

// requeue returns a claimed-but-rejected job to waiting.
func (p *Pool) requeue(ctx context.Context, j *job.Job) {
	j.State = job.StateWaiting
	j.WorkerID = id.WorkerID{}
	j.Touch()
	if err := p.jobs.UpdateJob(ctx, j); err != nil {
		p.logger.Error("requeue error",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.heartbeat(context.Background())
		}
	}
}

func (p *Pool) heartbeat(ctx context.Context) {
	p.mu.Lock()
	ids := make([]id.JobID, 0, len(p.running))
	for _, r := range p.running {
		ids = append(ids, r.job.ID)
	}
	p.mu.Unlock()

	for _, jobID := range ids {
		if err := p.jobs.HeartbeatJob(ctx, jobID, p.workerID); err != nil {
			p.logger.Warn("heartbeat error",
				slog.String("job_id", jobID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (p *Pool) reapLoop() {
	defer p.wg.Done()

	// Half the threshold keeps worst-case stall detection latency
	// within 1.5x the configured threshold.
	interval := p.cfg.StalledThreshold / 2
	if interval <= 0 {
		interval = p.cfg.PollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reap(context.Background())
		}
	}
}

// reap returns heartbeat-expired active jobs to waiting so another
// worker can pick them up. The stalled attempt does not count against
// MaxAttempts; the job never finished, it was abandoned.
func (p *Pool) reap(ctx context.Context) {
	stalled, err := p.jobs.ReapStalledJobs(ctx, p.cfg.StalledThreshold)
	if err != nil {
		p.logger.Error("stalled reap error", slog.String("error", err.Error()))
		return
	}

	for _, j := range stalled {
		staleWorker := j.WorkerID
		j.State = job.StateWaiting
		j.WorkerID = id.WorkerID{}
		j.HeartbeatAt = nil
		j.Touch()
		if err := p.jobs.UpdateJob(ctx, j); err != nil {
			p.logger.Error("stalled requeue error",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.logger.Warn("stalled job returned to queue",
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Queue),
			slog.String("stale_worker_id", staleWorker.String()),
		)
		if p.bus != nil {
			p.bus.Emit(event.QueueEvent{
				Type:    event.JobStalled,
				Queue:   j.Queue,
				JobType: j.Type,
				JobID:   j.ID,
				At:      time.Now().UTC(),
			})
		}
	}
}
