package schedule

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/pulse"
	"github.com/xraph/pulse/id"
	"github.com/xraph/pulse/job"
	"github.com/xraph/pulse/lock"
)

// EnqueueFunc is the callback the scheduler uses to enqueue jobs.
// The engine provides the implementation; the indirection breaks the
// import cycle.
type EnqueueFunc func(ctx context.Context, queue, jobType string, payload []byte, opts ...job.Option) (id.JobID, error)

// Emitter emits schedule lifecycle events.
type Emitter interface {
	EmitScheduleFired(ctx context.Context, scheduleID string, jobID id.JobID)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithEntryLockTTL sets the TTL for per-entry firing locks.
func WithEntryLockTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.entryLockTTL = d }
}

// WithLeaderTTL sets the lease duration for scheduler leadership.
func WithLeaderTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.leaderTTL = d }
}

// Scheduler fires due schedule entries on a tick loop. Firing is
// leader-gated: only the process holding the scheduler leadership lease
// ticks, and each firing additionally takes a short per-entry lock so a
// leadership handover between two ticks cannot double-fire an entry.
// Both locks come from the lock manager; this is the execution-level
// exclusion; the registrar's deterministic IDs are the separate
// definition-level dedup.
type Scheduler struct {
	store   Store
	locks   *lock.Manager
	enqueue EnqueueFunc
	emitter Emitter
	logger  *slog.Logger

	tickInterval time.Duration
	entryLockTTL time.Duration
	leaderTTL    time.Duration

	// leader is the currently held leadership lease, nil when this
	// process is not the leader.
	leaderMu sync.Mutex
	leader   *lock.Lease

	// parsed caches parsed schedule specs.
	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	store Store,
	locks *lock.Manager,
	enqueue EnqueueFunc,
	emitter Emitter,
	logger *slog.Logger,
	opts ...SchedulerOption,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:        store,
		locks:        locks,
		enqueue:      enqueue,
		emitter:      emitter,
		logger:       logger,
		tickInterval: 1 * time.Second,
		entryLockTTL: 30 * time.Second,
		leaderTTL:    15 * time.Second,
		parsed:       make(map[string]cronlib.Schedule),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the leadership and tick goroutines.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(2)
	go s.leaderLoop()
	go s.tickLoop()
	s.logger.Info("scheduler started",
		slog.Duration("tick_interval", s.tickInterval),
		slog.Duration("leader_ttl", s.leaderTTL),
	)
	return nil
}

// Stop signals the scheduler to stop, releases leadership, and waits
// for goroutines to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	close(s.stopCh)
	s.wg.Wait()

	s.leaderMu.Lock()
	lease := s.leader
	s.leader = nil
	s.leaderMu.Unlock()
	if lease != nil {
		if err := lease.Release(ctx); err != nil {
			s.logger.Warn("leadership release failed, lease will expire",
				slog.String("error", err.Error()),
			)
		}
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// IsLeader reports whether this process currently holds the scheduler
// leadership lease.
func (s *Scheduler) IsLeader() bool {
	s.leaderMu.Lock()
	defer s.leaderMu.Unlock()
	return s.leader != nil
}

// leaderLoop continuously acquires or renews the leadership lease.
func (s *Scheduler) leaderLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.leaderTTL / 2)
	defer ticker.Stop()

	s.tryLeadership()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tryLeadership()
		}
	}
}

func (s *Scheduler) tryLeadership() {
	ctx := context.Background()

	s.leaderMu.Lock()
	lease := s.leader
	s.leaderMu.Unlock()

	if lease != nil {
		ok, err := lease.Renew(ctx, s.leaderTTL)
		if err == nil && ok {
			return
		}
		// Lost it; fall through and compete again.
		s.leaderMu.Lock()
		s.leader = nil
		s.leaderMu.Unlock()
		s.logger.Warn("scheduler leadership lost")
	}

	newLease, err := s.locks.Acquire(ctx, lock.SchedulerLeaderKey, s.leaderTTL, lock.FailFast())
	if err != nil {
		if !errors.Is(err, pulse.ErrLockHeld) {
			s.logger.Warn("leadership acquire error", slog.String("error", err.Error()))
		}
		return
	}

	s.leaderMu.Lock()
	s.leader = newLease
	s.leaderMu.Unlock()
	s.logger.Info("acquired scheduler leadership")
}

// tickLoop fires on each tick interval and processes due entries.
func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(context.Background())
		}
	}
}

// Tick processes all due entries once. Exported for tests and for the
// force-tick administrative path; normal operation drives it from the
// tick loop.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.IsLeader() {
		return
	}

	entries, err := s.store.ListSchedules(ctx)
	if err != nil {
		s.logger.Error("list schedules error", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, entry := range entries {
		if !entry.Enabled {
			continue
		}
		if entry.NextRunAt == nil || entry.NextRunAt.After(now) {
			continue
		}
		s.fire(ctx, entry, now)
	}
}

func (s *Scheduler) fire(ctx context.Context, entry *Entry, now time.Time) {
	// The per-entry lock is fail-fast: if another process holds it, it
	// is already firing this entry and this cycle is covered.
	lease, err := s.locks.Acquire(ctx, lock.ScheduleKey(entry.ID), s.entryLockTTL, lock.FailFast())
	if err != nil {
		if !errors.Is(err, pulse.ErrLockHeld) {
			s.logger.Error("schedule lock error",
				slog.String("schedule_id", entry.ID),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	defer func() {
		if relErr := lease.Release(ctx); relErr != nil {
			s.logger.Warn("schedule lock release failed",
				slog.String("schedule_id", entry.ID),
				slog.String("error", relErr.Error()),
			)
		}
	}()

	jobID, err := s.enqueue(ctx, entry.Queue, entry.JobType, entry.Payload)
	if err != nil {
		s.logger.Error("schedule enqueue error",
			slog.String("schedule_id", entry.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	entry.LastRunAt = &now
	sched, parseErr := s.getOrParse(entry.Spec)
	if parseErr != nil {
		s.logger.Error("schedule spec parse error",
			slog.String("schedule_id", entry.ID),
			slog.String("spec", entry.Spec),
			slog.String("error", parseErr.Error()),
		)
	} else {
		next := sched.Next(now)
		entry.NextRunAt = &next
	}
	entry.Touch()
	if err := s.store.UpdateSchedule(ctx, entry); err != nil {
		s.logger.Error("schedule update error",
			slog.String("schedule_id", entry.ID),
			slog.String("error", err.Error()),
		)
	}

	if s.emitter != nil {
		s.emitter.EmitScheduleFired(ctx, entry.ID, jobID)
	}

	s.logger.Info("schedule fired",
		slog.String("schedule_id", entry.ID),
		slog.String("job_id", jobID.String()),
	)
}

func (s *Scheduler) getOrParse(spec string) (cronlib.Schedule, error) {
	s.parsedMu.RLock()
	sched, ok := s.parsed[spec]
	s.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseSpec(spec)
	if err != nil {
		return nil, err
	}
	s.parsedMu.Lock()
	s.parsed[spec] = sched
	s.parsedMu.Unlock()
	return sched, nil
}
