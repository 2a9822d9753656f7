package schedule_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xraph/pulse/id"
	"github.com/xraph/pulse/job"
	"github.com/xraph/pulse/lock"
	"github.com/xraph/pulse/schedule"
)

// stubLockStore is an in-memory lock.Store with TTL expiry.
type stubLockStore struct {
	mu    sync.Mutex
	locks map[string]stubLock
}

type stubLock struct {
	token     string
	expiresAt time.Time
}

func newStubLockStore() *stubLockStore {
	return &stubLockStore{locks: make(map[string]stubLock)}
}

func (s *stubLockStore) AcquireLock(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.locks[key]; ok && held.expiresAt.After(time.Now()) {
		return false, nil
	}
	s.locks[key] = stubLock{token: token, expiresAt: time.Now().Add(ttl)}
	return true, nil
}

func (s *stubLockStore) ReleaseLock(_ context.Context, key, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	held, ok := s.locks[key]
	if !ok || held.token != token {
		return false, nil
	}
	delete(s.locks, key)
	return true, nil
}

func (s *stubLockStore) RenewLock(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	held, ok := s.locks[key]
	if !ok || held.token != token || !held.expiresAt.After(time.Now()) {
		return false, nil
	}
	s.locks[key] = stubLock{token: token, expiresAt: time.Now().Add(ttl)}
	return true, nil
}

// enqueueSpy records enqueue calls.
type enqueueSpy struct {
	mu    sync.Mutex
	calls []enqueueCall
	err   error
}

type enqueueCall struct {
	queue   string
	jobType string
	payload []byte
}

func (e *enqueueSpy) enqueue(_ context.Context, queue, jobType string, payload []byte, _ ...job.Option) (id.JobID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return id.JobID{}, e.err
	}
	e.calls = append(e.calls, enqueueCall{queue: queue, jobType: jobType, payload: payload})
	return id.NewJobID(), nil
}

func (e *enqueueSpy) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// firedSpy records ScheduleFired emissions.
type firedSpy struct {
	mu    sync.Mutex
	fired []string
}

func (f *firedSpy) EmitScheduleFired(_ context.Context, scheduleID string, _ id.JobID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, scheduleID)
}

func (f *firedSpy) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fired)
}

func newTestScheduler(t *testing.T, store schedule.Store, locks *lock.Manager, spy *enqueueSpy, fired *firedSpy) *schedule.Scheduler {
	t.Helper()
	return schedule.NewScheduler(store, locks, spy.enqueue, fired, nil,
		schedule.WithTickInterval(10*time.Millisecond),
		schedule.WithLeaderTTL(200*time.Millisecond),
		schedule.WithEntryLockTTL(time.Second),
	)
}

func registerDue(t *testing.T, store schedule.Store, d schedule.Descriptor) {
	t.Helper()
	ctx := context.Background()
	r := schedule.NewRegistrar(store, nil, d)
	if err := r.Sync(ctx); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	entry, err := store.GetSchedule(ctx, d.ID())
	if err != nil {
		t.Fatalf("GetSchedule() error = %v", err)
	}
	past := time.Now().UTC().Add(-time.Minute)
	entry.NextRunAt = &past
	if err := store.UpdateSchedule(ctx, entry); err != nil {
		t.Fatalf("UpdateSchedule() error = %v", err)
	}
}

func TestSchedulerFiresDueEntry(t *testing.T) {
	store := newStubScheduleStore()
	locks := lock.NewManager(newStubLockStore(), nil)
	spy := &enqueueSpy{}
	fired := &firedSpy{}

	d := schedule.Descriptor{
		Queue:   "matchmaking",
		JobType: "cycle",
		Spec:    "@every 1h",
		Payload: []byte(`{"region":"eu"}`),
	}
	registerDue(t, store, d)

	s := newTestScheduler(t, store, locks, spy, fired)
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop(ctx)

	// Wait for the fired event, not just the enqueue: fire() emits it
	// after persisting the entry update, so observing it guarantees the
	// NextRunAt/LastRunAt assertions below read post-update state.
	deadline := time.Now().Add(2 * time.Second)
	for (spy.count() == 0 || fired.count() == 0) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if spy.count() == 0 {
		t.Fatal("due schedule never fired")
	}

	spy.mu.Lock()
	call := spy.calls[0]
	spy.mu.Unlock()
	if call.queue != "matchmaking" || call.jobType != "cycle" {
		t.Fatalf("enqueued %s/%s, want matchmaking/cycle", call.queue, call.jobType)
	}
	if string(call.payload) != `{"region":"eu"}` {
		t.Fatalf("payload = %s, want declared payload", call.payload)
	}
	if fired.count() == 0 {
		t.Error("ScheduleFired was not emitted")
	}

	// NextRunAt must have advanced past now so the entry does not
	// refire on the next tick.
	entry, err := store.GetSchedule(ctx, d.ID())
	if err != nil {
		t.Fatalf("GetSchedule() error = %v", err)
	}
	if entry.NextRunAt == nil || !entry.NextRunAt.After(time.Now()) {
		t.Fatalf("NextRunAt = %v, want advanced past now", entry.NextRunAt)
	}
	if entry.LastRunAt == nil {
		t.Error("LastRunAt not recorded")
	}
}

func TestSchedulerSkipsDisabledEntry(t *testing.T) {
	store := newStubScheduleStore()
	locks := lock.NewManager(newStubLockStore(), nil)
	spy := &enqueueSpy{}

	d := schedule.Descriptor{Queue: "q", JobType: "t", Spec: "@every 1h"}
	registerDue(t, store, d)

	ctx := context.Background()
	entry, err := store.GetSchedule(ctx, d.ID())
	if err != nil {
		t.Fatalf("GetSchedule() error = %v", err)
	}
	entry.Enabled = false
	if err := store.UpdateSchedule(ctx, entry); err != nil {
		t.Fatalf("UpdateSchedule() error = %v", err)
	}

	s := newTestScheduler(t, store, locks, spy, &firedSpy{})
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if got := spy.count(); got != 0 {
		t.Fatalf("disabled schedule fired %d times, want 0", got)
	}
}

func TestSchedulerOnlyLeaderFires(t *testing.T) {
	store := newStubScheduleStore()
	lockStore := newStubLockStore()
	spyA := &enqueueSpy{}
	spyB := &enqueueSpy{}

	d := schedule.Descriptor{Queue: "q", JobType: "t", Spec: "@every 1h"}
	registerDue(t, store, d)

	ctx := context.Background()
	a := newTestScheduler(t, store, lock.NewManager(lockStore, nil), spyA, &firedSpy{})
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start() a error = %v", err)
	}
	defer a.Stop(ctx)

	// Let a claim leadership first, then start the contender.
	deadline := time.Now().Add(time.Second)
	for !a.IsLeader() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !a.IsLeader() {
		t.Fatal("first scheduler never became leader")
	}

	b := newTestScheduler(t, store, lock.NewManager(lockStore, nil), spyB, &firedSpy{})
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() b error = %v", err)
	}
	defer b.Stop(ctx)

	deadline = time.Now().Add(2 * time.Second)
	for spyA.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if spyA.count() == 0 {
		t.Fatal("leader never fired the due schedule")
	}
	if b.IsLeader() {
		t.Error("contender claimed leadership while leader held the lease")
	}
	if got := spyB.count(); got != 0 {
		t.Fatalf("non-leader fired %d times, want 0", got)
	}
}

func TestSchedulerEntryLockPreventsDoubleFire(t *testing.T) {
	store := newStubScheduleStore()
	lockStore := newStubLockStore()
	locks := lock.NewManager(lockStore, nil)
	spy := &enqueueSpy{}

	d := schedule.Descriptor{Queue: "q", JobType: "t", Spec: "@every 1h"}
	registerDue(t, store, d)

	ctx := context.Background()
	// Hold the entry lock externally; the scheduler must skip firing.
	lease, err := locks.Acquire(ctx, lock.ScheduleKey(d.ID()), time.Minute, lock.FailFast())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	s := newTestScheduler(t, store, locks, spy, &firedSpy{})
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop(ctx)

	deadline := time.Now().Add(time.Second)
	for !s.IsLeader() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	if got := spy.count(); got != 0 {
		t.Fatalf("locked entry fired %d times, want 0", got)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	deadline = time.Now().Add(2 * time.Second)
	for spy.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := spy.count(); got != 1 {
		t.Fatalf("entry fired %d times after release, want 1", got)
	}
}
