package worker_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xraph/pulse"
	"github.com/xraph/pulse/dlq"
	"github.com/xraph/pulse/event"
	"github.com/xraph/pulse/id"
	"github.com/xraph/pulse/job"
	"github.com/xraph/pulse/queue"
	"github.com/xraph/pulse/store/memory"
	"github.com/xraph/pulse/worker"
)

func testConfig(queues ...string) pulse.Config {
	cfg := pulse.DefaultConfig()
	cfg.Queues = queues
	cfg.PollInterval = 10 * time.Millisecond
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.StalledThreshold = time.Minute
	return cfg
}

func newPoolFixture(t *testing.T, cfg pulse.Config) (*memory.Store, *job.Registry, *queue.Registry, *worker.Pool) {
	t.Helper()
	store := memory.New()
	registry := job.NewRegistry()
	queues := queue.NewRegistry(queue.DefaultOptions())
	bus := event.NewBus()
	t.Cleanup(bus.Close)
	sink := dlq.NewService(store, store, nil)
	executor := worker.NewExecutor(store, registry, queues, sink, bus, nil, nil)
	pool := worker.NewPool(cfg, store, queues, executor, bus, nil)
	return store, registry, queues, pool
}

func enqueueWaiting(t *testing.T, store *memory.Store, queueName, jobType string, runAt time.Time) *job.Job {
	t.Helper()
	j := &job.Job{
		Entity:      pulse.NewEntity(),
		ID:          id.NewJobID(),
		Queue:       queueName,
		Type:        jobType,
		Payload:     []byte(`{}`),
		State:       job.StateWaiting,
		MaxAttempts: 3,
		RunAt:       runAt,
	}
	if err := store.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("EnqueueJob() error = %v", err)
	}
	return j
}

func TestPoolRunsJobsFIFOAtConcurrencyOne(t *testing.T) {
	cfg := testConfig("q")
	cfg.Concurrency = 1
	store, registry, _, pool := newPoolFixture(t, cfg)

	type payload struct {
		Seq int `json:"seq"`
	}
	var mu sync.Mutex
	var order []int
	job.RegisterDefinition(registry, job.NewDefinition("q", "record",
		func(_ context.Context, p payload) (*job.Result, error) {
			mu.Lock()
			order = append(order, p.Seq)
			mu.Unlock()
			return job.OK(""), nil
		},
	))

	base := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 4; i++ {
		j := enqueueWaiting(t, store, "q", "record", base.Add(time.Duration(i)*time.Second))
		j.Payload = []byte(fmt.Sprintf(`{"seq":%d}`, i))
		if err := store.UpdateJob(context.Background(), j); err != nil {
			t.Fatalf("UpdateJob() error = %v", err)
		}
	}

	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		n, err := store.CountJobs(ctx, job.CountOpts{State: job.StateCompleted})
		if err != nil {
			t.Fatalf("CountJobs() error = %v", err)
		}
		if n == 4 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	// With concurrency 1 each claim takes the oldest due job, so the
	// handler observes jobs strictly in RunAt order.
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 4 {
		t.Fatalf("ran %d jobs, want 4", len(order))
	}
	for i, seq := range order {
		if seq != i {
			t.Fatalf("execution order = %v, want FIFO by RunAt", order)
		}
	}
}

func TestPoolRequeuesWhenQueuePaused(t *testing.T) {
	cfg := testConfig("q")
	store, registry, queues, pool := newPoolFixture(t, cfg)

	var ran sync.Map
	job.RegisterDefinition(registry, job.NewDefinition("q", "t",
		func(_ context.Context, _ struct{}) (*job.Result, error) {
			ran.Store("ran", true)
			return job.OK(""), nil
		},
	))

	queues.Pause("q")
	j := enqueueWaiting(t, store, "q", "t", time.Now().UTC().Add(-time.Minute))

	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if _, ok := ran.Load("ran"); ok {
		t.Fatal("job ran on a paused queue")
	}
	stored, err := store.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if stored.State != job.StateWaiting {
		t.Fatalf("state = %q, want waiting while paused", stored.State)
	}

	// Resuming lets the same job through.
	queues.ResumeAll()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stored, err = store.GetJob(ctx, j.ID)
		if err != nil {
			t.Fatalf("GetJob() error = %v", err)
		}
		if stored.State == job.StateCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if stored.State != job.StateCompleted {
		t.Fatalf("state = %q, want completed after resume", stored.State)
	}
}

func TestPoolPauseStopsClaiming(t *testing.T) {
	cfg := testConfig("q")
	store, registry, _, pool := newPoolFixture(t, cfg)
	job.RegisterDefinition(registry, job.NewDefinition("q", "t",
		func(_ context.Context, _ struct{}) (*job.Result, error) {
			return job.OK(""), nil
		},
	))

	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	pool.Pause()
	time.Sleep(20 * time.Millisecond)

	j := enqueueWaiting(t, store, "q", "t", time.Now().UTC().Add(-time.Minute))
	time.Sleep(100 * time.Millisecond)

	stored, err := store.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if stored.State != job.StateWaiting {
		t.Fatalf("state = %q, want waiting after Pause", stored.State)
	}
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestPoolReapsStalledJobs(t *testing.T) {
	cfg := testConfig("q")
	cfg.StalledThreshold = 40 * time.Millisecond
	store, _, _, pool := newPoolFixture(t, cfg)
	pool.Pause() // reap only; don't claim the job ourselves

	// Simulate a job another worker claimed and then abandoned.
	j := enqueueWaiting(t, store, "q", "t", time.Now().UTC().Add(-time.Minute))
	ctx := context.Background()
	claimed, err := store.DequeueJobs(ctx, []string{"q"}, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("DequeueJobs() = %d jobs, error %v", len(claimed), err)
	}
	if err := store.HeartbeatJob(ctx, j.ID, id.NewWorkerID()); err != nil {
		t.Fatalf("HeartbeatJob() error = %v", err)
	}

	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var stored *job.Job
	for time.Now().Before(deadline) {
		stored, err = store.GetJob(ctx, j.ID)
		if err != nil {
			t.Fatalf("GetJob() error = %v", err)
		}
		if stored.State == job.StateWaiting {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if stored.State != job.StateWaiting {
		t.Fatalf("state = %q, want stalled job returned to waiting", stored.State)
	}
	if !stored.WorkerID.IsNil() {
		t.Error("stale worker ID not cleared")
	}
	if stored.AttemptsMade != 0 {
		t.Errorf("attempts = %d, stall must not consume an attempt", stored.AttemptsMade)
	}
}
