package engine_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/pulse"
	"github.com/xraph/pulse/engine"
	"github.com/xraph/pulse/job"
	"github.com/xraph/pulse/schedule"
	"github.com/xraph/pulse/store/memory"
)

type cyclePayload struct {
	Region string `json:"region"`
}

func testEngineConfig() pulse.Config {
	cfg := pulse.DefaultConfig()
	cfg.Queues = []string{"matchmaking", "default"}
	cfg.PollInterval = 10 * time.Millisecond
	cfg.SchedulerTick = 10 * time.Millisecond
	cfg.LeaderTTL = 200 * time.Millisecond
	cfg.DrainTimeout = time.Second
	cfg.QueueCloseTimeout = 500 * time.Millisecond
	return cfg
}

func TestBuildRequiresStore(t *testing.T) {
	_, err := engine.Build(nil, pulse.DefaultConfig())
	if !errors.Is(err, pulse.ErrNoStore) {
		t.Fatalf("Build(nil) error = %v, want ErrNoStore", err)
	}
}

func TestEnqueueAndExecute(t *testing.T) {
	st := memory.New()
	e, err := engine.Build(st, testEngineConfig())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	var got atomic.Value
	engine.Register(e, job.NewDefinition("matchmaking", "cycle",
		func(_ context.Context, p cyclePayload) (*job.Result, error) {
			got.Store(p.Region)
			return job.OK("cycle done"), nil
		},
	))

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer e.Stop(ctx)

	jobID, err := engine.Enqueue(ctx, e, "matchmaking", "cycle", cyclePayload{Region: "eu"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if jobID.IsNil() {
		t.Fatal("Enqueue() returned nil job ID")
	}

	deadline := time.Now().Add(2 * time.Second)
	for got.Load() == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if region, _ := got.Load().(string); region != "eu" {
		t.Fatalf("handler saw region %q, want eu", region)
	}

	stored, err := st.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if stored.State != job.StateCompleted {
		t.Fatalf("state = %q, want completed", stored.State)
	}
}

func TestEnqueueWithDelayParksJob(t *testing.T) {
	st := memory.New()
	e, err := engine.Build(st, testEngineConfig())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	engine.Register(e, job.NewDefinition("default", "later",
		func(_ context.Context, _ struct{}) (*job.Result, error) {
			return job.OK(""), nil
		},
	))

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer e.Stop(ctx)

	jobID, err := engine.Enqueue(ctx, e, "default", "later", struct{}{}, job.WithDelay(time.Hour))
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	stored, err := st.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if stored.State != job.StateDelayed {
		t.Fatalf("state = %q, want delayed", stored.State)
	}
	if !stored.RunAt.After(time.Now()) {
		t.Error("RunAt not in the future")
	}
}

func TestStartRejectsHandlerlessSchedule(t *testing.T) {
	e, err := engine.Build(memory.New(), testEngineConfig())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	e.DeclareSchedule(schedule.Descriptor{
		Queue:   "matchmaking",
		JobType: "cycle",
		Spec:    "@every 30s",
	})

	if err := e.Start(context.Background()); !errors.Is(err, pulse.ErrNoHandler) {
		t.Fatalf("Start() error = %v, want ErrNoHandler", err)
	}
}

func TestScheduleFiresThroughEngine(t *testing.T) {
	st := memory.New()
	e, err := engine.Build(st, testEngineConfig())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	var fired atomic.Int32
	engine.Register(e, job.NewDefinition("matchmaking", "cycle",
		func(_ context.Context, _ cyclePayload) (*job.Result, error) {
			fired.Add(1)
			return job.OK(""), nil
		},
	))
	e.DeclareSchedule(schedule.Descriptor{
		Queue:   "matchmaking",
		JobType: "cycle",
		Spec:    "@every 1h",
		Payload: []byte(`{"region":"eu"}`),
	})

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer e.Stop(ctx)

	// The hourly cadence won't fire during the test; backdate the
	// entry to force one firing.
	entry, err := st.GetSchedule(ctx, "matchmaking.cycle-recurring")
	if err != nil {
		t.Fatalf("GetSchedule() error = %v", err)
	}
	past := time.Now().UTC().Add(-time.Minute)
	entry.NextRunAt = &past
	if err := st.UpdateSchedule(ctx, entry); err != nil {
		t.Fatalf("UpdateSchedule() error = %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if fired.Load() == 0 {
		t.Fatal("declared schedule never executed its handler")
	}
}

func TestTriggerNow(t *testing.T) {
	st := memory.New()
	e, err := engine.Build(st, testEngineConfig())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	var fired atomic.Int32
	engine.Register(e, job.NewDefinition("matchmaking", "cycle",
		func(_ context.Context, _ cyclePayload) (*job.Result, error) {
			fired.Add(1)
			return job.OK(""), nil
		},
	))
	e.DeclareSchedule(schedule.Descriptor{
		Queue:   "matchmaking",
		JobType: "cycle",
		Spec:    "@every 24h",
		Payload: []byte(`{"region":"na"}`),
	})

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer e.Stop(ctx)

	jobID, err := e.TriggerNow(ctx, "matchmaking", "cycle")
	if err != nil {
		t.Fatalf("TriggerNow() error = %v", err)
	}
	if jobID.IsNil() {
		t.Fatal("TriggerNow() returned nil job ID")
	}

	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if fired.Load() == 0 {
		t.Fatal("triggered job never ran")
	}
}

func TestTriggerNowUnknownSchedule(t *testing.T) {
	e, err := engine.Build(memory.New(), testEngineConfig())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if _, err := e.TriggerNow(context.Background(), "nope", "nothing"); !errors.Is(err, pulse.ErrScheduleNotFound) {
		t.Fatalf("TriggerNow() error = %v, want ErrScheduleNotFound", err)
	}
}

func TestStopRejectsNewEnqueues(t *testing.T) {
	e, err := engine.Build(memory.New(), testEngineConfig())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	engine.Register(e, job.NewDefinition("default", "t",
		func(_ context.Context, _ struct{}) (*job.Result, error) {
			return job.OK(""), nil
		},
	))

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := e.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if _, err := engine.Enqueue(ctx, e, "default", "t", struct{}{}); !errors.Is(err, pulse.ErrDraining) {
		t.Fatalf("Enqueue() after Stop error = %v, want ErrDraining", err)
	}
}

func TestStatsThroughEngine(t *testing.T) {
	st := memory.New()
	e, err := engine.Build(st, testEngineConfig())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	engine.Register(e, job.NewDefinition("default", "parked",
		func(_ context.Context, _ struct{}) (*job.Result, error) {
			return job.OK(""), nil
		},
	))

	ctx := context.Background()
	// Not started: jobs stay waiting for the count.
	if _, err := engine.Enqueue(ctx, e, "default", "parked", struct{}{}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if _, err := engine.Enqueue(ctx, e, "default", "parked", struct{}{}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	counts, err := e.Stats().CountsFor(ctx, "default")
	if err != nil {
		t.Fatalf("CountsFor() error = %v", err)
	}
	if counts.Waiting != 2 {
		t.Fatalf("Waiting = %d, want 2", counts.Waiting)
	}
}
