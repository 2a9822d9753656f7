package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/pulse/id"
	"github.com/xraph/pulse/job"
	"github.com/xraph/pulse/middleware"
)

func testJob() *job.Job {
	return &job.Job{
		ID:    id.NewJobID(),
		Queue: "world",
		Type:  "economy.tick",
	}
}

func TestChain_OrderIsOutsideIn(t *testing.T) {
	var order []string
	mk := func(name string) middleware.Middleware {
		return func(ctx context.Context, _ *job.Job, next middleware.Handler) (*job.Result, error) {
			order = append(order, name+":before")
			res, err := next(ctx)
			order = append(order, name+":after")
			return res, err
		}
	}

	chain := middleware.Chain(mk("outer"), mk("inner"))
	_, err := chain(context.Background(), testJob(), func(_ context.Context) (*job.Result, error) {
		order = append(order, "handler")
		return job.OK(""), nil
	})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}

	want := []string{"outer:before", "inner:before", "handler", "inner:after", "outer:after"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := middleware.Chain()
	res, err := chain(context.Background(), testJob(), func(_ context.Context) (*job.Result, error) {
		return job.OK("ran"), nil
	})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if res.Message != "ran" {
		t.Errorf("Message = %q, want %q", res.Message, "ran")
	}
}

func TestRecover_ConvertsPanicToError(t *testing.T) {
	mw := middleware.Recover(slog.Default())

	res, err := mw(context.Background(), testJob(), func(_ context.Context) (*job.Result, error) {
		panic("npc table corrupted")
	})
	if err == nil {
		t.Fatal("expected error from panicking handler")
	}
	if res != nil {
		t.Errorf("result should be nil after panic, got %+v", res)
	}
}

func TestTimeout_CancelsSlowHandler(t *testing.T) {
	mw := middleware.Timeout(slog.Default())
	j := testJob()
	j.Timeout = 20 * time.Millisecond

	_, err := mw(context.Background(), j, func(ctx context.Context) (*job.Result, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return job.OK(""), nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestTimeout_ZeroIsUnbounded(t *testing.T) {
	mw := middleware.Timeout(slog.Default())
	j := testJob() // Timeout zero

	_, err := mw(context.Background(), j, func(ctx context.Context) (*job.Result, error) {
		if _, hasDeadline := ctx.Deadline(); hasDeadline {
			t.Error("context should have no deadline when job Timeout is zero")
		}
		return job.OK(""), nil
	})
	if err != nil {
		t.Fatalf("mw: %v", err)
	}
}

func TestMetrics_PassesThrough(t *testing.T) {
	// No MeterProvider installed: noop instruments, behaviour unchanged.
	mw := middleware.Metrics()

	res, err := mw(context.Background(), testJob(), func(_ context.Context) (*job.Result, error) {
		return job.OK("done"), nil
	})
	if err != nil {
		t.Fatalf("mw: %v", err)
	}
	if res.Message != "done" {
		t.Errorf("Message = %q, want %q", res.Message, "done")
	}

	wantErr := errors.New("boom")
	_, err = mw(context.Background(), testJob(), func(_ context.Context) (*job.Result, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestTracing_PassesThrough(t *testing.T) {
	mw := middleware.Tracing()

	res, err := mw(context.Background(), testJob(), func(_ context.Context) (*job.Result, error) {
		return job.OK("traced"), nil
	})
	if err != nil {
		t.Fatalf("mw: %v", err)
	}
	if res.Message != "traced" {
		t.Errorf("Message = %q, want %q", res.Message, "traced")
	}
}
