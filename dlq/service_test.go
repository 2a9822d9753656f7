package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/pulse"
	"github.com/xraph/pulse/dlq"
	"github.com/xraph/pulse/id"
	"github.com/xraph/pulse/job"
	"github.com/xraph/pulse/store/memory"
)

// failingDLQStore rejects pushes; other operations delegate nowhere.
type failingDLQStore struct {
	dlq.Store
	err error
}

func (f *failingDLQStore) PushDLQ(context.Context, *dlq.Entry) error {
	return f.err
}

func failedJob() *job.Job {
	now := time.Now().UTC()
	return &job.Job{
		Entity:       pulse.NewEntity(),
		ID:           id.NewJobID(),
		Queue:        "matchmaking",
		Type:         "cycle",
		Payload:      []byte(`{"region":"eu"}`),
		State:        job.StateFailed,
		AttemptsMade: 3,
		MaxAttempts:  3,
		Tenant:       "acme",
		RunAt:        now,
		FinishedAt:   &now,
	}
}

func TestRecordCapturesDiagnostics(t *testing.T) {
	store := memory.New()
	svc := dlq.NewService(store, store, nil)
	ctx := context.Background()

	j := failedJob()
	entry := svc.Record(ctx, j, errors.New("no capacity"), "goroutine 1 [running]")
	if entry == nil {
		t.Fatal("Record() returned nil")
	}

	stored, err := store.GetDLQ(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetDLQ() error = %v", err)
	}
	if stored.JobID != j.ID || stored.JobType != "cycle" || stored.Queue != "matchmaking" {
		t.Errorf("entry identity mismatch: %+v", stored)
	}
	if stored.Error != "no capacity" {
		t.Errorf("Error = %q", stored.Error)
	}
	if stored.Stack == "" {
		t.Error("stack trace not captured")
	}
	if stored.AttemptsMade != 3 || stored.MaxAttempts != 3 {
		t.Errorf("attempts = %d/%d, want 3/3", stored.AttemptsMade, stored.MaxAttempts)
	}
	if stored.Tenant != "acme" {
		t.Errorf("Tenant = %q", stored.Tenant)
	}
	if string(stored.Payload) != `{"region":"eu"}` {
		t.Errorf("Payload = %s", stored.Payload)
	}
}

func TestRecordSinkFailureIsSwallowed(t *testing.T) {
	jobStore := memory.New()
	failing := &failingDLQStore{err: errors.New("sink down")}
	svc := dlq.NewService(failing, jobStore, nil)

	// Must not panic or error out; a broken sink never blocks the
	// caller's failure bookkeeping.
	entry := svc.Record(context.Background(), failedJob(), errors.New("boom"), "")
	if entry != nil {
		t.Fatalf("Record() = %+v, want nil on sink failure", entry)
	}
}

func TestReplayReEnqueuesFreshJob(t *testing.T) {
	store := memory.New()
	svc := dlq.NewService(store, store, nil)
	ctx := context.Background()

	original := failedJob()
	entry := svc.Record(ctx, original, errors.New("boom"), "")
	if entry == nil {
		t.Fatal("Record() returned nil")
	}

	replayed, err := svc.Replay(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if replayed.ID == original.ID {
		t.Error("replayed job reuses the original ID")
	}
	if replayed.State != job.StateWaiting {
		t.Errorf("state = %q, want waiting", replayed.State)
	}
	if replayed.AttemptsMade != 0 {
		t.Errorf("attempts = %d, want 0", replayed.AttemptsMade)
	}
	if replayed.Queue != original.Queue || replayed.Type != original.Type {
		t.Error("replayed job lost its queue or type")
	}
	if string(replayed.Payload) != string(original.Payload) {
		t.Error("replayed job lost its payload")
	}

	// The entry stays in the sink, stamped as replayed.
	stored, err := store.GetDLQ(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetDLQ() error = %v", err)
	}
	if stored.ReplayedAt == nil {
		t.Error("ReplayedAt not stamped")
	}

	// The fresh job is claimable.
	claimed, err := store.DequeueJobs(ctx, []string{original.Queue}, 1)
	if err != nil {
		t.Fatalf("DequeueJobs() error = %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != replayed.ID {
		t.Fatal("replayed job not claimable from its queue")
	}
}

func TestReplayUnknownEntry(t *testing.T) {
	store := memory.New()
	svc := dlq.NewService(store, store, nil)

	_, err := svc.Replay(context.Background(), id.NewDLQID())
	if !errors.Is(err, pulse.ErrDLQNotFound) {
		t.Fatalf("Replay() error = %v, want ErrDLQNotFound", err)
	}
}
