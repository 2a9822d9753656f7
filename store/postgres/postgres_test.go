package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/xraph/pulse"
	"github.com/xraph/pulse/id"
	"github.com/xraph/pulse/job"
	"github.com/xraph/pulse/store/postgres"
)

// newTestStore connects to the database named by PULSE_TEST_POSTGRES_DSN,
// skipping when unset, and wipes the pulse tables.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("PULSE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PULSE_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	s, err := postgres.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestJobClaimFIFO(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	queue := "q-" + time.Now().Format("150405.000000000")
	base := time.Now().UTC().Add(-time.Minute)
	var ids []id.JobID
	for i := 0; i < 3; i++ {
		j := &job.Job{
			Entity:      pulse.NewEntity(),
			ID:          id.NewJobID(),
			Queue:       queue,
			Type:        "t",
			Payload:     []byte(`{}`),
			State:       job.StateWaiting,
			MaxAttempts: 3,
			RunAt:       base.Add(time.Duration(i) * time.Second),
		}
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("EnqueueJob() error = %v", err)
		}
		ids = append(ids, j.ID)
	}

	claimed, err := s.DequeueJobs(ctx, []string{queue}, 10)
	if err != nil {
		t.Fatalf("DequeueJobs() error = %v", err)
	}
	if len(claimed) != 3 {
		t.Fatalf("claimed %d jobs, want 3", len(claimed))
	}
	for i, j := range claimed {
		if j.ID != ids[i] {
			t.Fatalf("claim order mismatch at %d", i)
		}
		if j.State != job.StateActive {
			t.Fatalf("claimed state = %q, want active", j.State)
		}
	}

	for _, jobID := range ids {
		if err := s.DeleteJob(ctx, jobID); err != nil {
			t.Fatalf("DeleteJob() error = %v", err)
		}
	}
}

func TestLockUpsertSemantics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := "test:" + time.Now().Format(time.RFC3339Nano)

	ok, err := s.AcquireLock(ctx, key, "tok-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("AcquireLock() = %v, %v, want true", ok, err)
	}
	if ok, _ := s.AcquireLock(ctx, key, "tok-b", time.Minute); ok {
		t.Fatal("contending AcquireLock() succeeded")
	}
	if ok, _ := s.RenewLock(ctx, key, "tok-b", time.Minute); ok {
		t.Fatal("RenewLock() with wrong token succeeded")
	}
	if ok, _ := s.ReleaseLock(ctx, key, "tok-a"); !ok {
		t.Fatal("ReleaseLock() with holder token failed")
	}
	if ok, _ := s.AcquireLock(ctx, key, "tok-b", time.Minute); !ok {
		t.Fatal("AcquireLock() after release failed")
	}
	if ok, _ := s.ReleaseLock(ctx, key, "tok-b"); !ok {
		t.Fatal("final ReleaseLock() failed")
	}
}

func TestLockExpiredTakeover(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := "test-exp:" + time.Now().Format(time.RFC3339Nano)

	if ok, _ := s.AcquireLock(ctx, key, "tok-a", 50*time.Millisecond); !ok {
		t.Fatal("initial AcquireLock() failed")
	}
	time.Sleep(80 * time.Millisecond)

	if ok, _ := s.AcquireLock(ctx, key, "tok-b", time.Minute); !ok {
		t.Fatal("AcquireLock() after expiry failed")
	}
	if ok, _ := s.RenewLock(ctx, key, "tok-a", time.Minute); ok {
		t.Fatal("stale holder renewed an expired lease")
	}
	if ok, _ := s.ReleaseLock(ctx, key, "tok-b"); !ok {
		t.Fatal("new holder ReleaseLock() failed")
	}
}

func TestGetJobNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetJob(context.Background(), id.NewJobID()); !errors.Is(err, pulse.ErrJobNotFound) {
		t.Fatalf("GetJob() error = %v, want ErrJobNotFound", err)
	}
}
