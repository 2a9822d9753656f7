package schedule_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/xraph/pulse"
	"github.com/xraph/pulse/schedule"
)

// stubScheduleStore is an in-memory schedule.Store for tests.
type stubScheduleStore struct {
	mu      sync.Mutex
	entries map[string]*schedule.Entry

	registerErr error
	listErr     error
	updateCalls int
}

func newStubScheduleStore() *stubScheduleStore {
	return &stubScheduleStore{entries: make(map[string]*schedule.Entry)}
}

func (s *stubScheduleStore) RegisterSchedule(_ context.Context, entry *schedule.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registerErr != nil {
		return s.registerErr
	}
	if _, ok := s.entries[entry.ID]; ok {
		return pulse.ErrDuplicateSchedule
	}
	cp := *entry
	s.entries[entry.ID] = &cp
	return nil
}

func (s *stubScheduleStore) GetSchedule(_ context.Context, scheduleID string) (*schedule.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[scheduleID]
	if !ok {
		return nil, pulse.ErrScheduleNotFound
	}
	cp := *entry
	return &cp, nil
}

func (s *stubScheduleStore) ListSchedules(_ context.Context) ([]*schedule.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]*schedule.Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		cp := *entry
		out = append(out, &cp)
	}
	return out, nil
}

func (s *stubScheduleStore) UpdateSchedule(_ context.Context, entry *schedule.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[entry.ID]; !ok {
		return pulse.ErrScheduleNotFound
	}
	cp := *entry
	s.entries[entry.ID] = &cp
	s.updateCalls++
	return nil
}

func (s *stubScheduleStore) DeleteSchedule(_ context.Context, scheduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[scheduleID]; !ok {
		return pulse.ErrScheduleNotFound
	}
	delete(s.entries, scheduleID)
	return nil
}

func (s *stubScheduleStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestDescriptorID(t *testing.T) {
	d := schedule.Descriptor{Queue: "matchmaking", JobType: "cycle"}
	if got, want := d.ID(), "matchmaking.cycle-recurring"; got != want {
		t.Fatalf("ID() = %q, want %q", got, want)
	}
}

func TestDescriptorValidate(t *testing.T) {
	tests := []struct {
		name    string
		d       schedule.Descriptor
		wantErr bool
	}{
		{
			name: "valid cron",
			d:    schedule.Descriptor{Queue: "q", JobType: "t", Spec: "*/5 * * * *"},
		},
		{
			name: "valid interval",
			d:    schedule.Descriptor{Queue: "q", JobType: "t", Spec: "@every 90s"},
		},
		{
			name: "valid with timezone",
			d:    schedule.Descriptor{Queue: "q", JobType: "t", Spec: "CRON_TZ=UTC 0 4 * * *"},
		},
		{
			name:    "missing queue",
			d:       schedule.Descriptor{JobType: "t", Spec: "* * * * *"},
			wantErr: true,
		},
		{
			name:    "missing job type",
			d:       schedule.Descriptor{Queue: "q", Spec: "* * * * *"},
			wantErr: true,
		},
		{
			name:    "malformed spec",
			d:       schedule.Descriptor{Queue: "q", JobType: "t", Spec: "not a cron"},
			wantErr: true,
		},
		{
			name:    "six fields rejected",
			d:       schedule.Descriptor{Queue: "q", JobType: "t", Spec: "0 0 0 * * *"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistrarRegisterIdempotent(t *testing.T) {
	store := newStubScheduleStore()
	d := schedule.Descriptor{Queue: "matchmaking", JobType: "cycle", Spec: "@every 30s"}
	r := schedule.NewRegistrar(store, nil, d)

	ctx := context.Background()
	if err := r.Sync(ctx); err != nil {
		t.Fatalf("first Sync() error = %v", err)
	}
	if err := r.Sync(ctx); err != nil {
		t.Fatalf("second Sync() error = %v", err)
	}

	if got := store.count(); got != 1 {
		t.Fatalf("schedule count = %d, want 1", got)
	}
	entry, err := store.GetSchedule(ctx, d.ID())
	if err != nil {
		t.Fatalf("GetSchedule() error = %v", err)
	}
	if !entry.Enabled {
		t.Error("registered schedule is not enabled")
	}
	if entry.NextRunAt == nil {
		t.Error("registered schedule has no NextRunAt")
	}
}

func TestRegistrarAdoptsSpecChange(t *testing.T) {
	store := newStubScheduleStore()
	ctx := context.Background()

	old := schedule.Descriptor{Queue: "billing", JobType: "settle", Spec: "@every 1h"}
	r := schedule.NewRegistrar(store, nil, old)
	if err := r.Sync(ctx); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	// Same identity, new rule.
	updated := schedule.Descriptor{Queue: "billing", JobType: "settle", Spec: "*/10 * * * *"}
	r2 := schedule.NewRegistrar(store, nil, updated)
	if err := r2.Sync(ctx); err != nil {
		t.Fatalf("Sync() after spec change error = %v", err)
	}

	entry, err := store.GetSchedule(ctx, updated.ID())
	if err != nil {
		t.Fatalf("GetSchedule() error = %v", err)
	}
	if entry.Spec != "*/10 * * * *" {
		t.Fatalf("Spec = %q, want spec change adopted", entry.Spec)
	}
	if got := store.count(); got != 1 {
		t.Fatalf("schedule count = %d, want 1", got)
	}
}

func TestRegistrarCleanupStale(t *testing.T) {
	store := newStubScheduleStore()
	ctx := context.Background()

	// Simulate a previous deploy that declared two schedules.
	previous := schedule.NewRegistrar(store, nil,
		schedule.Descriptor{Queue: "matchmaking", JobType: "cycle", Spec: "@every 30s"},
		schedule.Descriptor{Queue: "reports", JobType: "daily", Spec: "0 4 * * *"},
	)
	if err := previous.Sync(ctx); err != nil {
		t.Fatalf("previous Sync() error = %v", err)
	}

	// The new deploy dropped reports.daily.
	current := schedule.NewRegistrar(store, nil,
		schedule.Descriptor{Queue: "matchmaking", JobType: "cycle", Spec: "@every 30s"},
	)
	if err := current.Sync(ctx); err != nil {
		t.Fatalf("current Sync() error = %v", err)
	}

	if got := store.count(); got != 1 {
		t.Fatalf("schedule count = %d, want 1 after stale cleanup", got)
	}
	if _, err := store.GetSchedule(ctx, "reports.daily-recurring"); !errors.Is(err, pulse.ErrScheduleNotFound) {
		t.Fatalf("stale schedule still present, err = %v", err)
	}
	if _, err := store.GetSchedule(ctx, "matchmaking.cycle-recurring"); err != nil {
		t.Fatalf("declared schedule missing, err = %v", err)
	}
}

func TestRegistrarRejectsInvalidDescriptor(t *testing.T) {
	store := newStubScheduleStore()
	r := schedule.NewRegistrar(store, nil,
		schedule.Descriptor{Queue: "q", JobType: "t", Spec: "61 * * * *"},
	)
	if err := r.Sync(context.Background()); err == nil {
		t.Fatal("Sync() with invalid spec succeeded, want error")
	}
	if got := store.count(); got != 0 {
		t.Fatalf("schedule count = %d, want 0", got)
	}
}
