package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/pulse"
)

// Registrar reconciles the code-declared descriptor set against the
// schedules persisted in the store. It owns schedule lifecycles: stale
// schedules (left by a redeploy that renamed or removed a job type) are
// purged before anything new is registered, so a restart never yields
// duplicate or zombie firings.
type Registrar struct {
	store    Store
	declared []Descriptor
	logger   *slog.Logger
}

// NewRegistrar creates a Registrar for the given declared descriptors.
func NewRegistrar(store Store, logger *slog.Logger, declared ...Descriptor) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{store: store, declared: declared, logger: logger}
}

// Declare appends descriptors to the declared set. Must be called
// before Sync.
func (r *Registrar) Declare(descriptors ...Descriptor) {
	r.declared = append(r.declared, descriptors...)
}

// Declared returns the declared descriptor set.
func (r *Registrar) Declared() []Descriptor {
	out := make([]Descriptor, len(r.declared))
	copy(out, r.declared)
	return out
}

// Sync purges stale schedules then registers every declared descriptor.
// Call once at process start, before the scheduler ticks.
func (r *Registrar) Sync(ctx context.Context) error {
	removed, err := r.CleanupStale(ctx)
	if err != nil {
		return fmt.Errorf("schedule: cleanup stale: %w", err)
	}
	if removed > 0 {
		r.logger.Info("purged stale schedules", slog.Int("removed", removed))
	}

	for _, d := range r.declared {
		if err := r.Register(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// Register persists a single descriptor. Registration is idempotent:
// the deterministic ID means a second registration of an identical
// descriptor is a no-op, leaving exactly one live schedule.
func (r *Registrar) Register(ctx context.Context, d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}

	sched, err := ParseSpec(d.Spec)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	next := sched.Next(now)

	entry := &Entry{
		Entity:    pulse.NewEntity(),
		ID:        d.ID(),
		Queue:     d.Queue,
		JobType:   d.JobType,
		Spec:      d.Spec,
		Payload:   d.Payload,
		NextRunAt: &next,
		Enabled:   true,
	}

	if err := r.store.RegisterSchedule(ctx, entry); err != nil {
		if errors.Is(err, pulse.ErrDuplicateSchedule) {
			// Already registered. If the spec changed under the same
			// identity, adopt the new rule.
			return r.adoptSpecChange(ctx, d, next)
		}
		return fmt.Errorf("schedule: register %q: %w", d.ID(), err)
	}

	r.logger.Info("schedule registered",
		slog.String("schedule_id", d.ID()),
		slog.String("spec", d.Spec),
		slog.Time("next_run_at", next),
	)
	return nil
}

// adoptSpecChange updates a persisted entry whose descriptor kept its
// identity but changed its rule or payload.
func (r *Registrar) adoptSpecChange(ctx context.Context, d Descriptor, next time.Time) error {
	existing, err := r.store.GetSchedule(ctx, d.ID())
	if err != nil {
		return fmt.Errorf("schedule: get %q: %w", d.ID(), err)
	}
	if existing.Spec == d.Spec && string(existing.Payload) == string(d.Payload) {
		return nil
	}

	existing.Spec = d.Spec
	existing.Payload = d.Payload
	existing.NextRunAt = &next
	existing.Touch()
	if err := r.store.UpdateSchedule(ctx, existing); err != nil {
		return fmt.Errorf("schedule: update %q: %w", d.ID(), err)
	}

	r.logger.Info("schedule spec updated",
		slog.String("schedule_id", d.ID()),
		slog.String("spec", d.Spec),
	)
	return nil
}

// CleanupStale removes every persisted schedule whose ID is not in the
// declared set and returns the number removed.
func (r *Registrar) CleanupStale(ctx context.Context) (int, error) {
	entries, err := r.store.ListSchedules(ctx)
	if err != nil {
		return 0, err
	}

	declared := make(map[string]struct{}, len(r.declared))
	for _, d := range r.declared {
		declared[d.ID()] = struct{}{}
	}

	removed := 0
	for _, entry := range entries {
		if _, ok := declared[entry.ID]; ok {
			continue
		}
		if err := r.store.DeleteSchedule(ctx, entry.ID); err != nil {
			return removed, fmt.Errorf("schedule: delete stale %q: %w", entry.ID, err)
		}
		r.logger.Info("removed stale schedule", slog.String("schedule_id", entry.ID))
		removed++
	}
	return removed, nil
}
