// Package store defines the composite persistence contract and hosts
// its backends. Each subsystem declares its own narrow store interface
// next to its types (job.Store, lock.Store, schedule.Store, dlq.Store);
// a backend implements them all behind one connection so every process
// in the fleet coordinates through the same shared state.
package store

import (
	"context"

	"github.com/xraph/pulse/dlq"
	"github.com/xraph/pulse/event"
	"github.com/xraph/pulse/job"
	"github.com/xraph/pulse/lock"
	"github.com/xraph/pulse/schedule"
)

// Store is the composite persistence interface an engine runs on.
type Store interface {
	job.Store
	lock.Store
	schedule.Store
	dlq.Store
	event.Publisher

	// Migrate prepares the backend's on-disk structures. Backends with
	// no schema implement it as a no-op.
	Migrate(ctx context.Context) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources. Operations after Close
	// return pulse.ErrStoreClosed.
	Close() error
}
