package pulse

import "time"

// DeadLetterQueue is the reserved queue name for permanently failed jobs.
// Jobs executing on this queue are never dead-lettered again.
const DeadLetterQueue = "dead-letter"

// Config holds configuration for the engine.
type Config struct {
	// Concurrency is the maximum number of jobs processed concurrently
	// by this process.
	Concurrency int

	// Queues is the list of queues this process will poll.
	Queues []string

	// PollInterval is how often workers poll for due jobs.
	PollInterval time.Duration

	// HeartbeatInterval is how often active jobs report liveness.
	HeartbeatInterval time.Duration

	// StalledThreshold is how long an active job may go without a
	// heartbeat before it is returned to waiting for re-pickup.
	StalledThreshold time.Duration

	// DrainTimeout is the maximum time to wait for active jobs to
	// finish during shutdown before queues are force-closed.
	DrainTimeout time.Duration

	// QueueCloseTimeout bounds each individual queue's close during
	// shutdown. A queue that misses it is abandoned with a warning
	// rather than holding up the rest.
	QueueCloseTimeout time.Duration

	// SchedulerTick is how often the schedule scheduler checks for
	// due entries.
	SchedulerTick time.Duration

	// LeaderTTL is the lease duration for the scheduler leadership
	// lock. Renewal happens at half the TTL.
	LeaderTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		Queues:            []string{"default"},
		PollInterval:      1 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		StalledThreshold:  30 * time.Second,
		DrainTimeout:      30 * time.Second,
		QueueCloseTimeout: 5 * time.Second,
		SchedulerTick:     1 * time.Second,
		LeaderTTL:         15 * time.Second,
	}
}
