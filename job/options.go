package job

import "time"

// Options configures per-job behavior such as attempts, delay, and timeout.
type Options struct {
	// MaxAttempts is the total number of execution attempts before the
	// job is dead-lettered.
	MaxAttempts int

	// Timeout is the maximum duration a single attempt may run before
	// its context is cancelled.
	Timeout time.Duration

	// RunAt schedules the job for future execution. Zero means now.
	RunAt time.Time

	// Tenant attributes the job to a tenant for per-tenant limiting.
	Tenant string
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		Timeout:     5 * time.Minute,
	}
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithMaxAttempts sets the total attempt budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

// WithTimeout sets the per-attempt execution deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithRunAt schedules the job for execution at a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) { o.RunAt = t }
}

// WithDelay schedules the job for execution after d from now.
func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.RunAt = time.Now().UTC().Add(d) }
}

// WithTenant attributes the job to a tenant.
func WithTenant(tenant string) Option {
	return func(o *Options) { o.Tenant = tenant }
}
