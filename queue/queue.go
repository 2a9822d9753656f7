// Package queue provides the queue registry: named durable queues with
// per-queue default options, concurrency and rate limits, and intake
// pausing for drain. The registry is an explicit object constructed once
// at process start and passed by reference, never a package-level
// singleton, so tests get a fresh registry each.
package queue

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/pulse/backoff"
)

// Options defines per-queue defaults and limits.
type Options struct {
	// MaxAttempts is the default attempt budget for jobs enqueued to
	// this queue without an explicit override.
	MaxAttempts int

	// Backoff is the retry delay strategy for this queue's jobs.
	Backoff backoff.Strategy

	// MaxConcurrency limits how many jobs from this queue may run
	// simultaneously in the local worker pool. Zero means no
	// queue-specific limit (pool-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained jobs per second dequeued from
	// this queue. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int

	// Retention is how long completed jobs are kept before the
	// maintenance sweep removes them. Zero means keep forever.
	// Dead letter entries are never subject to retention.
	Retention time.Duration
}

// DefaultOptions returns queue Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		Backoff:     backoff.DefaultStrategy(),
		Retention:   24 * time.Hour,
	}
}

// state tracks runtime state for a single queue.
type state struct {
	opts    Options
	limiter *rate.Limiter
	active  int
	paused  bool
}

func newState(opts Options) *state {
	s := &state{opts: opts}
	if opts.Backoff == nil {
		s.opts.Backoff = backoff.DefaultStrategy()
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return s
}

// Registry owns all queues for a process. Queues are created lazily on
// first reference with the registry's default options. Safe for
// concurrent use.
type Registry struct {
	mu        sync.Mutex
	defaults  Options
	queues    map[string]*state
	tenants   map[string]*tenantState
	allPaused bool
}

// NewRegistry creates a Registry whose lazily-created queues use the
// given defaults.
func NewRegistry(defaults Options) *Registry {
	if defaults.Backoff == nil {
		defaults.Backoff = backoff.DefaultStrategy()
	}
	return &Registry{
		defaults: defaults,
		queues:   make(map[string]*state),
		tenants:  make(map[string]*tenantState),
	}
}

// get returns the queue state, creating it lazily. Caller holds r.mu.
func (r *Registry) get(name string) *state {
	qs, ok := r.queues[name]
	if !ok {
		qs = newState(r.defaults)
		qs.paused = r.allPaused
		r.queues[name] = qs
	}
	return qs
}

// Configure sets (or replaces) a queue's options, preserving the active
// count when reconfiguring a live queue.
func (r *Registry) Configure(name string, opts Options) {
	r.mu.Lock()
	defer r.mu.Unlock()

	qs := newState(opts)
	if existing, ok := r.queues[name]; ok {
		qs.active = existing.active
		qs.paused = existing.paused
	}
	r.queues[name] = qs
}

// OptionsFor returns the effective options for a queue, creating it
// lazily if needed.
func (r *Registry) OptionsFor(name string) Options {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(name).opts
}

// Names returns all queues known to the registry.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	return names
}

// Acquire checks intake pause, rate limits, and concurrency for the
// queue/tenant pair. If the job may proceed it increments the active
// counts and returns true. The caller MUST call Release when the job
// completes.
func (r *Registry) Acquire(queue, tenant string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	qs := r.get(queue)
	if qs.paused {
		return false
	}
	if qs.limiter != nil && !qs.limiter.Allow() {
		return false
	}
	if qs.opts.MaxConcurrency > 0 && qs.active >= qs.opts.MaxConcurrency {
		return false
	}

	if tenant != "" {
		ts := r.tenants[tenantKey(queue, tenant)]
		if ts != nil {
			if ts.limiter != nil && !ts.limiter.Allow() {
				return false
			}
			if ts.maxConcurrency > 0 && ts.active >= ts.maxConcurrency {
				return false
			}
			ts.active++
		}
	}

	qs.active++
	return true
}

// Release decrements the active job count for the queue and tenant.
func (r *Registry) Release(queue, tenant string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if qs, ok := r.queues[queue]; ok && qs.active > 0 {
		qs.active--
	}
	if tenant != "" {
		if ts := r.tenants[tenantKey(queue, tenant)]; ts != nil && ts.active > 0 {
			ts.active--
		}
	}
}

// ActiveCount returns the current number of active jobs for a queue.
func (r *Registry) ActiveCount(queue string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if qs, ok := r.queues[queue]; ok {
		return qs.active
	}
	return 0
}

// Pause stops new pickups on a single queue. Waiting jobs stay persisted.
func (r *Registry) Pause(queue string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(queue).paused = true
}

// PauseAll stops new pickups on every known queue and on queues created
// later (the registry remembers the global pause).
func (r *Registry) PauseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, qs := range r.queues {
		qs.paused = true
	}
	r.allPaused = true
}

// ResumeAll re-enables pickups on every queue.
func (r *Registry) ResumeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, qs := range r.queues {
		qs.paused = false
	}
	r.allPaused = false
}

// Paused reports whether a queue's intake is paused.
func (r *Registry) Paused(queue string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if qs, ok := r.queues[queue]; ok {
		return qs.paused
	}
	return r.allPaused
}
