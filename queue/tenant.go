package queue

import (
	"fmt"

	"golang.org/x/time/rate"
)

// TenantOptions defines rate limits and concurrency for a specific
// tenant on a specific queue, identified by the job's Tenant field;
// typically a shard or realm identifier.
type TenantOptions struct {
	// Queue is the queue this config applies to.
	Queue string

	// Tenant is the tenant identifier.
	Tenant string

	// RateLimit is the sustained jobs per second for this tenant.
	RateLimit float64

	// RateBurst is the burst size for the tenant's rate limiter.
	RateBurst int

	// MaxConcurrency limits simultaneous jobs for this tenant on this
	// queue. Zero means no tenant-specific concurrency limit.
	MaxConcurrency int
}

// tenantState tracks runtime state for a single queue+tenant pair.
type tenantState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

// tenantKey builds the map key for a queue+tenant pair.
func tenantKey(queue, tenant string) string {
	return fmt.Sprintf("%s:%s", queue, tenant)
}

// ConfigureTenant sets rate limits and concurrency for a tenant on a
// queue. Calling it again for the same pair replaces the previous
// configuration, preserving the live active count.
func (r *Registry) ConfigureTenant(opts TenantOptions) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := tenantKey(opts.Queue, opts.Tenant)
	existing := r.tenants[key]

	ts := &tenantState{maxConcurrency: opts.MaxConcurrency}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	if existing != nil {
		ts.active = existing.active
	}
	r.tenants[key] = ts
}

// TenantActiveCount returns the current number of active jobs for a
// queue+tenant pair.
func (r *Registry) TenantActiveCount(queue, tenant string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ts := r.tenants[tenantKey(queue, tenant)]; ts != nil {
		return ts.active
	}
	return 0
}
