// Package lock provides distributed mutual-exclusion leases backed by
// the coordination store. A lease is time-bounded: a crashed holder's
// lock self-expires after its TTL, so no heartbeat protocol is needed
// for liveness. Ownership is proven by an opaque token; release and
// renewal with a mismatched token are no-ops.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/pulse"
	"github.com/xraph/pulse/backoff"
)

// Policy controls how Acquire behaves under contention.
type Policy struct {
	// Attempts is the total number of acquisition attempts. 1 means
	// fail fast: a single attempt, returning ErrLockHeld immediately
	// so the caller can skip this cycle.
	Attempts int

	// Backoff is the delay between attempts. Ignored when Attempts is 1.
	Backoff backoff.Strategy
}

// FailFast returns the single-attempt policy: on contention the caller
// skips its cycle and lets the next tick cover the work.
func FailFast() Policy {
	return Policy{Attempts: 1}
}

// BoundedRetry returns a policy that retries acquisition up to attempts
// times, waiting per the strategy between tries.
func BoundedRetry(attempts int, bo backoff.Strategy) Policy {
	if bo == nil {
		bo = backoff.NewConstant(250 * time.Millisecond)
	}
	return Policy{Attempts: attempts, Backoff: bo}
}

// DefaultCyclePolicy is the default for recurring cycle jobs: missing a
// cycle is cheaper than queueing behind another process.
func DefaultCyclePolicy() Policy { return FailFast() }

// DefaultAdminPolicy is the default for one-shot administrative and
// maintenance jobs, which should wait briefly rather than give up.
func DefaultAdminPolicy() Policy {
	return BoundedRetry(5, backoff.NewConstant(200*time.Millisecond))
}

// Manager acquires and releases named leases against a Store.
type Manager struct {
	store  Store
	logger *slog.Logger
}

// NewManager creates a lock manager.
func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, logger: logger}
}

// Lease is an acquired lock. The token is private to the holder; only
// the Lease that acquired the lock can release or renew it.
type Lease struct {
	key   Key
	token string
	ttl   time.Duration
	mgr   *Manager
}

// Key returns the lease's lock key.
func (l *Lease) Key() Key { return l.key }

// Token returns the opaque ownership token. Exposed for introspection
// and tests; callers never need it for normal operation.
func (l *Lease) Token() string { return l.token }

// Acquire attempts to take the lock for key with the given TTL under the
// policy. On contention past the policy's budget it returns ErrLockHeld.
//
// A coordination-store failure is treated as contention: without the
// store there is no safety guarantee, so the caller must skip rather
// than proceed unguarded.
func (m *Manager) Acquire(ctx context.Context, key Key, ttl time.Duration, policy Policy) (*Lease, error) {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	token := uuid.NewString()

	var lastErr error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		ok, err := m.store.AcquireLock(ctx, key.String(), token, ttl)
		if err != nil {
			m.logger.Warn("lock store unavailable, failing closed",
				slog.String("key", key.String()),
				slog.String("error", err.Error()),
			)
			lastErr = err
		} else if ok {
			return &Lease{key: key, token: token, ttl: ttl, mgr: m}, nil
		}

		if attempt == policy.Attempts {
			break
		}
		delay := time.Duration(0)
		if policy.Backoff != nil {
			delay = policy.Backoff.Delay(attempt)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if lastErr != nil {
		return nil, errors.Join(pulse.ErrLockHeld, lastErr)
	}
	return nil, pulse.ErrLockHeld
}

// Release gives up the lease. Releasing after expiry, or after the key
// was reacquired by another holder, is a no-op: the stored token no
// longer matches.
func (l *Lease) Release(ctx context.Context) error {
	released, err := l.mgr.store.ReleaseLock(ctx, l.key.String(), l.token)
	if err != nil {
		return fmt.Errorf("lock: release %q: %w", l.key, err)
	}
	if !released {
		l.mgr.logger.Debug("release was a no-op, lock no longer ours",
			slog.String("key", l.key.String()),
		)
	}
	return nil
}

// Renew extends the lease TTL. A false return means the lease has been
// lost (expired or taken over) and the caller must abort its critical
// section.
func (l *Lease) Renew(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := l.mgr.store.RenewLock(ctx, l.key.String(), l.token, ttl)
	if err != nil {
		// Fail closed: an unreachable store means we cannot prove
		// ownership anymore.
		return false, fmt.Errorf("lock: renew %q: %w", l.key, err)
	}
	return ok, nil
}

// Do runs fn while holding the lock for key. The lease is renewed at
// half-TTL intervals for long critical sections; if a renewal fails the
// derived context is cancelled and fn is expected to abort. The lease is
// released on return.
//
// Under contention Do returns ErrLockHeld without running fn.
func (m *Manager) Do(ctx context.Context, key Key, ttl time.Duration, policy Policy, fn func(ctx context.Context) error) error {
	lease, err := m.Acquire(ctx, key, ttl, policy)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		ticker := time.NewTicker(ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				ok, renewErr := lease.Renew(runCtx, ttl)
				if renewErr != nil || !ok {
					m.logger.Warn("lost lock during critical section",
						slog.String("key", key.String()),
					)
					cancel(pulse.ErrLockNotHeld)
					return
				}
			}
		}
	}()

	fnErr := fn(runCtx)
	cancel(nil)
	<-renewDone

	releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer releaseCancel()
	if relErr := lease.Release(releaseCtx); relErr != nil {
		m.logger.Warn("lock release failed, lease will expire by TTL",
			slog.String("key", key.String()),
			slog.String("error", relErr.Error()),
		)
	}

	if fnErr == nil && errors.Is(context.Cause(runCtx), pulse.ErrLockNotHeld) {
		return pulse.ErrLockNotHeld
	}
	return fnErr
}
