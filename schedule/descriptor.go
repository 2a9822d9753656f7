// Package schedule provides recurring job schedules: declarative
// descriptors registered idempotently under deterministic identifiers,
// a boot-time purge of stale registrations, and a leader-gated tick
// loop that enqueues due jobs.
package schedule

import (
	"fmt"

	cronlib "github.com/robfig/cron/v3"
)

// Descriptor declares a recurring job: fire jobs of Type onto Queue per
// the Spec rule. Descriptors are the code-declared source of truth; any
// stored schedule without a matching descriptor is purged at boot.
type Descriptor struct {
	// Queue is the target queue.
	Queue string

	// JobType is the job type enqueued on each firing.
	JobType string

	// Spec is the repeat rule: a standard 5-field cron expression
	// (optionally prefixed "CRON_TZ=<zone> " for a fixed named time
	// zone; otherwise process-local time), or a fixed interval in the
	// form "@every 90s". Cron and interval semantics are independent:
	// intervals fire every N from registration, cron fires at the
	// earliest instant strictly after now satisfying the expression.
	Spec string

	// Payload is the JSON payload enqueued with each firing.
	Payload []byte
}

// ID returns the deterministic schedule identifier for this descriptor:
// queue + "." + jobType + "-recurring". Determinism is what makes
// registration idempotent across process restarts and fleets.
func (d Descriptor) ID() string {
	return d.Queue + "." + d.JobType + "-recurring"
}

// parser supports standard 5-field cron plus descriptors like
// "@every 30s" and the CRON_TZ= prefix.
var parser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSpec parses a schedule spec into its evaluatable form.
func ParseSpec(spec string) (cronlib.Schedule, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("schedule: parse %q: %w", spec, err)
	}
	return sched, nil
}

// Validate checks that the descriptor is well-formed.
func (d Descriptor) Validate() error {
	if d.Queue == "" {
		return fmt.Errorf("schedule: descriptor missing queue")
	}
	if d.JobType == "" {
		return fmt.Errorf("schedule: descriptor missing job type")
	}
	_, err := ParseSpec(d.Spec)
	return err
}
