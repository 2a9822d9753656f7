package lock

// Key is a typed lock key. Call sites build keys through the functions
// below instead of string literals so a typo becomes a compile-time
// problem, not a silently distinct lock.
type Key string

// JobKey returns the lock key guarding a single execution of a
// (queue, jobType) pair across processes.
func JobKey(queue, jobType string) Key {
	return Key("job:" + queue + "." + jobType)
}

// CycleKey returns the lock key guarding a named world cycle, e.g.
// CycleKey("economy") for the periodic economy tick.
func CycleKey(name string) Key {
	return Key("cycle:" + name)
}

// SchedulerLeaderKey is the lease key for scheduler leadership. Only
// the process holding it fires recurring schedules.
const SchedulerLeaderKey Key = "scheduler:leader"

// ScheduleKey returns the per-entry lock key taken while firing a
// recurring schedule, so a leadership handover cannot double-fire.
func ScheduleKey(scheduleID string) Key {
	return Key("schedule:" + scheduleID)
}

func (k Key) String() string { return string(k) }
