package pulse

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("pulse: no store configured")
	ErrStoreClosed = errors.New("pulse: store closed")

	// Not found errors.
	ErrJobNotFound      = errors.New("pulse: job not found")
	ErrScheduleNotFound = errors.New("pulse: schedule not found")
	ErrDLQNotFound      = errors.New("pulse: dlq entry not found")

	// Conflict errors.
	ErrJobAlreadyExists  = errors.New("pulse: job already exists")
	ErrDuplicateSchedule = errors.New("pulse: duplicate schedule")

	// Lock errors. ErrLockHeld is the contention signal: expected,
	// not exceptional; callers on a fail-fast policy skip the cycle.
	ErrLockHeld    = errors.New("pulse: lock held by another process")
	ErrLockNotHeld = errors.New("pulse: lock not held")

	// State errors.
	ErrInvalidState = errors.New("pulse: invalid state transition")
	ErrNoHandler    = errors.New("pulse: no handler registered")

	// Lifecycle errors.
	ErrDraining = errors.New("pulse: engine is draining")
)
