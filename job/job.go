package job

import (
	"time"

	"github.com/xraph/pulse"
	"github.com/xraph/pulse/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateWaiting means the job is ready and waiting for a worker slot.
	StateWaiting State = "waiting"
	// StateDelayed means the job is scheduled for a future RunAt,
	// either by enqueue delay or retry backoff.
	StateDelayed State = "delayed"
	// StateActive means a worker is currently executing the job.
	StateActive State = "active"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job exhausted its attempts. Terminal.
	StateFailed State = "failed"
	// StateDeadLettered means the failed job has been recorded to the
	// dead letter sink. Terminal.
	StateDeadLettered State = "dead_lettered"
)

// transitions is the forward-only state machine. A job never moves
// backwards except active -> waiting, which is the stalled-job recovery
// path (the worker died mid-job, so the attempt never concluded).
var transitions = map[State][]State{
	StateWaiting:   {StateActive},
	StateDelayed:   {StateWaiting, StateActive},
	StateActive:    {StateCompleted, StateDelayed, StateFailed, StateWaiting},
	StateFailed:    {StateDeadLettered},
	StateCompleted: {},
	StateDeadLettered: {},
}

// CanTransitionTo reports whether s -> next is a legal state change.
func (s State) CanTransitionTo(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the state ends the job's lifecycle.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateDeadLettered
}

// Job represents a unit of work to be processed by a worker.
type Job struct {
	pulse.Entity

	ID           id.JobID      `json:"id"`
	Queue        string        `json:"queue"`
	Type         string        `json:"type"`
	Payload      []byte        `json:"payload"`
	State        State         `json:"state"`
	AttemptsMade int           `json:"attempts_made"`
	MaxAttempts  int           `json:"max_attempts"`
	LastError    string        `json:"last_error,omitempty"`
	Tenant       string        `json:"tenant,omitempty"`
	WorkerID     id.WorkerID   `json:"worker_id,omitempty"`
	RunAt        time.Time     `json:"run_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
	HeartbeatAt  *time.Time    `json:"heartbeat_at,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty"`
}
