// Package event carries job lifecycle events to observers and the
// best-effort broadcast collaborator.
//
// Lifecycle observation is modelled as explicit QueueEvent values
// delivered over channels, consumed by dedicated logging/alerting
// goroutines decoupled from the worker loop, not as callbacks wired
// into job logic.
package event

import (
	"time"

	"github.com/xraph/pulse/id"
)

// Type identifies a job lifecycle event.
type Type string

const (
	JobEnqueued     Type = "job.enqueued"
	JobStarted      Type = "job.started"
	JobCompleted    Type = "job.completed"
	JobRetrying     Type = "job.retrying"
	JobFailed       Type = "job.failed"
	JobStalled      Type = "job.stalled"
	JobDeadLettered Type = "job.dead_lettered"
	ScheduleFired   Type = "schedule.fired"
)

// QueueEvent is an immutable record of a lifecycle transition, emitted
// by the worker pool and scheduler for observers to react to without
// coupling to job logic.
type QueueEvent struct {
	Type     Type          `json:"type"`
	Queue    string        `json:"queue"`
	JobType  string        `json:"job_type"`
	JobID    id.JobID      `json:"job_id,omitempty"`
	Attempt  int           `json:"attempt,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	At       time.Time     `json:"at"`
}
