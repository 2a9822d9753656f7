package dlq

import (
	"time"

	"github.com/xraph/pulse/id"
)

// Entry is the full diagnostic snapshot of a job that exhausted its
// attempt budget. Entries are retained indefinitely for manual review
// and are never retried by the system itself.
type Entry struct {
	ID           id.DLQID   `json:"id"`
	JobID        id.JobID   `json:"job_id"`
	JobType      string     `json:"job_type"`
	Queue        string     `json:"queue"`
	Payload      []byte     `json:"payload"`
	Error        string     `json:"error"`
	Stack        string     `json:"stack,omitempty"`
	AttemptsMade int        `json:"attempts_made"`
	MaxAttempts  int        `json:"max_attempts"`
	Tenant       string     `json:"tenant,omitempty"`
	FailedAt     time.Time  `json:"failed_at"`
	ReplayedAt   *time.Time `json:"replayed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
