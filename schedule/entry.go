package schedule

import (
	"time"

	"github.com/xraph/pulse"
)

// Entry is a persisted recurring schedule. Its ID is the deterministic
// descriptor identifier, not a generated one: re-registering an
// identical descriptor is a no-op, never a second schedule.
type Entry struct {
	pulse.Entity

	ID        string     `json:"id"`
	Queue     string     `json:"queue"`
	JobType   string     `json:"job_type"`
	Spec      string     `json:"spec"`
	Payload   []byte     `json:"payload,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	Enabled   bool       `json:"enabled"`
}
