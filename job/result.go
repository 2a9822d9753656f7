package job

import (
	"encoding/json"
	"time"
)

// Result is the structured outcome of a single job execution, returned
// by handlers and captured by the executor. It is not persisted beyond
// the job's completion metadata.
type Result struct {
	Success  bool            `json:"success"`
	Message  string          `json:"message,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Duration time.Duration   `json:"duration"`
}

// OK returns a successful Result with an optional message.
func OK(message string) *Result {
	return &Result{Success: true, Message: message}
}
