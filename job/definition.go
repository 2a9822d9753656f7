package job

import "context"

// Definition is a typed job definition bound to a (queue, jobType) pair.
// T is the payload type (must be JSON-serializable). The handler is the
// single point where game-domain logic enters the scheduling core.
type Definition[T any] struct {
	// Queue is the queue this handler serves.
	Queue string

	// Type is the job type within the queue.
	Type string

	// Handler processes the payload. Returning a nil *Result with a nil
	// error is treated as success.
	Handler func(ctx context.Context, payload T) (*Result, error)

	// Opts configures attempts, timeout, and delay defaults for jobs
	// of this type.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](queue, jobType string, handler func(ctx context.Context, payload T) (*Result, error), opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Queue:   queue,
		Type:    jobType,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
