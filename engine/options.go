package engine

import (
	"log/slog"

	"github.com/xraph/pulse/event"
	"github.com/xraph/pulse/middleware"
)

// Option configures an Engine at build time.
type Option func(*Engine)

// WithLogger sets the structured logger used across all subsystems.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMiddleware appends user middleware to the execution chain, run
// innermost, closest to the handler.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(e *Engine) {
		e.userMiddleware = append(e.userMiddleware, mws...)
	}
}

// WithBroadcast sets the real-time fan-out publisher for lifecycle
// broadcasts. Delivery is best-effort: failures are retried a few
// times, then dropped with a log line, never surfaced to job logic.
func WithBroadcast(pub event.Publisher) Option {
	return func(e *Engine) {
		e.broadcast = event.NewBestEffort(pub, e.logger)
	}
}
