package event

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/pulse/backoff"
)

// Publisher is the boundary to the real-time fan-out layer. After
// certain jobs complete, the engine publishes a named event for
// connected game clients; the fan-out implementation lives outside
// this module.
type Publisher interface {
	Publish(ctx context.Context, name string, payload []byte) error
}

// BestEffort wraps a Publisher with a small bounded retry. Broadcast
// delivery must never affect job completion or retry accounting, so the
// final failure is logged and swallowed, but not before a couple of
// retries, so a transient blip doesn't vanish without any signal.
type BestEffort struct {
	pub      Publisher
	attempts int
	backoff  backoff.Strategy
	logger   *slog.Logger
}

// NewBestEffort creates a best-effort publisher wrapper.
func NewBestEffort(pub Publisher, logger *slog.Logger) *BestEffort {
	if logger == nil {
		logger = slog.Default()
	}
	return &BestEffort{
		pub:      pub,
		attempts: 3,
		backoff:  backoff.NewConstant(100 * time.Millisecond),
		logger:   logger,
	}
}

// Publish attempts delivery with bounded retries and always returns nil.
func (b *BestEffort) Publish(ctx context.Context, name string, payload []byte) error {
	if b.pub == nil {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= b.attempts; attempt++ {
		err := b.pub.Publish(ctx, name, payload)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == b.attempts {
			break
		}
		select {
		case <-time.After(b.backoff.Delay(attempt)):
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = b.attempts
		}
	}

	b.logger.Warn("broadcast dropped after retries",
		slog.String("event", name),
		slog.Int("attempts", b.attempts),
		slog.String("error", lastErr.Error()),
	)
	return nil
}
