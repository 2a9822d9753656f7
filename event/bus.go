package event

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Bus fans QueueEvents out to subscribers. Emit never blocks the
// emitting worker: a subscriber that falls behind loses events (the
// drop count is tracked per subscriber for diagnostics).
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

type subscriber struct {
	ch      chan QueueEvent
	dropped int64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe returns a channel of events and a cancel function. The
// buffer bounds how far the subscriber may lag before events are
// dropped.
func (b *Bus) Subscribe(buffer int) (<-chan QueueEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan QueueEvent, buffer)}
	b.subs[id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

// Emit delivers the event to every subscriber without blocking.
func (b *Bus) Emit(evt QueueEvent) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			sub.dropped++
		}
	}
}

// Close shuts the bus; subsequent Emits are no-ops and all subscriber
// channels are closed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// LogEvents consumes events from ch and writes them to the logger until
// ch closes or ctx is cancelled. Run it as a dedicated goroutine.
func LogEvents(ctx context.Context, ch <-chan QueueEvent, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			attrs := []any{
				slog.String("queue", evt.Queue),
				slog.String("job_type", evt.JobType),
			}
			if !evt.JobID.IsNil() {
				attrs = append(attrs, slog.String("job_id", evt.JobID.String()))
			}
			if evt.Attempt > 0 {
				attrs = append(attrs, slog.Int("attempt", evt.Attempt))
			}
			if evt.Duration > 0 {
				attrs = append(attrs, slog.Duration("duration", evt.Duration))
			}

			switch evt.Type {
			case JobFailed, JobDeadLettered:
				attrs = append(attrs, slog.String("error", evt.Error))
				logger.Warn(string(evt.Type), attrs...)
			case JobRetrying, JobStalled:
				attrs = append(attrs, slog.String("error", evt.Error))
				logger.Info(string(evt.Type), attrs...)
			default:
				logger.Info(string(evt.Type), attrs...)
			}
		}
	}
}
