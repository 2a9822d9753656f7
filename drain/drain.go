// Package drain coordinates graceful shutdown: stop claiming, let
// in-flight jobs finish within a bounded window, close queues
// concurrently, then release the store.
package drain

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/pulse"
	"github.com/xraph/pulse/queue"
	"github.com/xraph/pulse/worker"
)

// Phase is the shutdown lifecycle stage. Phases only move forward.
type Phase int32

const (
	// PhaseRunning is normal operation.
	PhaseRunning Phase = iota
	// PhasePaused means no new jobs are claimed; in-flight jobs
	// continue.
	PhasePaused
	// PhaseDraining means queues are being closed down.
	PhaseDraining
	// PhaseClosed means shutdown finished and the store is released.
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhasePaused:
		return "paused"
	case PhaseDraining:
		return "draining"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Storer is the slice of the store the controller needs.
type Storer interface {
	Close() error
}

// Controller executes the drain sequence exactly once.
type Controller struct {
	cfg    pulse.Config
	pool   *worker.Pool
	queues *queue.Registry
	store  Storer
	logger *slog.Logger

	mu    sync.Mutex
	phase Phase
	once  sync.Once
	err   error
}

// NewController creates a drain Controller.
func NewController(cfg pulse.Config, pool *worker.Pool, queues *queue.Registry, store Storer, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:    cfg,
		pool:   pool,
		queues: queues,
		store:  store,
		logger: logger,
	}
}

// Phase returns the current shutdown stage.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
	c.logger.Info("drain phase", slog.String("phase", p.String()))
}

// Drain runs the full shutdown sequence. It is idempotent: concurrent
// and repeated calls share the first invocation's outcome. New work is
// rejected from the moment the phase leaves running; jobs already
// executing get up to DrainTimeout collectively, then each queue gets
// up to QueueCloseTimeout to finish closing before it is abandoned
// with a warning.
func (c *Controller) Drain(ctx context.Context) error {
	c.once.Do(func() { c.err = c.drain(ctx) })
	return c.err
}

func (c *Controller) drain(ctx context.Context) error {
	started := time.Now()

	c.setPhase(PhasePaused)
	if c.queues != nil {
		c.queues.PauseAll()
	}
	c.pool.Pause()

	c.waitForIdle(ctx)

	c.setPhase(PhaseDraining)
	c.closeQueues(ctx)

	if err := c.pool.Stop(ctx); err != nil {
		c.logger.Warn("pool stop error", slog.String("error", err.Error()))
	}

	var closeErr error
	if c.store != nil {
		closeErr = c.store.Close()
	}

	c.setPhase(PhaseClosed)
	c.logger.Info("drain complete",
		slog.Duration("elapsed", time.Since(started)),
	)
	return closeErr
}

// waitForIdle waits until no jobs are in flight, bounded by
// DrainTimeout and the caller's context.
func (c *Controller) waitForIdle(ctx context.Context) {
	deadline := time.NewTimer(c.cfg.DrainTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		active := c.pool.ActiveCount()
		if active == 0 {
			return
		}
		select {
		case <-ctx.Done():
			c.logger.Warn("drain cancelled with jobs in flight",
				slog.Int("active", active),
			)
			return
		case <-deadline.C:
			c.logger.Warn("drain timeout with jobs in flight",
				slog.Int("active", active),
				slog.Duration("waited", c.cfg.DrainTimeout),
			)
			return
		case <-ticker.C:
		}
	}
}

// closeQueues closes every queue concurrently, each bounded by
// QueueCloseTimeout. A queue that misses its window is abandoned with
// a warning rather than holding up the rest.
func (c *Controller) closeQueues(ctx context.Context) {
	names := c.cfg.Queues
	if c.queues != nil {
		if registered := c.queues.Names(); len(registered) > 0 {
			names = registered
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			closeCtx, cancel := context.WithTimeout(ctx, c.cfg.QueueCloseTimeout)
			defer cancel()
			if err := c.pool.CloseQueue(closeCtx, name); err != nil {
				c.logger.Warn("queue close timed out, abandoning",
					slog.String("queue", name),
					slog.Duration("timeout", c.cfg.QueueCloseTimeout),
				)
			}
			return nil
		})
	}
	_ = g.Wait() // closers never return errors, timeouts are warnings
}
