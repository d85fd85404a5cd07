// Package worker provides the poll-loop abstraction used by the batch
// pipeline and the notification sweep: context-aware waits, periodic
// housekeeping tasks and panic recovery.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is called each iteration to process available work.
// It should return quickly when no work is pending.
type TickFunc func(ctx context.Context) error

// Housekeeping is a task run at a fixed interval alongside the main tick,
// e.g. stale-claim recovery.
type Housekeeping struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
	lastRun  time.Time
}

// Config configures a worker loop.
type Config struct {
	// Name identifies the worker for logging.
	Name string

	// PollInterval is the sleep between ticks.
	PollInterval time.Duration

	// Tick does the main work each iteration.
	Tick TickFunc

	// Housekeeping tasks run at their configured intervals before the tick.
	Housekeeping []Housekeeping

	// OnError is called when Tick returns an error. Return false to stop
	// the loop; by default errors are logged and the loop continues.
	OnError func(err error) bool

	Logger *zerolog.Logger
}

// Loop runs the worker until the context is canceled or OnError stops it.
func Loop(ctx context.Context, cfg Config) error {
	logger := cfg.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	logger.Info().Str("worker", cfg.Name).Msg("starting worker loop")

	defer logger.Info().Str("worker", cfg.Name).Msg("worker loop stopped")

	tasks := make([]Housekeeping, len(cfg.Housekeeping))
	copy(tasks, cfg.Housekeeping)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("worker loop %s: %w", cfg.Name, ctx.Err())
		default:
		}

		runHousekeeping(ctx, tasks, logger)

		if cfg.Tick != nil {
			if err := cfg.Tick(ctx); err != nil {
				if cfg.OnError != nil && !cfg.OnError(err) {
					return err
				}

				logger.Error().Err(err).Str("worker", cfg.Name).Msg("tick error")
			}
		}

		if err := Wait(ctx, cfg.PollInterval); err != nil {
			return err
		}
	}
}

func runHousekeeping(ctx context.Context, tasks []Housekeeping, logger *zerolog.Logger) {
	now := time.Now()

	for i := range tasks {
		task := &tasks[i]
		if task.Interval <= 0 || task.Run == nil {
			continue
		}

		if now.Sub(task.lastRun) >= task.Interval {
			logger.Debug().Str("task", task.Name).Msg("running housekeeping task")
			task.Run(ctx)
			task.lastRun = now
		}
	}
}

// Wait blocks until duration elapses or context is canceled.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("wait interrupted: %w", ctx.Err())
	case <-time.After(d):
		return nil
	}
}

// RunWithTimeout runs fn with a timeout derived from the parent context.
func RunWithTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return fn(timeoutCtx)
}

// RecoverPanic recovers from panics and logs them.
// Use as: defer worker.RecoverPanic(logger, "operation name")
func RecoverPanic(logger *zerolog.Logger, operation string) {
	if r := recover(); r != nil {
		logger.Error().
			Interface("panic", r).
			Str("operation", operation).
			Msg("recovered from panic")
	}
}
