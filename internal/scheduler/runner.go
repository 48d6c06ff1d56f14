// Package scheduler runs the worker's recurring loops (queue processing,
// stale-claim sweep, health checks, retention cleanup) as independent ticker
// goroutines. Each loop has its own panic isolation so one loop's crash can
// never take down the others; errors are logged and the next tick retries.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chesshelper/internal/types"
)

// Task is one recurring loop. Run is invoked once at startup and then every
// Interval until the context is cancelled.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Runner drives a set of Tasks until its context is cancelled.
type Runner struct {
	tasks  []Task
	logger types.Logger
}

// NewRunner creates a Runner over the given tasks.
func NewRunner(logger types.Logger, tasks ...Task) *Runner {
	return &Runner{tasks: tasks, logger: logger}
}

// Start launches every task loop and blocks until the context is cancelled
// and all loops have exited.
func (r *Runner) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, task := range r.tasks {
		if task.Interval <= 0 {
			r.logger.Warn("skipping task with non-positive interval", "task", task.Name)
			continue
		}
		wg.Add(1)
		go func(task Task) {
			defer wg.Done()
			r.loop(ctx, task)
		}(task)
	}
	wg.Wait()
}

// loop runs one task immediately and then on its ticker.
func (r *Runner) loop(ctx context.Context, task Task) {
	r.logger.Info("scheduler loop started", "task", task.Name, "interval", task.Interval)

	r.runOnce(ctx, task)

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("scheduler loop stopped", "task", task.Name)
			return
		case <-ticker.C:
			r.runOnce(ctx, task)
		}
	}
}

// runOnce executes one task iteration with panic isolation. A panic or error
// is logged; the loop keeps ticking either way.
func (r *Runner) runOnce(ctx context.Context, task Task) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("scheduler task panicked", "task", task.Name, "panic", fmt.Sprint(rec))
		}
	}()

	if err := task.Run(ctx); err != nil {
		// Context cancellation during shutdown is not a task failure.
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("scheduler task failed", "task", task.Name, "error", err)
	}
}
