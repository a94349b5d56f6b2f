// ABOUTME: Supervised launcher for detached background work
// ABOUTME: Recovers panics, logs errors, and exposes completion for shutdown

package background

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Runner launches detached tasks with panic recovery and error logging.
// Handlers that must respond before their work finishes (webhook pipelines,
// notification fan-out) go through here instead of bare goroutines, so a
// panic in one task cannot take the process down and shutdown can wait for
// in-flight work.
type Runner struct {
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewRunner creates a Runner logging task failures through logger
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger.With("component", "background")}
}

// Go runs fn on its own goroutine. The returned channel closes when fn
// finishes, however it finishes. Errors and panics are logged under name;
// neither propagates to the caller.
func (r *Runner) Go(ctx context.Context, name string, fn func(ctx context.Context) error) <-chan struct{} {
	done := make(chan struct{})
	r.wg.Add(1)

	go func() {
		defer close(done)
		defer r.wg.Done()
		defer func() {
			if v := recover(); v != nil {
				r.logger.Error("background task panicked", "task", name, "panic", fmt.Sprint(v))
			}
		}()

		if err := fn(ctx); err != nil {
			r.logger.Error("background task failed", "task", name, "error", err)
		}
	}()

	return done
}

// Wait blocks until all launched tasks finish or the timeout passes.
// Returns false on timeout.
func (r *Runner) Wait(timeout time.Duration) bool {
	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return true
	case <-time.After(timeout):
		return false
	}
}
