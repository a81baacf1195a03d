package async

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pressline/errors"
	"github.com/teranos/pressline/logger"
	"github.com/teranos/pressline/pulse/telemetry"
)

// DefaultStopTimeout bounds how long Stop waits for in-flight executions
const DefaultStopTimeout = 60 * time.Second

// ErrPoolStopped is returned when work is submitted after Stop
var ErrPoolStopped = errors.New("worker pool stopped")

// pulseLogger wraps zap.SugaredLogger with special methods for Pulse operations
// Uses different log levels to create visual distinction:
// - DEBUG level → STARTING (✿ Opening operations)
// - WARN level → CLOSING (❀ Closing operations)
// - INFO level → PULSE (general dispatch operations)
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an Opening (✿) event - uses DEBUG level for "STARTING" appearance
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw("✿ "+msg, keysAndValues...)
}

// Closing logs a Closing (❀) event - uses WARN level for "CLOSING" appearance
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw("❀ "+msg, keysAndValues...)
}

// Pulse logs general dispatch operations - uses INFO level
func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	l.Infow(msg, keysAndValues...)
}

// WorkerPool runs detached execution tasks.
//
// Tasks get a context that is not cancelled when the triggering request or
// sweep ends: an execution that has been claimed runs to completion (or until
// the monitor declares it timed out). Stop refuses new tasks and waits for
// running ones up to the stop timeout.
type WorkerPool struct {
	ctx         context.Context
	stopTimeout time.Duration
	logger      pulseLogger

	mu      sync.Mutex
	wg      sync.WaitGroup
	active  int
	stopped bool
}

// NewWorkerPool creates a pool. ctx supplies values (not cancellation) to tasks.
func NewWorkerPool(ctx context.Context, stopTimeout time.Duration, log *zap.SugaredLogger) *WorkerPool {
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	return &WorkerPool{
		ctx:         context.WithoutCancel(ctx),
		stopTimeout: stopTimeout,
		logger:      pulseLogger{logger.AddPulseSymbol(log.Named("pulse"))},
	}
}

// Submit starts task in its own goroutine. Returns false after Stop.
// A task may Submit follow-up work before returning; the pool stays busy
// until the follow-up finishes too.
func (wp *WorkerPool) Submit(task func(ctx context.Context)) bool {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return false
	}
	wp.wg.Add(1)
	wp.active++
	telemetry.ActiveExecutions.Set(float64(wp.active))
	wp.mu.Unlock()

	go func() {
		defer wp.done()
		defer func() {
			if r := recover(); r != nil {
				wp.logger.Errorw("Task panicked", "panic", r)
			}
		}()
		task(wp.ctx)
	}()
	return true
}

func (wp *WorkerPool) done() {
	wp.mu.Lock()
	wp.active--
	telemetry.ActiveExecutions.Set(float64(wp.active))
	wp.mu.Unlock()
	wp.wg.Done()
}

// Accepting reports whether Submit would accept work
func (wp *WorkerPool) Accepting() bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return !wp.stopped
}

// Active returns the number of running tasks
func (wp *WorkerPool) Active() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.active
}

// Wait blocks until no tasks are running, including follow-ups they submitted,
// or ctx is done.
func (wp *WorkerPool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new tasks and waits for running ones.
// ❀ Closing: executions are not cancelled; after the stop timeout the pool
// returns anyway and the monitor recovers whatever was left processing.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	active := wp.active
	wp.mu.Unlock()

	if active > 0 {
		wp.logger.Closing("Waiting for in-flight executions", "active", active, "timeout", wp.stopTimeout)
	}

	ctx, cancel := context.WithTimeout(context.Background(), wp.stopTimeout)
	defer cancel()

	if err := wp.Wait(ctx); err != nil {
		wp.logger.Closing("WorkerPool.Stop() timeout - executions still running", "active", wp.Active(), "timeout", wp.stopTimeout)
		return
	}
	wp.logger.Pulse("❀ WorkerPool.Stop() complete - all executions finished")
}
