package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Paddel87/AIMA-sub000/internal/redact"
)

// RunnerConfig holds configuration for the worker pool.
type RunnerConfig struct {
	// WorkerCount is the number of concurrent workers pulling from the
	// dispatcher.
	WorkerCount int

	// PollInterval is how long an idle worker waits before asking the
	// dispatcher again when nothing was eligible.
	PollInterval time.Duration

	// DefaultTimeout bounds executions of tasks that do not carry
	// their own timeout.
	DefaultTimeout time.Duration
}

// errInterrupted marks an execution cut short by pool shutdown. It is
// not a failure: the handler neither errored nor timed out.
var errInterrupted = errors.New("execution interrupted by shutdown")

// DefaultRunnerConfig returns a RunnerConfig with the standard
// defaults: 10 workers, 200ms idle poll, 1h execution timeout.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:    10,
		PollInterval:   200 * time.Millisecond,
		DefaultTimeout: DefaultTimeout,
	}
}

// Runner executes tasks on a bounded pool of workers. Each worker
// loops: pull the next eligible task from the dispatcher, persist the
// running transition, invoke the registered handler under a timeout,
// persist the terminal or retrying outcome, and notify best-effort.
type Runner struct {
	dispatcher *Dispatcher
	registry   *Registry
	tasks      *TaskStore
	retry      *RetryPolicy
	notifier   Notifier
	config     RunnerConfig
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// now is overridable in tests.
	now func() time.Time
}

// NewRunner creates a worker pool. Invalid config values fall back to
// defaults.
func NewRunner(
	dispatcher *Dispatcher,
	registry *Registry,
	tasks *TaskStore,
	notifier Notifier,
	config RunnerConfig,
	logger *slog.Logger,
) *Runner {
	defaults := DefaultRunnerConfig()
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = defaults.DefaultTimeout
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		dispatcher: dispatcher,
		registry:   registry,
		tasks:      tasks,
		retry:      NewRetryPolicy(logger),
		notifier:   notifier,
		config:     config,
		logger:     logger.With("component", "task_runner"),
		ctx:        ctx,
		cancel:     cancel,
		now:        time.Now,
	}
}

// Start launches the worker goroutines.
func (r *Runner) Start() {
	for i := 0; i < r.config.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.logger.Info("worker pool started", "worker_count", r.config.WorkerCount)
}

// Stop signals all workers to finish their current task and waits for
// them to exit. In-flight handlers see their context cancelled.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
	r.logger.Info("worker pool stopped")
}

// worker pulls tasks from the dispatcher until shutdown.
func (r *Runner) worker(id int) {
	defer r.wg.Done()

	logger := r.logger.With("worker_id", id)
	logger.Debug("starting worker")

	for {
		select {
		case <-r.ctx.Done():
			logger.Debug("stopping worker")
			return
		default:
		}

		t, err := r.dispatcher.Next(r.ctx)
		if err != nil {
			logger.Error("dispatch failed", "error", err)
			r.sleep()
			continue
		}
		if t == nil {
			// Nothing eligible right now. Normal outcome, short poll.
			r.sleep()
			continue
		}

		r.execute(t, logger)
	}
}

// sleep waits one poll interval, waking early on shutdown.
func (r *Runner) sleep() {
	timer := time.NewTimer(r.config.PollInterval)
	defer timer.Stop()
	select {
	case <-r.ctx.Done():
	case <-timer.C:
	}
}

// execute runs one task: running transition, handler invocation under
// timeout, outcome persistence, retry policy, notification.
func (r *Runner) execute(t *Task, logger *slog.Logger) {
	ctx := context.Background()
	logger = logger.With("task_id", t.ID, "function", t.Function, "queue", t.Queue)

	// An unregistered function name is a configuration error, not a
	// transient fault: fail permanently, bypassing the retry policy.
	handler, ok := r.registry.Lookup(t.Function)
	if !ok {
		logger.Error("no handler registered for function")
		r.failPermanently(ctx, t, fmt.Sprintf("no handler registered for function %q", t.Function), "")
		return
	}

	// Persist the running transition before executing. The transition
	// is not valid until stored; if persistence fails the task goes
	// back to its ready set untouched.
	started := r.now().UTC()
	t.Status = StatusRunning
	t.StartedAt = &started
	if err := r.tasks.Save(ctx, t); err != nil {
		logger.Error("failed to persist running transition, requeueing", "error", err)
		t.Status = StatusPending
		t.StartedAt = nil
		if enqErr := r.dispatcher.Restore(t); enqErr != nil {
			logger.Error("failed to requeue task after persistence failure", "error", enqErr)
		}
		return
	}

	logger.Info("executing task", "attempt", t.RetryCount+1, "max_retries", t.MaxRetries)

	value, execErr, timedOut := r.invoke(handler, t)
	finished := r.now().UTC()
	elapsed := finished.Sub(started)

	if execErr == nil {
		t.Status = StatusCompleted
		t.CompletedAt = &finished
		t.ExecutionTime = elapsed
		t.Result = &Result{Success: true, Value: value, ExecutionTime: elapsed}
		t.ErrorMessage = ""
		t.ErrorTrace = ""

		if err := r.tasks.Save(ctx, t); err != nil {
			// The work happened but the record says otherwise; on
			// restart the task may run again. Logged, not swallowed.
			logger.Error("failed to persist completed state, task may re-execute after restart",
				"error", err)
			return
		}

		logger.Info("task completed", "execution_time", elapsed)
		r.notifier.NotifyCompleted(ctx, t.Context.UserID, t.Name, t.ID, elapsed)
		return
	}

	if errors.Is(execErr, errInterrupted) {
		// Shutdown, not a failure: hand the task back untouched so the
		// next start re-runs it without burning retry budget.
		t.Status = StatusPending
		t.StartedAt = nil
		if err := r.tasks.Save(ctx, t); err != nil {
			logger.Error("failed to return interrupted task to pending", "error", err)
			return
		}
		logger.Info("execution interrupted by shutdown, task returned to pending")
		return
	}

	// Failure path: timeout and handler errors are treated alike. The
	// reason is redacted before it lands on the record, since handler
	// errors can carry storage credentials and asset paths and the
	// record's error field is exposed through the API.
	reason := redact.Error(execErr)
	t.CompletedAt = &finished
	t.ExecutionTime = elapsed
	t.ErrorMessage = reason
	t.Result = &Result{Success: false, Error: reason, ExecutionTime: elapsed}

	if timedOut {
		logger.Warn("task timed out", "timeout", t.EffectiveTimeout(r.config.DefaultTimeout))
	} else {
		logger.Error("task execution failed", "error", execErr)
	}

	if r.retry.Apply(t, finished) {
		if err := r.tasks.Save(ctx, t); err != nil {
			logger.Error("failed to persist retry transition", "error", err)
			return
		}
		if err := r.dispatcher.Restore(t); err != nil {
			logger.Error("failed to re-enqueue retrying task", "error", err)
		}
		return
	}

	// Retry budget exhausted: terminal failure.
	if err := r.tasks.Save(ctx, t); err != nil {
		logger.Error("failed to persist failed state", "error", err)
		return
	}
	r.notifier.NotifyFailed(ctx, t.Context.UserID, t.Name, t.ID, t.ErrorMessage)
}

// invoke runs the handler in its own goroutine under the effective
// timeout, so a blocking handler can never stall the worker loop past
// its deadline. Panics are recovered and surfaced as errors with the
// stack captured on the task.
func (r *Runner) invoke(handler Handler, t *Task) (value any, err error, timedOut bool) {
	timeout := t.EffectiveTimeout(r.config.DefaultTimeout)
	ctx, cancel := context.WithTimeout(r.ctx, timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				t.ErrorTrace = string(debug.Stack())
				done <- outcome{err: fmt.Errorf("handler panicked: %v", rec)}
			}
		}()
		v, handlerErr := handler(ctx, t.Args, t.Kwargs)
		done <- outcome{value: v, err: handlerErr}
	}()

	select {
	case out := <-done:
		// A handler that observes the cancelled context and returns
		// ctx.Err() raced the branch below; report the same outcome.
		if ctx.Err() == context.DeadlineExceeded && errors.Is(out.err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("execution timed out after %s", timeout), true
		}
		if ctx.Err() == context.Canceled && errors.Is(out.err, context.Canceled) {
			return nil, errInterrupted, false
		}
		return out.value, out.err, false
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			// The handler goroutine may still be running; without
			// preemption we can only abandon it and record the
			// timeout.
			return nil, fmt.Errorf("execution timed out after %s", timeout), true
		}
		// Pool shutdown while executing.
		return nil, errInterrupted, false
	}
}

// failPermanently records a non-retryable failure.
func (r *Runner) failPermanently(ctx context.Context, t *Task, message, trace string) {
	now := r.now().UTC()
	t.Status = StatusFailed
	t.CompletedAt = &now
	t.ErrorMessage = message
	t.ErrorTrace = trace
	t.Result = &Result{Success: false, Error: message}

	if err := r.tasks.Save(ctx, t); err != nil {
		r.logger.Error("failed to persist permanent failure",
			"task_id", t.ID, "error", err)
		return
	}
	r.notifier.NotifyFailed(ctx, t.Context.UserID, t.Name, t.ID, message)
}
