package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingNotifier captures notification calls for assertions.
type recordingNotifier struct {
	mu        sync.Mutex
	completed []uuid.UUID
	failed    []uuid.UUID
	lastError string
}

func (n *recordingNotifier) NotifyCompleted(_ context.Context, _, _ string, taskID uuid.UUID, _ time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, taskID)
}

func (n *recordingNotifier) NotifyFailed(_ context.Context, _, _ string, taskID uuid.UUID, errorMessage string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, taskID)
	n.lastError = errorMessage
}

func (n *recordingNotifier) completedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.completed)
}

func (n *recordingNotifier) failedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.failed)
}

type runnerFixture struct {
	tasks      *TaskStore
	dispatcher *Dispatcher
	registry   *Registry
	notifier   *recordingNotifier
	runner     *Runner
}

func newRunnerFixture(t *testing.T, workers int) *runnerFixture {
	t.Helper()
	logger := setupTestLogger()
	tasks := newTestTaskStore(t)
	gate := NewDependencyGate(tasks, false, logger)
	dispatcher := NewDispatcher(tasks, gate, 100, logger)
	registry := NewRegistry(logger)
	notifier := &recordingNotifier{}
	runner := NewRunner(dispatcher, registry, tasks, notifier, RunnerConfig{
		WorkerCount:    workers,
		PollInterval:   5 * time.Millisecond,
		DefaultTimeout: 5 * time.Second,
	}, logger)
	return &runnerFixture{
		tasks:      tasks,
		dispatcher: dispatcher,
		registry:   registry,
		notifier:   notifier,
		runner:     runner,
	}
}

func (f *runnerFixture) submit(t *testing.T, tk *Task) {
	t.Helper()
	saveTask(t, f.tasks, tk)
	require.NoError(t, f.dispatcher.Enqueue(tk))
}

func (f *runnerFixture) waitForStatus(t *testing.T, id uuid.UUID, want Status) *Task {
	t.Helper()
	var got *Task
	require.Eventually(t, func() bool {
		tk, err := f.tasks.Get(context.Background(), id)
		if err != nil {
			return false
		}
		got = tk
		return tk.Status == want
	}, 3*time.Second, 5*time.Millisecond, "task never reached status %s", want)
	return got
}

func TestRunnerExecutesTaskToCompletion(t *testing.T) {
	f := newRunnerFixture(t, 1)
	f.registry.Register("resize", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return map[string]any{"width": 120}, nil
	})

	tk := mustTask(t, "resize", WithQueue(QueueMediaProcessing))
	tk.Function = "resize"
	f.submit(t, tk)

	f.runner.Start()
	defer f.runner.Stop()

	done := f.waitForStatus(t, tk.ID, StatusCompleted)
	require.NotNil(t, done.Result)
	assert.True(t, done.Result.Success)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)
	assert.Empty(t, done.ErrorMessage)

	require.Eventually(t, func() bool { return f.notifier.completedCount() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestRunnerRetriesThenFailsPermanently(t *testing.T) {
	f := newRunnerFixture(t, 1)

	var attempts atomic.Int32
	f.registry.Register("always_fails", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		attempts.Add(1)
		return nil, errors.New("disk on fire")
	})

	tk := mustTask(t, "doomed",
		WithMaxRetries(2),
		WithRetryDelay(10*time.Millisecond),
	)
	tk.Function = "always_fails"
	f.submit(t, tk)

	f.runner.Start()
	defer f.runner.Stop()

	done := f.waitForStatus(t, tk.ID, StatusFailed)
	assert.Equal(t, 2, done.RetryCount)
	assert.Equal(t, "disk on fire", done.ErrorMessage)
	require.NotNil(t, done.Result)
	assert.False(t, done.Result.Success)

	// Initial attempt plus exactly two retries.
	require.Eventually(t, func() bool { return attempts.Load() == 3 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.notifier.failedCount())
}

func TestRunnerRetryAdvancesExecuteAt(t *testing.T) {
	f := newRunnerFixture(t, 1)
	f.registry.Register("always_fails", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return nil, errors.New("nope")
	})

	tk := mustTask(t, "doomed",
		WithMaxRetries(1),
		WithRetryDelay(24*time.Hour), // far future so the retry never runs during the test
	)
	tk.Function = "always_fails"
	f.submit(t, tk)

	f.runner.Start()
	defer f.runner.Stop()

	done := f.waitForStatus(t, tk.ID, StatusRetrying)
	assert.Equal(t, 1, done.RetryCount)
	assert.True(t, done.ExecuteAt.After(time.Now().Add(23*time.Hour)))
}

func TestRunnerTimeoutFailsTask(t *testing.T) {
	f := newRunnerFixture(t, 1)
	f.registry.Register("slow", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		select {
		case <-time.After(5 * time.Second):
			return "too late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	tk := mustTask(t, "sluggish",
		WithTimeout(50*time.Millisecond),
		WithMaxRetries(0),
	)
	tk.Function = "slow"
	f.submit(t, tk)

	f.runner.Start()
	defer f.runner.Stop()

	done := f.waitForStatus(t, tk.ID, StatusFailed)
	assert.Contains(t, done.ErrorMessage, "timed out after 50ms")
}

func TestRunnerUnregisteredFunctionFailsPermanently(t *testing.T) {
	f := newRunnerFixture(t, 1)

	tk := mustTask(t, "misconfigured", WithMaxRetries(3))
	tk.Function = "no_such_function"
	f.submit(t, tk)

	f.runner.Start()
	defer f.runner.Stop()

	done := f.waitForStatus(t, tk.ID, StatusFailed)
	// A configuration error bypasses the retry policy entirely.
	assert.Equal(t, 0, done.RetryCount)
	assert.Contains(t, done.ErrorMessage, `no handler registered for function "no_such_function"`)
	assert.Equal(t, 1, f.notifier.failedCount())
}

func TestRunnerRecoversFromHandlerPanic(t *testing.T) {
	f := newRunnerFixture(t, 1)
	f.registry.Register("explodes", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		panic("boom")
	})

	tk := mustTask(t, "volatile", WithMaxRetries(0))
	tk.Function = "explodes"
	f.submit(t, tk)

	f.runner.Start()
	defer f.runner.Stop()

	done := f.waitForStatus(t, tk.ID, StatusFailed)
	assert.Contains(t, done.ErrorMessage, "handler panicked: boom")
	assert.NotEmpty(t, done.ErrorTrace)
}

func TestRunnerStopReturnsInFlightTaskToPending(t *testing.T) {
	f := newRunnerFixture(t, 1)
	f.registry.Register("cooperative", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	tk := mustTask(t, "interrupted", WithMaxRetries(0))
	tk.Function = "cooperative"
	f.submit(t, tk)

	f.runner.Start()
	f.waitForStatus(t, tk.ID, StatusRunning)
	f.runner.Stop()

	// An execution cut short by shutdown is not a failure: the task goes
	// back to pending with its retry budget untouched.
	got, err := f.tasks.Get(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Nil(t, got.StartedAt)
	assert.Equal(t, 0, got.RetryCount)
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, 0, f.notifier.failedCount())
}

func TestRunnerConcurrencyBound(t *testing.T) {
	const workers = 3
	f := newRunnerFixture(t, workers)

	var inFlight, peak atomic.Int32
	var finished atomic.Int32
	f.registry.Register("tracked", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		current := inFlight.Add(1)
		for {
			observed := peak.Load()
			if current <= observed || peak.CompareAndSwap(observed, current) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		finished.Add(1)
		return nil, nil
	})

	for i := 0; i < 10; i++ {
		tk := mustTask(t, "tracked")
		tk.Function = "tracked"
		f.submit(t, tk)
	}

	f.runner.Start()
	defer f.runner.Stop()

	require.Eventually(t, func() bool { return finished.Load() == 10 },
		5*time.Second, 10*time.Millisecond)
	assert.LessOrEqual(t, peak.Load(), int32(workers))
}

func TestRunnerStopDrainsWorkers(t *testing.T) {
	f := newRunnerFixture(t, 2)
	f.runner.Start()

	done := make(chan struct{})
	go func() {
		f.runner.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
