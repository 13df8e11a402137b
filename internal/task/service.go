package task

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Paddel87/AIMA-sub000/internal/events"
	"github.com/Paddel87/AIMA-sub000/internal/store"
)

// Config aggregates all queue settings.
type Config struct {
	// WorkerCount is the size of the worker pool.
	WorkerCount int

	// QueueCapacity bounds each queue's ready set.
	QueueCapacity int

	// DefaultTimeout bounds executions of tasks without their own
	// timeout.
	DefaultTimeout time.Duration

	// PollInterval is the idle worker poll period.
	PollInterval time.Duration

	// FailOnDependencyFailure makes the dependency gate fail a
	// dependent task when one of its dependencies permanently failed,
	// instead of leaving it waiting forever.
	FailOnDependencyFailure bool

	// Maintenance holds the cleanup and stats timers.
	Maintenance MaintenanceConfig
}

// DefaultConfig returns the standard queue configuration.
func DefaultConfig() Config {
	return Config{
		WorkerCount:    10,
		QueueCapacity:  DefaultQueueCapacity,
		DefaultTimeout: DefaultTimeout,
		PollInterval:   200 * time.Millisecond,
		Maintenance:    DefaultMaintenanceConfig(),
	}
}

// ListOptions filters and pages List results.
type ListOptions struct {
	// Queue restricts results to one work category when non-empty.
	Queue Queue

	// Status restricts results to one lifecycle state when non-empty.
	Status Status

	// Limit caps the number of returned tasks; zero means no cap.
	Limit int

	// Offset skips that many tasks from the newest end.
	Offset int
}

// Service is the public control surface of the task queue: submit,
// get, cancel, retry, list and queue stats, plus lifecycle management
// of the dispatcher, worker pool and maintenance jobs.
type Service struct {
	config     Config
	tasks      *TaskStore
	registry   *Registry
	dispatcher *Dispatcher
	runner     *Runner
	maint      *Maintainer
	notifier   Notifier
	emitter    events.Emitter
	logger     *slog.Logger

	// baseLogger is the constructor logger, kept unscoped so rebuilt
	// collaborators derive their own component attribute once.
	baseLogger *slog.Logger

	// now is overridable in tests.
	now func() time.Time
}

// NewService wires the queue together over the given durable store
// and handler registry. Collaborators default to log-backed
// implementations; override them with the setters before Start.
func NewService(kv store.Store, registry *Registry, config Config, logger *slog.Logger) *Service {
	defaults := DefaultConfig()
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.QueueCapacity <= 0 {
		config.QueueCapacity = defaults.QueueCapacity
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = defaults.DefaultTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}

	s := &Service{
		config:     config,
		registry:   registry,
		notifier:   NewLogNotifier(logger),
		logger:     logger.With("component", "task_service"),
		baseLogger: logger,
		now:        time.Now,
	}

	s.tasks = NewTaskStore(kv, config.Maintenance.Retention, logger)
	gate := NewDependencyGate(s.tasks, config.FailOnDependencyFailure, logger)
	s.dispatcher = NewDispatcher(s.tasks, gate, config.QueueCapacity, logger)
	s.dispatcher.SetDependencyFailureHook(s.handleDependencyFailure)
	s.maint = NewMaintainer(s.tasks, nil, config.Maintenance, logger)
	s.rebuildRunner()
	return s
}

func (s *Service) rebuildRunner() {
	s.runner = NewRunner(s.dispatcher, s.registry, s.tasks, s.notifier, RunnerConfig{
		WorkerCount:    s.config.WorkerCount,
		PollInterval:   s.config.PollInterval,
		DefaultTimeout: s.config.DefaultTimeout,
	}, s.baseLogger)
}

// SetNotifier replaces the notification collaborator. Must be called
// before Start.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
	s.rebuildRunner()
}

// SetMonitor replaces the monitoring collaborator. Must be called
// before Start.
func (s *Service) SetMonitor(m Monitor) {
	s.maint = NewMaintainer(s.tasks, m, s.config.Maintenance, s.baseLogger)
}

// SetEmitter wires the audit event emitter. Must be called before
// Start.
func (s *Service) SetEmitter(e events.Emitter) {
	s.emitter = e
}

// Start recovers non-terminal tasks from the store into the ready
// sets, then launches the worker pool and the maintenance jobs.
// Recovery runs before any work is accepted: the ready sets are a
// cache and must be rebuilt from the store after a restart.
func (s *Service) Start(ctx context.Context) error {
	if err := s.recover(ctx); err != nil {
		return fmt.Errorf("recover tasks: %w", err)
	}
	s.runner.Start()
	if err := s.maint.Start(); err != nil {
		s.runner.Stop()
		return fmt.Errorf("start maintenance: %w", err)
	}
	return nil
}

// Stop halts maintenance and drains the worker pool.
func (s *Service) Stop() {
	s.maint.Stop()
	s.runner.Stop()
}

// recover scans the store and re-seeds the ready sets with every
// non-terminal task. Tasks found running were interrupted by a crash
// and are reset to pending.
func (s *Service) recover(ctx context.Context) error {
	all, err := s.tasks.List(ctx)
	if err != nil {
		return err
	}

	requeued, reset := 0, 0
	for _, t := range all {
		if t.Status.IsTerminal() {
			continue
		}

		if t.Status == StatusRunning {
			t.Status = StatusPending
			t.StartedAt = nil
			if err := s.tasks.Save(ctx, t); err != nil {
				s.logger.Error("failed to reset interrupted task",
					"task_id", t.ID, "error", err)
				continue
			}
			reset++
		}

		if err := s.dispatcher.Restore(t); err != nil {
			s.logger.Error("failed to requeue task during recovery",
				"task_id", t.ID, "queue", t.Queue, "error", err)
			continue
		}
		requeued++
	}

	s.logger.Info("recovered unfinished tasks",
		"scanned", len(all), "requeued", requeued, "reset_from_running", reset)
	return nil
}

// Submit persists the task and places it on its queue's ready set.
// It returns immediately; execution outcomes are discovered via Get,
// List or the notification collaborator, never synchronously.
//
// A full queue rejects the submission deterministically with
// ErrQueueFull and removes the just-persisted record.
func (s *Service) Submit(ctx context.Context, t *Task) (uuid.UUID, error) {
	if err := t.Validate(); err != nil {
		return uuid.Nil, fmt.Errorf("invalid task: %w", err)
	}

	// Persist first: the task exists once its record does.
	if err := s.tasks.Save(ctx, t); err != nil {
		return uuid.Nil, err
	}

	if err := s.dispatcher.Enqueue(t); err != nil {
		if delErr := s.tasks.Delete(ctx, t.ID); delErr != nil {
			s.logger.Error("failed to remove record of rejected submission",
				"task_id", t.ID, "error", delErr)
		}
		return uuid.Nil, err
	}

	s.logger.Info("task submitted",
		"task_id", t.ID,
		"name", t.Name,
		"function", t.Function,
		"queue", t.Queue,
		"priority", t.Priority.String(),
		"execute_at", t.ExecuteAt,
		"depends_on", len(t.DependsOn))

	s.audit(ctx, events.KindTaskSubmitted, t, "")
	return t.ID, nil
}

// Get returns the task record for id, or ErrTaskNotFound.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Task, error) {
	return s.tasks.Get(ctx, id)
}

// Cancel prevents a not-yet-dispatched task from ever running. It
// succeeds only for pending, scheduled or retrying tasks. A running
// task cannot be interrupted (no preemption) and terminal tasks are
// left untouched; both return false.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	t, err := s.tasks.Get(ctx, id)
	if err != nil {
		return false, err
	}

	switch t.Status {
	case StatusPending, StatusScheduled, StatusRetrying:
		// Cancellable.
	case StatusRunning:
		s.logger.Warn("cannot cancel running task, no preemption", "task_id", id)
		return false, nil
	default:
		return false, nil
	}

	now := s.now().UTC()
	t.Status = StatusCancelled
	t.CompletedAt = &now
	if err := s.tasks.Save(ctx, t); err != nil {
		return false, err
	}

	// The stale ready-set entry is dropped by the dispatcher when it
	// re-reads the record.
	s.logger.Info("task cancelled", "task_id", id)
	s.audit(ctx, events.KindTaskCancelled, t, "")
	return true, nil
}

// Retry re-attempts a terminally failed task. Legal only while the
// task is failed with retry budget remaining; the retry counter
// continues from its current value and execute_at advances by the
// backoff formula.
func (s *Service) Retry(ctx context.Context, id uuid.UUID) (bool, error) {
	t, err := s.tasks.Get(ctx, id)
	if err != nil {
		return false, err
	}

	if t.Status != StatusFailed || t.RetryCount >= t.MaxRetries {
		return false, nil
	}

	t.RetryCount++
	t.Status = StatusRetrying
	t.ExecuteAt = s.now().UTC().Add(NewRetryPolicy(s.logger).Delay(t))
	t.StartedAt = nil
	t.CompletedAt = nil
	t.ExecutionTime = 0
	t.Result = nil
	t.ErrorMessage = ""
	t.ErrorTrace = ""

	if err := s.tasks.Save(ctx, t); err != nil {
		return false, err
	}
	if err := s.dispatcher.Restore(t); err != nil {
		return false, err
	}

	s.logger.Info("task manually retried",
		"task_id", id, "retry_count", t.RetryCount, "execute_at", t.ExecuteAt)
	s.audit(ctx, events.KindTaskRetried, t, "")
	return true, nil
}

// List returns tasks matching the options, newest first.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]*Task, error) {
	all, err := s.tasks.List(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]*Task, 0, len(all))
	for _, t := range all {
		if opts.Queue != "" && t.Queue != opts.Queue {
			continue
		}
		if opts.Status != "" && t.Status != opts.Status {
			continue
		}
		filtered = append(filtered, t)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(filtered) {
			return []*Task{}, nil
		}
		filtered = filtered[opts.Offset:]
	}
	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}
	return filtered, nil
}

// QueueStats returns the counters for one queue, served from the
// latest aggregation snapshot when one exists. Before the first
// aggregation the counters are recomputed on the spot.
func (s *Service) QueueStats(ctx context.Context, q Queue) (*QueueStats, error) {
	if !isValidQueue(q) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidQueue, q)
	}
	if cached := s.maint.Snapshot(q); cached != nil {
		return cached, nil
	}
	all, err := s.AllQueueStats(ctx)
	if err != nil {
		return nil, err
	}
	return all[q], nil
}

// AllQueueStats recomputes and returns the counters for every queue.
func (s *Service) AllQueueStats(ctx context.Context) (map[Queue]*QueueStats, error) {
	return s.maint.RunStats(ctx)
}

// Registry exposes the handler registry for late registration.
func (s *Service) Registry() *Registry {
	return s.registry
}

// handleDependencyFailure notifies and audits a task the dispatcher
// failed because of a failed dependency.
func (s *Service) handleDependencyFailure(t *Task) {
	ctx := context.Background()
	s.notifier.NotifyFailed(ctx, t.Context.UserID, t.Name, t.ID, t.ErrorMessage)
	s.audit(ctx, events.KindTaskFailed, t, t.ErrorMessage)
}

// audit emits a lifecycle event, best-effort.
func (s *Service) audit(ctx context.Context, kind events.Kind, t *Task, detail string) {
	if s.emitter == nil {
		return
	}
	event := events.NewEvent(kind, t.ID, t.Name, string(t.Queue), t.Context.UserID, detail)
	if err := s.emitter.EmitEvent(ctx, event); err != nil {
		s.logger.Error("audit event emission failed",
			"event_kind", kind, "task_id", t.ID, "error", err)
	}
}
