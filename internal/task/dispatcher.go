package task

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Dispatcher selects the next ready, dependency-satisfied,
// time-eligible task across all queues. Queues are visited in the
// fixed QueuePrecedence order; within a queue, tasks come out of the
// ready set ordered by (priority desc, submission order asc).
//
// The ready sets are a cache: before handing out a task the dispatcher
// re-reads its authoritative record from the store and drops entries
// whose persisted state no longer allows dispatch (e.g. cancelled
// between enqueue and selection).
type Dispatcher struct {
	sets   map[Queue]*ReadySet
	tasks  *TaskStore
	gate   *DependencyGate
	logger *slog.Logger

	// onDependencyFailure, when set, is invoked after a task has been
	// marked failed because a dependency permanently failed.
	onDependencyFailure func(*Task)

	// now is overridable in tests.
	now func() time.Time
}

// NewDispatcher creates a dispatcher with one bounded ready set per
// queue category.
func NewDispatcher(tasks *TaskStore, gate *DependencyGate, queueCapacity int, logger *slog.Logger) *Dispatcher {
	sets := make(map[Queue]*ReadySet, len(QueuePrecedence))
	for _, q := range QueuePrecedence {
		sets[q] = NewReadySet(q, queueCapacity)
	}
	return &Dispatcher{
		sets:   sets,
		tasks:  tasks,
		gate:   gate,
		logger: logger.With("component", "dispatcher"),
		now:    time.Now,
	}
}

// SetDependencyFailureHook registers a callback invoked when the gate
// fails a dependent task. Used by the service for audit/notification.
func (d *Dispatcher) SetDependencyFailureHook(hook func(*Task)) {
	d.onDependencyFailure = hook
}

// Enqueue places a task on its queue's ready set. Returns ErrQueueFull
// when the set is at capacity; the caller decides what to do with the
// already-persisted record.
func (d *Dispatcher) Enqueue(t *Task) error {
	set, ok := d.sets[t.Queue]
	if !ok {
		return ErrInvalidQueue
	}
	return set.Push(t)
}

// Restore re-enters a previously admitted task, bypassing the capacity
// bound. Admission control applies only at submission; retry
// transitions and restart recovery must never strand a task that
// already holds a store record.
func (d *Dispatcher) Restore(t *Task) error {
	set, ok := d.sets[t.Queue]
	if !ok {
		return ErrInvalidQueue
	}
	set.Restore(t)
	return nil
}

// QueueDepth returns the number of entries currently cached in the
// given queue's ready set.
func (d *Dispatcher) QueueDepth(q Queue) int {
	if set, ok := d.sets[q]; ok {
		return set.Len()
	}
	return 0
}

// Next returns the next dispatchable task, or nil when no task is
// currently eligible. "Nothing eligible" is a normal, frequent outcome
// for idle workers, not an error.
func (d *Dispatcher) Next(ctx context.Context) (*Task, error) {
	now := d.now()

	for _, q := range QueuePrecedence {
		t, err := d.nextFromQueue(ctx, d.sets[q], now)
		if err != nil {
			return nil, err
		}
		if t != nil {
			return t, nil
		}
	}
	return nil, nil
}

// nextFromQueue scans one ready set for an eligible entry. Entries
// that are not yet eligible (future execute_at, unmet dependency) are
// returned to the set with their original submission order; entries
// whose persisted state forbids dispatch are discarded.
func (d *Dispatcher) nextFromQueue(ctx context.Context, set *ReadySet, now time.Time) (*Task, error) {
	var skipped []readyEntry
	defer func() {
		for _, e := range skipped {
			set.requeue(e)
		}
	}()

	for {
		entry, ok := set.popEntry()
		if !ok {
			return nil, nil
		}

		// The ready set holds a snapshot; the store has the truth.
		current, err := d.tasks.Get(ctx, entry.task.ID)
		if err != nil {
			if errors.Is(err, ErrTaskNotFound) {
				d.logger.Debug("dropping enqueued task with no store record",
					"task_id", entry.task.ID, "queue", set.Queue())
				continue
			}
			skipped = append(skipped, entry)
			return nil, err
		}

		switch current.Status {
		case StatusPending:
			// Dispatchable once time and dependencies allow.
		case StatusScheduled, StatusRetrying:
			// Not yet promoted to pending; handled below if due.
		default:
			// Cancelled, completed, failed or already running:
			// this cache entry is stale, drop it.
			d.logger.Debug("dropping stale ready-set entry",
				"task_id", current.ID, "status", current.Status)
			continue
		}

		if current.ExecuteAt.After(now) {
			skipped = append(skipped, readyEntry{task: current, seq: entry.seq})
			continue
		}

		disposition, reason, err := d.gate.Check(ctx, current)
		if err != nil {
			skipped = append(skipped, readyEntry{task: current, seq: entry.seq})
			return nil, err
		}

		switch disposition {
		case gateWait:
			skipped = append(skipped, readyEntry{task: current, seq: entry.seq})
			continue

		case gateFailed:
			d.failDependent(ctx, current, reason)
			continue

		case gateReady:
			// Promote scheduled/retrying tasks: dispatch only ever
			// happens from the pending state.
			if current.Status != StatusPending {
				current.Status = StatusPending
				if err := d.tasks.Save(ctx, current); err != nil {
					d.logger.Error("failed to promote task to pending",
						"task_id", current.ID, "error", err)
					skipped = append(skipped, readyEntry{task: current, seq: entry.seq})
					continue
				}
			}
			return current, nil
		}
	}
}

// failDependent marks a task failed because one of its dependencies
// permanently failed, then fires the registered hook.
func (d *Dispatcher) failDependent(ctx context.Context, t *Task, reason string) {
	now := d.now().UTC()
	t.Status = StatusFailed
	t.CompletedAt = &now
	t.ErrorMessage = reason
	t.Result = &Result{Success: false, Error: reason}

	if err := d.tasks.Save(ctx, t); err != nil {
		d.logger.Error("failed to persist dependency failure",
			"task_id", t.ID, "error", err)
		return
	}

	d.logger.Warn("task failed due to dependency failure",
		"task_id", t.ID,
		"queue", t.Queue,
		"dependencies", dependencyIDs(t.DependsOn),
		"reason", reason)

	if d.onDependencyFailure != nil {
		d.onDependencyFailure(t)
	}
}
