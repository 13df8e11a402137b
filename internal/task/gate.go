package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// gateDisposition is the outcome of a dependency check.
type gateDisposition int

const (
	// gateReady: every dependency is completed, the task may dispatch.
	gateReady gateDisposition = iota
	// gateWait: at least one dependency is not yet completed; the task
	// stays in its ready set and is re-examined on the next tick.
	gateWait
	// gateFailed: a dependency permanently failed and the gate's
	// policy says the dependent must fail too.
	gateFailed
)

// DependencyGate decides whether a candidate task's declared
// predecessors allow it to dispatch. Dependency state is always
// resolved from the durable store, never from the ready sets.
//
// By default a dependent whose dependency failed or was cancelled
// simply waits and is re-checked on every scheduling tick, which can
// leave it pending forever. Setting failOnDependencyFailure makes the
// gate fail such dependents explicitly instead.
type DependencyGate struct {
	tasks                   *TaskStore
	failOnDependencyFailure bool
	logger                  *slog.Logger
}

// NewDependencyGate creates a gate over the given task store.
func NewDependencyGate(tasks *TaskStore, failOnDependencyFailure bool, logger *slog.Logger) *DependencyGate {
	return &DependencyGate{
		tasks:                   tasks,
		failOnDependencyFailure: failOnDependencyFailure,
		logger:                  logger.With("component", "dependency_gate"),
	}
}

// Check resolves each dependency's current status. The returned reason
// is non-empty only for gateFailed and names the offending dependency.
func (g *DependencyGate) Check(ctx context.Context, t *Task) (gateDisposition, string, error) {
	for _, depID := range t.DependsOn {
		dep, err := g.tasks.Get(ctx, depID)
		if err != nil {
			if errors.Is(err, ErrTaskNotFound) {
				// The dependency record is gone (never existed, or
				// already evicted by cleanup).
				if g.failOnDependencyFailure {
					return gateFailed, fmt.Sprintf("dependency_failed: %s not found", depID), nil
				}
				g.logger.Debug("dependency record missing, task keeps waiting",
					"task_id", t.ID, "dependency_id", depID)
				return gateWait, "", nil
			}
			return gateWait, "", fmt.Errorf("resolve dependency %s: %w", depID, err)
		}

		switch dep.Status {
		case StatusCompleted:
			continue
		case StatusFailed, StatusCancelled:
			if g.failOnDependencyFailure {
				return gateFailed, fmt.Sprintf("dependency_failed: %s is %s", depID, dep.Status), nil
			}
			return gateWait, "", nil
		default:
			return gateWait, "", nil
		}
	}
	return gateReady, "", nil
}

// dependencyIDs formats a dependency list for logging.
func dependencyIDs(deps []uuid.UUID) []string {
	ids := make([]string, len(deps))
	for i, d := range deps {
		ids[i] = d.String()
	}
	return ids
}
