// Package events defines the lifecycle event records emitted by the
// task queue for audit purposes, and the emitter that fans them out to
// registered handlers.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what happened to a task.
type Kind string

// Emitted event kinds.
const (
	KindTaskSubmitted Kind = "task_submitted"
	KindTaskCancelled Kind = "task_cancelled"
	KindTaskRetried   Kind = "task_retried"
	KindTaskFailed    Kind = "task_failed"
)

// Event is a single audit record about a task lifecycle transition.
type Event struct {
	// ID uniquely identifies this event.
	ID uuid.UUID `json:"id"`

	// Kind names the lifecycle transition.
	Kind Kind `json:"kind"`

	// TaskID identifies the task the event is about.
	TaskID uuid.UUID `json:"task_id"`

	// TaskName is the task's human label.
	TaskName string `json:"task_name"`

	// Queue is the task's work category.
	Queue string `json:"queue"`

	// UserID is the originating user, when known.
	UserID string `json:"user_id,omitempty"`

	// Detail carries kind-specific information (e.g. a failure
	// reason).
	Detail string `json:"detail,omitempty"`

	// At is when the event occurred.
	At time.Time `json:"at"`
}

// NewEvent creates an event for the given transition.
func NewEvent(kind Kind, taskID uuid.UUID, taskName, queue, userID, detail string) *Event {
	return &Event{
		ID:       uuid.New(),
		Kind:     kind,
		TaskID:   taskID,
		TaskName: taskName,
		Queue:    queue,
		UserID:   userID,
		Detail:   detail,
		At:       time.Now().UTC(),
	}
}

// Handler processes emitted events. Handlers are responsible for
// whatever persistence or forwarding the application needs.
type Handler interface {
	// HandleEvent processes the given event within the provided
	// context. Returns an error if the event cannot be handled.
	HandleEvent(ctx context.Context, event *Event) error
}

// Emitter publishes events to all registered handlers. Emission is
// best-effort from the queue's perspective: handler failures never
// alter task state.
type Emitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *Event) error
}
