package task

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a task.
type Status string

// Possible task status values.
const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transitions are possible from
// this status. Terminal tasks are only ever touched by the cleanup
// sweep (deletion) or an explicit retry request on a failed task.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func isValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusScheduled, StatusRunning, StatusRetrying,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Queue identifies the work category a task belongs to. Each queue has
// its own ready set and position in the dispatch precedence order.
type Queue string

// The fixed set of work categories.
const (
	QueueMediaProcessing Queue = "media_processing"
	QueueThumbnail       Queue = "thumbnail"
	QueueTranscoding     Queue = "transcoding"
	QueueBackup          Queue = "backup"
	QueueCleanup         Queue = "cleanup"
	QueueNotification    Queue = "notification"
	QueueAnalytics       Queue = "analytics"
)

// QueuePrecedence is the fixed order in which the dispatcher visits
// queues when looking for work. There is no cross-queue fairness
// guarantee; a busy high-precedence queue can starve lower ones.
var QueuePrecedence = []Queue{
	QueueMediaProcessing,
	QueueThumbnail,
	QueueTranscoding,
	QueueNotification,
	QueueBackup,
	QueueCleanup,
	QueueAnalytics,
}

func isValidQueue(q Queue) bool {
	for _, known := range QueuePrecedence {
		if q == known {
			return true
		}
	}
	return false
}

// Priority orders tasks within a queue's ready set. Higher values are
// dispatched first; tasks of equal priority are served in submission
// order.
type Priority int

// Priority levels, lowest to highest.
const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityNormal:   "normal",
	PriorityHigh:     "high",
	PriorityUrgent:   "urgent",
	PriorityCritical: "critical",
}

var prioritiesByName = map[string]Priority{
	"low":      PriorityLow,
	"normal":   PriorityNormal,
	"high":     PriorityHigh,
	"urgent":   PriorityUrgent,
	"critical": PriorityCritical,
}

// ParsePriority returns the priority named by s. The second return
// value is false for unknown names.
func ParsePriority(s string) (Priority, bool) {
	p, ok := prioritiesByName[s]
	return p, ok
}

// String returns the priority's lowercase name.
func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// MarshalJSON serializes the priority as its string name so stored
// task records stay self-describing.
func (p Priority) MarshalJSON() ([]byte, error) {
	name, ok := priorityNames[p]
	if !ok {
		return nil, fmt.Errorf("%w: priority %d", ErrInvalidPriority, int(p))
	}
	return []byte(`"` + name + `"`), nil
}

// UnmarshalJSON parses a priority from its string name.
func (p *Priority) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("%w: %s", ErrInvalidPriority, string(data))
	}
	name := string(data[1 : len(data)-1])
	value, ok := prioritiesByName[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPriority, name)
	}
	*p = value
	return nil
}

// Common validation errors for Task.
var (
	ErrEmptyTaskID     = errors.New("task ID cannot be empty")
	ErrEmptyTaskName   = errors.New("task name cannot be empty")
	ErrEmptyFunction   = errors.New("task function cannot be empty")
	ErrInvalidQueue    = errors.New("invalid queue")
	ErrInvalidPriority = errors.New("invalid priority")
	ErrInvalidStatus   = errors.New("invalid task status")
	ErrNegativeRetries = errors.New("max retries cannot be negative")
	ErrSelfDependency  = errors.New("task cannot depend on itself")
)

// Defaults applied by NewTask.
const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 60 * time.Second
	DefaultTimeout    = 3600 * time.Second
)

// Context carries correlation metadata from the submitting request
// through the task's lifecycle. It is owned by the task and never
// mutated by workers; it exists purely for observability.
type Context struct {
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Result records the outcome of a task execution.
type Result struct {
	Success       bool          `json:"success"`
	Value         any           `json:"value,omitempty"`
	Error         string        `json:"error,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// Task is the unit of asynchronous work: identity, payload, scheduling
// and retry parameters, and lifecycle state. Tasks are persisted as
// JSON records in the durable store; the in-memory ready sets are only
// a projection of that state.
type Task struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Function string    `json:"function"`

	Args   []any          `json:"args,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty"`

	Queue    Queue    `json:"queue"`
	Priority Priority `json:"priority"`
	Status   Status   `json:"status"`
	Context  Context  `json:"context"`

	// ScheduledAt is the caller-requested execution time, if any.
	// ExecuteAt is the effective next-eligible time; it defaults to the
	// submission time and is advanced on every retry.
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	ExecuteAt   time.Time  `json:"execute_at"`

	MaxRetries         int           `json:"max_retries"`
	RetryCount         int           `json:"retry_count"`
	RetryDelay         time.Duration `json:"retry_delay"`
	ExponentialBackoff bool          `json:"exponential_backoff"`

	// Timeout bounds a single execution. Zero means the runner's
	// default timeout applies.
	Timeout time.Duration `json:"timeout,omitempty"`

	DependsOn []uuid.UUID `json:"depends_on,omitempty"`

	CreatedAt     time.Time     `json:"created_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	ExecutionTime time.Duration `json:"execution_time,omitempty"`

	Result       *Result `json:"result,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
	ErrorTrace   string  `json:"error_trace,omitempty"`
}

// Option customizes a task at construction time.
type Option func(*Task)

// WithQueue places the task on the given queue.
func WithQueue(q Queue) Option {
	return func(t *Task) { t.Queue = q }
}

// WithPriority sets the task's dispatch priority.
func WithPriority(p Priority) Option {
	return func(t *Task) { t.Priority = p }
}

// WithContext attaches correlation metadata to the task.
func WithContext(c Context) Option {
	return func(t *Task) { t.Context = c }
}

// WithExecuteAt schedules the task for a specific time instead of
// immediate execution.
func WithExecuteAt(at time.Time) Option {
	return func(t *Task) {
		t.ScheduledAt = &at
		t.ExecuteAt = at
	}
}

// WithMaxRetries overrides the default retry budget.
func WithMaxRetries(n int) Option {
	return func(t *Task) { t.MaxRetries = n }
}

// WithRetryDelay overrides the base delay between retries.
func WithRetryDelay(d time.Duration) Option {
	return func(t *Task) { t.RetryDelay = d }
}

// WithFlatBackoff disables exponential backoff; every retry waits the
// base retry delay.
func WithFlatBackoff() Option {
	return func(t *Task) { t.ExponentialBackoff = false }
}

// WithTimeout bounds a single execution of this task.
func WithTimeout(d time.Duration) Option {
	return func(t *Task) { t.Timeout = d }
}

// WithDependencies declares predecessor tasks that must complete
// before this task becomes dispatchable.
func WithDependencies(ids ...uuid.UUID) Option {
	return func(t *Task) { t.DependsOn = append(t.DependsOn, ids...) }
}

// NewTask creates a task for the named registered function with the
// given positional and keyword arguments. The task starts out pending,
// or scheduled when an execution time in the future was requested.
// Returns an error if validation fails.
func NewTask(name, function string, args []any, kwargs map[string]any, opts ...Option) (*Task, error) {
	now := time.Now().UTC()

	t := &Task{
		ID:                 uuid.New(),
		Name:               name,
		Function:           function,
		Args:               args,
		Kwargs:             kwargs,
		Queue:              QueueMediaProcessing,
		Priority:           PriorityNormal,
		Status:             StatusPending,
		ExecuteAt:          now,
		MaxRetries:         DefaultMaxRetries,
		RetryDelay:         DefaultRetryDelay,
		ExponentialBackoff: true,
		CreatedAt:          now,
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.ExecuteAt.After(now) {
		t.Status = StatusScheduled
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks the task's structural invariants.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}
	if t.Name == "" {
		return ErrEmptyTaskName
	}
	if t.Function == "" {
		return ErrEmptyFunction
	}
	if !isValidQueue(t.Queue) {
		return fmt.Errorf("%w: %q", ErrInvalidQueue, t.Queue)
	}
	if _, ok := priorityNames[t.Priority]; !ok {
		return fmt.Errorf("%w: %d", ErrInvalidPriority, int(t.Priority))
	}
	if !isValidStatus(t.Status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, t.Status)
	}
	if t.MaxRetries < 0 {
		return ErrNegativeRetries
	}
	for _, dep := range t.DependsOn {
		if dep == t.ID {
			return ErrSelfDependency
		}
	}
	return nil
}

// EffectiveTimeout returns the per-task timeout, or fallback when the
// task does not carry one.
func (t *Task) EffectiveTimeout(fallback time.Duration) time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return fallback
}
