package task

import (
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func TestNewTaskDefaults(t *testing.T) {
	tk, err := NewTask("resize photo", "resize", []any{"photo-1.jpg"}, nil)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, tk.ID)
	assert.Equal(t, StatusPending, tk.Status)
	assert.Equal(t, QueueMediaProcessing, tk.Queue)
	assert.Equal(t, PriorityNormal, tk.Priority)
	assert.Equal(t, DefaultMaxRetries, tk.MaxRetries)
	assert.Equal(t, 0, tk.RetryCount)
	assert.Equal(t, DefaultRetryDelay, tk.RetryDelay)
	assert.True(t, tk.ExponentialBackoff)
	assert.Empty(t, tk.DependsOn)
	assert.False(t, tk.CreatedAt.IsZero())
	assert.Equal(t, tk.CreatedAt, tk.ExecuteAt)
	assert.Nil(t, tk.ScheduledAt)
}

func TestNewTaskScheduledInFuture(t *testing.T) {
	at := time.Now().UTC().Add(time.Hour)
	tk, err := NewTask("nightly backup", "backup", nil, nil,
		WithQueue(QueueBackup),
		WithExecuteAt(at),
	)
	require.NoError(t, err)

	assert.Equal(t, StatusScheduled, tk.Status)
	require.NotNil(t, tk.ScheduledAt)
	assert.Equal(t, at, *tk.ScheduledAt)
	assert.Equal(t, at, tk.ExecuteAt)
}

func TestNewTaskPastExecuteAtStaysPending(t *testing.T) {
	at := time.Now().UTC().Add(-time.Hour)
	tk, err := NewTask("late", "noop", nil, nil, WithExecuteAt(at))
	require.NoError(t, err)

	assert.Equal(t, StatusPending, tk.Status)
}

func TestNewTaskOptions(t *testing.T) {
	dep := uuid.New()
	tk, err := NewTask("transcode", "transcode_video", []any{"v-1"}, map[string]any{"codec": "h264"},
		WithQueue(QueueTranscoding),
		WithPriority(PriorityCritical),
		WithContext(Context{UserID: "u-7", SessionID: "s-2", RequestID: "r-9"}),
		WithMaxRetries(5),
		WithRetryDelay(10*time.Second),
		WithFlatBackoff(),
		WithTimeout(2*time.Minute),
		WithDependencies(dep),
	)
	require.NoError(t, err)

	assert.Equal(t, QueueTranscoding, tk.Queue)
	assert.Equal(t, PriorityCritical, tk.Priority)
	assert.Equal(t, "u-7", tk.Context.UserID)
	assert.Equal(t, 5, tk.MaxRetries)
	assert.Equal(t, 10*time.Second, tk.RetryDelay)
	assert.False(t, tk.ExponentialBackoff)
	assert.Equal(t, 2*time.Minute, tk.Timeout)
	assert.Equal(t, []uuid.UUID{dep}, tk.DependsOn)
}

func TestNewTaskValidation(t *testing.T) {
	tests := []struct {
		name     string
		taskName string
		function string
		opts     []Option
		wantErr  error
	}{
		{"empty name", "", "fn", nil, ErrEmptyTaskName},
		{"empty function", "t", "", nil, ErrEmptyFunction},
		{"unknown queue", "t", "fn", []Option{WithQueue("mystery")}, ErrInvalidQueue},
		{"unknown priority", "t", "fn", []Option{WithPriority(Priority(42))}, ErrInvalidPriority},
		{"negative retries", "t", "fn", []Option{WithMaxRetries(-1)}, ErrNegativeRetries},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTask(tt.taskName, tt.function, nil, nil, tt.opts...)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateSelfDependency(t *testing.T) {
	tk, err := NewTask("t", "fn", nil, nil)
	require.NoError(t, err)

	tk.DependsOn = []uuid.UUID{tk.ID}
	assert.ErrorIs(t, tk.Validate(), ErrSelfDependency)
}

func TestStatusIsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusScheduled.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
	assert.False(t, StatusRetrying.IsTerminal())
}

func TestPriorityJSONNames(t *testing.T) {
	data, err := json.Marshal(PriorityUrgent)
	require.NoError(t, err)
	assert.Equal(t, `"urgent"`, string(data))

	var p Priority
	require.NoError(t, json.Unmarshal([]byte(`"critical"`), &p))
	assert.Equal(t, PriorityCritical, p)

	assert.Error(t, json.Unmarshal([]byte(`"sooner"`), &p))
	assert.Error(t, json.Unmarshal([]byte(`3`), &p))
}

func TestParsePriority(t *testing.T) {
	p, ok := ParsePriority("high")
	assert.True(t, ok)
	assert.Equal(t, PriorityHigh, p)

	_, ok = ParsePriority("extreme")
	assert.False(t, ok)
}

func TestTaskSerializationRoundTrip(t *testing.T) {
	dep := uuid.New()
	original, err := NewTask("extract exif", "extract_metadata",
		[]any{"asset-5", float64(3)},
		map[string]any{"deep": true, "fields": []any{"gps", "lens"}},
		WithQueue(QueueAnalytics),
		WithPriority(PriorityHigh),
		WithContext(Context{UserID: "u-1", SessionID: "s-1", RequestID: "r-1"}),
		WithDependencies(dep),
		WithTimeout(90*time.Second),
	)
	require.NoError(t, err)

	// Populate execution fields so the round trip covers them too.
	started := time.Now().UTC().Truncate(time.Millisecond)
	completed := started.Add(3 * time.Second)
	original.Status = StatusCompleted
	original.StartedAt = &started
	original.CompletedAt = &completed
	original.ExecutionTime = 3 * time.Second
	original.Result = &Result{Success: true, Value: "done", ExecutionTime: 3 * time.Second}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Task
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, original.ID, decoded.ID)
	assert.Equal(t, original.Name, decoded.Name)
	assert.Equal(t, original.Function, decoded.Function)
	assert.Equal(t, original.Args, decoded.Args)
	assert.Equal(t, original.Kwargs, decoded.Kwargs)
	assert.Equal(t, original.Queue, decoded.Queue)
	assert.Equal(t, original.Priority, decoded.Priority)
	assert.Equal(t, original.Status, decoded.Status)
	assert.Equal(t, original.Context, decoded.Context)
	assert.Equal(t, original.MaxRetries, decoded.MaxRetries)
	assert.Equal(t, original.RetryDelay, decoded.RetryDelay)
	assert.Equal(t, original.ExponentialBackoff, decoded.ExponentialBackoff)
	assert.Equal(t, original.Timeout, decoded.Timeout)
	assert.Equal(t, original.DependsOn, decoded.DependsOn)
	assert.Equal(t, original.ExecutionTime, decoded.ExecutionTime)
	assert.True(t, original.CreatedAt.Equal(decoded.CreatedAt))
	assert.True(t, original.ExecuteAt.Equal(decoded.ExecuteAt))
	assert.True(t, original.StartedAt.Equal(*decoded.StartedAt))
	assert.True(t, original.CompletedAt.Equal(*decoded.CompletedAt))
	require.NotNil(t, decoded.Result)
	assert.Equal(t, *original.Result, *decoded.Result)
}

func TestEffectiveTimeout(t *testing.T) {
	tk, err := NewTask("t", "fn", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, tk.EffectiveTimeout(time.Hour))

	tk.Timeout = time.Minute
	assert.Equal(t, time.Minute, tk.EffectiveTimeout(time.Hour))
}
