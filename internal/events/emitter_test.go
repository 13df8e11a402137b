package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// captureHandler records every event it receives and optionally fails.
type captureHandler struct {
	events []*Event
	err    error
}

func (h *captureHandler) HandleEvent(ctx context.Context, event *Event) error {
	h.events = append(h.events, event)
	return h.err
}

func newTaskSubmittedEvent() *Event {
	return NewEvent(KindTaskSubmitted, uuid.New(), "generate_thumbnail", "thumbnail", "user-1", "")
}

func TestNewEventPopulatesFields(t *testing.T) {
	taskID := uuid.New()
	event := NewEvent(KindTaskFailed, taskID, "transcode_video", "transcoding", "user-7", "codec not supported")

	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, KindTaskFailed, event.Kind)
	assert.Equal(t, taskID, event.TaskID)
	assert.Equal(t, "transcode_video", event.TaskName)
	assert.Equal(t, "transcoding", event.Queue)
	assert.Equal(t, "user-7", event.UserID)
	assert.Equal(t, "codec not supported", event.Detail)
	assert.False(t, event.At.IsZero())
}

func TestEmitEventDeliversToAllHandlers(t *testing.T) {
	emitter := NewInMemoryEmitter(setupTestLogger())
	first := &captureHandler{}
	second := &captureHandler{}
	emitter.RegisterHandler(first)
	emitter.RegisterHandler(second)

	event := newTaskSubmittedEvent()
	require.NoError(t, emitter.EmitEvent(context.Background(), event))

	require.Len(t, first.events, 1)
	require.Len(t, second.events, 1)
	assert.Equal(t, event.ID, first.events[0].ID)
	assert.Equal(t, event.ID, second.events[0].ID)
}

func TestEmitEventWithNoHandlers(t *testing.T) {
	emitter := NewInMemoryEmitter(setupTestLogger())
	assert.NoError(t, emitter.EmitEvent(context.Background(), newTaskSubmittedEvent()))
}

func TestEmitEventContinuesPastFailingHandler(t *testing.T) {
	emitter := NewInMemoryEmitter(setupTestLogger())
	failErr := errors.New("sink unavailable")
	failing := &captureHandler{err: failErr}
	healthy := &captureHandler{}
	emitter.RegisterHandler(failing)
	emitter.RegisterHandler(healthy)

	err := emitter.EmitEvent(context.Background(), newTaskSubmittedEvent())
	assert.ErrorIs(t, err, failErr)

	// The failure did not stop delivery to the remaining handler.
	assert.Len(t, healthy.events, 1)
}

func TestEmitEventReturnsFirstError(t *testing.T) {
	emitter := NewInMemoryEmitter(setupTestLogger())
	firstErr := errors.New("first failure")
	secondErr := errors.New("second failure")
	emitter.RegisterHandler(&captureHandler{err: firstErr})
	emitter.RegisterHandler(&captureHandler{err: secondErr})

	err := emitter.EmitEvent(context.Background(), newTaskSubmittedEvent())
	assert.ErrorIs(t, err, firstErr)
	assert.NotErrorIs(t, err, secondErr)
}

func TestAuditLogHandlerNeverFails(t *testing.T) {
	handler := NewAuditLogHandler(setupTestLogger())
	assert.NoError(t, handler.HandleEvent(context.Background(), newTaskSubmittedEvent()))
}
