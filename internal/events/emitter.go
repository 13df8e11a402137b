package events

import (
	"context"
	"log/slog"
	"sync"
)

// InMemoryEmitter is a simple implementation of the Emitter interface
// that stores registered handlers in memory and dispatches events to
// them synchronously.
type InMemoryEmitter struct {
	handlers []Handler
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewInMemoryEmitter creates a new instance of InMemoryEmitter.
func NewInMemoryEmitter(logger *slog.Logger) *InMemoryEmitter {
	return &InMemoryEmitter{
		handlers: make([]Handler, 0),
		logger:   logger.With("component", "event_emitter"),
	}
}

// RegisterHandler adds a new event handler to receive events.
func (e *InMemoryEmitter) RegisterHandler(handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
	e.logger.Debug("registered new event handler", "handler_count", len(e.handlers))
}

// EmitEvent publishes the given event to all registered handlers. If a
// handler returns an error, the event is still delivered to the
// remaining handlers and the first error encountered is returned.
func (e *InMemoryEmitter) EmitEvent(ctx context.Context, event *Event) error {
	e.mu.RLock()
	handlers := make([]Handler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	var firstErr error
	for i, handler := range handlers {
		if err := handler.HandleEvent(ctx, event); err != nil {
			e.logger.Error("handler failed to process event",
				"error", err,
				"handler_index", i,
				"event_id", event.ID,
				"event_kind", event.Kind)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// AuditLogHandler writes every event to the structured log. It is the
// default audit sink when no external audit collaborator is wired.
type AuditLogHandler struct {
	logger *slog.Logger
}

// NewAuditLogHandler creates a log-backed audit handler.
func NewAuditLogHandler(logger *slog.Logger) *AuditLogHandler {
	return &AuditLogHandler{logger: logger.With("component", "audit")}
}

// HandleEvent logs the event. Never returns an error.
func (h *AuditLogHandler) HandleEvent(ctx context.Context, event *Event) error {
	h.logger.Info("audit event",
		"event_id", event.ID,
		"kind", event.Kind,
		"task_id", event.TaskID,
		"task_name", event.TaskName,
		"queue", event.Queue,
		"user_id", event.UserID,
		"detail", event.Detail,
		"at", event.At)
	return nil
}
