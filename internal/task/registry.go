package task

import (
	"context"
	"log/slog"
	"sync"
)

// Handler is the executable body of a task. It receives the task's
// positional and keyword arguments and returns a result value or an
// error. Handlers must honor ctx cancellation: the runner cancels it
// when the execution timeout expires or the pool shuts down.
type Handler func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Registry maps function names to handlers. A single instance is
// constructed at startup and injected into the dispatcher and runner;
// there is no package-level registration.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewRegistry creates an empty handler registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		logger:   logger.With("component", "task_registry"),
	}
}

// Register associates name with handler. Re-registering an existing
// name overwrites the previous handler; this is logged, not rejected.
func (r *Registry) Register(name string, handler Handler) {
	r.mu.Lock()
	_, replaced := r.handlers[name]
	r.handlers[name] = handler
	r.mu.Unlock()

	if replaced {
		r.logger.Warn("handler re-registered, previous handler replaced", "function", name)
	} else {
		r.logger.Debug("handler registered", "function", name)
	}
}

// Lookup returns the handler registered under name. The second return
// value is false when no handler is registered; the caller must treat
// that as a permanent configuration error, not a transient fault.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[name]
	return handler, ok
}

// Names returns the registered function names in unspecified order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
