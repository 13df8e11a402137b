package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Monitor receives the per-queue gauges exported by the stats
// aggregator. The production implementation lives in
// internal/platform/metrics.
type Monitor interface {
	RecordMetric(name string, value float64)
}

// Notifier is told about terminal task outcomes so the owning user can
// be informed through whatever channels the application wires up.
// Notification is best-effort: implementations must not fail task
// processing, and a notification failure never alters task state.
type Notifier interface {
	NotifyCompleted(ctx context.Context, userID, taskName string, taskID uuid.UUID, executionTime time.Duration)
	NotifyFailed(ctx context.Context, userID, taskName string, taskID uuid.UUID, errorMessage string)
}

// LogMonitor is a Monitor that writes metrics to the structured log.
// Used when no metrics backend is configured.
type LogMonitor struct {
	logger *slog.Logger
}

// NewLogMonitor creates a log-backed Monitor.
func NewLogMonitor(logger *slog.Logger) *LogMonitor {
	return &LogMonitor{logger: logger.With("component", "log_monitor")}
}

// RecordMetric logs the metric at debug level.
func (m *LogMonitor) RecordMetric(name string, value float64) {
	m.logger.Debug("metric", "name", name, "value", value)
}

// LogNotifier is a Notifier that only logs. The real notification
// channels (mail, push) live outside this module.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-backed Notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "log_notifier")}
}

// NotifyCompleted logs a successful outcome.
func (n *LogNotifier) NotifyCompleted(
	ctx context.Context,
	userID, taskName string,
	taskID uuid.UUID,
	executionTime time.Duration,
) {
	n.logger.Info("task completed notification",
		"user_id", userID,
		"task_name", taskName,
		"task_id", taskID,
		"execution_time", executionTime)
}

// NotifyFailed logs a failed outcome.
func (n *LogNotifier) NotifyFailed(
	ctx context.Context,
	userID, taskName string,
	taskID uuid.UUID,
	errorMessage string,
) {
	n.logger.Warn("task failed notification",
		"user_id", userID,
		"task_name", taskName,
		"task_id", taskID,
		"error_message", errorMessage)
}
