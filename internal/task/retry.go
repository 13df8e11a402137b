package task

import (
	"log/slog"
	"time"
)

// RetryPolicy decides whether and when a failed task is re-scheduled.
//
// Backoff schedule: delay = retry_delay * 2^(retry_count-1) when
// exponential backoff is enabled, a flat retry_delay otherwise. With
// the defaults (60s base, exponential) successive attempts wait 60s,
// 120s, 240s.
type RetryPolicy struct {
	logger *slog.Logger
}

// NewRetryPolicy creates a retry policy.
func NewRetryPolicy(logger *slog.Logger) *RetryPolicy {
	return &RetryPolicy{logger: logger.With("component", "retry_policy")}
}

// Delay computes the backoff for a task whose retry_count has already
// been incremented for the upcoming attempt.
func (p *RetryPolicy) Delay(t *Task) time.Duration {
	if !t.ExponentialBackoff {
		return t.RetryDelay
	}
	delay := t.RetryDelay
	for i := 1; i < t.RetryCount; i++ {
		delay *= 2
	}
	return delay
}

// Apply mutates a just-failed task according to the policy and reports
// whether it was re-scheduled. When the retry budget remains, the task
// moves to retrying with an advanced execute_at; otherwise it stays
// terminally failed. The caller persists and re-enqueues.
func (p *RetryPolicy) Apply(t *Task, now time.Time) bool {
	if t.RetryCount >= t.MaxRetries {
		t.Status = StatusFailed
		p.logger.Info("retry budget exhausted, task failed permanently",
			"task_id", t.ID,
			"function", t.Function,
			"retry_count", t.RetryCount,
			"max_retries", t.MaxRetries)
		return false
	}

	t.RetryCount++
	delay := p.Delay(t)
	t.Status = StatusRetrying
	t.ExecuteAt = now.Add(delay)
	t.StartedAt = nil
	t.CompletedAt = nil

	p.logger.Info("task scheduled for retry",
		"task_id", t.ID,
		"function", t.Function,
		"retry_count", t.RetryCount,
		"max_retries", t.MaxRetries,
		"delay", delay,
		"execute_at", t.ExecuteAt)
	return true
}
