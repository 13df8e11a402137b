package task

import (
	"fmt"
	"time"
)

// QueueStats holds derived per-queue counters. They are recomputed
// from the task store by the stats aggregator and are never
// authoritative.
type QueueStats struct {
	Queue            Queue         `json:"queue"`
	Pending          int           `json:"pending"`
	Running          int           `json:"running"`
	Completed        int           `json:"completed"`
	Failed           int           `json:"failed"`
	Total            int           `json:"total"`
	AvgExecutionTime time.Duration `json:"avg_execution_time"`
	LastProcessedAt  *time.Time    `json:"last_processed_at,omitempty"`
}

// computeStats derives per-queue counters from a full task scan. Every
// known queue gets an entry even when it holds no tasks. Scheduled and
// retrying tasks count as pending: they are awaiting dispatch.
func computeStats(tasks []*Task) map[Queue]*QueueStats {
	stats := make(map[Queue]*QueueStats, len(QueuePrecedence))
	for _, q := range QueuePrecedence {
		stats[q] = &QueueStats{Queue: q}
	}

	sums := make(map[Queue]time.Duration)
	counts := make(map[Queue]int)

	for _, t := range tasks {
		s, ok := stats[t.Queue]
		if !ok {
			// Record with an unknown queue value; ignore rather than
			// invent a bucket.
			continue
		}
		s.Total++

		switch t.Status {
		case StatusPending, StatusScheduled, StatusRetrying:
			s.Pending++
		case StatusRunning:
			s.Running++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}

		if t.Status == StatusCompleted && t.ExecutionTime > 0 {
			sums[t.Queue] += t.ExecutionTime
			counts[t.Queue]++
		}
		if t.CompletedAt != nil {
			if s.LastProcessedAt == nil || t.CompletedAt.After(*s.LastProcessedAt) {
				s.LastProcessedAt = t.CompletedAt
			}
		}
	}

	for q, s := range stats {
		if counts[q] > 0 {
			s.AvgExecutionTime = sums[q] / time.Duration(counts[q])
		}
	}
	return stats
}

// export pushes one queue's counters to the monitor as
// task_queue.<queue>.<stat> gauges.
func (s *QueueStats) export(monitor Monitor) {
	prefix := fmt.Sprintf("task_queue.%s.", s.Queue)
	monitor.RecordMetric(prefix+"pending", float64(s.Pending))
	monitor.RecordMetric(prefix+"running", float64(s.Running))
	monitor.RecordMetric(prefix+"completed", float64(s.Completed))
	monitor.RecordMetric(prefix+"failed", float64(s.Failed))
	monitor.RecordMetric(prefix+"avg_execution_time", s.AvgExecutionTime.Seconds())
}
