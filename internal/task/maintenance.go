package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// MaintenanceConfig holds the timer settings for the periodic
// maintenance jobs.
type MaintenanceConfig struct {
	// CleanupInterval is how often the cleanup sweep runs.
	CleanupInterval time.Duration

	// Retention is how long terminal tasks are kept before the sweep
	// evicts them.
	Retention time.Duration

	// StatsInterval is how often per-queue stats are recomputed and
	// exported.
	StatsInterval time.Duration
}

// DefaultMaintenanceConfig returns the standard maintenance timers:
// cleanup every 5 minutes with a 7 day retention, stats every minute.
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		CleanupInterval: 5 * time.Minute,
		Retention:       7 * 24 * time.Hour,
		StatsInterval:   time.Minute,
	}
}

// Maintainer runs the cleanup sweep and the stats aggregator on cron
// schedules, and caches the latest stats snapshot for the control
// surface.
type Maintainer struct {
	tasks   *TaskStore
	monitor Monitor
	config  MaintenanceConfig
	logger  *slog.Logger

	cron *cron.Cron

	mu    sync.RWMutex
	stats map[Queue]*QueueStats

	// now is overridable in tests.
	now func() time.Time
}

// NewMaintainer creates the maintenance scheduler. Invalid intervals
// fall back to defaults.
func NewMaintainer(tasks *TaskStore, monitor Monitor, config MaintenanceConfig, logger *slog.Logger) *Maintainer {
	defaults := DefaultMaintenanceConfig()
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	if config.Retention <= 0 {
		config.Retention = defaults.Retention
	}
	if config.StatsInterval <= 0 {
		config.StatsInterval = defaults.StatsInterval
	}
	if monitor == nil {
		monitor = NewLogMonitor(logger)
	}

	return &Maintainer{
		tasks:   tasks,
		monitor: monitor,
		config:  config,
		logger:  logger.With("component", "maintenance"),
		stats:   make(map[Queue]*QueueStats),
		now:     time.Now,
	}
}

// Start schedules the cleanup and stats jobs.
func (m *Maintainer) Start() error {
	m.cron = cron.New()

	_, err := m.cron.AddFunc(fmt.Sprintf("@every %s", m.config.CleanupInterval), func() {
		if _, err := m.RunCleanup(context.Background()); err != nil {
			m.logger.Error("cleanup sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule cleanup sweep: %w", err)
	}

	_, err = m.cron.AddFunc(fmt.Sprintf("@every %s", m.config.StatsInterval), func() {
		if _, err := m.RunStats(context.Background()); err != nil {
			m.logger.Error("stats aggregation failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule stats aggregator: %w", err)
	}

	m.cron.Start()
	m.logger.Info("maintenance jobs scheduled",
		"cleanup_interval", m.config.CleanupInterval,
		"retention", m.config.Retention,
		"stats_interval", m.config.StatsInterval)
	return nil
}

// Stop halts the maintenance schedules and waits for any running job
// to finish.
func (m *Maintainer) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
}

// RunCleanup evicts terminal tasks whose completion time precedes the
// retention cutoff. Non-terminal tasks are never touched, regardless
// of age. Returns the number of evicted tasks.
func (m *Maintainer) RunCleanup(ctx context.Context) (int, error) {
	cutoff := m.now().UTC().Add(-m.config.Retention)

	tasks, err := m.tasks.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("cleanup scan: %w", err)
	}

	evicted := 0
	for _, t := range tasks {
		if !t.Status.IsTerminal() {
			continue
		}
		if t.CompletedAt == nil || !t.CompletedAt.Before(cutoff) {
			continue
		}
		if err := m.tasks.Delete(ctx, t.ID); err != nil {
			m.logger.Error("failed to evict expired task", "task_id", t.ID, "error", err)
			continue
		}
		evicted++
	}

	if evicted > 0 {
		m.logger.Info("cleanup sweep evicted expired tasks", "evicted", evicted, "cutoff", cutoff)
	}
	return evicted, nil
}

// RunStats recomputes per-queue counters from a full store scan,
// exports them to the monitor, and caches the snapshot. A full rescan
// per tick is acceptable at this scale.
func (m *Maintainer) RunStats(ctx context.Context) (map[Queue]*QueueStats, error) {
	tasks, err := m.tasks.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("stats scan: %w", err)
	}

	stats := computeStats(tasks)
	for _, s := range stats {
		s.export(m.monitor)
	}

	m.mu.Lock()
	m.stats = stats
	m.mu.Unlock()

	return stats, nil
}

// Snapshot returns the cached stats for one queue, or nil if no
// aggregation has run yet.
func (m *Maintainer) Snapshot(q Queue) *QueueStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats[q]
}
