package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Paddel87/AIMA-sub000/internal/store"
)

// keyPrefix namespaces task records in the durable store.
const keyPrefix = "task:"

// ErrTaskNotFound is returned when no record exists for a task ID.
var ErrTaskNotFound = errors.New("task not found")

func taskKey(id uuid.UUID) string {
	return keyPrefix + id.String()
}

// TaskStore persists task records as self-describing JSON documents in
// the durable key/value store, under key "task:{id}" with a TTL equal
// to the retention window. It is the single source of truth for task
// state; the ready sets are only a cache of it.
type TaskStore struct {
	kv        store.Store
	retention time.Duration
	logger    *slog.Logger
}

// NewTaskStore creates a TaskStore over the given key/value backend.
// Records are written with a TTL of retention; zero disables expiry.
func NewTaskStore(kv store.Store, retention time.Duration, logger *slog.Logger) *TaskStore {
	return &TaskStore{
		kv:        kv,
		retention: retention,
		logger:    logger.With("component", "task_store"),
	}
}

// Save serializes the task and writes it to the store. A task state
// transition is not considered valid until Save has succeeded.
func (s *TaskStore) Save(ctx context.Context, t *Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", t.ID, err)
	}
	if err := s.kv.Set(ctx, taskKey(t.ID), data, s.retention); err != nil {
		return fmt.Errorf("persist task %s: %w", t.ID, err)
	}
	return nil
}

// Get loads the task record for id. Returns ErrTaskNotFound when no
// record exists.
func (s *TaskStore) Get(ctx context.Context, id uuid.UUID) (*Task, error) {
	data, err := s.kv.Get(ctx, taskKey(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		return nil, fmt.Errorf("load task %s: %w", id, err)
	}
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal task %s: %w", id, err)
	}
	return &t, nil
}

// Delete removes the task record for id.
func (s *TaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.kv.Delete(ctx, taskKey(id)); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

// List loads every task record in the store. Records that fail to
// decode are logged and skipped rather than failing the whole scan.
func (s *TaskStore) List(ctx context.Context) ([]*Task, error) {
	keys, err := s.kv.ScanKeys(ctx, keyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("scan task keys: %w", err)
	}

	tasks := make([]*Task, 0, len(keys))
	for _, key := range keys {
		data, err := s.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Expired between scan and read.
				continue
			}
			return nil, fmt.Errorf("load %s: %w", key, err)
		}
		var t Task
		if err := json.Unmarshal(data, &t); err != nil {
			s.logger.Error("skipping undecodable task record", "key", key, "error", err)
			continue
		}
		tasks = append(tasks, &t)
	}
	return tasks, nil
}
