package task

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"
)

// Errors returned by ReadySet.
var (
	// ErrQueueFull is returned when a submission would exceed the
	// queue's bounded capacity. Submissions are rejected
	// deterministically rather than blocking or silently dropping.
	ErrQueueFull = errors.New("task queue is full")
)

// DefaultQueueCapacity bounds each queue's ready set.
const DefaultQueueCapacity = 1000

// readyEntry is a heap element: a task plus the monotonically
// increasing sequence number that breaks priority ties in submission
// order.
type readyEntry struct {
	task *Task
	seq  uint64
}

// readyHeap orders entries by priority (highest first), then by
// submission sequence (oldest first).
type readyHeap []readyEntry

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *readyHeap) Push(x any) { *h = append(*h, x.(readyEntry)) }

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = readyEntry{}
	*h = old[:n-1]
	return entry
}

// ReadySet is one queue's bounded set of enqueued tasks, ordered by
// (priority desc, submission order asc). It is a projection of the
// durable store, not an independent source of truth: the dispatcher
// re-reads the authoritative record before handing a task to a worker.
type ReadySet struct {
	queue    Queue
	capacity int

	mu   sync.Mutex
	heap readyHeap
	seq  uint64
}

// NewReadySet creates a ready set for the given queue. A capacity of
// zero or less falls back to DefaultQueueCapacity.
func NewReadySet(queue Queue, capacity int) *ReadySet {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &ReadySet{
		queue:    queue,
		capacity: capacity,
		heap:     make(readyHeap, 0),
	}
}

// Push adds a task to the set. Returns ErrQueueFull when the set is at
// capacity.
func (s *ReadySet) Push(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.heap) >= s.capacity {
		return fmt.Errorf("%w: queue %q at capacity %d", ErrQueueFull, s.queue, s.capacity)
	}

	s.seq++
	heap.Push(&s.heap, readyEntry{task: t, seq: s.seq})
	return nil
}

// Restore places a previously admitted task back on the set, bypassing
// the capacity check. The capacity bound is admission control for new
// submissions; a task that already holds a store record must never be
// refused re-entry on a retry transition or restart recovery.
func (s *ReadySet) Restore(t *Task) {
	s.mu.Lock()
	s.seq++
	heap.Push(&s.heap, readyEntry{task: t, seq: s.seq})
	s.mu.Unlock()
}

// pop removes and returns the highest-priority task, or nil when the
// set is empty.
func (s *ReadySet) pop() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.heap) == 0 {
		return nil
	}
	return heap.Pop(&s.heap).(readyEntry).task
}

// popEntry removes and returns the highest-priority entry, keeping its
// submission sequence so ineligible entries can be returned without
// losing their FIFO position.
func (s *ReadySet) popEntry() (readyEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.heap) == 0 {
		return readyEntry{}, false
	}
	return heap.Pop(&s.heap).(readyEntry), true
}

// requeue returns a previously popped entry to the set with its
// original sequence. No capacity check: the entry is merely going back
// where it came from.
func (s *ReadySet) requeue(e readyEntry) {
	s.mu.Lock()
	heap.Push(&s.heap, e)
	s.mu.Unlock()
}

// Len returns the number of enqueued tasks.
func (s *ReadySet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.heap)
}

// Queue returns the work category this set serves.
func (s *ReadySet) Queue() Queue {
	return s.queue
}
