package routing

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultQueueID is the queue used when a routing context has no team.
const DefaultQueueID = "default"

// DefaultAvgHandlingSeconds is the per-task constant behind the linear
// wait estimator.
const DefaultAvgHandlingSeconds = 120

// QueueManager holds tasks that could not be assigned immediately, ordered
// by priority per queue.
type QueueManager interface {
	EnsureQueue(ctx context.Context, queueID string) error
	Enqueue(ctx context.Context, taskID string, rctx RoutingContext, priority int) (queueID string, position int, err error)
	Dequeue(ctx context.Context, queueID string) (*QueuedTask, error)

	// Requeue puts a dequeued task back ahead of its priority peers,
	// keeping the original enqueue time. Returns the 1-indexed position.
	Requeue(ctx context.Context, task *QueuedTask) (int, error)
	Position(ctx context.Context, taskID string) (int, error)
	EstimatedWaitSeconds(ctx context.Context, queueID string) (int, error)
	Remove(ctx context.Context, taskID string) (bool, error)
	Length(ctx context.Context, queueID string) (int, error)
	Tasks(ctx context.Context, queueID string) ([]*QueuedTask, error)
	QueueIDs(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
}

// QueueIDFor returns the queue a routing context belongs to: the team id
// when present, else the default queue.
func QueueIDFor(rctx RoutingContext) string {
	if rctx.TeamID != "" {
		return rctx.TeamID
	}
	return DefaultQueueID
}

// MemoryQueueManager keeps per-queue task lists in memory behind a single
// mutex, so enqueue/dequeue/remove are linearizable per queue.
type MemoryQueueManager struct {
	mu                 sync.RWMutex
	queues             map[string][]*QueuedTask
	queueOrder         []string
	taskQueue          map[string]string // taskID -> queueID
	avgHandlingSeconds int
}

// NewMemoryQueueManager creates a queue manager with the given average
// handling time for wait estimation. Non-positive values fall back to the
// 120s default.
func NewMemoryQueueManager(avgHandlingSeconds int) *MemoryQueueManager {
	if avgHandlingSeconds <= 0 {
		avgHandlingSeconds = DefaultAvgHandlingSeconds
	}
	return &MemoryQueueManager{
		queues:             make(map[string][]*QueuedTask),
		taskQueue:          make(map[string]string),
		avgHandlingSeconds: avgHandlingSeconds,
	}
}

// EnsureQueue creates the queue if it does not exist.
func (m *MemoryQueueManager) EnsureQueue(_ context.Context, queueID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureLocked(queueID)
	return nil
}

func (m *MemoryQueueManager) ensureLocked(queueID string) {
	if _, ok := m.queues[queueID]; !ok {
		m.queues[queueID] = nil
		m.queueOrder = append(m.queueOrder, queueID)
	}
}

// Enqueue inserts the task into its queue, keeping non-increasing priority
// order. Equal priorities preserve arrival order. Returns the queue id and
// the task's 1-indexed position. A task id that is already queued is
// repositioned, never duplicated.
func (m *MemoryQueueManager) Enqueue(_ context.Context, taskID string, rctx RoutingContext, priority int) (string, int, error) {
	queueID := QueueIDFor(rctx)
	task := &QueuedTask{
		TaskID:     taskID,
		QueueID:    queueID,
		Priority:   priority,
		EnqueuedAt: time.Now().UTC(),
		Context:    rctx,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if oldQueue, ok := m.taskQueue[taskID]; ok {
		m.removeLocked(oldQueue, taskID)
	}

	m.ensureLocked(queueID)
	queue := m.queues[queueID]

	// First slot whose priority is strictly lower; ties land after.
	idx := sort.Search(len(queue), func(i int) bool {
		return queue[i].Priority < priority
	})
	queue = append(queue, nil)
	copy(queue[idx+1:], queue[idx:])
	queue[idx] = task

	m.queues[queueID] = queue
	m.taskQueue[taskID] = queueID
	return queueID, idx + 1, nil
}

// Requeue re-inserts a dequeued task at the head of its priority band, so
// a task put back after a failed assignment attempt does not fall behind
// tasks that arrived later at the same priority. EnqueuedAt is preserved.
func (m *MemoryQueueManager) Requeue(_ context.Context, task *QueuedTask) (int, error) {
	clone := *task

	m.mu.Lock()
	defer m.mu.Unlock()

	if oldQueue, ok := m.taskQueue[clone.TaskID]; ok {
		m.removeLocked(oldQueue, clone.TaskID)
	}

	m.ensureLocked(clone.QueueID)
	queue := m.queues[clone.QueueID]

	// First slot at or below the task's priority: the front of its band.
	idx := sort.Search(len(queue), func(i int) bool {
		return queue[i].Priority <= clone.Priority
	})
	queue = append(queue, nil)
	copy(queue[idx+1:], queue[idx:])
	queue[idx] = &clone

	m.queues[clone.QueueID] = queue
	m.taskQueue[clone.TaskID] = clone.QueueID
	return idx + 1, nil
}

// Dequeue removes and returns the highest-priority task, or ErrQueueEmpty
// for an empty or unknown queue.
func (m *MemoryQueueManager) Dequeue(_ context.Context, queueID string) (*QueuedTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.queues[queueID]
	if len(queue) == 0 {
		return nil, ErrQueueEmpty
	}
	task := queue[0]
	m.queues[queueID] = queue[1:]
	delete(m.taskQueue, task.TaskID)
	return task, nil
}

// Position returns the task's current 1-indexed rank in its queue, or
// ErrTaskNotQueued.
func (m *MemoryQueueManager) Position(_ context.Context, taskID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	queueID, ok := m.taskQueue[taskID]
	if !ok {
		return 0, ErrTaskNotQueued
	}
	for i, task := range m.queues[queueID] {
		if task.TaskID == taskID {
			return i + 1, nil
		}
	}
	return 0, ErrTaskNotQueued
}

// EstimatedWaitSeconds is queue length times the average handling time.
// Empty and unknown queues estimate zero.
func (m *MemoryQueueManager) EstimatedWaitSeconds(_ context.Context, queueID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.queues[queueID]) * m.avgHandlingSeconds, nil
}

// Remove cancels a queued task. Returns false when the task is not queued.
func (m *MemoryQueueManager) Remove(_ context.Context, taskID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queueID, ok := m.taskQueue[taskID]
	if !ok {
		return false, nil
	}
	m.removeLocked(queueID, taskID)
	return true, nil
}

func (m *MemoryQueueManager) removeLocked(queueID, taskID string) {
	queue := m.queues[queueID]
	for i, task := range queue {
		if task.TaskID == taskID {
			m.queues[queueID] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	delete(m.taskQueue, taskID)
}

// Length returns the number of tasks waiting in the queue.
func (m *MemoryQueueManager) Length(_ context.Context, queueID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.queues[queueID]), nil
}

// Tasks returns an ordered snapshot of the queue.
func (m *MemoryQueueManager) Tasks(_ context.Context, queueID string) ([]*QueuedTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	queue := m.queues[queueID]
	tasks := make([]*QueuedTask, len(queue))
	for i, task := range queue {
		clone := *task
		tasks[i] = &clone
	}
	return tasks, nil
}

// QueueIDs returns every known queue id in creation order.
func (m *MemoryQueueManager) QueueIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]string(nil), m.queueOrder...), nil
}

// Clear drops every queue and task.
func (m *MemoryQueueManager) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queues = make(map[string][]*QueuedTask)
	m.queueOrder = nil
	m.taskQueue = make(map[string]string)
	return nil
}
