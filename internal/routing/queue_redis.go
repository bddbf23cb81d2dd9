package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisQueueKeyPrefix = "routing:queue:"
	redisTaskKeyPrefix  = "routing:task:"
	redisTaskQueueKey   = "routing:taskqueue"
	redisQueueSetKey    = "routing:queues"
	redisSeqKey         = "routing:seq"
)

// RedisQueueManager is a QueueManager on redis sorted sets, for
// deployments that want queued tasks to survive a process restart.
// Ordering matches the in-memory manager: members are scored by
// -priority with a monotonic sequence as the tie-breaker, so ZPOPMIN
// yields the highest priority, oldest first.
type RedisQueueManager struct {
	client             *redis.Client
	avgHandlingSeconds int
}

// NewRedisQueueManager creates a redis-backed queue manager.
func NewRedisQueueManager(client *redis.Client, avgHandlingSeconds int) *RedisQueueManager {
	if client == nil {
		panic("routing: redis client required")
	}
	if avgHandlingSeconds <= 0 {
		avgHandlingSeconds = DefaultAvgHandlingSeconds
	}
	return &RedisQueueManager{client: client, avgHandlingSeconds: avgHandlingSeconds}
}

func redisQueueKey(queueID string) string {
	return redisQueueKeyPrefix + queueID
}

func redisTaskKey(taskID string) string {
	return redisTaskKeyPrefix + taskID
}

// EnsureQueue registers the queue id. Creation order is kept in a sorted
// set scored by registration sequence.
func (m *RedisQueueManager) EnsureQueue(ctx context.Context, queueID string) error {
	return m.registerQueue(ctx, queueID)
}

func (m *RedisQueueManager) registerQueue(ctx context.Context, queueID string) error {
	exists, err := m.client.ZScore(ctx, redisQueueSetKey, queueID).Result()
	if err == nil && exists != 0 {
		return nil
	}
	if err != nil && err != redis.Nil {
		return fmt.Errorf("routing: check queue registry: %w", err)
	}
	seq, err := m.client.Incr(ctx, redisSeqKey).Result()
	if err != nil {
		return fmt.Errorf("routing: queue registry seq: %w", err)
	}
	if err := m.client.ZAddNX(ctx, redisQueueSetKey, redis.Z{Score: float64(seq), Member: queueID}).Err(); err != nil {
		return fmt.Errorf("routing: register queue: %w", err)
	}
	return nil
}

// Enqueue adds the task to its queue and returns the queue id and the
// task's 1-indexed position. A task id that is already queued is
// repositioned: ZADD updates the member in place, and a member left in
// a different queue is removed first.
func (m *RedisQueueManager) Enqueue(ctx context.Context, taskID string, rctx RoutingContext, priority int) (string, int, error) {
	queueID := QueueIDFor(rctx)
	if err := m.registerQueue(ctx, queueID); err != nil {
		return "", 0, err
	}
	if err := m.evictStaleMember(ctx, taskID, queueID); err != nil {
		return "", 0, err
	}

	seq, err := m.client.Incr(ctx, redisSeqKey).Result()
	if err != nil {
		return "", 0, fmt.Errorf("routing: enqueue seq: %w", err)
	}
	task := QueuedTask{
		TaskID:     taskID,
		QueueID:    queueID,
		Priority:   priority,
		EnqueuedAt: time.Now().UTC(),
		Context:    rctx,
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return "", 0, fmt.Errorf("routing: encode queued task: %w", err)
	}

	score := float64(-priority)*1e9 + float64(seq)
	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, redisQueueKey(queueID), redis.Z{Score: score, Member: taskID})
		pipe.Set(ctx, redisTaskKey(taskID), payload, 0)
		pipe.HSet(ctx, redisTaskQueueKey, taskID, queueID)
		return nil
	})
	if err != nil {
		return "", 0, fmt.Errorf("routing: enqueue task: %w", err)
	}

	rank, err := m.client.ZRank(ctx, redisQueueKey(queueID), taskID).Result()
	if err != nil {
		return "", 0, fmt.Errorf("routing: enqueue rank: %w", err)
	}
	return queueID, int(rank) + 1, nil
}

// Requeue re-inserts a dequeued task at the head of its priority band,
// keeping the original enqueue time. A negative sequence component scores
// the member below every same-priority arrival.
func (m *RedisQueueManager) Requeue(ctx context.Context, task *QueuedTask) (int, error) {
	if err := m.registerQueue(ctx, task.QueueID); err != nil {
		return 0, err
	}
	if err := m.evictStaleMember(ctx, task.TaskID, task.QueueID); err != nil {
		return 0, err
	}

	seq, err := m.client.Incr(ctx, redisSeqKey).Result()
	if err != nil {
		return 0, fmt.Errorf("routing: requeue seq: %w", err)
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return 0, fmt.Errorf("routing: encode queued task: %w", err)
	}

	score := float64(-task.Priority)*1e9 - float64(seq)
	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, redisQueueKey(task.QueueID), redis.Z{Score: score, Member: task.TaskID})
		pipe.Set(ctx, redisTaskKey(task.TaskID), payload, 0)
		pipe.HSet(ctx, redisTaskQueueKey, task.TaskID, task.QueueID)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("routing: requeue task: %w", err)
	}

	rank, err := m.client.ZRank(ctx, redisQueueKey(task.QueueID), task.TaskID).Result()
	if err != nil {
		return 0, fmt.Errorf("routing: requeue rank: %w", err)
	}
	return int(rank) + 1, nil
}

// evictStaleMember drops the sorted-set entry a task left in another queue,
// so moving a task between queues never strands a duplicate member.
func (m *RedisQueueManager) evictStaleMember(ctx context.Context, taskID, queueID string) error {
	oldQueue, err := m.client.HGet(ctx, redisTaskQueueKey, taskID).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("routing: check queued task: %w", err)
	}
	if oldQueue == queueID {
		return nil
	}
	if err := m.client.ZRem(ctx, redisQueueKey(oldQueue), taskID).Err(); err != nil {
		return fmt.Errorf("routing: move queued task: %w", err)
	}
	return nil
}

// Dequeue pops the highest-priority task or returns ErrQueueEmpty.
func (m *RedisQueueManager) Dequeue(ctx context.Context, queueID string) (*QueuedTask, error) {
	popped, err := m.client.ZPopMin(ctx, redisQueueKey(queueID), 1).Result()
	if err != nil {
		return nil, fmt.Errorf("routing: dequeue: %w", err)
	}
	if len(popped) == 0 {
		return nil, ErrQueueEmpty
	}
	taskID, _ := popped[0].Member.(string)
	return m.takeTask(ctx, taskID)
}

func (m *RedisQueueManager) takeTask(ctx context.Context, taskID string) (*QueuedTask, error) {
	payload, err := m.client.Get(ctx, redisTaskKey(taskID)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("routing: load queued task %s: %w", taskID, err)
	}
	var task QueuedTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return nil, fmt.Errorf("routing: decode queued task %s: %w", taskID, err)
	}
	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisTaskKey(taskID))
		pipe.HDel(ctx, redisTaskQueueKey, taskID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("routing: cleanup queued task %s: %w", taskID, err)
	}
	return &task, nil
}

// Position returns the task's live 1-indexed rank or ErrTaskNotQueued.
func (m *RedisQueueManager) Position(ctx context.Context, taskID string) (int, error) {
	queueID, err := m.client.HGet(ctx, redisTaskQueueKey, taskID).Result()
	if err == redis.Nil {
		return 0, ErrTaskNotQueued
	}
	if err != nil {
		return 0, fmt.Errorf("routing: position lookup: %w", err)
	}
	rank, err := m.client.ZRank(ctx, redisQueueKey(queueID), taskID).Result()
	if err == redis.Nil {
		return 0, ErrTaskNotQueued
	}
	if err != nil {
		return 0, fmt.Errorf("routing: position rank: %w", err)
	}
	return int(rank) + 1, nil
}

// EstimatedWaitSeconds is queue length times the average handling time.
func (m *RedisQueueManager) EstimatedWaitSeconds(ctx context.Context, queueID string) (int, error) {
	length, err := m.Length(ctx, queueID)
	if err != nil {
		return 0, err
	}
	return length * m.avgHandlingSeconds, nil
}

// Remove cancels a queued task; false when it is not queued.
func (m *RedisQueueManager) Remove(ctx context.Context, taskID string) (bool, error) {
	queueID, err := m.client.HGet(ctx, redisTaskQueueKey, taskID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("routing: remove lookup: %w", err)
	}
	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, redisQueueKey(queueID), taskID)
		pipe.Del(ctx, redisTaskKey(taskID))
		pipe.HDel(ctx, redisTaskQueueKey, taskID)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("routing: remove task: %w", err)
	}
	return true, nil
}

// Length returns the number of tasks waiting in the queue.
func (m *RedisQueueManager) Length(ctx context.Context, queueID string) (int, error) {
	length, err := m.client.ZCard(ctx, redisQueueKey(queueID)).Result()
	if err != nil {
		return 0, fmt.Errorf("routing: queue length: %w", err)
	}
	return int(length), nil
}

// Tasks returns an ordered snapshot of the queue.
func (m *RedisQueueManager) Tasks(ctx context.Context, queueID string) ([]*QueuedTask, error) {
	taskIDs, err := m.client.ZRange(ctx, redisQueueKey(queueID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("routing: queue snapshot: %w", err)
	}
	tasks := make([]*QueuedTask, 0, len(taskIDs))
	for _, taskID := range taskIDs {
		payload, err := m.client.Get(ctx, redisTaskKey(taskID)).Bytes()
		if err != nil {
			return nil, fmt.Errorf("routing: load queued task %s: %w", taskID, err)
		}
		var task QueuedTask
		if err := json.Unmarshal(payload, &task); err != nil {
			return nil, fmt.Errorf("routing: decode queued task %s: %w", taskID, err)
		}
		tasks = append(tasks, &task)
	}
	return tasks, nil
}

// QueueIDs returns queue ids in registration order.
func (m *RedisQueueManager) QueueIDs(ctx context.Context) ([]string, error) {
	ids, err := m.client.ZRange(ctx, redisQueueSetKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("routing: list queues: %w", err)
	}
	return ids, nil
}

// Clear drops every queue, task payload, and registry entry.
func (m *RedisQueueManager) Clear(ctx context.Context) error {
	ids, err := m.QueueIDs(ctx)
	if err != nil {
		return err
	}
	taskIDs, err := m.client.HKeys(ctx, redisTaskQueueKey).Result()
	if err != nil {
		return fmt.Errorf("routing: list queued tasks: %w", err)
	}
	keys := []string{redisTaskQueueKey, redisQueueSetKey, redisSeqKey}
	for _, id := range ids {
		keys = append(keys, redisQueueKey(id))
	}
	for _, taskID := range taskIDs {
		keys = append(keys, redisTaskKey(taskID))
	}
	if err := m.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("routing: clear queues: %w", err)
	}
	return nil
}
