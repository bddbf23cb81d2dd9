package routing

import (
	"context"
	"testing"
)

func TestMemoryQueueManagerContract(t *testing.T) {
	runQueueManagerSuite(t, func(t *testing.T) QueueManager {
		return NewMemoryQueueManager(0)
	})
}

// runQueueManagerSuite exercises the QueueManager contract; both the
// in-memory and redis implementations must pass it.
func runQueueManagerSuite(t *testing.T, newManager func(t *testing.T) QueueManager) {
	ctx := context.Background()

	t.Run("dequeue follows priority order", func(t *testing.T) {
		m := newManager(t)
		enqueue(t, m, "t-25", "", 25)
		enqueue(t, m, "t-100", "", 100)
		enqueue(t, m, "t-50", "", 50)

		for _, want := range []string{"t-100", "t-50", "t-25"} {
			task, err := m.Dequeue(ctx, DefaultQueueID)
			if err != nil {
				t.Fatalf("Dequeue: %v", err)
			}
			if task.TaskID != want {
				t.Fatalf("expected %s, got %s", want, task.TaskID)
			}
		}
	})

	t.Run("equal priorities preserve arrival order", func(t *testing.T) {
		m := newManager(t)
		enqueue(t, m, "first", "", 50)
		enqueue(t, m, "second", "", 50)
		enqueue(t, m, "third", "", 50)

		for _, want := range []string{"first", "second", "third"} {
			task, err := m.Dequeue(ctx, DefaultQueueID)
			if err != nil {
				t.Fatalf("Dequeue: %v", err)
			}
			if task.TaskID != want {
				t.Fatalf("expected %s, got %s", want, task.TaskID)
			}
		}
	})

	t.Run("team id selects the queue", func(t *testing.T) {
		m := newManager(t)
		queueID, position, err := m.Enqueue(ctx, "t-1", RoutingContext{TeamID: "team-a"}, 10)
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		if queueID != "team-a" || position != 1 {
			t.Fatalf("expected team-a position 1, got %s position %d", queueID, position)
		}

		queueID, _, err = m.Enqueue(ctx, "t-2", RoutingContext{}, 10)
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		if queueID != DefaultQueueID {
			t.Fatalf("expected default queue, got %s", queueID)
		}

		if _, err := m.Dequeue(ctx, "team-a"); err != nil {
			t.Fatalf("Dequeue team-a: %v", err)
		}
	})

	t.Run("estimated wait is linear in queue length", func(t *testing.T) {
		m := newManager(t)
		enqueue(t, m, "t-1", "", 10)
		enqueue(t, m, "t-2", "", 10)

		wait, err := m.EstimatedWaitSeconds(ctx, DefaultQueueID)
		if err != nil {
			t.Fatalf("EstimatedWaitSeconds: %v", err)
		}
		if wait != 240 {
			t.Fatalf("expected 240s for 2 tasks, got %d", wait)
		}

		wait, err = m.EstimatedWaitSeconds(ctx, "never-created")
		if err != nil {
			t.Fatalf("EstimatedWaitSeconds unknown queue: %v", err)
		}
		if wait != 0 {
			t.Fatalf("expected 0s for unknown queue, got %d", wait)
		}
	})

	t.Run("remove cancels a queued task", func(t *testing.T) {
		m := newManager(t)
		enqueue(t, m, "keep", "", 60)
		enqueue(t, m, "cancel", "", 40)

		removed, err := m.Remove(ctx, "cancel")
		if err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if !removed {
			t.Fatalf("expected removal to succeed")
		}
		if _, err := m.Position(ctx, "cancel"); err != ErrTaskNotQueued {
			t.Fatalf("expected ErrTaskNotQueued after removal, got %v", err)
		}

		removed, err = m.Remove(ctx, "never-queued")
		if err != nil {
			t.Fatalf("Remove unqueued: %v", err)
		}
		if removed {
			t.Fatalf("expected removal of unqueued task to return false")
		}
	})

	t.Run("re-enqueue repositions instead of duplicating", func(t *testing.T) {
		m := newManager(t)
		enqueue(t, m, "t-1", "", 50)
		enqueue(t, m, "t-1", "", 50)

		length, err := m.Length(ctx, DefaultQueueID)
		if err != nil {
			t.Fatalf("Length: %v", err)
		}
		if length != 1 {
			t.Fatalf("expected 1 queued copy, got %d", length)
		}

		removed, err := m.Remove(ctx, "t-1")
		if err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if !removed {
			t.Fatalf("expected removal to succeed")
		}
		if _, err := m.Dequeue(ctx, DefaultQueueID); err != ErrQueueEmpty {
			t.Fatalf("expected ErrQueueEmpty after cancellation, got %v", err)
		}
	})

	t.Run("re-enqueue moves a task between queues", func(t *testing.T) {
		m := newManager(t)
		enqueue(t, m, "t-1", "", 50)
		enqueue(t, m, "t-1", "team-a", 50)

		length, err := m.Length(ctx, DefaultQueueID)
		if err != nil {
			t.Fatalf("Length: %v", err)
		}
		if length != 0 {
			t.Fatalf("expected the default queue emptied, got length %d", length)
		}

		task, err := m.Dequeue(ctx, "team-a")
		if err != nil {
			t.Fatalf("Dequeue team-a: %v", err)
		}
		if task.TaskID != "t-1" {
			t.Fatalf("expected t-1 in team-a, got %s", task.TaskID)
		}
	})

	t.Run("requeue returns to the head of the priority band", func(t *testing.T) {
		m := newManager(t)
		enqueue(t, m, "first", "", 50)
		enqueue(t, m, "second", "", 50)

		head, err := m.Dequeue(ctx, DefaultQueueID)
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if head.TaskID != "first" {
			t.Fatalf("expected first at the head, got %s", head.TaskID)
		}

		enqueue(t, m, "urgent", "", 90)
		position, err := m.Requeue(ctx, head)
		if err != nil {
			t.Fatalf("Requeue: %v", err)
		}
		if position != 2 {
			t.Fatalf("expected position 2 behind the higher priority, got %d", position)
		}

		urgent, err := m.Dequeue(ctx, DefaultQueueID)
		if err != nil || urgent.TaskID != "urgent" {
			t.Fatalf("expected urgent out first, got %+v (%v)", urgent, err)
		}
		back, err := m.Dequeue(ctx, DefaultQueueID)
		if err != nil {
			t.Fatalf("Dequeue requeued: %v", err)
		}
		if back.TaskID != "first" {
			t.Fatalf("expected first ahead of its priority peer, got %s", back.TaskID)
		}
		if !back.EnqueuedAt.Equal(head.EnqueuedAt) {
			t.Fatalf("expected the original enqueue time kept, got %v vs %v", back.EnqueuedAt, head.EnqueuedAt)
		}
	})

	t.Run("enqueue dequeue round trip", func(t *testing.T) {
		m := newManager(t)
		enqueue(t, m, "only", "", 30)

		task, err := m.Dequeue(ctx, DefaultQueueID)
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if task.TaskID != "only" {
			t.Fatalf("expected the enqueued task back, got %s", task.TaskID)
		}
		length, err := m.Length(ctx, DefaultQueueID)
		if err != nil {
			t.Fatalf("Length: %v", err)
		}
		if length != 0 {
			t.Fatalf("expected empty queue, got length %d", length)
		}
		if _, err := m.Dequeue(ctx, DefaultQueueID); err != ErrQueueEmpty {
			t.Fatalf("expected ErrQueueEmpty, got %v", err)
		}
	})

	t.Run("position is live", func(t *testing.T) {
		m := newManager(t)
		enqueue(t, m, "low", "", 10)
		enqueue(t, m, "high", "", 90)

		position, err := m.Position(ctx, "low")
		if err != nil {
			t.Fatalf("Position: %v", err)
		}
		if position != 2 {
			t.Fatalf("expected position 2, got %d", position)
		}

		if _, err := m.Dequeue(ctx, DefaultQueueID); err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		position, err = m.Position(ctx, "low")
		if err != nil {
			t.Fatalf("Position after dequeue: %v", err)
		}
		if position != 1 {
			t.Fatalf("expected position 1 after dequeue, got %d", position)
		}
	})

	t.Run("enqueue reports insertion position", func(t *testing.T) {
		m := newManager(t)
		enqueue(t, m, "a", "", 50)
		_, position, err := m.Enqueue(ctx, "b", RoutingContext{}, 80)
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		if position != 1 {
			t.Fatalf("expected higher-priority task at position 1, got %d", position)
		}
		_, position, err = m.Enqueue(ctx, "c", RoutingContext{}, 20)
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		if position != 3 {
			t.Fatalf("expected lowest-priority task at position 3, got %d", position)
		}
	})

	t.Run("tasks snapshot and queue ids", func(t *testing.T) {
		m := newManager(t)
		if err := m.EnsureQueue(ctx, "team-z"); err != nil {
			t.Fatalf("EnsureQueue: %v", err)
		}
		if err := m.EnsureQueue(ctx, "team-z"); err != nil {
			t.Fatalf("EnsureQueue twice: %v", err)
		}
		enqueue(t, m, "t-1", "", 70)
		enqueue(t, m, "t-2", "", 90)

		tasks, err := m.Tasks(ctx, DefaultQueueID)
		if err != nil {
			t.Fatalf("Tasks: %v", err)
		}
		if len(tasks) != 2 || tasks[0].TaskID != "t-2" || tasks[1].TaskID != "t-1" {
			t.Fatalf("unexpected snapshot: %+v", tasks)
		}

		ids, err := m.QueueIDs(ctx)
		if err != nil {
			t.Fatalf("QueueIDs: %v", err)
		}
		if len(ids) != 2 {
			t.Fatalf("expected 2 queues, got %v", ids)
		}

		if err := m.Clear(ctx); err != nil {
			t.Fatalf("Clear: %v", err)
		}
		ids, err = m.QueueIDs(ctx)
		if err != nil {
			t.Fatalf("QueueIDs after clear: %v", err)
		}
		if len(ids) != 0 {
			t.Fatalf("expected no queues after clear, got %v", ids)
		}
	})
}

func enqueue(t *testing.T, m QueueManager, taskID, teamID string, priority int) {
	t.Helper()
	if _, _, err := m.Enqueue(context.Background(), taskID, RoutingContext{TaskID: taskID, TeamID: teamID}, priority); err != nil {
		t.Fatalf("Enqueue %s: %v", taskID, err)
	}
}
