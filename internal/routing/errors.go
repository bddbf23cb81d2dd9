package routing

import "errors"

var (
	// ErrAgentNotFound is returned when no agent exists for the given id.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrRuleNotFound is returned when no routing rule exists for the given id.
	ErrRuleNotFound = errors.New("routing rule not found")

	// ErrQueueEmpty is returned when dequeuing from an empty or unknown queue.
	ErrQueueEmpty = errors.New("queue is empty")

	// ErrTaskNotQueued is returned when a task id is not held by any queue.
	ErrTaskNotQueued = errors.New("task not queued")
)
