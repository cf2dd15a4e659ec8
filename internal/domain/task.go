package domain

import "time"

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// TaskType identifies what kind of work a task carries
type TaskType string

const (
	TaskTypeCodeChange        TaskType = "code_change"
	TaskTypeCreatePullRequest TaskType = "create_pull_request"
)

// Priority controls dispatch preference; higher is dispatched first
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 5
	PriorityElevated Priority = 10
)

// Task is a unit of orchestrated work. Tasks are never deleted; they only
// move through status transitions until they reach a terminal state.
type Task struct {
	ID         string
	Type       TaskType
	IssueID    string
	Payload    map[string]any
	Priority   Priority
	Status     TaskStatus
	RetryCount int
	// Requeue is only meaningful once Status is failed: true means the
	// failure is considered transient and the task may be re-dispatched.
	Requeue      bool
	ErrorMessage string
	Result       map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Terminal reports whether the task has reached a final status.
func (t *Task) Terminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed
}

// Retryable reports whether a failed task is eligible for requeueing
// under the given retry ceiling.
func (t *Task) Retryable(maxRetries int) bool {
	return t.Status == TaskFailed && t.Requeue && t.RetryCount < maxRetries
}
