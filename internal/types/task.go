package types

import "time"

// TaskStatus represents the lifecycle state of a browser automation task
type TaskStatus string

const (
	TaskPending  TaskStatus = "pending"
	TaskRunning  TaskStatus = "running"
	TaskPaused   TaskStatus = "paused"
	TaskStopped  TaskStatus = "stopped"
	TaskFinished TaskStatus = "finished"
	TaskFailed   TaskStatus = "failed"
)

// Valid reports whether s is a known task status
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskRunning, TaskPaused, TaskStopped, TaskFinished, TaskFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether s admits no further transitions
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStopped, TaskFinished, TaskFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a task in state s may move directly to target
func (s TaskStatus) CanTransition(target TaskStatus) bool {
	switch s {
	case TaskPending:
		return target == TaskRunning || target == TaskStopped || target == TaskFailed
	case TaskRunning:
		return target == TaskPaused || target == TaskStopped || target == TaskFinished || target == TaskFailed
	case TaskPaused:
		return target == TaskRunning || target == TaskStopped || target == TaskFailed
	default:
		return false
	}
}

// Task represents a browser automation task in the system
type Task struct {
	TaskID       string     `json:"taskId"`
	Instructions string     `json:"task"`
	Status       TaskStatus `json:"status"`
	WorkerID     string     `json:"workerId,omitempty"`
	SessionID    string     `json:"sessionId,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	PausedAt     *time.Time `json:"pausedAt,omitempty"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	Output       string     `json:"output,omitempty"`
	Error        string     `json:"error,omitempty"`
}
