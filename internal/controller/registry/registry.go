package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"skiff/internal/types"
)

var (
	// ErrTaskNotFound is returned when a task is not found in the registry
	ErrTaskNotFound = errors.New("task not found")
	// ErrWorkerNotFound is returned when a worker is not found in the registry
	ErrWorkerNotFound = errors.New("worker not found")
	// ErrTaskAlreadyExists is returned when attempting to add a duplicate task
	ErrTaskAlreadyExists = errors.New("task already exists")
	// ErrWorkerAlreadyExists is returned when attempting to add a duplicate worker
	ErrWorkerAlreadyExists = errors.New("worker already exists")
)

// InvalidTransitionError is returned when a status change is rejected by the
// task state machine. Current carries the status the task actually had when
// the change was attempted, so callers can distinguish a lost race from a
// plainly bad request.
type InvalidTransitionError struct {
	TaskID  string
	Current types.TaskStatus
	Target  types.TaskStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s cannot transition from %s to %s", e.TaskID, e.Current, e.Target)
}

// TaskUpdate contains fields that can be updated for a task
type TaskUpdate struct {
	Status     *types.TaskStatus
	WorkerID   *string
	SessionID  *string
	StartedAt  *time.Time
	PausedAt   *time.Time
	FinishedAt *time.Time
	Output     *string
	Error      *string
}

// WorkerUpdate contains fields that can be updated for a worker
type WorkerUpdate struct {
	Status         *types.WorkerStatus
	ActiveSessions *int
	Capacity       *int
	LastHeartbeat  *time.Time
}

// TaskFilter narrows ListTasks results. Zero value matches everything.
type TaskFilter struct {
	Status types.TaskStatus
}

// Registry defines the interface for managing task and worker state
type Registry interface {
	// Task operations
	AddTask(ctx context.Context, task types.Task) error
	GetTask(ctx context.Context, taskID string) (types.Task, error)
	UpdateTask(ctx context.Context, taskID string, updates TaskUpdate) error
	ListTasks(ctx context.Context, filter TaskFilter) ([]types.Task, error)

	// TransitionTask atomically moves a task into target if its current status
	// is one of from and the state machine allows the edge. When two callers
	// race on the same task exactly one observes success; the loser gets an
	// *InvalidTransitionError carrying the status the winner left behind.
	// Status timestamps (startedAt, pausedAt, finishedAt) are maintained as
	// part of the same atomic write.
	TransitionTask(ctx context.Context, taskID string, from []types.TaskStatus, target types.TaskStatus) (types.Task, error)

	// Worker operations
	AddWorker(ctx context.Context, worker types.Worker) error
	GetWorker(ctx context.Context, workerID string) (types.Worker, error)
	UpdateWorker(ctx context.Context, workerID string, updates WorkerUpdate) error
	ListWorkers(ctx context.Context) ([]types.Worker, error)

	// AvailableWorkers returns online workers with free session capacity
	AvailableWorkers(ctx context.Context) ([]types.Worker, error)
}

// allowedFrom filters from down to statuses the state machine lets reach
// target. The registry enforces the transition table at the mutation site so
// a buggy caller cannot move a task along an edge that does not exist.
func allowedFrom(from []types.TaskStatus, target types.TaskStatus) []types.TaskStatus {
	allowed := make([]types.TaskStatus, 0, len(from))
	for _, status := range from {
		if status.CanTransition(target) {
			allowed = append(allowed, status)
		}
	}
	return allowed
}

// applyTransition mutates the status and its derived timestamps on a task.
// A task entering running keeps its original start time across pauses.
func applyTransition(task *types.Task, target types.TaskStatus, now time.Time) {
	task.Status = target

	switch target {
	case types.TaskRunning:
		if task.StartedAt == nil {
			task.StartedAt = &now
		}
		task.PausedAt = nil
	case types.TaskPaused:
		task.PausedAt = &now
	case types.TaskStopped, types.TaskFinished, types.TaskFailed:
		task.FinishedAt = &now
	}
}
