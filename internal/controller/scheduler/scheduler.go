package scheduler

import "skiff/internal/types"

// Scheduler selects a worker to host a task's browser session.
// Implementations must be safe for concurrent use.
type Scheduler interface {
	// SelectWorker chooses a worker from the available workers to run the given task.
	// Returns ErrNoAvailableWorkers if no suitable worker is found.
	SelectWorker(task types.Task, workers []types.Worker) (*types.Worker, error)
}
