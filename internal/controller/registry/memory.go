package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"skiff/internal/types"
)

// MemoryRegistry is a thread-safe in-memory implementation of Registry
type MemoryRegistry struct {
	mu      sync.RWMutex
	tasks   map[string]types.Task
	workers map[string]types.Worker
}

// NewMemoryRegistry creates a new in-memory registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		tasks:   make(map[string]types.Task),
		workers: make(map[string]types.Worker),
	}
}

// AddTask adds a new task to the registry
func (r *MemoryRegistry) AddTask(_ context.Context, task types.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[task.TaskID]; exists {
		return ErrTaskAlreadyExists
	}

	r.tasks[task.TaskID] = task
	return nil
}

// GetTask retrieves a task by ID
func (r *MemoryRegistry) GetTask(_ context.Context, taskID string) (types.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, exists := r.tasks[taskID]
	if !exists {
		return types.Task{}, ErrTaskNotFound
	}

	return task, nil
}

// UpdateTask updates specific fields of a task
func (r *MemoryRegistry) UpdateTask(_ context.Context, taskID string, updates TaskUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, exists := r.tasks[taskID]
	if !exists {
		return ErrTaskNotFound
	}

	// Apply updates if provided
	if updates.Status != nil {
		task.Status = *updates.Status
	}
	if updates.WorkerID != nil {
		task.WorkerID = *updates.WorkerID
	}
	if updates.SessionID != nil {
		task.SessionID = *updates.SessionID
	}
	if updates.StartedAt != nil {
		task.StartedAt = updates.StartedAt
	}
	if updates.PausedAt != nil {
		task.PausedAt = updates.PausedAt
	}
	if updates.FinishedAt != nil {
		task.FinishedAt = updates.FinishedAt
	}
	if updates.Output != nil {
		task.Output = *updates.Output
	}
	if updates.Error != nil {
		task.Error = *updates.Error
	}

	r.tasks[taskID] = task
	return nil
}

// ListTasks returns tasks matching the filter, newest first
func (r *MemoryRegistry) ListTasks(_ context.Context, filter TaskFilter) ([]types.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := make([]types.Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		tasks = append(tasks, task)
	}

	sort.Slice(
		tasks, func(i, j int) bool {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		},
	)

	return tasks, nil
}

// TransitionTask atomically moves a task into target under the write lock
func (r *MemoryRegistry) TransitionTask(_ context.Context, taskID string, from []types.TaskStatus, target types.TaskStatus) (types.Task, error) {
	allowed := allowedFrom(from, target)

	r.mu.Lock()
	defer r.mu.Unlock()

	task, exists := r.tasks[taskID]
	if !exists {
		return types.Task{}, ErrTaskNotFound
	}

	matched := false
	for _, status := range allowed {
		if task.Status == status {
			matched = true
			break
		}
	}
	if !matched {
		return types.Task{}, &InvalidTransitionError{TaskID: taskID, Current: task.Status, Target: target}
	}

	applyTransition(&task, target, time.Now().UTC())
	r.tasks[taskID] = task

	return task, nil
}

// AddWorker adds a new worker to the registry
func (r *MemoryRegistry) AddWorker(_ context.Context, worker types.Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[worker.WorkerID]; exists {
		return ErrWorkerAlreadyExists
	}

	r.workers[worker.WorkerID] = worker
	return nil
}

// GetWorker retrieves a worker by ID
func (r *MemoryRegistry) GetWorker(_ context.Context, workerID string) (types.Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	worker, exists := r.workers[workerID]
	if !exists {
		return types.Worker{}, ErrWorkerNotFound
	}

	return worker, nil
}

// UpdateWorker updates specific fields of a worker
func (r *MemoryRegistry) UpdateWorker(_ context.Context, workerID string, updates WorkerUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	worker, exists := r.workers[workerID]
	if !exists {
		return ErrWorkerNotFound
	}

	// Apply updates if provided
	if updates.Status != nil {
		worker.Status = *updates.Status
	}
	if updates.ActiveSessions != nil {
		worker.ActiveSessions = *updates.ActiveSessions
	}
	if updates.Capacity != nil {
		worker.Capacity = *updates.Capacity
	}
	if updates.LastHeartbeat != nil {
		worker.LastHeartbeat = *updates.LastHeartbeat
	}

	r.workers[workerID] = worker
	return nil
}

// ListWorkers returns all workers in the registry
func (r *MemoryRegistry) ListWorkers(_ context.Context) ([]types.Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workers := make([]types.Worker, 0, len(r.workers))
	for _, worker := range r.workers {
		workers = append(workers, worker)
	}

	return workers, nil
}

// AvailableWorkers returns all online workers with free session capacity
func (r *MemoryRegistry) AvailableWorkers(_ context.Context) ([]types.Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workers := make([]types.Worker, 0)
	for _, worker := range r.workers {
		if worker.Status != types.WorkerOnline {
			continue
		}
		if !worker.HasCapacity() {
			continue
		}
		workers = append(workers, worker)
	}

	return workers, nil
}
