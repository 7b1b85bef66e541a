package scheduler

import (
	"errors"
	"sync"

	"skiff/internal/types"
)

// ErrNoAvailableWorkers is returned when no workers can host a new session.
var ErrNoAvailableWorkers = errors.New("no available workers")

// RoundRobin implements a round-robin scheduling algorithm.
// It spreads browser sessions evenly across available workers in a circular
// manner. RoundRobin is safe for concurrent use.
type RoundRobin struct {
	mu       sync.Mutex
	lastUsed int
}

// NewRoundRobin creates a new round-robin scheduler.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{
		lastUsed: -1,
	}
}

// SelectWorker selects the next available worker in round-robin order.
// Workers are filtered to only include those that are online and have free
// session capacity. Returns ErrNoAvailableWorkers if none qualify.
func (rr *RoundRobin) SelectWorker(_ types.Task, workers []types.Worker) (*types.Worker, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	available := filterAvailable(workers)
	if len(available) == 0 {
		return nil, ErrNoAvailableWorkers
	}

	rr.lastUsed = (rr.lastUsed + 1) % len(available)
	return &available[rr.lastUsed], nil
}

// filterAvailable filters workers to those that are online and can accept
// another browser session
func filterAvailable(workers []types.Worker) []types.Worker {
	available := make([]types.Worker, 0)
	for _, worker := range workers {
		if worker.Status != types.WorkerOnline {
			continue
		}

		if !worker.HasCapacity() {
			continue
		}

		available = append(available, worker)
	}
	return available
}
