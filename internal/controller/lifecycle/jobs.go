package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/gommon/log"

	"skiff/internal/controller/registry"
	"skiff/internal/controller/scheduler"
	"skiff/internal/types"
)

const (
	dispatchInterval   = 3 * time.Second
	expirationInterval = 30 * time.Second
	heartbeatTimeout   = 90 * time.Second
)

// StartDispatchLoop runs a background job that places pending tasks on
// available workers until the context is cancelled.
func (c *Controller) StartDispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()

	log.Info("dispatch loop started")

	for {
		select {
		case <-ticker.C:
			c.dispatchPending(ctx)
		case <-ctx.Done():
			log.Info("dispatch loop stopped")
			return
		}
	}
}

func (c *Controller) dispatchPending(ctx context.Context) {
	tasks, err := c.registry.ListTasks(ctx, registry.TaskFilter{Status: types.TaskPending})
	if err != nil {
		log.Errorf("could not list pending tasks: %v", err)
		return
	}

	// tasks are listed newest first, dispatch the oldest first
	for i := len(tasks) - 1; i >= 0; i-- {
		if err := c.dispatch(ctx, tasks[i].TaskID); err != nil {
			if errors.Is(err, scheduler.ErrNoAvailableWorkers) {
				return
			}
			log.Warnf("dispatch of task %s failed: %v", tasks[i].TaskID, err)
		}
	}
}

// StartWorkerExpirationChecker runs a background job to mark stale workers
// as offline
func (c *Controller) StartWorkerExpirationChecker(ctx context.Context) {
	ticker := time.NewTicker(expirationInterval)
	defer ticker.Stop()

	log.Info("worker expiration checker started")

	for {
		select {
		case <-ticker.C:
			c.checkAndExpireWorkers(ctx)
		case <-ctx.Done():
			log.Info("worker expiration checker stopped")
			return
		}
	}
}

func (c *Controller) checkAndExpireWorkers(ctx context.Context) {
	workers, err := c.registry.ListWorkers(ctx)
	if err != nil {
		log.Errorf("could not list workers for expiration check: %v", err)
		return
	}

	now := time.Now()
	expiredCount := 0

	for _, worker := range workers {
		if worker.Status == types.WorkerOnline && worker.LastHeartbeat.Add(heartbeatTimeout).Before(now) {
			status := types.WorkerOffline
			update := registry.WorkerUpdate{Status: &status}
			if err := c.registry.UpdateWorker(ctx, worker.WorkerID, update); err != nil {
				log.Errorf("could not mark worker %s as offline: %v", worker.WorkerID, err)
				continue
			}
			expiredCount++
			c.failOrphanedTasks(ctx, worker.WorkerID)
		}
	}

	if expiredCount > 0 {
		log.Infof("marked %d worker(s) as offline after heartbeat timeout", expiredCount)
	}
}

// failOrphanedTasks fails the running and paused tasks of a worker that
// dropped off. A frozen session on a dead worker cannot be thawed, so paused
// tasks go the same way as running ones.
func (c *Controller) failOrphanedTasks(ctx context.Context, workerID string) {
	tasks, err := c.registry.ListTasks(ctx, registry.TaskFilter{})
	if err != nil {
		log.Errorf("could not list tasks of offline worker %s: %v", workerID, err)
		return
	}

	for _, task := range tasks {
		if task.WorkerID != workerID {
			continue
		}
		if task.Status != types.TaskRunning && task.Status != types.TaskPaused {
			continue
		}
		errMsg := "worker " + workerID + " went offline"
		if _, err := c.ReportStatus(ctx, task.TaskID, types.TaskFailed, "", errMsg); err != nil {
			log.Warnf("could not fail orphaned task %s: %v", task.TaskID, err)
			continue
		}
		log.Infof("task %s failed, its worker %s went offline", task.TaskID, workerID)
	}
}
