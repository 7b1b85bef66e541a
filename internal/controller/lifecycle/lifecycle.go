package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/oklog/ulid/v2"

	"skiff/internal/controller/registry"
	"skiff/internal/controller/scheduler"
	"skiff/internal/controller/signal"
	"skiff/internal/types"
)

// Controller coordinates task lifecycle changes across the registry, the
// scheduler and worker agents. Status transitions are committed to the
// registry first, so of several racing callers exactly one proceeds to
// signal the worker; the others observe the already-changed status.
type Controller struct {
	registry registry.Registry
	sched    scheduler.Scheduler
	signals  *signal.Client
}

// NewController creates a lifecycle controller backed by the given registry,
// scheduler and worker signal client.
func NewController(reg registry.Registry, sched scheduler.Scheduler, signals *signal.Client) *Controller {
	return &Controller{
		registry: reg,
		sched:    sched,
		signals:  signals,
	}
}

// Run registers a new task and tries to place it on a worker right away.
// If no worker has free capacity the task stays pending and the dispatch
// loop picks it up on a later tick.
func (c *Controller) Run(ctx context.Context, instructions string) (types.Task, error) {
	task := types.Task{
		TaskID:       newTaskID(),
		Instructions: instructions,
		Status:       types.TaskPending,
		CreatedAt:    time.Now().UTC(),
	}

	if err := c.registry.AddTask(ctx, task); err != nil {
		return types.Task{}, fmt.Errorf("add task: %w", err)
	}

	if err := c.dispatch(ctx, task.TaskID); err != nil && !errors.Is(err, scheduler.ErrNoAvailableWorkers) {
		log.Warnf("initial dispatch of task %s failed: %v", task.TaskID, err)
	}

	return c.registry.GetTask(ctx, task.TaskID)
}

// Pause freezes a running task. The registry transition happens before the
// worker is signalled; when the worker does not acknowledge the pause within
// the ack window the transition is rolled back and the task keeps running.
func (c *Controller) Pause(ctx context.Context, taskID string) (types.Task, error) {
	task, err := c.registry.TransitionTask(ctx, taskID, []types.TaskStatus{types.TaskRunning}, types.TaskPaused)
	if err != nil {
		return types.Task{}, err
	}

	worker, err := c.registry.GetWorker(ctx, task.WorkerID)
	if err != nil {
		c.revert(ctx, taskID, types.TaskPaused, types.TaskRunning)
		return types.Task{}, fmt.Errorf("%w: worker %s is not registered", signal.ErrWorkerUnresponsive, task.WorkerID)
	}

	if err := c.signals.PauseSession(ctx, worker, task.SessionID); err != nil {
		c.revert(ctx, taskID, types.TaskPaused, types.TaskRunning)
		return types.Task{}, fmt.Errorf("pause task %s: %w", taskID, err)
	}

	return task, nil
}

// Resume thaws a paused task. Like Pause, the transition is committed first
// and rolled back if the worker does not acknowledge.
func (c *Controller) Resume(ctx context.Context, taskID string) (types.Task, error) {
	task, err := c.registry.TransitionTask(ctx, taskID, []types.TaskStatus{types.TaskPaused}, types.TaskRunning)
	if err != nil {
		return types.Task{}, err
	}

	worker, err := c.registry.GetWorker(ctx, task.WorkerID)
	if err != nil {
		c.revert(ctx, taskID, types.TaskRunning, types.TaskPaused)
		return types.Task{}, fmt.Errorf("%w: worker %s is not registered", signal.ErrWorkerUnresponsive, task.WorkerID)
	}

	if err := c.signals.ResumeSession(ctx, worker, task.SessionID); err != nil {
		c.revert(ctx, taskID, types.TaskRunning, types.TaskPaused)
		return types.Task{}, fmt.Errorf("resume task %s: %w", taskID, err)
	}

	return task, nil
}

// Stop moves a task to its terminal stopped state. The worker signal is best
// effort, a task must be stoppable even when its worker is gone; the worker
// tears the session down on its own when it cannot be reached.
func (c *Controller) Stop(ctx context.Context, taskID string) (types.Task, error) {
	from := []types.TaskStatus{types.TaskPending, types.TaskRunning, types.TaskPaused}
	task, err := c.registry.TransitionTask(ctx, taskID, from, types.TaskStopped)
	if err != nil {
		return types.Task{}, err
	}

	if task.WorkerID == "" || task.SessionID == "" {
		return task, nil
	}

	worker, err := c.registry.GetWorker(ctx, task.WorkerID)
	if err != nil {
		log.Warnf("worker %s of stopped task %s is not registered: %v", task.WorkerID, taskID, err)
		return task, nil
	}

	if err := c.signals.StopSession(ctx, worker, task.SessionID); err != nil {
		log.Warnf("could not stop session %s on worker %s: %v", task.SessionID, worker.WorkerID, err)
	}

	return task, nil
}

// ReportStatus ingests a status report from a worker agent. Reports are
// idempotent: a duplicate report of the status the task already has is a
// no-op, so workers can retry freely.
func (c *Controller) ReportStatus(ctx context.Context, taskID string, status types.TaskStatus, output, errMsg string) (types.Task, error) {
	from := []types.TaskStatus{types.TaskPending, types.TaskRunning, types.TaskPaused}
	task, err := c.registry.TransitionTask(ctx, taskID, from, status)
	if err != nil {
		var transitionErr *registry.InvalidTransitionError
		if errors.As(err, &transitionErr) && transitionErr.Current == status {
			return c.registry.GetTask(ctx, taskID)
		}
		return types.Task{}, err
	}

	if output == "" && errMsg == "" {
		return task, nil
	}

	updates := registry.TaskUpdate{}
	if output != "" {
		updates.Output = &output
	}
	if errMsg != "" {
		updates.Error = &errMsg
	}
	if err := c.registry.UpdateTask(ctx, taskID, updates); err != nil {
		return types.Task{}, fmt.Errorf("record output of task %s: %w", taskID, err)
	}

	return c.registry.GetTask(ctx, taskID)
}

// dispatch places a single pending task on an available worker. The session
// is started on the worker before the task is marked running, so a running
// task always has a live session behind it.
func (c *Controller) dispatch(ctx context.Context, taskID string) error {
	task, err := c.registry.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != types.TaskPending {
		return nil
	}

	workers, err := c.registry.AvailableWorkers(ctx)
	if err != nil {
		return fmt.Errorf("list available workers: %w", err)
	}

	worker, err := c.sched.SelectWorker(task, workers)
	if err != nil {
		return err
	}

	sessionID, err := c.signals.StartSession(ctx, *worker, task)
	if err != nil {
		return fmt.Errorf("start session on worker %s: %w", worker.WorkerID, err)
	}

	updates := registry.TaskUpdate{
		WorkerID:  &worker.WorkerID,
		SessionID: &sessionID,
	}
	if err := c.registry.UpdateTask(ctx, taskID, updates); err != nil {
		return fmt.Errorf("assign task %s to worker %s: %w", taskID, worker.WorkerID, err)
	}

	if _, err := c.registry.TransitionTask(ctx, taskID, []types.TaskStatus{types.TaskPending}, types.TaskRunning); err != nil {
		// the task was stopped while the session was being created
		if stopErr := c.signals.StopSession(ctx, *worker, sessionID); stopErr != nil {
			log.Warnf("could not stop orphaned session %s on worker %s: %v", sessionID, worker.WorkerID, stopErr)
		}
		return nil
	}

	sessions := worker.ActiveSessions + 1
	if err := c.registry.UpdateWorker(ctx, worker.WorkerID, registry.WorkerUpdate{ActiveSessions: &sessions}); err != nil {
		log.Warnf("could not update session count of worker %s: %v", worker.WorkerID, err)
	}

	log.Infof("task %s dispatched to worker %s (session %s)", taskID, worker.WorkerID, sessionID)
	return nil
}

// revert undoes an optimistic transition after a failed worker signal.
// Losing the revert race is fine, it means another caller already moved
// the task on, usually to stopped.
func (c *Controller) revert(ctx context.Context, taskID string, from, to types.TaskStatus) {
	if _, err := c.registry.TransitionTask(ctx, taskID, []types.TaskStatus{from}, to); err != nil {
		log.Warnf("could not revert task %s to %s: %v", taskID, to, err)
	}
}

func newTaskID() string {
	return "task_" + ulid.Make().String()
}
