package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"skiff/internal/types"
)

func TestAddAndGetTask(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	task := types.Task{
		TaskID:       "task_1",
		Instructions: "open example.com and extract the page title",
		Status:       types.TaskPending,
		CreatedAt:    time.Now(),
	}

	err := reg.AddTask(ctx, task)
	if err != nil {
		t.Fatalf("Failed to add task: %v", err)
	}

	retrieved, err := reg.GetTask(ctx, "task_1")
	if err != nil {
		t.Fatalf("Failed to get task: %v", err)
	}

	if retrieved.TaskID != task.TaskID {
		t.Errorf("Expected task ID %s, got %s", task.TaskID, retrieved.TaskID)
	}
	if retrieved.Instructions != task.Instructions {
		t.Errorf("Expected instructions %s, got %s", task.Instructions, retrieved.Instructions)
	}
	if retrieved.Status != task.Status {
		t.Errorf("Expected status %s, got %s", task.Status, retrieved.Status)
	}
}

func TestAddDuplicateTask(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	task := types.Task{
		TaskID:       "task_1",
		Instructions: "open example.com",
		Status:       types.TaskPending,
		CreatedAt:    time.Now(),
	}

	err := reg.AddTask(ctx, task)
	if err != nil {
		t.Fatalf("Failed to add task first time: %v", err)
	}

	err = reg.AddTask(ctx, task)
	if err != ErrTaskAlreadyExists {
		t.Errorf("Expected ErrTaskAlreadyExists, got %v", err)
	}
}

func TestGetNonexistentTask(t *testing.T) {
	reg := NewMemoryRegistry()

	_, err := reg.GetTask(context.Background(), "nonexistent")
	if err != ErrTaskNotFound {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
}

func TestUpdateTask(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	task := types.Task{
		TaskID:       "task_1",
		Instructions: "open example.com",
		Status:       types.TaskPending,
		CreatedAt:    time.Now(),
	}

	err := reg.AddTask(ctx, task)
	if err != nil {
		t.Fatalf("Failed to add task: %v", err)
	}

	workerID := "wrk_1"
	sessionID := "ses_1"
	output := "page title: Example Domain"

	updates := TaskUpdate{
		WorkerID:  &workerID,
		SessionID: &sessionID,
		Output:    &output,
	}

	err = reg.UpdateTask(ctx, "task_1", updates)
	if err != nil {
		t.Fatalf("Failed to update task: %v", err)
	}

	updated, err := reg.GetTask(ctx, "task_1")
	if err != nil {
		t.Fatalf("Failed to get updated task: %v", err)
	}

	if updated.WorkerID != workerID {
		t.Errorf("Expected worker ID %s, got %s", workerID, updated.WorkerID)
	}
	if updated.SessionID != sessionID {
		t.Errorf("Expected session ID %s, got %s", sessionID, updated.SessionID)
	}
	if updated.Output != output {
		t.Errorf("Expected output %s, got %s", output, updated.Output)
	}
}

func TestUpdateNonexistentTask(t *testing.T) {
	reg := NewMemoryRegistry()

	newStatus := types.TaskRunning
	updates := TaskUpdate{
		Status: &newStatus,
	}

	err := reg.UpdateTask(context.Background(), "nonexistent", updates)
	if err != ErrTaskNotFound {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
}

func TestListTasks(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	tasks := []types.Task{
		{
			TaskID:       "task_1",
			Instructions: "open example.com",
			Status:       types.TaskPending,
			CreatedAt:    time.Now().Add(-2 * time.Minute),
		},
		{
			TaskID:       "task_2",
			Instructions: "log in to the dashboard",
			Status:       types.TaskRunning,
			CreatedAt:    time.Now().Add(-1 * time.Minute),
		},
		{
			TaskID:       "task_3",
			Instructions: "download the report",
			Status:       types.TaskRunning,
			CreatedAt:    time.Now(),
		},
	}

	for _, task := range tasks {
		err := reg.AddTask(ctx, task)
		if err != nil {
			t.Fatalf("Failed to add task %s: %v", task.TaskID, err)
		}
	}

	all, err := reg.ListTasks(ctx, TaskFilter{})
	if err != nil {
		t.Fatalf("Failed to list tasks: %v", err)
	}
	if len(all) != len(tasks) {
		t.Errorf("Expected %d tasks, got %d", len(tasks), len(all))
	}
	if all[0].TaskID != "task_3" {
		t.Errorf("Expected newest task first, got %s", all[0].TaskID)
	}

	running, err := reg.ListTasks(ctx, TaskFilter{Status: types.TaskRunning})
	if err != nil {
		t.Fatalf("Failed to list running tasks: %v", err)
	}
	if len(running) != 2 {
		t.Errorf("Expected 2 running tasks, got %d", len(running))
	}
	for _, task := range running {
		if task.Status != types.TaskRunning {
			t.Errorf("Expected only running tasks, got %s with status %s", task.TaskID, task.Status)
		}
	}
}

func TestTransitionTask(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	startedAt := time.Now().Add(-time.Minute)
	task := types.Task{
		TaskID:       "task_1",
		Instructions: "open example.com",
		Status:       types.TaskRunning,
		CreatedAt:    time.Now().Add(-2 * time.Minute),
		StartedAt:    &startedAt,
	}

	err := reg.AddTask(ctx, task)
	if err != nil {
		t.Fatalf("Failed to add task: %v", err)
	}

	paused, err := reg.TransitionTask(ctx, "task_1", []types.TaskStatus{types.TaskRunning}, types.TaskPaused)
	if err != nil {
		t.Fatalf("Failed to pause task: %v", err)
	}

	if paused.Status != types.TaskPaused {
		t.Errorf("Expected status %s, got %s", types.TaskPaused, paused.Status)
	}
	if paused.PausedAt == nil {
		t.Error("Expected PausedAt to be set")
	}

	resumed, err := reg.TransitionTask(ctx, "task_1", []types.TaskStatus{types.TaskPaused}, types.TaskRunning)
	if err != nil {
		t.Fatalf("Failed to resume task: %v", err)
	}

	if resumed.Status != types.TaskRunning {
		t.Errorf("Expected status %s, got %s", types.TaskRunning, resumed.Status)
	}
	if resumed.PausedAt != nil {
		t.Error("Expected PausedAt to be cleared after resume")
	}
	if resumed.StartedAt == nil || !resumed.StartedAt.Equal(startedAt) {
		t.Errorf("Expected StartedAt to survive the pause cycle, got %v", resumed.StartedAt)
	}
}

func TestTransitionTaskSetsFinishedAt(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	task := types.Task{
		TaskID:       "task_1",
		Instructions: "open example.com",
		Status:       types.TaskRunning,
		CreatedAt:    time.Now(),
	}

	err := reg.AddTask(ctx, task)
	if err != nil {
		t.Fatalf("Failed to add task: %v", err)
	}

	stopped, err := reg.TransitionTask(ctx, "task_1", []types.TaskStatus{types.TaskRunning, types.TaskPaused}, types.TaskStopped)
	if err != nil {
		t.Fatalf("Failed to stop task: %v", err)
	}

	if stopped.Status != types.TaskStopped {
		t.Errorf("Expected status %s, got %s", types.TaskStopped, stopped.Status)
	}
	if stopped.FinishedAt == nil {
		t.Error("Expected FinishedAt to be set")
	}
}

func TestTransitionTaskWrongStatus(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	task := types.Task{
		TaskID:       "task_1",
		Instructions: "open example.com",
		Status:       types.TaskStopped,
		CreatedAt:    time.Now(),
	}

	err := reg.AddTask(ctx, task)
	if err != nil {
		t.Fatalf("Failed to add task: %v", err)
	}

	_, err = reg.TransitionTask(ctx, "task_1", []types.TaskStatus{types.TaskRunning}, types.TaskPaused)
	if err == nil {
		t.Fatal("Expected error transitioning a stopped task")
	}

	var invalidErr *InvalidTransitionError
	if !errors.As(err, &invalidErr) {
		t.Fatalf("Expected InvalidTransitionError, got %v", err)
	}
	if invalidErr.Current != types.TaskStopped {
		t.Errorf("Expected current status %s, got %s", types.TaskStopped, invalidErr.Current)
	}
	if invalidErr.Target != types.TaskPaused {
		t.Errorf("Expected target status %s, got %s", types.TaskPaused, invalidErr.Target)
	}

	unchanged, err := reg.GetTask(ctx, "task_1")
	if err != nil {
		t.Fatalf("Failed to get task: %v", err)
	}
	if unchanged.Status != types.TaskStopped {
		t.Errorf("Expected status to stay %s, got %s", types.TaskStopped, unchanged.Status)
	}
}

func TestTransitionTaskIllegalEdge(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	task := types.Task{
		TaskID:       "task_1",
		Instructions: "open example.com",
		Status:       types.TaskStopped,
		CreatedAt:    time.Now(),
	}

	err := reg.AddTask(ctx, task)
	if err != nil {
		t.Fatalf("Failed to add task: %v", err)
	}

	// stopped is terminal, so even naming it in from must not move the task
	_, err = reg.TransitionTask(ctx, "task_1", []types.TaskStatus{types.TaskStopped}, types.TaskRunning)

	var invalidErr *InvalidTransitionError
	if !errors.As(err, &invalidErr) {
		t.Fatalf("Expected InvalidTransitionError, got %v", err)
	}
}

func TestTransitionNonexistentTask(t *testing.T) {
	reg := NewMemoryRegistry()

	_, err := reg.TransitionTask(context.Background(), "nonexistent", []types.TaskStatus{types.TaskRunning}, types.TaskPaused)
	if err != ErrTaskNotFound {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
}

func TestConcurrentTransitionSingleWinner(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	task := types.Task{
		TaskID:       "task_1",
		Instructions: "open example.com",
		Status:       types.TaskRunning,
		CreatedAt:    time.Now(),
	}

	err := reg.AddTask(ctx, task)
	if err != nil {
		t.Fatalf("Failed to add task: %v", err)
	}

	var wg sync.WaitGroup
	numGoroutines := 10
	results := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := reg.TransitionTask(ctx, "task_1", []types.TaskStatus{types.TaskRunning}, types.TaskPaused)
			results <- err
		}()
	}

	wg.Wait()
	close(results)

	winners := 0
	losers := 0
	for err := range results {
		if err == nil {
			winners++
			continue
		}
		var invalidErr *InvalidTransitionError
		if !errors.As(err, &invalidErr) {
			t.Errorf("Expected InvalidTransitionError for losers, got %v", err)
		}
		losers++
	}

	if winners != 1 {
		t.Errorf("Expected exactly 1 winning transition, got %d", winners)
	}
	if losers != numGoroutines-1 {
		t.Errorf("Expected %d losing transitions, got %d", numGoroutines-1, losers)
	}
}

func TestAddAndGetWorker(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	worker := types.Worker{
		WorkerID:      "wrk_1",
		Hostname:      "192.168.1.100",
		Port:          8081,
		Status:        types.WorkerOnline,
		Capacity:      4,
		LastHeartbeat: time.Now(),
	}

	err := reg.AddWorker(ctx, worker)
	if err != nil {
		t.Fatalf("Failed to add worker: %v", err)
	}

	retrieved, err := reg.GetWorker(ctx, "wrk_1")
	if err != nil {
		t.Fatalf("Failed to get worker: %v", err)
	}

	if retrieved.WorkerID != worker.WorkerID {
		t.Errorf("Expected worker ID %s, got %s", worker.WorkerID, retrieved.WorkerID)
	}
	if retrieved.Hostname != worker.Hostname {
		t.Errorf("Expected hostname %s, got %s", worker.Hostname, retrieved.Hostname)
	}
}

func TestAddDuplicateWorker(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	worker := types.Worker{
		WorkerID:      "wrk_1",
		Hostname:      "192.168.1.100",
		Port:          8081,
		Status:        types.WorkerOnline,
		LastHeartbeat: time.Now(),
	}

	err := reg.AddWorker(ctx, worker)
	if err != nil {
		t.Fatalf("Failed to add worker first time: %v", err)
	}

	err = reg.AddWorker(ctx, worker)
	if err != ErrWorkerAlreadyExists {
		t.Errorf("Expected ErrWorkerAlreadyExists, got %v", err)
	}
}

func TestUpdateWorker(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	worker := types.Worker{
		WorkerID:       "wrk_1",
		Hostname:       "192.168.1.100",
		Port:           8081,
		Status:         types.WorkerOnline,
		ActiveSessions: 0,
		Capacity:       4,
		LastHeartbeat:  time.Now(),
	}

	err := reg.AddWorker(ctx, worker)
	if err != nil {
		t.Fatalf("Failed to add worker: %v", err)
	}

	activeSessions := 2
	heartbeat := time.Now()
	updates := WorkerUpdate{
		ActiveSessions: &activeSessions,
		LastHeartbeat:  &heartbeat,
	}

	err = reg.UpdateWorker(ctx, "wrk_1", updates)
	if err != nil {
		t.Fatalf("Failed to update worker: %v", err)
	}

	updated, err := reg.GetWorker(ctx, "wrk_1")
	if err != nil {
		t.Fatalf("Failed to get updated worker: %v", err)
	}

	if updated.ActiveSessions != activeSessions {
		t.Errorf("Expected active sessions %d, got %d", activeSessions, updated.ActiveSessions)
	}
}

func TestUpdateNonexistentWorker(t *testing.T) {
	reg := NewMemoryRegistry()

	activeSessions := 2
	updates := WorkerUpdate{
		ActiveSessions: &activeSessions,
	}

	err := reg.UpdateWorker(context.Background(), "nonexistent", updates)
	if err != ErrWorkerNotFound {
		t.Errorf("Expected ErrWorkerNotFound, got %v", err)
	}
}

func TestAvailableWorkers(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	workers := []types.Worker{
		{
			WorkerID:       "wrk_1",
			Hostname:       "192.168.1.100",
			Port:           8081,
			Status:         types.WorkerOnline,
			ActiveSessions: 1,
			Capacity:       4,
			LastHeartbeat:  time.Now(),
		},
		{
			WorkerID:       "wrk_2",
			Hostname:       "192.168.1.101",
			Port:           8082,
			Status:         types.WorkerOffline,
			ActiveSessions: 0,
			Capacity:       4,
			LastHeartbeat:  time.Now().Add(-2 * time.Minute),
		},
		{
			WorkerID:       "wrk_3",
			Hostname:       "192.168.1.102",
			Port:           8083,
			Status:         types.WorkerOnline,
			ActiveSessions: 4,
			Capacity:       4,
			LastHeartbeat:  time.Now(),
		},
	}

	for _, worker := range workers {
		err := reg.AddWorker(ctx, worker)
		if err != nil {
			t.Fatalf("Failed to add worker %s: %v", worker.WorkerID, err)
		}
	}

	available, err := reg.AvailableWorkers(ctx)
	if err != nil {
		t.Fatalf("Failed to get available workers: %v", err)
	}

	// wrk_2 is offline and wrk_3 is full
	if len(available) != 1 {
		t.Fatalf("Expected 1 available worker, got %d", len(available))
	}
	if available[0].WorkerID != "wrk_1" {
		t.Errorf("Expected wrk_1, got %s", available[0].WorkerID)
	}
}

func TestConcurrentAccess(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	var wg sync.WaitGroup
	numGoroutines := 10

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			task := types.Task{
				TaskID:       fmt.Sprintf("task_%d", id),
				Instructions: "open example.com",
				Status:       types.TaskPending,
				CreatedAt:    time.Now(),
			}

			err := reg.AddTask(ctx, task)
			if err != nil && err != ErrTaskAlreadyExists {
				t.Errorf("Unexpected error adding task: %v", err)
			}
		}(i)
	}

	wg.Wait()

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := reg.ListTasks(ctx, TaskFilter{})
			if err != nil {
				t.Errorf("Error listing tasks: %v", err)
			}
		}()
	}

	wg.Wait()
}
