package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"

	"skiff/internal/controller/registry"
	"skiff/internal/types"
)

// RegisterWorkerRequest represents a worker agent announcing itself to the
// controller.
type RegisterWorkerRequest struct {
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
	Capacity int    `json:"capacity"`
}

// WorkerHeartbeatRequest carries a worker's periodic liveness report.
type WorkerHeartbeatRequest struct {
	ActiveSessions *int `json:"activeSessions"`
}

// ReportTaskStatusRequest represents a worker reporting progress of a task
// it executes.
type ReportTaskStatusRequest struct {
	Status types.TaskStatus `json:"status"`
	Output string           `json:"output"`
	Error  string           `json:"error"`
}

// RegisterWorker handles POST /api/v1/workers/register.
// Registers a new worker agent with the controller.
func (s *Server) RegisterWorker(c echo.Context) error {
	var req RegisterWorkerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	if req.Hostname == "" || req.Port == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "hostname and port are required"})
	}

	worker := types.Worker{
		WorkerID:      newWorkerID(),
		Hostname:      req.Hostname,
		Port:          req.Port,
		Status:        types.WorkerOnline,
		Capacity:      req.Capacity,
		LastHeartbeat: time.Now().UTC(),
	}

	if err := s.registry.AddWorker(c.Request().Context(), worker); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusCreated, worker)
}

// WorkerHeartbeat handles POST /api/v1/workers/:id/heartbeat.
// Refreshes the worker's liveness and its reported session count.
func (s *Server) WorkerHeartbeat(c echo.Context) error {
	workerID := c.Param("id")

	var req WorkerHeartbeatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	now := time.Now().UTC()
	update := registry.WorkerUpdate{
		Status:        ptrTo(types.WorkerOnline),
		LastHeartbeat: &now,
	}
	if req.ActiveSessions != nil {
		update.ActiveSessions = req.ActiveSessions
	}

	if err := s.registry.UpdateWorker(c.Request().Context(), workerID, update); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "worker not found"})
	}

	worker, _ := s.registry.GetWorker(c.Request().Context(), workerID)
	return c.JSON(http.StatusOK, worker)
}

// ListWorkers handles GET /api/v1/workers.
// Returns all registered workers with status adjusted for stale heartbeats.
func (s *Server) ListWorkers(c echo.Context) error {
	workers, err := s.registry.ListWorkers(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	now := time.Now()
	heartbeatTimeout := 90 * time.Second

	for i := range workers {
		if workers[i].LastHeartbeat.Add(heartbeatTimeout).Before(now) {
			workers[i].Status = types.WorkerOffline
		}
	}

	return c.JSON(http.StatusOK, workers)
}

// ReportTaskStatus handles PUT /api/v1/internal/tasks/:id/status.
// Ingests a status report from the worker executing the task.
func (s *Server) ReportTaskStatus(c echo.Context) error {
	taskID := c.Param("id")

	var req ReportTaskStatusRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	if !req.Status.Valid() {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown status"})
	}

	task, err := s.lifecycle.ReportStatus(c.Request().Context(), taskID, req.Status, req.Output, req.Error)
	if err != nil {
		var transitionErr *registry.InvalidTransitionError
		switch {
		case errors.Is(err, registry.ErrTaskNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "task not found"})
		case errors.As(err, &transitionErr):
			return c.JSON(http.StatusConflict, map[string]string{"error": transitionErr.Error()})
		default:
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
	}

	return c.JSON(http.StatusOK, task)
}

func newWorkerID() string {
	return "wrk_" + ulid.Make().String()
}

func ptrTo[T any](v T) *T {
	return &v
}
