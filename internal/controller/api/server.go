package api

import (
	"github.com/labstack/echo/v4"

	"skiff/internal/controller/lifecycle"
	"skiff/internal/controller/registry"
)

// Server handles HTTP requests for the controller API.
type Server struct {
	registry  registry.Registry
	lifecycle *lifecycle.Controller
}

// NewServer creates a new API server with the given registry and lifecycle
// controller.
func NewServer(reg registry.Registry, lc *lifecycle.Controller) *Server {
	return &Server{
		registry:  reg,
		lifecycle: lc,
	}
}

// RegisterRoutes registers all API endpoints with the Echo router.
// Routes are grouped under /api/v1 for versioning.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	v1 := e.Group("/api/v1")

	// Task routes
	v1.PUT("/pause-task", s.PauseTask)
	v1.PUT("/resume-task", s.ResumeTask)
	v1.PUT("/stop-task", s.StopTask)
	v1.POST("/run-task", s.RunTask)
	v1.GET("/task/:id", s.GetTask)
	v1.GET("/task/:id/status", s.GetTaskStatus)
	v1.GET("/tasks", s.ListTasks)

	// Worker routes
	v1.POST("/workers/register", s.RegisterWorker)
	v1.POST("/workers/:id/heartbeat", s.WorkerHeartbeat)
	v1.GET("/workers", s.ListWorkers)
	v1.PUT("/internal/tasks/:id/status", s.ReportTaskStatus)
}
