package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"skiff/internal/controller/registry"
	"skiff/internal/controller/signal"
	"skiff/internal/types"
)

// TaskQuery carries the task_id query parameter shared by the task
// lifecycle endpoints.
type TaskQuery struct {
	TaskID string `query:"task_id" validate:"required"`
}

// RunTaskRequest represents a request to run a new browser task.
type RunTaskRequest struct {
	Instructions string `json:"task" validate:"required"`
}

// ListTasksQuery carries the optional status filter for task listing.
type ListTasksQuery struct {
	Status string `query:"status" validate:"omitempty,oneof=pending running paused stopped finished failed"`
}

// ValidationError is one entry of the detail array in a 422 response.
// Loc names the request plane (query or body) and the offending parameter.
type ValidationError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// PauseTask handles PUT /api/v1/pause-task.
// Freezes the running task named by the task_id query parameter; the call
// returns once the owning worker acknowledged the suspension.
func (s *Server) PauseTask(c echo.Context) error {
	var q TaskQuery
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &q); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "invalid request"})
	}
	if err := c.Validate(&q); err != nil {
		return validationFailed(c, "query", err)
	}

	if _, err := s.lifecycle.Pause(c.Request().Context(), q.TaskID); err != nil {
		return lifecycleError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]string{})
}

// ResumeTask handles PUT /api/v1/resume-task.
// Continues a paused task; stopped tasks stay stopped and yield a conflict.
func (s *Server) ResumeTask(c echo.Context) error {
	var q TaskQuery
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &q); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "invalid request"})
	}
	if err := c.Validate(&q); err != nil {
		return validationFailed(c, "query", err)
	}

	if _, err := s.lifecycle.Resume(c.Request().Context(), q.TaskID); err != nil {
		return lifecycleError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]string{})
}

// StopTask handles PUT /api/v1/stop-task.
// Terminally stops a pending, running or paused task.
func (s *Server) StopTask(c echo.Context) error {
	var q TaskQuery
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &q); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "invalid request"})
	}
	if err := c.Validate(&q); err != nil {
		return validationFailed(c, "query", err)
	}

	if _, err := s.lifecycle.Stop(c.Request().Context(), q.TaskID); err != nil {
		return lifecycleError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]string{})
}

// RunTask handles POST /api/v1/run-task.
// Registers a new task and places it on a worker when one has capacity.
func (s *Server) RunTask(c echo.Context) error {
	var req RunTaskRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "invalid request"})
	}
	if err := c.Validate(&req); err != nil {
		return validationFailed(c, "body", err)
	}

	task, err := s.lifecycle.Run(c.Request().Context(), req.Instructions)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"detail": err.Error()})
	}

	return c.JSON(http.StatusCreated, task)
}

// GetTask handles GET /api/v1/task/:id.
// Returns the full task record.
func (s *Server) GetTask(c echo.Context) error {
	task, err := s.registry.GetTask(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"detail": "task not found"})
	}

	return c.JSON(http.StatusOK, task)
}

// GetTaskStatus handles GET /api/v1/task/:id/status.
// Returns just the task's current status as a JSON string.
func (s *Server) GetTaskStatus(c echo.Context) error {
	task, err := s.registry.GetTask(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"detail": "task not found"})
	}

	return c.JSON(http.StatusOK, task.Status)
}

// ListTasks handles GET /api/v1/tasks.
// Returns all tasks, optionally narrowed to one status.
func (s *Server) ListTasks(c echo.Context) error {
	var q ListTasksQuery
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &q); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "invalid request"})
	}
	if err := c.Validate(&q); err != nil {
		return validationFailed(c, "query", err)
	}

	filter := registry.TaskFilter{Status: types.TaskStatus(q.Status)}
	tasks, err := s.registry.ListTasks(c.Request().Context(), filter)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"detail": err.Error()})
	}

	return c.JSON(http.StatusOK, tasks)
}

// lifecycleError maps controller errors onto the public error contract:
// unknown task 404, state conflict 409, unreachable or refusing worker 502.
func lifecycleError(c echo.Context, err error) error {
	var transitionErr *registry.InvalidTransitionError

	switch {
	case errors.Is(err, registry.ErrTaskNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"detail": "task not found"})
	case errors.As(err, &transitionErr):
		return c.JSON(http.StatusConflict, map[string]string{"detail": transitionErr.Error()})
	case errors.Is(err, signal.ErrWorkerUnresponsive):
		return c.JSON(http.StatusBadGateway, map[string]string{"detail": "worker unresponsive"})
	case errors.Is(err, signal.ErrSessionRejected):
		return c.JSON(http.StatusBadGateway, map[string]string{"detail": "worker rejected the signal"})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"detail": err.Error()})
	}
}

// validationFailed renders a 422 with one detail entry per failed field.
// in names the request plane the fields came from, query or body.
func validationFailed(c echo.Context, in string, err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "invalid request"})
	}

	details := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, fieldError(in, fe))
	}

	return c.JSON(http.StatusUnprocessableEntity, map[string][]ValidationError{"detail": details})
}

func fieldError(in string, fe validator.FieldError) ValidationError {
	loc := []string{in, fe.Field()}

	switch fe.Tag() {
	case "required":
		return ValidationError{Loc: loc, Msg: "field required", Type: "value_error.missing"}
	case "oneof":
		permitted := strings.Split(fe.Param(), " ")
		for i := range permitted {
			permitted[i] = "'" + permitted[i] + "'"
		}
		return ValidationError{
			Loc:  loc,
			Msg:  "value is not a valid enumeration member; permitted: " + strings.Join(permitted, ", "),
			Type: "type_error.enum",
		}
	default:
		return ValidationError{Loc: loc, Msg: fe.Error(), Type: "value_error"}
	}
}
