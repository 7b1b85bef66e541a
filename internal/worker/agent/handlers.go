package agent

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// StartSessionRequest is the controller's request to open a browser
// session for a task.
type StartSessionRequest struct {
	TaskID string `json:"taskId"`
	Task   string `json:"task"`
}

// StartSession handles session launch requests from the controller.
// The browser container comes up in the background after the response.
func (s *Server) StartSession(c echo.Context) error {
	var req StartSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	if req.TaskID == "" || req.Task == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "taskId and task are required"})
	}

	sessionID, err := s.agent.StartSession(req.TaskID, req.Task)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusCreated, map[string]string{"sessionId": sessionID})
}

// PauseSession freezes a session. A 200 means the freeze took hold.
func (s *Server) PauseSession(c echo.Context) error {
	err := s.agent.PauseSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]string{})
}

// ResumeSession thaws a frozen session.
func (s *Server) ResumeSession(c echo.Context) error {
	err := s.agent.ResumeSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]string{})
}

// StopSession tears a session down.
func (s *Server) StopSession(c echo.Context) error {
	err := s.agent.StopSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]string{})
}

// GetSession returns the state of one session.
func (s *Server) GetSession(c echo.Context) error {
	session, ok := s.agent.GetSession(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}

	return c.JSON(http.StatusOK, session)
}

// ListSessions returns all live sessions on this worker.
func (s *Server) ListSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, s.agent.ListSessions())
}

// GetSessionLogs returns the browser container logs for a session.
func (s *Server) GetSessionLogs(c echo.Context) error {
	sessionID := c.Param("id")

	tail := 100
	if tailParam := c.QueryParam("tail"); tailParam != "" {
		parsed, err := strconv.Atoi(tailParam)
		if err != nil || parsed < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid tail parameter"})
		}
		tail = parsed
	}

	logs, err := s.agent.SessionLogs(c.Request().Context(), sessionID, tail)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]string{"sessionId": sessionID, "logs": logs})
}
