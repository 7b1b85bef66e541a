package agent

import (
	"github.com/labstack/echo/v4"
)

// Server handles HTTP requests for the worker agent.
type Server struct {
	agent *Agent
}

// NewServer creates a new worker API server.
func NewServer(agent *Agent) *Server {
	return &Server{agent: agent}
}

// RegisterRoutes registers all worker API endpoints.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	v1 := e.Group("/api/v1")

	v1.POST("/sessions", s.StartSession)
	v1.GET("/sessions", s.ListSessions)
	v1.GET("/sessions/:id", s.GetSession)
	v1.GET("/sessions/:id/logs", s.GetSessionLogs)
	v1.PUT("/sessions/:id/pause", s.PauseSession)
	v1.PUT("/sessions/:id/resume", s.ResumeSession)
	v1.PUT("/sessions/:id/stop", s.StopSession)
}
