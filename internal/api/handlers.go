// Package api contains the HTTP handlers for the orchestration service
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/arctrany/ai-product-selector-sub007/internal/logging"
	"github.com/arctrany/ai-product-selector-sub007/internal/repository"
	"github.com/arctrany/ai-product-selector-sub007/internal/workflow"
)

// Server holds the dependencies for the API server.
type Server struct {
	Store  repository.Store
	Engine *workflow.Engine
	Logger *logging.Logger
}

// NewServer creates a new Server.
func NewServer(store repository.Store, engine *workflow.Engine, logger *logging.Logger) *Server {
	return &Server{Store: store, Engine: engine, Logger: logger}
}

// RegisterRoutes mounts the control-plane surface on an echo group.
func (s *Server) RegisterRoutes(g *echo.Group) {
	g.POST("/flows", s.CreateFlow)
	g.GET("/flows", s.ListFlows)
	g.GET("/flows/:id", s.GetFlowVersion)
	g.POST("/flows/:id/publish", s.PublishFlowVersion)
	g.GET("/flows/:id/runs", s.ListRuns)
	g.POST("/runs/start", s.StartRun)
	g.GET("/runs/:thread_id", s.GetRun)
	g.POST("/runs/:thread_id/pause", s.PauseRun)
	g.POST("/runs/:thread_id/resume", s.ResumeRun)
	g.DELETE("/runs/:thread_id", s.CancelRun)
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// HandleHealth returns basic health status (always returns 200 OK)
func (s *Server) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "workflow-orchestrator",
		Version:   "1.0.0",
	})
}
