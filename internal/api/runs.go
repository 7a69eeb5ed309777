package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/arctrany/ai-product-selector-sub007/internal/repository"
	"github.com/arctrany/ai-product-selector-sub007/internal/workflow"
)

// StartRunRequest is the body for POST /runs/start. ThreadID is optional:
// when present it is honored verbatim, otherwise the engine decides between
// resuming the latest paused run and minting a new thread id.
type StartRunRequest struct {
	FlowVersionID string         `json:"flow_version_id"`
	InputData     map[string]any `json:"input_data"`
	ThreadID      string         `json:"thread_id,omitempty"`
}

// StartRunResponse carries the thread id of the scheduled run.
type StartRunResponse struct {
	ThreadID string `json:"thread_id"`
}

// ResumeRunRequest is the body for POST /runs/:thread_id/resume.
type ResumeRunRequest struct {
	Updates map[string]any `json:"updates,omitempty"`
}

// ControlResponse reports whether a control request applied. A false applied
// means the run's current status made the request a no-op, not an error.
type ControlResponse struct {
	Applied bool `json:"applied"`
}

// StartRun creates or resumes a run.
// (POST /api/v1/runs/start)
func (s *Server) StartRun(c echo.Context) error {
	ctx := c.Request().Context()

	var req StartRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.FlowVersionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "flow_version_id is required")
	}

	threadID, err := s.Engine.StartWorkflow(ctx, req.FlowVersionID, req.InputData, req.ThreadID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Flow version not found")
	case errors.Is(err, workflow.ErrAlreadyRunning):
		return echo.NewHTTPError(http.StatusConflict, "Run is already running")
	case errors.Is(err, workflow.ErrRunTerminal):
		return echo.NewHTTPError(http.StatusConflict, "Run already reached a terminal status")
	case errors.Is(err, workflow.ErrQueueFull):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Worker queue is full")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusAccepted, StartRunResponse{ThreadID: threadID})
}

// GetRun returns the run status document.
// (GET /api/v1/runs/:thread_id)
func (s *Server) GetRun(c echo.Context) error {
	run, err := s.Store.GetRun(c.Request().Context(), c.Param("thread_id"))
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Run not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, run)
}

// PauseRun enqueues a pause request for a running run.
// (POST /api/v1/runs/:thread_id/pause)
func (s *Server) PauseRun(c echo.Context) error {
	applied, err := s.Engine.Pause(c.Request().Context(), c.Param("thread_id"))
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Run not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, ControlResponse{Applied: applied})
}

// ResumeRun relaunches a paused run, optionally merging updates first.
// (POST /api/v1/runs/:thread_id/resume)
func (s *Server) ResumeRun(c echo.Context) error {
	var req ResumeRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	applied, err := s.Engine.Resume(c.Request().Context(), c.Param("thread_id"), req.Updates)
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Run not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, ControlResponse{Applied: applied})
}

// CancelRun cancels a run: synchronously when paused, cooperatively when
// running.
// (DELETE /api/v1/runs/:thread_id)
func (s *Server) CancelRun(c echo.Context) error {
	reason := c.QueryParam("reason")
	if reason == "" {
		reason = "cancelled by operator"
	}

	applied, err := s.Engine.Cancel(c.Request().Context(), c.Param("thread_id"), reason)
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Run not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, ControlResponse{Applied: applied})
}
