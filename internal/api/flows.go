package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/arctrany/ai-product-selector-sub007/internal/repository"
	"github.com/arctrany/ai-product-selector-sub007/internal/workflow"
	"github.com/arctrany/ai-product-selector-sub007/pkg/models"
)

// CreateFlowRequest is the body for POST /flows.
type CreateFlowRequest struct {
	Name       string            `json:"name"`
	Definition models.Definition `json:"definition"`
}

// CreateFlowResponse returns the ids of the created entities.
type CreateFlowResponse struct {
	FlowID        string `json:"flow_id"`
	FlowVersionID string `json:"flow_version_id"`
	Version       int    `json:"version"`
}

// CreateFlow creates a new draft flow version from a declarative definition.
// The definition is compiled first, so a malformed graph is rejected before
// anything is persisted.
// (POST /api/v1/flows)
func (s *Server) CreateFlow(c echo.Context) error {
	ctx := c.Request().Context()

	var req CreateFlowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Flow name is required")
	}

	if _, err := workflow.Compile(req.Definition); err != nil {
		var verr *workflow.ValidationError
		if errors.As(err, &verr) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, verr.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	flow, err := s.Store.GetFlowByName(ctx, req.Name)
	if errors.Is(err, repository.ErrNotFound) {
		flow = &models.Flow{ID: uuid.New().String(), Name: req.Name}
		if err := s.Store.CreateFlow(ctx, flow); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to create flow: "+err.Error())
		}
	} else if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	version := 1
	if latest, err := s.Store.LatestFlowVersion(ctx, flow.ID); err == nil {
		version = latest.Version + 1
	} else if !errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	fv := &models.FlowVersion{
		ID:         uuid.New().String(),
		FlowID:     flow.ID,
		Version:    version,
		Status:     models.FlowVersionStatusDraft,
		Definition: req.Definition,
	}
	if err := s.Store.CreateFlowVersion(ctx, fv); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save flow version: "+err.Error())
	}

	return c.JSON(http.StatusCreated, CreateFlowResponse{
		FlowID:        flow.ID,
		FlowVersionID: fv.ID,
		Version:       fv.Version,
	})
}

// ListFlows returns all flow concepts.
// (GET /api/v1/flows)
func (s *Server) ListFlows(c echo.Context) error {
	flows, err := s.Store.ListFlows(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, flows)
}

// GetFlowVersion returns a flow version document including its definition.
// (GET /api/v1/flows/:id)
func (s *Server) GetFlowVersion(c echo.Context) error {
	fv, err := s.Store.GetFlowVersion(c.Request().Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Flow version not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, fv)
}

// PublishFlowVersion transitions a draft version to published.
// (POST /api/v1/flows/:id/publish)
func (s *Server) PublishFlowVersion(c echo.Context) error {
	published, err := s.Store.PublishFlowVersion(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !published {
		return echo.NewHTTPError(http.StatusConflict, "Flow version is not in draft")
	}
	return c.NoContent(http.StatusNoContent)
}

// ListRuns returns all runs for a flow version, newest first.
// (GET /api/v1/flows/:id/runs)
func (s *Server) ListRuns(c echo.Context) error {
	runs, err := s.Store.ListRunsForVersion(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, runs)
}
