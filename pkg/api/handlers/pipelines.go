package handlers

import (
	"net/http"

	apierrors "github.com/jordanlanch/entityhub/pkg/api/errors"
	"github.com/jordanlanch/entityhub/pkg/domain"
	"github.com/jordanlanch/entityhub/pkg/logger"
	"github.com/jordanlanch/entityhub/pkg/models"
	"github.com/jordanlanch/entityhub/pkg/pipeline"
	"github.com/labstack/echo/v4"
)

// PipelineHandler handles pipelines and deals
type PipelineHandler struct {
	base
	engine *pipeline.Engine
}

// NewPipelineHandler creates a new pipeline handler
func NewPipelineHandler(engine *pipeline.Engine, log logger.Logger) *PipelineHandler {
	return &PipelineHandler{base: newBase(log), engine: engine}
}

// Create handles POST /pipelines
func (h *PipelineHandler) Create(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	var req models.CreatePipelineRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	p, err := h.engine.CreatePipeline(ctx, scope, req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

// List handles GET /pipelines
func (h *PipelineHandler) List(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	pipelines, err := h.engine.ListPipelines(ctx, scope)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": pipelines})
}

// Update handles PATCH /pipelines/:id
func (h *PipelineHandler) Update(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	var req models.UpdatePipelineRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	p, err := h.engine.UpdatePipeline(ctx, scope, c.Param("id"), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

// Delete handles DELETE /pipelines/:id?migrate_to=. When some deals could not
// be migrated the pipeline is kept and the per-deal outcome is returned with
// the conflict.
func (h *PipelineHandler) Delete(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	result, err := h.engine.DeletePipeline(ctx, scope, c.Param("id"), c.QueryParam("migrate_to"))
	if err != nil {
		if result != nil && domain.IsConflict(err) {
			return c.JSON(http.StatusConflict, map[string]any{
				"error":   "conflict",
				"message": apierrors.Message(err),
				"details": domain.GetDetails(err),
				"result":  result,
			})
		}
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// Stats handles GET /pipelines/:id/stats
func (h *PipelineHandler) Stats(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	stats, err := h.engine.GetPipelineStats(ctx, scope, c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// Rotten handles GET /pipelines/:id/rotten
func (h *PipelineHandler) Rotten(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	deals, err := h.engine.RottenDeals(ctx, scope, c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": deals})
}

// CreateDeal handles POST /deals
func (h *PipelineHandler) CreateDeal(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	var req models.CreateDealRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	deal, err := h.engine.CreateDeal(ctx, scope, req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, deal)
}

// MoveDeal handles POST /deals/:id/move
func (h *PipelineHandler) MoveDeal(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	var req models.MoveDealRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	deal, err := h.engine.MoveDealToStage(ctx, scope, c.Param("id"), req.Stage, req.PipelineID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, deal)
}
