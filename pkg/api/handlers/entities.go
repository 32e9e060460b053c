package handlers

import (
	"net/http"
	"strings"

	apierrors "github.com/jordanlanch/entityhub/pkg/api/errors"
	"github.com/jordanlanch/entityhub/pkg/activity"
	"github.com/jordanlanch/entityhub/pkg/entities"
	"github.com/jordanlanch/entityhub/pkg/logger"
	"github.com/jordanlanch/entityhub/pkg/metrics"
	"github.com/jordanlanch/entityhub/pkg/models"
	"github.com/jordanlanch/entityhub/pkg/relationships"
	"github.com/labstack/echo/v4"
)

// dataFilterPrefix marks list query parameters that filter on data keys,
// e.g. ?data.status=open
const dataFilterPrefix = "data."

// EntityHandler handles generic entity operations
type EntityHandler struct {
	base
	store    *entities.Store
	graph    *relationships.Graph
	timeline *activity.Timeline
	metrics  *metrics.Metrics
}

// NewEntityHandler creates a new entity handler
func NewEntityHandler(store *entities.Store, graph *relationships.Graph, timeline *activity.Timeline, m *metrics.Metrics, log logger.Logger) *EntityHandler {
	return &EntityHandler{
		base:     newBase(log),
		store:    store,
		graph:    graph,
		timeline: timeline,
		metrics:  m,
	}
}

// Create handles POST /entities
func (h *EntityHandler) Create(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	var req models.CreateEntityRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	e, err := h.store.CreateRecord(ctx, scope, entities.CreateInput{
		Type:          req.Type,
		Data:          req.Data,
		Relationships: req.Relationships,
		Metadata:      req.Metadata,
		Shared:        req.Shared,
	})
	if err != nil {
		return h.fail(c, err)
	}
	h.metrics.RecordEntityCreated(e.Type)

	return c.JSON(http.StatusCreated, e)
}

// List handles GET /entities
func (h *EntityHandler) List(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	limit, offset := page(c)
	opts := entities.FindOptions{
		Scope:          scope,
		Types:          queryList(c, "type"),
		Search:         c.QueryParam("search"),
		OrderBy:        c.QueryParam("order_by"),
		OrderDirection: c.QueryParam("order"),
		Limit:          limit,
		Offset:         offset,
		IncludeDeleted: queryBool(c, "include_deleted"),
		OnlyDeleted:    queryBool(c, "only_deleted"),
	}
	for name, values := range c.QueryParams() {
		if key, ok := strings.CutPrefix(name, dataFilterPrefix); ok && len(values) > 0 {
			if opts.Where == nil {
				opts.Where = map[string]any{}
			}
			opts.Where[key] = values[0]
		}
	}

	found, err := h.store.Find(ctx, opts)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusOK, models.EntityListResponse{Data: found, Limit: limit, Offset: offset})
}

// Get handles GET /entities/:id
func (h *EntityHandler) Get(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	e, err := h.store.FindByID(ctx, scope, c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, e)
}

// Update handles PATCH /entities/:id
func (h *EntityHandler) Update(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	var req models.UpdateEntityRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	e, err := h.store.UpdateRecord(ctx, scope, c.Param("id"), entities.UpdateInput{
		Data:          req.Data,
		Relationships: req.Relationships,
		Metadata:      req.Metadata,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, e)
}

// Delete handles DELETE /entities/:id. With ?purge=true the entity and its
// edges are removed at once instead of moving to the trash.
func (h *EntityHandler) Delete(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	var err error
	if queryBool(c, "purge") {
		err = h.store.PurgeRecord(ctx, scope, c.Param("id"))
	} else {
		err = h.store.DeleteRecord(ctx, scope, c.Param("id"))
	}
	if err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Restore handles POST /entities/:id/restore
func (h *EntityHandler) Restore(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	e, err := h.store.RestoreRecord(ctx, scope, c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, e)
}

// Related handles GET /entities/:id/related
func (h *EntityHandler) Related(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	found, err := h.graph.FindRelated(ctx, scope, c.Param("id"), c.QueryParam("relationship_type"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": found})
}

// Timeline handles GET /entities/:id/timeline
func (h *EntityHandler) Timeline(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	f, err := timelineFilter(c)
	if err != nil {
		return apierrors.ValidationError(c, err.Error())
	}
	events, err := h.timeline.GetEntityTimeline(ctx, scope, c.Param("id"), f)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": events})
}
