package handlers

import (
	"net/http"

	"github.com/jordanlanch/entityhub/pkg/logger"
	"github.com/jordanlanch/entityhub/pkg/models"
	"github.com/jordanlanch/entityhub/pkg/relationships"
	"github.com/labstack/echo/v4"
)

// RelationshipHandler handles graph edges
type RelationshipHandler struct {
	base
	graph *relationships.Graph
}

// NewRelationshipHandler creates a new relationship handler
func NewRelationshipHandler(graph *relationships.Graph, log logger.Logger) *RelationshipHandler {
	return &RelationshipHandler{base: newBase(log), graph: graph}
}

// Link handles POST /relationships
func (h *RelationshipHandler) Link(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	var req models.LinkRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	rel, err := h.graph.Link(ctx, scope, req.SourceEntityID, req.TargetEntityID, req.RelationshipType, relationships.LinkOptions{
		Bidirectional: req.Bidirectional,
		StrengthScore: req.StrengthScore,
		Metadata:      req.Metadata,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, rel)
}

// Unlink handles DELETE /relationships
func (h *RelationshipHandler) Unlink(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	var req models.UnlinkRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	removed, err := h.graph.Unlink(ctx, scope, req.SourceEntityID, req.TargetEntityID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"removed": removed})
}
