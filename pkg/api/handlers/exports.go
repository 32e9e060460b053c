package handlers

import (
	"net/http"

	"github.com/jordanlanch/entityhub/pkg/export"
	"github.com/jordanlanch/entityhub/pkg/logger"
	"github.com/jordanlanch/entityhub/pkg/models"
	"github.com/labstack/echo/v4"
)

// ExportHandler handles spreadsheet exports
type ExportHandler struct {
	base
	service *export.Service
}

// NewExportHandler creates a new export handler
func NewExportHandler(service *export.Service, log logger.Logger) *ExportHandler {
	return &ExportHandler{base: newBase(log), service: service}
}

// Create handles POST /exports
func (h *ExportHandler) Create(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	var req models.ExportRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	res, err := h.service.CreateExport(ctx, scope, req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}
