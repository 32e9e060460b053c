package handlers

import (
	"net/http"

	"github.com/jordanlanch/entityhub/pkg/customfields"
	"github.com/jordanlanch/entityhub/pkg/logger"
	"github.com/jordanlanch/entityhub/pkg/models"
	"github.com/labstack/echo/v4"
)

// CustomFieldsHandler handles custom field definitions and values
type CustomFieldsHandler struct {
	base
	registry *customfields.Registry
}

// NewCustomFieldsHandler creates a new custom fields handler
func NewCustomFieldsHandler(registry *customfields.Registry, log logger.Logger) *CustomFieldsHandler {
	return &CustomFieldsHandler{base: newBase(log), registry: registry}
}

// Create handles POST /custom-fields
func (h *CustomFieldsHandler) Create(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	var req models.CreateCustomFieldRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	def, err := h.registry.CreateCustomField(ctx, scope, req.EntityType, req.FieldSpec)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, def)
}

// Command handles POST /custom-fields/command
func (h *CustomFieldsHandler) Command(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	var req models.FieldCommandRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	def, err := h.registry.CreateFieldFromNaturalLanguage(ctx, scope, req.Command)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, def)
}

// List handles GET /custom-fields
func (h *CustomFieldsHandler) List(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	defs, err := h.registry.ListFields(ctx, scope, c.QueryParam("entity_type"), queryBool(c, "include_deleted"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": defs})
}

// Suggestions handles GET /custom-fields/suggestions
func (h *CustomFieldsHandler) Suggestions(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	entityType := c.QueryParam("entity_type")
	if entityType == "" {
		return h.fail(c, errEntityTypeRequired)
	}
	defs, err := h.registry.ListFields(ctx, scope, entityType, true)
	if err != nil {
		return h.fail(c, err)
	}
	keys := make([]string, len(defs))
	for i := range defs {
		keys[i] = defs[i].Key
	}
	return c.JSON(http.StatusOK, map[string]any{"data": customfields.SuggestFields(entityType, keys)})
}

// Delete handles DELETE /custom-fields/:id. With ?remove_data=true the
// values are stripped immediately.
func (h *CustomFieldsHandler) Delete(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	def, err := h.registry.DeleteCustomField(ctx, scope, c.Param("id"), queryBool(c, "remove_data"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, def)
}

// Restore handles POST /custom-fields/:id/restore
func (h *CustomFieldsHandler) Restore(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	def, err := h.registry.RestoreCustomField(ctx, scope, c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, def)
}

// SetValue handles PUT /entities/:id/fields/:field
func (h *CustomFieldsHandler) SetValue(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	var req models.SetFieldValueRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	e, err := h.registry.SetFieldValue(ctx, scope, c.Param("id"), c.Param("field"), req.Value)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, e)
}
