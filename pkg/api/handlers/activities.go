package handlers

import (
	"fmt"
	"net/http"

	"github.com/jordanlanch/entityhub/pkg/activity"
	apierrors "github.com/jordanlanch/entityhub/pkg/api/errors"
	"github.com/jordanlanch/entityhub/pkg/logger"
	"github.com/jordanlanch/entityhub/pkg/models"
	"github.com/labstack/echo/v4"
)

const (
	defaultWindowDays = 30
	defaultTopN       = 5
)

// ActivityHandler handles the activity timeline
type ActivityHandler struct {
	base
	timeline *activity.Timeline
}

// NewActivityHandler creates a new activity handler
func NewActivityHandler(timeline *activity.Timeline, log logger.Logger) *ActivityHandler {
	return &ActivityHandler{base: newBase(log), timeline: timeline}
}

// Log handles POST /activities. Callers acting as a user are always recorded
// as the actor.
func (h *ActivityHandler) Log(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	var req models.ActivityInput
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, "Invalid request body")
	}
	if scope.IsUserScoped() {
		req.UserID = scope.UserID
	}

	event, err := h.timeline.LogActivity(ctx, scope, req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, event)
}

// BulkLog handles POST /activities/bulk. Each event succeeds or fails on its
// own; the response lists the outcome per index.
func (h *ActivityHandler) BulkLog(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	var req models.BulkLogRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, "Invalid request body")
	}
	if len(req.Events) == 0 || len(req.Events) > 500 {
		return apierrors.ValidationError(c, "events must contain between 1 and 500 items")
	}
	if scope.IsUserScoped() {
		for i := range req.Events {
			req.Events[i].UserID = scope.UserID
		}
	}

	results := h.timeline.BulkLogActivities(ctx, scope, req.Events)
	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"data":      results,
		"succeeded": len(results) - failed,
		"failed":    failed,
	})
}

// List handles GET /activities. With entity_id it returns that entity's
// timeline, otherwise the workspace timeline.
func (h *ActivityHandler) List(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	f, err := timelineFilter(c)
	if err != nil {
		return apierrors.ValidationError(c, err.Error())
	}

	var events []models.ActivityEvent
	if entityID := c.QueryParam("entity_id"); entityID != "" {
		events, err = h.timeline.GetEntityTimeline(ctx, scope, entityID, f)
	} else {
		events, err = h.timeline.GetGlobalTimeline(ctx, scope, f)
	}
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": events})
}

// Summary handles GET /activities/summary
func (h *ActivityHandler) Summary(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	summary, err := h.timeline.GetActivitySummary(ctx, scope, c.QueryParam("entity_id"), queryInt(c, "window_days", defaultWindowDays))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, summary)
}

// Insights handles GET /activities/insights
func (h *ActivityHandler) Insights(c echo.Context) error {
	ctx, cancel, scope := h.begin(c)
	defer cancel()

	insights, err := h.timeline.GetActivityInsights(ctx, scope, c.QueryParam("entity_id"),
		queryInt(c, "window_days", defaultWindowDays), queryInt(c, "top", defaultTopN))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, insights)
}

// timelineFilter reads the shared timeline query parameters
func timelineFilter(c echo.Context) (activity.TimelineFilter, error) {
	limit, offset := page(c)
	f := activity.TimelineFilter{
		Types:   queryList(c, "types"),
		Modules: queryList(c, "modules"),
		UserIDs: queryList(c, "user_ids"),
		Limit:   limit,
		Offset:  offset,
	}
	var err error
	if f.From, err = queryTime(c, "from"); err != nil {
		return f, fmt.Errorf("from must be an RFC 3339 timestamp")
	}
	if f.To, err = queryTime(c, "to"); err != nil {
		return f, fmt.Errorf("to must be an RFC 3339 timestamp")
	}
	return f, nil
}
