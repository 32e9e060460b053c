package handlers

import (
	"github.com/labstack/echo/v4"
)

// Handlers groups the API handlers mounted under a workspace
type Handlers struct {
	Entities      *EntityHandler
	Relationships *RelationshipHandler
	CustomFields  *CustomFieldsHandler
	Activities    *ActivityHandler
	Pipelines     *PipelineHandler
	Exports       *ExportHandler
}

// Register mounts every workspace route on g, which is expected to be
// /api/v1/workspaces/:workspace_id behind authentication. Nil handlers are
// skipped.
func (h Handlers) Register(g *echo.Group) {
	if e := h.Entities; e != nil {
		g.POST("/entities", e.Create)
		g.GET("/entities", e.List)
		g.GET("/entities/:id", e.Get)
		g.PATCH("/entities/:id", e.Update)
		g.DELETE("/entities/:id", e.Delete)
		g.POST("/entities/:id/restore", e.Restore)
		g.GET("/entities/:id/related", e.Related)
		g.GET("/entities/:id/timeline", e.Timeline)
	}

	if r := h.Relationships; r != nil {
		g.POST("/relationships", r.Link)
		g.DELETE("/relationships", r.Unlink)
	}

	if f := h.CustomFields; f != nil {
		g.POST("/custom-fields", f.Create)
		g.POST("/custom-fields/command", f.Command)
		g.GET("/custom-fields", f.List)
		g.GET("/custom-fields/suggestions", f.Suggestions)
		g.DELETE("/custom-fields/:id", f.Delete)
		g.POST("/custom-fields/:id/restore", f.Restore)
		g.PUT("/entities/:id/fields/:field", f.SetValue)
	}

	if a := h.Activities; a != nil {
		g.POST("/activities", a.Log)
		g.POST("/activities/bulk", a.BulkLog)
		g.GET("/activities", a.List)
		g.GET("/activities/summary", a.Summary)
		g.GET("/activities/insights", a.Insights)
	}

	if p := h.Pipelines; p != nil {
		g.POST("/pipelines", p.Create)
		g.GET("/pipelines", p.List)
		g.PATCH("/pipelines/:id", p.Update)
		g.DELETE("/pipelines/:id", p.Delete)
		g.GET("/pipelines/:id/stats", p.Stats)
		g.GET("/pipelines/:id/rotten", p.Rotten)
		g.POST("/deals", p.CreateDeal)
		g.POST("/deals/:id/move", p.MoveDeal)
	}

	if x := h.Exports; x != nil {
		g.POST("/exports", x.Create)
	}
}
