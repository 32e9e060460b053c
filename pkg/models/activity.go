package models

import "time"

// Activity types written by the platform itself
const (
	ActivityEntityCreated       = "entity_created"
	ActivityEntityUpdated       = "entity_updated"
	ActivityEntityDeleted       = "entity_deleted"
	ActivityEntityRestored      = "entity_restored"
	ActivityEntitiesLinked      = "entities_linked"
	ActivityEntitiesUnlinked    = "entities_unlinked"
	ActivityDealCreated         = "deal_created"
	ActivityDealStageChanged    = "deal_stage_changed"
	ActivityPipelineCreated     = "pipeline_created"
	ActivityPipelineUpdated     = "pipeline_updated"
	ActivityPipelineDeleted     = "pipeline_deleted"
	ActivityCustomFieldCreated  = "custom_field_created"
	ActivityCustomFieldDeleted  = "custom_field_deleted"
	ActivityCustomFieldRestored = "custom_field_restored"
	ActivityCustomFieldValueSet = "custom_field_value_set"
)

// Originating modules
const (
	ModuleEntities      = "entities"
	ModuleRelationships = "relationships"
	ModuleCustomFields  = "custom_fields"
	ModulePipeline      = "pipeline"
	ModuleCRM           = "crm"
	ModuleMail          = "mail"
	ModuleChat          = "chat"
)

// ActivityEvent is an immutable timeline entry
type ActivityEvent struct {
	ID           string         `json:"id"`
	WorkspaceID  string         `json:"workspace_id"`
	EntityID     string         `json:"entity_id"`
	Type         string         `json:"type"`
	Module       string         `json:"module"`
	Content      map[string]any `json:"content"`
	Participants []string       `json:"participants"`
	UserID       string         `json:"user_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ActivityInput describes one event to append to the timeline
type ActivityInput struct {
	EntityID     string         `json:"entity_id" validate:"required"`
	Type         string         `json:"type" validate:"required,max=64"`
	Module       string         `json:"module" validate:"required,max=64"`
	Content      map[string]any `json:"content,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	Participants []string       `json:"participants,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// BulkLogRequest represents a batch of activity events
type BulkLogRequest struct {
	Events []ActivityInput `json:"events" validate:"required,min=1,max=500"`
}

// BulkLogResult reports the outcome of one event in a batch
type BulkLogResult struct {
	Index int            `json:"index"`
	Event *ActivityEvent `json:"event,omitempty"`
	Error string         `json:"error,omitempty"`
}

// ActivitySummary is an aggregation of timeline events within a window
type ActivitySummary struct {
	WorkspaceID     string         `json:"workspace_id"`
	EntityID        string         `json:"entity_id,omitempty"`
	WindowDays      int            `json:"window_days"`
	Since           time.Time      `json:"since"`
	Total           int            `json:"total"`
	ByType          map[string]int `json:"by_type"`
	ByModule        map[string]int `json:"by_module"`
	ByUser          map[string]int `json:"by_user"`
	ByEntity        map[string]int `json:"by_entity"`
	ByDay           map[string]int `json:"by_day"`
	UniqueEntities  int            `json:"unique_entities"`
	UniqueUsers     int            `json:"unique_users"`
	FirstActivityAt *time.Time     `json:"first_activity_at,omitempty"`
	LastActivityAt  *time.Time     `json:"last_activity_at,omitempty"`
	// Truncated is set when the window held more events than one
	// aggregation reads
	Truncated bool `json:"truncated,omitempty"`
}

// RankedCount is one row of a top-N ranking
type RankedCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// ActivityInsights layers rankings and engagement signals over a summary
type ActivityInsights struct {
	Summary               ActivitySummary `json:"summary"`
	TopTypes              []RankedCount   `json:"top_types"`
	TopModules            []RankedCount   `json:"top_modules"`
	TopUsers              []RankedCount   `json:"top_users"`
	TopEntities           []RankedCount   `json:"top_entities"`
	ActiveDays            int             `json:"active_days"`
	AveragePerDay         float64         `json:"average_per_day"`
	EngagementScore       int             `json:"engagement_score"`
	Trend                 string          `json:"trend"`
	DaysSinceLastActivity *int            `json:"days_since_last_activity,omitempty"`
}

// Engagement trends
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
	TrendInactive   = "inactive"
)
