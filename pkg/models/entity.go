package models

import "time"

// Built-in entity types
const (
	TypeContact         = "contact"
	TypeCompany         = "company"
	TypeDeal            = "deal"
	TypeLead            = "lead"
	TypeTask            = "task"
	TypeNote            = "note"
	TypeMailMessage     = "mail_message"
	TypeChatMessage     = "chat_message"
	TypeCalendarEvent   = "calendar_event"
	TypePipeline        = "pipeline"
	TypeWorkspaceConfig = "workspace_config"
	TypeCustomField     = "custom_field"
	TypeActivity        = "activity"
)

// Metadata keys stamped by the entity store
const (
	MetaUserID       = "userId"
	MetaSourceModule = "sourceModule"
)

// Entity is the universal polymorphic record
type Entity struct {
	ID            string         `json:"id"`
	WorkspaceID   string         `json:"workspace_id"`
	UserID        string         `json:"user_id,omitempty"`
	Type          string         `json:"type"`
	Data          map[string]any `json:"data"`
	Relationships []EntityRef    `json:"relationships"`
	Metadata      map[string]any `json:"metadata"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     *time.Time     `json:"deleted_at,omitempty"`
}

// EntityRef is the embedded relationship shorthand stored on an entity.
// First-class links live in the relationship graph.
type EntityRef struct {
	EntityID string `json:"entityId"`
	Type     string `json:"type,omitempty"`
}

// IsDeleted reports whether the entity carries a soft delete marker
func (e *Entity) IsDeleted() bool {
	return e.DeletedAt != nil
}

// String returns data[key] when it is a string
func (e *Entity) String(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

// Float returns data[key] when it is a number
func (e *Entity) Float(key string) float64 {
	switch v := e.Data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// CreateEntityRequest represents a request to create an entity
type CreateEntityRequest struct {
	Type          string         `json:"type" validate:"required,max=64"`
	Data          map[string]any `json:"data" validate:"required"`
	Relationships []EntityRef    `json:"relationships,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Shared        bool           `json:"shared,omitempty"`
}

// UpdateEntityRequest represents a partial update of an entity
type UpdateEntityRequest struct {
	Data          map[string]any `json:"data,omitempty"`
	Relationships []EntityRef    `json:"relationships,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// EntityListResponse represents a page of entities
type EntityListResponse struct {
	Data   []Entity `json:"data"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}
