package models

import "time"

// Common relationship types
const (
	RelWorksAt     = "works_at"
	RelOwnsDeal    = "owns_deal"
	RelCompanyDeal = "company_deal"
	RelContactDeal = "contact_deal"
)

// Relationship is a typed edge between two entities of one workspace
type Relationship struct {
	ID               string         `json:"id"`
	WorkspaceID      string         `json:"workspace_id"`
	SourceEntityID   string         `json:"source_entity_id"`
	TargetEntityID   string         `json:"target_entity_id"`
	RelationshipType string         `json:"relationship_type"`
	Bidirectional    bool           `json:"bidirectional"`
	StrengthScore    *int           `json:"strength_score,omitempty"`
	Metadata         map[string]any `json:"metadata"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Other returns the endpoint opposite to entityID
func (r *Relationship) Other(entityID string) string {
	if r.SourceEntityID == entityID {
		return r.TargetEntityID
	}
	return r.SourceEntityID
}

// LinkRequest represents a request to link two entities
type LinkRequest struct {
	SourceEntityID   string         `json:"source_entity_id" validate:"required"`
	TargetEntityID   string         `json:"target_entity_id" validate:"required"`
	RelationshipType string         `json:"relationship_type" validate:"required,max=64"`
	Bidirectional    *bool          `json:"bidirectional,omitempty"`
	StrengthScore    *int           `json:"strength_score,omitempty" validate:"omitempty,min=0,max=100"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// UnlinkRequest represents a request to remove the edges between two entities
type UnlinkRequest struct {
	SourceEntityID string `json:"source_entity_id" validate:"required"`
	TargetEntityID string `json:"target_entity_id" validate:"required"`
}
