package models

import "time"

// ExportRequest represents a request to export entities of one type
type ExportRequest struct {
	EntityType string `json:"entity_type" validate:"required,max=64"`
	Search     string `json:"search,omitempty" validate:"max=200"`
	Limit      int    `json:"limit,omitempty" validate:"omitempty,min=1,max=10000"`
}

// ExportResult describes a generated spreadsheet
type ExportResult struct {
	Key       string    `json:"key"`
	Location  string    `json:"location"`
	Storage   string    `json:"storage"`
	Rows      int       `json:"rows"`
	Columns   []string  `json:"columns"`
	CreatedAt time.Time `json:"created_at"`
}
