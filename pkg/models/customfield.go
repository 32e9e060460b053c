package models

import "time"

// FieldType enumerates the custom field kinds
type FieldType string

const (
	FieldText         FieldType = "text"
	FieldNumber       FieldType = "number"
	FieldBoolean      FieldType = "boolean"
	FieldDate         FieldType = "date"
	FieldSingleSelect FieldType = "single_select"
	FieldMultiSelect  FieldType = "multi_select"
	FieldCurrency     FieldType = "currency"
	FieldPercentage   FieldType = "percentage"
	FieldEmail        FieldType = "email"
	FieldPhone        FieldType = "phone"
	FieldURL          FieldType = "url"
	FieldRating       FieldType = "rating"
	FieldFormula      FieldType = "formula"
	FieldRollup       FieldType = "rollup"
	FieldLookup       FieldType = "lookup"
)

// FieldStatus is the lifecycle state of a field definition
type FieldStatus string

const (
	FieldActive      FieldStatus = "active"
	FieldSoftDeleted FieldStatus = "soft_deleted"
	FieldPurged      FieldStatus = "purged"
)

// FieldOption is one choice of a selection field
type FieldOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
	Color string `json:"color,omitempty"`
}

// FieldValidation holds optional constraints. Min/Max bound numbers, text
// length and rating scale; MinDate/MaxDate bound dates (YYYY-MM-DD).
type FieldValidation struct {
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	MinDate string   `json:"minDate,omitempty"`
	MaxDate string   `json:"maxDate,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
}

// ComputedSource configures formula, rollup and lookup fields
type ComputedSource struct {
	Expression       string `json:"expression,omitempty"`
	RelationshipType string `json:"relationshipType,omitempty"`
	TargetField      string `json:"targetField,omitempty"`
	Aggregation      string `json:"aggregation,omitempty"`
}

// CustomFieldDefinition is a per-workspace, per-entity-type schema extension
type CustomFieldDefinition struct {
	ID           string           `json:"id"`
	WorkspaceID  string           `json:"workspace_id"`
	EntityType   string           `json:"entity_type"`
	Key          string           `json:"key"`
	Label        string           `json:"label"`
	Type         FieldType        `json:"type"`
	Description  string           `json:"description,omitempty"`
	Options      []FieldOption    `json:"options,omitempty"`
	Required     bool             `json:"required"`
	DefaultValue any              `json:"default_value,omitempty"`
	Validation   *FieldValidation `json:"validation,omitempty"`
	Computed     *ComputedSource  `json:"computed,omitempty"`
	Status       FieldStatus      `json:"status"`
	DeletedAt    *time.Time       `json:"deleted_at,omitempty"`
	ExpiresAt    *time.Time       `json:"expires_at,omitempty"`
	CreatedBy    string           `json:"created_by,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// IsActive reports whether the definition accepts values
func (f *CustomFieldDefinition) IsActive() bool {
	return f.Status == FieldActive
}

// FieldSpec is the input for creating a custom field
type FieldSpec struct {
	Key          string           `json:"key,omitempty" validate:"omitempty,max=63"`
	Label        string           `json:"label" validate:"required,max=120"`
	Type         FieldType        `json:"type" validate:"required"`
	Description  string           `json:"description,omitempty" validate:"max=500"`
	Options      []FieldOption    `json:"options,omitempty"`
	Required     bool             `json:"required,omitempty"`
	DefaultValue any              `json:"default_value,omitempty"`
	Validation   *FieldValidation `json:"validation,omitempty"`
	Computed     *ComputedSource  `json:"computed,omitempty"`
}

// CreateCustomFieldRequest represents a request to create a custom field
type CreateCustomFieldRequest struct {
	EntityType string `json:"entity_type" validate:"required,max=64"`
	FieldSpec
}

// FieldCommandRequest represents a natural-language field creation request
type FieldCommandRequest struct {
	Command string `json:"command" validate:"required,min=5,max=500"`
}

// SetFieldValueRequest represents a request to set one custom field value
type SetFieldValueRequest struct {
	Value any `json:"value"`
}

// FieldSuggestion is a candidate field offered during interactive creation
type FieldSuggestion struct {
	Key         string        `json:"key"`
	Label       string        `json:"label"`
	Type        FieldType     `json:"type"`
	Description string        `json:"description"`
	Options     []FieldOption `json:"options,omitempty"`
}
