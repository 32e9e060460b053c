package models

import "time"

// Stage is one step of a pipeline
type Stage struct {
	Name            string `json:"name" validate:"required,max=80"`
	Probability     int    `json:"probability" validate:"min=0,max=100"`
	RottenAfterDays *int   `json:"rottenAfterDays,omitempty" validate:"omitempty,min=0"`
}

// Pipeline is a named ordered list of stages
type Pipeline struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Name        string    `json:"name"`
	Stages      []Stage   `json:"stages"`
	IsDefault   bool      `json:"is_default"`
	DealCount   int       `json:"deal_count"`
	TotalValue  float64   `json:"total_value"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StageIndex returns the position of the named stage or -1
func (p *Pipeline) StageIndex(name string) int {
	for i, s := range p.Stages {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// Stage returns the named stage
func (p *Pipeline) Stage(name string) (Stage, bool) {
	if i := p.StageIndex(name); i >= 0 {
		return p.Stages[i], true
	}
	return Stage{}, false
}

// StageHistoryEntry records one transition of a deal
type StageHistoryEntry struct {
	FromStage string    `json:"fromStage"`
	ToStage   string    `json:"toStage"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"userId,omitempty"`
}

// CreatePipelineRequest represents a request to create a pipeline
type CreatePipelineRequest struct {
	Name      string  `json:"name" validate:"required,max=120"`
	Stages    []Stage `json:"stages" validate:"required,min=1,dive"`
	IsDefault bool    `json:"is_default,omitempty"`
}

// UpdatePipelineRequest represents a partial pipeline update
type UpdatePipelineRequest struct {
	Name      *string `json:"name,omitempty" validate:"omitempty,max=120"`
	Stages    []Stage `json:"stages,omitempty" validate:"omitempty,min=1,dive"`
	IsDefault *bool   `json:"is_default,omitempty"`
}

// CreateDealRequest represents a request to create a deal
type CreateDealRequest struct {
	Name       string         `json:"name" validate:"required,max=200"`
	Value      float64        `json:"value" validate:"min=0"`
	Currency   string         `json:"currency,omitempty" validate:"omitempty,len=3"`
	PipelineID string         `json:"pipeline_id,omitempty"`
	Stage      string         `json:"stage,omitempty"`
	CompanyID  string         `json:"company_id,omitempty"`
	ContactID  string         `json:"contact_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Shared     bool           `json:"shared,omitempty"`
}

// MoveDealRequest represents a stage transition request
type MoveDealRequest struct {
	Stage      string `json:"stage" validate:"required"`
	PipelineID string `json:"pipeline_id,omitempty"`
}

// DeletePipelineResult reports per-deal migration outcomes
type DeletePipelineResult struct {
	PipelineID    string            `json:"pipeline_id"`
	Deleted       bool              `json:"deleted"`
	MigratedDeals int               `json:"migrated_deals"`
	Failures      []MigrationResult `json:"failures,omitempty"`
}

// MigrationResult reports a deal that could not be migrated
type MigrationResult struct {
	DealID string `json:"deal_id"`
	Error  string `json:"error"`
}

// StageStats is the per-stage funnel view
type StageStats struct {
	Stage          string   `json:"stage"`
	Probability    int      `json:"probability"`
	Count          int      `json:"count"`
	TotalValue     float64  `json:"total_value"`
	AverageValue   float64  `json:"average_value"`
	WeightedValue  float64  `json:"weighted_value"`
	AverageAgeDays float64  `json:"average_age_days"`
	RottenCount    int      `json:"rotten_count"`
	ConversionRate *float64 `json:"conversion_rate,omitempty"`
}

// PipelineStats aggregates the deals of a pipeline
type PipelineStats struct {
	PipelineID    string       `json:"pipeline_id"`
	Name          string       `json:"name"`
	StageStats    []StageStats `json:"stage_stats"`
	TotalDeals    int          `json:"total_deals"`
	TotalValue    float64      `json:"total_value"`
	WeightedValue float64      `json:"weighted_value"`
	RottenDeals   int          `json:"rotten_deals"`
	// SkippedDeals counts deals whose data could not be read
	SkippedDeals int `json:"skipped_deals,omitempty"`
	// Truncated is set when the pipeline held more deals than one read returns
	Truncated   bool      `json:"truncated,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// RottenDeal describes a deal stuck past its stage threshold
type RottenDeal struct {
	DealID       string    `json:"deal_id"`
	Name         string    `json:"name"`
	Stage        string    `json:"stage"`
	Value        float64   `json:"value"`
	DaysInStage  float64   `json:"days_in_stage"`
	ThresholdDay int       `json:"threshold_days"`
	Since        time.Time `json:"since"`
}
