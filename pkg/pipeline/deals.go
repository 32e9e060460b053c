package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jordanlanch/entityhub/pkg/domain"
	"github.com/jordanlanch/entityhub/pkg/entities"
	"github.com/jordanlanch/entityhub/pkg/models"
	"github.com/jordanlanch/entityhub/pkg/relationships"
	"github.com/jordanlanch/entityhub/pkg/tenancy"
)

// CreateDeal creates a deal in the requested pipeline and stage, falling back
// to the workspace default pipeline and its first stage. A company or
// contact reference is also stored as a relationship edge.
func (e *Engine) CreateDeal(ctx context.Context, scope tenancy.Scope, req models.CreateDealRequest) (*models.Entity, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := e.validate.StructCtx(ctx, req); err != nil {
		return nil, domain.NewValidationError(validationMessage(err))
	}

	var (
		p   *models.Pipeline
		err error
	)
	if req.PipelineID != "" {
		p, err = e.GetPipeline(ctx, scope, req.PipelineID)
	} else {
		p, err = e.defaultPipeline(ctx, scope)
	}
	if err != nil {
		return nil, err
	}

	stage := p.Stages[0]
	if req.Stage != "" {
		s, ok := p.Stage(req.Stage)
		if !ok {
			return nil, domain.NewValidationErrorf("pipeline %q has no stage %q", p.Name, req.Stage)
		}
		stage = s
	}

	links := []struct {
		id, entityType, relationshipType string
	}{
		{req.CompanyID, models.TypeCompany, models.RelCompanyDeal},
		{req.ContactID, models.TypeContact, models.RelContactDeal},
	}
	for _, l := range links {
		if l.id == "" {
			continue
		}
		target, err := e.store.FindByID(ctx, scope, l.id)
		if err != nil {
			return nil, err
		}
		if target.Type != l.entityType {
			return nil, domain.NewValidationErrorf("%s is not a %s", l.id, l.entityType)
		}
	}

	now := e.store.Now()
	d := models.DealData{
		Name:              strings.TrimSpace(req.Name),
		Value:             req.Value,
		Currency:          strings.ToUpper(req.Currency),
		PipelineID:        p.ID,
		Stage:             stage.Name,
		Probability:       stage.Probability,
		CompanyID:         req.CompanyID,
		ContactID:         req.ContactID,
		StageHistory:      []models.StageHistoryEntry{},
		LastStageChangeAt: &now,
		Custom:            req.Data,
	}
	data, err := d.Encode()
	if err != nil {
		return nil, err
	}
	deal, err := e.store.Create(ctx, scope, entities.CreateInput{
		Type:     models.TypeDeal,
		Data:     data,
		Metadata: map[string]any{models.MetaSourceModule: models.ModulePipeline},
		Shared:   req.Shared,
	})
	if err != nil {
		return nil, err
	}
	e.metrics.RecordEntityCreated(models.TypeDeal)

	for _, l := range links {
		if l.id == "" {
			continue
		}
		if _, err := e.graph.Link(ctx, scope, l.id, deal.ID, l.relationshipType, relationships.LinkOptions{}); err != nil {
			return nil, fmt.Errorf("failed to link deal: %w", err)
		}
	}

	participants := []string{}
	for _, l := range links {
		if l.id != "" {
			participants = append(participants, l.id)
		}
	}
	e.store.RecordActivity(ctx, scope, deal.ID, models.ActivityDealCreated,
		map[string]any{"name": d.Name, "value": d.Value, "pipelineId": p.ID, "stage": stage.Name},
		entities.ActivityOptions{SourceModule: models.ModulePipeline, Participants: participants})

	e.refreshTotals(ctx, scope, p.ID)
	e.invalidate(ctx, scope.WorkspaceID)
	return deal, nil
}

// MoveDealToStage transitions a deal to newStage, optionally switching it to
// pipelineID. Each call appends exactly one stage history entry and writes
// exactly one deal_stage_changed event.
func (e *Engine) MoveDealToStage(ctx context.Context, scope tenancy.Scope, dealID, newStage, pipelineID string) (*models.Entity, error) {
	if strings.TrimSpace(newStage) == "" {
		return nil, domain.NewValidationError("stage is required")
	}
	deal, err := e.store.FindByID(ctx, scope, dealID)
	if err != nil {
		return nil, err
	}
	if deal.Type != models.TypeDeal {
		return nil, domain.NewNotFoundError("deal")
	}
	d, err := models.DecodeDeal(deal.Data)
	if err != nil {
		return nil, err
	}

	fromPipeline := d.PipelineID
	if pipelineID == "" {
		pipelineID = d.PipelineID
	}
	p, err := e.GetPipeline(ctx, scope, pipelineID)
	if err != nil {
		return nil, err
	}
	stage, ok := p.Stage(newStage)
	if !ok {
		return nil, domain.NewValidationErrorf("pipeline %q has no stage %q", p.Name, newStage)
	}
	if p.ID == fromPipeline && stage.Name == d.Stage {
		return nil, domain.NewValidationErrorf("deal is already in stage %q", stage.Name)
	}

	now := e.store.Now()
	fromStage := d.Stage
	d.StageHistory = append(d.StageHistory, models.StageHistoryEntry{
		FromStage: fromStage,
		ToStage:   stage.Name,
		Timestamp: now,
		UserID:    scope.UserID,
	})
	d.PipelineID = p.ID
	d.Stage = stage.Name
	d.Probability = stage.Probability
	d.LastStageChangeAt = &now

	updated, err := e.store.Update(ctx, scope, dealID, entities.UpdateInput{Data: dealPatch(d)})
	if err != nil {
		return nil, err
	}

	content := map[string]any{
		"fromStage":   fromStage,
		"toStage":     stage.Name,
		"probability": stage.Probability,
		"value":       d.Value,
	}
	if p.ID != fromPipeline {
		content["fromPipelineId"] = fromPipeline
		content["toPipelineId"] = p.ID
	}
	if _, err := e.store.LogActivity(ctx, scope, dealID, models.ActivityDealStageChanged, content,
		entities.ActivityOptions{SourceModule: models.ModulePipeline}); err != nil {
		return nil, fmt.Errorf("failed to log stage change: %w", err)
	}
	e.metrics.RecordStageTransition(stage.Name)

	if p.ID != fromPipeline {
		e.refreshTotals(ctx, scope, fromPipeline)
		e.refreshTotals(ctx, scope, p.ID)
	}
	e.invalidate(ctx, scope.WorkspaceID)
	e.log.Debug("deal moved", "workspace_id", scope.WorkspaceID, "deal_id", dealID, "from", fromStage, "to", stage.Name)
	return updated, nil
}

// IsRotten reports whether a deal has stayed in stage longer than the
// stage's rottenAfterDays threshold. Stages without a threshold never rot.
func IsRotten(stage models.Stage, since, now time.Time) bool {
	if stage.RottenAfterDays == nil {
		return false
	}
	return now.Sub(since) > time.Duration(*stage.RottenAfterDays)*24*time.Hour
}

// RottenDeals lists the deals of a pipeline that are past their stage
// threshold, longest stuck first.
func (e *Engine) RottenDeals(ctx context.Context, scope tenancy.Scope, pipelineID string) ([]models.RottenDeal, error) {
	p, err := e.GetPipeline(ctx, scope, pipelineID)
	if err != nil {
		return nil, err
	}
	deals, more, err := e.deals(ctx, scope, p.ID)
	if err != nil {
		return nil, err
	}
	if more {
		e.log.Warn("rotten deals read truncated", "workspace_id", scope.WorkspaceID, "pipeline_id", p.ID, "limit", maxDeals)
	}

	now := e.store.Now()
	out := []models.RottenDeal{}
	for i := range deals {
		d, err := models.DecodeDeal(deals[i].Data)
		if err != nil {
			e.log.Warn("skipping unreadable deal", "workspace_id", scope.WorkspaceID, "deal_id", deals[i].ID, "error", err)
			continue
		}
		stage, ok := p.Stage(d.Stage)
		if !ok {
			continue
		}
		since := stageSince(&deals[i], d)
		if !IsRotten(stage, since, now) {
			continue
		}
		out = append(out, models.RottenDeal{
			DealID:       deals[i].ID,
			Name:         d.Name,
			Stage:        d.Stage,
			Value:        d.Value,
			DaysInStage:  roundTo(now.Sub(since).Hours()/24, 2),
			ThresholdDay: *stage.RottenAfterDays,
			Since:        since,
		})
	}
	sortRotten(out)
	return out, nil
}

// stageSince is when the deal entered its current stage
func stageSince(deal *models.Entity, d *models.DealData) time.Time {
	if d.LastStageChangeAt != nil {
		return *d.LastStageChangeAt
	}
	return deal.CreatedAt
}

// dealPatch is the data patch written on a stage change
func dealPatch(d *models.DealData) map[string]any {
	history := make([]any, 0, len(d.StageHistory))
	for _, h := range d.StageHistory {
		entry := map[string]any{
			"fromStage": h.FromStage,
			"toStage":   h.ToStage,
			"timestamp": h.Timestamp.UTC().Format(time.RFC3339Nano),
		}
		if h.UserID != "" {
			entry["userId"] = h.UserID
		}
		history = append(history, entry)
	}
	return map[string]any{
		keyPipelineID:       d.PipelineID,
		"stage":             d.Stage,
		"probability":       d.Probability,
		"stageHistory":      history,
		"lastStageChangeAt": d.LastStageChangeAt.UTC().Format(time.RFC3339Nano),
	}
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
