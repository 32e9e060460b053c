// Package pipeline implements configurable sales pipelines and the deal
// stage state machine on top of the entity store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jordanlanch/entityhub/pkg/cache"
	"github.com/jordanlanch/entityhub/pkg/domain"
	"github.com/jordanlanch/entityhub/pkg/entities"
	"github.com/jordanlanch/entityhub/pkg/logger"
	"github.com/jordanlanch/entityhub/pkg/metrics"
	"github.com/jordanlanch/entityhub/pkg/models"
	"github.com/jordanlanch/entityhub/pkg/relationships"
	"github.com/jordanlanch/entityhub/pkg/tenancy"
)

// Data keys of deal and pipeline entities used in queries
const (
	keyPipelineID = "pipelineId"
	keyIsDefault  = "isDefault"
	keyName       = "name"

	statsNamespace = "pipeline-stats"
)

// maxDeals bounds the deals read for one pipeline
var maxDeals = 10000

// Engine is the pipeline service
type Engine struct {
	store    *entities.Store
	graph    *relationships.Graph
	validate *validator.Validate
	cache    cache.Cache
	cacheTTL time.Duration
	metrics  *metrics.Metrics
	log      logger.Logger
}

// NewEngine creates a pipeline engine. The graph links deals to their
// company and contact.
func NewEngine(store *entities.Store, graph *relationships.Graph, log logger.Logger) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		store:    store,
		graph:    graph,
		validate: validator.New(),
		log:      log.With("component", "pipeline"),
	}
}

// WithCache enables caching of pipeline statistics
func (e *Engine) WithCache(c cache.Cache, ttl time.Duration) *Engine {
	e.cache = c
	e.cacheTTL = ttl
	return e
}

// WithMetrics enables business counters
func (e *Engine) WithMetrics(m *metrics.Metrics) *Engine {
	e.metrics = m
	return e
}

// CreatePipeline stores a new pipeline. The first pipeline of a workspace
// becomes its default; a new default replaces the previous one.
func (e *Engine) CreatePipeline(ctx context.Context, scope tenancy.Scope, req models.CreatePipelineRequest) (*models.Pipeline, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := e.validate.StructCtx(ctx, req); err != nil {
		return nil, domain.NewValidationError(validationMessage(err))
	}
	stages, err := normalizeStages(req.Stages)
	if err != nil {
		return nil, err
	}

	existing, err := e.store.Count(ctx, entities.FindOptions{Scope: scope.WorkspaceOnly(), Types: []string{models.TypePipeline}})
	if err != nil {
		return nil, err
	}
	isDefault := req.IsDefault || existing == 0

	pd := models.PipelineData{Name: strings.TrimSpace(req.Name), Stages: stages, IsDefault: isDefault}
	data, err := pd.Encode()
	if err != nil {
		return nil, err
	}
	created, err := e.store.Create(ctx, scope, entities.CreateInput{
		Type:     models.TypePipeline,
		Data:     data,
		Metadata: map[string]any{models.MetaSourceModule: models.ModulePipeline},
		Shared:   true,
	})
	if err != nil {
		return nil, err
	}
	if isDefault {
		if err := e.clearDefault(ctx, scope, created.ID); err != nil {
			return nil, err
		}
	}

	e.store.RecordActivity(ctx, scope, created.ID, models.ActivityPipelineCreated,
		map[string]any{"name": pd.Name, "stages": len(stages), "isDefault": isDefault},
		entities.ActivityOptions{SourceModule: models.ModulePipeline})
	e.log.Info("pipeline created", "workspace_id", scope.WorkspaceID, "pipeline_id", created.ID, "stages", len(stages))
	return toPipeline(created)
}

// UpdatePipeline renames a pipeline, replaces its stages or makes it the
// default. Stages still holding deals cannot be removed.
func (e *Engine) UpdatePipeline(ctx context.Context, scope tenancy.Scope, id string, req models.UpdatePipelineRequest) (*models.Pipeline, error) {
	if err := e.validate.StructCtx(ctx, req); err != nil {
		return nil, domain.NewValidationError(validationMessage(err))
	}
	p, err := e.GetPipeline(ctx, scope, id)
	if err != nil {
		return nil, err
	}

	patch := map[string]any{}
	changed := []string{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.NewValidationError("pipeline name is required")
		}
		patch[keyName] = name
		changed = append(changed, "name")
	}
	if req.Stages != nil {
		stages, err := normalizeStages(req.Stages)
		if err != nil {
			return nil, err
		}
		if err := e.checkRemovedStages(ctx, scope, p, stages); err != nil {
			return nil, err
		}
		patch["stages"] = stagesData(stages)
		changed = append(changed, "stages")
	}
	if req.IsDefault != nil {
		if !*req.IsDefault && p.IsDefault {
			return nil, domain.NewValidationError("make another pipeline the default instead")
		}
		if *req.IsDefault && !p.IsDefault {
			patch[keyIsDefault] = true
			changed = append(changed, "isDefault")
		}
	}
	if len(patch) == 0 {
		return p, nil
	}

	updated, err := e.store.Update(ctx, scope, id, entities.UpdateInput{Data: patch})
	if err != nil {
		return nil, err
	}
	if patch[keyIsDefault] == true {
		if err := e.clearDefault(ctx, scope, id); err != nil {
			return nil, err
		}
	}

	e.store.RecordActivity(ctx, scope, id, models.ActivityPipelineUpdated,
		map[string]any{"changed": changed},
		entities.ActivityOptions{SourceModule: models.ModulePipeline})
	e.invalidate(ctx, scope.WorkspaceID)
	return toPipeline(updated)
}

// GetPipeline returns one pipeline
func (e *Engine) GetPipeline(ctx context.Context, scope tenancy.Scope, id string) (*models.Pipeline, error) {
	found, err := e.store.QueryOne(ctx, e.store.Builder().Entities(scope).Types(models.TypePipeline).IDs(id))
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, domain.NewNotFoundError("pipeline")
		}
		return nil, err
	}
	return toPipeline(found)
}

// ListPipelines returns the pipelines of a workspace, oldest first
func (e *Engine) ListPipelines(ctx context.Context, scope tenancy.Scope) ([]models.Pipeline, error) {
	found, err := e.store.Query(ctx, e.store.Builder().Entities(scope).
		Types(models.TypePipeline).
		OrderBy("createdAt", "asc").
		OrderBy("id", "asc"))
	if err != nil {
		return nil, err
	}
	out := make([]models.Pipeline, 0, len(found))
	for i := range found {
		p, err := toPipeline(&found[i])
		if err != nil {
			e.log.Warn("skipping unreadable pipeline", "workspace_id", scope.WorkspaceID, "pipeline_id", found[i].ID, "error", err)
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

// DeletePipeline removes a non-default pipeline. When it still has deals,
// migrateTo names the pipeline whose first stage receives them. Migration is
// best effort per deal; if any deal fails the pipeline is kept and the result
// lists the failures, so that a retry resumes with the remaining deals.
func (e *Engine) DeletePipeline(ctx context.Context, scope tenancy.Scope, id, migrateTo string) (*models.DeletePipelineResult, error) {
	p, err := e.GetPipeline(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if p.IsDefault {
		return nil, domain.NewConflictError("the default pipeline cannot be deleted")
	}

	// Deals of every member count, not only those visible to the caller.
	dealCount, err := e.store.CountQuery(ctx, e.dealQuery(scope.WorkspaceOnly(), id))
	if err != nil {
		return nil, err
	}
	result := &models.DeletePipelineResult{PipelineID: id}

	if dealCount > 0 {
		if migrateTo == "" {
			return nil, domain.NewConflictErrorWithDetails(
				fmt.Sprintf("pipeline has %d deals; choose a pipeline to migrate them to", dealCount),
				map[string]any{"dealCount": dealCount})
		}
		if migrateTo == id {
			return nil, domain.NewValidationError("deals cannot be migrated to the pipeline being deleted")
		}
		target, err := e.GetPipeline(ctx, scope, migrateTo)
		if err != nil {
			return nil, err
		}

		// Migrated deals leave the pipeline, so each read returns the next batch.
		for {
			deals, more, err := e.deals(ctx, scope.WorkspaceOnly(), id)
			if err != nil {
				return nil, err
			}
			for i := range deals {
				if err := e.migrateDeal(ctx, scope, &deals[i], target); err != nil {
					e.log.Warn("failed to migrate deal", "workspace_id", scope.WorkspaceID, "deal_id", deals[i].ID, "error", err)
					result.Failures = append(result.Failures, models.MigrationResult{DealID: deals[i].ID, Error: err.Error()})
					continue
				}
				result.MigratedDeals++
			}
			if !more || len(result.Failures) > 0 {
				break
			}
		}
		e.refreshTotals(ctx, scope, target.ID)

		if len(result.Failures) > 0 {
			e.invalidate(ctx, scope.WorkspaceID)
			return result, domain.NewConflictErrorWithDetails(
				fmt.Sprintf("%d of %d deals could not be migrated", len(result.Failures), dealCount),
				map[string]any{"failed": len(result.Failures), "migrated": result.MigratedDeals})
		}
	}

	if err := e.store.Delete(ctx, scope, id); err != nil {
		return nil, err
	}
	result.Deleted = true

	e.store.RecordActivity(ctx, scope, id, models.ActivityPipelineDeleted,
		map[string]any{"name": p.Name, "migratedDeals": result.MigratedDeals, "migratedTo": migrateTo},
		entities.ActivityOptions{SourceModule: models.ModulePipeline})
	e.invalidate(ctx, scope.WorkspaceID)
	e.log.Info("pipeline deleted", "workspace_id", scope.WorkspaceID, "pipeline_id", id, "migrated_deals", result.MigratedDeals)
	return result, nil
}

// migrateDeal moves a deal into the first stage of target
func (e *Engine) migrateDeal(ctx context.Context, scope tenancy.Scope, deal *models.Entity, target *models.Pipeline) error {
	d, err := models.DecodeDeal(deal.Data)
	if err != nil {
		return err
	}
	first := target.Stages[0]
	now := e.store.Now()

	fromStage := d.Stage
	d.StageHistory = append(d.StageHistory, models.StageHistoryEntry{
		FromStage: fromStage,
		ToStage:   first.Name,
		Timestamp: now,
		UserID:    scope.UserID,
	})
	d.PipelineID = target.ID
	d.Stage = first.Name
	d.Probability = first.Probability
	d.LastStageChangeAt = &now

	if _, err := e.store.Update(ctx, scope.WorkspaceOnly(), deal.ID, entities.UpdateInput{Data: dealPatch(d)}); err != nil {
		return err
	}
	e.store.RecordActivity(ctx, scope.WorkspaceOnly(), deal.ID, models.ActivityDealStageChanged,
		map[string]any{"fromStage": fromStage, "toStage": first.Name, "toPipelineId": target.ID, "reason": "pipeline_deleted"},
		entities.ActivityOptions{UserID: scope.UserID, SourceModule: models.ModulePipeline})
	return nil
}

// defaultPipeline returns the workspace default
func (e *Engine) defaultPipeline(ctx context.Context, scope tenancy.Scope) (*models.Pipeline, error) {
	found, err := e.store.Query(ctx, e.store.Builder().Entities(scope).
		Types(models.TypePipeline).
		WhereData(keyIsDefault, true).
		OrderBy("createdAt", "asc").
		Page(1, 0))
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, domain.NewValidationError("workspace has no default pipeline; create a pipeline first")
	}
	return toPipeline(&found[0])
}

// clearDefault unsets the default flag on every pipeline except keep
func (e *Engine) clearDefault(ctx context.Context, scope tenancy.Scope, keep string) error {
	found, err := e.store.Query(ctx, e.store.Builder().Entities(scope.WorkspaceOnly()).
		Types(models.TypePipeline).
		WhereData(keyIsDefault, true))
	if err != nil {
		return err
	}
	for _, p := range found {
		if p.ID == keep {
			continue
		}
		if _, err := e.store.Update(ctx, scope.WorkspaceOnly(), p.ID, entities.UpdateInput{Data: map[string]any{keyIsDefault: false}}); err != nil {
			return fmt.Errorf("failed to clear default pipeline: %w", err)
		}
	}
	return nil
}

// checkRemovedStages rejects a stage list that drops a stage holding deals
func (e *Engine) checkRemovedStages(ctx context.Context, scope tenancy.Scope, p *models.Pipeline, stages []models.Stage) error {
	kept := map[string]bool{}
	for _, s := range stages {
		kept[s.Name] = true
	}
	var removed []any
	for _, s := range p.Stages {
		if !kept[s.Name] {
			removed = append(removed, s.Name)
		}
	}
	if len(removed) == 0 {
		return nil
	}

	inRemoved, err := e.store.CountQuery(ctx, e.store.Builder().Entities(scope.WorkspaceOnly()).
		Types(models.TypeDeal).
		WhereData(keyPipelineID, p.ID).
		WhereDataIn("stage", removed...))
	if err != nil {
		return err
	}
	if inRemoved > 0 {
		return domain.NewConflictErrorWithDetails(
			fmt.Sprintf("%d deals are in stages that would be removed", inRemoved),
			map[string]any{"dealCount": inRemoved, "stages": removed})
	}
	return nil
}

// refreshTotals recomputes the denormalized deal count and value of a pipeline
func (e *Engine) refreshTotals(ctx context.Context, scope tenancy.Scope, pipelineID string) {
	deals, more, err := e.deals(ctx, scope.WorkspaceOnly(), pipelineID)
	if more {
		e.log.Warn("pipeline totals computed from a partial read", "workspace_id", scope.WorkspaceID, "pipeline_id", pipelineID, "limit", maxDeals)
	}
	if err == nil {
		total := 0.0
		for _, d := range deals {
			total += d.Float("value")
		}
		_, err = e.store.Update(ctx, scope.WorkspaceOnly(), pipelineID, entities.UpdateInput{
			Data: map[string]any{"dealCount": len(deals), "totalValue": total},
		})
	}
	if err != nil {
		e.log.Warn("failed to refresh pipeline totals", "workspace_id", scope.WorkspaceID, "pipeline_id", pipelineID, "error", err)
	}
}

// deals returns up to maxDeals live deals of a pipeline visible to scope,
// oldest first, and whether more exist
func (e *Engine) deals(ctx context.Context, scope tenancy.Scope, pipelineID string) ([]models.Entity, bool, error) {
	found, err := e.store.Query(ctx, e.dealQuery(scope, pipelineID).
		OrderBy("createdAt", "asc").
		Page(maxDeals+1, 0))
	if err != nil {
		return nil, false, err
	}
	if len(found) > maxDeals {
		return found[:maxDeals], true, nil
	}
	return found, false, nil
}

func (e *Engine) dealQuery(scope tenancy.Scope, pipelineID string) *tenancy.EntityQuery {
	return e.store.Builder().Entities(scope).
		Types(models.TypeDeal).
		WhereData(keyPipelineID, pipelineID)
}

// toPipeline is models.ToPipeline reporting stageless pipelines as
// validation errors
func toPipeline(found *models.Entity) (*models.Pipeline, error) {
	p, err := models.ToPipeline(found)
	if errors.Is(err, models.ErrNoStages) {
		return nil, domain.NewValidationErrorf("pipeline %s has no stages", found.ID)
	}
	return p, err
}

func (e *Engine) invalidate(ctx context.Context, workspaceID string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.DeletePattern(ctx, cache.WorkspacePattern(statsNamespace, workspaceID)); err != nil {
		e.log.Warn("pipeline stats cache invalidation failed", "workspace_id", workspaceID, "error", err)
	}
}

// normalizeStages trims stage names and rejects blanks and duplicates
func normalizeStages(stages []models.Stage) ([]models.Stage, error) {
	if len(stages) == 0 {
		return nil, domain.NewValidationError("a pipeline needs at least one stage")
	}
	out := make([]models.Stage, 0, len(stages))
	seen := map[string]bool{}
	for _, s := range stages {
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			return nil, domain.NewValidationError("stage name is required")
		}
		if s.Probability < 0 || s.Probability > 100 {
			return nil, domain.NewValidationErrorf("stage %q probability must be between 0 and 100", s.Name)
		}
		if s.RottenAfterDays != nil && *s.RottenAfterDays < 0 {
			return nil, domain.NewValidationErrorf("stage %q rottenAfterDays must not be negative", s.Name)
		}
		key := strings.ToLower(s.Name)
		if seen[key] {
			return nil, domain.NewValidationErrorf("duplicate stage %q", s.Name)
		}
		seen[key] = true
		out = append(out, s)
	}
	return out, nil
}

func stagesData(stages []models.Stage) []any {
	out := make([]any, 0, len(stages))
	for _, s := range stages {
		m := map[string]any{"name": s.Name, "probability": s.Probability}
		if s.RottenAfterDays != nil {
			m["rottenAfterDays"] = *s.RottenAfterDays
		}
		out = append(out, m)
	}
	return out
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("field %s failed on the '%s' rule", fe.Field(), fe.Tag())
	}
	return err.Error()
}
