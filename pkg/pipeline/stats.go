package pipeline

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/jordanlanch/entityhub/pkg/cache"
	"github.com/jordanlanch/entityhub/pkg/models"
	"github.com/jordanlanch/entityhub/pkg/tenancy"
)

// GetPipelineStats derives the funnel view of a pipeline from the deals
// visible to scope. Results are cached until the next change in the
// workspace's pipelines or deals.
func (e *Engine) GetPipelineStats(ctx context.Context, scope tenancy.Scope, pipelineID string) (*models.PipelineStats, error) {
	p, err := e.GetPipeline(ctx, scope, pipelineID)
	if err != nil {
		return nil, err
	}

	key := cache.Key(statsNamespace, scope.WorkspaceID, p.ID, viewerKey(scope))
	if e.cache != nil {
		var cached models.PipelineStats
		err := e.cache.GetJSON(ctx, key, &cached)
		if err == nil {
			e.metrics.RecordCacheHit("redis")
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			e.log.Warn("pipeline stats cache read failed", "workspace_id", scope.WorkspaceID, "error", err)
		}
		e.metrics.RecordCacheMiss("redis")
	}

	found, truncated, err := e.deals(ctx, scope, p.ID)
	if err != nil {
		return nil, err
	}
	if truncated {
		e.log.Warn("pipeline stats truncated", "workspace_id", scope.WorkspaceID, "pipeline_id", p.ID, "limit", maxDeals)
	}
	skipped := 0
	deals := make([]dealView, 0, len(found))
	for i := range found {
		d, err := models.DecodeDeal(found[i].Data)
		if err != nil {
			e.log.Warn("skipping unreadable deal", "workspace_id", scope.WorkspaceID, "deal_id", found[i].ID, "error", err)
			skipped++
			continue
		}
		deals = append(deals, dealView{Stage: d.Stage, Value: d.Value, Since: stageSince(&found[i], d)})
	}

	stats := computeStats(p, deals, e.store.Now())
	stats.SkippedDeals = skipped
	stats.Truncated = truncated
	if e.cache != nil {
		if err := e.cache.SetJSON(ctx, key, stats, e.cacheTTL); err != nil {
			e.log.Warn("pipeline stats cache write failed", "workspace_id", scope.WorkspaceID, "error", err)
		}
	}
	return stats, nil
}

// dealView is the part of a deal the funnel statistics need
type dealView struct {
	Stage string
	Value float64
	Since time.Time
}

// computeStats aggregates deals per stage of p. Deals whose stage no longer
// exists in p are left out. Conversion of a stage is the deal count of the
// next stage divided by its own; it is absent for the last stage and for
// empty stages.
func computeStats(p *models.Pipeline, deals []dealView, now time.Time) *models.PipelineStats {
	stats := &models.PipelineStats{
		PipelineID:  p.ID,
		Name:        p.Name,
		StageStats:  make([]models.StageStats, len(p.Stages)),
		GeneratedAt: now,
	}
	ageDays := make([]float64, len(p.Stages))
	for i, s := range p.Stages {
		stats.StageStats[i] = models.StageStats{Stage: s.Name, Probability: s.Probability}
	}

	for _, d := range deals {
		i := p.StageIndex(d.Stage)
		if i < 0 {
			continue
		}
		ss := &stats.StageStats[i]
		ss.Count++
		ss.TotalValue += d.Value
		ageDays[i] += now.Sub(d.Since).Hours() / 24
		if IsRotten(p.Stages[i], d.Since, now) {
			ss.RottenCount++
		}
	}

	for i := range stats.StageStats {
		ss := &stats.StageStats[i]
		ss.WeightedValue = roundTo(ss.TotalValue*float64(ss.Probability)/100, 2)
		if ss.Count > 0 {
			ss.AverageValue = roundTo(ss.TotalValue/float64(ss.Count), 2)
			ss.AverageAgeDays = roundTo(ageDays[i]/float64(ss.Count), 2)
			if i+1 < len(stats.StageStats) {
				rate := roundTo(float64(stats.StageStats[i+1].Count)/float64(ss.Count), 4)
				ss.ConversionRate = &rate
			}
		}
		stats.TotalDeals += ss.Count
		stats.TotalValue += ss.TotalValue
		stats.WeightedValue += ss.WeightedValue
		stats.RottenDeals += ss.RottenCount
	}
	stats.WeightedValue = roundTo(stats.WeightedValue, 2)
	return stats
}

func sortRotten(deals []models.RottenDeal) {
	sort.SliceStable(deals, func(i, j int) bool {
		return deals[i].DaysInStage > deals[j].DaysInStage
	})
}

func viewerKey(scope tenancy.Scope) string {
	if scope.UserID == "" {
		return "_workspace"
	}
	return scope.UserID
}
