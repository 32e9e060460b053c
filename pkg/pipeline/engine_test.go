package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jordanlanch/entityhub/pkg/activity"
	"github.com/jordanlanch/entityhub/pkg/cache"
	"github.com/jordanlanch/entityhub/pkg/database/dbtest"
	"github.com/jordanlanch/entityhub/pkg/domain"
	"github.com/jordanlanch/entityhub/pkg/entities"
	"github.com/jordanlanch/entityhub/pkg/logger"
	"github.com/jordanlanch/entityhub/pkg/models"
	"github.com/jordanlanch/entityhub/pkg/relationships"
	"github.com/jordanlanch/entityhub/pkg/tenancy"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *entities.Store
	timeline *activity.Timeline
	graph    *relationships.Graph
	engine   *Engine
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)}
	f.store = entities.NewStore(dbtest.Open(t), logger.Nop())
	f.store.SetClock(func() time.Time { return f.now })
	f.timeline = activity.NewTimeline(f.store, logger.Nop())
	f.graph = relationships.NewGraph(f.store, logger.Nop())
	f.engine = NewEngine(f.store, f.graph, logger.Nop())
	return f
}

func days(n int) *int {
	return &n
}

func salesStages() []models.Stage {
	return []models.Stage{
		{Name: "Qualification", Probability: 25, RottenAfterDays: days(14)},
		{Name: "Proposal", Probability: 50, RottenAfterDays: days(7)},
		{Name: "Negotiation", Probability: 75},
		{Name: "Closed Won", Probability: 100},
	}
}

func (f *fixture) pipeline(t *testing.T, scope tenancy.Scope, name string) *models.Pipeline {
	t.Helper()
	p, err := f.engine.CreatePipeline(context.Background(), scope, models.CreatePipelineRequest{Name: name, Stages: salesStages()})
	require.NoError(t, err)
	return p
}

func (f *fixture) deal(t *testing.T, scope tenancy.Scope, req models.CreateDealRequest) *models.Entity {
	t.Helper()
	d, err := f.engine.CreateDeal(context.Background(), scope, req)
	require.NoError(t, err)
	return d
}

func TestEngine_FourStageScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := tenancy.User("ws-1", "u-1")

	p := f.pipeline(t, scope, "Sales")
	d := f.deal(t, scope, models.CreateDealRequest{Name: "Big deal", Value: 100000, PipelineID: p.ID, Stage: "Qualification"})

	moved, err := f.engine.MoveDealToStage(ctx, scope, d.ID, "Proposal", "")
	require.NoError(t, err)

	data, err := models.DecodeDeal(moved.Data)
	require.NoError(t, err)
	assert.Equal(t, "Proposal", data.Stage)
	assert.Len(t, data.StageHistory, 1)

	stats, err := f.engine.GetPipelineStats(ctx, scope, p.ID)
	require.NoError(t, err)
	require.Len(t, stats.StageStats, 4)

	qualification, proposal := stats.StageStats[0], stats.StageStats[1]
	assert.Equal(t, "Qualification", qualification.Stage)
	assert.Equal(t, 0, qualification.Count)
	assert.Equal(t, 0.0, qualification.TotalValue)
	assert.Equal(t, "Proposal", proposal.Stage)
	assert.Equal(t, 1, proposal.Count)
	assert.Equal(t, 100000.0, proposal.TotalValue)
	assert.Equal(t, 100000.0, proposal.AverageValue)
	assert.Equal(t, 50000.0, proposal.WeightedValue)
	assert.Equal(t, 1, stats.TotalDeals)
}

func TestEngine_CreatePipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := tenancy.Workspace("ws-1")

	t.Run("Success - First pipeline becomes the default", func(t *testing.T) {
		p := f.pipeline(t, scope, "Sales")
		assert.True(t, p.IsDefault)
		assert.Len(t, p.Stages, 4)
		assert.Equal(t, 7, *p.Stages[1].RottenAfterDays)
	})

	t.Run("Success - Second pipeline is not the default", func(t *testing.T) {
		p := f.pipeline(t, scope, "Renewals")
		assert.False(t, p.IsDefault)
	})

	t.Run("Success - A new default replaces the previous one", func(t *testing.T) {
		p, err := f.engine.CreatePipeline(ctx, scope, models.CreatePipelineRequest{
			Name: "Partners", Stages: []models.Stage{{Name: "Intro", Probability: 10}}, IsDefault: true,
		})
		require.NoError(t, err)
		assert.True(t, p.IsDefault)

		all, err := f.engine.ListPipelines(ctx, scope)
		require.NoError(t, err)
		require.Len(t, all, 3)
		defaults := 0
		for _, p := range all {
			if p.IsDefault {
				defaults++
				assert.Equal(t, "Partners", p.Name)
			}
		}
		assert.Equal(t, 1, defaults)
	})

	tests := []struct {
		name string
		req  models.CreatePipelineRequest
	}{
		{"Missing name", models.CreatePipelineRequest{Stages: salesStages()}},
		{"No stages", models.CreatePipelineRequest{Name: "Empty"}},
		{"Duplicate stage", models.CreatePipelineRequest{Name: "Dup", Stages: []models.Stage{{Name: "Lead"}, {Name: "lead "}}}},
		{"Probability out of range", models.CreatePipelineRequest{Name: "Bad", Stages: []models.Stage{{Name: "Lead", Probability: 120}}}},
		{"Negative threshold", models.CreatePipelineRequest{Name: "Bad", Stages: []models.Stage{{Name: "Lead", RottenAfterDays: days(-1)}}}},
	}
	for _, tt := range tests {
		t.Run("Error - "+tt.name, func(t *testing.T) {
			_, err := f.engine.CreatePipeline(ctx, scope, tt.req)
			assert.True(t, domain.IsValidation(err), "got %v", err)
		})
	}
}

func TestEngine_UpdatePipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := tenancy.Workspace("ws-1")

	sales := f.pipeline(t, scope, "Sales")
	other := f.pipeline(t, scope, "Other")
	f.deal(t, scope, models.CreateDealRequest{Name: "A", Value: 10, PipelineID: sales.ID, Stage: "Proposal"})

	t.Run("Success - Rename and add a stage", func(t *testing.T) {
		name := "Direct sales"
		stages := append(salesStages(), models.Stage{Name: "Closed Lost", Probability: 0})
		updated, err := f.engine.UpdatePipeline(ctx, scope, sales.ID, models.UpdatePipelineRequest{Name: &name, Stages: stages})
		require.NoError(t, err)
		assert.Equal(t, "Direct sales", updated.Name)
		assert.Len(t, updated.Stages, 5)
		assert.True(t, updated.IsDefault)
	})

	t.Run("Success - Make another pipeline the default", func(t *testing.T) {
		yes := true
		updated, err := f.engine.UpdatePipeline(ctx, scope, other.ID, models.UpdatePipelineRequest{IsDefault: &yes})
		require.NoError(t, err)
		assert.True(t, updated.IsDefault)

		previous, err := f.engine.GetPipeline(ctx, scope, sales.ID)
		require.NoError(t, err)
		assert.False(t, previous.IsDefault)
	})

	t.Run("Error - Removing a stage that holds deals", func(t *testing.T) {
		_, err := f.engine.UpdatePipeline(ctx, scope, sales.ID, models.UpdatePipelineRequest{
			Stages: []models.Stage{{Name: "Qualification", Probability: 25}},
		})
		require.True(t, domain.IsConflict(err))
		assert.Equal(t, 1, domain.GetDetails(err)["dealCount"])
	})

	t.Run("Error - Unsetting the default", func(t *testing.T) {
		no := false
		_, err := f.engine.UpdatePipeline(ctx, scope, other.ID, models.UpdatePipelineRequest{IsDefault: &no})
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("Error - Pipeline of another workspace", func(t *testing.T) {
		name := "x"
		_, err := f.engine.UpdatePipeline(ctx, tenancy.Workspace("ws-2"), sales.ID, models.UpdatePipelineRequest{Name: &name})
		assert.True(t, domain.IsNotFound(err))
	})
}

func TestEngine_DeletePipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := tenancy.User("ws-1", "u-1")
	scope := tenancy.User("ws-1", "u-2")

	def := f.pipeline(t, scope, "Default")
	old := f.pipeline(t, scope, "Old")
	f.deal(t, owner, models.CreateDealRequest{Name: "Private", Value: 300, PipelineID: old.ID, Stage: "Negotiation"})
	f.deal(t, scope, models.CreateDealRequest{Name: "Mine", Value: 200, PipelineID: old.ID})

	t.Run("Error - Default pipeline", func(t *testing.T) {
		_, err := f.engine.DeletePipeline(ctx, scope, def.ID, "")
		assert.True(t, domain.IsConflict(err))
	})

	t.Run("Error - Deals without a migration target", func(t *testing.T) {
		_, err := f.engine.DeletePipeline(ctx, scope, old.ID, "")
		require.True(t, domain.IsConflict(err))
		assert.Equal(t, 2, domain.GetDetails(err)["dealCount"])
	})

	t.Run("Error - Migration to itself", func(t *testing.T) {
		_, err := f.engine.DeletePipeline(ctx, scope, old.ID, old.ID)
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("Error - Unknown migration target", func(t *testing.T) {
		_, err := f.engine.DeletePipeline(ctx, scope, old.ID, "missing")
		assert.True(t, domain.IsNotFound(err))
	})

	t.Run("Success - Deals move to the first stage of the target", func(t *testing.T) {
		result, err := f.engine.DeletePipeline(ctx, scope, old.ID, def.ID)
		require.NoError(t, err)
		assert.True(t, result.Deleted)
		assert.Equal(t, 2, result.MigratedDeals)
		assert.Empty(t, result.Failures)

		_, err = f.engine.GetPipeline(ctx, scope, old.ID)
		assert.True(t, domain.IsNotFound(err))

		deals, err := f.store.Find(ctx, entities.FindOptions{Scope: tenancy.Workspace("ws-1"), Types: []string{models.TypeDeal}})
		require.NoError(t, err)
		require.Len(t, deals, 2)
		for _, d := range deals {
			data, err := models.DecodeDeal(d.Data)
			require.NoError(t, err)
			assert.Equal(t, def.ID, data.PipelineID)
			assert.Equal(t, "Qualification", data.Stage)
			assert.Equal(t, 25, data.Probability)
		}

		target, err := f.engine.GetPipeline(ctx, scope, def.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, target.DealCount)
		assert.Equal(t, 500.0, target.TotalValue)
	})

	t.Run("Success - Empty pipeline needs no target", func(t *testing.T) {
		empty := f.pipeline(t, scope, "Empty")
		result, err := f.engine.DeletePipeline(ctx, scope, empty.ID, "")
		require.NoError(t, err)
		assert.True(t, result.Deleted)
		assert.Zero(t, result.MigratedDeals)
	})
}

func TestEngine_CreateDeal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := tenancy.User("ws-1", "u-1")

	t.Run("Error - Workspace without pipelines", func(t *testing.T) {
		_, err := f.engine.CreateDeal(ctx, scope, models.CreateDealRequest{Name: "Early"})
		assert.True(t, domain.IsValidation(err))
	})

	p := f.pipeline(t, scope, "Sales")
	company, err := f.store.Create(ctx, scope, entities.CreateInput{Type: models.TypeCompany, Data: map[string]any{"name": "Acme"}})
	require.NoError(t, err)

	t.Run("Success - Defaults to the first stage of the default pipeline", func(t *testing.T) {
		d := f.deal(t, scope, models.CreateDealRequest{Name: "Expansion", Value: 5000, Currency: "eur", CompanyID: company.ID,
			Data: map[string]any{"priority": "high"}})

		data, err := models.DecodeDeal(d.Data)
		require.NoError(t, err)
		assert.Equal(t, p.ID, data.PipelineID)
		assert.Equal(t, "Qualification", data.Stage)
		assert.Equal(t, 25, data.Probability)
		assert.Equal(t, "EUR", data.Currency)
		assert.Empty(t, data.StageHistory)
		require.NotNil(t, data.LastStageChangeAt)
		assert.Equal(t, "high", data.Custom["priority"])
		assert.Equal(t, "u-1", d.UserID)

		related, err := f.graph.FindRelated(ctx, scope, company.ID, models.RelCompanyDeal)
		require.NoError(t, err)
		require.Len(t, related, 1)
		assert.Equal(t, d.ID, related[0].ID)

		events, err := f.timeline.GetEntityTimeline(ctx, scope, d.ID, activity.TimelineFilter{Types: []string{models.ActivityDealCreated}})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, []string{company.ID}, events[0].Participants)

		refreshed, err := f.engine.GetPipeline(ctx, scope, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, refreshed.DealCount)
		assert.Equal(t, 5000.0, refreshed.TotalValue)
	})

	t.Run("Error - Unknown stage", func(t *testing.T) {
		_, err := f.engine.CreateDeal(ctx, scope, models.CreateDealRequest{Name: "X", Stage: "Won"})
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("Error - Company of the wrong type", func(t *testing.T) {
		contact, err := f.store.Create(ctx, scope, entities.CreateInput{Type: models.TypeContact, Data: map[string]any{"name": "Ana"}})
		require.NoError(t, err)
		_, err = f.engine.CreateDeal(ctx, scope, models.CreateDealRequest{Name: "X", CompanyID: contact.ID})
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("Error - Invisible company", func(t *testing.T) {
		_, err := f.engine.CreateDeal(ctx, tenancy.User("ws-1", "u-2"), models.CreateDealRequest{Name: "X", CompanyID: company.ID})
		assert.True(t, domain.IsNotFound(err))
	})

	t.Run("Error - Negative value", func(t *testing.T) {
		_, err := f.engine.CreateDeal(ctx, scope, models.CreateDealRequest{Name: "X", Value: -1})
		assert.True(t, domain.IsValidation(err))
	})
}

func TestEngine_MoveDealToStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := tenancy.User("ws-1", "u-1")
	start := f.now

	sales := f.pipeline(t, scope, "Sales")
	renewals, err := f.engine.CreatePipeline(ctx, scope, models.CreatePipelineRequest{
		Name: "Renewals", Stages: []models.Stage{{Name: "Due", Probability: 60}, {Name: "Renewed", Probability: 100}},
	})
	require.NoError(t, err)
	d := f.deal(t, scope, models.CreateDealRequest{Name: "Deal", Value: 1000, PipelineID: sales.ID})

	t.Run("Success - One history entry and one event per move", func(t *testing.T) {
		f.now = start.Add(48 * time.Hour)
		moved, err := f.engine.MoveDealToStage(ctx, scope, d.ID, "Negotiation", "")
		require.NoError(t, err)

		data, err := models.DecodeDeal(moved.Data)
		require.NoError(t, err)
		require.Len(t, data.StageHistory, 1)
		entry := data.StageHistory[0]
		assert.Equal(t, "Qualification", entry.FromStage)
		assert.Equal(t, "Negotiation", entry.ToStage)
		assert.Equal(t, "u-1", entry.UserID)
		assert.True(t, entry.Timestamp.Equal(f.now))
		assert.Equal(t, 75, data.Probability)
		assert.True(t, data.LastStageChangeAt.Equal(f.now))

		events, err := f.timeline.GetEntityTimeline(ctx, scope, d.ID, activity.TimelineFilter{Types: []string{models.ActivityDealStageChanged}})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "Qualification", events[0].Content["fromStage"])
		assert.Equal(t, "Negotiation", events[0].Content["toStage"])
		assert.Equal(t, models.ModulePipeline, events[0].Module)
	})

	t.Run("Success - Switch pipeline in the same call", func(t *testing.T) {
		moved, err := f.engine.MoveDealToStage(ctx, scope, d.ID, "Due", renewals.ID)
		require.NoError(t, err)

		data, err := models.DecodeDeal(moved.Data)
		require.NoError(t, err)
		assert.Equal(t, renewals.ID, data.PipelineID)
		assert.Equal(t, "Due", data.Stage)
		assert.Len(t, data.StageHistory, 2)

		events, err := f.timeline.GetEntityTimeline(ctx, scope, d.ID, activity.TimelineFilter{Types: []string{models.ActivityDealStageChanged}})
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, renewals.ID, events[0].Content["toPipelineId"])

		source, err := f.engine.GetPipeline(ctx, scope, sales.ID)
		require.NoError(t, err)
		assert.Zero(t, source.DealCount)
		target, err := f.engine.GetPipeline(ctx, scope, renewals.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, target.DealCount)
	})

	t.Run("Error - Same stage", func(t *testing.T) {
		_, err := f.engine.MoveDealToStage(ctx, scope, d.ID, "Due", "")
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("Error - Unknown stage", func(t *testing.T) {
		_, err := f.engine.MoveDealToStage(ctx, scope, d.ID, "Proposal", "")
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("Error - Not a deal", func(t *testing.T) {
		contact, err := f.store.Create(ctx, scope, entities.CreateInput{Type: models.TypeContact, Data: map[string]any{"name": "C"}})
		require.NoError(t, err)
		_, err = f.engine.MoveDealToStage(ctx, scope, contact.ID, "Due", "")
		assert.True(t, domain.IsNotFound(err))
	})

	t.Run("Error - Private deal of another user", func(t *testing.T) {
		_, err := f.engine.MoveDealToStage(ctx, tenancy.User("ws-1", "u-2"), d.ID, "Renewed", "")
		assert.True(t, domain.IsNotFound(err))
	})
}

func TestEngine_RottenDeals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := tenancy.Workspace("ws-1")
	start := f.now

	p := f.pipeline(t, scope, "Sales")
	stale := f.deal(t, scope, models.CreateDealRequest{Name: "Stale", Value: 10})
	f.deal(t, scope, models.CreateDealRequest{Name: "Open ended", Value: 20, Stage: "Negotiation"})

	f.now = start.Add(10 * 24 * time.Hour)
	fresh := f.deal(t, scope, models.CreateDealRequest{Name: "Fresh", Value: 30})
	_, err := f.engine.MoveDealToStage(ctx, scope, fresh.ID, "Proposal", "")
	require.NoError(t, err)

	f.now = start.Add(15 * 24 * time.Hour)
	rotten, err := f.engine.RottenDeals(ctx, scope, p.ID)
	require.NoError(t, err)
	require.Len(t, rotten, 1)
	assert.Equal(t, stale.ID, rotten[0].DealID)
	assert.Equal(t, 15.0, rotten[0].DaysInStage)
	assert.Equal(t, 14, rotten[0].ThresholdDay)

	f.now = start.Add(18 * 24 * time.Hour)
	rotten, err = f.engine.RottenDeals(ctx, scope, p.ID)
	require.NoError(t, err)
	require.Len(t, rotten, 2)
	assert.Equal(t, stale.ID, rotten[0].DealID)
	assert.Equal(t, fresh.ID, rotten[1].DealID)

	stats, err := f.engine.GetPipelineStats(ctx, scope, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.RottenDeals)
	assert.Equal(t, 18.0, stats.StageStats[0].AverageAgeDays)
	assert.Equal(t, 8.0, stats.StageStats[1].AverageAgeDays)
}

func TestIsRotten(t *testing.T) {
	now := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	since := now.Add(-7 * 24 * time.Hour)

	assert.False(t, IsRotten(models.Stage{Name: "Open"}, since.Add(-1000*time.Hour), now))
	assert.False(t, IsRotten(models.Stage{RottenAfterDays: days(7)}, since, now))
	assert.True(t, IsRotten(models.Stage{RottenAfterDays: days(7)}, since.Add(-time.Second), now))
	assert.True(t, IsRotten(models.Stage{RottenAfterDays: days(0)}, now.Add(-time.Second), now))
}

func TestComputeStats(t *testing.T) {
	now := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	p := &models.Pipeline{ID: "p-1", Name: "Sales", Stages: salesStages()}
	deals := []dealView{
		{Stage: "Qualification", Value: 100, Since: now.Add(-2 * 24 * time.Hour)},
		{Stage: "Qualification", Value: 300, Since: now.Add(-4 * 24 * time.Hour)},
		{Stage: "Qualification", Value: 200, Since: now.Add(-20 * 24 * time.Hour)},
		{Stage: "Qualification", Value: 400, Since: now},
		{Stage: "Proposal", Value: 1000, Since: now.Add(-24 * time.Hour)},
		{Stage: "Proposal", Value: 500, Since: now.Add(-24 * time.Hour)},
		{Stage: "Closed Won", Value: 800, Since: now},
		{Stage: "Removed stage", Value: 999, Since: now},
	}

	stats := computeStats(p, deals, now)

	q := stats.StageStats[0]
	assert.Equal(t, 4, q.Count)
	assert.Equal(t, 1000.0, q.TotalValue)
	assert.Equal(t, 250.0, q.AverageValue)
	assert.Equal(t, 250.0, q.WeightedValue)
	assert.Equal(t, 6.5, q.AverageAgeDays)
	assert.Equal(t, 1, q.RottenCount)
	require.NotNil(t, q.ConversionRate)
	assert.Equal(t, 0.5, *q.ConversionRate)

	proposal := stats.StageStats[1]
	require.NotNil(t, proposal.ConversionRate)
	assert.Equal(t, 0.0, *proposal.ConversionRate)

	assert.Nil(t, stats.StageStats[2].ConversionRate, "empty stage")
	assert.Nil(t, stats.StageStats[3].ConversionRate, "last stage")

	assert.Equal(t, 7, stats.TotalDeals)
	assert.Equal(t, 3300.0, stats.TotalValue)
	assert.Equal(t, 250.0+750.0+800.0, stats.WeightedValue)
	assert.Equal(t, 1, stats.RottenDeals)
}

func TestEngine_StatsCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := tenancy.Workspace("ws-1")

	mr := miniredis.RunT(t)
	f.engine.WithCache(cache.NewFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), logger.Nop()), time.Minute)

	p := f.pipeline(t, scope, "Sales")
	f.deal(t, scope, models.CreateDealRequest{Name: "A", Value: 10})

	first, err := f.engine.GetPipelineStats(ctx, scope, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, first.TotalDeals)
	assert.True(t, mr.Exists(cache.Key(statsNamespace, "ws-1", p.ID, "_workspace")))

	d := f.deal(t, scope, models.CreateDealRequest{Name: "B", Value: 20})
	assert.False(t, mr.Exists(cache.Key(statsNamespace, "ws-1", p.ID, "_workspace")), "deal creation invalidates")

	second, err := f.engine.GetPipelineStats(ctx, scope, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, second.TotalDeals)

	_, err = f.engine.MoveDealToStage(ctx, scope, d.ID, "Proposal", "")
	require.NoError(t, err)
	third, err := f.engine.GetPipelineStats(ctx, scope, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, third.StageStats[1].Count)
}

func TestEngine_StagelessPipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := tenancy.Workspace("ws-1")

	def := f.pipeline(t, scope, "Default")
	old := f.pipeline(t, scope, "Old")
	f.deal(t, scope, models.CreateDealRequest{Name: "Waiting", Value: 10, PipelineID: old.ID})
	broken, err := f.store.Create(ctx, scope, entities.CreateInput{
		Type:   models.TypePipeline,
		Data:   map[string]any{"name": "Broken", "stages": []any{}},
		Shared: true,
	})
	require.NoError(t, err)

	t.Run("Error - Get", func(t *testing.T) {
		_, err := f.engine.GetPipeline(ctx, scope, broken.ID)
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("Error - Create a deal in it", func(t *testing.T) {
		_, err := f.engine.CreateDeal(ctx, scope, models.CreateDealRequest{Name: "Lost", Value: 1, PipelineID: broken.ID})
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("Error - Migrate deals into it", func(t *testing.T) {
		_, err := f.engine.DeletePipeline(ctx, scope, old.ID, broken.ID)
		assert.True(t, domain.IsValidation(err))

		_, err = f.engine.GetPipeline(ctx, scope, old.ID)
		assert.NoError(t, err)
	})

	t.Run("Success - List skips it", func(t *testing.T) {
		list, err := f.engine.ListPipelines(ctx, scope)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.ElementsMatch(t, []string{def.ID, old.ID}, []string{list[0].ID, list[1].ID})
	})
}

func TestEngine_UnreadableDeal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := tenancy.Workspace("ws-1")
	start := f.now

	p := f.pipeline(t, scope, "Sales")
	good := f.deal(t, scope, models.CreateDealRequest{Name: "Good", Value: 100})
	bad := f.deal(t, scope, models.CreateDealRequest{Name: "Bad", Value: 50})
	_, err := f.store.Update(ctx, scope, bad.ID, entities.UpdateInput{Data: map[string]any{"value": "5k"}})
	require.NoError(t, err)
	f.now = start.Add(20 * 24 * time.Hour)

	t.Run("Success - Stats skip the deal", func(t *testing.T) {
		stats, err := f.engine.GetPipelineStats(ctx, scope, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.TotalDeals)
		assert.Equal(t, 1, stats.SkippedDeals)
		assert.Equal(t, 100.0, stats.TotalValue)
	})

	t.Run("Success - Rotten deals skip the deal", func(t *testing.T) {
		rotten, err := f.engine.RottenDeals(ctx, scope, p.ID)
		require.NoError(t, err)
		require.Len(t, rotten, 1)
		assert.Equal(t, good.ID, rotten[0].DealID)
	})
}

func TestEngine_DealReadLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := tenancy.Workspace("ws-1")

	limit := maxDeals
	maxDeals = 2
	t.Cleanup(func() { maxDeals = limit })

	def := f.pipeline(t, scope, "Default")
	old := f.pipeline(t, scope, "Old")
	for i := 0; i < 3; i++ {
		f.deal(t, scope, models.CreateDealRequest{Name: "Deal", Value: 10, PipelineID: old.ID})
	}

	t.Run("Success - Stats flag a partial read", func(t *testing.T) {
		stats, err := f.engine.GetPipelineStats(ctx, scope, old.ID)
		require.NoError(t, err)
		assert.True(t, stats.Truncated)
		assert.Equal(t, 2, stats.TotalDeals)

		stats, err = f.engine.GetPipelineStats(ctx, scope, def.ID)
		require.NoError(t, err)
		assert.False(t, stats.Truncated)
	})

	t.Run("Success - Deletion migrates every deal", func(t *testing.T) {
		result, err := f.engine.DeletePipeline(ctx, scope, old.ID, def.ID)
		require.NoError(t, err)
		assert.True(t, result.Deleted)
		assert.Equal(t, 3, result.MigratedDeals)

		left, err := f.store.Count(ctx, entities.FindOptions{
			Scope: scope,
			Types: []string{models.TypeDeal},
			Where: map[string]any{"pipelineId": old.ID},
		})
		require.NoError(t, err)
		assert.Zero(t, left)
	})
}
