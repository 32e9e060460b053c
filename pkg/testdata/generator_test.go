package testdata

import (
	"context"
	"testing"

	"github.com/jordanlanch/entityhub/pkg/database/dbtest"
	"github.com/jordanlanch/entityhub/pkg/entities"
	"github.com/jordanlanch/entityhub/pkg/logger"
	"github.com/jordanlanch/entityhub/pkg/models"
	"github.com/jordanlanch/entityhub/pkg/pipeline"
	"github.com/jordanlanch/entityhub/pkg/relationships"
	"github.com/jordanlanch/entityhub/pkg/tenancy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_Deterministic(t *testing.T) {
	a, b := NewGenerator(42), NewGenerator(42)
	assert.Equal(t, a.Company(), b.Company())
	assert.Equal(t, a.Contact("Acme"), b.Contact("Acme"))
	assert.Equal(t, a.DealValue(), b.DealValue())
}

func TestGenerator_Shapes(t *testing.T) {
	g := NewGenerator(7)

	company := g.Company()
	assert.NotEmpty(t, company["name"])
	assert.Contains(t, industries, company["industry"])
	assert.Contains(t, company["website"], "https://www.")

	contact := g.Contact("Acme")
	assert.Equal(t, "Acme", contact["company"])
	assert.Contains(t, contact["email"], "@")

	v := g.DealValue()
	assert.GreaterOrEqual(t, v, 1000.0)
	assert.Zero(t, int(v)%100)
}

func TestSeeder_Seed(t *testing.T) {
	ctx := context.Background()
	store := entities.NewStore(dbtest.Open(t), logger.Nop())
	graph := relationships.NewGraph(store, logger.Nop())
	engine := pipeline.NewEngine(store, graph, logger.Nop())
	seeder := NewSeeder(NewGenerator(1), store, graph, engine)
	scope := tenancy.User("ws-seed", "owner")

	report, err := seeder.Seed(ctx, scope, SeedConfig{Companies: 2, ContactsPerCompany: 2, DealsPerCompany: 3})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Companies)
	assert.Equal(t, 4, report.Contacts)
	assert.Equal(t, 6, report.Deals)
	assert.Equal(t, 4+6+6, report.Relationships)

	deals, err := store.Count(ctx, entities.FindOptions{Scope: scope, Types: []string{models.TypeDeal}})
	require.NoError(t, err)
	assert.Equal(t, 6, deals)

	stats, err := engine.GetPipelineStats(ctx, scope, report.PipelineID)
	require.NoError(t, err)
	assert.Equal(t, 6, stats.TotalDeals)

	t.Run("Success - Seeded records are visible to other members", func(t *testing.T) {
		n, err := store.Count(ctx, entities.FindOptions{Scope: tenancy.User("ws-seed", "teammate"), Types: []string{models.TypeCompany}})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}
