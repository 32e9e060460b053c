// Package testdata generates realistic CRM records for demos and tests.
package testdata

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/jordanlanch/entityhub/pkg/entities"
	"github.com/jordanlanch/entityhub/pkg/models"
	"github.com/jordanlanch/entityhub/pkg/pipeline"
	"github.com/jordanlanch/entityhub/pkg/relationships"
	"github.com/jordanlanch/entityhub/pkg/tenancy"
)

// industries used for generated companies
var industries = []string{
	"software", "manufacturing", "healthcare", "retail", "logistics",
	"finance", "education", "hospitality", "construction", "media",
}

// SalesStages is the pipeline created for seeded workspaces
func SalesStages() []models.Stage {
	days := func(n int) *int { return &n }
	return []models.Stage{
		{Name: "Qualification", Probability: 10, RottenAfterDays: days(14)},
		{Name: "Discovery", Probability: 25, RottenAfterDays: days(14)},
		{Name: "Proposal", Probability: 50, RottenAfterDays: days(10)},
		{Name: "Negotiation", Probability: 75, RottenAfterDays: days(7)},
		{Name: "Closed Won", Probability: 100},
	}
}

// Generator produces entity data. The same seed yields the same records.
type Generator struct {
	faker *gofakeit.Faker
}

// NewGenerator creates a generator; seed 0 picks a random seed
func NewGenerator(seed int64) *Generator {
	return &Generator{faker: gofakeit.New(seed)}
}

// Company returns the data of a company entity
func (g *Generator) Company() map[string]any {
	name := g.faker.Company()
	domain := strings.ToLower(strings.NewReplacer(" ", "", ",", "", ".", "", "'", "").Replace(name))
	if len(domain) > 20 {
		domain = domain[:20]
	}
	return map[string]any{
		"name":      name,
		"industry":  g.faker.RandomString(industries),
		"website":   fmt.Sprintf("https://www.%s.com", domain),
		"employees": float64(g.faker.IntRange(5, 5000)),
		"city":      g.faker.City(),
		"country":   g.faker.Country(),
	}
}

// Contact returns the data of a contact working at company
func (g *Generator) Contact(company string) map[string]any {
	first, last := g.faker.FirstName(), g.faker.LastName()
	return map[string]any{
		"name":    first + " " + last,
		"email":   strings.ToLower(fmt.Sprintf("%s.%s@%s", first, last, g.faker.DomainName())),
		"phone":   g.faker.Phone(),
		"title":   g.faker.JobTitle(),
		"company": company,
		"status":  g.faker.RandomString([]string{"lead", "prospect", "customer"}),
	}
}

// DealName returns a plausible deal title for company
func (g *Generator) DealName(company string) string {
	return fmt.Sprintf("%s %s", company, g.faker.RandomString([]string{
		"Expansion", "Renewal", "Pilot", "Enterprise Plan", "Upgrade", "Integration",
	}))
}

// DealValue returns a value rounded to hundreds
func (g *Generator) DealValue() float64 {
	return math.Round(g.faker.Float64Range(1000, 250000)/100) * 100
}

// SeedConfig sizes a seeded workspace
type SeedConfig struct {
	Companies          int
	ContactsPerCompany int
	DealsPerCompany    int
}

// SeedReport counts what Seed created
type SeedReport struct {
	PipelineID    string
	Companies     int
	Contacts      int
	Deals         int
	Relationships int
}

// Seeder writes generated records through the regular services, so that
// activities and denormalized totals are produced as in production.
type Seeder struct {
	gen    *Generator
	store  *entities.Store
	graph  *relationships.Graph
	engine *pipeline.Engine
}

// NewSeeder creates a seeder
func NewSeeder(gen *Generator, store *entities.Store, graph *relationships.Graph, engine *pipeline.Engine) *Seeder {
	return &Seeder{gen: gen, store: store, graph: graph, engine: engine}
}

// Seed creates a sales pipeline, companies with their contacts and deals
// spread over the pipeline stages
func (s *Seeder) Seed(ctx context.Context, scope tenancy.Scope, cfg SeedConfig) (*SeedReport, error) {
	p, err := s.engine.CreatePipeline(ctx, scope, models.CreatePipelineRequest{
		Name:   "Sales",
		Stages: SalesStages(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	report := &SeedReport{PipelineID: p.ID}

	for i := 0; i < cfg.Companies; i++ {
		companyData := s.gen.Company()
		company, err := s.store.Create(ctx, scope, entities.CreateInput{Type: models.TypeCompany, Data: companyData, Shared: true})
		if err != nil {
			return report, fmt.Errorf("failed to create company: %w", err)
		}
		report.Companies++
		companyName, _ := companyData["name"].(string)

		var contactIDs []string
		for j := 0; j < cfg.ContactsPerCompany; j++ {
			contact, err := s.store.Create(ctx, scope, entities.CreateInput{Type: models.TypeContact, Data: s.gen.Contact(companyName), Shared: true})
			if err != nil {
				return report, fmt.Errorf("failed to create contact: %w", err)
			}
			report.Contacts++
			contactIDs = append(contactIDs, contact.ID)

			if _, err := s.graph.Link(ctx, scope, contact.ID, company.ID, models.RelWorksAt, relationships.LinkOptions{}); err != nil {
				return report, fmt.Errorf("failed to link contact: %w", err)
			}
			report.Relationships++
		}

		for j := 0; j < cfg.DealsPerCompany; j++ {
			req := models.CreateDealRequest{
				Name:       s.gen.DealName(companyName),
				Value:      s.gen.DealValue(),
				Currency:   "USD",
				PipelineID: p.ID,
				Stage:      p.Stages[(i+j)%len(p.Stages)].Name,
				CompanyID:  company.ID,
				Shared:     true,
			}
			if len(contactIDs) > 0 {
				req.ContactID = contactIDs[j%len(contactIDs)]
				report.Relationships++
			}
			if _, err := s.engine.CreateDeal(ctx, scope, req); err != nil {
				return report, fmt.Errorf("failed to create deal: %w", err)
			}
			report.Deals++
			report.Relationships++
		}
	}
	return report, nil
}
