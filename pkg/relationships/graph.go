// Package relationships stores typed edges between entities of one workspace.
package relationships

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/jordanlanch/entityhub/pkg/domain"
	"github.com/jordanlanch/entityhub/pkg/entities"
	"github.com/jordanlanch/entityhub/pkg/logger"
	"github.com/jordanlanch/entityhub/pkg/metrics"
	"github.com/jordanlanch/entityhub/pkg/models"
	"github.com/jordanlanch/entityhub/pkg/tenancy"
)

// LinkOptions configures a new edge
type LinkOptions struct {
	// Bidirectional defaults to true when nil.
	Bidirectional *bool
	StrengthScore *int
	Metadata      map[string]any
}

// Graph manages relationship edges
type Graph struct {
	store   *entities.Store
	metrics *metrics.Metrics
	log     logger.Logger
}

// NewGraph creates a relationship graph over the entity store
func NewGraph(store *entities.Store, log logger.Logger) *Graph {
	if log == nil {
		log = logger.Nop()
	}
	return &Graph{store: store, log: log.With("component", "relationships")}
}

// WithMetrics enables business counters
func (g *Graph) WithMetrics(m *metrics.Metrics) *Graph {
	g.metrics = m
	return g
}

// Link stores one edge between idA and idB. Both endpoints must be visible in
// scope. Linking an existing (source, target, type) triple returns the
// stored edge, as does linking the reverse pair of a bidirectional edge. A
// bidirectional link over a one-way edge of either direction upgrades that
// edge instead of adding a second one.
func (g *Graph) Link(ctx context.Context, scope tenancy.Scope, idA, idB, relationshipType string, opts LinkOptions) (*models.Relationship, error) {
	if relationshipType == "" {
		return nil, domain.NewValidationError("relationship type is required")
	}
	if idA == "" || idB == "" {
		return nil, domain.NewValidationError("both entity ids are required")
	}
	if idA == idB {
		return nil, domain.NewValidationError("an entity cannot be linked to itself")
	}
	if opts.StrengthScore != nil && (*opts.StrengthScore < 0 || *opts.StrengthScore > 100) {
		return nil, domain.NewValidationError("strength score must be between 0 and 100")
	}
	for _, id := range []string{idA, idB} {
		if _, err := g.store.FindByID(ctx, scope, id); err != nil {
			return nil, err
		}
	}

	existing, err := g.query(ctx, g.store.Builder().Edges(scope).OfType(relationshipType).Between(idA, idB))
	if err != nil {
		return nil, err
	}
	bidirectional := opts.Bidirectional == nil || *opts.Bidirectional
	for i := range existing {
		edge := &existing[i]
		if edge.Bidirectional || (edge.SourceEntityID == idA && !bidirectional) {
			return edge, nil
		}
	}
	if bidirectional {
		for i := range existing {
			return g.makeBidirectional(ctx, scope, &existing[i])
		}
	}

	rel := &models.Relationship{
		ID:               uuid.NewString(),
		WorkspaceID:      scope.WorkspaceID,
		SourceEntityID:   idA,
		TargetEntityID:   idB,
		RelationshipType: relationshipType,
		Bidirectional:    bidirectional,
		StrengthScore:    opts.StrengthScore,
		Metadata:         opts.Metadata,
		CreatedAt:        g.store.Now(),
	}
	if rel.Metadata == nil {
		rel.Metadata = map[string]any{}
	}
	meta, err := json.Marshal(rel.Metadata)
	if err != nil {
		return nil, domain.NewValidationErrorf("relationship metadata is not serialisable: %v", err)
	}

	var strength any
	if rel.StrengthScore != nil {
		strength = *rel.StrengthScore
	}
	query, args := entsql.Dialect(g.store.Builder().Dialect()).
		Insert(tenancy.RelationshipsTable).
		Columns(tenancy.RelationshipColumns...).
		Values(rel.ID, rel.WorkspaceID, rel.SourceEntityID, rel.TargetEntityID,
			rel.RelationshipType, rel.Bidirectional, strength, string(meta), rel.CreatedAt).
		Query()

	if _, err := g.store.DB().ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to link entities: %w", err)
	}

	g.store.RecordActivity(ctx, scope, idA, models.ActivityEntitiesLinked,
		map[string]any{"targetEntityId": idB, "relationshipType": relationshipType, "bidirectional": rel.Bidirectional},
		entities.ActivityOptions{SourceModule: models.ModuleRelationships, Participants: []string{idB}})
	g.metrics.RecordRelationshipLinked(relationshipType)
	g.log.Debug("entities linked", "workspace_id", scope.WorkspaceID, "source", idA, "target", idB, "type", relationshipType)
	return rel, nil
}

func (g *Graph) makeBidirectional(ctx context.Context, scope tenancy.Scope, edge *models.Relationship) (*models.Relationship, error) {
	query, args := entsql.Dialect(g.store.Builder().Dialect()).
		Update(tenancy.RelationshipsTable).
		Set(tenancy.ColBidirectional, true).
		Where(entsql.And(
			entsql.EQ(tenancy.ColID, edge.ID),
			entsql.EQ(tenancy.ColWorkspaceID, scope.WorkspaceID),
		)).
		Query()
	if _, err := g.store.DB().ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to update relationship: %w", err)
	}
	edge.Bidirectional = true

	g.store.RecordActivity(ctx, scope, edge.SourceEntityID, models.ActivityEntitiesLinked,
		map[string]any{"targetEntityId": edge.TargetEntityID, "relationshipType": edge.RelationshipType, "bidirectional": true},
		entities.ActivityOptions{SourceModule: models.ModuleRelationships, Participants: []string{edge.TargetEntityID}})
	g.log.Debug("relationship made bidirectional", "workspace_id", scope.WorkspaceID, "relationship_id", edge.ID)
	return edge, nil
}

// Unlink removes every edge between idA and idB, in either direction.
// Unlinking entities that are not linked succeeds. It returns the number of
// removed edges.
func (g *Graph) Unlink(ctx context.Context, scope tenancy.Scope, idA, idB string) (int, error) {
	for _, id := range []string{idA, idB} {
		if _, err := g.store.FindByIDWithDeleted(ctx, scope, id); err != nil {
			if domain.IsNotFound(err) {
				return 0, nil
			}
			return 0, err
		}
	}

	query, args, err := g.store.Builder().Edges(scope).Between(idA, idB).Delete()
	if err != nil {
		return 0, err
	}
	res, err := g.store.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to unlink entities: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to unlink entities: %w", err)
	}
	if n > 0 {
		g.store.RecordActivity(ctx, scope, idA, models.ActivityEntitiesUnlinked,
			map[string]any{"targetEntityId": idB, "removed": n},
			entities.ActivityOptions{SourceModule: models.ModuleRelationships, Participants: []string{idB}})
	}
	return int(n), nil
}

// FindRelated resolves the entities reachable from entityID: targets of edges
// it is the source of, and sources of bidirectional edges it is the target
// of. Soft-deleted and invisible endpoints are left out.
func (g *Graph) FindRelated(ctx context.Context, scope tenancy.Scope, entityID, relationshipType string) ([]models.Entity, error) {
	if _, err := g.store.FindByID(ctx, scope, entityID); err != nil {
		return nil, err
	}

	edges, err := g.query(ctx, g.store.Builder().Edges(scope).VisibleFrom(entityID).OfType(relationshipType))
	if err != nil {
		return nil, err
	}
	if len(edges) == 0 {
		return []models.Entity{}, nil
	}

	ids := make([]string, 0, len(edges))
	seen := map[string]bool{}
	for i := range edges {
		other := edges[i].Other(entityID)
		if !seen[other] {
			seen[other] = true
			ids = append(ids, other)
		}
	}
	return g.store.Query(ctx, g.store.Builder().Entities(scope).IDs(ids...))
}

// Edges lists the raw edges touching entityID
func (g *Graph) Edges(ctx context.Context, scope tenancy.Scope, entityID string) ([]models.Relationship, error) {
	if _, err := g.store.FindByID(ctx, scope, entityID); err != nil {
		return nil, err
	}
	return g.query(ctx, g.store.Builder().Edges(scope).Touching(entityID))
}

func (g *Graph) query(ctx context.Context, q *tenancy.EdgeQuery) ([]models.Relationship, error) {
	query, args, err := q.Select()
	if err != nil {
		return nil, err
	}
	rows, err := g.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer rows.Close()

	out := []models.Relationship{}
	for rows.Next() {
		var (
			rel      models.Relationship
			strength sql.NullInt64
			meta     []byte
		)
		if err := rows.Scan(&rel.ID, &rel.WorkspaceID, &rel.SourceEntityID, &rel.TargetEntityID,
			&rel.RelationshipType, &rel.Bidirectional, &strength, &meta, &rel.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		if strength.Valid {
			s := int(strength.Int64)
			rel.StrengthScore = &s
		}
		rel.CreatedAt = rel.CreatedAt.UTC()
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &rel.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode relationship metadata: %w", err)
			}
		}
		if rel.Metadata == nil {
			rel.Metadata = map[string]any{}
		}
		out = append(out, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate relationships: %w", err)
	}
	return out, nil
}
