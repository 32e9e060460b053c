package tenancy

import (
	"entgo.io/ent/dialect/sql"
)

// EdgeQuery is a workspace-scoped query over the relationships table.
// Ownership of the endpoints is enforced when they are resolved through an
// EntityQuery.
type EdgeQuery struct {
	dialect string
	scope   Scope
	preds   []*sql.Predicate
	err     error
}

// Edges starts a relationship query for scope
func (b *Builder) Edges(scope Scope) *EdgeQuery {
	return &EdgeQuery{dialect: b.dialect, scope: scope, err: scope.Validate()}
}

// VisibleFrom matches edges traversable from entityID: every edge it is the
// source of, and bidirectional edges it is the target of.
func (q *EdgeQuery) VisibleFrom(entityID string) *EdgeQuery {
	q.preds = append(q.preds, sql.Or(
		sql.EQ(ColSourceEntityID, entityID),
		sql.And(sql.EQ(ColTargetEntityID, entityID), sql.EQ(ColBidirectional, true)),
	))
	return q
}

// Touching matches every edge with entityID at either end
func (q *EdgeQuery) Touching(entityID string) *EdgeQuery {
	q.preds = append(q.preds, sql.Or(
		sql.EQ(ColSourceEntityID, entityID),
		sql.EQ(ColTargetEntityID, entityID),
	))
	return q
}

// Between matches edges joining a and b in either direction
func (q *EdgeQuery) Between(a, b string) *EdgeQuery {
	q.preds = append(q.preds, sql.Or(
		sql.And(sql.EQ(ColSourceEntityID, a), sql.EQ(ColTargetEntityID, b)),
		sql.And(sql.EQ(ColSourceEntityID, b), sql.EQ(ColTargetEntityID, a)),
	))
	return q
}

// OfType restricts the relationship type; empty means any
func (q *EdgeQuery) OfType(relationshipType string) *EdgeQuery {
	if relationshipType != "" {
		q.preds = append(q.preds, sql.EQ(ColRelationshipType, relationshipType))
	}
	return q
}

// Predicate returns the full WHERE predicate
func (q *EdgeQuery) Predicate() (*sql.Predicate, error) {
	if q.err != nil {
		return nil, q.err
	}
	preds := append([]*sql.Predicate{sql.EQ(ColWorkspaceID, q.scope.WorkspaceID)}, q.preds...)
	return sql.And(preds...), nil
}

// Select renders the SELECT statement returning RelationshipColumns
func (q *EdgeQuery) Select() (string, []any, error) {
	pred, err := q.Predicate()
	if err != nil {
		return "", nil, err
	}
	query, args := sql.Dialect(q.dialect).
		Select(RelationshipColumns...).
		From(sql.Table(RelationshipsTable)).
		Where(pred).
		OrderBy(sql.Asc(ColCreatedAt), sql.Asc(ColID)).
		Query()
	return query, args, nil
}

// Delete renders the DELETE statement over the same predicate
func (q *EdgeQuery) Delete() (string, []any, error) {
	pred, err := q.Predicate()
	if err != nil {
		return "", nil, err
	}
	query, args := sql.Dialect(q.dialect).Delete(RelationshipsTable).Where(pred).Query()
	return query, args, nil
}
