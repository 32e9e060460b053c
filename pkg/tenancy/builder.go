package tenancy

import (
	"regexp"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/sqljson"
	"github.com/jordanlanch/entityhub/pkg/domain"
)

// Tables
const (
	EntitiesTable      = "entities"
	RelationshipsTable = "relationships"
)

// Entity columns
const (
	ColID            = "id"
	ColWorkspaceID   = "workspace_id"
	ColUserID        = "user_id"
	ColType          = "type"
	ColData          = "data"
	ColRelationships = "relationships"
	ColMetadata      = "metadata"
	ColSearchText    = "search_text"
	ColCreatedAt     = "created_at"
	ColUpdatedAt     = "updated_at"
	ColDeletedAt     = "deleted_at"
)

// Relationship columns
const (
	ColSourceEntityID   = "source_entity_id"
	ColTargetEntityID   = "target_entity_id"
	ColRelationshipType = "relationship_type"
	ColBidirectional    = "bidirectional"
	ColStrengthScore    = "strength_score"
)

// EntityColumns is the column order used by every entity SELECT
var EntityColumns = []string{
	ColID, ColWorkspaceID, ColUserID, ColType, ColData, ColRelationships,
	ColMetadata, ColCreatedAt, ColUpdatedAt, ColDeletedAt,
}

// RelationshipColumns is the column order used by every relationship SELECT
var RelationshipColumns = []string{
	ColID, ColWorkspaceID, ColSourceEntityID, ColTargetEntityID,
	ColRelationshipType, ColBidirectional, ColStrengthScore, ColMetadata, ColCreatedAt,
}

// Data keys become JSON paths inside SQL, so only plain identifiers are allowed.
var dataKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// ValidDataKey reports whether key may be used in data filters and ordering
func ValidDataKey(key string) bool {
	return dataKeyPattern.MatchString(key)
}

// Builder constructs isolation-enforcing queries for one SQL dialect
type Builder struct {
	dialect string
}

// NewBuilder creates a builder for the given dialect (entgo.io/ent/dialect)
func NewBuilder(d string) *Builder {
	return &Builder{dialect: d}
}

// Dialect returns the SQL dialect of the builder
func (b *Builder) Dialect() string {
	return b.dialect
}

type deletedMode int

const (
	excludeDeleted deletedMode = iota
	includeDeleted
	onlyDeleted
)

// EntityQuery is a scoped query over the entities table. The workspace
// predicate and, for user scopes, the per-type visibility predicate are
// always applied.
type EntityQuery struct {
	dialect string
	scope   Scope
	types   []string
	preds   []*sql.Predicate
	deleted deletedMode
	orders  []func(*sql.Selector)
	limit   int
	offset  int
	err     error
}

// Entities starts an entity query for scope
func (b *Builder) Entities(scope Scope) *EntityQuery {
	return &EntityQuery{dialect: b.dialect, scope: scope, err: scope.Validate()}
}

// Types restricts the query to one or more discriminators
func (q *EntityQuery) Types(types ...string) *EntityQuery {
	for _, t := range types {
		if t != "" {
			q.types = append(q.types, t)
		}
	}
	return q
}

// IDs restricts the query to the given ids
func (q *EntityQuery) IDs(ids ...string) *EntityQuery {
	q.preds = append(q.preds, sql.In(ColID, toAny(ids)...))
	return q
}

// WhereData matches data[key] against value. A nil value matches records
// without the key; a slice matches any of its elements.
func (q *EntityQuery) WhereData(key string, value any) *EntityQuery {
	if !q.checkKey(key) {
		return q
	}
	switch v := value.(type) {
	case nil:
		q.preds = append(q.preds, sql.Not(sqljson.HasKey(ColData, sqljson.Path(key))))
	case []any:
		return q.WhereDataIn(key, v...)
	case []string:
		return q.WhereDataIn(key, toAny(v)...)
	case int:
		q.preds = append(q.preds, sqljson.ValueEQ(ColData, float64(v), sqljson.Path(key)))
	default:
		q.preds = append(q.preds, sqljson.ValueEQ(ColData, v, sqljson.Path(key)))
	}
	return q
}

// WhereDataIn matches data[key] against any of values
func (q *EntityQuery) WhereDataIn(key string, values ...any) *EntityQuery {
	if !q.checkKey(key) {
		return q
	}
	if len(values) == 0 {
		q.preds = append(q.preds, sql.False())
		return q
	}
	preds := make([]*sql.Predicate, 0, len(values))
	for _, v := range values {
		preds = append(preds, sqljson.ValueEQ(ColData, v, sqljson.Path(key)))
	}
	q.preds = append(q.preds, sql.Or(preds...))
	return q
}

// WhereDataHasKey matches records whose data carries key
func (q *EntityQuery) WhereDataHasKey(key string) *EntityQuery {
	if !q.checkKey(key) {
		return q
	}
	q.preds = append(q.preds, sqljson.HasKey(ColData, sqljson.Path(key)))
	return q
}

// Search performs a case-insensitive match over the precomputed search surface
func (q *EntityQuery) Search(term string) *EntityQuery {
	if term = strings.TrimSpace(term); term != "" {
		q.preds = append(q.preds, sql.ContainsFold(ColSearchText, strings.ToLower(term)))
	}
	return q
}

// OwnedBy narrows the query to records owned by one of userIDs. It never
// widens the visibility predicate of the scope.
func (q *EntityQuery) OwnedBy(userIDs ...string) *EntityQuery {
	q.preds = append(q.preds, sql.In(ColUserID, toAny(userIDs)...))
	return q
}

// SubjectVisible narrows records describing another entity to those whose
// subject the user scope may read. ownerKey and visibilityKey name the data
// keys holding the subject's owner and Visibility at write time; records
// without visibilityKey stay visible.
func (q *EntityQuery) SubjectVisible(ownerKey, visibilityKey string) *EntityQuery {
	if !q.checkKey(ownerKey) || !q.checkKey(visibilityKey) || !q.scope.IsUserScoped() {
		return q
	}
	visibility := sqljson.Path(visibilityKey)
	owned := sqljson.ValueEQ(ColData, q.scope.UserID, sqljson.Path(ownerKey))
	unowned := sql.Not(sqljson.HasKey(ColData, sqljson.Path(ownerKey)))
	q.preds = append(q.preds, sql.Or(
		sql.Not(sqljson.HasKey(ColData, visibility)),
		sqljson.ValueEQ(ColData, WorkspaceWide.String(), visibility),
		sql.And(sqljson.ValueEQ(ColData, OwnerOnly.String(), visibility), owned),
		sql.And(sqljson.ValueEQ(ColData, OwnerOrShared.String(), visibility), sql.Or(owned, unowned)),
	))
	return q
}

// CreatedBetween bounds created_at; nil bounds are open
func (q *EntityQuery) CreatedBetween(from, to *time.Time) *EntityQuery {
	if from != nil {
		q.preds = append(q.preds, sql.GTE(ColCreatedAt, from.UTC()))
	}
	if to != nil {
		q.preds = append(q.preds, sql.LTE(ColCreatedAt, to.UTC()))
	}
	return q
}

// WithDeleted includes soft-deleted records
func (q *EntityQuery) WithDeleted() *EntityQuery {
	q.deleted = includeDeleted
	return q
}

// OnlyDeleted returns soft-deleted records only
func (q *EntityQuery) OnlyDeleted() *EntityQuery {
	q.deleted = onlyDeleted
	return q
}

// DeletedBefore returns records soft-deleted before t
func (q *EntityQuery) DeletedBefore(t time.Time) *EntityQuery {
	q.deleted = onlyDeleted
	q.preds = append(q.preds, sql.LT(ColDeletedAt, t.UTC()))
	return q
}

// OrderBy sorts by a column (createdAt, updatedAt, type, id) or a data key.
// Direction is "asc" or "desc" (default).
func (q *EntityQuery) OrderBy(field, direction string) *EntityQuery {
	desc := !strings.EqualFold(direction, "asc")
	var col string
	switch field {
	case "", "createdAt", "created_at":
		col = ColCreatedAt
	case "updatedAt", "updated_at":
		col = ColUpdatedAt
	case "type":
		col = ColType
	case "id":
		col = ColID
	}

	if col != "" {
		q.orders = append(q.orders, func(s *sql.Selector) {
			if desc {
				s.OrderBy(sql.Desc(col))
			} else {
				s.OrderBy(sql.Asc(col))
			}
		})
		return q
	}

	if !q.checkKey(field) {
		return q
	}
	if desc {
		q.orders = append(q.orders, sqljson.OrderValueDesc(ColData, sqljson.Path(field)))
	} else {
		q.orders = append(q.orders, sqljson.OrderValue(ColData, sqljson.Path(field)))
	}
	return q
}

// Page applies limit and offset; a non-positive limit means no limit
func (q *EntityQuery) Page(limit, offset int) *EntityQuery {
	q.limit = limit
	if offset > 0 {
		q.offset = offset
	}
	return q
}

// Err returns the first error recorded while building
func (q *EntityQuery) Err() error {
	return q.err
}

// Predicate returns the full WHERE predicate, for UPDATE and DELETE statements
func (q *EntityQuery) Predicate() (*sql.Predicate, error) {
	if q.err != nil {
		return nil, q.err
	}

	preds := []*sql.Predicate{sql.EQ(ColWorkspaceID, q.scope.WorkspaceID)}
	switch len(q.types) {
	case 0:
	case 1:
		preds = append(preds, sql.EQ(ColType, q.types[0]))
	default:
		preds = append(preds, sql.In(ColType, toAny(q.types)...))
	}
	if q.scope.IsUserScoped() {
		if p := visibilityPredicate(q.scope.UserID, q.types); p != nil {
			preds = append(preds, p)
		}
	}
	switch q.deleted {
	case excludeDeleted:
		preds = append(preds, sql.IsNull(ColDeletedAt))
	case onlyDeleted:
		preds = append(preds, sql.NotNull(ColDeletedAt))
	}
	preds = append(preds, q.preds...)
	return sql.And(preds...), nil
}

// Select renders the SELECT statement returning EntityColumns
func (q *EntityQuery) Select() (string, []any, error) {
	pred, err := q.Predicate()
	if err != nil {
		return "", nil, err
	}

	s := sql.Dialect(q.dialect).Select(EntityColumns...).From(sql.Table(EntitiesTable)).Where(pred)
	if len(q.orders) == 0 {
		s.OrderBy(sql.Desc(ColCreatedAt))
	}
	for _, order := range q.orders {
		order(s)
	}
	s.OrderBy(sql.Asc(ColID))
	if q.limit > 0 {
		s.Limit(q.limit)
	}
	if q.offset > 0 {
		if q.limit <= 0 && q.dialect != dialect.Postgres {
			// SQLite requires LIMIT before OFFSET.
			s.Limit(-1)
		}
		s.Offset(q.offset)
	}
	query, args := s.Query()
	return query, args, nil
}

// Count renders a COUNT(*) over the same predicate
func (q *EntityQuery) Count() (string, []any, error) {
	pred, err := q.Predicate()
	if err != nil {
		return "", nil, err
	}
	s := sql.Dialect(q.dialect).Select().From(sql.Table(EntitiesTable)).Where(pred)
	s.Count()
	query, args := s.Query()
	return query, args, nil
}

func (q *EntityQuery) checkKey(key string) bool {
	if ValidDataKey(key) {
		return true
	}
	if q.err == nil {
		q.err = domain.NewValidationErrorf("invalid data key %q", key)
	}
	return false
}

// visibilityPredicate builds the ownership predicate of a user scope. With
// explicit types the rule of each type applies; without types every policy
// is applied to its own types and the default rule to the rest.
func visibilityPredicate(userID string, types []string) *sql.Predicate {
	if len(types) > 0 {
		groups := map[Visibility][]string{}
		for _, t := range types {
			v := PolicyFor(t).Visibility
			groups[v] = append(groups[v], t)
		}
		if len(groups) == 1 {
			for v := range groups {
				return ownershipPredicate(v, userID)
			}
		}
		var ors []*sql.Predicate
		for _, v := range []Visibility{OwnerOrShared, OwnerOnly, WorkspaceWide} {
			group, ok := groups[v]
			if !ok {
				continue
			}
			typePred := sql.In(ColType, toAny(group)...)
			if p := ownershipPredicate(v, userID); p != nil {
				ors = append(ors, sql.And(typePred, p))
			} else {
				ors = append(ors, typePred)
			}
		}
		return sql.Or(ors...)
	}

	workspaceTypes := typesWith(WorkspaceWide)
	ownerOnlyTypes := typesWith(OwnerOnly)
	listed := append(append([]string{}, workspaceTypes...), ownerOnlyTypes...)
	return sql.Or(
		sql.In(ColType, toAny(workspaceTypes)...),
		sql.And(sql.In(ColType, toAny(ownerOnlyTypes)...), ownershipPredicate(OwnerOnly, userID)),
		sql.And(sql.NotIn(ColType, toAny(listed)...), ownershipPredicate(OwnerOrShared, userID)),
	)
}

func ownershipPredicate(v Visibility, userID string) *sql.Predicate {
	switch v {
	case OwnerOnly:
		return sql.EQ(ColUserID, userID)
	case WorkspaceWide:
		return nil
	default:
		return sql.Or(sql.EQ(ColUserID, userID), sql.IsNull(ColUserID))
	}
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
