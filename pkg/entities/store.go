package entities

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/jordanlanch/entityhub/pkg/database"
	"github.com/jordanlanch/entityhub/pkg/domain"
	"github.com/jordanlanch/entityhub/pkg/logger"
	"github.com/jordanlanch/entityhub/pkg/models"
	"github.com/jordanlanch/entityhub/pkg/tenancy"
)

const (
	// DefaultLimit is applied when a find call passes no limit
	DefaultLimit = 50
	// MaxLimit caps a single page
	MaxLimit = 1000
	// DefaultRetention is how long soft-deleted entities stay restorable
	DefaultRetention = 30 * 24 * time.Hour
)

var typePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// ActivityLogger appends events to the activity timeline
type ActivityLogger interface {
	LogActivity(ctx context.Context, scope tenancy.Scope, in models.ActivityInput) (*models.ActivityEvent, error)
}

// Store persists polymorphic entities. Every statement is built through the
// tenancy builder so that the workspace and user predicates cannot be omitted.
type Store struct {
	db        *database.DB
	qb        *tenancy.Builder
	log       logger.Logger
	activity  ActivityLogger
	validator DataValidator
	retention time.Duration
	now       func() time.Time
}

// NewStore creates a new entity store
func NewStore(db *database.DB, log logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{
		db:        db,
		qb:        tenancy.NewBuilder(db.Dialect),
		log:       log.With("component", "entities"),
		retention: DefaultRetention,
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// SetActivityLogger wires the timeline used by LogActivity
func (s *Store) SetActivityLogger(a ActivityLogger) {
	s.activity = a
}

// SetRetention changes how long soft-deleted entities stay restorable
func (s *Store) SetRetention(d time.Duration) {
	if d > 0 {
		s.retention = d
	}
}

// Retention returns how long soft-deleted entities stay restorable
func (s *Store) Retention() time.Duration {
	return s.retention
}

// SetClock overrides the time source
func (s *Store) SetClock(now func() time.Time) {
	s.now = func() time.Time { return now().UTC().Truncate(time.Microsecond) }
}

// Now returns the store's current time
func (s *Store) Now() time.Time {
	return s.now()
}

// DB returns the underlying database handle
func (s *Store) DB() *database.DB {
	return s.db
}

// Builder returns the isolation query builder bound to the store's dialect
func (s *Store) Builder() *tenancy.Builder {
	return s.qb
}

// CreateInput describes a new entity
type CreateInput struct {
	// ID is optional; a UUID is generated when empty.
	ID            string
	Type          string
	Data          map[string]any
	Relationships []models.EntityRef
	Metadata      map[string]any
	// Shared creates a workspace-level record even for a user-scoped caller.
	Shared bool
}

// UpdateInput is a partial update. Data and Metadata are shallow-merged, a nil
// value removes the key. Relationships replaces the embedded list when non-nil.
type UpdateInput struct {
	Data          map[string]any
	Relationships []models.EntityRef
	Metadata      map[string]any
}

// FindOptions selects entities
type FindOptions struct {
	Scope          tenancy.Scope
	Types          []string
	IDs            []string
	Where          map[string]any
	Search         string
	OrderBy        string
	OrderDirection string
	Limit          int
	Offset         int
	IncludeDeleted bool
	OnlyDeleted    bool
}

// Create stamps the scope on a new entity and persists it
func (s *Store) Create(ctx context.Context, scope tenancy.Scope, in CreateInput) (*models.Entity, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if in.Type == "" {
		return nil, domain.NewValidationError("entity type is required")
	}
	if !typePattern.MatchString(in.Type) {
		return nil, domain.NewValidationErrorf("invalid entity type %q", in.Type)
	}
	if in.Data == nil {
		return nil, domain.NewValidationError("entity data is required")
	}

	now := s.now()
	e := &models.Entity{
		ID:            in.ID,
		WorkspaceID:   scope.WorkspaceID,
		Type:          in.Type,
		Data:          copyMap(in.Data),
		Relationships: in.Relationships,
		Metadata:      copyMap(in.Metadata),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Relationships == nil {
		e.Relationships = []models.EntityRef{}
	}
	if scope.IsUserScoped() {
		e.Metadata[models.MetaUserID] = scope.UserID
		if !in.Shared {
			e.UserID = scope.UserID
		}
	}

	data, rels, meta, err := encodeColumns(e)
	if err != nil {
		return nil, err
	}

	query, args := entsql.Dialect(s.db.Dialect).
		Insert(tenancy.EntitiesTable).
		Columns(
			tenancy.ColID, tenancy.ColWorkspaceID, tenancy.ColUserID, tenancy.ColType,
			tenancy.ColData, tenancy.ColRelationships, tenancy.ColMetadata, tenancy.ColSearchText,
			tenancy.ColCreatedAt, tenancy.ColUpdatedAt,
		).
		Values(
			e.ID, e.WorkspaceID, nullString(e.UserID), e.Type,
			data, rels, meta, SearchText(e.Type, e.Data),
			e.CreatedAt, e.UpdatedAt,
		).
		Query()

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to create entity: %w", err)
	}

	s.log.Debug("entity created", "workspace_id", e.WorkspaceID, "entity_id", e.ID, "type", e.Type)
	return e, nil
}

// FindByID returns an entity visible to scope. Absent, foreign, private and
// soft-deleted records all yield the same not found error.
func (s *Store) FindByID(ctx context.Context, scope tenancy.Scope, id string) (*models.Entity, error) {
	return s.QueryOne(ctx, s.qb.Entities(scope).IDs(id))
}

// FindByIDWithDeleted is FindByID including soft-deleted records
func (s *Store) FindByIDWithDeleted(ctx context.Context, scope tenancy.Scope, id string) (*models.Entity, error) {
	return s.QueryOne(ctx, s.qb.Entities(scope).IDs(id).WithDeleted())
}

// Find returns a page of entities matching opts
func (s *Store) Find(ctx context.Context, opts FindOptions) ([]models.Entity, error) {
	limit := opts.Limit
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}
	q := s.findQuery(opts).OrderBy(opts.OrderBy, opts.OrderDirection).Page(limit, opts.Offset)
	return s.Query(ctx, q)
}

// Count returns the number of entities matching opts, ignoring paging
func (s *Store) Count(ctx context.Context, opts FindOptions) (int, error) {
	return s.CountQuery(ctx, s.findQuery(opts))
}

// CountQuery returns the number of entities matching a builder query
func (s *Store) CountQuery(ctx context.Context, q *tenancy.EntityQuery) (int, error) {
	query, args, err := q.Count()
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count entities: %w", err)
	}
	return n, nil
}

func (s *Store) findQuery(opts FindOptions) *tenancy.EntityQuery {
	q := s.qb.Entities(opts.Scope).Types(opts.Types...).Search(opts.Search)
	if len(opts.IDs) > 0 {
		q.IDs(opts.IDs...)
	}
	for key, value := range opts.Where {
		q.WhereData(key, value)
	}
	switch {
	case opts.OnlyDeleted:
		q.OnlyDeleted()
	case opts.IncludeDeleted:
		q.WithDeleted()
	}
	return q
}

// Query runs a builder query and scans the resulting entities
func (s *Store) Query(ctx context.Context, q *tenancy.EntityQuery) ([]models.Entity, error) {
	query, args, err := q.Select()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	out := []models.Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entities: %w", err)
	}
	return out, nil
}

// QueryOne runs q and returns its single result or a not found error
func (s *Store) QueryOne(ctx context.Context, q *tenancy.EntityQuery) (*models.Entity, error) {
	found, err := s.Query(ctx, q.Page(1, 0))
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, domain.NewNotFoundError("entity")
	}
	return &found[0], nil
}

// Update shallow-merges in into the entity and bumps updatedAt
func (s *Store) Update(ctx context.Context, scope tenancy.Scope, id string, in UpdateInput) (*models.Entity, error) {
	e, err := s.FindByID(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if err := tenancy.PolicyFor(e.Type).CheckWrite(scope, e.UserID); err != nil {
		return nil, err
	}

	e.Data = Merge(e.Data, in.Data)
	e.Metadata = Merge(e.Metadata, in.Metadata)
	if in.Relationships != nil {
		e.Relationships = in.Relationships
	}
	e.UpdatedAt = s.now()

	data, rels, meta, err := encodeColumns(e)
	if err != nil {
		return nil, err
	}

	pred, err := s.qb.Entities(scope.WorkspaceOnly()).IDs(id).Predicate()
	if err != nil {
		return nil, err
	}
	query, args := entsql.Dialect(s.db.Dialect).
		Update(tenancy.EntitiesTable).
		Set(tenancy.ColData, data).
		Set(tenancy.ColRelationships, rels).
		Set(tenancy.ColMetadata, meta).
		Set(tenancy.ColSearchText, SearchText(e.Type, e.Data)).
		Set(tenancy.ColUpdatedAt, e.UpdatedAt).
		Where(pred).
		Query()

	if err := s.execOne(ctx, query, args); err != nil {
		return nil, fmt.Errorf("failed to update entity: %w", err)
	}
	return e, nil
}

// Delete soft-deletes an entity
func (s *Store) Delete(ctx context.Context, scope tenancy.Scope, id string) error {
	e, err := s.FindByID(ctx, scope, id)
	if err != nil {
		return err
	}
	if err := tenancy.PolicyFor(e.Type).CheckWrite(scope, e.UserID); err != nil {
		return err
	}

	now := s.now()
	pred, err := s.qb.Entities(scope.WorkspaceOnly()).IDs(id).Predicate()
	if err != nil {
		return err
	}
	query, args := entsql.Dialect(s.db.Dialect).
		Update(tenancy.EntitiesTable).
		Set(tenancy.ColDeletedAt, now).
		Set(tenancy.ColUpdatedAt, now).
		Where(pred).
		Query()

	if err := s.execOne(ctx, query, args); err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	return nil
}

// Restore brings a soft-deleted entity back while its retention window is open
func (s *Store) Restore(ctx context.Context, scope tenancy.Scope, id string) (*models.Entity, error) {
	e, err := s.QueryOne(ctx, s.qb.Entities(scope).IDs(id).OnlyDeleted())
	if err != nil {
		return nil, err
	}
	if s.now().After(e.DeletedAt.Add(s.retention)) {
		return nil, domain.NewExpiredError("entity retention window has elapsed")
	}

	now := s.now()
	pred, err := s.qb.Entities(scope.WorkspaceOnly()).IDs(id).OnlyDeleted().Predicate()
	if err != nil {
		return nil, err
	}
	query, args := entsql.Dialect(s.db.Dialect).
		Update(tenancy.EntitiesTable).
		SetNull(tenancy.ColDeletedAt).
		Set(tenancy.ColUpdatedAt, now).
		Where(pred).
		Query()

	if err := s.execOne(ctx, query, args); err != nil {
		return nil, fmt.Errorf("failed to restore entity: %w", err)
	}
	e.DeletedAt = nil
	e.UpdatedAt = now
	return e, nil
}

// Purge permanently removes a soft-deleted entity together with its edges
func (s *Store) Purge(ctx context.Context, scope tenancy.Scope, id string) error {
	e, err := s.FindByIDWithDeleted(ctx, scope, id)
	if err != nil {
		return err
	}
	if !e.IsDeleted() {
		return domain.NewConflictError("entity must be deleted before it can be purged")
	}
	return s.purge(ctx, scope.WorkspaceOnly(), id)
}

// PurgeDeleted permanently removes entities of a workspace that were
// soft-deleted before cutoff. It returns the number of purged entities.
func (s *Store) PurgeDeleted(ctx context.Context, workspaceID string, cutoff time.Time) (int, error) {
	scope := tenancy.Workspace(workspaceID)
	expired, err := s.Query(ctx, s.qb.Entities(scope).DeletedBefore(cutoff))
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, e := range expired {
		if err := s.purge(ctx, scope, e.ID); err != nil {
			s.log.Error("failed to purge entity", "workspace_id", workspaceID, "entity_id", e.ID, "error", err)
			continue
		}
		purged++
	}
	return purged, nil
}

func (s *Store) purge(ctx context.Context, scope tenancy.Scope, id string) error {
	edgeQuery, edgeArgs, err := s.qb.Edges(scope).Touching(id).Delete()
	if err != nil {
		return err
	}
	pred, err := s.qb.Entities(scope).IDs(id).WithDeleted().Predicate()
	if err != nil {
		return err
	}
	entityQuery, entityArgs := entsql.Dialect(s.db.Dialect).Delete(tenancy.EntitiesTable).Where(pred).Query()

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, edgeQuery, edgeArgs...); err != nil {
			return fmt.Errorf("failed to delete relationships: %w", err)
		}
		if _, err := tx.ExecContext(ctx, entityQuery, entityArgs...); err != nil {
			return fmt.Errorf("failed to purge entity: %w", err)
		}
		return nil
	})
}

// StripDataKey removes key from the data of every entity of entityType in a
// workspace, trashed records included. Entities are rewritten one by one;
// failures are collected and the remaining entities are still processed. It
// returns the number of rewritten entities.
func (s *Store) StripDataKey(ctx context.Context, workspaceID, entityType, key string) (int, error) {
	scope := tenancy.Workspace(workspaceID)
	found, err := s.Query(ctx, s.qb.Entities(scope).Types(entityType).WhereDataHasKey(key).WithDeleted())
	if err != nil {
		return 0, err
	}

	var (
		stripped int
		errs     []error
	)
	for i := range found {
		e := &found[i]
		delete(e.Data, key)
		e.UpdatedAt = s.now()

		data, _, _, err := encodeColumns(e)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		pred, err := s.qb.Entities(scope).IDs(e.ID).WithDeleted().Predicate()
		if err != nil {
			return stripped, err
		}
		query, args := entsql.Dialect(s.db.Dialect).
			Update(tenancy.EntitiesTable).
			Set(tenancy.ColData, data).
			Set(tenancy.ColSearchText, SearchText(e.Type, e.Data)).
			Set(tenancy.ColUpdatedAt, e.UpdatedAt).
			Where(pred).
			Query()
		if err := s.execOne(ctx, query, args); err != nil {
			errs = append(errs, fmt.Errorf("entity %s: %w", e.ID, err))
			continue
		}
		stripped++
	}
	return stripped, errors.Join(errs...)
}

// ActivityOptions carries the actor and origin of a logged activity
type ActivityOptions struct {
	UserID       string
	SourceModule string
	Participants []string
}

// LogActivity appends an event about entityID to the activity timeline
func (s *Store) LogActivity(ctx context.Context, scope tenancy.Scope, entityID, activityType string, payload map[string]any, opts ActivityOptions) (*models.ActivityEvent, error) {
	if s.activity == nil {
		return nil, errors.New("activity timeline is not configured")
	}
	userID := opts.UserID
	if userID == "" {
		userID = scope.UserID
	}
	module := opts.SourceModule
	if module == "" {
		module = models.ModuleEntities
	}
	return s.activity.LogActivity(ctx, scope, models.ActivityInput{
		EntityID:     entityID,
		Type:         activityType,
		Module:       module,
		Content:      payload,
		UserID:       userID,
		Participants: opts.Participants,
	})
}

// RecordActivity is LogActivity for side effects of business operations:
// failures are logged and otherwise ignored, and nothing is recorded when no
// timeline is configured.
func (s *Store) RecordActivity(ctx context.Context, scope tenancy.Scope, entityID, activityType string, payload map[string]any, opts ActivityOptions) {
	if s.activity == nil {
		return
	}
	if _, err := s.LogActivity(ctx, scope, entityID, activityType, payload, opts); err != nil {
		s.log.Warn("failed to record activity",
			"workspace_id", scope.WorkspaceID, "entity_id", entityID, "activity_type", activityType, "error", err)
	}
}

func (s *Store) execOne(ctx context.Context, query string, args []any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NewNotFoundError("entity")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*models.Entity, error) {
	var (
		e         models.Entity
		userID    sql.NullString
		data      []byte
		rels      []byte
		meta      []byte
		deletedAt sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.WorkspaceID, &userID, &e.Type, &data, &rels, &meta, &e.CreatedAt, &e.UpdatedAt, &deletedAt); err != nil {
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}
	e.UserID = userID.String
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	if deletedAt.Valid {
		t := deletedAt.Time.UTC()
		e.DeletedAt = &t
	}
	if err := unmarshalColumn(data, &e.Data); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(rels, &e.Relationships); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(meta, &e.Metadata); err != nil {
		return nil, err
	}
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	if e.Relationships == nil {
		e.Relationships = []models.EntityRef{}
	}
	return &e, nil
}

func unmarshalColumn(raw []byte, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode entity column: %w", err)
	}
	return nil
}

// encodeColumns renders the JSON columns as strings, which both lib/pq (for
// JSONB) and go-sqlite3 (for TEXT) accept.
func encodeColumns(e *models.Entity) (data, rels, meta string, err error) {
	var b []byte
	if b, err = json.Marshal(e.Data); err != nil {
		return "", "", "", domain.NewValidationErrorf("entity data is not serialisable: %v", err)
	}
	data = string(b)
	if b, err = json.Marshal(e.Relationships); err != nil {
		return "", "", "", domain.NewValidationErrorf("entity relationships are not serialisable: %v", err)
	}
	rels = string(b)
	if b, err = json.Marshal(e.Metadata); err != nil {
		return "", "", "", domain.NewValidationErrorf("entity metadata is not serialisable: %v", err)
	}
	meta = string(b)
	return data, rels, meta, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
