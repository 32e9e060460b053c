// Package activity implements the append-only activity timeline. Events are
// stored as immutable entities of type activity.
package activity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jordanlanch/entityhub/pkg/cache"
	"github.com/jordanlanch/entityhub/pkg/domain"
	"github.com/jordanlanch/entityhub/pkg/entities"
	"github.com/jordanlanch/entityhub/pkg/logger"
	"github.com/jordanlanch/entityhub/pkg/metrics"
	"github.com/jordanlanch/entityhub/pkg/models"
	"github.com/jordanlanch/entityhub/pkg/tenancy"
	"github.com/oklog/ulid/v2"
)

// Data keys of an activity entity
const (
	keyEntityID     = "entityId"
	keyActivityType = "activityType"
	keyModule       = "module"
	keyContent      = "content"
	keyParticipants = "participants"

	// Owner and visibility of the subject entity when the event was written
	keySubjectOwner      = "subjectOwnerId"
	keySubjectVisibility = "subjectVisibility"
)

const (
	defaultWindowDays = 30
	maxWindowDays     = 365
	defaultTopN       = 5
	summaryNamespace  = "activity-summary"
)

// maxSummaryEvents bounds the number of events read into one aggregation
var maxSummaryEvents = 10000

// TimelineFilter narrows a timeline read
type TimelineFilter struct {
	Types     []string
	Modules   []string
	EntityIDs []string
	UserIDs   []string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// Timeline is the activity log service
type Timeline struct {
	store    *entities.Store
	validate *validator.Validate
	cache    cache.Cache
	cacheTTL time.Duration
	metrics  *metrics.Metrics
	log      logger.Logger
}

// NewTimeline creates a timeline on top of the entity store and registers
// itself as the store's activity logger.
func NewTimeline(store *entities.Store, log logger.Logger) *Timeline {
	if log == nil {
		log = logger.Nop()
	}
	t := &Timeline{
		store:    store,
		validate: validator.New(),
		log:      log.With("component", "activity"),
	}
	store.SetActivityLogger(t)
	return t
}

// WithCache enables caching of summaries
func (t *Timeline) WithCache(c cache.Cache, ttl time.Duration) *Timeline {
	t.cache = c
	t.cacheTTL = ttl
	return t
}

// WithMetrics enables business counters
func (t *Timeline) WithMetrics(m *metrics.Metrics) *Timeline {
	t.metrics = m
	return t
}

// LogActivity appends one immutable event. The primary entity must be visible
// to scope; events may be logged about records already in the trash.
func (t *Timeline) LogActivity(ctx context.Context, scope tenancy.Scope, in models.ActivityInput) (*models.ActivityEvent, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := t.validate.StructCtx(ctx, in); err != nil {
		return nil, domain.NewValidationError(validationMessage(err))
	}
	subject, err := t.store.FindByIDWithDeleted(ctx, scope, in.EntityID)
	if err != nil {
		return nil, err
	}

	actor := in.UserID
	if actor == "" {
		actor = scope.UserID
	}
	participants := in.Participants
	if participants == nil {
		participants = []string{}
	}
	content := in.Content
	if content == nil {
		content = map[string]any{}
	}
	meta := map[string]any{models.MetaSourceModule: in.Module}
	for k, v := range in.Metadata {
		meta[k] = v
	}

	data := map[string]any{
		keyEntityID:          in.EntityID,
		keyActivityType:      in.Type,
		keyModule:            in.Module,
		keyContent:           content,
		keyParticipants:      participants,
		keySubjectVisibility: tenancy.PolicyFor(subject.Type).Visibility.String(),
	}
	if subject.UserID != "" {
		data[keySubjectOwner] = subject.UserID
	}

	now := t.store.Now()
	e, err := t.store.Create(ctx, tenancy.User(scope.WorkspaceID, actor), entities.CreateInput{
		ID:            ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Type:          models.TypeActivity,
		Data:          data,
		Relationships: []models.EntityRef{{EntityID: in.EntityID}},
		Metadata:      meta,
	})
	if err != nil {
		return nil, err
	}

	t.metrics.RecordActivityLogged(in.Module)
	t.invalidate(ctx, scope.WorkspaceID)
	return ToEvent(e), nil
}

// BulkLogActivities logs each event independently and reports one result per
// input, in order. A failing event does not affect the others.
func (t *Timeline) BulkLogActivities(ctx context.Context, scope tenancy.Scope, inputs []models.ActivityInput) []models.BulkLogResult {
	results := make([]models.BulkLogResult, len(inputs))
	for i, in := range inputs {
		results[i].Index = i
		ev, err := t.LogActivity(ctx, scope, in)
		if err != nil {
			results[i].Error = err.Error()
			continue
		}
		results[i].Event = ev
	}
	return results
}

// GetEntityTimeline returns the events of one entity, newest first
func (t *Timeline) GetEntityTimeline(ctx context.Context, scope tenancy.Scope, entityID string, f TimelineFilter) ([]models.ActivityEvent, error) {
	if _, err := t.store.FindByIDWithDeleted(ctx, scope, entityID); err != nil {
		return nil, err
	}
	f.EntityIDs = []string{entityID}
	return t.GetGlobalTimeline(ctx, scope, f)
}

// GetGlobalTimeline returns workspace events, newest first
func (t *Timeline) GetGlobalTimeline(ctx context.Context, scope tenancy.Scope, f TimelineFilter) ([]models.ActivityEvent, error) {
	limit := f.Limit
	switch {
	case limit <= 0:
		limit = entities.DefaultLimit
	case limit > entities.MaxLimit:
		limit = entities.MaxLimit
	}

	found, err := t.store.Query(ctx, t.query(scope, f).Page(limit, f.Offset))
	if err != nil {
		return nil, err
	}
	return toEvents(found), nil
}

func (t *Timeline) query(scope tenancy.Scope, f TimelineFilter) *tenancy.EntityQuery {
	q := t.store.Builder().Entities(scope).Types(models.TypeActivity).
		SubjectVisible(keySubjectOwner, keySubjectVisibility).
		CreatedBetween(f.From, f.To)
	if len(f.Types) > 0 {
		q.WhereData(keyActivityType, f.Types)
	}
	if len(f.Modules) > 0 {
		q.WhereData(keyModule, f.Modules)
	}
	if len(f.EntityIDs) > 0 {
		q.WhereData(keyEntityID, f.EntityIDs)
	}
	if len(f.UserIDs) > 0 {
		q.OwnedBy(f.UserIDs...)
	}
	return q.OrderBy("createdAt", "desc").OrderBy("id", "desc")
}

// GetActivitySummary aggregates the events of the last windowDays days, for
// one entity or, with an empty entityID, the whole workspace.
func (t *Timeline) GetActivitySummary(ctx context.Context, scope tenancy.Scope, entityID string, windowDays int) (*models.ActivitySummary, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	windowDays = clampWindow(windowDays)
	if entityID != "" {
		if _, err := t.store.FindByIDWithDeleted(ctx, scope, entityID); err != nil {
			return nil, err
		}
	}

	key := cache.Key(summaryNamespace, scope.WorkspaceID, viewerKey(scope), entityKey(entityID), strconv.Itoa(windowDays))
	if t.cache != nil {
		var cached models.ActivitySummary
		err := t.cache.GetJSON(ctx, key, &cached)
		if err == nil {
			t.metrics.RecordCacheHit("redis")
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			t.log.Warn("activity summary cache read failed", "workspace_id", scope.WorkspaceID, "error", err)
		}
		t.metrics.RecordCacheMiss("redis")
	}

	since := t.store.Now().Add(-time.Duration(windowDays) * 24 * time.Hour)
	f := TimelineFilter{From: &since}
	if entityID != "" {
		f.EntityIDs = []string{entityID}
	}
	found, err := t.store.Query(ctx, t.query(scope, f).Page(maxSummaryEvents+1, 0))
	if err != nil {
		return nil, err
	}
	truncated := len(found) > maxSummaryEvents
	if truncated {
		found = found[:maxSummaryEvents]
		t.log.Warn("activity summary truncated",
			"workspace_id", scope.WorkspaceID, "entity_id", entityID, "limit", maxSummaryEvents)
	}

	summary := Summarize(toEvents(found), since)
	summary.WorkspaceID = scope.WorkspaceID
	summary.EntityID = entityID
	summary.WindowDays = windowDays
	summary.Truncated = truncated

	if t.cache != nil {
		if err := t.cache.SetJSON(ctx, key, summary, t.cacheTTL); err != nil {
			t.log.Warn("activity summary cache write failed", "workspace_id", scope.WorkspaceID, "error", err)
		}
	}
	return &summary, nil
}

// GetActivityInsights layers rankings and engagement signals over the summary
func (t *Timeline) GetActivityInsights(ctx context.Context, scope tenancy.Scope, entityID string, windowDays, topN int) (*models.ActivityInsights, error) {
	summary, err := t.GetActivitySummary(ctx, scope, entityID, windowDays)
	if err != nil {
		return nil, err
	}
	insights := Insights(*summary, topN, t.store.Now())
	return &insights, nil
}

func (t *Timeline) invalidate(ctx context.Context, workspaceID string) {
	if t.cache == nil {
		return
	}
	if err := t.cache.DeletePattern(ctx, cache.WorkspacePattern(summaryNamespace, workspaceID)); err != nil {
		t.log.Warn("activity summary cache invalidation failed", "workspace_id", workspaceID, "error", err)
	}
}

// ToEvent converts an activity entity into its event view
func ToEvent(e *models.Entity) *models.ActivityEvent {
	ev := &models.ActivityEvent{
		ID:           e.ID,
		WorkspaceID:  e.WorkspaceID,
		EntityID:     e.String(keyEntityID),
		Type:         e.String(keyActivityType),
		Module:       e.String(keyModule),
		Content:      map[string]any{},
		Participants: []string{},
		UserID:       e.UserID,
		CreatedAt:    e.CreatedAt,
	}
	if content, ok := e.Data[keyContent].(map[string]any); ok {
		ev.Content = content
	}
	switch p := e.Data[keyParticipants].(type) {
	case []string:
		ev.Participants = p
	case []any:
		for _, v := range p {
			if s, ok := v.(string); ok {
				ev.Participants = append(ev.Participants, s)
			}
		}
	}
	for k, v := range e.Metadata {
		if k == models.MetaUserID || k == models.MetaSourceModule {
			continue
		}
		if ev.Metadata == nil {
			ev.Metadata = map[string]any{}
		}
		ev.Metadata[k] = v
	}
	return ev
}

func toEvents(found []models.Entity) []models.ActivityEvent {
	out := make([]models.ActivityEvent, 0, len(found))
	for i := range found {
		out = append(out, *ToEvent(&found[i]))
	}
	return out
}

func clampWindow(days int) int {
	switch {
	case days <= 0:
		return defaultWindowDays
	case days > maxWindowDays:
		return maxWindowDays
	}
	return days
}

func viewerKey(scope tenancy.Scope) string {
	if scope.IsUserScoped() {
		return "u:" + scope.UserID
	}
	return "_all"
}

func entityKey(entityID string) string {
	if entityID == "" {
		return "_workspace"
	}
	return entityID
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("field %s failed on the '%s' rule", fe.Field(), fe.Tag())
	}
	return err.Error()
}
