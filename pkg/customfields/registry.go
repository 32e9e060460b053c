// Package customfields manages per-workspace schema extensions and applies
// their values to entity data.
package customfields

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jordanlanch/entityhub/pkg/domain"
	"github.com/jordanlanch/entityhub/pkg/entities"
	"github.com/jordanlanch/entityhub/pkg/logger"
	"github.com/jordanlanch/entityhub/pkg/metrics"
	"github.com/jordanlanch/entityhub/pkg/models"
	"github.com/jordanlanch/entityhub/pkg/tenancy"
)

// DefaultRetention is the undo window of a soft-deleted field
const DefaultRetention = 30 * 24 * time.Hour

// Data keys of a custom_field entity that are used in queries
const (
	keyEntityType = "entityType"
	keyFieldKey   = "key"
	keyStatus     = "status"
)

var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// record is the stored data bag of a custom_field entity
type record struct {
	EntityType   string                  `json:"entityType"`
	Key          string                  `json:"key"`
	Label        string                  `json:"label"`
	FieldType    models.FieldType        `json:"fieldType"`
	Description  string                  `json:"description,omitempty"`
	Options      []models.FieldOption    `json:"options,omitempty"`
	Required     bool                    `json:"required"`
	DefaultValue any                     `json:"defaultValue,omitempty"`
	Validation   *models.FieldValidation `json:"validation,omitempty"`
	Computed     *models.ComputedSource  `json:"computed,omitempty"`
	Status       models.FieldStatus      `json:"status"`
	DeletedAt    *time.Time              `json:"deletedAt,omitempty"`
	ExpiresAt    *time.Time              `json:"expiresAt,omitempty"`
	CreatedBy    string                  `json:"createdBy,omitempty"`
}

// Registry is the custom field service
type Registry struct {
	store     *entities.Store
	coercer   *coercer
	parser    CommandParser
	retention time.Duration
	metrics   *metrics.Metrics
	log       logger.Logger
}

// Option configures a Registry
type Option func(*Registry)

// WithParser replaces the rule-based command parser
func WithParser(p CommandParser) Option {
	return func(r *Registry) { r.parser = p }
}

// WithRetention sets the undo window of soft-deleted fields
func WithRetention(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.retention = d
		}
	}
}

// WithPhoneRegion sets the region used to parse national phone numbers
func WithPhoneRegion(region string) Option {
	return func(r *Registry) { r.coercer = newCoercer(region) }
}

// WithMetrics enables business counters
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates a custom field registry
func NewRegistry(store *entities.Store, log logger.Logger, opts ...Option) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	r := &Registry{
		store:     store,
		coercer:   newCoercer(defaultPhoneRegion),
		parser:    NewRuleParser(),
		retention: DefaultRetention,
		log:       log.With("component", "customfields"),
	}
	for _, opt := range opts {
		opt(r)
	}
	store.SetDataValidator(r)
	return r
}

// CreateCustomField validates spec and stores a new active definition
func (r *Registry) CreateCustomField(ctx context.Context, scope tenancy.Scope, entityType string, spec models.FieldSpec) (*models.CustomFieldDefinition, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if entityType == "" {
		return nil, domain.NewValidationError("entity type is required")
	}
	if entityType == models.TypeCustomField || entityType == models.TypeActivity {
		return nil, domain.NewValidationErrorf("custom fields cannot be defined on %q", entityType)
	}

	def, err := r.buildDefinition(entityType, spec)
	if err != nil {
		return nil, err
	}

	taken, err := r.store.Count(ctx, entities.FindOptions{
		Scope: scope.WorkspaceOnly(),
		Types: []string{models.TypeCustomField},
		Where: map[string]any{keyEntityType: entityType, keyFieldKey: def.Key},
	})
	if err != nil {
		return nil, err
	}
	if taken > 0 {
		return nil, domain.NewValidationErrorf("custom field %q already exists for %s", def.Key, entityType)
	}

	rec := toRecord(def)
	rec.CreatedBy = scope.UserID
	data, err := rec.data()
	if err != nil {
		return nil, err
	}
	e, err := r.store.Create(ctx, scope, entities.CreateInput{
		Type:     models.TypeCustomField,
		Data:     data,
		Metadata: map[string]any{models.MetaSourceModule: models.ModuleCustomFields},
		Shared:   true,
	})
	if err != nil {
		return nil, err
	}

	r.store.RecordActivity(ctx, scope, e.ID, models.ActivityCustomFieldCreated,
		map[string]any{"key": def.Key, "entityType": entityType, "fieldType": string(def.Type)},
		entities.ActivityOptions{SourceModule: models.ModuleCustomFields})
	r.log.Info("custom field created", "workspace_id", scope.WorkspaceID, "entity_type", entityType, "key", def.Key)
	return fromEntity(e)
}

// ListFields returns the definitions of entityType (all types when empty).
// Soft-deleted definitions are included on request.
func (r *Registry) ListFields(ctx context.Context, scope tenancy.Scope, entityType string, includeDeleted bool) ([]models.CustomFieldDefinition, error) {
	statuses := []string{string(models.FieldActive)}
	if includeDeleted {
		statuses = append(statuses, string(models.FieldSoftDeleted))
	}
	q := r.store.Builder().Entities(scope).Types(models.TypeCustomField).
		WhereData(keyStatus, statuses).
		OrderBy("createdAt", "asc")
	if entityType != "" {
		q.WhereData(keyEntityType, entityType)
	}

	found, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]models.CustomFieldDefinition, 0, len(found))
	for i := range found {
		def, err := fromEntity(&found[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *def)
	}
	return out, nil
}

// GetField returns one definition by id
func (r *Registry) GetField(ctx context.Context, scope tenancy.Scope, fieldID string) (*models.CustomFieldDefinition, error) {
	e, err := r.store.QueryOne(ctx, r.store.Builder().Entities(scope).Types(models.TypeCustomField).IDs(fieldID))
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, domain.NewNotFoundError("custom field")
		}
		return nil, err
	}
	return fromEntity(e)
}

// SetFieldValue coerces value against the field referenced by fieldRef (an id
// or a key of the entity's type) and writes it into the entity data. A nil
// value clears an optional field.
func (r *Registry) SetFieldValue(ctx context.Context, scope tenancy.Scope, entityID, fieldRef string, value any) (*models.Entity, error) {
	target, err := r.store.FindByID(ctx, scope, entityID)
	if err != nil {
		return nil, err
	}
	def, err := r.resolveField(ctx, scope, target.Type, fieldRef)
	if err != nil {
		return nil, err
	}
	if !def.IsActive() {
		return nil, domain.NewValidationErrorf("custom field %q is deleted", def.Key)
	}

	var coerced any
	if value == nil {
		if def.Required {
			return nil, domain.NewValidationErrorf("custom field %q is required", def.Key)
		}
	} else {
		if coerced, err = r.coercer.Coerce(def, value); err != nil {
			return nil, err
		}
	}

	updated, err := r.store.Update(ctx, scope, entityID, entities.UpdateInput{Data: map[string]any{def.Key: coerced}})
	if err != nil {
		return nil, err
	}

	r.store.RecordActivity(ctx, scope, entityID, models.ActivityCustomFieldValueSet,
		map[string]any{"fieldId": def.ID, "key": def.Key, "value": coerced},
		entities.ActivityOptions{SourceModule: models.ModuleCustomFields})
	return updated, nil
}

// ValidateData coerces the values of data whose keys are active fields of
// entityType. Other keys pass through; a nil value clears an optional field.
func (r *Registry) ValidateData(ctx context.Context, scope tenancy.Scope, entityType string, data map[string]any) (map[string]any, error) {
	if len(data) == 0 {
		return data, nil
	}
	defs, err := r.ListFields(ctx, scope.WorkspaceOnly(), entityType, false)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	for i := range defs {
		def := &defs[i]
		value, ok := data[def.Key]
		if !ok {
			continue
		}
		if value == nil {
			if def.Required {
				return nil, domain.NewValidationErrorf("custom field %q is required", def.Key)
			}
			continue
		}
		coerced, err := r.coercer.Coerce(def, value)
		if err != nil {
			return nil, err
		}
		out[def.Key] = coerced
	}
	return out, nil
}

// DeleteCustomField soft-deletes a definition, keeping values for the
// retention window. With removeData the values are stripped at once and the
// definition is purged.
func (r *Registry) DeleteCustomField(ctx context.Context, scope tenancy.Scope, fieldID string, removeData bool) (*models.CustomFieldDefinition, error) {
	def, err := r.GetField(ctx, scope, fieldID)
	if err != nil {
		return nil, err
	}
	if def.Status == models.FieldSoftDeleted && !removeData {
		return nil, domain.NewConflictError("custom field is already deleted")
	}

	r.store.RecordActivity(ctx, scope, def.ID, models.ActivityCustomFieldDeleted,
		map[string]any{"key": def.Key, "entityType": def.EntityType, "removeData": removeData},
		entities.ActivityOptions{SourceModule: models.ModuleCustomFields})

	if removeData {
		return r.purge(ctx, scope.WorkspaceID, def)
	}

	now := r.store.Now()
	expires := now.Add(r.retention)
	def.Status = models.FieldSoftDeleted
	def.DeletedAt = &now
	def.ExpiresAt = &expires
	if err := r.save(ctx, scope, def); err != nil {
		return nil, err
	}
	return def, nil
}

// RestoreCustomField reactivates a soft-deleted definition within its
// retention window. Values were never removed, so they reappear unchanged.
func (r *Registry) RestoreCustomField(ctx context.Context, scope tenancy.Scope, fieldID string) (*models.CustomFieldDefinition, error) {
	def, err := r.GetField(ctx, scope, fieldID)
	if err != nil {
		return nil, err
	}
	if def.Status != models.FieldSoftDeleted {
		return nil, domain.NewValidationError("only deleted custom fields can be restored")
	}
	if def.ExpiresAt == nil || r.store.Now().After(*def.ExpiresAt) {
		return nil, domain.NewExpiredError("custom field retention window has elapsed")
	}

	def.Status = models.FieldActive
	def.DeletedAt = nil
	def.ExpiresAt = nil
	if err := r.save(ctx, scope, def); err != nil {
		return nil, err
	}

	r.store.RecordActivity(ctx, scope, def.ID, models.ActivityCustomFieldRestored,
		map[string]any{"key": def.Key, "entityType": def.EntityType},
		entities.ActivityOptions{SourceModule: models.ModuleCustomFields})
	return def, nil
}

// PurgeExpired purges the soft-deleted definitions of a workspace whose
// retention window ended before now. It returns the number of purged fields.
func (r *Registry) PurgeExpired(ctx context.Context, workspaceID string, now time.Time) (int, error) {
	scope := tenancy.Workspace(workspaceID)
	found, err := r.store.Query(ctx, r.store.Builder().Entities(scope).
		Types(models.TypeCustomField).
		WhereData(keyStatus, string(models.FieldSoftDeleted)))
	if err != nil {
		return 0, err
	}

	purged := 0
	for i := range found {
		def, err := fromEntity(&found[i])
		if err != nil {
			return purged, err
		}
		if def.ExpiresAt == nil || !now.After(*def.ExpiresAt) {
			continue
		}
		if _, err := r.purge(ctx, workspaceID, def); err != nil {
			r.log.Error("failed to purge custom field", "workspace_id", workspaceID, "field_id", def.ID, "error", err)
			continue
		}
		purged++
	}
	return purged, nil
}

// purge strips the field's values and removes the definition. When stripping
// fails for some entities the definition is kept so that a retry resumes.
func (r *Registry) purge(ctx context.Context, workspaceID string, def *models.CustomFieldDefinition) (*models.CustomFieldDefinition, error) {
	scope := tenancy.Workspace(workspaceID)
	stripped, err := r.store.StripDataKey(ctx, workspaceID, def.EntityType, def.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to strip custom field values: %w", err)
	}
	if err := r.store.Delete(ctx, scope, def.ID); err != nil {
		return nil, err
	}
	if err := r.store.Purge(ctx, scope, def.ID); err != nil {
		return nil, err
	}

	r.metrics.RecordFieldsPurged(1)
	r.log.Info("custom field purged", "workspace_id", workspaceID, "key", def.Key, "stripped_entities", stripped)

	now := r.store.Now()
	def.Status = models.FieldPurged
	if def.DeletedAt == nil {
		def.DeletedAt = &now
	}
	def.ExpiresAt = nil
	return def, nil
}

func (r *Registry) save(ctx context.Context, scope tenancy.Scope, def *models.CustomFieldDefinition) error {
	data, err := toRecord(def).data()
	if err != nil {
		return err
	}
	// Optional timestamps must be cleared explicitly in a shallow merge.
	for _, k := range []string{"deletedAt", "expiresAt"} {
		if _, ok := data[k]; !ok {
			data[k] = nil
		}
	}
	e, err := r.store.Update(ctx, scope, def.ID, entities.UpdateInput{Data: data})
	if err != nil {
		return err
	}
	def.UpdatedAt = e.UpdatedAt
	return nil
}

func (r *Registry) resolveField(ctx context.Context, scope tenancy.Scope, entityType, fieldRef string) (*models.CustomFieldDefinition, error) {
	q := r.store.Builder().Entities(scope).Types(models.TypeCustomField).WhereData(keyEntityType, entityType)
	byID, err := r.store.Query(ctx, q.IDs(fieldRef))
	if err != nil {
		return nil, err
	}
	if len(byID) == 0 {
		if !keyPattern.MatchString(fieldRef) {
			return nil, domain.NewNotFoundError("custom field")
		}
		byID, err = r.store.Query(ctx, r.store.Builder().Entities(scope).
			Types(models.TypeCustomField).
			WhereData(keyEntityType, entityType).
			WhereData(keyFieldKey, fieldRef))
		if err != nil {
			return nil, err
		}
	}
	if len(byID) == 0 {
		return nil, domain.NewNotFoundError("custom field")
	}
	return fromEntity(&byID[0])
}

// buildDefinition validates spec and returns the definition it describes
func (r *Registry) buildDefinition(entityType string, spec models.FieldSpec) (*models.CustomFieldDefinition, error) {
	label := strings.TrimSpace(spec.Label)
	if label == "" {
		return nil, domain.NewValidationError("field label is required")
	}
	info, ok := Lookup(spec.Type)
	if !ok {
		return nil, domain.NewValidationErrorf("unknown field type %q", spec.Type)
	}

	key := spec.Key
	if key == "" {
		key = KeyFromLabel(label)
	}
	if !keyPattern.MatchString(key) {
		return nil, domain.NewValidationErrorf("invalid field key %q", key)
	}
	if models.BuiltinKeys(entityType)[key] {
		return nil, domain.NewValidationErrorf("field key %q is reserved for %s", key, entityType)
	}

	def := &models.CustomFieldDefinition{
		EntityType:  entityType,
		Key:         key,
		Label:       label,
		Type:        spec.Type,
		Description: spec.Description,
		Required:    spec.Required,
		Validation:  spec.Validation,
		Computed:    spec.Computed,
		Status:      models.FieldActive,
	}

	if err := checkOptions(info, def, spec.Options); err != nil {
		return nil, err
	}
	if err := checkValidation(info, spec.Validation); err != nil {
		return nil, err
	}
	if err := checkComputed(info, spec.Computed); err != nil {
		return nil, err
	}

	if spec.DefaultValue != nil {
		if info.Computed {
			return nil, domain.NewValidationError("computed fields cannot have a default value")
		}
		v, err := r.coercer.Coerce(def, spec.DefaultValue)
		if err != nil {
			return nil, err
		}
		def.DefaultValue = v
	}
	return def, nil
}

func checkOptions(info TypeInfo, def *models.CustomFieldDefinition, options []models.FieldOption) error {
	if !info.SupportsOptions {
		if len(options) > 0 {
			return domain.NewValidationErrorf("%s fields do not take options", info.Type)
		}
		return nil
	}
	if len(options) == 0 {
		return domain.NewValidationError("selection fields require at least one option")
	}

	seen := map[string]bool{}
	for _, opt := range options {
		opt.Label = strings.TrimSpace(opt.Label)
		if opt.Label == "" {
			return domain.NewValidationError("every option needs a label")
		}
		if opt.Value == "" {
			opt.Value = KeyFromLabel(opt.Label)
		}
		if seen[opt.Value] {
			return domain.NewValidationErrorf("duplicate option %q", opt.Value)
		}
		seen[opt.Value] = true
		def.Options = append(def.Options, opt)
	}
	return nil
}

func checkValidation(info TypeInfo, v *models.FieldValidation) error {
	if v == nil {
		return nil
	}
	if (v.Min != nil || v.Max != nil) && (!info.SupportsRange || info.Type == models.FieldDate) {
		return domain.NewValidationErrorf("%s fields do not take min/max", info.Type)
	}
	if v.Min != nil && v.Max != nil && *v.Min > *v.Max {
		return domain.NewValidationError("min must not exceed max")
	}
	if v.MinDate != "" || v.MaxDate != "" {
		if info.Type != models.FieldDate {
			return domain.NewValidationErrorf("%s fields do not take date bounds", info.Type)
		}
		for _, d := range []string{v.MinDate, v.MaxDate} {
			if d == "" {
				continue
			}
			if _, err := time.Parse(dateLayout, d); err != nil {
				return domain.NewValidationErrorf("invalid date bound %q", d)
			}
		}
		if v.MinDate != "" && v.MaxDate != "" && v.MinDate > v.MaxDate {
			return domain.NewValidationError("minDate must not be after maxDate")
		}
	}
	if v.Pattern != "" {
		if !info.SupportsPattern {
			return domain.NewValidationErrorf("%s fields do not take a pattern", info.Type)
		}
		if _, err := regexp.Compile(v.Pattern); err != nil {
			return domain.NewValidationErrorf("invalid pattern: %v", err)
		}
	}
	return nil
}

func checkComputed(info TypeInfo, c *models.ComputedSource) error {
	if !info.Computed {
		if c != nil {
			return domain.NewValidationErrorf("%s fields are not computed", info.Type)
		}
		return nil
	}
	if c == nil {
		return domain.NewValidationErrorf("%s fields require a computed source", info.Type)
	}
	switch info.Type {
	case models.FieldFormula:
		if strings.TrimSpace(c.Expression) == "" {
			return domain.NewValidationError("formula fields require an expression")
		}
	case models.FieldRollup:
		if c.RelationshipType == "" || c.TargetField == "" {
			return domain.NewValidationError("rollup fields require a relationship type and a target field")
		}
		switch c.Aggregation {
		case AggCount, AggSum, AggAvg, AggMin, AggMax:
		default:
			return domain.NewValidationErrorf("unsupported rollup aggregation %q", c.Aggregation)
		}
	case models.FieldLookup:
		if c.RelationshipType == "" || c.TargetField == "" {
			return domain.NewValidationError("lookup fields require a relationship type and a target field")
		}
	}
	return nil
}

func toRecord(def *models.CustomFieldDefinition) record {
	return record{
		EntityType:   def.EntityType,
		Key:          def.Key,
		Label:        def.Label,
		FieldType:    def.Type,
		Description:  def.Description,
		Options:      def.Options,
		Required:     def.Required,
		DefaultValue: def.DefaultValue,
		Validation:   def.Validation,
		Computed:     def.Computed,
		Status:       def.Status,
		DeletedAt:    def.DeletedAt,
		ExpiresAt:    def.ExpiresAt,
		CreatedBy:    def.CreatedBy,
	}
}

func (rec record) data() (map[string]any, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, domain.NewValidationErrorf("custom field is not serialisable: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("failed to encode custom field: %w", err)
	}
	return out, nil
}

func fromEntity(e *models.Entity) (*models.CustomFieldDefinition, error) {
	b, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode custom field: %w", err)
	}
	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode custom field: %w", err)
	}
	return &models.CustomFieldDefinition{
		ID:           e.ID,
		WorkspaceID:  e.WorkspaceID,
		EntityType:   rec.EntityType,
		Key:          rec.Key,
		Label:        rec.Label,
		Type:         rec.FieldType,
		Description:  rec.Description,
		Options:      rec.Options,
		Required:     rec.Required,
		DefaultValue: rec.DefaultValue,
		Validation:   rec.Validation,
		Computed:     rec.Computed,
		Status:       rec.Status,
		DeletedAt:    rec.DeletedAt,
		ExpiresAt:    rec.ExpiresAt,
		CreatedBy:    rec.CreatedBy,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}, nil
}
