package customfields

import (
	"context"
	"testing"
	"time"

	"github.com/jordanlanch/entityhub/pkg/activity"
	"github.com/jordanlanch/entityhub/pkg/database/dbtest"
	"github.com/jordanlanch/entityhub/pkg/domain"
	"github.com/jordanlanch/entityhub/pkg/entities"
	"github.com/jordanlanch/entityhub/pkg/logger"
	"github.com/jordanlanch/entityhub/pkg/models"
	"github.com/jordanlanch/entityhub/pkg/tenancy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *entities.Store
	registry *Registry
	timeline *activity.Timeline
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	f.store = entities.NewStore(dbtest.Open(t), logger.Nop())
	f.store.SetClock(func() time.Time { return f.now })
	f.timeline = activity.NewTimeline(f.store, logger.Nop())
	f.registry = NewRegistry(f.store, logger.Nop(), WithPhoneRegion("US"))
	return f
}

func (f *fixture) deal(t *testing.T, scope tenancy.Scope, name string) *models.Entity {
	t.Helper()
	e, err := f.store.Create(context.Background(), scope, entities.CreateInput{
		Type: models.TypeDeal,
		Data: map[string]any{"name": name, "value": 1000},
	})
	require.NoError(t, err)
	return e
}

func priority() models.FieldSpec {
	return models.FieldSpec{
		Key:   "priority",
		Label: "Priority",
		Type:  models.FieldSingleSelect,
		Options: []models.FieldOption{
			{Value: "low", Label: "Low"},
			{Value: "high", Label: "High"},
		},
	}
}

func TestRegistry_PrioritySelectScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := tenancy.Workspace("ws-1")

	field, err := f.registry.CreateCustomField(ctx, scope, models.TypeDeal, priority())
	require.NoError(t, err)
	d := f.deal(t, scope, "Renewal")

	_, err = f.registry.SetFieldValue(ctx, scope, d.ID, "priority", "high")
	require.NoError(t, err)

	found, err := f.store.Find(ctx, entities.FindOptions{Scope: scope, Types: []string{models.TypeDeal}})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "high", found[0].Data["priority"])
	assert.Equal(t, "Renewal", found[0].String("name"))

	events, err := f.timeline.GetEntityTimeline(ctx, scope, d.ID, activity.TimelineFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.ActivityCustomFieldValueSet, events[0].Type)
	assert.Equal(t, field.ID, events[0].Content["fieldId"])
}

func TestRegistry_CreateCustomField(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := tenancy.User("ws-1", "u-1")

	t.Run("Success - Key derived from label", func(t *testing.T) {
		def, err := f.registry.CreateCustomField(ctx, scope, models.TypeContact, models.FieldSpec{
			Label: "Employee Count",
			Type:  models.FieldNumber,
		})
		require.NoError(t, err)

		assert.Equal(t, "employee_count", def.Key)
		assert.Equal(t, models.FieldActive, def.Status)
		assert.Equal(t, "u-1", def.CreatedBy)
		assert.Equal(t, "ws-1", def.WorkspaceID)
	})

	t.Run("Success - Default value is coerced", func(t *testing.T) {
		def, err := f.registry.CreateCustomField(ctx, scope, models.TypeContact, models.FieldSpec{
			Label:        "Newsletter",
			Type:         models.FieldBoolean,
			Required:     true,
			DefaultValue: "yes",
		})
		require.NoError(t, err)
		assert.Equal(t, true, def.DefaultValue)
	})

	t.Run("Success - Same key on another entity type", func(t *testing.T) {
		_, err := f.registry.CreateCustomField(ctx, scope, models.TypeCompany, models.FieldSpec{
			Label: "Employee Count",
			Type:  models.FieldNumber,
		})
		assert.NoError(t, err)
	})

	tests := []struct {
		name       string
		entityType string
		spec       models.FieldSpec
	}{
		{"Duplicate key", models.TypeContact, models.FieldSpec{Label: "Employee count", Type: models.FieldNumber}},
		{"Built-in key", models.TypeDeal, models.FieldSpec{Key: "stage", Label: "Stage", Type: models.FieldText}},
		{"Invalid key", models.TypeDeal, models.FieldSpec{Key: "Bad Key", Label: "Bad", Type: models.FieldText}},
		{"Missing label", models.TypeDeal, models.FieldSpec{Type: models.FieldText}},
		{"Unknown type", models.TypeDeal, models.FieldSpec{Label: "X", Type: "matrix"}},
		{"Select without options", models.TypeDeal, models.FieldSpec{Label: "Tier", Type: models.FieldSingleSelect}},
		{"Option without label", models.TypeDeal, models.FieldSpec{Label: "Tier", Type: models.FieldSingleSelect, Options: []models.FieldOption{{Value: "a"}}}},
		{"Options on text", models.TypeDeal, models.FieldSpec{Label: "Note", Type: models.FieldText, Options: []models.FieldOption{{Label: "a"}}}},
		{"Min above max", models.TypeDeal, models.FieldSpec{Label: "Score", Type: models.FieldNumber, Validation: &models.FieldValidation{Min: ptr(10), Max: ptr(1)}}},
		{"Bad pattern", models.TypeDeal, models.FieldSpec{Label: "Code", Type: models.FieldText, Validation: &models.FieldValidation{Pattern: "("}}},
		{"Formula without expression", models.TypeDeal, models.FieldSpec{Label: "Margin", Type: models.FieldFormula, Computed: &models.ComputedSource{}}},
		{"Rollup with bad aggregation", models.TypeCompany, models.FieldSpec{Label: "Pipeline", Type: models.FieldRollup,
			Computed: &models.ComputedSource{RelationshipType: "company_deal", TargetField: "value", Aggregation: "median"}}},
		{"Invalid default", models.TypeDeal, models.FieldSpec{Label: "Budget", Type: models.FieldCurrency, DefaultValue: "lots"}},
		{"Fields on activity", models.TypeActivity, models.FieldSpec{Label: "X", Type: models.FieldText}},
	}
	for _, tt := range tests {
		t.Run("Error - "+tt.name, func(t *testing.T) {
			_, err := f.registry.CreateCustomField(ctx, scope, tt.entityType, tt.spec)
			assert.True(t, domain.IsValidation(err), "got %v", err)
		})
	}
}

func TestRegistry_SetFieldValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := tenancy.Workspace("ws-1")

	score, err := f.registry.CreateCustomField(ctx, scope, models.TypeDeal, models.FieldSpec{
		Label: "Score", Type: models.FieldNumber, Required: true,
		Validation: &models.FieldValidation{Min: ptr(0), Max: ptr(10)},
	})
	require.NoError(t, err)
	_, err = f.registry.CreateCustomField(ctx, scope, models.TypeDeal, models.FieldSpec{
		Label: "Margin", Type: models.FieldFormula, Computed: &models.ComputedSource{Expression: "value * 0.2"},
	})
	require.NoError(t, err)
	_, err = f.registry.CreateCustomField(ctx, scope, models.TypeDeal, models.FieldSpec{Label: "Next step", Type: models.FieldText})
	require.NoError(t, err)
	d := f.deal(t, scope, "A")

	t.Run("Success - By field id", func(t *testing.T) {
		updated, err := f.registry.SetFieldValue(ctx, scope, d.ID, score.ID, "7")
		require.NoError(t, err)
		assert.Equal(t, 7.0, updated.Data["score"])
	})

	t.Run("Success - Nil clears optional field", func(t *testing.T) {
		_, err := f.registry.SetFieldValue(ctx, scope, d.ID, "next_step", "call")
		require.NoError(t, err)
		updated, err := f.registry.SetFieldValue(ctx, scope, d.ID, "next_step", nil)
		require.NoError(t, err)
		assert.NotContains(t, updated.Data, "next_step")
	})

	t.Run("Error - Out of range", func(t *testing.T) {
		_, err := f.registry.SetFieldValue(ctx, scope, d.ID, "score", 11)
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("Error - Required field cannot be cleared", func(t *testing.T) {
		_, err := f.registry.SetFieldValue(ctx, scope, d.ID, "score", nil)
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("Error - Computed field", func(t *testing.T) {
		_, err := f.registry.SetFieldValue(ctx, scope, d.ID, "margin", 1)
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("Error - Unknown field", func(t *testing.T) {
		_, err := f.registry.SetFieldValue(ctx, scope, d.ID, "nope", 1)
		assert.True(t, domain.IsNotFound(err))
	})

	t.Run("Error - Field of another entity type", func(t *testing.T) {
		contact, err := f.store.Create(ctx, scope, entities.CreateInput{Type: models.TypeContact, Data: map[string]any{"name": "C"}})
		require.NoError(t, err)
		_, err = f.registry.SetFieldValue(ctx, scope, contact.ID, score.ID, 1)
		assert.True(t, domain.IsNotFound(err))
	})

	t.Run("Error - Entity in another workspace", func(t *testing.T) {
		_, err := f.registry.SetFieldValue(ctx, tenancy.Workspace("ws-2"), d.ID, "score", 1)
		assert.True(t, domain.IsNotFound(err))
	})
}

func TestRegistry_DeleteAndRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := tenancy.Workspace("ws-1")
	base := f.now

	field, err := f.registry.CreateCustomField(ctx, scope, models.TypeDeal, priority())
	require.NoError(t, err)
	a := f.deal(t, scope, "A")
	b := f.deal(t, scope, "B")
	_, err = f.registry.SetFieldValue(ctx, scope, a.ID, field.ID, "high")
	require.NoError(t, err)
	_, err = f.registry.SetFieldValue(ctx, scope, b.ID, field.ID, "low")
	require.NoError(t, err)

	t.Run("Success - Soft delete keeps values and restore recovers them", func(t *testing.T) {
		deleted, err := f.registry.DeleteCustomField(ctx, scope, field.ID, false)
		require.NoError(t, err)
		assert.Equal(t, models.FieldSoftDeleted, deleted.Status)
		require.NotNil(t, deleted.ExpiresAt)
		assert.Equal(t, base.Add(DefaultRetention), *deleted.ExpiresAt)

		active, err := f.registry.ListFields(ctx, scope, models.TypeDeal, false)
		require.NoError(t, err)
		assert.Empty(t, active)
		all, err := f.registry.ListFields(ctx, scope, models.TypeDeal, true)
		require.NoError(t, err)
		assert.Len(t, all, 1)

		_, err = f.registry.SetFieldValue(ctx, scope, a.ID, field.ID, "low")
		assert.True(t, domain.IsValidation(err))

		f.now = base.Add(time.Hour)
		restored, err := f.registry.RestoreCustomField(ctx, scope, field.ID)
		require.NoError(t, err)
		assert.Equal(t, models.FieldActive, restored.Status)
		assert.Nil(t, restored.ExpiresAt)

		got, err := f.registry.GetField(ctx, scope, field.ID)
		require.NoError(t, err)
		assert.Nil(t, got.DeletedAt)

		for id, want := range map[string]string{a.ID: "high", b.ID: "low"} {
			e, err := f.store.FindByID(ctx, scope, id)
			require.NoError(t, err)
			assert.Equal(t, want, e.Data["priority"])
		}
	})

	t.Run("Error - Restore an active field", func(t *testing.T) {
		_, err := f.registry.RestoreCustomField(ctx, scope, field.ID)
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("Error - Restore after the retention window", func(t *testing.T) {
		f.now = base
		_, err := f.registry.DeleteCustomField(ctx, scope, field.ID, false)
		require.NoError(t, err)

		_, err = f.registry.DeleteCustomField(ctx, scope, field.ID, false)
		assert.True(t, domain.IsConflict(err))

		f.now = base.Add(DefaultRetention + time.Minute)
		_, err = f.registry.RestoreCustomField(ctx, scope, field.ID)
		assert.True(t, domain.IsExpired(err))
	})

	t.Run("Success - PurgeExpired strips values and frees the key", func(t *testing.T) {
		n, err := f.registry.PurgeExpired(ctx, "ws-1", f.now)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = f.registry.GetField(ctx, scope, field.ID)
		assert.True(t, domain.IsNotFound(err))

		e, err := f.store.FindByID(ctx, scope, a.ID)
		require.NoError(t, err)
		assert.NotContains(t, e.Data, "priority")

		_, err = f.registry.CreateCustomField(ctx, scope, models.TypeDeal, priority())
		assert.NoError(t, err)
	})
}

func TestRegistry_DeleteWithRemoveData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := tenancy.Workspace("ws-1")

	field, err := f.registry.CreateCustomField(ctx, scope, models.TypeDeal, priority())
	require.NoError(t, err)
	d := f.deal(t, scope, "A")
	_, err = f.registry.SetFieldValue(ctx, scope, d.ID, "priority", "low")
	require.NoError(t, err)

	purged, err := f.registry.DeleteCustomField(ctx, scope, field.ID, true)
	require.NoError(t, err)
	assert.Equal(t, models.FieldPurged, purged.Status)

	e, err := f.store.FindByID(ctx, scope, d.ID)
	require.NoError(t, err)
	assert.NotContains(t, e.Data, "priority")

	_, err = f.registry.RestoreCustomField(ctx, scope, field.ID)
	assert.True(t, domain.IsNotFound(err))
}

func TestRegistry_PurgeExpiredKeepsOpenWindows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := tenancy.Workspace("ws-1")

	field, err := f.registry.CreateCustomField(ctx, scope, models.TypeDeal, priority())
	require.NoError(t, err)
	_, err = f.registry.DeleteCustomField(ctx, scope, field.ID, false)
	require.NoError(t, err)

	n, err := f.registry.PurgeExpired(ctx, "ws-1", f.now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := f.registry.GetField(ctx, scope, field.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FieldSoftDeleted, got.Status)
}

func TestRegistry_CreateFieldFromNaturalLanguage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := tenancy.Workspace("ws-1")

	t.Run("Success - Rule parser", func(t *testing.T) {
		def, err := f.registry.CreateFieldFromNaturalLanguage(ctx, scope,
			"add a single select field called priority with options low, medium and high to deals")
		require.NoError(t, err)

		assert.Equal(t, models.TypeDeal, def.EntityType)
		assert.Equal(t, "priority", def.Key)
		assert.Equal(t, models.FieldSingleSelect, def.Type)
		require.Len(t, def.Options, 3)
		assert.Equal(t, "medium", def.Options[1].Value)
	})

	t.Run("Error - Unparseable command", func(t *testing.T) {
		_, err := f.registry.CreateFieldFromNaturalLanguage(ctx, scope, "make it nicer please")
		assert.True(t, domain.IsValidation(err))
	})
}

func TestSuggestFields(t *testing.T) {
	suggestions := SuggestFields(models.TypeDeal, []string{"priority"})

	keys := map[string]bool{}
	for _, s := range suggestions {
		keys[s.Key] = true
	}
	assert.False(t, keys["priority"])
	assert.True(t, keys["next_step"])
	assert.True(t, keys["tags"])

	for _, s := range suggestions {
		if s.Key == "next_step" {
			assert.Equal(t, "Next Step", s.Label)
		}
	}
}

func TestKeyFromLabel(t *testing.T) {
	tests := map[string]string{
		"Employee Count":   "employee_count",
		"  Lead  Source! ": "lead_source",
		"2nd Phone":        "field_2nd_phone",
		"Año":              "a_o",
	}
	for label, want := range tests {
		t.Run(label, func(t *testing.T) {
			assert.Equal(t, want, KeyFromLabel(label))
		})
	}
}

func ptr(f float64) *float64 {
	return &f
}

func TestRegistry_ValidatesRecordWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := tenancy.User("ws-1", "u-1")

	field, err := f.registry.CreateCustomField(ctx, scope, models.TypeDeal, priority())
	require.NoError(t, err)
	d := f.deal(t, scope, "Renewal")

	t.Run("Success - Values are coerced on create and update", func(t *testing.T) {
		e, err := f.store.CreateRecord(ctx, scope, entities.CreateInput{
			Type: models.TypeDeal,
			Data: map[string]any{"name": "Expansion", "priority": "Low"},
		})
		require.NoError(t, err)
		assert.Equal(t, "low", e.String("priority"))

		e, err = f.store.UpdateRecord(ctx, scope, d.ID, entities.UpdateInput{Data: map[string]any{"priority": "HIGH"}})
		require.NoError(t, err)
		assert.Equal(t, "high", e.String("priority"))
	})

	t.Run("Success - Keys of other types pass through", func(t *testing.T) {
		e, err := f.store.CreateRecord(ctx, scope, entities.CreateInput{
			Type: models.TypeContact,
			Data: map[string]any{"name": "Ada", "priority": "bogus"},
		})
		require.NoError(t, err)
		assert.Equal(t, "bogus", e.String("priority"))
	})

	t.Run("Error - Value outside the options", func(t *testing.T) {
		_, err := f.store.UpdateRecord(ctx, scope, d.ID, entities.UpdateInput{Data: map[string]any{"priority": "bogus"}})
		assert.True(t, domain.IsValidation(err))

		got, err := f.store.FindByID(ctx, scope, d.ID)
		require.NoError(t, err)
		assert.Equal(t, "high", got.String("priority"))
	})

	t.Run("Error - Definitions cannot be revived through the record API", func(t *testing.T) {
		_, err := f.registry.DeleteCustomField(ctx, scope, field.ID, false)
		require.NoError(t, err)

		_, err = f.store.UpdateRecord(ctx, scope, field.ID, entities.UpdateInput{Data: map[string]any{"status": "active"}})
		assert.True(t, domain.IsValidation(err))

		def, err := f.registry.GetField(ctx, scope, field.ID)
		require.NoError(t, err)
		assert.False(t, def.IsActive())
	})

	t.Run("Error - Definitions cannot be created through the record API", func(t *testing.T) {
		_, err := f.store.CreateRecord(ctx, scope, entities.CreateInput{
			Type: models.TypeCustomField,
			Data: map[string]any{"entityType": models.TypeDeal, "key": "priority", "status": "active"},
		})
		assert.True(t, domain.IsValidation(err))

		defs, err := f.registry.ListFields(ctx, scope, models.TypeDeal, true)
		require.NoError(t, err)
		assert.Len(t, defs, 1)
	})

	t.Run("Success - Deleted definitions no longer coerce", func(t *testing.T) {
		e, err := f.store.UpdateRecord(ctx, scope, d.ID, entities.UpdateInput{Data: map[string]any{"priority": "bogus"}})
		require.NoError(t, err)
		assert.Equal(t, "bogus", e.String("priority"))
	})
}
