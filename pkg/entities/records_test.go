package entities

import (
	"context"
	"strings"
	"testing"

	"github.com/jordanlanch/entityhub/pkg/domain"
	"github.com/jordanlanch/entityhub/pkg/models"
	"github.com/jordanlanch/entityhub/pkg/tenancy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// upperValidator upper-cases the "code" key and refuses "blocked"
type upperValidator struct {
	calls int
}

func (v *upperValidator) ValidateData(_ context.Context, _ tenancy.Scope, _ string, data map[string]any) (map[string]any, error) {
	v.calls++
	out := make(map[string]any, len(data))
	for k, val := range data {
		out[k] = val
	}
	if s, ok := data["code"].(string); ok {
		if s == "blocked" {
			return nil, domain.NewValidationError("code is blocked")
		}
		out["code"] = strings.ToUpper(s)
	}
	return out, nil
}

func TestStore_CreateRecord(t *testing.T) {
	store := newTestStore(t)
	rec := &recordingTimeline{}
	store.SetActivityLogger(rec)
	validator := &upperValidator{}
	store.SetDataValidator(validator)
	ctx := context.Background()
	scope := tenancy.User("ws-1", "u-1")

	t.Run("Success - Validated and recorded", func(t *testing.T) {
		e, err := store.CreateRecord(ctx, scope, CreateInput{
			Type: models.TypeContact,
			Data: map[string]any{"name": "Ada", "code": "ab"},
		})
		require.NoError(t, err)
		assert.Equal(t, "AB", e.String("code"))

		last := rec.inputs[len(rec.inputs)-1]
		assert.Equal(t, models.ActivityEntityCreated, last.Type)
		assert.Equal(t, e.ID, last.EntityID)
		assert.Equal(t, "u-1", last.UserID)
	})

	t.Run("Error - Validator refusal", func(t *testing.T) {
		_, err := store.CreateRecord(ctx, scope, CreateInput{Type: models.TypeContact, Data: map[string]any{"code": "blocked"}})
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("Error - Built-in key of the wrong type", func(t *testing.T) {
		_, err := store.CreateRecord(ctx, scope, CreateInput{Type: models.TypeDeal, Data: map[string]any{"name": "Big", "value": "5k"}})
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("Error - Deal stage is set by the pipeline", func(t *testing.T) {
		_, err := store.CreateRecord(ctx, scope, CreateInput{Type: models.TypeDeal, Data: map[string]any{"name": "Big", "stage": "Won"}})
		assert.True(t, domain.IsValidation(err))
	})

	for _, typ := range []string{models.TypeCustomField, models.TypePipeline, models.TypeActivity} {
		t.Run("Error - Managed type "+typ, func(t *testing.T) {
			_, err := store.CreateRecord(ctx, scope, CreateInput{Type: typ, Data: map[string]any{"name": "x"}})
			assert.True(t, domain.IsValidation(err))
		})
	}
}

func TestStore_UpdateRecord(t *testing.T) {
	store := newTestStore(t)
	rec := &recordingTimeline{}
	store.SetActivityLogger(rec)
	store.SetDataValidator(&upperValidator{})
	ctx := context.Background()
	scope := tenancy.Workspace("ws-1")

	deal, err := store.Create(ctx, scope, CreateInput{Type: models.TypeDeal, Data: map[string]any{"name": "Big", "value": 100.0}})
	require.NoError(t, err)
	field, err := store.Create(ctx, scope, CreateInput{Type: models.TypeCustomField, Data: map[string]any{"status": "soft_deleted"}})
	require.NoError(t, err)

	t.Run("Success - Patch is validated and recorded", func(t *testing.T) {
		e, err := store.UpdateRecord(ctx, scope, deal.ID, UpdateInput{Data: map[string]any{"code": "x", "value": 250.0}})
		require.NoError(t, err)
		assert.Equal(t, "X", e.String("code"))
		assert.Equal(t, 250.0, e.Float("value"))

		last := rec.inputs[len(rec.inputs)-1]
		assert.Equal(t, models.ActivityEntityUpdated, last.Type)
		assert.Equal(t, []string{"code", "value"}, last.Content["fields"])
	})

	t.Run("Error - Merged data must decode", func(t *testing.T) {
		_, err := store.UpdateRecord(ctx, scope, deal.ID, UpdateInput{Data: map[string]any{"value": "5k"}})
		assert.True(t, domain.IsValidation(err))

		got, err := store.FindByID(ctx, scope, deal.ID)
		require.NoError(t, err)
		assert.Equal(t, 250.0, got.Float("value"))
	})

	t.Run("Error - Stage moves go through the pipeline", func(t *testing.T) {
		_, err := store.UpdateRecord(ctx, scope, deal.ID, UpdateInput{Data: map[string]any{"stage": "Won"}})
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("Error - Managed record cannot be revived", func(t *testing.T) {
		_, err := store.UpdateRecord(ctx, scope, field.ID, UpdateInput{Data: map[string]any{"status": "active"}})
		assert.True(t, domain.IsValidation(err))

		got, err := store.FindByID(ctx, scope, field.ID)
		require.NoError(t, err)
		assert.Equal(t, "soft_deleted", got.String("status"))
	})
}

func TestStore_DeleteRestoreRecord(t *testing.T) {
	store := newTestStore(t)
	rec := &recordingTimeline{}
	store.SetActivityLogger(rec)
	ctx := context.Background()
	scope := tenancy.Workspace("ws-1")

	contact, err := store.Create(ctx, scope, CreateInput{Type: models.TypeContact, Data: map[string]any{"name": "Ada"}})
	require.NoError(t, err)
	pipeline, err := store.Create(ctx, scope, CreateInput{Type: models.TypePipeline, Data: map[string]any{"name": "Sales"}})
	require.NoError(t, err)

	t.Run("Success - Delete and restore are recorded", func(t *testing.T) {
		require.NoError(t, store.DeleteRecord(ctx, scope, contact.ID))
		assert.Equal(t, models.ActivityEntityDeleted, rec.inputs[len(rec.inputs)-1].Type)

		_, err := store.RestoreRecord(ctx, scope, contact.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ActivityEntityRestored, rec.inputs[len(rec.inputs)-1].Type)
	})

	t.Run("Success - Purge records nothing", func(t *testing.T) {
		require.NoError(t, store.DeleteRecord(ctx, scope, contact.ID))
		before := len(rec.inputs)
		require.NoError(t, store.PurgeRecord(ctx, scope, contact.ID))
		assert.Len(t, rec.inputs, before)
	})

	t.Run("Error - Managed record cannot be deleted", func(t *testing.T) {
		err := store.DeleteRecord(ctx, scope, pipeline.ID)
		assert.True(t, domain.IsValidation(err))

		_, err = store.FindByID(ctx, scope, pipeline.ID)
		assert.NoError(t, err)
	})
}
