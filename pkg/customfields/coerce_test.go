package customfields

import (
	"testing"

	"github.com/jordanlanch/entityhub/pkg/domain"
	"github.com/jordanlanch/entityhub/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func def(t models.FieldType, opts ...func(*models.CustomFieldDefinition)) *models.CustomFieldDefinition {
	d := &models.CustomFieldDefinition{Key: "f", Type: t, Status: models.FieldActive}
	for _, o := range opts {
		o(d)
	}
	return d
}

func withOptions(labels ...string) func(*models.CustomFieldDefinition) {
	return func(d *models.CustomFieldDefinition) {
		for _, l := range labels {
			d.Options = append(d.Options, models.FieldOption{Value: KeyFromLabel(l), Label: l})
		}
	}
}

func withRange(lo, hi float64) func(*models.CustomFieldDefinition) {
	return func(d *models.CustomFieldDefinition) {
		d.Validation = &models.FieldValidation{Min: &lo, Max: &hi}
	}
}

func TestCoercer_Coerce(t *testing.T) {
	c := newCoercer("US")

	tests := []struct {
		name  string
		def   *models.CustomFieldDefinition
		value any
		want  any
	}{
		{"text", def(models.FieldText), "hello", "hello"},
		{"text from number", def(models.FieldText), 12.5, "12.5"},
		{"number from string", def(models.FieldNumber), "1,250.5", 1250.5},
		{"number from int", def(models.FieldNumber), 3, 3.0},
		{"currency rounds to cents", def(models.FieldCurrency), 19.999, 20.0},
		{"percentage with sign", def(models.FieldPercentage), "35%", 35.0},
		{"rating default scale", def(models.FieldRating), 4, 4.0},
		{"boolean from string", def(models.FieldBoolean), "No", false},
		{"boolean from number", def(models.FieldBoolean), 1.0, true},
		{"date", def(models.FieldDate), "2026-03-09", "2026-03-09"},
		{"date from timestamp", def(models.FieldDate), "2026-03-09T23:30:00-05:00", "2026-03-10"},
		{"single select by value", def(models.FieldSingleSelect, withOptions("Low", "High")), "high", "high"},
		{"single select by label", def(models.FieldSingleSelect, withOptions("Low", "High")), " HIGH ", "high"},
		{"multi select dedups", def(models.FieldMultiSelect, withOptions("Red", "Blue")), []any{"red", "Blue", "red"}, []any{"red", "blue"}},
		{"multi select from string", def(models.FieldMultiSelect, withOptions("Red", "Blue")), "blue", []any{"blue"}},
		{"email lowercased", def(models.FieldEmail), " Ana@Example.COM ", "ana@example.com"},
		{"url gets a scheme", def(models.FieldURL), "example.com/pricing", "https://example.com/pricing"},
		{"phone to E164", def(models.FieldPhone), "(201) 555-0123", "+12015550123"},
		{"international phone", def(models.FieldPhone), "+44 121 234 5678", "+441212345678"},
	}

	for _, tt := range tests {
		t.Run("Success - "+tt.name, func(t *testing.T) {
			got, err := c.Coerce(tt.def, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoercer_CoerceErrors(t *testing.T) {
	c := newCoercer("")

	pattern := def(models.FieldText)
	pattern.Validation = &models.FieldValidation{Pattern: `^[A-Z]{3}-\d+$`}
	dateBounds := def(models.FieldDate)
	dateBounds.Validation = &models.FieldValidation{MinDate: "2026-01-01"}

	tests := []struct {
		name  string
		def   *models.CustomFieldDefinition
		value any
	}{
		{"text too long", def(models.FieldText, withRange(0, 3)), "abcd"},
		{"text pattern", pattern, "abc-1"},
		{"not a number", def(models.FieldNumber), "twelve"},
		{"number out of range", def(models.FieldNumber, withRange(0, 10)), 10.5},
		{"percentage above 100", def(models.FieldPercentage), 120},
		{"fractional rating", def(models.FieldRating), 3.5},
		{"rating above scale", def(models.FieldRating), 6},
		{"ambiguous boolean", def(models.FieldBoolean), "maybe"},
		{"bad date", def(models.FieldDate), "03/09/2026"},
		{"date before bound", dateBounds, "2025-12-31"},
		{"unknown option", def(models.FieldSingleSelect, withOptions("Low")), "urgent"},
		{"multi select non string", def(models.FieldMultiSelect, withOptions("Low")), []any{1.0}},
		{"invalid email", def(models.FieldEmail), "not-an-email"},
		{"invalid url", def(models.FieldURL), "https://exa mple.com"},
		{"invalid phone", def(models.FieldPhone), "12"},
		{"computed", def(models.FieldFormula), 1},
		{"unknown type", def("matrix"), 1},
	}

	for _, tt := range tests {
		t.Run("Error - "+tt.name, func(t *testing.T) {
			_, err := c.Coerce(tt.def, tt.value)
			require.Error(t, err)
			assert.True(t, domain.IsValidation(err))
		})
	}
}

func TestManifest(t *testing.T) {
	types := Manifest()
	require.Len(t, types, 15)
	assert.Equal(t, models.FieldText, types[0].Type)

	info, ok := Lookup(models.FieldCurrency)
	require.True(t, ok)
	assert.True(t, info.SupportsAggregation(AggSum))

	info, ok = Lookup(models.FieldSingleSelect)
	require.True(t, ok)
	assert.False(t, info.SupportsAggregation(AggSum))

	_, ok = Lookup("matrix")
	assert.False(t, ok)
}
