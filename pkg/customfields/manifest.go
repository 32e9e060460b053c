package customfields

import "github.com/jordanlanch/entityhub/pkg/models"

// Storage kinds of coerced values
const (
	StorageString  = "string"
	StorageNumber  = "number"
	StorageBoolean = "boolean"
	StorageList    = "list"
	StorageNone    = "computed"
)

// Aggregations a rollup may apply
const (
	AggCount = "count"
	AggSum   = "sum"
	AggAvg   = "avg"
	AggMin   = "min"
	AggMax   = "max"
)

// TypeInfo is the manifest entry of one field type
type TypeInfo struct {
	Type            models.FieldType `json:"type"`
	Label           string           `json:"label"`
	Storage         string           `json:"storage"`
	SupportsOptions bool             `json:"supports_options"`
	SupportsRange   bool             `json:"supports_range"`
	SupportsPattern bool             `json:"supports_pattern"`
	Computed        bool             `json:"computed"`
	Aggregations    []string         `json:"aggregations"`

	coerce coerceFunc
}

var numericAggregations = []string{AggCount, AggSum, AggAvg, AggMin, AggMax}

// manifest is the static catalog of field types, in display order
var manifest = []TypeInfo{
	{Type: models.FieldText, Label: "Text", Storage: StorageString, SupportsRange: true, SupportsPattern: true, Aggregations: []string{AggCount}, coerce: coerceText},
	{Type: models.FieldNumber, Label: "Number", Storage: StorageNumber, SupportsRange: true, Aggregations: numericAggregations, coerce: coerceNumber},
	{Type: models.FieldBoolean, Label: "Checkbox", Storage: StorageBoolean, Aggregations: []string{AggCount}, coerce: coerceBoolean},
	{Type: models.FieldDate, Label: "Date", Storage: StorageString, SupportsRange: true, Aggregations: []string{AggCount, AggMin, AggMax}, coerce: coerceDate},
	{Type: models.FieldSingleSelect, Label: "Single select", Storage: StorageString, SupportsOptions: true, Aggregations: []string{AggCount}, coerce: coerceSingleSelect},
	{Type: models.FieldMultiSelect, Label: "Multi select", Storage: StorageList, SupportsOptions: true, Aggregations: []string{AggCount}, coerce: coerceMultiSelect},
	{Type: models.FieldCurrency, Label: "Currency", Storage: StorageNumber, SupportsRange: true, Aggregations: numericAggregations, coerce: coerceCurrency},
	{Type: models.FieldPercentage, Label: "Percentage", Storage: StorageNumber, SupportsRange: true, Aggregations: []string{AggCount, AggAvg, AggMin, AggMax}, coerce: coercePercentage},
	{Type: models.FieldEmail, Label: "Email", Storage: StorageString, SupportsPattern: true, Aggregations: []string{AggCount}, coerce: coerceEmail},
	{Type: models.FieldPhone, Label: "Phone", Storage: StorageString, Aggregations: []string{AggCount}, coerce: coercePhone},
	{Type: models.FieldURL, Label: "URL", Storage: StorageString, SupportsPattern: true, Aggregations: []string{AggCount}, coerce: coerceURL},
	{Type: models.FieldRating, Label: "Rating", Storage: StorageNumber, SupportsRange: true, Aggregations: []string{AggCount, AggAvg, AggMin, AggMax}, coerce: coerceRating},
	{Type: models.FieldFormula, Label: "Formula", Storage: StorageNone, Computed: true},
	{Type: models.FieldRollup, Label: "Rollup", Storage: StorageNone, Computed: true},
	{Type: models.FieldLookup, Label: "Lookup", Storage: StorageNone, Computed: true},
}

var manifestIndex = func() map[models.FieldType]int {
	idx := make(map[models.FieldType]int, len(manifest))
	for i, info := range manifest {
		idx[info.Type] = i
	}
	return idx
}()

// Lookup returns the manifest entry of a field type
func Lookup(t models.FieldType) (TypeInfo, bool) {
	i, ok := manifestIndex[t]
	if !ok {
		return TypeInfo{}, false
	}
	return manifest[i], true
}

// Manifest returns a copy of the field type catalog
func Manifest() []TypeInfo {
	out := make([]TypeInfo, len(manifest))
	copy(out, manifest)
	return out
}

// SupportsAggregation reports whether values of t can be rolled up with agg
func (i TypeInfo) SupportsAggregation(agg string) bool {
	for _, a := range i.Aggregations {
		if a == agg {
			return true
		}
	}
	return false
}
