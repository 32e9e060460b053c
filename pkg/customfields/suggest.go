package customfields

import (
	"strings"
	"unicode"

	"github.com/jordanlanch/entityhub/pkg/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type suggestion struct {
	key         string
	fieldType   models.FieldType
	description string
	options     []string
}

var catalog = map[string][]suggestion{
	models.TypeContact: {
		{"linkedin_url", models.FieldURL, "LinkedIn profile of the contact", nil},
		{"birthday", models.FieldDate, "Date of birth", nil},
		{"lead_source", models.FieldSingleSelect, "Where the contact came from", []string{"Website", "Referral", "Event", "Outbound"}},
		{"preferred_channel", models.FieldSingleSelect, "Preferred way to get in touch", []string{"Email", "Phone", "Chat"}},
		{"mobile_phone", models.FieldPhone, "Mobile number", nil},
	},
	models.TypeCompany: {
		{"employee_count", models.FieldNumber, "Number of employees", nil},
		{"annual_revenue", models.FieldCurrency, "Yearly revenue", nil},
		{"segment", models.FieldSingleSelect, "Market segment", []string{"SMB", "Mid-Market", "Enterprise"}},
		{"billing_email", models.FieldEmail, "Address invoices are sent to", nil},
	},
	models.TypeDeal: {
		{"priority", models.FieldSingleSelect, "How urgent the deal is", []string{"Low", "Medium", "High"}},
		{"next_step", models.FieldText, "The agreed next action", nil},
		{"competitors", models.FieldMultiSelect, "Competitors involved in the deal", []string{"None", "Incumbent", "Other"}},
		{"close_reason", models.FieldText, "Why the deal was won or lost", nil},
		{"discount", models.FieldPercentage, "Discount granted", nil},
	},
	models.TypeLead: {
		{"budget", models.FieldCurrency, "Stated budget", nil},
		{"fit_rating", models.FieldRating, "How well the lead fits the ideal customer", nil},
		{"timeline", models.FieldSingleSelect, "Expected purchase timeline", []string{"This quarter", "Next quarter", "Later"}},
	},
	models.TypeTask: {
		{"priority", models.FieldSingleSelect, "How urgent the task is", []string{"Low", "Medium", "High"}},
		{"estimated_hours", models.FieldNumber, "Estimated effort in hours", nil},
		{"billable", models.FieldBoolean, "Whether the time is billable", nil},
	},
}

var genericSuggestions = []suggestion{
	{"tags", models.FieldMultiSelect, "Free classification", []string{"Important", "Follow up"}},
	{"rating", models.FieldRating, "Overall rating", nil},
	{"external_url", models.FieldURL, "Link to an external system", nil},
}

// SuggestFields returns candidate fields for entityType that are neither
// present in existingKeys nor built into the type. It has no side effects.
func SuggestFields(entityType string, existingKeys []string) []models.FieldSuggestion {
	skip := models.BuiltinKeys(entityType)
	for _, k := range existingKeys {
		skip[k] = true
	}

	candidates := append(append([]suggestion{}, catalog[entityType]...), genericSuggestions...)
	out := []models.FieldSuggestion{}
	for _, s := range candidates {
		if skip[s.key] {
			continue
		}
		skip[s.key] = true

		fs := models.FieldSuggestion{
			Key:         s.key,
			Label:       LabelFromKey(s.key),
			Type:        s.fieldType,
			Description: s.description,
		}
		for _, o := range s.options {
			fs.Options = append(fs.Options, models.FieldOption{Value: KeyFromLabel(o), Label: o})
		}
		out = append(out, fs)
	}
	return out
}

// LabelFromKey turns a snake_case key into a title-cased label
func LabelFromKey(key string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(key, "_", " "))
}

// KeyFromLabel derives a snake_case key from a display label
func KeyFromLabel(label string) string {
	var b strings.Builder
	underscore := false
	for _, r := range cases.Lower(language.Und).String(strings.TrimSpace(label)) {
		switch {
		case r <= unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			underscore = false
		case b.Len() > 0 && !underscore:
			b.WriteByte('_')
			underscore = true
		}
	}
	key := strings.TrimSuffix(b.String(), "_")
	if key != "" && key[0] >= '0' && key[0] <= '9' {
		key = "field_" + key
	}
	if len(key) > 63 {
		key = strings.TrimSuffix(key[:63], "_")
	}
	return key
}
