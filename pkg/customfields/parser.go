package customfields

import (
	"context"
	"regexp"
	"strings"

	"github.com/jordanlanch/entityhub/pkg/domain"
	"github.com/jordanlanch/entityhub/pkg/models"
	"github.com/jordanlanch/entityhub/pkg/tenancy"
)

// ParsedCommand is the structured form of a field creation instruction
type ParsedCommand struct {
	EntityType string           `json:"entityType"`
	Spec       models.FieldSpec `json:"spec"`
}

// CommandParser turns an instruction such as "add a priority dropdown with
// options low, high to deals" into a field spec.
type CommandParser interface {
	Parse(ctx context.Context, command string) (*ParsedCommand, error)
}

// CreateFieldFromNaturalLanguage parses command and creates the field it describes
func (r *Registry) CreateFieldFromNaturalLanguage(ctx context.Context, scope tenancy.Scope, command string) (*models.CustomFieldDefinition, error) {
	if strings.TrimSpace(command) == "" {
		return nil, domain.NewValidationError("command is required")
	}
	parsed, err := r.parser.Parse(ctx, command)
	if err != nil {
		return nil, err
	}
	r.log.Debug("parsed field command", "workspace_id", scope.WorkspaceID, "entity_type", parsed.EntityType, "key", parsed.Spec.Key)
	return r.CreateCustomField(ctx, scope, parsed.EntityType, parsed.Spec)
}

// RuleParser is a keyword-based CommandParser
type RuleParser struct{}

// NewRuleParser creates the default parser
func NewRuleParser() *RuleParser {
	return &RuleParser{}
}

var entityWords = map[string]string{
	"contact": models.TypeContact, "contacts": models.TypeContact, "people": models.TypeContact, "person": models.TypeContact,
	"company": models.TypeCompany, "companies": models.TypeCompany, "account": models.TypeCompany, "accounts": models.TypeCompany,
	"deal": models.TypeDeal, "deals": models.TypeDeal, "opportunity": models.TypeDeal, "opportunities": models.TypeDeal,
	"lead": models.TypeLead, "leads": models.TypeLead,
	"task": models.TypeTask, "tasks": models.TypeTask,
	"note": models.TypeNote, "notes": models.TypeNote,
}

// typeKeywords is checked in order, so multi-word phrases come first
var typeKeywords = []struct {
	phrase string
	typ    models.FieldType
}{
	{"multi select", models.FieldMultiSelect},
	{"multi-select", models.FieldMultiSelect},
	{"multiselect", models.FieldMultiSelect},
	{"single select", models.FieldSingleSelect},
	{"single-select", models.FieldSingleSelect},
	{"dropdown", models.FieldSingleSelect},
	{"select", models.FieldSingleSelect},
	{"checkbox", models.FieldBoolean},
	{"boolean", models.FieldBoolean},
	{"yes/no", models.FieldBoolean},
	{"currency", models.FieldCurrency},
	{"money", models.FieldCurrency},
	{"percentage", models.FieldPercentage},
	{"percent", models.FieldPercentage},
	{"email", models.FieldEmail},
	{"phone", models.FieldPhone},
	{"url", models.FieldURL},
	{"link", models.FieldURL},
	{"rating", models.FieldRating},
	{"stars", models.FieldRating},
	{"date", models.FieldDate},
	{"number", models.FieldNumber},
	{"numeric", models.FieldNumber},
	{"text", models.FieldText},
}

var (
	quotedName  = regexp.MustCompile(`["'“]([^"'”]+)["'”]`)
	namedName   = regexp.MustCompile(`\b(?:called|named)\s+([a-z0-9][a-z0-9 _-]*?)(?:\s+(?:with|to|for|on|as|that)\b|[,.]|$)`)
	fieldName   = regexp.MustCompile(`\b(?:add|create|new)\s+(?:an?\s+)?(?:new\s+)?([a-z0-9][a-z0-9 _-]*?)\s+field\b`)
	optionsList = regexp.MustCompile(`\b(?:options?|values|choices)\s*(?::|of|are)?\s*(.+?)(?:\s+(?:to|for|on)\s+(?:the\s+)?[a-z]+\s*$|$)`)
	splitter    = regexp.MustCompile(`\s*(?:,|\bor\b|\band\b|/)\s*`)
)

// Parse implements CommandParser
func (p *RuleParser) Parse(_ context.Context, command string) (*ParsedCommand, error) {
	lower := strings.ToLower(strings.TrimSpace(command))

	entityType := ""
	for _, word := range strings.FieldsFunc(lower, func(r rune) bool { return r == ' ' || r == ',' || r == '.' }) {
		if t, ok := entityWords[word]; ok {
			entityType = t
		}
	}
	if entityType == "" {
		return nil, domain.NewValidationError("could not tell which record type the field belongs to")
	}

	fieldType := models.FieldText
	for _, kw := range typeKeywords {
		if containsPhrase(lower, kw.phrase) {
			fieldType = kw.typ
			break
		}
	}

	label := ""
	if m := quotedName.FindStringSubmatch(command); m != nil {
		label = strings.TrimSpace(m[1])
	} else if m := namedName.FindStringSubmatch(lower); m != nil {
		label = m[1]
	} else if m := fieldName.FindStringSubmatch(lower); m != nil {
		label = stripTypeWords(m[1])
	}
	if label == "" {
		return nil, domain.NewValidationError("could not determine the field name")
	}

	spec := models.FieldSpec{
		Label:    LabelFromKey(KeyFromLabel(label)),
		Type:     fieldType,
		Required: containsPhrase(lower, "required") || containsPhrase(lower, "mandatory"),
	}
	if info, _ := Lookup(fieldType); info.SupportsOptions {
		if m := optionsList.FindStringSubmatch(lower); m != nil {
			for _, o := range splitter.Split(m[1], -1) {
				o = strings.Trim(o, ` "'.`)
				if o != "" {
					spec.Options = append(spec.Options, models.FieldOption{Value: KeyFromLabel(o), Label: LabelFromKey(KeyFromLabel(o))})
				}
			}
		}
	}
	return &ParsedCommand{EntityType: entityType, Spec: spec}, nil
}

func containsPhrase(s, phrase string) bool {
	re := regexp.MustCompile(`(^|[^a-z])` + regexp.QuoteMeta(phrase) + `($|[^a-z])`)
	return re.MatchString(s)
}

func stripTypeWords(s string) string {
	words := strings.Fields(s)
	out := words[:0]
	for _, w := range words {
		isType := false
		for _, kw := range typeKeywords {
			if w == kw.phrase {
				isType = true
				break
			}
		}
		if !isType && w != "single" && w != "multi" {
			out = append(out, w)
		}
	}
	return strings.Join(out, " ")
}
