package customfields

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/jordanlanch/entityhub/pkg/domain"
	"github.com/jordanlanch/entityhub/pkg/models"
	"github.com/nyaruka/phonenumbers"
)

const (
	dateLayout         = "2006-01-02"
	defaultRatingMax   = 5
	defaultPhoneRegion = "US"
)

// coercer carries the collaborators value coercion needs
type coercer struct {
	validate    *validator.Validate
	phoneRegion string
}

type coerceFunc func(c *coercer, def *models.CustomFieldDefinition, value any) (any, error)

func newCoercer(region string) *coercer {
	if region == "" {
		region = defaultPhoneRegion
	}
	return &coercer{validate: validator.New(), phoneRegion: strings.ToUpper(region)}
}

// Coerce validates value against def and returns its canonical form
func (c *coercer) Coerce(def *models.CustomFieldDefinition, value any) (any, error) {
	info, ok := Lookup(def.Type)
	if !ok {
		return nil, domain.NewValidationErrorf("unknown field type %q", def.Type)
	}
	if info.Computed {
		return nil, domain.NewValidationErrorf("field %q is computed and cannot be set", def.Key)
	}
	v, err := info.coerce(c, def, value)
	if err != nil {
		return nil, domain.NewValidationErrorf("invalid value for field %q: %v", def.Key, err)
	}
	return v, nil
}

func coerceText(_ *coercer, def *models.CustomFieldDefinition, value any) (any, error) {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case float64, bool:
		s = fmt.Sprint(v)
	default:
		return nil, fmt.Errorf("expected text, got %T", value)
	}
	if val := def.Validation; val != nil {
		n := float64(utf8.RuneCountInString(s))
		if val.Min != nil && n < *val.Min {
			return nil, fmt.Errorf("must be at least %v characters", *val.Min)
		}
		if val.Max != nil && n > *val.Max {
			return nil, fmt.Errorf("must be at most %v characters", *val.Max)
		}
	}
	if err := matchPattern(def, s); err != nil {
		return nil, err
	}
	return s, nil
}

func coerceNumber(_ *coercer, def *models.CustomFieldDefinition, value any) (any, error) {
	n, err := toNumber(value)
	if err != nil {
		return nil, err
	}
	return n, checkRange(def, n)
}

func coerceCurrency(_ *coercer, def *models.CustomFieldDefinition, value any) (any, error) {
	n, err := toNumber(value)
	if err != nil {
		return nil, err
	}
	n = math.Round(n*100) / 100
	return n, checkRange(def, n)
}

func coercePercentage(_ *coercer, def *models.CustomFieldDefinition, value any) (any, error) {
	if s, ok := value.(string); ok {
		value = strings.TrimSuffix(strings.TrimSpace(s), "%")
	}
	n, err := toNumber(value)
	if err != nil {
		return nil, err
	}
	if def.Validation == nil || (def.Validation.Min == nil && def.Validation.Max == nil) {
		if n < 0 || n > 100 {
			return nil, fmt.Errorf("must be between 0 and 100")
		}
		return n, nil
	}
	return n, checkRange(def, n)
}

func coerceRating(_ *coercer, def *models.CustomFieldDefinition, value any) (any, error) {
	n, err := toNumber(value)
	if err != nil {
		return nil, err
	}
	if n != math.Trunc(n) {
		return nil, fmt.Errorf("must be a whole number")
	}
	lo, hi := 1.0, float64(defaultRatingMax)
	if def.Validation != nil {
		if def.Validation.Min != nil {
			lo = *def.Validation.Min
		}
		if def.Validation.Max != nil {
			hi = *def.Validation.Max
		}
	}
	if n < lo || n > hi {
		return nil, fmt.Errorf("must be between %v and %v", lo, hi)
	}
	return n, nil
}

func coerceBoolean(_ *coercer, _ *models.CustomFieldDefinition, value any) (any, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case float64:
		if v == 0 || v == 1 {
			return v == 1, nil
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "y", "1", "on":
			return true, nil
		case "false", "no", "n", "0", "off":
			return false, nil
		}
	}
	return nil, fmt.Errorf("expected a boolean")
}

func coerceDate(_ *coercer, def *models.CustomFieldDefinition, value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("expected a date string, got %T", value)
	}
	d, err := parseDate(s)
	if err != nil {
		return nil, err
	}
	if val := def.Validation; val != nil {
		if val.MinDate != "" && d < val.MinDate {
			return nil, fmt.Errorf("must be on or after %s", val.MinDate)
		}
		if val.MaxDate != "" && d > val.MaxDate {
			return nil, fmt.Errorf("must be on or before %s", val.MaxDate)
		}
	}
	return d, nil
}

func coerceSingleSelect(_ *coercer, def *models.CustomFieldDefinition, value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("expected an option value, got %T", value)
	}
	return matchOption(def, s)
}

func coerceMultiSelect(_ *coercer, def *models.CustomFieldDefinition, value any) (any, error) {
	var raw []any
	switch v := value.(type) {
	case []any:
		raw = v
	case []string:
		for _, s := range v {
			raw = append(raw, s)
		}
	case string:
		raw = []any{v}
	default:
		return nil, fmt.Errorf("expected a list of option values, got %T", value)
	}

	out := []any{}
	seen := map[string]bool{}
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected option values to be strings, got %T", item)
		}
		opt, err := matchOption(def, s)
		if err != nil {
			return nil, err
		}
		if !seen[opt] {
			seen[opt] = true
			out = append(out, opt)
		}
	}
	return out, nil
}

func coerceEmail(c *coercer, def *models.CustomFieldDefinition, value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("expected an email address, got %T", value)
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if err := c.validate.Var(s, "required,email"); err != nil {
		return nil, fmt.Errorf("%q is not a valid email address", s)
	}
	if err := matchPattern(def, s); err != nil {
		return nil, err
	}
	return s, nil
}

func coerceURL(c *coercer, def *models.CustomFieldDefinition, value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("expected a URL, got %T", value)
	}
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	if err := c.validate.Var(s, "required,url"); err != nil {
		return nil, fmt.Errorf("%q is not a valid URL", s)
	}
	if err := matchPattern(def, s); err != nil {
		return nil, err
	}
	return s, nil
}

func coercePhone(c *coercer, _ *models.CustomFieldDefinition, value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("expected a phone number, got %T", value)
	}
	num, err := phonenumbers.Parse(s, c.phoneRegion)
	if err != nil {
		return nil, fmt.Errorf("%q is not a phone number", s)
	}
	if !phonenumbers.IsValidNumber(num) {
		return nil, fmt.Errorf("%q is not a valid phone number", s)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func toNumber(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		n, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(v), ",", ""), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("expected a number, got %T", value)
}

func checkRange(def *models.CustomFieldDefinition, n float64) error {
	if def.Validation == nil {
		return nil
	}
	if def.Validation.Min != nil && n < *def.Validation.Min {
		return fmt.Errorf("must be at least %v", *def.Validation.Min)
	}
	if def.Validation.Max != nil && n > *def.Validation.Max {
		return fmt.Errorf("must be at most %v", *def.Validation.Max)
	}
	return nil
}

func matchPattern(def *models.CustomFieldDefinition, s string) error {
	if def.Validation == nil || def.Validation.Pattern == "" {
		return nil
	}
	re, err := regexp.Compile(def.Validation.Pattern)
	if err != nil {
		return fmt.Errorf("field pattern is invalid")
	}
	if !re.MatchString(s) {
		return fmt.Errorf("does not match pattern %s", def.Validation.Pattern)
	}
	return nil
}

// matchOption resolves s against option values, then labels case-insensitively
func matchOption(def *models.CustomFieldDefinition, s string) (string, error) {
	for _, opt := range def.Options {
		if opt.Value == s {
			return opt.Value, nil
		}
	}
	for _, opt := range def.Options {
		if strings.EqualFold(opt.Label, strings.TrimSpace(s)) || strings.EqualFold(opt.Value, strings.TrimSpace(s)) {
			return opt.Value, nil
		}
	}
	return "", fmt.Errorf("%q is not one of the field options", s)
}

func parseDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if d, err := time.Parse(dateLayout, s); err == nil {
		return d.Format(dateLayout), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().Format(dateLayout), nil
	}
	return "", fmt.Errorf("%q is not a date (expected YYYY-MM-DD)", s)
}
