package customfields

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jordanlanch/entityhub/pkg/domain"
	"github.com/jordanlanch/entityhub/pkg/logger"
	"github.com/jordanlanch/entityhub/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleParser_Parse(t *testing.T) {
	p := NewRuleParser()
	ctx := context.Background()

	tests := []struct {
		name       string
		command    string
		entityType string
		label      string
		fieldType  models.FieldType
		options    []string
		required   bool
	}{
		{
			name:       "Quoted name with dropdown",
			command:    `Add a dropdown "Lead Source" with options Website, Referral or Event to contacts`,
			entityType: models.TypeContact,
			label:      "Lead Source",
			fieldType:  models.FieldSingleSelect,
			options:    []string{"website", "referral", "event"},
		},
		{
			name:       "Named field",
			command:    "create a required date field named renewal date for companies",
			entityType: models.TypeCompany,
			label:      "Renewal Date",
			fieldType:  models.FieldDate,
			required:   true,
		},
		{
			name:       "Type inferred from field phrase",
			command:    "add a budget currency field to leads",
			entityType: models.TypeLead,
			label:      "Budget",
			fieldType:  models.FieldCurrency,
		},
		{
			name:       "Defaults to text",
			command:    "add a field called next step on opportunities",
			entityType: models.TypeDeal,
			label:      "Next Step",
			fieldType:  models.FieldText,
		},
	}

	for _, tt := range tests {
		t.Run("Success - "+tt.name, func(t *testing.T) {
			got, err := p.Parse(ctx, tt.command)
			require.NoError(t, err)

			assert.Equal(t, tt.entityType, got.EntityType)
			assert.Equal(t, tt.label, got.Spec.Label)
			assert.Equal(t, tt.fieldType, got.Spec.Type)
			assert.Equal(t, tt.required, got.Spec.Required)
			var values []string
			for _, o := range got.Spec.Options {
				values = append(values, o.Value)
			}
			assert.Equal(t, tt.options, values)
		})
	}

	t.Run("Error - No record type", func(t *testing.T) {
		_, err := p.Parse(ctx, "add a field called color")
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("Error - No field name", func(t *testing.T) {
		_, err := p.Parse(ctx, "deals need more")
		assert.True(t, domain.IsValidation(err))
	})
}

func completionServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"upstream unavailable","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIParser_Parse(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - Model output", func(t *testing.T) {
		srv := completionServer(t, http.StatusOK,
			`{"entityType":"deals","label":"Competitors","key":"","type":"multi_select","options":["Acme","Globex"],"required":false}`)
		p := NewOpenAIParser(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1"}, logger.Nop())

		got, err := p.Parse(ctx, "track which competitors are involved in deals")
		require.NoError(t, err)
		assert.Equal(t, models.TypeDeal, got.EntityType)
		assert.Equal(t, models.FieldMultiSelect, got.Spec.Type)
		require.Len(t, got.Spec.Options, 2)
		assert.Equal(t, "globex", got.Spec.Options[1].Value)
	})

	t.Run("Success - Fenced JSON", func(t *testing.T) {
		srv := completionServer(t, http.StatusOK, "```json\n{\"entityType\":\"contact\",\"label\":\"Birthday\",\"type\":\"date\"}\n```")
		p := NewOpenAIParser(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1"}, logger.Nop())

		got, err := p.Parse(ctx, "remember contact birthdays")
		require.NoError(t, err)
		assert.Equal(t, models.FieldDate, got.Spec.Type)
		assert.Equal(t, "Birthday", got.Spec.Label)
	})

	t.Run("Success - Falls back to rules on upstream error", func(t *testing.T) {
		srv := completionServer(t, http.StatusInternalServerError, "")
		p := NewOpenAIParser(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1"}, logger.Nop())

		got, err := p.Parse(ctx, "add a rating field called fit to leads")
		require.NoError(t, err)
		assert.Equal(t, models.TypeLead, got.EntityType)
		assert.Equal(t, models.FieldRating, got.Spec.Type)
		assert.Equal(t, "Fit", got.Spec.Label)
	})

	t.Run("Success - Falls back to rules on unusable output", func(t *testing.T) {
		srv := completionServer(t, http.StatusOK, `{"entityType":"spaceship","label":"X","type":"text"}`)
		p := NewOpenAIParser(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1"}, logger.Nop())

		got, err := p.Parse(ctx, "add an email field called billing email to companies")
		require.NoError(t, err)
		assert.Equal(t, models.TypeCompany, got.EntityType)
		assert.Equal(t, models.FieldEmail, got.Spec.Type)
		assert.Equal(t, "Billing Email", got.Spec.Label)
	})
}

func TestDecodeCompletion(t *testing.T) {
	t.Run("Error - Computed type", func(t *testing.T) {
		_, err := decodeCompletion(`{"entityType":"deal","label":"Margin","type":"formula"}`)
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("Error - Missing label", func(t *testing.T) {
		_, err := decodeCompletion(`{"entityType":"deal","type":"text"}`)
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("Error - Not JSON", func(t *testing.T) {
		_, err := decodeCompletion("sure, here is your field")
		assert.Error(t, err)
	})
}
