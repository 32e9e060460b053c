package customfields

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jordanlanch/entityhub/pkg/domain"
	"github.com/jordanlanch/entityhub/pkg/logger"
	"github.com/jordanlanch/entityhub/pkg/models"
	"github.com/sashabaranov/go-openai"
)

const fieldCommandPrompt = `You convert instructions for adding a custom field to a CRM record type into JSON.
Reply with a single JSON object with these keys:
  "entityType": one of contact, company, deal, lead, task, note
  "label": human readable field name
  "key": snake_case identifier, may be empty
  "type": one of text, number, boolean, date, single_select, multi_select, currency, percentage, email, phone, url, rating
  "options": list of option labels for select types, otherwise empty
  "required": true or false`

// OpenAIConfig configures the OpenAI-backed parser
type OpenAIConfig struct {
	APIKey  string
	Model   string // default: gpt-4o-mini
	BaseURL string // optional, for compatible endpoints
}

// OpenAIParser is a CommandParser backed by a chat completion model. It falls
// back to the rule-based parser when the model output is unusable.
type OpenAIParser struct {
	client   *openai.Client
	model    string
	fallback CommandParser
	log      logger.Logger
}

// NewOpenAIParser creates an OpenAI-backed parser
func NewOpenAIParser(cfg OpenAIConfig, log logger.Logger) *OpenAIParser {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if log == nil {
		log = logger.Nop()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIParser{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    cfg.Model,
		fallback: NewRuleParser(),
		log:      log.With("component", "openai_parser"),
	}
}

type completion struct {
	EntityType string   `json:"entityType"`
	Label      string   `json:"label"`
	Key        string   `json:"key"`
	Type       string   `json:"type"`
	Options    []string `json:"options"`
	Required   bool     `json:"required"`
}

// Parse implements CommandParser
func (p *OpenAIParser) Parse(ctx context.Context, command string) (*ParsedCommand, error) {
	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fieldCommandPrompt},
			{Role: openai.ChatMessageRoleUser, Content: command},
		},
		Temperature:    0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		p.log.Warn("openai field parsing failed, using rules", "error", err, "duration", time.Since(start).String())
		return p.fallback.Parse(ctx, command)
	}
	if len(resp.Choices) == 0 {
		return p.fallback.Parse(ctx, command)
	}

	parsed, err := decodeCompletion(resp.Choices[0].Message.Content)
	if err != nil {
		p.log.Warn("unusable openai field completion, using rules", "error", err)
		return p.fallback.Parse(ctx, command)
	}
	p.log.Debug("openai field parsing completed", "tokens", resp.Usage.TotalTokens, "duration", time.Since(start).String())
	return parsed, nil
}

func decodeCompletion(content string) (*ParsedCommand, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimSuffix(strings.TrimPrefix(content, "```"), "```")

	var c completion
	if err := json.Unmarshal([]byte(content), &c); err != nil {
		return nil, fmt.Errorf("invalid completion JSON: %w", err)
	}
	entityType, ok := entityWords[strings.ToLower(c.EntityType)]
	if !ok {
		return nil, domain.NewValidationErrorf("unknown entity type %q", c.EntityType)
	}
	fieldType := models.FieldType(strings.ToLower(c.Type))
	if info, ok := Lookup(fieldType); !ok || info.Computed {
		return nil, domain.NewValidationErrorf("unsupported field type %q", c.Type)
	}
	if strings.TrimSpace(c.Label) == "" {
		return nil, domain.NewValidationError("completion has no label")
	}

	spec := models.FieldSpec{
		Key:      c.Key,
		Label:    c.Label,
		Type:     fieldType,
		Required: c.Required,
	}
	for _, o := range c.Options {
		if o = strings.TrimSpace(o); o != "" {
			spec.Options = append(spec.Options, models.FieldOption{Value: KeyFromLabel(o), Label: o})
		}
	}
	return &ParsedCommand{EntityType: entityType, Spec: spec}, nil
}
