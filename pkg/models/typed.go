package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// ContactData is the typed view of a contact's data bag
type ContactData struct {
	Name      string         `json:"name"`
	Email     string         `json:"email,omitempty"`
	Phone     string         `json:"phone,omitempty"`
	Title     string         `json:"title,omitempty"`
	CompanyID string         `json:"companyId,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	Custom    map[string]any `json:"-"`
}

// CompanyData is the typed view of a company's data bag
type CompanyData struct {
	Name     string         `json:"name"`
	Domain   string         `json:"domain,omitempty"`
	Industry string         `json:"industry,omitempty"`
	Size     string         `json:"size,omitempty"`
	Website  string         `json:"website,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
	Custom   map[string]any `json:"-"`
}

// LeadData is the typed view of a lead's data bag
type LeadData struct {
	Name    string         `json:"name"`
	Email   string         `json:"email,omitempty"`
	Source  string         `json:"source,omitempty"`
	Status  string         `json:"status,omitempty"`
	Score   int            `json:"score,omitempty"`
	Company string         `json:"company,omitempty"`
	Custom  map[string]any `json:"-"`
}

// DealData is the typed view of a deal's data bag
type DealData struct {
	Name              string              `json:"name"`
	Value             float64             `json:"value"`
	Currency          string              `json:"currency,omitempty"`
	PipelineID        string              `json:"pipelineId"`
	Stage             string              `json:"stage"`
	Probability       int                 `json:"probability"`
	CompanyID         string              `json:"companyId,omitempty"`
	ContactID         string              `json:"contactId,omitempty"`
	ExpectedCloseDate string              `json:"expectedCloseDate,omitempty"`
	StageHistory      []StageHistoryEntry `json:"stageHistory"`
	LastStageChangeAt *time.Time          `json:"lastStageChangeAt,omitempty"`
	Custom            map[string]any      `json:"-"`
}

// PipelineData is the stored shape of a pipeline entity
type PipelineData struct {
	Name       string         `json:"name"`
	Stages     []Stage        `json:"stages"`
	IsDefault  bool           `json:"isDefault"`
	DealCount  int            `json:"dealCount"`
	TotalValue float64        `json:"totalValue"`
	Custom     map[string]any `json:"-"`
}

var typedViews = map[string]reflect.Type{
	TypeContact:  reflect.TypeOf(ContactData{}),
	TypeCompany:  reflect.TypeOf(CompanyData{}),
	TypeLead:     reflect.TypeOf(LeadData{}),
	TypeDeal:     reflect.TypeOf(DealData{}),
	TypePipeline: reflect.TypeOf(PipelineData{}),
}

// BuiltinKeys returns the data keys owned by the typed view of entityType.
// Types without a typed view have none.
func BuiltinKeys(entityType string) map[string]bool {
	t, ok := typedViews[entityType]
	if !ok {
		return map[string]bool{}
	}
	return jsonKeys(t)
}

// CheckTyped reports whether the built-in keys of data decode into the typed
// view of entityType
func CheckTyped(entityType string, data map[string]any) error {
	t, ok := typedViews[entityType]
	if !ok {
		return nil
	}
	_, err := decodeTyped(data, reflect.New(t).Interface())
	return err
}

func jsonKeys(t reflect.Type) map[string]bool {
	keys := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		name, _, _ := strings.Cut(tag, ",")
		if name == "" || name == "-" {
			continue
		}
		keys[name] = true
	}
	return keys
}

// decodeTyped fills out from the data bag and returns the residual keys.
func decodeTyped(data map[string]any, out any) (map[string]any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("failed to decode typed data: %w", err)
	}

	known := jsonKeys(reflect.TypeOf(out).Elem())
	custom := make(map[string]any)
	for k, v := range data {
		if !known[k] {
			custom[k] = v
		}
	}
	return custom, nil
}

// encodeTyped flattens the typed view and its residual keys into a data bag.
func encodeTyped(in any, custom map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal typed data: %w", err)
	}
	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to flatten typed data: %w", err)
	}
	for k, v := range custom {
		if _, taken := out[k]; !taken {
			out[k] = v
		}
	}
	return out, nil
}

// DecodeContact returns the typed view of a contact data bag
func DecodeContact(data map[string]any) (*ContactData, error) {
	var d ContactData
	custom, err := decodeTyped(data, &d)
	d.Custom = custom
	return &d, err
}

// Encode flattens the contact into a data bag
func (d *ContactData) Encode() (map[string]any, error) { return encodeTyped(d, d.Custom) }

// DecodeCompany returns the typed view of a company data bag
func DecodeCompany(data map[string]any) (*CompanyData, error) {
	var d CompanyData
	custom, err := decodeTyped(data, &d)
	d.Custom = custom
	return &d, err
}

// Encode flattens the company into a data bag
func (d *CompanyData) Encode() (map[string]any, error) { return encodeTyped(d, d.Custom) }

// DecodeLead returns the typed view of a lead data bag
func DecodeLead(data map[string]any) (*LeadData, error) {
	var d LeadData
	custom, err := decodeTyped(data, &d)
	d.Custom = custom
	return &d, err
}

// Encode flattens the lead into a data bag
func (d *LeadData) Encode() (map[string]any, error) { return encodeTyped(d, d.Custom) }

// DecodeDeal returns the typed view of a deal data bag
func DecodeDeal(data map[string]any) (*DealData, error) {
	var d DealData
	custom, err := decodeTyped(data, &d)
	d.Custom = custom
	return &d, err
}

// Encode flattens the deal into a data bag
func (d *DealData) Encode() (map[string]any, error) { return encodeTyped(d, d.Custom) }

// DecodePipeline returns the stored shape of a pipeline entity
func DecodePipeline(data map[string]any) (*PipelineData, error) {
	var d PipelineData
	custom, err := decodeTyped(data, &d)
	d.Custom = custom
	return &d, err
}

// Encode flattens the pipeline into a data bag
func (d *PipelineData) Encode() (map[string]any, error) { return encodeTyped(d, d.Custom) }

// ErrNoStages is returned for a stored pipeline without stages
var ErrNoStages = errors.New("pipeline has no stages")

// ToPipeline builds the API view of a pipeline entity
func ToPipeline(e *Entity) (*Pipeline, error) {
	d, err := DecodePipeline(e.Data)
	if err != nil {
		return nil, err
	}
	if len(d.Stages) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoStages, e.ID)
	}
	return &Pipeline{
		ID:          e.ID,
		WorkspaceID: e.WorkspaceID,
		Name:        d.Name,
		Stages:      d.Stages,
		IsDefault:   d.IsDefault,
		DealCount:   d.DealCount,
		TotalValue:  d.TotalValue,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}, nil
}
