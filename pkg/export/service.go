// Package export renders entities as XLSX spreadsheets and stores them
// locally or on S3.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jordanlanch/entityhub/pkg/customfields"
	"github.com/jordanlanch/entityhub/pkg/domain"
	"github.com/jordanlanch/entityhub/pkg/entities"
	"github.com/jordanlanch/entityhub/pkg/logger"
	"github.com/jordanlanch/entityhub/pkg/metrics"
	"github.com/jordanlanch/entityhub/pkg/models"
	"github.com/jordanlanch/entityhub/pkg/tenancy"
	"github.com/xuri/excelize/v2"
)

const (
	sheetName    = "Entities"
	defaultLimit = 1000
)

// Service generates entity exports
type Service struct {
	store    *entities.Store
	registry *customfields.Registry
	storage  Storage
	validate *validator.Validate
	metrics  *metrics.Metrics
	log      logger.Logger
}

// NewService creates a new export service
func NewService(store *entities.Store, registry *customfields.Registry, storage Storage, log logger.Logger) *Service {
	return &Service{
		store:    store,
		registry: registry,
		storage:  storage,
		validate: validator.New(),
		log:      log,
	}
}

// WithMetrics enables export counters
func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// column maps a data key to its spreadsheet header
type column struct {
	key    string
	header string
}

// CreateExport writes the entities of one type visible to scope into a
// spreadsheet. Active custom fields appear under their labels after the
// built-in data keys.
func (s *Service) CreateExport(ctx context.Context, scope tenancy.Scope, req models.ExportRequest) (*models.ExportResult, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, domain.NewValidationError("entity_type is required and limit must be between 1 and 10000")
	}
	limit := req.Limit
	if limit == 0 {
		limit = defaultLimit
	}

	found, err := s.store.Find(ctx, entities.FindOptions{
		Scope:          scope,
		Types:          []string{req.EntityType},
		Search:         req.Search,
		OrderBy:        "createdAt",
		OrderDirection: "asc",
		Limit:          limit,
	})
	if err != nil {
		return nil, err
	}
	fields, err := s.registry.ListFields(ctx, scope, req.EntityType, false)
	if err != nil {
		return nil, err
	}

	columns := buildColumns(found, fields)
	body, err := render(found, columns)
	if err != nil {
		return nil, err
	}

	now := s.store.Now()
	key := fmt.Sprintf("exports/%s/%s-%s.xlsx", scope.WorkspaceID, req.EntityType, now.Format("20060102T150405.000000"))
	location, err := s.storage.Put(ctx, key, body)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordExportCreated(s.storage.Name())
	s.log.Info("export created", "workspace_id", scope.WorkspaceID, "entity_type", req.EntityType, "rows", len(found), "storage", s.storage.Name())

	headers := make([]string, len(columns))
	for i, c := range columns {
		headers[i] = c.header
	}
	return &models.ExportResult{
		Key:       key,
		Location:  location,
		Storage:   s.storage.Name(),
		Rows:      len(found),
		Columns:   headers,
		CreatedAt: now,
	}, nil
}

// buildColumns lists the fixed columns, then every other data key in sorted
// order, then the custom fields in definition order
func buildColumns(found []models.Entity, fields []models.CustomFieldDefinition) []column {
	columns := []column{
		{key: "_id", header: "ID"},
		{key: "_created_at", header: "Created At"},
		{key: "_updated_at", header: "Updated At"},
	}

	custom := make(map[string]bool, len(fields))
	for _, f := range fields {
		custom[f.Key] = true
	}
	seen := map[string]bool{}
	var keys []string
	for i := range found {
		for k := range found[i].Data {
			if custom[k] || seen[k] {
				continue
			}
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		columns = append(columns, column{key: k, header: customfields.LabelFromKey(k)})
	}
	for _, f := range fields {
		columns = append(columns, column{key: f.Key, header: f.Label})
	}
	return columns
}

func render(found []models.Entity, columns []column) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to drop default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create style: %w", err)
	}

	for i, c := range columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetName, cell, c.header); err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			return nil, err
		}
	}

	for r := range found {
		for i, c := range columns {
			cell, err := excelize.CoordinatesToCellName(i+1, r+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheetName, cell, cellValue(&found[r], c.key)); err != nil {
				return nil, err
			}
		}
	}

	last, err := excelize.ColumnNumberToName(len(columns))
	if err != nil {
		return nil, err
	}
	if err := f.SetColWidth(sheetName, "A", last, 18); err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write spreadsheet: %w", err)
	}
	return buf.Bytes(), nil
}

func cellValue(e *models.Entity, key string) any {
	switch key {
	case "_id":
		return e.ID
	case "_created_at":
		return e.CreatedAt.UTC().Format(time.RFC3339)
	case "_updated_at":
		return e.UpdatedAt.UTC().Format(time.RFC3339)
	}
	switch v := e.Data[key].(type) {
	case nil:
		return nil
	case map[string]any, []any:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	default:
		return v
	}
}
