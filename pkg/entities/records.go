package entities

import (
	"context"
	"sort"

	"github.com/jordanlanch/entityhub/pkg/domain"
	"github.com/jordanlanch/entityhub/pkg/models"
	"github.com/jordanlanch/entityhub/pkg/tenancy"
)

// DataValidator checks the data written through the record API and returns
// the values to persist.
type DataValidator interface {
	ValidateData(ctx context.Context, scope tenancy.Scope, entityType string, data map[string]any) (map[string]any, error)
}

// SetDataValidator wires the validator used by the record API
func (s *Store) SetDataValidator(v DataValidator) {
	s.validator = v
}

// Deal keys moved only by the pipeline engine
var dealStageKeys = []string{"pipelineId", "stage", "probability", "stageHistory", "lastStageChangeAt"}

// CreateRecord creates an entity on behalf of an API client. Managed types
// are refused, data is validated and an entity_created event is recorded.
func (s *Store) CreateRecord(ctx context.Context, scope tenancy.Scope, in CreateInput) (*models.Entity, error) {
	if err := checkUnmanaged(in.Type); err != nil {
		return nil, err
	}
	if in.Data != nil {
		if err := checkDealKeys(in.Type, in.Data); err != nil {
			return nil, err
		}
		data, err := s.validateData(ctx, scope, in.Type, in.Data)
		if err != nil {
			return nil, err
		}
		if err := checkTyped(in.Type, data); err != nil {
			return nil, err
		}
		in.Data = data
	}

	e, err := s.Create(ctx, scope, in)
	if err != nil {
		return nil, err
	}
	s.RecordActivity(ctx, scope, e.ID, models.ActivityEntityCreated,
		map[string]any{"type": e.Type}, ActivityOptions{SourceModule: models.ModuleEntities})
	return e, nil
}

// UpdateRecord is the record API counterpart of Update
func (s *Store) UpdateRecord(ctx context.Context, scope tenancy.Scope, id string, in UpdateInput) (*models.Entity, error) {
	current, err := s.FindByID(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if err := checkUnmanaged(current.Type); err != nil {
		return nil, err
	}
	if len(in.Data) > 0 {
		if err := checkDealKeys(current.Type, in.Data); err != nil {
			return nil, err
		}
		patch, err := s.validateData(ctx, scope, current.Type, in.Data)
		if err != nil {
			return nil, err
		}
		if err := checkTyped(current.Type, Merge(current.Data, patch)); err != nil {
			return nil, err
		}
		in.Data = patch
	}

	e, err := s.Update(ctx, scope, id, in)
	if err != nil {
		return nil, err
	}
	s.RecordActivity(ctx, scope, e.ID, models.ActivityEntityUpdated,
		map[string]any{"type": e.Type, "fields": sortedKeys(in.Data)}, ActivityOptions{SourceModule: models.ModuleEntities})
	return e, nil
}

// DeleteRecord is the record API counterpart of Delete
func (s *Store) DeleteRecord(ctx context.Context, scope tenancy.Scope, id string) error {
	current, err := s.FindByID(ctx, scope, id)
	if err != nil {
		return err
	}
	if err := checkUnmanaged(current.Type); err != nil {
		return err
	}
	if err := s.Delete(ctx, scope, id); err != nil {
		return err
	}
	s.RecordActivity(ctx, scope, id, models.ActivityEntityDeleted,
		map[string]any{"type": current.Type}, ActivityOptions{SourceModule: models.ModuleEntities})
	return nil
}

// RestoreRecord is the record API counterpart of Restore
func (s *Store) RestoreRecord(ctx context.Context, scope tenancy.Scope, id string) (*models.Entity, error) {
	current, err := s.FindByIDWithDeleted(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if err := checkUnmanaged(current.Type); err != nil {
		return nil, err
	}
	e, err := s.Restore(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	s.RecordActivity(ctx, scope, e.ID, models.ActivityEntityRestored,
		map[string]any{"type": e.Type}, ActivityOptions{SourceModule: models.ModuleEntities})
	return e, nil
}

// PurgeRecord is the record API counterpart of Purge. Nothing is recorded
// since the subject no longer exists.
func (s *Store) PurgeRecord(ctx context.Context, scope tenancy.Scope, id string) error {
	current, err := s.FindByIDWithDeleted(ctx, scope, id)
	if err != nil {
		return err
	}
	if err := checkUnmanaged(current.Type); err != nil {
		return err
	}
	return s.Purge(ctx, scope, id)
}

func (s *Store) validateData(ctx context.Context, scope tenancy.Scope, entityType string, data map[string]any) (map[string]any, error) {
	if s.validator == nil {
		return data, nil
	}
	return s.validator.ValidateData(ctx, scope, entityType, data)
}

func checkUnmanaged(entityType string) error {
	if tenancy.PolicyFor(entityType).Managed {
		return domain.NewValidationErrorf("%s records are managed by their own endpoints", entityType)
	}
	return nil
}

func checkDealKeys(entityType string, data map[string]any) error {
	if entityType != models.TypeDeal {
		return nil
	}
	for _, key := range dealStageKeys {
		if _, ok := data[key]; ok {
			return domain.NewValidationErrorf("deal %s is set through the pipeline endpoints", key)
		}
	}
	return nil
}

func checkTyped(entityType string, data map[string]any) error {
	if err := models.CheckTyped(entityType, data); err != nil {
		return domain.NewValidationErrorf("invalid %s data: %v", entityType, err)
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
