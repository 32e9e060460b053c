// Package jobs runs the scheduled housekeeping of the platform.
package jobs

import (
	"context"
	"errors"

	"github.com/jordanlanch/entityhub/pkg/customfields"
	"github.com/jordanlanch/entityhub/pkg/entities"
	"github.com/jordanlanch/entityhub/pkg/logger"
	"github.com/jordanlanch/entityhub/pkg/metrics"
)

// PurgeReport summarizes one purge run
type PurgeReport struct {
	Workspaces     int
	EntitiesPurged int
	FieldsPurged   int
}

// Purger removes entities and custom fields whose retention window ended
type Purger struct {
	store    *entities.Store
	registry *customfields.Registry
	metrics  *metrics.Metrics
	log      logger.Logger
}

// NewPurger creates a purger over the store and registry
func NewPurger(store *entities.Store, registry *customfields.Registry, m *metrics.Metrics, log logger.Logger) *Purger {
	if log == nil {
		log = logger.Nop()
	}
	return &Purger{store: store, registry: registry, metrics: m, log: log.With("component", "purge")}
}

// Run purges every workspace. Custom fields go first so that their values
// are stripped before trashed entities disappear. A failing workspace is
// logged and skipped; the returned error joins all failures.
func (p *Purger) Run(ctx context.Context) (PurgeReport, error) {
	var report PurgeReport

	workspaces, err := p.store.DB().Workspaces(ctx)
	if err != nil {
		return report, err
	}

	now := p.store.Now()
	cutoff := now.Add(-p.store.Retention())
	var errs []error
	for _, ws := range workspaces {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		report.Workspaces++

		fields, err := p.registry.PurgeExpired(ctx, ws, now)
		report.FieldsPurged += fields
		if err != nil {
			p.log.Error("custom field purge failed", "workspace_id", ws, "error", err)
			errs = append(errs, err)
		}

		purged, err := p.store.PurgeDeleted(ctx, ws, cutoff)
		report.EntitiesPurged += purged
		p.metrics.RecordEntitiesPurged(purged)
		if err != nil {
			p.log.Error("entity purge failed", "workspace_id", ws, "error", err)
			errs = append(errs, err)
		}
	}

	p.log.Info("purge finished",
		"workspaces", report.Workspaces,
		"entities_purged", report.EntitiesPurged,
		"fields_purged", report.FieldsPurged,
	)
	return report, errors.Join(errs...)
}
