package jobs

import (
	"context"
	"time"

	"github.com/jordanlanch/entityhub/pkg/logger"
	"github.com/robfig/cron/v3"
)

const purgeTimeout = 30 * time.Minute

// CronManager manages scheduled jobs
type CronManager struct {
	cron   *cron.Cron
	purger *Purger
	log    logger.Logger
}

// NewCronManager creates a new cron manager
func NewCronManager(purger *Purger, log logger.Logger) *CronManager {
	if log == nil {
		log = logger.Nop()
	}
	return &CronManager{
		cron:   cron.New(),
		purger: purger,
		log:    log.With("component", "cron"),
	}
}

// SetupJobs registers the purge job on schedule, a standard five-field
// cron expression
func (cm *CronManager) SetupJobs(schedule string) error {
	_, err := cm.cron.AddFunc(schedule, cm.runPurge)
	if err != nil {
		return err
	}
	cm.log.Info("cron jobs configured", "jobs", len(cm.cron.Entries()), "purge_schedule", schedule)
	return nil
}

func (cm *CronManager) runPurge() {
	ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
	defer cancel()

	if _, err := cm.purger.Run(ctx); err != nil {
		cm.log.Error("purge job finished with errors", "error", err)
	}
}

// Start starts the cron scheduler
func (cm *CronManager) Start() {
	cm.cron.Start()
}

// Stop stops the scheduler and waits for running jobs
func (cm *CronManager) Stop() {
	<-cm.cron.Stop().Done()
}

// Entries returns the number of scheduled jobs
func (cm *CronManager) Entries() int {
	return len(cm.cron.Entries())
}
