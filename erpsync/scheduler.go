package erpsync

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/hrportal_backend/config"
	"bitbucket.org/mmdatafocus/hrportal_backend/models"
	"bitbucket.org/mmdatafocus/hrportal_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Scheduler triggers a recurring employee sync. The incremental cursor is
// the started_at of the last run that finished, so records changed while
// that run was executing are fetched again rather than skipped.
type Scheduler struct {
	DB       *gorm.DB
	Logger   *logrus.Logger
	Interval time.Duration
}

func NewScheduler(db *gorm.DB, logger *logrus.Logger) *Scheduler {
	interval := time.Duration(utils.IntFromEnv("ERP_SYNC_INTERVAL_MINUTES", 60)) * time.Minute
	return &Scheduler{
		DB:       db,
		Logger:   logger,
		Interval: interval,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	since := time.Now().Add(-time.Hour)
	last, err := LastSuccessfulRunStart(ctx, s.DB, models.SyncTypeEmployee)
	if err != nil {
		config.LogError(s.Logger, "erpsync", "tick", "resolve last successful run", nil, err)
	} else if last != nil {
		since = *last
	}

	params := SyncParams{Since: since.UTC().Format(time.RFC3339)}
	run, err := TriggerSync(ctx, s.DB, models.SyncTypeEmployee, models.SyncTriggeredScheduled, params)
	if err != nil {
		if errors.Is(err, ErrSyncInProgress) {
			s.Logger.WithField("running_id", run.ID).Info("scheduled sync skipped, run in flight")
			return
		}
		config.LogError(s.Logger, "erpsync", "tick", "trigger scheduled sync", nil, err)
		return
	}
	s.Logger.WithFields(logrus.Fields{
		"run_id": run.ID,
		"since":  params.Since,
	}).Info("scheduled sync triggered")
}
