package erpsync

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/hrportal_backend/models"
	"gorm.io/gorm"
)

var ErrSyncInProgress = errors.New("a sync of this type is already running")

// TriggerSync creates the ledger row and publishes the work item. With
// Forced set the running-check is skipped; the run still contends for the
// per-type lock at execution time. A failed publish fails the run
// immediately so no orphaned running row is left behind.
func TriggerSync(ctx context.Context, db *gorm.DB, syncType string, triggeredBy string, params SyncParams) (*models.SyncRun, error) {
	if !params.Forced {
		running, err := FindRunningRun(ctx, db, syncType)
		if err != nil {
			return nil, err
		}
		if running != nil {
			return running, ErrSyncInProgress
		}
	}

	run, err := BeginRun(ctx, db, syncType, triggeredBy, params)
	if err != nil {
		return nil, err
	}

	if err := PublishSyncRun(ctx, run.ID, syncType); err != nil {
		_ = FailRun(ctx, db, run, SyncResult{}, fmt.Errorf("enqueue failed: %w", err))
		return run, err
	}
	return run, nil
}
