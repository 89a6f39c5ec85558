package erpsync

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/hrportal_backend/config"
	"bitbucket.org/mmdatafocus/hrportal_backend/models"
	"gorm.io/gorm"
)

// retentionKeepCount rows are always kept regardless of age so the
// history endpoint never goes empty after a cleanup.
const retentionKeepCount = 100

// BeginRun inserts a ledger row in running state. The row exists before
// the work item is published so an orphaned publish can be spotted.
func BeginRun(ctx context.Context, db *gorm.DB, syncType string, triggeredBy string, params SyncParams) (*models.SyncRun, error) {
	now := time.Now()
	run := models.SyncRun{
		Type:        syncType,
		Status:      models.SyncRunStatusRunning,
		TriggeredBy: triggeredBy,
		StartedAt:   &now,
		ParamsJSON:  EncodeParams(params),
		Attempts:    1,
	}
	if err := db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// CompleteRun closes the run with its final counters. Status is
// completed when every record landed, completed_with_errors otherwise.
func CompleteRun(ctx context.Context, db *gorm.DB, run *models.SyncRun, result SyncResult) error {
	now := time.Now()
	status := models.SyncRunStatusCompleted
	if result.ErrorCount > 0 {
		status = models.SyncRunStatusCompletedWithErrors
	}

	var durationMs int64
	if run.StartedAt != nil {
		durationMs = now.Sub(*run.StartedAt).Milliseconds()
	}

	updates := map[string]interface{}{
		"status":            status,
		"completed_at":      now,
		"duration_ms":       durationMs,
		"records_processed": result.SuccessCount,
		"records_failed":    result.ErrorCount,
		"errors_json":       EncodeErrors(result.Errors),
		"next_attempt_at":   nil,
	}
	if result.Metadata != nil {
		updates["metadata_json"] = encodeMetadata(result.Metadata)
	}
	return db.WithContext(ctx).Model(run).Updates(updates).Error
}

// FailRun marks the run terminally failed. Partial counters are kept so
// the history still shows how far the run got before it gave up.
func FailRun(ctx context.Context, db *gorm.DB, run *models.SyncRun, result SyncResult, cause error) error {
	now := time.Now()
	var durationMs int64
	if run.StartedAt != nil {
		durationMs = now.Sub(*run.StartedAt).Milliseconds()
	}

	errs := result.Errors
	if cause != nil {
		errs = append(errs, RecordError{Message: cause.Error()})
		config.LogError(config.GetLogger(), "erpsync", "FailRun", "run failed terminally", run.ID, cause)
	}

	return db.WithContext(ctx).Model(run).Updates(map[string]interface{}{
		"status":            models.SyncRunStatusFailed,
		"completed_at":      now,
		"duration_ms":       durationMs,
		"records_processed": result.SuccessCount,
		"records_failed":    result.ErrorCount,
		"errors_json":       EncodeErrors(errs),
		"next_attempt_at":   nil,
	}).Error
}

// FindRunningRun returns the most recent non-terminal run of the given
// type, or nil when none is in flight.
func FindRunningRun(ctx context.Context, db *gorm.DB, syncType string) (*models.SyncRun, error) {
	var run models.SyncRun
	err := db.WithContext(ctx).
		Where("type = ? AND status = ?", syncType, models.SyncRunStatusRunning).
		Order("id desc").
		Take(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

func GetRun(ctx context.Context, db *gorm.DB, id uint) (*models.SyncRun, error) {
	var run models.SyncRun
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func ListRuns(ctx context.Context, db *gorm.DB, syncType string, status string, limit int) ([]models.SyncRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	q := db.WithContext(ctx).Model(&models.SyncRun{})
	if syncType != "" {
		q = q.Where("type = ?", syncType)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var runs []models.SyncRun
	if err := q.Order("id desc").Limit(limit).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// LastSuccessfulRunStart returns the started_at of the newest completed
// run of the given type. Scheduled runs use it as the incremental cursor.
func LastSuccessfulRunStart(ctx context.Context, db *gorm.DB, syncType string) (*time.Time, error) {
	var run models.SyncRun
	err := db.WithContext(ctx).
		Where("type = ? AND status IN ?", syncType,
			[]string{models.SyncRunStatusCompleted, models.SyncRunStatusCompletedWithErrors}).
		Order("id desc").
		Take(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return run.StartedAt, nil
}

// CleanupOldRuns deletes ledger rows created before the cutoff, always
// keeping the newest retentionKeepCount rows. Returns the delete count.
func CleanupOldRuns(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	var keepIDs []uint
	if err := db.WithContext(ctx).
		Model(&models.SyncRun{}).
		Order("id desc").
		Limit(retentionKeepCount).
		Pluck("id", &keepIDs).Error; err != nil {
		return 0, err
	}

	q := db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Where("status <> ?", models.SyncRunStatusRunning)
	if len(keepIDs) > 0 {
		q = q.Where("id NOT IN ?", keepIDs)
	}
	res := q.Delete(&models.SyncRun{})
	return res.RowsAffected, res.Error
}
