package erpsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/hrportal_backend/config"
	"bitbucket.org/mmdatafocus/hrportal_backend/erpclient"
	"bitbucket.org/mmdatafocus/hrportal_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	// runTimeout bounds one execution attempt end to end.
	runTimeout = 5 * time.Minute

	// maxRunAttempts counts worker executions, not per-record retries.
	// Failed records stay in the error list for manual follow-up.
	maxRunAttempts = 3
)

// retryBackoff[n-1] is the delay before attempt n+1.
var retryBackoff = []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}

func backoffForAttempt(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(retryBackoff) {
		attempt = len(retryBackoff)
	}
	return retryBackoff[attempt-1]
}

// ProcessSyncRun executes one ledger entry. Safe under Pub/Sub redelivery:
// terminal runs are acknowledged without work.
func ProcessSyncRun(ctx context.Context, payload SyncRunPayload) error {
	if payload.RunID == 0 {
		return errors.New("invalid payload")
	}

	db := config.GetDB()
	if db == nil {
		return errors.New("db is nil")
	}
	logger := config.GetLogger()

	run, err := GetRun(ctx, db, payload.RunID)
	if err != nil {
		return err
	}
	if run.IsTerminal() {
		return nil
	}

	lock, err := acquireSyncLock(ctx, run.Type)
	if err != nil {
		if errors.Is(err, ErrLockHeld) {
			// Another worker of the same type is mid-run. Push this run
			// back through the retry schedule instead of racing it.
			return scheduleRetry(ctx, db, run, SyncResult{}, err)
		}
		return err
	}
	defer releaseSyncLock(context.Background(), lock)

	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	client, err := erpclient.NewClient(config.GetERPConfig())
	if err != nil {
		return FailRun(ctx, db, run, SyncResult{}, err)
	}
	orch := NewOrchestrator(client)
	reconciler := NewReconciler(db)
	params := DecodeParams(run.ParamsJSON)

	var result SyncResult
	var runErr error
	switch run.Type {
	case models.SyncTypeEmployee:
		since, ok := params.SinceTime()
		if !ok {
			since = time.Now().Add(-time.Hour)
		}
		result, runErr = orch.RunEmployeeSync(runCtx, reconciler, since)
	case models.SyncTypeDepartment:
		result, runErr = orch.RunDepartmentSync(runCtx, reconciler)
	case models.SyncTypePayroll:
		start, end := payrollPeriod(params)
		result, runErr = orch.RunPayrollSync(runCtx, reconciler, start, end)
	default:
		return FailRun(ctx, db, run, SyncResult{}, fmt.Errorf("unknown sync type %q", run.Type))
	}

	logger.WithFields(logrus.Fields{
		"run_id":    run.ID,
		"type":      run.Type,
		"processed": result.SuccessCount,
		"failed":    result.ErrorCount,
	}).Info("sync run finished")

	if runErr != nil && result.SuccessCount == 0 {
		// Nothing landed; the whole attempt is retryable.
		return scheduleRetry(ctx, db, run, result, runErr)
	}
	return CompleteRun(ctx, db, run, result)
}

// payrollPeriod resolves the pay period, defaulting to the previous
// calendar month.
func payrollPeriod(params SyncParams) (time.Time, time.Time) {
	now := time.Now()
	firstOfThisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	start := firstOfThisMonth.AddDate(0, -1, 0)
	end := firstOfThisMonth.AddDate(0, 0, -1)

	if t, err := time.Parse("2006-01-02", params.StartDate); err == nil {
		start = t
	}
	if t, err := time.Parse("2006-01-02", params.EndDate); err == nil {
		end = t
	}
	return start, end
}

// scheduleRetry re-arms the run for the dispatcher or fails it terminally
// once the attempt budget is spent. Partial counters are preserved either
// way.
func scheduleRetry(ctx context.Context, db *gorm.DB, run *models.SyncRun, result SyncResult, cause error) error {
	if !run.IsRunning() {
		return nil
	}
	if run.Attempts >= maxRunAttempts {
		config.LogError(config.GetLogger(), "erpsync", "scheduleRetry", "retries exhausted", run.ID, cause)
		return FailRun(ctx, db, run, result, cause)
	}

	next := time.Now().Add(backoffForAttempt(run.Attempts))
	config.GetLogger().WithFields(logrus.Fields{
		"run_id":       run.ID,
		"type":         run.Type,
		"attempt":      run.Attempts,
		"next_attempt": next.UTC().Format(time.RFC3339),
	}).Warn("sync run attempt failed, retry scheduled")

	return db.WithContext(ctx).Model(run).Updates(map[string]interface{}{
		"records_processed": result.SuccessCount,
		"records_failed":    result.ErrorCount,
		"errors_json":       EncodeErrors(result.Errors),
		"next_attempt_at":   next,
	}).Error
}

// RetryDispatcher re-publishes runs whose retry delay has elapsed and
// reclaims runs abandoned by a crashed worker. One instance per process is
// enough; the claim update races benignly across instances because a
// duplicate publish lands on a terminal or locked run.
type RetryDispatcher struct {
	DB     *gorm.DB
	Logger *logrus.Logger

	BatchSize    int
	PollInterval time.Duration
	StaleAfter   time.Duration
}

func NewRetryDispatcher(db *gorm.DB, logger *logrus.Logger) *RetryDispatcher {
	return &RetryDispatcher{
		DB:           db,
		Logger:       logger,
		BatchSize:    10,
		PollInterval: 5 * time.Second,
		StaleAfter:   runTimeout + time.Minute,
	}
}

func (d *RetryDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.dispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

func (d *RetryDispatcher) dispatchOnce(ctx context.Context) {
	if d.DB == nil {
		return
	}
	now := time.Now()

	// A first attempt that died without reporting leaves next_attempt_at
	// empty. Arm those rows so the claim loop below picks them up.
	staleBefore := now.Add(-d.StaleAfter)
	err := d.DB.WithContext(ctx).
		Model(&models.SyncRun{}).
		Where("status = ? AND next_attempt_at IS NULL AND started_at <= ?",
			models.SyncRunStatusRunning, staleBefore).
		Update("next_attempt_at", now).Error
	if err != nil {
		config.LogError(d.Logger, "erpsync", "dispatchOnce", "reclaim stale runs", nil, err)
	}

	var due []models.SyncRun
	err = d.DB.WithContext(ctx).
		Where("status = ? AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?",
			models.SyncRunStatusRunning, now).
		Order("id asc").
		Limit(d.BatchSize).
		Find(&due).Error
	if err != nil {
		config.LogError(d.Logger, "erpsync", "dispatchOnce", "query due runs", nil, err)
		return
	}

	for i := range due {
		run := due[i]
		if run.Attempts >= maxRunAttempts {
			_ = FailRun(ctx, d.DB, &run, SyncResult{
				SuccessCount: run.RecordsProcessed,
				ErrorCount:   run.RecordsFailed,
				Errors:       DecodeErrors(run.ErrorsJSON),
			}, errors.New("retries exhausted"))
			continue
		}

		// Claim: push next_attempt_at forward so a crash of the worker we
		// are about to feed gets reclaimed after StaleAfter.
		err := d.DB.WithContext(ctx).Model(&run).Updates(map[string]interface{}{
			"attempts":        run.Attempts + 1,
			"next_attempt_at": now.Add(d.StaleAfter),
		}).Error
		if err != nil {
			config.LogError(d.Logger, "erpsync", "dispatchOnce", "claim run", run.ID, err)
			continue
		}

		if err := PublishSyncRun(ctx, run.ID, run.Type); err != nil {
			config.LogError(d.Logger, "erpsync", "dispatchOnce", "republish run", run.ID, err)
			continue
		}
		d.Logger.WithFields(logrus.Fields{
			"run_id":  run.ID,
			"type":    run.Type,
			"attempt": run.Attempts + 1,
		}).Info("sync run re-dispatched")
	}
}
