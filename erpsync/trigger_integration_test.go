package erpsync_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/hrportal_backend/config"
	"bitbucket.org/mmdatafocus/hrportal_backend/erpsync"
	"bitbucket.org/mmdatafocus/hrportal_backend/models"
)

// Trigger exclusivity and the worker retry path, against real MySQL (and
// Redis for the lock contention case).
//
// Run (requires Docker): INTEGRATION_TESTS=1 go test ./erpsync -run Integration -v

func stubPublisher(t *testing.T, fn func(ctx context.Context, runID uint, syncType string) error) {
	t.Helper()
	orig := erpsync.PublishSyncRun
	erpsync.PublishSyncRun = fn
	t.Cleanup(func() { erpsync.PublishSyncRun = orig })
}

func countRunning(t *testing.T, syncType string) int64 {
	t.Helper()
	var n int64
	err := config.GetDB().Model(&models.SyncRun{}).
		Where("type = ? AND status = ?", syncType, models.SyncRunStatusRunning).
		Count(&n).Error
	if err != nil {
		t.Fatalf("count running runs: %v", err)
	}
	return n
}

func TestTriggerExclusivityIntegration(t *testing.T) {
	ctx := setupIntegrationDB(t)
	db := config.GetDB()
	stubPublisher(t, func(context.Context, uint, string) error { return nil })

	first, err := erpsync.TriggerSync(ctx, db, models.SyncTypeEmployee, models.SyncTriggeredManual, erpsync.SyncParams{})
	if err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	if !first.IsRunning() {
		t.Fatalf("first run status = %s, want running", first.Status)
	}

	second, err := erpsync.TriggerSync(ctx, db, models.SyncTypeEmployee, models.SyncTriggeredManual, erpsync.SyncParams{})
	if !errors.Is(err, erpsync.ErrSyncInProgress) {
		t.Fatalf("second trigger err = %v, want ErrSyncInProgress", err)
	}
	if second == nil || second.ID != first.ID {
		t.Fatalf("conflict should return the in-flight run %d, got %+v", first.ID, second)
	}
	if got := countRunning(t, models.SyncTypeEmployee); got != 1 {
		t.Fatalf("running employee runs = %d, want 1", got)
	}

	// Another type is not blocked by an employee run.
	dept, err := erpsync.TriggerSync(ctx, db, models.SyncTypeDepartment, models.SyncTriggeredManual, erpsync.SyncParams{})
	if err != nil {
		t.Fatalf("department trigger during employee run: %v", err)
	}
	if dept.ID == first.ID {
		t.Fatal("department trigger returned the employee run")
	}

	forced, err := erpsync.TriggerSync(ctx, db, models.SyncTypeEmployee, models.SyncTriggeredForced, erpsync.SyncParams{Forced: true})
	if err != nil {
		t.Fatalf("forced trigger: %v", err)
	}
	if forced.ID == first.ID {
		t.Fatal("forced trigger should create a new run")
	}
	if got := countRunning(t, models.SyncTypeEmployee); got != 2 {
		t.Fatalf("running employee runs after force = %d, want 2", got)
	}
}

func TestTriggerPublishFailureFailsRunIntegration(t *testing.T) {
	ctx := setupIntegrationDB(t)
	db := config.GetDB()
	stubPublisher(t, func(context.Context, uint, string) error { return errors.New("transport down") })

	run, err := erpsync.TriggerSync(ctx, db, models.SyncTypeEmployee, models.SyncTriggeredManual, erpsync.SyncParams{})
	if err == nil {
		t.Fatal("expected the publish error to surface")
	}
	if run == nil {
		t.Fatal("the failed run should still be returned")
	}

	reloaded, err := erpsync.GetRun(ctx, db, run.ID)
	if err != nil {
		t.Fatalf("reload run: %v", err)
	}
	if reloaded.Status != models.SyncRunStatusFailed {
		t.Fatalf("run status = %s, want failed", reloaded.Status)
	}
	if got := countRunning(t, models.SyncTypeEmployee); got != 0 {
		t.Fatalf("running rows left behind = %d, want 0", got)
	}

	// Redelivery of a terminal run is a no-op.
	if err := erpsync.ProcessSyncRun(ctx, erpsync.SyncRunPayload{RunID: run.ID, Type: run.Type}); err != nil {
		t.Fatalf("terminal redelivery: %v", err)
	}
	reloaded, err = erpsync.GetRun(ctx, db, run.ID)
	if err != nil {
		t.Fatalf("reload run: %v", err)
	}
	if reloaded.Status != models.SyncRunStatusFailed {
		t.Fatalf("terminal status changed to %s", reloaded.Status)
	}
}

func TestWorkerLockContentionReschedulesIntegration(t *testing.T) {
	ctx := setupIntegrationDB(t)
	db := config.GetDB()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })
	t.Setenv("REDIS_ADDRESS", "127.0.0.1:"+redisPort)
	config.ConnectRedisWithRetry()

	run, err := erpsync.BeginRun(ctx, db, models.SyncTypeEmployee, models.SyncTriggeredManual, erpsync.SyncParams{})
	if err != nil {
		t.Fatalf("begin run: %v", err)
	}

	locker := config.GetRedisLock()
	if locker == nil {
		t.Fatal("redis lock client is nil after connect")
	}
	held, err := locker.Obtain(ctx, "erpsync:lock:employee", time.Minute, nil)
	if err != nil {
		t.Fatalf("obtain lock: %v", err)
	}
	defer func() { _ = held.Release(context.Background()) }()

	before := time.Now()
	if err := erpsync.ProcessSyncRun(ctx, erpsync.SyncRunPayload{RunID: run.ID, Type: run.Type}); err != nil {
		t.Fatalf("lock contention should reschedule, not fail: %v", err)
	}

	reloaded, err := erpsync.GetRun(ctx, db, run.ID)
	if err != nil {
		t.Fatalf("reload run: %v", err)
	}
	if !reloaded.IsRunning() {
		t.Fatalf("run status = %s, want running", reloaded.Status)
	}
	if reloaded.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1 until the dispatcher claims it", reloaded.Attempts)
	}
	if reloaded.NextAttemptAt == nil {
		t.Fatal("next_attempt_at should be armed")
	}
	delay := reloaded.NextAttemptAt.Sub(before)
	if delay < 5*time.Second || delay > 30*time.Second {
		t.Fatalf("retry armed %s out, want about 10s", delay)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("hrportal-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		out, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil && strings.Contains(out, "PONG") {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}
