package erpsync_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/hrportal_backend/config"
	"bitbucket.org/mmdatafocus/hrportal_backend/erpclient"
	"bitbucket.org/mmdatafocus/hrportal_backend/erpsync"
	"bitbucket.org/mmdatafocus/hrportal_backend/models"
)

// Storage-level behavior: upsert idempotency, department reuse, manager
// backfill, ledger lifecycle and retention.
//
// Run (requires Docker): INTEGRATION_TESTS=1 go test ./erpsync -run Integration -v

func setupIntegrationDB(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "hrportal_test")

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		t.Fatal("db is nil after ConnectDatabaseWithRetry")
	}
	models.MigrateTable()

	return context.Background()
}

func TestEmployeeUpsertIntegration(t *testing.T) {
	ctx := setupIntegrationDB(t)
	db := config.GetDB()
	reconciler := erpsync.NewReconciler(db)

	active := true
	remote := erpclient.RemoteEmployee{
		EmployeeID: "E100",
		FullName:   "Ana Lima",
		Email:      "ana@corp.test",
		JobTitle:   "Analyst",
		Salary:     "5200.50",
		HireDate:   "2024-03-01",
		IsActive:   &active,
		UpdatedAt:  "2026-08-01T12:00:00Z",
		Department: &erpclient.RemoteDepartment{ID: "D10", Name: "Finance", ErpCode: "FIN"},
	}

	// First apply creates employee and department.
	if err := reconciler.Apply(ctx, remote); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	emp, err := models.FindEmployeeByErpID(ctx, db, "E100")
	if err != nil || emp == nil {
		t.Fatalf("employee not created: %v", err)
	}
	if emp.DepartmentID == nil {
		t.Fatal("department link missing")
	}
	if emp.Salary.StringFixed(2) != "5200.50" {
		t.Fatalf("salary = %s", emp.Salary.StringFixed(2))
	}

	// Second apply with a changed title must update in place, not duplicate.
	remote.JobTitle = "Senior Analyst"
	if err := reconciler.Apply(ctx, remote); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	var count int64
	db.Model(&models.Employee{}).Where("employee_id = ?", "E100").Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
	emp, _ = models.FindEmployeeByErpID(ctx, db, "E100")
	if emp.JobTitle != "Senior Analyst" {
		t.Fatalf("remote value did not win: %q", emp.JobTitle)
	}

	// Department is reused across applies.
	db.Model(&models.Department{}).Where("department_id = ?", "D10").Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 department, got %d", count)
	}

	// Audit trail has one create and one update for the employee.
	var ops []string
	db.Model(&models.AuditLog{}).
		Where("entity_type = ? AND entity_id = ?", models.AuditEntityEmployee, "E100").
		Order("id").
		Pluck("operation", &ops)
	if len(ops) != 2 || ops[0] != models.AuditOperationCreate || ops[1] != models.AuditOperationUpdate {
		t.Fatalf("audit operations = %v", ops)
	}
}

// A soft deleted employee reappearing in the feed stays deleted and the
// record is reported as a failure; sync does not resurrect HR removals.
func TestSoftDeletedEmployeeStaysDeletedIntegration(t *testing.T) {
	ctx := setupIntegrationDB(t)
	db := config.GetDB()
	reconciler := erpsync.NewReconciler(db)

	remote := erpclient.RemoteEmployee{
		EmployeeID: "E300",
		FullName:   "Bruno Costa",
		Email:      "bruno@corp.test",
		HireDate:   "2023-01-10",
	}
	if err := reconciler.Apply(ctx, remote); err != nil {
		t.Fatalf("initial apply: %v", err)
	}
	emp, err := models.FindEmployeeByErpID(ctx, db, "E300")
	if err != nil || emp == nil {
		t.Fatalf("employee not created: %v", err)
	}

	if err := db.Delete(&models.Employee{}, emp.ID).Error; err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	if err := reconciler.Apply(ctx, remote); err == nil {
		t.Fatal("re-apply of a deleted employee should fail")
	}

	var trashed models.Employee
	if err := db.Unscoped().Where("employee_id = ?", "E300").Take(&trashed).Error; err != nil {
		t.Fatalf("trashed row missing: %v", err)
	}
	if !trashed.DeletedAt.Valid {
		t.Fatal("row was resurrected")
	}
	var total int64
	db.Unscoped().Model(&models.Employee{}).Where("employee_id = ?", "E300").Count(&total)
	if total != 1 {
		t.Fatalf("rows for E300 = %d, want 1", total)
	}
}

func TestManagerBackfillIntegration(t *testing.T) {
	ctx := setupIntegrationDB(t)
	db := config.GetDB()
	reconciler := erpsync.NewReconciler(db)

	// The subordinate arrives before their manager exists locally.
	sub := erpclient.RemoteEmployee{
		EmployeeID: "E201",
		FullName:   "Bo Chen",
		Email:      "bo@corp.test",
		ManagerID:  "E200",
	}
	if err := reconciler.Apply(ctx, sub); err != nil {
		t.Fatalf("apply subordinate: %v", err)
	}
	emp, _ := models.FindEmployeeByErpID(ctx, db, "E201")
	if emp.ManagerID != nil {
		t.Fatal("manager link must stay empty until backfill")
	}

	manager := erpclient.RemoteEmployee{
		EmployeeID: "E200",
		FullName:   "Caio Melo",
		Email:      "caio@corp.test",
	}
	if err := reconciler.Apply(ctx, manager); err != nil {
		t.Fatalf("apply manager: %v", err)
	}

	if errs := reconciler.Finish(ctx); len(errs) != 0 {
		t.Fatalf("backfill errors: %v", errs)
	}

	emp, _ = models.FindEmployeeByErpID(ctx, db, "E201")
	mgr, _ := models.FindEmployeeByErpID(ctx, db, "E200")
	if emp.ManagerID == nil || *emp.ManagerID != mgr.ID {
		t.Fatalf("manager not backfilled: %v", emp.ManagerID)
	}

	// A reference that never resolves comes back as a record error.
	orphan := erpclient.RemoteEmployee{
		EmployeeID: "E202",
		FullName:   "Duda Reis",
		Email:      "duda@corp.test",
		ManagerID:  "E999",
	}
	if err := reconciler.Apply(ctx, orphan); err != nil {
		t.Fatalf("apply orphan: %v", err)
	}
	errs := reconciler.Finish(ctx)
	if len(errs) != 1 || errs[0].ExternalID != "E202" {
		t.Fatalf("expected one unresolved-manager error, got %v", errs)
	}
}

func TestLedgerLifecycleIntegration(t *testing.T) {
	ctx := setupIntegrationDB(t)
	db := config.GetDB()

	run, err := erpsync.BeginRun(ctx, db, models.SyncTypeEmployee, models.SyncTriggeredManual, erpsync.SyncParams{Since: "2026-08-01T00:00:00Z"})
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if run.Attempts != 1 || run.StartedAt == nil {
		t.Fatalf("run not initialized: %+v", run)
	}

	running, err := erpsync.FindRunningRun(ctx, db, models.SyncTypeEmployee)
	if err != nil || running == nil || running.ID != run.ID {
		t.Fatalf("running run not found: %v %v", running, err)
	}
	// Other types are not blocked.
	other, err := erpsync.FindRunningRun(ctx, db, models.SyncTypePayroll)
	if err != nil || other != nil {
		t.Fatalf("payroll should have no running run: %v %v", other, err)
	}

	result := erpsync.SyncResult{
		SuccessCount: 40,
		ErrorCount:   2,
		Errors: []erpsync.RecordError{
			{ExternalID: "E7", Message: "email already taken"},
			{ExternalID: "E9", Message: "invalid payload"},
		},
	}
	if err := erpsync.CompleteRun(ctx, db, run, result); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	got, err := erpsync.GetRun(ctx, db, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != models.SyncRunStatusCompletedWithErrors {
		t.Fatalf("status = %s", got.Status)
	}
	if got.RecordsProcessed != 40 || got.RecordsFailed != 2 {
		t.Fatalf("counters = %d/%d", got.RecordsProcessed, got.RecordsFailed)
	}
	if got.CompletedAt == nil || got.DurationMs < 0 {
		t.Fatalf("completion fields wrong: %+v", got)
	}
	if errs := erpsync.DecodeErrors(got.ErrorsJSON); len(errs) != 2 || errs[0].ExternalID != "E7" {
		t.Fatalf("persisted errors = %v", errs)
	}

	// A terminal run no longer blocks the next trigger.
	running, _ = erpsync.FindRunningRun(ctx, db, models.SyncTypeEmployee)
	if running != nil {
		t.Fatalf("terminal run still reported running: %+v", running)
	}

	failed, _ := erpsync.BeginRun(ctx, db, models.SyncTypeEmployee, models.SyncTriggeredManual, erpsync.SyncParams{})
	if err := erpsync.FailRun(ctx, db, failed, erpsync.SyncResult{}, fmt.Errorf("erp authentication failed")); err != nil {
		t.Fatalf("FailRun: %v", err)
	}
	got, _ = erpsync.GetRun(ctx, db, failed.ID)
	if got.Status != models.SyncRunStatusFailed {
		t.Fatalf("status = %s", got.Status)
	}
	if errs := erpsync.DecodeErrors(got.ErrorsJSON); len(errs) != 1 || !strings.Contains(errs[0].Message, "authentication") {
		t.Fatalf("failure cause not persisted: %v", errs)
	}
}

func TestCleanupRetentionIntegration(t *testing.T) {
	ctx := setupIntegrationDB(t)
	db := config.GetDB()

	old := time.Now().AddDate(0, 0, -60)
	for i := 0; i < 150; i++ {
		run := models.SyncRun{
			Type:      models.SyncTypeEmployee,
			Status:    models.SyncRunStatusCompleted,
			CreatedAt: old,
		}
		if err := db.Create(&run).Error; err != nil {
			t.Fatalf("seed run %d: %v", i, err)
		}
	}

	deleted, err := erpsync.CleanupOldRuns(ctx, db, time.Now().AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("CleanupOldRuns: %v", err)
	}
	if deleted != 50 {
		t.Fatalf("expected 50 deletions, got %d", deleted)
	}

	var remaining int64
	db.Model(&models.SyncRun{}).Count(&remaining)
	if remaining != 100 {
		t.Fatalf("expected newest 100 kept, got %d", remaining)
	}
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("hrportal-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=hrportal_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
