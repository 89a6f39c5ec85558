// erp-sync triggers one synchronization run from the command line and
// exits once the run is enqueued. Progress is tracked in the sync run
// ledger, not in this process.
//
// Usage:
//
//	go run ./cmd/erp-sync --type employee --since 2026-08-01T00:00:00Z
//	go run ./cmd/erp-sync --type employee --force
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/hrportal_backend/config"
	"bitbucket.org/mmdatafocus/hrportal_backend/erpsync"
	"bitbucket.org/mmdatafocus/hrportal_backend/models"
	"bitbucket.org/mmdatafocus/hrportal_backend/utils"
	"github.com/joho/godotenv"
)

func main() {
	syncType := flag.String("type", models.SyncTypeEmployee, "Sync type: employee, department or payroll")
	sinceStr := flag.String("since", "", "Fetch records changed since this time (RFC3339 or YYYY-MM-DD). Defaults to one hour ago.")
	startStr := flag.String("period-start", "", "Payroll only: period start (YYYY-MM-DD)")
	endStr := flag.String("period-end", "", "Payroll only: period end (YYYY-MM-DD)")
	force := flag.Bool("force", false, "Start even when a run of this type is already in flight")
	flag.Parse()

	switch *syncType {
	case models.SyncTypeEmployee, models.SyncTypeDepartment, models.SyncTypePayroll:
	default:
		fmt.Fprintf(os.Stderr, "unknown sync type %q\n", *syncType)
		os.Exit(1)
	}

	_ = godotenv.Load()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	since := time.Now().Add(-time.Hour)
	if strings.TrimSpace(*sinceStr) != "" {
		t, ok := utils.ParseTimeFlexible(*sinceStr)
		if !ok {
			fmt.Fprintf(os.Stderr, "invalid --since value %q\n", *sinceStr)
			os.Exit(1)
		}
		since = t
	}

	params := erpsync.SyncParams{
		Since:     since.UTC().Format(time.RFC3339),
		StartDate: strings.TrimSpace(*startStr),
		EndDate:   strings.TrimSpace(*endStr),
		Forced:    *force,
	}

	triggeredBy := models.SyncTriggeredManual
	if *force {
		triggeredBy = models.SyncTriggeredForced
	}

	ctx := context.Background()
	run, err := erpsync.TriggerSync(ctx, db, *syncType, triggeredBy, params)
	if err != nil {
		if errors.Is(err, erpsync.ErrSyncInProgress) {
			fmt.Fprintf(os.Stderr, "sync already in progress (run %d); rerun with --force to override\n", run.ID)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "failed to trigger sync: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("sync run %d (%s) enqueued\n", run.ID, *syncType)
}
