package erpsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/hrportal_backend/erpclient"
)

const (
	defaultPageSize = 100

	// maxPages bounds a single run against an ERP that keeps answering
	// hasNext=true. A hundred thousand records per run is far beyond any
	// real payroll population.
	maxPages = 1000
)

// Fetcher is the slice of the ERP client the orchestrator needs.
// *erpclient.Client satisfies it.
type Fetcher interface {
	FetchChangedEmployees(ctx context.Context, since time.Time, page int, pageSize int) (erpclient.EmployeePage, error)
	FetchDepartments(ctx context.Context) ([]erpclient.RemoteDepartment, error)
	FetchPayrollRecords(ctx context.Context, periodStart time.Time, periodEnd time.Time, page int) (erpclient.PayrollPage, error)
}

// EmployeeApplier is the reconciliation surface the employee loop drives.
type EmployeeApplier interface {
	Apply(ctx context.Context, remote erpclient.RemoteEmployee) error
	Finish(ctx context.Context) []RecordError
}

// Orchestrator walks the ERP feeds page by page and hands every record to
// the reconciler. One record failing never aborts the loop; a transport or
// auth failure does, because an error page must not read as end-of-data.
type Orchestrator struct {
	Fetcher  Fetcher
	PageSize int
	MaxPages int
}

func NewOrchestrator(fetcher Fetcher) *Orchestrator {
	return &Orchestrator{
		Fetcher:  fetcher,
		PageSize: defaultPageSize,
		MaxPages: maxPages,
	}
}

// RunEmployeeSync pulls every employee changed since the cursor. The
// returned error is non-nil only when the fetch loop aborted; per-record
// failures live in the result's error list.
func (o *Orchestrator) RunEmployeeSync(ctx context.Context, applier EmployeeApplier, since time.Time) (SyncResult, error) {
	result := SyncResult{}
	var fetchErr error

	for page := 1; ; page++ {
		if o.MaxPages > 0 && page > o.MaxPages {
			result.addError("", fmt.Sprintf("aborted after %d pages, feed kept reporting more data", o.MaxPages))
			fetchErr = errors.New("page limit exceeded")
			break
		}

		resp, err := o.Fetcher.FetchChangedEmployees(ctx, since, page, o.PageSize)
		if err != nil {
			result.addError("", err.Error())
			fetchErr = err
			break
		}
		if len(resp.Records) == 0 {
			break
		}

		for _, remote := range resp.Records {
			if err := o.applyOne(ctx, applier, remote); err != nil {
				result.addError(strings.TrimSpace(remote.EmployeeID), err.Error())
				continue
			}
			result.SuccessCount++
		}

		if !resp.HasNext {
			break
		}
	}

	for _, recErr := range applier.Finish(ctx) {
		result.Errors = append(result.Errors, recErr)
		result.ErrorCount++
	}

	result.Metadata = map[string]interface{}{"since": since.UTC().Format(time.RFC3339)}
	return result, fetchErr
}

// applyOne shields the loop from a panicking reconciliation of a single
// record.
func (o *Orchestrator) applyOne(ctx context.Context, applier EmployeeApplier, remote erpclient.RemoteEmployee) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic applying record: %v", r)
		}
	}()
	return applier.Apply(ctx, remote)
}

// RunDepartmentSync refreshes the full department catalog. The feed is not
// paginated; the ERP returns the whole list.
func (o *Orchestrator) RunDepartmentSync(ctx context.Context, reconciler *Reconciler) (SyncResult, error) {
	result := SyncResult{}

	departments, err := o.Fetcher.FetchDepartments(ctx)
	if err != nil {
		result.addError("", err.Error())
		return result, err
	}

	for _, remote := range departments {
		if err := reconciler.ApplyDepartment(ctx, remote); err != nil {
			result.addError(strings.TrimSpace(remote.ID), err.Error())
			continue
		}
		result.SuccessCount++
	}
	return result, nil
}

// RunPayrollSync pulls the payslips of one pay period.
func (o *Orchestrator) RunPayrollSync(ctx context.Context, reconciler *Reconciler, periodStart time.Time, periodEnd time.Time) (SyncResult, error) {
	result := SyncResult{}
	var fetchErr error

	for page := 1; ; page++ {
		if o.MaxPages > 0 && page > o.MaxPages {
			result.addError("", fmt.Sprintf("aborted after %d pages, feed kept reporting more data", o.MaxPages))
			fetchErr = errors.New("page limit exceeded")
			break
		}

		resp, err := o.Fetcher.FetchPayrollRecords(ctx, periodStart, periodEnd, page)
		if err != nil {
			result.addError("", err.Error())
			fetchErr = err
			break
		}
		if len(resp.Records) == 0 {
			break
		}

		for _, remote := range resp.Records {
			if err := reconciler.ApplyPayroll(ctx, remote); err != nil {
				result.addError(strings.TrimSpace(remote.PayrollID), err.Error())
				continue
			}
			result.SuccessCount++
		}

		if !resp.HasNext {
			break
		}
	}

	result.Metadata = map[string]interface{}{
		"periodStart": periodStart.Format("2006-01-02"),
		"periodEnd":   periodEnd.Format("2006-01-02"),
	}
	return result, fetchErr
}
