package erpsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/hrportal_backend/config"
	"bitbucket.org/mmdatafocus/hrportal_backend/erpclient"
	"bitbucket.org/mmdatafocus/hrportal_backend/models"
	"bitbucket.org/mmdatafocus/hrportal_backend/utils"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type managerLink struct {
	EmployeeErpID string
	ManagerErpID  string
}

// Reconciler applies remote ERP records onto local rows. The remote value
// wins every field conflict; local edits to synced fields do not survive
// the next run. Manager references to employees that have not landed yet
// are queued and resolved by Finish once the full page set is in.
type Reconciler struct {
	db       *gorm.DB
	validate *validator.Validate
	logger   *logrus.Logger
	pending  []managerLink
}

func NewReconciler(db *gorm.DB) *Reconciler {
	return &Reconciler{
		db:       db,
		validate: validator.New(),
		logger:   config.GetLogger(),
	}
}

// Apply upserts one employee keyed on the ERP external id.
func (r *Reconciler) Apply(ctx context.Context, remote erpclient.RemoteEmployee) error {
	if err := r.validate.Struct(remote); err != nil {
		return fmt.Errorf("invalid employee record: %w", err)
	}

	extID := strings.TrimSpace(remote.EmployeeID)
	// Soft deleted rows hide from this lookup. A removed employee that
	// reappears in the feed fails the unique index on create and surfaces
	// as a record error; sync never resurrects a row HR has deleted.
	existing, err := models.FindEmployeeByErpID(ctx, r.db, extID)
	if err != nil {
		return err
	}

	var deptID *uint
	if remote.Department != nil && strings.TrimSpace(remote.Department.ID) != "" {
		dept, err := r.GetOrCreateDepartment(ctx, *remote.Department)
		if err != nil {
			return err
		}
		deptID = &dept.ID
	}

	emp := models.Employee{}
	if existing != nil {
		emp = *existing
	}
	emp.EmployeeID = extID
	emp.Name = strings.TrimSpace(remote.FullName)
	emp.CPF = strings.TrimSpace(remote.CPF)
	emp.Email = strings.ToLower(strings.TrimSpace(remote.Email))
	emp.Phone = strings.TrimSpace(remote.Phone)
	emp.JobTitle = strings.TrimSpace(remote.JobTitle)
	if deptID != nil {
		emp.DepartmentID = deptID
	}
	if t, ok := utils.ParseTimeFlexible(remote.BirthDate); ok {
		emp.BirthDate = &t
	}
	if t, ok := utils.ParseTimeFlexible(remote.HireDate); ok {
		emp.HireDate = &t
	} else if emp.HireDate == nil {
		now := time.Now()
		emp.HireDate = &now
	}
	if sal, err := decimal.NewFromString(strings.TrimSpace(remote.Salary)); err == nil {
		emp.Salary = sal
	}
	if remote.IsActive != nil {
		emp.IsActive = *remote.IsActive
	} else if existing == nil {
		emp.IsActive = true
	}
	if t, ok := utils.ParseTimeFlexible(remote.UpdatedAt); ok {
		emp.ErpUpdatedAt = &t
	}

	managerErpID := strings.TrimSpace(remote.ManagerID)
	if managerErpID != "" {
		manager, err := models.FindEmployeeByErpID(ctx, r.db, managerErpID)
		if err != nil {
			return err
		}
		if manager != nil {
			emp.ManagerID = &manager.ID
		} else {
			// The manager may arrive on a later page of the same run.
			r.pending = append(r.pending, managerLink{EmployeeErpID: extID, ManagerErpID: managerErpID})
		}
	} else {
		emp.ManagerID = nil
	}

	if existing == nil {
		if err := r.db.WithContext(ctx).Create(&emp).Error; err != nil {
			return err
		}
		_ = models.WriteAuditLog(ctx, r.db, models.AuditEntityEmployee, extID, models.AuditOperationCreate, nil, emp)
		return nil
	}

	if err := r.db.WithContext(ctx).Save(&emp).Error; err != nil {
		return err
	}
	_ = models.WriteAuditLog(ctx, r.db, models.AuditEntityEmployee, extID, models.AuditOperationUpdate, existing, emp)
	return nil
}

// Finish resolves the queued manager links. Links whose manager still does
// not exist locally come back as record errors, one per employee.
func (r *Reconciler) Finish(ctx context.Context) []RecordError {
	var errs []RecordError
	for _, link := range r.pending {
		manager, err := models.FindEmployeeByErpID(ctx, r.db, link.ManagerErpID)
		if err != nil {
			errs = append(errs, RecordError{ExternalID: link.EmployeeErpID, Message: err.Error()})
			continue
		}
		if manager == nil {
			r.logger.WithFields(logrus.Fields{
				"employee_id": link.EmployeeErpID,
				"manager_id":  link.ManagerErpID,
			}).Warn("manager reference left unresolved")
			errs = append(errs, RecordError{
				ExternalID: link.EmployeeErpID,
				Message:    fmt.Sprintf("manager %s not found locally", link.ManagerErpID),
			})
			continue
		}
		err = r.db.WithContext(ctx).
			Model(&models.Employee{}).
			Where("employee_id = ?", link.EmployeeErpID).
			Update("manager_id", manager.ID).Error
		if err != nil {
			errs = append(errs, RecordError{ExternalID: link.EmployeeErpID, Message: err.Error()})
		}
	}
	r.pending = nil
	return errs
}

// departmentCacheTTL bounds how long a department row is served from Redis
// before the reconciler re-reads the database.
const departmentCacheTTL = time.Hour

func departmentCacheKey(extID string) string {
	return "hrportal:department:" + extID
}

// GetOrCreateDepartment resolves an embedded department reference, creating
// the row on first sight. Re-running a sync never duplicates departments.
// Lookups are served from Redis when the cached row already carries the
// incoming name and code; any drift falls through to the database.
func (r *Reconciler) GetOrCreateDepartment(ctx context.Context, remote erpclient.RemoteDepartment) (*models.Department, error) {
	extID := strings.TrimSpace(remote.ID)
	if extID == "" {
		return nil, errors.New("department id missing")
	}

	name := strings.TrimSpace(remote.Name)
	if name == "" {
		name = "Department " + extID
	}
	code := strings.TrimSpace(remote.ErpCode)

	cacheKey := departmentCacheKey(extID)
	var cached models.Department
	if hit, err := config.GetRedisObject(cacheKey, &cached); err == nil && hit &&
		cached.Name == name && (code == "" || cached.ErpCode == code) {
		return &cached, nil
	}

	existing, err := models.FindDepartmentByErpID(ctx, r.db, extID)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		updates := map[string]interface{}{}
		if strings.TrimSpace(remote.Name) != "" && existing.Name != name {
			updates["name"] = name
		}
		if code != "" && existing.ErpCode != code {
			updates["erp_code"] = code
		}
		if len(updates) > 0 {
			if err := r.db.WithContext(ctx).Model(existing).Updates(updates).Error; err != nil {
				return nil, err
			}
			_ = config.RemoveRedisKey(cacheKey)
			_ = models.WriteAuditLog(ctx, r.db, models.AuditEntityDepartment, extID, models.AuditOperationUpdate, nil, updates)
		} else {
			_ = config.SetRedisObject(cacheKey, existing, departmentCacheTTL)
		}
		return existing, nil
	}

	dept := models.Department{
		DepartmentID: extID,
		Name:         name,
		ErpCode:      code,
		IsActive:     true,
	}
	if err := r.db.WithContext(ctx).Create(&dept).Error; err != nil {
		// Another worker page may have created it between lookup and insert.
		if again, lookupErr := models.FindDepartmentByErpID(ctx, r.db, extID); lookupErr == nil && again != nil {
			return again, nil
		}
		return nil, err
	}
	_ = config.SetRedisObject(cacheKey, &dept, departmentCacheTTL)
	_ = models.WriteAuditLog(ctx, r.db, models.AuditEntityDepartment, extID, models.AuditOperationCreate, nil, dept)
	return &dept, nil
}

// ApplyDepartment upserts one department from the full catalog fetch.
func (r *Reconciler) ApplyDepartment(ctx context.Context, remote erpclient.RemoteDepartment) error {
	if err := r.validate.Struct(remote); err != nil {
		return fmt.Errorf("invalid department record: %w", err)
	}
	_, err := r.GetOrCreateDepartment(ctx, remote)
	return err
}

// ApplyPayroll upserts one payslip keyed on the ERP payroll id. The owning
// employee must already exist locally; payroll sync never creates employees.
func (r *Reconciler) ApplyPayroll(ctx context.Context, remote erpclient.RemotePayrollRecord) error {
	if err := r.validate.Struct(remote); err != nil {
		return fmt.Errorf("invalid payroll record: %w", err)
	}

	emp, err := models.FindEmployeeByErpID(ctx, r.db, strings.TrimSpace(remote.EmployeeID))
	if err != nil {
		return err
	}
	if emp == nil {
		return fmt.Errorf("employee %s not found locally", remote.EmployeeID)
	}

	rec := models.PayrollRecord{
		EmployeeID:   emp.ID,
		ErpPayrollID: strings.TrimSpace(remote.PayrollID),
	}
	var existing models.PayrollRecord
	err = r.db.WithContext(ctx).Where("erp_payroll_id = ?", rec.ErpPayrollID).Take(&existing).Error
	isNew := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !isNew {
		return err
	}
	if !isNew {
		rec = existing
		rec.EmployeeID = emp.ID
	}

	if t, ok := utils.ParseTimeFlexible(remote.PeriodStart); ok {
		rec.PeriodStart = t
	}
	if t, ok := utils.ParseTimeFlexible(remote.PeriodEnd); ok {
		rec.PeriodEnd = t
	}
	if gross, err := decimal.NewFromString(strings.TrimSpace(remote.GrossSalary)); err == nil {
		rec.GrossSalary = gross
	}
	if net, err := decimal.NewFromString(strings.TrimSpace(remote.NetSalary)); err == nil {
		rec.NetSalary = net
	}
	if len(remote.Details) > 0 {
		if s, err := utils.MarshalToJSON(remote.Details); err == nil {
			rec.DetailsJSON = []byte(s)
		}
	}
	if t, ok := utils.ParseTimeFlexible(remote.ProcessedAt); ok {
		rec.ProcessedAt = &t
	}

	if isNew {
		if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
			return err
		}
		_ = models.WriteAuditLog(ctx, r.db, models.AuditEntityPayroll, rec.ErpPayrollID, models.AuditOperationCreate, nil, rec)
		return nil
	}
	if err := r.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return err
	}
	_ = models.WriteAuditLog(ctx, r.db, models.AuditEntityPayroll, rec.ErpPayrollID, models.AuditOperationUpdate, existing, rec)
	return nil
}
