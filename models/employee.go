package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/hrportal_backend/config"
	"bitbucket.org/mmdatafocus/hrportal_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Employee mirrors an ERP employee. EmployeeID is the ERP's stable external
// identifier: it is the upsert key, never the surrogate ID. Rows are soft
// deleted so leave requests and payroll history keep valid references.
type Employee struct {
	ID         uint   `gorm:"primary_key" json:"id"`
	EmployeeID string `gorm:"uniqueIndex;size:64;not null" json:"employee_id"`
	Name       string `gorm:"size:255;not null" json:"name"`
	// CPF is the national id; never serialized by default.
	CPF          string           `gorm:"size:20" json:"-"`
	Email        string           `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Phone        string           `gorm:"size:50" json:"phone"`
	BirthDate    *time.Time       `json:"birth_date"`
	JobTitle     string           `gorm:"size:100" json:"job_title"`
	DepartmentID *uint            `gorm:"index" json:"department_id"`
	ManagerID    *uint            `gorm:"index" json:"manager_id"`
	HireDate     *time.Time       `json:"hire_date"`
	Salary       decimal.Decimal  `gorm:"type:decimal(12,2)" json:"salary"`
	IsActive     bool             `gorm:"default:true" json:"is_active"`
	ErpUpdatedAt *time.Time       `json:"erp_updated_at"`
	Department   *Department      `json:"department,omitempty"`
	Manager      *Employee        `gorm:"foreignKey:ManagerID" json:"manager,omitempty"`
	CreatedAt    time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt   `gorm:"index" json:"-"`
}

// FindEmployeeByErpID resolves a local employee by the ERP external id.
// Returns (nil, nil) when no row exists.
func FindEmployeeByErpID(ctx context.Context, db *gorm.DB, erpID string) (*Employee, error) {
	var emp Employee
	err := db.WithContext(ctx).Where("employee_id = ?", erpID).Take(&emp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &emp, nil
}

// GetEmployeeDetail loads one employee with its department and manager.
func GetEmployeeDetail(ctx context.Context, db *gorm.DB, id uint) (*Employee, error) {
	var emp Employee
	err := db.WithContext(ctx).
		Preload("Department").
		Preload("Manager").
		Where("id = ?", id).
		Take(&emp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &emp, nil
}

func ListActiveEmployees(ctx context.Context, db *gorm.DB, limit int, offset int) ([]Employee, error) {
	if limit <= 0 || limit > 200 {
		limit = config.SearchLimit
	}
	var employees []Employee
	err := db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id").
		Limit(limit).
		Offset(offset).
		Find(&employees).Error
	return employees, err
}
