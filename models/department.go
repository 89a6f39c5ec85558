package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Department mirrors an ERP department. Lazily created on first reference
// from an employee record; never deleted by sync.
type Department struct {
	ID           uint      `gorm:"primary_key" json:"id"`
	DepartmentID string    `gorm:"uniqueIndex;size:64;not null" json:"department_id"`
	Name         string    `gorm:"size:255;not null" json:"name"`
	ErpCode      string    `gorm:"size:64" json:"erp_code"`
	ManagerID    *uint     `gorm:"index" json:"manager_id"`
	Description  string    `gorm:"type:text" json:"description"`
	IsActive     bool      `gorm:"default:true" json:"is_active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func FindDepartmentByErpID(ctx context.Context, db *gorm.DB, erpID string) (*Department, error) {
	var dept Department
	err := db.WithContext(ctx).Where("department_id = ?", erpID).Take(&dept).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &dept, nil
}

func ListDepartments(ctx context.Context, db *gorm.DB) ([]Department, error) {
	var departments []Department
	err := db.WithContext(ctx).Where("is_active = ?", true).Order("name").Find(&departments).Error
	return departments, err
}
