package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayrollRecord stores one payslip pulled from the ERP. ErpPayrollID is the
// upsert key for payroll sync.
type PayrollRecord struct {
	ID           uint            `gorm:"primary_key" json:"id"`
	EmployeeID   uint            `gorm:"index;not null" json:"employee_id"`
	PeriodStart  time.Time       `json:"period_start"`
	PeriodEnd    time.Time       `json:"period_end"`
	GrossSalary  decimal.Decimal `gorm:"type:decimal(12,2)" json:"gross_salary"`
	NetSalary    decimal.Decimal `gorm:"type:decimal(12,2)" json:"net_salary"`
	DetailsJSON  []byte          `gorm:"type:json" json:"details"`
	ErpPayrollID string          `gorm:"uniqueIndex;size:64;not null" json:"erp_payroll_id"`
	ProcessedAt  *time.Time      `json:"processed_at"`
	Employee     *Employee       `json:"employee,omitempty"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
