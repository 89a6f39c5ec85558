package models

import "time"

const (
	LeaveStatusPending  = "pending"
	LeaveStatusApproved = "approved"
	LeaveStatusRejected = "rejected"
)

// LeaveRequest references employees by surrogate id; employees are soft
// deleted so these rows never dangle. The approval workflow itself lives
// outside the sync core.
type LeaveRequest struct {
	ID         uint      `gorm:"primary_key" json:"id"`
	EmployeeID uint      `gorm:"index;not null" json:"employee_id"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	Reason     string    `gorm:"type:text" json:"reason"`
	Status     string    `gorm:"size:20;default:pending" json:"status"`
	ApproverID *uint     `json:"approver_id"`
	Employee   *Employee `json:"employee,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
