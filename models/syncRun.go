package models

import (
	"time"
)

const (
	SyncTypeEmployee   = "employee"
	SyncTypePayroll    = "payroll"
	SyncTypeDepartment = "department"
)

// Status lifecycle: running -> {completed, completed_with_errors, failed}.
// Once terminal a row never goes back to running.
const (
	SyncRunStatusRunning             = "running"
	SyncRunStatusCompleted           = "completed"
	SyncRunStatusCompletedWithErrors = "completed_with_errors"
	SyncRunStatusFailed              = "failed"
)

const (
	SyncTriggeredManual    = "manual"
	SyncTriggeredScheduled = "scheduled"
	SyncTriggeredForced    = "forced"
	SyncTriggeredRetry     = "retry"
)

// SyncRun is one ledger entry per sync attempt. It is created at trigger
// time and mutated only by the worker that owns it. Attempts/NextAttemptAt
// drive the execution host's retry policy; per-record failures live in
// ErrorsJSON and are never retried automatically.
type SyncRun struct {
	ID               uint       `gorm:"primary_key" json:"id"`
	Type             string     `gorm:"index:idx_sync_run_type_status,priority:1;size:20;not null" json:"type"`
	Status           string     `gorm:"index:idx_sync_run_type_status,priority:2;size:30;not null" json:"status"`
	TriggeredBy      string     `gorm:"size:20" json:"triggered_by"`
	StartedAt        *time.Time `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at"`
	RecordsProcessed int        `json:"records_processed"`
	RecordsFailed    int        `json:"records_failed"`
	ParamsJSON       []byte     `gorm:"type:json" json:"params"`
	ErrorsJSON       []byte     `gorm:"type:json" json:"errors"`
	MetadataJSON     []byte     `gorm:"type:json" json:"metadata"`
	Attempts         int        `json:"attempts"`
	NextAttemptAt    *time.Time `gorm:"index" json:"next_attempt_at"`
	DurationMs       int64      `json:"duration_ms"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r SyncRun) IsRunning() bool {
	return r.Status == SyncRunStatusRunning
}

func (r SyncRun) IsTerminal() bool {
	switch r.Status {
	case SyncRunStatusCompleted, SyncRunStatusCompletedWithErrors, SyncRunStatusFailed:
		return true
	}
	return false
}
