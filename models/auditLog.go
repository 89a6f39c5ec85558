package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/hrportal_backend/utils"
	"gorm.io/gorm"
)

const (
	AuditOperationCreate = "create"
	AuditOperationUpdate = "update"
	AuditOperationDelete = "delete"
)

// Audited entity kinds. The (EntityType, EntityID) pair is a tagged
// reference; no runtime type reflection.
const (
	AuditEntityEmployee   = "employee"
	AuditEntityDepartment = "department"
	AuditEntityPayroll    = "payroll_record"
)

type AuditLog struct {
	ID            uint      `gorm:"primary_key" json:"id"`
	EntityType    string    `gorm:"index:idx_audit_entity,priority:1;size:50;not null" json:"entity_type"`
	EntityID      string    `gorm:"index:idx_audit_entity,priority:2;size:64;not null" json:"entity_id"`
	Operation     string    `gorm:"size:20;not null" json:"operation"`
	UserID        *uint     `gorm:"index" json:"user_id"`
	OldValuesJSON []byte    `gorm:"type:json" json:"old_values"`
	NewValuesJSON []byte    `gorm:"type:json" json:"new_values"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// WriteAuditLog records a mutation against a tagged entity reference.
// Old/new values are serialized snapshots; either may be nil.
func WriteAuditLog(ctx context.Context, db *gorm.DB, entityType string, entityID string, operation string, oldValues interface{}, newValues interface{}) error {
	var oldJSON, newJSON []byte
	if oldValues != nil {
		oldJSON, _ = json.Marshal(oldValues)
	}
	if newValues != nil {
		newJSON, _ = json.Marshal(newValues)
	}

	var userID *uint
	// Sync runs have no acting user; handler paths put one in context.
	if id, ok := utils.GetUserIdFromContext(ctx); ok && id > 0 {
		u := uint(id)
		userID = &u
	}

	rec := AuditLog{
		EntityType:    entityType,
		EntityID:      entityID,
		Operation:     operation,
		UserID:        userID,
		OldValuesJSON: oldJSON,
		NewValuesJSON: newJSON,
	}
	return db.WithContext(ctx).Create(&rec).Error
}
