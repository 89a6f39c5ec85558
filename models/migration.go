package models

import (
	"log"

	"bitbucket.org/mmdatafocus/hrportal_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Department{}, &Employee{},
		&PayrollRecord{}, &LeaveRequest{},
		&User{},
		&AuditLog{},
		&SyncRun{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
