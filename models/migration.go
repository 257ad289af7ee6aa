package models

import (
	"log"

	"bitbucket.org/mmdatafocus/recon_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&TenantSettings{},
		&SyncRun{}, &SyncRunError{},
		&IssueRow{}, &FixOutcomeRow{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
