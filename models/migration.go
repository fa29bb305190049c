package models

import (
	"log"

	"bitbucket.org/mmdatafocus/erp_mirror/config"
	"gorm.io/gorm"
)

// Parents before children so foreign key constraints can be created.
func MigrateTables(db *gorm.DB) error {
	return db.AutoMigrate(
		&Party{}, &User{},
		&Order{},
		&Task{},
		&TimeEntry{},
		&SyncRun{}, &SyncDiagnostic{},
	)
}

func MigrateTable() {
	if err := MigrateTables(config.GetDB()); err != nil {
		log.Fatal(err)
	}
}
