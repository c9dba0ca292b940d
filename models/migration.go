package models

import (
	"log"

	"github.com/HarveySpecter85/SaaS-ADS-sub000/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Brand{},
		&ConversionEvent{},
		&SyncAccountConfig{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
