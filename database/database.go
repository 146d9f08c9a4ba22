package database

import (
	"ytgrab/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Init opens the Postgres connection and migrates the schema. The handle is
// passed into each store explicitly; there is no package-level connection.
func Init(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&models.Job{},
		&models.RateWindow{},
		&models.ClientOverride{},
	); err != nil {
		return nil, err
	}

	return db, nil
}
