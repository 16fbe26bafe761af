package database

import (
	"fmt"
	"time"

	"abonnement-backend/config"
	"abonnement-backend/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

// Connect opens the shared Postgres pool and stores it in DB.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	DB = db
	return db, nil
}

// AutoMigrate creates the public tables shared by every tenant.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.ContactPerson{}, &models.User{}, &models.Company{}); err != nil {
		return fmt.Errorf("public automigrate failed: %w", err)
	}
	return nil
}
