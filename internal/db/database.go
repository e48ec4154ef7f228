package db

import (
	"context"
	"log"
	"time"

	"faucetd/internal/config"
	"faucetd/internal/metrics"
	"faucetd/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitDB opens the postgres connection and migrates the one table this
// subsystem owns. Session lifecycle before CLAIMABLE, and every other
// table the wider faucet backend needs, belong to the out-of-scope
// HTTP/session layer and are not migrated here.
func InitDB() error {
	if config.AppConfig == nil || config.AppConfig.Database.DSN == "" {
		log.Fatalf("database DSN is required")
	}

	dsn := config.AppConfig.Database.DSN
	log.Printf("🔌 [DB] connecting to database")

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		PrepareStmt:                              true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	log.Println("✅ [DB] connected")

	if err := DB.AutoMigrate(&models.SessionRecord{}); err != nil {
		return err
	}

	log.Println("✅ [DB] schema migrated")
	return nil
}

// StartHealthMonitor periodically pings the database and republishes
// DBConnectionStatus, grounded on the teacher's
// monitorDatabaseConnection ticker (monitoring_service.go).
func StartHealthMonitor(ctx context.Context) {
	updateConnectionStatus()
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				updateConnectionStatus()
			}
		}
	}()
}

func updateConnectionStatus() {
	sqlDB, err := DB.DB()
	if err != nil {
		metrics.DBConnectionStatus.Set(0)
		return
	}
	if err := sqlDB.Ping(); err != nil {
		metrics.DBConnectionStatus.Set(0)
		return
	}
	metrics.DBConnectionStatus.Set(1)
}
