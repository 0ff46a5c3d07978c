package database

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"WearSync/internal/model"
	"WearSync/pkg/logger"
)

// Migrate 创建参与者与同步历史表
func Migrate() error {
	db := DB()
	if db == nil {
		return gorm.ErrInvalidDB
	}

	logger.Logger.Info("Starting database migration...")

	err := db.AutoMigrate(
		&model.Participant{},
		&model.SyncRun{},
	)
	if err != nil {
		logger.Logger.Error("Database migration failed", zap.Error(err))
		return err
	}

	logger.Logger.Info("Database migration completed successfully")
	return nil
}
