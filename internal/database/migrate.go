package database

import (
	"mwp/internal/models"
	"mwp/pkg/logger"
)

// Migrate 执行数据库迁移
func Migrate() error {
	appLogger := logger.GetLogger()
	appLogger.Info("Starting database migration...")

	err := DB.AutoMigrate(
		&models.User{},
		// 工作流引擎
		&models.WorkflowDefinition{},
		&models.WorkflowDefinitionRevision{},
		&models.WorkflowInstance{},
		&models.WorkflowInstanceHistory{},
		&models.WorkflowInstanceComment{},
		&models.WorkflowAction{},
	)

	if err != nil {
		appLogger.Errorf("Database migration failed: %v", err)
		return err
	}

	appLogger.Info("Database migration completed successfully")

	return nil
}
