package database

import (
	"fmt"

	"github.com/wengyuechuan/rag-backend/internal/config"
	"github.com/wengyuechuan/rag-backend/internal/logger"
	"github.com/wengyuechuan/rag-backend/internal/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	gormlogger "gorm.io/gorm/logger"

	"gorm.io/gorm"
)

var DB *gorm.DB

func InitDB() (*gorm.DB, error) {
	cfg := config.AppConfig
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	logMode := gormlogger.Warn
	if cfg.Server.Env == "development" {
		logMode = gormlogger.Info
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.URL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logMode),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)

	if err := autoMigrate(db); err != nil {
		logger.Warn("数据库迁移警告", zap.Error(err))
	}

	DB = db
	logger.Info("数据库连接成功")
	return db, nil
}

// autoMigrate 按依赖顺序迁移知识库与聊天相关表
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.KnowledgeBase{},
		&models.Document{},
		&models.DocumentChunk{},
		&models.ChatSession{},
		&models.ChatMessage{},
	)
}

func CloseDB() error {
	if DB == nil {
		return nil
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
