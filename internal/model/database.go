package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"integration-console/internal/config"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Open 按驱动打开数据库
func Open(cfg *config.DatabaseConfig, debug bool) (*gorm.DB, error) {
	logLevel := logger.Silent
	if debug {
		logLevel = logger.Info
	}
	gormCfg := &gorm.Config{
		Logger:                                   logger.Default.LogMode(logLevel),
		DisableForeignKeyConstraintWhenMigrating: true, // 禁用外键约束检查
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql", "":
		dialector = mysql.Open(cfg.DSN())
	case "sqlite":
		dsn := cfg.DSN()
		if dir := filepath.Dir(dsn); dir != "." && !isMemoryDSN(dsn) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Driver == "sqlite" {
		// sqlite 单写者
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return db, nil
}

// InitDB 初始化全局数据库连接
func InitDB(cfg *config.DatabaseConfig) error {
	db, err := Open(cfg, config.Get().Server.Mode == "debug")
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// AutoMigrate 自动迁移数据库表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		// 控制台用户
		&User{},
		&Invite{},
		&DeletionRequest{},
		// 集成
		&IntegrationApp{},
		&IntegrationConnection{},
		// Zapier 桥接
		&ApiKey{},
		&Webhook{},
		&WebhookDelivery{},
		// 分析队列
		&Analysis{},
		// 审计
		&AuditLog{},
	)
}

// isMemoryDSN URI 形式与内存库不需要建目录
func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.HasPrefix(dsn, "file:")
}

// OpenMemory 打开独立的内存库并完成迁移，name 需唯一
func OpenMemory(name string) (*gorm.DB, error) {
	db, err := Open(&config.DatabaseConfig{
		Driver: "sqlite",
		Path:   "file:" + name + "?mode=memory&cache=shared",
	}, false)
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
