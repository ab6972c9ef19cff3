// Package database 提供数据库连接和管理功能
// 采用GORM作为ORM框架，支持连接池管理和自动迁移
package database

import (
	"fmt"

	"swapr-dapp/trades-service/internal/types"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Database 数据库管理器
// 封装GORM数据库实例，提供统一的连接生命周期
type Database struct {
	DB     *gorm.DB       // GORM数据库实例
	logger *logrus.Logger // 日志记录器
}

// New 创建数据库连接
// 根据配置建立PostgreSQL连接并设置连接池参数
func New(cfg *types.DatabaseConfig, logger *logrus.Logger) (*Database, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		PrepareStmt: true, // 启用预编译语句缓存
		Logger:      gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层数据库实例失败: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	logger.Infof("数据库连接成功: %s:%d/%s", cfg.Host, cfg.Port, cfg.Name)

	return &Database{
		DB:     db,
		logger: logger,
	}, nil
}

// AutoMigrate 执行数据库自动迁移
func (d *Database) AutoMigrate(models ...interface{}) error {
	d.logger.Info("执行数据库自动迁移...")

	for _, model := range models {
		if err := d.DB.AutoMigrate(model); err != nil {
			return fmt.Errorf("迁移模型 %T 失败: %w", model, err)
		}
		d.logger.Debugf("成功迁移模型: %T", model)
	}

	d.logger.Info("数据库自动迁移完成")
	return nil
}

// HealthCheck 数据库健康检查
func (d *Database) HealthCheck() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("获取数据库实例失败: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("数据库ping测试失败: %w", err)
	}
	return nil
}

// Close 关闭数据库连接
func (d *Database) Close() error {
	d.logger.Info("正在关闭数据库连接...")

	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("获取底层数据库实例失败: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("关闭数据库连接失败: %w", err)
	}

	d.logger.Info("数据库连接已关闭")
	return nil
}
