// Package config 适配器配置管理器
// 数据库控制适配器启用状态和各链数据源，环境变量提供敏感信息和覆盖值
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"swapr-dapp/trades-service/internal/types"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AdapterConfigManager 适配器配置管理器
// 负责从数据库和环境变量加载适配器配置，确保数据一致性
type AdapterConfigManager struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// DatabaseAdapter 数据库适配器模型
type DatabaseAdapter struct {
	ID              uint    `gorm:"primaryKey"`
	Name            string  `gorm:"column:name;size:50;uniqueIndex"`
	DisplayName     string  `gorm:"column:display_name;size:100"`
	APIKey          string  `gorm:"column:api_key"`   // 通常为空，从环境变量读取
	IsActive        bool    `gorm:"column:is_active"` // 控制适配器是否启用
	Priority        int     `gorm:"column:priority"`  // 注册顺序
	TimeoutMS       int     `gorm:"column:timeout_ms"`
	RetryCount      int     `gorm:"column:retry_count"`
	RateLimitPerSec float64 `gorm:"column:rate_limit_per_sec"`
	PageSize        int     `gorm:"column:page_size"`
}

func (DatabaseAdapter) TableName() string { return "trade_adapters" }

// DatabaseAdapterEndpoint 适配器在某条链上的数据源
type DatabaseAdapterEndpoint struct {
	ID          uint   `gorm:"primaryKey"`
	AdapterID   uint   `gorm:"column:adapter_id;index"`
	ChainID     uint   `gorm:"column:chain_id"` // 外部链ID
	EndpointURL string `gorm:"column:endpoint_url;size:500"`
	IsActive    bool   `gorm:"column:is_active"`
}

func (DatabaseAdapterEndpoint) TableName() string { return "trade_adapter_endpoints" }

// NewAdapterConfigManager 创建适配器配置管理器
func NewAdapterConfigManager(db *gorm.DB, logger *logrus.Logger) *AdapterConfigManager {
	return &AdapterConfigManager{
		db:     db,
		logger: logger,
	}
}

// LoadActiveAdapters 加载活跃的适配器配置，按优先级排序
func (mgr *AdapterConfigManager) LoadActiveAdapters() ([]types.AdapterConfig, error) {
	mgr.logger.Info("🔄 从数据库加载活跃适配器配置...")

	var dbAdapters []DatabaseAdapter
	if err := mgr.db.Where("is_active = ?", true).Order("priority ASC").Find(&dbAdapters).Error; err != nil {
		return nil, fmt.Errorf("查询活跃适配器失败: %w", err)
	}

	mgr.logger.Infof("📋 数据库中找到 %d 个活跃适配器", len(dbAdapters))

	adapters := make([]types.AdapterConfig, 0, len(dbAdapters))
	for _, dbAdapter := range dbAdapters {
		endpoints, err := mgr.loadEndpoints(dbAdapter.ID)
		if err != nil {
			mgr.logger.Warnf("⚠️ 跳过适配器 %s (ID=%d): 加载数据源失败 - %v", dbAdapter.Name, dbAdapter.ID, err)
			continue
		}

		adapter := mgr.mergeConfig(dbAdapter, endpoints, loadEnvironmentConfig(dbAdapter.Name))
		if !adapter.IsActive {
			mgr.logger.Infof("⏸️ 适配器 %s 已被环境变量 %s%s 禁用", adapter.Name, strings.ToUpper(adapter.Name), envSuffixEnabled)
			continue
		}
		adapters = append(adapters, adapter)

		mgr.logger.Infof("✅ 适配器配置完成: ID=%d, %s", dbAdapter.ID, formatAdapterSummary(adapter))
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("没有找到可用的活跃适配器")
	}
	return adapters, nil
}

// loadEndpoints 加载适配器各链的数据源
// 没有配置数据源时返回空集合，由适配器使用默认数据源
func (mgr *AdapterConfigManager) loadEndpoints(adapterID uint) (map[types.ChainID]string, error) {
	var rows []DatabaseAdapterEndpoint
	if err := mgr.db.Where("adapter_id = ? AND is_active = ?", adapterID, true).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询适配器数据源失败: %w", err)
	}

	endpoints := make(map[types.ChainID]string, len(rows))
	for _, row := range rows {
		endpoints[types.ChainID(row.ChainID)] = row.EndpointURL
	}
	return endpoints, nil
}

// 适配器环境变量后缀，前缀为大写的适配器名，如 SWAPR_TIMEOUT
const (
	envSuffixAPIKey     = "_API_KEY"
	envSuffixTimeout    = "_TIMEOUT" // 时间间隔格式，如 10s
	envSuffixRetryCount = "_RETRY_COUNT"
	envSuffixRateLimit  = "_RATE_LIMIT"
	envSuffixPageSize   = "_PAGE_SIZE"
	envSuffixEnabled    = "_ENABLED"
)

// EnvironmentConfig 环境变量配置，零值字段表示未设置
type EnvironmentConfig struct {
	APIKey          string
	Timeout         time.Duration
	RetryCount      int // -1 表示未设置，0 表示不重试
	RateLimitPerSec float64
	PageSize        int
	Enabled         *bool
	Endpoints       map[types.ChainID]string
}

// loadEnvironmentConfig 从环境变量加载适配器配置
func loadEnvironmentConfig(adapterName string) EnvironmentConfig {
	prefix := strings.ToUpper(adapterName)

	env := EnvironmentConfig{
		APIKey:          getEnv(prefix+envSuffixAPIKey, ""),
		Timeout:         getEnvAsDuration(prefix+envSuffixTimeout, 0),
		RetryCount:      getEnvAsInt(prefix+envSuffixRetryCount, -1),
		RateLimitPerSec: getEnvAsFloat(prefix+envSuffixRateLimit, 0),
		PageSize:        getEnvAsInt(prefix+envSuffixPageSize, 0),
		Endpoints:       loadEndpoints(prefix),
	}
	if raw := os.Getenv(prefix + envSuffixEnabled); raw != "" {
		if enabled, err := strconv.ParseBool(raw); err == nil {
			env.Enabled = &enabled
		} else {
			logrus.Warnf("无法解析环境变量 %s%s 为布尔值，忽略", prefix, envSuffixEnabled)
		}
	}
	return env
}

// applyTo 用已设置的环境变量覆盖适配器配置
func (env EnvironmentConfig) applyTo(adapter *types.AdapterConfig) {
	if env.APIKey != "" {
		adapter.APIKey = env.APIKey
	}
	if env.Timeout > 0 {
		adapter.Timeout = env.Timeout
	}
	if env.RetryCount >= 0 {
		adapter.RetryCount = env.RetryCount
	}
	if env.RateLimitPerSec > 0 {
		adapter.RateLimitPerSec = env.RateLimitPerSec
	}
	if env.PageSize > 0 {
		adapter.PageSize = env.PageSize
	}
	if env.Enabled != nil {
		adapter.IsActive = *env.Enabled
	}
	if len(env.Endpoints) > 0 && adapter.Endpoints == nil {
		adapter.Endpoints = make(map[types.ChainID]string, len(env.Endpoints))
	}
	for chainID, endpoint := range env.Endpoints {
		adapter.Endpoints[chainID] = endpoint
	}
}

// mergeConfig 合并数据库配置和环境变量配置，环境变量优先
func (mgr *AdapterConfigManager) mergeConfig(dbAdapter DatabaseAdapter, endpoints map[types.ChainID]string, env EnvironmentConfig) types.AdapterConfig {
	merged := make(map[types.ChainID]string, len(endpoints)+len(env.Endpoints))
	for chainID, endpoint := range endpoints {
		merged[chainID] = endpoint
	}

	adapter := types.AdapterConfig{
		Name:            dbAdapter.Name,
		DisplayName:     dbAdapter.DisplayName,
		Endpoints:       merged,
		APIKey:          dbAdapter.APIKey,
		Timeout:         time.Duration(dbAdapter.TimeoutMS) * time.Millisecond,
		RetryCount:      dbAdapter.RetryCount,
		RateLimitPerSec: dbAdapter.RateLimitPerSec,
		PageSize:        dbAdapter.PageSize,
		IsActive:        dbAdapter.IsActive,
	}
	env.applyTo(&adapter)
	return adapter
}

// formatAdapterSummary 格式化适配器配置摘要
func formatAdapterSummary(adapter types.AdapterConfig) string {
	apiKeyStatus := "未配置"
	if adapter.APIKey != "" {
		apiKeyStatus = "已配置"
	}

	return fmt.Sprintf("%s(%s) | API Key: %s | 数据源: %d条链 | 超时: %v | 重试: %d",
		adapter.DisplayName, adapter.Name, apiKeyStatus, len(adapter.Endpoints), adapter.Timeout, adapter.RetryCount)
}

// Models 适配器配置表模型，用于自动迁移
func Models() []interface{} {
	return []interface{}{&DatabaseAdapter{}, &DatabaseAdapterEndpoint{}}
}
