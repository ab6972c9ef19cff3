// Package config 交易历史服务配置管理
// 提供配置加载、验证、环境变量处理等功能
// 适配器配置可由数据库覆盖，敏感信息始终来自环境变量
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"swapr-dapp/trades-service/internal/types"
	"swapr-dapp/trades-service/pkg/database"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Load 加载交易历史服务配置
// 从环境变量和.env文件加载配置，设置默认值
func Load() (*types.Config, error) {
	// 尝试加载.env文件
	if err := godotenv.Load(); err != nil {
		logrus.Info("未找到.env文件，使用环境变量配置")
	}

	config := &types.Config{
		Server: types.ServerConfig{
			Port:        getEnvAsInt("PORT", 0),  // 必填
			Environment: getEnv("APP_ENV", ""),   // 必填
			LogLevel:    getEnv("LOG_LEVEL", ""), // 必填
		},
		Redis: types.RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnvAsInt("REDIS_PORT", 0),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB_TRADES", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 10),
		},
		Store: types.StoreConfig{
			Backend:   strings.ToLower(getEnv("STORE_BACKEND", types.StoreBackendRedis)),
			TTL:       getEnvAsDuration("STORE_TTL", 24*time.Hour),
			PrefixKey: getEnv("STORE_PREFIX", "trades:"),
		},
		Database: types.DatabaseConfig{
			Enabled:         getEnvAsBool("DB_ENABLED", false),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", ""),
			Password:        getEnv("DB_PASSWORD", ""),
			Name:            getEnv("DB_NAME", ""),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Session: types.SessionConfig{
			DefaultChainID: types.ChainID(getEnvAsInt("DEFAULT_CHAIN_ID", int(types.ChainMainnet))),
		},
		Tokens: types.TokensConfig{
			ListPath: getEnv("TOKEN_LIST_PATH", "config/tokens.yaml"),
		},
		Adapters: loadAdapterConfigs(),
		RateLimit: types.RateLimitConfig{
			Enabled:           getEnvAsBool("RATE_LIMIT_ENABLED", true),
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 40),
		},
		Monitoring: types.MonitoringConfig{
			MetricsEnabled:  getEnvAsBool("METRICS_ENABLED", true),
			HealthCheckPath: getEnv("HEALTH_CHECK_PATH", "/health"),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return config, nil
}

// loadAdapterConfigs 内置适配器默认值，环境变量覆盖
// 变量名与数据库配置路径共用，见 loadEnvironmentConfig
func loadAdapterConfigs() []types.AdapterConfig {
	swapr := types.AdapterConfig{
		Name:            "swapr",
		DisplayName:     "Swapr",
		Timeout:         10 * time.Second,
		RetryCount:      2,
		RateLimitPerSec: 5,
		PageSize:        50,
		IsActive:        true,
	}
	loadEnvironmentConfig(swapr.Name).applyTo(&swapr)
	return []types.AdapterConfig{swapr}
}

// loadEndpoints 读取 <PREFIX>_SUBGRAPH_<CHAIN> 形式的数据源覆盖
func loadEndpoints(prefix string) map[types.ChainID]string {
	endpoints := make(map[types.ChainID]string)
	for _, chainID := range types.KnownChains() {
		key := fmt.Sprintf("%s_SUBGRAPH_%s", prefix, strings.ToUpper(chainID.String()))
		if endpoint := getEnv(key, ""); endpoint != "" {
			endpoints[chainID] = endpoint
		}
	}
	return endpoints
}

// validateConfig 验证配置的有效性
func validateConfig(cfg *types.Config) error {
	// 验证必填的服务器配置
	if cfg.Server.Port == 0 {
		return fmt.Errorf("PORT环境变量是必填项")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("无效的端口号: %d", cfg.Server.Port)
	}
	if cfg.Server.Environment == "" {
		return fmt.Errorf("APP_ENV环境变量是必填项")
	}
	if cfg.Server.LogLevel == "" {
		return fmt.Errorf("LOG_LEVEL环境变量是必填项")
	}

	// 验证存储配置
	switch cfg.Store.Backend {
	case types.StoreBackendRedis:
		if cfg.Redis.Host == "" {
			return fmt.Errorf("REDIS_HOST环境变量是必填项")
		}
		if cfg.Redis.Port == 0 {
			return fmt.Errorf("REDIS_PORT环境变量是必填项")
		}
	case types.StoreBackendMemory:
	default:
		return fmt.Errorf("无效的存储后端: %s", cfg.Store.Backend)
	}
	if cfg.Store.TTL <= 0 {
		return fmt.Errorf("STORE_TTL必须大于0")
	}

	// 验证数据库配置
	if cfg.Database.Enabled {
		if cfg.Database.User == "" || cfg.Database.Name == "" {
			return fmt.Errorf("启用数据库时DB_USER和DB_NAME是必填项")
		}
	}

	if cfg.Session.DefaultChainID == 0 {
		return fmt.Errorf("DEFAULT_CHAIN_ID不能为0")
	}

	// 验证至少有一个活跃的适配器
	activeAdapters := 0
	for _, adapter := range cfg.Adapters {
		if adapter.IsActive {
			activeAdapters++
		}
	}
	if activeAdapters == 0 {
		return fmt.Errorf("至少需要一个活跃的适配器")
	}

	if cfg.RateLimit.Enabled && cfg.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS必须大于0")
	}

	return nil
}

// ========================================
// 环境变量辅助函数
// ========================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		logrus.Warnf("无法解析环境变量 %s 为整数，使用默认值 %d", key, defaultValue)
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
		logrus.Warnf("无法解析环境变量 %s 为布尔值，使用默认值 %t", key, defaultValue)
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		logrus.Warnf("无法解析环境变量 %s 为时间间隔，使用默认值 %v", key, defaultValue)
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
		logrus.Warnf("无法解析环境变量 %s 为浮点数，使用默认值 %f", key, defaultValue)
	}
	return defaultValue
}

// ApplyDatabaseAdapters 用数据库中的适配器配置替换环境变量配置
// 数据库不可用或没有活跃适配器时保留环境变量配置
func ApplyDatabaseAdapters(cfg *types.Config, db *database.Database, logger *logrus.Logger) {
	manager := NewAdapterConfigManager(db.DB, logger)

	adapters, err := manager.LoadActiveAdapters()
	if err != nil {
		logger.Warnf("从数据库加载适配器配置失败: %v，使用环境变量配置", err)
		return
	}

	cfg.Adapters = adapters
	logger.Infof("🎉 成功使用数据库适配器配置，共 %d 个活跃适配器", len(adapters))
}
