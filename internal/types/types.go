// Package types 定义交易历史服务中使用的所有数据类型
// 包含链、代币、交易记录、适配器配置、错误类型和HTTP响应格式
// 遵循领域驱动设计原则，确保类型安全和业务语义清晰
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ========================================
// 链定义
// ========================================

// ChainID 区块链网络标识
// 0 表示尚未连接任何网络
type ChainID uint

// 支持的链ID
const (
	ChainMainnet         ChainID = 1      // Ethereum主网
	ChainRinkeby         ChainID = 4      // Rinkeby测试网
	ChainXDai            ChainID = 100    // Gnosis (xDai)
	ChainPolygon         ChainID = 137    // Polygon
	ChainArbitrumOne     ChainID = 42161  // Arbitrum One
	ChainArbitrumRinkeby ChainID = 421611 // Arbitrum Rinkeby测试网
)

// chainInfo 链的静态元数据
type chainInfo struct {
	name          string // 链名称
	nativeSymbol  string // 原生代币符号
	wrappedNative string // 原生代币的包装代币地址
}

var chains = map[ChainID]chainInfo{
	ChainMainnet:         {name: "mainnet", nativeSymbol: "ETH", wrappedNative: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"},
	ChainRinkeby:         {name: "rinkeby", nativeSymbol: "ETH", wrappedNative: "0xc778417E063141139Fce010982780140Aa0cD5Ab"},
	ChainXDai:            {name: "xdai", nativeSymbol: "XDAI", wrappedNative: "0xe91D153E0b41518A2Ce8Dd3D7944Fa863463a97d"},
	ChainPolygon:         {name: "polygon", nativeSymbol: "MATIC", wrappedNative: "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270"},
	ChainArbitrumOne:     {name: "arbitrum_one", nativeSymbol: "ETH", wrappedNative: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1"},
	ChainArbitrumRinkeby: {name: "arbitrum_rinkeby", nativeSymbol: "ETH", wrappedNative: "0xB47e6A5f8b33b3F17603C83a0535A9dcD7E32681"},
}

// IsKnown 检查是否为已知链
func (c ChainID) IsKnown() bool {
	_, ok := chains[c]
	return ok
}

// String 返回链名称，未知链返回数字形式
func (c ChainID) String() string {
	if info, ok := chains[c]; ok {
		return info.name
	}
	return fmt.Sprintf("chain_%d", uint(c))
}

// NativeSymbol 返回链的原生代币符号
func (c ChainID) NativeSymbol() string {
	return chains[c].nativeSymbol
}

// WrappedNativeAddress 返回链的包装原生代币地址
func (c ChainID) WrappedNativeAddress() (string, bool) {
	info, ok := chains[c]
	if !ok || info.wrappedNative == "" {
		return "", false
	}
	return info.wrappedNative, true
}

// KnownChains 返回所有已知链（按链ID升序）
func KnownChains() []ChainID {
	return []ChainID{ChainMainnet, ChainRinkeby, ChainXDai, ChainPolygon, ChainArbitrumOne, ChainArbitrumRinkeby}
}

// ========================================
// 代币定义
// ========================================

// Token 代币实体
type Token struct {
	ChainID  ChainID `json:"chain_id" yaml:"chain_id"` // 所在链
	Address  string  `json:"address" yaml:"address"`   // 合约地址
	Symbol   string  `json:"symbol" yaml:"symbol"`     // 代币符号
	Name     string  `json:"name" yaml:"name"`         // 代币全名
	Decimals int     `json:"decimals" yaml:"decimals"` // 小数位数
}

// Equal 比较两个代币（地址不区分大小写）
func (t *Token) Equal(other *Token) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.ChainID == other.ChainID && strings.EqualFold(t.Address, other.Address)
}

// TokenPair 有序代币对 (输入 -> 输出)
type TokenPair struct {
	Input  *Token `json:"input"`  // 输入代币
	Output *Token `json:"output"` // 输出代币
}

// Key 返回代币对的存储键
func (p TokenPair) Key() string {
	return PairKey(p.Input.Address, p.Output.Address)
}

// Symbol 返回代币对的展示符号，例如 WETHUSDC
func (p TokenPair) Symbol() string {
	return p.Input.Symbol + p.Output.Symbol
}

// PairKey 根据两个地址生成代币对键
func PairKey(inputAddress, outputAddress string) string {
	return strings.ToLower(inputAddress) + ":" + strings.ToLower(outputAddress)
}

// ========================================
// 交易历史类型
// ========================================

// 交易方向（相对于输入代币）
const (
	TradeSideBuy  = "buy"  // 买入输入代币
	TradeSideSell = "sell" // 卖出输入代币
)

// Trade 单笔成交记录
type Trade struct {
	ID          string          `json:"id"`           // 成交ID
	TxHash      string          `json:"tx_hash"`      // 交易哈希
	Timestamp   time.Time       `json:"timestamp"`    // 成交时间
	Side        string          `json:"side"`         // 方向 buy/sell
	AmountIn    decimal.Decimal `json:"amount_in"`    // 支付数量
	AmountOut   decimal.Decimal `json:"amount_out"`   // 获得数量
	Price       decimal.Decimal `json:"price"`        // 价格(每单位输入代币对应的输出代币数量)
	AmountUSD   decimal.Decimal `json:"amount_usd"`   // 美元价值
	Protocol    string          `json:"protocol"`     // 来源协议
	PairAddress string          `json:"pair_address"` // 流动性池地址
}

// HistoryStatus 交易历史的加载状态
type HistoryStatus string

const (
	HistoryLoading HistoryStatus = "loading" // 加载中
	HistoryReady   HistoryStatus = "ready"   // 已就绪
	HistoryFailed  HistoryStatus = "failed"  // 加载失败
)

// TradeHistory 单个适配器在某条链上某个代币对的交易历史
// 每个适配器只写入自己的命名空间
type TradeHistory struct {
	Adapter      string        `json:"adapter"`                 // 适配器键
	ChainID      ChainID       `json:"chain_id"`                // 链ID
	PairKey      string        `json:"pair_key"`                // 代币对键
	Symbol       string        `json:"symbol"`                  // 代币对符号
	Status       HistoryStatus `json:"status"`                  // 加载状态
	Trades       []Trade       `json:"trades"`                  // 成交记录(按时间倒序)
	ErrorCode    string        `json:"error_code,omitempty"`    // 错误代码
	ErrorMessage string        `json:"error_message,omitempty"` // 错误信息
	Generation   uint64        `json:"generation"`              // 写入该历史的抓取代数
	UpdatedAt    time.Time     `json:"updated_at"`              // 最后更新时间
}

// ========================================
// 适配器配置类型
// ========================================

// AdapterConfig 交易历史适配器配置
type AdapterConfig struct {
	Name            string             `json:"name"`               // 适配器键
	DisplayName     string             `json:"display_name"`       // 显示名称
	Endpoints       map[ChainID]string `json:"endpoints"`          // 每条链的数据源地址
	APIKey          string             `json:"api_key"`            // API密钥
	Timeout         time.Duration      `json:"timeout"`            // 请求超时时间
	RetryCount      int                `json:"retry_count"`        // 重试次数
	RateLimitPerSec float64            `json:"rate_limit_per_sec"` // 每秒请求上限
	PageSize        int                `json:"page_size"`          // 单次拉取的成交数量
	IsActive        bool               `json:"is_active"`          // 是否启用
}

// SupportedChains 返回配置了数据源的链
func (c *AdapterConfig) SupportedChains() []ChainID {
	result := make([]ChainID, 0, len(c.Endpoints))
	for _, chain := range KnownChains() {
		if _, ok := c.Endpoints[chain]; ok {
			result = append(result, chain)
		}
	}
	return result
}

// ========================================
// 错误类型定义
// ========================================

// TradesError 交易历史服务错误
type TradesError struct {
	Code    string `json:"code"`              // 错误代码
	Message string `json:"message"`           // 错误消息
	Adapter string `json:"adapter,omitempty"` // 相关适配器
	Err     error  `json:"-"`                 // 原始错误
}

func (e *TradesError) Error() string {
	if e.Adapter != "" {
		return fmt.Sprintf("[%s] %s", e.Adapter, e.Message)
	}
	return e.Message
}

func (e *TradesError) Unwrap() error {
	return e.Err
}

// 预定义错误代码
const (
	ErrCodeInvalidRequest     = "INVALID_REQUEST"     // 无效请求
	ErrCodeNotInitialized     = "NOT_INITIALIZED"     // 协调器未初始化
	ErrCodeAlreadyInitialized = "ALREADY_INITIALIZED" // 协调器重复初始化
	ErrCodeUnsupportedChain   = "UNSUPPORTED_CHAIN"   // 不支持的链
	ErrCodeNoChain            = "NO_ACTIVE_CHAIN"     // 没有活跃链
	ErrCodeAdapterError       = "ADAPTER_ERROR"       // 适配器错误
	ErrCodeStoreError         = "STORE_ERROR"         // 存储错误
	ErrCodeInternalError      = "INTERNAL_ERROR"      // 内部错误
	ErrCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED" // 频率限制
	ErrCodeNotFound           = "NOT_FOUND"           // 资源不存在
)

// 协调器生命周期错误
var (
	ErrNotInitialized     = &TradesError{Code: ErrCodeNotInitialized, Message: "交易适配器尚未初始化"}
	ErrAlreadyInitialized = &TradesError{Code: ErrCodeAlreadyInitialized, Message: "交易适配器已经初始化"}
)

// ErrorCode 提取错误代码，非TradesError返回内部错误代码
func ErrorCode(err error) string {
	var tradesErr *TradesError
	if errors.As(err, &tradesErr) {
		return tradesErr.Code
	}
	return ErrCodeInternalError
}

// ========================================
// 配置类型
// ========================================

// Config 交易历史服务配置
type Config struct {
	Server     ServerConfig     `json:"server"`     // 服务器配置
	Redis      RedisConfig      `json:"redis"`      // Redis配置
	Store      StoreConfig      `json:"store"`      // 状态存储配置
	Database   DatabaseConfig   `json:"database"`   // 数据库配置
	Session    SessionConfig    `json:"session"`    // 会话配置
	Tokens     TokensConfig     `json:"tokens"`     // 代币解析配置
	Adapters   []AdapterConfig  `json:"adapters"`   // 适配器配置
	RateLimit  RateLimitConfig  `json:"rate_limit"` // 限流配置
	Monitoring MonitoringConfig `json:"monitoring"` // 监控配置
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port        int    `json:"port"`        // 监听端口
	Environment string `json:"environment"` // 运行环境
	LogLevel    string `json:"log_level"`   // 日志级别
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host     string `json:"host"`      // Redis主机
	Port     int    `json:"port"`      // Redis端口
	Password string `json:"password"`  // Redis密码
	DB       int    `json:"db"`        // 数据库编号
	PoolSize int    `json:"pool_size"` // 连接池大小
}

// 存储后端类型
const (
	StoreBackendRedis  = "redis"
	StoreBackendMemory = "memory"
)

// StoreConfig 状态存储配置
type StoreConfig struct {
	Backend   string        `json:"backend"`    // redis 或 memory
	TTL       time.Duration `json:"ttl"`        // 交易历史保留时间
	PrefixKey string        `json:"prefix_key"` // 键前缀
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Enabled         bool          `json:"enabled"`           // 是否启用数据库
	Host            string        `json:"host"`              // 主机
	Port            int           `json:"port"`              // 端口
	User            string        `json:"user"`              // 用户名
	Password        string        `json:"password"`          // 密码
	Name            string        `json:"name"`              // 数据库名
	SSLMode         string        `json:"ssl_mode"`          // SSL模式
	MaxOpenConns    int           `json:"max_open_conns"`    // 最大打开连接数
	MaxIdleConns    int           `json:"max_idle_conns"`    // 最大空闲连接数
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"` // 连接最大生命周期
}

// DSN 返回PostgreSQL连接串
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// SessionConfig 会话配置
type SessionConfig struct {
	DefaultChainID ChainID `json:"default_chain_id"` // 协调器初始链
}

// TokensConfig 代币解析配置
type TokensConfig struct {
	ListPath string `json:"list_path"` // 静态代币列表(YAML)路径
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled           bool    `json:"enabled"`             // 是否启用
	RequestsPerSecond float64 `json:"requests_per_second"` // 单IP每秒请求数
	Burst             int     `json:"burst"`               // 突发容量
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	MetricsEnabled  bool   `json:"metrics_enabled"`   // 是否启用指标
	HealthCheckPath string `json:"health_check_path"` // 健康检查路径
}

// ========================================
// HTTP响应类型
// ========================================

// APIResponse 统一API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`         // 是否成功
	Data      interface{} `json:"data,omitempty"`  // 响应数据
	Error     *APIError   `json:"error,omitempty"` // 错误信息
	Meta      interface{} `json:"meta,omitempty"`  // 元数据
	Timestamp int64       `json:"timestamp"`       // 时间戳
	RequestID string      `json:"request_id"`      // 请求ID
}

// APIError API错误信息
type APIError struct {
	Code    string                 `json:"code"`              // 错误代码
	Message string                 `json:"message"`           // 错误消息
	Details map[string]interface{} `json:"details,omitempty"` // 详细信息
}

// HealthCheckResponse 健康检查响应
type HealthCheckResponse struct {
	Status    string                   `json:"status"`    // 整体状态
	Timestamp time.Time                `json:"timestamp"` // 检查时间
	Version   string                   `json:"version"`   // 服务版本
	Uptime    time.Duration            `json:"uptime"`    // 运行时间
	Adapters  map[string]AdapterHealth `json:"adapters"`  // 适配器健康状态
	Store     string                   `json:"store"`     // 存储状态
}

// AdapterHealth 适配器健康状态
type AdapterHealth struct {
	Status       string        `json:"status"`                  // healthy, unhealthy
	LastChecked  time.Time     `json:"last_checked"`            // 最后检查时间
	ResponseTime time.Duration `json:"response_time"`           // 响应时间
	ErrorMessage string        `json:"error_message,omitempty"` // 错误信息
}

// 健康状态
const (
	StatusHealthy   = "healthy"   // 健康状态
	StatusUnhealthy = "unhealthy" // 不健康状态
	StatusDegraded  = "degraded"  // 降级状态
)

// 请求头
const (
	HeaderRequestID = "X-Request-ID"
)

// gin上下文键，处理器写入，访问日志读取
const (
	ContextKeyRequestID = "request_id"
	ContextKeySessionID = "session_id"
	ContextKeyChainID   = "chain_id"
	ContextKeyPairKey   = "pair_key"
)
