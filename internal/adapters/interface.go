// Package adapters 交易历史适配器接口定义
// 定义所有流动性协议适配器的标准接口
package adapters

import (
	"context"

	"swapr-dapp/trades-service/internal/store"
	"swapr-dapp/trades-service/internal/types"
)

// InitialArguments 适配器初始参数
type InitialArguments struct {
	ChainID types.ChainID    // 初始链
	Store   store.Dispatcher // 共享状态存储的派发能力
}

// TradesAdapter 交易历史适配器接口
// 每个流动性协议的集成都必须实现该接口
type TradesAdapter interface {
	// 基础信息
	Key() string // 适配器键，在注册表中唯一

	// 生命周期
	SetInitialArguments(args InitialArguments) // 注入初始链和存储，可重复调用
	UpdateActiveChainID(chainID types.ChainID) // 更新缓存的链ID，不做任何I/O

	// 核心功能
	// 抓取代币对的交易历史并写入存储，返回值只表示完成情况
	GetTradesHistoryForPair(ctx context.Context, inputToken, outputToken *types.Token) error
}

// HealthChecker 可选的健康检查能力
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// MetricsReporter 可选的指标上报能力
type MetricsReporter interface {
	GetMetrics() AdapterMetrics
}
