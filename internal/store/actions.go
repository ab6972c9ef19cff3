// Package store 交易历史的共享状态存储
// 适配器通过Dispatcher派发动作，存储按 适配器/链/代币对 命名空间归约为TradeHistory
// 单个动作的归约是原子的，不提供跨适配器事务
package store

import (
	"context"

	"swapr-dapp/trades-service/internal/types"
)

// ActionType 动作类型
type ActionType string

const (
	ActionHistoryLoading ActionType = "trades/historyLoading" // 开始加载
	ActionHistoryLoaded  ActionType = "trades/historyLoaded"  // 加载完成
	ActionHistoryFailed  ActionType = "trades/historyFailed"  // 加载失败
)

// Action 交易历史更新动作
type Action struct {
	Type         ActionType    `json:"type"`                    // 动作类型
	Adapter      string        `json:"adapter"`                 // 适配器键(命名空间)
	ChainID      types.ChainID `json:"chain_id"`                // 链ID
	PairKey      string        `json:"pair_key"`                // 代币对键
	Symbol       string        `json:"symbol"`                  // 代币对符号
	Trades       []types.Trade `json:"trades,omitempty"`        // 成交记录
	ErrorCode    string        `json:"error_code,omitempty"`    // 错误代码
	ErrorMessage string        `json:"error_message,omitempty"` // 错误信息
	Generation   uint64        `json:"generation"`              // 抓取代数，0表示不参与过期判断
}

// Dispatcher 派发动作的窄接口
// 适配器只持有该能力，而不是整个存储
type Dispatcher interface {
	Dispatch(ctx context.Context, action Action) error
}

// DispatcherFunc 函数形式的Dispatcher
type DispatcherFunc func(ctx context.Context, action Action) error

// Dispatch 调用函数本身
func (f DispatcherFunc) Dispatch(ctx context.Context, action Action) error {
	return f(ctx, action)
}

type generationKey struct{}

// WithGeneration 将抓取代数写入上下文
func WithGeneration(ctx context.Context, generation uint64) context.Context {
	return context.WithValue(ctx, generationKey{}, generation)
}

// GenerationFromContext 读取上下文中的抓取代数，不存在时返回0
func GenerationFromContext(ctx context.Context) uint64 {
	if generation, ok := ctx.Value(generationKey{}).(uint64); ok {
		return generation
	}
	return 0
}
