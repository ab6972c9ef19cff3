// Package services 交易历史服务核心实现
// 协调器负责把初始化、链切换和抓取请求扇出给注册表中的全部适配器
// 会话绑定负责把活跃链和币种选择转换为协调器调用
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"swapr-dapp/trades-service/internal/adapters"
	"swapr-dapp/trades-service/internal/store"
	"swapr-dapp/trades-service/internal/types"

	"github.com/sirupsen/logrus"
)

// ErrCoordinatorClosed 协调器已关闭
var ErrCoordinatorClosed = errors.New("交易适配器协调器已关闭")

// TradesAdapterParams 协调器构造参数
type TradesAdapterParams struct {
	Registry *adapters.Registry // 适配器注册表
	ChainID  types.ChainID      // 初始链
	Store    store.Dispatcher   // 共享存储
	Logger   *logrus.Logger     // 日志记录器
}

// TradesAdapter 交易历史适配器协调器
// 持有注册表、活跃链和存储，生命周期为 未初始化 -> 已初始化，不可回退
type TradesAdapter struct {
	registry   *adapters.Registry
	store      store.Dispatcher
	dispatcher *guardedDispatcher // 交给适配器的带代数检查的派发器
	logger     *logrus.Logger

	mutex       sync.RWMutex
	chainID     types.ChainID
	initialized bool
	closed      bool

	generation  atomic.Uint64      // 当前抓取代数，以构造时的纳秒时间为起点
	cancelFetch context.CancelFunc // 取消上一次抓取
	baseCtx     context.Context
	baseCancel  context.CancelFunc
	wg          sync.WaitGroup

	metrics *CoordinatorMetrics
}

// CoordinatorMetrics 协调器指标
type CoordinatorMetrics struct {
	TotalFetches    int64     `json:"total_fetches"`    // 抓取扇出次数
	AdapterCalls    int64     `json:"adapter_calls"`    // 适配器调用次数
	AdapterFailures int64     `json:"adapter_failures"` // 适配器失败次数
	ChainChanges    int64     `json:"chain_changes"`    // 链切换次数
	DroppedActions  int64     `json:"dropped_actions"`  // 丢弃的过期动作
	LastFetchTime   time.Time `json:"last_fetch_time"`  // 最后抓取时间
	mutex           sync.RWMutex
}

// NewTradesAdapter 创建协调器
func NewTradesAdapter(params TradesAdapterParams) (*TradesAdapter, error) {
	if params.Registry == nil {
		return nil, fmt.Errorf("适配器注册表不能为空")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("存储不能为空")
	}
	logger := params.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	t := &TradesAdapter{
		registry:   params.Registry,
		store:      params.Store,
		logger:     logger,
		chainID:    params.ChainID,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		metrics:    &CoordinatorMetrics{},
	}
	// 存储中的历史会跨进程保留代数，重启后的抓取必须排在之前所有进程之后
	t.generation.Store(uint64(time.Now().UnixNano()))
	t.dispatcher = &guardedDispatcher{coordinator: t}
	return t, nil
}

// ========================================
// 生命周期
// ========================================

// Init 初始化全部适配器
// 只能调用一次，重复调用返回 types.ErrAlreadyInitialized 且不会重新下发初始参数
func (t *TradesAdapter) Init() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.closed {
		return ErrCoordinatorClosed
	}
	if t.initialized {
		return types.ErrAlreadyInitialized
	}
	t.initialized = true

	args := adapters.InitialArguments{ChainID: t.chainID, Store: t.dispatcher}
	for _, adapter := range t.registry.Values() {
		adapter.SetInitialArguments(args)
	}

	t.logger.Infof("🚀 交易适配器已初始化: chain=%s, adapters=%v", t.chainID, t.registry.Keys())
	return nil
}

// IsInitialized 是否已初始化
func (t *TradesAdapter) IsInitialized() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.initialized
}

// ChainID 当前链
func (t *TradesAdapter) ChainID() types.ChainID {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.chainID
}

// UpdateActiveChainID 把链切换传播给全部适配器
func (t *TradesAdapter) UpdateActiveChainID(chainID types.ChainID) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.initialized {
		return types.ErrNotInitialized
	}

	previous := t.chainID
	t.chainID = chainID
	for _, adapter := range t.registry.Values() {
		adapter.UpdateActiveChainID(chainID)
	}

	t.metrics.mutex.Lock()
	t.metrics.ChainChanges++
	t.metrics.mutex.Unlock()

	t.logger.Infof("🔗 活跃链已更新: %s -> %s", previous, chainID)
	return nil
}

// ========================================
// 抓取扇出
// ========================================

// FetchTradesHistory 请求全部适配器抓取代币对的交易历史
// 按注册顺序为每个适配器启动独立的goroutine，不等待完成；新的抓取会取消上一次抓取
func (t *TradesAdapter) FetchTradesHistory(inputToken, outputToken *types.Token) error {
	if inputToken == nil || outputToken == nil {
		return &types.TradesError{Code: types.ErrCodeInvalidRequest, Message: "代币对不完整"}
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.initialized {
		return types.ErrNotInitialized
	}
	if t.closed {
		return ErrCoordinatorClosed
	}

	if t.cancelFetch != nil {
		t.cancelFetch()
	}
	generation := t.generation.Add(1)
	ctx, cancel := context.WithCancel(t.baseCtx)
	t.cancelFetch = cancel
	ctx = store.WithGeneration(ctx, generation)

	pair := types.TokenPair{Input: inputToken, Output: outputToken}
	values := t.registry.Values()

	t.metrics.mutex.Lock()
	t.metrics.TotalFetches++
	t.metrics.AdapterCalls += int64(len(values))
	t.metrics.LastFetchTime = time.Now()
	t.metrics.mutex.Unlock()

	t.logger.Infof("📞 抓取交易历史: pair=%s, chain=%s, generation=%d, adapters=%d",
		pair.Symbol(), t.chainID, generation, len(values))

	for _, adapter := range values {
		t.wg.Add(1)
		go func(adp adapters.TradesAdapter) {
			defer t.wg.Done()

			if err := adp.GetTradesHistoryForPair(ctx, inputToken, outputToken); err != nil {
				if errors.Is(err, context.Canceled) {
					t.logger.Debugf("[%s] 抓取已被取代: generation=%d", adp.Key(), generation)
					return
				}
				t.metrics.mutex.Lock()
				t.metrics.AdapterFailures++
				t.metrics.mutex.Unlock()
				t.logger.Warnf("[%s] ❌ 抓取交易历史失败: pair=%s, err=%v", adp.Key(), pair.Symbol(), err)
			}
		}(adapter)
	}

	return nil
}

// Wait 等待进行中的抓取结束
func (t *TradesAdapter) Wait() {
	t.wg.Wait()
}

// Close 取消进行中的抓取并等待结束
func (t *TradesAdapter) Close() {
	t.mutex.Lock()
	if t.closed {
		t.mutex.Unlock()
		return
	}
	t.closed = true
	t.baseCancel()
	t.mutex.Unlock()

	t.wg.Wait()
	t.logger.Info("交易适配器协调器已关闭")
}

// Registry 适配器注册表
func (t *TradesAdapter) Registry() *adapters.Registry {
	return t.registry
}

// GetMetrics 获取协调器指标副本
func (t *TradesAdapter) GetMetrics() *CoordinatorMetrics {
	t.metrics.mutex.RLock()
	defer t.metrics.mutex.RUnlock()

	return &CoordinatorMetrics{
		TotalFetches:    t.metrics.TotalFetches,
		AdapterCalls:    t.metrics.AdapterCalls,
		AdapterFailures: t.metrics.AdapterFailures,
		ChainChanges:    t.metrics.ChainChanges,
		DroppedActions:  t.metrics.DroppedActions,
		LastFetchTime:   t.metrics.LastFetchTime,
	}
}

// ========================================
// 带代数检查的派发器
// ========================================

// guardedDispatcher 丢弃来自旧抓取的动作
type guardedDispatcher struct {
	coordinator *TradesAdapter
}

// Dispatch 代数早于当前抓取的动作被丢弃，代数为0的动作直接写入
func (g *guardedDispatcher) Dispatch(ctx context.Context, action store.Action) error {
	t := g.coordinator
	if action.Generation != 0 && action.Generation < t.generation.Load() {
		t.metrics.mutex.Lock()
		t.metrics.DroppedActions++
		t.metrics.mutex.Unlock()
		t.logger.Debugf("[%s] 丢弃过期动作: type=%s, generation=%d", action.Adapter, action.Type, action.Generation)
		return nil
	}
	return t.store.Dispatch(ctx, action)
}
