package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"swapr-dapp/trades-service/internal/types"
	"swapr-dapp/trades-service/pkg/cache"

	"github.com/sirupsen/logrus"
)

// Store 交易历史状态存储
type Store struct {
	backend cache.CacheManager // 缓存后端
	ttl     time.Duration      // 历史保留时间
	logger  *logrus.Logger     // 日志记录器
	mutex   sync.Mutex         // 串行化读改写
	now     func() time.Time
}

// NewStore 创建状态存储
func NewStore(backend cache.CacheManager, ttl time.Duration, logger *logrus.Logger) *Store {
	return &Store{
		backend: backend,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
	}
}

// ========================================
// 动作派发
// ========================================

// Dispatch 归约单个动作并写回后端
// 当已存储的历史来自更新的抓取代数时，动作被丢弃
func (s *Store) Dispatch(ctx context.Context, action Action) error {
	if err := validateAction(action); err != nil {
		return err
	}

	key := historyKey(action.Adapter, action.ChainID, action.PairKey)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	var current types.TradeHistory
	found, err := s.backend.Get(ctx, key, &current)
	if err != nil {
		return &types.TradesError{Code: types.ErrCodeStoreError, Message: "读取交易历史失败", Adapter: action.Adapter, Err: err}
	}

	if found && current.Generation > action.Generation {
		s.logger.Debugf("[%s] 丢弃过期动作: type=%s, pair=%s, generation=%d<%d",
			action.Adapter, action.Type, action.PairKey, action.Generation, current.Generation)
		return nil
	}

	next := reduce(current, found, action, s.now())
	if err := s.backend.Set(ctx, key, next, s.ttl); err != nil {
		return &types.TradesError{Code: types.ErrCodeStoreError, Message: "写入交易历史失败", Adapter: action.Adapter, Err: err}
	}

	s.logger.Debugf("[%s] 动作已归约: type=%s, chain=%s, pair=%s, status=%s, trades=%d",
		action.Adapter, action.Type, action.ChainID, action.PairKey, next.Status, len(next.Trades))
	return nil
}

// reduce 根据动作计算新的历史状态
func reduce(current types.TradeHistory, found bool, action Action, now time.Time) types.TradeHistory {
	next := current
	if !found {
		next = types.TradeHistory{
			Adapter: action.Adapter,
			ChainID: action.ChainID,
			PairKey: action.PairKey,
			Trades:  []types.Trade{},
		}
	}
	if action.Symbol != "" {
		next.Symbol = action.Symbol
	}
	next.Generation = action.Generation
	next.UpdatedAt = now

	switch action.Type {
	case ActionHistoryLoading:
		// 保留旧数据，直到新数据到达
		next.Status = types.HistoryLoading
		next.ErrorCode = ""
		next.ErrorMessage = ""
	case ActionHistoryLoaded:
		next.Status = types.HistoryReady
		next.Trades = action.Trades
		if next.Trades == nil {
			next.Trades = []types.Trade{}
		}
		next.ErrorCode = ""
		next.ErrorMessage = ""
	case ActionHistoryFailed:
		next.Status = types.HistoryFailed
		next.ErrorCode = action.ErrorCode
		next.ErrorMessage = action.ErrorMessage
	}
	return next
}

func validateAction(action Action) error {
	switch action.Type {
	case ActionHistoryLoading, ActionHistoryLoaded, ActionHistoryFailed:
	default:
		return &types.TradesError{Code: types.ErrCodeInvalidRequest, Message: fmt.Sprintf("未知的动作类型: %s", action.Type)}
	}
	if action.Adapter == "" {
		return &types.TradesError{Code: types.ErrCodeInvalidRequest, Message: "动作缺少适配器键"}
	}
	if action.ChainID == 0 {
		return &types.TradesError{Code: types.ErrCodeInvalidRequest, Message: "动作缺少链ID", Adapter: action.Adapter}
	}
	if action.PairKey == "" {
		return &types.TradesError{Code: types.ErrCodeInvalidRequest, Message: "动作缺少代币对", Adapter: action.Adapter}
	}
	return nil
}

// ========================================
// 读取接口
// ========================================

// History 读取单个适配器的交易历史
func (s *Store) History(ctx context.Context, adapter string, chainID types.ChainID, pairKey string) (*types.TradeHistory, bool, error) {
	var history types.TradeHistory
	found, err := s.backend.Get(ctx, historyKey(adapter, chainID, pairKey), &history)
	if err != nil {
		return nil, false, fmt.Errorf("读取交易历史失败: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	return &history, true, nil
}

// Histories 按适配器顺序读取已有的交易历史
func (s *Store) Histories(ctx context.Context, adapters []string, chainID types.ChainID, pairKey string) ([]types.TradeHistory, error) {
	result := make([]types.TradeHistory, 0, len(adapters))
	for _, adapter := range adapters {
		history, found, err := s.History(ctx, adapter, chainID, pairKey)
		if err != nil {
			return nil, err
		}
		if found {
			result = append(result, *history)
		}
	}
	return result, nil
}

// Ping 检查后端
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

func historyKey(adapter string, chainID types.ChainID, pairKey string) string {
	return fmt.Sprintf("history:%s:%d:%s", adapter, uint(chainID), pairKey)
}
