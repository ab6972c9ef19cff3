// Package adapters 流动性协议交易历史适配器
// 提供统一的适配器接口，封装不同协议数据源的差异
// 实现适配器模式，支持新协议的插拔
package adapters

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"swapr-dapp/trades-service/internal/store"
	"swapr-dapp/trades-service/internal/types"

	"github.com/machinebox/graphql"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// BaseAdapter 基础适配器结构
// 提供所有适配器的通用功能：链上下文、存储派发、子图请求和性能指标
type BaseAdapter struct {
	config     *types.AdapterConfig // 适配器配置
	httpClient *http.Client         // 子图HTTP客户端，限流和重试在Transport中
	limiter    *rate.Limiter        // 数据源限流器
	group      singleflight.Group   // 合并相同代币对的并发抓取
	logger     *logrus.Logger       // 日志记录器

	mutex   sync.RWMutex
	chainID types.ChainID    // 当前链
	store   store.Dispatcher // 共享存储(不持有)
	metrics AdapterMetrics   // 性能指标
}

// AdapterMetrics 适配器性能指标
// 记录适配器的运行时性能数据
type AdapterMetrics struct {
	TotalRequests   int64         `json:"total_requests"`    // 总请求数
	SuccessRequests int64         `json:"success_requests"`  // 成功请求数
	FailedRequests  int64         `json:"failed_requests"`   // 失败请求数
	AvgResponseTime time.Duration `json:"avg_response_time"` // 平均响应时间
	LastRequestTime time.Time     `json:"last_request_time"` // 最后请求时间
}

// fetchFunc 具体协议的抓取实现
type fetchFunc func(ctx context.Context, endpoint string, pair types.TokenPair) ([]types.Trade, error)

// NewBaseAdapter 创建基础适配器
// 初始化通用的HTTP客户端和限流器
func NewBaseAdapter(config *types.AdapterConfig, logger *logrus.Logger) *BaseAdapter {
	limit := rate.Inf
	burst := 1
	if config.RateLimitPerSec > 0 {
		limit = rate.Limit(config.RateLimitPerSec)
		burst = int(config.RateLimitPerSec)
		if burst < 1 {
			burst = 1
		}
	}

	b := &BaseAdapter{
		config:  config,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
	b.httpClient = &http.Client{
		Timeout: b.totalTimeout(),
		Transport: &subgraphTransport{
			adapter: b,
			base: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
	return b
}

// ========================================
// 生命周期
// ========================================

// Key 获取适配器键
func (b *BaseAdapter) Key() string {
	return b.config.Name
}

// SetInitialArguments 注入初始链和存储
func (b *BaseAdapter) SetInitialArguments(args InitialArguments) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.chainID = args.ChainID
	b.store = args.Store
	b.logger.Debugf("[%s] 初始参数已设置: chain=%s", b.config.Name, args.ChainID)
}

// UpdateActiveChainID 更新当前链
func (b *BaseAdapter) UpdateActiveChainID(chainID types.ChainID) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.chainID != chainID {
		b.logger.Infof("[%s] 活跃链切换: %s -> %s", b.config.Name, b.chainID, chainID)
	}
	b.chainID = chainID
}

// ActiveChainID 获取当前链
func (b *BaseAdapter) ActiveChainID() types.ChainID {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.chainID
}

// IsSupported 检查是否支持指定链
func (b *BaseAdapter) IsSupported(chainID types.ChainID) bool {
	_, ok := b.config.Endpoints[chainID]
	return ok
}

func (b *BaseAdapter) dispatcher() store.Dispatcher {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.store
}

// ========================================
// 抓取流程
// ========================================

// fetchHistory 通用抓取流程
// 派发loading，执行协议抓取，派发结果；上下文被取消时不再写入
func (b *BaseAdapter) fetchHistory(ctx context.Context, inputToken, outputToken *types.Token, fetch fetchFunc) error {
	dispatcher := b.dispatcher()
	if dispatcher == nil {
		return &types.TradesError{Code: types.ErrCodeNotInitialized, Message: "适配器尚未设置初始参数", Adapter: b.config.Name}
	}
	if inputToken == nil || outputToken == nil {
		return &types.TradesError{Code: types.ErrCodeInvalidRequest, Message: "代币对不完整", Adapter: b.config.Name}
	}

	chainID := b.ActiveChainID()
	pair := types.TokenPair{Input: inputToken, Output: outputToken}
	generation := store.GenerationFromContext(ctx)

	base := store.Action{
		Adapter:    b.config.Name,
		ChainID:    chainID,
		PairKey:    pair.Key(),
		Symbol:     pair.Symbol(),
		Generation: generation,
	}

	endpoint, ok := b.config.Endpoints[chainID]
	if !ok {
		failed := base
		failed.Type = store.ActionHistoryFailed
		failed.ErrorCode = types.ErrCodeUnsupportedChain
		failed.ErrorMessage = fmt.Sprintf("%s不支持链: %s", b.config.DisplayName, chainID)
		if err := dispatcher.Dispatch(ctx, failed); err != nil {
			b.logger.Warnf("[%s] 派发失败状态出错: %v", b.config.Name, err)
		}
		return &types.TradesError{Code: types.ErrCodeUnsupportedChain, Message: failed.ErrorMessage, Adapter: b.config.Name}
	}

	loading := base
	loading.Type = store.ActionHistoryLoading
	if err := dispatcher.Dispatch(ctx, loading); err != nil {
		b.logger.Warnf("[%s] 派发加载状态出错: %v", b.config.Name, err)
	}

	startTime := time.Now()
	trades, err := b.fetchShared(ctx, chainID, endpoint, pair, fetch)

	if ctx.Err() != nil {
		b.logger.Debugf("[%s] 抓取已被取代: pair=%s, generation=%d", b.config.Name, pair.Key(), generation)
		return ctx.Err()
	}

	if err != nil {
		failed := base
		failed.Type = store.ActionHistoryFailed
		failed.ErrorCode = types.ErrorCode(err)
		if failed.ErrorCode == types.ErrCodeInternalError {
			failed.ErrorCode = types.ErrCodeAdapterError
		}
		failed.ErrorMessage = err.Error()
		if dispatchErr := dispatcher.Dispatch(ctx, failed); dispatchErr != nil {
			b.logger.Warnf("[%s] 派发失败状态出错: %v", b.config.Name, dispatchErr)
		}
		b.logger.Errorf("[%s] 抓取交易历史失败: chain=%s, pair=%s, err=%v, 耗时=%v",
			b.config.Name, chainID, pair.Symbol(), err, time.Since(startTime))
		return err
	}

	loaded := base
	loaded.Type = store.ActionHistoryLoaded
	loaded.Trades = trades
	if err := dispatcher.Dispatch(ctx, loaded); err != nil {
		return fmt.Errorf("派发交易历史失败: %w", err)
	}

	b.logger.Infof("[%s] 交易历史已更新: chain=%s, pair=%s, trades=%d, 耗时=%v",
		b.config.Name, chainID, pair.Symbol(), len(trades), time.Since(startTime))
	return nil
}

// fetchShared 合并同一链同一代币对的并发抓取
// 共享的请求不随单个调用方取消，只受超时控制
func (b *BaseAdapter) fetchShared(ctx context.Context, chainID types.ChainID, endpoint string, pair types.TokenPair, fetch fetchFunc) ([]types.Trade, error) {
	key := fmt.Sprintf("%d:%s", uint(chainID), pair.Key())

	resultChan := b.group.DoChan(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.totalTimeout())
		defer cancel()
		return fetch(fetchCtx, endpoint, pair)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-resultChan:
		if result.Err != nil {
			return nil, result.Err
		}
		trades, _ := result.Val.([]types.Trade)
		return trades, nil
	}
}

// totalTimeout 单次抓取(含重试)的总超时
func (b *BaseAdapter) totalTimeout() time.Duration {
	timeout := b.config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return timeout * time.Duration(b.config.RetryCount+1)
}

// ========================================
// 子图请求
// ========================================

// runQuery 向子图发送GraphQL查询，data字段解码到target
// GraphQL错误和传输错误统一视为适配器错误
func (b *BaseAdapter) runQuery(ctx context.Context, endpoint string, req *graphql.Request, target interface{}) error {
	client := graphql.NewClient(endpoint, graphql.WithHTTPClient(b.httpClient))
	client.Log = func(line string) {
		b.logger.Tracef("[%s] %s", b.config.Name, line)
	}

	if err := client.Run(ctx, req, target); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &types.TradesError{
			Code:    types.ErrCodeAdapterError,
			Message: fmt.Sprintf("子图查询失败: %v", err),
			Adapter: b.config.Name,
			Err:     err,
		}
	}
	return nil
}

// subgraphTransport 子图请求的限流、重试和指标
// 一次逻辑请求(含重试)只计一次指标
type subgraphTransport struct {
	adapter *BaseAdapter
	base    http.RoundTripper
}

// RoundTrip 服务端错误和连接错误按RetryCount重试，客户端错误直接返回
func (t *subgraphTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	b := t.adapter
	ctx := req.Context()
	startTime := time.Now()
	b.logger.Debugf("[%s] 开始请求: %s %s", b.config.Name, req.Method, req.URL)

	var resp *http.Response
	var lastErr error

	for attempt := 0; attempt <= b.config.RetryCount; attempt++ {
		if attempt > 0 {
			if req.Body != nil && req.GetBody == nil {
				break
			}
			select {
			case <-ctx.Done():
				closeBody(req)
				b.updateMetrics(false, time.Since(startTime))
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
			b.logger.Debugf("[%s] 重试请求: attempt=%d, err=%v", b.config.Name, attempt, lastErr)
		}

		if err := b.limiter.Wait(ctx); err != nil {
			closeBody(req)
			b.updateMetrics(false, time.Since(startTime))
			return nil, fmt.Errorf("等待限流器失败: %w", err)
		}

		attemptReq, err := t.prepare(req, attempt)
		if err != nil {
			closeBody(req)
			b.updateMetrics(false, time.Since(startTime))
			return nil, err
		}

		resp, lastErr = t.base.RoundTrip(attemptReq)
		if lastErr == nil && resp.StatusCode < 500 {
			break
		}
		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if lastErr == nil {
				lastErr = fmt.Errorf("服务端错误: status=%d", resp.StatusCode)
			}
			resp = nil
		}
	}

	duration := time.Since(startTime)
	if resp == nil {
		b.updateMetrics(false, duration)
		return nil, fmt.Errorf("子图请求失败: %w", lastErr)
	}

	b.updateMetrics(resp.StatusCode < 400, duration)
	b.logger.Debugf("[%s] 请求完成: duration=%v, status=%d", b.config.Name, duration, resp.StatusCode)
	return resp, nil
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		req.Body.Close()
	}
}

// prepare 复制请求并补充公共请求头，重试时重新获取请求体
func (t *subgraphTransport) prepare(req *http.Request, attempt int) (*http.Request, error) {
	cloned := req.Clone(req.Context())
	if attempt > 0 && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("重建请求体失败: %w", err)
		}
		cloned.Body = body
	}

	cloned.Header.Set("User-Agent", "Swapr-Trades-Service/1.0")
	if apiKey := t.adapter.config.APIKey; apiKey != "" {
		cloned.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return cloned, nil
}

// standardizeAmount 将数据源返回的金额转换为decimal.Decimal，空值视为0
func (b *BaseAdapter) standardizeAmount(amount string) (decimal.Decimal, error) {
	if amount == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("无效的金额: %q: %w", amount, err)
	}
	return value, nil
}

// ========================================
// 性能指标管理
// ========================================

// updateMetrics 更新适配器性能指标
func (b *BaseAdapter) updateMetrics(success bool, duration time.Duration) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.metrics.TotalRequests++
	b.metrics.LastRequestTime = time.Now()

	if success {
		b.metrics.SuccessRequests++
	} else {
		b.metrics.FailedRequests++
	}

	if b.metrics.TotalRequests == 1 {
		b.metrics.AvgResponseTime = duration
	} else {
		// 滑动平均
		alpha := 0.1
		b.metrics.AvgResponseTime = time.Duration(
			float64(b.metrics.AvgResponseTime)*(1-alpha) + float64(duration)*alpha,
		)
	}
}

// GetMetrics 获取适配器性能指标副本
func (b *BaseAdapter) GetMetrics() AdapterMetrics {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.metrics
}
