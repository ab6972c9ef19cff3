// Package handlers 交易历史HTTP处理器
// 提供会话、交易历史查询和系统监控的RESTful接口
// 实现统一的HTTP错误处理和响应格式
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"swapr-dapp/trades-service/internal/adapters"
	"swapr-dapp/trades-service/internal/services"
	"swapr-dapp/trades-service/internal/store"
	"swapr-dapp/trades-service/internal/tokens"
	"swapr-dapp/trades-service/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// 服务版本
const serviceVersion = "1.0.0"

// 单个依赖健康检查的超时时间
const healthCheckTimeout = 5 * time.Second

// TradesHandler 交易历史处理器
type TradesHandler struct {
	session     *services.Session       // 用户会话
	coordinator *services.TradesAdapter // 适配器协调器
	store       *store.Store            // 交易历史存储
	tokens      tokens.Lister           // 代币列表
	logger      *logrus.Logger          // 日志记录器
	startTime   time.Time               // 启动时间
}

// NewTradesHandler 创建交易历史处理器实例
func NewTradesHandler(session *services.Session, coordinator *services.TradesAdapter, historyStore *store.Store, tokenLister tokens.Lister, logger *logrus.Logger) *TradesHandler {
	return &TradesHandler{
		session:     session,
		coordinator: coordinator,
		store:       historyStore,
		tokens:      tokenLister,
		logger:      logger,
		startTime:   time.Now(),
	}
}

// SetChainRequest 切换链请求
type SetChainRequest struct {
	ChainID types.ChainID `json:"chain_id"`
}

// SelectCurrenciesRequest 选择币种请求
type SelectCurrenciesRequest struct {
	InputCurrencyID  string `json:"input_currency_id"`
	OutputCurrencyID string `json:"output_currency_id"`
}

// TradesResponse 交易历史查询结果
type TradesResponse struct {
	ChainID   types.ChainID        `json:"chain_id"`
	PairKey   string               `json:"pair_key"`
	Symbol    string               `json:"symbol,omitempty"`
	Histories []types.TradeHistory `json:"histories"`
}

// RegisterRoutes 注册路由
func (h *TradesHandler) RegisterRoutes(router *gin.Engine, monitoring types.MonitoringConfig) {
	router.GET(monitoring.HealthCheckPath, h.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		// 会话接口
		v1.GET("/session", h.GetSession)
		v1.PUT("/session/chain", h.SetChain)
		v1.PUT("/session/currencies", h.SelectCurrencies)

		// 交易历史
		v1.GET("/trades", h.GetTrades)

		// 代币列表
		v1.GET("/tokens", h.ListTokens)

		// 监控接口
		if monitoring.MetricsEnabled {
			v1.GET("/metrics", h.GetMetrics)
			v1.GET("/adapters/status", h.GetAdapterStatus)
		}
	}
}

// ========================================
// 会话接口
// ========================================

// GetSession 获取会话状态
// GET /api/v1/session
func (h *TradesHandler) GetSession(c *gin.Context) {
	requestID := h.getOrGenerateRequestID(c)
	state := h.session.State()
	h.tagRequest(c, state.ChainID, "")
	h.respond(c, http.StatusOK, state, requestID)
}

// SetChain 切换活跃链
// PUT /api/v1/session/chain
func (h *TradesHandler) SetChain(c *gin.Context) {
	requestID := h.getOrGenerateRequestID(c)

	var req SetChainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warnf("[%s] 切换链请求参数无效: %v", requestID, err)
		h.badRequest(c, requestID, "请求参数无效", err)
		return
	}
	if req.ChainID == 0 {
		h.badRequest(c, requestID, "链ID不能为0", nil)
		return
	}
	h.tagRequest(c, req.ChainID, "")
	if !req.ChainID.IsKnown() {
		h.handleTradesError(c, unsupportedChain(req.ChainID), requestID)
		return
	}

	if err := h.session.SetActiveChain(c.Request.Context(), req.ChainID); err != nil {
		h.handleTradesError(c, err, requestID)
		return
	}

	h.logger.Infof("[%s] 活跃链已切换: %s", requestID, req.ChainID)
	h.respond(c, http.StatusOK, h.session.State(), requestID)
}

// SelectCurrencies 选择输入输出币种
// PUT /api/v1/session/currencies
func (h *TradesHandler) SelectCurrencies(c *gin.Context) {
	requestID := h.getOrGenerateRequestID(c)

	var req SelectCurrenciesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warnf("[%s] 币种选择请求参数无效: %v", requestID, err)
		h.badRequest(c, requestID, "请求参数无效", err)
		return
	}

	err := h.session.SelectCurrencies(c.Request.Context(), req.InputCurrencyID, req.OutputCurrencyID)
	state := h.session.State()
	if state.ShowTrades {
		pair := types.TokenPair{Input: state.InputToken, Output: state.OutputToken}
		h.tagRequest(c, state.ChainID, pair.Key())
	} else {
		h.tagRequest(c, state.ChainID, "")
	}
	if err != nil {
		h.handleTradesError(c, err, requestID)
		return
	}

	h.respond(c, http.StatusOK, state, requestID)
}

// ========================================
// 交易历史接口
// ========================================

// GetTrades 获取交易历史
// GET /api/v1/trades?chain_id=&input=&output=
// 未指定参数时使用会话中的链和代币对
func (h *TradesHandler) GetTrades(c *gin.Context) {
	requestID := h.getOrGenerateRequestID(c)
	state := h.session.State()

	chainID, ok := h.queryChain(c, requestID, state.ChainID)
	if !ok {
		return
	}

	response := TradesResponse{ChainID: chainID, Histories: []types.TradeHistory{}}

	input, output := c.Query("input"), c.Query("output")
	switch {
	case input != "" || output != "":
		if input == "" || output == "" {
			h.badRequest(c, requestID, "input和output必须同时提供", nil)
			return
		}
		response.PairKey = types.PairKey(wrapNative(chainID, input), wrapNative(chainID, output))
	case state.ShowTrades && state.ChainID == chainID:
		pair := types.TokenPair{Input: state.InputToken, Output: state.OutputToken}
		response.PairKey = pair.Key()
		response.Symbol = state.Symbol
	default:
		h.badRequest(c, requestID, "尚未选择代币对", nil)
		return
	}

	h.tagRequest(c, chainID, response.PairKey)

	histories, err := h.store.Histories(c.Request.Context(), h.coordinator.Registry().Keys(), chainID, response.PairKey)
	if err != nil {
		h.handleTradesError(c, &types.TradesError{Code: types.ErrCodeStoreError, Message: "读取交易历史失败", Err: err}, requestID)
		return
	}
	response.Histories = histories
	if response.Symbol == "" && len(histories) > 0 {
		response.Symbol = histories[0].Symbol
	}

	c.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Data:    response,
		Meta: map[string]interface{}{
			"adapters_total":  h.coordinator.Registry().Len(),
			"adapters_stored": len(histories),
		},
		Timestamp: time.Now().Unix(),
		RequestID: requestID,
	})
}

// ListTokens 列出链上可选代币
// GET /api/v1/tokens?chain_id=
// 未指定链时使用会话中的活跃链
func (h *TradesHandler) ListTokens(c *gin.Context) {
	requestID := h.getOrGenerateRequestID(c)

	chainID, ok := h.queryChain(c, requestID, h.session.State().ChainID)
	if !ok {
		return
	}

	list, err := h.tokens.ListTokens(c.Request.Context(), chainID)
	if err != nil {
		h.handleTradesError(c, &types.TradesError{Code: types.ErrCodeStoreError, Message: "读取代币列表失败", Err: err}, requestID)
		return
	}

	c.JSON(http.StatusOK, types.APIResponse{
		Success:   true,
		Data:      list,
		Meta:      map[string]interface{}{"chain_id": chainID, "count": len(list)},
		Timestamp: time.Now().Unix(),
		RequestID: requestID,
	})
}

// queryChain 解析chain_id查询参数，缺省时使用fallback
// 失败时已写入错误响应
func (h *TradesHandler) queryChain(c *gin.Context, requestID string, fallback types.ChainID) (types.ChainID, bool) {
	chainID := fallback
	if raw := c.Query("chain_id"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || parsed == 0 {
			h.badRequest(c, requestID, "无效的链ID", err)
			return 0, false
		}
		chainID = types.ChainID(parsed)
	}
	if chainID == 0 {
		h.handleTradesError(c, &types.TradesError{Code: types.ErrCodeNoChain, Message: "尚未选择活跃链"}, requestID)
		return 0, false
	}
	h.tagRequest(c, chainID, "")
	if !chainID.IsKnown() {
		h.handleTradesError(c, unsupportedChain(chainID), requestID)
		return 0, false
	}
	return chainID, true
}

func unsupportedChain(chainID types.ChainID) *types.TradesError {
	return &types.TradesError{Code: types.ErrCodeUnsupportedChain, Message: "不支持的链: " + chainID.String()}
}

// wrapNative 原生币符号映射为包装币地址
func wrapNative(chainID types.ChainID, currencyID string) string {
	if strings.EqualFold(currencyID, chainID.NativeSymbol()) {
		if wrapped, ok := chainID.WrappedNativeAddress(); ok {
			return wrapped
		}
	}
	return currencyID
}

// ========================================
// 监控和管理接口
// ========================================

// GetMetrics 获取服务指标
// GET /api/v1/metrics
func (h *TradesHandler) GetMetrics(c *gin.Context) {
	requestID := h.getOrGenerateRequestID(c)

	adapterMetrics := make(map[string]adapters.AdapterMetrics)
	for _, adapter := range h.coordinator.Registry().Values() {
		if reporter, ok := adapter.(adapters.MetricsReporter); ok {
			adapterMetrics[adapter.Key()] = reporter.GetMetrics()
		}
	}

	metrics := map[string]interface{}{
		"coordinator": h.coordinator.GetMetrics(),
		"adapters":    adapterMetrics,
		"uptime":      time.Since(h.startTime).String(),
		"timestamp":   time.Now().Unix(),
	}

	h.respond(c, http.StatusOK, metrics, requestID)
	h.logger.Debugf("[%s] 指标查询完成", requestID)
}

// HealthCheck 健康检查
// GET /health
// 存储不可用时返回503，适配器异常时标记为降级
func (h *TradesHandler) HealthCheck(c *gin.Context) {
	requestID := h.getOrGenerateRequestID(c)

	response := &types.HealthCheckResponse{
		Status:    types.StatusHealthy,
		Timestamp: time.Now(),
		Version:   serviceVersion,
		Uptime:    time.Since(h.startTime),
		Adapters:  h.checkAdapters(c.Request.Context()),
		Store:     types.StatusHealthy,
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warnf("[%s] 存储健康检查失败: %v", requestID, err)
		response.Store = types.StatusUnhealthy
		response.Status = types.StatusUnhealthy
	}

	if response.Status == types.StatusHealthy {
		for _, health := range response.Adapters {
			if health.Status != types.StatusHealthy {
				response.Status = types.StatusDegraded
				break
			}
		}
	}

	statusCode := http.StatusOK
	if response.Status == types.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
	h.logger.Debugf("[%s] 健康检查完成: %s", requestID, response.Status)
}

// GetAdapterStatus 获取适配器状态
// GET /api/v1/adapters/status
func (h *TradesHandler) GetAdapterStatus(c *gin.Context) {
	requestID := h.getOrGenerateRequestID(c)

	status := map[string]interface{}{
		"chain_id":    h.coordinator.ChainID(),
		"initialized": h.coordinator.IsInitialized(),
		"keys":        h.coordinator.Registry().Keys(),
		"health":      h.checkAdapters(c.Request.Context()),
	}

	h.respond(c, http.StatusOK, status, requestID)
	h.logger.Debugf("[%s] 适配器状态查询完成", requestID)
}

// checkAdapters 检查支持健康检查的适配器
func (h *TradesHandler) checkAdapters(ctx context.Context) map[string]types.AdapterHealth {
	result := make(map[string]types.AdapterHealth)
	for _, adapter := range h.coordinator.Registry().Values() {
		checker, ok := adapter.(adapters.HealthChecker)
		if !ok {
			continue
		}

		checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		started := time.Now()
		err := checker.HealthCheck(checkCtx)
		cancel()

		health := types.AdapterHealth{
			Status:       types.StatusHealthy,
			LastChecked:  time.Now(),
			ResponseTime: time.Since(started),
		}
		if err != nil {
			health.Status = types.StatusUnhealthy
			health.ErrorMessage = err.Error()
		}
		result[adapter.Key()] = health
	}
	return result
}

// ========================================
// 辅助方法
// ========================================

// tagRequest 把会话、链和代币对写入上下文，供访问日志使用
func (h *TradesHandler) tagRequest(c *gin.Context, chainID types.ChainID, pairKey string) {
	c.Set(types.ContextKeySessionID, h.session.ID())
	if chainID != 0 {
		c.Set(types.ContextKeyChainID, chainID)
	}
	if pairKey != "" {
		c.Set(types.ContextKeyPairKey, pairKey)
	}
}

// getOrGenerateRequestID 获取或生成请求ID
func (h *TradesHandler) getOrGenerateRequestID(c *gin.Context) string {
	if requestID := c.GetString(types.ContextKeyRequestID); requestID != "" {
		return requestID
	}

	if requestID := c.GetHeader(types.HeaderRequestID); requestID != "" {
		return requestID
	}

	requestID := uuid.New().String()
	c.Set(types.ContextKeyRequestID, requestID)
	return requestID
}

func (h *TradesHandler) respond(c *gin.Context, statusCode int, data interface{}, requestID string) {
	c.JSON(statusCode, types.APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().Unix(),
		RequestID: requestID,
	})
}

func (h *TradesHandler) badRequest(c *gin.Context, requestID, message string, err error) {
	apiErr := &types.APIError{
		Code:    types.ErrCodeInvalidRequest,
		Message: message,
	}
	if err != nil {
		apiErr.Details = map[string]interface{}{"error": err.Error()}
	}

	c.JSON(http.StatusBadRequest, types.APIResponse{
		Success:   false,
		Error:     apiErr,
		Timestamp: time.Now().Unix(),
		RequestID: requestID,
	})
}

// statusForCode 错误代码映射为HTTP状态码
func statusForCode(code string) int {
	switch code {
	case types.ErrCodeInvalidRequest, types.ErrCodeUnsupportedChain, types.ErrCodeNoChain:
		return http.StatusBadRequest
	case types.ErrCodeNotFound:
		return http.StatusNotFound
	case types.ErrCodeNotInitialized, types.ErrCodeAlreadyInitialized:
		return http.StatusConflict
	case types.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case types.ErrCodeAdapterError, types.ErrCodeStoreError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleTradesError 处理交易历史服务错误
func (h *TradesHandler) handleTradesError(c *gin.Context, err error, requestID string) {
	var tradesErr *types.TradesError
	if !errors.As(err, &tradesErr) {
		c.JSON(http.StatusInternalServerError, types.APIResponse{
			Success: false,
			Error: &types.APIError{
				Code:    types.ErrCodeInternalError,
				Message: "内部服务错误",
			},
			Timestamp: time.Now().Unix(),
			RequestID: requestID,
		})

		h.logger.Errorf("[%s] 未知错误: %v", requestID, err)
		return
	}

	statusCode := statusForCode(tradesErr.Code)
	apiErr := &types.APIError{
		Code:    tradesErr.Code,
		Message: tradesErr.Message,
	}
	if tradesErr.Adapter != "" {
		apiErr.Details = map[string]interface{}{"adapter": tradesErr.Adapter}
	}

	c.JSON(statusCode, types.APIResponse{
		Success:   false,
		Error:     apiErr,
		Timestamp: time.Now().Unix(),
		RequestID: requestID,
	})

	if statusCode >= 500 {
		h.logger.Errorf("[%s] 交易历史服务错误: %v", requestID, err)
	} else {
		h.logger.Warnf("[%s] 交易历史服务错误: %v", requestID, err)
	}
}
