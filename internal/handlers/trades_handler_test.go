package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"swapr-dapp/trades-service/internal/adapters"
	"swapr-dapp/trades-service/internal/services"
	"swapr-dapp/trades-service/internal/store"
	"swapr-dapp/trades-service/internal/tokens"
	"swapr-dapp/trades-service/internal/types"
	"swapr-dapp/trades-service/pkg/cache"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	wethAddress = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	usdcAddress = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
)

// stubAdapter 每次抓取写入一笔固定成交
type stubAdapter struct {
	key       string
	healthErr error

	mutex sync.Mutex
	args  adapters.InitialArguments
}

func (s *stubAdapter) Key() string { return s.key }

func (s *stubAdapter) SetInitialArguments(args adapters.InitialArguments) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.args = args
}

func (s *stubAdapter) UpdateActiveChainID(chainID types.ChainID) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.args.ChainID = chainID
}

func (s *stubAdapter) GetTradesHistoryForPair(ctx context.Context, inputToken, outputToken *types.Token) error {
	s.mutex.Lock()
	dispatcher := s.args.Store
	s.mutex.Unlock()

	pair := types.TokenPair{Input: inputToken, Output: outputToken}
	return dispatcher.Dispatch(ctx, store.Action{
		Type:    store.ActionHistoryLoaded,
		Adapter: s.key,
		ChainID: inputToken.ChainID,
		PairKey: pair.Key(),
		Symbol:  pair.Symbol(),
		Trades: []types.Trade{{
			ID:        "0xabc-0",
			Side:      types.TradeSideSell,
			AmountIn:  decimal.NewFromInt(1),
			AmountOut: decimal.NewFromInt(1850),
			Price:     decimal.NewFromInt(1850),
			Timestamp: time.Unix(1700000000, 0),
		}},
		Generation: store.GenerationFromContext(ctx),
	})
}

func (s *stubAdapter) HealthCheck(context.Context) error { return s.healthErr }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *types.APIError `json:"error"`
}

type testServer struct {
	engine      *gin.Engine
	coordinator *services.TradesAdapter
}

func newTestServer(t *testing.T, stubs ...*stubAdapter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	registered := make([]adapters.TradesAdapter, 0, len(stubs))
	for _, stub := range stubs {
		registered = append(registered, stub)
	}
	registry, err := adapters.NewRegistry(registered...)
	require.NoError(t, err)

	historyStore := store.NewStore(cache.NewMemoryCache(), time.Hour, logger)
	coordinator, err := services.NewTradesAdapter(services.TradesAdapterParams{
		Registry: registry,
		ChainID:  types.ChainMainnet,
		Store:    historyStore,
		Logger:   logger,
	})
	require.NoError(t, err)
	t.Cleanup(coordinator.Close)

	resolver, err := tokens.NewStaticResolver([]types.Token{
		{ChainID: types.ChainMainnet, Address: wethAddress, Symbol: "WETH", Decimals: 18},
		{ChainID: types.ChainMainnet, Address: usdcAddress, Symbol: "USDC", Decimals: 6},
	})
	require.NoError(t, err)

	session := services.NewSession(coordinator, resolver, logger)
	handler := NewTradesHandler(session, coordinator, historyStore, resolver, logger)

	engine := gin.New()
	handler.RegisterRoutes(engine, types.MonitoringConfig{MetricsEnabled: true, HealthCheckPath: "/health"})

	return &testServer{engine: engine, coordinator: coordinator}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w.Code, env
}

func TestTradesHandler_SessionFlow(t *testing.T) {
	server := newTestServer(t, &stubAdapter{key: "swapr"})

	code, env := server.do(t, http.MethodPut, "/api/v1/session/chain", SetChainRequest{ChainID: types.ChainMainnet})
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.True(t, server.coordinator.IsInitialized())

	code, env = server.do(t, http.MethodPut, "/api/v1/session/currencies", SelectCurrenciesRequest{
		InputCurrencyID:  "ETH",
		OutputCurrencyID: usdcAddress,
	})
	require.Equal(t, http.StatusOK, code)

	var state services.SessionState
	require.NoError(t, json.Unmarshal(env.Data, &state))
	assert.True(t, state.ShowTrades)
	assert.Equal(t, "WETHUSDC", state.Symbol)

	server.coordinator.Wait()

	code, env = server.do(t, http.MethodGet, "/api/v1/trades", nil)
	require.Equal(t, http.StatusOK, code)

	var trades TradesResponse
	require.NoError(t, json.Unmarshal(env.Data, &trades))
	require.Len(t, trades.Histories, 1)
	assert.Equal(t, types.HistoryReady, trades.Histories[0].Status)
	assert.Equal(t, "WETHUSDC", trades.Symbol)

	code, env = server.do(t, http.MethodGet, "/api/v1/session", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &state))
	assert.Equal(t, types.ChainMainnet, state.ChainID)
}

func TestTradesHandler_TradesByQuery(t *testing.T) {
	server := newTestServer(t, &stubAdapter{key: "swapr"})

	server.do(t, http.MethodPut, "/api/v1/session/chain", SetChainRequest{ChainID: types.ChainMainnet})
	server.do(t, http.MethodPut, "/api/v1/session/currencies", SelectCurrenciesRequest{InputCurrencyID: wethAddress, OutputCurrencyID: usdcAddress})
	server.coordinator.Wait()

	code, env := server.do(t, http.MethodGet, "/api/v1/trades?chain_id=1&input=eth&output="+usdcAddress, nil)
	require.Equal(t, http.StatusOK, code)

	var trades TradesResponse
	require.NoError(t, json.Unmarshal(env.Data, &trades))
	assert.Equal(t, types.PairKey(wethAddress, usdcAddress), trades.PairKey)
	require.Len(t, trades.Histories, 1)
	assert.Equal(t, "WETHUSDC", trades.Symbol)

	code, env = server.do(t, http.MethodGet, "/api/v1/trades?chain_id=100&input=a&output=b", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &trades))
	assert.Empty(t, trades.Histories)
}

func TestTradesHandler_TradesValidation(t *testing.T) {
	server := newTestServer(t, &stubAdapter{key: "swapr"})

	tests := []struct {
		name     string
		path     string
		wantCode string
	}{
		{name: "no active chain", path: "/api/v1/trades", wantCode: types.ErrCodeNoChain},
		{name: "invalid chain id", path: "/api/v1/trades?chain_id=abc", wantCode: types.ErrCodeInvalidRequest},
		{name: "half pair", path: "/api/v1/trades?chain_id=1&input=0x1", wantCode: types.ErrCodeInvalidRequest},
		{name: "no pair selected", path: "/api/v1/trades?chain_id=1", wantCode: types.ErrCodeInvalidRequest},
		{name: "unknown chain", path: "/api/v1/trades?chain_id=56&input=0x1&output=0x2", wantCode: types.ErrCodeUnsupportedChain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := server.do(t, http.MethodGet, tt.path, nil)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.wantCode, env.Error.Code)
		})
	}
}

func TestTradesHandler_SetChainValidation(t *testing.T) {
	server := newTestServer(t, &stubAdapter{key: "swapr"})

	code, env := server.do(t, http.MethodPut, "/api/v1/session/chain", SetChainRequest{})
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, types.ErrCodeInvalidRequest, env.Error.Code)
	assert.False(t, server.coordinator.IsInitialized())
}

func TestTradesHandler_SetChainRejectsUnknownChain(t *testing.T) {
	server := newTestServer(t, &stubAdapter{key: "swapr"})

	code, env := server.do(t, http.MethodPut, "/api/v1/session/chain", SetChainRequest{ChainID: 56})
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, types.ErrCodeUnsupportedChain, env.Error.Code)
	assert.False(t, server.coordinator.IsInitialized())
}

func TestTradesHandler_ListTokens(t *testing.T) {
	server := newTestServer(t, &stubAdapter{key: "swapr"})

	code, env := server.do(t, http.MethodGet, "/api/v1/tokens?chain_id=1", nil)
	require.Equal(t, http.StatusOK, code)
	var list []types.Token
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 2)
	assert.Equal(t, "USDC", list[0].Symbol)
	assert.Equal(t, "WETH", list[1].Symbol)

	code, env = server.do(t, http.MethodGet, "/api/v1/tokens", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, types.ErrCodeNoChain, env.Error.Code)

	server.do(t, http.MethodPut, "/api/v1/session/chain", SetChainRequest{ChainID: types.ChainXDai})
	code, env = server.do(t, http.MethodGet, "/api/v1/tokens", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Empty(t, list)

	code, env = server.do(t, http.MethodGet, "/api/v1/tokens?chain_id=56", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, types.ErrCodeUnsupportedChain, env.Error.Code)
}

func TestTradesHandler_HealthCheck(t *testing.T) {
	server := newTestServer(t, &stubAdapter{key: "swapr"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var health types.HealthCheckResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, types.StatusHealthy, health.Status)
	assert.Equal(t, types.StatusHealthy, health.Store)
	assert.Contains(t, health.Adapters, "swapr")
}

func TestTradesHandler_HealthCheckDegraded(t *testing.T) {
	server := newTestServer(t,
		&stubAdapter{key: "swapr"},
		&stubAdapter{key: "broken", healthErr: errors.New("subgraph down")},
	)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var health types.HealthCheckResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, types.StatusDegraded, health.Status)
	assert.Equal(t, types.StatusUnhealthy, health.Adapters["broken"].Status)
	assert.Equal(t, "subgraph down", health.Adapters["broken"].ErrorMessage)
}

func TestTradesHandler_Metrics(t *testing.T) {
	server := newTestServer(t, &stubAdapter{key: "swapr"})

	code, env := server.do(t, http.MethodGet, "/api/v1/metrics", nil)
	require.Equal(t, http.StatusOK, code)

	var metrics map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &metrics))
	assert.Contains(t, metrics, "coordinator")
	assert.Contains(t, metrics, "adapters")

	code, env = server.do(t, http.MethodGet, "/api/v1/adapters/status", nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
}

func TestStatusForCode(t *testing.T) {
	tests := map[string]int{
		types.ErrCodeInvalidRequest:     http.StatusBadRequest,
		types.ErrCodeNoChain:            http.StatusBadRequest,
		types.ErrCodeNotFound:           http.StatusNotFound,
		types.ErrCodeNotInitialized:     http.StatusConflict,
		types.ErrCodeRateLimitExceeded:  http.StatusTooManyRequests,
		types.ErrCodeAdapterError:       http.StatusServiceUnavailable,
		types.ErrCodeInternalError:      http.StatusInternalServerError,
		"SOMETHING_UNEXPECTED":          http.StatusInternalServerError,
		types.ErrCodeAlreadyInitialized: http.StatusConflict,
		types.ErrCodeUnsupportedChain:   http.StatusBadRequest,
	}

	for code, want := range tests {
		assert.Equal(t, want, statusForCode(code), code)
	}
}
