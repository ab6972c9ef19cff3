package adapters_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"swapr-dapp/trades-service/internal/adapters"
	"swapr-dapp/trades-service/internal/store"
	"swapr-dapp/trades-service/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	wethAddress = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	usdcAddress = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	pairAddress = "0x7515be43d16f871588adc135d58a9c30a71eb34f"
)

var (
	weth = &types.Token{ChainID: types.ChainMainnet, Address: wethAddress, Symbol: "WETH", Decimals: 18}
	usdc = &types.Token{ChainID: types.ChainMainnet, Address: usdcAddress, Symbol: "USDC", Decimals: 6}
)

const tradesResponse = `{
  "data": {
    "pairs": [{
      "id": "0x7515be43d16f871588adc135d58a9c30a71eb34f",
      "token0": {"id": "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", "symbol": "WETH", "decimals": "18"},
      "token1": {"id": "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", "symbol": "USDC", "decimals": "6"},
      "swaps": [
        {"id": "swap-1", "transaction": {"id": "0xtx1"}, "timestamp": "1650000100",
         "amount0In": "1", "amount0Out": "0", "amount1In": "0", "amount1Out": "1850.5", "amountUSD": "1850.5"},
        {"id": "swap-2", "transaction": {"id": "0xtx2"}, "timestamp": "1650000000",
         "amount0In": "0", "amount0Out": "2", "amount1In": "3700", "amount1Out": "0", "amountUSD": "3700"}
      ]
    }]
  }
}`

// recorder 记录派发的动作
type recorder struct {
	mutex   sync.Mutex
	actions []store.Action
}

func (r *recorder) dispatcher() store.Dispatcher {
	return store.DispatcherFunc(r.record)
}

func (r *recorder) record(_ context.Context, action store.Action) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.actions = append(r.actions, action)
	return nil
}

func (r *recorder) snapshot() []store.Action {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]store.Action(nil), r.actions...)
}

func newSwapr(endpoint string, retries int) *adapters.SwaprAdapter {
	return adapters.NewSwaprAdapter(swaprConfig(endpoint, retries), quietLogger())
}

func swaprConfig(endpoint string, retries int) *types.AdapterConfig {
	return &types.AdapterConfig{
		Name:        adapters.SwaprAdapterKey,
		DisplayName: "Swapr",
		Endpoints:   map[types.ChainID]string{types.ChainMainnet: endpoint},
		Timeout:     2 * time.Second,
		RetryCount:  retries,
		PageSize:    10,
		IsActive:    true,
	}
}

func TestSwaprAdapter_GetTradesHistoryForPair(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(tradesResponse))
	}))
	defer server.Close()

	rec := &recorder{}
	adapter := newSwapr(server.URL, 0)
	adapter.SetInitialArguments(adapters.InitialArguments{ChainID: types.ChainMainnet, Store: rec.dispatcher()})

	ctx := store.WithGeneration(context.Background(), 3)
	require.NoError(t, adapter.GetTradesHistoryForPair(ctx, weth, usdc))

	variables := received["variables"].(map[string]interface{})
	assert.Equal(t, []interface{}{
		"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
		"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
	}, variables["tokens"])
	assert.Equal(t, float64(10), variables["first"])

	actions := rec.snapshot()
	require.Len(t, actions, 2)
	assert.Equal(t, store.ActionHistoryLoading, actions[0].Type)
	assert.Equal(t, store.ActionHistoryLoaded, actions[1].Type)

	loaded := actions[1]
	assert.Equal(t, adapters.SwaprAdapterKey, loaded.Adapter)
	assert.Equal(t, types.ChainMainnet, loaded.ChainID)
	assert.Equal(t, "WETHUSDC", loaded.Symbol)
	assert.Equal(t, types.PairKey(wethAddress, usdcAddress), loaded.PairKey)
	assert.Equal(t, uint64(3), loaded.Generation)

	require.Len(t, loaded.Trades, 2)
	sell := loaded.Trades[0]
	assert.Equal(t, "swap-1", sell.ID)
	assert.Equal(t, "0xtx1", sell.TxHash)
	assert.Equal(t, types.TradeSideSell, sell.Side)
	assert.True(t, sell.AmountIn.Equal(decimal.NewFromInt(1)))
	assert.True(t, sell.AmountOut.Equal(decimal.RequireFromString("1850.5")))
	assert.True(t, sell.Price.Equal(decimal.RequireFromString("1850.5")))
	assert.Equal(t, pairAddress, sell.PairAddress)
	assert.Equal(t, time.Unix(1650000100, 0).UTC(), sell.Timestamp)

	buy := loaded.Trades[1]
	assert.Equal(t, types.TradeSideBuy, buy.Side)
	assert.True(t, buy.AmountIn.Equal(decimal.NewFromInt(3700)))
	assert.True(t, buy.AmountOut.Equal(decimal.NewFromInt(2)))
	assert.True(t, buy.Price.Equal(decimal.NewFromInt(1850)))
}

func TestSwaprAdapter_ReversedPairFlipsSide(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(tradesResponse))
	}))
	defer server.Close()

	rec := &recorder{}
	adapter := newSwapr(server.URL, 0)
	adapter.SetInitialArguments(adapters.InitialArguments{ChainID: types.ChainMainnet, Store: rec.dispatcher()})

	require.NoError(t, adapter.GetTradesHistoryForPair(context.Background(), usdc, weth))

	actions := rec.snapshot()
	require.Len(t, actions, 2)
	loaded := actions[1]
	assert.Equal(t, "USDCWETH", loaded.Symbol)
	require.Len(t, loaded.Trades, 2)
	assert.Equal(t, types.TradeSideBuy, loaded.Trades[0].Side)
	assert.Equal(t, types.TradeSideSell, loaded.Trades[1].Side)
	assert.True(t, loaded.Trades[1].Price.Round(6).Equal(decimal.RequireFromString("0.000541")))
}

func TestSwaprAdapter_UnsupportedChainDispatchesFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	rec := &recorder{}
	adapter := newSwapr(server.URL, 0)
	adapter.SetInitialArguments(adapters.InitialArguments{ChainID: types.ChainMainnet, Store: rec.dispatcher()})
	adapter.UpdateActiveChainID(types.ChainPolygon)

	err := adapter.GetTradesHistoryForPair(context.Background(), weth, usdc)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUnsupportedChain, types.ErrorCode(err))
	assert.Zero(t, atomic.LoadInt32(&calls))

	actions := rec.snapshot()
	require.Len(t, actions, 1)
	assert.Equal(t, store.ActionHistoryFailed, actions[0].Type)
	assert.Equal(t, types.ChainPolygon, actions[0].ChainID)
	assert.Equal(t, types.ErrCodeUnsupportedChain, actions[0].ErrorCode)
}

func TestSwaprAdapter_GraphErrorsDispatchFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"indexing error"}]}`))
	}))
	defer server.Close()

	rec := &recorder{}
	adapter := newSwapr(server.URL, 0)
	adapter.SetInitialArguments(adapters.InitialArguments{ChainID: types.ChainMainnet, Store: rec.dispatcher()})

	err := adapter.GetTradesHistoryForPair(context.Background(), weth, usdc)
	require.Error(t, err)

	actions := rec.snapshot()
	require.Len(t, actions, 2)
	assert.Equal(t, store.ActionHistoryFailed, actions[1].Type)
	assert.Equal(t, types.ErrCodeAdapterError, actions[1].ErrorCode)
	assert.Contains(t, actions[1].ErrorMessage, "indexing error")

	metrics := adapter.GetMetrics()
	assert.Equal(t, int64(1), metrics.TotalRequests)
	assert.Equal(t, int64(1), metrics.SuccessRequests)
}

func TestSwaprAdapter_SendsServiceHeaders(t *testing.T) {
	headers := make(chan http.Header, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		_, _ = w.Write([]byte(`{"data":{"pairs":[]}}`))
	}))
	defer server.Close()

	config := swaprConfig(server.URL, 0)
	config.APIKey = "graph-key"
	adapter := adapters.NewSwaprAdapter(config, quietLogger())
	adapter.SetInitialArguments(adapters.InitialArguments{ChainID: types.ChainMainnet, Store: (&recorder{}).dispatcher()})

	require.NoError(t, adapter.GetTradesHistoryForPair(context.Background(), weth, usdc))

	got := <-headers
	assert.Equal(t, "Bearer graph-key", got.Get("Authorization"))
	assert.Equal(t, "Swapr-Trades-Service/1.0", got.Get("User-Agent"))
	assert.Contains(t, got.Get("Content-Type"), "application/json")
}

func TestSwaprAdapter_RetriesExhausted(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	rec := &recorder{}
	adapter := newSwapr(server.URL, 2)
	adapter.SetInitialArguments(adapters.InitialArguments{ChainID: types.ChainMainnet, Store: rec.dispatcher()})

	err := adapter.GetTradesHistoryForPair(context.Background(), weth, usdc)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeAdapterError, types.ErrorCode(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	metrics := adapter.GetMetrics()
	assert.Equal(t, int64(1), metrics.TotalRequests)
	assert.Equal(t, int64(1), metrics.FailedRequests)

	actions := rec.snapshot()
	require.Len(t, actions, 2)
	assert.Equal(t, store.ActionHistoryFailed, actions[1].Type)
}

func TestSwaprAdapter_EmptyPairsLoadsNoTrades(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"pairs":[]}}`))
	}))
	defer server.Close()

	rec := &recorder{}
	adapter := newSwapr(server.URL, 0)
	adapter.SetInitialArguments(adapters.InitialArguments{ChainID: types.ChainMainnet, Store: rec.dispatcher()})

	require.NoError(t, adapter.GetTradesHistoryForPair(context.Background(), weth, usdc))
	actions := rec.snapshot()
	require.Len(t, actions, 2)
	assert.Equal(t, store.ActionHistoryLoaded, actions[1].Type)
	assert.Empty(t, actions[1].Trades)
}

func TestSwaprAdapter_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(tradesResponse))
	}))
	defer server.Close()

	rec := &recorder{}
	adapter := newSwapr(server.URL, 1)
	adapter.SetInitialArguments(adapters.InitialArguments{ChainID: types.ChainMainnet, Store: rec.dispatcher()})

	require.NoError(t, adapter.GetTradesHistoryForPair(context.Background(), weth, usdc))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	metrics := adapter.GetMetrics()
	assert.Equal(t, int64(1), metrics.TotalRequests)
	assert.Equal(t, int64(1), metrics.SuccessRequests)
}

func TestSwaprAdapter_CancelledFetchWritesNoResult(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(tradesResponse))
	}))
	defer server.Close()
	defer close(release)

	rec := &recorder{}
	adapter := newSwapr(server.URL, 0)
	adapter.SetInitialArguments(adapters.InitialArguments{ChainID: types.ChainMainnet, Store: rec.dispatcher()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- adapter.GetTradesHistoryForPair(ctx, weth, usdc)
	}()

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not return after cancellation")
	}

	actions := rec.snapshot()
	require.Len(t, actions, 1)
	assert.Equal(t, store.ActionHistoryLoading, actions[0].Type)
}

func TestSwaprAdapter_RequiresInitialArguments(t *testing.T) {
	adapter := newSwapr("http://127.0.0.1:1", 0)
	err := adapter.GetTradesHistoryForPair(context.Background(), weth, usdc)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeNotInitialized, types.ErrorCode(err))
}

func TestSwaprAdapter_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"_meta":{"block":{"number":15000000}}}}`))
	}))
	defer server.Close()

	adapter := newSwapr(server.URL, 0)
	adapter.SetInitialArguments(adapters.InitialArguments{ChainID: types.ChainPolygon, Store: (&recorder{}).dispatcher()})
	assert.NoError(t, adapter.HealthCheck(context.Background()))
}

func TestSwaprAdapter_HealthCheckRejectsUnindexedSubgraph(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"_meta":{"block":{"number":0}}}}`))
	}))
	defer server.Close()

	adapter := newSwapr(server.URL, 0)
	adapter.SetInitialArguments(adapters.InitialArguments{ChainID: types.ChainMainnet, Store: (&recorder{}).dispatcher()})
	assert.Error(t, adapter.HealthCheck(context.Background()))
}
