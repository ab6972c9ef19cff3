package store_test

import (
	"context"
	"io"
	"testing"
	"time"

	"swapr-dapp/trades-service/internal/store"
	"swapr-dapp/trades-service/internal/types"
	"swapr-dapp/trades-service/pkg/cache"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pairKey = "0xaaa:0xbbb"

func newStore() *store.Store {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return store.NewStore(cache.NewMemoryCache(), time.Hour, logger)
}

func loaded(generation uint64, trades ...types.Trade) store.Action {
	return store.Action{
		Type:       store.ActionHistoryLoaded,
		Adapter:    "swapr",
		ChainID:    types.ChainMainnet,
		PairKey:    pairKey,
		Symbol:     "WETHUSDC",
		Trades:     trades,
		Generation: generation,
	}
}

func TestStore_LoadingThenLoaded(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	require.NoError(t, s.Dispatch(ctx, store.Action{
		Type: store.ActionHistoryLoading, Adapter: "swapr", ChainID: types.ChainMainnet, PairKey: pairKey, Generation: 1,
	}))

	history, found, err := s.History(ctx, "swapr", types.ChainMainnet, pairKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.HistoryLoading, history.Status)
	assert.Empty(t, history.Trades)

	trade := types.Trade{ID: "t1", Side: types.TradeSideSell, Price: decimal.RequireFromString("1850.5")}
	require.NoError(t, s.Dispatch(ctx, loaded(1, trade)))

	history, found, err = s.History(ctx, "swapr", types.ChainMainnet, pairKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.HistoryReady, history.Status)
	assert.Equal(t, "WETHUSDC", history.Symbol)
	require.Len(t, history.Trades, 1)
	assert.True(t, history.Trades[0].Price.Equal(decimal.RequireFromString("1850.5")))
}

func TestStore_FailedKeepsPreviousTrades(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	require.NoError(t, s.Dispatch(ctx, loaded(1, types.Trade{ID: "t1"})))
	require.NoError(t, s.Dispatch(ctx, store.Action{
		Type: store.ActionHistoryFailed, Adapter: "swapr", ChainID: types.ChainMainnet, PairKey: pairKey,
		ErrorCode: types.ErrCodeAdapterError, ErrorMessage: "boom", Generation: 2,
	}))

	history, _, err := s.History(ctx, "swapr", types.ChainMainnet, pairKey)
	require.NoError(t, err)
	assert.Equal(t, types.HistoryFailed, history.Status)
	assert.Equal(t, types.ErrCodeAdapterError, history.ErrorCode)
	assert.Len(t, history.Trades, 1)
}

func TestStore_DropsStaleGeneration(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	require.NoError(t, s.Dispatch(ctx, loaded(5, types.Trade{ID: "fresh"})))
	require.NoError(t, s.Dispatch(ctx, loaded(3, types.Trade{ID: "stale"})))

	history, _, err := s.History(ctx, "swapr", types.ChainMainnet, pairKey)
	require.NoError(t, err)
	require.Len(t, history.Trades, 1)
	assert.Equal(t, "fresh", history.Trades[0].ID)
	assert.Equal(t, uint64(5), history.Generation)
}

func TestStore_NamespacesByAdapterAndChain(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	require.NoError(t, s.Dispatch(ctx, loaded(1, types.Trade{ID: "mainnet"})))
	other := loaded(1, types.Trade{ID: "xdai"})
	other.ChainID = types.ChainXDai
	require.NoError(t, s.Dispatch(ctx, other))

	histories, err := s.Histories(ctx, []string{"swapr", "missing"}, types.ChainMainnet, pairKey)
	require.NoError(t, err)
	require.Len(t, histories, 1)
	assert.Equal(t, "mainnet", histories[0].Trades[0].ID)

	_, found, err := s.History(ctx, "swapr", types.ChainPolygon, pairKey)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_RejectsInvalidActions(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	cases := []store.Action{
		{Type: "unknown", Adapter: "swapr", ChainID: 1, PairKey: pairKey},
		{Type: store.ActionHistoryLoaded, ChainID: 1, PairKey: pairKey},
		{Type: store.ActionHistoryLoaded, Adapter: "swapr", PairKey: pairKey},
		{Type: store.ActionHistoryLoaded, Adapter: "swapr", ChainID: 1},
	}
	for _, action := range cases {
		err := s.Dispatch(ctx, action)
		require.Error(t, err)
		assert.Equal(t, types.ErrCodeInvalidRequest, types.ErrorCode(err))
	}
}

func TestGenerationContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, uint64(0), store.GenerationFromContext(ctx))
	assert.Equal(t, uint64(7), store.GenerationFromContext(store.WithGeneration(ctx, 7)))
}
