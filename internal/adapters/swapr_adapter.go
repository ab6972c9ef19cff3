// Package adapters Swapr 交易历史适配器实现
// 通过 The Graph 子图查询 Swapr 流动性池的成交记录
// 每条链对应一个子图地址，未配置的链视为不支持
package adapters

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"swapr-dapp/trades-service/internal/types"

	"github.com/machinebox/graphql"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// SwaprAdapterKey Swapr适配器在注册表中的键
const SwaprAdapterKey = "swapr"

// 默认单次拉取的成交数量
const defaultSwaprPageSize = 50

// DefaultSwaprEndpoints Swapr官方子图地址
var DefaultSwaprEndpoints = map[types.ChainID]string{
	types.ChainMainnet:         "https://api.thegraph.com/subgraphs/name/dxgraphs/swapr-mainnet-v2",
	types.ChainXDai:            "https://api.thegraph.com/subgraphs/name/dxgraphs/swapr-xdai-v2",
	types.ChainArbitrumOne:     "https://api.thegraph.com/subgraphs/name/dxgraphs/swapr-arbitrum-one-v3",
	types.ChainRinkeby:         "https://api.thegraph.com/subgraphs/name/dxgraphs/swapr-rinkeby",
	types.ChainArbitrumRinkeby: "https://api.thegraph.com/subgraphs/name/dxgraphs/swapr-arbitrum-rinkeby-v2",
}

// SwaprAdapter Swapr交易历史适配器
type SwaprAdapter struct {
	*BaseAdapter // 嵌入基础适配器
}

// NewSwaprAdapter 创建Swapr适配器实例
func NewSwaprAdapter(config *types.AdapterConfig, logger *logrus.Logger) *SwaprAdapter {
	// 未显式配置的链使用官方子图
	if config.Endpoints == nil {
		config.Endpoints = make(map[types.ChainID]string, len(DefaultSwaprEndpoints))
	}
	for chainID, endpoint := range DefaultSwaprEndpoints {
		if _, ok := config.Endpoints[chainID]; !ok {
			config.Endpoints[chainID] = endpoint
		}
	}
	if config.PageSize <= 0 {
		config.PageSize = defaultSwaprPageSize
	}
	return &SwaprAdapter{
		BaseAdapter: NewBaseAdapter(config, logger),
	}
}

// ========================================
// 子图请求与响应结构定义
// ========================================

const swaprTradesQuery = `query TradesHistory($tokens: [String!]!, $first: Int!) {
  pairs(where: { token0_in: $tokens, token1_in: $tokens }) {
    id
    token0 { id symbol decimals }
    token1 { id symbol decimals }
    swaps(first: $first, orderBy: timestamp, orderDirection: desc) {
      id
      transaction { id }
      timestamp
      amount0In
      amount0Out
      amount1In
      amount1Out
      amountUSD
    }
  }
}`

const swaprMetaQuery = `{ _meta { block { number } } }`

// SwaprTradesResponse 子图成交查询的data部分
type SwaprTradesResponse struct {
	Pairs []SwaprPair `json:"pairs"`
}

// swaprMetaResponse 子图索引状态
type swaprMetaResponse struct {
	Meta struct {
		Block struct {
			Number int64 `json:"number"`
		} `json:"block"`
	} `json:"_meta"`
}

// SwaprPair 子图中的流动性池
type SwaprPair struct {
	ID     string      `json:"id"`     // 池地址
	Token0 SwaprToken  `json:"token0"` // 池代币0
	Token1 SwaprToken  `json:"token1"` // 池代币1
	Swaps  []SwaprSwap `json:"swaps"`  // 最近成交
}

// SwaprToken 子图代币
type SwaprToken struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Decimals string `json:"decimals"`
}

// SwaprSwap 子图成交记录，金额均为已按精度换算的十进制字符串
type SwaprSwap struct {
	ID          string `json:"id"`
	Transaction struct {
		ID string `json:"id"`
	} `json:"transaction"`
	Timestamp  string `json:"timestamp"`
	Amount0In  string `json:"amount0In"`
	Amount0Out string `json:"amount0Out"`
	Amount1In  string `json:"amount1In"`
	Amount1Out string `json:"amount1Out"`
	AmountUSD  string `json:"amountUSD"`
}

// ========================================
// 核心功能实现
// ========================================

// GetTradesHistoryForPair 抓取代币对的成交记录并写入存储
func (a *SwaprAdapter) GetTradesHistoryForPair(ctx context.Context, inputToken, outputToken *types.Token) error {
	return a.fetchHistory(ctx, inputToken, outputToken, a.queryTrades)
}

// queryTrades 查询子图并转换为标准成交记录
func (a *SwaprAdapter) queryTrades(ctx context.Context, endpoint string, pair types.TokenPair) ([]types.Trade, error) {
	tokens := []string{strings.ToLower(pair.Input.Address), strings.ToLower(pair.Output.Address)}

	req := graphql.NewRequest(swaprTradesQuery)
	req.Var("tokens", tokens)
	req.Var("first", a.config.PageSize)

	var resp SwaprTradesResponse
	if err := a.runQuery(ctx, endpoint, req, &resp); err != nil {
		return nil, err
	}

	if len(resp.Pairs) == 0 {
		a.logger.Debugf("[%s] 未找到流动性池: pair=%s", a.Key(), pair.Symbol())
		return []types.Trade{}, nil
	}

	trades := make([]types.Trade, 0, a.config.PageSize)
	for _, swaprPair := range resp.Pairs {
		converted, err := a.convertSwaps(swaprPair, pair)
		if err != nil {
			return nil, err
		}
		trades = append(trades, converted...)
	}

	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].Timestamp.After(trades[j].Timestamp)
	})
	if len(trades) > a.config.PageSize {
		trades = trades[:a.config.PageSize]
	}
	return trades, nil
}

// convertSwaps 将池内成交转换为相对于输入代币的成交记录
func (a *SwaprAdapter) convertSwaps(swaprPair SwaprPair, pair types.TokenPair) ([]types.Trade, error) {
	inputIsToken0 := strings.EqualFold(swaprPair.Token0.ID, pair.Input.Address)
	if !inputIsToken0 && !strings.EqualFold(swaprPair.Token1.ID, pair.Input.Address) {
		return nil, fmt.Errorf("流动性池%s不包含输入代币%s", swaprPair.ID, pair.Input.Address)
	}

	trades := make([]types.Trade, 0, len(swaprPair.Swaps))
	for _, swap := range swaprPair.Swaps {
		trade, err := a.convertSwap(swap, inputIsToken0)
		if err != nil {
			return nil, fmt.Errorf("转换成交%s失败: %w", swap.ID, err)
		}
		trade.PairAddress = swaprPair.ID
		trades = append(trades, trade)
	}
	return trades, nil
}

// convertSwap 转换单笔成交
// 输入代币流入池子为卖出，否则为买入；价格为每单位输入代币对应的输出代币数量
func (a *SwaprAdapter) convertSwap(swap SwaprSwap, inputIsToken0 bool) (types.Trade, error) {
	amounts := make([]decimal.Decimal, 4)
	for i, raw := range []string{swap.Amount0In, swap.Amount0Out, swap.Amount1In, swap.Amount1Out} {
		value, err := a.standardizeAmount(raw)
		if err != nil {
			return types.Trade{}, err
		}
		amounts[i] = value
	}

	inputIn, inputOut, outputIn, outputOut := amounts[0], amounts[1], amounts[2], amounts[3]
	if !inputIsToken0 {
		inputIn, inputOut, outputIn, outputOut = amounts[2], amounts[3], amounts[0], amounts[1]
	}

	seconds, err := strconv.ParseInt(swap.Timestamp, 10, 64)
	if err != nil {
		return types.Trade{}, fmt.Errorf("无效的时间戳: %q", swap.Timestamp)
	}
	amountUSD, err := a.standardizeAmount(swap.AmountUSD)
	if err != nil {
		return types.Trade{}, err
	}

	trade := types.Trade{
		ID:        swap.ID,
		TxHash:    swap.Transaction.ID,
		Timestamp: time.Unix(seconds, 0).UTC(),
		AmountUSD: amountUSD,
		Protocol:  a.Key(),
	}

	if inputIn.IsPositive() {
		trade.Side = types.TradeSideSell
		trade.AmountIn = inputIn
		trade.AmountOut = outputOut
		trade.Price = safeDiv(outputOut, inputIn)
	} else {
		trade.Side = types.TradeSideBuy
		trade.AmountIn = outputIn
		trade.AmountOut = inputOut
		trade.Price = safeDiv(outputIn, inputOut)
	}
	return trade, nil
}

func safeDiv(numerator, denominator decimal.Decimal) decimal.Decimal {
	if denominator.IsZero() {
		return decimal.Zero
	}
	return numerator.DivRound(denominator, 18)
}

// ========================================
// 健康检查
// ========================================

// HealthCheck 查询当前链子图的索引状态
func (a *SwaprAdapter) HealthCheck(ctx context.Context) error {
	chainID := a.ActiveChainID()
	endpoint, ok := a.config.Endpoints[chainID]
	if !ok {
		// 当前链不支持时检查任一已配置的子图
		if supported := a.config.SupportedChains(); len(supported) > 0 {
			endpoint = a.config.Endpoints[supported[0]]
		}
	}
	if endpoint == "" {
		return fmt.Errorf("未配置子图地址")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var resp swaprMetaResponse
	if err := a.runQuery(ctx, endpoint, graphql.NewRequest(swaprMetaQuery), &resp); err != nil {
		return fmt.Errorf("健康检查失败: %w", err)
	}
	if resp.Meta.Block.Number <= 0 {
		return fmt.Errorf("子图尚未索引任何区块")
	}
	return nil
}
