package services

import (
	"context"
	"errors"
	"strings"
	"sync"

	"swapr-dapp/trades-service/internal/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Coordinator 会话依赖的协调器能力（在services包中定义便于替换）
type Coordinator interface {
	Init() error
	IsInitialized() bool
	ChainID() types.ChainID
	UpdateActiveChainID(chainID types.ChainID) error
	FetchTradesHistory(inputToken, outputToken *types.Token) error
}

// TokenResolver 代币解析接口
// 未找到代币时返回 nil, nil
type TokenResolver interface {
	ResolveToken(ctx context.Context, chainID types.ChainID, address string) (*types.Token, error)
}

// SessionState 会话状态快照
type SessionState struct {
	ID               string        `json:"id"`                     // 会话ID
	ChainID          types.ChainID `json:"chain_id"`               // 活跃链
	InputCurrencyID  string        `json:"input_currency_id"`      // 输入币种标识
	OutputCurrencyID string        `json:"output_currency_id"`     // 输出币种标识
	Symbol           string        `json:"symbol"`                 // 代币对符号
	ShowTrades       bool          `json:"show_trades"`            // 两个代币都已解析
	InputToken       *types.Token  `json:"input_token,omitempty"`  // 已解析的输入代币
	OutputToken      *types.Token  `json:"output_token,omitempty"` // 已解析的输出代币
}

// Session 交易历史会话
// 把活跃链和币种选择转换为协调器的初始化、链切换和抓取调用
type Session struct {
	id          string
	coordinator Coordinator
	resolver    TokenResolver
	logger      *logrus.Entry

	mutex            sync.Mutex
	chainID          types.ChainID
	inputCurrencyID  string
	outputCurrencyID string
	inputToken       *types.Token
	outputToken      *types.Token
	symbol           string
}

// NewSession 创建会话
func NewSession(coordinator Coordinator, resolver TokenResolver, logger *logrus.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		id:          id,
		coordinator: coordinator,
		resolver:    resolver,
		logger:      logger.WithField("session", id),
	}
}

// SetActiveChain 切换活跃链
// 链ID为0时忽略；协调器未初始化时先初始化，然后按新链重新解析当前选择
func (s *Session) SetActiveChain(ctx context.Context, chainID types.ChainID) error {
	if chainID == 0 {
		s.logger.Debug("活跃链为空，忽略")
		return nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.propagateChain(chainID); err != nil {
		return err
	}
	s.chainID = chainID

	return s.resolveAndFetch(ctx)
}

// propagateChain 把链传播给协调器
func (s *Session) propagateChain(chainID types.ChainID) error {
	if s.coordinator.IsInitialized() {
		return s.coordinator.UpdateActiveChainID(chainID)
	}

	if err := s.coordinator.Init(); err != nil && !errors.Is(err, types.ErrAlreadyInitialized) {
		return err
	}
	if s.coordinator.ChainID() != chainID {
		return s.coordinator.UpdateActiveChainID(chainID)
	}
	return nil
}

// SelectCurrencies 更新币种选择
// 标识可以是代币地址，也可以是当前链的原生币符号
func (s *Session) SelectCurrencies(ctx context.Context, inputCurrencyID, outputCurrencyID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.inputCurrencyID = strings.TrimSpace(inputCurrencyID)
	s.outputCurrencyID = strings.TrimSpace(outputCurrencyID)

	return s.resolveAndFetch(ctx)
}

// resolveAndFetch 解析当前选择，两个代币都解析成功时触发抓取
// 解析失败不返回错误，只关闭交易展示
func (s *Session) resolveAndFetch(ctx context.Context) error {
	s.inputToken = nil
	s.outputToken = nil
	s.symbol = ""

	if s.chainID == 0 {
		return nil
	}

	s.inputToken = s.resolve(ctx, s.inputCurrencyID)
	s.outputToken = s.resolve(ctx, s.outputCurrencyID)
	if s.inputToken == nil || s.outputToken == nil {
		s.logger.Debugf("代币对未完全解析: input=%q, output=%q", s.inputCurrencyID, s.outputCurrencyID)
		return nil
	}

	s.symbol = s.inputToken.Symbol + s.outputToken.Symbol
	return s.coordinator.FetchTradesHistory(s.inputToken, s.outputToken)
}

// resolve 解析单个币种，原生币映射为包装代币地址
func (s *Session) resolve(ctx context.Context, currencyID string) *types.Token {
	if currencyID == "" {
		return nil
	}

	address := currencyID
	if strings.EqualFold(currencyID, s.chainID.NativeSymbol()) {
		wrapped, ok := s.chainID.WrappedNativeAddress()
		if !ok {
			return nil
		}
		address = wrapped
	}

	token, err := s.resolver.ResolveToken(ctx, s.chainID, address)
	if err != nil {
		s.logger.Warnf("解析代币失败: chain=%s, currency=%s, err=%v", s.chainID, currencyID, err)
		return nil
	}
	return token
}

// ID 会话ID，创建后不变
func (s *Session) ID() string {
	return s.id
}

// State 返回会话状态快照
func (s *Session) State() SessionState {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return SessionState{
		ID:               s.id,
		ChainID:          s.chainID,
		InputCurrencyID:  s.inputCurrencyID,
		OutputCurrencyID: s.outputCurrencyID,
		Symbol:           s.symbol,
		ShowTrades:       s.inputToken != nil && s.outputToken != nil,
		InputToken:       s.inputToken,
		OutputToken:      s.outputToken,
	}
}
