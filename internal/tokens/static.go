// Package tokens 代币解析
// 把 链ID + 合约地址 解析为代币元数据，支持静态YAML列表和数据库两种来源
package tokens

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"swapr-dapp/trades-service/internal/types"

	"gopkg.in/yaml.v3"
)

// Resolver 代币解析接口，未找到时返回 nil, nil
type Resolver interface {
	ResolveToken(ctx context.Context, chainID types.ChainID, address string) (*types.Token, error)
}

// Lister 列出某条链上的全部代币
type Lister interface {
	ListTokens(ctx context.Context, chainID types.ChainID) ([]types.Token, error)
}

// TokenList 静态代币列表文件格式
type TokenList struct {
	Tokens []types.Token `yaml:"tokens"`
}

// StaticResolver 基于静态代币列表的解析器
type StaticResolver struct {
	byChain map[types.ChainID]map[string]*types.Token
	count   int
}

// LoadStaticResolver 从YAML文件加载代币列表
func LoadStaticResolver(path string) (*StaticResolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取代币列表失败: %w", err)
	}
	return ParseTokenList(data)
}

// ParseTokenList 解析YAML代币列表
func ParseTokenList(data []byte) (*StaticResolver, error) {
	var list TokenList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("解析代币列表失败: %w", err)
	}
	return NewStaticResolver(list.Tokens)
}

// NewStaticResolver 根据代币集合创建解析器
// 同一条链上的地址不区分大小写且不能重复
func NewStaticResolver(tokens []types.Token) (*StaticResolver, error) {
	resolver := &StaticResolver{byChain: make(map[types.ChainID]map[string]*types.Token)}

	for i := range tokens {
		token := tokens[i]
		if token.ChainID == 0 {
			return nil, fmt.Errorf("代币%s缺少chain_id", token.Symbol)
		}
		if token.Address == "" || token.Symbol == "" {
			return nil, fmt.Errorf("链%s上的代币缺少address或symbol", token.ChainID)
		}

		key := strings.ToLower(token.Address)
		if resolver.byChain[token.ChainID] == nil {
			resolver.byChain[token.ChainID] = make(map[string]*types.Token)
		}
		if _, exists := resolver.byChain[token.ChainID][key]; exists {
			return nil, fmt.Errorf("重复的代币: chain=%s, address=%s", token.ChainID, token.Address)
		}
		resolver.byChain[token.ChainID][key] = &token
		resolver.count++
	}

	return resolver, nil
}

// ResolveToken 查找代币，返回副本
func (s *StaticResolver) ResolveToken(_ context.Context, chainID types.ChainID, address string) (*types.Token, error) {
	token, ok := s.byChain[chainID][strings.ToLower(address)]
	if !ok {
		return nil, nil
	}
	copied := *token
	return &copied, nil
}

// ListTokens 列出链上代币，按符号排序
func (s *StaticResolver) ListTokens(_ context.Context, chainID types.ChainID) ([]types.Token, error) {
	list := make([]types.Token, 0, len(s.byChain[chainID]))
	for _, token := range s.byChain[chainID] {
		list = append(list, *token)
	}
	sortBySymbol(list)
	return list, nil
}

func sortBySymbol(list []types.Token) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Symbol != list[j].Symbol {
			return list[i].Symbol < list[j].Symbol
		}
		return strings.ToLower(list[i].Address) < strings.ToLower(list[j].Address)
	})
}

// Len 代币数量
func (s *StaticResolver) Len() int {
	return s.count
}
