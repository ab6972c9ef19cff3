package tokens

import (
	"context"
	"strings"

	"swapr-dapp/trades-service/internal/repository"
	"swapr-dapp/trades-service/internal/types"

	"github.com/sirupsen/logrus"
)

// RepositoryResolver 基于数据库代币表的解析器
type RepositoryResolver struct {
	repo *repository.TokenRepository
}

// NewRepositoryResolver 创建数据库解析器
func NewRepositoryResolver(repo *repository.TokenRepository) *RepositoryResolver {
	return &RepositoryResolver{repo: repo}
}

// ResolveToken 按合约地址查询代币
func (r *RepositoryResolver) ResolveToken(ctx context.Context, chainID types.ChainID, address string) (*types.Token, error) {
	token, err := r.repo.GetByContractAddress(ctx, chainID, address)
	if err != nil || token == nil {
		return nil, err
	}
	return token.ToDomain(), nil
}

// ListTokens 列出链上启用的代币
func (r *RepositoryResolver) ListTokens(ctx context.Context, chainID types.ChainID) ([]types.Token, error) {
	models, err := r.repo.GetByChainID(ctx, chainID)
	if err != nil {
		return nil, err
	}
	list := make([]types.Token, 0, len(models))
	for _, model := range models {
		list = append(list, *model.ToDomain())
	}
	return list, nil
}

// ChainResolver 依次询问多个解析器，返回第一个命中结果
type ChainResolver struct {
	resolvers []Resolver
	logger    *logrus.Logger
}

// NewChainResolver 创建链式解析器
func NewChainResolver(logger *logrus.Logger, resolvers ...Resolver) *ChainResolver {
	return &ChainResolver{resolvers: resolvers, logger: logger}
}

// ResolveToken 出错的解析器被跳过；全部未命中时返回第一个错误
func (c *ChainResolver) ResolveToken(ctx context.Context, chainID types.ChainID, address string) (*types.Token, error) {
	var firstErr error
	for _, resolver := range c.resolvers {
		token, err := resolver.ResolveToken(ctx, chainID, address)
		if err != nil {
			c.logger.Warnf("代币解析器出错 %T: chain=%s, address=%s, err=%v", resolver, chainID, address, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if token != nil {
			return token, nil
		}
	}
	return nil, firstErr
}

// ListTokens 合并所有可列举的解析器，同一地址以靠前的解析器为准
// 全部出错时返回第一个错误
func (c *ChainResolver) ListTokens(ctx context.Context, chainID types.ChainID) ([]types.Token, error) {
	var (
		merged    []types.Token
		seen      = make(map[string]struct{})
		firstErr  error
		succeeded bool
	)
	for _, resolver := range c.resolvers {
		lister, ok := resolver.(Lister)
		if !ok {
			continue
		}
		list, err := lister.ListTokens(ctx, chainID)
		if err != nil {
			c.logger.Warnf("代币列表读取出错 %T: chain=%s, err=%v", resolver, chainID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		succeeded = true
		for _, token := range list {
			key := strings.ToLower(token.Address)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, token)
		}
	}
	if !succeeded && firstErr != nil {
		return nil, firstErr
	}

	sortBySymbol(merged)
	if merged == nil {
		merged = []types.Token{}
	}
	return merged, nil
}
