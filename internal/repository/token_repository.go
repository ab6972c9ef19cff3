// Package repository 数据访问层
// 基于GORM实现代币元数据的持久化查询
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"swapr-dapp/trades-service/internal/types"

	"gorm.io/gorm"
)

// BaseModel 基础模型
type BaseModel struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Token 代币模型
type Token struct {
	BaseModel
	ChainID         uint   `gorm:"not null;index:idx_chain_address" json:"chain_id"`                 // 链ID
	ContractAddress string `gorm:"size:42;not null;index:idx_chain_address" json:"contract_address"` // 合约地址
	Symbol          string `gorm:"size:20;not null;index" json:"symbol"`                             // 代币符号
	Name            string `gorm:"size:100;not null" json:"name"`                                    // 代币全名
	Decimals        int    `gorm:"not null" json:"decimals"`                                         // 小数位数
	IsActive        bool   `gorm:"default:true;index" json:"is_active"`                              // 是否启用
}

// ToDomain 转换为领域代币
func (t *Token) ToDomain() *types.Token {
	return &types.Token{
		ChainID:  types.ChainID(t.ChainID),
		Address:  t.ContractAddress,
		Symbol:   t.Symbol,
		Name:     t.Name,
		Decimals: t.Decimals,
	}
}

// TokenRepository 代币数据访问
type TokenRepository struct {
	db *gorm.DB
}

// NewTokenRepository 创建代币数据访问实例
func NewTokenRepository(db *gorm.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// GetByContractAddress 根据合约地址获取启用的代币，地址不区分大小写
// 未找到时返回 nil, nil
func (r *TokenRepository) GetByContractAddress(ctx context.Context, chainID types.ChainID, address string) (*Token, error) {
	var token Token
	err := r.contractAddressQuery(r.db.WithContext(ctx), chainID, address).First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询代币失败: %w", err)
	}
	return &token, nil
}

func (r *TokenRepository) contractAddressQuery(db *gorm.DB, chainID types.ChainID, address string) *gorm.DB {
	return db.Where("chain_id = ? AND LOWER(contract_address) = ? AND is_active = ?",
		uint(chainID), strings.ToLower(address), true)
}

// GetByChainID 获取指定链的启用代币，按符号排序
func (r *TokenRepository) GetByChainID(ctx context.Context, chainID types.ChainID) ([]*Token, error) {
	var tokens []*Token
	if err := r.chainTokensQuery(r.db.WithContext(ctx), chainID).Find(&tokens).Error; err != nil {
		return nil, fmt.Errorf("查询链代币失败: %w", err)
	}
	return tokens, nil
}

func (r *TokenRepository) chainTokensQuery(db *gorm.DB, chainID types.ChainID) *gorm.DB {
	return db.Where("chain_id = ? AND is_active = ?", uint(chainID), true).Order("symbol ASC")
}
