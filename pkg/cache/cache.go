// Package cache 状态存储的缓存后端
// 提供统一的键值接口，支持Redis和进程内存两种实现
// 值统一以JSON序列化，读取时反序列化到调用方提供的目标对象
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrClosed 缓存已关闭
var ErrClosed = errors.New("缓存已关闭")

// CacheManager 缓存管理器接口
type CacheManager interface {
	// Get 读取键值并反序列化到dest，键不存在时返回 false
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	// Set 写入键值，ttl为0表示不过期
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Delete 删除键
	Delete(ctx context.Context, key string) error
	// Ping 检查后端连接
	Ping(ctx context.Context) error
	// Close 关闭后端连接
	Close() error
}
