package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryCleanupInterval 过期条目的后台清理周期
const memoryCleanupInterval = time.Minute

// MemoryCache 进程内缓存实现
// 单实例部署和测试使用，与RedisCache保持相同的序列化语义
type MemoryCache struct {
	items  *gocache.Cache
	closed atomic.Bool
}

// NewMemoryCache 创建进程内缓存
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		items: gocache.New(gocache.NoExpiration, memoryCleanupInterval),
	}
}

// Get 读取并反序列化键值，过期条目视为不存在
func (m *MemoryCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if m.closed.Load() {
		return false, ErrClosed
	}

	value, ok := m.items.Get(key)
	if !ok {
		return false, nil
	}

	if err := json.Unmarshal(value.([]byte), dest); err != nil {
		return false, fmt.Errorf("解析缓存数据失败: %w", err)
	}
	return true, nil
}

// Set 序列化并写入键值，ttl<=0 表示不过期
func (m *MemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.closed.Load() {
		return ErrClosed
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("序列化缓存数据失败: %w", err)
	}

	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.items.Set(key, data, ttl)
	return nil
}

// Delete 删除键
func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.items.Delete(key)
	return nil
}

// Ping 内存缓存关闭前始终可用
func (m *MemoryCache) Ping(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close 关闭缓存并清空条目
func (m *MemoryCache) Close() error {
	m.closed.Store(true)
	m.items.Flush()
	return nil
}
