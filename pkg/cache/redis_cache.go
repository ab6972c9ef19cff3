package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"swapr-dapp/trades-service/internal/types"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RedisCache 基于Redis的缓存实现
type RedisCache struct {
	client *redis.Client  // Redis客户端
	prefix string         // 键前缀
	logger *logrus.Logger // 日志记录器
}

// NewRedisCache 创建Redis缓存并检查连接
func NewRedisCache(cfg *types.RedisConfig, prefix string, logger *logrus.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接Redis失败: %w", err)
	}

	logger.Infof("Redis缓存已连接: %s:%d db=%d", cfg.Host, cfg.Port, cfg.DB)
	return NewRedisCacheWithClient(client, prefix, logger), nil
}

// NewRedisCacheWithClient 使用已有客户端创建Redis缓存
func NewRedisCacheWithClient(client *redis.Client, prefix string, logger *logrus.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// Get 读取并反序列化键值
func (r *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err == redis.Nil {
		r.logger.Debugf("缓存未命中: %s", key)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("读取缓存失败: %w", err)
	}

	if err := json.Unmarshal(val, dest); err != nil {
		return false, fmt.Errorf("解析缓存数据失败: %w", err)
	}
	return true, nil
}

// Set 序列化并写入键值
func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("序列化缓存数据失败: %w", err)
	}

	if err := r.client.Set(ctx, r.prefix+key, data, ttl).Err(); err != nil {
		r.logger.Errorf("写入缓存失败: key=%s, err=%v", key, err)
		return fmt.Errorf("写入缓存失败: %w", err)
	}
	return nil
}

// Delete 删除键
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

// Ping 检查Redis连接
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close 关闭Redis连接
func (r *RedisCache) Close() error {
	return r.client.Close()
}
