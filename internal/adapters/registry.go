package adapters

import (
	"fmt"

	"swapr-dapp/trades-service/internal/types"

	"github.com/sirupsen/logrus"
)

// Registry 适配器注册表
// 保持注册顺序，键唯一，创建后只读；只提供遍历，扇出总是覆盖全部适配器
type Registry struct {
	keys     []string
	adapters map[string]TradesAdapter
}

// NewRegistry 按给定顺序创建注册表
func NewRegistry(adapters ...TradesAdapter) (*Registry, error) {
	registry := &Registry{
		keys:     make([]string, 0, len(adapters)),
		adapters: make(map[string]TradesAdapter, len(adapters)),
	}

	for _, adapter := range adapters {
		if adapter == nil {
			return nil, fmt.Errorf("适配器不能为空")
		}
		key := adapter.Key()
		if key == "" {
			return nil, fmt.Errorf("适配器键不能为空")
		}
		if _, exists := registry.adapters[key]; exists {
			return nil, fmt.Errorf("重复的适配器键: %s", key)
		}
		registry.keys = append(registry.keys, key)
		registry.adapters[key] = adapter
	}

	return registry, nil
}

// BuildRegistry 根据配置创建适配器并注册
// 未启用的配置被跳过，未知的适配器名称记录错误后跳过
func BuildRegistry(configs []types.AdapterConfig, logger *logrus.Logger) (*Registry, error) {
	adapters := make([]TradesAdapter, 0, len(configs))

	for i := range configs {
		config := configs[i]
		if !config.IsActive {
			logger.Infof("跳过未启用的适配器: %s", config.Name)
			continue
		}

		adapter, err := createAdapter(&config, logger)
		if err != nil {
			logger.Errorf("创建适配器失败 %s: %v", config.Name, err)
			continue
		}
		adapters = append(adapters, adapter)
		logger.Infof("✅ 适配器已注册: %s (%s), 支持链: %v", config.Name, config.DisplayName, config.SupportedChains())
	}

	return NewRegistry(adapters...)
}

// createAdapter 根据名称创建具体适配器
func createAdapter(config *types.AdapterConfig, logger *logrus.Logger) (TradesAdapter, error) {
	switch config.Name {
	case SwaprAdapterKey:
		return NewSwaprAdapter(config, logger), nil
	default:
		return nil, fmt.Errorf("未知的适配器: %s", config.Name)
	}
}

// Keys 按注册顺序返回适配器键
func (r *Registry) Keys() []string {
	keys := make([]string, len(r.keys))
	copy(keys, r.keys)
	return keys
}

// Values 按注册顺序返回适配器
func (r *Registry) Values() []TradesAdapter {
	values := make([]TradesAdapter, 0, len(r.keys))
	for _, key := range r.keys {
		values = append(values, r.adapters[key])
	}
	return values
}

// Len 适配器数量
func (r *Registry) Len() int {
	return len(r.keys)
}
