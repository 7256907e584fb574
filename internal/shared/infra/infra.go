// Package infra 基础设施聚合层
//
// 提供统一的基础设施初始化和依赖注入，包括：
//   - Storage：持久化存储（PostgreSQL / SQLite / MongoDB）
//   - Cache：幂等声明与临时状态缓存（Redis）
//   - EventBus：轨迹事件总线（Redis Streams）
//   - Queue：执行分发队列（Redis Streams）
//   - Artifacts：步骤产物对象存储（MinIO，可选）
package infra

import (
	"missions-admin/internal/shared/cache"
	"missions-admin/internal/shared/eventbus"
	"missions-admin/internal/shared/objstore"
	"missions-admin/internal/shared/queue"
	"missions-admin/internal/shared/storage"
)

// Infrastructure 基础设施聚合结构
type Infrastructure struct {
	// Storage 持久化存储
	Storage storage.PersistentStore

	// Cache 缓存（Redis），包含幂等声明缓存（ClaimCache）
	Cache cache.Cache

	// EventBus 事件总线（Redis）
	EventBus eventbus.EventBus

	// Queue 消息队列（Redis）
	Queue queue.Queue

	// Artifacts 产物对象存储（未配置时为 nil，步骤负载全部内联）
	Artifacts *objstore.Client
}

// Close 关闭所有基础设施连接
func (i *Infrastructure) Close() error {
	var lastErr error

	if i.Storage != nil {
		if err := i.Storage.Close(); err != nil {
			lastErr = err
		}
	}

	if i.Cache != nil {
		if err := i.Cache.Close(); err != nil {
			lastErr = err
		}
	}

	if i.EventBus != nil {
		if err := i.EventBus.Close(); err != nil {
			lastErr = err
		}
	}

	if i.Queue != nil {
		if err := i.Queue.Close(); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// NewNoOpInfrastructure 创建空操作的基础设施（用于测试）
func NewNoOpInfrastructure() *Infrastructure {
	return &Infrastructure{
		Cache:    cache.NewNoOpCache(),
		EventBus: eventbus.NewNoOpEventBus(),
		Queue:    queue.NewNoOpQueue(),
	}
}
