// Package infra Redis 基础设施初始化
package infra

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"missions-admin/internal/shared/cache"
	cacheredis "missions-admin/internal/shared/cache/redis"
	"missions-admin/internal/shared/eventbus"
	eventbusredis "missions-admin/internal/shared/eventbus/redis"
	"missions-admin/internal/shared/model"
	"missions-admin/internal/shared/queue"
	queueredis "missions-admin/internal/shared/queue/redis"
	"missions-admin/internal/shared/storage"
)

// RedisInfra Redis 基础设施（实现 storage.CacheStore 接口）
//
// 组合 Cache、EventBus、Queue 实现完整的 CacheStore 接口
type RedisInfra struct {
	// 组件（显式命名避免冲突）
	cacheStore    *cacheredis.Store
	eventBusStore *eventbusredis.Store
	queueStore    *queueredis.Store

	// 底层连接
	client *redis.Client
}

// NewRedisInfra 从 URL 创建 Redis 基础设施
func NewRedisInfra(redisURL string) (*RedisInfra, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[Redis/Infra] Connected to %s", opts.Addr)

	return &RedisInfra{
		client:        client,
		cacheStore:    cacheredis.NewStoreFromClient(client),
		eventBusStore: eventbusredis.NewStoreFromClient(client),
		queueStore:    queueredis.NewStoreFromClient(client),
	}, nil
}

// NewRedisInfraFromAddr 从地址创建 Redis 基础设施
func NewRedisInfraFromAddr(addr, password string, db int) (*RedisInfra, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[Redis/Infra] Connected to %s", addr)

	return &RedisInfra{
		client:        client,
		cacheStore:    cacheredis.NewStoreFromClient(client),
		eventBusStore: eventbusredis.NewStoreFromClient(client),
		queueStore:    queueredis.NewStoreFromClient(client),
	}, nil
}

// Cache 返回缓存组件接口
func (r *RedisInfra) Cache() cache.Cache {
	return r.cacheStore
}

// EventBus 返回事件总线组件接口
func (r *RedisInfra) EventBus() eventbus.EventBus {
	return r.eventBusStore
}

// Queue 返回消息队列组件接口
func (r *RedisInfra) Queue() queue.Queue {
	return r.queueStore
}

// Client 返回底层 Redis 客户端
func (r *RedisInfra) Client() *redis.Client {
	return r.client
}

// Close 关闭 Redis 连接
func (r *RedisInfra) Close() error {
	return r.client.Close()
}

// ============================================================================
// cache.Cache 接口委托实现
// ============================================================================

func (r *RedisInfra) Claim(ctx context.Context, scope, userContextID, key string, ttl time.Duration) (bool, error) {
	return r.cacheStore.Claim(ctx, scope, userContextID, key, ttl)
}
func (r *RedisInfra) ReleaseClaim(ctx context.Context, scope, userContextID, key string) error {
	return r.cacheStore.ReleaseClaim(ctx, scope, userContextID, key)
}
func (r *RedisInfra) SetBuildResult(ctx context.Context, userContextID, fingerprint string, result *cache.BuildResult) error {
	return r.cacheStore.SetBuildResult(ctx, userContextID, fingerprint, result)
}
func (r *RedisInfra) GetBuildResult(ctx context.Context, userContextID, fingerprint string) (*cache.BuildResult, error) {
	return r.cacheStore.GetBuildResult(ctx, userContextID, fingerprint)
}
func (r *RedisInfra) DeleteBuildResult(ctx context.Context, userContextID, fingerprint string) error {
	return r.cacheStore.DeleteBuildResult(ctx, userContextID, fingerprint)
}
func (r *RedisInfra) SetRunState(ctx context.Context, runID string, state *cache.RunState) error {
	return r.cacheStore.SetRunState(ctx, runID, state)
}
func (r *RedisInfra) GetRunState(ctx context.Context, runID string) (*cache.RunState, error) {
	return r.cacheStore.GetRunState(ctx, runID)
}
func (r *RedisInfra) DeleteRunState(ctx context.Context, runID string) error {
	return r.cacheStore.DeleteRunState(ctx, runID)
}

// ============================================================================
// eventbus.EventBus 接口委托实现
// ============================================================================

func (r *RedisInfra) PublishTraceEvent(ctx context.Context, runID string, event *model.StreamEvent) error {
	return r.eventBusStore.PublishTraceEvent(ctx, runID, event)
}
func (r *RedisInfra) GetTraceEvents(ctx context.Context, runID string, fromID string, count int64) ([]*eventbus.TraceEvent, error) {
	return r.eventBusStore.GetTraceEvents(ctx, runID, fromID, count)
}
func (r *RedisInfra) GetTraceEventCount(ctx context.Context, runID string) (int64, error) {
	return r.eventBusStore.GetTraceEventCount(ctx, runID)
}
func (r *RedisInfra) SubscribeTraceEvents(ctx context.Context, runID string, fromID string) (<-chan *eventbus.TraceEvent, error) {
	return r.eventBusStore.SubscribeTraceEvents(ctx, runID, fromID)
}
func (r *RedisInfra) DeleteTraceEvents(ctx context.Context, runID string) error {
	return r.eventBusStore.DeleteTraceEvents(ctx, runID)
}

// ============================================================================
// queue.Queue 接口委托实现
// ============================================================================

func (r *RedisInfra) EnqueueRun(ctx context.Context, runID, missionID, userContextID string) (string, error) {
	return r.queueStore.EnqueueRun(ctx, runID, missionID, userContextID)
}
func (r *RedisInfra) CreateRunConsumerGroup(ctx context.Context) error {
	return r.queueStore.CreateRunConsumerGroup(ctx)
}
func (r *RedisInfra) ConsumeRuns(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*queue.RunMessage, error) {
	return r.queueStore.ConsumeRuns(ctx, consumerID, count, blockTimeout)
}
func (r *RedisInfra) AckRun(ctx context.Context, messageID string) error {
	return r.queueStore.AckRun(ctx, messageID)
}
func (r *RedisInfra) GetRunQueueLength(ctx context.Context) (int64, error) {
	return r.queueStore.GetRunQueueLength(ctx)
}
func (r *RedisInfra) GetRunPendingCount(ctx context.Context) (int64, error) {
	return r.queueStore.GetRunPendingCount(ctx)
}

// 确保 RedisInfra 实现了 storage.CacheStore 接口
var _ storage.CacheStore = (*RedisInfra)(nil)
