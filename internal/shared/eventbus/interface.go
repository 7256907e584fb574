// Package eventbus 事件总线抽象接口
//
// 提供轨迹事件的发布/订阅能力，当前由 Redis Streams 实现。
package eventbus

import (
	"context"

	"missions-admin/internal/shared/model"
)

// ============================================================================
// 事件总线接口定义
// ============================================================================

// TraceEventBus 轨迹事件总线接口
//
// 执行器逐事件发布，流式网关订阅转发。订阅从 fromID 起回放
// 历史事件后切换到实时投递（fromID 为空表示从头回放），因此
// 晚到或断线重连的客户端不会漏掉已发生的进度。
type TraceEventBus interface {
	PublishTraceEvent(ctx context.Context, runID string, event *model.StreamEvent) error
	GetTraceEvents(ctx context.Context, runID string, fromID string, count int64) ([]*TraceEvent, error)
	GetTraceEventCount(ctx context.Context, runID string) (int64, error)
	SubscribeTraceEvents(ctx context.Context, runID string, fromID string) (<-chan *TraceEvent, error)
	DeleteTraceEvents(ctx context.Context, runID string) error
}

// ============================================================================
// 组合接口
// ============================================================================

// EventBus 事件总线组合接口
type EventBus interface {
	TraceEventBus
	Close() error
}
