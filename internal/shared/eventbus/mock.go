// Package eventbus 事件总线 mock 实现
package eventbus

import (
	"context"

	"missions-admin/internal/shared/model"
)

// ============================================================================
// NoOpEventBus - 空操作的 EventBus 实现（用于测试）
// ============================================================================

// NoOpEventBus 是一个不做任何操作的 EventBus 实现
type NoOpEventBus struct{}

// NewNoOpEventBus 创建 NoOpEventBus 实例
func NewNoOpEventBus() *NoOpEventBus {
	return &NoOpEventBus{}
}

// Close 关闭事件总线
func (e *NoOpEventBus) Close() error {
	return nil
}

// TraceEventBus 方法

func (e *NoOpEventBus) PublishTraceEvent(ctx context.Context, runID string, event *model.StreamEvent) error {
	return nil
}
func (e *NoOpEventBus) GetTraceEvents(ctx context.Context, runID string, fromID string, count int64) ([]*TraceEvent, error) {
	return []*TraceEvent{}, nil
}
func (e *NoOpEventBus) GetTraceEventCount(ctx context.Context, runID string) (int64, error) {
	return 0, nil
}
func (e *NoOpEventBus) SubscribeTraceEvents(ctx context.Context, runID string, fromID string) (<-chan *TraceEvent, error) {
	ch := make(chan *TraceEvent)
	close(ch)
	return ch, nil
}
func (e *NoOpEventBus) DeleteTraceEvents(ctx context.Context, runID string) error {
	return nil
}

// 确保 NoOpEventBus 实现了 EventBus 接口
var _ EventBus = (*NoOpEventBus)(nil)
