// Package queue 消息队列 mock 实现
package queue

import (
	"context"
	"time"
)

// ============================================================================
// NoOpQueue - 空操作的 Queue 实现（用于测试）
// ============================================================================

// NoOpQueue 是一个不做任何操作的 Queue 实现
type NoOpQueue struct{}

// NewNoOpQueue 创建 NoOpQueue 实例
func NewNoOpQueue() *NoOpQueue {
	return &NoOpQueue{}
}

// Close 关闭队列
func (q *NoOpQueue) Close() error {
	return nil
}

// RunQueue 方法

func (q *NoOpQueue) EnqueueRun(ctx context.Context, runID, missionID, userContextID string) (string, error) {
	return "", nil
}
func (q *NoOpQueue) CreateRunConsumerGroup(ctx context.Context) error {
	return nil
}
func (q *NoOpQueue) ConsumeRuns(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*RunMessage, error) {
	return []*RunMessage{}, nil
}
func (q *NoOpQueue) AckRun(ctx context.Context, messageID string) error {
	return nil
}
func (q *NoOpQueue) GetRunQueueLength(ctx context.Context) (int64, error) {
	return 0, nil
}
func (q *NoOpQueue) GetRunPendingCount(ctx context.Context) (int64, error) {
	return 0, nil
}

// 确保 NoOpQueue 实现了 Queue 接口
var _ Queue = (*NoOpQueue)(nil)
