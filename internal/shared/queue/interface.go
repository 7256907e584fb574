// Package queue 消息队列抽象接口
//
// 提供执行分发和消费的队列能力，当前由 Redis Streams 实现。
package queue

import (
	"context"
	"time"
)

// ============================================================================
// 队列接口定义
// ============================================================================

// RunQueue 执行分发队列接口
//
// 调度器把到期的执行入队，执行工作者通过消费者组竞争消费，
// 处理完成后显式 Ack。未 Ack 的消息留在 pending 列表，由
// 兜底轮询通过陈旧 queued 行补救。
type RunQueue interface {
	// EnqueueRun 将执行加入分发队列
	EnqueueRun(ctx context.Context, runID, missionID, userContextID string) (string, error)
	CreateRunConsumerGroup(ctx context.Context) error
	ConsumeRuns(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*RunMessage, error)
	AckRun(ctx context.Context, messageID string) error
	GetRunQueueLength(ctx context.Context) (int64, error)
	GetRunPendingCount(ctx context.Context) (int64, error)
}

// ============================================================================
// 组合接口
// ============================================================================

// Queue 消息队列组合接口
type Queue interface {
	RunQueue
	Close() error
}
