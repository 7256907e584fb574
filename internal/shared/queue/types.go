// Package queue 消息队列类型定义
package queue

import (
	"time"
)

// ============================================================================
// 消息类型
// ============================================================================

// RunMessage 执行分发消息
type RunMessage struct {
	ID            string
	RunID         string
	MissionID     string
	UserContextID string
	EnqueuedAt    time.Time
}

// ============================================================================
// Key 前缀和常量
// ============================================================================

const (
	// 分发队列 - 存放待执行的 Run
	KeyMissionRuns = "missions:runs"

	// 消费者组
	RunnerConsumerGroup = "runners"
)
