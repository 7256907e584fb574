// Package eventbus 事件总线类型定义
package eventbus

import (
	"time"

	"missions-admin/internal/shared/model"
)

// ============================================================================
// 事件类型
// ============================================================================

// TraceEvent 轨迹事件信封
//
// ID 为 Redis Stream 消息 ID，客户端用它做断点续传
// （SSE Last-Event-ID）。Event 为完整的流事件负载。
type TraceEvent struct {
	ID        string             `json:"id"`
	Seq       int                `json:"seq"`
	Type      string             `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
	Event     *model.StreamEvent `json:"event"`
}

// ============================================================================
// Key 前缀和常量
// ============================================================================

const (
	// Key 前缀
	KeyTraceEvents = "trace_events:"

	// Stream 最大长度
	MaxStreamLength = 1000
)
