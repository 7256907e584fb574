// Package model 定义核心数据模型
//
// event.go 包含引擎事件日志的模型：
//   - EngineEvent：运行/校验事件（可靠性聚合的唯一输入）
//   - EngineEventType：事件类型枚举
package model

import "time"

// ============================================================================
// EngineEventType - 引擎事件类型
// ============================================================================

// EngineEventType 引擎事件类型
//
// 事件分两类：
//  1. 运行结局事件：run_completed / run_failed / run_retried
//  2. 校验事件：validation_passed / validation_failed
//
// 可靠性聚合按类别计算通过率、成功率、重试率与 P95 时长。
type EngineEventType string

const (
	// EventRunCompleted 运行成功结束
	EventRunCompleted EngineEventType = "run_completed"

	// EventRunFailed 运行失败结束
	EventRunFailed EngineEventType = "run_failed"

	// EventRunRetried 运行级重试被触发（每次重试记一条）
	EventRunRetried EngineEventType = "run_retried"

	// EventValidationPassed 任务内容校验通过
	EventValidationPassed EngineEventType = "validation_passed"

	// EventValidationFailed 任务内容校验失败
	EventValidationFailed EngineEventType = "validation_failed"
)

// IsRunOutcome 是否为运行结局事件（成功率的分母）
func (t EngineEventType) IsRunOutcome() bool {
	return t == EventRunCompleted || t == EventRunFailed
}

// IsValidation 是否为校验事件（校验通过率的分母）
func (t EngineEventType) IsValidation() bool {
	return t == EventValidationPassed || t == EventValidationFailed
}

// ============================================================================
// EngineEvent - 引擎事件
// ============================================================================

// EngineEvent 一条引擎事件
//
// DurationMs 仅运行结局事件填写（整次运行的墙钟时长），
// 其余事件为 0。
type EngineEvent struct {
	ID         int64           `json:"id" bson:"id" db:"id"`
	Type       EngineEventType `json:"type" bson:"type" db:"type"`
	MissionID  string          `json:"missionId,omitempty" bson:"mission_id,omitempty" db:"mission_id"`
	RunID      string          `json:"runId,omitempty" bson:"run_id,omitempty" db:"run_id"`
	DurationMs int64           `json:"durationMs,omitempty" bson:"duration_ms,omitempty" db:"duration_ms"`
	Detail     string          `json:"detail,omitempty" bson:"detail,omitempty" db:"detail"`
	CreatedAt  time.Time       `json:"createdAt" bson:"created_at" db:"created_at"`
}
