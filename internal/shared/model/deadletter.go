// Package model 定义核心数据模型
//
// deadletter.go 包含死信记录的模型。重试配额耗尽的运行被追加到
// 死信表，带着完整失败上下文，可在常规运行历史之外单独检查；
// 死信永不自动重试。
package model

import "time"

// DeadLetter 一条死信记录
type DeadLetter struct {
	ID        string `json:"id" bson:"_id" db:"id"`
	MissionID string `json:"missionId" bson:"mission_id" db:"mission_id"`
	RunID     string `json:"runId" bson:"run_id" db:"run_id"`

	// Key 运行的幂等键（排障时据此对照声明记录）
	Key string `json:"key" bson:"key" db:"key"`

	// Attempts 进入死信前累计消耗的运行级尝试次数
	Attempts int `json:"attempts" bson:"attempts" db:"attempts"`

	// Reason 最终失败的归类说明
	Reason string `json:"reason" bson:"reason" db:"reason"`

	// LastError 最后一次尝试的错误文本
	LastError string `json:"lastError,omitempty" bson:"last_error,omitempty" db:"last_error"`

	// Payload 失败现场（轨迹、结果等）的 JSON 快照
	Payload string `json:"payload,omitempty" bson:"payload,omitempty" db:"payload"`

	CreatedAt time.Time `json:"createdAt" bson:"created_at" db:"created_at"`
}
