// Package model 定义核心数据模型
//
// reliability.go 包含可靠性读数的模型。读数按需从引擎事件日志
// 推导，不落库。
package model

import "time"

// ReliabilitySummary 回看窗口内的可靠性汇总
//
// 比率均为百分数（0-100）。分母为零时取"健康默认值"而不是除零：
// 通过率/成功率取 100，重试率取 0，P95 取 0。
type ReliabilitySummary struct {
	TotalEvents        int     `json:"totalEvents"`
	ValidationPassRate float64 `json:"validationPassRate"`
	RunSuccessRate     float64 `json:"runSuccessRate"`
	RetryRate          float64 `json:"retryRate"`
	RunP95Ms           int64   `json:"runP95Ms"`
}

// SLOReading 单项 SLO 读数
//
// OK 的判定方向取决于指标：比率类越高越好（P95、重试率越低越好）。
type SLOReading struct {
	Metric string  `json:"metric"`
	Target float64 `json:"target"`
	Value  float64 `json:"value"`
	OK     bool    `json:"ok"`
	Unit   string  `json:"unit"`
}

// ReliabilityReport 可靠性接口的完整响应
type ReliabilityReport struct {
	Summary     ReliabilitySummary `json:"summary"`
	SLOs        []SLOReading       `json:"slos"`
	Since       time.Time          `json:"since"`
	TotalEvents int                `json:"totalEvents"`
}
