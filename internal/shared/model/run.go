// Package model 定义核心数据模型
//
// run.go 包含一次任务运行的模型：
//   - MissionRun：运行记录（状态机 + 轨迹 + 投递结果）
//   - StepTrace：单步执行轨迹（流式进度与事后检查共用）
//   - OutputResult：单个输出步骤的投递结果
//   - TriggerResult：触发接口返回的最终结果
package model

import "time"

// ============================================================================
// RunStatus - 运行状态机
// ============================================================================

// RunStatus 表示单次运行的状态
//
// 状态机：queued -> running -> {success, failed}
//   - queued：已创建待执行（即"尚未开始"）
//   - running：执行器已接手
//   - success：结束且没有任何步骤进入 failed
//   - failed：有必需步骤失败，或条件策略要求终止
type RunStatus string

const (
	// RunStatusQueued 排队中：等待执行器领取
	RunStatusQueued RunStatus = "queued"

	// RunStatusRunning 执行中
	RunStatusRunning RunStatus = "running"

	// RunStatusSuccess 成功结束
	RunStatusSuccess RunStatus = "success"

	// RunStatusFailed 失败结束
	RunStatusFailed RunStatus = "failed"
)

// IsTerminal 是否为终态
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed
}

// ============================================================================
// StepStatus - 步骤状态机
// ============================================================================

// StepStatus 表示单步的状态
//
// 状态机：pending -> running -> {completed, failed, skipped}
// 进入终态后对应轨迹不再被修改。skipped 不计入运行失败。
type StepStatus string

const (
	// StepStatusPending 等待执行
	StepStatusPending StepStatus = "pending"

	// StepStatusRunning 执行中
	StepStatusRunning StepStatus = "running"

	// StepStatusCompleted 成功完成
	StepStatusCompleted StepStatus = "completed"

	// StepStatusFailed 已失败：携带 errorCode 与人读 detail
	StepStatusFailed StepStatus = "failed"

	// StepStatusSkipped 已跳过：条件策略或上游失败导致未执行
	StepStatusSkipped StepStatus = "skipped"
)

// IsTerminal 是否为终态
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusCompleted, StepStatusFailed, StepStatusSkipped:
		return true
	}
	return false
}

// ============================================================================
// StepTrace - 单步执行轨迹
// ============================================================================

// StepTrace 单步执行轨迹
//
// 运行开始时按任务当时的步骤顺序一次性建好（每步一条，初始
// pending），执行中原地更新，终态后不变。轨迹顺序恒等于运行开始
// 那一刻的步骤顺序，任务被并发编辑也不受影响。
type StepTrace struct {
	StepID string     `json:"stepId" bson:"step_id"`
	Type   StepKind   `json:"type" bson:"type"`
	Title  string     `json:"title,omitempty" bson:"title,omitempty"`
	Status StepStatus `json:"status" bson:"status"`

	// Detail 人读说明；超过内联上限的载荷转存对象存储，这里只留摘要
	Detail string `json:"detail,omitempty" bson:"detail,omitempty"`

	// ErrorCode 机器可读错误码（失败时设置）
	ErrorCode string `json:"errorCode,omitempty" bson:"error_code,omitempty"`

	// ArtifactRef 对象存储中完整载荷的引用（超限转存时设置）
	ArtifactRef string `json:"artifactRef,omitempty" bson:"artifact_ref,omitempty"`

	// RetryCount 步骤内部的瞬态重试次数
	RetryCount int `json:"retryCount" bson:"retry_count"`

	StartedAt *time.Time `json:"startedAt,omitempty" bson:"started_at,omitempty"`
	EndedAt   *time.Time `json:"endedAt,omitempty" bson:"ended_at,omitempty"`
}

// NewStepTraces 按步骤列表构造初始轨迹（全部 pending）
func NewStepTraces(steps StepList) []StepTrace {
	traces := make([]StepTrace, 0, len(steps))
	for _, s := range steps {
		meta := s.Meta()
		traces = append(traces, StepTrace{
			StepID: meta.ID,
			Type:   s.Kind(),
			Title:  meta.Title,
			Status: StepStatusPending,
		})
	}
	return traces
}

// ============================================================================
// OutputResult - 投递结果
// ============================================================================

// OutputResult 单个输出步骤的投递结果
//
// 一个输出失败不直接否决整次运行，结果逐条聚合在运行记录里。
type OutputResult struct {
	StepID    string `json:"stepId" bson:"step_id"`
	Channel   string `json:"channel" bson:"channel"`
	Delivered bool   `json:"delivered" bson:"delivered"`
	Detail    string `json:"detail,omitempty" bson:"detail,omitempty"`
	Error     string `json:"error,omitempty" bson:"error,omitempty"`
}

// ============================================================================
// MissionRun - 运行记录
// ============================================================================

// RunTrigger 运行的触发来源
type RunTrigger string

const (
	// RunTriggerSchedule 调度器按排期触发
	RunTriggerSchedule RunTrigger = "schedule"

	// RunTriggerManual 用户手动触发
	RunTriggerManual RunTrigger = "manual"
)

// MissionRun 一次任务运行
//
// 字段说明：
//   - Occurrence：本次运行对应的排期时刻，幂等键由它派生
//   - MissionVersion：运行开始时任务的内容版本（审计用）
//   - Attempts：运行级重试已消耗的次数，从 1 开始计
type MissionRun struct {
	ID             string     `json:"id" bson:"_id" db:"id"`
	MissionID      string     `json:"missionId" bson:"mission_id" db:"mission_id"`
	UserID         string     `json:"userId" bson:"user_id" db:"user_id"`
	Status         RunStatus  `json:"status" bson:"status" db:"status"`
	Trigger        RunTrigger `json:"trigger" bson:"trigger" db:"trigger"`
	Occurrence     time.Time  `json:"occurrence" bson:"occurrence" db:"occurrence"`
	MissionVersion int        `json:"missionVersion" bson:"mission_version" db:"mission_version"`
	Attempts       int        `json:"attempts" bson:"attempts" db:"attempts"`

	Success        bool           `json:"success" bson:"success" db:"success"`
	Reason         string         `json:"reason,omitempty" bson:"reason,omitempty" db:"reason"`
	Traces         []StepTrace    `json:"stepTraces" bson:"traces"`
	Results        []OutputResult `json:"results,omitempty" bson:"results,omitempty"`
	NovachatQueued bool           `json:"novachatQueued" bson:"novachat_queued" db:"novachat_queued"`

	DurationMs int64      `json:"durationMs" bson:"duration_ms" db:"duration_ms"`
	StartedAt  *time.Time `json:"startedAt,omitempty" bson:"started_at,omitempty" db:"started_at"`
	EndedAt    *time.Time `json:"endedAt,omitempty" bson:"ended_at,omitempty" db:"ended_at"`
	CreatedAt  time.Time  `json:"createdAt" bson:"created_at" db:"created_at"`
}

// ============================================================================
// TriggerResult - 触发接口的最终结果
// ============================================================================

// TriggerResult 同步触发与流式 done 事件共用的最终结果
//
// Skipped=true 表示本次调用没有执行（幂等去重命中、任务停用等），
// Reason 说明原因；此时 OK 仍为 true，因为调用本身没有失败。
type TriggerResult struct {
	OK             bool           `json:"ok"`
	Skipped        bool           `json:"skipped,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	RunID          string         `json:"runId,omitempty"`
	StepTraces     []StepTrace    `json:"stepTraces,omitempty"`
	Results        []OutputResult `json:"results,omitempty"`
	NovachatQueued bool           `json:"novachatQueued"`
	Error          string         `json:"error,omitempty"`
}

// ResultFromRun 从运行记录提取最终结果
func ResultFromRun(run *MissionRun) *TriggerResult {
	if run == nil {
		return &TriggerResult{OK: false, Error: "run not found"}
	}
	return &TriggerResult{
		OK:             run.Success,
		Reason:         run.Reason,
		RunID:          run.ID,
		StepTraces:     run.Traces,
		Results:        run.Results,
		NovachatQueued: run.NovachatQueued,
	}
}
