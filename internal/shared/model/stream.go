// Package model 定义核心数据模型
//
// stream.go 包含流式进度协议的事件模型。事件经事件总线在
// 执行器、网关与客户端之间传递：
//   - StreamEvent：started / step / done / error 四种事件的信封
//   - StepTraceUpdate：step 事件携带的部分轨迹更新（原地合并）
package model

import "time"

// ============================================================================
// StreamEventType - 流事件类型
// ============================================================================

// StreamEventType 流事件类型
type StreamEventType string

const (
	// StreamEventStarted 运行开始：携带初始轨迹全量
	StreamEventStarted StreamEventType = "started"

	// StreamEventStep 单步进度：携带部分轨迹更新，按 stepId 合并
	StreamEventStep StreamEventType = "step"

	// StreamEventDone 运行结束：携带最终结果（终结事件）
	StreamEventDone StreamEventType = "done"

	// StreamEventError 流级致命错误：运行结果本身无法投递（终结事件）。
	// 不是步骤失败——步骤失败走 step/done 事件。
	StreamEventError StreamEventType = "error"
)

// IsTerminal 是否为终结事件（其后流不再有事件）
func (t StreamEventType) IsTerminal() bool {
	return t == StreamEventDone || t == StreamEventError
}

// ============================================================================
// StepTraceUpdate - 部分轨迹更新
// ============================================================================

// StepTraceUpdate step 事件携带的部分轨迹更新
//
// 客户端按 StepID 定位轨迹做原地合并；StepID 缺失时退而按
// Type + 当前 running 步骤匹配。指针字段为 nil 表示不更新。
type StepTraceUpdate struct {
	StepID      string     `json:"stepId,omitempty"`
	Type        StepKind   `json:"type,omitempty"`
	Title       string     `json:"title,omitempty"`
	Status      StepStatus `json:"status,omitempty"`
	Detail      *string    `json:"detail,omitempty"`
	ErrorCode   *string    `json:"errorCode,omitempty"`
	ArtifactRef *string    `json:"artifactRef,omitempty"`
	RetryCount  *int       `json:"retryCount,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
}

// ApplyTo 把更新合并进目标轨迹
func (u *StepTraceUpdate) ApplyTo(t *StepTrace) {
	if t == nil || u == nil {
		return
	}
	if u.Status != "" {
		t.Status = u.Status
	}
	if u.Title != "" {
		t.Title = u.Title
	}
	if u.Detail != nil {
		t.Detail = *u.Detail
	}
	if u.ErrorCode != nil {
		t.ErrorCode = *u.ErrorCode
	}
	if u.ArtifactRef != nil {
		t.ArtifactRef = *u.ArtifactRef
	}
	if u.RetryCount != nil {
		t.RetryCount = *u.RetryCount
	}
	if u.StartedAt != nil {
		t.StartedAt = u.StartedAt
	}
	if u.EndedAt != nil {
		t.EndedAt = u.EndedAt
	}
}

// UpdateFromTrace 从完整轨迹构造全量更新（执行器发布 step 事件用）
func UpdateFromTrace(t StepTrace) StepTraceUpdate {
	detail := t.Detail
	errorCode := t.ErrorCode
	artifactRef := t.ArtifactRef
	retry := t.RetryCount
	return StepTraceUpdate{
		StepID:      t.StepID,
		Type:        t.Type,
		Title:       t.Title,
		Status:      t.Status,
		Detail:      &detail,
		ErrorCode:   &errorCode,
		ArtifactRef: &artifactRef,
		RetryCount:  &retry,
		StartedAt:   t.StartedAt,
		EndedAt:     t.EndedAt,
	}
}

// ============================================================================
// StreamEvent - 流事件信封
// ============================================================================

// StreamEvent 流式进度事件
//
// 按事件类型恰好一个负载字段非空：
//   - started：Traces（初始轨迹全量）
//   - step：   Trace（部分更新）
//   - done：   Result（最终结果）
//   - error：  Error（流级错误文本）
type StreamEvent struct {
	Type      StreamEventType  `json:"type"`
	RunID     string           `json:"runId"`
	MissionID string           `json:"missionId,omitempty"`
	Traces    []StepTrace      `json:"stepTraces,omitempty"`
	Trace     *StepTraceUpdate `json:"trace,omitempty"`
	Result    *TriggerResult   `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}
