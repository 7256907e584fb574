// Package streamclient 订阅状态机与客户端侧进度视图
package streamclient

import (
	"missions-admin/internal/shared/model"
)

// ============================================================================
// State - 订阅状态
// ============================================================================

// State 一次订阅所处的阶段
type State string

const (
	// StateSubscribing 正在建立事件流连接，尚未收到任何事件
	StateSubscribing State = "subscribing"

	// StateStreaming 已收到事件，跟随进度中
	StateStreaming State = "streaming"

	// StateFinalized 已观察到终结结果（流内终结事件或回落结果）
	StateFinalized State = "finalized"
)

// ============================================================================
// RunView - 进度视图
// ============================================================================

// RunView 客户端按事件流合并出的运行进度视图
//
// started 事件给出轨迹全量，step 事件按 StepID 原地合并（缺
// StepID 时退而按类型 + 当前 running 步骤匹配），done/error
// 事件填充 Result。Result 非空即代表观察到了终结结果。
type RunView struct {
	RunID     string
	MissionID string
	Traces    []model.StepTrace
	Result    *model.TriggerResult
}

// apply 把一个流事件并入视图
func (v *RunView) apply(ev *model.StreamEvent) {
	if ev.RunID != "" {
		v.RunID = ev.RunID
	}
	if ev.MissionID != "" {
		v.MissionID = ev.MissionID
	}

	switch ev.Type {
	case model.StreamEventStarted:
		v.Traces = append([]model.StepTrace(nil), ev.Traces...)
	case model.StreamEventStep:
		v.mergeTrace(ev.Trace)
	case model.StreamEventDone:
		if ev.Result != nil {
			v.Result = ev.Result
			if len(ev.Result.StepTraces) > 0 {
				v.Traces = append([]model.StepTrace(nil), ev.Result.StepTraces...)
			}
			return
		}
		// done 事件缺结果体按流级错误对待，调用方依然拿到终结结果
		v.Result = &model.TriggerResult{OK: false, RunID: v.RunID, Error: "stream finished without result"}
	case model.StreamEventError:
		v.Result = &model.TriggerResult{OK: false, RunID: v.RunID, Error: ev.Error}
	}
}

// mergeTrace 合并一条部分轨迹更新
func (v *RunView) mergeTrace(u *model.StepTraceUpdate) {
	if u == nil {
		return
	}

	if u.StepID != "" {
		for i := range v.Traces {
			if v.Traces[i].StepID == u.StepID {
				u.ApplyTo(&v.Traces[i])
				return
			}
		}
	}
	if u.Type != "" {
		for i := range v.Traces {
			if v.Traces[i].Type == u.Type && v.Traces[i].Status == model.StepStatusRunning {
				u.ApplyTo(&v.Traces[i])
				return
			}
		}
	}

	// 对不上任何已知轨迹时追加新条目，进度事件不丢弃
	t := model.StepTrace{StepID: u.StepID, Type: u.Type, Title: u.Title}
	u.ApplyTo(&t)
	v.Traces = append(v.Traces, t)
}

// ============================================================================
// session - 一次订阅的状态机
// ============================================================================

// session 驱动 subscribing → streaming → finalized 迁移
//
// 状态决定中断处理：subscribing 阶段失败视为打开失败，直接
// 回落；streaming 阶段中断且已知运行 ID 时先按 Last-Event-ID
// 续传；finalized 后流内外都不再有动作。
type session struct {
	state       State
	view        RunView
	lastEventID string
	onEvent     EventFunc
}

func newSession(onEvent EventFunc) *session {
	return &session{state: StateSubscribing, onEvent: onEvent}
}

// observe 处理一个流事件，返回是否已终结
func (s *session) observe(ev *model.StreamEvent) bool {
	if s.state == StateSubscribing {
		s.state = StateStreaming
	}
	s.view.apply(ev)
	if s.onEvent != nil {
		s.onEvent(ev, &s.view)
	}
	if ev.Type.IsTerminal() {
		s.state = StateFinalized
		return true
	}
	return false
}

// finalize 以回落得到的结果终结会话
func (s *session) finalize(result *model.TriggerResult) {
	s.view.Result = result
	s.state = StateFinalized
}

// outcome 导出最终结果
func (s *session) outcome(fellBack bool) *Outcome {
	return &Outcome{
		Result:   s.view.Result,
		View:     &s.view,
		FellBack: fellBack,
	}
}

// ============================================================================
// Outcome - 最终结果
// ============================================================================

// Outcome 一次观察的终结产物
//
// Result 永不为 nil：要么来自流内 done/error 事件，要么来自
// 回落路径。FellBack 标记结果是否经由回落取得。
type Outcome struct {
	Result   *model.TriggerResult
	View     *RunView
	FellBack bool
}
