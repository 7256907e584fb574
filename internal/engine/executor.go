// Package engine 运行级流水线
package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"missions-admin/internal/config"
	"missions-admin/internal/idempotency"
	"missions-admin/internal/shared/cache"
	"missions-admin/internal/shared/eventbus"
	"missions-admin/internal/shared/model"
)

// channelNovachat 站内消息渠道：投递成功即视为已入列
const channelNovachat = "novachat"

// ============================================================================
// 依赖能力面
// ============================================================================

// Store 引擎所需的持久化能力面
//
// repository.Store 与 mongostore.Store 都满足；窄接口让测试可以用
// 轻量假实现替代真实存储。
type Store interface {
	GetMission(ctx context.Context, id string) (*model.Mission, error)
	GetRun(ctx context.Context, id string) (*model.MissionRun, error)
	MarkRunRunning(ctx context.Context, id string, startedAt time.Time) error
	FinishRun(ctx context.Context, run *model.MissionRun) error
	UpdateRunAttempts(ctx context.Context, id string, attempts int) error
	ApplyRunOutcome(ctx context.Context, id string, success bool, endedAt time.Time) error
	AppendEngineEvent(ctx context.Context, ev *model.EngineEvent) error
	CreateDeadLetter(ctx context.Context, dl *model.DeadLetter) error
}

// ArtifactStore 超限载荷的对象存储能力面（objstore.Client 满足）
type ArtifactStore interface {
	PutArtifact(ctx context.Context, runID, stepID string, payload []byte) (string, error)
}

// ============================================================================
// Engine
// ============================================================================

// Engine 任务流水线执行器
type Engine struct {
	store     Store
	events    eventbus.TraceEventBus
	runState  cache.RunStateCache
	artifacts ArtifactStore // nil 表示载荷永远内联
	runners   *Runners
	cfg       config.EngineConfig
}

// New 创建执行器
//
// events/runState 传 nil 时回落空实现：引擎的落账语义不依赖
// Redis 在场，流式进度与实时状态只是增强。
func New(store Store, events eventbus.TraceEventBus, runState cache.RunStateCache, runners *Runners, cfg config.EngineConfig) *Engine {
	if events == nil {
		events = eventbus.NewNoOpEventBus()
	}
	if runState == nil {
		runState = cache.NewNoOpCache()
	}
	if runners == nil {
		runners = NewRunners()
	}
	return &Engine{
		store:    store,
		events:   events,
		runState: runState,
		runners:  runners,
		cfg:      cfg,
	}
}

// SetArtifactStore 注册对象存储（未注册时超限载荷截断内联）
func (e *Engine) SetArtifactStore(s ArtifactStore) {
	e.artifacts = s
}

// Runners 返回执行器注册表（装配方注册具体执行器用）
func (e *Engine) Runners() *Runners {
	return e.runners
}

// ============================================================================
// 运行入口
// ============================================================================

// ExecuteQueuedRun 领取一条已入列的运行并推进到终态（队列消费路径）
//
// 队列与兜底轮询可能重复投递同一运行：已到终态的直接返回既有
// 结果，执行中的不抢占。
func (e *Engine) ExecuteQueuedRun(ctx context.Context, runID string) (*model.TriggerResult, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	if run == nil {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if run.Status.IsTerminal() {
		return model.ResultFromRun(run), nil
	}
	if run.Status == model.RunStatusRunning {
		log.Printf("[Engine/Run] run already executing, skip duplicate delivery: run=%s", runID)
		return model.ResultFromRun(run), nil
	}

	mission, err := e.store.GetMission(ctx, run.MissionID)
	if err != nil {
		return nil, fmt.Errorf("load mission %s: %w", run.MissionID, err)
	}
	if mission == nil {
		// 入列后任务被删除：按失败封账，不重试
		started := time.Now().UTC()
		if err := e.store.MarkRunRunning(ctx, run.ID, started); err != nil {
			return nil, fmt.Errorf("mark run running %s: %w", run.ID, err)
		}
		run.Status = model.RunStatusRunning
		run.StartedAt = &started
		run.Success = false
		run.Reason = "mission_not_found"
		return e.finalize(ctx, run, false, nil)
	}

	return e.Execute(ctx, mission, run)
}

// Execute 把一次运行推进到终态
//
// 调用方已创建 queued 状态的运行记录并持有本次执行的幂等声明。
// 运行级重试在这里驱动：瞬时失败的尝试按指数退避重做整条流水线，
// 预算耗尽后落死信。结局（FinishRun + ApplyRunOutcome + 引擎事件 +
// done 事件）恰好发生一次。
func (e *Engine) Execute(ctx context.Context, mission *model.Mission, run *model.MissionRun) (*model.TriggerResult, error) {
	if run.Attempts <= 0 {
		run.Attempts = 1
	}

	started := time.Now().UTC()
	if err := e.store.MarkRunRunning(ctx, run.ID, started); err != nil {
		return nil, fmt.Errorf("mark run running %s: %w", run.ID, err)
	}
	run.Status = model.RunStatusRunning
	run.StartedAt = &started
	log.Printf("[Engine/Run] run started: run=%s mission=%s trigger=%s attempt=%d",
		run.ID, run.MissionID, run.Trigger, run.Attempts)

	for {
		retryable, attemptErr := e.runAttempt(ctx, mission, run)

		if attemptErr == nil || !retryable || run.Attempts >= e.cfg.MaxAttempts {
			exhausted := retryable && run.Attempts >= e.cfg.MaxAttempts
			return e.finalize(ctx, run, exhausted, attemptErr)
		}

		e.appendEngineEvent(ctx, model.EventRunRetried, run, 0, attemptErr.Error())
		runRetriesTotal.Inc()
		delay := time.Duration(idempotency.ComputeRetryDelayMs(run.Attempts, e.cfg.BaseDelayMs, e.cfg.MaxDelayMs)) * time.Millisecond
		log.Printf("[Engine/Run] attempt %d failed, retrying in %s: run=%s err=%v",
			run.Attempts, delay, run.ID, attemptErr)

		run.Attempts++
		if err := e.store.UpdateRunAttempts(ctx, run.ID, run.Attempts); err != nil {
			log.Printf("[Engine/Run] update attempts failed: run=%s err=%v", run.ID, err)
		}

		select {
		case <-ctx.Done():
			if run.Reason == "" {
				run.Reason = "canceled"
			}
			return e.finalize(ctx, run, false, attemptErr)
		case <-time.After(delay):
		}
	}
}

// ============================================================================
// 单次尝试
// ============================================================================

// runAttempt 按步骤顺序执行一遍流水线
//
// 每次尝试重建全量轨迹并重新发布 started 事件（观察者据此把所有
// 步骤重置为 pending）。返回 retryable=true 表示失败来自瞬时错误、
// 重做整条流水线有意义。
func (e *Engine) runAttempt(ctx context.Context, mission *model.Mission, run *model.MissionRun) (bool, error) {
	run.Traces = model.NewStepTraces(mission.Steps)
	run.Results = nil
	run.NovachatQueued = false
	run.Success = false
	run.Reason = ""

	e.publish(ctx, run, &model.StreamEvent{Type: model.StreamEventStarted, Traces: run.Traces})

	var payload interface{}
	notifyChannel := ""
	skipRemaining := "" // 非空 = 剩余步骤统一按该原因跳过
	var pipelineErr error
	pipelineRetryable := false

	for i := range mission.Steps {
		trace := &run.Traces[i]

		if skipRemaining != "" {
			e.skipStep(ctx, run, trace, skipRemaining)
			continue
		}

		stepStarted := time.Now().UTC()
		trace.Status = model.StepStatusRunning
		trace.StartedAt = &stepStarted
		e.publish(ctx, run, stepEvent(*trace))
		e.cacheRunState(ctx, run.ID, &cache.RunState{
			State:       string(model.RunStatusRunning),
			StepIndex:   i,
			CurrentStep: trace.StepID,
		})

		switch s := mission.Steps[i].(type) {
		case *model.TriggerStep:
			trace.Detail = fmt.Sprintf("triggered via %s", run.Trigger)
			e.completeStep(ctx, run, trace)

		case *model.FetchStep:
			result, err := e.callWithRetry(ctx, trace, e.stepTimeout(s.TimeoutSeconds), func(callCtx context.Context) (interface{}, error) {
				return e.runners.Fetch().Fetch(callCtx, s)
			})
			if err != nil {
				e.failStep(ctx, run, trace, stepErrorCode("fetch_error", err), err.Error())
				skipRemaining = fmt.Sprintf("skipped: step %s failed", trace.StepID)
				pipelineErr, pipelineRetryable = err, IsTransient(err)
				continue
			}
			payload = result
			e.recordPayload(ctx, run.ID, trace, payload)
			e.completeStep(ctx, run, trace)

		case *model.CoinbaseStep:
			result, err := e.callWithRetry(ctx, trace, e.stepTimeout(0), func(callCtx context.Context) (interface{}, error) {
				return e.runners.Fetch().FetchCoinbase(callCtx, s)
			})
			if err != nil {
				e.failStep(ctx, run, trace, stepErrorCode("fetch_error", err), err.Error())
				skipRemaining = fmt.Sprintf("skipped: step %s failed", trace.StepID)
				pipelineErr, pipelineRetryable = err, IsTransient(err)
				continue
			}
			payload = result
			e.recordPayload(ctx, run.ID, trace, payload)
			e.completeStep(ctx, run, trace)

		case *model.AIStep:
			result, err := e.callWithRetry(ctx, trace, e.stepTimeout(0), func(callCtx context.Context) (interface{}, error) {
				return e.runners.AI().Generate(callCtx, s, payload)
			})
			if err != nil {
				e.failStep(ctx, run, trace, stepErrorCode("ai_error", err), err.Error())
				skipRemaining = fmt.Sprintf("skipped: step %s failed", trace.StepID)
				pipelineErr, pipelineRetryable = err, IsTransient(err)
				continue
			}
			payload = result
			e.recordPayload(ctx, run.ID, trace, payload)
			e.completeStep(ctx, run, trace)

		case *model.TransformStep:
			result, detail, err := applyTransform(s, payload)
			if err != nil {
				e.failStep(ctx, run, trace, "transform_error", err.Error())
				skipRemaining = fmt.Sprintf("skipped: step %s failed", trace.StepID)
				pipelineErr = err
				continue
			}
			payload = result
			trace.Detail = detail
			e.completeStep(ctx, run, trace)

		case *model.ConditionStep:
			pass, detail, err := evaluateCondition(s, payload)
			if err != nil {
				e.failStep(ctx, run, trace, "condition_error", err.Error())
				skipRemaining = fmt.Sprintf("skipped: step %s failed", trace.StepID)
				pipelineErr = err
				continue
			}
			if pass {
				trace.Detail = detail
				e.completeStep(ctx, run, trace)
				continue
			}
			switch s.EffectiveFailureAction() {
			case model.FailureActionNotify:
				notifyChannel = s.NotifyChannel
				trace.Detail = fmt.Sprintf("%s; delivery redirected to %s", detail, s.NotifyChannel)
				e.completeStep(ctx, run, trace)
			case model.FailureActionStop:
				e.failStep(ctx, run, trace, "condition_stop", detail)
				skipRemaining = fmt.Sprintf("skipped: condition %s stopped the run", trace.StepID)
				run.Reason = "condition_stop"
			default: // skip
				e.skipStep(ctx, run, trace, fmt.Sprintf("%s; delivery skipped", detail))
				skipRemaining = fmt.Sprintf("skipped: condition %s not met", trace.StepID)
				run.Reason = "condition_skip"
			}

		case *model.OutputStep:
			result := e.deliverOutput(ctx, run, s, trace, payload, notifyChannel)
			run.Results = append(run.Results, *result)
			if result.Delivered && result.Channel == channelNovachat {
				run.NovachatQueued = true
			}

		default:
			e.failStep(ctx, run, trace, "unsupported_step", fmt.Sprintf("unsupported step kind %q", trace.Type))
			skipRemaining = fmt.Sprintf("skipped: step %s failed", trace.StepID)
		}
	}

	// 运行成败：有任何 failed 步骤即失败，skipped 不计
	for i := range run.Traces {
		if run.Traces[i].Status == model.StepStatusFailed {
			if run.Reason == "" {
				run.Reason = run.Traces[i].ErrorCode
			}
			return pipelineRetryable, firstError(pipelineErr, fmt.Errorf("step %s failed", run.Traces[i].StepID))
		}
	}
	run.Success = true
	return false, nil
}

// deliverOutput 执行单个输出步骤
//
// 投递失败只标记该步骤失败并记入结果列表，不中断其余输出步骤。
func (e *Engine) deliverOutput(ctx context.Context, run *model.MissionRun, s *model.OutputStep, trace *model.StepTrace, payload interface{}, notifyChannel string) *model.OutputResult {
	channel := s.Channel
	if notifyChannel != "" {
		channel = notifyChannel
	}

	req := &DeliveryRequest{
		RunID:      run.ID,
		MissionID:  run.MissionID,
		StepID:     trace.StepID,
		Channel:    channel,
		Timing:     s.Timing,
		Recipients: s.Recipients,
		Template:   s.Template,
		Payload:    payload,
	}

	callCtx, cancel := context.WithTimeout(ctx, e.stepTimeout(0))
	result, err := e.runners.Output().Deliver(callCtx, req)
	cancel()

	if err != nil {
		e.failStep(ctx, run, trace, stepErrorCode("delivery_error", err), err.Error())
		return &model.OutputResult{StepID: trace.StepID, Channel: channel, Delivered: false, Error: err.Error()}
	}
	if result == nil {
		result = &model.OutputResult{StepID: trace.StepID, Channel: channel, Delivered: true}
	}
	if result.StepID == "" {
		result.StepID = trace.StepID
	}
	if result.Channel == "" {
		result.Channel = channel
	}

	if !result.Delivered {
		detail := result.Error
		if detail == "" {
			detail = "delivery rejected"
		}
		e.failStep(ctx, run, trace, "delivery_error", detail)
		return result
	}

	trace.Detail = result.Detail
	if trace.Detail == "" {
		trace.Detail = fmt.Sprintf("delivered via %s", result.Channel)
	}
	e.completeStep(ctx, run, trace)
	return result
}

// ============================================================================
// 结局落账
// ============================================================================

// finalize 封账一次运行的终态，恰好调用一次
//
// 落库用不随调用方取消的 ctx：进程收到退出信号时，已经跑完的
// 运行仍要把结局写穿。
func (e *Engine) finalize(ctx context.Context, run *model.MissionRun, exhausted bool, lastErr error) (*model.TriggerResult, error) {
	finCtx := context.WithoutCancel(ctx)

	ended := time.Now().UTC()
	run.EndedAt = &ended
	if run.StartedAt != nil {
		run.DurationMs = ended.Sub(*run.StartedAt).Milliseconds()
	}
	run.Status = model.RunStatusFailed
	if run.Success {
		run.Status = model.RunStatusSuccess
	}

	if err := e.store.FinishRun(finCtx, run); err != nil {
		e.publish(finCtx, run, &model.StreamEvent{
			Type:  model.StreamEventError,
			Error: fmt.Sprintf("failed to persist run outcome: %v", err),
		})
		return nil, fmt.Errorf("finish run %s: %w", run.ID, err)
	}

	// 任务统计恰好推进一次（runCount/successCount/failureCount/lastRunAt）
	if err := e.store.ApplyRunOutcome(finCtx, run.MissionID, run.Success, ended); err != nil {
		log.Printf("[Engine/Run] apply run outcome failed: run=%s mission=%s err=%v", run.ID, run.MissionID, err)
	}

	eventType := model.EventRunFailed
	if run.Success {
		eventType = model.EventRunCompleted
	}
	e.appendEngineEvent(finCtx, eventType, run, run.DurationMs, run.Reason)

	if exhausted {
		e.deadLetter(finCtx, run, lastErr)
	}

	e.publish(finCtx, run, &model.StreamEvent{Type: model.StreamEventDone, Result: model.ResultFromRun(run)})

	errText := ""
	if !run.Success {
		errText = run.Reason
	}
	e.cacheRunState(finCtx, run.ID, &cache.RunState{
		State:     string(run.Status),
		StepIndex: len(run.Traces),
		Error:     errText,
	})

	runsFinishedTotal.WithLabelValues(string(run.Status), string(run.Trigger)).Inc()
	runDurationSeconds.WithLabelValues(string(run.Status)).Observe(float64(run.DurationMs) / 1000)

	log.Printf("[Engine/Run] run finished: run=%s mission=%s status=%s attempts=%d duration=%dms",
		run.ID, run.MissionID, run.Status, run.Attempts, run.DurationMs)
	return model.ResultFromRun(run), nil
}

// deadLetter 重试预算耗尽后追加死信
func (e *Engine) deadLetter(ctx context.Context, run *model.MissionRun, lastErr error) {
	payload, err := json.Marshal(map[string]interface{}{
		"stepTraces": run.Traces,
		"results":    run.Results,
	})
	if err != nil {
		payload = nil
	}

	lastError := ""
	if lastErr != nil {
		lastError = lastErr.Error()
	}

	dl := &model.DeadLetter{
		ID:        generateID("dl"),
		MissionID: run.MissionID,
		RunID:     run.ID,
		Key:       idempotency.OccurrenceKey(run.MissionID, run.Occurrence),
		Attempts:  run.Attempts,
		Reason:    run.Reason,
		LastError: lastError,
		Payload:   string(payload),
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateDeadLetter(ctx, dl); err != nil {
		log.Printf("[Engine/DeadLetter] create dead letter failed: run=%s err=%v", run.ID, err)
		return
	}
	deadLettersTotal.Inc()
	log.Printf("[Engine/DeadLetter] run dead-lettered after %d attempts: run=%s mission=%s", run.Attempts, run.ID, run.MissionID)
}

// ============================================================================
// 步骤终态与事件发布
// ============================================================================

func (e *Engine) completeStep(ctx context.Context, run *model.MissionRun, trace *model.StepTrace) {
	ended := time.Now().UTC()
	trace.Status = model.StepStatusCompleted
	trace.EndedAt = &ended
	e.publish(ctx, run, stepEvent(*trace))
}

func (e *Engine) failStep(ctx context.Context, run *model.MissionRun, trace *model.StepTrace, code, detail string) {
	ended := time.Now().UTC()
	trace.Status = model.StepStatusFailed
	trace.ErrorCode = code
	trace.Detail = detail
	trace.EndedAt = &ended
	e.publish(ctx, run, stepEvent(*trace))
}

func (e *Engine) skipStep(ctx context.Context, run *model.MissionRun, trace *model.StepTrace, detail string) {
	trace.Status = model.StepStatusSkipped
	trace.Detail = detail
	e.publish(ctx, run, stepEvent(*trace))
}

// stepEvent 从完整轨迹构造 step 流事件
func stepEvent(trace model.StepTrace) *model.StreamEvent {
	update := model.UpdateFromTrace(trace)
	return &model.StreamEvent{Type: model.StreamEventStep, Trace: &update}
}

// publish 发布流事件（尽力而为：事件总线不可用不影响运行落账）
func (e *Engine) publish(ctx context.Context, run *model.MissionRun, ev *model.StreamEvent) {
	ev.RunID = run.ID
	ev.MissionID = run.MissionID
	ev.Timestamp = time.Now().UTC()
	if err := e.events.PublishTraceEvent(ctx, run.ID, ev); err != nil {
		log.Printf("[Engine/Stream] publish %s event failed: run=%s err=%v", ev.Type, run.ID, err)
	}
}

// cacheRunState 写实时运行状态（尽力而为）
func (e *Engine) cacheRunState(ctx context.Context, runID string, state *cache.RunState) {
	if err := e.runState.SetRunState(ctx, runID, state); err != nil {
		log.Printf("[Engine/Stream] cache run state failed: run=%s err=%v", runID, err)
	}
}

// appendEngineEvent 追加引擎事件（可靠性聚合的输入，尽力而为）
func (e *Engine) appendEngineEvent(ctx context.Context, t model.EngineEventType, run *model.MissionRun, durationMs int64, detail string) {
	ev := &model.EngineEvent{
		Type:       t,
		MissionID:  run.MissionID,
		RunID:      run.ID,
		DurationMs: durationMs,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.store.AppendEngineEvent(ctx, ev); err != nil {
		log.Printf("[Engine/Event] append %s failed: run=%s err=%v", t, run.ID, err)
	}
}

// recordPayload 把步骤载荷记入轨迹：小载荷内联，超限转对象存储
func (e *Engine) recordPayload(ctx context.Context, runID string, trace *model.StepTrace, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		trace.Detail = fmt.Sprintf("%v", payload)
		return
	}
	if len(data) <= e.cfg.ArtifactInlineLimit {
		trace.Detail = string(data)
		return
	}

	if e.artifacts != nil {
		ref, err := e.artifacts.PutArtifact(ctx, runID, trace.StepID, data)
		if err == nil {
			trace.ArtifactRef = ref
			trace.Detail = fmt.Sprintf("payload offloaded (%d bytes)", len(data))
			return
		}
		log.Printf("[Engine/Artifact] offload failed, falling back to truncated inline: run=%s step=%s err=%v",
			runID, trace.StepID, err)
	}
	trace.Detail = string(data[:e.cfg.ArtifactInlineLimit]) + "... (truncated)"
}

// firstError 返回第一个非 nil 错误
func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// generateID 生成带前缀的唯一标识符
func generateID(prefix string) string {
	b := make([]byte, 6)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}
